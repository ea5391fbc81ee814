// Package session is the client side of a nyx session: key exchange,
// direct channel negotiation with relay fallback, encrypted transfer and
// liveness.
//
// A Session is driven by a single goroutine running Run. Relay frames,
// transport callbacks, timers and user commands are all posted to it, so
// session state needs no locks.
package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/nyx/internal/config"
	"github.com/dkeye/nyx/internal/domain"
)

var (
	ErrSessionClosed = errors.New("session closed")
	ErrNoLink        = errors.New("not connected to relay")
)

type Session struct {
	cfg     config.ClientConfig
	clock   clockwork.Clock
	factory TransportFactory
	obs     Observer

	events chan func()
	wake   chan struct{}
	done   chan struct{}

	// owned by the Run goroutine
	link SignalLink
	neg  *negotiator
	ch   *channel
	xfer *transferEngine
	live *liveness
}

func New(cfg config.ClientConfig, clock clockwork.Clock, factory TransportFactory, obs Observer) (*Session, error) {
	if cfg.ChunkSize <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", cfg.ChunkSize)
	}
	if cfg.MaxNegotiationAttempts < 1 {
		return nil, fmt.Errorf("max negotiation attempts must be positive, got %d", cfg.MaxNegotiationAttempts)
	}
	neg, err := newNegotiator()
	if err != nil {
		return nil, err
	}
	if obs == nil {
		obs = nopObserver{}
	}
	return &Session{
		cfg:     cfg,
		clock:   clock,
		factory: factory,
		obs:     obs,
		events:  make(chan func(), 256),
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
		neg:     neg,
		ch:      &channel{},
		xfer:    newTransferEngine(),
		live:    &liveness{},
	}, nil
}

// Run processes session events until ctx is done. On exit the peer is
// told the session ended and all key material is wiped.
func (s *Session) Run(ctx context.Context) error {
	defer close(s.done)
	for {
		select {
		case <-ctx.Done():
			s.shutdown()
			return ctx.Err()
		case fn := <-s.events:
			fn()
		case <-s.wake:
			s.pumpFiles()
		}
	}
}

func (s *Session) post(fn func()) {
	select {
	case s.events <- fn:
	case <-s.done:
	}
}

// call runs fn on the session goroutine and waits for its result.
func (s *Session) call(fn func() error) error {
	errc := make(chan error, 1)
	select {
	case s.events <- func() { errc <- fn() }:
	case <-s.done:
		return ErrSessionClosed
	}
	select {
	case err := <-errc:
		return err
	case <-s.done:
		return ErrSessionClosed
	}
}

// kick schedules a file pump turn. It never blocks.
func (s *Session) kick() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Attach sets the relay link and starts liveness checks on it.
func (s *Session) Attach(link SignalLink) error {
	return s.call(func() error {
		if s.link != nil && s.link != link {
			s.link.Close()
		}
		s.link = link
		s.startLiveness()
		log.Info().Str("module", "session").Msg("relay link attached")
		return nil
	})
}

// Inbound delivers a frame received on the relay link.
func (s *Session) Inbound(env domain.Envelope) {
	s.post(func() { s.dispatch(env) })
}

// LinkClosed reports that link went down. A live session is reset.
func (s *Session) LinkClosed(link SignalLink, err error) {
	s.post(func() {
		if s.link == nil || s.link != link {
			return
		}
		s.link = nil
		s.stopLiveness()
		log.Warn().Err(err).Str("module", "session").Msg("relay link closed")
		if s.active() {
			s.reset("relay connection closed", domain.E(domain.KindRouting, "session.link", ErrNoLink))
			return
		}
		s.report("disconnected from relay", nil)
	})
}

// LinkDrained resumes paced sends waiting on the relay link.
func (s *Session) LinkDrained() {
	s.kick()
}

// Status returns a snapshot of the session.
func (s *Session) Status() (Status, error) {
	var st Status
	err := s.call(func() error {
		st = s.snapshot()
		return nil
	})
	return st, err
}

// Terminate ends the session for both sides. The relay link stays open.
func (s *Session) Terminate() error {
	return s.call(func() error {
		s.sendTerminate()
		s.reset("session terminated", nil)
		return nil
	})
}

func (s *Session) dispatch(env domain.Envelope) {
	switch env.Type {
	case domain.TypeRegistrationSuccess:
		s.onRegistered(env)
	case domain.TypeSessionOffer:
		s.onSessionOffer(env)
	case domain.TypeSessionAnswer:
		s.onSessionAnswer(env)
	case domain.TypeWebRTCOffer, domain.TypeWebRTCAnswer, domain.TypeICECandidate, domain.TypeEncryptedMessage:
		if s.neg.state != SecretDerived {
			s.neg.pending.Push(env)
			return
		}
		if env.FromCode != "" && env.FromCode != s.neg.peer {
			log.Warn().Str("module", "session").Str("from", env.FromCode).Str("type", string(env.Type)).Msg("envelope from foreign code dropped")
			return
		}
		s.dispatchSecured(env)
	case domain.TypeTerminateSession:
		s.onTerminate(env)
	case domain.TypePong:
		s.onPong()
	case domain.TypeError:
		s.onRelayError(env)
	default:
		log.Warn().Str("module", "session").Str("type", string(env.Type)).Msg("unhandled envelope")
	}
}

func (s *Session) dispatchSecured(env domain.Envelope) {
	switch env.Type {
	case domain.TypeWebRTCOffer:
		s.onTransportOffer(env)
	case domain.TypeWebRTCAnswer:
		s.onTransportAnswer(env)
	case domain.TypeICECandidate:
		s.onRemoteCandidate(env)
	case domain.TypeEncryptedMessage:
		p, err := env.Payload()
		if err != nil {
			log.Warn().Err(err).Str("module", "session").Msg("bad relayed payload")
			return
		}
		s.receive(p)
	}
}

func (s *Session) onTerminate(env domain.Envelope) {
	if s.neg.peer == "" || env.FromCode != s.neg.peer {
		log.Warn().Str("module", "session").Str("from", env.FromCode).Msg("terminate from unknown code ignored")
		return
	}
	s.reset("peer ended the session", nil)
}

func (s *Session) onRelayError(env domain.Envelope) {
	kind := domain.KindRouting
	if s.neg.code != "" && !s.neg.registered {
		kind = domain.KindRegistration
	}
	text := env.ErrorText()
	s.report(text, domain.E(kind, "relay", errors.New(text)))
}

func (s *Session) send(env domain.Envelope) error {
	if s.link == nil {
		return domain.E(domain.KindRouting, "session.send", ErrNoLink)
	}
	if err := s.link.Send(env); err != nil {
		return domain.E(domain.KindRouting, "session.send", err)
	}
	return nil
}

func (s *Session) sendTerminate() {
	n := s.neg
	if n.peer == "" || s.link == nil {
		return
	}
	if err := s.send(domain.Envelope{Type: domain.TypeTerminateSession, ToCode: n.peer, FromCode: n.code}); err != nil {
		log.Warn().Err(err).Str("module", "session").Msg("send terminate")
	}
}

func (s *Session) closeLink() {
	s.stopLiveness()
	if s.link != nil {
		s.link.Close()
		s.link = nil
	}
}

func (s *Session) active() bool {
	return s.neg.state != KeyReady || s.neg.code != "" || s.ch.state != Unestablished
}

// reset wipes all session state and starts over with a fresh key pair.
// It is safe to call repeatedly.
func (s *Session) reset(reason string, cause error) {
	s.ch.reset()
	s.xfer.abandon()
	s.neg.wipe()
	neg, err := newNegotiator()
	if err != nil {
		log.Error().Err(err).Str("module", "session").Msg("key generation after reset")
		neg = &negotiator{state: KeyReady}
	}
	s.neg = neg
	log.Info().Err(cause).Str("module", "session").Str("reason", reason).Msg("session reset")
	s.report(reason, cause)
}

func (s *Session) shutdown() {
	s.sendTerminate()
	s.ch.reset()
	s.ch.state = Closed
	s.xfer.abandon()
	s.neg.wipe()
	s.closeLink()
	log.Info().Str("module", "session").Msg("session closed")
}

func (s *Session) snapshot() Status {
	n := s.neg
	return Status{
		Negotiation: n.state,
		Channel:     s.ch.state,
		Code:        n.code,
		PeerCode:    n.peer,
		SAS:         n.sas,
		Verified:    n.verified,
	}
}

func (s *Session) report(msg string, cause error) {
	st := s.snapshot()
	st.Message = msg
	if cause != nil {
		st.Kind = domain.KindOf(cause)
	}
	s.obs.OnStatus(st)
}

type nopObserver struct{}

func (nopObserver) OnStatus(Status)     {}
func (nopObserver) OnText(string)       {}
func (nopObserver) OnFile(ReceivedFile) {}
