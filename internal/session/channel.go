package session

import (
	"errors"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/nyx/internal/domain"
)

var errNegotiationTimeout = errors.New("direct channel negotiation timed out")

// channel tracks the direct transport. gen identifies the current
// transport; events from older transports are dropped. attempt is the
// negotiation id carried on signaling: the initiator's gen, echoed back
// by the responder.
type channel struct {
	state     ChannelState
	gen       uint64
	attempt   uint64
	attempts  int
	transport PeerTransport
	remoteSet bool
	timer     clockwork.Timer

	// candidates not yet applied, oldest first
	candidates Queue[heldCandidate]
}

type heldCandidate struct {
	attempt uint64
	cand    domain.ICECandidate
}

// current reports whether signaling tagged with a belongs to the live
// negotiation. Untagged signaling always does.
func (c *channel) current(a uint64) bool {
	return a == 0 || a == c.attempt
}

func (c *channel) stale(a uint64) bool {
	return a != 0 && a < c.attempt
}

// release closes the current transport and invalidates its events.
func (c *channel) release() {
	c.gen++
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	if c.transport != nil {
		if err := c.transport.Close(); err != nil {
			log.Debug().Err(err).Str("module", "session.channel").Msg("transport close")
		}
		c.transport = nil
	}
	c.remoteSet = false
	c.candidates.Clear()
}

func (c *channel) reset() {
	c.release()
	c.attempts = 0
	c.attempt = 0
	c.state = Unestablished
}

func (s *Session) setChannel(state ChannelState, msg string) {
	if s.ch.state == state {
		return
	}
	log.Info().Str("module", "session.channel").Str("from", s.ch.state.String()).Str("to", state.String()).Uint64("gen", s.ch.gen).Msg("channel state")
	s.ch.state = state
	s.report(msg, nil)
	// the payload path may have changed
	s.kick()
}

// newTransport builds a transport whose events are bound to a fresh
// generation and delivered through the session loop.
func (s *Session) newTransport() (PeerTransport, uint64, error) {
	c := s.ch
	c.release()
	gen := c.gen
	t, err := s.factory(TransportEvents{
		OnCandidate: func(cand domain.ICECandidate) { s.post(func() { s.onLocalCandidate(gen, cand) }) },
		OnOpen:      func() { s.post(func() { s.onTransportOpen(gen) }) },
		OnClosed:    func() { s.post(func() { s.onTransportClosed(gen) }) },
		OnMessage:   func(b []byte) { s.post(func() { s.onTransportMessage(gen, b) }) },
		OnDrained:   func() { s.kick() },
	})
	if err != nil {
		return nil, gen, domain.E(domain.KindChannel, "channel.transport", err)
	}
	c.transport = t
	c.timer = s.clock.AfterFunc(s.cfg.NegotiationTimeout, func() {
		s.post(func() { s.onNegotiationTimeout(gen) })
	})
	return t, gen, nil
}

// startAttempt is run by the initiator: it creates a transport and sends
// the offer, or gives up once the attempt budget is spent.
func (s *Session) startAttempt() {
	c := s.ch
	if c.attempts >= s.cfg.MaxNegotiationAttempts {
		c.release()
		s.setChannel(Fallback, "direct channel unavailable, using relay")
		return
	}
	c.attempts++
	t, gen, err := s.newTransport()
	if err != nil {
		s.channelFailed(gen, err)
		return
	}
	c.attempt = gen
	s.setChannel(Negotiating, "negotiating direct channel")

	desc, err := t.CreateOffer()
	if err != nil {
		s.channelFailed(gen, domain.E(domain.KindChannel, "channel.offer", err))
		return
	}
	log.Info().Str("module", "session.channel").Int("attempt", c.attempts).Uint64("gen", gen).Msg("transport offer created")
	if err := s.send(domain.Envelope{
		Type:        domain.TypeWebRTCOffer,
		ToCode:      s.neg.peer,
		FromCode:    s.neg.code,
		Description: &desc,
		Attempt:     gen,
	}); err != nil {
		s.channelFailed(gen, err)
	}
}

func (s *Session) onTransportOffer(env domain.Envelope) {
	if s.neg.initiator {
		log.Warn().Str("module", "session.channel").Msg("transport offer received by initiator, ignored")
		return
	}
	if env.Description == nil {
		log.Warn().Str("module", "session.channel").Msg("transport offer without description")
		return
	}
	c := s.ch
	if c.stale(env.Attempt) {
		log.Debug().Str("module", "session.channel").Uint64("attempt", env.Attempt).Uint64("current", c.attempt).Msg("stale transport offer ignored")
		return
	}
	// candidates that arrived while no transport existed go to the new one
	queued := c.candidates.Drain()
	t, gen, err := s.newTransport()
	if err != nil {
		s.channelFailed(gen, err)
		return
	}
	c.attempt = env.Attempt
	s.setChannel(Negotiating, "negotiating direct channel")
	answer, err := t.AcceptOffer(*env.Description)
	if err != nil {
		s.channelFailed(gen, domain.E(domain.KindChannel, "channel.accept", err))
		return
	}
	s.remoteDescriptionSet(queued)
	if err := s.send(domain.Envelope{
		Type:        domain.TypeWebRTCAnswer,
		ToCode:      s.neg.peer,
		FromCode:    s.neg.code,
		Description: &answer,
		Attempt:     c.attempt,
	}); err != nil {
		s.channelFailed(gen, err)
	}
}

func (s *Session) onTransportAnswer(env domain.Envelope) {
	c := s.ch
	if !s.neg.initiator || c.transport == nil || c.remoteSet || env.Description == nil {
		log.Warn().Str("module", "session.channel").Msg("unexpected transport answer ignored")
		return
	}
	if !c.current(env.Attempt) {
		log.Debug().Str("module", "session.channel").Uint64("attempt", env.Attempt).Uint64("current", c.attempt).Msg("stale transport answer ignored")
		return
	}
	if err := c.transport.SetAnswer(*env.Description); err != nil {
		s.channelFailed(c.gen, domain.E(domain.KindChannel, "channel.answer", err))
		return
	}
	s.remoteDescriptionSet(nil)
}

// remoteDescriptionSet applies held candidates of the live negotiation in
// arrival order. early are candidates held from before the current
// transport existed. Candidates of a later negotiation stay held.
func (s *Session) remoteDescriptionSet(early []heldCandidate) {
	c := s.ch
	c.remoteSet = true
	applied := 0
	for _, h := range append(early, c.candidates.Drain()...) {
		switch {
		case c.current(h.attempt):
			s.applyCandidate(h.cand)
			applied++
		case h.attempt > c.attempt:
			c.candidates.Push(h)
		}
	}
	if applied > 0 {
		log.Debug().Str("module", "session.channel").Int("count", applied).Msg("applied queued candidates")
	}
}

func (s *Session) onRemoteCandidate(env domain.Envelope) {
	if env.Candidate == nil {
		return
	}
	c := s.ch
	h := heldCandidate{attempt: env.Attempt, cand: *env.Candidate}
	switch {
	case c.stale(h.attempt), s.neg.initiator && !c.current(h.attempt):
		log.Debug().Str("module", "session.channel").Uint64("attempt", h.attempt).Uint64("current", c.attempt).Msg("stale candidate dropped")
	case c.transport == nil || !c.remoteSet || !c.current(h.attempt):
		c.candidates.Push(h)
	default:
		s.applyCandidate(h.cand)
	}
}

func (s *Session) applyCandidate(cand domain.ICECandidate) {
	if err := s.ch.transport.AddCandidate(cand); err != nil {
		log.Warn().Err(err).Str("module", "session.channel").Msg("add candidate")
	}
}

func (s *Session) onLocalCandidate(gen uint64, cand domain.ICECandidate) {
	if gen != s.ch.gen || s.ch.transport == nil {
		return
	}
	if err := s.send(domain.Envelope{
		Type:      domain.TypeICECandidate,
		ToCode:    s.neg.peer,
		FromCode:  s.neg.code,
		Candidate: &cand,
		Attempt:   s.ch.attempt,
	}); err != nil {
		log.Warn().Err(err).Str("module", "session.channel").Msg("send candidate")
	}
}

func (s *Session) onTransportOpen(gen uint64) {
	c := s.ch
	if gen != c.gen || c.transport == nil {
		return
	}
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	s.setChannel(Open, "direct channel open")
}

func (s *Session) onTransportClosed(gen uint64) {
	s.channelFailed(gen, domain.E(domain.KindChannel, "channel.transport", errors.New("transport closed")))
}

func (s *Session) onNegotiationTimeout(gen uint64) {
	if gen != s.ch.gen || s.ch.state != Negotiating {
		return
	}
	s.channelFailed(gen, domain.E(domain.KindChannel, "channel.negotiate", errNegotiationTimeout))
}

// channelFailed moves a live attempt to FAILED. The initiator retries
// within its budget; the responder waits for a new offer. Payloads use
// the relay meanwhile.
func (s *Session) channelFailed(gen uint64, err error) {
	c := s.ch
	if gen != c.gen || c.state == Fallback || c.state == Closed {
		return
	}
	log.Warn().Err(err).Str("module", "session.channel").Uint64("gen", gen).Int("attempt", c.attempts).Msg("direct channel failed")
	c.release()
	s.setChannel(Failed, "direct channel failed, using relay")
	if s.neg.initiator && s.neg.state == SecretDerived {
		s.startAttempt()
	}
}

func (s *Session) onTransportMessage(gen uint64, b []byte) {
	if gen != s.ch.gen {
		return
	}
	var p domain.Payload
	if err := p.UnmarshalBinary(b); err != nil {
		log.Warn().Err(err).Str("module", "session.channel").Msg("bad payload on direct channel")
		return
	}
	s.receive(&p)
}
