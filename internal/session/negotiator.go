package session

import (
	"errors"
	"fmt"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/nyx/internal/crypto"
	"github.com/dkeye/nyx/internal/domain"
)

var (
	ErrAlreadyConnected = errors.New("session already has a peer")
	ErrNoSecret         = errors.New("no shared secret yet")
	ErrSelfConnect      = errors.New("cannot connect to own code")
)

// negotiator holds the key exchange state of one session.
type negotiator struct {
	state     NegotiationState
	keys      *crypto.KeyPair
	secret    *crypto.SharedSecret
	sas       string
	verified  bool
	initiator bool

	code       string
	registered bool
	codeTimer  clockwork.Timer
	peer       string
	// peer requested before our own code was acknowledged by the relay
	pendingPeer string

	// envelopes that need the shared secret, held until it exists
	pending Queue[domain.Envelope]
}

func newNegotiator() (*negotiator, error) {
	kp, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, domain.E(domain.KindCrypto, "negotiator.keygen", err)
	}
	return &negotiator{state: KeyReady, keys: kp}, nil
}

func (n *negotiator) stopCodeTimer() {
	if n.codeTimer != nil {
		n.codeTimer.Stop()
		n.codeTimer = nil
	}
}

// derive runs key agreement against the peer's wire public key. It moves
// the state to SecretDerived, which no later call leaves.
func (n *negotiator) derive(peerKey string) error {
	if n.state == SecretDerived {
		return domain.E(domain.KindCrypto, "negotiator.derive", errors.New("secret already derived"))
	}
	pub, err := crypto.DecodePublicKey(peerKey)
	if err != nil {
		return domain.E(domain.KindCrypto, "negotiator.derive", err)
	}
	secret, err := crypto.Agree(n.keys, pub)
	if err != nil {
		return domain.E(domain.KindCrypto, "negotiator.derive", err)
	}
	sas, err := secret.SAS()
	if err != nil {
		secret.Wipe()
		return domain.E(domain.KindCrypto, "negotiator.sas", err)
	}
	n.secret = secret
	n.sas = sas
	n.state = SecretDerived
	return nil
}

func (n *negotiator) wipe() {
	n.stopCodeTimer()
	n.secret.Wipe()
	n.keys.Wipe()
	n.secret = nil
	n.pending.Clear()
}

// IssueCode generates a rendezvous code, registers it with the relay and
// starts its validity window. It returns the new code.
func (s *Session) IssueCode() (string, error) {
	var code string
	err := s.call(func() error {
		var err error
		code, err = s.issueCode()
		return err
	})
	return code, err
}

func (s *Session) issueCode() (string, error) {
	n := s.neg
	if n.state == SecretDerived {
		return "", domain.E(domain.KindRegistration, "session.issue", ErrAlreadyConnected)
	}
	code, err := domain.NewCode()
	if err != nil {
		return "", domain.E(domain.KindRegistration, "session.issue", err)
	}
	n.stopCodeTimer()
	n.code = code
	n.registered = false
	if n.state == KeyReady {
		n.state = AwaitingOffer
	}
	if err := s.send(domain.Envelope{Type: domain.TypeRegisterCode, Code: code}); err != nil {
		n.code = ""
		n.state = KeyReady
		return "", err
	}
	n.codeTimer = s.clock.AfterFunc(s.cfg.CodeTTL, func() {
		s.post(func() { s.onCodeExpired(code) })
	})
	log.Info().Str("module", "session").Str("code", code).Msg("code issued")
	return code, nil
}

func (s *Session) onCodeExpired(code string) {
	n := s.neg
	if n.code != code || n.state == SecretDerived {
		return
	}
	n.codeTimer = nil
	n.code = ""
	n.registered = false
	n.pendingPeer = ""
	n.peer = ""
	n.state = KeyReady
	log.Info().Str("module", "session").Str("code", code).Msg("code expired")
	s.report("code expired, issue a new one", nil)
}

func (s *Session) onRegistered(env domain.Envelope) {
	n := s.neg
	if env.Code != n.code {
		log.Debug().Str("module", "session").Str("code", env.Code).Msg("stale registration ack")
		return
	}
	n.registered = true
	s.report(fmt.Sprintf("code %s registered", n.code), nil)
	if peer := n.pendingPeer; peer != "" {
		n.pendingPeer = ""
		if err := s.sendOffer(peer); err != nil {
			s.report("could not send offer", err)
		}
	}
}

// Connect starts the key exchange with the holder of peerCode.
func (s *Session) Connect(peerCode string) error {
	return s.call(func() error { return s.connect(peerCode) })
}

func (s *Session) connect(peerCode string) error {
	if err := domain.ValidateCode(peerCode); err != nil {
		return domain.E(domain.KindRegistration, "session.connect", err)
	}
	n := s.neg
	if n.state == SecretDerived || n.state == OfferSent {
		return domain.E(domain.KindRegistration, "session.connect", ErrAlreadyConnected)
	}
	if n.keys == nil {
		return domain.E(domain.KindCrypto, "session.connect", crypto.ErrWiped)
	}
	if peerCode == n.code {
		return domain.E(domain.KindRegistration, "session.connect", ErrSelfConnect)
	}
	if n.code == "" {
		// a reply address is needed first
		n.pendingPeer = peerCode
		_, err := s.issueCode()
		return err
	}
	if !n.registered {
		n.pendingPeer = peerCode
		return nil
	}
	return s.sendOffer(peerCode)
}

func (s *Session) sendOffer(peerCode string) error {
	n := s.neg
	err := s.send(domain.Envelope{
		Type:      domain.TypeSessionOffer,
		ToCode:    peerCode,
		FromCode:  n.code,
		PublicKey: n.keys.EncodedPublic(),
	})
	if err != nil {
		return err
	}
	n.peer = peerCode
	n.initiator = true
	n.state = OfferSent
	log.Info().Str("module", "session").Str("peer", peerCode).Msg("offer sent")
	s.report(fmt.Sprintf("offer sent to %s", peerCode), nil)
	return nil
}

func (s *Session) onSessionOffer(env domain.Envelope) {
	n := s.neg
	switch {
	case n.state == SecretDerived:
		log.Warn().Str("module", "session").Str("from", env.FromCode).Msg("offer after key exchange ignored")
		return
	case n.code == "":
		log.Warn().Str("module", "session").Str("from", env.FromCode).Msg("offer for an expired code ignored")
		return
	case env.FromCode == "":
		s.report("offer without reply code ignored", domain.E(domain.KindParse, "session.offer", errors.New("missing fromCode")))
		return
	case n.state == OfferSent && env.FromCode == n.peer && n.code < env.FromCode:
		// both sides offered to each other; the lower code stays initiator
		log.Info().Str("module", "session").Str("peer", env.FromCode).Msg("crossed offers, keeping ours")
		return
	}

	n.stopCodeTimer()
	if err := n.derive(env.PublicKey); err != nil {
		s.cryptoFailure(err)
		return
	}
	n.peer = env.FromCode
	n.initiator = false
	if err := s.send(domain.Envelope{
		Type:      domain.TypeSessionAnswer,
		ToCode:    n.peer,
		FromCode:  n.code,
		PublicKey: n.keys.EncodedPublic(),
	}); err != nil {
		s.report("could not send answer", err)
	}
	s.secretReady()
}

func (s *Session) onSessionAnswer(env domain.Envelope) {
	n := s.neg
	if n.state != OfferSent || env.FromCode != n.peer {
		log.Warn().Str("module", "session").Str("from", env.FromCode).Str("state", n.state.String()).Msg("unexpected answer ignored")
		return
	}
	n.stopCodeTimer()
	if err := n.derive(env.PublicKey); err != nil {
		s.cryptoFailure(err)
		return
	}
	s.secretReady()
}

// cryptoFailure keeps the session for bad peer key material and resets it
// when the agreement itself failed.
func (s *Session) cryptoFailure(err error) {
	if errors.Is(err, crypto.ErrBadPublicKey) {
		s.report("invalid key from peer", err)
		return
	}
	s.reset("key agreement failed, session reset", err)
}

func (s *Session) secretReady() {
	n := s.neg
	log.Info().Str("module", "session").Str("peer", n.peer).Bool("initiator", n.initiator).Msg("shared secret derived")
	s.report("secure session established, compare the security code with your peer", nil)
	if n.initiator {
		s.startAttempt()
	}
	for _, env := range n.pending.Drain() {
		s.dispatch(env)
	}
}

// Confirm records the user's comparison of the security code. A mismatch
// is a security event: the peer is told, state is wiped and the relay
// link is closed.
func (s *Session) Confirm(match bool) error {
	return s.call(func() error {
		n := s.neg
		if n.state != SecretDerived {
			return domain.E(domain.KindVerification, "session.confirm", ErrNoSecret)
		}
		if match {
			n.verified = true
			s.report("security code verified", nil)
			return nil
		}
		s.sendTerminate()
		s.reset("security codes did not match, connection closed",
			domain.E(domain.KindVerification, "session.confirm", errors.New("security code mismatch")))
		s.closeLink()
		return nil
	})
}
