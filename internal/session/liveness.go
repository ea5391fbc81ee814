package session

import (
	"errors"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/nyx/internal/domain"
)

var errPongTimeout = errors.New("no pong from relay")

// liveness pings the relay while the link is open. seq changes on every
// stop so timers from an earlier run are ignored.
type liveness struct {
	seq       uint64
	pingTimer clockwork.Timer
	pongTimer clockwork.Timer
	awaiting  bool
}

func (s *Session) startLiveness() {
	s.stopLiveness()
	if s.cfg.PingInterval <= 0 {
		return
	}
	s.schedulePing()
}

func (s *Session) stopLiveness() {
	l := s.live
	l.seq++
	l.awaiting = false
	if l.pingTimer != nil {
		l.pingTimer.Stop()
		l.pingTimer = nil
	}
	if l.pongTimer != nil {
		l.pongTimer.Stop()
		l.pongTimer = nil
	}
}

func (s *Session) schedulePing() {
	seq := s.live.seq
	s.live.pingTimer = s.clock.AfterFunc(s.cfg.PingInterval, func() {
		s.post(func() { s.onPingDue(seq) })
	})
}

func (s *Session) onPingDue(seq uint64) {
	l := s.live
	if seq != l.seq || s.link == nil {
		return
	}
	if err := s.send(domain.Envelope{Type: domain.TypePing}); err != nil {
		log.Warn().Err(err).Str("module", "session.liveness").Msg("ping")
	}
	if !l.awaiting {
		l.awaiting = true
		l.pongTimer = s.clock.AfterFunc(s.cfg.PongTimeout, func() {
			s.post(func() { s.onPongTimeout(seq) })
		})
	}
	s.schedulePing()
}

func (s *Session) onPong() {
	l := s.live
	if !l.awaiting {
		return
	}
	l.awaiting = false
	if l.pongTimer != nil {
		l.pongTimer.Stop()
		l.pongTimer = nil
	}
}

func (s *Session) onPongTimeout(seq uint64) {
	l := s.live
	if seq != l.seq || !l.awaiting {
		return
	}
	log.Warn().Str("module", "session.liveness").Dur("timeout", s.cfg.PongTimeout).Msg("pong missed")
	s.reset("connection lost", domain.E(domain.KindLiveness, "session.liveness", errPongTimeout))
	s.closeLink()
}
