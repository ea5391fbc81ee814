package app

import (
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/nyx/internal/core"
	"github.com/dkeye/nyx/internal/domain"
)

type binding struct {
	id        core.ConnID
	conn      core.SignalConnection
	connected bool
}

// Registry maps rendezvous codes to live relay connections.
// Every mutation goes through its mutex, so register, lookup, disconnect
// and grace expiry are linearizable per code.
type Registry struct {
	mu      sync.Mutex
	clock   clockwork.Clock
	grace   time.Duration
	metrics *Metrics
	codes   map[string]*binding
	conns   map[core.ConnID]string
}

func NewRegistry(clock clockwork.Clock, grace time.Duration, m *Metrics) *Registry {
	return &Registry{
		clock:   clock,
		grace:   grace,
		metrics: m,
		codes:   make(map[string]*binding),
		conns:   make(map[core.ConnID]string),
	}
}

// Register binds code to conn. A code previously bound to this connection
// is released first. Last registration wins: if another connection owned
// code, it loses the binding.
func (r *Registry) Register(id core.ConnID, conn core.SignalConnection, code string) error {
	if err := domain.ValidateCode(code); err != nil {
		return domain.E(domain.KindRegistration, "registry.register", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.conns[id]; ok && old != code {
		if b, ok := r.codes[old]; ok && b.id == id {
			delete(r.codes, old)
			log.Info().Str("module", "app.registry").Str("conn", string(id)).Str("code", old).Msg("released previous code")
		}
	}
	if prev, ok := r.codes[code]; ok && prev.id != id {
		delete(r.conns, prev.id)
		log.Warn().Str("module", "app.registry").Str("code", code).Str("prev_conn", string(prev.id)).Str("conn", string(id)).Msg("code taken over")
	}
	r.codes[code] = &binding{id: id, conn: conn, connected: true}
	r.conns[id] = code
	r.metrics.setCodes(len(r.codes))
	log.Info().Str("module", "app.registry").Str("conn", string(id)).Str("code", code).Msg("registered code")
	return nil
}

// Lookup returns the live connection bound to code.
func (r *Registry) Lookup(code string) (core.SignalConnection, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.codes[code]
	if !ok || !b.connected {
		return nil, false
	}
	return b.conn, true
}

// CodeOf returns the code currently owned by id.
func (r *Registry) CodeOf(id core.ConnID) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	code, ok := r.conns[id]
	return code, ok
}

// Disconnect keeps the code of id reserved for the grace period and then
// removes it, unless another connection has claimed it meanwhile.
func (r *Registry) Disconnect(id core.ConnID) {
	r.mu.Lock()
	code, ok := r.conns[id]
	delete(r.conns, id)
	if !ok {
		r.mu.Unlock()
		return
	}
	b, ok := r.codes[code]
	if !ok || b.id != id {
		r.mu.Unlock()
		return
	}
	b.connected = false
	r.mu.Unlock()

	log.Info().Str("module", "app.registry").Str("conn", string(id)).Str("code", code).Dur("grace", r.grace).Msg("disconnected, keeping code")
	r.clock.AfterFunc(r.grace, func() { r.expire(code, id) })
}

func (r *Registry) expire(code string, id core.ConnID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.codes[code]
	if !ok || b.id != id || b.connected {
		return
	}
	delete(r.codes, code)
	r.metrics.setCodes(len(r.codes))
	log.Info().Str("module", "app.registry").Str("code", code).Msg("code removed after grace period")
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.codes)
}

// Codes returns the registered codes in sorted order.
func (r *Registry) Codes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.codes))
	for code := range r.codes {
		out = append(out, code)
	}
	sort.Strings(out)
	return out
}
