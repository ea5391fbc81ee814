package signal

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/dkeye/nyx/internal/core"
)

// RegisterRateLimiter bounds code registrations per connection within a
// sliding window.
type RegisterRateLimiter struct {
	mu       sync.Mutex
	clock    clockwork.Clock
	history  map[core.ConnID][]time.Time
	limit    int
	interval time.Duration
}

func NewRegisterRateLimiter(clock clockwork.Clock, limit int, interval time.Duration) *RegisterRateLimiter {
	return &RegisterRateLimiter{
		clock:    clock,
		history:  make(map[core.ConnID][]time.Time),
		limit:    limit,
		interval: interval,
	}
}

func (rl *RegisterRateLimiter) Allow(id core.ConnID) bool {
	if rl.limit <= 0 {
		return true
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.clock.Now()
	windowStart := now.Add(-rl.interval)

	attempts := rl.history[id]
	fresh := attempts[:0]
	for _, t := range attempts {
		if t.After(windowStart) {
			fresh = append(fresh, t)
		}
	}
	if len(fresh) >= rl.limit {
		rl.history[id] = fresh
		return false
	}
	rl.history[id] = append(fresh, now)
	return true
}

// Forget drops the history of a closed connection.
func (rl *RegisterRateLimiter) Forget(id core.ConnID) {
	rl.mu.Lock()
	delete(rl.history, id)
	rl.mu.Unlock()
}
