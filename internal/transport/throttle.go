// Package transport holds pieces shared by the inbound adapters.
package transport

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/dennisukpong/transport-booking/internal/metrics"
)

// Throttle is a per-user token bucket for inbound messages.
type Throttle struct {
	mu       sync.Mutex
	limiters map[string]*userLimiter
	limit    rate.Limit
	burst    int
	idle     time.Duration
	now      func() time.Time
}

type userLimiter struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// NewThrottle allows perSecond messages per user with the given burst.
func NewThrottle(perSecond float64, burst int) *Throttle {
	if perSecond <= 0 {
		perSecond = 1
	}
	if burst <= 0 {
		burst = 1
	}
	return &Throttle{
		limiters: make(map[string]*userLimiter),
		limit:    rate.Limit(perSecond),
		burst:    burst,
		idle:     10 * time.Minute,
		now:      time.Now,
	}
}

// Allow reports whether userID may send a message now. A nil Throttle allows everything.
func (t *Throttle) Allow(userID string) bool {
	if t == nil {
		return true
	}
	now := t.now()

	t.mu.Lock()
	ul, ok := t.limiters[userID]
	if !ok {
		ul = &userLimiter{lim: rate.NewLimiter(t.limit, t.burst)}
		t.limiters[userID] = ul
	}
	ul.lastSeen = now
	allowed := ul.lim.AllowN(now, 1)
	t.mu.Unlock()

	if !allowed {
		metrics.IncThrottled()
	}
	return allowed
}

// Sweep drops limiters that have been idle longer than the idle window and
// returns how many were removed.
func (t *Throttle) Sweep() int {
	now := t.now()
	t.mu.Lock()
	defer t.mu.Unlock()

	removed := 0
	for id, ul := range t.limiters {
		if now.Sub(ul.lastSeen) > t.idle {
			delete(t.limiters, id)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked users.
func (t *Throttle) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.limiters)
}
