package router

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter implements per-user inbound frame limiting
// ARCHITECTURAL DISCOVERY: Per-user state tracking with periodic cleanup
// prevents memory leaks from users who have gone away
type RateLimiter struct {
	mu        sync.Mutex
	perMinute int
	clients   map[string]*clientLimit
	now       func() time.Time
}

// clientLimit is one user's token bucket
// FUNCTIONAL DISCOVERY: Burst equals the per-minute budget, so a quiet user
// can spend a whole minute's allowance at once and then refills steadily
type clientLimit struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter creates a limiter allowing perMinute frames per user
func NewRateLimiter(perMinute int) *RateLimiter {
	return &RateLimiter{
		perMinute: perMinute,
		clients:   make(map[string]*clientLimit),
		now:       time.Now,
	}
}

// Allow reports whether userID may send another frame now
func (rl *RateLimiter) Allow(userID string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	limit, exists := rl.clients[userID]
	if !exists {
		limit = &clientLimit{
			limiter: rate.NewLimiter(rate.Limit(float64(rl.perMinute)/60.0), rl.perMinute),
		}
		rl.clients[userID] = limit
	}
	limit.lastSeen = now

	return limit.limiter.AllowN(now, 1)
}

// Cleanup removes users idle for longer than idle
// ARCHITECTURAL DISCOVERY: An idle user's bucket is full again, so dropping
// it loses nothing
func (rl *RateLimiter) Cleanup(idle time.Duration) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	removed := 0
	for userID, limit := range rl.clients {
		if now.Sub(limit.lastSeen) > idle {
			delete(rl.clients, userID)
			removed++
		}
	}
	return removed
}

// Size returns the number of tracked users
func (rl *RateLimiter) Size() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}
