package app

import (
	"sync"

	"golang.org/x/time/rate"
)

// limiterSweepAt is the number of tracked users above which idle limiters
// are dropped.
const limiterSweepAt = 1024

// userLimiter is a token bucket per user. A zero rate disables limiting.
type userLimiter struct {
	mu       sync.Mutex
	perMin   float64
	burst    int
	limiters map[string]*rate.Limiter
}

func newUserLimiter(perMinute float64, burst int) *userLimiter {
	l := &userLimiter{limiters: make(map[string]*rate.Limiter)}
	l.set(perMinute, burst)
	return l
}

// set replaces the limits. Existing buckets are discarded.
func (l *userLimiter) set(perMinute float64, burst int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if burst < 1 {
		burst = 1
	}
	l.perMin = perMinute
	l.burst = burst
	clear(l.limiters)
}

// allow reports whether userID may start another request now.
func (l *userLimiter) allow(userID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.perMin <= 0 {
		return true
	}
	lim, ok := l.limiters[userID]
	if !ok {
		if len(l.limiters) >= limiterSweepAt {
			l.sweep()
		}
		lim = rate.NewLimiter(rate.Limit(l.perMin/60), l.burst)
		l.limiters[userID] = lim
	}
	return lim.Allow()
}

// sweep drops buckets that have refilled completely; they behave exactly
// like fresh ones. Must be called with l.mu held.
func (l *userLimiter) sweep() {
	for id, lim := range l.limiters {
		if lim.Tokens() >= float64(l.burst) {
			delete(l.limiters, id)
		}
	}
}
