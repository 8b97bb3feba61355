package httpapi

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ipThrottle is a token bucket per client IP. It sits in front of every
// route; the Engine's own counters still apply behind it.
type ipThrottle struct {
	mu       sync.Mutex
	limiters map[string]*ipLimiter
	limit    rate.Limit
	burst    int
	idle     time.Duration
	now      func() time.Time
	lastScan time.Time
}

type ipLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newIPThrottle(perSecond float64, burst int) *ipThrottle {
	if perSecond <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	return &ipThrottle{
		limiters: make(map[string]*ipLimiter),
		limit:    rate.Limit(perSecond),
		burst:    burst,
		idle:     10 * time.Minute,
		now:      time.Now,
	}
}

// allow reports whether ip may make one more request now. A nil throttle
// allows everything.
func (t *ipThrottle) allow(ip string) bool {
	if t == nil {
		return true
	}
	now := t.now()

	t.mu.Lock()
	defer t.mu.Unlock()

	if now.Sub(t.lastScan) > t.idle {
		t.sweep(now)
	}

	l, ok := t.limiters[ip]
	if !ok {
		l = &ipLimiter{limiter: rate.NewLimiter(t.limit, t.burst)}
		t.limiters[ip] = l
	}
	l.lastSeen = now
	return l.limiter.AllowN(now, 1)
}

// sweep drops limiters idle for longer than t.idle. Caller holds t.mu.
func (t *ipThrottle) sweep(now time.Time) {
	for ip, l := range t.limiters {
		if now.Sub(l.lastSeen) > t.idle {
			delete(t.limiters, ip)
		}
	}
	t.lastScan = now
}

func (t *ipThrottle) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.limiters)
}
