package httpapi

import (
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limit is a token bucket refilled at Every with capacity Burst.
type Limit struct {
	Every time.Duration
	Burst int
}

// Limits are the per-IP limits of the throttled routes.
type Limits struct {
	Login  Limit
	Forgot Limit
	Reset  Limit
	Verify Limit
	Resend Limit
}

// DefaultLimits: 10/min for login, 5/min for forgot and reset, 10/hour for
// verify-email and 3/hour for resend-verification.
func DefaultLimits() Limits {
	return Limits{
		Login:  Limit{Every: time.Minute / 10, Burst: 10},
		Forgot: Limit{Every: time.Minute / 5, Burst: 5},
		Reset:  Limit{Every: time.Minute / 5, Burst: 5},
		Verify: Limit{Every: time.Hour / 10, Burst: 10},
		Resend: Limit{Every: time.Hour / 3, Burst: 3},
	}
}

// idleAfter is how long an untouched bucket is kept. Any bucket idle this
// long has refilled completely, so dropping it changes nothing.
func (l Limit) idleAfter() time.Duration {
	return l.Every * time.Duration(max(l.Burst, 1))
}

type visitor struct {
	lim  *rate.Limiter
	seen time.Time
}

type ipLimiter struct {
	limit      Limit
	trustProxy bool
	mu         sync.Mutex
	visitors   map[string]*visitor
	lastSweep  time.Time
	now        func() time.Time
}

func newIPLimiter(l Limit, trustProxy bool) *ipLimiter {
	return &ipLimiter{
		limit:      l,
		trustProxy: trustProxy,
		visitors:   make(map[string]*visitor),
		now:        time.Now,
	}
}

func (l *ipLimiter) allow(ip string) bool {
	if ip == "" {
		ip = "unknown"
	}
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastSweep) > l.limit.idleAfter() {
		for k, v := range l.visitors {
			if now.Sub(v.seen) > l.limit.idleAfter() {
				delete(l.visitors, k)
			}
		}
		l.lastSweep = now
	}

	v, ok := l.visitors[ip]
	if !ok {
		v = &visitor{lim: rate.NewLimiter(rate.Every(l.limit.Every), l.limit.Burst)}
		l.visitors[ip] = v
	}
	v.seen = now
	return v.lim.AllowN(now, 1)
}

func (l *ipLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.allow(clientIP(r, l.trustProxy)) {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}
