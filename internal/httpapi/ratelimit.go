package httpapi

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// limiters idle this long are dropped once the pool grows past maxClients.
	limiterIdle = 10 * time.Minute
	maxClients  = 4096
)

type clientLimiter struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// limiterPool hands out one token bucket per client key.
type limiterPool struct {
	mu    sync.Mutex
	m     map[string]*clientLimiter
	rps   float64
	burst int
	now   func() time.Time
}

func newLimiterPool(rps float64, burst int) *limiterPool {
	return &limiterPool{m: make(map[string]*clientLimiter), rps: rps, burst: burst, now: time.Now}
}

func (p *limiterPool) Allow(key string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.now()
	c, ok := p.m[key]
	if !ok {
		if len(p.m) >= maxClients {
			p.sweepLocked(now)
		}
		c = &clientLimiter{lim: rate.NewLimiter(rate.Limit(p.rps), p.burst)}
		p.m[key] = c
	}
	c.lastSeen = now
	return c.lim.AllowN(now, 1)
}

func (p *limiterPool) sweepLocked(now time.Time) {
	for k, c := range p.m {
		if now.Sub(c.lastSeen) > limiterIdle {
			delete(p.m, k)
		}
	}
}

// clientKey is the remote IP; RealIP has already applied forwarding headers.
func clientKey(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// rateLimit rejects clients over their budget with 429.
func rateLimit(p *limiterPool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !p.Allow(clientKey(r)) {
				IncrementBackpressure(reasonRateLimit)
				writeJSONError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
