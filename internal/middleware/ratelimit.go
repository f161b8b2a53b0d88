package middleware

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const limiterIdle = 10 * time.Minute

type limiterEntry struct {
	lim  *rate.Limiter
	seen time.Time
}

// limiterPool держит token bucket на ключ и забывает ключи, простаивающие limiterIdle.
type limiterPool struct {
	mu      sync.Mutex
	entries map[string]*limiterEntry
	rps     rate.Limit
	burst   int
	sweptAt time.Time
}

func newLimiterPool(rps float64, burst int) *limiterPool {
	return &limiterPool{entries: make(map[string]*limiterEntry), rps: rate.Limit(rps), burst: burst, sweptAt: time.Now()}
}

func (p *limiterPool) allow(key string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := time.Now()
	if now.Sub(p.sweptAt) > limiterIdle {
		for k, e := range p.entries {
			if now.Sub(e.seen) > limiterIdle {
				delete(p.entries, k)
			}
		}
		p.sweptAt = now
	}
	e, ok := p.entries[key]
	if !ok {
		e = &limiterEntry{lim: rate.NewLimiter(p.rps, p.burst)}
		p.entries[key] = e
	}
	e.seen = now
	return e.lim.Allow()
}

// RateLimit ограничивает запросы по IP и по user_id (если он уже в контексте). 429 при превышении.
// rps <= 0 отключает ограничение.
func RateLimit(rps float64, burst int) func(http.Handler) http.Handler {
	if burst <= 0 {
		burst = 1
	}
	byIP := newLimiterPool(rps, burst*2)
	byUser := newLimiterPool(rps, burst)
	return func(next http.Handler) http.Handler {
		if rps <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !byIP.allow(clientIP(r)) {
				writeTooMany(w)
				return
			}
			if userID := GetUserID(r.Context()); userID != "" && !byUser.allow("u:"+userID) {
				writeTooMany(w)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeTooMany(w http.ResponseWriter) {
	w.Header().Set("Retry-After", "1")
	http.Error(w, `{"error":"too many requests"}`, http.StatusTooManyRequests)
}

func clientIP(r *http.Request) string {
	if x := r.Header.Get("X-Real-Ip"); x != "" {
		return x
	}
	if x := r.Header.Get("X-Forwarded-For"); x != "" {
		if idx := strings.Index(x, ","); idx > 0 {
			return strings.TrimSpace(x[:idx])
		}
		return x
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
