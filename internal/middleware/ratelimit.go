package middleware

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// RateLimitConfig holds configuration for the rate limiter middleware.
type RateLimitConfig struct {
	// RequestsPerSecond is the sustained rate limit (tokens added per second).
	RequestsPerSecond float64
	// Burst is the maximum number of requests allowed in a burst.
	Burst int
	// IdleTTL drops limiters of clients not seen for this long. 0 means 10m.
	IdleTTL time.Duration
}

// clientLimiter tracks a per-client rate limiter and when it was last seen.
type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen atomic.Int64 // unix nanos
}

// RateLimiter returns an HTTP middleware that enforces a per-client token-bucket
// rate limit. Clients are keyed by authenticated principal when the auth
// middleware ran first, by remote IP otherwise. When the limit is exceeded it
// responds with 429 Too Many Requests. Idle limiters are evicted until ctx is
// done.
func RateLimiter(ctx context.Context, cfg RateLimitConfig) func(http.Handler) http.Handler {
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 10 * time.Minute
	}
	var clients sync.Map // map[string]*clientLimiter

	go func() {
		ticker := time.NewTicker(cfg.IdleTTL / 2)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				clients.Range(func(key, value any) bool {
					cl := value.(*clientLimiter)
					if now.Sub(time.Unix(0, cl.lastSeen.Load())) > cfg.IdleTTL {
						clients.Delete(key)
					}
					return true
				})
			}
		}
	}()

	getLimiter := func(key string) *rate.Limiter {
		now := time.Now().UnixNano()
		if v, ok := clients.Load(key); ok {
			cl := v.(*clientLimiter)
			cl.lastSeen.Store(now)
			return cl.limiter
		}
		cl := &clientLimiter{limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst)}
		cl.lastSeen.Store(now)
		v, _ := clients.LoadOrStore(key, cl)
		return v.(*clientLimiter).limiter
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			limiter := getLimiter(clientKey(r))

			reservation := limiter.Reserve()
			if !reservation.OK() {
				writeTooManyRequests(w, 0)
				return
			}
			if delay := reservation.Delay(); delay > 0 {
				reservation.Cancel()
				writeTooManyRequests(w, int(delay.Seconds())+1)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(cfg.Burst))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(int(limiter.Tokens())))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(time.Second).Unix(), 10))

			next.ServeHTTP(w, r)
		})
	}
}

func clientKey(r *http.Request) string {
	if p, ok := PrincipalFromContext(r.Context()); ok && p.Name != "" {
		return "principal:" + p.Name
	}
	return "ip:" + clientIP(r)
}

// clientIP extracts the client IP address from the request, stripping the port.
// Only RemoteAddr is used; X-Forwarded-For is client-controlled.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeTooManyRequests(w http.ResponseWriter, retryAfterSecs int) {
	if retryAfterSecs > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSecs))
	}
	writeJSONError(w, http.StatusTooManyRequests, "rate limit exceeded")
}
