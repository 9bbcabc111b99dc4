package acp

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter hands out one token bucket per client key.
type RateLimiter struct {
	mu      sync.Mutex
	clients map[string]*rate.Limiter
	limit   rate.Limit
	burst   int
	keyFunc func(*http.Request) string
}

// NewRateLimiter allows limit events per second with the given burst per
// client. A nil keyFunc keys clients by bearer token, falling back to remote IP.
func NewRateLimiter(limit rate.Limit, burst int, keyFunc func(*http.Request) string) *RateLimiter {
	if keyFunc == nil {
		keyFunc = ClientKey
	}
	return &RateLimiter{
		clients: make(map[string]*rate.Limiter),
		limit:   limit,
		burst:   burst,
		keyFunc: keyFunc,
	}
}

func (rl *RateLimiter) limiter(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if limiter, ok := rl.clients[key]; ok {
		return limiter
	}
	limiter := rate.NewLimiter(rl.limit, rl.burst)
	rl.clients[key] = limiter
	return limiter
}

// Middleware rejects requests over budget with 429 and a Retry-After hint.
func (rl *RateLimiter) Middleware() Middleware {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			reservation := rl.limiter(rl.keyFunc(r)).Reserve()
			if !reservation.OK() {
				writeJSONError(w, NewRateLimitExceededError("rate limit exceeded", WithRetryAfter(time.Second)))
				return
			}
			if delay := reservation.Delay(); delay > 0 {
				reservation.Cancel()
				writeJSONError(w, NewRateLimitExceededError("rate limit exceeded", WithRetryAfter(delay)))
				return
			}
			next(w, r)
		}
	}
}

// ClientKey identifies the caller by API key when present, else by remote address.
func ClientKey(r *http.Request) string {
	if auth := strings.TrimSpace(r.Header.Get("Authorization")); auth != "" {
		return auth
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
