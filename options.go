package acp

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/shopbridge/acp/idempotency"
	"github.com/shopbridge/acp/signature"
)

type config struct {
	signatureVerifier     signature.Verifier
	maxClockSkew          time.Duration
	requireSignedRequests bool
	middleware            []Middleware
	authenticator         Authenticator
	idempotencyStore      idempotency.Store
	idempotencyTTL        time.Duration
	idempotencyLease      time.Duration
	webhook               *WebhookSender
	logger                *zap.Logger
	clock                 func() time.Time
}

func defaultConfig() config {
	return config{
		maxClockSkew:     5 * time.Minute,
		idempotencyTTL:   idempotency.DefaultTTL,
		idempotencyLease: idempotency.DefaultLease,
		logger:           zap.NewNop(),
		clock:            time.Now,
	}
}

type Middleware func(http.HandlerFunc) http.HandlerFunc

func applyMiddleware(h http.HandlerFunc, middleware ...Middleware) http.HandlerFunc {
	for _, m := range middleware {
		h = m(h)
	}
	return h
}

// Option customizes the handler behavior.
type Option func(*config)

// WithSignatureVerifier enables HMAC request signature enforcement for
// requests that carry both Signature and Timestamp headers.
func WithSignatureVerifier(verifier signature.Verifier) Option {
	return func(cfg *config) {
		cfg.signatureVerifier = verifier
	}
}

// WithMaxClockSkew sets the tolerated absolute difference between the
// Timestamp header and the server clock when verifying signed requests.
func WithMaxClockSkew(skew time.Duration) Option {
	if skew <= 0 {
		panic("acp: max clock skew must be positive")
	}
	return func(cfg *config) {
		cfg.maxClockSkew = skew
	}
}

// WithRequireSignedRequests enforces that every request carries Signature and
// Timestamp headers when a verifier is configured.
func WithRequireSignedRequests() Option {
	return func(cfg *config) {
		cfg.requireSignedRequests = true
	}
}

// WithMiddleware appends custom middleware in the order provided. Custom
// middleware wraps the compliance gate, so it runs first.
func WithMiddleware(mw ...Middleware) Option {
	return func(cfg *config) {
		for _, m := range mw {
			if m == nil {
				continue
			}
			cfg.middleware = append(cfg.middleware, m)
		}
	}
}

// WithAuthenticator enables Authorization header API key validation.
func WithAuthenticator(auth Authenticator) Option {
	return func(cfg *config) {
		cfg.authenticator = auth
	}
}

// WithIdempotencyStore enables Idempotency-Key replay for mutating requests.
// A non-positive ttl falls back to [idempotency.DefaultTTL].
func WithIdempotencyStore(store idempotency.Store, ttl time.Duration) Option {
	return func(cfg *config) {
		cfg.idempotencyStore = store
		if ttl > 0 {
			cfg.idempotencyTTL = ttl
		}
	}
}

// WithIdempotencyLease bounds how long an unfinished first execution keeps
// its key reserved. It should exceed the longest request the server allows.
func WithIdempotencyLease(lease time.Duration) Option {
	return func(cfg *config) {
		if lease > 0 {
			cfg.idempotencyLease = lease
		}
	}
}

// WithWebhookSender attaches the sender used by [CheckoutHandler.SendWebhook].
func WithWebhookSender(sender *WebhookSender) Option {
	return func(cfg *config) {
		cfg.webhook = sender
	}
}

// WithLogger sets the structured logger used by the handlers.
func WithLogger(logger *zap.Logger) Option {
	return func(cfg *config) {
		if logger != nil {
			cfg.logger = logger
		}
	}
}

// withClock provides deterministic time in tests.
func withClock(fn func() time.Time) Option {
	return func(cfg *config) {
		cfg.clock = fn
	}
}

// complianceMiddleware assembles the gate shared by every handler. The slice is
// ordered innermost first, so at request time the order is: custom middleware,
// authentication, API version, signature, idempotency.
func (cfg config) complianceMiddleware() []Middleware {
	var middleware []Middleware
	if cfg.idempotencyStore != nil {
		middleware = append(middleware, newIdempotencyMiddleware(idempotencyMiddlewareConfig{
			Store:  cfg.idempotencyStore,
			TTL:    cfg.idempotencyTTL,
			Lease:  cfg.idempotencyLease,
			Clock:  cfg.clock,
			Logger: cfg.logger,
		}))
	}
	if mw := newSignatureMiddleware(signatureMiddlewareConfig{
		Verifier:      cfg.signatureVerifier,
		RequireSigned: cfg.requireSignedRequests,
		MaxClockSkew:  cfg.maxClockSkew,
		Clock:         cfg.clock,
	}); mw != nil {
		middleware = append(middleware, Middleware(mw))
	}
	middleware = append(middleware, newVersionMiddleware(APIVersion))
	if cfg.authenticator != nil {
		middleware = append(middleware, newAuthenticationMiddleware(cfg.authenticator))
	}
	return append(middleware, cfg.middleware...)
}
