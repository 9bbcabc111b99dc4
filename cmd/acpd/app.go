package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/shopbridge/acp"
	"github.com/shopbridge/acp/capture"
	"github.com/shopbridge/acp/catalog"
	"github.com/shopbridge/acp/checkout"
	"github.com/shopbridge/acp/idempotency"
	"github.com/shopbridge/acp/postgres"
	"github.com/shopbridge/acp/signature"
	"github.com/shopbridge/acp/vault"
)

// app holds the wired merchant components and the resources that must be
// closed on shutdown.
type app struct {
	cfg      *Config
	logger   *zap.Logger
	pool     *pgxpool.Pool
	redis    *redis.Client
	vault    *vault.Vault
	checkout *checkout.Service
	webhook  *acp.WebhookSender
}

func newApp(ctx context.Context, cfg *Config, logger *zap.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	if cfg.Database.URL != "" {
		pool, err := postgres.Connect(ctx, cfg.Database.URL)
		if err != nil {
			return nil, err
		}
		a.pool = pool
	}
	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		a.redis = redis.NewClient(opts)
		if err := a.redis.Ping(ctx).Err(); err != nil {
			a.Close()
			return nil, fmt.Errorf("ping redis: %w", err)
		}
	}

	var tokens vault.Store = vault.NewMemoryStore()
	var sessions checkout.SessionStore = checkout.NewMemoryStore()
	if a.pool != nil {
		tokens = postgres.NewTokenStore(a.pool)
		sessions = postgres.NewSessionStore(a.pool)
	}

	a.vault = vault.New(vault.Config{
		Store:           tokens,
		Logger:          logger.Named("vault"),
		DefaultProvider: cfg.Merchant.PaymentProvider,
	})

	registry := capture.DefaultRegistry()
	if cfg.Capture.PayPalHandler {
		registry.Register("paypal", capture.PayPal{HandlerInstalled: true})
	}

	checkoutCfg := checkout.Config{
		Store:               sessions,
		Catalog:             catalog.Demo(),
		Shipping:            catalog.DemoShipping(),
		Customers:           catalog.NewCustomers(),
		Orders:              catalog.NewOrderBook(nil),
		PaymentMethods:      catalog.DemoPaymentMethods(),
		Vault:               a.vault,
		Capturer:            registry,
		BaseURL:             cfg.Merchant.BaseURL,
		Currency:            cfg.Merchant.Currency,
		DefaultCountry:      cfg.Merchant.Country,
		PaymentProvider:     acp.PaymentProviderProvider(cfg.Merchant.PaymentProvider),
		CollaboratorTimeout: cfg.Collaborator.Timeout,
		Logger:              logger.Named("checkout"),
	}
	if cfg.Webhook.URL != "" {
		sender, err := acp.NewWebhookSender(acp.WebhookOptions{
			Endpoint:   cfg.Webhook.URL,
			HeaderName: cfg.Webhook.Header,
			SecretKey:  []byte(cfg.Webhook.Secret),
		})
		if err != nil {
			a.Close()
			return nil, err
		}
		a.webhook = sender
		checkoutCfg.Notifier = sender
	}

	svc, err := checkout.New(checkoutCfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.checkout = svc
	return a, nil
}

// idempotencyStore prefers Redis, then Postgres, then process memory.
func (a *app) idempotencyStore() idempotency.Store {
	switch {
	case a.redis != nil:
		return idempotency.NewRedisStore(a.redis, "acp:idempotency")
	case a.pool != nil:
		return postgres.NewIdempotencyStore(a.pool)
	default:
		return idempotency.NewMemoryStore()
	}
}

func (a *app) handlerOptions() []acp.Option {
	opts := []acp.Option{
		acp.WithLogger(a.logger.Named("http")),
		acp.WithIdempotencyStore(a.idempotencyStore(), a.cfg.Idempotency.TTL),
		acp.WithIdempotencyLease(a.cfg.Idempotency.Lease),
	}
	if len(a.cfg.Auth.APIKeys) > 0 {
		opts = append(opts, acp.WithAuthenticator(acp.StaticKeys(a.cfg.Auth.APIKeys)))
	}
	if a.cfg.Signing.Secret != "" {
		opts = append(opts, acp.WithSignatureVerifier(signature.HMACVerifier{Key: []byte(a.cfg.Signing.Secret)}))
		if a.cfg.Signing.Require {
			opts = append(opts, acp.WithRequireSignedRequests())
		}
	}
	if a.cfg.RateLimit.RPS > 0 {
		limiter := acp.NewRateLimiter(rate.Limit(a.cfg.RateLimit.RPS), a.cfg.RateLimit.Burst, nil)
		opts = append(opts, acp.WithMiddleware(limiter.Middleware()))
	}
	if a.webhook != nil {
		opts = append(opts, acp.WithWebhookSender(a.webhook))
	}
	return opts
}

// router mounts the checkout and delegated payment surfaces behind the
// shared chi middleware stack.
func (a *app) router() http.Handler {
	opts := a.handlerOptions()
	checkoutHandler := acp.NewCheckoutHandler(a.checkout, opts...)
	paymentHandler := acp.NewDelegatedPaymentHandler(a.vault, opts...)

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(a.logger))
	if a.cfg.HTTP.RequestTimeout > 0 {
		r.Use(middleware.Timeout(a.cfg.HTTP.RequestTimeout))
	}

	r.Get("/healthz", a.healthz)
	r.Handle("/checkout_sessions", checkoutHandler)
	r.Handle("/checkout_sessions/*", checkoutHandler)
	r.Handle("/agentic_commerce/*", paymentHandler)
	return r
}

func (a *app) healthz(w http.ResponseWriter, r *http.Request) {
	if a.pool != nil {
		if err := a.pool.Ping(r.Context()); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
	}
	if a.redis != nil {
		if err := a.redis.Ping(r.Context()).Err(); err != nil {
			http.Error(w, "redis unavailable", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Close waits for in-flight webhook deliveries and releases connections.
func (a *app) Close() {
	if a.checkout != nil {
		a.checkout.Wait()
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.pool != nil {
		a.pool.Close()
	}
}
