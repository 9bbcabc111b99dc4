package acp

import (
	"context"
	"net/http"
	"strings"

	"github.com/oapi-codegen/runtime"
)

// DelegatedPaymentProvider owns the delegated payment token lifecycle: it
// registers PSP-issued credentials and reports whether they can still be used.
type DelegatedPaymentProvider interface {
	DelegatePayment(ctx context.Context, req PaymentRequest) (*VaultToken, error)
	ValidateToken(ctx context.Context, token, provider string) (*TokenValidation, error)
}

// DelegatedPaymentHandler exposes the delegate payment API over net/http.
type DelegatedPaymentHandler struct {
	service DelegatedPaymentProvider
	mux     *http.ServeMux
	cfg     config
}

// NewDelegatedPaymentHandler wires the delegate payment routes to the provided [DelegatedPaymentProvider].
func NewDelegatedPaymentHandler(service DelegatedPaymentProvider, opts ...Option) *DelegatedPaymentHandler {
	if service == nil {
		panic("delegatedpayment: service is required")
	}
	cfg := defaultConfig()
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&cfg)
	}
	if cfg.requireSignedRequests && cfg.signatureVerifier == nil {
		panic("delegatedpayment: signature verifier required when signed requests are enforced")
	}
	h := &DelegatedPaymentHandler{
		service: service,
		mux:     http.NewServeMux(),
		cfg:     cfg,
	}
	h.registerRoutes(cfg.complianceMiddleware()...)
	return h
}

// ServeHTTP satisfies http.Handler.
func (h *DelegatedPaymentHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	serveWithRequestContext(h.mux, w, r)
}

func (h *DelegatedPaymentHandler) registerRoutes(middleware ...Middleware) {
	h.mux.HandleFunc("POST /agentic_commerce/delegate_payment", applyMiddleware(h.handleDelegatePayment, middleware...))
	h.mux.HandleFunc("GET /agentic_commerce/validate_token/{token}", applyMiddleware(h.handleValidateToken, middleware...))
}

func (h *DelegatedPaymentHandler) handleDelegatePayment(w http.ResponseWriter, r *http.Request) {
	var req PaymentRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		writeJSONError(w, NewInvalidRequestError(err.Error()))
		return
	}
	if err := req.Validate(); err != nil {
		writeServiceError(w, err)
		return
	}
	resp, err := h.service.DelegatePayment(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (h *DelegatedPaymentHandler) handleValidateToken(w http.ResponseWriter, r *http.Request) {
	token := r.PathValue("token")
	if token == "" {
		writeJSONError(w, NewInvalidRequestCodeError(MissingField, "token is required", WithOffendingParam("$.token")))
		return
	}
	var provider string
	if err := runtime.BindQueryParameter("form", true, false, "provider", r.URL.Query(), &provider); err != nil {
		writeJSONError(w, NewInvalidRequestCodeError(InvalidField, err.Error(), WithOffendingParam("$.provider")))
		return
	}
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == "" {
		writeJSONError(w, NewInvalidRequestCodeError(MissingField, "provider query parameter is required", WithOffendingParam("$.provider")))
		return
	}
	resp, err := h.service.ValidateToken(r.Context(), token, provider)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
