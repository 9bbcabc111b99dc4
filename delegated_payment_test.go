package acp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestDelegatedPaymentHandler(t *testing.T) {
	t.Parallel()

	reqPayload := sampleDelegatePaymentRequest()
	service := &delegatedStubService{
		delegate: func(ctx context.Context, req PaymentRequest) (*VaultToken, error) {
			if req.Allowance.MerchantID != "acme" {
				t.Fatalf("unexpected merchant id %s", req.Allowance.MerchantID)
			}
			return &VaultToken{
				ID:       "vt_token",
				Created:  time.Now().UTC(),
				Metadata: map[string]string{"source": "test"},
			}, nil
		},
	}
	handler := NewDelegatedPaymentHandler(service)

	body, err := json.Marshal(reqPayload)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/agentic_commerce/delegate_payment", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("API-Version", APIVersion)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status 201 got %d body=%s", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("API-Version"); got != APIVersion {
		t.Fatalf("expected API-Version header %s got %s", APIVersion, got)
	}
	var resp VaultToken
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.ID != "vt_token" {
		t.Fatalf("unexpected response id %s", resp.ID)
	}
}

func TestDelegatedPaymentHandlerErrors(t *testing.T) {
	t.Parallel()

	t.Run("invalid JSON", func(t *testing.T) {
		t.Parallel()

		handler := NewDelegatedPaymentHandler(&delegatedStubService{})
		req := httptest.NewRequest(http.MethodPost, "/agentic_commerce/delegate_payment", strings.NewReader("{"))
		req.Header.Set("API-Version", APIVersion)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400 got %d", rec.Code)
		}
	})

	t.Run("validation error", func(t *testing.T) {
		t.Parallel()

		payload := sampleDelegatePaymentRequest()
		payload.RiskSignals = nil
		rec := serve(t, NewDelegatedPaymentHandler(&delegatedStubService{}), http.MethodPost, "/agentic_commerce/delegate_payment", payload, nil)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400 got %d", rec.Code)
		}
		if got := decodeError(t, rec.Body.Bytes()); got.Param == nil || *got.Param != "$.risk_signals" {
			t.Fatalf("unexpected param %+v", got.Param)
		}
	})

	t.Run("service error surfaces", func(t *testing.T) {
		t.Parallel()

		handler := NewDelegatedPaymentHandler(&delegatedStubService{
			delegate: func(ctx context.Context, req PaymentRequest) (*VaultToken, error) {
				return nil, NewHTTPError(http.StatusConflict, InvalidRequest, IdempotencyConflict, "idempotency conflict")
			},
		})
		rec := serve(t, handler, http.MethodPost, "/agentic_commerce/delegate_payment", sampleDelegatePaymentRequest(), nil)
		if rec.Code != http.StatusConflict {
			t.Fatalf("expected 409 got %d", rec.Code)
		}
		if !strings.Contains(rec.Body.String(), "idempotency conflict") {
			t.Fatalf("unexpected body %s", rec.Body.String())
		}
	})

	t.Run("rate limited response sets retry-after header", func(t *testing.T) {
		t.Parallel()

		handler := NewDelegatedPaymentHandler(&delegatedStubService{
			delegate: func(ctx context.Context, req PaymentRequest) (*VaultToken, error) {
				return nil, NewRateLimitExceededError("too many attempts", WithRetryAfter(3*time.Second))
			},
		})
		rec := serve(t, handler, http.MethodPost, "/agentic_commerce/delegate_payment", sampleDelegatePaymentRequest(), nil)

		if rec.Code != http.StatusTooManyRequests {
			t.Fatalf("expected 429 got %d", rec.Code)
		}
		if got := rec.Header().Get("Retry-After"); got != "3" {
			t.Fatalf("expected Retry-After header 3 got %s", got)
		}
	})

	t.Run("method not allowed", func(t *testing.T) {
		t.Parallel()

		handler := NewDelegatedPaymentHandler(&delegatedStubService{})
		req := httptest.NewRequest(http.MethodGet, "/agentic_commerce/delegate_payment", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusMethodNotAllowed {
			t.Fatalf("expected 405 got %d", rec.Code)
		}
	})
}

func TestDelegatedPaymentValidation(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		mutate    func(*PaymentRequest)
		wantCode  ErrorCode
		wantParam string
	}{
		"missing number": {
			mutate:    func(r *PaymentRequest) { r.PaymentMethod.Number = "" },
			wantCode:  MissingField,
			wantParam: "$.payment_method.number",
		},
		"non-card type": {
			mutate:    func(r *PaymentRequest) { r.PaymentMethod.Type = "bank" },
			wantCode:  InvalidCardType,
			wantParam: "$.payment_method.type",
		},
		"zero max amount": {
			mutate:    func(r *PaymentRequest) { r.Allowance.MaxAmount = 0 },
			wantCode:  MissingField,
			wantParam: "$.allowance.max_amount",
		},
		"bad currency": {
			mutate:    func(r *PaymentRequest) { r.Allowance.Currency = "dollars" },
			wantCode:  InvalidField,
			wantParam: "$.allowance.currency",
		},
		"missing session": {
			mutate:    func(r *PaymentRequest) { r.Allowance.CheckoutSessionID = "" },
			wantCode:  MissingField,
			wantParam: "$.allowance.checkout_session_id",
		},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			req := sampleDelegatePaymentRequest()
			tt.mutate(&req)
			err := req.Validate()
			var acpErr *Error
			if !errors.As(err, &acpErr) {
				t.Fatalf("expected *Error got %v", err)
			}
			if acpErr.Code != tt.wantCode {
				t.Fatalf("expected code %s got %s", tt.wantCode, acpErr.Code)
			}
			if acpErr.Param == nil || *acpErr.Param != tt.wantParam {
				t.Fatalf("expected param %s got %v", tt.wantParam, acpErr.Param)
			}
		})
	}
}

func TestValidateTokenHandler(t *testing.T) {
	t.Parallel()

	expires := time.Date(2025, 10, 1, 13, 0, 0, 0, time.UTC)
	handler := NewDelegatedPaymentHandler(&delegatedStubService{
		validate: func(ctx context.Context, token, provider string) (*TokenValidation, error) {
			if token != "vt_1" {
				return nil, NewNotFoundError(TokenNotFound, "payment token not found", WithOffendingParam("$.token"))
			}
			return &TokenValidation{Valid: true, ExpiresAt: &expires, Provider: provider}, nil
		},
	})

	t.Run("known token", func(t *testing.T) {
		t.Parallel()

		rec := serve(t, handler, http.MethodGet, "/agentic_commerce/validate_token/vt_1?provider=stripe", nil, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200 got %d body=%s", rec.Code, rec.Body.String())
		}
		var resp TokenValidation
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if !resp.Valid || resp.Used || resp.Provider != "stripe" || resp.ExpiresAt == nil || !resp.ExpiresAt.Equal(expires) {
			t.Fatalf("unexpected validation %+v", resp)
		}
	})

	t.Run("unknown token", func(t *testing.T) {
		t.Parallel()

		rec := serve(t, handler, http.MethodGet, "/agentic_commerce/validate_token/vt_404?provider=stripe", nil, nil)
		if rec.Code != http.StatusNotFound {
			t.Fatalf("expected 404 got %d", rec.Code)
		}
		if got := decodeError(t, rec.Body.Bytes()); got.Code != TokenNotFound {
			t.Fatalf("expected token_not_found got %s", got.Code)
		}
	})

	t.Run("provider required", func(t *testing.T) {
		t.Parallel()

		rec := serve(t, handler, http.MethodGet, "/agentic_commerce/validate_token/vt_1", nil, nil)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400 got %d", rec.Code)
		}
		if got := decodeError(t, rec.Body.Bytes()); got.Param == nil || *got.Param != "$.provider" {
			t.Fatalf("unexpected param %+v", got.Param)
		}
	})

	t.Run("provider is case-insensitive", func(t *testing.T) {
		t.Parallel()

		rec := serve(t, handler, http.MethodGet, "/agentic_commerce/validate_token/vt_1?provider=Stripe", nil, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200 got %d body=%s", rec.Code, rec.Body.String())
		}
		var resp TokenValidation
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if resp.Provider != "stripe" {
			t.Fatalf("expected normalized provider got %q", resp.Provider)
		}
	})

	t.Run("provider given twice", func(t *testing.T) {
		t.Parallel()

		rec := serve(t, handler, http.MethodGet, "/agentic_commerce/validate_token/vt_1?provider=stripe&provider=adyen", nil, nil)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400 got %d", rec.Code)
		}
		if got := decodeError(t, rec.Body.Bytes()); got.Code != InvalidField {
			t.Fatalf("expected invalid got %s", got.Code)
		}
	})
}

type delegatedStubService struct {
	delegate func(context.Context, PaymentRequest) (*VaultToken, error)
	validate func(context.Context, string, string) (*TokenValidation, error)
}

func (s *delegatedStubService) ValidateToken(ctx context.Context, token, provider string) (*TokenValidation, error) {
	if s.validate != nil {
		return s.validate(ctx, token, provider)
	}
	return nil, NewHTTPError(http.StatusNotImplemented, InvalidRequest, ErrorCode("not_implemented"), "validate token not implemented")
}

func (s *delegatedStubService) DelegatePayment(ctx context.Context, req PaymentRequest) (*VaultToken, error) {
	if s.delegate != nil {
		return s.delegate(ctx, req)
	}
	return nil, NewHTTPError(http.StatusNotImplemented, InvalidRequest, ErrorCode("not_implemented"), "delegate payment not implemented")
}

func sampleDelegatePaymentRequest() PaymentRequest {
	expMonth := "11"
	expYear := "2026"
	displayLast4 := "4242"
	checks := []PaymentMethodCardChecksPerformed{PaymentMethodCardChecksPerformedAVS}

	return PaymentRequest{
		PaymentMethod: PaymentMethodCard{
			Type:                   PaymentMethodCardTypeCard,
			CardNumberType:         PaymentMethodCardCardNumberTypeFPAN,
			Number:                 "tok_4242",
			ExpMonth:               &expMonth,
			ExpYear:                &expYear,
			DisplayLast4:           &displayLast4,
			DisplayCardFundingType: PaymentMethodCardDisplayCardFundingTypeCredit,
			Metadata:               map[string]string{"provider": "stripe"},
			ChecksPerformed:        checks,
		},
		Allowance: Allowance{
			Reason:            AllowanceReasonOneTime,
			MaxAmount:         2000,
			Currency:          "usd",
			CheckoutSessionID: "csn_123",
			MerchantID:        "acme",
			ExpiresAt:         time.Now().Add(time.Hour).UTC(),
		},
		RiskSignals: []RiskSignal{
			{
				Type:   RiskSignalTypeCardTesting,
				Score:  10,
				Action: RiskSignalActionManualReview,
			},
		},
		Metadata: map[string]string{
			"campaign": "q4",
		},
	}
}
