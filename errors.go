package acp

import (
	"net/http"
	"time"
)

// ErrorType mirrors the ACP error.type field.
type ErrorType string

const (
	InvalidRequest     ErrorType = "invalid_request"     // Missing or malformed field.
	ProcessingError    ErrorType = "processing_error"    // Downstream collaborator or network failure.
	RateLimitExceeded  ErrorType = "rate_limit_exceeded" // Too many requests.
	ServiceUnavailable ErrorType = "service_unavailable" // Temporary outage or maintenance.
)

// ErrorCode is a machine-readable identifier for the specific failure.
type ErrorCode string

const (
	DuplicateRequest      ErrorCode = "duplicate_request"       // Safe duplicate with the same idempotency key.
	IdempotencyConflict   ErrorCode = "idempotency_conflict"    // Same idempotency key but different parameters.
	IdempotencyInProgress ErrorCode = "idempotency_in_progress" // First request with the key has not finished yet.
	InvalidCard           ErrorCode = "invalid_card"            // Credential failed basic validation (such as length or expiry).
	InvalidCardType       ErrorCode = "invalid_card_type"       // Only card payment methods are accepted.
	InvalidSignature      ErrorCode = "invalid_signature"       // Signature is missing or does not match the payload.
	SignatureRequired     ErrorCode = "signature_required"      // Signed requests are required but headers were missing.
	StaleTimestamp        ErrorCode = "stale_timestamp"         // Timestamp skew exceeded the allowed window.
	MissingAuthorization  ErrorCode = "missing_authorization"   // Authorization header missing.
	InvalidAuthorization  ErrorCode = "invalid_authorization"   // Authorization header malformed or API key invalid.
	RequestNotIdempotent  ErrorCode = "request_not_idempotent"
	MissingHeader         ErrorCode = "missing_header"      // Required protocol header absent.
	UnsupportedVersion    ErrorCode = "unsupported_version" // API-Version does not match the served version.
	MissingField          ErrorCode = "missing"             // Required body field absent.
	InvalidField          ErrorCode = "invalid"             // Body field present but malformed.
	NotFound              ErrorCode = "not_found"
	TokenNotFound         ErrorCode = "token_not_found"
	InvalidState          ErrorCode = "invalid_state"     // Transition not allowed from the current session status.
	AlreadyCompleted      ErrorCode = "already_completed" // Session already produced an order.
	SessionCanceled       ErrorCode = "session_canceled"
	InvalidToken          ErrorCode = "invalid_token" // Token unknown or bound to another session.
	ExpiredToken          ErrorCode = "expired_token" // Token expired or already consumed.
	PaymentDeclinedCode   ErrorCode = "payment_declined"
	ConcurrentUpdate      ErrorCode = "concurrent_modification"
)

// Error represents a structured ACP error payload.
type Error struct {
	Type    ErrorType `json:"type"`
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Param   *string   `json:"param,omitempty"`

	status     int           `json:"-"`
	retryAfter time.Duration `json:"-"`
}

// Error makes *Error satisfy the stdlib error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

// StatusCode reports the HTTP status the error is rendered with.
func (e *Error) StatusCode() int {
	if e == nil {
		return 0
	}
	return e.status
}

// RetryAfter returns the duration clients should wait before retrying.
func (e *Error) RetryAfter() time.Duration {
	if e == nil {
		return 0
	}
	return e.retryAfter
}

type errorOption func(*Error)

// WithOffendingParam sets the JSON path for the field that triggered the error.
func WithOffendingParam(jsonPath string) errorOption {
	return func(er *Error) {
		er.Param = &jsonPath
	}
}

// WithStatusCode overrides the HTTP status code returned to the client.
func WithStatusCode(status int) errorOption {
	return func(er *Error) {
		er.status = status
	}
}

// WithRetryAfter specifies how long clients should wait before retrying.
func WithRetryAfter(d time.Duration) errorOption {
	return func(er *Error) {
		er.retryAfter = d
	}
}

// NewRateLimitExceededError builds a Too Many Requests ACP error payload.
func NewRateLimitExceededError(message string, opts ...errorOption) *Error {
	return newError(RateLimitExceeded, ErrorCode(RateLimitExceeded), message, append([]errorOption{WithStatusCode(http.StatusTooManyRequests)}, opts...)...)
}

// NewServiceUnavailableError builds a Service Unavailable ACP error payload.
func NewServiceUnavailableError(message string, opts ...errorOption) *Error {
	return newError(ServiceUnavailable, ErrorCode(ServiceUnavailable), message, append([]errorOption{WithStatusCode(http.StatusServiceUnavailable)}, opts...)...)
}

// NewInvalidRequestError builds a Bad Request ACP error payload.
func NewInvalidRequestError(message string, opts ...errorOption) *Error {
	return newError(InvalidRequest, ErrorCode(InvalidRequest), message, append([]errorOption{WithStatusCode(http.StatusBadRequest)}, opts...)...)
}

// NewInvalidRequestCodeError builds a Bad Request payload carrying a specific code.
func NewInvalidRequestCodeError(code ErrorCode, message string, opts ...errorOption) *Error {
	return newError(InvalidRequest, code, message, append([]errorOption{WithStatusCode(http.StatusBadRequest)}, opts...)...)
}

// NewNotFoundError builds a 404 invalid_request payload.
func NewNotFoundError(code ErrorCode, message string, opts ...errorOption) *Error {
	return newError(InvalidRequest, code, message, append([]errorOption{WithStatusCode(http.StatusNotFound)}, opts...)...)
}

// NewProcessingError builds an Internal Server Error ACP error payload.
func NewProcessingError(message string, opts ...errorOption) *Error {
	return newError(ProcessingError, ErrorCode(ProcessingError), message, append([]errorOption{WithStatusCode(http.StatusInternalServerError)}, opts...)...)
}

// NewPaymentDeclinedError reports a completion whose payment pipeline refused
// the charge. Rendered as 400 so agents treat it as final for this token.
func NewPaymentDeclinedError(message string, opts ...errorOption) *Error {
	return newError(ProcessingError, PaymentDeclinedCode, message, append([]errorOption{WithStatusCode(http.StatusBadRequest)}, opts...)...)
}

// NewHTTPError allows callers to control the status code explicitly.
func NewHTTPError(status int, typ ErrorType, code ErrorCode, message string, opts ...errorOption) *Error {
	return newError(typ, code, message, append(opts, WithStatusCode(status))...)
}

// newError builds a typed error payload matching the ACP schema.
func newError(typ ErrorType, code ErrorCode, message string, opts ...errorOption) *Error {
	errPayload := &Error{
		Type:    typ,
		Code:    code,
		Message: message,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(errPayload)
	}
	return errPayload
}
