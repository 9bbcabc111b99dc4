package acp

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/shopbridge/acp/idempotency"
	"github.com/shopbridge/acp/signature"
)

func newVersionMiddleware(supported string) Middleware {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			version := strings.TrimSpace(r.Header.Get("API-Version"))
			if version == "" {
				writeJSONError(w, NewInvalidRequestCodeError(MissingHeader, "API-Version header is required"))
				return
			}
			if version != supported {
				writeJSONError(w, NewInvalidRequestCodeError(UnsupportedVersion, "unsupported API version "+version+", expected "+supported))
				return
			}
			next(w, r)
		}
	}
}

type idempotencyMiddlewareConfig struct {
	Store  idempotency.Store
	TTL    time.Duration
	Lease  time.Duration
	Clock  func() time.Time
	Logger *zap.Logger
}

func isMutating(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		return true
	}
	return false
}

func newIdempotencyMiddleware(cfg idempotencyMiddlewareConfig) Middleware {
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.TTL <= 0 {
		cfg.TTL = idempotency.DefaultTTL
	}
	if cfg.Lease <= 0 {
		cfg.Lease = idempotency.DefaultLease
	}
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			key := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
			if key == "" || !isMutating(r.Method) {
				next(w, r)
				return
			}
			ctx := r.Context()
			logger := cfg.Logger.With(zap.String("idempotency_key", key), zap.String("path", r.URL.Path))

			raw, err := signature.ReadAndBufferBody(r)
			if err != nil {
				writeJSONError(w, NewInvalidRequestError("unable to read request body"))
				return
			}
			hash, err := idempotency.RequestHash(r.Method, r.URL.Path, r.URL.RawQuery, raw)
			if err != nil {
				writeJSONError(w, NewProcessingError("unable to fingerprint request"))
				return
			}
			if _, err := cfg.Store.PurgeExpired(ctx, cfg.Clock()); err != nil {
				logger.Warn("purge expired idempotency records", zap.Error(err))
			}

			begin, err := cfg.Store.Begin(ctx, key, hash, cfg.Lease)
			if err != nil {
				logger.Error("idempotency begin", zap.Error(err))
				writeJSONError(w, NewServiceUnavailableError("idempotency store unavailable", WithRetryAfter(time.Second)))
				return
			}
			switch begin.State {
			case idempotency.StateConflict:
				writeJSONError(w, NewHTTPError(http.StatusConflict, InvalidRequest, IdempotencyConflict, "Idempotency-Key reused with different request parameters"))
				return
			case idempotency.StateInProgress:
				writeJSONError(w, NewHTTPError(http.StatusConflict, InvalidRequest, IdempotencyInProgress, "a request with this Idempotency-Key is still being processed", WithRetryAfter(time.Second)))
				return
			case idempotency.StateReplay:
				if begin.Cached == nil {
					writeJSONError(w, NewProcessingError("idempotency record has no response"))
					return
				}
				writeRaw(w, begin.Cached.StatusCode, begin.Cached.ContentType, begin.Cached.Body)
				return
			}

			// The outcome is recorded even when the client has gone away.
			finishCtx := context.WithoutCancel(ctx)
			rec := &recordingWriter{ResponseWriter: w, status: http.StatusOK}
			defer func() {
				if p := recover(); p != nil {
					_ = cfg.Store.Release(finishCtx, key, hash)
					panic(p)
				}
			}()
			next(rec, r)

			if rec.status >= 200 && rec.status < 300 {
				resp := idempotency.Response{
					StatusCode:  rec.status,
					ContentType: rec.Header().Get("Content-Type"),
					Body:        rec.body.Bytes(),
				}
				if err := cfg.Store.Save(finishCtx, key, hash, resp, cfg.TTL); err != nil {
					logger.Error("save idempotency record", zap.Error(err))
				}
				return
			}
			if err := cfg.Store.Release(finishCtx, key, hash); err != nil && !errors.Is(err, idempotency.ErrNotFound) {
				logger.Warn("release idempotency reservation", zap.Error(err))
			}
		}
	}
}

// recordingWriter forwards to the client while keeping a copy of the response.
type recordingWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
	body        bytes.Buffer
}

func (w *recordingWriter) WriteHeader(code int) {
	if w.wroteHeader {
		return
	}
	w.wroteHeader = true
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *recordingWriter) Write(p []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	w.body.Write(p)
	return w.ResponseWriter.Write(p)
}
