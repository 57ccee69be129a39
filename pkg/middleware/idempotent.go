package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"pkt.systems/pslog"

	"github.com/manenim/gateway-guard/pkg/idempotency"
)

const (
	// IdempotencyKeyHeader carries the client chosen key.
	IdempotencyKeyHeader = "Idempotency-Key"
	// ReplayedHeader is set to "true" on responses served from the cache.
	ReplayedHeader = "Idempotent-Replayed"

	maxIdempotentBody = 1 << 20
)

type IdempotentOptions struct {
	// Operation names the guarded operation. Defaults to "METHOD path".
	Operation string
	// CallerFunc identifies the caller. Defaults to DefaultKeyFunc("").
	CallerFunc KeyFunc
	// Required rejects requests without an Idempotency-Key header with 400.
	// Otherwise they pass through unguarded.
	Required bool
	Logger   pslog.Logger
}

type cachedResponse struct {
	Status int         `json:"status"`
	Header http.Header `json:"header,omitempty"`
	Body   []byte      `json:"body,omitempty"`
}

type idempotentParams struct {
	Key  string `json:"key"`
	Body []byte `json:"body"`
}

var errServerFailure = errors.New("handler returned a server error")

// Idempotent runs the handler once per (operation, caller, Idempotency-Key,
// body) and replays the captured response to duplicates. 5xx responses are
// treated as failures and follow the guard's failure policy.
func Idempotent(g *idempotency.Guard, opts IdempotentOptions) func(http.Handler) http.Handler {
	callerFunc := opts.CallerFunc
	if callerFunc == nil {
		callerFunc = DefaultKeyFunc("")
	}
	logger := opts.Logger
	if logger == nil {
		logger = pslog.NoopLogger()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			idemKey := r.Header.Get(IdempotencyKeyHeader)
			if idemKey == "" {
				if opts.Required {
					respondError(w, http.StatusBadRequest, "missing "+IdempotencyKeyHeader+" header")
					return
				}
				next.ServeHTTP(w, r)
				return
			}
			caller, err := callerFunc(r)
			if err != nil {
				respondError(w, http.StatusBadRequest, "invalid caller key")
				return
			}
			body, err := io.ReadAll(io.LimitReader(r.Body, maxIdempotentBody+1))
			if err != nil {
				respondError(w, http.StatusBadRequest, "unreadable body")
				return
			}
			if len(body) > maxIdempotentBody {
				respondError(w, http.StatusRequestEntityTooLarge, "body too large")
				return
			}

			operation := opts.Operation
			if operation == "" {
				operation = r.Method + " " + r.URL.Path
			}
			call := idempotency.Call{
				OperationID: operation,
				CallerID:    caller,
				Params:      idempotentParams{Key: idemKey, Body: body},
			}

			var own *cachedResponse
			res, err := g.RunOnce(r.Context(), call, func(ctx context.Context) ([]byte, error) {
				rec := newCaptureWriter()
				req := r.WithContext(ctx)
				req.Body = io.NopCloser(bytes.NewReader(body))
				next.ServeHTTP(rec, req)
				own = rec.response()
				raw, err := json.Marshal(own)
				if err != nil {
					return nil, err
				}
				if own.Status >= http.StatusInternalServerError {
					return raw, fmt.Errorf("%w: status %d", errServerFailure, own.Status)
				}
				return raw, nil
			})

			switch {
			case own != nil:
				// This request executed the handler, whatever the guard did
				// with the outcome.
				if err != nil && !errors.Is(err, errServerFailure) {
					logger.Warn("middleware.idempotent.record_failed", "operation", operation, "error", err)
				}
				writeCached(w, own)
			case err == nil:
				var cached cachedResponse
				if uerr := json.Unmarshal(res.Payload, &cached); uerr != nil {
					logger.Error("middleware.idempotent.corrupt", "operation", operation, "error", uerr)
					respondError(w, http.StatusInternalServerError, "corrupt cached response")
					return
				}
				w.Header().Set(ReplayedHeader, "true")
				writeCached(w, &cached)
			case errors.Is(err, idempotency.ErrInvalidParams):
				respondError(w, http.StatusBadRequest, "invalid "+IdempotencyKeyHeader+" header")
			case errors.Is(err, idempotency.ErrDuplicateInFlight):
				w.Header().Set("Retry-After", "1")
				respondError(w, http.StatusConflict, "request with this idempotency key is in progress")
			case errors.Is(err, idempotency.ErrPreviousFailure):
				w.Header().Set(ReplayedHeader, "true")
				respondError(w, http.StatusInternalServerError, "previous attempt with this idempotency key failed")
			case r.Context().Err() != nil:
			default:
				logger.Error("middleware.idempotent.error", "operation", operation, "error", err)
				respondError(w, http.StatusServiceUnavailable, "idempotency store unavailable")
			}
		})
	}
}

func writeCached(w http.ResponseWriter, c *cachedResponse) {
	for k, vs := range c.Header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(c.Status)
	_, _ = w.Write(c.Body)
}

type captureWriter struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func newCaptureWriter() *captureWriter {
	return &captureWriter{header: make(http.Header)}
}

func (c *captureWriter) Header() http.Header { return c.header }

func (c *captureWriter) WriteHeader(status int) {
	if c.status == 0 {
		c.status = status
	}
}

func (c *captureWriter) Write(p []byte) (int, error) {
	if c.status == 0 {
		c.status = http.StatusOK
	}
	return c.body.Write(p)
}

func (c *captureWriter) response() *cachedResponse {
	status := c.status
	if status == 0 {
		status = http.StatusOK
	}
	return &cachedResponse{
		Status: status,
		Header: c.header.Clone(),
		Body:   c.body.Bytes(),
	}
}
