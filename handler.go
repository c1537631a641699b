package guard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/giantswarm/ingress-guard/instrumentation"
	"github.com/giantswarm/ingress-guard/internal/helpers"
	"github.com/giantswarm/ingress-guard/security"
)

// Rate limit response headers
const (
	HeaderRateLimitLimit     = "X-RateLimit-Limit"
	HeaderRateLimitRemaining = "X-RateLimit-Remaining"
	HeaderRateLimitReset     = "X-RateLimit-Reset"
	HeaderRetryAfter         = "Retry-After"

	// resetTimeFormat is ISO-8601 in UTC with millisecond precision.
	resetTimeFormat = "2006-01-02T15:04:05.000Z07:00"

	// retryTimeFormat is shown to humans in 429 error descriptions.
	retryTimeFormat = "2006-01-02 15:04:05 MST"

	maxLoggedFileName = 64
)

// Analyzer processes an authenticated upload. The returned value is
// written as the data field of the success response.
type Analyzer interface {
	Analyze(ctx context.Context, up *Upload) (any, error)
}

// AnalyzerFunc adapts a function to the Analyzer interface.
type AnalyzerFunc func(ctx context.Context, up *Upload) (any, error)

// Analyze calls f.
func (f AnalyzerFunc) Analyze(ctx context.Context, up *Upload) (any, error) {
	return f(ctx, up)
}

// Handler is the HTTP face of the guard
type Handler struct {
	server *Server
	logger *slog.Logger
	tracer trace.Tracer
}

// NewHandler creates a new HTTP handler
func NewHandler(server *Server, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}

	h := &Handler{
		server: server,
		logger: logger,
	}

	// Initialize tracer if instrumentation is enabled
	if server.Instrumentation != nil {
		h.tracer = server.Instrumentation.Tracer("http")
	}

	return h
}

// statusRecorder captures the status code written downstream.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// Protect guards next. Each request gets a request ID and a resolved
// identity, passes the burst limiter and the quota check, and must carry a
// JSON body whose decoded file matches its declared type. next receives the
// authenticated upload via UploadFromContext.
func (h *Handler) Protect(next http.Handler) http.Handler {
	return security.RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		defer func() {
			h.recordHTTPMetrics(r.URL.Path, r.Method, rec.status, startTime)
		}()

		ctx := r.Context()
		var span trace.Span
		if h.tracer != nil {
			ctx, span = h.tracer.Start(ctx, "guard.protect")
			defer span.End()
			span.SetAttributes(attribute.String(instrumentation.AttrRequestID, security.GetRequestID(ctx)))
		}

		security.SetSecurityHeaders(rec, h.server.Config.Security.EnableHSTS)

		id := h.server.ResolveIdentity(r.WithContext(ctx))
		ctx = security.WithIdentity(ctx, id)

		if !h.admit(ctx, rec, id) {
			instrumentation.SetSpanError(span, "request not admitted")
			return
		}

		up, apiErr := h.readUpload(ctx, rec, r)
		if apiErr != nil {
			instrumentation.SetSpanError(span, apiErr.Code)
			h.writeAPIError(rec, apiErr)
			return
		}

		instrumentation.SetSpanSuccess(span)
		next.ServeHTTP(rec, r.WithContext(WithUpload(ctx, up)))
	}))
}

// admit applies burst and quota limits and writes the rate limit headers.
// It returns false after writing an error response.
func (h *Handler) admit(ctx context.Context, w http.ResponseWriter, id security.Identity) bool {
	decision, err := h.server.Admit(ctx, id)
	switch {
	case errors.Is(err, ErrBurstLimited):
		w.Header().Set(HeaderRetryAfter, strconv.Itoa(int(h.server.BurstRetryAfter()/time.Second)))
		h.writeError(w, ErrorCodeRateLimitExceeded,
			"Too many requests in quick succession. Please slow down.",
			http.StatusTooManyRequests)
		return false
	case err != nil:
		h.logger.Error("Quota check failed", "error", err)
		h.writeAPIError(w, ErrServiceUnavailable("Rate limiting is temporarily unavailable. Please try again later."))
		return false
	}

	writeRateLimitHeaders(w, decision)

	if !decision.Allowed {
		retryAfter := decision.RetryAfter(time.Now())
		w.Header().Set(HeaderRetryAfter, strconv.Itoa(int(retryAfter/time.Second)))
		h.writeAPIError(w, ErrRateLimitExceeded(fmt.Sprintf(
			"Request limit of %d reached. Try again after %s.",
			decision.Limit, decision.ResetAt.UTC().Format(retryTimeFormat))))
		return false
	}
	return true
}

// writeRateLimitHeaders sets the X-RateLimit-* headers from a quota decision.
func writeRateLimitHeaders(w http.ResponseWriter, d security.Decision) {
	w.Header().Set(HeaderRateLimitLimit, strconv.Itoa(d.Limit))
	w.Header().Set(HeaderRateLimitRemaining, strconv.Itoa(d.Remaining))
	w.Header().Set(HeaderRateLimitReset, d.ResetAt.UTC().Format(resetTimeFormat))
}

// readUpload decodes the JSON body under the transport ceiling and
// authenticates the decoded file.
func (h *Handler) readUpload(ctx context.Context, w http.ResponseWriter, r *http.Request) (*Upload, *Error) {
	limit := h.server.Config.Upload.MaxRequestBytes
	body := http.MaxBytesReader(w, r.Body, limit)
	defer func() { _ = body.Close() }()

	var req AnalyzeRequest
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.logger.Debug("Request body exceeds transport ceiling", "limit", limit)
			return nil, ErrRequestTooLarge(limit)
		}
		h.logger.Debug("Malformed request body", "error", err)
		return nil, ErrInvalidRequest("Request body must be a JSON object with fileData and fileType.")
	}

	if req.FileData == "" {
		return nil, ErrInvalidRequest("File data is missing.")
	}

	data, err := decodeFileData(req.FileData)
	if err != nil {
		h.logger.Debug("File data is not valid base64", "error", err)
		return nil, ErrInvalidRequest("File data is not valid base64.")
	}

	out := h.server.AuthenticateUpload(ctx, data, req.FileType)
	if !out.Valid {
		return nil, errorFromOutcome(out, h.server.Config.Upload.MaxFileBytes)
	}

	h.logger.Debug("Upload authenticated",
		"file_name", helpers.SafeTruncate(req.FileName, maxLoggedFileName),
		"type", out.DetectedType.String(),
		"size", out.Size)

	return &Upload{
		Name: req.FileName,
		Type: out.DetectedType,
		Data: data,
	}, nil
}

// ServeAnalyze returns a guarded handler that passes the authenticated
// upload to analyzer and writes {"success": true, "data": ...}.
func (h *Handler) ServeAnalyze(analyzer Analyzer) http.Handler {
	return h.Protect(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		up, ok := UploadFromContext(r.Context())
		if !ok {
			h.writeAPIError(w, ErrServerError("Upload missing from request context."))
			return
		}

		result, err := analyzer.Analyze(r.Context(), up)
		if err != nil {
			apiErr := asError(err)
			if apiErr.Status >= http.StatusInternalServerError {
				h.logger.Error("Analysis failed", "error", err)
			} else {
				h.logger.Debug("Analysis rejected", "code", apiErr.Code)
			}
			h.writeAPIError(w, apiErr)
			return
		}

		h.writeJSON(w, http.StatusOK, AnalyzeResponse{Success: true, Data: result})
	}))
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	security.SetSecurityHeaders(w, h.server.Config.Security.EnableHSTS)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Debug("Failed to write response", "error", err)
	}
}

func (h *Handler) writeAPIError(w http.ResponseWriter, err *Error) {
	h.writeError(w, err.Code, err.Description, err.Status)
}

func (h *Handler) writeError(w http.ResponseWriter, code, description string, status int) {
	security.SetSecurityHeaders(w, h.server.Config.Security.EnableHSTS)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":             code,
		"error_description": description,
	})
}

// recordHTTPMetrics records HTTP request metrics (total count and duration)
func (h *Handler) recordHTTPMetrics(endpoint, method string, status int, startTime time.Time) {
	if h.server.Instrumentation == nil {
		return
	}

	metrics := h.server.Instrumentation.Metrics()
	ctx := context.Background()

	duration := time.Since(startTime).Seconds() * 1000 // convert to milliseconds
	metrics.RecordHTTPRequest(ctx, method, endpoint, status, duration)
}
