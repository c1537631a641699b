package instrumentation

import (
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Common span attribute keys
//
// SECURITY WARNING: never attach upload content, raw header values or the
// fingerprint input string to spans. Only metadata such as sizes, detected
// types and identity sources belong here.
const (
	// Identity attributes
	AttrIdentitySource        = "guard.identity.source"
	AttrIdentityFingerprinted = "guard.identity.fingerprinted"
	AttrClientIP              = "guard.identity.client_ip"

	// Quota attributes
	AttrQuotaAllowed   = "guard.quota.allowed"
	AttrQuotaLimit     = "guard.quota.limit"
	AttrQuotaRemaining = "guard.quota.remaining"
	AttrQuotaResetAt   = "guard.quota.reset_at"

	// Upload attributes
	AttrUploadDeclared = "guard.upload.declared"
	AttrUploadDetected = "guard.upload.detected"
	AttrUploadSize     = "guard.upload.size"
	AttrUploadReason   = "guard.upload.reason"

	// Storage attributes
	AttrStorageOperation = "storage.operation"
	AttrStorageResult    = "storage.result"
	AttrStorageType      = "storage.type"

	// HTTP attributes (in addition to standard semantic conventions)
	AttrHTTPEndpoint   = "http.endpoint"
	AttrHTTPMethod     = "http.method"
	AttrHTTPStatusCode = "http.status_code"
	AttrRequestID      = "http.request_id"
)

// RecordError records an error on a span with proper status codes (nil-safe)
func RecordError(span trace.Span, err error) {
	if span != nil && err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// SetSpanSuccess marks a span as successful (nil-safe)
func SetSpanSuccess(span trace.Span) {
	if span != nil {
		span.SetStatus(codes.Ok, "")
	}
}

// SetSpanError sets an error status on a span (nil-safe)
func SetSpanError(span trace.Span, message string) {
	if span != nil {
		span.SetStatus(codes.Error, message)
	}
}

// SetSpanAttributes sets attributes on a span (nil-safe)
func SetSpanAttributes(span trace.Span, attrs ...attribute.KeyValue) {
	if span != nil {
		span.SetAttributes(attrs...)
	}
}

// AddIdentityAttributes adds identity resolution attributes to a span (nil-safe).
// clientIP is only recorded when non-empty; callers check ShouldLogClientIPs first.
func AddIdentityAttributes(span trace.Span, source string, fingerprinted bool, clientIP string) {
	SetSpanAttributes(span,
		attribute.String(AttrIdentitySource, source),
		attribute.Bool(AttrIdentityFingerprinted, fingerprinted),
	)
	if clientIP != "" {
		SetSpanAttributes(span, attribute.String(AttrClientIP, clientIP))
	}
}

// AddQuotaAttributes adds a quota decision to a span (nil-safe)
func AddQuotaAttributes(span trace.Span, allowed bool, limit, remaining int, resetAt time.Time) {
	SetSpanAttributes(span,
		attribute.Bool(AttrQuotaAllowed, allowed),
		attribute.Int(AttrQuotaLimit, limit),
		attribute.Int(AttrQuotaRemaining, remaining),
		attribute.String(AttrQuotaResetAt, resetAt.UTC().Format(time.RFC3339)),
	)
}

// AddUploadAttributes adds upload authentication attributes to a span (nil-safe)
func AddUploadAttributes(span trace.Span, declared, detected string, size int, reason string) {
	SetSpanAttributes(span,
		attribute.String(AttrUploadDeclared, declared),
		attribute.String(AttrUploadDetected, detected),
		attribute.Int(AttrUploadSize, size),
	)
	if reason != "" {
		SetSpanAttributes(span, attribute.String(AttrUploadReason, reason))
	}
}

// AddStorageAttributes adds storage operation attributes to a span (nil-safe)
func AddStorageAttributes(span trace.Span, operation, storageType string) {
	SetSpanAttributes(span,
		attribute.String(AttrStorageOperation, operation),
		attribute.String(AttrStorageType, storageType),
	)
}

// AddHTTPAttributes adds HTTP request attributes to a span (nil-safe)
func AddHTTPAttributes(span trace.Span, method, endpoint string, statusCode int) {
	SetSpanAttributes(span,
		attribute.String(AttrHTTPMethod, method),
		attribute.String(AttrHTTPEndpoint, endpoint),
		attribute.Int(AttrHTTPStatusCode, statusCode),
	)
}
