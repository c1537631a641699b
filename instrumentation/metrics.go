package instrumentation

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric result values
const (
	ResultAllowed = "allowed"
	ResultDenied  = "denied"
	ResultError   = "error"
	ResultSuccess = "success"
	ResultValid   = "valid"
)

// Metrics holds all metric instruments for the ingress guard
type Metrics struct {
	// HTTP Layer Metrics
	HTTPRequestsTotal   metric.Int64Counter
	HTTPRequestDuration metric.Float64Histogram

	// Identity Metrics
	IdentityResolutionsTotal metric.Int64Counter

	// Quota Metrics
	QuotaChecksTotal   metric.Int64Counter
	QuotaEntries       metric.Int64ObservableGauge
	QuotaSweptTotal    metric.Int64Counter
	BurstRejectedTotal metric.Int64Counter

	// Upload Metrics
	UploadValidationsTotal metric.Int64Counter
	UploadSize             metric.Int64Histogram

	// Storage Metrics
	StorageOperationTotal    metric.Int64Counter
	StorageOperationDuration metric.Float64Histogram

	// Audit Metrics
	AuditEventsTotal metric.Int64Counter
}

// newMetrics creates and registers all metric instruments
func newMetrics(inst *Instrumentation) (*Metrics, error) {
	m := &Metrics{}

	httpMeter := inst.Meter("http")
	securityMeter := inst.Meter("security")
	uploadMeter := inst.Meter("upload")
	storageMeter := inst.Meter("storage")

	var err error
	m.HTTPRequestsTotal, err = httpMeter.Int64Counter(
		"guard.http.requests.total",
		metric.WithDescription("Total number of HTTP requests seen by the guard"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http.requests.total counter: %w", err)
	}

	m.HTTPRequestDuration, err = httpMeter.Float64Histogram(
		"guard.http.request.duration",
		metric.WithDescription("HTTP request duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http.request.duration histogram: %w", err)
	}

	m.IdentityResolutionsTotal, err = securityMeter.Int64Counter(
		"guard.identity.resolutions.total",
		metric.WithDescription("Number of caller identities resolved, by source"),
		metric.WithUnit("{identity}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create identity.resolutions.total counter: %w", err)
	}

	m.QuotaChecksTotal, err = securityMeter.Int64Counter(
		"guard.quota.checks.total",
		metric.WithDescription("Number of quota checks, by result"),
		metric.WithUnit("{check}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create quota.checks.total counter: %w", err)
	}

	m.QuotaEntries, err = storageMeter.Int64ObservableGauge(
		"guard.quota.entries",
		metric.WithDescription("Number of identities currently tracked by the quota store"),
		metric.WithUnit("{entry}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create quota.entries gauge: %w", err)
	}

	m.QuotaSweptTotal, err = storageMeter.Int64Counter(
		"guard.quota.swept.total",
		metric.WithDescription("Number of expired quota entries removed by the sweep"),
		metric.WithUnit("{entry}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create quota.swept.total counter: %w", err)
	}

	m.BurstRejectedTotal, err = securityMeter.Int64Counter(
		"guard.burst.rejected.total",
		metric.WithDescription("Number of requests rejected by the burst limiter"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create burst.rejected.total counter: %w", err)
	}

	m.UploadValidationsTotal, err = uploadMeter.Int64Counter(
		"guard.upload.validations.total",
		metric.WithDescription("Number of upload authentications, by result"),
		metric.WithUnit("{upload}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create upload.validations.total counter: %w", err)
	}

	m.UploadSize, err = uploadMeter.Int64Histogram(
		"guard.upload.size",
		metric.WithDescription("Size of authenticated upload payloads"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create upload.size histogram: %w", err)
	}

	m.StorageOperationTotal, err = storageMeter.Int64Counter(
		"storage.operation.total",
		metric.WithDescription("Total number of storage operations"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.operation.total counter: %w", err)
	}

	m.StorageOperationDuration, err = storageMeter.Float64Histogram(
		"storage.operation.duration",
		metric.WithDescription("Storage operation duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.operation.duration histogram: %w", err)
	}

	m.AuditEventsTotal, err = securityMeter.Int64Counter(
		"guard.audit.events.total",
		metric.WithDescription("Total number of audit events"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create audit.events.total counter: %w", err)
	}

	return m, nil
}

// RecordHTTPRequest records an HTTP request metric
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, endpoint string, statusCode int, durationMs float64) {
	attrs := []attribute.KeyValue{
		attribute.String("method", method),
		attribute.String("endpoint", endpoint),
		attribute.Int("status", statusCode),
	}

	m.HTTPRequestsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.HTTPRequestDuration.Record(ctx, durationMs, metric.WithAttributes(attribute.String("endpoint", endpoint)))
}

// RecordIdentityResolution records which source produced a caller identity
func (m *Metrics) RecordIdentityResolution(ctx context.Context, source string, fingerprinted bool) {
	m.IdentityResolutionsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("source", source),
		attribute.Bool("fingerprinted", fingerprinted),
	))
}

// RecordQuotaCheck records a quota decision. result is one of
// ResultAllowed, ResultDenied or ResultError.
func (m *Metrics) RecordQuotaCheck(ctx context.Context, result string) {
	m.QuotaChecksTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("result", result),
	))
}

// RecordQuotaSweep records entries removed by a sweep
func (m *Metrics) RecordQuotaSweep(ctx context.Context, removed int) {
	m.QuotaSweptTotal.Add(ctx, int64(removed))
}

// RecordBurstRejected records a request rejected by the burst limiter
func (m *Metrics) RecordBurstRejected(ctx context.Context) {
	m.BurstRejectedTotal.Add(ctx, 1)
}

// RecordUploadValidation records an upload authentication outcome.
// result is ResultValid or the rejection reason.
func (m *Metrics) RecordUploadValidation(ctx context.Context, result, declared, detected string, size int) {
	m.UploadValidationsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("result", result),
		attribute.String("declared", declared),
		attribute.String("detected", detected),
	))
	if result == ResultValid {
		m.UploadSize.Record(ctx, int64(size), metric.WithAttributes(
			attribute.String("type", detected),
		))
	}
}

// RecordStorageOperation records a storage operation
func (m *Metrics) RecordStorageOperation(ctx context.Context, operation, result string, durationMs float64) {
	attrs := []attribute.KeyValue{
		attribute.String("operation", operation),
		attribute.String("result", result),
	}

	m.StorageOperationTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.StorageOperationDuration.Record(ctx, durationMs, metric.WithAttributes(
		attribute.String("operation", operation),
	))
}

// RecordAuditEvent records an audit event
func (m *Metrics) RecordAuditEvent(ctx context.Context, eventType string) {
	m.AuditEventsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event_type", eventType),
	))
}
