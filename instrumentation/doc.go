// Package instrumentation provides OpenTelemetry instrumentation for the ingress guard.
//
// It exposes meters and tracers per layer and a Metrics holder with
// pre-registered instruments for identity resolution, quota checks, burst
// limiting, upload authentication, storage and audit events.
//
// # Quick Start
//
//	inst, err := instrumentation.New(instrumentation.Config{
//		Enabled:         true,
//		ServiceName:     "ingress-guard",
//		ServiceVersion:  "1.0.0",
//		MetricsExporter: instrumentation.ExporterPrometheus,
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer inst.Shutdown(context.Background())
//
//	http.Handle("/metrics", promhttp.Handler())
//
// When Enabled is false every instrument is backed by a no-op provider, so
// components can call the recorders unconditionally.
//
// # Available Metrics
//
// HTTP Layer:
//   - guard.http.requests.total: requests by method, endpoint and status
//   - guard.http.request.duration: request duration in milliseconds
//
// Identity and quota:
//   - guard.identity.resolutions.total: resolutions by source and fingerprinted flag
//   - guard.quota.checks.total: quota decisions by result (allowed, denied, error)
//   - guard.quota.entries: identities currently tracked by the quota store
//   - guard.quota.swept.total: expired entries removed by the sweep
//   - guard.burst.rejected.total: requests rejected by the burst limiter
//
// Uploads:
//   - guard.upload.validations.total: outcomes by result, declared and detected type
//   - guard.upload.size: size of accepted payloads
//
// Storage and audit:
//   - storage.operation.total / storage.operation.duration
//   - guard.audit.events.total: audit events by type
//
// # Privacy
//
// Client addresses are recorded on spans only when Config.LogClientIPs is
// set. Upload bytes are never attached to spans or metrics.
package instrumentation
