package security

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/giantswarm/ingress-guard/instrumentation"
	"github.com/giantswarm/ingress-guard/storage"
)

const (
	// DefaultQuotaLimit is the number of requests admitted per identity per window
	DefaultQuotaLimit = 5

	// DefaultQuotaWindow is the fixed quota window
	DefaultQuotaWindow = 24 * time.Hour
)

// Decision is the outcome of one quota check.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// RetryAfter returns how long a denied caller should wait, rounded up to
// whole seconds and never below one second. Allowed decisions return 0.
func (d Decision) RetryAfter(now time.Time) time.Duration {
	if d.Allowed {
		return 0
	}
	wait := d.ResetAt.Sub(now)
	if wait < time.Second {
		return time.Second
	}
	return wait.Truncate(time.Second) + roundUp(wait%time.Second)
}

func roundUp(rem time.Duration) time.Duration {
	if rem > 0 {
		return time.Second
	}
	return 0
}

// QuotaLimiter enforces a fixed-window per-identity quota on top of a
// storage.QuotaStore.
type QuotaLimiter struct {
	store  storage.QuotaStore
	policy storage.Policy
	now    func() time.Time
	logger *slog.Logger

	auditor         *Auditor
	instrumentation *instrumentation.Instrumentation
	tracer          trace.Tracer
}

// NewQuotaLimiter creates a limiter admitting limit requests per window.
// Non-positive values fall back to DefaultQuotaLimit and DefaultQuotaWindow.
func NewQuotaLimiter(store storage.QuotaStore, limit int, window time.Duration, logger *slog.Logger) *QuotaLimiter {
	if logger == nil {
		logger = slog.Default()
	}
	if limit <= 0 {
		limit = DefaultQuotaLimit
	}
	if window <= 0 {
		window = DefaultQuotaWindow
	}
	return &QuotaLimiter{
		store:  store,
		policy: storage.Policy{Limit: limit, Window: window},
		now:    time.Now,
		logger: logger,
	}
}

// SetClock replaces the time source. Intended for tests.
func (q *QuotaLimiter) SetClock(now func() time.Time) {
	if now != nil {
		q.now = now
	}
}

// SetAuditor enables quota audit events.
func (q *QuotaLimiter) SetAuditor(a *Auditor) {
	q.auditor = a
}

// SetInstrumentation enables quota spans and metrics.
func (q *QuotaLimiter) SetInstrumentation(inst *instrumentation.Instrumentation) {
	q.instrumentation = inst
	if inst != nil {
		q.tracer = inst.Tracer("security")
	}
}

// Limit returns the configured per-window limit.
func (q *QuotaLimiter) Limit() int {
	return q.policy.Limit
}

// Check consumes one unit of quota for key if any remains.
// A store error is returned as-is; callers must treat it as a denial.
func (q *QuotaLimiter) Check(ctx context.Context, key string) (Decision, error) {
	var span trace.Span
	if q.tracer != nil {
		ctx, span = q.tracer.Start(ctx, "quota.check")
		defer span.End()
	}

	usage, err := q.store.Apply(ctx, key, q.policy, q.now())
	if err != nil {
		q.record(ctx, instrumentation.ResultError)
		instrumentation.RecordError(span, err)
		q.logger.Error("Quota store failure", "error", err)
		q.auditor.LogQuotaStoreFailure(ctx, key, err)
		return Decision{Limit: q.policy.Limit}, fmt.Errorf("quota check failed: %w", err)
	}

	d := Decision{
		Allowed:   usage.Allowed,
		Limit:     q.policy.Limit,
		Remaining: max(q.policy.Limit-usage.Count, 0),
		ResetAt:   usage.ResetAt,
	}
	if !d.Allowed {
		d.Remaining = 0
	}

	instrumentation.AddQuotaAttributes(span, d.Allowed, d.Limit, d.Remaining, d.ResetAt)
	if d.Allowed {
		q.record(ctx, instrumentation.ResultAllowed)
		instrumentation.SetSpanSuccess(span)
	} else {
		q.record(ctx, instrumentation.ResultDenied)
		q.logger.Warn("Quota exceeded",
			"limit", d.Limit,
			"reset_at", d.ResetAt.UTC().Format(time.RFC3339))
		q.auditor.LogQuotaExceeded(ctx, key, d.Limit, d.ResetAt)
	}

	return d, nil
}

// Peek reports the current decision for key without consuming quota.
func (q *QuotaLimiter) Peek(ctx context.Context, key string) (Decision, error) {
	now := q.now()
	entry, ok, err := q.store.Peek(ctx, key, now)
	if err != nil {
		return Decision{Limit: q.policy.Limit}, fmt.Errorf("quota peek failed: %w", err)
	}
	if !ok {
		return Decision{
			Allowed:   true,
			Limit:     q.policy.Limit,
			Remaining: q.policy.Limit,
			ResetAt:   now.Add(q.policy.Window),
		}, nil
	}
	remaining := max(q.policy.Limit-entry.Count, 0)
	return Decision{
		Allowed:   remaining > 0,
		Limit:     q.policy.Limit,
		Remaining: remaining,
		ResetAt:   entry.ResetAt,
	}, nil
}

func (q *QuotaLimiter) record(ctx context.Context, result string) {
	if q.instrumentation != nil {
		q.instrumentation.Metrics().RecordQuotaCheck(ctx, result)
	}
}
