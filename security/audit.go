package security

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"

	"github.com/giantswarm/ingress-guard/instrumentation"
)

// Auditor handles security event logging with PII protection.
type Auditor struct {
	logger      *slog.Logger
	enabled     bool
	logIdentity bool
	metrics     *instrumentation.Metrics
	now         func() time.Time
}

// NewAuditor creates a new security auditor
func NewAuditor(logger *slog.Logger, enabled bool) *Auditor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Auditor{
		logger:  logger,
		enabled: enabled,
		now:     time.Now,
	}
}

// SetInstrumentation counts audit events and honours the LogClientIPs setting.
func (a *Auditor) SetInstrumentation(inst *instrumentation.Instrumentation) {
	if a == nil || inst == nil {
		return
	}
	a.metrics = inst.Metrics()
	a.logIdentity = inst.ShouldLogClientIPs()
}

// Event represents a security audit event
type Event struct {
	Type      string
	Identity  string
	RequestID string
	Details   map[string]any
	Timestamp time.Time
}

// LogEvent logs a security event. The identity key is hashed unless client
// address logging was enabled through instrumentation.
func (a *Auditor) LogEvent(ctx context.Context, event Event) {
	if a == nil || !a.enabled {
		return
	}

	event.Timestamp = a.now()
	if event.RequestID == "" {
		event.RequestID = GetRequestID(ctx)
	}

	identity := hashForLogging(event.Identity)
	if a.logIdentity {
		identity = event.Identity
	}

	a.logger.Info("security_audit",
		"event_type", event.Type,
		"identity", identity,
		"request_id", event.RequestID,
		"details", event.Details,
		"timestamp", event.Timestamp,
	)

	if a.metrics != nil {
		a.metrics.RecordAuditEvent(ctx, event.Type)
	}
}

// LogQuotaExceeded logs a request refused by the quota limiter
func (a *Auditor) LogQuotaExceeded(ctx context.Context, identity string, limit int, resetAt time.Time) {
	a.LogEvent(ctx, Event{
		Type:     EventQuotaExceeded,
		Identity: identity,
		Details: map[string]any{
			"limit":    limit,
			"reset_at": resetAt.UTC().Format(time.RFC3339),
		},
	})
}

// LogQuotaStoreFailure logs a quota check that failed closed
func (a *Auditor) LogQuotaStoreFailure(ctx context.Context, identity string, err error) {
	a.LogEvent(ctx, Event{
		Type:     EventQuotaStoreFailure,
		Identity: identity,
		Details: map[string]any{
			"error": err.Error(),
		},
	})
}

// LogBurstLimitExceeded logs a request refused by the burst limiter
func (a *Auditor) LogBurstLimitExceeded(ctx context.Context, identity string) {
	a.LogEvent(ctx, Event{
		Type:     EventBurstLimitExceeded,
		Identity: identity,
	})
}

// LogFingerprintIdentity logs a caller keyed on its header fingerprint alone
func (a *Auditor) LogFingerprintIdentity(ctx context.Context, identity string) {
	a.LogEvent(ctx, Event{
		Type:     EventFingerprintIdentity,
		Identity: identity,
	})
}

// LogUploadRejected logs an upload refused before or after sniffing
func (a *Auditor) LogUploadRejected(ctx context.Context, identity, reason, declared string, size int) {
	a.LogEvent(ctx, Event{
		Type:     EventUploadRejected,
		Identity: identity,
		Details: map[string]any{
			"reason":   reason,
			"declared": declared,
			"size":     size,
		},
	})
}

// LogUploadSignatureMismatch logs an upload whose content disagrees with its declared type
func (a *Auditor) LogUploadSignatureMismatch(ctx context.Context, identity, declared, detected string, size int) {
	a.LogEvent(ctx, Event{
		Type:     EventUploadSignatureMismatch,
		Identity: identity,
		Details: map[string]any{
			"declared": declared,
			"detected": detected,
			"size":     size,
		},
	})
}

// hashForLogging creates a SHA256 hash of sensitive data for logging
func hashForLogging(sensitive string) string {
	if sensitive == "" {
		return "<empty>"
	}
	hash := sha256.Sum256([]byte(sensitive))
	return hex.EncodeToString(hash[:])[:16]
}
