package upload

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/trace"

	"github.com/giantswarm/ingress-guard/instrumentation"
	"github.com/giantswarm/ingress-guard/security"
)

const (
	// DefaultMaxSize is the decoded payload ceiling used when none is given
	DefaultMaxSize int64 = 10 << 20

	// logHeadBytes is how many leading bytes are hex-logged on a mismatch
	logHeadBytes = 16
)

// Reason explains why an upload was rejected.
type Reason string

// Rejection reasons. They double as the public error codes.
const (
	ReasonNone          Reason = ""
	ReasonTooLarge      Reason = "payload_too_large"
	ReasonEmpty         Reason = "empty_payload"
	ReasonUnsupported   Reason = "unsupported_type"
	ReasonUnknownFormat Reason = "unknown_format"
	ReasonTypeMismatch  Reason = "type_mismatch"
)

var (
	// ErrPayloadTooLarge is returned for payloads above the size ceiling
	ErrPayloadTooLarge = errors.New("payload too large")

	// ErrEmptyPayload is returned for zero-length payloads
	ErrEmptyPayload = errors.New("payload is empty")

	// ErrTypeMismatch is returned when content does not match its declared type
	ErrTypeMismatch = errors.New("content does not match declared type")

	// ErrUnknownFormat is returned when no signature matched. It wraps
	// ErrTypeMismatch so callers treat both the same way.
	ErrUnknownFormat = fmt.Errorf("%w: no known signature found", ErrTypeMismatch)

	// ErrUnsupportedType is returned when the declared type is not accepted
	ErrUnsupportedType = errors.New("declared type is not supported")
)

// Outcome is the result of authenticating one upload.
type Outcome struct {
	Valid        bool
	DeclaredType Format
	// DetectedType is FormatUnknown when no signature matched
	DetectedType Format
	Reason       Reason
	Size         int
}

// Err returns nil for valid outcomes and a sentinel-wrapping error otherwise.
func (o Outcome) Err() error {
	switch o.Reason {
	case ReasonNone:
		if o.Valid {
			return nil
		}
		return ErrTypeMismatch
	case ReasonTooLarge:
		return ErrPayloadTooLarge
	case ReasonEmpty:
		return ErrEmptyPayload
	case ReasonUnsupported:
		return fmt.Errorf("%w: %s", ErrUnsupportedType, o.DeclaredType)
	case ReasonUnknownFormat:
		return fmt.Errorf("%w (declared %s)", ErrUnknownFormat, o.DeclaredType)
	default:
		return fmt.Errorf("%w: declared %s, detected %s", ErrTypeMismatch, o.DeclaredType, o.DetectedType)
	}
}

// Authenticator checks that uploaded bytes are what the caller says they are
// before any parser sees them.
type Authenticator struct {
	maxSize int64
	logger  *slog.Logger

	auditor         *security.Auditor
	instrumentation *instrumentation.Instrumentation
	tracer          trace.Tracer
}

// NewAuthenticator creates an authenticator. maxSize <= 0 uses DefaultMaxSize.
func NewAuthenticator(maxSize int64, logger *slog.Logger) *Authenticator {
	if logger == nil {
		logger = slog.Default()
	}
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	return &Authenticator{maxSize: maxSize, logger: logger}
}

// SetAuditor enables upload audit events.
func (a *Authenticator) SetAuditor(auditor *security.Auditor) {
	a.auditor = auditor
}

// SetInstrumentation enables upload spans and metrics.
func (a *Authenticator) SetInstrumentation(inst *instrumentation.Instrumentation) {
	a.instrumentation = inst
	if inst != nil {
		a.tracer = inst.Tracer("upload")
	}
}

// MaxSize returns the default size ceiling.
func (a *Authenticator) MaxSize() int64 {
	return a.maxSize
}

// Authenticate validates data against the declared content type.
// maxSize <= 0 uses the authenticator's ceiling. Content is never coerced:
// a PDF declared as text is rejected, not reinterpreted.
func (a *Authenticator) Authenticate(ctx context.Context, data []byte, declared string, maxSize int64) Outcome {
	var span trace.Span
	if a.tracer != nil {
		ctx, span = a.tracer.Start(ctx, "upload.authenticate")
		defer span.End()
	}

	out := a.evaluate(data, ParseFormat(declared), maxSize)
	a.report(ctx, span, data, out)
	return out
}

func (a *Authenticator) evaluate(data []byte, declared Format, maxSize int64) Outcome {
	if maxSize <= 0 {
		maxSize = a.maxSize
	}
	out := Outcome{DeclaredType: declared, Size: len(data)}

	if int64(len(data)) > maxSize {
		out.Reason = ReasonTooLarge
		return out
	}
	if len(data) == 0 {
		out.Reason = ReasonEmpty
		return out
	}

	out.DetectedType = Sniff(data, declared)

	expected, accepted := acceptedFormats[declared]
	switch {
	case !accepted:
		out.Reason = ReasonUnsupported
	case out.DetectedType == FormatUnknown:
		out.Reason = ReasonUnknownFormat
	case out.DetectedType != expected:
		out.Reason = ReasonTypeMismatch
	default:
		out.Valid = true
	}
	return out
}

func (a *Authenticator) report(ctx context.Context, span trace.Span, data []byte, out Outcome) {
	result := instrumentation.ResultValid
	if !out.Valid {
		result = string(out.Reason)
	}
	instrumentation.AddUploadAttributes(span, out.DeclaredType.String(), out.DetectedType.String(), out.Size, string(out.Reason))
	if a.instrumentation != nil {
		a.instrumentation.Metrics().RecordUploadValidation(ctx, result,
			out.DeclaredType.String(), out.DetectedType.String(), out.Size)
	}

	if out.Valid {
		instrumentation.SetSpanSuccess(span)
		return
	}
	instrumentation.SetSpanError(span, string(out.Reason))

	identity := ""
	if id, ok := security.IdentityFromContext(ctx); ok {
		identity = id.Key
	}

	switch out.Reason {
	case ReasonTypeMismatch, ReasonUnknownFormat:
		a.logger.Warn("Upload signature mismatch",
			"size", out.Size,
			"declared", out.DeclaredType.String(),
			"detected", out.DetectedType.String(),
			"head", hex.EncodeToString(data[:min(len(data), logHeadBytes)]))
		a.auditor.LogUploadSignatureMismatch(ctx, identity,
			out.DeclaredType.String(), out.DetectedType.String(), out.Size)
	default:
		a.logger.Debug("Upload rejected",
			"reason", string(out.Reason),
			"size", out.Size,
			"declared", out.DeclaredType.String())
		a.auditor.LogUploadRejected(ctx, identity, string(out.Reason), out.DeclaredType.String(), out.Size)
	}
}
