package valkey

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	valkeygo "github.com/valkey-io/valkey-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/giantswarm/ingress-guard/instrumentation"
	"github.com/giantswarm/ingress-guard/storage"
)

const (
	// DefaultKeyPrefix is the default prefix for all Valkey keys
	DefaultKeyPrefix = "guard:"

	// MaxKeyLength is the maximum accepted identity key length
	MaxKeyLength = 512

	// connectionVerifyTimeout is the timeout for initial connection verification
	connectionVerifyTimeout = 5 * time.Second

	storageType = "valkey"
)

var errKeyTooLong = fmt.Errorf("%w: exceeds %d bytes", storage.ErrInvalidKey, MaxKeyLength)

// Config holds configuration for the Valkey storage backend.
type Config struct {
	// Address is the Valkey server address (required), e.g., "localhost:6379"
	Address string

	// Password is the optional password for Valkey authentication
	Password string

	// DB is the optional database number (default 0)
	DB int

	// KeyPrefix is the prefix for all keys (default "guard:")
	KeyPrefix string

	// TLS is the optional TLS configuration for encrypted connections
	TLS *tls.Config

	// Logger is the optional structured logger (default: slog.Default())
	Logger *slog.Logger
}

// Store is a Valkey-backed storage.QuotaStore. Each quota check is a single
// EVAL of storage.FixedWindowScript, so concurrent replicas sharing one
// Valkey never admit more than the limit.
type Store struct {
	client valkeygo.Client
	prefix string
	logger *slog.Logger
	closed atomic.Bool

	instrumentation *instrumentation.Instrumentation
	tracer          trace.Tracer
}

var _ storage.QuotaStore = (*Store)(nil)

// New creates a new Valkey-backed store.
// Returns an error if the connection cannot be established.
func New(cfg Config) (*Store, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("valkey address is required")
	}

	opts := valkeygo.ClientOption{
		InitAddress: []string{cfg.Address},
		SelectDB:    cfg.DB,
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	if cfg.TLS != nil {
		opts.TLSConfig = cfg.TLS
	}

	client, err := valkeygo.NewClient(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create valkey client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectionVerifyTimeout)
	defer cancel()

	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to valkey: %w", err)
	}

	s := NewFromClient(client, cfg.KeyPrefix, cfg.Logger)
	s.logger.Info("Connected to Valkey quota storage",
		"address", cfg.Address,
		"db", cfg.DB,
		"prefix", s.prefix)
	return s, nil
}

// NewFromClient wraps an existing valkey-go client. The store takes
// ownership of the client and closes it in Close.
func NewFromClient(client valkeygo.Client, prefix string, logger *slog.Logger) *Store {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		client: client,
		prefix: prefix,
		logger: logger,
	}
}

// Close closes the Valkey client connection.
func (s *Store) Close() {
	if s.closed.Swap(true) {
		return
	}
	s.client.Close()
	s.logger.Info("Valkey quota storage connection closed")
}

// SetLogger sets a custom logger for the store.
func (s *Store) SetLogger(logger *slog.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// SetInstrumentation enables spans and storage operation metrics.
func (s *Store) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.instrumentation = inst
	if inst != nil {
		s.tracer = inst.Tracer("storage")
	}
}

// quotaKey returns the key for an identity: {prefix}quota:{identity}
func (s *Store) quotaKey(key string) string {
	return s.prefix + "quota:" + key
}

func validateKey(key string) error {
	if key == "" {
		return storage.ErrInvalidKey
	}
	if len(key) > MaxKeyLength {
		return errKeyTooLong
	}
	return nil
}

// Apply runs the fixed-window policy server-side in one script call.
func (s *Store) Apply(ctx context.Context, key string, policy storage.Policy, now time.Time) (storage.Usage, error) {
	ctx, span := s.startStorageSpan(ctx, "apply")
	defer span.End()
	startTime := time.Now()

	usage, err := s.apply(ctx, key, policy, now)
	s.recordStorageOperation(ctx, span, "apply", err, startTime)
	return usage, err
}

func (s *Store) apply(ctx context.Context, key string, policy storage.Policy, now time.Time) (storage.Usage, error) {
	if s.closed.Load() {
		return storage.Usage{}, storage.ErrStoreClosed
	}
	if err := validateKey(key); err != nil {
		return storage.Usage{}, err
	}

	values, err := s.client.Do(ctx,
		s.client.B().Eval().Script(storage.FixedWindowScript).
			Numkeys(1).
			Key(s.quotaKey(key)).
			Arg(
				strconv.Itoa(policy.Limit),
				strconv.FormatInt(policy.Window.Milliseconds(), 10),
				strconv.FormatInt(now.UnixMilli(), 10),
			).
			Build(),
	).AsIntSlice()
	if err != nil {
		return storage.Usage{}, fmt.Errorf("failed to execute quota script: %w", err)
	}

	return parseScriptResult(values)
}

// Peek reads the entry for key without modifying it.
func (s *Store) Peek(ctx context.Context, key string, now time.Time) (storage.QuotaEntry, bool, error) {
	if s.closed.Load() {
		return storage.QuotaEntry{}, false, storage.ErrStoreClosed
	}
	if err := validateKey(key); err != nil {
		return storage.QuotaEntry{}, false, err
	}

	fields, err := s.client.Do(ctx, s.client.B().Hgetall().Key(s.quotaKey(key)).Build()).AsIntMap()
	if err != nil {
		if valkeygo.IsValkeyNil(err) {
			return storage.QuotaEntry{}, false, nil
		}
		return storage.QuotaEntry{}, false, fmt.Errorf("failed to read quota entry: %w", err)
	}

	return entryFromFields(fields, now)
}

// Sweep is a no-op: quota keys expire through PEXPIRE.
func (s *Store) Sweep(_ context.Context, _ time.Time) (int, error) {
	return 0, nil
}

// Len is unknown for a shared server and reports -1.
func (s *Store) Len() int {
	return -1
}

// parseScriptResult converts the {allowed, count, reset_at} script reply.
func parseScriptResult(values []int64) (storage.Usage, error) {
	if len(values) != 3 {
		return storage.Usage{}, fmt.Errorf("unexpected quota script reply length %d", len(values))
	}
	return storage.Usage{
		Allowed: values[0] == 1,
		Count:   int(values[1]),
		ResetAt: time.UnixMilli(values[2]).UTC(),
	}, nil
}

// entryFromFields converts an HGETALL reply into a live entry.
func entryFromFields(fields map[string]int64, now time.Time) (storage.QuotaEntry, bool, error) {
	if len(fields) == 0 {
		return storage.QuotaEntry{}, false, nil
	}
	count, okCount := fields["count"]
	resetAt, okReset := fields["reset_at"]
	if !okCount || !okReset {
		return storage.QuotaEntry{}, false, fmt.Errorf("malformed quota entry")
	}

	entry := storage.QuotaEntry{Count: int(count), ResetAt: time.UnixMilli(resetAt).UTC()}
	if entry.Expired(now) {
		return storage.QuotaEntry{}, false, nil
	}
	return entry, true, nil
}

// startStorageSpan returns a no-op span when no tracer is set, so ending it
// never touches the caller's span.
func (s *Store) startStorageSpan(ctx context.Context, operation string) (context.Context, trace.Span) {
	if s.tracer == nil {
		return ctx, trace.SpanFromContext(context.Background())
	}

	return s.tracer.Start(ctx, "storage."+operation,
		trace.WithAttributes(
			attribute.String(instrumentation.AttrStorageOperation, operation),
			attribute.String(instrumentation.AttrStorageType, storageType),
		))
}

func (s *Store) recordStorageOperation(ctx context.Context, span trace.Span, operation string, err error, startTime time.Time) {
	if s.instrumentation == nil {
		return
	}

	durationMs := float64(time.Since(startTime).Microseconds()) / 1000
	result := instrumentation.ResultSuccess
	if err != nil {
		result = instrumentation.ResultError
		instrumentation.RecordError(span, err)
	} else {
		instrumentation.SetSpanSuccess(span)
	}
	s.instrumentation.Metrics().RecordStorageOperation(ctx, operation, result, durationMs)
}
