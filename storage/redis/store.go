package redis

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/giantswarm/ingress-guard/instrumentation"
	"github.com/giantswarm/ingress-guard/storage"
)

const (
	// DefaultKeyPrefix is the default prefix for all Redis keys
	DefaultKeyPrefix = "guard:"

	// MaxKeyLength is the maximum accepted identity key length
	MaxKeyLength = 512

	connectionVerifyTimeout = 5 * time.Second

	storageType = "redis"
)

var fixedWindow = goredis.NewScript(storage.FixedWindowScript)

// Config holds configuration for the Redis storage backend.
type Config struct {
	// Address is the Redis server address (required), e.g., "localhost:6379"
	Address string

	// Username and Password are optional ACL credentials
	Username string
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

// Store is a Redis-backed storage.QuotaStore built on go-redis. The quota
// policy runs as a cached script (EVALSHA with EVAL fallback).
type Store struct {
	client goredis.UniversalClient
	prefix string
	logger *slog.Logger
	closed atomic.Bool

	instrumentation *instrumentation.Instrumentation
	tracer          trace.Tracer
}

var _ storage.QuotaStore = (*Store)(nil)

// New connects to Redis and verifies the connection with PING.
func New(cfg Config) (*Store, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("redis address is required")
	}

	client := goredis.NewClient(&goredis.Options{
		Addr:      cfg.Address,
		Username:  cfg.Username,
		Password:  cfg.Password,
		DB:        cfg.DB,
		TLSConfig: cfg.TLS,
	})

	ctx, cancel := context.WithTimeout(context.Background(), connectionVerifyTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	s := NewFromClient(client, cfg.KeyPrefix, cfg.Logger)
	s.logger.Info("Connected to Redis quota storage",
		"address", cfg.Address,
		"db", cfg.DB,
		"prefix", s.prefix)
	return s, nil
}

// NewFromClient wraps an existing client (single node, cluster or sentinel).
// The store takes ownership of the client and closes it in Close.
func NewFromClient(client goredis.UniversalClient, prefix string, logger *slog.Logger) *Store {
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

// Close closes the underlying client.
func (s *Store) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	s.logger.Info("Redis quota storage connection closed")
	return s.client.Close()
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

func (s *Store) quotaKey(key string) string {
	return s.prefix + "quota:" + key
}

func validateKey(key string) error {
	if key == "" {
		return storage.ErrInvalidKey
	}
	if len(key) > MaxKeyLength {
		return fmt.Errorf("%w: exceeds %d bytes", storage.ErrInvalidKey, MaxKeyLength)
	}
	return nil
}

// Apply runs the fixed-window policy atomically on the server.
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

	values, err := fixedWindow.Run(ctx, s.client,
		[]string{s.quotaKey(key)},
		policy.Limit,
		policy.Window.Milliseconds(),
		now.UnixMilli(),
	).Int64Slice()
	if err != nil {
		return storage.Usage{}, fmt.Errorf("failed to execute quota script: %w", err)
	}

	if len(values) != 3 {
		return storage.Usage{}, fmt.Errorf("unexpected quota script reply length %d", len(values))
	}
	return storage.Usage{
		Allowed: values[0] == 1,
		Count:   int(values[1]),
		ResetAt: time.UnixMilli(values[2]).UTC(),
	}, nil
}

// Peek reads the entry for key without modifying it.
func (s *Store) Peek(ctx context.Context, key string, now time.Time) (storage.QuotaEntry, bool, error) {
	if s.closed.Load() {
		return storage.QuotaEntry{}, false, storage.ErrStoreClosed
	}
	if err := validateKey(key); err != nil {
		return storage.QuotaEntry{}, false, err
	}

	fields, err := s.client.HGetAll(ctx, s.quotaKey(key)).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
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

func entryFromFields(fields map[string]string, now time.Time) (storage.QuotaEntry, bool, error) {
	if len(fields) == 0 {
		return storage.QuotaEntry{}, false, nil
	}

	count, err := strconv.Atoi(fields["count"])
	if err != nil {
		return storage.QuotaEntry{}, false, fmt.Errorf("malformed quota count: %w", err)
	}
	resetMs, err := strconv.ParseInt(fields["reset_at"], 10, 64)
	if err != nil {
		return storage.QuotaEntry{}, false, fmt.Errorf("malformed quota reset: %w", err)
	}

	entry := storage.QuotaEntry{Count: count, ResetAt: time.UnixMilli(resetMs).UTC()}
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
