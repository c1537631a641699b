package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/giantswarm/ingress-guard/instrumentation"
	"github.com/giantswarm/ingress-guard/storage"
)

const (
	// shardCount is the number of independently locked partitions
	shardCount = 32

	// DefaultSweepInterval is how often expired entries are removed
	DefaultSweepInterval = time.Hour

	storageType = "memory"
)

type shard struct {
	mu      sync.Mutex
	entries map[string]storage.QuotaEntry
}

// Store is an in-memory, sharded implementation of storage.QuotaStore.
// Keys are spread over shards by xxhash so unrelated identities never
// contend on the same lock.
type Store struct {
	shards [shardCount]*shard

	// Instrumentation
	instrumentation *instrumentation.Instrumentation
	tracer          trace.Tracer

	// Cleanup
	sweepInterval time.Duration
	stopCleanup   chan struct{}
	stopOnce      sync.Once
	now           func() time.Time
	logger        *slog.Logger
}

var _ storage.QuotaStore = (*Store)(nil)

// New creates a new in-memory store that sweeps expired entries hourly.
func New() *Store {
	return NewWithInterval(DefaultSweepInterval)
}

// NewWithInterval creates a store with a custom sweep interval.
// An interval <= 0 disables the background sweep; expired entries are then
// only replaced lazily when their key is seen again.
func NewWithInterval(sweepInterval time.Duration) *Store {
	return newStore(sweepInterval, time.Now)
}

func newStore(sweepInterval time.Duration, now func() time.Time) *Store {
	s := &Store{
		sweepInterval: sweepInterval,
		stopCleanup:   make(chan struct{}),
		now:           now,
		logger:        slog.Default(),
	}
	for i := range s.shards {
		s.shards[i] = &shard{entries: make(map[string]storage.QuotaEntry)}
	}

	if sweepInterval > 0 {
		go s.cleanupLoop()
	}

	return s
}

// SetLogger sets a custom logger
func (s *Store) SetLogger(logger *slog.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// SetInstrumentation sets OpenTelemetry instrumentation for the store and
// registers the quota entries gauge.
func (s *Store) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.instrumentation = inst
	if inst == nil {
		return
	}
	s.tracer = inst.Tracer("storage")

	if err := inst.RegisterQuotaEntriesCallback(func() int64 { return int64(s.Len()) }); err != nil {
		s.logger.Warn("Failed to register quota entries callback", "error", err)
	}
}

// Stop stops the background sweep. It is safe to call more than once.
func (s *Store) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCleanup)
	})
}

func (s *Store) shardFor(key string) *shard {
	return s.shards[xxhash.Sum64String(key)%shardCount]
}

// Apply runs policy against the entry for key while holding the key's shard lock.
func (s *Store) Apply(ctx context.Context, key string, policy storage.Policy, now time.Time) (storage.Usage, error) {
	ctx, span := s.startStorageSpan(ctx, "apply")
	defer span.End()
	startTime := time.Now()

	if key == "" {
		s.recordStorageOperation(ctx, span, "apply", storage.ErrInvalidKey, startTime)
		return storage.Usage{}, storage.ErrInvalidKey
	}

	sh := s.shardFor(key)
	sh.mu.Lock()
	var current *storage.QuotaEntry
	if entry, ok := sh.entries[key]; ok {
		current = &entry
	}
	next, usage := policy.Apply(current, now)
	sh.entries[key] = next
	sh.mu.Unlock()

	s.recordStorageOperation(ctx, span, "apply", nil, startTime)
	return usage, nil
}

// Peek returns the live entry for key, if any.
func (s *Store) Peek(ctx context.Context, key string, now time.Time) (storage.QuotaEntry, bool, error) {
	if key == "" {
		return storage.QuotaEntry{}, false, storage.ErrInvalidKey
	}

	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	entry, ok := sh.entries[key]
	if !ok || entry.Expired(now) {
		return storage.QuotaEntry{}, false, nil
	}
	return entry, true, nil
}

// Sweep removes every entry whose window ended before now.
func (s *Store) Sweep(ctx context.Context, now time.Time) (int, error) {
	ctx, span := s.startStorageSpan(ctx, "sweep")
	defer span.End()
	startTime := time.Now()

	removed := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		for key, entry := range sh.entries {
			if entry.Expired(now) {
				delete(sh.entries, key)
				removed++
			}
		}
		sh.mu.Unlock()
	}

	if s.instrumentation != nil {
		s.instrumentation.Metrics().RecordQuotaSweep(ctx, removed)
	}
	s.recordStorageOperation(ctx, span, "sweep", nil, startTime)
	return removed, nil
}

// Len returns the number of tracked entries, expired ones included.
func (s *Store) Len() int {
	total := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		total += len(sh.entries)
		sh.mu.Unlock()
	}
	return total
}

func (s *Store) cleanupLoop() {
	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCleanup:
			return
		case <-ticker.C:
			s.cleanup()
		}
	}
}

func (s *Store) cleanup() {
	removed, _ := s.Sweep(context.Background(), s.now())
	if removed > 0 {
		s.logger.Debug("Quota sweep completed",
			"removed", removed,
			"remaining", s.Len())
	}
}

// ============================================================
// Instrumentation Helpers
// ============================================================

// startStorageSpan returns a no-op span when no tracer is set, so ending it
// never touches the caller's span.
func (s *Store) startStorageSpan(ctx context.Context, operation string) (context.Context, trace.Span) {
	if s.tracer == nil {
		return ctx, trace.SpanFromContext(context.Background())
	}

	return s.tracer.Start(ctx, fmt.Sprintf("storage.%s", operation),
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
