package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/giantswarm/ingress-guard/instrumentation"
	"github.com/giantswarm/ingress-guard/internal/testutil"
	"github.com/giantswarm/ingress-guard/storage"
)

var testPolicy = storage.Policy{Limit: 5, Window: 24 * time.Hour}

func TestStore_Apply_Sequence(t *testing.T) {
	store := NewWithInterval(0)
	defer store.Stop()

	ctx := context.Background()
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

	for i := 1; i <= 5; i++ {
		usage, err := store.Apply(ctx, "203.0.113.7", testPolicy, now)
		require.NoError(t, err)
		assert.True(t, usage.Allowed, "request %d should be allowed", i)
		assert.Equal(t, i, usage.Count)
		assert.Equal(t, now.Add(24*time.Hour), usage.ResetAt)
	}

	usage, err := store.Apply(ctx, "203.0.113.7", testPolicy, now.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, usage.Allowed)
	assert.Equal(t, 5, usage.Count)
}

func TestStore_Apply_WindowReset(t *testing.T) {
	store := NewWithInterval(0)
	defer store.Stop()

	ctx := context.Background()
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

	for i := 0; i < 6; i++ {
		_, err := store.Apply(ctx, "k", testPolicy, now)
		require.NoError(t, err)
	}

	later := now.Add(24*time.Hour + time.Millisecond)
	usage, err := store.Apply(ctx, "k", testPolicy, later)
	require.NoError(t, err)
	assert.True(t, usage.Allowed)
	assert.Equal(t, 1, usage.Count)
	assert.Equal(t, later.Add(24*time.Hour), usage.ResetAt)
}

func TestStore_Apply_EmptyKey(t *testing.T) {
	store := NewWithInterval(0)
	defer store.Stop()

	_, err := store.Apply(context.Background(), "", testPolicy, time.Now())
	assert.True(t, errors.Is(err, storage.ErrInvalidKey))
}

func TestStore_Apply_IndependentKeys(t *testing.T) {
	store := NewWithInterval(0)
	defer store.Stop()

	ctx := context.Background()
	now := time.Now()

	for i := 0; i < 5; i++ {
		_, err := store.Apply(ctx, "a", testPolicy, now)
		require.NoError(t, err)
	}

	usage, err := store.Apply(ctx, "b", testPolicy, now)
	require.NoError(t, err)
	assert.True(t, usage.Allowed)
	assert.Equal(t, 1, usage.Count)
	assert.Equal(t, 2, store.Len())
}

func TestStore_Apply_ConcurrentLastSlot(t *testing.T) {
	store := NewWithInterval(0)
	defer store.Stop()

	ctx := context.Background()
	now := time.Now()
	policy := storage.Policy{Limit: 5, Window: time.Hour}

	for i := 0; i < 4; i++ {
		_, err := store.Apply(ctx, "race", policy, now)
		require.NoError(t, err)
	}

	const workers = 64
	var allowed atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			usage, err := store.Apply(ctx, "race", policy, now)
			if err == nil && usage.Allowed {
				allowed.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), allowed.Load(), "exactly one request may take the last slot")

	entry, ok, err := store.Peek(ctx, "race", now)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 5, entry.Count)
}

func TestStore_Apply_ConcurrentManyKeys(t *testing.T) {
	store := NewWithInterval(0)
	defer store.Stop()

	ctx := context.Background()
	now := time.Now()
	policy := storage.Policy{Limit: 3, Window: time.Hour}

	var allowed atomic.Int32
	var wg sync.WaitGroup
	for k := 0; k < 50; k++ {
		key := fmt.Sprintf("client-%d", k)
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				usage, err := store.Apply(ctx, key, policy, now)
				if err == nil && usage.Allowed {
					allowed.Add(1)
				}
			}()
		}
	}
	wg.Wait()

	assert.Equal(t, int32(50*3), allowed.Load())
	assert.Equal(t, 50, store.Len())
}

func TestStore_Peek(t *testing.T) {
	store := NewWithInterval(0)
	defer store.Stop()

	ctx := context.Background()
	now := time.Now()

	_, ok, err := store.Peek(ctx, "missing", now)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = store.Apply(ctx, "k", testPolicy, now)
	require.NoError(t, err)

	entry, ok, err := store.Peek(ctx, "k", now)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, entry.Count)

	// Peek never increments
	entry, _, _ = store.Peek(ctx, "k", now)
	assert.Equal(t, 1, entry.Count)

	_, ok, err = store.Peek(ctx, "k", now.Add(25*time.Hour))
	require.NoError(t, err)
	assert.False(t, ok, "expired entry should not be visible")

	_, _, err = store.Peek(ctx, "", now)
	assert.ErrorIs(t, err, storage.ErrInvalidKey)
}

func TestStore_Sweep(t *testing.T) {
	store := NewWithInterval(0)
	defer store.Stop()

	ctx := context.Background()
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	short := storage.Policy{Limit: 5, Window: time.Minute}

	_, _ = store.Apply(ctx, "old-1", short, now)
	_, _ = store.Apply(ctx, "old-2", short, now)
	_, _ = store.Apply(ctx, "fresh", testPolicy, now)

	removed, err := store.Sweep(ctx, now.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 0, removed, "entries resetting exactly now are kept")

	removed, err = store.Sweep(ctx, now.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 2, removed)
	assert.Equal(t, 1, store.Len())

	_, ok, _ := store.Peek(ctx, "fresh", now.Add(2*time.Minute))
	assert.True(t, ok)
}

func TestStore_BackgroundSweep(t *testing.T) {
	clock := testutil.NewMockTime(time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC))

	store := newStore(10*time.Millisecond, clock.Now)
	defer store.Stop()

	_, err := store.Apply(context.Background(), "k", storage.Policy{Limit: 1, Window: time.Second}, clock.Now())
	require.NoError(t, err)

	clock.Advance(2 * time.Second)

	assert.Eventually(t, func() bool { return store.Len() == 0 }, time.Second, 5*time.Millisecond)
}

func TestStore_SweepDisabledStillResets(t *testing.T) {
	store := NewWithInterval(0)
	defer store.Stop()

	ctx := context.Background()
	now := time.Now()
	policy := storage.Policy{Limit: 1, Window: time.Minute}

	usage, _ := store.Apply(ctx, "k", policy, now)
	assert.True(t, usage.Allowed)
	usage, _ = store.Apply(ctx, "k", policy, now)
	assert.False(t, usage.Allowed)

	usage, err := store.Apply(ctx, "k", policy, now.Add(2*time.Minute))
	require.NoError(t, err)
	assert.True(t, usage.Allowed)
}

func TestStore_StopIdempotent(t *testing.T) {
	store := New()
	store.Stop()
	store.Stop()
}

func TestStore_SetInstrumentation(t *testing.T) {
	mp, reader := testutil.NewMeterProvider()
	inst, err := instrumentation.New(instrumentation.Config{Enabled: true, MeterProvider: mp})
	require.NoError(t, err)

	store := NewWithInterval(0)
	defer store.Stop()
	store.SetInstrumentation(inst)

	ctx := context.Background()
	now := time.Now()
	_, _ = store.Apply(ctx, "a", testPolicy, now)
	_, _ = store.Apply(ctx, "b", testPolicy, now)

	assert.Equal(t, int64(2), testutil.CollectInt64(t, reader, "guard.quota.entries"))
	assert.Equal(t, int64(2), testutil.CollectInt64(t, reader, "storage.operation.total"))

	_, err = store.Sweep(ctx, now.Add(48*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), testutil.CollectInt64(t, reader, "guard.quota.swept.total"))
}

func TestStore_UninstrumentedLeavesCallerSpanOpen(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	store := NewWithInterval(0)
	defer store.Stop()

	ctx, parent := tp.Tracer("test").Start(context.Background(), "quota.check")
	now := time.Now()
	_, err := store.Apply(ctx, "203.0.113.7", testPolicy, now)
	require.NoError(t, err)
	_, _, err = store.Peek(ctx, "203.0.113.7", now)
	require.NoError(t, err)
	_, err = store.Sweep(ctx, now)
	require.NoError(t, err)

	assert.Empty(t, recorder.Ended())
	assert.True(t, parent.IsRecording())

	parent.End()
	require.Len(t, recorder.Ended(), 1)
	assert.Equal(t, "quota.check", recorder.Ended()[0].Name())
}
