package redis

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/giantswarm/ingress-guard/storage"
)

// testStore returns a store backed by an in-process miniredis server. When
// REDIS_TEST_ADDR is set the store talks to that server instead and the test
// skips if it does not answer.
func testStore(t *testing.T) *Store {
	t.Helper()

	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		store, _ := miniredisStore(t)
		return store
	}

	store, err := New(Config{
		Address:   addr,
		KeyPrefix: fmt.Sprintf("guardtest:%s:%d:", t.Name(), time.Now().UnixNano()),
	})
	if err != nil {
		t.Skipf("Skipping test: could not connect to Redis at %s: %v", addr, err)
	}

	t.Cleanup(func() {
		ctx := context.Background()
		iter := store.client.Scan(ctx, 0, store.prefix+"*", 100).Iterator()
		for iter.Next(ctx) {
			_ = store.client.Del(ctx, iter.Val()).Err()
		}
		_ = store.Close()
	})
	return store
}

func miniredisStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	store := NewFromClient(client, fmt.Sprintf("guardtest:%s:", t.Name()), nil)
	t.Cleanup(func() { _ = store.Close() })
	return store, mr
}

func TestEntryFromFields(t *testing.T) {
	now := time.UnixMilli(1000).UTC()

	tests := []struct {
		name    string
		fields  map[string]string
		wantOK  bool
		wantErr bool
	}{
		{name: "missing", fields: map[string]string{}},
		{name: "live", fields: map[string]string{"count": "2", "reset_at": "5000"}, wantOK: true},
		{name: "expired", fields: map[string]string{"count": "2", "reset_at": "500"}},
		{name: "malformed count", fields: map[string]string{"count": "x", "reset_at": "5000"}, wantErr: true},
		{name: "malformed reset", fields: map[string]string{"count": "1"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok, err := entryFromFields(tt.fields, now)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantOK, ok)
		})
	}
}

func TestNew_RequiresAddress(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestStore_ClosedStoreRejects(t *testing.T) {
	client := goredis.NewClient(&goredis.Options{Addr: "localhost:0"})
	store := NewFromClient(client, "", nil)
	require.NoError(t, store.Close())
	require.NoError(t, store.Close())

	_, err := store.Apply(context.Background(), "k", storage.Policy{Limit: 1, Window: time.Minute}, time.Now())
	assert.ErrorIs(t, err, storage.ErrStoreClosed)

	_, _, err = store.Peek(context.Background(), "k", time.Now())
	assert.ErrorIs(t, err, storage.ErrStoreClosed)
}

func TestStore_Apply_Sequence(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	now := time.Now().Truncate(time.Millisecond)
	policy := storage.Policy{Limit: 5, Window: 24 * time.Hour}

	for i := 1; i <= 5; i++ {
		usage, err := store.Apply(ctx, "198.51.100.2", policy, now)
		require.NoError(t, err)
		assert.True(t, usage.Allowed)
		assert.Equal(t, i, usage.Count)
	}

	usage, err := store.Apply(ctx, "198.51.100.2", policy, now)
	require.NoError(t, err)
	assert.False(t, usage.Allowed)
	assert.Equal(t, 5, usage.Count)

	entry, ok, err := store.Peek(ctx, "198.51.100.2", now)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 5, entry.Count)
	assert.True(t, entry.ResetAt.Equal(now.Add(24*time.Hour)))

	later := now.Add(24*time.Hour + time.Millisecond)
	usage, err = store.Apply(ctx, "198.51.100.2", policy, later)
	require.NoError(t, err)
	assert.True(t, usage.Allowed)
	assert.Equal(t, 1, usage.Count)
}

func TestStore_Apply_ConcurrentLastSlot(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	now := time.Now()
	policy := storage.Policy{Limit: 5, Window: time.Hour}

	for i := 0; i < 4; i++ {
		_, err := store.Apply(ctx, "race", policy, now)
		require.NoError(t, err)
	}

	var allowed atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			usage, err := store.Apply(ctx, "race", policy, now)
			if err == nil && usage.Allowed {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), allowed.Load())
}

func TestStore_Apply_TTLFollowsCallerClock(t *testing.T) {
	store, mr := miniredisStore(t)
	ctx := context.Background()
	policy := storage.Policy{Limit: 5, Window: time.Hour}

	stale := time.Now().Add(-48 * time.Hour)
	for i := 1; i <= 2; i++ {
		usage, err := store.Apply(ctx, "198.51.100.3", policy, stale)
		require.NoError(t, err)
		assert.Equal(t, i, usage.Count)
	}

	key := store.quotaKey("198.51.100.3")
	assert.Equal(t, time.Hour+time.Millisecond, mr.TTL(key))

	mr.FastForward(time.Hour + 2*time.Millisecond)
	assert.False(t, mr.Exists(key))
}

func TestStore_UninstrumentedLeavesCallerSpanOpen(t *testing.T) {
	store, _ := miniredisStore(t)
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	ctx, parent := tp.Tracer("test").Start(context.Background(), "quota.check")
	now := time.Now()
	_, err := store.Apply(ctx, "198.51.100.4", storage.Policy{Limit: 5, Window: time.Hour}, now)
	require.NoError(t, err)
	_, _, err = store.Peek(ctx, "198.51.100.4", now)
	require.NoError(t, err)

	assert.Empty(t, recorder.Ended())

	parent.End()
	require.Len(t, recorder.Ended(), 1)
	assert.Equal(t, "quota.check", recorder.Ended()[0].Name())
}
