package security

import (
	"container/list"
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/giantswarm/ingress-guard/instrumentation"
)

const (
	// DefaultBurstMaxEntries caps the number of tracked identities
	DefaultBurstMaxEntries = 10000

	defaultBurstCleanupInterval = 5 * time.Minute
	defaultBurstIdleTimeout     = 30 * time.Minute
)

type burstEntry struct {
	identifier string
	limiter    *rate.Limiter
	lastAccess time.Time
}

// BurstLimiter is a per-identity token bucket that throttles rapid-fire
// requests before they reach the quota store. Least recently used
// identities are evicted once maxEntries is reached.
type BurstLimiter struct {
	limiters    map[string]*list.Element
	lruList     *list.List
	mu          sync.Mutex
	rate        rate.Limit
	burst       int
	maxEntries  int
	logger      *slog.Logger
	stopCleanup chan struct{}
	stopOnce    sync.Once

	auditor         *Auditor
	instrumentation *instrumentation.Instrumentation

	// Statistics
	totalEvictions int64
	totalCleanups  int64
}

// NewBurstLimiter creates a limiter refilling perSecond tokens per second up
// to burst. maxEntries <= 0 uses DefaultBurstMaxEntries.
func NewBurstLimiter(perSecond float64, burst, maxEntries int, logger *slog.Logger) *BurstLimiter {
	if logger == nil {
		logger = slog.Default()
	}
	if maxEntries <= 0 {
		maxEntries = DefaultBurstMaxEntries
	}
	if burst <= 0 {
		burst = 1
	}

	bl := &BurstLimiter{
		limiters:    make(map[string]*list.Element),
		lruList:     list.New(),
		rate:        rate.Limit(perSecond),
		burst:       burst,
		maxEntries:  maxEntries,
		logger:      logger,
		stopCleanup: make(chan struct{}),
	}

	go bl.cleanupLoop()

	return bl
}

// SetAuditor enables burst_limit_exceeded audit events.
func (bl *BurstLimiter) SetAuditor(a *Auditor) {
	bl.auditor = a
}

// SetInstrumentation enables rejection metrics.
func (bl *BurstLimiter) SetInstrumentation(inst *instrumentation.Instrumentation) {
	bl.instrumentation = inst
}

// Allow reports whether a request for identifier may proceed now.
func (bl *BurstLimiter) Allow(ctx context.Context, identifier string) bool {
	allowed := bl.allow(identifier, time.Now())
	if !allowed {
		bl.logger.Debug("Burst limit exceeded")
		bl.auditor.LogBurstLimitExceeded(ctx, identifier)
		if bl.instrumentation != nil {
			bl.instrumentation.Metrics().RecordBurstRejected(ctx)
		}
	}
	return allowed
}

func (bl *BurstLimiter) allow(identifier string, now time.Time) bool {
	bl.mu.Lock()
	defer bl.mu.Unlock()

	if elem, exists := bl.limiters[identifier]; exists {
		bl.lruList.MoveToFront(elem)
		entry := elem.Value.(*burstEntry)
		entry.lastAccess = now
		return entry.limiter.AllowN(now, 1)
	}

	if len(bl.limiters) >= bl.maxEntries {
		bl.evictLRU()
	}

	entry := &burstEntry{
		identifier: identifier,
		limiter:    rate.NewLimiter(bl.rate, bl.burst),
		lastAccess: now,
	}
	bl.limiters[identifier] = bl.lruList.PushFront(entry)

	return entry.limiter.AllowN(now, 1)
}

// evictLRU removes the least recently used entry. Must be called with mu held.
func (bl *BurstLimiter) evictLRU() {
	elem := bl.lruList.Back()
	if elem == nil {
		return
	}
	entry := elem.Value.(*burstEntry)
	delete(bl.limiters, entry.identifier)
	bl.lruList.Remove(elem)
	bl.totalEvictions++
}

func (bl *BurstLimiter) cleanupLoop() {
	ticker := time.NewTicker(defaultBurstCleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			bl.Cleanup(defaultBurstIdleTimeout)
		case <-bl.stopCleanup:
			return
		}
	}
}

// Cleanup removes limiters idle for longer than maxIdleTime.
func (bl *BurstLimiter) Cleanup(maxIdleTime time.Duration) {
	bl.cleanup(time.Now(), maxIdleTime)
}

func (bl *BurstLimiter) cleanup(now time.Time, maxIdleTime time.Duration) {
	bl.mu.Lock()
	defer bl.mu.Unlock()

	removed := 0
	// The list is ordered by recency, so idle entries sit at the back.
	for elem := bl.lruList.Back(); elem != nil; {
		entry := elem.Value.(*burstEntry)
		if now.Sub(entry.lastAccess) <= maxIdleTime {
			break
		}
		prev := elem.Prev()
		delete(bl.limiters, entry.identifier)
		bl.lruList.Remove(elem)
		removed++
		elem = prev
	}

	if removed > 0 {
		bl.totalCleanups++
		bl.logger.Debug("Burst limiter cleanup completed",
			"removed", removed,
			"remaining", len(bl.limiters))
	}
}

// Stop stops the cleanup goroutine. It is safe to call more than once.
func (bl *BurstLimiter) Stop() {
	bl.stopOnce.Do(func() {
		close(bl.stopCleanup)
	})
}

// BurstStats holds burst limiter statistics for monitoring
type BurstStats struct {
	CurrentEntries int
	MaxEntries     int
	TotalEvictions int64
	TotalCleanups  int64
	MemoryPressure float64 // Percentage of max capacity used (0-100)
}

// Stats returns current limiter statistics.
func (bl *BurstLimiter) Stats() BurstStats {
	bl.mu.Lock()
	defer bl.mu.Unlock()

	return BurstStats{
		CurrentEntries: len(bl.limiters),
		MaxEntries:     bl.maxEntries,
		TotalEvictions: bl.totalEvictions,
		TotalCleanups:  bl.totalCleanups,
		MemoryPressure: float64(len(bl.limiters)) / float64(bl.maxEntries) * 100.0,
	}
}
