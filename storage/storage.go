package storage

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrInvalidKey is returned when a quota key is empty
	ErrInvalidKey = errors.New("quota key must not be empty")

	// ErrStoreClosed is returned by stores that have been stopped or closed
	ErrStoreClosed = errors.New("quota store is closed")
)

// QuotaEntry is the per-identity usage record: how many requests were admitted
// in the current window and when that window ends.
type QuotaEntry struct {
	Count   int
	ResetAt time.Time
}

// Usage is the result of applying a Policy to an entry.
type Usage struct {
	Allowed bool
	Count   int
	ResetAt time.Time
}

// Policy is a fixed-window quota: at most Limit admissions per Window.
type Policy struct {
	Limit  int
	Window time.Duration
}

// Apply runs one quota check against entry and returns the updated entry
// together with the decision. A nil entry is treated as a fresh window.
//
// A window is expired only when now is strictly after ResetAt. Denied checks
// never increment the count.
func (p Policy) Apply(entry *QuotaEntry, now time.Time) (QuotaEntry, Usage) {
	next := QuotaEntry{ResetAt: now.Add(p.Window)}
	if entry != nil && !now.After(entry.ResetAt) {
		next = *entry
	}

	if next.Count >= p.Limit {
		return next, Usage{Allowed: false, Count: next.Count, ResetAt: next.ResetAt}
	}

	next.Count++
	return next, Usage{Allowed: true, Count: next.Count, ResetAt: next.ResetAt}
}

// Expired reports whether the entry's window has ended at now.
func (e QuotaEntry) Expired(now time.Time) bool {
	return e.ResetAt.Before(now)
}

// QuotaStore holds QuotaEntry records keyed by client identity.
//
// Apply must be atomic per key: concurrent calls for the same key observe
// each other's increments, so no more than Policy.Limit calls are ever
// allowed within one window.
type QuotaStore interface {
	// Apply executes policy against the entry for key at now and persists the result.
	Apply(ctx context.Context, key string, policy Policy, now time.Time) (Usage, error)

	// Peek returns the entry for key without modifying it. The bool is false
	// when no live entry exists.
	Peek(ctx context.Context, key string, now time.Time) (QuotaEntry, bool, error)

	// Sweep removes entries whose window ended before now and returns how
	// many were removed. Stores that expire keys natively return 0.
	Sweep(ctx context.Context, now time.Time) (int, error)

	// Len returns the number of tracked entries, or -1 when unknown.
	Len() int
}

// FixedWindowScript is the Lua implementation of Policy.Apply for
// Redis-protocol stores. It runs atomically on the server.
//
// KEYS[1] quota hash key
// ARGV[1] limit, ARGV[2] window in milliseconds, ARGV[3] now in unix milliseconds
//
// Returns {allowed (0|1), count, reset_at unix milliseconds}. The key TTL is
// relative to the caller's clock and runs one millisecond past the window, so
// reads at exactly reset_at still see it and server clock skew cannot expire
// a live window early.
const FixedWindowScript = `
local limit = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local now = tonumber(ARGV[3])

local count = tonumber(redis.call('HGET', KEYS[1], 'count'))
local reset_at = tonumber(redis.call('HGET', KEYS[1], 'reset_at'))

if count == nil or reset_at == nil or now > reset_at then
	count = 0
	reset_at = now + window
end

local allowed = 0
if count < limit then
	count = count + 1
	allowed = 1
end

redis.call('HSET', KEYS[1], 'count', count, 'reset_at', reset_at)
redis.call('PEXPIRE', KEYS[1], reset_at - now + 1)

return {allowed, count, reset_at}
`
