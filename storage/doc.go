// Package storage defines the quota storage contract used by the ingress guard.
//
// The fixed-window policy itself is a pure function (Policy.Apply). Each
// QuotaStore runs it inside its own per-key atomic section:
//   - storage/memory: sharded in-process map, one mutex per shard, periodic sweep
//   - storage/valkey: Valkey via valkey-go, policy executed as FixedWindowScript
//   - storage/redis: Redis via go-redis, same script
//
// Remote stores rely on key expiry instead of a sweep.
package storage
