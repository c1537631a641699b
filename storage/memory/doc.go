// Package memory provides an in-memory storage.QuotaStore.
//
// Entries are partitioned over 32 shards, each guarded by its own mutex, so
// a quota check locks only the shard owning its key. A background goroutine
// sweeps expired entries (hourly by default). Correctness never depends on
// the sweep: expired windows are also reset on the next check.
//
// It is suitable for single-instance deployments and tests. Multiple replicas
// should share a storage/valkey or storage/redis store instead.
package memory
