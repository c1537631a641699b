// Package valkey provides a Valkey-backed storage.QuotaStore.
//
// Every quota check is one EVAL of storage.FixedWindowScript against a hash
// key {prefix}quota:{identity} with fields count and reset_at (unix ms).
// The script runs atomically on the server, so replicas sharing a Valkey
// instance enforce one limit between them. Keys carry a PEXPIRE running just
// past the window end, which replaces the in-memory sweep.
//
// Example usage:
//
//	store, err := valkey.New(valkey.Config{Address: "localhost:6379"})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer store.Close()
//
//	limiter := security.NewQuotaLimiter(store, 5, 24*time.Hour, logger)
package valkey
