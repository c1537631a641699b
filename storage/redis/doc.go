// Package redis provides a Redis-backed storage.QuotaStore using go-redis.
//
// It shares storage.FixedWindowScript and the key layout with storage/valkey,
// so either client can be pointed at the same server. NewFromClient accepts
// any goredis.UniversalClient, including cluster and failover clients.
package redis
