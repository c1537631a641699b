// Package security provides the request-side defenses of the ingress guard:
// client identity resolution, per-identity quota, burst limiting, request
// IDs, response security headers and audit logging.
//
// # Identity
//
// IdentityResolver derives a quota key from address headers in trust order
// (X-Vercel-Forwarded-For, X-Real-IP, CF-Connecting-IP, then the left-most
// X-Forwarded-For token). Values that are not literal IP addresses are
// skipped. Public addresses are used as-is; loopback, private and link-local
// addresses are suffixed with a header fingerprint so callers sharing a NAT
// or proxy are told apart; requests without any address are keyed on the
// fingerprint alone ("fingerprint-<fp>").
//
// The default fingerprint is a 32-bit rolling hash of User-Agent,
// Accept-Language, Accept-Encoding, Sec-CH-UA and Sec-CH-UA-Platform. It only
// buckets clients and is trivially reproducible. Set
// ResolverConfig.FingerprintKey to switch to a keyed BLAKE2b MAC.
//
// # Quota
//
// QuotaLimiter admits at most N requests per identity per fixed window
// (default 5 per 24h). The check-and-increment runs atomically inside the
// configured storage.QuotaStore. Denied checks never consume quota. Store
// errors are returned so the caller can fail closed.
//
//	store := memory.New()
//	defer store.Stop()
//
//	limiter := security.NewQuotaLimiter(store, 5, 24*time.Hour, logger)
//	decision, err := limiter.Check(ctx, identity.Key)
//
// # Burst limiting
//
// BurstLimiter is an optional per-identity token bucket that runs before the
// quota so that rapid retries are rejected without touching the store. It
// caps memory with LRU eviction (10,000 identities by default) and drops
// idle buckets every five minutes. Stats reports entry counts, evictions and
// memory pressure.
//
// # Audit
//
// Auditor writes "security_audit" records for quota denials, store failures,
// burst rejections, fingerprint-only identities and rejected uploads.
// Identity keys are hashed unless client address logging is enabled in
// instrumentation.
package security
