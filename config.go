package guard

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/giantswarm/ingress-guard/security"
	"github.com/giantswarm/ingress-guard/upload"
)

const (
	// DefaultMaxRequestBytes is the transport ceiling for the JSON request body.
	// Base64 inflates the payload by 4/3, so 14 MiB covers a 10 MiB file plus
	// the surrounding JSON.
	DefaultMaxRequestBytes int64 = 14 << 20

	// DefaultMinTextLength and DefaultMaxTextLength bound the extracted text
	// handed to the analyzer, in characters.
	DefaultMinTextLength = 100
	DefaultMaxTextLength = 50000
)

// Config holds the guard configuration
// Structured using composition for better organization
type Config struct {
	// Rate limiting configuration
	RateLimit RateLimitConfig

	// Client identity resolution
	Identity IdentityConfig

	// Upload limits
	Upload UploadConfig

	// Security settings
	Security SecurityConfig

	// Logger for structured logging (optional, uses default if not provided)
	Logger *slog.Logger
}

// RateLimitConfig holds quota and burst settings
type RateLimitConfig struct {
	// QuotaLimit is the number of requests per identity per window.
	// Default: 5
	QuotaLimit int

	// QuotaWindow is the fixed quota window.
	// Default: 24 hours
	QuotaWindow time.Duration

	// SweepInterval is how often the in-memory store drops expired entries.
	// Only used when the guard creates its own memory store.
	// Default: 1 hour. Negative disables the sweep.
	SweepInterval time.Duration

	// BurstRate is the per-identity token refill rate per second.
	// Zero disables burst limiting.
	BurstRate float64

	// Burst is the token bucket size. Default: 1 when BurstRate is set.
	Burst int

	// BurstMaxEntries caps the identities tracked by the burst limiter.
	// Default: 10,000
	BurstMaxEntries int
}

// IdentityConfig holds client identity settings
type IdentityConfig struct {
	// TrustRemoteAddr uses the connection peer address when no address
	// header is present. Only enable when clients connect directly.
	TrustRemoteAddr bool

	// FingerprintKey enables keyed (BLAKE2b) fingerprints. At most 64 bytes.
	FingerprintKey []byte

	// Sources overrides the default address header order.
	Sources []security.HeaderSource
}

// UploadConfig holds upload size and text limits
type UploadConfig struct {
	// MaxFileBytes is the decoded payload ceiling.
	// Default: 10 MiB
	MaxFileBytes int64

	// MaxRequestBytes is the raw request body ceiling.
	// Default: 14 MiB
	MaxRequestBytes int64

	// MinTextLength and MaxTextLength bound extracted text in characters.
	// Defaults: 100 and 50,000
	MinTextLength int
	MaxTextLength int
}

// SecurityConfig holds response and audit settings
type SecurityConfig struct {
	// EnableAuditLogging enables security audit records.
	EnableAuditLogging bool

	// EnableHSTS adds Strict-Transport-Security to responses. Only set when
	// the guard is reachable over TLS.
	EnableHSTS bool
}

// applyDefaults fills zero values with defaults.
func (c *Config) applyDefaults() {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}

	if c.RateLimit.QuotaLimit <= 0 {
		c.RateLimit.QuotaLimit = security.DefaultQuotaLimit
	}
	if c.RateLimit.QuotaWindow <= 0 {
		c.RateLimit.QuotaWindow = security.DefaultQuotaWindow
	}
	if c.RateLimit.SweepInterval == 0 {
		c.RateLimit.SweepInterval = time.Hour
	}
	if c.RateLimit.BurstRate > 0 && c.RateLimit.Burst <= 0 {
		c.RateLimit.Burst = 1
	}
	if c.RateLimit.BurstMaxEntries <= 0 {
		c.RateLimit.BurstMaxEntries = security.DefaultBurstMaxEntries
	}

	if c.Upload.MaxFileBytes <= 0 {
		c.Upload.MaxFileBytes = upload.DefaultMaxSize
	}
	if c.Upload.MaxRequestBytes <= 0 {
		c.Upload.MaxRequestBytes = DefaultMaxRequestBytes
	}
	if c.Upload.MinTextLength <= 0 {
		c.Upload.MinTextLength = DefaultMinTextLength
	}
	if c.Upload.MaxTextLength <= 0 {
		c.Upload.MaxTextLength = DefaultMaxTextLength
	}
}

// Validate checks the configuration after defaults have been applied.
func (c *Config) Validate() error {
	if c.RateLimit.BurstRate < 0 {
		return fmt.Errorf("burst rate must not be negative")
	}
	if len(c.Identity.FingerprintKey) > 64 {
		return fmt.Errorf("fingerprint key must be at most 64 bytes")
	}
	if c.Upload.MinTextLength > c.Upload.MaxTextLength {
		return fmt.Errorf("min text length %d exceeds max text length %d",
			c.Upload.MinTextLength, c.Upload.MaxTextLength)
	}
	if c.Upload.MaxRequestBytes < c.Upload.MaxFileBytes {
		c.Logger.Warn("Request ceiling is below the file ceiling; base64 uploads near the file limit will be refused",
			"max_request_bytes", c.Upload.MaxRequestBytes,
			"max_file_bytes", c.Upload.MaxFileBytes)
	}
	return nil
}
