package security

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"strings"

	"go.opentelemetry.io/otel/trace"

	"github.com/giantswarm/ingress-guard/instrumentation"
	"github.com/giantswarm/ingress-guard/internal/helpers"
)

const (
	// SourceRemoteAddr marks an identity taken from the transport peer address
	SourceRemoteAddr = "remote_addr"

	// SourceFingerprint marks an identity built from the header fingerprint alone
	SourceFingerprint = "fingerprint"

	fingerprintKeyPrefix = "fingerprint-"
)

// Identity is the resolved client identity for one request.
type Identity struct {
	// Key is the opaque quota key
	Key string

	// Source is the header name, SourceRemoteAddr or SourceFingerprint
	Source string

	// Address is the validated client address, empty when none was found
	Address string

	// Fingerprinted is true when the fingerprint is part of Key
	Fingerprinted bool
}

// HeaderSource names a request header that may carry the client address and
// how to pull a candidate out of it.
type HeaderSource struct {
	Header  string
	Extract func(value string) string
}

// wholeValue uses the trimmed header value as-is.
func wholeValue(v string) string {
	return strings.TrimSpace(v)
}

// firstToken returns the left-most comma-separated token, which is the
// originating client in X-Forwarded-For.
func firstToken(v string) string {
	first, _, _ := strings.Cut(v, ",")
	return strings.TrimSpace(first)
}

// DefaultHeaderSources lists the address headers in trust order: hosting
// platform headers first, then the CDN, then the generic proxy chain.
func DefaultHeaderSources() []HeaderSource {
	return []HeaderSource{
		{Header: "X-Vercel-Forwarded-For", Extract: wholeValue},
		{Header: "X-Real-IP", Extract: wholeValue},
		{Header: "CF-Connecting-IP", Extract: wholeValue},
		{Header: "X-Forwarded-For", Extract: firstToken},
	}
}

// ValidAddress parses s as a literal IPv4 (dotted decimal) or IPv6 address.
// Zoned addresses, hostnames and anything else are rejected.
func ValidAddress(s string) (netip.Addr, bool) {
	if s == "" || strings.Contains(s, "%") {
		return netip.Addr{}, false
	}
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Addr{}, false
	}
	return addr, true
}

// ResolverConfig configures an IdentityResolver.
type ResolverConfig struct {
	// Sources overrides DefaultHeaderSources when non-empty
	Sources []HeaderSource

	// TrustRemoteAddr falls back to the transport peer address after all
	// header sources. Only enable when the guard faces clients directly.
	TrustRemoteAddr bool

	// FingerprintKey switches fingerprints to a keyed BLAKE2b MAC.
	// At most 64 bytes. Empty keeps the unkeyed rolling hash.
	FingerprintKey []byte
}

// IdentityResolver derives a quota key from request headers.
type IdentityResolver struct {
	sources         []HeaderSource
	trustRemoteAddr bool
	fingerprintKey  []byte

	logger          *slog.Logger
	auditor         *Auditor
	instrumentation *instrumentation.Instrumentation
}

// NewIdentityResolver creates a resolver. It fails only for an oversized
// fingerprint key.
func NewIdentityResolver(cfg ResolverConfig, logger *slog.Logger) (*IdentityResolver, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if len(cfg.FingerprintKey) > maxFingerprintKeyLength {
		return nil, fmt.Errorf("fingerprint key must be at most %d bytes, got %d",
			maxFingerprintKeyLength, len(cfg.FingerprintKey))
	}

	sources := cfg.Sources
	if len(sources) == 0 {
		sources = DefaultHeaderSources()
	}

	return &IdentityResolver{
		sources:         sources,
		trustRemoteAddr: cfg.TrustRemoteAddr,
		fingerprintKey:  cfg.FingerprintKey,
		logger:          logger,
	}, nil
}

// SetAuditor enables fingerprint_identity audit events.
func (r *IdentityResolver) SetAuditor(a *Auditor) {
	r.auditor = a
}

// SetInstrumentation enables resolution metrics and identity attributes on
// the request span.
func (r *IdentityResolver) SetInstrumentation(inst *instrumentation.Instrumentation) {
	r.instrumentation = inst
}

// Resolve returns the identity for req, consulting RemoteAddr when trusted.
func (r *IdentityResolver) Resolve(req *http.Request) Identity {
	remote := ""
	if r.trustRemoteAddr {
		remote = hostFromRemoteAddr(req.RemoteAddr)
	}
	return r.resolve(req.Context(), req.Header, remote)
}

// ResolveHeader returns the identity derived from headers only.
func (r *IdentityResolver) ResolveHeader(h http.Header) Identity {
	return r.resolve(context.Background(), h, "")
}

func (r *IdentityResolver) resolve(ctx context.Context, h http.Header, remote string) Identity {
	addr, source := r.findAddress(h, remote)
	// IPv4-mapped IPv6 shares the bucket of the plain IPv4 address.
	addr = addr.Unmap()

	var id Identity
	switch {
	case !addr.IsValid():
		id = Identity{
			Key:           fingerprintKeyPrefix + r.fingerprint(h),
			Source:        SourceFingerprint,
			Fingerprinted: true,
		}
	case helpers.IsPublicAddr(addr):
		id = Identity{Key: addr.String(), Source: source, Address: addr.String()}
	default:
		id = Identity{
			Key:           addr.String() + "-" + r.fingerprint(h),
			Source:        source,
			Address:       addr.String(),
			Fingerprinted: true,
		}
	}

	if id.Fingerprinted {
		r.logger.Debug("Client identity includes header fingerprint",
			"source", id.Source,
			"address_class", helpers.ClassifyAddr(addr).String())
	}
	if id.Source == SourceFingerprint {
		r.auditor.LogFingerprintIdentity(ctx, id.Key)
	}
	if r.instrumentation != nil {
		r.instrumentation.Metrics().RecordIdentityResolution(ctx, id.Source, id.Fingerprinted)
		clientIP := ""
		if r.instrumentation.ShouldLogClientIPs() {
			clientIP = id.Address
		}
		instrumentation.AddIdentityAttributes(trace.SpanFromContext(ctx), id.Source, id.Fingerprinted, clientIP)
	}

	return id
}

// findAddress walks the sources in order. Invalid values count as absent.
func (r *IdentityResolver) findAddress(h http.Header, remote string) (netip.Addr, string) {
	for _, src := range r.sources {
		raw := h.Get(src.Header)
		if raw == "" {
			continue
		}
		if addr, ok := ValidAddress(src.Extract(raw)); ok {
			return addr, strings.ToLower(src.Header)
		}
	}
	if addr, ok := ValidAddress(remote); ok {
		return addr, SourceRemoteAddr
	}
	return netip.Addr{}, ""
}

// fingerprint returns the keyed fingerprint when a key is configured and the
// rolling hash otherwise.
func (r *IdentityResolver) fingerprint(h http.Header) string {
	if len(r.fingerprintKey) > 0 {
		if fp, err := keyedFingerprint(r.fingerprintKey, h); err == nil {
			return fp
		}
	}
	return Fingerprint(h)
}

func hostFromRemoteAddr(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return strings.TrimSpace(remoteAddr)
	}
	return host
}

type identityContextKey struct{}

// WithIdentity stores id in ctx.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, id)
}

// IdentityFromContext returns the identity stored by WithIdentity.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityContextKey{}).(Identity)
	return id, ok
}
