package guard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"time"

	"github.com/giantswarm/ingress-guard/instrumentation"
	"github.com/giantswarm/ingress-guard/security"
	"github.com/giantswarm/ingress-guard/storage"
	"github.com/giantswarm/ingress-guard/storage/memory"
	"github.com/giantswarm/ingress-guard/upload"
)

// ErrBurstLimited is returned by Server.Admit when the burst limiter rejects
// a request before its quota is consulted.
var ErrBurstLimited = errors.New("burst limit exceeded")

// Server coordinates identity resolution, rate limiting and upload
// authentication. It is transport-agnostic; Handler adapts it to HTTP.
type Server struct {
	Resolver      *security.IdentityResolver
	Quota         *security.QuotaLimiter
	Burst         *security.BurstLimiter // nil when burst limiting is disabled
	Authenticator *upload.Authenticator
	Auditor       *security.Auditor
	Logger        *slog.Logger
	Config        *Config

	store      storage.QuotaStore
	ownsStore  bool
	textLimits TextLimits

	Instrumentation *instrumentation.Instrumentation
}

type instrumentedStore interface {
	SetInstrumentation(*instrumentation.Instrumentation)
}

// NewServer creates a guard server backed by store. A nil store selects an
// in-memory store owned by the server and stopped by Stop.
func NewServer(store storage.QuotaStore, config *Config) (*Server, error) {
	if config == nil {
		config = &Config{}
	}
	config.applyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger := config.Logger

	resolver, err := security.NewIdentityResolver(security.ResolverConfig{
		Sources:         config.Identity.Sources,
		TrustRemoteAddr: config.Identity.TrustRemoteAddr,
		FingerprintKey:  config.Identity.FingerprintKey,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create identity resolver: %w", err)
	}

	ownsStore := false
	if store == nil {
		mem := memory.NewWithInterval(config.RateLimit.SweepInterval)
		mem.SetLogger(logger)
		store = mem
		ownsStore = true
	}

	s := &Server{
		Resolver:      resolver,
		Quota:         security.NewQuotaLimiter(store, config.RateLimit.QuotaLimit, config.RateLimit.QuotaWindow, logger),
		Authenticator: upload.NewAuthenticator(config.Upload.MaxFileBytes, logger),
		Auditor:       security.NewAuditor(logger, config.Security.EnableAuditLogging),
		Logger:        logger,
		Config:        config,
		store:         store,
		ownsStore:     ownsStore,
		textLimits:    TextLimits{Min: config.Upload.MinTextLength, Max: config.Upload.MaxTextLength},
	}

	if config.RateLimit.BurstRate > 0 {
		s.Burst = security.NewBurstLimiter(config.RateLimit.BurstRate, config.RateLimit.Burst,
			config.RateLimit.BurstMaxEntries, logger)
		s.Burst.SetAuditor(s.Auditor)
	}

	s.Resolver.SetAuditor(s.Auditor)
	s.Quota.SetAuditor(s.Auditor)
	s.Authenticator.SetAuditor(s.Auditor)

	logger.Info("Ingress guard configured",
		"quota_limit", config.RateLimit.QuotaLimit,
		"quota_window", config.RateLimit.QuotaWindow.String(),
		"burst_rate", config.RateLimit.BurstRate,
		"max_file_bytes", config.Upload.MaxFileBytes,
		"max_request_bytes", config.Upload.MaxRequestBytes,
		"trust_remote_addr", config.Identity.TrustRemoteAddr,
		"keyed_fingerprint", len(config.Identity.FingerprintKey) > 0)

	return s, nil
}

// SetInstrumentation propagates instrumentation to every component.
func (s *Server) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.Instrumentation = inst
	s.Resolver.SetInstrumentation(inst)
	s.Quota.SetInstrumentation(inst)
	s.Authenticator.SetInstrumentation(inst)
	s.Auditor.SetInstrumentation(inst)
	if s.Burst != nil {
		s.Burst.SetInstrumentation(inst)
	}
	if is, ok := s.store.(instrumentedStore); ok {
		is.SetInstrumentation(inst)
	}
}

// Store returns the quota store in use.
func (s *Server) Store() storage.QuotaStore {
	return s.store
}

// ResolveIdentity derives the caller identity for r.
func (s *Server) ResolveIdentity(r *http.Request) security.Identity {
	return s.Resolver.Resolve(r)
}

// Admit runs the burst limiter and then the quota check for id.
// A burst rejection returns ErrBurstLimited without consuming quota.
// Quota store failures are returned wrapped and the decision denies.
func (s *Server) Admit(ctx context.Context, id security.Identity) (security.Decision, error) {
	if s.Burst != nil && !s.Burst.Allow(ctx, id.Key) {
		return security.Decision{Allowed: false, Limit: s.Quota.Limit()}, ErrBurstLimited
	}
	return s.Quota.Check(ctx, id.Key)
}

// BurstRetryAfter returns how long a burst-limited caller should wait for
// the next token, in whole seconds and at least one second.
func (s *Server) BurstRetryAfter() time.Duration {
	rate := s.Config.RateLimit.BurstRate
	if rate <= 0 || rate >= 1 {
		return time.Second
	}
	return time.Duration(math.Ceil(1/rate)) * time.Second
}

// AuthenticateUpload checks decoded content against its declared type under
// the configured file ceiling.
func (s *Server) AuthenticateUpload(ctx context.Context, data []byte, declared string) upload.Outcome {
	return s.Authenticator.Authenticate(ctx, data, declared, s.Config.Upload.MaxFileBytes)
}

// ValidateText checks extracted text against the configured limits.
func (s *Server) ValidateText(text string) error {
	return s.textLimits.Validate(text)
}

// Stop releases background resources. An in-memory store created by
// NewServer is stopped; injected stores are left to their owner.
func (s *Server) Stop() {
	if s.Burst != nil {
		s.Burst.Stop()
	}
	if s.ownsStore {
		if mem, ok := s.store.(*memory.Store); ok {
			mem.Stop()
		}
	}
}
