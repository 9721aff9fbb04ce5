// Package app assembles polyrun components from configuration. Both the
// polyrun CLI and the standalone server build their engine, store and
// HTTP server here.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rhuss/polyrun/pkg/api"
	"github.com/rhuss/polyrun/pkg/auth"
	"github.com/rhuss/polyrun/pkg/auth/apikey"
	"github.com/rhuss/polyrun/pkg/auth/jwt"
	"github.com/rhuss/polyrun/pkg/config"
	"github.com/rhuss/polyrun/pkg/debug"
	"github.com/rhuss/polyrun/pkg/engine"
	"github.com/rhuss/polyrun/pkg/mcpserver"
	"github.com/rhuss/polyrun/pkg/observability"
	"github.com/rhuss/polyrun/pkg/runner"
	"github.com/rhuss/polyrun/pkg/sandbox"
	"github.com/rhuss/polyrun/pkg/sandbox/kubernetes"
	"github.com/rhuss/polyrun/pkg/security"
	"github.com/rhuss/polyrun/pkg/storage/memory"
	"github.com/rhuss/polyrun/pkg/storage/postgres"
	"github.com/rhuss/polyrun/pkg/transport"
	transporthttp "github.com/rhuss/polyrun/pkg/transport/http"
)

// Version is reported by the status endpoint and the MCP server.
var Version = "dev"

// MCPPath is where the MCP streamable HTTP endpoint is mounted.
const MCPPath = "/mcp"

// SetupLogging installs the default slog handler from the logging section.
// POLYRUN_DEBUG and POLYRUN_LOG_LEVEL still take precedence.
func SetupLogging(cfg config.LoggingConfig) {
	debug.InitWithFormat(cfg.Debug, cfg.Level, cfg.Format)
}

// RunConfig builds the default per-run settings from cfg.
func RunConfig(cfg *config.Config) (engine.RunConfig, error) {
	limits := sandbox.DefaultLimits()
	if cfg.Sandbox.Memory != "" {
		mem, err := sandbox.ParseMemory(cfg.Sandbox.Memory)
		if err != nil {
			return engine.RunConfig{}, err
		}
		limits.MemoryBytes = mem
	}
	if cfg.Sandbox.CPUs > 0 {
		limits.CPUQuota = sandbox.CPUQuotaFor(cfg.Sandbox.CPUs, limits.CPUPeriod)
	}
	if cfg.Sandbox.PidsLimit > 0 {
		limits.PidsLimit = cfg.Sandbox.PidsLimit
	}
	if cfg.Sandbox.TmpfsSize != "" {
		limits.TmpfsSize = cfg.Sandbox.TmpfsSize
	}

	return engine.RunConfig{
		Languages:         append([]string(nil), cfg.Engine.Languages...),
		Timeout:           cfg.Engine.Timeout,
		Isolation:         cfg.Sandbox.Isolation != "" && cfg.Sandbox.Isolation != config.IsolationNone,
		ContinueOnFailure: cfg.Engine.ContinueOnFailure,
		Consolidate:       cfg.Engine.Consolidate,
		Limits:            limits,
	}, nil
}

// Validator builds the security validator from the security section.
func Validator(cfg config.SecurityConfig) *security.Validator {
	if !cfg.Enabled {
		return security.New(security.WithDisabled())
	}
	langs := make([]string, 0, len(cfg.Patterns))
	for lang := range cfg.Patterns {
		langs = append(langs, lang)
	}
	sort.Strings(langs)

	opts := make([]security.Option, 0, len(langs))
	for _, lang := range langs {
		opts = append(opts, security.WithPatterns(lang, cfg.Patterns[lang]...))
	}
	return security.New(opts...)
}

// IsolatedExecutor creates the isolated backend selected by cfg. It
// returns a nil executor for isolation "none". The returned function
// releases the backend's connections.
func IsolatedExecutor(cfg config.SandboxConfig, logger *slog.Logger) (sandbox.Executor, func() error, error) {
	noClose := func() error { return nil }

	switch cfg.Isolation {
	case "", config.IsolationNone:
		return nil, noClose, nil

	case config.IsolationDocker:
		d, err := sandbox.NewDocker(sandbox.DockerConfig{
			Host:        cfg.DockerHost,
			ImagePrefix: cfg.ImagePrefix,
			User:        cfg.User,
			Logger:      logger,
		})
		if err != nil {
			return nil, noClose, fmt.Errorf("creating docker backend: %w", err)
		}
		return d, d.Close, nil

	case config.IsolationRemote:
		var acq sandbox.Acquirer
		if cfg.Remote.URL != "" {
			acq = sandbox.StaticURL(cfg.Remote.URL)
		} else {
			k := cfg.Remote.Kubernetes
			claims, err := kubernetes.NewFromKubeconfig(kubernetes.Config{
				Template:     k.Template,
				Namespace:    k.Namespace,
				ClaimTimeout: k.ClaimTimeout,
				Port:         k.Port,
			}, logger)
			if err != nil {
				return nil, noClose, fmt.Errorf("creating sandbox claim acquirer: %w", err)
			}
			acq = claims
		}
		return sandbox.NewRemote(acq, sandbox.NewClient(cfg.Remote.Timeout), logger), noClose, nil

	default:
		return nil, noClose, fmt.Errorf("unknown isolation %q", cfg.Isolation)
	}
}

// NewEngine creates an engine from cfg. Extra options are applied last.
// The returned function releases the isolated backend.
func NewEngine(cfg *config.Config, logger *slog.Logger, opts ...engine.Option) (*engine.Engine, func() error, error) {
	if logger == nil {
		logger = slog.Default()
	}

	isolated, closeFn, err := IsolatedExecutor(cfg.Sandbox, logger)
	if err != nil {
		return nil, nil, err
	}

	var manifests []runner.Manifest
	if cfg.Engine.PluginsDir != "" {
		manifests, err = runner.LoadManifests(cfg.Engine.PluginsDir)
		if err != nil {
			closeFn()
			return nil, nil, fmt.Errorf("loading runner plugins: %w", err)
		}
		logger.Info("runner plugins loaded", "dir", cfg.Engine.PluginsDir, "count", len(manifests))
	}

	base := []engine.Option{
		engine.WithLogger(logger),
		engine.WithImagePrefix(cfg.Sandbox.ImagePrefix),
		engine.WithValidator(Validator(cfg.Engine.Security)),
		engine.WithManifests(manifests),
		engine.WithObserver(engine.MultiObserver{
			engine.NewLogObserver(logger),
			observability.MetricsObserver{},
		}),
	}
	if isolated != nil {
		base = append(base, engine.WithIsolatedExecutor(isolated))
	}

	return engine.New(append(base, opts...)...), closeFn, nil
}

// NewStore opens the project store selected by cfg.
func NewStore(ctx context.Context, cfg config.StorageConfig, logger *slog.Logger) (transport.ProjectStore, error) {
	switch cfg.Type {
	case "", "memory":
		logger.Info("storage enabled", "type", "memory", "max_size", cfg.MaxSize)
		return memory.New(cfg.MaxSize), nil
	case "postgres":
		store, err := postgres.New(ctx, postgres.Config{
			DSN:            cfg.Postgres.DSN,
			MaxConns:       cfg.Postgres.MaxConns,
			MigrateOnStart: cfg.Postgres.MigrateOnStart,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("opening postgres store: %w", err)
		}
		logger.Info("storage enabled", "type", "postgres", "max_conns", cfg.Postgres.MaxConns)
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.Type)
	}
}

// AuthMiddleware builds the authentication and rate limiting middleware.
func AuthMiddleware(cfg config.AuthConfig) (func(http.Handler) http.Handler, error) {
	chain := &auth.AuthChain{DefaultDecision: auth.No}

	switch cfg.Type {
	case "", "none":
		// Every caller is admitted as the anonymous identity.
		chain.DefaultDecision = auth.Yes

	case "apikey":
		entries := make([]apikey.RawKeyEntry, 0, len(cfg.APIKeys))
		for _, k := range cfg.APIKeys {
			id := auth.Identity{Subject: k.Subject, ServiceTier: k.ServiceTier}
			if k.Owner != "" {
				id.Metadata = map[string]string{"owner": k.Owner}
			}
			entries = append(entries, apikey.RawKeyEntry{Key: k.Key, Identity: id})
		}
		chain.Authenticators = []auth.Authenticator{apikey.New(entries)}

	case "jwt":
		j := cfg.JWT
		var secret []byte
		if j.Secret != "" {
			secret = []byte(j.Secret)
		}
		chain.Authenticators = []auth.Authenticator{jwt.New(jwt.Config{
			Issuer:     j.Issuer,
			Audience:   j.Audience,
			JWKSURL:    j.JWKSURL,
			Secret:     secret,
			UserClaim:  j.UserClaim,
			OwnerClaim: j.OwnerClaim,
			TierClaim:  j.TierClaim,
		})}

	default:
		return nil, fmt.Errorf("unknown auth type %q", cfg.Type)
	}

	var limiter auth.RateLimiter
	if cfg.RateLimit.RequestsPerMinute > 0 || len(cfg.RateLimit.Tiers) > 0 {
		tiers := make(map[string]auth.TierConfig, len(cfg.RateLimit.Tiers))
		for name, rpm := range cfg.RateLimit.Tiers {
			tiers[name] = auth.TierConfig{RequestsPerMinute: rpm}
		}
		limiter = auth.NewInProcessLimiter(tiers, cfg.RateLimit.RequestsPerMinute)
	}

	return auth.Middleware(chain, limiter, auth.DefaultBypassEndpoints), nil
}

// NewServer builds the HTTP façade. The MCP endpoint sits behind the same
// authentication as the REST routes; the metrics endpoint does not.
func NewServer(cfg *config.Config, e *engine.Engine, store transport.ProjectStore, logger *slog.Logger) (*transporthttp.Server, error) {
	if logger == nil {
		logger = slog.Default()
	}

	defaults, err := RunConfig(cfg)
	if err != nil {
		return nil, err
	}
	authMW, err := AuthMiddleware(cfg.Auth)
	if err != nil {
		return nil, err
	}

	validation := api.DefaultValidationConfig()
	executor := transport.NewEngineExecutor(e, defaults, validation)
	catalog := transport.NewEngineCatalog(e, defaults, Version)

	mcp := mcpserver.New(e, mcpserver.Config{
		Version:    Version,
		Defaults:   defaults,
		Validation: validation,
		Logger:     logger,
	})

	opts := []transporthttp.ServerOption{
		transporthttp.WithAddr(fmt.Sprintf(":%d", cfg.Server.Port)),
		transporthttp.WithMaxBodySize(cfg.Server.MaxBodySize),
		transporthttp.WithShutdownTimeout(cfg.Server.ShutdownTimeout),
		transporthttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout),
		transporthttp.WithLogger(logger),
		transporthttp.WithAllowedOrigins(cfg.Server.AllowedOrigins...),
		transporthttp.WithValidation(validation),
		transporthttp.WithHTTPMiddleware(observability.MetricsMiddleware, authMW),
		transporthttp.WithHandler(MCPPath, observability.MetricsMiddleware(authMW(mcp.Handler()))),
	}
	if cfg.Observability.Metrics.Enabled {
		opts = append(opts, transporthttp.WithHandler(cfg.Observability.Metrics.Path, promhttp.Handler()))
	}

	return transporthttp.NewServer(executor, catalog, store, opts...), nil
}

// Serve runs the HTTP façade described by cfg until ctx is done.
func Serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) (err error) {
	if logger == nil {
		logger = slog.Default()
	}

	e, closeEngine, err := NewEngine(cfg, logger)
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, closeEngine()) }()

	store, err := NewStore(ctx, cfg.Storage, logger)
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, store.Close()) }()

	srv, err := NewServer(cfg, e, store, logger)
	if err != nil {
		return err
	}

	logger.Info("polyrun server configured",
		"port", cfg.Server.Port,
		"isolation", cfg.Sandbox.Isolation,
		"storage", cfg.Storage.Type,
		"auth", cfg.Auth.Type,
	)
	return srv.Run(ctx)
}
