package internal

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dgellow/mcp-workers/internal/config"
	"github.com/dgellow/mcp-workers/internal/crypto"
	"github.com/dgellow/mcp-workers/internal/instrumentation"
	"github.com/dgellow/mcp-workers/internal/log"
	"github.com/dgellow/mcp-workers/internal/oauth"
	"github.com/dgellow/mcp-workers/internal/ratelimit"
	"github.com/dgellow/mcp-workers/internal/server"
	"github.com/dgellow/mcp-workers/internal/storage"
)

const (
	shutdownTimeout = 30 * time.Second
	csrfTTL         = 10 * time.Minute
)

// App is the assembled authorization server with its background workers.
type App struct {
	config  config.Config
	issuer  string
	store   storage.Store
	inst    *instrumentation.Instrumentation
	limiter *ratelimit.Limiter
	cleanup *storage.CleanupManager
	handler http.Handler
	running bool

	httpServer    *server.HTTPServer
	metricsServer *server.HTTPServer
}

// NewApp builds every component from cfg. Nothing listens until Run.
func NewApp(ctx context.Context, cfg config.Config, version string) (*App, error) {
	issuer := config.ResolveBaseURL(&cfg, nil)
	log.LogInfoWithFields("app", "Building authorization server", map[string]any{
		"issuer":  issuer,
		"storage": cfg.Storage,
		"addr":    cfg.Addr,
	})

	inst, err := instrumentation.New(ctx, instrumentation.Config{
		ServiceName:    "mcp-workers",
		ServiceVersion: version,
		Enabled:        cfg.Metrics.Enabled,
		Tracing: instrumentation.TracingConfig{
			Enabled:  cfg.Tracing.Enabled,
			Endpoint: cfg.Tracing.Endpoint,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to setup instrumentation: %w", err)
	}
	metrics := inst.Metrics()

	store, err := OpenStore(ctx, cfg, metrics)
	if err != nil {
		_ = inst.Shutdown(ctx)
		return nil, fmt.Errorf("failed to setup storage: %w", err)
	}

	if err := provisionDeployments(ctx, store, cfg.Deployments); err != nil {
		_ = store.Close()
		_ = inst.Shutdown(ctx)
		return nil, err
	}

	csrfKey, err := csrfSigningKey(cfg)
	if err != nil {
		_ = store.Close()
		_ = inst.Shutdown(ctx)
		return nil, err
	}

	handlers, err := server.NewAuthHandlers(server.AuthHandlersConfig{
		Issuer:    issuer,
		Registrar: oauth.NewRegistrar(store, nil, metrics),
		Flow: oauth.NewAuthorizationFlow(store, oauth.AuthorizationFlowConfig{
			Password: string(cfg.AuthorizationPassword),
			Metrics:  metrics,
		}),
		Exchange: oauth.NewTokenExchange(store, oauth.TokenExchangeConfig{
			Issuer:  issuer,
			Metrics: metrics,
		}),
		CSRF:   crypto.NewCSRFProtection(csrfKey, csrfTTL),
		Tracer: inst.Tracer("server"),
	})
	if err != nil {
		_ = store.Close()
		_ = inst.Shutdown(ctx)
		return nil, fmt.Errorf("failed to build handlers: %w", err)
	}

	var limiter *ratelimit.Limiter
	if cfg.RateLimit.RPS > 0 {
		limiter = ratelimit.New(cfg.RateLimit.RPS, cfg.RateLimit.Burst)
	}

	handler := server.NewRouter(handlers, server.RouterConfig{
		AllowedOrigins: cfg.AllowedOrigins,
		RateLimiter:    limiter,
		Metrics:        metrics,
	})

	app := &App{
		config:     cfg,
		issuer:     issuer,
		store:      store,
		inst:       inst,
		limiter:    limiter,
		handler:    handler,
		httpServer: server.NewHTTPServer("oauth", handler, cfg.Addr),
	}
	if cfg.CleanupInterval > 0 {
		app.cleanup = storage.NewCleanupManager(store, cfg.CleanupInterval)
	}
	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", inst.Handler())
		app.metricsServer = server.NewHTTPServer("metrics", mux, cfg.Metrics.Addr)
	}
	return app, nil
}

// Issuer is the resolved public base URL.
func (a *App) Issuer() string {
	return a.issuer
}

// Handler is the routed HTTP handler, without a listener.
func (a *App) Handler() http.Handler {
	return a.handler
}

// Run serves until ctx is cancelled, SIGINT or SIGTERM arrives, or a listener
// fails, then shuts everything down.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	a.running = true

	if a.limiter != nil {
		a.limiter.Start()
	}
	if a.cleanup != nil {
		a.cleanup.Start(context.WithoutCancel(ctx))
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := a.httpServer.Start(); err != nil {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})
	if a.metricsServer != nil {
		g.Go(func() error {
			if err := a.metricsServer.Start(); err != nil {
				return fmt.Errorf("metrics server error: %w", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		log.LogInfoWithFields("app", "Starting graceful shutdown", map[string]any{
			"timeout": shutdownTimeout.String(),
		})
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()

		var errs []error
		errs = append(errs, a.httpServer.Stop(shutdownCtx))
		if a.metricsServer != nil {
			errs = append(errs, a.metricsServer.Stop(shutdownCtx))
		}
		return errors.Join(errs...)
	})

	runErr := g.Wait()
	if err := a.Close(context.WithoutCancel(ctx)); err != nil && runErr == nil {
		runErr = err
	}
	if runErr != nil {
		log.LogErrorWithFields("app", "Shut down with error", map[string]any{"error": runErr.Error()})
		return runErr
	}
	log.LogInfo("Application shutdown complete")
	return nil
}

// Close stops the background workers and releases storage and telemetry.
func (a *App) Close(ctx context.Context) error {
	// the cleanup loop only exists once Run started it
	if a.cleanup != nil && a.running {
		a.cleanup.Stop()
	}
	if a.limiter != nil {
		a.limiter.Stop()
	}
	return errors.Join(a.store.Close(), a.inst.Shutdown(ctx))
}

// OpenStore opens the configured credential store, instrumented when metrics is non-nil.
func OpenStore(ctx context.Context, cfg config.Config, metrics *instrumentation.Metrics) (storage.Store, error) {
	encryptor, err := storeEncryptor(cfg)
	if err != nil {
		return nil, err
	}

	var (
		store storage.Store
		kind  storage.Kind
	)
	switch cfg.Storage {
	case config.StorageFirestore:
		log.LogInfoWithFields("storage", "Using Firestore storage", map[string]any{
			"project":    cfg.Firestore.Project,
			"database":   cfg.Firestore.Database,
			"collection": cfg.Firestore.Collection,
		})
		kind = storage.KindFirestore
		store, err = storage.NewFirestoreStorage(ctx,
			cfg.Firestore.Project,
			cfg.Firestore.Database,
			cfg.Firestore.Collection,
			encryptor,
		)
	case config.StoragePostgres:
		log.LogInfoWithFields("storage", "Using Postgres storage", map[string]any{
			"migrate": cfg.Postgres.Migrate,
		})
		kind = storage.KindPostgres
		store, err = storage.NewPostgresStorage(ctx, storage.PostgresOptions{
			DSN:       string(cfg.Postgres.DSN),
			Migrate:   cfg.Postgres.Migrate,
			Encryptor: encryptor,
		})
	case config.StorageMemory, "":
		log.LogInfoWithFields("storage", "Using in-memory storage", nil)
		kind = storage.KindMemory
		store, err = storage.NewMemoryStorage(encryptor)
	default:
		return nil, fmt.Errorf("unknown storage %q", cfg.Storage)
	}
	if err != nil {
		return nil, err
	}
	return storage.WithMetrics(store, kind, metrics), nil
}

// provisionDeployments maps the configured deployments so that a fresh store can
// issue tokens for them. A deployment without a configured secret keeps the one
// already stored, or gets a generated one the worker cannot know.
func provisionDeployments(ctx context.Context, store oauth.CredentialStore, deployments []config.DeploymentConfig) error {
	p := oauth.NewProvisioner(store)
	for _, d := range deployments {
		secret := string(d.Secret)
		if secret == "" {
			existing, err := store.GetSecret(ctx, d.Slug)
			switch {
			case err == nil:
				secret = existing
			case !errors.Is(err, oauth.ErrNotFound):
				return fmt.Errorf("failed to read secret for deployment %s: %w", d.Slug, err)
			}
		}

		if secret != "" {
			if _, err := p.ProvisionWithSecret(ctx, d.Slug, d.URL, secret); err != nil {
				return fmt.Errorf("failed to provision deployment %s: %w", d.Slug, err)
			}
			continue
		}
		if _, err := p.Provision(ctx, d.Slug, d.URL); err != nil {
			return fmt.Errorf("failed to provision deployment %s: %w", d.Slug, err)
		}
		log.LogWarnWithFields("app", "Generated a signing secret for deployment, set deployments[].secret to share it with the worker", map[string]any{
			"slug": d.Slug,
		})
	}
	return nil
}

// storeEncryptor uses the configured key. Memory storage may run without one,
// in which case a throwaway key lives as long as the process.
func storeEncryptor(cfg config.Config) (crypto.Encryptor, error) {
	key := []byte(cfg.EncryptionKey)
	if len(key) == 0 {
		if cfg.Storage != config.StorageMemory && cfg.Storage != "" {
			return nil, fmt.Errorf("encryptionKey is required for %s storage", cfg.Storage)
		}
		log.LogWarn("No encryptionKey configured, using an ephemeral key for in-memory storage")
		generated, err := crypto.GenerateKey()
		if err != nil {
			return nil, err
		}
		key = generated
	}
	encryptor, err := crypto.NewEncryptor(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create encryptor: %w", err)
	}
	return encryptor, nil
}

// csrfSigningKey derives the consent form key from the encryption key so that
// every instance behind a load balancer accepts the same forms.
func csrfSigningKey(cfg config.Config) ([]byte, error) {
	if cfg.EncryptionKey == "" {
		return crypto.GenerateKey()
	}
	return []byte(crypto.SignData("csrf", []byte(cfg.EncryptionKey))), nil
}
