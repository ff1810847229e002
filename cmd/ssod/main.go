package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/caremesh/ssocore/pkg/audit"
	"github.com/caremesh/ssocore/pkg/config"
	"github.com/caremesh/ssocore/pkg/httputil"
	"github.com/caremesh/ssocore/pkg/middleware"
	"github.com/caremesh/ssocore/pkg/observability"
	"github.com/caremesh/ssocore/pkg/sso"
	"github.com/caremesh/ssocore/pkg/state"
	"github.com/caremesh/ssocore/pkg/token"
)

// version is set at build time via -ldflags.
var version = "dev"

// maxRequestBody bounds request bodies; SAML responses are the largest
// expected payload.
const maxRequestBody = 1 << 20

func main() {
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("ssod %s\n", version)
		return
	}

	log := setupLogger(os.Getenv("SSOCORE_LOG_LEVEL"))

	cfg, err := config.LoadConfig()
	if err != nil {
		log.WithError(err).Fatal("Failed to load configuration")
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	otelProviders, err := observability.InitOTel(ctx, cfg.Observability.OTel, logger)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize OpenTelemetry")
	}

	tokens, err := token.NewService(token.Config{
		SigningSecret: []byte(cfg.Token.SigningSecret),
		Issuer:        cfg.Token.Issuer,
		Audience:      cfg.Token.Audience,
		SessionTTL:    cfg.Token.SessionTTL,
	})
	if err != nil {
		log.WithError(err).Fatal("Failed to create token service")
	}

	states, redisStore, err := buildStateStore(ctx, cfg.State)
	if err != nil {
		log.WithError(err).Fatal("Failed to create state store")
	}
	log.WithField("backend", cfg.State.Backend).Info("Handshake state store ready")

	sink, err := buildAuditSink(cfg.Audit)
	if err != nil {
		log.WithError(err).Fatal("Failed to create audit sink")
	}
	log.WithField("backend", cfg.Audit.Backend).Info("Audit sink ready")

	promRegistry := prometheus.NewRegistry()
	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(promRegistry)
	}

	registry := sso.NewRegistry()
	fileManaged := map[string]bool{}
	if cfg.Providers.File != "" {
		configs, err := config.LoadProviders(cfg.Providers.File)
		if err != nil {
			log.WithError(err).Fatal("Failed to load provider definitions")
		}
		fileManaged = applyProviders(ctx, registry, configs, fileManaged, logger)
		log.WithField("count", len(fileManaged)).Info("Registered identity providers")
	}

	manager, err := sso.NewManager(sso.ManagerConfig{
		Registry:    registry,
		Tokens:      tokens,
		States:      states,
		Audit:       sink,
		Logger:      logger,
		Metrics:     metrics,
		StateWindow: cfg.State.Window,
	})
	if err != nil {
		log.WithError(err).Fatal("Failed to create SSO manager")
	}

	if cfg.Providers.Watch {
		go func() {
			err := config.WatchProviders(ctx, cfg.Providers.File, logger, func(configs []*sso.ProviderConfig) {
				fileManaged = applyProviders(ctx, registry, configs, fileManaged, logger)
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.WithError(err).Error("Provider watcher stopped")
			}
		}()
		log.WithField("file", cfg.Providers.File).Info("Watching provider definitions for changes")
	}

	// Main server: the SSO surface with auth, rate limiting, metrics, and
	// tracing wrapped around it.
	router := mux.NewRouter()
	sso.NewHandlers(manager, logger).RegisterRoutes(router)

	var distributedLimits *middleware.DistributedRateLimitMiddleware
	var rateLimit func(http.Handler) http.Handler
	if redisStore != nil {
		distributedLimits = middleware.NewDistributedRateLimitMiddleware(redisStore.Client())
		rateLimit = distributedLimits.Handler
	} else {
		rateLimit = middleware.NewRateLimitMiddleware().Handler
	}

	chain := []func(http.Handler) http.Handler{
		httputil.RequestIDMiddleware,
		httputil.LoggingMiddleware(logger),
		httputil.RecoveryMiddleware(logger),
	}
	if metrics != nil {
		chain = append(chain, observability.HTTPMetricsMiddleware(metrics))
	}
	chain = append(chain,
		// Optional auth: public login endpoints pass through, while
		// requests carrying a session token get rate limited per session.
		middleware.NewAuthMiddleware(tokens, true).Handler,
		rateLimit,
		httputil.MaxBytesMiddleware(maxRequestBody),
	)
	handler := otelhttp.NewHandler(httputil.Chain(chain...)(router), "ssod")

	server := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Health and metrics server on a separate port for probes.
	checker := observability.NewHealthChecker()
	if redisStore != nil {
		checker.RegisterCheck("state-store", observability.RedisCheck(redisStore.Client()))
	}
	if distributedLimits != nil {
		checker.RegisterOptionalCheck("ratelimit-redis", distributedLimits.HealthCheck)
	}
	checker.RegisterOptionalCheck("providers", func(ctx context.Context) error {
		for name, err := range manager.ProviderHealth(ctx) {
			if err != nil {
				return fmt.Errorf("provider %s: %w", name, err)
			}
		}
		return nil
	})

	healthMux := http.NewServeMux()
	observability.RegisterHealthRoutes(healthMux, checker)
	if cfg.Observability.MetricsEnabled {
		observability.RegisterMetricsEndpoint(healthMux, promRegistry)
	}
	healthServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		Handler:      healthMux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Periodic sweep of expired handshake state and revocation entries.
	sweeper := cron.New()
	_, err = sweeper.AddFunc(cfg.Observability.SweepSchedule, func() {
		defer observability.RecoverPanic(logger, "expiry sweep")

		sweepCtx, sweepCancel := context.WithTimeout(ctx, 30*time.Second)
		defer sweepCancel()

		stats, err := manager.CleanupExpired(sweepCtx)
		if err != nil {
			logger.WithError(err).Error("Expiry sweep failed")
			return
		}
		logger.WithFields(map[string]interface{}{
			"states_swept":      stats.StatesSwept,
			"states_active":     stats.StatesActive,
			"revocations_swept": stats.RevocationsSwept,
		}).Debug("Expiry sweep complete")

		publishProviderCounts(metrics, registry)
	})
	if err != nil {
		log.WithError(err).Fatal("Invalid sweep schedule")
	}
	sweeper.Start()
	publishProviderCounts(metrics, registry)

	go func() {
		log.WithField("addr", healthServer.Addr).Info("Health server listening")
		if err := healthServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("Health server failed")
		}
	}()

	go func() {
		log.WithField("addr", server.Addr).WithField("version", version).Info("SSO server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("SSO server failed")
		}
	}()

	// Closers run in reverse registration order: the sweeper stops first so
	// no cleanup pass races the closing sink and redis connection, and the
	// telemetry pipeline flushes last.
	shutdown := observability.NewShutdownManager(logger, cfg.Server.ShutdownTimeout)
	shutdown.RegisterServer("sso", server)
	shutdown.RegisterServer("health", healthServer)
	shutdown.RegisterCloser("otel", otelProviders.Shutdown)
	if redisStore != nil {
		shutdown.RegisterCloser("redis", func(context.Context) error {
			return redisStore.Client().Close()
		})
	}
	shutdown.RegisterCloser("audit-sink", func(context.Context) error {
		return sink.Close()
	})
	shutdown.RegisterCloser("sweeper", func(ctx context.Context) error {
		cancel()
		stopCtx := sweeper.Stop()
		select {
		case <-stopCtx.Done():
			return nil
		case <-ctx.Done():
			return fmt.Errorf("sweep job did not finish before shutdown deadline")
		}
	})

	if err := shutdown.Wait(); err != nil {
		os.Exit(1)
	}
}

// setupLogger configures the startup logger. Components log structured JSON
// through pkg/observability; this one covers boot and fatal paths.
func setupLogger(level string) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	logLevel, err := logrus.ParseLevel(level)
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

	return logger
}

// buildStateStore creates the handshake state store for the configured
// backend. The Redis store is also returned concretely so its connection can
// be shared with health checks and rate limiting.
func buildStateStore(ctx context.Context, cfg config.StateConfig) (state.Store, *state.RedisStore, error) {
	switch cfg.Backend {
	case "redis":
		store, err := state.NewRedisStore(ctx, state.RedisConfig{
			URL:      cfg.RedisURL,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			PoolSize: cfg.RedisPoolSize,
			Window:   cfg.Window,
		})
		if err != nil {
			return nil, nil, err
		}
		return store, store, nil
	default:
		return state.NewMemoryStore(cfg.Window), nil, nil
	}
}

// buildAuditSink creates the configured audit sink.
func buildAuditSink(cfg config.AuditConfig) (audit.Logger, error) {
	fileConfig := audit.FileLoggerConfig{
		BasePath: cfg.FilePath,
		Rotate:   cfg.Rotate,
		MaxSize:  cfg.MaxSize,
		MaxFiles: cfg.MaxFiles,
	}

	switch cfg.Backend {
	case "file":
		return audit.NewFileLogger(fileConfig)
	case "multi":
		fileSink, err := audit.NewFileLogger(fileConfig)
		if err != nil {
			return nil, err
		}
		return audit.NewMultiLogger(audit.NewMemoryLogger(cfg.MemoryCapacity), fileSink), nil
	default:
		return audit.NewMemoryLogger(cfg.MemoryCapacity), nil
	}
}

// applyProviders registers the given provider set and removes file-managed
// providers that are no longer present. Providers registered through the
// admin API are left alone. Returns the new set of file-managed names.
func applyProviders(ctx context.Context, registry *sso.Registry, configs []*sso.ProviderConfig, previous map[string]bool, logger *observability.Logger) map[string]bool {
	current := make(map[string]bool, len(configs))
	for _, pc := range configs {
		p, err := sso.NewProvider(ctx, pc)
		if err != nil {
			logger.WithError(err).WithField("provider", pc.Name).Error("Skipping provider")
			continue
		}
		if err := registry.Register(p); err != nil {
			logger.WithError(err).WithField("provider", pc.Name).Error("Failed to register provider")
			continue
		}
		current[pc.Name] = true
	}

	for name := range previous {
		if !current[name] {
			registry.Remove(name)
			logger.WithField("provider", name).Info("Removed provider no longer in definitions file")
		}
	}
	return current
}

// publishProviderCounts refreshes the registered-provider gauges.
func publishProviderCounts(metrics *observability.Metrics, registry *sso.Registry) {
	counts := make(map[string]int)
	for protocol, names := range registry.List() {
		counts[string(protocol)] = len(names)
	}
	metrics.SetProviders(counts)
}
