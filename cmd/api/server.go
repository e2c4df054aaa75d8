package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/plateo/feedengine/internal/api"
	"github.com/plateo/feedengine/internal/auth"
	"github.com/plateo/feedengine/internal/config"
	"github.com/plateo/feedengine/internal/content"
	"github.com/plateo/feedengine/internal/feed"
	"github.com/plateo/feedengine/internal/health"
	"github.com/plateo/feedengine/internal/middleware"
	"github.com/plateo/feedengine/internal/ranking"
	"github.com/plateo/feedengine/internal/stats"
	"github.com/plateo/feedengine/internal/tracing"
)

const (
	serviceName     = "feedengine"
	shutdownTimeout = 10 * time.Second
	limiterIdleTTL  = 10 * time.Minute
)

// stores is the storage backing one server instance. db and redis are nil
// in in-memory mode.
type stores struct {
	catalog  content.CatalogRepository
	profiles content.ProfileRepository
	views    content.ViewRepository
	db       *sql.DB
	redis    *redis.Client
}

func (s *stores) Close() error {
	var errs []error
	if s.db != nil {
		errs = append(errs, s.db.Close())
	}
	if s.redis != nil {
		errs = append(errs, s.redis.Close())
	}
	return errors.Join(errs...)
}

// openStores connects to PostgreSQL and Redis when configured and falls
// back to in-memory implementations otherwise.
func openStores(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*stores, error) {
	s := &stores{}

	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(30 * time.Minute)

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := db.PingContext(pingCtx); err != nil {
			db.Close()
			return nil, fmt.Errorf("connect to database: %w", err)
		}

		pg := content.NewPostgresStore(db)
		s.catalog, s.profiles, s.views, s.db = pg, pg, pg, db
		if cfg.SeedDataPath != "" {
			logger.Warn("SEED_DATA_PATH ignored with a database", "path", cfg.SeedDataPath)
		}
	} else {
		mem := content.NewInMemoryStore()
		if cfg.SeedDataPath == "" {
			logger.Warn("DATABASE_URL and SEED_DATA_PATH not set, serving an empty in-memory catalog")
		} else {
			counts, err := mem.LoadFixtureFile(cfg.SeedDataPath)
			if err != nil {
				return nil, fmt.Errorf("load seed data: %w", err)
			}
			logger.Info("in-memory catalog seeded",
				"path", cfg.SeedDataPath,
				"publishers", counts.Publishers,
				"viewers", counts.Viewers,
				"items", counts.Items,
			)
		}
		s.catalog, s.profiles, s.views = mem, mem, mem
	}

	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("parse REDIS_URL: %w", err)
		}
		s.redis = redis.NewClient(opts)
	} else {
		logger.Info("REDIS_URL not set, rate limits are per instance")
	}

	return s, nil
}

// app is the assembled HTTP handler plus the pieces run needs afterwards.
type app struct {
	handler      http.Handler
	upserts      *stats.UpsertStats
	localLimiter *middleware.InMemoryRateLimitStore // nil with Redis
}

// newApp wires the engine, handlers and middleware chain over st and
// registers all metrics with reg.
func newApp(cfg *config.Config, st *stores, reg *prometheus.Registry, logger *slog.Logger) (*app, error) {
	// A broken calibration file degrades to the default weights.
	calibration, err := ranking.LoadCalibration(cfg.RankingCalibrationPath)
	if err != nil {
		logger.Warn("ranking calibration not applied", "path", cfg.RankingCalibrationPath, "error", err)
	}

	feedMetrics := feed.NewMetrics()
	if err := feedMetrics.Register(reg); err != nil {
		return nil, fmt.Errorf("register feed metrics: %w", err)
	}
	httpMetrics := middleware.NewMetrics()
	if err := httpMetrics.Register(reg); err != nil {
		return nil, fmt.Errorf("register http metrics: %w", err)
	}
	upserts := stats.NewUpsertStats()
	for _, c := range upserts.Collectors("feed_view_event") {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register view metrics: %w", err)
		}
	}

	clock := ranking.SystemClock{}
	engine := feed.NewEngine(feed.EngineConfig{
		Scorer:  ranking.NewScorer(calibration, clock),
		Clock:   clock,
		Metrics: feedMetrics,
		Logger:  logger,
	}, st.catalog, st.profiles)

	tokens, err := auth.NewService(auth.Config{
		Secret:         cfg.JWTSecret,
		PreviousSecret: cfg.JWTPreviousSecret,
		Issuer:         cfg.JWTIssuer,
	})
	if err != nil {
		return nil, fmt.Errorf("create token service: %w", err)
	}

	a := &app{upserts: upserts}
	var limitStore middleware.RateLimitStore
	if st.redis != nil {
		limitStore = middleware.NewRedisRateLimitStore(st.redis, httpMetrics)
	} else {
		a.localLimiter = middleware.NewInMemoryRateLimitStore()
		limitStore = a.localLimiter
	}
	limitCfg := middleware.RateLimitConfig{
		RequestsPerWindow: cfg.RateLimitRequestsPerMinute,
		WindowDuration:    time.Minute,
	}
	if err := limitCfg.Validate(); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}

	// Checkers stay nil interfaces when the dependency is not configured.
	var healthCfg api.HealthHandlersConfig
	if st.db != nil {
		healthCfg.DBChecker = health.NewDBChecker(st.db)
	}
	if st.redis != nil {
		healthCfg.RedisChecker = health.NewRedisChecker(st.redis)
	}

	var metricsHandler http.Handler
	if cfg.MetricsEnabled {
		metricsHandler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
	}

	mux := api.NewRouter(api.RouterConfig{
		Feed: api.NewFeedHandlers(engine, api.FeedHandlersConfig{
			DefaultLimit:    cfg.FeedDefaultLimit,
			MaxLimit:        cfg.FeedMaxLimit,
			DefaultRadiusKm: cfg.NearbyDefaultRadiusKm,
		}),
		Views:     api.NewViewHandlers(st.views, upserts),
		Health:    api.NewHealthHandlers(healthCfg),
		Tokens:    tokens,
		RateLimit: middleware.RateLimiter(limitStore, limitCfg, middleware.ViewerKeyFunc(), httpMetrics),
		Metrics:   metricsHandler,
	})

	corsCfg := middleware.DefaultCORSConfig()
	corsCfg.AllowedOrigins = cfg.CORSAllowedOrigins

	// Outermost first: Tracing -> RequestID -> Logging -> HTTPMetrics -> CORS -> routes.
	var handler http.Handler = middleware.CORS(corsCfg)(mux)
	if cfg.MetricsEnabled {
		handler = middleware.HTTPMetrics(httpMetrics)(handler)
	}
	handler = middleware.Logging(logger)(handler)
	handler = middleware.RequestID(handler)
	handler = middleware.Tracing(serviceName)(handler)

	a.handler = handler
	return a, nil
}

// run starts the server on cfg.Port and blocks until ctx is canceled.
func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	provider, err := tracing.NewProvider(tracing.Config{
		ServiceName:    serviceName,
		ServiceVersion: version,
		Enabled:        cfg.TracingEnabled,
		Environment:    cfg.Env,
		ExporterType:   cfg.TracingExporter,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		SamplingRate:   cfg.TracingSampleRate,
		InsecureMode:   !cfg.IsProduction(),
	})
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			logger.Error("tracing shutdown failed", "error", err)
		}
	}()

	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	a, err := newApp(cfg, st, reg, logger)
	if err != nil {
		return err
	}
	defer a.upserts.LogSummary(logger, "view_event")

	if a.localLimiter != nil {
		go sweepLimiter(ctx, a.localLimiter)
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Port))
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	server := &http.Server{
		Handler:           a.handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return serve(ctx, server, ln, logger)
}

// serve runs server on ln until ctx is canceled, then drains in-flight
// requests for up to shutdownTimeout.
func serve(ctx context.Context, server *http.Server, ln net.Listener, logger *slog.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", "addr", ln.Addr().String())
		errCh <- server.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// sweepLimiter drops idle in-memory rate limit buckets until ctx ends.
func sweepLimiter(ctx context.Context, store *middleware.InMemoryRateLimitStore) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			store.Cleanup(limiterIdleTTL)
		}
	}
}
