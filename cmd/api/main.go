package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	validator "github.com/go-playground/validator/v10"
	migrate "github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	limiter "github.com/ulule/limiter/v3"
	limiterhttp "github.com/ulule/limiter/v3/drivers/middleware/stdlib"
	limiterredis "github.com/ulule/limiter/v3/drivers/store/redis"

	"github.com/Snippy-project/Snippy-backend/internal/auth"
	"github.com/Snippy-project/Snippy-backend/internal/config"
	"github.com/Snippy-project/Snippy-backend/internal/ecpay"
	"github.com/Snippy-project/Snippy-backend/internal/fulfillment"
	"github.com/Snippy-project/Snippy-backend/internal/health"
	"github.com/Snippy-project/Snippy-backend/internal/obs"
	"github.com/Snippy-project/Snippy-backend/internal/order"
	"github.com/Snippy-project/Snippy-backend/internal/product"
	"github.com/Snippy-project/Snippy-backend/internal/queue"
	"github.com/Snippy-project/Snippy-backend/internal/quota"
	"github.com/Snippy-project/Snippy-backend/internal/subscription"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logFormat := envOrDefault("OBS_LOG_FORMAT", "json")
	logLevel := envOrDefault("OBS_LOG_LEVEL", "info")
	logger := obs.NewLogger(logFormat, logLevel).With().Str("env", cfg.AppEnv).Logger()

	metricsNamespace := envOrDefault("OBS_METRICS_NAMESPACE", "snippy")
	metricsEnabled := envBool("OBS_ENABLE_PROMETHEUS", true)
	obs.MustRegisterDomainMetrics(metricsNamespace, nil)

	tracingEnabled := envBool("OBS_ENABLE_TRACING", true)
	if tracingEnabled {
		shutdown, err := obs.InitTracer(context.Background(), obs.TracingConfig{
			ServiceName:   "snippy-api",
			Endpoint:      envOrDefault("OBS_OTLP_ENDPOINT", ""),
			SamplingRatio: envFloat("OBS_TRACING_SAMPLING_RATIO", 1.0),
			Environment:   cfg.AppEnv,
		})
		if err != nil {
			logger.Error().Err(err).Msg("initialise tracing")
			tracingEnabled = false
		} else {
			defer func() {
				if err := shutdown(context.Background()); err != nil {
					logger.Error().Err(err).Msg("shutdown tracer")
				}
			}()
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runMigrations(cfg, logger)

	pool := mustInitDatabase(ctx, cfg, logger, "snippy-api")
	defer pool.Close()

	redisClient := mustInitRedis(ctx, cfg, logger, metricsEnabled)
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error().Err(err).Msg("close redis")
		}
	}()

	validate := validator.New()

	gateway := ecpay.NewClient(ecpay.Config{
		ServiceURL: cfg.ECPayServiceURL,
		MerchantID: cfg.ECPayMerchantID,
		HashKey:    cfg.ECPayHashKey,
		HashIV:     cfg.ECPayHashIV,
	})

	productStore := &product.Store{Pool: pool}
	orderStore := &order.Store{Pool: pool}
	quotaStore := &quota.Store{Pool: pool}
	subStore := &subscription.Store{Pool: pool}

	engine := &fulfillment.Engine{
		Store:  &fulfillment.PGStore{Pool: pool, Quotas: quotaStore, Subs: subStore},
		Logger: logger.With().Str("component", "fulfillment").Logger(),
	}
	scheduler := fulfillment.Scheduler{
		Enq:         queue.Enqueuer{R: redisClient, Prefix: cfg.QueuePrefix, DedupTTL: cfg.QueueDedupTTL},
		MaxAttempts: cfg.QueueMaxAttempts,
		Delay:       cfg.QueueRetryBase,
	}

	orderSvc := &order.Service{
		Orders:          orderStore,
		Products:        productStore,
		Gateway:         gateway,
		Fulfill:         engine,
		Retry:           scheduler,
		Logger:          logger.With().Str("component", "order").Logger(),
		CallbackURL:     cfg.CallbackURL(),
		FrontendBaseURL: cfg.FrontendBaseURL,
	}

	orderHandler := &order.Handler{
		Svc:           orderSvc,
		V:             validate,
		AllowSimulate: cfg.AppEnv != "production",
	}
	productHandler := &product.Handler{Store: productStore, V: validate}
	quotaHandler := &quota.Handler{Store: quotaStore}
	subHandler := &subscription.Handler{Store: subStore}
	dlqAdmin := &queue.AdminHandler{
		Store: &queue.DLQStore{Pool: pool},
		Enq:   queue.Enqueuer{R: redisClient, Prefix: cfg.QueuePrefix, DedupTTL: cfg.QueueDedupTTL},
	}

	authMiddleware := auth.Middleware{Secret: []byte(cfg.JWTSecret)}

	rateLimit := newRateLimiter(redisClient, cfg.RateLimitPerMin, logger)

	var httpMetrics *obs.HTTPMetrics
	if metricsEnabled {
		httpMetrics = obs.NewHTTPMetrics(metricsNamespace, nil)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(obs.RoutePatternMiddleware)
	if tracingEnabled {
		r.Use(obs.TracingMiddleware)
	}
	if httpMetrics != nil {
		r.Use(obs.HTTPObs{Metrics: httpMetrics}.Middleware)
	}
	r.Use(obs.RequestLogger{Logger: logger}.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins(cfg),
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	if rateLimit != nil {
		r.Use(rateLimit.Handler)
	}

	if metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	healthHandler := health.Handler{Checker: health.Probes{Pool: pool, Redis: redisClient}}
	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)

	r.Route("/api", func(api chi.Router) {
		api.Get("/products", productHandler.List)
		api.Get("/products/{productId}", productHandler.Get)

		// The gateway posts here; no auth, the CheckMacValue is the credential.
		api.Post("/orders/payment/callback", orderHandler.Callback)

		api.Group(func(protected chi.Router) {
			protected.Use(authMiddleware.RequireAuth)
			protected.Post("/orders", orderHandler.Create)
			protected.Get("/orders", orderHandler.List)
			protected.Get("/orders/{orderId}", orderHandler.Get)
			protected.Get("/orders/{orderId}/payment", orderHandler.PaymentPage)
			protected.Post("/orders/{orderId}/simulate-payment", orderHandler.SimulatePayment)
			protected.Get("/quotas/me", quotaHandler.Me)
			protected.Get("/subscriptions/me", subHandler.Me)
		})

		api.Route("/admin", func(admin chi.Router) {
			admin.Use(authMiddleware.RequireAuth)
			admin.Post("/products", productHandler.Create)
			admin.Patch("/products/{productId}", productHandler.Update)
			admin.Get("/queue/dlq", dlqAdmin.List)
			admin.Post("/queue/dlq/{dlqId}/requeue", dlqAdmin.Requeue)
			admin.Delete("/queue/dlq/{dlqId}", dlqAdmin.Delete)
		})
	})

	srv := &http.Server{
		Addr:    cfg.HTTPAddr(),
		Handler: r,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("shutdown http server")
		}
	}()

	logger.Info().Str("addr", srv.Addr).Msg("server starting")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("server exited unexpectedly")
	}
	logger.Info().Msg("server shutdown complete")
}

func runMigrations(cfg *config.Config, logger zerolog.Logger) {
	m, err := migrate.New("file://"+cfg.MigrationsPath, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise migrations")
	}
	defer m.Close()
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		logger.Fatal().Err(err).Msg("run migrations")
	}
}

func mustInitDatabase(ctx context.Context, cfg *config.Config, logger zerolog.Logger, appName string) *pgxpool.Pool {
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse database config")
	}
	poolConfig.ConnConfig.Tracer = obs.PGXTracer{}
	if poolConfig.ConnConfig.RuntimeParams == nil {
		poolConfig.ConnConfig.RuntimeParams = map[string]string{}
	}
	poolConfig.ConnConfig.RuntimeParams["application_name"] = appName

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect database")
	}
	if err := pool.Ping(ctx); err != nil {
		logger.Fatal().Err(err).Msg("ping database")
	}
	return pool
}

func mustInitRedis(ctx context.Context, cfg *config.Config, logger zerolog.Logger, metricsEnabled bool) *redis.Client {
	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis url")
	}
	redisClient := redis.NewClient(redisOpts)
	if err := redisotel.InstrumentTracing(redisClient); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if metricsEnabled {
		if err := redisotel.InstrumentMetrics(redisClient); err != nil {
			logger.Error().Err(err).Msg("instrument redis metrics")
		}
	}
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatal().Err(err).Msg("ping redis")
	}
	return redisClient
}

func newRateLimiter(redisClient *redis.Client, perMinute int, logger zerolog.Logger) *limiterhttp.Middleware {
	if perMinute <= 0 {
		return nil
	}
	store, err := limiterredis.NewStoreWithOptions(redisClient, limiter.StoreOptions{Prefix: "snippy:ratelimit"})
	if err != nil {
		logger.Error().Err(err).Msg("initialise rate limiter store")
		return nil
	}
	rate := limiter.Rate{Period: time.Minute, Limit: int64(perMinute)}
	return limiterhttp.NewMiddleware(limiter.New(store, rate))
}

func allowedOrigins(cfg *config.Config) []string {
	if len(cfg.CORSAllowedOrigins) == 0 {
		return []string{"*"}
	}
	return cfg.CORSAllowedOrigins
}

func envOrDefault(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		trimmed := strings.TrimSpace(val)
		if trimmed != "" {
			return trimmed
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		switch strings.ToLower(strings.TrimSpace(val)) {
		case "1", "t", "true", "yes", "on":
			return true
		case "0", "f", "false", "no", "off":
			return false
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.ParseFloat(strings.TrimSpace(val), 64); err == nil {
			return parsed
		}
	}
	return fallback
}
