package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"msgstream/internal/api"
	"msgstream/internal/config"
	"msgstream/internal/constants"
	"msgstream/internal/consumer"
	"msgstream/internal/feed"
	"msgstream/internal/idempotency"
	"msgstream/internal/logger"
	"msgstream/internal/messages"
	"msgstream/internal/moderation"
	"msgstream/internal/publishing"
	"msgstream/pkg/bootstrap"
	"msgstream/pkg/health"
	"msgstream/pkg/logging"
	"msgstream/pkg/metrics"
	"msgstream/pkg/middleware"
	"msgstream/pkg/ratelimit"
	"msgstream/pkg/tracing"
)

type App struct {
	*bootstrap.Base
	dbConnector    *bootstrap.DatabaseConnector
	db             *sql.DB
	redisClient    *redis.Client
	store          messages.Store
	feed           *feed.RecentBuffer
	consumer       *consumer.Consumer
	limiters       *ratelimit.Limiters
	healthRegistry *health.CheckerRegistry
	tracerProvider *tracing.TracerProvider
	server         *http.Server
}

func NewApp(cfg *config.Config, log logger.Logger) *App {
	if sugaredLogger, ok := log.(*logger.SugaredLogger); ok {
		sugaredLogger.SetServiceName(constants.ServiceName)
	}
	return &App{
		Base:           bootstrap.NewBase(cfg, log),
		dbConnector:    bootstrap.NewDatabaseConnector(cfg, log),
		healthRegistry: health.NewCheckerRegistry(),
	}
}

func (a *App) Initialize(ctx context.Context) error {
	metrics.RegisterAll()

	tp, err := tracing.Init(a.Config.Tracing, a.Config.Tracing.ServiceName)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	a.tracerProvider = tp

	if err := a.initDatabases(ctx); err != nil {
		return fmt.Errorf("failed to initialize databases: %w", err)
	}

	if err := a.InitBus(); err != nil {
		return fmt.Errorf("failed to initialize bus: %w", err)
	}

	handler := a.initServices(ctx)

	if err := a.initHTTPServer(handler); err != nil {
		return fmt.Errorf("failed to initialize HTTP server: %w", err)
	}

	return nil
}

func (a *App) initDatabases(ctx context.Context) error {
	db, err := a.dbConnector.InitPostgreSQL(ctx)
	if err != nil {
		return err
	}
	a.db = db
	a.healthRegistry.Register(health.NewPostgreSQLChecker(db))

	client, err := a.dbConnector.InitRedis(ctx)
	if err != nil {
		// Redis only backs the idempotency cache; publishing works without it.
		a.Logger.WarnwCtx(ctx, "Redis unavailable, Idempotency-Key handling disabled", "error", err)
		return nil
	}
	if client != nil {
		a.redisClient = client
		a.healthRegistry.Register(health.NewRedisChecker(client))
	}
	return nil
}

func (a *App) initServices(ctx context.Context) *api.Handler {
	cfg := a.Config

	a.store = messages.NewCircuitBreakerStore(
		messages.NewPostgresStore(a.db, cfg.Database.Postgres.StatementTimeout),
		cfg.CircuitBreaker,
	)
	a.feed = feed.NewRecentBuffer(cfg.Feed.Capacity)

	normalizer := moderation.NewNormalizer(moderation.Options{
		ExtraWords: cfg.Moderation.ExtraWords,
		Whitelist:  cfg.Moderation.Whitelist,
		Mask:       cfg.Moderation.Mask,
	})
	extractor := messages.NewIdentityExtractor(cfg.Publish.IDAttributes, cfg.Publish.SourceAttributes)

	publisher := publishing.NewService(
		a.Bus, a.store, normalizer, cfg.Publish, cfg.Broker.PublishTimeout, a.Logger.Named("publish"),
	)

	var idem api.Idempotency
	if a.redisClient != nil && cfg.Publish.Idempotency.Enabled {
		repo := idempotency.NewCircuitBreakerRepository(idempotency.NewRepository(a.redisClient), cfg.CircuitBreaker)
		idem = idempotency.NewService(repo, cfg.Publish.Idempotency, a.Logger)
		a.Logger.InfowCtx(ctx, "Idempotency-Key handling enabled", "ttl_seconds", cfg.Publish.Idempotency.TTLSeconds)
	}

	if cfg.Consumer.Enabled {
		proc := consumer.NewProcessor(a.store, a.feed, normalizer, extractor, a.Logger.Named("processor"))
		a.consumer = consumer.New(a.Bus, proc, cfg.Consumer, a.Logger)
		a.healthRegistry.Register(consumer.NewHealthChecker(a.consumer))
	}

	return api.NewHandler(publisher, a.store, a.feed, idem, a.healthRegistry, a.Logger)
}

func (a *App) initHTTPServer(handler *api.Handler) error {
	cfg := a.Config

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	if cfg.Tracing.Enabled {
		router.Use(tracing.GinMiddleware(constants.ServiceName))
	}

	router.Use(middleware.RecoveryMiddleware(a.Logger))
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.LoggerMiddleware(a.Logger))
	router.Use(middleware.CORSMiddleware(cfg.API.CORSOrigins))

	if cfg.API.RateLimit.Enabled {
		rateLimitConfig := ratelimit.FromConfig(cfg.API.RateLimit)
		a.limiters = ratelimit.NewLimiters(rateLimitConfig)
		router.Use(a.limiters.Middleware())
		a.Logger.Infow("Rate limiting enabled", "rps", rateLimitConfig.RPS, "burst", rateLimitConfig.Burst)
	}

	handler.RegisterRoutes(router)

	a.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	return nil
}

// Run serves HTTP and, when enabled, consumes the bus until ctx is cancelled
// or one of them fails, then shuts everything down.
func (a *App) Run(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.Logger.InfowCtx(ctx, "HTTP server starting", "port", a.Config.Server.Port)
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	if a.consumer != nil {
		g.Go(func() error {
			consumerCtx := logging.WithServiceName(gCtx, constants.ServiceName)
			a.Logger.InfowCtx(consumerCtx, "Starting bus consumer",
				"strategy", a.Config.Consumer.Strategy,
				"workers", a.Config.Consumer.Workers,
			)
			return a.consumer.Start(gCtx)
		})
	}

	if a.limiters != nil {
		g.Go(func() error {
			a.limiters.Run(gCtx)
			return nil
		})
	}

	// Stop the server once the context ends so ListenAndServe returns.
	g.Go(func() error {
		<-gCtx.Done()
		return a.shutdownServer()
	})

	runErr := g.Wait()
	if err := a.Shutdown(context.Background()); err != nil {
		if runErr == nil {
			return err
		}
		a.Logger.Errorw("Shutdown error", "error", err)
	}
	return runErr
}

func (a *App) shutdownServer() error {
	if a.server == nil {
		return nil
	}
	timeout := a.Config.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = constants.ShutdownTimeout
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("HTTP server shutdown error: %w", err)
	}
	return nil
}

func (a *App) Shutdown(ctx context.Context) error {
	shutdownCtx := logging.WithServiceName(ctx, constants.ServiceName)
	a.Logger.InfowCtx(shutdownCtx, "Shutting down msgstream")

	additionalShutdown := func(ctx context.Context) []error {
		var errs []error

		if a.tracerProvider != nil {
			if err := a.tracerProvider.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("tracer provider shutdown error: %w", err))
			}
		}

		errs = append(errs, a.dbConnector.ShutdownDatabases(ctx, a.redisClient, a.db)...)

		return errs
	}

	return a.Base.Shutdown(ctx, additionalShutdown)
}
