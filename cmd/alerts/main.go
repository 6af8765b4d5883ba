package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"pricealerts/internal/auth"
	"pricealerts/internal/cache"
	"pricealerts/internal/config"
	"pricealerts/internal/database"
	"pricealerts/internal/events"
	"pricealerts/internal/handlers"
	"pricealerts/internal/logger"
	"pricealerts/internal/metrics"
	"pricealerts/internal/ratelimit"
	"pricealerts/internal/service"
	"pricealerts/internal/tracing"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type alertStore interface {
	service.Store
	Ping(ctx context.Context) error
}

func main() {
	port := flag.String("port", "", "Port for alerts service (overrides PORT)")
	instance := flag.String("instance", "", "Instance ID for this server (overrides INSTANCE_ID)")
	dbConn := flag.String("db", "", "Database connection string (overrides DATABASE_URL)")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(ctx)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *port != "" {
		cfg.Port = *port
	}
	if *instance != "" {
		cfg.Instance = *instance
	}
	if *dbConn != "" {
		cfg.Database.URL = *dbConn
	}

	logg, err := logger.New(cfg.LogLevel, cfg.LogDevelopment)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer func() { _ = logg.Sync() }()
	logg = logg.With(zap.String("instance", cfg.Instance))

	if err := run(ctx, cfg, logg); err != nil {
		logg.Fatal("Alerts service stopped", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, logg *zap.Logger) error {
	shutdownTracer, err := tracing.InitTracer(ctx, cfg.ServiceName, cfg.OTLPEndpoint)
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			logg.Error("Failed to shutdown tracer", zap.Error(err))
		}
	}()

	store, closeStore, err := openStore(ctx, cfg, logg)
	if err != nil {
		return err
	}
	defer closeStore()

	var redisClient *redis.Client
	if cfg.UsesRedis() {
		redisClient, err = cache.NewRedisClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return err
		}
		defer redisClient.Close()
		logg.Info("Connected to Redis", zap.String("addr", cfg.Redis.Addr))
	}

	queryCache, closeCache, err := openCache(ctx, cfg, redisClient, logg)
	if err != nil {
		return err
	}
	defer closeCache()

	publisher, closePublisher, err := openPublisher(cfg, logg)
	if err != nil {
		return err
	}
	defer closePublisher()

	svc := service.New(store, queryCache,
		service.WithEvents(publisher),
		service.WithLogger(logg),
		service.WithPaging(cfg.DefaultPerPage, cfg.MaxPerPage),
	)

	authenticator, err := auth.NewAuthenticator(cfg.JWTSecret, logg)
	if err != nil {
		return fmt.Errorf("JWT_SECRET: %w", err)
	}
	protect := []func(http.Handler) http.Handler{authenticator.Middleware}
	if cfg.RateLimitPerMinute > 0 {
		protect = append(protect, ratelimit.Middleware(ratelimit.NewRedisLimiter(redisClient), cfg.RateLimitPerMinute, logg))
	}

	checks := []handlers.HealthCheck{{Name: "store", Check: store.Ping}}
	if redisClient != nil {
		checks = append(checks, handlers.HealthCheck{Name: "redis", Check: func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}})
	}

	mux := http.NewServeMux()
	handlers.NewHandler(svc, logg).RegisterRoutes(mux, func(h http.Handler) http.Handler {
		return handlers.Chain(h, protect...)
	})
	mux.Handle("GET /health", handlers.HealthHandler(cfg.Instance, checks...))
	mux.Handle("GET /metrics", metrics.Handler())

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: handlers.Chain(mux, handlers.WithRequestID, handlers.WithLogging(logg)),
	}

	errCh := make(chan error, 1)
	go func() {
		logg.Info("Alerts service starting on", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logg.Info("Shutting down alerts service")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func openStore(ctx context.Context, cfg *config.Config, logg *zap.Logger) (alertStore, func(), error) {
	if cfg.Database.Backend == config.StoreBackendMemory {
		logg.Warn("Using in-memory alert store; data is lost on restart")
		return database.NewMemoryStore(), func() {}, nil
	}

	db, err := database.Open(ctx, cfg.Database, logg)
	if err != nil {
		return nil, nil, err
	}
	return database.NewPostgresStore(db, logg), func() { _ = db.Close() }, nil
}

func openCache(ctx context.Context, cfg *config.Config, client *redis.Client, logg *zap.Logger) (service.QueryCache, func(), error) {
	switch cfg.Cache.Backend {
	case config.CacheBackendRedis:
		return cache.NewRedisCache(client,
			cache.WithTTL(cfg.Cache.TTL),
			cache.WithInstance(cfg.Instance),
			cache.WithLogger(logg),
		), func() {}, nil

	case config.CacheBackendMemory:
		local := cache.NewMemoryCache(cache.MemoryConfig{
			TTL:             cfg.Cache.TTL,
			CleanupInterval: cfg.Cache.TTL,
			MaxSize:         cfg.Cache.MaxEntries,
			Instance:        cfg.Instance,
		})
		if !cfg.Cache.Broadcast {
			return local, local.Close, nil
		}
		bc := cache.NewBroadcastCache(local, client, cfg.Cache.InvalidationChannel, cfg.Instance, logg)
		if err := bc.Listen(ctx); err != nil {
			local.Close()
			return nil, nil, err
		}
		return bc, local.Close, nil

	default:
		logg.Warn("Query cache disabled")
		return cache.Nop{}, func() {}, nil
	}
}

func openPublisher(cfg *config.Config, logg *zap.Logger) (events.Publisher, func(), error) {
	if cfg.KafkaBrokers == "" {
		return events.Nop{}, func() {}, nil
	}
	p, err := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, logg)
	if err != nil {
		return nil, nil, err
	}
	logg.Info("Publishing alert events", zap.String("topic", cfg.KafkaTopic))
	return p, p.Close, nil
}
