package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pslib/urlshortener/config"
	appmodel "github.com/pslib/urlshortener/internal/app/model"
	apprepository "github.com/pslib/urlshortener/internal/app/repository"
	appserver "github.com/pslib/urlshortener/internal/app/server"
	appservice "github.com/pslib/urlshortener/internal/app/service"
	inthttp "github.com/pslib/urlshortener/internal/http/handler"
	"github.com/pslib/urlshortener/internal/http/middleware"
	httpUtil "github.com/pslib/urlshortener/internal/http/util"
	"github.com/pslib/urlshortener/internal/infra/logger"
	infraNATS "github.com/pslib/urlshortener/internal/infra/nats"
	infraPostgres "github.com/pslib/urlshortener/internal/infra/postgres"
	infraPrometheus "github.com/pslib/urlshortener/internal/infra/prometheus"
	infraRedis "github.com/pslib/urlshortener/internal/infra/redis"
	infraSQLite "github.com/pslib/urlshortener/internal/infra/sqlite"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const maxHitsInFlight = 256

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		logger.MustInit(logger.Config{Development: true}).Fatal("Failed to load config", zap.Error(err))
	}

	log := logger.MustInit(logger.FromConfig(cfg.Log, cfg.App.IsDevelopment()))
	defer func() { _ = logger.Sync() }()

	log.Info("Configuration loaded",
		zap.String("env", cfg.App.Env),
		zap.String("db_driver", cfg.Database.Driver),
		zap.String("base_url", cfg.App.BaseURL),
		zap.Bool("redis_enabled", cfg.Redis.Enabled),
		zap.Bool("nats_enabled", cfg.NATS.Enabled),
		zap.Bool("prometheus_enabled", cfg.Prometheus.Enabled),
	)

	healthChecks := map[string]inthttp.HealthCheck{}

	gormLog := logger.NewGormLogger(log.Named("gorm"), logger.ToGormLogLevel(log.Level()))
	var db *gorm.DB
	switch cfg.Database.Driver {
	case "sqlite":
		db, err = infraSQLite.Open(cfg.SQLite, gormLog)
		if err != nil {
			log.Fatal("Failed to open SQLite database", zap.Error(err), zap.String("path", cfg.SQLite.Path))
		}
		healthChecks["sqlite"] = func(ctx context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		}
	default:
		db, err = infraPostgres.NewGorm(cfg.Postgres, gormLog)
		if err != nil {
			log.Fatal("Failed to open GORM connection", zap.Error(err))
		}
		pool, err := infraPostgres.NewPool(ctx, cfg.Postgres)
		if err != nil {
			log.Fatal("Failed to connect to Postgres", zap.Error(err))
		}
		defer pool.Close()
		healthChecks["postgres"] = func(ctx context.Context) error { return pool.Ping(ctx) }
		log.Info("Connected to Postgres",
			zap.String("host", cfg.Postgres.Host),
			zap.Int("port", cfg.Postgres.Port),
			zap.String("database", cfg.Postgres.Database))
	}
	sqlDB, err := db.DB()
	if err != nil {
		log.Fatal("Failed to access underlying SQL DB", zap.Error(err))
	}
	defer sqlDB.Close()

	if err := infraPostgres.AutoMigrate(ctx, db, appmodel.Models()...); err != nil {
		log.Fatal("Failed to run database migrations", zap.Error(err))
	}

	var cache appservice.ResolveCache
	var redisClient *goredis.Client
	if cfg.Redis.Enabled {
		redisClient, err = infraRedis.NewClient(ctx, cfg.Redis)
		if err != nil {
			log.Fatal("Failed to connect to Redis", zap.Error(err))
		}
		defer redisClient.Close()
		healthChecks["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
		if cfg.Cache.Enabled {
			cache = apprepository.NewResolveCache(redisClient, cfg.Cache.TTL)
		}
		log.Info("Connected to Redis", zap.String("addr", infraRedis.Options(cfg.Redis).Addr))
	}

	linkRepo := apprepository.NewLinkRepository(db)
	ownerRepo := apprepository.NewOwnerRepository(db)
	reservedRepo := apprepository.NewReservedCodeRepository(db)

	guard := appservice.NewUniquenessGuard(linkRepo)
	generator := appservice.NewCodeGenerator(guard, appservice.CodeGeneratorConfig{
		Length:      cfg.App.CodeLength,
		MaxAttempts: cfg.App.MaxCodeAttempts,
	}, log.Named("codegen"))
	if seeded, err := generator.Seed(ctx, linkRepo); err != nil {
		log.Warn("Failed to seed code generator, continuing with an empty filter", zap.Error(err))
	} else {
		log.Info("Code generator seeded", zap.Int("codes", seeded))
	}

	linkService := appservice.NewLinkService(appservice.LinkServiceDeps{
		Links:           linkRepo,
		Owners:          ownerRepo,
		Reserved:        reservedRepo,
		Guard:           guard,
		Generator:       generator,
		Cache:           cache,
		Logger:          log.Named("links"),
		CreateRetries:   cfg.App.CreateRetries,
		PageSizes:       cfg.Listing.PageSizes,
		DefaultPageSize: cfg.Listing.DefaultPageSize,
	})
	reservedService := appservice.NewReservedCodeService(reservedRepo)
	ownerService := appservice.NewOwnerService(ownerRepo, cfg.Listing.PageSizes, cfg.Listing.DefaultPageSize)
	resolver := appservice.NewResolver(linkRepo, cache, log.Named("resolver"))

	recorder := appservice.NewHitRecorder(linkRepo, log.Named("hits"))
	localHits := appservice.NewAsyncHitSink(recorder, cfg.App.HitTimeout, maxHitsInFlight, log.Named("hits"))
	var hits appservice.HitSink = localHits
	var publisher *appservice.HitPublisher
	var consumer *appservice.HitConsumer

	consumerCtx, stopConsumer := context.WithCancel(context.Background())
	defer stopConsumer()

	if cfg.NATS.Enabled {
		natsConn, js, err := infraNATS.Connect(cfg.NATS, log.Named("nats"))
		if err != nil {
			log.Fatal("Failed to connect to NATS", zap.Error(err))
		}
		defer natsConn.Drain()
		healthChecks["nats"] = func(context.Context) error {
			if !natsConn.IsConnected() {
				return errors.New("not connected")
			}
			return nil
		}

		consumer = appservice.NewHitConsumer(js, recorder, cfg.App.HitTimeout, log.Named("hit-consumer"))
		if err := consumer.Start(consumerCtx); err != nil {
			log.Fatal("Failed to start hit consumer", zap.Error(err))
		}
		publisher = appservice.NewHitPublisher(js, cfg.App.HitTimeout, maxHitsInFlight, localHits, log.Named("hit-publisher"))
		hits = publisher
		log.Info("Connected to NATS, hits are recorded through JetStream")
	}

	if cfg.Retention.DaysBeforeDeletion > 0 {
		sweeper := appservice.NewRetentionSweeper(linkRepo, cache, log.Named("retention"),
			cfg.Retention.Schedule, time.Duration(cfg.Retention.DaysBeforeDeletion)*24*time.Hour)
		if err := sweeper.Start(); err != nil {
			log.Fatal("Failed to start retention sweeper", zap.Error(err))
		}
		defer sweeper.Stop()
	} else {
		log.Info("Retention sweeper disabled")
	}

	if cfg.Prometheus.Enabled {
		promServer := infraPrometheus.NewServer(cfg.Prometheus)
		go func() {
			log.Info("Starting Prometheus metrics server", zap.String("addr", promServer.Addr))
			if err := promServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("Prometheus metrics server stopped unexpectedly", zap.Error(err))
			}
		}()
		defer func() {
			if err := promServer.Close(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Warn("Failed to close Prometheus server", zap.Error(err))
			}
		}()
	}

	var rateLimit *middleware.RateLimitConfig
	if cfg.RateLimit.Enabled {
		rateLimit = &middleware.RateLimitConfig{
			MaxRequests: cfg.RateLimit.MaxRequests,
			Window:      cfg.RateLimit.Window,
		}
	}

	var signer *httpUtil.TokenSigner
	if cfg.Auth.Secret != "" {
		signer = httpUtil.NewTokenSigner([]byte(cfg.Auth.Secret))
	} else {
		log.Warn("auth.secret is empty, the management API is disabled")
	}

	server := appserver.New(appserver.Dependencies{
		Logger:         log,
		Redis:          redisClient,
		Links:          linkService,
		Reserved:       reservedService,
		Owners:         ownerService,
		Resolver:       resolver,
		Hits:           hits,
		Bots:           appservice.NewBotDetector(cfg.Bot.Signatures),
		Signer:         signer,
		HealthChecks:   healthChecks,
		BaseURL:        cfg.App.BaseURL,
		ProxyHeader:    cfg.Server.ProxyHeader,
		TrustedProxies: cfg.Server.TrustedProxies,
		CorsOrigins:    cfg.Server.CorsOrigins,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		ResolveTimeout: cfg.App.ResolveTimeout,
		RateLimit:      rateLimit,
	})

	serveErr := make(chan error, 1)
	go func() {
		log.Info("HTTP server listening", zap.String("addr", cfg.Server.Addr))
		serveErr <- server.Listen(cfg.Server.Addr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			log.Error("Fiber server exited", zap.Error(err))
		}
	case <-ctx.Done():
		log.Info("Shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("HTTP server shutdown incomplete", zap.Error(err))
	}
	if publisher != nil {
		if err := publisher.Wait(shutdownCtx); err != nil {
			log.Warn("Pending hit publishes abandoned", zap.Error(err))
		}
	}
	if err := localHits.Wait(shutdownCtx); err != nil {
		log.Warn("Pending hit writes abandoned", zap.Error(err))
	}
	if consumer != nil {
		stopConsumer()
		select {
		case <-consumer.Done():
		case <-shutdownCtx.Done():
			log.Warn("Hit consumer did not stop in time")
		}
	}
	log.Info("Shutdown complete")
}
