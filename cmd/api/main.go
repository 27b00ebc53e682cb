package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Gobusters/ectoenv"
	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"
	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"

	"github.com/lanternetwork/saletracker/config"
	"github.com/lanternetwork/saletracker/internal/repositories/ingestrun"
	"github.com/lanternetwork/saletracker/internal/repositories/negativematch"
	"github.com/lanternetwork/saletracker/internal/repositories/sale"
	"github.com/lanternetwork/saletracker/pkg/database"
	"github.com/lanternetwork/saletracker/pkg/events"
	"github.com/lanternetwork/saletracker/pkg/guards"
	"github.com/lanternetwork/saletracker/pkg/health"
	"github.com/lanternetwork/saletracker/pkg/httpclient"
	"github.com/lanternetwork/saletracker/pkg/ingest"
	"github.com/lanternetwork/saletracker/pkg/kafka"
	"github.com/lanternetwork/saletracker/pkg/matching"
	"github.com/lanternetwork/saletracker/pkg/middleware"
	saleredis "github.com/lanternetwork/saletracker/pkg/redis"
	"github.com/lanternetwork/saletracker/pkg/routes/duplicates"
	"github.com/lanternetwork/saletracker/pkg/routes/ingestroute"
	"github.com/lanternetwork/saletracker/pkg/tracing"
	"github.com/lanternetwork/saletracker/pkg/tracing/exporters"
)

const version = "1.0.0"

func main() {
	godotenv.Load()

	var cfg config.Config
	if err := ectoenv.BindEnv(&cfg); err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()

	shutdownTracing, err := setupTracing(ctx, cfg)
	if err != nil {
		logger.WithError(err).Error("Failed to set up tracing")
		os.Exit(1)
	}

	sqlxDB, err := connectDatabase(cfg)
	if err != nil {
		logger.WithError(err).Error("Failed to connect to database")
		os.Exit(1)
	}
	defer sqlxDB.Close()

	db := database.NewDatabaseInstance(sqlxDB, logger)

	if err := runMigrations(cfg, logger, sqlxDB); err != nil {
		logger.WithError(err).Error("Failed to run database migrations")
		os.Exit(1)
	}

	var redisClient *saleredis.Client
	if cfg.RedisEnabled {
		redisClient, err = saleredis.NewClient(saleredis.Config{
			Host:     cfg.RedisHost,
			Port:     cfg.RedisPort,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}, logger)
		if err != nil {
			logger.WithError(err).Error("Failed to connect to redis")
			os.Exit(1)
		}
		defer redisClient.Close()
	}

	rateLimitConfig := guards.RateLimitConfig{
		Window:      cfg.RateLimitWindow,
		MaxRequests: cfg.RateLimitMaxRequests,
	}
	var limiter guards.RateLimiter
	var idempotencyStore guards.IdempotencyStore
	if redisClient != nil {
		limiter = guards.NewRedisRateLimiter(redisClient, rateLimitConfig, "")
		idempotencyStore = guards.NewRedisIdempotencyStore(redisClient, cfg.IdempotencyTTL, "")
	} else {
		logger.Warn("Redis is disabled, using in-memory rate limiting and idempotency")
		limiter = guards.NewMemoryRateLimiter(rateLimitConfig)
		idempotencyStore = guards.NewMemoryIdempotencyStore(cfg.IdempotencyTTL)
	}

	var producer *kafka.Producer
	if cfg.KafkaProducerEnabled {
		producer = kafka.NewProducer(kafka.ProducerConfig{
			Brokers:      cfg.KafkaBrokers,
			Topic:        cfg.KafkaOutputTopic,
			BatchSize:    cfg.KafkaBatchSize,
			BatchTimeout: time.Duration(cfg.KafkaBatchTimeout) * time.Millisecond,
			RequiredAcks: cfg.KafkaRequiredAcks,
			Compression:  cfg.KafkaCompression,
		}, logger)
		defer producer.Close()
	}
	emitter := events.NewEmitter(producer, logger)

	saleRepo := sale.NewRepository(db, logger)
	negativeMatchRepo := negativematch.NewRepository(db, logger)
	runRepo := ingestrun.NewRepository(db, logger)

	detector := matching.NewDetector(saleRepo, negativeMatchRepo, logger, matching.DetectorConfig{
		MaxDistanceMeters: cfg.DuplicateMaxDistanceMeters,
		MinSimilarity:     cfg.DuplicateMinSimilarity,
		MaxCandidates:     cfg.DuplicateMaxCandidates,
	})

	httpClient := httpclient.NewClient(httpclient.DefaultConfig(), logger)
	fetcher := ingest.NewFeedFetcher(httpClient, cfg.IngestFeedBaseURL, logger)
	runner := ingest.NewRunner(saleRepo, runRepo, fetcher, emitter, logger, ingest.RunnerConfig{
		FeedBaseURL:    cfg.IngestFeedBaseURL,
		ParseLimit:     cfg.IngestParseLimit,
		WriteChunkSize: cfg.IngestWriteChunkSize,
	})

	ingestHandler := ingestroute.NewHandler(runner, runRepo, cfg.IngestSites, logger)
	duplicatesHandler := duplicates.NewHandler(detector, logger)
	healthChecker := health.NewChecker(db, redisClient, version)

	e := newServer(cfg, logger)

	api := e.Group("/api")
	trigger := api.Group("/ingest",
		middleware.IngestToken(logger, cfg.IngestToken),
		middleware.RateLimit(limiter, logger),
		middleware.Idempotency(idempotencyStore, logger),
	)
	runs := api.Group("/runs")
	ingestHandler.RegisterRoutes(trigger, runs)
	duplicatesHandler.RegisterRoutes(api.Group("/duplicates"))
	healthChecker.RegisterRoutes(e)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	healthChecker.SetReady(true)

	go func() {
		addr := fmt.Sprintf(":%d", cfg.Port)
		logger.Infof("Starting %s on %s", cfg.AppName, addr)
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("Failed to start server")
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Failed to shut down server gracefully")
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.WithError(err).Error("Failed to shut down tracing")
	}
}

func newLogger(cfg config.Config) (ectologger.Logger, error) {
	var zapConfig zap.Config
	if cfg.PrettyLogs {
		zapConfig = zap.NewDevelopmentConfig()
	} else {
		zapConfig = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zapcore.InfoLevel
	}
	zapConfig.Level = zap.NewAtomicLevelAt(level)

	zapLogger, err := zapConfig.Build()
	if err != nil {
		return nil, err
	}

	return zapadapter.NewZapEctoLogger(zapLogger, nil), nil
}

func setupTracing(ctx context.Context, cfg config.Config) (func(context.Context) error, error) {
	if !cfg.TracingEnabled {
		return func(context.Context) error { return nil }, nil
	}

	var exporter sdktrace.SpanExporter
	var err error
	switch cfg.TracingExporter {
	case "console":
		exporter = &exporters.ConsoleExporter{}
	default:
		exporter, err = exporters.NewOTLPExporter(ctx, exporters.OTLPConfig{
			Endpoint: cfg.TracingOTLPEndpoint,
			Protocol: cfg.TracingOTLPProtocol,
			Insecure: cfg.TracingOTLPInsecure,
			Timeout:  10 * time.Second,
		})
		if err != nil {
			return nil, err
		}
	}

	res, err := sdkresource.Merge(sdkresource.Default(), sdkresource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.AppName),
		semconv.ServiceVersion(version),
	))
	if err != nil {
		return nil, err
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	tracing.SetTracer(provider.Tracer(cfg.AppName))

	return provider.Shutdown, nil
}

func connectDatabase(cfg config.Config) (*sqlx.DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		cfg.DatabaseHost,
		cfg.DatabasePort,
		cfg.DatabaseUserName,
		cfg.DatabasePassword,
		cfg.DatabaseName,
		cfg.DatabaseSSLMode,
	)

	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(cfg.DatabaseMaxOpenConns)
	db.SetMaxIdleConns(cfg.DatabaseMaxIdleConns)
	db.SetConnMaxLifetime(cfg.DatabaseConnMaxLifetime)

	return db, nil
}

func runMigrations(cfg config.Config, logger ectologger.Logger, db *sqlx.DB) error {
	driver, err := migratepg.WithInstance(db.DB, &migratepg.Config{})
	if err != nil {
		return err
	}

	service := database.NewMigrationService(logger, &database.MigrationConfig{
		MigrationFolderPath: cfg.DatabaseMigrationFolderPath,
		Version:             uint(cfg.DatabaseMigrationVersion),
		Force:               cfg.DatabaseMigrationForce,
		AutoRollback:        cfg.DatabaseMigrationAutoRollback,
	})

	return service.Migrate(cfg.DatabaseName, driver)
}

func newServer(cfg config.Config, logger ectologger.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Server.ReadTimeout = time.Duration(cfg.HttpServerReadTimeoutSeconds) * time.Second
	e.Server.WriteTimeout = time.Duration(cfg.HttpServerWriteTimeoutSeconds) * time.Second
	e.Server.IdleTimeout = time.Duration(cfg.HttpServerIdleTimeoutSeconds) * time.Second

	e.HTTPErrorHandler = middleware.Error(logger)

	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.CORSWithConfig(echomiddleware.CORSConfig{
		AllowOrigins: cfg.AllowOrigins,
	}))
	if cfg.TracingEnabled {
		e.Use(otelecho.Middleware(cfg.AppName))
	}
	e.Use(middleware.Context())
	e.Use(middleware.Logger(logger))

	return e
}
