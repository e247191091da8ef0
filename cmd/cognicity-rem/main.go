// Package main is the entry point for the REM flood reporting server.
// It initializes all components and starts the HTTP server and alert dispatcher.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"

	"cognicity-rem/internal/api"
	"cognicity-rem/internal/banner"
	"cognicity-rem/internal/cap"
	"cognicity-rem/internal/config"
	"cognicity-rem/internal/dispatch"
	"cognicity-rem/internal/flood"
	"cognicity-rem/internal/notification"
	"cognicity-rem/internal/queue"
	kafkaqueue "cognicity-rem/internal/queue/kafka"
	memoryqueue "cognicity-rem/internal/queue/memory"
	"cognicity-rem/internal/server"
	"cognicity-rem/internal/store"
	memorystor "cognicity-rem/internal/store/memory"
	postgresstor "cognicity-rem/internal/store/postgres"
	redisstor "cognicity-rem/internal/store/redis"
)

const healthCheckTimeout = 2 * time.Second

func main() {
	// Parse command line flags
	configPath := flag.String("config", "config/config.yaml", "path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration from %s: %v\n", *configPath, err)
		os.Exit(1)
	}

	// Initialize logger
	logger := initLogger(&cfg.Logger)
	banner.Fprint(os.Stdout, string(cfg.Storage.Mode))

	logger.Info("configuration loaded",
		"path", *configPath,
		"storage_mode", cfg.Storage.Mode,
	)

	// Initialize dependencies based on storage mode
	deps, cleanup, err := initDependencies(cfg, logger)
	if err != nil {
		logger.Error("failed to initialize dependencies", "error", err)
		os.Exit(1)
	}
	defer cleanup()

	// Create context that listens for shutdown signals
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Start dispatcher in background
	go func() {
		if err := deps.dispatcher.Start(ctx); err != nil && ctx.Err() == nil {
			logger.Error("dispatcher error", "error", err)
			cancel()
		}
	}()

	// Start HTTP server
	go func() {
		if err := deps.server.Start(); err != nil {
			logger.Error("server error", "error", err)
			cancel()
		}
	}()

	logger.Info("REM server started",
		"address", cfg.Server.Address(),
		"storage_mode", cfg.Storage.Mode,
	)

	// Wait for shutdown signal
	<-ctx.Done()
	logger.Info("shutdown signal received")

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.WriteTimeout)
	defer shutdownCancel()

	if err := deps.server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	logger.Info("REM server stopped")
}

// dependencies holds all initialized service dependencies.
type dependencies struct {
	server     *api.Server
	dispatcher *dispatch.Service
}

// initDependencies creates and wires all service dependencies based on config.
// Returns the dependencies and a cleanup function.
func initDependencies(cfg *config.Config, logger *slog.Logger) (*dependencies, func(), error) {
	var (
		floodRepo     store.FloodRepository
		dispatchStore store.DispatchStore
		producer      queue.Producer
		consumer      queue.Consumer
		cleanupFuncs  []func()
	)

	cleanup := func() {
		for i := len(cleanupFuncs) - 1; i >= 0; i-- {
			cleanupFuncs[i]()
		}
	}

	clock := clockwork.NewRealClock()
	health := server.NewHealthChecker(healthCheckTimeout, clock, logger)

	location, err := time.LoadLocation(cfg.CAP.TimeZone)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load time zone %q: %w", cfg.CAP.TimeZone, err)
	}

	if cfg.Storage.UseMemory() {
		// Initialize in-memory implementations
		logger.Info("initializing in-memory storage")

		memRepo := memorystor.NewFloodRepository(clock, location)
		if cfg.Memory.SeedFile != "" {
			layers := make([]string, 0, len(cfg.REM.AggregateLevels))
			for _, table := range cfg.REM.AggregateLevels {
				layers = append(layers, table)
			}
			err := memRepo.LoadSeedFile(cfg.Memory.SeedFile, layers, cfg.REM.ReportsTable, cfg.REM.UnconfirmedReportsTable)
			if err != nil {
				return nil, nil, err
			}
			logger.Info("seed data loaded", "path", cfg.Memory.SeedFile, "layers", len(layers))
		}
		floodRepo = memRepo

		memDispatchStore := memorystor.NewDispatchStore()
		dispatchStore = memDispatchStore
		cleanupFuncs = append(cleanupFuncs, func() { _ = memDispatchStore.Close() })

		memQueue := memoryqueue.NewQueue(10000, logger)
		producer = memQueue
		consumer = memQueue
		cleanupFuncs = append(cleanupFuncs, func() { _ = memQueue.Close() })
	} else {
		// Initialize real storage implementations
		logger.Info("initializing production storage (Kafka, Redis, PostgreSQL)")

		// Initialize PostgreSQL
		ctx := context.Background()
		db, err := postgresstor.NewDB(ctx, &cfg.Postgres)
		if err != nil {
			return nil, nil, err
		}
		cleanupFuncs = append(cleanupFuncs, db.Close)

		// Run migrations
		if err := db.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, err
		}
		logger.Info("database migrations completed")

		floodRepo = postgresstor.NewFloodRepository(db, location, logger)
		health.Register("postgres", db.Ping)

		// Initialize Redis
		redisStore, err := redisstor.NewDispatchStore(&cfg.Redis)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		dispatchStore = redisStore
		cleanupFuncs = append(cleanupFuncs, func() { _ = redisStore.Close() })
		health.Register("redis", redisStore.Ping)

		// Initialize Kafka
		kafkaProducer := kafkaqueue.NewProducer(&cfg.Kafka)
		producer = kafkaProducer
		cleanupFuncs = append(cleanupFuncs, func() { _ = kafkaProducer.Close() })
		health.Register("kafka", kafkaProducer.Ping)

		kafkaConsumer := kafkaqueue.NewConsumer(&cfg.Kafka, logger)
		consumer = kafkaConsumer
		cleanupFuncs = append(cleanupFuncs, func() { _ = kafkaConsumer.Close() })
	}

	builder, err := cap.NewBuilder(cfg.CAP, clock, logger)
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	// Initialize notification service (stubbed for now)
	notifier := notification.NewStubNotifier(logger)

	// Initialize flood service
	floodService := flood.NewService(floodRepo, producer, builder, cfg.REM, clock, logger)

	// Initialize dispatch service
	dispatchService := dispatch.NewService(
		consumer,
		floodRepo,
		dispatchStore,
		builder,
		notifier,
		clock,
		logger,
	)

	// Initialize HTTP server
	srv := api.NewServer(api.ServerDeps{
		Config:       &cfg.Server,
		Logger:       logger,
		Health:       health,
		FloodHandler: api.NewFloodHandler(floodService, logger),
	})

	return &dependencies{
		server:     srv,
		dispatcher: dispatchService,
	}, cleanup, nil
}

// initLogger creates and configures the application logger.
func initLogger(cfg *config.LoggerConfig) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: parseLevel(cfg.Level),
	}

	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "text") {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)

	return logger
}

func parseLevel(level string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo
	}
	return l
}
