package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/flowfc-progression/internal/config"
	"github.com/flowfc-progression/internal/handler"
	"github.com/flowfc-progression/internal/kafka"
	"github.com/flowfc-progression/internal/logging"
	"github.com/flowfc-progression/internal/metrics"
	"github.com/flowfc-progression/internal/postgres"
	"github.com/flowfc-progression/internal/redis"
	"github.com/flowfc-progression/internal/service"
	"github.com/flowfc-progression/internal/sqlite"
	"github.com/flowfc-progression/internal/store"
	"github.com/flowfc-progression/internal/websocket"
	"github.com/flowfc-progression/internal/worker"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	configErr := err
	if err != nil {
		cfg = config.DefaultConfig()
	}

	// Setup structured logging
	logger, err := logging.New(cfg.Logging, os.Stdout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid logging configuration: %v\n", err)
		os.Exit(1)
	}
	slog.SetDefault(logger)
	if configErr != nil {
		logger.Warn("failed to load config file, using defaults", "error", configErr)
	}

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize storage
	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to open store", "driver", cfg.Storage.Driver, "error", err)
		os.Exit(1)
	}
	defer st.Close()

	// Initialize Redis leaderboard cache
	var cache service.LeaderboardCache
	if cfg.Redis.Enabled {
		logger.Info("connecting to Redis", "addr", cfg.Redis.Addr)
		redisCache, err := redis.NewLeaderboardCache(ctx, &cfg.Redis, cfg.Leaderboard.CacheTTL, logger)
		if err != nil {
			logger.Warn("failed to connect to Redis, leaderboards will not be cached", "error", err)
		} else {
			defer redisCache.Close()
			cache = redisCache
			logger.Info("connected to Redis")
		}
	}

	// Initialize metrics
	metricsService := metrics.NewService()

	// Initialize engine
	engine := service.NewEngine(st, cache, cfg, metricsService, logger)

	// Initialize WebSocket hub
	wsHub := websocket.NewHub(engine, cfg.Leaderboard.DefaultLimit, logger)
	go wsHub.Run()
	websocket.SetCheckOrigin(originChecker(cfg.Server.AllowedOrigins))
	engine.SetNotifier(wsHub)
	logger.Info("websocket hub initialized")

	// Initialize warm worker
	var warmWorker *worker.WarmWorker
	if cache != nil && cfg.Warmer.Enabled {
		warmWorker = worker.NewWarmWorker(engine.Leaderboard(), &cfg.Warmer, logger)
		if err := warmWorker.Start(ctx); err != nil {
			logger.Error("failed to start warm worker", "error", err)
			os.Exit(1)
		}
	}

	// Initialize Kafka consumer for stat record ingestion
	var kafkaConsumer *kafka.Consumer
	if cfg.Kafka.Enabled {
		logger.Info("initializing Kafka consumer",
			"brokers", cfg.Kafka.Brokers,
			"topic", cfg.Kafka.Topic,
		)
		kafkaConsumer, err = kafka.NewConsumer(&cfg.Kafka, engine, logger)
		if err != nil {
			logger.Warn("failed to create Kafka consumer, continuing without Kafka", "error", err)
		} else if err := kafkaConsumer.Start(); err != nil {
			logger.Warn("failed to start Kafka consumer, continuing without Kafka", "error", err)
			kafkaConsumer = nil
		} else {
			logger.Info("Kafka consumer started")
		}
	}

	httpHandler := handler.NewHandler(engine, wsHub, metrics.NewHandler(), cfg, logger)

	// Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      httpHandler.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("starting HTTP server", "port", cfg.Server.Port, "storage", cfg.Storage.Driver)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Stop intake before background workers
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown server", "error", err)
	}

	if kafkaConsumer != nil {
		if err := kafkaConsumer.Stop(); err != nil {
			logger.Error("failed to stop Kafka consumer", "error", err)
		}
	}

	if warmWorker != nil {
		if err := warmWorker.Stop(); err != nil {
			logger.Error("failed to stop warm worker", "error", err)
		}
	}

	wsHub.Stop()

	logger.Info("server stopped")
}

// openStore opens the configured persistence backend
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (store.Store, error) {
	switch cfg.Storage.Driver {
	case config.DriverMemory:
		logger.Warn("using in-memory storage, data is lost on restart")
		return store.NewMemory(), nil

	case config.DriverSQLite:
		logger.Info("opening SQLite database", "path", cfg.Storage.SQLitePath)
		db, err := sqlite.Open(ctx, cfg.Storage.SQLitePath, logger)
		if err != nil {
			return nil, err
		}
		return db, nil

	case config.DriverPostgres:
		logger.Info("connecting to PostgreSQL", "host", cfg.Postgres.Host, "database", cfg.Postgres.Database)
		repo, err := postgres.NewRepository(&cfg.Postgres, logger)
		if err != nil {
			return nil, err
		}
		if err := repo.RunMigrations(ctx); err != nil {
			repo.Close()
			return nil, err
		}
		return repo, nil

	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
}

// originChecker allows websocket upgrades from the configured CORS origins
func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || slices.Contains(allowed, "*") {
			return true
		}
		return slices.Contains(allowed, origin)
	}
}
