package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/runhub-backend/internal/auth"
	"github.com/runhub-backend/internal/config"
	"github.com/runhub-backend/internal/handler"
	"github.com/runhub-backend/internal/kafka"
	"github.com/runhub-backend/internal/notify"
	"github.com/runhub-backend/internal/push"
	"github.com/runhub-backend/internal/ranking"
	"github.com/runhub-backend/internal/service"
	"github.com/runhub-backend/internal/store/pgstore"
	"github.com/runhub-backend/internal/worker"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	flag.Parse()

	// Setup structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Warn("failed to load config file, using defaults", "error", err)
		cfg = config.DefaultConfig()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize PostgreSQL document store
	logger.Info("connecting to PostgreSQL", "host", cfg.Postgres.Host, "database", cfg.Postgres.Database)
	docStore, err := pgstore.New(&cfg.Postgres, logger)
	if err != nil {
		logger.Error("failed to connect to PostgreSQL", "error", err)
		os.Exit(1)
	}
	defer docStore.Close()

	if err := docStore.RunMigrations(ctx); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}
	logger.Info("connected to PostgreSQL")

	// Identity records share the document store's pool
	authService := auth.NewPGService(docStore.Pool(), logger)
	if err := authService.RunMigrations(ctx); err != nil {
		logger.Error("failed to run auth migrations", "error", err)
		os.Exit(1)
	}

	// Initialize the Redis ranking index. The document store stays the
	// source of truth, so a missing index only degrades serving.
	logger.Info("connecting to Redis", "addr", cfg.Redis.Addr)
	rankIndex, err := ranking.New(&cfg.Redis, logger)
	if err != nil {
		logger.Warn("failed to connect to Redis, continuing without ranking index", "error", err)
		rankIndex = nil
	} else {
		defer rankIndex.Close()
		logger.Info("connected to Redis")
	}

	// Initialize push delivery
	var notifier push.Notifier = push.Nop{}
	if cfg.Push.Enabled {
		kafkaNotifier, err := push.NewKafkaNotifier(&cfg.Push, logger)
		if err != nil {
			logger.Warn("failed to create push producer, continuing without push", "error", err)
		} else {
			defer kafkaNotifier.Close()
			notifier = kafkaNotifier
		}
	}
	feed := notify.NewFeed(docStore, notifier, logger)

	// Initialize services
	accounts := service.NewAccounts(docStore, authService, &cfg.Limits, logger)
	adminService := service.NewAdmin(docStore, authService, feed, cfg, logger)
	battles := service.NewBattles(docStore, feed, logger)
	events := service.NewEvents(docStore, cfg, logger)
	friends := service.NewFriends(docStore, feed, &cfg.Limits, logger)
	leaderboards := service.NewLeaderboards(docStore, rankIndex, &cfg.Limits, logger)
	users := service.NewUsers(docStore, authService, accounts, feed, cfg, logger)
	triggers := service.NewTriggers(docStore, rankIndex, feed, logger)

	// Start the job scheduler
	var scheduler *worker.Scheduler
	if cfg.Scheduler.Enabled {
		scheduler, err = worker.NewScheduler(&cfg.Scheduler, users, leaderboards, events, notifier, logger)
		if err != nil {
			logger.Error("failed to create scheduler", "error", err)
			os.Exit(1)
		}
		if err := scheduler.Start(); err != nil {
			logger.Error("failed to start scheduler", "error", err)
			os.Exit(1)
		}
	}

	// Initialize the change-event consumer
	var kafkaConsumer *kafka.Consumer
	if cfg.Kafka.Enabled {
		logger.Info("initializing Kafka consumer",
			"brokers", cfg.Kafka.Brokers,
			"topic", cfg.Kafka.Topic,
		)
		kafkaConsumer, err = kafka.NewConsumer(&cfg.Kafka, triggers, logger)
		if err != nil {
			logger.Warn("failed to create Kafka consumer, continuing without Kafka", "error", err)
		} else {
			if err := kafkaConsumer.Start(); err != nil {
				logger.Warn("failed to start Kafka consumer, continuing without Kafka", "error", err)
				kafkaConsumer = nil
			} else {
				logger.Info("Kafka consumer started successfully")
			}
		}
	}

	// Initialize HTTP handler
	httpHandler := handler.NewHandler(accounts, adminService, battles, events, friends, cfg.Auth.JWTSecret, logger)

	// Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      httpHandler.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in goroutine
	go func() {
		logger.Info("starting HTTP server", "port", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
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

	// Stop Kafka consumer
	if kafkaConsumer != nil {
		if err := kafkaConsumer.Stop(); err != nil {
			logger.Error("failed to stop Kafka consumer", "error", err)
		}
	}

	// Stop the scheduler
	if scheduler != nil {
		if err := scheduler.Stop(); err != nil {
			logger.Error("failed to stop scheduler", "error", err)
		}
	}

	// Shutdown HTTP server
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown server", "error", err)
	}

	logger.Info("server stopped")
}
