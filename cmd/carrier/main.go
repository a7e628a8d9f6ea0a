package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/yyvfuruta/driva-dispatch/internal/broker"
	"github.com/yyvfuruta/driva-dispatch/internal/cache"
	"github.com/yyvfuruta/driva-dispatch/internal/carrier"
	"github.com/yyvfuruta/driva-dispatch/internal/config"
	"github.com/yyvfuruta/driva-dispatch/internal/console"
	"github.com/yyvfuruta/driva-dispatch/internal/logger"
)

func main() {
	var (
		dev    bool
		shared bool
	)
	flag.BoolVar(&dev, "dev", false, "Enable godotenv")
	flag.BoolVar(&shared, "shared", false, "Compete with other carriers on shared per-type queues")
	flag.Parse()

	logger := logger.New()

	if dev {
		if err := godotenv.Load(); err != nil {
			logger.Error("Error loading .env file", "error", err)
			os.Exit(1)
		}
	}

	if err := run(logger, shared); err != nil {
		logger.Error("Carrier stopped", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger, shared bool) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts := carrier.Options{SharedQueues: shared}

	if cfg.Redis != nil {
		store := cache.New(*cfg.Redis, cfg.DedupeTTL)
		defer store.Close()

		if err := store.Ping(ctx); err != nil {
			return fmt.Errorf("failed to connect to Redis: %w", err)
		}
		opts.Store = store
		logger.Info("Redelivery suppression enabled", "redis", cfg.Redis.Addr(), "ttl", cfg.DedupeTTL)
	}

	rabbit := broker.New(cfg.Broker, logger)
	defer rabbit.Close()

	c := carrier.New(cfg, rabbit, console.New(os.Stdin, os.Stdout), logger, opts)
	if err := c.Run(ctx); err != nil {
		return err
	}

	logger.Info("Carrier shutdown complete.")
	return nil
}
