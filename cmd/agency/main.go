package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/yyvfuruta/driva-dispatch/internal/agency"
	"github.com/yyvfuruta/driva-dispatch/internal/broker"
	"github.com/yyvfuruta/driva-dispatch/internal/config"
	"github.com/yyvfuruta/driva-dispatch/internal/console"
	"github.com/yyvfuruta/driva-dispatch/internal/logger"
)

func main() {
	var dev bool
	flag.BoolVar(&dev, "dev", false, "Enable godotenv")
	flag.Parse()

	logger := logger.New()

	if dev {
		if err := godotenv.Load(); err != nil {
			logger.Error("Error loading .env file", "error", err)
			os.Exit(1)
		}
	}

	if err := run(logger); err != nil {
		logger.Error("Agency stopped", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rabbit := broker.New(cfg.Broker, logger)
	defer rabbit.Close()

	a := agency.New(cfg, rabbit, console.New(os.Stdin, os.Stdout), logger)
	if err := a.Run(ctx); err != nil {
		return err
	}

	logger.Info(" [*] Still listening for confirmations. To exit press CTRL+C")
	if err := a.Wait(ctx); err != nil {
		return err
	}

	logger.Info("Agency shutdown complete.")
	return nil
}
