package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"message-relay/internal/adapters/db/postgres"
	"message-relay/internal/app"
	"message-relay/internal/config"
	"message-relay/internal/logger"
	"message-relay/internal/transport"
)

func main() {
	_ = godotenv.Load()

	conf, err := config.FromEnv()
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}

	log, closer := logger.New(logger.Options{Level: conf.LogLevel, File: conf.LogFile})
	defer closer.Close()

	if err := run(conf, log); err != nil {
		log.Error("application failed", "err", err)
		closer.Close()
		os.Exit(1)
	}
}

func run(conf config.Config, log *slog.Logger) error {
	repo, err := postgres.New(conf.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer repo.Close()

	svc := app.NewSinkService(repo, log)

	server := transport.NewServer("relay-sink", transport.ServerOptions{
		AllowedOrigins: conf.AllowedOrigins,
		RateLimit:      conf.RateLimit,
	})
	transport.NewSinkHandler(svc, log).Register(server)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errChan := make(chan error, 1)
	go func() {
		log.Info("relay-sink started", "addr", conf.SinkAddr)
		if err := server.Listen(conf.SinkAddr); err != nil {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-errChan:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.ShutdownWithContext(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}

	log.Info("relay-sink stopped gracefully")
	return nil
}
