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

	"message-relay/internal/adapters/broker"
	"message-relay/internal/adapters/sink/httpsink"
	"message-relay/internal/app"
	"message-relay/internal/config"
	"message-relay/internal/logger"
	"message-relay/internal/relay"
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
	registry, _ := broker.Default(conf.DialTimeout)
	log.Info("broker drivers registered", "schemes", registry.Schemes())

	sup := relay.NewSupervisor(registry, relay.Options{
		PollInterval:   conf.PollInterval,
		ReceiveTimeout: conf.ReceiveTimeout,
		NewSink:        httpsink.Factory(conf.SinkTimeout, log),
	}, log)
	svc := app.NewRelayService(sup, log)

	server := transport.NewServer("relay-api", transport.ServerOptions{
		AllowedOrigins: conf.AllowedOrigins,
		RateLimit:      conf.RateLimit,
	})
	transport.NewHandler(svc, log).Register(server.Group("/api"))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errChan := make(chan error, 1)
	go func() {
		log.Info("relay-api started", "addr", conf.HTTPAddr)
		if err := server.Listen(conf.HTTPAddr); err != nil {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-errChan:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.ShutdownWithContext(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	if err := sup.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown relay: %w", err)
	}

	log.Info("relay-api stopped gracefully")
	return nil
}
