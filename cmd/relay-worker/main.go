// relay-worker runs one relay without the HTTP control surface. The destination
// and sink come from configuration (BROKER_URL, DESTINATION, DESTINATION_KIND, SINK_URL).
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
		log.Error("relay-worker failed", "err", err)
		closer.Close()
		os.Exit(1)
	}
}

func run(conf config.Config, log *slog.Logger) error {
	registry, _ := broker.Default(conf.DialTimeout)
	sup := relay.NewSupervisor(registry, relay.Options{
		PollInterval:   conf.PollInterval,
		ReceiveTimeout: conf.ReceiveTimeout,
		NewSink:        httpsink.Factory(conf.SinkTimeout, log),
	}, log)
	svc := app.NewRelayService(sup, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if _, err := svc.Connect(ctx, app.ConnectRequest{
		BrokerURL: conf.BrokerURL,
		Name:      conf.Destination,
		Type:      conf.DestinationKind,
		SinkURL:   conf.SinkURL,
	}); err != nil {
		return err
	}
	log.Info("relay-worker started", "destination", conf.Destination, "kind", conf.DestinationKind)

	ticker := time.NewTicker(conf.PollInterval)
	defer ticker.Stop()

	var runErr error
loop:
	for {
		select {
		case <-ctx.Done():
			log.Info("shutdown signal received")
			break loop
		case <-ticker.C:
			st := svc.Status()
			if st.State == relay.StateIdle {
				runErr = fmt.Errorf("relay stopped: %s", st.Error)
				break loop
			}
		}
	}

	forwarded := svc.Status().Forwarded

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := sup.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown relay: %w", err)
	}

	log.Info("relay-worker stopped", "forwarded", forwarded)
	return runErr
}
