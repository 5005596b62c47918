package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"

	"message-relay/internal/adapters/db/postgres"
	"message-relay/internal/config"
	"message-relay/internal/logger"
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
		log.Error("migration failed", "err", err)
		closer.Close()
		os.Exit(1)
	}
}

func run(conf config.Config, log *slog.Logger) error {
	log.Info("connecting to database")

	repo, err := postgres.New(conf.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer repo.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if err := repo.Migrate(ctx); err != nil {
		return err
	}

	log.Info("migration complete")
	return nil
}
