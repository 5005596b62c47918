// relay-send publishes a batch of messages to a queue or topic and reports how
// many the broker accepted.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"message-relay/internal/adapters/broker"
	"message-relay/internal/config"
	"message-relay/internal/domain"
	"message-relay/internal/logger"
	"message-relay/internal/relay"
)

type options struct {
	broker      string
	name        string
	kind        string
	sender      string
	body        string
	count       int
	concurrency int
}

func main() {
	_ = godotenv.Load()

	conf, err := config.FromEnv()
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}

	var opts options
	flag.StringVar(&opts.broker, "broker", conf.BrokerURL, "broker address")
	flag.StringVar(&opts.name, "name", conf.Destination, "queue or topic name")
	flag.StringVar(&opts.kind, "type", conf.DestinationKind, "QUEUE or TOPIC")
	flag.StringVar(&opts.sender, "username", "relay-send", "sender carried in the username property")
	flag.StringVar(&opts.body, "message", "test message", "message body; a sequence number is appended")
	flag.IntVar(&opts.count, "n", 1, "number of messages")
	flag.IntVar(&opts.concurrency, "c", 4, "concurrent producers")
	flag.Parse()

	log, closer := logger.New(logger.Options{Level: conf.LogLevel, File: conf.LogFile})
	defer closer.Close()

	if err := run(conf, opts, log); err != nil {
		log.Error("relay-send failed", "err", err)
		closer.Close()
		os.Exit(1)
	}
}

func run(conf config.Config, opts options, log *slog.Logger) error {
	kind, err := domain.ParseKind(opts.kind)
	if err != nil {
		return err
	}
	if opts.name == "" {
		return errors.New("destination name is required (-name or DESTINATION)")
	}
	if opts.count < 1 || opts.concurrency < 1 {
		return errors.New("-n and -c must be positive")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry, _ := broker.Default(conf.DialTimeout)
	spec := domain.DestinationSpec{BrokerAddress: opts.broker, DestinationName: opts.name, Kind: kind}

	var (
		sent   atomic.Int64
		failed atomic.Int64
		next   atomic.Int64
	)
	start := time.Now()

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < opts.concurrency; i++ {
		g.Go(func() error {
			p, err := relay.NewProducer(gctx, registry, spec, log)
			if err != nil {
				return err
			}
			defer p.Close()

			for {
				i := next.Add(1)
				if i > int64(opts.count) || gctx.Err() != nil {
					return nil
				}
				msg := domain.NewMessage(opts.sender, fmt.Sprintf("%s #%d", opts.body, i))
				if err := p.Publish(gctx, msg); err != nil {
					failed.Add(1)
					return err
				}
				sent.Add(1)
			}
		})
	}
	err = g.Wait()

	elapsed := time.Since(start)
	log.Info("relay-send finished",
		"destination", spec.String(),
		"sent", sent.Load(),
		"failed", failed.Load(),
		"elapsed", elapsed.String(),
		"per_sec", float64(sent.Load())/elapsed.Seconds(),
	)
	return err
}
