// Package redis carries relay destinations over Redis streams. A QUEUE is a
// stream read through one shared consumer group; a TOPIC is a stream every
// consumer tails independently from the moment it subscribed.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"message-relay/internal/domain"
	"message-relay/internal/ports"
)

const (
	groupName = "message-relay"
	maxBlock  = time.Second
)

// Driver implements ports.Driver for redis:// and rediss:// addresses.
type Driver struct {
	dialTimeout time.Duration
}

// New creates a Driver. A zero dialTimeout keeps the go-redis default.
func New(dialTimeout time.Duration) *Driver {
	return &Driver{dialTimeout: dialTimeout}
}

func (d *Driver) Dial(ctx context.Context, address string) (ports.BrokerConn, error) {
	opts, err := redis.ParseURL(address)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if d.dialTimeout > 0 {
		opts.DialTimeout = d.dialTimeout
	}

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &connection{rdb: rdb}, nil
}

type connection struct {
	rdb *redis.Client
}

// Session shares the connection pool; Redis has no session concept.
func (c *connection) Session(ctx context.Context) (ports.Session, error) {
	return &session{rdb: c.rdb}, nil
}

func (c *connection) Close() error { return c.rdb.Close() }

type session struct {
	rdb *redis.Client
}

func (s *session) Destination(ctx context.Context, name string, kind domain.Kind) (ports.Destination, error) {
	switch kind {
	case domain.KindQueue:
		err := s.rdb.XGroupCreateMkStream(ctx, name, groupName, "$").Err()
		if err != nil && !isBusyGroup(err) {
			return ports.Destination{}, fmt.Errorf("create consumer group: %w", err)
		}
	case domain.KindTopic:
		if name == "" {
			return ports.Destination{}, errors.New("empty stream name")
		}
	default:
		return ports.Destination{}, fmt.Errorf("resolve stream: %w: %q", domain.ErrInvalidKind, kind)
	}
	return ports.Destination{Name: name, Kind: kind}, nil
}

func isBusyGroup(err error) bool {
	return strings.HasPrefix(err.Error(), "BUSYGROUP")
}

func (s *session) Producer(ctx context.Context, dest ports.Destination) (ports.Producer, error) {
	return &producer{rdb: s.rdb, stream: dest.Name}, nil
}

func (s *session) Consumer(ctx context.Context, dest ports.Destination) (ports.Consumer, error) {
	if dest.Kind == domain.KindQueue {
		return newGroupConsumer(s.rdb, dest.Name), nil
	}
	return newTailConsumer(ctx, s.rdb, dest.Name)
}

func (s *session) Close() error { return nil }

// blockFor bounds a blocking stream read by maxBlock and the ctx deadline.
// Redis treats BLOCK 0 as forever, so the result is at least a millisecond.
func blockFor(ctx context.Context) time.Duration {
	block := maxBlock
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem < block {
			block = rem
		}
	}
	if block < time.Millisecond {
		block = time.Millisecond
	}
	return block
}
