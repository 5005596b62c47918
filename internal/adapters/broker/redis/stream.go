package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"message-relay/internal/ports"
)

type producer struct {
	rdb    *redis.Client
	stream string
}

// Publish appends one entry whose fields are the message properties.
func (p *producer) Publish(ctx context.Context, props ports.Properties) error {
	err := p.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		ID:     "*",
		Values: map[string]any(props),
	}).Err()
	if err != nil {
		return fmt.Errorf("xadd %s: %w", p.stream, err)
	}
	return nil
}

func (p *producer) Close() error { return nil }

// groupConsumer reads a stream through the shared relay consumer group.
type groupConsumer struct {
	rdb    *redis.Client
	stream string
	name   string
}

func newGroupConsumer(rdb *redis.Client, stream string) *groupConsumer {
	return &groupConsumer{rdb: rdb, stream: stream, name: "relay-" + uuid.NewString()}
}

// Receive acknowledges each entry as soon as it is read.
func (c *groupConsumer) Receive(ctx context.Context) (ports.Properties, error) {
	for {
		res, err := c.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    groupName,
			Consumer: c.name,
			Streams:  []string{c.stream, ">"},
			Count:    1,
			Block:    blockFor(ctx),
		}).Result()

		msg, ok, err := firstEntry(ctx, res, err)
		if err != nil {
			return nil, fmt.Errorf("xreadgroup %s: %w", c.stream, err)
		}
		if !ok {
			continue
		}

		if err := c.rdb.XAck(ctx, c.stream, groupName, msg.ID).Err(); err != nil {
			return nil, fmt.Errorf("xack %s: %w", c.stream, err)
		}
		return ports.Properties(msg.Values), nil
	}
}

// Close removes this consumer from the group.
func (c *groupConsumer) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return c.rdb.XGroupDelConsumer(ctx, c.stream, groupName, c.name).Err()
}

// tailConsumer reads every entry added after it subscribed.
type tailConsumer struct {
	rdb    *redis.Client
	stream string
	lastID string
}

func newTailConsumer(ctx context.Context, rdb *redis.Client, stream string) (*tailConsumer, error) {
	last, err := rdb.XRevRangeN(ctx, stream, "+", "-", 1).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("xrevrange %s: %w", stream, err)
	}

	c := &tailConsumer{rdb: rdb, stream: stream, lastID: "0-0"}
	if len(last) > 0 {
		c.lastID = last[0].ID
	}
	return c, nil
}

func (c *tailConsumer) Receive(ctx context.Context) (ports.Properties, error) {
	for {
		res, err := c.rdb.XRead(ctx, &redis.XReadArgs{
			Streams: []string{c.stream, c.lastID},
			Count:   1,
			Block:   blockFor(ctx),
		}).Result()

		msg, ok, err := firstEntry(ctx, res, err)
		if err != nil {
			return nil, fmt.Errorf("xread %s: %w", c.stream, err)
		}
		if !ok {
			continue
		}
		c.lastID = msg.ID
		return ports.Properties(msg.Values), nil
	}
}

func (c *tailConsumer) Close() error { return nil }

// firstEntry unpacks a single-entry stream read. An empty read with ctx still
// live reports ok == false so the caller reads again.
func firstEntry(ctx context.Context, res []redis.XStream, err error) (redis.XMessage, bool, error) {
	if cerr := ctx.Err(); cerr != nil {
		return redis.XMessage{}, false, cerr
	}
	if errors.Is(err, redis.Nil) {
		return redis.XMessage{}, false, nil
	}
	if err != nil {
		return redis.XMessage{}, false, err
	}
	for _, s := range res {
		if len(s.Messages) > 0 {
			return s.Messages[0], true, nil
		}
	}
	return redis.XMessage{}, false, nil
}
