// Package rabbitmq carries relay destinations over AMQP 0-9-1. Queues are
// durable queues on the default exchange; topics are fanout exchanges with one
// exclusive queue bound per consumer.
package rabbitmq

import (
	"context"
	"fmt"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"message-relay/internal/domain"
	"message-relay/internal/ports"
)

// Driver implements ports.Driver for amqp://, amqps:// and tcp:// addresses.
type Driver struct {
	dialTimeout time.Duration
	prefetch    int
}

// New creates a Driver. A zero dialTimeout uses 30s.
func New(dialTimeout time.Duration) *Driver {
	if dialTimeout <= 0 {
		dialTimeout = 30 * time.Second
	}
	return &Driver{dialTimeout: dialTimeout, prefetch: 16}
}

// amqpURL rewrites the broker-neutral tcp:// scheme to amqp://.
func amqpURL(address string) string {
	if rest, ok := strings.CutPrefix(address, "tcp://"); ok {
		return "amqp://" + rest
	}
	return address
}

func (d *Driver) Dial(ctx context.Context, address string) (ports.BrokerConn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	conn, err := amqp.DialConfig(amqpURL(address), amqp.Config{
		Heartbeat: 10 * time.Second,
		Locale:    "en_US",
		Dial:      amqp.DefaultDial(d.dialTimeout),
	})
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	return &connection{conn: conn, prefetch: d.prefetch}, nil
}

type connection struct {
	conn     *amqp.Connection
	prefetch int
}

func (c *connection) Session(ctx context.Context) (ports.Session, error) {
	ch, err := c.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}
	return &session{ch: ch, prefetch: c.prefetch}, nil
}

func (c *connection) Close() error {
	if c.conn.IsClosed() {
		return nil
	}
	return c.conn.Close()
}

type session struct {
	ch       *amqp.Channel
	prefetch int
}

// Destination idempotently declares the queue or the fanout exchange.
func (s *session) Destination(ctx context.Context, name string, kind domain.Kind) (ports.Destination, error) {
	switch kind {
	case domain.KindQueue:
		if _, err := s.ch.QueueDeclare(name, true, false, false, false, nil); err != nil {
			return ports.Destination{}, fmt.Errorf("declare queue: %w", err)
		}
	case domain.KindTopic:
		if err := s.ch.ExchangeDeclare(name, amqp.ExchangeFanout, true, false, false, false, nil); err != nil {
			return ports.Destination{}, fmt.Errorf("declare exchange: %w", err)
		}
	default:
		return ports.Destination{}, fmt.Errorf("declare destination: %w: %q", domain.ErrInvalidKind, kind)
	}
	return ports.Destination{Name: name, Kind: kind}, nil
}

func (s *session) Producer(ctx context.Context, dest ports.Destination) (ports.Producer, error) {
	exchange, key := publishTarget(dest)
	return &producer{ch: s.ch, exchange: exchange, key: key}, nil
}

// publishTarget returns the exchange and routing key a destination is published to.
func publishTarget(dest ports.Destination) (exchange, key string) {
	if dest.Kind == domain.KindTopic {
		return dest.Name, ""
	}
	return "", dest.Name
}

func (s *session) Consumer(ctx context.Context, dest ports.Destination) (ports.Consumer, error) {
	if err := s.ch.Qos(s.prefetch, 0, false); err != nil {
		return nil, fmt.Errorf("set qos: %w", err)
	}

	queue := dest.Name
	if dest.Kind == domain.KindTopic {
		q, err := s.ch.QueueDeclare("", false, true, true, false, nil)
		if err != nil {
			return nil, fmt.Errorf("declare subscription queue: %w", err)
		}
		if err := s.ch.QueueBind(q.Name, "", dest.Name, false, nil); err != nil {
			return nil, fmt.Errorf("bind subscription queue: %w", err)
		}
		queue = q.Name
	}

	tag := consumerTag()
	deliveries, err := s.ch.Consume(queue, tag, false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("consume: %w", err)
	}
	return &consumer{ch: s.ch, tag: tag, deliveries: deliveries}, nil
}

func (s *session) Close() error {
	if s.ch.IsClosed() {
		return nil
	}
	return s.ch.Close()
}
