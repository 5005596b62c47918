package rabbitmq

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"message-relay/internal/ports"
)

var errDeliveriesClosed = errors.New("rabbitmq: deliveries channel closed")

type consumer struct {
	ch         *amqp.Channel
	tag        string
	deliveries <-chan amqp.Delivery
}

func consumerTag() string { return "message-relay-" + uuid.NewString() }

// Receive acknowledges each delivery as soon as it is handed out.
func (c *consumer) Receive(ctx context.Context) (ports.Properties, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()

	case d, ok := <-c.deliveries:
		if !ok {
			return nil, errDeliveriesClosed
		}
		if err := d.Ack(false); err != nil {
			return nil, fmt.Errorf("ack delivery: %w", err)
		}
		return headerProperties(d.Headers), nil
	}
}

func headerProperties(h amqp.Table) ports.Properties {
	props := make(ports.Properties, len(h))
	for k, v := range h {
		props[k] = v
	}
	return props
}

func (c *consumer) Close() error {
	if c.ch.IsClosed() {
		return nil
	}
	return c.ch.Cancel(c.tag, false)
}
