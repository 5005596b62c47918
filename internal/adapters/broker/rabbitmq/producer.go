package rabbitmq

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"message-relay/internal/ports"
)

type producer struct {
	ch       *amqp.Channel
	exchange string
	key      string
}

// Publish sends the properties as AMQP headers with an empty body.
func (p *producer) Publish(ctx context.Context, props ports.Properties) error {
	err := p.ch.PublishWithContext(
		ctx,
		p.exchange,
		p.key,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			Headers:      amqp.Table(props),
			DeliveryMode: amqp.Persistent,
			MessageId:    uuid.NewString(),
		},
	)
	if err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}

// Close is a no-op; the channel belongs to the session.
func (p *producer) Close() error { return nil }
