package relay

import (
	"context"
	"log/slog"

	"message-relay/internal/domain"
	"message-relay/internal/ports"
)

// Producer publishes relay messages to one destination. The caller closes it.
type Producer struct {
	handle *Handle
}

// NewProducer opens a producer handle for spec.
func NewProducer(ctx context.Context, driver ports.Driver, spec domain.DestinationSpec, log *slog.Logger) (*Producer, error) {
	h, err := Open(ctx, driver, spec, domain.RoleProducer, log)
	if err != nil {
		return nil, err
	}
	return &Producer{handle: h}, nil
}

// Publish sends one message. Failures are recorded and returned, never retried.
func (p *Producer) Publish(ctx context.Context, msg domain.Message) error {
	return p.handle.Publish(ctx, msg)
}

func (p *Producer) InError() bool { return p.handle.InError() }

func (p *Producer) Err() error { return p.handle.Err() }

func (p *Producer) Spec() domain.DestinationSpec { return p.handle.Spec() }

func (p *Producer) Close() { p.handle.Close() }
