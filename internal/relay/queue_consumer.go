package relay

import (
	"context"
	"log/slog"

	"message-relay/internal/domain"
	"message-relay/internal/ports"
)

// QueueConsumer receives from a queue through a broker push subscription.
// Deliveries are appended to a mailbox that Receive drains without blocking.
type QueueConsumer struct {
	handle  *Handle
	mailbox *Mailbox
}

// NewQueueConsumer opens a consumer handle on queueName and subscribes to it.
// On failure the handle is already closed and the returned error is the
// recorded ErrorState.
func NewQueueConsumer(ctx context.Context, driver ports.Driver, brokerAddress, queueName string, log *slog.Logger) (*QueueConsumer, error) {
	spec := domain.DestinationSpec{BrokerAddress: brokerAddress, DestinationName: queueName, Kind: domain.KindQueue}

	h, err := Open(ctx, driver, spec, domain.RoleConsumer, log)
	if err != nil {
		return nil, err
	}

	c := &QueueConsumer{handle: h, mailbox: NewMailbox()}
	if err := h.Listen(c.mailbox.Push); err != nil {
		h.Close()
		return nil, err
	}
	return c, nil
}

func (c *QueueConsumer) Receive() (domain.Message, bool) { return c.mailbox.Pop() }

func (c *QueueConsumer) InError() bool { return c.handle.InError() }

func (c *QueueConsumer) Err() error { return c.handle.Err() }

func (c *QueueConsumer) Spec() domain.DestinationSpec { return c.handle.Spec() }

// Close releases the subscription. Messages still in the mailbox are discarded.
func (c *QueueConsumer) Close() { c.handle.Close() }
