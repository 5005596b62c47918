package ports

import (
	"context"

	"message-relay/internal/domain"
)

// Sink is the downstream service consumed messages are forwarded to.
type Sink interface {
	// Forward delivers one message. It is called at most once per message.
	Forward(ctx context.Context, msg domain.Message) error
}

// SinkFactory builds a Sink for the address given on connect.
type SinkFactory func(address string) Sink
