package ports

import (
	"context"

	"message-relay/internal/domain"
)

// Properties are the string-keyed properties of one broker message.
type Properties = map[string]any

// Destination is a resolved queue or topic on an open session.
type Destination struct {
	Name string
	Kind domain.Kind
}

// Driver connects to one family of brokers.
type Driver interface {
	// Dial opens a connection to the broker at address.
	Dial(ctx context.Context, address string) (BrokerConn, error)
}

// BrokerConn is an open broker connection.
type BrokerConn interface {
	// Session opens a session (channel) on the connection.
	Session(ctx context.Context) (Session, error)
	Close() error
}

// Session scopes destination lookups, producers and consumers.
type Session interface {
	// Destination resolves or declares the named queue or topic.
	Destination(ctx context.Context, name string, kind domain.Kind) (Destination, error)

	// Producer creates a publisher bound to dest.
	Producer(ctx context.Context, dest Destination) (Producer, error)

	// Consumer creates a subscription on dest. Deliveries are acknowledged on receipt.
	Consumer(ctx context.Context, dest Destination) (Consumer, error)

	Close() error
}

// Producer publishes messages to a single destination.
type Producer interface {
	Publish(ctx context.Context, props Properties) error
	Close() error
}

// Consumer receives messages from a single destination.
type Consumer interface {
	// Receive blocks until a delivery arrives or ctx is done, in which case it
	// returns ctx.Err(). Any other error means the subscription is broken.
	Receive(ctx context.Context) (Properties, error)
	Close() error
}
