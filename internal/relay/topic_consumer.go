package relay

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"message-relay/internal/domain"
	"message-relay/internal/ports"
)

// TopicConsumer owns a receive loop that pulls from a topic subscription with a
// bounded wait per attempt and appends deliveries to its mailbox.
//
// A receive failure is recorded but does not stop the loop. Whoever polls the
// consumer decides when to give up by observing InError.
type TopicConsumer struct {
	handle  *Handle
	mailbox *Mailbox
	timeout time.Duration
	log     *slog.Logger

	running atomic.Bool

	mu      sync.Mutex
	started bool
	stopped bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewTopicConsumer subscribes to topicName. The receive loop does not run until Start.
func NewTopicConsumer(ctx context.Context, driver ports.Driver, brokerAddress, topicName string, receiveTimeout time.Duration, log *slog.Logger) (*TopicConsumer, error) {
	spec := domain.DestinationSpec{BrokerAddress: brokerAddress, DestinationName: topicName, Kind: domain.KindTopic}

	h, err := Open(ctx, driver, spec, domain.RoleConsumer, log)
	if err != nil {
		return nil, err
	}

	return &TopicConsumer{
		handle:  h,
		mailbox: NewMailbox(),
		timeout: receiveTimeout,
		log:     log.With("topic", topicName),
	}, nil
}

// Start launches the receive loop. Calling it again, or after Stop, does nothing.
func (c *TopicConsumer) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started || c.stopped {
		return
	}
	c.started = true

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.done = make(chan struct{})
	c.running.Store(true)

	go c.run(ctx)
}

func (c *TopicConsumer) run(ctx context.Context) {
	defer close(c.done)

	for c.running.Load() {
		msg, ok, err := c.handle.Receive(ctx, c.timeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			// The failure is already recorded on the handle. Back off one
			// receive window so a dead subscription does not spin.
			select {
			case <-ctx.Done():
				return
			case <-time.After(c.timeout):
			}
			continue
		}
		if ok {
			c.mailbox.Push(msg)
		}
	}
}

// Stop clears the run flag and returns once the receive loop has exited.
func (c *TopicConsumer) Stop() {
	c.mu.Lock()
	c.stopped = true
	cancel, done := c.cancel, c.done
	c.mu.Unlock()

	c.running.Store(false)
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Running reports whether the receive loop is active.
func (c *TopicConsumer) Running() bool { return c.running.Load() }

func (c *TopicConsumer) Receive() (domain.Message, bool) { return c.mailbox.Pop() }

func (c *TopicConsumer) InError() bool { return c.handle.InError() }

func (c *TopicConsumer) Err() error { return c.handle.Err() }

func (c *TopicConsumer) Spec() domain.DestinationSpec { return c.handle.Spec() }

// Close stops the loop and then releases the subscription.
func (c *TopicConsumer) Close() {
	c.Stop()
	c.handle.Close()
	c.log.Debug("topic consumer closed")
}
