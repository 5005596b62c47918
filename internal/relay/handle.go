package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"message-relay/internal/domain"
	"message-relay/internal/metrics"
	"message-relay/internal/ports"
)

// Handle is an open broker connection, session and destination binding with
// either a producer or a consumer. A handle is fully open or fully closed.
type Handle struct {
	spec domain.DestinationSpec
	role domain.Role
	log  *slog.Logger

	conn     ports.BrokerConn
	session  ports.Session
	producer ports.Producer
	consumer ports.Consumer

	state ErrorState

	mu           sync.Mutex
	closed       bool
	listenCancel context.CancelFunc
	listenDone   chan struct{}
}

// Open acquires connection, session, destination and producer or consumer, in
// that order. On failure everything acquired so far is released and the failed,
// already closed handle is returned alongside the error; its ErrorState holds the
// same error.
func Open(ctx context.Context, driver ports.Driver, spec domain.DestinationSpec, role domain.Role, log *slog.Logger) (*Handle, error) {
	h := &Handle{
		spec: spec,
		role: role,
		log:  log.With("destination", spec.DestinationName, "kind", spec.Kind, "role", role),
	}

	if err := h.open(ctx, driver); err != nil {
		h.state.Set(err)
		metrics.BrokerFailures.WithLabelValues(string(err.Step)).Inc()
		h.log.Error("open destination handle", "step", err.Step, "err", err)
		h.Close()
		return h, err
	}

	h.log.Debug("destination handle open", "broker", spec.BrokerAddress)
	return h, nil
}

func (h *Handle) open(ctx context.Context, driver ports.Driver) *domain.BrokerError {
	conn, err := driver.Dial(ctx, h.spec.BrokerAddress)
	if err != nil {
		return domain.NewBrokerError(domain.StepConnect, h.spec, err)
	}
	h.conn = conn

	session, err := conn.Session(ctx)
	if err != nil {
		return domain.NewBrokerError(domain.StepSession, h.spec, err)
	}
	h.session = session

	dest, err := session.Destination(ctx, h.spec.DestinationName, h.spec.Kind)
	if err != nil {
		return domain.NewBrokerError(domain.StepDestination, h.spec, err)
	}

	if h.role == domain.RoleProducer {
		p, err := session.Producer(ctx, dest)
		if err != nil {
			return domain.NewBrokerError(domain.StepProducer, h.spec, err)
		}
		h.producer = p
		return nil
	}

	c, err := session.Consumer(ctx, dest)
	if err != nil {
		return domain.NewBrokerError(domain.StepConsumer, h.spec, err)
	}
	h.consumer = c
	return nil
}

func (h *Handle) Spec() domain.DestinationSpec { return h.spec }

func (h *Handle) InError() bool { return h.state.InError() }

func (h *Handle) Err() error { return h.state.Err() }

// Closed reports whether Close has run.
func (h *Handle) Closed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

// Publish sends msg as a broker message carrying the two relay properties.
// A failure is recorded on the handle and returned; it is not retried.
func (h *Handle) Publish(ctx context.Context, msg domain.Message) error {
	if err := h.usable(domain.RoleProducer); err != nil {
		return err
	}

	if err := h.producer.Publish(ctx, msg.Properties()); err != nil {
		berr := domain.NewBrokerError(domain.StepPublish, h.spec, err)
		h.state.Set(berr)
		metrics.BrokerFailures.WithLabelValues(string(domain.StepPublish)).Inc()
		return berr
	}

	metrics.MessagesPublished.WithLabelValues(string(h.spec.Kind)).Inc()
	return nil
}

// Listen starts delivering decoded messages to fn from a background goroutine.
// It may be called once. The goroutine stops on Close or on a broker failure,
// which is recorded on the handle.
func (h *Handle) Listen(fn func(domain.Message)) error {
	if err := h.usable(domain.RoleConsumer); err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return domain.ErrHandleClosed
	}
	if h.listenDone != nil {
		return errors.New("listener already registered")
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	h.listenCancel, h.listenDone = cancel, done

	go h.listen(ctx, done, fn)
	return nil
}

func (h *Handle) listen(ctx context.Context, done chan<- struct{}, fn func(domain.Message)) {
	defer close(done)
	for {
		props, err := h.consumer.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			h.failReceive(err)
			return
		}
		if msg, ok := h.decode(props); ok {
			fn(msg)
		}
	}
}

// Receive waits up to timeout for one delivery. A timeout returns ok == false
// and a nil error. Cancellation of ctx returns ctx.Err() and is not recorded.
func (h *Handle) Receive(ctx context.Context, timeout time.Duration) (msg domain.Message, ok bool, err error) {
	if err := h.usable(domain.RoleConsumer); err != nil {
		return domain.Message{}, false, err
	}

	rctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	props, err := h.consumer.Receive(rctx)
	if err != nil {
		switch {
		case ctx.Err() != nil:
			return domain.Message{}, false, ctx.Err()
		case rctx.Err() != nil && errors.Is(err, context.DeadlineExceeded):
			return domain.Message{}, false, nil
		}
		return domain.Message{}, false, h.failReceive(err)
	}

	msg, ok = h.decode(props)
	return msg, ok, nil
}

func (h *Handle) decode(props ports.Properties) (domain.Message, bool) {
	msg, err := domain.MessageFromProperties(props)
	if err != nil {
		metrics.DeliveriesDropped.WithLabelValues(string(h.spec.Kind)).Inc()
		h.log.Warn("dropping delivery", "err", err)
		return domain.Message{}, false
	}
	metrics.MessagesReceived.WithLabelValues(string(h.spec.Kind)).Inc()
	h.log.Debug("delivery received", "sender", msg.Sender)
	return msg, true
}

func (h *Handle) failReceive(err error) error {
	berr := domain.NewBrokerError(domain.StepReceive, h.spec, err)
	if h.state.Set(berr) {
		metrics.BrokerFailures.WithLabelValues(string(domain.StepReceive)).Inc()
		h.log.Error("receive failed", "err", err)
	}
	return berr
}

func (h *Handle) usable(role domain.Role) error {
	if h.role != role {
		return fmt.Errorf("%w: %s handle", domain.ErrWrongRole, h.role)
	}
	if err := h.state.Err(); err != nil {
		return err
	}
	if h.Closed() {
		return domain.ErrHandleClosed
	}
	return nil
}

// Close stops the delivery listener and releases consumer or producer, session
// and connection. Release errors are logged, never returned. Safe to call twice.
func (h *Handle) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	cancel, done := h.listenCancel, h.listenDone
	h.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}

	var first error
	release := func(what string, close func() error) {
		if err := close(); err != nil && first == nil {
			first = fmt.Errorf("close %s: %w", what, err)
		}
	}
	if h.consumer != nil {
		release("consumer", h.consumer.Close)
	}
	if h.producer != nil {
		release("producer", h.producer.Close)
	}
	if h.session != nil {
		release("session", h.session.Close)
	}
	if h.conn != nil {
		release("connection", h.conn.Close)
	}

	if first != nil {
		h.log.Warn("destination handle teardown", "err", first)
		return
	}
	h.log.Debug("destination handle closed")
}
