package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"message-relay/internal/domain"
	"message-relay/internal/ports"
)

// Options tune the supervisor.
type Options struct {
	PollInterval   time.Duration
	ReceiveTimeout time.Duration
	NewSink        ports.SinkFactory
}

// Status is a snapshot of the consumer slot.
type Status struct {
	State       State
	Destination domain.DestinationSpec
	SinkAddress string
	InError     bool
	Error       string
	Forwarded   int64
}

type slot struct {
	spec        domain.DestinationSpec
	sinkAddress string
	source      Source
	worker      *Worker
	state       atomic.Int32
}

// Supervisor owns at most one consumer slot and the QUEUE producer slot.
type Supervisor struct {
	driver ports.Driver
	opts   Options
	log    *slog.Logger

	mu      sync.Mutex // serialises Connect, Disconnect and Shutdown
	current atomic.Pointer[slot]

	producerMu sync.Mutex
	producer   *Producer
}

func NewSupervisor(driver ports.Driver, opts Options, log *slog.Logger) *Supervisor {
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	if opts.ReceiveTimeout <= 0 {
		opts.ReceiveTimeout = time.Second
	}
	return &Supervisor{driver: driver, opts: opts, log: log.With("component", "relay")}
}

// Connect replaces the consumer slot with a new consumer on spec forwarding to
// sinkAddress. The previous worker is cancelled and has fully released its
// broker resources before the new handle is opened.
func (s *Supervisor) Connect(ctx context.Context, spec domain.DestinationSpec, sinkAddress string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.stopLocked(ctx); err != nil {
		return err
	}

	// Slots are never mutated after Store apart from state, so Status can read
	// them without the mutex. CONNECTING is a placeholder slot with no worker.
	connecting := &slot{spec: spec, sinkAddress: sinkAddress}
	connecting.state.Store(int32(StateConnecting))
	s.current.Store(connecting)

	log := s.log.With("destination", spec.DestinationName, "kind", spec.Kind)
	log.Info("connecting relay", "broker", spec.BrokerAddress, "sink", sinkAddress)

	source, err := s.openSource(ctx, spec, log)
	if err != nil {
		s.current.Store(nil)
		return err
	}

	running := &slot{
		spec:        spec,
		sinkAddress: sinkAddress,
		source:      source,
		worker:      StartWorker(source, s.opts.NewSink(sinkAddress), spec.Kind, s.opts.PollInterval, log),
	}
	running.state.Store(int32(StateRunning))
	s.current.Store(running)
	return nil
}

func (s *Supervisor) openSource(ctx context.Context, spec domain.DestinationSpec, log *slog.Logger) (Source, error) {
	switch spec.Kind {
	case domain.KindQueue:
		return NewQueueConsumer(ctx, s.driver, spec.BrokerAddress, spec.DestinationName, log)
	case domain.KindTopic:
		c, err := NewTopicConsumer(ctx, s.driver, spec.BrokerAddress, spec.DestinationName, s.opts.ReceiveTimeout, log)
		if err != nil {
			return nil, err
		}
		c.Start()
		return c, nil
	default:
		return nil, fmt.Errorf("open relay source: %w: %q", domain.ErrInvalidKind, spec.Kind)
	}
}

// stopLocked cancels and joins the current worker. If ctx ends first the slot
// is left in place, still STOPPING.
func (s *Supervisor) stopLocked(ctx context.Context) error {
	cur := s.current.Load()
	if cur == nil {
		return nil
	}
	if cur.worker != nil {
		cur.state.Store(int32(StateStopping))
		if err := cur.worker.Stop(ctx); err != nil {
			return fmt.Errorf("previous relay still stopping: %w", err)
		}
	}
	s.current.Store(nil)
	s.log.Info("relay stopped", "destination", cur.spec.DestinationName, "kind", cur.spec.Kind)
	return nil
}

// Disconnect stops the consumer slot, if any.
func (s *Supervisor) Disconnect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopLocked(ctx)
}

// Status reports the consumer slot without blocking on Connect.
func (s *Supervisor) Status() Status {
	cur := s.current.Load()
	if cur == nil {
		return Status{State: StateIdle}
	}

	st := Status{
		State:       State(cur.state.Load()),
		Destination: cur.spec,
		SinkAddress: cur.sinkAddress,
	}
	if cur.worker != nil {
		st.Forwarded = cur.worker.Forwarded()
		if ws := cur.worker.State(); ws != StateRunning {
			st.State = ws
		}
	}
	if cur.source != nil {
		if err := cur.source.Err(); err != nil {
			st.InError = true
			st.Error = err.Error()
		}
	}
	return st
}

// Send publishes one message to spec. QUEUE sends go through the supervisor's
// producer slot; TOPIC sends use a producer scoped to the call.
func (s *Supervisor) Send(ctx context.Context, spec domain.DestinationSpec, msg domain.Message) error {
	switch spec.Kind {
	case domain.KindQueue:
		return s.sendQueue(ctx, spec, msg)
	case domain.KindTopic:
		p, err := NewProducer(ctx, s.driver, spec, s.log)
		if err != nil {
			return err
		}
		defer p.Close()
		return p.Publish(ctx, msg)
	default:
		return fmt.Errorf("send message: %w: %q", domain.ErrInvalidKind, spec.Kind)
	}
}

func (s *Supervisor) sendQueue(ctx context.Context, spec domain.DestinationSpec, msg domain.Message) error {
	s.producerMu.Lock()
	defer s.producerMu.Unlock()

	if s.producer != nil {
		s.producer.Close()
		s.producer = nil
	}

	p, err := NewProducer(ctx, s.driver, spec, s.log)
	if err != nil {
		return err
	}
	s.producer = p
	defer func() {
		s.producer.Close()
		s.producer = nil
	}()

	if p.InError() {
		return p.Err()
	}
	return p.Publish(ctx, msg)
}

// ProducerInstalled reports whether a QUEUE producer is currently held.
func (s *Supervisor) ProducerInstalled() bool {
	s.producerMu.Lock()
	defer s.producerMu.Unlock()
	return s.producer != nil
}

// Shutdown stops the consumer slot and releases the producer slot.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	var errs []error
	if err := s.Disconnect(ctx); err != nil {
		errs = append(errs, err)
	}

	s.producerMu.Lock()
	if s.producer != nil {
		s.producer.Close()
		s.producer = nil
	}
	s.producerMu.Unlock()

	return errors.Join(errs...)
}
