package relay

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"message-relay/internal/domain"
	"message-relay/internal/metrics"
	"message-relay/internal/ports"
)

// Source is a consumer role a Worker drains.
type Source interface {
	// Receive pops one buffered message without blocking.
	Receive() (domain.Message, bool)
	InError() bool
	Err() error
	Close()
}

// Worker drains one Source into a Sink until it is cancelled or the source
// fails. The source is owned by the worker and closed when the loop exits.
type Worker struct {
	source Source
	sink   ports.Sink
	kind   domain.Kind
	idle   time.Duration
	log    *slog.Logger

	cancel    context.CancelFunc
	done      chan struct{}
	state     atomic.Int32
	forwarded atomic.Int64
}

// StartWorker launches the polling loop in its own goroutine.
func StartWorker(source Source, sink ports.Sink, kind domain.Kind, idle time.Duration, log *slog.Logger) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	w := &Worker{
		source: source,
		sink:   sink,
		kind:   kind,
		idle:   idle,
		log:    log,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	w.state.Store(int32(StateRunning))
	metrics.ActiveWorkers.Inc()

	go w.run(ctx)
	return w
}

func (w *Worker) run(ctx context.Context) {
	defer func() {
		w.state.Store(int32(StateStopping))
		w.source.Close()
		w.state.Store(int32(StateIdle))
		metrics.ActiveWorkers.Dec()
		w.log.Info("relay worker stopped", "forwarded", w.forwarded.Load())
		close(w.done)
	}()

	w.log.Info("relay worker started", "poll_interval", w.idle)

	timer := time.NewTimer(w.idle)
	defer timer.Stop()

	for {
		if ctx.Err() != nil {
			return
		}
		if w.source.InError() {
			w.log.Error("relay source failed, stopping worker", "err", w.source.Err())
			return
		}
		if err := w.step(ctx); err != nil {
			w.log.Error("relay worker aborted", "err", err)
			return
		}

		timer.Reset(w.idle)
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
	}
}

// step performs one receive and forward. A panic ends the worker instead of the process.
func (w *Worker) step(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in poll iteration: %v", r)
		}
	}()

	msg, ok := w.source.Receive()
	if !ok {
		return nil
	}

	if err := w.sink.Forward(ctx, msg); err != nil {
		metrics.ForwardFailures.WithLabelValues(string(w.kind)).Inc()
		w.log.Warn("dropping message, sink forward failed", "sender", msg.Sender, "err", err)
		return nil
	}

	w.forwarded.Add(1)
	metrics.MessagesForwarded.WithLabelValues(string(w.kind)).Inc()
	w.log.Info("message forwarded", "sender", msg.Sender)
	return nil
}

// Cancel asks the loop to stop. It returns immediately.
func (w *Worker) Cancel() { w.cancel() }

// Wait blocks until the loop has exited and the source is closed, or ctx is done.
func (w *Worker) Wait(ctx context.Context) error {
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for relay worker: %w", ctx.Err())
	}
}

// Stop cancels the loop and waits for it.
func (w *Worker) Stop(ctx context.Context) error {
	w.Cancel()
	return w.Wait(ctx)
}

// Done is closed once the worker is back to IDLE.
func (w *Worker) Done() <-chan struct{} { return w.done }

func (w *Worker) State() State { return State(w.state.Load()) }

// Forwarded is the number of messages the sink accepted.
func (w *Worker) Forwarded() int64 { return w.forwarded.Load() }
