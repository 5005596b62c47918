package relay

import (
	"context"
	"errors"
	"testing"
	"time"

	"message-relay/internal/adapters/broker/memory"
	"message-relay/internal/domain"
)

const (
	testPoll    = 10 * time.Millisecond
	testTimeout = 20 * time.Millisecond
)

func startQueueWorker(t *testing.T, b *memory.Broker, sink *recordingSink) (*Worker, *QueueConsumer) {
	t.Helper()
	qc, err := NewQueueConsumer(context.Background(), b, "mem://local", "orders", testLogger())
	if err != nil {
		t.Fatalf("consumer: %v", err)
	}
	return StartWorker(qc, sink, domain.KindQueue, testPoll, testLogger()), qc
}

func TestWorkerForwardsInDeliveryOrder(t *testing.T) {
	b := memory.NewBroker()
	sink := &recordingSink{}
	w, _ := startQueueWorker(t, b, sink)
	defer w.Stop(context.Background())

	for _, body := range []string{"M1", "M2", "M3"} {
		b.Deliver("orders", domain.KindQueue, domain.NewMessage("alice", body).Properties())
	}

	eventually(t, 2*time.Second, "three forwards", func() bool { return len(sink.messages()) == 3 })
	for i, want := range []string{"M1", "M2", "M3"} {
		if got := sink.messages()[i].Body; got != want {
			t.Fatalf("message %d = %s, want %s", i, got, want)
		}
	}
	if w.Forwarded() != 3 {
		t.Fatalf("Forwarded() = %d", w.Forwarded())
	}
}

func TestWorkerCancellationIsBounded(t *testing.T) {
	b := memory.NewBroker()
	sink := &recordingSink{}
	w, _ := startQueueWorker(t, b, sink)

	if w.State() != StateRunning {
		t.Fatalf("worker should be running, got %s", w.State())
	}

	bound := testTimeout + testPoll + 200*time.Millisecond
	ctx, cancel := context.WithTimeout(context.Background(), bound)
	defer cancel()
	if err := w.Stop(ctx); err != nil {
		t.Fatalf("worker did not stop within %s: %v", bound, err)
	}

	if w.State() != StateIdle {
		t.Fatalf("worker state after stop = %s", w.State())
	}
	expectStats(t, b, memory.Stats{})

	b.Deliver("orders", domain.KindQueue, domain.NewMessage("alice", "late").Properties())
	time.Sleep(5 * testPoll)
	if n := len(sink.messages()); n != 0 {
		t.Fatalf("%d messages forwarded after cancellation", n)
	}
}

func TestWorkerStopsWhenSourceFails(t *testing.T) {
	b := memory.NewBroker()
	w, qc := startQueueWorker(t, b, &recordingSink{})

	b.Sever()

	select {
	case <-w.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("worker kept running after source failure")
	}
	if !errors.Is(qc.Err(), domain.ErrReceive) {
		t.Fatalf("expected receive failure, got %v", qc.Err())
	}
	expectStats(t, b, memory.Stats{})
}

func TestWorkerSurvivesForwardFailure(t *testing.T) {
	b := memory.NewBroker()
	sink := &recordingSink{}
	sink.setFail(errors.New("sink down"))
	w, _ := startQueueWorker(t, b, sink)
	defer w.Stop(context.Background())

	b.Deliver("orders", domain.KindQueue, domain.NewMessage("alice", "dropped").Properties())
	eventually(t, time.Second, "forward attempt", func() bool { return sink.attempted() == 1 })

	sink.setFail(nil)
	b.Deliver("orders", domain.KindQueue, domain.NewMessage("alice", "kept").Properties())
	eventually(t, time.Second, "forward after failure", func() bool { return len(sink.messages()) == 1 })

	if got := sink.messages()[0].Body; got != "kept" {
		t.Fatalf("unexpected forward %q", got)
	}
	if w.State() != StateRunning {
		t.Fatalf("forward failure should not stop the worker")
	}
}

func TestWorkerRecoversPanic(t *testing.T) {
	b := memory.NewBroker()
	sink := &recordingSink{panics: true}
	w, _ := startQueueWorker(t, b, sink)

	b.Deliver("orders", domain.KindQueue, domain.NewMessage("alice", "boom").Properties())

	select {
	case <-w.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("worker did not stop after panic")
	}
	expectStats(t, b, memory.Stats{})
}

func TestTopicConsumerLoop(t *testing.T) {
	b := memory.NewBroker()
	tc, err := NewTopicConsumer(context.Background(), b, "mem://local", "alerts", testTimeout, testLogger())
	if err != nil {
		t.Fatalf("topic consumer: %v", err)
	}
	tc.Start()
	tc.Start()

	b.Deliver("alerts", domain.KindTopic, domain.NewMessage("bob", "fire").Properties())
	eventually(t, time.Second, "topic delivery", func() bool { return tc.mailbox.Len() == 1 })

	b.Sever()
	eventually(t, time.Second, "receive failure", tc.InError)
	if !tc.Running() {
		t.Fatalf("receive failure must not stop the inner loop")
	}

	tc.Close()
	if tc.Running() {
		t.Fatalf("loop still running after close")
	}
	expectStats(t, b, memory.Stats{})

	tc.Start()
	if tc.Running() {
		t.Fatalf("start after close must not restart the loop")
	}
}
