package relay

import (
	"context"
	"errors"
	"testing"
	"time"

	"message-relay/internal/adapters/broker/memory"
	"message-relay/internal/domain"
	"message-relay/internal/ports"
)

func TestOpenCloseReturnsToBaseline(t *testing.T) {
	for _, role := range []domain.Role{domain.RoleProducer, domain.RoleConsumer} {
		t.Run(role.String(), func(t *testing.T) {
			b := memory.NewBroker()
			h, err := Open(context.Background(), b, queueSpec("orders"), role, testLogger())
			if err != nil {
				t.Fatalf("open: %v", err)
			}

			open := b.Stats()
			if open.Connections != 1 || open.Sessions != 1 || open.Producers+open.Consumers != 1 {
				t.Fatalf("handle not fully open: %+v", open)
			}

			h.Close()
			h.Close()
			expectStats(t, b, memory.Stats{})
			if !h.Closed() {
				t.Fatalf("handle should report closed")
			}
		})
	}
}

func TestOpenFailureReleasesAcquiredResources(t *testing.T) {
	cases := []struct {
		step  domain.Step
		role  domain.Role
		class error
	}{
		{domain.StepConnect, domain.RoleConsumer, domain.ErrConnection},
		{domain.StepSession, domain.RoleConsumer, domain.ErrSession},
		{domain.StepDestination, domain.RoleConsumer, domain.ErrDestination},
		{domain.StepConsumer, domain.RoleConsumer, domain.ErrDestination},
		{domain.StepProducer, domain.RoleProducer, domain.ErrDestination},
	}
	for _, tc := range cases {
		t.Run(string(tc.step), func(t *testing.T) {
			b := memory.NewBroker()
			cause := errors.New("refused")
			b.FailOn(tc.step, cause)

			h, err := Open(context.Background(), b, queueSpec("orders"), tc.role, testLogger())
			if !errors.Is(err, tc.class) || !errors.Is(err, cause) {
				t.Fatalf("unexpected error %v", err)
			}

			var berr *domain.BrokerError
			if !errors.As(err, &berr) || berr.Step != tc.step {
				t.Fatalf("error does not name step %s: %v", tc.step, err)
			}
			if !h.InError() || h.Err() != err {
				t.Fatalf("handle error state not set")
			}
			if !h.Closed() {
				t.Fatalf("failed handle should be closed")
			}
			expectStats(t, b, memory.Stats{})

			h.Close()
		})
	}
}

func TestPublishFailureIsRecorded(t *testing.T) {
	b := memory.NewBroker()
	h, err := Open(context.Background(), b, queueSpec("orders"), domain.RoleProducer, testLogger())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer h.Close()

	b.FailOn(domain.StepPublish, errors.New("broker full"))
	err = h.Publish(context.Background(), domain.NewMessage("alice", "hi"))
	if !errors.Is(err, domain.ErrPublish) {
		t.Fatalf("expected ErrPublish, got %v", err)
	}
	if !h.InError() {
		t.Fatalf("publish failure should set error state")
	}

	b.FailOn(domain.StepPublish, nil)
	if err := h.Publish(context.Background(), domain.NewMessage("alice", "again")); !errors.Is(err, domain.ErrPublish) {
		t.Fatalf("failed handle should keep returning its error, got %v", err)
	}
	if b.QueueDepth("orders") != 0 {
		t.Fatalf("nothing should have been published")
	}
}

func TestPublishRoleAndClosedChecks(t *testing.T) {
	b := memory.NewBroker()
	c, err := Open(context.Background(), b, queueSpec("orders"), domain.RoleConsumer, testLogger())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer c.Close()
	if err := c.Publish(context.Background(), domain.NewMessage("a", "b")); !errors.Is(err, domain.ErrWrongRole) {
		t.Fatalf("expected ErrWrongRole, got %v", err)
	}

	p, err := Open(context.Background(), b, queueSpec("orders"), domain.RoleProducer, testLogger())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	p.Close()
	if err := p.Publish(context.Background(), domain.NewMessage("a", "b")); !errors.Is(err, domain.ErrHandleClosed) {
		t.Fatalf("expected ErrHandleClosed, got %v", err)
	}
}

func TestListenDropsMalformedDeliveries(t *testing.T) {
	b := memory.NewBroker()
	qc, err := NewQueueConsumer(context.Background(), b, "mem://local", "orders", testLogger())
	if err != nil {
		t.Fatalf("consumer: %v", err)
	}
	defer qc.Close()

	b.Deliver("orders", domain.KindQueue, ports.Properties{"username": "alice"})
	b.Deliver("orders", domain.KindQueue, domain.NewMessage("alice", "hello").Properties())

	eventually(t, time.Second, "valid delivery", func() bool { return qc.mailbox.Len() == 1 })

	msg, ok := qc.Receive()
	if !ok || msg != domain.NewMessage("alice", "hello") {
		t.Fatalf("unexpected message %+v %v", msg, ok)
	}
	if qc.InError() {
		t.Fatalf("malformed delivery must not set error state: %v", qc.Err())
	}
}

func TestListenRecordsBrokerFailure(t *testing.T) {
	b := memory.NewBroker()
	qc, err := NewQueueConsumer(context.Background(), b, "mem://local", "orders", testLogger())
	if err != nil {
		t.Fatalf("consumer: %v", err)
	}
	defer qc.Close()

	b.Sever()
	eventually(t, time.Second, "receive failure", qc.InError)
	if !errors.Is(qc.Err(), domain.ErrReceive) {
		t.Fatalf("expected ErrReceive, got %v", qc.Err())
	}
}

func TestReceiveTimeoutIsNotAnError(t *testing.T) {
	b := memory.NewBroker()
	h, err := Open(context.Background(), b, topicSpec("alerts"), domain.RoleConsumer, testLogger())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer h.Close()

	_, ok, err := h.Receive(context.Background(), 10*time.Millisecond)
	if err != nil || ok {
		t.Fatalf("timeout should be (false, nil), got (%v, %v)", ok, err)
	}
	if h.InError() {
		t.Fatalf("timeout must not set error state")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, _, err := h.Receive(ctx, time.Second); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if h.InError() {
		t.Fatalf("cancellation must not set error state")
	}

	b.Deliver("alerts", domain.KindTopic, domain.NewMessage("bob", "fire").Properties())
	msg, ok, err := h.Receive(context.Background(), time.Second)
	if err != nil || !ok || msg.Body != "fire" {
		t.Fatalf("unexpected receive %+v %v %v", msg, ok, err)
	}
}
