package relay

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"message-relay/internal/adapters/broker/memory"
	"message-relay/internal/domain"
	"message-relay/internal/ports"
)

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func queueSpec(name string) domain.DestinationSpec {
	return domain.DestinationSpec{BrokerAddress: "mem://local", DestinationName: name, Kind: domain.KindQueue}
}

func topicSpec(name string) domain.DestinationSpec {
	return domain.DestinationSpec{BrokerAddress: "mem://local", DestinationName: name, Kind: domain.KindTopic}
}

// eventually polls cond until it holds or timeout passes.
func eventually(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func expectStats(t *testing.T, b *memory.Broker, want memory.Stats) {
	t.Helper()
	got := b.Stats()
	got.Published = want.Published
	if got != want {
		t.Fatalf("broker stats = %+v, want %+v", got, want)
	}
}

// recordingSink collects forwarded messages and can be told to fail or panic.
type recordingSink struct {
	mu       sync.Mutex
	got      []domain.Message
	attempts int
	fail     error
	panics   bool
}

func (s *recordingSink) Forward(ctx context.Context, msg domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts++
	if s.panics {
		panic("sink exploded")
	}
	if s.fail != nil {
		return s.fail
	}
	s.got = append(s.got, msg)
	return nil
}

func (s *recordingSink) messages() []domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Message(nil), s.got...)
}

func (s *recordingSink) attempted() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

func (s *recordingSink) setFail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = err
}

func sinkFactory(sink ports.Sink) ports.SinkFactory {
	return func(string) ports.Sink { return sink }
}
