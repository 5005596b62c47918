package relay

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/sync/errgroup"

	"message-relay/internal/adapters/broker/memory"
	"message-relay/internal/adapters/sink/httpsink"
	"message-relay/internal/domain"
	"message-relay/internal/ports"
)

func newTestSupervisor(b *memory.Broker, sink *recordingSink) *Supervisor {
	return NewSupervisor(b, Options{
		PollInterval:   testPoll,
		ReceiveTimeout: testTimeout,
		NewSink:        sinkFactory(sink),
	}, testLogger())
}

func TestConnectReplacesRunningWorker(t *testing.T) {
	for _, spec := range []domain.DestinationSpec{queueSpec("orders"), topicSpec("alerts")} {
		t.Run(string(spec.Kind), func(t *testing.T) {
			b := memory.NewBroker()
			sink := &recordingSink{}
			s := newTestSupervisor(b, sink)
			defer s.Shutdown(context.Background())

			ctx := context.Background()
			if err := s.Connect(ctx, spec, "http://sink/a"); err != nil {
				t.Fatalf("first connect: %v", err)
			}
			first := s.current.Load().worker

			if err := s.Connect(ctx, spec, "http://sink/b"); err != nil {
				t.Fatalf("second connect: %v", err)
			}

			select {
			case <-first.Done():
			default:
				t.Fatalf("previous worker still alive after reconnect")
			}
			expectStats(t, b, memory.Stats{Connections: 1, Sessions: 1, Consumers: 1})

			st := s.Status()
			if st.State != StateRunning || st.SinkAddress != "http://sink/b" {
				t.Fatalf("unexpected status %+v", st)
			}
		})
	}
}

func TestConcurrentConnectsLeaveOneWorker(t *testing.T) {
	b := memory.NewBroker()
	s := newTestSupervisor(b, &recordingSink{})
	defer s.Shutdown(context.Background())

	var g errgroup.Group
	for i := 0; i < 8; i++ {
		spec := queueSpec("orders")
		if i%2 == 1 {
			spec = topicSpec("alerts")
		}
		g.Go(func() error {
			return s.Connect(context.Background(), spec, "http://sink")
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("connect: %v", err)
	}

	expectStats(t, b, memory.Stats{Connections: 1, Sessions: 1, Consumers: 1})
	if s.Status().State != StateRunning {
		t.Fatalf("expected one running slot, got %+v", s.Status())
	}
}

func TestConnectFailureStartsNoWorker(t *testing.T) {
	b := memory.NewBroker()
	b.FailOn(domain.StepDestination, errors.New("bad name"))
	s := newTestSupervisor(b, &recordingSink{})

	err := s.Connect(context.Background(), queueSpec("orders"), "http://sink")
	if !errors.Is(err, domain.ErrDestination) {
		t.Fatalf("expected destination failure, got %v", err)
	}
	if !strings.Contains(err.Error(), `Failed to create queue "orders"`) {
		t.Fatalf("unexpected message %q", err.Error())
	}
	if st := s.Status(); st.State != StateIdle {
		t.Fatalf("status after failed connect = %+v", st)
	}
	expectStats(t, b, memory.Stats{})
}

func TestStatusReportsWorkerExit(t *testing.T) {
	b := memory.NewBroker()
	s := newTestSupervisor(b, &recordingSink{})
	defer s.Shutdown(context.Background())

	if err := s.Connect(context.Background(), queueSpec("orders"), "http://sink"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	b.Sever()

	eventually(t, 2*time.Second, "idle status", func() bool { return s.Status().State == StateIdle })
	st := s.Status()
	if !st.InError || !strings.Contains(st.Error, "Failed to receive message") {
		t.Fatalf("status should carry the receive failure: %+v", st)
	}
}

func TestDisconnect(t *testing.T) {
	b := memory.NewBroker()
	s := newTestSupervisor(b, &recordingSink{})

	if err := s.Disconnect(context.Background()); err != nil {
		t.Fatalf("disconnect while idle: %v", err)
	}
	if err := s.Connect(context.Background(), topicSpec("alerts"), "http://sink"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := s.Disconnect(context.Background()); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	if s.Status().State != StateIdle {
		t.Fatalf("expected IDLE after disconnect")
	}
	expectStats(t, b, memory.Stats{})
}

func TestQueueSendRejectedLeavesNoProducer(t *testing.T) {
	b := memory.NewBroker()
	b.FailOn(domain.StepConnect, errors.New("connection refused"))
	s := newTestSupervisor(b, &recordingSink{})

	err := s.Send(context.Background(), queueSpec("orders"), domain.NewMessage("alice", "hi"))
	if !errors.Is(err, domain.ErrConnection) {
		t.Fatalf("expected connection failure, got %v", err)
	}
	if s.ProducerInstalled() {
		t.Fatalf("failed send left a producer installed")
	}

	b.FailOn(domain.StepConnect, nil)
	if err := s.Send(context.Background(), queueSpec("orders"), domain.NewMessage("alice", "hi")); err != nil {
		t.Fatalf("send after recovery: %v", err)
	}
	if s.ProducerInstalled() {
		t.Fatalf("producer should be terminated after send")
	}
	if b.QueueDepth("orders") != 1 {
		t.Fatalf("expected one queued message")
	}
	expectStats(t, b, memory.Stats{})
}

func TestTopicSendToUnreachableBroker(t *testing.T) {
	b := memory.NewBroker()
	b.FailOn(domain.StepConnect, errors.New("no route to host"))
	s := newTestSupervisor(b, &recordingSink{})

	err := s.Send(context.Background(), topicSpec("alerts"), domain.NewMessage("alice", "hi"))
	if err == nil || !strings.Contains(err.Error(), "Failed to create") {
		t.Fatalf("unexpected error %v", err)
	}
	if b.Stats().Published != 0 {
		t.Fatalf("publish reached the broker")
	}
}

func TestTopicSendReachesSubscriber(t *testing.T) {
	b := memory.NewBroker()
	sink := &recordingSink{}
	s := newTestSupervisor(b, sink)
	defer s.Shutdown(context.Background())

	if err := s.Connect(context.Background(), topicSpec("alerts"), "http://sink"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := s.Send(context.Background(), topicSpec("alerts"), domain.NewMessage("bob", "fire")); err != nil {
		t.Fatalf("send: %v", err)
	}

	eventually(t, 2*time.Second, "forward", func() bool { return len(sink.messages()) == 1 })
	if got := sink.messages()[0]; got != domain.NewMessage("bob", "fire") {
		t.Fatalf("unexpected forward %+v", got)
	}
}

func TestQueueRelayToHTTPSink(t *testing.T) {
	type post struct {
		path string
		body map[string]string
	}
	var mu sync.Mutex
	var posts []post

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		var body map[string]string
		if err := json.Unmarshal(raw, &body); err != nil {
			t.Errorf("decode: %v", err)
		}
		mu.Lock()
		posts = append(posts, post{path: r.URL.Path, body: body})
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	b := memory.NewBroker()
	s := NewSupervisor(b, Options{
		PollInterval:   testPoll,
		ReceiveTimeout: testTimeout,
		NewSink:        httpsink.Factory(time.Second, testLogger()),
	}, testLogger())
	defer s.Shutdown(context.Background())

	if err := s.Connect(context.Background(), queueSpec("orders"), srv.URL+"/ingest"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	b.Deliver("orders", domain.KindQueue, domain.NewMessage("alice", "hello").Properties())

	eventually(t, 2*time.Second, "sink POST", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(posts) == 1
	})

	mu.Lock()
	defer mu.Unlock()
	p := posts[0]
	if p.path != "/ingest" || p.body["username"] != "alice" || p.body["message"] != "hello" || len(p.body) != 2 {
		t.Fatalf("unexpected sink request %+v", p)
	}
	eventually(t, 2*time.Second, "forward counted", func() bool { return s.Status().Forwarded == 1 })
}

func TestStatusDuringReconnects(t *testing.T) {
	b := memory.NewBroker()
	s := NewSupervisor(b, Options{
		PollInterval:   testPoll,
		ReceiveTimeout: testTimeout,
		NewSink: func(string) ports.Sink {
			time.Sleep(2 * time.Millisecond)
			return &recordingSink{}
		},
	}, testLogger())
	defer s.Shutdown(context.Background())

	stop := make(chan struct{})
	polled := make(chan struct{})
	go func() {
		defer close(polled)
		for {
			select {
			case <-stop:
				return
			default:
			}
			st := s.Status()
			if st.State != StateIdle && st.Destination.DestinationName != "orders" {
				t.Errorf("status reports foreign destination %+v", st)
			}
		}
	}()

	for i := 0; i < 50; i++ {
		if err := s.Connect(context.Background(), queueSpec("orders"), "http://sink"); err != nil {
			t.Fatalf("connect %d: %v", i, err)
		}
	}
	close(stop)
	<-polled

	expectStats(t, b, memory.Stats{Connections: 1, Sessions: 1, Consumers: 1})
}

// stuckSink blocks every Forward until released, whatever the context says.
type stuckSink struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (s *stuckSink) Forward(context.Context, domain.Message) error {
	s.once.Do(func() { close(s.entered) })
	<-s.release
	return nil
}

func TestConnectGivesUpWhilePreviousWorkerStops(t *testing.T) {
	b := memory.NewBroker()
	sink := &stuckSink{entered: make(chan struct{}), release: make(chan struct{})}
	s := NewSupervisor(b, Options{
		PollInterval:   testPoll,
		ReceiveTimeout: testTimeout,
		NewSink:        sinkFactory(sink),
	}, testLogger())
	defer s.Shutdown(context.Background())

	if err := s.Connect(context.Background(), queueSpec("orders"), "http://sink"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	b.Deliver("orders", domain.KindQueue, domain.NewMessage("alice", "hello").Properties())

	select {
	case <-sink.entered:
	case <-time.After(2 * time.Second):
		t.Fatalf("worker never reached the sink")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err := s.Connect(ctx, topicSpec("alerts"), "http://sink")
	if err == nil || !strings.Contains(err.Error(), "previous relay still stopping") {
		t.Fatalf("expected stopping error, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline cause, got %v", err)
	}

	st := s.Status()
	if st.State != StateStopping || st.Destination.DestinationName != "orders" {
		t.Fatalf("old slot should stay STOPPING: %+v", st)
	}
	expectStats(t, b, memory.Stats{Connections: 1, Sessions: 1, Consumers: 1})

	close(sink.release)
	eventually(t, 2*time.Second, "teardown after release", func() bool {
		got := b.Stats()
		return got.Connections == 0 && got.Sessions == 0 && got.Consumers == 0
	})

	if err := s.Connect(context.Background(), queueSpec("orders"), "http://sink"); err != nil {
		t.Fatalf("connect after release: %v", err)
	}
	if st := s.Status(); st.State != StateRunning {
		t.Fatalf("status after reconnect = %+v", st)
	}
}
