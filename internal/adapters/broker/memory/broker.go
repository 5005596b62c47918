// Package memory is an in-process broker. It backs the relay tests and the
// mem:// address scheme for running the relay without external infrastructure.
package memory

import (
	"context"
	"errors"
	"maps"
	"strings"
	"sync"

	"message-relay/internal/domain"
	"message-relay/internal/ports"
)

var (
	ErrClosed  = errors.New("memory broker: closed")
	ErrSevered = errors.New("memory broker: connection severed")
)

// Stats counts live broker-side resources and accepted publishes.
type Stats struct {
	Connections int
	Sessions    int
	Producers   int
	Consumers   int
	Published   int
}

// Broker holds queues and topics in memory. Queues hand each message to one
// consumer; topics copy it to every consumer subscribed at publish time.
type Broker struct {
	mu        sync.Mutex
	queues    map[string]*inbox
	topics    map[string]map[*consumer]struct{}
	consumers map[*consumer]struct{}
	failures  map[domain.Step]error
	stats     Stats
}

// NewBroker returns an empty broker.
func NewBroker() *Broker {
	return &Broker{
		queues:    make(map[string]*inbox),
		topics:    make(map[string]map[*consumer]struct{}),
		consumers: make(map[*consumer]struct{}),
		failures:  make(map[domain.Step]error),
	}
}

// FailOn makes every later call of step fail with err. A nil err clears the failure.
func (b *Broker) FailOn(step domain.Step, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err == nil {
		delete(b.failures, step)
		return
	}
	b.failures[step] = err
}

// Stats returns a snapshot of the resource counters.
func (b *Broker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stats
}

// QueueDepth returns the number of undelivered messages on a queue.
func (b *Broker) QueueDepth(name string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if q, ok := b.queues[name]; ok {
		return len(q.items)
	}
	return 0
}

// Deliver publishes props to a destination as a remote producer would.
func (b *Broker) Deliver(name string, kind domain.Kind, props ports.Properties) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.publishLocked(name, kind, props)
}

// Sever breaks every live subscription; blocked and later Receive calls fail.
func (b *Broker) Sever() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for c := range b.consumers {
		c.severed = true
		c.signalLocked()
	}
}

// Dial implements ports.Driver. The address is only checked for a mem:// prefix.
func (b *Broker) Dial(ctx context.Context, address string) (ports.BrokerConn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !strings.HasPrefix(address, "mem://") {
		return nil, errors.New("memory broker: address must start with mem://")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.failures[domain.StepConnect]; err != nil {
		return nil, err
	}
	b.stats.Connections++
	return &conn{b: b}, nil
}

func (b *Broker) publishLocked(name string, kind domain.Kind, props ports.Properties) {
	b.stats.Published++
	if kind == domain.KindQueue {
		b.queueLocked(name).push(maps.Clone(props))
		return
	}
	for c := range b.topics[name] {
		c.inbox.push(maps.Clone(props))
	}
}

func (b *Broker) queueLocked(name string) *inbox {
	q, ok := b.queues[name]
	if !ok {
		q = newInbox()
		b.queues[name] = q
	}
	return q
}

type conn struct {
	b      *Broker
	closed bool
}

func (c *conn) Session(ctx context.Context) (ports.Session, error) {
	c.b.mu.Lock()
	defer c.b.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	if err := c.b.failures[domain.StepSession]; err != nil {
		return nil, err
	}
	c.b.stats.Sessions++
	return &session{b: c.b}, nil
}

func (c *conn) Close() error {
	c.b.mu.Lock()
	defer c.b.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.b.stats.Connections--
	return nil
}

type session struct {
	b      *Broker
	closed bool
}

func (s *session) Destination(ctx context.Context, name string, kind domain.Kind) (ports.Destination, error) {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	if err := s.b.failures[domain.StepDestination]; err != nil {
		return ports.Destination{}, err
	}
	if name == "" {
		return ports.Destination{}, errors.New("memory broker: empty destination name")
	}
	if kind == domain.KindQueue {
		s.b.queueLocked(name)
	}
	return ports.Destination{Name: name, Kind: kind}, nil
}

func (s *session) Producer(ctx context.Context, dest ports.Destination) (ports.Producer, error) {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	if err := s.b.failures[domain.StepProducer]; err != nil {
		return nil, err
	}
	s.b.stats.Producers++
	return &producer{b: s.b, dest: dest}, nil
}

func (s *session) Consumer(ctx context.Context, dest ports.Destination) (ports.Consumer, error) {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	if err := s.b.failures[domain.StepConsumer]; err != nil {
		return nil, err
	}
	c := &consumer{b: s.b, dest: dest, gone: make(chan struct{})}
	if dest.Kind == domain.KindQueue {
		c.inbox = s.b.queueLocked(dest.Name)
	} else {
		c.inbox = newInbox()
		subs, ok := s.b.topics[dest.Name]
		if !ok {
			subs = make(map[*consumer]struct{})
			s.b.topics[dest.Name] = subs
		}
		subs[c] = struct{}{}
	}
	s.b.consumers[c] = struct{}{}
	s.b.stats.Consumers++
	return c, nil
}

func (s *session) Close() error {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.b.stats.Sessions--
	return nil
}

type producer struct {
	b      *Broker
	dest   ports.Destination
	closed bool
}

func (p *producer) Publish(ctx context.Context, props ports.Properties) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.b.mu.Lock()
	defer p.b.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	if err := p.b.failures[domain.StepPublish]; err != nil {
		return err
	}
	p.b.publishLocked(p.dest.Name, p.dest.Kind, props)
	return nil
}

func (p *producer) Close() error {
	p.b.mu.Lock()
	defer p.b.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	p.b.stats.Producers--
	return nil
}

type consumer struct {
	b       *Broker
	dest    ports.Destination
	inbox   *inbox
	gone    chan struct{}
	closed  bool
	severed bool
}

func (c *consumer) Receive(ctx context.Context) (ports.Properties, error) {
	for {
		c.b.mu.Lock()
		switch {
		case c.closed:
			c.b.mu.Unlock()
			return nil, ErrClosed
		case c.severed:
			c.b.mu.Unlock()
			return nil, ErrSevered
		}
		if props, ok := c.inbox.pop(); ok {
			c.b.mu.Unlock()
			return props, nil
		}
		wait := c.inbox.notify
		c.b.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-wait:
		case <-c.gone:
		}
	}
}

func (c *consumer) Close() error {
	c.b.mu.Lock()
	defer c.b.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.signalLocked()
	delete(c.b.consumers, c)
	if subs, ok := c.b.topics[c.dest.Name]; ok {
		delete(subs, c)
	}
	c.b.stats.Consumers--
	return nil
}

func (c *consumer) signalLocked() {
	select {
	case <-c.gone:
	default:
		close(c.gone)
	}
}

// inbox is guarded by the owning broker's mutex.
type inbox struct {
	items  []ports.Properties
	notify chan struct{}
}

func newInbox() *inbox {
	return &inbox{notify: make(chan struct{})}
}

func (in *inbox) push(props ports.Properties) {
	in.items = append(in.items, props)
	close(in.notify)
	in.notify = make(chan struct{})
}

func (in *inbox) pop() (ports.Properties, bool) {
	if len(in.items) == 0 {
		return nil, false
	}
	props := in.items[0]
	in.items[0] = nil
	in.items = in.items[1:]
	return props, true
}
