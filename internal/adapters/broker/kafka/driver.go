// Package kafka carries relay destinations over Kafka topics. A QUEUE is a
// topic read by one shared consumer group, so each record reaches one relay;
// a TOPIC gives every consumer its own group starting at the latest offset.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"message-relay/internal/domain"
	"message-relay/internal/ports"
)

const groupPrefix = "message-relay."

// Driver implements ports.Driver for kafka:// addresses. Several brokers may be
// listed comma separated: kafka://k1:9092,k2:9092.
type Driver struct {
	dialer *kafka.Dialer
}

// New creates a Driver. A zero dialTimeout uses 10s.
func New(dialTimeout time.Duration) *Driver {
	if dialTimeout <= 0 {
		dialTimeout = 10 * time.Second
	}
	return &Driver{dialer: &kafka.Dialer{Timeout: dialTimeout, DualStack: true}}
}

// brokers parses the broker list out of a kafka:// address.
func brokers(address string) ([]string, error) {
	rest, ok := strings.CutPrefix(address, "kafka://")
	if !ok {
		return nil, fmt.Errorf("kafka address %q: want kafka://host:port", address)
	}
	rest, _, _ = strings.Cut(rest, "/")

	var out []string
	for _, b := range strings.Split(rest, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("kafka address %q: no brokers", address)
	}
	return out, nil
}

func (d *Driver) Dial(ctx context.Context, address string) (ports.BrokerConn, error) {
	addrs, err := brokers(address)
	if err != nil {
		return nil, err
	}

	var errs []error
	for _, addr := range addrs {
		conn, err := d.dialer.DialContext(ctx, "tcp", addr)
		if err == nil {
			return &connection{dialer: d.dialer, brokers: addrs, conn: conn}, nil
		}
		errs = append(errs, fmt.Errorf("dial kafka %s: %w", addr, err))
	}
	return nil, errors.Join(errs...)
}

type connection struct {
	dialer  *kafka.Dialer
	brokers []string
	conn    *kafka.Conn
}

// Session opens a connection to the cluster controller for topic administration.
func (c *connection) Session(ctx context.Context) (ports.Session, error) {
	controller, err := c.conn.Controller()
	if err != nil {
		return nil, fmt.Errorf("lookup controller: %w", err)
	}

	addr := net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port))
	admin, err := c.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial controller %s: %w", addr, err)
	}
	return &session{brokers: c.brokers, dialer: c.dialer, admin: admin}, nil
}

func (c *connection) Close() error { return c.conn.Close() }

type session struct {
	brokers []string
	dialer  *kafka.Dialer
	admin   *kafka.Conn
}

// Destination creates the topic if it does not exist yet.
func (s *session) Destination(ctx context.Context, name string, kind domain.Kind) (ports.Destination, error) {
	if kind != domain.KindQueue && kind != domain.KindTopic {
		return ports.Destination{}, fmt.Errorf("create topic: %w: %q", domain.ErrInvalidKind, kind)
	}

	err := s.admin.CreateTopics(kafka.TopicConfig{
		Topic:             name,
		NumPartitions:     1,
		ReplicationFactor: 1,
	})
	if err != nil && !errors.Is(err, kafka.TopicAlreadyExists) {
		return ports.Destination{}, fmt.Errorf("create topic: %w", err)
	}
	return ports.Destination{Name: name, Kind: kind}, nil
}

func (s *session) Producer(ctx context.Context, dest ports.Destination) (ports.Producer, error) {
	return &producer{w: &kafka.Writer{
		Addr:         kafka.TCP(s.brokers...),
		Topic:        dest.Name,
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireOne,
		MaxAttempts:  3,
	}}, nil
}

func (s *session) Consumer(ctx context.Context, dest ports.Destination) (ports.Consumer, error) {
	cfg := readerConfig(s.brokers, s.dialer, dest)
	c := &consumer{r: kafka.NewReader(cfg)}
	if dest.Kind == domain.KindTopic {
		c.group = cfg.GroupID
		c.deleter = &kafka.Client{Addr: kafka.TCP(s.brokers...), Timeout: groupDeleteTimeout}
	}
	return c, nil
}

func readerConfig(brokers []string, dialer *kafka.Dialer, dest ports.Destination) kafka.ReaderConfig {
	cfg := kafka.ReaderConfig{
		Brokers:        brokers,
		Dialer:         dialer,
		Topic:          dest.Name,
		GroupID:        groupPrefix + dest.Name,
		CommitInterval: time.Second,
		MaxWait:        500 * time.Millisecond,
	}
	if dest.Kind == domain.KindTopic {
		cfg.GroupID = groupPrefix + dest.Name + "." + uuid.NewString()
		cfg.StartOffset = kafka.LastOffset
	}
	return cfg
}

func (s *session) Close() error { return s.admin.Close() }
