// Package mqtt carries relay destinations over MQTT 3.1.1. MQTT has no message
// properties, so the properties travel as a flat JSON object payload. A QUEUE
// is a shared subscription, so one subscriber of the group gets each message.
package mqtt

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"message-relay/internal/domain"
	"message-relay/internal/ports"
)

const (
	qos           = 1
	shareGroup    = "message-relay"
	inboxSize     = 256
	quiesceMillis = 250
)

var errConnectionLost = errors.New("mqtt: connection lost")

// Driver implements ports.Driver for mqtt:// and mqtts:// addresses.
type Driver struct {
	dialTimeout time.Duration
}

// New creates a Driver. A zero dialTimeout uses 30s.
func New(dialTimeout time.Duration) *Driver {
	if dialTimeout <= 0 {
		dialTimeout = 30 * time.Second
	}
	return &Driver{dialTimeout: dialTimeout}
}

// brokerURL maps the relay schemes onto the ones paho understands.
func brokerURL(address string) (*url.URL, error) {
	u, err := url.Parse(address)
	if err != nil {
		return nil, fmt.Errorf("parse mqtt url: %w", err)
	}
	switch u.Scheme {
	case "mqtt":
		u.Scheme = "tcp"
	case "mqtts":
		u.Scheme = "ssl"
	default:
		return nil, fmt.Errorf("mqtt address %q: want mqtt:// or mqtts://", address)
	}
	return u, nil
}

func (d *Driver) Dial(ctx context.Context, address string) (ports.BrokerConn, error) {
	u, err := brokerURL(address)
	if err != nil {
		return nil, err
	}

	c := &connection{lost: make(chan struct{})}

	opts := paho.NewClientOptions().
		AddBroker(u.Scheme + "://" + u.Host).
		SetClientID("message-relay-" + uuid.NewString()).
		SetCleanSession(true).
		SetAutoReconnect(false).
		SetConnectTimeout(d.dialTimeout).
		SetConnectionLostHandler(func(paho.Client, error) { c.markLost() })
	if u.User != nil {
		opts.SetUsername(u.User.Username())
		if pw, ok := u.User.Password(); ok {
			opts.SetPassword(pw)
		}
	}

	c.client = paho.NewClient(opts)
	if err := connect(ctx, c.client); err != nil {
		return nil, fmt.Errorf("connect mqtt: %w", err)
	}
	return c, nil
}

type connector interface {
	Connect() paho.Token
	Disconnect(quiesce uint)
}

// connect disconnects the client on failure so a connect still in flight when
// ctx ends does not leave a live client behind.
func connect(ctx context.Context, client connector) error {
	if err := wait(ctx, client.Connect()); err != nil {
		client.Disconnect(quiesceMillis)
		return err
	}
	return nil
}

// wait blocks until the token completes or ctx is done.
func wait(ctx context.Context, t paho.Token) error {
	select {
	case <-t.Done():
		return t.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

type connection struct {
	client paho.Client
	lost   chan struct{}
	once   sync.Once
}

func (c *connection) markLost() { c.once.Do(func() { close(c.lost) }) }

// Session shares the client; MQTT has no session below the connection.
func (c *connection) Session(ctx context.Context) (ports.Session, error) {
	if !c.client.IsConnectionOpen() {
		return nil, errConnectionLost
	}
	return &session{conn: c}, nil
}

func (c *connection) Close() error {
	c.client.Disconnect(quiesceMillis)
	c.markLost()
	return nil
}

type session struct {
	conn *connection
}

// Destination checks the name is a plain topic. Wildcards would subscribe to
// more than one destination.
func (s *session) Destination(ctx context.Context, name string, kind domain.Kind) (ports.Destination, error) {
	if kind != domain.KindQueue && kind != domain.KindTopic {
		return ports.Destination{}, fmt.Errorf("resolve topic: %w: %q", domain.ErrInvalidKind, kind)
	}
	if name == "" || strings.ContainsAny(name, "+#") || strings.HasPrefix(name, "$") {
		return ports.Destination{}, fmt.Errorf("invalid mqtt topic %q", name)
	}
	return ports.Destination{Name: name, Kind: kind}, nil
}

// subscription returns the filter a consumer of dest subscribes with.
func subscription(dest ports.Destination) string {
	if dest.Kind == domain.KindQueue {
		return "$share/" + shareGroup + "/" + dest.Name
	}
	return dest.Name
}

func (s *session) Producer(ctx context.Context, dest ports.Destination) (ports.Producer, error) {
	return &producer{client: s.conn.client, topic: dest.Name}, nil
}

func (s *session) Consumer(ctx context.Context, dest ports.Destination) (ports.Consumer, error) {
	c := &consumer{
		client:     s.conn.client,
		filter:     subscription(dest),
		deliveries: make(chan []byte, inboxSize),
		closed:     make(chan struct{}),
		lost:       s.conn.lost,
	}
	if err := wait(ctx, s.conn.client.Subscribe(c.filter, qos, c.onMessage)); err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", c.filter, err)
	}
	return c, nil
}

func (s *session) Close() error { return nil }
