package mqtt

import (
	"context"
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/goccy/go-json"

	"message-relay/internal/ports"
)

type producer struct {
	client paho.Client
	topic  string
}

func (p *producer) Publish(ctx context.Context, props ports.Properties) error {
	payload, err := encode(props)
	if err != nil {
		return err
	}
	if err := wait(ctx, p.client.Publish(p.topic, qos, false, payload)); err != nil {
		return fmt.Errorf("publish %s: %w", p.topic, err)
	}
	return nil
}

func (p *producer) Close() error { return nil }

type consumer struct {
	client     paho.Client
	filter     string
	deliveries chan []byte
	closed     chan struct{}
	lost       <-chan struct{}
	once       sync.Once
}

// onMessage runs on the paho router goroutine.
func (c *consumer) onMessage(_ paho.Client, m paho.Message) {
	select {
	case c.deliveries <- m.Payload():
	case <-c.closed:
	}
}

func (c *consumer) Receive(ctx context.Context) (ports.Properties, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case payload := <-c.deliveries:
		return decode(payload), nil
	case <-c.lost:
		return nil, errConnectionLost
	case <-c.closed:
		return nil, fmt.Errorf("receive on %s: subscription closed", c.filter)
	}
}

func (c *consumer) Close() error {
	var err error
	c.once.Do(func() {
		close(c.closed)
		if c.client.IsConnectionOpen() {
			t := c.client.Unsubscribe(c.filter)
			if t.WaitTimeout(2*time.Second) && t.Error() != nil {
				err = fmt.Errorf("unsubscribe %s: %w", c.filter, t.Error())
			}
		}
	})
	return err
}

func encode(props ports.Properties) ([]byte, error) {
	flat := make(map[string]string, len(props))
	for k, v := range props {
		switch val := v.(type) {
		case string:
			flat[k] = val
		case []byte:
			flat[k] = string(val)
		default:
			return nil, fmt.Errorf("encode property %q: unsupported type %T", k, v)
		}
	}
	b, err := json.Marshal(flat)
	if err != nil {
		return nil, fmt.Errorf("marshal properties: %w", err)
	}
	return b, nil
}

// decode never fails; a payload that is not a JSON object yields no
// properties and is dropped further up as malformed.
func decode(payload []byte) ports.Properties {
	props := ports.Properties{}
	_ = json.Unmarshal(payload, &props)
	return props
}
