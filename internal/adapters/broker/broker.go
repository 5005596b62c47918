// Package broker selects a broker driver by the scheme of the broker address.
package broker

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"message-relay/internal/adapters/broker/kafka"
	"message-relay/internal/adapters/broker/memory"
	"message-relay/internal/adapters/broker/mqtt"
	"message-relay/internal/adapters/broker/rabbitmq"
	"message-relay/internal/adapters/broker/redis"
	"message-relay/internal/ports"
)

// Registry implements ports.Driver by dispatching on the address scheme.
type Registry struct {
	drivers map[string]ports.Driver
}

func NewRegistry() *Registry {
	return &Registry{drivers: make(map[string]ports.Driver)}
}

// Register binds driver to one or more URL schemes, replacing earlier bindings.
func (r *Registry) Register(driver ports.Driver, schemes ...string) {
	for _, s := range schemes {
		r.drivers[strings.ToLower(s)] = driver
	}
}

// Schemes lists the registered schemes in order.
func (r *Registry) Schemes() []string {
	out := make([]string, 0, len(r.drivers))
	for s := range r.drivers {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func (r *Registry) Dial(ctx context.Context, address string) (ports.BrokerConn, error) {
	u, err := url.Parse(address)
	if err != nil {
		return nil, fmt.Errorf("parse broker address: %w", err)
	}
	d, ok := r.drivers[strings.ToLower(u.Scheme)]
	if !ok {
		return nil, fmt.Errorf("unsupported broker scheme %q (have %s)", u.Scheme, strings.Join(r.Schemes(), ", "))
	}
	return d.Dial(ctx, address)
}

// Default registers every built-in driver. mem:// addresses share one
// in-process broker, which is returned for callers that want to inspect it.
func Default(dialTimeout time.Duration) (*Registry, *memory.Broker) {
	mem := memory.NewBroker()

	r := NewRegistry()
	r.Register(rabbitmq.New(dialTimeout), "amqp", "amqps", "tcp")
	r.Register(kafka.New(dialTimeout), "kafka")
	r.Register(redis.New(dialTimeout), "redis", "rediss")
	r.Register(mqtt.New(dialTimeout), "mqtt", "mqtts")
	r.Register(mem, "mem")
	return r, mem
}
