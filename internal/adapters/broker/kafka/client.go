package kafka

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"message-relay/internal/ports"
)

const groupDeleteTimeout = 5 * time.Second

type producer struct {
	w *kafka.Writer
}

// Publish writes one record with the properties as record headers.
func (p *producer) Publish(ctx context.Context, props ports.Properties) error {
	headers, err := recordHeaders(props)
	if err != nil {
		return err
	}
	if err := p.w.WriteMessages(ctx, kafka.Message{Headers: headers}); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

func (p *producer) Close() error { return p.w.Close() }

type reader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

type groupDeleter interface {
	DeleteGroups(ctx context.Context, req *kafka.DeleteGroupsRequest) (*kafka.DeleteGroupsResponse, error)
}

type consumer struct {
	r reader

	// Set for TOPIC consumers, whose group exists only for this consumer.
	group   string
	deleter groupDeleter
}

// Receive reads the next record; the group offset is committed by the reader.
func (c *consumer) Receive(ctx context.Context) (ports.Properties, error) {
	m, err := c.r.ReadMessage(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("read message: %w", err)
	}
	return headerProperties(m.Headers), nil
}

// Close leaves the group, then deletes it if it was private to this consumer.
func (c *consumer) Close() error {
	err := c.r.Close()
	if c.deleter == nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), groupDeleteTimeout)
	defer cancel()

	resp, derr := c.deleter.DeleteGroups(ctx, &kafka.DeleteGroupsRequest{GroupIDs: []string{c.group}})
	if derr == nil {
		derr = resp.Errors[c.group]
	}
	if derr != nil {
		derr = fmt.Errorf("delete consumer group %s: %w", c.group, derr)
	}
	return errors.Join(err, derr)
}

func recordHeaders(props ports.Properties) ([]kafka.Header, error) {
	headers := make([]kafka.Header, 0, len(props))
	for k, v := range props {
		switch val := v.(type) {
		case string:
			headers = append(headers, kafka.Header{Key: k, Value: []byte(val)})
		case []byte:
			headers = append(headers, kafka.Header{Key: k, Value: val})
		default:
			return nil, fmt.Errorf("encode header %q: unsupported type %T", k, v)
		}
	}
	return headers, nil
}

func headerProperties(headers []kafka.Header) ports.Properties {
	props := make(ports.Properties, len(headers))
	for _, h := range headers {
		props[h.Key] = string(h.Value)
	}
	return props
}
