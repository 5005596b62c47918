package domain

import (
	"fmt"
	"strings"
)

// Wire property names carried by every relayed broker message.
const (
	PropertySender = "username"
	PropertyBody   = "message"
)

// Kind selects the broker destination type.
type Kind string

const (
	KindQueue Kind = "QUEUE" // point-to-point, one consumer per message
	KindTopic Kind = "TOPIC" // publish/subscribe, every subscriber gets a copy
)

// ParseKind validates a destination kind token. Matching is case-insensitive.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToUpper(strings.TrimSpace(s))); k {
	case KindQueue, KindTopic:
		return k, nil
	default:
		return "", fmt.Errorf("%w: %q (use QUEUE or TOPIC)", ErrInvalidKind, s)
	}
}

func (k Kind) String() string { return string(k) }

// Role is the side of the broker a handle is opened for.
type Role int

const (
	RoleProducer Role = iota
	RoleConsumer
)

func (r Role) String() string {
	if r == RoleConsumer {
		return "consumer"
	}
	return "producer"
}

// Message is the unit the relay moves between broker and sink.
type Message struct {
	Sender string
	Body   string
}

// NewMessage creates a Message.
func NewMessage(sender, body string) Message {
	return Message{Sender: sender, Body: body}
}

// Properties encodes the message as its two broker properties.
func (m Message) Properties() map[string]any {
	return map[string]any{
		PropertySender: m.Sender,
		PropertyBody:   m.Body,
	}
}

// MessageFromProperties decodes a broker delivery. Both properties must be present
// and hold a string (or bytes) value.
func MessageFromProperties(props map[string]any) (Message, error) {
	sender, err := stringProperty(props, PropertySender)
	if err != nil {
		return Message{}, err
	}
	body, err := stringProperty(props, PropertyBody)
	if err != nil {
		return Message{}, err
	}
	return Message{Sender: sender, Body: body}, nil
}

func stringProperty(props map[string]any, name string) (string, error) {
	v, ok := props[name]
	if !ok || v == nil {
		return "", fmt.Errorf("%w: missing property %q", ErrMalformedDelivery, name)
	}
	switch s := v.(type) {
	case string:
		return s, nil
	case []byte:
		return string(s), nil
	default:
		return "", fmt.Errorf("%w: property %q has type %T", ErrMalformedDelivery, name, v)
	}
}

// DestinationSpec identifies a broker destination. It is not modified once a handle
// has been opened from it.
type DestinationSpec struct {
	BrokerAddress   string
	DestinationName string
	Kind            Kind
}

func (s DestinationSpec) String() string {
	return fmt.Sprintf("%s %s@%s", s.Kind, s.DestinationName, s.BrokerAddress)
}
