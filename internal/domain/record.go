package domain

import (
	"time"

	"github.com/google/uuid"
)

// ForwardedMessage is a relayed message as stored by the sink service.
type ForwardedMessage struct {
	ID          uuid.UUID
	Destination string // tag taken from the sink URL; empty when none was given
	Sender      string
	Body        string
	ReceivedAt  time.Time
}

// NewForwardedMessage stamps msg with a generated ID and the current time.
func NewForwardedMessage(destination string, msg Message) ForwardedMessage {
	return ForwardedMessage{
		ID:          uuid.New(),
		Destination: destination,
		Sender:      msg.Sender,
		Body:        msg.Body,
		ReceivedAt:  time.Now().UTC(),
	}
}
