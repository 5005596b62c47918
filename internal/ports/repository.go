package ports

import (
	"context"

	"message-relay/internal/domain"
)

// MessageRepository stores messages received by the sink service.
type MessageRepository interface {
	// SaveMessage persists one forwarded message.
	SaveMessage(ctx context.Context, msg domain.ForwardedMessage) error

	// ListMessages returns up to limit messages for destination, newest first.
	ListMessages(ctx context.Context, destination string, limit int) ([]domain.ForwardedMessage, error)
}
