package app

import (
	"context"
	"fmt"
	"log/slog"

	"message-relay/internal/domain"
	"message-relay/internal/ports"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// SinkService stores what the relay forwards. It backs cmd/relay-sink.
type SinkService struct {
	repo ports.MessageRepository
	log  *slog.Logger
}

func NewSinkService(repo ports.MessageRepository, log *slog.Logger) *SinkService {
	return &SinkService{repo: repo, log: log}
}

// Accept persists one forwarded message under destination, which may be empty.
func (s *SinkService) Accept(ctx context.Context, destination string, msg domain.Message) (domain.ForwardedMessage, error) {
	if msg.Sender == "" {
		return domain.ForwardedMessage{}, fmt.Errorf("%w: missing username", ErrInvalidRequest)
	}

	rec := domain.NewForwardedMessage(destination, msg)
	if err := s.repo.SaveMessage(ctx, rec); err != nil {
		return domain.ForwardedMessage{}, fmt.Errorf("save message: %w", err)
	}

	s.log.Info("message accepted", "id", rec.ID, "destination", destination, "sender", msg.Sender)
	return rec, nil
}

// List returns the newest messages for destination. A limit outside
// 1..500 is clamped.
func (s *SinkService) List(ctx context.Context, destination string, limit int) ([]domain.ForwardedMessage, error) {
	switch {
	case limit <= 0:
		limit = defaultListLimit
	case limit > maxListLimit:
		limit = maxListLimit
	}

	msgs, err := s.repo.ListMessages(ctx, destination, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return msgs, nil
}
