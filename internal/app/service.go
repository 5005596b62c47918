package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"message-relay/internal/domain"
	"message-relay/internal/relay"
)

// ErrInvalidRequest marks a request rejected before any broker work.
var ErrInvalidRequest = errors.New("invalid request")

// RelayService is the control surface of the relay: it connects the consumer
// slot, sends one-shot messages and reports status.
type RelayService struct {
	sup *relay.Supervisor
	log *slog.Logger
}

// NewRelayService wires the service with its supervisor.
func NewRelayService(sup *relay.Supervisor, log *slog.Logger) *RelayService {
	return &RelayService{sup: sup, log: log}
}

// ConnectRequest is the input for attaching the relay to a destination.
type ConnectRequest struct {
	BrokerURL string
	Name      string
	Type      string
	SinkURL   string
}

// SendRequest is the input for publishing one message.
type SendRequest struct {
	Type      string
	Name      string
	BrokerURL string
	Username  string
	Message   string
}

func required(fields map[string]string) error {
	var missing []string
	for name, v := range fields {
		if strings.TrimSpace(v) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	slices.Sort(missing)
	return fmt.Errorf("%w: missing %s", ErrInvalidRequest, strings.Join(missing, ", "))
}

func parseKind(s string) (domain.Kind, error) {
	kind, err := domain.ParseKind(s)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	return kind, nil
}

// Connect replaces the running relay, if any, with one consuming req.Name and
// forwarding to req.SinkURL.
func (s *RelayService) Connect(ctx context.Context, req ConnectRequest) (string, error) {
	if err := required(map[string]string{"apiUrl": req.SinkURL, "brokerUrl": req.BrokerURL, "name": req.Name, "type": req.Type}); err != nil {
		return "", err
	}
	kind, err := parseKind(req.Type)
	if err != nil {
		return "", err
	}

	spec := domain.DestinationSpec{BrokerAddress: req.BrokerURL, DestinationName: req.Name, Kind: kind}
	if err := s.sup.Connect(ctx, spec, req.SinkURL); err != nil {
		return "", fmt.Errorf("connect relay: %w", err)
	}

	s.log.Info("relay connected", "destination", req.Name, "kind", kind, "sink", req.SinkURL)
	return "Connected", nil
}

// Send publishes one message and returns the confirmation text.
func (s *RelayService) Send(ctx context.Context, req SendRequest) (string, error) {
	if err := required(map[string]string{"type": req.Type, "name": req.Name, "brokerUrl": req.BrokerURL, "username": req.Username, "message": req.Message}); err != nil {
		return "", err
	}
	kind, err := parseKind(req.Type)
	if err != nil {
		return "", err
	}

	spec := domain.DestinationSpec{BrokerAddress: req.BrokerURL, DestinationName: req.Name, Kind: kind}
	if err := s.sup.Send(ctx, spec, domain.NewMessage(req.Username, req.Message)); err != nil {
		return "", fmt.Errorf("send message: %w", err)
	}

	s.log.Info("message sent", "destination", req.Name, "kind", kind, "sender", req.Username)
	return fmt.Sprintf("%s Message sent by %s: %s", kind, req.Username, req.Message), nil
}

// Disconnect stops the running relay.
func (s *RelayService) Disconnect(ctx context.Context) (string, error) {
	if err := s.sup.Disconnect(ctx); err != nil {
		return "", fmt.Errorf("disconnect relay: %w", err)
	}
	return "Disconnected", nil
}

func (s *RelayService) Status() relay.Status { return s.sup.Status() }
