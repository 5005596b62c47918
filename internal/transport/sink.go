package transport

import (
	"errors"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"

	"message-relay/internal/app"
	"message-relay/internal/domain"
)

// SinkHandler serves the downstream sink the relay forwards to.
type SinkHandler struct {
	svc *app.SinkService
	log *slog.Logger
}

func NewSinkHandler(svc *app.SinkService, log *slog.Logger) *SinkHandler {
	return &SinkHandler{svc: svc, log: log}
}

func (h *SinkHandler) Register(router fiber.Router) {
	router.Post("/messages", h.Accept)
	router.Post("/messages/:destination", h.Accept)
	router.Get("/messages/:destination", h.List)
}

type forwardRequest struct {
	Username string `json:"username"`
	Message  string `json:"message"`
}

type storedMessage struct {
	ID          string    `json:"id"`
	Destination string    `json:"destination"`
	Username    string    `json:"username"`
	Message     string    `json:"message"`
	ReceivedAt  time.Time `json:"receivedAt"`
}

func toStored(m domain.ForwardedMessage) storedMessage {
	return storedMessage{
		ID:          m.ID.String(),
		Destination: m.Destination,
		Username:    m.Sender,
		Message:     m.Body,
		ReceivedAt:  m.ReceivedAt,
	}
}

// Accept stores one forwarded message.
//
// POST /messages[/:destination]
// Body: { "username": "...", "message": "..." }
func (h *SinkHandler) Accept(c *fiber.Ctx) error {
	var req forwardRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}

	rec, err := h.svc.Accept(c.UserContext(), c.Params("destination"), domain.NewMessage(req.Username, req.Message))
	if err != nil {
		if errors.Is(err, app.ErrInvalidRequest) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
		}
		h.log.Error("accept message", "err", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal server error"})
	}

	return c.Status(fiber.StatusCreated).JSON(toStored(rec))
}

// List returns the newest messages stored for a destination.
//
// GET /messages/:destination?limit=50
func (h *SinkHandler) List(c *fiber.Ctx) error {
	msgs, err := h.svc.List(c.UserContext(), c.Params("destination"), c.QueryInt("limit", 0))
	if err != nil {
		h.log.Error("list messages", "err", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal server error"})
	}

	out := make([]storedMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, toStored(m))
	}
	return c.JSON(fiber.Map{"messages": out})
}
