package transport

import (
	"errors"
	"log/slog"

	"github.com/gofiber/fiber/v2"

	"message-relay/internal/app"
	"message-relay/internal/domain"
)

// Handler holds the relay control HTTP handlers.
type Handler struct {
	svc *app.RelayService
	log *slog.Logger
}

// NewHandler wires up a Handler with its dependencies.
func NewHandler(svc *app.RelayService, log *slog.Logger) *Handler {
	return &Handler{svc: svc, log: log}
}

// Register mounts the relay routes onto router.
func (h *Handler) Register(router fiber.Router) {
	router.Post("/connect", h.Connect)
	router.Post("/send_message", h.SendMessage)
	router.Post("/disconnect", h.Disconnect)
	router.Get("/status", h.Status)
}

type response struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

func success(c *fiber.Ctx, msg string) error {
	return c.JSON(response{Status: "success", Message: msg})
}

// fail maps validation errors to 400 and everything else to 500. Broker
// failures report their own text, without the wrapping added on the way up.
func (h *Handler) fail(c *fiber.Ctx, op string, err error) error {
	if errors.Is(err, app.ErrInvalidRequest) {
		return c.Status(fiber.StatusBadRequest).JSON(response{Status: "error", Message: err.Error()})
	}

	h.log.Error(op, "err", err)
	msg := err.Error()
	var berr *domain.BrokerError
	if errors.As(err, &berr) {
		msg = berr.Error()
	}
	return c.Status(fiber.StatusInternalServerError).JSON(response{Status: "error", Message: msg})
}

type connectRequest struct {
	APIURL    string `json:"apiUrl"`
	BrokerURL string `json:"brokerUrl"`
	Name      string `json:"name"`
	Type      string `json:"type"`
}

// Connect attaches the relay to a destination, replacing the current one.
//
// POST /api/connect
// Body: { "apiUrl": "...", "brokerUrl": "...", "name": "...", "type": "QUEUE"|"TOPIC" }
func (h *Handler) Connect(c *fiber.Ctx) error {
	var req connectRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(response{Status: "error", Message: "invalid request body"})
	}

	msg, err := h.svc.Connect(c.UserContext(), app.ConnectRequest{
		BrokerURL: req.BrokerURL,
		Name:      req.Name,
		Type:      req.Type,
		SinkURL:   req.APIURL,
	})
	if err != nil {
		return h.fail(c, "connect relay", err)
	}
	return success(c, msg)
}

type sendRequest struct {
	Username  string `json:"username"`
	Message   string `json:"message"`
	Type      string `json:"type"`
	BrokerURL string `json:"brokerUrl"`
	Name      string `json:"name"`
}

// SendMessage publishes one message.
//
// POST /api/send_message
// Body: { "username": "...", "message": "...", "type": "...", "brokerUrl": "...", "name": "..." }
func (h *Handler) SendMessage(c *fiber.Ctx) error {
	var req sendRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(response{Status: "error", Message: "invalid request body"})
	}

	msg, err := h.svc.Send(c.UserContext(), app.SendRequest{
		Type:      req.Type,
		Name:      req.Name,
		BrokerURL: req.BrokerURL,
		Username:  req.Username,
		Message:   req.Message,
	})
	if err != nil {
		return h.fail(c, "send message", err)
	}
	return success(c, msg)
}

// Disconnect stops the relay.
//
// POST /api/disconnect
func (h *Handler) Disconnect(c *fiber.Ctx) error {
	msg, err := h.svc.Disconnect(c.UserContext())
	if err != nil {
		return h.fail(c, "disconnect relay", err)
	}
	return success(c, msg)
}

type statusResponse struct {
	State       string `json:"state"`
	Broker      string `json:"brokerUrl,omitempty"`
	Destination string `json:"name,omitempty"`
	Kind        string `json:"type,omitempty"`
	Sink        string `json:"apiUrl,omitempty"`
	InError     bool   `json:"inError"`
	Error       string `json:"error,omitempty"`
	Forwarded   int64  `json:"forwarded"`
}

// Status reports the relay slot.
//
// GET /api/status
func (h *Handler) Status(c *fiber.Ctx) error {
	st := h.svc.Status()
	return c.JSON(statusResponse{
		State:       st.State.String(),
		Broker:      st.Destination.BrokerAddress,
		Destination: st.Destination.DestinationName,
		Kind:        string(st.Destination.Kind),
		Sink:        st.SinkAddress,
		InError:     st.InError,
		Error:       st.Error,
		Forwarded:   st.Forwarded,
	})
}
