package httpsink

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"message-relay/internal/domain"
	"message-relay/internal/ports"
)

// Client implements ports.Sink by posting each message to a fixed URL.
type Client struct {
	url        string
	httpClient *http.Client
	log        *slog.Logger
}

// New creates a Client posting to url.
func New(url string, timeout time.Duration, log *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		url: url,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		log: log.With("sink", url),
	}
}

// Factory returns a ports.SinkFactory building Clients that share timeout and logger.
func Factory(timeout time.Duration, log *slog.Logger) ports.SinkFactory {
	return func(address string) ports.Sink {
		return New(address, timeout, log)
	}
}

type forwardRequest struct {
	Username string `json:"username"`
	Message  string `json:"message"`
}

// Forward posts msg once. The response body is not read; any non-2xx status is
// a forward failure.
func (c *Client) Forward(ctx context.Context, msg domain.Message) error {
	body, err := json.Marshal(forwardRequest{Username: msg.Sender, Message: msg.Body})
	if err != nil {
		return fmt.Errorf("%w: marshal request: %w", domain.ErrSinkForward, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: new request: %w", domain.ErrSinkForward, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: do request: %w", domain.ErrSinkForward, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	c.log.Info("sink responded", "status", resp.StatusCode)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: sink returned %d", domain.ErrSinkForward, resp.StatusCode)
	}
	return nil
}
