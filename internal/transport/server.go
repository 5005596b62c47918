package transport

import (
	"time"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"message-relay/internal/metrics"
	"message-relay/internal/middleware"
)

type ServerOptions struct {
	AllowedOrigins string
	RateLimit      int // requests per minute per IP, 0 disables
}

// NewServer returns a Fiber app with the shared middleware stack and the
// /health and /metrics routes mounted.
func NewServer(name string, opts ServerOptions) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               name,
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          10 * time.Second,
		IdleTimeout:           120 * time.Second,
		ServerHeader:          "",
		BodyLimit:             1 * 1024 * 1024, // 1MB
		JSONEncoder:           json.Marshal,
		JSONDecoder:           json.Unmarshal,
	})

	app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))
	app.Use(logger.New(logger.Config{
		Format:     "[${time}] ${status} - ${method} ${path} ${latency}\n",
		TimeFormat: "2006-01-02 15:04:05",
	}))
	app.Use(middleware.RequestIDMiddleware())
	app.Use(middleware.SecurityHeaders())
	app.Use(middleware.CORSConfig(opts.AllowedOrigins))
	app.Use(middleware.RateLimit(opts.RateLimit))

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "healthy"})
	})
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))

	return app
}
