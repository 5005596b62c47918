package middleware

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
)

// CORSConfig allows the browser front end to call the API. origins is a
// comma-separated list, or "*".
func CORSConfig(origins string) fiber.Handler {
	return cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     "GET,POST,OPTIONS",
		AllowHeaders:     "Origin,Content-Type,Accept,X-Request-ID",
		AllowCredentials: false,
		ExposeHeaders:    "Content-Length,X-Request-ID",
		MaxAge:           3600, // 1 hour
	})
}
