package app

import (
	"pdfapi/internal/handlers"
	u "pdfapi/internal/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/monitor"
)

// SetupApp creates and configures a new Fiber app instance
func SetupApp(cfg u.Config, svc *handlers.PDFService) *fiber.App {
	app := fiber.New(fiber.Config{
		Prefork:               cfg.Server.Prefork,
		DisableStartupMessage: true,
		BodyLimit:             cfg.Limits.MaxBodyBytes,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			msg := "Internal Server Error"

			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
				msg = e.Message
			}

			u.Warn("Request failed", "path", c.Path(), "status", code, "message", msg)

			return c.Status(code).JSON(errorBody(code, msg))
		},
	})

	rateLimitStore = newRateLimitStore(cfg)

	RegisterMiddleware(app, cfg, svc)
	RegisterRoutes(app, cfg, svc)

	// Ensure all responses, including 404s, return JSON
	app.Use(func(c *fiber.Ctx) error {
		return fiber.NewError(fiber.StatusNotFound, "Not Found")
	})

	return app
}

// RegisterRoutes mounts all route handlers to the app
func RegisterRoutes(app *fiber.App, cfg u.Config, svc *handlers.PDFService) {
	auth := authMiddleware(svc.Creds)

	// Authentication runs before the limiter, so unauthenticated requests
	// never consume quota.
	api := app.Group("/api", auth, ipRateLimitMiddleware(cfg))
	api.Post("/pdf/create", svc.HandleCreate)

	app.Post("/generate-api-key", auth, svc.HandleGenerateAPIKey)

	ops := app.Group("/ops")
	ops.Get("/chrome/stats", svc.HandleChromeStats)
	ops.Get("/monitor", monitor.New())
}

func errorBody(code int, msg string) fiber.Map {
	return fiber.Map{
		"error": fiber.Map{
			"code":    code,
			"message": msg,
		},
	}
}
