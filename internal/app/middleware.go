package app

import (
	"context"
	"errors"
	"time"

	"pdfapi/internal/credentials"
	"pdfapi/internal/domain"
	"pdfapi/internal/handlers"
	u "pdfapi/internal/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/healthcheck"
	"github.com/gofiber/fiber/v2/middleware/keyauth"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	fiberRecover "github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	memoryStorage "github.com/gofiber/storage/memory/v2"
	redisStorage "github.com/gofiber/storage/redis/v2"
	"github.com/rs/xid"
)

const (
	lookupTimeout = 3 * time.Second
	readyTimeout  = 2 * time.Second
)

var rateLimitStore fiber.Storage

// newRateLimitStore prefers Redis so limits hold across instances and falls
// back to process memory when Redis is unreachable.
func newRateLimitStore(cfg u.Config) (store fiber.Storage) {
	store = memoryStorage.New() // safe default

	defer func() {
		if r := recover(); r != nil {
			u.Error("Redis limiter store init panicked, falling back to memory", "panic", r)
		}
	}()
	store = redisStorage.New(redisStorage.Config{
		Addrs:    []string{cfg.Cache.RedisHost},
		Database: cfg.Cache.RateLimitDB,
	})
	u.Info("Using Redis for rate limiting", "addr", cfg.Cache.RedisHost, "db", cfg.Cache.RateLimitDB)
	return store
}

// authMiddleware resolves "Authorization: Bearer <key>" against the credential
// store and attaches the credential to the request.
func authMiddleware(store credentials.Store) fiber.Handler {
	return keyauth.New(keyauth.Config{
		KeyLookup:  "header:" + fiber.HeaderAuthorization,
		AuthScheme: "Bearer",
		Validator: func(c *fiber.Ctx, key string) (bool, error) {
			ctx, cancel := context.WithTimeout(c.UserContext(), lookupTimeout)
			defer cancel()

			cred, err := store.Lookup(ctx, key)
			if errors.Is(err, domain.ErrCredentialNotFound) {
				return false, domain.ErrInvalidAPIKey
			}
			if err != nil {
				return false, err
			}
			c.Locals(handlers.CredentialLocal, cred)
			return true, nil
		},
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			// Keyauth can call ErrorHandler with a nil error.
			status := fiber.StatusUnauthorized
			msg := domain.ErrMissingAPIKey.Error()
			switch {
			case err == nil, errors.Is(err, keyauth.ErrMissingOrMalformedAPIKey):
			case errors.Is(err, domain.ErrInvalidAPIKey):
				msg = domain.ErrInvalidAPIKey.Error()
			default:
				u.Error("Credential lookup failed", "path", c.Path(), "error", err)
				status = fiber.StatusInternalServerError
				msg = "Internal Server Error"
			}
			return c.Status(status).JSON(errorBody(status, msg))
		},
	})
}

// ipRateLimitMiddleware limits requests per client IP over a fixed window.
func ipRateLimitMiddleware(cfg u.Config) fiber.Handler {
	message := cfg.RateLimiter.Message
	return limiter.New(limiter.Config{
		Max:               cfg.RateLimiter.Max,
		Expiration:        cfg.RateLimiter.Interval,
		LimiterMiddleware: limiter.FixedWindow{},
		Storage:           rateLimitStore,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			u.Warn("Rate limit exceeded", "ip", c.IP(), "path", c.Path())
			return c.Status(fiber.StatusTooManyRequests).JSON(errorBody(fiber.StatusTooManyRequests, message))
		},
	})
}

// RegisterMiddleware attaches global middleware to the app
func RegisterMiddleware(app *fiber.App, cfg u.Config, svc *handlers.PDFService) {
	app.Use(fiberRecover.New())
	app.Use(cors.New())

	app.Use(requestid.New(requestid.Config{
		Generator: func() string {
			return xid.New().String()
		},
	}))

	app.Use(healthcheck.New(healthcheck.Config{
		LivenessEndpoint:  "/ops/health",
		ReadinessEndpoint: "/ops/ready",
		ReadinessProbe: func(c *fiber.Ctx) bool {
			ctx, cancel := context.WithTimeout(c.UserContext(), readyTimeout)
			defer cancel()
			if err := svc.Ready(ctx); err != nil {
				u.Warn("Readiness check failed", "error", err)
				return false
			}
			return true
		},
	}))

	app.Use(func(c *fiber.Ctx) error {
		requestID := c.Get("X-Request-ID")
		if requestID == "" {
			requestID = c.GetRespHeader("X-Request-ID")
		}
		u.Info("Incoming request", "method", c.Method(), "path", c.Path(), "request_id", requestID)
		return c.Next()
	})
}
