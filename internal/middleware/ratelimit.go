package middleware

import (
	"os"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/sirupsen/logrus"
)

// RateLimitConfig holds rate limiting settings
type RateLimitConfig struct {
	// Global limits (per IP) for every /api route
	GlobalAPIMax        int
	GlobalAPIExpiration time.Duration

	// Activity ingestion limits (per project) - each batch is a ledger commit
	ActivityMax        int
	ActivityExpiration time.Duration
}

// DefaultRateLimitConfig returns production-safe defaults
func DefaultRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		// Global: 120/min = 2 req/sec per IP
		GlobalAPIMax:        120,
		GlobalAPIExpiration: 1 * time.Minute,

		// Activity: 600/min per project, enough for chatty editor integrations
		ActivityMax:        600,
		ActivityExpiration: 1 * time.Minute,
	}
}

// LoadRateLimitConfig loads config with globalMax from the server config and
// environment overrides for the rest
func LoadRateLimitConfig(globalMax int) *RateLimitConfig {
	config := DefaultRateLimitConfig()

	if globalMax > 0 {
		config.GlobalAPIMax = globalMax
	}
	if v := os.Getenv("RATE_LIMIT_ACTIVITY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.ActivityMax = n
		}
	}

	// Relaxed limits for development
	if os.Getenv("ENVIRONMENT") == "development" {
		config.GlobalAPIMax *= 10
		config.ActivityMax *= 10
		logrus.Warn("⚠️  [RATE-LIMIT] Development mode: using relaxed rate limits")
	}

	return config
}

// GlobalAPIRateLimiter creates a rate limiter for all API requests
func GlobalAPIRateLimiter(config *RateLimitConfig) fiber.Handler {
	return limiter.New(limiter.Config{
		Max:        config.GlobalAPIMax,
		Expiration: config.GlobalAPIExpiration,
		KeyGenerator: func(c *fiber.Ctx) string {
			return "global:" + c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			logrus.Warnf("🚫 [RATE-LIMIT] Global limit reached for IP: %s", c.IP())
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error":       "Too many requests. Please slow down.",
				"retry_after": int(config.GlobalAPIExpiration.Seconds()),
			})
		},
	})
}

// ActivityRateLimiter limits activity batches per project, whatever the caller's IP
func ActivityRateLimiter(config *RateLimitConfig) fiber.Handler {
	return limiter.New(limiter.Config{
		Max:        config.ActivityMax,
		Expiration: config.ActivityExpiration,
		KeyGenerator: func(c *fiber.Ctx) string {
			return "activity:" + c.Params("projectId")
		},
		LimitReached: func(c *fiber.Ctx) error {
			logrus.Warnf("⚠️  [RATE-LIMIT] Activity limit reached for project: %s", c.Params("projectId"))
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error":       "Too many activity batches for this project.",
				"retry_after": int(config.ActivityExpiration.Seconds()),
			})
		},
	})
}
