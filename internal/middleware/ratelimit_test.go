package middleware

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadRateLimitConfig(t *testing.T) {
	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("RATE_LIMIT_ACTIVITY", "42")

	config := LoadRateLimitConfig(7)
	assert.Equal(t, 7, config.GlobalAPIMax)
	assert.Equal(t, 42, config.ActivityMax)

	t.Setenv("RATE_LIMIT_ACTIVITY", "nope")
	assert.Equal(t, 120, LoadRateLimitConfig(0).GlobalAPIMax)
	assert.Equal(t, 600, LoadRateLimitConfig(0).ActivityMax)
}

func TestActivityRateLimiter_PerProject(t *testing.T) {
	config := &RateLimitConfig{
		GlobalAPIMax:        100,
		GlobalAPIExpiration: time.Minute,
		ActivityMax:         2,
		ActivityExpiration:  time.Minute,
	}

	app := fiber.New()
	app.Use("/api", GlobalAPIRateLimiter(config))
	app.Post("/api/projects/:projectId/activity", ActivityRateLimiter(config), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusAccepted)
	})

	send := func(projectID string) int {
		resp, err := app.Test(httptest.NewRequest("POST", "/api/projects/"+projectID+"/activity", nil))
		require.NoError(t, err)
		return resp.StatusCode
	}

	assert.Equal(t, fiber.StatusAccepted, send("p1"))
	assert.Equal(t, fiber.StatusAccepted, send("p1"))
	assert.Equal(t, fiber.StatusTooManyRequests, send("p1"))
	assert.Equal(t, fiber.StatusAccepted, send("p2"), "other projects keep their own budget")
}
