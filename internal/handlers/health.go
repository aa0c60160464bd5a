package handlers

import (
	"context"
	"sort"
	"time"

	"taskloom/internal/health"

	"github.com/gofiber/fiber/v2"
)

// HealthCheck checks one dependency
type HealthCheck func(ctx context.Context) error

// HealthHandler handles health check requests
type HealthHandler struct {
	checks  map[string]HealthCheck
	tracker *health.Tracker
	started time.Time
}

// NewHealthHandler creates a new health handler. tracker may be nil.
func NewHealthHandler(tracker *health.Tracker) *HealthHandler {
	return &HealthHandler{
		checks:  make(map[string]HealthCheck),
		tracker: tracker,
		started: time.Now(),
	}
}

// AddCheck registers a dependency check, e.g. a database ping
func (h *HealthHandler) AddCheck(name string, check HealthCheck) {
	h.checks[name] = check
}

// Handle responds with server health status. Failing dependencies return 503;
// a summarizer in cooldown only degrades previews and is reported, not failed.
func (h *HealthHandler) Handle(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 3*time.Second)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	status := "healthy"
	dependencies := fiber.Map{}
	for _, name := range names {
		if err := h.checks[name](ctx); err != nil {
			status = "unhealthy"
			dependencies[name] = fiber.Map{"status": "down", "error": err.Error()}
			continue
		}
		dependencies[name] = fiber.Map{"status": "up"}
	}

	body := fiber.Map{
		"status":       status,
		"dependencies": dependencies,
		"uptime":       time.Since(h.started).Round(time.Second).String(),
		"timestamp":    time.Now().Format(time.RFC3339),
	}
	if h.tracker != nil {
		body["summarizer"] = h.tracker.Snapshot()
	}

	if status != "healthy" {
		return c.Status(fiber.StatusServiceUnavailable).JSON(body)
	}
	return c.JSON(body)
}
