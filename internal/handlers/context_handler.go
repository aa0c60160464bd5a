package handlers

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"taskloom/internal/logging"
	"taskloom/internal/models"
	"taskloom/internal/services"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"
)

// previewRequestTimeout covers store reads plus one summarizer call
const previewRequestTimeout = 45 * time.Second

// ContextHandler serves context previews and session boundaries of a project
type ContextHandler struct {
	previews *services.ContextPreviewService
	ledger   *services.SessionLedger
}

// NewContextHandler creates a new context handler
func NewContextHandler(previews *services.ContextPreviewService, ledger *services.SessionLedger) *ContextHandler {
	return &ContextHandler{previews: previews, ledger: ledger}
}

// activityRequest is the body of an activity batch. When estimated_tokens is
// omitted the cost is estimated from content.
type activityRequest struct {
	BatchID         string    `json:"batch_id"`
	EventCount      int64     `json:"event_count"`
	EstimatedTokens int       `json:"estimated_tokens"`
	Content         string    `json:"content"`
	OccurredAt      time.Time `json:"occurred_at"`
}

// GetContextPreview returns the token-budgeted context of a project
// GET /api/projects/:projectId/context-preview?max_tokens=4000&include_tasks=true&include_knowledge=true&include_external=true&focus=auth&format=markdown
func (h *ContextHandler) GetContextPreview(c *fiber.Ctx) error {
	projectID := projectParam(c)

	opts, err := h.parsePreviewOptions(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), previewRequestTimeout)
	defer cancel()

	preview, err := h.previews.BuildPreview(ctx, projectID, opts)
	if err != nil {
		return respondError(c, projectID, "build context preview", err)
	}

	if c.Query("format") == "markdown" {
		c.Set(fiber.HeaderContentType, "text/markdown; charset=utf-8")
		return c.SendString(preview.Markdown())
	}
	return c.JSON(preview)
}

func (h *ContextHandler) parsePreviewOptions(c *fiber.Ctx) (services.PreviewOptions, error) {
	opts := h.previews.DefaultOptions()

	if raw := c.Query("max_tokens"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return opts, errors.New("max_tokens must be an integer")
		}
		opts.MaxTokens = n
	}

	flags := []struct {
		name string
		dest *bool
	}{
		{"include_tasks", &opts.IncludeTasks},
		{"include_knowledge", &opts.IncludeCapturedKnowledge},
		{"include_external", &opts.IncludeExternalActivity},
	}
	for _, f := range flags {
		raw := c.Query(f.name)
		if raw == "" {
			continue
		}
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return opts, errors.New(f.name + " must be true or false")
		}
		*f.dest = v
	}

	opts.FocusQuery = utils.CopyString(strings.TrimSpace(c.Query("focus")))
	return opts, nil
}

// RecordActivity commits an activity batch to the session ledger
// POST /api/projects/:projectId/activity
func (h *ContextHandler) RecordActivity(c *fiber.Ctx) error {
	projectID := projectParam(c)

	var req activityRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if req.EventCount == 0 {
		req.EventCount = 1
	}
	if req.EstimatedTokens == 0 && req.Content != "" {
		req.EstimatedTokens = services.EstimateTokens(req.Content)
	}

	result, err := h.ledger.RecordActivity(c.UserContext(), models.ActivityBatch{
		ProjectID:       projectID,
		BatchID:         req.BatchID,
		EventCount:      req.EventCount,
		EstimatedTokens: req.EstimatedTokens,
		OccurredAt:      req.OccurredAt,
	})
	if err != nil {
		return respondError(c, projectID, "record activity", err)
	}

	status := fiber.StatusOK
	if result.Rotated {
		status = fiber.StatusCreated
	}
	return c.Status(status).JSON(result)
}

// ListSessions returns the session history of a project
// GET /api/projects/:projectId/sessions
func (h *ContextHandler) ListSessions(c *fiber.Ctx) error {
	projectID := projectParam(c)

	history, err := h.ledger.History(c.UserContext(), projectID)
	if err != nil {
		return respondError(c, projectID, "list sessions", err)
	}

	var active *models.Session
	for i := range history {
		if history[i].IsActive() {
			active = &history[i]
		}
	}

	return c.JSON(fiber.Map{
		"project_id": projectID,
		"sessions":   history,
		"active":     active,
		"total":      len(history),
	})
}

// projectParam returns a copy of the route's project id; the ledger and the
// preview cache keep it after the request buffer is reused
func projectParam(c *fiber.Ctx) string {
	return utils.CopyString(c.Params("projectId"))
}

// respondError maps engine errors to HTTP statuses
func respondError(c *fiber.Ctx, projectID, action string, err error) error {
	status := fiber.StatusInternalServerError
	switch {
	case errors.Is(err, services.ErrNotFound):
		status = fiber.StatusNotFound
	case errors.Is(err, services.ErrInvalidConfiguration):
		status = fiber.StatusBadRequest
	case errors.Is(err, services.ErrUpstreamUnavailable):
		status = fiber.StatusServiceUnavailable
	}

	logger := logging.WithProject(projectID)
	if status >= fiber.StatusInternalServerError {
		logger.Errorf("❌ [CONTEXT-API] Failed to %s: %v", action, err)
	} else {
		logger.Debugf("[CONTEXT-API] Rejected %s: %v", action, err)
	}

	return c.Status(status).JSON(fiber.Map{
		"error": err.Error(),
	})
}
