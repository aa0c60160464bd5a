package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"taskloom/internal/health"

	"github.com/sirupsen/logrus"
)

// compressionSystemPrompt frames every summarization request
const compressionSystemPrompt = "You condense project knowledge for an AI coding assistant. " +
	"Keep decisions, blockers and open work. Never invent facts. Answer in plain text."

// OpenAICompleter calls an OpenAI-compatible /chat/completions endpoint
type OpenAICompleter struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
	tracker *health.Tracker
}

// NewOpenAICompleter creates a completer. tracker may be nil to disable cooldowns.
func NewOpenAICompleter(baseURL, apiKey, model string, tracker *health.Tracker) *OpenAICompleter {
	if tracker != nil {
		tracker.Register(model)
	}
	return &OpenAICompleter{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		client:  &http.Client{Timeout: 60 * time.Second},
		tracker: tracker,
	}
}

// Available reports whether the provider is outside its cooldown window
func (c *OpenAICompleter) Available() bool {
	if c.tracker == nil {
		return true
	}
	return c.tracker.IsAvailable(c.model)
}

// Complete sends one prompt and returns the assistant's reply
func (c *OpenAICompleter) Complete(ctx context.Context, prompt string, maxTokens int, temperature float64) (string, error) {
	requestBody := map[string]interface{}{
		"model": c.model,
		"messages": []map[string]interface{}{
			{"role": "system", "content": compressionSystemPrompt},
			{"role": "user", "content": prompt},
		},
		"stream":      false,
		"temperature": temperature,
		"max_tokens":  maxTokens,
	}

	reqBody, err := json.Marshal(requestBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/chat/completions", bytes.NewBuffer(reqBody))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		if !health.IsTransient(err) {
			c.markFailed(err.Error(), 0)
		}
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		logrus.Warnf("⚠️ [SUMMARIZER] Completion API error (status %d) from %s", resp.StatusCode, c.model)
		c.markFailed(string(body), resp.StatusCode)
		return "", fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}

	var apiResponse struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(body, &apiResponse); err != nil {
		return "", fmt.Errorf("failed to parse API response: %w", err)
	}
	if len(apiResponse.Choices) == 0 {
		return "", fmt.Errorf("no response from model %s", c.model)
	}

	if c.tracker != nil {
		c.tracker.MarkHealthy(c.model)
	}
	return strings.TrimSpace(apiResponse.Choices[0].Message.Content), nil
}

func (c *OpenAICompleter) markFailed(msg string, status int) {
	if c.tracker != nil {
		c.tracker.MarkFailed(c.model, msg, status)
	}
}
