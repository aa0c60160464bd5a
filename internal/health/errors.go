package health

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"
)

var quotaPatterns = []string{
	"quota exceeded",
	"rate limit",
	"too many requests",
	"request limit",
	"tokens per minute",
	"requests per minute",
	"daily limit",
	"insufficient_quota",
	"billing",
	"rate_limit_exceeded",
	"quota_exceeded",
}

// IsQuotaError detects whether a completion endpoint refused because of quota or rate limits
func IsQuotaError(statusCode int, responseBody string) bool {
	if statusCode == http.StatusTooManyRequests {
		return true
	}

	lowerBody := strings.ToLower(responseBody)
	for _, pattern := range quotaPatterns {
		if strings.Contains(lowerBody, pattern) {
			return true
		}
	}

	return false
}

// IsTransient reports errors that say nothing about the endpoint itself,
// such as the caller's deadline expiring. They must not count as failures.
func IsTransient(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// ParseCooldownDuration picks how long to stop calling an endpoint after a quota refusal
func ParseCooldownDuration(statusCode int, responseBody string) time.Duration {
	lowerBody := strings.ToLower(responseBody)

	switch {
	case strings.Contains(lowerBody, "daily limit"),
		strings.Contains(lowerBody, "billing"),
		strings.Contains(lowerBody, "insufficient_quota"):
		return 24 * time.Hour

	case statusCode == http.StatusTooManyRequests,
		strings.Contains(lowerBody, "tokens per minute"),
		strings.Contains(lowerBody, "requests per minute"):
		return 5 * time.Minute
	}

	return 1 * time.Hour
}
