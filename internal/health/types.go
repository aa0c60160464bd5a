package health

import "time"

// Status represents the health state of an upstream endpoint
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusCooldown  Status = "cooldown"
	StatusUnknown   Status = "unknown"
)

// EndpointHealth tracks one upstream the engine depends on (completion API, stores)
type EndpointHealth struct {
	Name          string    `json:"name"`
	Status        Status    `json:"status"`
	LastChecked   time.Time `json:"last_checked,omitempty"`
	LastSuccessAt time.Time `json:"last_success_at,omitempty"`
	FailureCount  int       `json:"failure_count"`
	LastError     string    `json:"last_error,omitempty"`
	CooldownUntil time.Time `json:"cooldown_until,omitempty"`
}
