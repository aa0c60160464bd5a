package models

import (
	"time"
)

// SessionStatus is the lifecycle state of a working session
type SessionStatus string

const (
	SessionStatusActive    SessionStatus = "active"
	SessionStatusCompleted SessionStatus = "completed"
)

// TriggerType names the condition that caused a session rotation
type TriggerType string

const (
	TriggerManual        TriggerType = "manual"
	TriggerProjectSwitch TriggerType = "project_switch"
	TriggerContextLimit  TriggerType = "context_limit"
	TriggerInactivity    TriggerType = "inactivity"
	TriggerDaily         TriggerType = "daily"
)

// SessionTrigger records why a session was started
type SessionTrigger struct {
	Type      TriggerType `bson:"type" json:"type"`
	Reason    string      `bson:"reason" json:"reason"`
	Timestamp time.Time   `bson:"timestamp" json:"timestamp"`
}

// SessionUsage accumulates activity against a session
type SessionUsage struct {
	TotalEvents          int64 `bson:"totalEvents" json:"total_events"`
	ContextUsageEstimate int   `bson:"contextUsageEstimate" json:"context_usage_estimate"` // tokens
}

// Session is a bounded unit of continuous working activity on a project.
// At most one session per project is active; completed sessions are never removed.
type Session struct {
	ID        string        `bson:"id" json:"id"`
	ProjectID string        `bson:"projectId" json:"project_id"`
	Title     string        `bson:"title" json:"title"`
	Status    SessionStatus `bson:"status" json:"status"`

	StartTime time.Time  `bson:"startTime" json:"start_time"`
	EndTime   *time.Time `bson:"endTime,omitempty" json:"end_time,omitempty"`
	EndReason string     `bson:"endReason,omitempty" json:"end_reason,omitempty"`

	Trigger *SessionTrigger `bson:"trigger,omitempty" json:"trigger,omitempty"`
	Usage   SessionUsage    `bson:"usage" json:"usage"`

	LastActivityAt time.Time `bson:"lastActivityAt" json:"last_activity_at"`
	LastBatchID    string    `bson:"lastBatchId,omitempty" json:"last_batch_id,omitempty"`
}

// IsActive reports whether the session is the project's current session
func (s Session) IsActive() bool {
	return s.Status == SessionStatusActive
}

// ActivityBatch is one batch of inbound project activity handed to the session ledger.
// BatchID is optional; a redelivery of the batch last applied to the active session is ignored.
type ActivityBatch struct {
	ProjectID       string    `json:"project_id"`
	BatchID         string    `json:"batch_id,omitempty"`
	EventCount      int64     `json:"event_count"`
	EstimatedTokens int       `json:"estimated_tokens"`
	OccurredAt      time.Time `json:"occurred_at"`
}

// TriggerDecision is the outcome of evaluating an activity batch against the active session
type TriggerDecision struct {
	ShouldCreate bool            `json:"should_create"`
	Trigger      *SessionTrigger `json:"trigger,omitempty"`
	NewSessionID string          `json:"new_session_id,omitempty"`
}
