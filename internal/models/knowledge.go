package models

import (
	"time"
)

// KnowledgeKind is the closed set of item kinds the context engine ranks
type KnowledgeKind string

const (
	KindTask             KnowledgeKind = "task"
	KindDecision         KnowledgeKind = "decision"
	KindInsight          KnowledgeKind = "insight"
	KindBlocker          KnowledgeKind = "blocker"
	KindSolution         KnowledgeKind = "solution"
	KindReference        KnowledgeKind = "reference"
	KindNote             KnowledgeKind = "note"
	KindExternalActivity KnowledgeKind = "external_activity"
)

// KnowledgeCategory groups kinds into the three families a preview can include or exclude
type KnowledgeCategory string

const (
	CategoryTask              KnowledgeCategory = "task"
	CategoryCapturedKnowledge KnowledgeCategory = "captured_knowledge"
	CategoryExternalActivity  KnowledgeCategory = "external_activity"
	CategoryUnknown           KnowledgeCategory = "unknown"
)

// CapturedKnowledgeKinds lists the kinds produced by decision/insight capture
func CapturedKnowledgeKinds() []KnowledgeKind {
	return []KnowledgeKind{KindDecision, KindInsight, KindBlocker, KindSolution, KindReference, KindNote}
}

// Category returns the family of a kind. Unrecognized kinds map to CategoryUnknown.
func (k KnowledgeKind) Category() KnowledgeCategory {
	switch k {
	case KindTask:
		return CategoryTask
	case KindDecision, KindInsight, KindBlocker, KindSolution, KindReference, KindNote:
		return CategoryCapturedKnowledge
	case KindExternalActivity:
		return CategoryExternalActivity
	default:
		return CategoryUnknown
	}
}

// ItemStatus is the lifecycle state of an item. Which values are meaningful depends on the kind:
// tasks use todo/in_progress/blocked/review/done, captured knowledge uses open/resolved,
// external activity uses open/in_progress/closed/merged.
type ItemStatus string

const (
	StatusTodo       ItemStatus = "todo"
	StatusInProgress ItemStatus = "in_progress"
	StatusBlocked    ItemStatus = "blocked"
	StatusReview     ItemStatus = "review"
	StatusDone       ItemStatus = "done"
	StatusOpen       ItemStatus = "open"
	StatusResolved   ItemStatus = "resolved"
	StatusClosed     ItemStatus = "closed"
	StatusMerged     ItemStatus = "merged"
)

// IsActive reports whether the status counts as active work for project summaries
func (s ItemStatus) IsActive() bool {
	return s == StatusInProgress || s == StatusBlocked || s == StatusReview
}

// ItemPriority is the task priority
type ItemPriority string

const (
	PriorityUrgent ItemPriority = "urgent"
	PriorityHigh   ItemPriority = "high"
	PriorityMedium ItemPriority = "medium"
	PriorityLow    ItemPriority = "low"
)

// TaskLane is the organizational lane of a task, ordered from current work to aspiration
type TaskLane string

const (
	LaneCurrent TaskLane = "current"
	LaneNext    TaskLane = "next"
	LaneBacklog TaskLane = "backlog"
	LaneVision  TaskLane = "vision"
)

// ExternalSubType identifies the kind of event imported from an external system
type ExternalSubType string

const (
	ExternalIssue       ExternalSubType = "issue"
	ExternalPullRequest ExternalSubType = "pull_request"
	ExternalIncident    ExternalSubType = "incident"
	ExternalDeployment  ExternalSubType = "deployment"
	ExternalCommit      ExternalSubType = "commit"
	ExternalComment     ExternalSubType = "comment"
)

// KnowledgeItem is one unit of project information eligible for a context preview.
// Items are produced by the upstream projections and are read-only to the engine.
type KnowledgeItem struct {
	ID        string        `bson:"_id" json:"id"`
	ProjectID string        `bson:"projectId" json:"project_id"`
	Kind      KnowledgeKind `bson:"kind" json:"kind"`
	Title     string        `bson:"title" json:"title"`
	Body      string        `bson:"body" json:"body"` // Markdown

	// Score inputs
	Status   ItemStatus      `bson:"status,omitempty" json:"status,omitempty"`
	Priority ItemPriority    `bson:"priority,omitempty" json:"priority,omitempty"`
	SubType  ExternalSubType `bson:"subType,omitempty" json:"sub_type,omitempty"`
	Lane     TaskLane        `bson:"lane,omitempty" json:"lane,omitempty"`

	// Provenance, in source order
	Links []string `bson:"links,omitempty" json:"links,omitempty"`

	CreatedAt time.Time `bson:"createdAt" json:"created_at"`
	UpdatedAt time.Time `bson:"updatedAt,omitempty" json:"updated_at,omitempty"`
}

// LastTouched is the timestamp recency is measured from
func (i KnowledgeItem) LastTouched() time.Time {
	if !i.UpdatedAt.IsZero() {
		return i.UpdatedAt
	}
	return i.CreatedAt
}

// ProjectMeta is the project header the knowledge store returns alongside candidates
type ProjectMeta struct {
	ID             string `bson:"_id" json:"id"`
	Name           string `bson:"name" json:"name"`
	TaskTotal      int    `bson:"taskTotal" json:"task_total"`
	TaskActive     int    `bson:"taskActive" json:"task_active"`
	TaskCompleted  int    `bson:"taskCompleted" json:"task_completed"`
	KnowledgeCount int    `bson:"knowledgeCount" json:"knowledge_count"`
}
