package config

import (
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"taskloom/internal/models"

	"gopkg.in/yaml.v3"
)

// ErrInvalidEngineConfig is returned when a tunables file fails validation
var ErrInvalidEngineConfig = errors.New("invalid engine configuration")

// RecencyTier awards Bonus to items last touched less than MaxAge ago
type RecencyTier struct {
	MaxAge time.Duration `yaml:"max_age"`
	Bonus  float64       `yaml:"bonus"`
}

// ScoringConfig holds the lookup tables of the additive relevance model.
// Keys missing from a table contribute 0.
type ScoringConfig struct {
	CategoryBase map[models.KnowledgeCategory]float64 `yaml:"category_base"`
	NeutralBase  float64                              `yaml:"neutral_base"` // unknown kinds

	TaskStatusBonus      map[models.ItemStatus]float64 `yaml:"task_status_bonus"`
	KnowledgeStatusBonus map[models.ItemStatus]float64 `yaml:"knowledge_status_bonus"`
	ExternalStatusBonus  map[models.ItemStatus]float64 `yaml:"external_status_bonus"`

	PriorityBonus      map[models.ItemPriority]float64    `yaml:"priority_bonus"`
	KnowledgeTypeBonus map[models.KnowledgeKind]float64   `yaml:"knowledge_type_bonus"`
	ExternalTypeBonus  map[models.ExternalSubType]float64 `yaml:"external_type_bonus"`

	// Ordered from the shortest MaxAge; the first matching tier wins
	RecencyTiers []RecencyTier `yaml:"recency_tiers"`

	LaneBonus map[models.TaskLane]float64 `yaml:"lane_bonus"`
}

// SelectionConfig controls how a token budget is split
type SelectionConfig struct {
	SummaryReserveRatio float64 `yaml:"summary_reserve_ratio"`
	HighValueThreshold  float64 `yaml:"high_value_threshold"`
}

// SummarizerConfig controls compression of over-budget items
type SummarizerConfig struct {
	TargetRatio          float64       `yaml:"target_ratio"` // share of the remaining allowance requested from the model
	CompressedScore      float64       `yaml:"compressed_score"`
	FallbackItems        int           `yaml:"fallback_items"`
	FallbackSnippetChars int           `yaml:"fallback_snippet_chars"`
	Timeout              time.Duration `yaml:"timeout"`
	Temperature          float64       `yaml:"temperature"`
	RequestsPerSecond    float64       `yaml:"requests_per_second"`
	Burst                int           `yaml:"burst"`
}

// SessionConfig holds the session boundary thresholds
type SessionConfig struct {
	ContextLimitTokens  int           `yaml:"context_limit_tokens"`
	InactivityTimeout   time.Duration `yaml:"inactivity_timeout"`
	DayBoundaryLocation string        `yaml:"day_boundary_location"`
}

// Location returns the zone calendar days are compared in. Falls back to UTC.
func (s SessionConfig) Location() *time.Location {
	if s.DayBoundaryLocation == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(s.DayBoundaryLocation)
	if err != nil {
		return time.UTC
	}
	return loc
}

// PreviewConfig holds preview request defaults
type PreviewConfig struct {
	DefaultMaxTokens int `yaml:"default_max_tokens"`
}

// EngineConfig is the full set of engine tunables
type EngineConfig struct {
	Scoring    ScoringConfig    `yaml:"scoring"`
	Selection  SelectionConfig  `yaml:"selection"`
	Summarizer SummarizerConfig `yaml:"summarizer"`
	Sessions   SessionConfig    `yaml:"sessions"`
	Preview    PreviewConfig    `yaml:"preview"`
}

// DefaultEngineConfig returns the built-in tunables. Every call returns fresh maps.
func DefaultEngineConfig() *EngineConfig {
	return &EngineConfig{
		Scoring: ScoringConfig{
			CategoryBase: map[models.KnowledgeCategory]float64{
				models.CategoryTask:              0.5,
				models.CategoryCapturedKnowledge: 0.4,
				models.CategoryExternalActivity:  0.3,
			},
			NeutralBase: 0.3,
			TaskStatusBonus: map[models.ItemStatus]float64{
				models.StatusInProgress: 0.3,
				models.StatusBlocked:    0.25,
				models.StatusReview:     0.2,
				models.StatusTodo:       0.05,
				models.StatusDone:       0,
			},
			KnowledgeStatusBonus: map[models.ItemStatus]float64{
				models.StatusOpen:     0.2,
				models.StatusResolved: 0,
			},
			ExternalStatusBonus: map[models.ItemStatus]float64{
				models.StatusOpen:       0.2,
				models.StatusInProgress: 0.2,
				models.StatusClosed:     0,
				models.StatusMerged:     0,
			},
			PriorityBonus: map[models.ItemPriority]float64{
				models.PriorityUrgent: 0.2,
				models.PriorityHigh:   0.1,
				models.PriorityMedium: 0.05,
				models.PriorityLow:    0,
			},
			KnowledgeTypeBonus: map[models.KnowledgeKind]float64{
				models.KindDecision:  0.2,
				models.KindBlocker:   0.2,
				models.KindSolution:  0.15,
				models.KindInsight:   0.1,
				models.KindReference: 0.05,
				models.KindNote:      0,
			},
			ExternalTypeBonus: map[models.ExternalSubType]float64{
				models.ExternalIncident:    0.15,
				models.ExternalIssue:       0.1,
				models.ExternalPullRequest: 0.1,
				models.ExternalDeployment:  0.1,
				models.ExternalCommit:      0.05,
				models.ExternalComment:     0,
			},
			RecencyTiers: []RecencyTier{
				{MaxAge: 24 * time.Hour, Bonus: 0.15},
				{MaxAge: 7 * 24 * time.Hour, Bonus: 0.1},
				{MaxAge: 30 * 24 * time.Hour, Bonus: 0.05},
			},
			LaneBonus: map[models.TaskLane]float64{
				models.LaneCurrent: 0.1,
				models.LaneNext:    0.07,
				models.LaneBacklog: 0.03,
				models.LaneVision:  0,
			},
		},
		Selection: SelectionConfig{
			SummaryReserveRatio: 0.2,
			HighValueThreshold:  0.7,
		},
		Summarizer: SummarizerConfig{
			TargetRatio:          0.8,
			CompressedScore:      0.9,
			FallbackItems:        3,
			FallbackSnippetChars: 240,
			Timeout:              20 * time.Second,
			Temperature:          0.3,
			RequestsPerSecond:    2,
			Burst:                4,
		},
		Sessions: SessionConfig{
			ContextLimitTokens:  8000,
			InactivityTimeout:   60 * time.Minute,
			DayBoundaryLocation: "UTC",
		},
		Preview: PreviewConfig{
			DefaultMaxTokens: 4000,
		},
	}
}

// LoadEngineConfig reads a YAML tunables file over the defaults and validates the result.
// An empty path returns the defaults.
func LoadEngineConfig(path string) (*EngineConfig, error) {
	cfg := DefaultEngineConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read engine config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse engine config YAML: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks ratios, thresholds and ceilings
func (c *EngineConfig) Validate() error {
	inUnit := func(name string, v float64) error {
		if v < 0 || v > 1 {
			return fmt.Errorf("%w: %s must be within [0,1], got %v", ErrInvalidEngineConfig, name, v)
		}
		return nil
	}

	checks := []struct {
		name  string
		value float64
	}{
		{"selection.summary_reserve_ratio", c.Selection.SummaryReserveRatio},
		{"selection.high_value_threshold", c.Selection.HighValueThreshold},
		{"summarizer.target_ratio", c.Summarizer.TargetRatio},
		{"summarizer.compressed_score", c.Summarizer.CompressedScore},
		{"scoring.neutral_base", c.Scoring.NeutralBase},
	}
	for _, check := range checks {
		if err := inUnit(check.name, check.value); err != nil {
			return err
		}
	}

	for category, v := range c.Scoring.CategoryBase {
		if err := inUnit("scoring.category_base."+string(category), v); err != nil {
			return err
		}
	}

	// Tiers are ordered by max_age and their bonuses never increase
	var prevAge time.Duration
	for i, tier := range c.Scoring.RecencyTiers {
		if tier.MaxAge <= prevAge {
			return fmt.Errorf("%w: scoring.recency_tiers[%d] must have a max_age greater than the previous tier", ErrInvalidEngineConfig, i)
		}
		if err := inUnit(fmt.Sprintf("scoring.recency_tiers[%d].bonus", i), tier.Bonus); err != nil {
			return err
		}
		if i > 0 && tier.Bonus > c.Scoring.RecencyTiers[i-1].Bonus {
			return fmt.Errorf("%w: scoring.recency_tiers[%d].bonus must not exceed the previous tier's bonus", ErrInvalidEngineConfig, i)
		}
		prevAge = tier.MaxAge
	}

	if c.Summarizer.FallbackItems < 0 {
		return fmt.Errorf("%w: summarizer.fallback_items must not be negative", ErrInvalidEngineConfig)
	}
	if c.Summarizer.FallbackSnippetChars <= 0 {
		return fmt.Errorf("%w: summarizer.fallback_snippet_chars must be positive", ErrInvalidEngineConfig)
	}
	if c.Summarizer.Timeout <= 0 {
		return fmt.Errorf("%w: summarizer.timeout must be positive", ErrInvalidEngineConfig)
	}
	if c.Summarizer.RequestsPerSecond <= 0 || c.Summarizer.Burst <= 0 {
		return fmt.Errorf("%w: summarizer rate limit must be positive", ErrInvalidEngineConfig)
	}
	if c.Sessions.ContextLimitTokens <= 0 {
		return fmt.Errorf("%w: sessions.context_limit_tokens must be positive", ErrInvalidEngineConfig)
	}
	if c.Sessions.InactivityTimeout <= 0 {
		return fmt.Errorf("%w: sessions.inactivity_timeout must be positive", ErrInvalidEngineConfig)
	}
	if c.Sessions.DayBoundaryLocation != "" {
		if _, err := time.LoadLocation(c.Sessions.DayBoundaryLocation); err != nil {
			return fmt.Errorf("%w: sessions.day_boundary_location: %v", ErrInvalidEngineConfig, err)
		}
	}
	if c.Preview.DefaultMaxTokens < 0 {
		return fmt.Errorf("%w: preview.default_max_tokens must not be negative", ErrInvalidEngineConfig)
	}

	return nil
}

// EngineConfigStore hands out the current tunables. Readers take one snapshot per request
// so a reload never changes the config halfway through a preview build.
type EngineConfigStore struct {
	current atomic.Pointer[EngineConfig]
}

// NewEngineConfigStore creates a store holding cfg, or the defaults when cfg is nil
func NewEngineConfigStore(cfg *EngineConfig) *EngineConfigStore {
	if cfg == nil {
		cfg = DefaultEngineConfig()
	}
	s := &EngineConfigStore{}
	s.current.Store(cfg)
	return s
}

// Get returns the current snapshot. Callers must not mutate it.
func (s *EngineConfigStore) Get() *EngineConfig {
	return s.current.Load()
}

// Set swaps in a new snapshot
func (s *EngineConfigStore) Set(cfg *EngineConfig) {
	s.current.Store(cfg)
}

// Reload loads path and swaps it in. On error the previous snapshot stays in place.
func (s *EngineConfigStore) Reload(path string) error {
	cfg, err := LoadEngineConfig(path)
	if err != nil {
		return err
	}
	s.Set(cfg)
	return nil
}
