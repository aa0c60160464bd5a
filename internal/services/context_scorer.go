package services

import (
	"time"

	"taskloom/internal/config"
	"taskloom/internal/models"
)

// RelevanceScorer assigns each knowledge item a relevance score in [0,1].
// The model is additive: kind base + status + priority/type + recency + lane, clamped.
// Pure and safe for concurrent use.
type RelevanceScorer struct {
	cfg config.ScoringConfig
}

// NewRelevanceScorer creates a scorer over the given tables
func NewRelevanceScorer(cfg config.ScoringConfig) *RelevanceScorer {
	return &RelevanceScorer{cfg: cfg}
}

// Score returns the clamped relevance score of item at time now
func (s *RelevanceScorer) Score(item models.KnowledgeItem, now time.Time) float64 {
	return clampScore(s.breakdown(item, now).Sum())
}

// ScoreItem returns the score together with its additive terms
func (s *RelevanceScorer) ScoreItem(item models.KnowledgeItem, now time.Time) models.ScoredItem {
	bd := s.breakdown(item, now)
	return models.ScoredItem{
		Item:      item,
		Score:     clampScore(bd.Sum()),
		Breakdown: bd,
	}
}

// ScoreAll scores items in input order
func (s *RelevanceScorer) ScoreAll(items []models.KnowledgeItem, now time.Time) []models.ScoredItem {
	scored := make([]models.ScoredItem, 0, len(items))
	for _, item := range items {
		scored = append(scored, s.ScoreItem(item, now))
	}
	return scored
}

func (s *RelevanceScorer) breakdown(item models.KnowledgeItem, now time.Time) models.ScoreBreakdown {
	var bd models.ScoreBreakdown

	switch item.Kind.Category() {
	case models.CategoryTask:
		bd.Base = s.cfg.CategoryBase[models.CategoryTask]
		bd.Status = s.cfg.TaskStatusBonus[item.Status]
		bd.Priority = s.cfg.PriorityBonus[item.Priority]
		bd.Lane = s.cfg.LaneBonus[item.Lane]
	case models.CategoryCapturedKnowledge:
		bd.Base = s.cfg.CategoryBase[models.CategoryCapturedKnowledge]
		bd.Status = s.cfg.KnowledgeStatusBonus[item.Status]
		bd.Priority = s.cfg.KnowledgeTypeBonus[item.Kind]
	case models.CategoryExternalActivity:
		bd.Base = s.cfg.CategoryBase[models.CategoryExternalActivity]
		bd.Status = s.cfg.ExternalStatusBonus[item.Status]
		bd.Priority = s.cfg.ExternalTypeBonus[item.SubType]
	default:
		bd.Base = s.cfg.NeutralBase
	}

	bd.Recency = s.recencyBonus(item.LastTouched(), now)
	return bd
}

// recencyBonus returns the bonus of the first tier whose MaxAge exceeds the item's age.
// Timestamps in the future count as age zero.
func (s *RelevanceScorer) recencyBonus(touched, now time.Time) float64 {
	if touched.IsZero() {
		return 0
	}

	age := now.Sub(touched)
	if age < 0 {
		age = 0
	}

	for _, tier := range s.cfg.RecencyTiers {
		if age < tier.MaxAge {
			return tier.Bonus
		}
	}
	return 0
}

func clampScore(v float64) float64 {
	if v != v || v < 0 { // NaN or negative
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
