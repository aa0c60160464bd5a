package models

import (
	"fmt"
	"strings"
	"time"
)

// ScoreBreakdown lists the additive terms of a relevance score so a UI can explain it
type ScoreBreakdown struct {
	Base     float64 `json:"base"`
	Status   float64 `json:"status"`
	Priority float64 `json:"priority"` // priority for tasks, type bonus for other kinds
	Recency  float64 `json:"recency"`
	Lane     float64 `json:"lane"`
}

// Sum returns the unclamped total of all terms
func (b ScoreBreakdown) Sum() float64 {
	return b.Base + b.Status + b.Priority + b.Recency + b.Lane
}

// ScoredItem is a KnowledgeItem with its relevance score in [0,1]. Never persisted.
type ScoredItem struct {
	Item      KnowledgeItem  `json:"item"`
	Score     float64        `json:"score"`
	Breakdown ScoreBreakdown `json:"breakdown"`
}

// CompressedItem bundles several over-budget high-value items into one summary
type CompressedItem struct {
	SourceIDs   []string `json:"source_ids"`
	SummaryText string   `json:"summary_text"`
	Score       float64  `json:"score"`
	Links       []string `json:"links,omitempty"`
}

// PreviewItemType says how an item made it into a preview
type PreviewItemType string

const (
	PreviewItemVerbatim   PreviewItemType = "verbatim"
	PreviewItemCompressed PreviewItemType = "compressed"
	PreviewItemFallback   PreviewItemType = "fallback" // truncated item from the local summary fallback
)

// PreviewItem is either a scored item (verbatim or truncated fallback) or a compressed bundle
type PreviewItem struct {
	Type       PreviewItemType `json:"type"`
	Scored     *ScoredItem     `json:"scored,omitempty"`
	Compressed *CompressedItem `json:"compressed,omitempty"`
	Tokens     int             `json:"tokens"`
}

// Score returns the score of whichever payload the item carries
func (p PreviewItem) Score() float64 {
	if p.Compressed != nil {
		return p.Compressed.Score
	}
	if p.Scored != nil {
		return p.Scored.Score
	}
	return 0
}

// ContextPreview is a token-budgeted, relevance-ranked digest for an AI assistant.
// Generated fresh per call and never mutated.
type ContextPreview struct {
	ProjectID           string        `json:"project_id"`
	Items               []PreviewItem `json:"items"`
	SummaryText         string        `json:"summary_text"`
	TotalCandidateCount int           `json:"total_candidate_count"`
	TokensUsed          int           `json:"tokens_used"`
	MaxTokens           int           `json:"max_tokens"`
	GeneratedAt         time.Time     `json:"generated_at"`
}

// Markdown renders the preview as the document handed to the assistant
func (p *ContextPreview) Markdown() string {
	var sb strings.Builder

	sb.WriteString("# Project Context\n\n")
	sb.WriteString(p.SummaryText)
	sb.WriteString("\n\n")

	for _, item := range p.Items {
		switch {
		case item.Compressed != nil:
			sb.WriteString(fmt.Sprintf("## Summary of %d related items\n\n", len(item.Compressed.SourceIDs)))
			sb.WriteString(item.Compressed.SummaryText)
			sb.WriteString("\n")
			for _, link := range item.Compressed.Links {
				sb.WriteString(fmt.Sprintf("- %s\n", link))
			}
			sb.WriteString("\n")
		case item.Scored != nil:
			it := item.Scored.Item
			sb.WriteString(fmt.Sprintf("## [%s] %s\n\n", it.Kind, it.Title))
			if it.Body != "" {
				sb.WriteString(it.Body)
				sb.WriteString("\n")
			}
			for _, link := range it.Links {
				sb.WriteString(fmt.Sprintf("- %s\n", link))
			}
			sb.WriteString("\n")
		}
	}

	return sb.String()
}
