package services

import (
	"context"
	"math"
	"sort"

	"taskloom/internal/config"
	"taskloom/internal/models"
)

// Selection is the outcome of fitting scored items into a token budget
type Selection struct {
	Items      []models.PreviewItem
	TokensUsed int
	Queued     int // high-value items handed to the summarizer
	Dropped    int // low-value items that did not fit
}

// BudgetSelector fits scored items into a token budget. A share of the budget is
// reserved so over-budget high-value items can still be represented by a summary.
type BudgetSelector struct {
	cfg        config.SelectionConfig
	summarizer Summarizer
}

// NewBudgetSelector creates a selector. summarizer may be nil, in which case
// over-budget items are dropped.
func NewBudgetSelector(cfg config.SelectionConfig, summarizer Summarizer) *BudgetSelector {
	return &BudgetSelector{cfg: cfg, summarizer: summarizer}
}

// Select admits items verbatim in descending score order while they fit the verbatim
// sub-budget, skipping items that do not fit so smaller ones later can. Items that
// miss the cut but score above the high-value threshold go to the summarizer with
// whatever budget is left. The result is ordered by descending score.
func (s *BudgetSelector) Select(ctx context.Context, scored []models.ScoredItem, budget int, focus string) Selection {
	if len(scored) == 0 || budget <= 0 {
		return Selection{}
	}

	ranked := make([]models.ScoredItem, len(scored))
	copy(ranked, scored)
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Score > ranked[j].Score })

	verbatimBudget := budget - reserveTokens(budget, s.cfg.SummaryReserveRatio)

	var (
		sel    Selection
		queued []models.ScoredItem
	)
	for i := range ranked {
		cost := EstimateItemTokens(ranked[i].Item)
		if sel.TokensUsed+cost <= verbatimBudget {
			sel.Items = append(sel.Items, models.PreviewItem{
				Type:   models.PreviewItemVerbatim,
				Scored: &ranked[i],
				Tokens: cost,
			})
			sel.TokensUsed += cost
			continue
		}

		if ranked[i].Score > s.cfg.HighValueThreshold {
			queued = append(queued, ranked[i])
		} else {
			sel.Dropped++
		}
	}

	sel.Queued = len(queued)
	if len(queued) > 0 && s.summarizer != nil {
		remaining := budget - sel.TokensUsed
		for _, extra := range s.summarizer.Summarize(ctx, queued, remaining, focus) {
			// a misbehaving summarizer must not push the preview over budget
			if sel.TokensUsed+extra.Tokens > budget {
				continue
			}
			sel.Items = append(sel.Items, extra)
			sel.TokensUsed += extra.Tokens
		}
	}

	sort.SliceStable(sel.Items, func(i, j int) bool { return sel.Items[i].Score() > sel.Items[j].Score() })
	return sel
}

// reserveTokens is the share of budget held back for summaries, rounded up.
// The epsilon absorbs float noise such as 100*0.2 = 20.000000000000004.
func reserveTokens(budget int, ratio float64) int {
	reserve := int(math.Ceil(float64(budget)*ratio - 1e-9))
	if reserve < 0 {
		return 0
	}
	if reserve > budget {
		return budget
	}
	return reserve
}
