package services

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"taskloom/internal/config"
	"taskloom/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingSummarizer captures what the selector hands over and returns a fixed answer
type recordingSummarizer struct {
	calls     int
	items     []models.ScoredItem
	remaining int
	result    []models.PreviewItem
}

func (r *recordingSummarizer) Summarize(_ context.Context, items []models.ScoredItem, remainingTokens int, _ string) []models.PreviewItem {
	r.calls++
	r.items = items
	r.remaining = remainingTokens
	return r.result
}

// scoredWithCost builds a scored item whose verbatim cost is exactly tokens
func scoredWithCost(id string, score float64, tokens int) models.ScoredItem {
	title := id
	bodyLen := tokens*4 - len(title) - 1
	if bodyLen < 0 {
		bodyLen = 0
	}
	item := models.KnowledgeItem{ID: id, Kind: models.KindTask, Title: title, Body: strings.Repeat("x", bodyLen)}
	return models.ScoredItem{Item: item, Score: score}
}

func newTestSelector(summarizer Summarizer) *BudgetSelector {
	return NewBudgetSelector(config.DefaultEngineConfig().Selection, summarizer)
}

func TestBudgetSelector_EmptyInputs(t *testing.T) {
	summarizer := &recordingSummarizer{}
	selector := newTestSelector(summarizer)

	tests := []struct {
		name   string
		items  []models.ScoredItem
		budget int
	}{
		{"no items", nil, 4000},
		{"zero budget", []models.ScoredItem{scoredWithCost("a", 0.9, 10)}, 0},
		{"negative budget", []models.ScoredItem{scoredWithCost("a", 0.9, 10)}, -5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sel := selector.Select(context.Background(), tt.items, tt.budget, "")
			assert.Empty(t, sel.Items)
			assert.Zero(t, sel.TokensUsed)
		})
	}
	assert.Zero(t, summarizer.calls)
}

func TestBudgetSelector_TokenCostHelper(t *testing.T) {
	item := scoredWithCost("abc", 0.5, 25)
	assert.Equal(t, 25, EstimateItemTokens(item.Item))
}

func TestBudgetSelector_VerbatimWithinSubBudget(t *testing.T) {
	selector := newTestSelector(nil)

	var items []models.ScoredItem
	for i := 0; i < 40; i++ {
		items = append(items, scoredWithCost(fmt.Sprintf("item-%02d", i), float64(i%10)/10, 30+i*7))
	}

	for _, budget := range []int{1, 50, 100, 333, 1000, 4000} {
		sel := selector.Select(context.Background(), items, budget, "")

		verbatim := 0
		for _, item := range sel.Items {
			if item.Type == models.PreviewItemVerbatim {
				verbatim += item.Tokens
			}
		}
		assert.LessOrEqual(t, float64(verbatim), 0.8*float64(budget), "budget=%d", budget)
		assert.LessOrEqual(t, sel.TokensUsed, budget, "budget=%d", budget)
	}
}

func TestBudgetSelector_OrdersByDescendingScoreStably(t *testing.T) {
	selector := newTestSelector(nil)

	items := []models.ScoredItem{
		scoredWithCost("b", 0.5, 10),
		scoredWithCost("a", 0.9, 10),
		scoredWithCost("c", 0.5, 10),
		scoredWithCost("d", 0.7, 10),
	}

	sel := selector.Select(context.Background(), items, 4000, "")
	require.Len(t, sel.Items, 4)

	var ids []string
	for _, item := range sel.Items {
		ids = append(ids, item.Scored.Item.ID)
	}
	assert.Equal(t, []string{"a", "d", "b", "c"}, ids)
}

func TestBudgetSelector_SkipsOversizedItemAndContinues(t *testing.T) {
	selector := newTestSelector(nil)

	items := []models.ScoredItem{
		scoredWithCost("big", 0.6, 90),
		scoredWithCost("small", 0.5, 20),
	}

	// verbatim sub-budget is 80
	sel := selector.Select(context.Background(), items, 100, "")
	require.Len(t, sel.Items, 1)
	assert.Equal(t, "small", sel.Items[0].Scored.Item.ID)
	assert.Equal(t, 1, sel.Dropped)
	assert.Zero(t, sel.Queued)
}

func TestBudgetSelector_QueuesHighValueOverflow(t *testing.T) {
	compressed := models.PreviewItem{
		Type:       models.PreviewItemCompressed,
		Compressed: &models.CompressedItem{SourceIDs: []string{"hot"}, SummaryText: "summary", Score: 0.9},
		Tokens:     10,
	}
	summarizer := &recordingSummarizer{result: []models.PreviewItem{compressed}}
	selector := newTestSelector(summarizer)

	items := []models.ScoredItem{
		scoredWithCost("fits", 0.95, 60),
		scoredWithCost("hot", 0.8, 50),
		scoredWithCost("cold", 0.4, 50),
	}

	sel := selector.Select(context.Background(), items, 100, "auth")

	require.Equal(t, 1, summarizer.calls)
	require.Len(t, summarizer.items, 1)
	assert.Equal(t, "hot", summarizer.items[0].Item.ID)
	assert.Equal(t, 40, summarizer.remaining)
	assert.Equal(t, 1, sel.Queued)
	assert.Equal(t, 1, sel.Dropped)

	require.Len(t, sel.Items, 2)
	assert.Equal(t, models.PreviewItemVerbatim, sel.Items[0].Type)
	assert.Equal(t, models.PreviewItemCompressed, sel.Items[1].Type)
	assert.Equal(t, 70, sel.TokensUsed)
}

func TestBudgetSelector_ThresholdIsStrict(t *testing.T) {
	summarizer := &recordingSummarizer{}
	selector := newTestSelector(summarizer)

	items := []models.ScoredItem{
		scoredWithCost("fits", 0.9, 80),
		scoredWithCost("edge", 0.7, 50),
	}

	sel := selector.Select(context.Background(), items, 100, "")
	assert.Zero(t, summarizer.calls)
	assert.Equal(t, 1, sel.Dropped)
}

func TestBudgetSelector_RejectsSummaryThatOverflows(t *testing.T) {
	summarizer := &recordingSummarizer{result: []models.PreviewItem{{
		Type:       models.PreviewItemCompressed,
		Compressed: &models.CompressedItem{Score: 0.9},
		Tokens:     500,
	}}}
	selector := newTestSelector(summarizer)

	items := []models.ScoredItem{
		scoredWithCost("fits", 0.9, 80),
		scoredWithCost("hot", 0.9, 80),
	}

	sel := selector.Select(context.Background(), items, 100, "")
	assert.Equal(t, 1, summarizer.calls)
	require.Len(t, sel.Items, 1)
	assert.Equal(t, 80, sel.TokensUsed)
}

func TestBudgetSelector_DoesNotMutateInput(t *testing.T) {
	selector := newTestSelector(nil)

	items := []models.ScoredItem{
		scoredWithCost("low", 0.1, 10),
		scoredWithCost("high", 0.9, 10),
	}
	selector.Select(context.Background(), items, 4000, "")

	assert.Equal(t, "low", items[0].Item.ID)
	assert.Equal(t, "high", items[1].Item.ID)
}
