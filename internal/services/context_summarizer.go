package services

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"taskloom/internal/config"
	"taskloom/internal/logging"
	"taskloom/internal/models"
	"taskloom/internal/utils"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Completer is the external text-completion capability used to condense items
type Completer interface {
	Complete(ctx context.Context, prompt string, maxTokens int, temperature float64) (string, error)
}

// availabilityReporter is implemented by completers that track provider cooldowns
type availabilityReporter interface {
	Available() bool
}

// Summarizer condenses over-budget, high-value items into preview items
type Summarizer interface {
	Summarize(ctx context.Context, items []models.ScoredItem, remainingTokens int, focus string) []models.PreviewItem
}

// ContextSummarizer compresses items with the Completer and falls back to a
// deterministic local summary whenever the capability cannot answer in time.
type ContextSummarizer struct {
	completer Completer
	cfg       config.SummarizerConfig
	limiter   *rate.Limiter
	metrics   *EngineMetrics
}

// NewContextSummarizer creates a summarizer. completer may be nil, in which case
// every call is served by the fallback.
func NewContextSummarizer(completer Completer, cfg config.SummarizerConfig, metrics *EngineMetrics) *ContextSummarizer {
	rps, burst := cfg.RequestsPerSecond, cfg.Burst
	if rps <= 0 {
		rps = 1
	}
	if burst <= 0 {
		burst = 1
	}

	return &ContextSummarizer{
		completer: completer,
		cfg:       cfg,
		limiter:   rate.NewLimiter(rate.Limit(rps), burst),
		metrics:   metrics,
	}
}

// WithConfig returns a summarizer using cfg that shares this one's completer and rate
// limiter. A changed rate or burst is applied to the shared limiter.
func (s *ContextSummarizer) WithConfig(cfg config.SummarizerConfig) *ContextSummarizer {
	if cfg.RequestsPerSecond > 0 && rate.Limit(cfg.RequestsPerSecond) != s.limiter.Limit() {
		s.limiter.SetLimit(rate.Limit(cfg.RequestsPerSecond))
	}
	if cfg.Burst > 0 && cfg.Burst != s.limiter.Burst() {
		s.limiter.SetBurst(cfg.Burst)
	}

	return &ContextSummarizer{
		completer: s.completer,
		cfg:       cfg,
		limiter:   s.limiter,
		metrics:   s.metrics,
	}
}

// Summarize returns at most remainingTokens worth of preview items covering items.
// It never fails: any problem with the capability yields the fallback summary.
func (s *ContextSummarizer) Summarize(ctx context.Context, items []models.ScoredItem, remainingTokens int, focus string) []models.PreviewItem {
	if len(items) == 0 || remainingTokens <= 0 {
		return nil
	}

	logger := logging.WithProject(items[0].Item.ProjectID)

	result, reason, err := s.summarizeWithCompleter(ctx, items, remainingTokens, focus)
	if err == nil {
		s.metrics.RecordSummarizer("ai", "")
		logger.Debugf("🗜️  [SUMMARIZER] Compressed %d items into %d tokens", len(items), result.Tokens)
		return []models.PreviewItem{result}
	}

	logger.WithFields(logrus.Fields{
		"reason": reason,
		"items":  len(items),
	}).Warnf("⚠️ [SUMMARIZER] %v, using fallback summary", err)
	s.metrics.RecordSummarizer("fallback", reason)

	return s.Fallback(items, remainingTokens)
}

// summarizeWithCompleter returns the compressed item, or a reason label and an error
// wrapping ErrSummarizationUnavailable.
func (s *ContextSummarizer) summarizeWithCompleter(ctx context.Context, items []models.ScoredItem, remainingTokens int, focus string) (models.PreviewItem, string, error) {
	if s.completer == nil {
		return models.PreviewItem{}, "no_completer", fmt.Errorf("%w: no completion capability configured", ErrSummarizationUnavailable)
	}

	if reporter, ok := s.completer.(availabilityReporter); ok && !reporter.Available() {
		return models.PreviewItem{}, "cooldown", fmt.Errorf("%w: completion capability cooling down", ErrSummarizationUnavailable)
	}

	targetTokens := int(float64(remainingTokens) * s.cfg.TargetRatio)
	if targetTokens <= 0 {
		return models.PreviewItem{}, "budget", fmt.Errorf("%w: allowance of %d tokens too small", ErrSummarizationUnavailable, remainingTokens)
	}

	timeout := s.cfg.Timeout
	if timeout <= 0 {
		timeout = config.DefaultEngineConfig().Summarizer.Timeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := s.limiter.Wait(callCtx); err != nil {
		return models.PreviewItem{}, "rate_limited", fmt.Errorf("%w: rate limited: %v", ErrSummarizationUnavailable, err)
	}

	prompt := buildCompressionPrompt(items, targetTokens, focus)
	text, err := s.completer.Complete(callCtx, prompt, targetTokens, s.cfg.Temperature)
	if err != nil {
		reason := "error"
		if callCtx.Err() != nil {
			reason = "timeout"
		}
		return models.PreviewItem{}, reason, fmt.Errorf("%w: %v", ErrSummarizationUnavailable, err)
	}

	text = TruncateToTokens(strings.TrimSpace(text), remainingTokens)
	if text == "" {
		return models.PreviewItem{}, "empty", fmt.Errorf("%w: empty completion", ErrSummarizationUnavailable)
	}

	compressed := &models.CompressedItem{
		SourceIDs:   make([]string, 0, len(items)),
		SummaryText: text,
		Score:       s.cfg.CompressedScore,
	}
	seenLinks := make(map[string]bool)
	for _, item := range items {
		compressed.SourceIDs = append(compressed.SourceIDs, item.Item.ID)
		for _, link := range item.Item.Links {
			if !seenLinks[link] {
				seenLinks[link] = true
				compressed.Links = append(compressed.Links, link)
			}
		}
	}

	return models.PreviewItem{
		Type:       models.PreviewItemCompressed,
		Compressed: compressed,
		Tokens:     EstimateTokens(text),
	}, "", nil
}

// Fallback is the local summary: the top FallbackItems items by score with their bodies
// cut to FallbackSnippetChars, each admitted only if it still fits remainingTokens.
func (s *ContextSummarizer) Fallback(items []models.ScoredItem, remainingTokens int) []models.PreviewItem {
	if len(items) == 0 || remainingTokens <= 0 || s.cfg.FallbackItems <= 0 {
		return nil
	}

	ranked := make([]models.ScoredItem, len(items))
	copy(ranked, items)
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Score > ranked[j].Score })
	if len(ranked) > s.cfg.FallbackItems {
		ranked = ranked[:s.cfg.FallbackItems]
	}

	var (
		result []models.PreviewItem
		used   int
	)
	for _, scored := range ranked {
		snippet := scored
		snippet.Item.Body = utils.TruncateChars(utils.PlainText(scored.Item.Body), s.cfg.FallbackSnippetChars)

		cost := EstimateItemTokens(snippet.Item)
		if used+cost > remainingTokens {
			continue
		}
		used += cost

		result = append(result, models.PreviewItem{
			Type:   models.PreviewItemFallback,
			Scored: &snippet,
			Tokens: cost,
		})
	}

	return result
}

func buildCompressionPrompt(items []models.ScoredItem, targetTokens int, focus string) string {
	var sb strings.Builder

	sb.WriteString("You are condensing project context for an AI assistant.\n")
	sb.WriteString(fmt.Sprintf("Summarize the following %d items as a bulleted list of at most %d tokens.\n", len(items), targetTokens))
	sb.WriteString("Keep decisions, blockers, owners and open questions. Drop anything already resolved.\n")
	if focus = strings.TrimSpace(focus); focus != "" {
		sb.WriteString(fmt.Sprintf("Prioritize what is relevant to: %s\n", focus))
	}
	sb.WriteString("\nITEMS:\n")

	for _, item := range items {
		sb.WriteString(fmt.Sprintf("\n### [%s] %s\n", item.Item.Kind, item.Item.Title))
		if body := utils.PlainText(item.Item.Body); body != "" {
			sb.WriteString(body)
			sb.WriteString("\n")
		}
	}

	return sb.String()
}
