package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"taskloom/internal/config"
	"taskloom/internal/logging"
	"taskloom/internal/models"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// KnowledgeStore is the read-only source of project metadata and candidate items
type KnowledgeStore interface {
	// GetProject returns (nil, nil) when the project does not exist
	GetProject(ctx context.Context, projectID string) (*models.ProjectMeta, error)
	ListCandidateItems(ctx context.Context, projectID string, kinds []models.KnowledgeKind) ([]models.KnowledgeItem, error)
}

// PreviewOptions are the per-request knobs of a preview build
type PreviewOptions struct {
	MaxTokens                int    `json:"max_tokens"`
	IncludeTasks             bool   `json:"include_tasks"`
	IncludeCapturedKnowledge bool   `json:"include_captured_knowledge"`
	IncludeExternalActivity  bool   `json:"include_external_activity"`
	FocusQuery               string `json:"focus_query,omitempty"`
}

// DefaultPreviewOptions returns a 4000-token budget including every item family
func DefaultPreviewOptions() PreviewOptions {
	return PreviewOptions{
		MaxTokens:                config.DefaultEngineConfig().Preview.DefaultMaxTokens,
		IncludeTasks:             true,
		IncludeCapturedKnowledge: true,
		IncludeExternalActivity:  true,
	}
}

// Kinds lists the item kinds the options ask for
func (o PreviewOptions) Kinds() []models.KnowledgeKind {
	var kinds []models.KnowledgeKind
	if o.IncludeTasks {
		kinds = append(kinds, models.KindTask)
	}
	if o.IncludeCapturedKnowledge {
		kinds = append(kinds, models.CapturedKnowledgeKinds()...)
	}
	if o.IncludeExternalActivity {
		kinds = append(kinds, models.KindExternalActivity)
	}
	return kinds
}

// ContextPreviewService builds token-budgeted context previews for AI assistants
type ContextPreviewService struct {
	store      KnowledgeStore
	configs    *config.EngineConfigStore
	summarizer *ContextSummarizer
	cache      *PreviewCache
	metrics    *EngineMetrics
	now        func() time.Time
}

// NewContextPreviewService creates a preview service. summarizer may be nil, in which
// case over-budget items are only represented when they fit verbatim.
func NewContextPreviewService(store KnowledgeStore, configs *config.EngineConfigStore, summarizer *ContextSummarizer, metrics *EngineMetrics) *ContextPreviewService {
	if configs == nil {
		configs = config.NewEngineConfigStore(nil)
	}
	return &ContextPreviewService{
		store:      store,
		configs:    configs,
		summarizer: summarizer,
		metrics:    metrics,
		now:        time.Now,
	}
}

// SetCache enables caching of built previews
func (s *ContextPreviewService) SetCache(cache *PreviewCache) {
	s.cache = cache
}

// SetClock overrides the time source, used to make builds reproducible
func (s *ContextPreviewService) SetClock(now func() time.Time) {
	s.now = now
}

// DefaultOptions returns DefaultPreviewOptions with the budget from the current tunables
func (s *ContextPreviewService) DefaultOptions() PreviewOptions {
	opts := DefaultPreviewOptions()
	opts.MaxTokens = s.configs.Get().Preview.DefaultMaxTokens
	return opts
}

// BuildPreview returns the context preview of a project, served from cache when possible
func (s *ContextPreviewService) BuildPreview(ctx context.Context, projectID string, opts PreviewOptions) (*models.ContextPreview, error) {
	if s.cache != nil {
		if preview, ok := s.cache.Get(projectID, opts); ok {
			s.metrics.RecordCacheLookup(true)
			return preview, nil
		}
		s.metrics.RecordCacheLookup(false)
	}

	preview, err := s.build(ctx, projectID, opts)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		s.cache.Set(projectID, opts, preview)
	}
	return preview, nil
}

// Warm rebuilds the default preview of a project and replaces the cached copy
func (s *ContextPreviewService) Warm(ctx context.Context, projectID string) error {
	opts := s.DefaultOptions()
	preview, err := s.build(ctx, projectID, opts)
	if err != nil {
		return err
	}
	if s.cache != nil {
		s.cache.Set(projectID, opts, preview)
	}
	return nil
}

// InvalidateProject drops cached previews of a project
func (s *ContextPreviewService) InvalidateProject(projectID string) {
	if s.cache == nil {
		return
	}
	if removed := s.cache.Invalidate(projectID); removed > 0 {
		logging.WithProject(projectID).Debugf("🧹 [CONTEXT-PREVIEW] Invalidated %d cached previews", removed)
	}
}

func (s *ContextPreviewService) build(ctx context.Context, projectID string, opts PreviewOptions) (*models.ContextPreview, error) {
	start := time.Now()
	logger := logging.WithProject(projectID)

	if opts.MaxTokens < 0 {
		s.metrics.RecordPreview("invalid", time.Since(start).Seconds(), 0)
		return nil, fmt.Errorf("%w: max tokens must not be negative, got %d", ErrInvalidConfiguration, opts.MaxTokens)
	}

	cfg := s.configs.Get()
	now := s.now()

	project, items, err := s.fetch(ctx, projectID, opts.Kinds())
	if err != nil {
		result := "upstream_error"
		if errors.Is(err, ErrNotFound) {
			result = "not_found"
		}
		s.metrics.RecordPreview(result, time.Since(start).Seconds(), 0)
		logger.Warnf("⚠️ [CONTEXT-PREVIEW] Failed to load project data: %v", err)
		return nil, err
	}

	scored := NewRelevanceScorer(cfg.Scoring).ScoreAll(items, now)

	var summarizer Summarizer
	if s.summarizer != nil {
		summarizer = s.summarizer.WithConfig(cfg.Summarizer)
	}
	selection := NewBudgetSelector(cfg.Selection, summarizer).Select(ctx, scored, opts.MaxTokens, opts.FocusQuery)

	preview := &models.ContextPreview{
		ProjectID:           projectID,
		Items:               selection.Items,
		SummaryText:         projectSummaryLine(project, len(selection.Items), len(items)),
		TotalCandidateCount: len(items),
		TokensUsed:          selection.TokensUsed,
		MaxTokens:           opts.MaxTokens,
		GeneratedAt:         now,
	}
	if preview.Items == nil {
		preview.Items = []models.PreviewItem{}
	}

	s.metrics.RecordPreview("ok", time.Since(start).Seconds(), len(preview.Items))
	logger.Infof("📋 [CONTEXT-PREVIEW] Built preview: %d/%d items, %d/%d tokens (queued=%d dropped=%d) in %v",
		len(preview.Items), len(items), preview.TokensUsed, opts.MaxTokens, selection.Queued, selection.Dropped, time.Since(start))

	return preview, nil
}

// fetch reads the project header and candidates concurrently. Either failure aborts the build.
func (s *ContextPreviewService) fetch(ctx context.Context, projectID string, kinds []models.KnowledgeKind) (*models.ProjectMeta, []models.KnowledgeItem, error) {
	var (
		project *models.ProjectMeta
		items   []models.KnowledgeItem
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		p, err := s.store.GetProject(gctx, projectID)
		if err != nil {
			return fmt.Errorf("%w: failed to load project: %v", ErrUpstreamUnavailable, err)
		}
		project = p
		return nil
	})
	g.Go(func() error {
		if len(kinds) == 0 {
			return nil
		}
		list, err := s.store.ListCandidateItems(gctx, projectID, kinds)
		if err != nil {
			return fmt.Errorf("%w: failed to list candidate items: %v", ErrUpstreamUnavailable, err)
		}
		items = list
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	if project == nil {
		return nil, nil, fmt.Errorf("%w: %s", ErrNotFound, projectID)
	}
	return project, items, nil
}

func projectSummaryLine(project *models.ProjectMeta, included, candidates int) string {
	return fmt.Sprintf("%s: %d active / %d tasks (%d completed), %d captured insights; %d of %d items included",
		project.Name,
		project.TaskActive,
		project.TaskTotal,
		project.TaskCompleted,
		project.KnowledgeCount,
		included,
		candidates,
	)
}

// FlushCache drops every cached preview, used after the tunables change
func (s *ContextPreviewService) FlushCache() {
	if s.cache == nil {
		return
	}
	s.cache.Flush()
	logrus.Info("🧹 [CONTEXT-PREVIEW] Flushed preview cache")
}
