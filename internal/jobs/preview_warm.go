package jobs

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"taskloom/internal/logging"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// PreviewWarmJobName is the scheduler name of the warm-up job
const PreviewWarmJobName = "preview-warm"

// PreviewWarmer rebuilds and caches the default preview of a project
type PreviewWarmer interface {
	Warm(ctx context.Context, projectID string) error
}

// ActivitySource lists projects with recent session activity
type ActivitySource interface {
	RecentlyActive(since time.Time) []string
}

// PreviewWarmJob refreshes cached previews of projects active within the window,
// so assistants opening a session get a cache hit
type PreviewWarmJob struct {
	previews    PreviewWarmer
	activity    ActivitySource
	window      time.Duration
	concurrency int
	now         func() time.Time
}

// NewPreviewWarmJob creates a warm job over projects active in the last hour
func NewPreviewWarmJob(previews PreviewWarmer, activity ActivitySource) *PreviewWarmJob {
	return &PreviewWarmJob{
		previews:    previews,
		activity:    activity,
		window:      time.Hour,
		concurrency: 4,
		now:         time.Now,
	}
}

// Run warms every recently active project. One failing project does not stop the others.
func (j *PreviewWarmJob) Run(ctx context.Context) error {
	projects := j.activity.RecentlyActive(j.now().Add(-j.window))
	if len(projects) == 0 {
		return nil
	}

	var failed atomic.Int32
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(j.concurrency)

	for _, projectID := range projects {
		g.Go(func() error {
			if err := j.previews.Warm(gctx, projectID); err != nil {
				failed.Add(1)
				logging.WithProject(projectID).Warnf("⚠️ [PREVIEW-WARM] Failed to warm preview: %v", err)
			}
			return nil
		})
	}
	_ = g.Wait()

	logrus.Infof("🔥 [PREVIEW-WARM] Warmed %d/%d project previews", len(projects)-int(failed.Load()), len(projects))
	if n := failed.Load(); n > 0 {
		return fmt.Errorf("failed to warm %d of %d previews", n, len(projects))
	}
	return nil
}
