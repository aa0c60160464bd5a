package jobs

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Task is the unit of work a scheduled job runs
type Task func(ctx context.Context) error

// JobScheduler runs named tasks on cron schedules
type JobScheduler struct {
	scheduler gocron.Scheduler
	jobs      map[string]gocron.Job
	ctx       context.Context
	cancel    context.CancelFunc
	mu        sync.Mutex
}

// JobStatus represents the status of a job
type JobStatus struct {
	Name        string    `json:"name"`
	NextRunTime time.Time `json:"next_run_time"`
	LastRunTime time.Time `json:"last_run_time"`
}

// ValidateCron checks a standard five-field cron expression
func ValidateCron(expr string) error {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	if _, err := parser.Parse(expr); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return nil
}

// NewJobScheduler creates a new job scheduler in UTC
func NewJobScheduler() (*JobScheduler, error) {
	scheduler, err := gocron.NewScheduler(gocron.WithLocation(time.UTC))
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &JobScheduler{
		scheduler: scheduler,
		jobs:      make(map[string]gocron.Job),
		ctx:       ctx,
		cancel:    cancel,
	}, nil
}

// Register adds a job. A run still in progress when the next tick fires is not overlapped.
func (s *JobScheduler) Register(name, cronExpr string, task Task) error {
	if err := ValidateCron(cronExpr); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("job %s already registered", name)
	}

	job, err := s.scheduler.NewJob(
		gocron.CronJob(cronExpr, false),
		gocron.NewTask(func() {
			s.runJob(name, task)
		}),
		gocron.WithName(name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}

	s.jobs[name] = job
	logrus.Infof("✅ [SCHEDULER] Registered job: %s (cron: %s)", name, cronExpr)
	return nil
}

func (s *JobScheduler) runJob(name string, task Task) {
	logrus.Debugf("▶️  [SCHEDULER] Running job: %s", name)
	startTime := time.Now()

	if err := task(s.ctx); err != nil {
		logrus.Errorf("❌ [SCHEDULER] Job '%s' failed: %v", name, err)
		return
	}

	logrus.Debugf("✅ [SCHEDULER] Job '%s' completed in %v", name, time.Since(startTime))
}

// Start begins running all registered jobs
func (s *JobScheduler) Start() {
	s.mu.Lock()
	count := len(s.jobs)
	s.mu.Unlock()

	s.scheduler.Start()
	logrus.Infof("🚀 [SCHEDULER] Started job scheduler with %d jobs", count)
}

// Stop cancels running tasks and waits for them to return
func (s *JobScheduler) Stop() error {
	logrus.Info("🛑 [SCHEDULER] Stopping job scheduler...")
	s.cancel()
	if err := s.scheduler.Shutdown(); err != nil {
		return fmt.Errorf("failed to stop scheduler: %w", err)
	}
	logrus.Info("✅ [SCHEDULER] Job scheduler stopped")
	return nil
}

// RunNow triggers a registered job immediately, outside its schedule
func (s *JobScheduler) RunNow(name string) error {
	s.mu.Lock()
	job, exists := s.jobs[name]
	s.mu.Unlock()

	if !exists {
		return fmt.Errorf("job %s not found", name)
	}
	return job.RunNow()
}

// GetStatus returns the status of all jobs ordered by name
func (s *JobScheduler) GetStatus() []JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := make([]JobStatus, 0, len(s.jobs))
	for name, job := range s.jobs {
		next, _ := job.NextRun()
		last, _ := job.LastRun()
		status = append(status, JobStatus{Name: name, NextRunTime: next, LastRunTime: last})
	}
	sort.Slice(status, func(i, j int) bool { return status[i].Name < status[j].Name })
	return status
}
