package services

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"taskloom/internal/config"
	"taskloom/internal/logging"
	"taskloom/internal/models"
)

// LedgerStore persists the session history of each project
type LedgerStore interface {
	// Load returns the history in insertion order; an unknown project has an empty history
	Load(ctx context.Context, projectID string) ([]models.Session, error)
	Save(ctx context.Context, projectID string, history []models.Session) error
}

// ProjectLocker provides cross-process mutual exclusion for a project's ledger writes
type ProjectLocker interface {
	LockProject(ctx context.Context, projectID string) (release func(), err error)
}

// ActivityResult is the committed outcome of one activity batch
type ActivityResult struct {
	Session   models.Session         `json:"session"`
	Previous  *models.Session        `json:"previous,omitempty"`
	Decision  models.TriggerDecision `json:"decision"`
	Rotated   bool                   `json:"rotated"`
	Duplicate bool                   `json:"duplicate"`
}

// ContinueSession returns a copy of session carrying the new usage. Identity and
// start time are preserved; the last activity time only moves forward.
func ContinueSession(session models.Session, usage models.SessionUsage, at time.Time) models.Session {
	updated := session
	updated.Usage = usage
	if at.After(updated.LastActivityAt) {
		updated.LastActivityAt = at
	}
	return updated
}

// RotateSessions completes every active session in history and appends newSession as
// the only active one. When newSession.ID is already present the history is returned
// unchanged, so replaying a rotation is a no-op. The input slice is never modified.
func RotateSessions(history []models.Session, newSession models.Session, trigger models.SessionTrigger, now time.Time) []models.Session {
	out := make([]models.Session, len(history), len(history)+1)
	copy(out, history)
	if _, exists := findSession(history, newSession.ID); exists {
		return out
	}

	endReason := fmt.Sprintf("superseded by %s: %s", trigger.Type, trigger.Reason)
	for i := range out {
		if !out[i].IsActive() {
			continue
		}
		end := now
		out[i].Status = models.SessionStatusCompleted
		out[i].EndTime = &end
		out[i].EndReason = endReason
	}

	next := newSession
	next.Status = models.SessionStatusActive
	if next.Trigger == nil {
		t := trigger
		next.Trigger = &t
	}
	return append(out, next)
}

// SessionLedger owns the session history of every project and commits the
// decisions of the trigger evaluator. Writers of one project are serialized.
type SessionLedger struct {
	store   LedgerStore
	locker  ProjectLocker
	configs *config.EngineConfigStore
	events  *SessionEventBus
	metrics *EngineMetrics
	now     func() time.Time

	locks    keyedMutex
	activity sync.Map // projectID → time.Time of the latest committed batch
}

// NewSessionLedger creates a ledger. locker, events and metrics may be nil.
func NewSessionLedger(store LedgerStore, configs *config.EngineConfigStore, locker ProjectLocker, events *SessionEventBus, metrics *EngineMetrics) *SessionLedger {
	if configs == nil {
		configs = config.NewEngineConfigStore(nil)
	}
	return &SessionLedger{
		store:   store,
		locker:  locker,
		configs: configs,
		events:  events,
		metrics: metrics,
		now:     time.Now,
	}
}

// SetClock overrides the time source used when a batch carries no timestamp
func (l *SessionLedger) SetClock(now func() time.Time) {
	l.now = now
}

// RecordActivity evaluates a batch against the project's active session and commits
// the result: either the active session absorbs the batch or a new session replaces it.
func (l *SessionLedger) RecordActivity(ctx context.Context, batch models.ActivityBatch) (*ActivityResult, error) {
	if batch.ProjectID == "" {
		return nil, fmt.Errorf("%w: project id is required", ErrInvalidConfiguration)
	}
	if batch.EventCount < 0 || batch.EstimatedTokens < 0 {
		return nil, fmt.Errorf("%w: event count and estimated tokens must not be negative", ErrInvalidConfiguration)
	}

	at := batch.OccurredAt
	if at.IsZero() {
		at = l.now()
	}
	logger := logging.WithProject(batch.ProjectID)

	unlock := l.locks.Lock(batch.ProjectID)
	defer unlock()

	if l.locker != nil {
		release, err := l.locker.LockProject(ctx, batch.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
		}
		defer release()
	}

	history, err := l.store.Load(ctx, batch.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to load session history: %v", ErrUpstreamUnavailable, err)
	}

	active, activeCount := findActive(history)
	if activeCount > 1 {
		logger.Warnf("⚠️ [SESSION-LEDGER] %d active sessions found, starting a fresh session", activeCount)
	}

	if active != nil && batch.BatchID != "" && active.LastBatchID == batch.BatchID {
		l.metrics.RecordSessionDecision("duplicate")
		logging.WithSession(logger, active.ID).Infof("🔁 [SESSION-LEDGER] Batch %s already applied, keeping usage unchanged", batch.BatchID)
		return &ActivityResult{Session: *active, Duplicate: true}, nil
	}

	var lastEvent *time.Time
	tokens := batch.EstimatedTokens
	if active != nil {
		if !active.LastActivityAt.IsZero() {
			last := active.LastActivityAt
			lastEvent = &last
		}
		tokens += active.Usage.ContextUsageEstimate
	}

	evaluator := NewSessionTriggerEvaluator(l.configs.Get().Sessions)
	decision := evaluator.Evaluate(active, lastEvent, tokens, batch.ProjectID, at)

	if !decision.ShouldCreate {
		updated := ContinueSession(*active, models.SessionUsage{
			TotalEvents:          active.Usage.TotalEvents + batch.EventCount,
			ContextUsageEstimate: tokens,
		}, at)
		if batch.BatchID != "" {
			updated.LastBatchID = batch.BatchID
		}
		next := replaceSession(history, updated)
		if err := l.store.Save(ctx, batch.ProjectID, next); err != nil {
			return nil, fmt.Errorf("%w: failed to save session history: %v", ErrUpstreamUnavailable, err)
		}

		l.touch(batch.ProjectID, at)
		l.metrics.RecordSessionDecision("continue")
		logging.WithSession(logger, updated.ID).Debugf("[SESSION-LEDGER] Continued session (%d events, ~%d tokens)",
			updated.Usage.TotalEvents, updated.Usage.ContextUsageEstimate)

		return &ActivityResult{Session: updated, Decision: decision}, nil
	}

	if existing, ok := findSession(history, decision.NewSessionID); ok {
		l.metrics.RecordSessionDecision("duplicate")
		logging.WithSession(logger, existing.ID).Infof("🔁 [SESSION-LEDGER] Rotation already committed, keeping history unchanged")
		return &ActivityResult{Session: existing, Decision: decision, Duplicate: true}, nil
	}

	loc := l.configs.Get().Sessions.Location()
	newSession := models.Session{
		ID:        decision.NewSessionID,
		ProjectID: batch.ProjectID,
		Title:     sessionTitle(at, loc),
		Status:    models.SessionStatusActive,
		StartTime: at,
		Trigger:   decision.Trigger,
		Usage: models.SessionUsage{
			TotalEvents:          batch.EventCount,
			ContextUsageEstimate: batch.EstimatedTokens,
		},
		LastActivityAt: at,
		LastBatchID:    batch.BatchID,
	}

	next := RotateSessions(history, newSession, *decision.Trigger, at)
	if err := l.store.Save(ctx, batch.ProjectID, next); err != nil {
		return nil, fmt.Errorf("%w: failed to save session history: %v", ErrUpstreamUnavailable, err)
	}

	var previous *models.Session
	if active != nil {
		if completed, ok := findSession(next, active.ID); ok {
			previous = &completed
		}
	}

	l.touch(batch.ProjectID, at)
	l.metrics.RecordSessionDecision(string(decision.Trigger.Type))
	logging.WithSession(logger, newSession.ID).Infof("🔄 [SESSION-LEDGER] Started new session (%s: %s)",
		decision.Trigger.Type, decision.Trigger.Reason)

	if l.events != nil {
		l.events.Publish(ctx, SessionEvent{
			Type:      SessionEventRotated,
			ProjectID: batch.ProjectID,
			Session:   newSession,
			Previous:  previous,
			Timestamp: at,
		})
	}

	return &ActivityResult{Session: newSession, Previous: previous, Decision: decision, Rotated: true}, nil
}

// History returns the project's sessions in the order they were started
func (l *SessionLedger) History(ctx context.Context, projectID string) ([]models.Session, error) {
	if projectID == "" {
		return nil, fmt.Errorf("%w: project id is required", ErrInvalidConfiguration)
	}
	history, err := l.store.Load(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to load session history: %v", ErrUpstreamUnavailable, err)
	}
	if history == nil {
		history = []models.Session{}
	}
	return history, nil
}

// RecentlyActive lists projects whose latest committed activity is not before since
func (l *SessionLedger) RecentlyActive(since time.Time) []string {
	var ids []string
	l.activity.Range(func(key, value any) bool {
		if !value.(time.Time).Before(since) {
			ids = append(ids, key.(string))
		}
		return true
	})
	sort.Strings(ids)
	return ids
}

func (l *SessionLedger) touch(projectID string, at time.Time) {
	for {
		prev, loaded := l.activity.LoadOrStore(projectID, at)
		if !loaded {
			return
		}
		if !at.After(prev.(time.Time)) {
			return
		}
		if l.activity.CompareAndSwap(projectID, prev, at) {
			return
		}
	}
}

// findActive returns the active session when exactly one exists
func findActive(history []models.Session) (*models.Session, int) {
	var (
		active *models.Session
		count  int
	)
	for i := range history {
		if history[i].IsActive() {
			count++
			s := history[i]
			active = &s
		}
	}
	if count != 1 {
		return nil, count
	}
	return active, count
}

func findSession(history []models.Session, id string) (models.Session, bool) {
	for _, s := range history {
		if s.ID == id {
			return s, true
		}
	}
	return models.Session{}, false
}

func replaceSession(history []models.Session, updated models.Session) []models.Session {
	out := make([]models.Session, len(history))
	copy(out, history)
	for i := range out {
		if out[i].ID == updated.ID {
			out[i] = updated
		}
	}
	return out
}

func sessionTitle(start time.Time, loc *time.Location) string {
	return "Session " + start.In(loc).Format("2006-01-02 15:04")
}

// keyedMutex hands out one mutex per key and forgets keys nobody holds
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	mu   sync.Mutex
	refs int
}

func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*keyedLock)
	}
	lock, ok := k.locks[key]
	if !ok {
		lock = &keyedLock{}
		k.locks[key] = lock
	}
	lock.refs++
	k.mu.Unlock()

	lock.mu.Lock()

	return func() {
		lock.mu.Unlock()

		k.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
