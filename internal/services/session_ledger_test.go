package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"taskloom/internal/config"
	"taskloom/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

var ledgerStart = time.Date(2026, 7, 14, 9, 0, 0, 0, time.UTC)

type failingLedgerStore struct {
	loadErr error
	saveErr error
}

func (f *failingLedgerStore) Load(context.Context, string) ([]models.Session, error) {
	return nil, f.loadErr
}

func (f *failingLedgerStore) Save(context.Context, string, []models.Session) error {
	return f.saveErr
}

// countingLedgerStore counts saves on top of the in-memory store
type countingLedgerStore struct {
	*MemoryLedgerStore
	mu    sync.Mutex
	saves int
}

func (c *countingLedgerStore) Save(ctx context.Context, projectID string, history []models.Session) error {
	c.mu.Lock()
	c.saves++
	c.mu.Unlock()
	return c.MemoryLedgerStore.Save(ctx, projectID, history)
}

type recordingLocker struct {
	mu       sync.Mutex
	locked   []string
	released int
	err      error
}

func (r *recordingLocker) LockProject(_ context.Context, projectID string) (func(), error) {
	if r.err != nil {
		return nil, r.err
	}
	r.mu.Lock()
	r.locked = append(r.locked, projectID)
	r.mu.Unlock()
	return func() {
		r.mu.Lock()
		r.released++
		r.mu.Unlock()
	}, nil
}

func newTestLedger(store LedgerStore) *SessionLedger {
	return NewSessionLedger(store, config.NewEngineConfigStore(nil), nil, nil, nil)
}

func batchAt(projectID string, at time.Time, tokens int) models.ActivityBatch {
	return models.ActivityBatch{ProjectID: projectID, EventCount: 1, EstimatedTokens: tokens, OccurredAt: at}
}

func activeCount(history []models.Session) int {
	n := 0
	for _, s := range history {
		if s.IsActive() {
			n++
		}
	}
	return n
}

func TestContinueSession_PreservesIdentity(t *testing.T) {
	session := models.Session{
		ID:             "s-1",
		ProjectID:      "p1",
		Title:          "Session",
		Status:         models.SessionStatusActive,
		StartTime:      ledgerStart,
		LastActivityAt: ledgerStart.Add(10 * time.Minute),
	}

	updated := ContinueSession(session, models.SessionUsage{TotalEvents: 5, ContextUsageEstimate: 1200}, ledgerStart.Add(20*time.Minute))

	assert.Equal(t, session.ID, updated.ID)
	assert.Equal(t, session.StartTime, updated.StartTime)
	assert.Equal(t, models.SessionStatusActive, updated.Status)
	assert.Equal(t, int64(5), updated.Usage.TotalEvents)
	assert.Equal(t, 1200, updated.Usage.ContextUsageEstimate)
	assert.Equal(t, ledgerStart.Add(20*time.Minute), updated.LastActivityAt)
	assert.Zero(t, session.Usage.TotalEvents, "input must not change")

	older := ContinueSession(updated, updated.Usage, ledgerStart)
	assert.Equal(t, ledgerStart.Add(20*time.Minute), older.LastActivityAt)
}

func TestRotateSessions(t *testing.T) {
	history := []models.Session{
		{ID: "old", ProjectID: "p1", Status: models.SessionStatusCompleted, StartTime: ledgerStart.Add(-48 * time.Hour)},
		{ID: "cur", ProjectID: "p1", Status: models.SessionStatusActive, StartTime: ledgerStart},
	}
	now := ledgerStart.Add(2 * time.Hour)
	trigger := models.SessionTrigger{Type: models.TriggerContextLimit, Reason: "estimated context usage 8500 tokens exceeds limit of 8000", Timestamp: now}
	newSession := models.Session{ID: NewSessionID(trigger, "p1"), ProjectID: "p1", StartTime: now}

	rotated := RotateSessions(history, newSession, trigger, now)

	require.Len(t, rotated, 3)
	assert.Equal(t, 1, activeCount(rotated))

	assert.Equal(t, "old", rotated[0].ID)
	assert.Nil(t, rotated[0].EndTime, "already completed sessions are left alone")

	assert.Equal(t, models.SessionStatusCompleted, rotated[1].Status)
	require.NotNil(t, rotated[1].EndTime)
	assert.Equal(t, now, *rotated[1].EndTime)
	assert.Equal(t, "superseded by context_limit: estimated context usage 8500 tokens exceeds limit of 8000", rotated[1].EndReason)

	assert.Equal(t, newSession.ID, rotated[2].ID)
	assert.True(t, rotated[2].IsActive())
	require.NotNil(t, rotated[2].Trigger)
	assert.Equal(t, models.TriggerContextLimit, rotated[2].Trigger.Type)

	assert.Equal(t, models.SessionStatusActive, history[1].Status, "input must not change")

	t.Run("duplicate context_limit delivery is a no-op", func(t *testing.T) {
		again := RotateSessions(rotated, newSession, trigger, now.Add(time.Second))
		assert.Equal(t, rotated, again)
	})

	t.Run("two actives are both completed", func(t *testing.T) {
		broken := []models.Session{
			{ID: "a", Status: models.SessionStatusActive},
			{ID: "b", Status: models.SessionStatusActive},
		}
		fixed := RotateSessions(broken, models.Session{ID: "c"}, trigger, now)
		require.Len(t, fixed, 3)
		assert.Equal(t, 1, activeCount(fixed))
		assert.Equal(t, "c", fixed[2].ID)
	})
}

func TestSessionLedger_FirstActivityStartsSession(t *testing.T) {
	ledger := newTestLedger(NewMemoryLedgerStore())

	result, err := ledger.RecordActivity(context.Background(), batchAt("p1", ledgerStart, 300))
	require.NoError(t, err)

	assert.True(t, result.Rotated)
	assert.Nil(t, result.Previous)
	require.NotNil(t, result.Decision.Trigger)
	assert.Equal(t, models.TriggerManual, result.Decision.Trigger.Type)
	assert.Equal(t, "no active session found", result.Decision.Trigger.Reason)
	assert.Equal(t, result.Decision.NewSessionID, result.Session.ID)
	assert.Equal(t, 300, result.Session.Usage.ContextUsageEstimate)
	assert.Equal(t, "Session 2026-07-14 09:00", result.Session.Title)

	history, err := ledger.History(context.Background(), "p1")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.True(t, history[0].IsActive())
}

func TestSessionLedger_ContinueAccumulatesUsage(t *testing.T) {
	ledger := newTestLedger(NewMemoryLedgerStore())
	ctx := context.Background()

	first, err := ledger.RecordActivity(ctx, batchAt("p1", ledgerStart, 1000))
	require.NoError(t, err)

	second, err := ledger.RecordActivity(ctx, batchAt("p1", ledgerStart.Add(10*time.Minute), 500))
	require.NoError(t, err)

	assert.False(t, second.Rotated)
	assert.False(t, second.Decision.ShouldCreate)
	assert.Equal(t, first.Session.ID, second.Session.ID)
	assert.Equal(t, int64(2), second.Session.Usage.TotalEvents)
	assert.Equal(t, 1500, second.Session.Usage.ContextUsageEstimate)
	assert.Equal(t, ledgerStart.Add(10*time.Minute), second.Session.LastActivityAt)
}

func TestSessionLedger_Rotations(t *testing.T) {
	tests := []struct {
		name     string
		second   models.ActivityBatch
		wantType models.TriggerType
	}{
		{
			name:     "context limit regardless of elapsed time",
			second:   batchAt("p1", ledgerStart.Add(time.Second), 1500),
			wantType: models.TriggerContextLimit,
		},
		{
			name:     "inactivity",
			second:   batchAt("p1", ledgerStart.Add(61*time.Minute), 10),
			wantType: models.TriggerInactivity,
		},
		{
			name:     "calendar day change",
			second:   batchAt("p1", time.Date(2026, 7, 15, 0, 5, 0, 0, time.UTC), 10),
			wantType: models.TriggerDaily,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			ledger := newTestLedger(NewMemoryLedgerStore())

			first, err := ledger.RecordActivity(ctx, batchAt("p1", ledgerStart, 7000))
			require.NoError(t, err)

			if tt.wantType == models.TriggerDaily {
				// keep the session warm up to midnight
				_, err := ledger.RecordActivity(ctx, batchAt("p1", time.Date(2026, 7, 14, 23, 50, 0, 0, time.UTC), 0))
				require.NoError(t, err)
				// the warm-up batch crossed the inactivity window, so it rotated once already
				history, err := ledger.History(ctx, "p1")
				require.NoError(t, err)
				first.Session = history[len(history)-1]
			}

			result, err := ledger.RecordActivity(ctx, tt.second)
			require.NoError(t, err)

			require.True(t, result.Rotated)
			assert.Equal(t, tt.wantType, result.Decision.Trigger.Type)
			require.NotNil(t, result.Previous)
			assert.Equal(t, first.Session.ID, result.Previous.ID)
			assert.Equal(t, models.SessionStatusCompleted, result.Previous.Status)
			assert.Contains(t, result.Previous.EndReason, "superseded by "+string(tt.wantType))

			history, err := ledger.History(ctx, "p1")
			require.NoError(t, err)
			assert.Equal(t, 1, activeCount(history))
			assert.Equal(t, result.Session.ID, history[len(history)-1].ID)
		})
	}
}

func TestSessionLedger_DuplicateRotationKeepsHistory(t *testing.T) {
	ctx := context.Background()
	store := &countingLedgerStore{MemoryLedgerStore: NewMemoryLedgerStore()}
	ledger := newTestLedger(store)

	at := ledgerStart.Add(time.Minute)
	trigger := models.SessionTrigger{Type: models.TriggerContextLimit, Timestamp: at}
	replayedID := NewSessionID(trigger, "p1")

	seeded := []models.Session{
		{ID: replayedID, ProjectID: "p1", Status: models.SessionStatusCompleted, StartTime: at},
		{ID: "cur", ProjectID: "p1", Status: models.SessionStatusActive, StartTime: ledgerStart, LastActivityAt: ledgerStart,
			Usage: models.SessionUsage{TotalEvents: 3, ContextUsageEstimate: 7000}},
	}
	require.NoError(t, store.MemoryLedgerStore.Save(ctx, "p1", seeded))

	result, err := ledger.RecordActivity(ctx, batchAt("p1", at, 1500))
	require.NoError(t, err)

	assert.True(t, result.Duplicate)
	assert.False(t, result.Rotated)
	assert.Equal(t, replayedID, result.Session.ID)
	assert.Zero(t, store.saves)

	history, err := ledger.History(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, seeded, history)
}

func TestSessionLedger_RedeliveredBatchCountsOnce(t *testing.T) {
	ctx := context.Background()
	store := &countingLedgerStore{MemoryLedgerStore: NewMemoryLedgerStore()}
	ledger := newTestLedger(store)

	first := batchAt("p1", ledgerStart, 100)
	first.BatchID = "batch-1"
	started, err := ledger.RecordActivity(ctx, first)
	require.NoError(t, err)
	require.True(t, started.Rotated)

	// redelivery of the batch that started the session
	replay, err := ledger.RecordActivity(ctx, first)
	require.NoError(t, err)
	assert.True(t, replay.Duplicate)
	assert.Equal(t, started.Session.ID, replay.Session.ID)

	second := batchAt("p1", ledgerStart.Add(time.Minute), 50)
	second.BatchID = "batch-2"
	continued, err := ledger.RecordActivity(ctx, second)
	require.NoError(t, err)
	require.False(t, continued.Duplicate)
	assert.Equal(t, "batch-2", continued.Session.LastBatchID)

	// redelivery on the continue path
	replay, err = ledger.RecordActivity(ctx, second)
	require.NoError(t, err)
	assert.True(t, replay.Duplicate)
	assert.Equal(t, 2, store.saves)

	history, err := ledger.History(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, int64(2), history[0].Usage.TotalEvents)
	assert.Equal(t, 150, history[0].Usage.ContextUsageEstimate)

	// batches without an id are always applied
	anonymous := batchAt("p1", ledgerStart.Add(2*time.Minute), 10)
	_, err = ledger.RecordActivity(ctx, anonymous)
	require.NoError(t, err)
	_, err = ledger.RecordActivity(ctx, anonymous)
	require.NoError(t, err)
	history, err = ledger.History(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, int64(4), history[0].Usage.TotalEvents)
}

func TestSessionLedger_MultipleActivesTreatedAsNone(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryLedgerStore()
	require.NoError(t, store.Save(ctx, "p1", []models.Session{
		{ID: "a", ProjectID: "p1", Status: models.SessionStatusActive, StartTime: ledgerStart},
		{ID: "b", ProjectID: "p1", Status: models.SessionStatusActive, StartTime: ledgerStart},
	}))
	ledger := newTestLedger(store)

	result, err := ledger.RecordActivity(ctx, batchAt("p1", ledgerStart.Add(time.Minute), 10))
	require.NoError(t, err)

	assert.True(t, result.Rotated)
	assert.Equal(t, models.TriggerManual, result.Decision.Trigger.Type)

	history, err := ledger.History(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, 1, activeCount(history))
}

func TestSessionLedger_ValidationAndStoreErrors(t *testing.T) {
	ctx := context.Background()

	_, err := newTestLedger(NewMemoryLedgerStore()).RecordActivity(ctx, models.ActivityBatch{})
	assert.ErrorIs(t, err, ErrInvalidConfiguration)

	_, err = newTestLedger(NewMemoryLedgerStore()).RecordActivity(ctx, models.ActivityBatch{ProjectID: "p1", EstimatedTokens: -1})
	assert.ErrorIs(t, err, ErrInvalidConfiguration)

	_, err = newTestLedger(&failingLedgerStore{loadErr: errors.New("down")}).RecordActivity(ctx, batchAt("p1", ledgerStart, 1))
	assert.ErrorIs(t, err, ErrUpstreamUnavailable)

	_, err = newTestLedger(&failingLedgerStore{saveErr: errors.New("down")}).RecordActivity(ctx, batchAt("p1", ledgerStart, 1))
	assert.ErrorIs(t, err, ErrUpstreamUnavailable)

	_, err = newTestLedger(&failingLedgerStore{loadErr: errors.New("down")}).History(ctx, "p1")
	assert.ErrorIs(t, err, ErrUpstreamUnavailable)
}

func TestSessionLedger_UsesClockWhenBatchHasNoTime(t *testing.T) {
	ledger := newTestLedger(NewMemoryLedgerStore())
	ledger.SetClock(func() time.Time { return ledgerStart })

	result, err := ledger.RecordActivity(context.Background(), models.ActivityBatch{ProjectID: "p1", EventCount: 1})
	require.NoError(t, err)
	assert.Equal(t, ledgerStart, result.Session.StartTime)
}

func TestSessionLedger_DistributedLocker(t *testing.T) {
	ctx := context.Background()
	locker := &recordingLocker{}
	ledger := NewSessionLedger(NewMemoryLedgerStore(), nil, locker, nil, nil)

	_, err := ledger.RecordActivity(ctx, batchAt("p1", ledgerStart, 1))
	require.NoError(t, err)
	assert.Equal(t, []string{"p1"}, locker.locked)
	assert.Equal(t, 1, locker.released)

	failing := NewSessionLedger(NewMemoryLedgerStore(), nil, &recordingLocker{err: errors.New("lock timeout")}, nil, nil)
	_, err = failing.RecordActivity(ctx, batchAt("p1", ledgerStart, 1))
	assert.ErrorIs(t, err, ErrUpstreamUnavailable)
}

func TestSessionLedger_PublishesRotationEvents(t *testing.T) {
	ctx := context.Background()
	bus := NewSessionEventBus()
	events := bus.Subscribe("p1", "test", 4)

	var handled []SessionEvent
	bus.OnEvent(func(e SessionEvent) { handled = append(handled, e) })

	ledger := NewSessionLedger(NewMemoryLedgerStore(), nil, nil, bus, nil)

	first, err := ledger.RecordActivity(ctx, batchAt("p1", ledgerStart, 7000))
	require.NoError(t, err)
	_, err = ledger.RecordActivity(ctx, batchAt("p1", ledgerStart.Add(time.Minute), 10))
	require.NoError(t, err)
	second, err := ledger.RecordActivity(ctx, batchAt("p1", ledgerStart.Add(2*time.Minute), 2000))
	require.NoError(t, err)

	require.Len(t, handled, 2, "continuations publish nothing")
	assert.Equal(t, SessionEventRotated, handled[1].Type)
	assert.Equal(t, second.Session.ID, handled[1].Session.ID)
	require.NotNil(t, handled[1].Previous)
	assert.Equal(t, first.Session.ID, handled[1].Previous.ID)

	require.Len(t, events, 2)
	assert.Equal(t, first.Session.ID, (<-events).Session.ID)
}

func TestSessionLedger_RecentlyActive(t *testing.T) {
	ctx := context.Background()
	ledger := newTestLedger(NewMemoryLedgerStore())

	_, err := ledger.RecordActivity(ctx, batchAt("old", ledgerStart.Add(-2*time.Hour), 1))
	require.NoError(t, err)
	_, err = ledger.RecordActivity(ctx, batchAt("b", ledgerStart, 1))
	require.NoError(t, err)
	_, err = ledger.RecordActivity(ctx, batchAt("a", ledgerStart.Add(-30*time.Minute), 1))
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b"}, ledger.RecentlyActive(ledgerStart.Add(-time.Hour)))
	assert.Empty(t, ledger.RecentlyActive(ledgerStart.Add(time.Minute)))
}

func TestSessionLedger_ConcurrentWritersKeepOneActive(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	ctx := context.Background()
	ledger := newTestLedger(NewMemoryLedgerStore())

	var wg sync.WaitGroup
	for p := 0; p < 3; p++ {
		projectID := fmt.Sprintf("p%d", p)
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				// every third batch is large enough to force a context_limit rotation
				tokens := 100
				if i%3 == 0 {
					tokens = 9000
				}
				_, err := ledger.RecordActivity(ctx, batchAt(projectID, ledgerStart.Add(time.Duration(i)*time.Second), tokens))
				assert.NoError(t, err)
			}(i)
		}
	}
	wg.Wait()

	for p := 0; p < 3; p++ {
		history, err := ledger.History(ctx, fmt.Sprintf("p%d", p))
		require.NoError(t, err)
		assert.Equal(t, 1, activeCount(history))

		var events int64
		for _, s := range history {
			events += s.Usage.TotalEvents
		}
		assert.Equal(t, int64(20), events, "every batch is counted exactly once")
	}
}

func TestKeyedMutex_ForgetsReleasedKeys(t *testing.T) {
	var k keyedMutex
	unlockA := k.Lock("a")
	unlockB := k.Lock("b")
	assert.Len(t, k.locks, 2)

	unlockA()
	unlockB()
	assert.Empty(t, k.locks)
}
