package services

import (
	"context"
	"sync"

	"taskloom/internal/models"
)

// MemoryLedgerStore keeps session histories in process memory
type MemoryLedgerStore struct {
	mu       sync.RWMutex
	projects map[string][]models.Session
}

// NewMemoryLedgerStore creates an empty in-memory ledger store
func NewMemoryLedgerStore() *MemoryLedgerStore {
	return &MemoryLedgerStore{projects: make(map[string][]models.Session)}
}

// Load returns a copy of the project's history
func (s *MemoryLedgerStore) Load(_ context.Context, projectID string) ([]models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneSessions(s.projects[projectID]), nil
}

// Save replaces the project's history
func (s *MemoryLedgerStore) Save(_ context.Context, projectID string, history []models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.projects[projectID] = cloneSessions(history)
	return nil
}

func cloneSessions(in []models.Session) []models.Session {
	out := make([]models.Session, len(in))
	for i, s := range in {
		out[i] = s
		if s.EndTime != nil {
			end := *s.EndTime
			out[i].EndTime = &end
		}
		if s.Trigger != nil {
			t := *s.Trigger
			out[i].Trigger = &t
		}
	}
	return out
}
