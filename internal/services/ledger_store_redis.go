package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"taskloom/internal/models"

	"github.com/redis/go-redis/v9"
)

// RedisLedgerStore keeps each project's history as one JSON document in Redis
type RedisLedgerStore struct {
	redis *RedisService
}

// NewRedisLedgerStore creates a ledger store over a Redis connection
func NewRedisLedgerStore(r *RedisService) *RedisLedgerStore {
	return &RedisLedgerStore{redis: r}
}

// Load reads the project's history; a missing key is an empty history
func (s *RedisLedgerStore) Load(ctx context.Context, projectID string) ([]models.Session, error) {
	raw, err := s.redis.Get(ctx, LedgerKey(projectID))
	if errors.Is(err, redis.Nil) {
		return []models.Session{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read ledger: %w", err)
	}

	var history []models.Session
	if err := json.Unmarshal([]byte(raw), &history); err != nil {
		return nil, fmt.Errorf("failed to decode ledger: %w", err)
	}
	return history, nil
}

// Save writes the project's history without expiry
func (s *RedisLedgerStore) Save(ctx context.Context, projectID string, history []models.Session) error {
	payload, err := json.Marshal(history)
	if err != nil {
		return fmt.Errorf("failed to encode ledger: %w", err)
	}
	if err := s.redis.Set(ctx, LedgerKey(projectID), payload, 0); err != nil {
		return fmt.Errorf("failed to write ledger: %w", err)
	}
	return nil
}
