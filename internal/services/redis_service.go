package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Redis key layout
const (
	redisLedgerPrefix  = "taskloom:ledger:"
	redisLockPrefix    = "taskloom:lock:project:"
	redisEventsPrefix  = "taskloom:sessions:"
	projectLockTTL     = 15 * time.Second
	projectLockBackoff = 50 * time.Millisecond
)

// LedgerKey is the key holding a project's session history
func LedgerKey(projectID string) string { return redisLedgerPrefix + projectID }

// ProjectLockKey is the key of a project's distributed writer lock
func ProjectLockKey(projectID string) string { return redisLockPrefix + projectID }

// SessionEventsChannel is the pub/sub channel carrying a project's session events
func SessionEventsChannel(projectID string) string { return redisEventsPrefix + projectID }

// releaseLockScript deletes the lock only while it is still held by the caller's token
var releaseLockScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

// RedisService provides Redis connection and operations
type RedisService struct {
	client *redis.Client
	mu     sync.RWMutex
}

// NewRedisService connects to Redis and verifies the connection
func NewRedisService(redisURL string) (*RedisService, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	opts.PoolSize = 10
	opts.MinIdleConns = 2
	opts.MaxRetries = 3
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logrus.Info("✅ Redis connection established")
	return &RedisService{client: client}, nil
}

// Client returns the underlying Redis client
func (r *RedisService) Client() *redis.Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.client
}

// Close closes the Redis connection
func (r *RedisService) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

// Ping checks if Redis is healthy
func (r *RedisService) Ping(ctx context.Context) error {
	return r.Client().Ping(ctx).Err()
}

// Set sets a key-value pair with optional expiration
func (r *RedisService) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	return r.Client().Set(ctx, key, value, expiration).Err()
}

// Get retrieves a value by key. A missing key returns redis.Nil.
func (r *RedisService) Get(ctx context.Context, key string) (string, error) {
	return r.Client().Get(ctx, key).Result()
}

// Delete removes keys
func (r *RedisService) Delete(ctx context.Context, keys ...string) error {
	return r.Client().Del(ctx, keys...).Err()
}

// Publish publishes a message to a channel
func (r *RedisService) Publish(ctx context.Context, channel string, message interface{}) error {
	return r.Client().Publish(ctx, channel, message).Err()
}

// AcquireLock attempts to acquire a distributed lock.
// Returns true if the lock was acquired, false otherwise.
func (r *RedisService) AcquireLock(ctx context.Context, lockKey string, lockValue string, expiration time.Duration) (bool, error) {
	return r.Client().SetNX(ctx, lockKey, lockValue, expiration).Result()
}

// ReleaseLock releases a distributed lock if it's still held by the given value
func (r *RedisService) ReleaseLock(ctx context.Context, lockKey string, lockValue string) (bool, error) {
	result, err := releaseLockScript.Run(ctx, r.Client(), []string{lockKey}, lockValue).Int64()
	if err != nil {
		return false, err
	}
	return result == 1, nil
}

// RedisProjectLocker serializes ledger writers of a project across server replicas
type RedisProjectLocker struct {
	redis *RedisService
	ttl   time.Duration
}

// NewRedisProjectLocker creates a locker whose locks expire after ttl (15s when zero)
func NewRedisProjectLocker(r *RedisService, ttl time.Duration) *RedisProjectLocker {
	if ttl <= 0 {
		ttl = projectLockTTL
	}
	return &RedisProjectLocker{redis: r, ttl: ttl}
}

// LockProject blocks until the project's lock is held or ctx is done.
// The returned func releases the lock.
func (l *RedisProjectLocker) LockProject(ctx context.Context, projectID string) (func(), error) {
	key := ProjectLockKey(projectID)
	token := uuid.NewString()

	for {
		ok, err := l.redis.AcquireLock(ctx, key, token, l.ttl)
		if err != nil {
			return nil, fmt.Errorf("failed to acquire project lock: %w", err)
		}
		if ok {
			break
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for project lock: %w", ctx.Err())
		case <-time.After(projectLockBackoff):
		}
	}

	return func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if released, err := l.redis.ReleaseLock(releaseCtx, key, token); err != nil || !released {
			logrus.Warnf("⚠️ [SESSION-LEDGER] Project lock %s not released cleanly (released=%v err=%v)", key, released, err)
		}
	}, nil
}
