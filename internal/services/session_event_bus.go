package services

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"taskloom/internal/logging"
	"taskloom/internal/models"

	"github.com/sirupsen/logrus"
)

// SessionEventRotated is published when a new session supersedes the active one
const SessionEventRotated = "session_rotated"

// SessionEvent describes a committed ledger transition
type SessionEvent struct {
	Type      string          `json:"type"`
	ProjectID string          `json:"project_id"`
	Session   models.Session  `json:"session"`
	Previous  *models.Session `json:"previous,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// eventPublisher is the subset of RedisService used to mirror events across replicas
type eventPublisher interface {
	Publish(ctx context.Context, channel string, message interface{}) error
}

// SessionEventBus is an in-memory pub/sub for session events, scoped per project.
// Channel subscribers receive events without blocking the ledger; handlers registered
// with OnEvent run synchronously after every commit.
type SessionEventBus struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]chan SessionEvent // projectID → subID → chan
	handlers    []func(SessionEvent)
	mirror      eventPublisher
}

// NewSessionEventBus creates a new event bus
func NewSessionEventBus() *SessionEventBus {
	return &SessionEventBus{
		subscribers: make(map[string]map[string]chan SessionEvent),
	}
}

// SetMirror publishes every event to Redis as JSON as well
func (b *SessionEventBus) SetMirror(p eventPublisher) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.mirror = p
}

// OnEvent registers a handler invoked for every published event
func (b *SessionEventBus) OnEvent(fn func(SessionEvent)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, fn)
}

// Subscribe creates a new event channel for a project
func (b *SessionEventBus) Subscribe(projectID, subID string, bufSize int) <-chan SessionEvent {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan SessionEvent, bufSize)
	if _, ok := b.subscribers[projectID]; !ok {
		b.subscribers[projectID] = make(map[string]chan SessionEvent)
	}
	b.subscribers[projectID][subID] = ch

	logging.WithProject(projectID).Debugf("[EVENT-BUS] Subscribe: sub=%s (total=%d)", subID, len(b.subscribers[projectID]))
	return ch
}

// Unsubscribe removes a subscription. The channel is not closed.
func (b *SessionEventBus) Unsubscribe(projectID, subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if subs, ok := b.subscribers[projectID]; ok {
		delete(subs, subID)
		if len(subs) == 0 {
			delete(b.subscribers, projectID)
		}
	}
}

// Publish delivers an event to the project's subscribers and handlers.
// Full subscriber channels drop the event for that subscriber.
func (b *SessionEventBus) Publish(ctx context.Context, event SessionEvent) {
	b.mu.RLock()
	for _, ch := range b.subscribers[event.ProjectID] {
		select {
		case ch <- event:
		default:
		}
	}
	handlers := make([]func(SessionEvent), len(b.handlers))
	copy(handlers, b.handlers)
	mirror := b.mirror
	b.mu.RUnlock()

	for _, fn := range handlers {
		fn(event)
	}

	if mirror != nil {
		b.mirrorEvent(ctx, mirror, event)
	}
}

func (b *SessionEventBus) mirrorEvent(ctx context.Context, mirror eventPublisher, event SessionEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		logrus.Warnf("⚠️ [EVENT-BUS] Failed to encode %s event: %v", event.Type, err)
		return
	}
	if err := mirror.Publish(ctx, SessionEventsChannel(event.ProjectID), payload); err != nil {
		logging.WithProject(event.ProjectID).Warnf("⚠️ [EVENT-BUS] Failed to mirror %s event to Redis: %v", event.Type, err)
	}
}

// SubscriberCount returns the number of active subscribers for a project
func (b *SessionEventBus) SubscriberCount(projectID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[projectID])
}
