package health

import (
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	defaultFailureThreshold = 3
	defaultCooldownDuration = 1 * time.Hour
)

// Tracker records success and failure of upstream endpoints and puts failing ones
// into cooldown so callers can skip them without waiting on a timeout.
type Tracker struct {
	mu               sync.RWMutex
	entries          map[string]*EndpointHealth
	failureThreshold int
	cooldownDuration time.Duration
	now              func() time.Time
}

// NewTracker creates a tracker. Non-positive arguments fall back to 3 failures / 1 hour.
func NewTracker(failureThreshold int, cooldownDuration time.Duration) *Tracker {
	if failureThreshold <= 0 {
		failureThreshold = defaultFailureThreshold
	}
	if cooldownDuration <= 0 {
		cooldownDuration = defaultCooldownDuration
	}

	return &Tracker{
		entries:          make(map[string]*EndpointHealth),
		failureThreshold: failureThreshold,
		cooldownDuration: cooldownDuration,
		now:              time.Now,
	}
}

// Register adds an endpoint in the unknown state. Registering twice is a no-op.
func (t *Tracker) Register(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.entries[name]; !exists {
		t.entries[name] = &EndpointHealth{Name: name, Status: StatusUnknown}
		logrus.Debugf("[HEALTH] Registered endpoint %s", name)
	}
}

// IsAvailable reports whether name may be called now. Unknown endpoints are available.
func (t *Tracker) IsAvailable(name string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	h, exists := t.entries[name]
	if !exists {
		return true
	}

	switch h.Status {
	case StatusCooldown, StatusUnhealthy:
		return t.now().After(h.CooldownUntil)
	default:
		return true
	}
}

// MarkHealthy records a successful call
func (t *Tracker) MarkHealthy(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	h := t.entry(name)
	wasDown := h.Status == StatusUnhealthy || h.Status == StatusCooldown

	now := t.now()
	h.Status = StatusHealthy
	h.FailureCount = 0
	h.LastError = ""
	h.LastSuccessAt = now
	h.LastChecked = now
	h.CooldownUntil = time.Time{}

	if wasDown {
		logrus.Infof("✅ [HEALTH] Endpoint %s recovered", name)
	}
}

// MarkFailed records a failed call. Quota refusals go straight into cooldown;
// other failures do so once the threshold is reached.
func (t *Tracker) MarkFailed(name string, errMsg string, statusCode int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	h := t.entry(name)
	now := t.now()
	h.FailureCount++
	h.LastError = truncateStr(errMsg, 200)
	h.LastChecked = now

	if IsQuotaError(statusCode, errMsg) {
		h.Status = StatusCooldown
		h.CooldownUntil = now.Add(ParseCooldownDuration(statusCode, errMsg))
		logrus.Warnf("⏸️  [HEALTH] Endpoint %s in COOLDOWN until %s (reason: %s)",
			name, h.CooldownUntil.Format(time.RFC3339), truncateStr(errMsg, 100))
		return
	}

	if h.FailureCount >= t.failureThreshold {
		h.Status = StatusUnhealthy
		h.CooldownUntil = now.Add(t.cooldownDuration)
		logrus.Warnf("❌ [HEALTH] Endpoint %s marked UNHEALTHY after %d failures: %s",
			name, h.FailureCount, h.LastError)
		return
	}

	logrus.Debugf("[HEALTH] Endpoint %s failure %d/%d: %s", name, h.FailureCount, t.failureThreshold, h.LastError)
}

// Snapshot returns a copy of every entry, ordered by name
func (t *Tracker) Snapshot() []EndpointHealth {
	t.mu.RLock()
	defer t.mu.RUnlock()

	result := make([]EndpointHealth, 0, len(t.entries))
	for _, h := range t.entries {
		result = append(result, *h)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}

func (t *Tracker) entry(name string) *EndpointHealth {
	h, exists := t.entries[name]
	if !exists {
		h = &EndpointHealth{Name: name, Status: StatusUnknown}
		t.entries[name] = h
	}
	return h
}

func truncateStr(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
