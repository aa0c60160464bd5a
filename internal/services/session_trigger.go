package services

import (
	"fmt"
	"strings"
	"time"

	"taskloom/internal/config"
	"taskloom/internal/models"

	"github.com/google/uuid"
)

// sessionNamespace scopes the name-based session ids
var sessionNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("taskloom:sessions"))

// SessionTriggerEvaluator decides whether inbound activity continues the active
// session or starts a new one. Pure and safe for concurrent use.
type SessionTriggerEvaluator struct {
	cfg config.SessionConfig
	loc *time.Location
}

// NewSessionTriggerEvaluator creates an evaluator over the given thresholds
func NewSessionTriggerEvaluator(cfg config.SessionConfig) *SessionTriggerEvaluator {
	return &SessionTriggerEvaluator{cfg: cfg, loc: cfg.Location()}
}

// Evaluate applies the boundary rules in priority order, first match wins:
// no active session, project switch, context limit, inactivity, calendar day change.
// lastEventTime may be nil when no prior event is known.
func (e *SessionTriggerEvaluator) Evaluate(active *models.Session, lastEventTime *time.Time, estimatedTokens int, projectID string, now time.Time) models.TriggerDecision {
	trigger := e.match(active, lastEventTime, estimatedTokens, projectID, now)
	if trigger == nil {
		return models.TriggerDecision{ShouldCreate: false}
	}

	return models.TriggerDecision{
		ShouldCreate: true,
		Trigger:      trigger,
		NewSessionID: NewSessionID(*trigger, projectID),
	}
}

func (e *SessionTriggerEvaluator) match(active *models.Session, lastEventTime *time.Time, estimatedTokens int, projectID string, now time.Time) *models.SessionTrigger {
	newTrigger := func(t models.TriggerType, reason string) *models.SessionTrigger {
		return &models.SessionTrigger{Type: t, Reason: reason, Timestamp: now}
	}

	if active == nil {
		return newTrigger(models.TriggerManual, "no active session found")
	}

	if active.ProjectID != projectID {
		return newTrigger(models.TriggerProjectSwitch,
			fmt.Sprintf("switched from project %s to %s", active.ProjectID, projectID))
	}

	if estimatedTokens > e.cfg.ContextLimitTokens {
		return newTrigger(models.TriggerContextLimit,
			fmt.Sprintf("estimated context usage %d tokens exceeds limit of %d", estimatedTokens, e.cfg.ContextLimitTokens))
	}

	if lastEventTime != nil {
		if idle := now.Sub(*lastEventTime); idle > e.cfg.InactivityTimeout {
			return newTrigger(models.TriggerInactivity,
				fmt.Sprintf("inactive for %s (limit %s)", idle.Round(time.Minute), e.cfg.InactivityTimeout))
		}
	}

	if !sameDay(active.StartTime, now, e.loc) {
		return newTrigger(models.TriggerDaily,
			fmt.Sprintf("new day %s", now.In(e.loc).Format("2006-01-02")))
	}

	return nil
}

// NewSessionID derives the session id from the trigger and project, so the same
// trigger delivered twice yields the same id.
func NewSessionID(trigger models.SessionTrigger, projectID string) string {
	name := strings.Join([]string{
		string(trigger.Type),
		trigger.Timestamp.UTC().Format(time.RFC3339Nano),
		projectID,
	}, "|")
	return uuid.NewSHA1(sessionNamespace, []byte(name)).String()
}

func sameDay(a, b time.Time, loc *time.Location) bool {
	ay, am, ad := a.In(loc).Date()
	by, bm, bd := b.In(loc).Date()
	return ay == by && am == bm && ad == bd
}
