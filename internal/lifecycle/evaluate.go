package lifecycle

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"sentinelops/internal/audit"
	"sentinelops/internal/autorule"
	"sentinelops/internal/domain"
	"sentinelops/internal/errs"
	"sentinelops/internal/statemachine"
)

// Evaluation is the set of side effects EvaluateActivity took for one
// incoming activity.
type Evaluation struct {
	ActivityID      string           `json:"activity_id"`
	IncidentCreated *domain.Incident `json:"incident_created,omitempty"`
	RuleFired       bool             `json:"rule_fired"`
	BOLsScanned     int              `json:"bols_scanned"`
	Matches         []MatchOutcome   `json:"matches,omitempty"`
}

// EvaluateActivity triages one incoming activity: it runs the auto-incident
// rules, then scores the activity against every active, unexpired,
// auto-match-enabled BOL alert. The activity is persisted first if the store
// does not know it yet (duplicate delivery of the same activity is safe:
// matching appends history and duplicate status transitions are rejected by
// the transition engine's precondition).
func (s *Service) EvaluateActivity(ctx context.Context, activity *domain.Activity, actor domain.ActorContext) (*Evaluation, error) {
	if result := s.validator.ValidateActivity(activity); !result.IsValid {
		return nil, result.Err(statemachine.EntityActivity)
	}

	now := s.clock.Now()
	stored, err := s.activities.Get(ctx, activity.ID)
	switch {
	case err == nil:
		activity = stored
	case errs.IsNotFound(err):
		if activity.Status == "" {
			activity.Status = domain.ActivityStatusReported
		}
		if activity.CreatedAt.IsZero() {
			activity.CreatedAt = now
		}
		activity.UpdatedAt = now
		if activity.Version == 0 {
			activity.Version = 1
		}
		if err := s.activities.Insert(ctx, activity); err != nil {
			return nil, fmt.Errorf("failed to persist activity: %w", err)
		}
		s.record(ctx, actor, domain.AuditCreate, statemachine.EntityActivity, activity.ID, audit.Options{
			After:    activity,
			Location: &activity.Location,
			Reason:   "activity ingested",
		})
	default:
		return nil, err
	}

	evaluation := &Evaluation{ActivityID: activity.ID}

	// Auto-incident rules.
	seed, err := s.rules.Evaluate(activity)
	if err != nil {
		return nil, fmt.Errorf("auto-creation evaluation failed: %w", err)
	}
	if seed != nil {
		evaluation.RuleFired = true
		incident, err := s.createIncidentFromSeed(ctx, seed, activity, actor)
		if err != nil {
			return nil, err
		}
		evaluation.IncidentCreated = incident
	}

	// BOL scanning, independent of the auto-incident decision.
	bols, err := s.bols.ActiveAutoMatch(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("failed to load active BOL alerts: %w", err)
	}
	evaluation.BOLsScanned = len(bols)
	for _, bol := range bols {
		outcome, err := s.evaluateMatch(ctx, bol, activity, actor, false)
		if err != nil {
			// A conflict here means another evaluator matched the alert
			// first; the match history still grew, so keep going.
			if errs.IsConflict(err) {
				continue
			}
			s.logger.Error("BOL scan failed",
				"bol_id", bol.ID,
				"activity_id", activity.ID,
				"error", err)
			continue
		}
		if outcome.Matched {
			evaluation.Matches = append(evaluation.Matches, outcome)
		}
	}

	s.collector.RecordActivityEvaluated()
	s.publisher.Publish(ctx, EventActivityEvaluated, statemachine.EntityActivity, activity.ID, evaluation)

	s.logger.Info("activity evaluated",
		"activity_id", activity.ID,
		"type", activity.Type,
		"rule_fired", evaluation.RuleFired,
		"bols_scanned", evaluation.BOLsScanned,
		"matches", len(evaluation.Matches))
	return evaluation, nil
}

// createIncidentFromSeed persists an auto-created incident and links the
// triggering activity on both sides. Seeds flagged to skip validation bypass
// the entity validator but never the escalation schedule or the audit trail.
func (s *Service) createIncidentFromSeed(ctx context.Context, seed *autorule.Seed, activity *domain.Activity, actor domain.ActorContext) (*domain.Incident, error) {
	now := s.clock.Now()
	incident := &domain.Incident{
		ID:                 uuid.New().String(),
		Title:              seed.Title,
		Type:               seed.Type,
		Priority:           seed.Priority,
		Status:             domain.IncidentPending,
		Description:        seed.Description,
		Location:           seed.Location,
		ActivityIDs:        []string{seed.TriggerActivityID},
		AutoCreated:        true,
		RequiresValidation: seed.RequiresValidation,
		Dismissible:        seed.Dismissible,
		CreatedBy:          actor.UserID,
		UpdatedBy:          actor.UserID,
		CreatedAt:          now,
		UpdatedAt:          now,
		Version:            1,
	}

	if seed.RequiresValidation {
		if err := s.validator.ValidateIncident(incident).Err(statemachine.EntityIncident); err != nil {
			return nil, err
		}
	}

	s.escalator.Apply(incident, now)

	if err := s.incidents.Insert(ctx, incident); err != nil {
		return nil, fmt.Errorf("failed to persist auto-created incident: %w", err)
	}

	activity.IncidentContexts = append(activity.IncidentContexts, domain.IncidentContext{
		IncidentID: incident.ID,
		Role:       domain.ContextTrigger,
	})
	activity.UpdatedAt = now
	if err := s.activities.Save(ctx, activity); err != nil {
		s.logger.Error("failed to back-link triggering activity",
			"incident_id", incident.ID,
			"activity_id", activity.ID,
			"error", err)
	}

	s.collector.RecordRuleFire(seed.RuleID)
	s.collector.RecordIncidentCreated(string(incident.Type), string(incident.Priority), "auto")
	s.record(ctx, actor, domain.AuditCreate, statemachine.EntityIncident, incident.ID, audit.Options{
		After:    incident,
		Location: &incident.Location,
		Reason:   fmt.Sprintf("auto-created from activity %s", activity.ID),
		Source:   "auto-rule",
	})
	s.publisher.Publish(ctx, EventIncidentCreated, statemachine.EntityIncident, incident.ID, incident)

	s.logger.Info("incident auto-created",
		"incident_id", incident.ID,
		"activity_id", activity.ID,
		"type", incident.Type,
		"priority", incident.Priority)
	return incident, nil
}
