package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"sentinelops/internal/audit"
	"sentinelops/internal/domain"
	"sentinelops/internal/errs"
	"sentinelops/internal/statemachine"
	"sentinelops/internal/validation"
)

// CreateBOLInput is the caller-supplied seed of a lookout alert.
type CreateBOLInput struct {
	Title                string                 `json:"title"`
	Type                 domain.BOLType         `json:"type"`
	Priority             domain.Priority        `json:"priority"`
	Description          string                 `json:"description"`
	ConfidenceThreshold  float64                `json:"confidence_threshold"`
	AutoMatchEnabled     bool                   `json:"auto_match_enabled"`
	GeographicScope      domain.GeographicScope `json:"geographic_scope"`
	PhysicalDescriptors  []string               `json:"physical_descriptors"`
	BehavioralIndicators []string               `json:"behavioral_indicators"`
	Vehicle              *domain.VehicleDetails `json:"vehicle,omitempty"`
	ExpiresAt            *time.Time             `json:"expires_at,omitempty"`
}

// UpdateBOLInput patches mutable BOL fields. Nil fields are left untouched.
type UpdateBOLInput struct {
	Title                *string                 `json:"title,omitempty"`
	Priority             *domain.Priority        `json:"priority,omitempty"`
	Description          *string                 `json:"description,omitempty"`
	ConfidenceThreshold  *float64                `json:"confidence_threshold,omitempty"`
	AutoMatchEnabled     *bool                   `json:"auto_match_enabled,omitempty"`
	GeographicScope      *domain.GeographicScope `json:"geographic_scope,omitempty"`
	PhysicalDescriptors  []string                `json:"physical_descriptors,omitempty"`
	BehavioralIndicators []string                `json:"behavioral_indicators,omitempty"`
	Reason               string                  `json:"reason,omitempty"`
}

// MatchOutcome reports one confidence evaluation and its effect.
type MatchOutcome struct {
	BOLID      string             `json:"bol_id"`
	ActivityID string             `json:"activity_id"`
	Confidence float64            `json:"confidence"`
	Matched    bool               `json:"matched"`
	Manual     bool               `json:"manual"`
	Factors    map[string]float64 `json:"factors,omitempty"`
}

// CreateBOL validates and persists a lookout alert, defaulting its expiry
// from priority when unset, then scans the trailing activity window for
// immediate matches.
func (s *Service) CreateBOL(ctx context.Context, input CreateBOLInput, actor domain.ActorContext) (*domain.BOLAlert, []MatchOutcome, error) {
	now := s.clock.Now()
	bol := &domain.BOLAlert{
		ID:                   uuid.New().String(),
		Title:                input.Title,
		Type:                 input.Type,
		Priority:             input.Priority,
		Status:               domain.BOLActive,
		Description:          input.Description,
		ConfidenceThreshold:  input.ConfidenceThreshold,
		AutoMatchEnabled:     input.AutoMatchEnabled,
		GeographicScope:      input.GeographicScope,
		PhysicalDescriptors:  input.PhysicalDescriptors,
		BehavioralIndicators: input.BehavioralIndicators,
		Vehicle:              input.Vehicle,
		CreatedBy:            actor.UserID,
		UpdatedBy:            actor.UserID,
		CreatedAt:            now,
		UpdatedAt:            now,
		Version:              1,
	}
	if bol.Priority == "" {
		bol.Priority = domain.PriorityMedium
	}
	if bol.ConfidenceThreshold == 0 {
		bol.ConfidenceThreshold = s.matcher.Threshold(bol)
	}
	if input.ExpiresAt != nil {
		bol.ExpiresAt = *input.ExpiresAt
	} else {
		bol.ExpiresAt = now.Add(domain.ExpiryByPriority(bol.Priority))
	}

	if err := s.validator.ValidateBOL(bol).Err(statemachine.EntityBOLAlert); err != nil {
		return nil, nil, err
	}
	results := s.validator.EnforceRules(bol, validation.OpBOLCreate, s.ruleContext(actor))
	if err := validation.RuleErr(validation.OpBOLCreate, results); err != nil {
		return nil, nil, err
	}

	if err := s.bols.Insert(ctx, bol); err != nil {
		return nil, nil, fmt.Errorf("failed to persist BOL alert: %w", err)
	}

	s.record(ctx, actor, domain.AuditCreate, statemachine.EntityBOLAlert, bol.ID, audit.Options{
		After:  bol,
		Reason: "BOL alert created",
	})
	s.publisher.Publish(ctx, EventBOLCreated, statemachine.EntityBOLAlert, bol.ID, bol)

	var outcomes []MatchOutcome
	if bol.AutoMatchEnabled {
		var err error
		outcomes, err = s.scanRecentActivities(ctx, bol, actor)
		if err != nil {
			// The alert itself is created; a failed retro-scan is reported
			// but does not undo it.
			s.logger.Error("retro-scan after BOL creation failed", "bol_id", bol.ID, "error", err)
		}
	}

	s.logger.Info("BOL alert created",
		"bol_id", bol.ID,
		"type", bol.Type,
		"priority", bol.Priority,
		"expires_at", bol.ExpiresAt,
		"retro_matches", len(outcomes))
	return bol, outcomes, nil
}

// scanRecentActivities scores a fresh alert against the trailing activity
// window and records any matches.
func (s *Service) scanRecentActivities(ctx context.Context, bol *domain.BOLAlert, actor domain.ActorContext) ([]MatchOutcome, error) {
	now := s.clock.Now()
	recent, err := s.activities.RecentSince(ctx, now.Add(-s.cfg.ScanWindow))
	if err != nil {
		return nil, fmt.Errorf("failed to load recent activities: %w", err)
	}
	var outcomes []MatchOutcome
	for _, activity := range recent {
		outcome, err := s.evaluateMatch(ctx, bol, activity, actor, false)
		if err != nil {
			s.logger.Error("retro-scan match failed",
				"bol_id", bol.ID,
				"activity_id", activity.ID,
				"error", err)
			continue
		}
		if outcome.Matched {
			outcomes = append(outcomes, outcome)
		}
	}
	return outcomes, nil
}

// UpdateBOL applies a patch to an open BOL alert.
func (s *Service) UpdateBOL(ctx context.Context, id string, patch UpdateBOLInput, actor domain.ActorContext) (*domain.BOLAlert, error) {
	bol, err := s.bols.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if bol.Terminal() {
		return nil, &errs.BusinessRuleViolation{
			Operation: validation.OpBOLUpdate,
			Failures:  []string{fmt.Sprintf("bol_open: %s alerts are read-only", bol.Status)},
		}
	}
	before := *bol

	var changes []domain.FieldChange
	if patch.Title != nil && *patch.Title != bol.Title {
		changes = append(changes, domain.FieldChange{Field: "title", From: bol.Title, To: *patch.Title})
		bol.Title = *patch.Title
	}
	if patch.Priority != nil && *patch.Priority != bol.Priority {
		changes = append(changes, domain.FieldChange{Field: "priority", From: bol.Priority, To: *patch.Priority})
		bol.Priority = *patch.Priority
	}
	if patch.Description != nil && *patch.Description != bol.Description {
		changes = append(changes, domain.FieldChange{Field: "description", From: bol.Description, To: *patch.Description})
		bol.Description = *patch.Description
	}
	if patch.ConfidenceThreshold != nil && *patch.ConfidenceThreshold != bol.ConfidenceThreshold {
		changes = append(changes, domain.FieldChange{Field: "confidence_threshold", From: bol.ConfidenceThreshold, To: *patch.ConfidenceThreshold})
		bol.ConfidenceThreshold = *patch.ConfidenceThreshold
	}
	if patch.AutoMatchEnabled != nil && *patch.AutoMatchEnabled != bol.AutoMatchEnabled {
		changes = append(changes, domain.FieldChange{Field: "auto_match_enabled", From: bol.AutoMatchEnabled, To: *patch.AutoMatchEnabled})
		bol.AutoMatchEnabled = *patch.AutoMatchEnabled
	}
	if patch.GeographicScope != nil {
		changes = append(changes, domain.FieldChange{Field: "geographic_scope", From: bol.GeographicScope, To: *patch.GeographicScope})
		bol.GeographicScope = *patch.GeographicScope
	}
	if patch.PhysicalDescriptors != nil {
		changes = append(changes, domain.FieldChange{Field: "physical_descriptors", From: bol.PhysicalDescriptors, To: patch.PhysicalDescriptors})
		bol.PhysicalDescriptors = patch.PhysicalDescriptors
	}
	if patch.BehavioralIndicators != nil {
		changes = append(changes, domain.FieldChange{Field: "behavioral_indicators", From: bol.BehavioralIndicators, To: patch.BehavioralIndicators})
		bol.BehavioralIndicators = patch.BehavioralIndicators
	}
	if len(changes) == 0 {
		return bol, nil
	}

	if err := s.validator.ValidateBOL(bol).Err(statemachine.EntityBOLAlert); err != nil {
		return nil, err
	}
	results := s.validator.EnforceRules(bol, validation.OpBOLUpdate, s.ruleContext(actor))
	if err := validation.RuleErr(validation.OpBOLUpdate, results); err != nil {
		return nil, err
	}

	bol.UpdatedBy = actor.UserID
	bol.UpdatedAt = s.clock.Now()
	if err := s.bols.Save(ctx, bol); err != nil {
		return nil, err
	}

	s.record(ctx, actor, domain.AuditUpdate, statemachine.EntityBOLAlert, bol.ID, audit.Options{
		Reason:  patch.Reason,
		Before:  before,
		After:   bol,
		Changes: changes,
	})
	s.publisher.Publish(ctx, EventBOLUpdated, statemachine.EntityBOLAlert, bol.ID, bol)

	return bol, nil
}

// MatchActivity evaluates one BOL/activity pair. Manual matches bypass
// scoring and always record confidence 1.0. Every evaluation that clears the
// threshold appends a MatchRecord — repeated calls grow the history by
// design — and the first match moves the alert active→matched.
func (s *Service) MatchActivity(ctx context.Context, bolID, activityID string, actor domain.ActorContext, manual bool) (MatchOutcome, error) {
	bol, err := s.bols.Get(ctx, bolID)
	if err != nil {
		return MatchOutcome{}, err
	}
	activity, err := s.activities.Get(ctx, activityID)
	if err != nil {
		return MatchOutcome{}, err
	}
	results := s.validator.EnforceRules(bol, validation.OpBOLMatch, s.ruleContext(actor))
	if err := validation.RuleErr(validation.OpBOLMatch, results); err != nil {
		return MatchOutcome{}, err
	}
	return s.evaluateMatch(ctx, bol, activity, actor, manual)
}

// evaluateMatch scores, records and (on first match) transitions the alert.
func (s *Service) evaluateMatch(ctx context.Context, bol *domain.BOLAlert, activity *domain.Activity, actor domain.ActorContext, manual bool) (MatchOutcome, error) {
	now := s.clock.Now()
	outcome := MatchOutcome{BOLID: bol.ID, ActivityID: activity.ID, Manual: manual}

	if manual {
		outcome.Confidence = 1.0
		outcome.Matched = true
	} else {
		score, matched := s.matcher.IsMatch(bol, activity, now)
		outcome.Confidence = score.Confidence
		outcome.Matched = matched
		outcome.Factors = score.Factors
	}
	mode := "auto"
	if manual {
		mode = "manual"
	}
	s.collector.RecordMatchEvaluation(outcome.Confidence, outcome.Matched, mode)
	if !outcome.Matched {
		s.logger.Debug("activity below match threshold",
			"bol_id", bol.ID,
			"activity_id", activity.ID,
			"confidence", outcome.Confidence,
			"threshold", s.matcher.Threshold(bol))
		return outcome, nil
	}

	bol.MatchHistory = append(bol.MatchHistory, domain.MatchRecord{
		ActivityID: activity.ID,
		Confidence: outcome.Confidence,
		Manual:     manual,
		MatchedBy:  actor.UserID,
		Timestamp:  now,
	})
	bol.UpdatedBy = actor.UserID
	bol.UpdatedAt = now

	if bol.Status == domain.BOLActive {
		if _, err := s.transitions.Transition(
			statemachine.EntityBOLAlert, bol.ID,
			string(bol.Status), string(domain.BOLActive), string(domain.BOLMatched),
			actor, fmt.Sprintf("matched activity %s", activity.ID), now,
		); err != nil {
			s.collector.RecordTransitionRejected(statemachine.EntityBOLAlert, transitionRejectCause(err))
			return outcome, err
		}
		bol.Status = domain.BOLMatched
		s.collector.RecordTransition(statemachine.EntityBOLAlert, string(domain.BOLActive), string(domain.BOLMatched))
	}

	if err := s.bols.Save(ctx, bol); err != nil {
		return outcome, err
	}

	s.record(ctx, actor, domain.AuditMatch, statemachine.EntityBOLAlert, bol.ID, audit.Options{
		Reason: fmt.Sprintf("matched activity %s with confidence %.2f", activity.ID, outcome.Confidence),
		After:  bol,
		Changes: []domain.FieldChange{
			{Field: "match_history", To: activity.ID},
			{Field: "status", From: domain.BOLActive, To: bol.Status},
		},
	})
	s.publisher.Publish(ctx, EventBOLMatched, statemachine.EntityBOLAlert, bol.ID, outcome)

	s.logger.Info("BOL matched",
		"bol_id", bol.ID,
		"activity_id", activity.ID,
		"confidence", outcome.Confidence,
		"manual", manual)
	return outcome, nil
}

// ExpireBOL transitions an alert to expired via the state machine.
func (s *Service) ExpireBOL(ctx context.Context, id string, actor domain.ActorContext) (*domain.BOLAlert, error) {
	bol, err := s.bols.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.applyBOLTransition(ctx, bol, bol.Status, domain.BOLExpired, actor, "lookout window elapsed")
}

// DeleteBOL soft-deletes an alert by transitioning it to cancelled. The
// entity remains loadable afterwards.
func (s *Service) DeleteBOL(ctx context.Context, id string, actor domain.ActorContext, reason string) (*domain.BOLAlert, error) {
	bol, err := s.bols.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if bol.Status == domain.BOLCancelled {
		return bol, nil
	}
	if reason == "" {
		reason = "BOL alert cancelled"
	}
	return s.applyBOLTransition(ctx, bol, bol.Status, domain.BOLCancelled, actor, reason)
}

// TransitionBOLStatus moves an alert through the status state machine.
func (s *Service) TransitionBOLStatus(ctx context.Context, id string, newStatus domain.BOLStatus, actor domain.ActorContext, reason string) (*domain.BOLAlert, error) {
	bol, err := s.bols.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.applyBOLTransition(ctx, bol, bol.Status, newStatus, actor, reason)
}

func (s *Service) applyBOLTransition(
	ctx context.Context,
	bol *domain.BOLAlert,
	from, to domain.BOLStatus,
	actor domain.ActorContext,
	reason string,
) (*domain.BOLAlert, error) {
	now := s.clock.Now()
	record, err := s.transitions.Transition(
		statemachine.EntityBOLAlert, bol.ID,
		string(bol.Status), string(from), string(to),
		actor, reason, now,
	)
	if err != nil {
		s.collector.RecordTransitionRejected(statemachine.EntityBOLAlert, transitionRejectCause(err))
		return nil, err
	}

	before := *bol
	bol.Status = to
	bol.UpdatedBy = actor.UserID
	bol.UpdatedAt = now

	if err := s.bols.Save(ctx, bol); err != nil {
		return nil, err
	}

	s.collector.RecordTransition(statemachine.EntityBOLAlert, string(from), string(to))
	action := domain.AuditStatusChange
	event := EventBOLUpdated
	if to == domain.BOLExpired {
		action = domain.AuditExpire
		event = EventBOLExpired
	}
	s.record(ctx, actor, action, statemachine.EntityBOLAlert, bol.ID, audit.Options{
		Reason:  reason,
		Before:  before,
		After:   bol,
		Changes: []domain.FieldChange{{Field: "status", From: from, To: to}},
	})
	s.publisher.Publish(ctx, event, statemachine.EntityBOLAlert, bol.ID, map[string]any{
		"bol":               bol,
		"requires_approval": record.RequiresApproval,
	})

	return bol, nil
}

// SweepExpiredBOLs expires every active alert whose lookout window has
// elapsed. It runs under the system actor and returns the expired set.
func (s *Service) SweepExpiredBOLs(ctx context.Context, now time.Time) ([]*domain.BOLAlert, error) {
	overdue, err := s.bols.ExpiredActive(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("failed to query expired BOL alerts: %w", err)
	}
	expired := make([]*domain.BOLAlert, 0, len(overdue))
	for _, bol := range overdue {
		updated, err := s.applyBOLTransition(ctx, bol, domain.BOLActive, domain.BOLExpired, SystemActor, "lookout window elapsed")
		if err != nil {
			// A concurrent sweeper got there first; skip, do not overwrite.
			if errs.IsConflict(err) {
				continue
			}
			s.logger.Error("BOL expiry failed", "bol_id", bol.ID, "error", err)
			continue
		}
		expired = append(expired, updated)
	}
	return expired, nil
}
