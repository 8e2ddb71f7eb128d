package lifecycle

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"sentinelops/internal/audit"
	"sentinelops/internal/domain"
	"sentinelops/internal/errs"
	"sentinelops/internal/statemachine"
	"sentinelops/internal/validation"
)

// CreateIncidentInput is the caller-supplied seed of a manual incident.
type CreateIncidentInput struct {
	Title       string              `json:"title"`
	Type        domain.IncidentType `json:"type"`
	Priority    domain.Priority     `json:"priority"`
	Description string              `json:"description"`
	Assignee    string              `json:"assignee"`
	Location    domain.Location     `json:"location"`
	ActivityIDs []string            `json:"activity_ids"`
	Dismissible bool                `json:"dismissible"`
}

// UpdateIncidentInput patches mutable incident fields. Nil fields are left
// untouched.
type UpdateIncidentInput struct {
	Title       *string          `json:"title,omitempty"`
	Priority    *domain.Priority `json:"priority,omitempty"`
	Description *string          `json:"description,omitempty"`
	Assignee    *string          `json:"assignee,omitempty"`
	Reason      string           `json:"reason,omitempty"`
}

// CreateIncident validates and persists a manually created incident,
// schedules its escalation, audits the creation and publishes the event.
func (s *Service) CreateIncident(ctx context.Context, input CreateIncidentInput, actor domain.ActorContext) (*domain.Incident, error) {
	now := s.clock.Now()
	incident := &domain.Incident{
		ID:          uuid.New().String(),
		Title:       input.Title,
		Type:        input.Type,
		Priority:    input.Priority,
		Status:      domain.IncidentPending,
		Description: input.Description,
		Assignee:    input.Assignee,
		Location:    input.Location,
		ActivityIDs: input.ActivityIDs,
		Dismissible: input.Dismissible,
		CreatedBy:   actor.UserID,
		UpdatedBy:   actor.UserID,
		CreatedAt:   now,
		UpdatedAt:   now,
		Version:     1,
	}
	if incident.Type == "" {
		incident.Type = domain.IncidentGeneral
	}
	if incident.Priority == "" {
		incident.Priority = domain.PriorityMedium
	}

	if err := s.validator.ValidateIncident(incident).Err(statemachine.EntityIncident); err != nil {
		return nil, err
	}
	results := s.validator.EnforceRules(incident, validation.OpIncidentCreate, s.ruleContext(actor))
	if err := validation.RuleErr(validation.OpIncidentCreate, results); err != nil {
		return nil, err
	}

	s.escalator.Apply(incident, now)

	if err := s.incidents.Insert(ctx, incident); err != nil {
		return nil, fmt.Errorf("failed to persist incident: %w", err)
	}

	s.collector.RecordIncidentCreated(string(incident.Type), string(incident.Priority), "manual")
	s.record(ctx, actor, domain.AuditCreate, statemachine.EntityIncident, incident.ID, audit.Options{
		After:    incident,
		Location: &incident.Location,
		Reason:   "incident created",
	})
	s.publisher.Publish(ctx, EventIncidentCreated, statemachine.EntityIncident, incident.ID, incident)

	s.logger.Info("incident created",
		"incident_id", incident.ID,
		"type", incident.Type,
		"priority", incident.Priority,
		"auto_created", incident.AutoCreated)
	return incident, nil
}

// UpdateIncident applies a patch to an incident, revalidates it, reschedules
// escalation and records the field-level changes.
func (s *Service) UpdateIncident(ctx context.Context, id string, patch UpdateIncidentInput, actor domain.ActorContext) (*domain.Incident, error) {
	incident, err := s.incidents.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	before := *incident

	var changes []domain.FieldChange
	if patch.Title != nil && *patch.Title != incident.Title {
		changes = append(changes, domain.FieldChange{Field: "title", From: incident.Title, To: *patch.Title})
		incident.Title = *patch.Title
	}
	if patch.Priority != nil && *patch.Priority != incident.Priority {
		changes = append(changes, domain.FieldChange{Field: "priority", From: incident.Priority, To: *patch.Priority})
		incident.Priority = *patch.Priority
	}
	if patch.Description != nil && *patch.Description != incident.Description {
		changes = append(changes, domain.FieldChange{Field: "description", From: incident.Description, To: *patch.Description})
		incident.Description = *patch.Description
	}
	if patch.Assignee != nil && *patch.Assignee != incident.Assignee {
		changes = append(changes, domain.FieldChange{Field: "assignee", From: incident.Assignee, To: *patch.Assignee})
		incident.Assignee = *patch.Assignee
	}
	if len(changes) == 0 {
		return incident, nil
	}

	if err := s.validator.ValidateIncident(incident).Err(statemachine.EntityIncident); err != nil {
		return nil, err
	}
	results := s.validator.EnforceRules(incident, validation.OpIncidentUpdate, s.ruleContext(actor))
	if err := validation.RuleErr(validation.OpIncidentUpdate, results); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	s.escalator.Apply(incident, now)
	incident.UpdatedBy = actor.UserID
	incident.UpdatedAt = now

	if err := s.incidents.Save(ctx, incident); err != nil {
		return nil, err
	}

	s.record(ctx, actor, domain.AuditUpdate, statemachine.EntityIncident, incident.ID, audit.Options{
		Reason:  patch.Reason,
		Before:  before,
		After:   incident,
		Changes: changes,
	})
	s.publisher.Publish(ctx, EventIncidentUpdated, statemachine.EntityIncident, incident.ID, incident)

	return incident, nil
}

// TransitionIncidentStatus moves an incident through the status state
// machine, gated by the caller's role. Transitions the rule table flags as
// requiring approval are applied with the approval flag carried in the
// history record, the audit entry and the published event.
func (s *Service) TransitionIncidentStatus(
	ctx context.Context,
	id string,
	newStatus domain.IncidentStatus,
	actor domain.ActorContext,
	reason string,
) (*domain.Incident, error) {
	incident, err := s.incidents.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.applyIncidentTransition(ctx, incident, incident.Status, newStatus, actor, reason)
}

// applyIncidentTransition runs the transition engine with an explicit
// expected from-status, appends the history record and persists.
func (s *Service) applyIncidentTransition(
	ctx context.Context,
	incident *domain.Incident,
	from, to domain.IncidentStatus,
	actor domain.ActorContext,
	reason string,
) (*domain.Incident, error) {
	now := s.clock.Now()
	record, err := s.transitions.Transition(
		statemachine.EntityIncident, incident.ID,
		string(incident.Status), string(from), string(to),
		actor, reason, now,
	)
	if err != nil {
		s.collector.RecordTransitionRejected(statemachine.EntityIncident, transitionRejectCause(err))
		return nil, err
	}

	before := *incident
	incident.Status = to
	incident.EscalationHistory = append(incident.EscalationHistory, record)
	incident.UpdatedBy = actor.UserID
	incident.UpdatedAt = now
	s.escalator.Apply(incident, now)

	if err := s.incidents.Save(ctx, incident); err != nil {
		return nil, err
	}

	s.collector.RecordTransition(statemachine.EntityIncident, string(from), string(to))
	s.record(ctx, actor, domain.AuditStatusChange, statemachine.EntityIncident, incident.ID, audit.Options{
		Reason:  reason,
		Before:  before,
		After:   incident,
		Changes: []domain.FieldChange{{Field: "status", From: from, To: to}},
	})
	s.publisher.Publish(ctx, EventIncidentUpdated, statemachine.EntityIncident, incident.ID, map[string]any{
		"incident":          incident,
		"requires_approval": record.RequiresApproval,
	})

	return incident, nil
}

// LinkActivity attaches an activity to an incident with the given context
// role. Both sides of the link are persisted.
func (s *Service) LinkActivity(ctx context.Context, incidentID, activityID string, role domain.ContextRole, actor domain.ActorContext) (*domain.Incident, error) {
	incident, err := s.incidents.Get(ctx, incidentID)
	if err != nil {
		return nil, err
	}
	activity, err := s.activities.Get(ctx, activityID)
	if err != nil {
		return nil, err
	}
	if role == "" {
		role = domain.ContextRelated
	}

	results := s.validator.EnforceRules(activity, validation.OpIncidentLink, s.ruleContext(actor))
	if err := validation.RuleErr(validation.OpIncidentLink, results); err != nil {
		return nil, err
	}

	for _, linked := range incident.ActivityIDs {
		if linked == activityID {
			return incident, nil
		}
	}

	now := s.clock.Now()
	incident.ActivityIDs = append(incident.ActivityIDs, activityID)
	incident.UpdatedBy = actor.UserID
	incident.UpdatedAt = now
	activity.IncidentContexts = append(activity.IncidentContexts, domain.IncidentContext{
		IncidentID: incidentID,
		Role:       role,
	})
	activity.UpdatedAt = now

	if err := s.incidents.Save(ctx, incident); err != nil {
		return nil, err
	}
	if err := s.activities.Save(ctx, activity); err != nil {
		return nil, err
	}

	s.record(ctx, actor, domain.AuditLink, statemachine.EntityIncident, incident.ID, audit.Options{
		Reason:  fmt.Sprintf("linked activity %s as %s", activityID, role),
		Changes: []domain.FieldChange{{Field: "activity_ids", To: activityID}},
	})
	s.publisher.Publish(ctx, EventIncidentUpdated, statemachine.EntityIncident, incident.ID, incident)

	return incident, nil
}

// Escalate elevates an incident to a target role, reschedules the next
// escalation window and records the action.
func (s *Service) Escalate(ctx context.Context, id string, targetRole domain.Role, reason string, actor domain.ActorContext) (*domain.Incident, error) {
	incident, err := s.incidents.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if incident.Terminal() || incident.Status == domain.IncidentResolved {
		return nil, &errs.BusinessRuleViolation{
			Operation: validation.OpIncidentEscalate,
			Failures:  []string{"incident_open: resolved or closed incidents cannot be escalated"},
		}
	}
	results := s.validator.EnforceRules(incident, validation.OpIncidentEscalate, s.ruleContext(actor))
	if err := validation.RuleErr(validation.OpIncidentEscalate, results); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	before := *incident
	incident.EscalationTarget = targetRole
	// Rescheduling from now keeps a stuck incident re-surfacing instead of
	// being escalated once and forgotten.
	due, _, ok := s.escalator.Plan(incident, now)
	if ok {
		incident.EscalationTime = &due
	}
	incident.EscalationHistory = append(incident.EscalationHistory, domain.TransitionRecord{
		Timestamp:  now,
		FromStatus: string(incident.Status),
		ToStatus:   string(incident.Status),
		Actor:      actor.UserID,
		Reason:     fmt.Sprintf("escalated to %s: %s", targetRole, reason),
	})
	incident.UpdatedBy = actor.UserID
	incident.UpdatedAt = now

	if err := s.incidents.Save(ctx, incident); err != nil {
		return nil, err
	}

	s.collector.RecordEscalation()
	s.record(ctx, actor, domain.AuditEscalate, statemachine.EntityIncident, incident.ID, audit.Options{
		Reason: reason,
		Before: before,
		After:  incident,
		Changes: []domain.FieldChange{
			{Field: "escalation_target", From: before.EscalationTarget, To: targetRole},
		},
	})
	s.publisher.Publish(ctx, EventIncidentEscalated, statemachine.EntityIncident, incident.ID, map[string]any{
		"incident": incident,
		"target":   targetRole,
		"reason":   reason,
	})

	s.logger.Info("incident escalated",
		"incident_id", incident.ID,
		"target", targetRole,
		"actor", actor.UserID)
	return incident, nil
}

// DeleteIncident soft-deletes an incident by transitioning it to closed.
// The entity remains loadable afterwards; there is no hard delete.
func (s *Service) DeleteIncident(ctx context.Context, id string, actor domain.ActorContext, reason string) (*domain.Incident, error) {
	incident, err := s.incidents.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if incident.Status == domain.IncidentClosed {
		return incident, nil
	}
	if reason == "" {
		reason = "incident closed"
	}
	return s.applyIncidentTransition(ctx, incident, incident.Status, domain.IncidentClosed, actor, reason)
}
