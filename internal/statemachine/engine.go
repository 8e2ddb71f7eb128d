// Package statemachine enforces legal status changes per entity type. The
// state graph is data, not code: Incident and BOLAlert share the mechanism
// with different rule tables.
package statemachine

import (
	"log/slog"
	"time"

	"sentinelops/internal/domain"
	"sentinelops/internal/errs"
)

// Entity type names used in transition rules and audit entries.
const (
	EntityIncident = "incident"
	EntityBOLAlert = "bol_alert"
	EntityActivity = "activity"
)

// Engine evaluates status transitions against a configured rule table. It is
// stateless after construction and safe for concurrent use.
type Engine struct {
	logger *slog.Logger
	// edges indexes rules by entity type, then from-status, then to-status.
	edges map[string]map[string]map[string]domain.StatusTransitionRule
}

// New builds an engine from a rule table. Later rules for the same edge
// replace earlier ones, so custom tables can override the defaults.
func New(logger *slog.Logger, rules []domain.StatusTransitionRule) *Engine {
	e := &Engine{
		logger: logger,
		edges:  make(map[string]map[string]map[string]domain.StatusTransitionRule),
	}
	for _, rule := range rules {
		byFrom, ok := e.edges[rule.EntityType]
		if !ok {
			byFrom = make(map[string]map[string]domain.StatusTransitionRule)
			e.edges[rule.EntityType] = byFrom
		}
		byTo, ok := byFrom[rule.FromStatus]
		if !ok {
			byTo = make(map[string]domain.StatusTransitionRule)
			byFrom[rule.FromStatus] = byTo
		}
		byTo[rule.ToStatus] = rule
	}
	return e
}

// Transition validates a requested status change. currentStatus is the
// entity's persisted status at apply time; a mismatch with fromStatus is
// rejected as a conflict, which is the optimistic-concurrency guard against
// duplicate delivery. On success the returned record carries the approval
// flag from the matched rule; the engine does not model the approval
// workflow itself.
func (e *Engine) Transition(
	entityType, entityID string,
	currentStatus, fromStatus, toStatus string,
	actor domain.ActorContext,
	reason string,
	now time.Time,
) (domain.TransitionRecord, error) {
	if currentStatus != fromStatus {
		return domain.TransitionRecord{}, &errs.ConflictError{
			EntityType: entityType,
			EntityID:   entityID,
		}
	}

	rule, ok := e.lookup(entityType, fromStatus, toStatus)
	if !ok {
		return domain.TransitionRecord{}, &errs.UnauthorizedTransition{
			EntityType: entityType,
			FromStatus: fromStatus,
			ToStatus:   toStatus,
		}
	}

	if !roleAllowed(rule.RequiredRoles, actor.UserRole) {
		return domain.TransitionRecord{}, &errs.UnauthorizedTransition{
			EntityType:    entityType,
			FromStatus:    fromStatus,
			ToStatus:      toStatus,
			RequiredRoles: rule.RequiredRoles,
		}
	}

	record := domain.TransitionRecord{
		Timestamp:        now,
		FromStatus:       fromStatus,
		ToStatus:         toStatus,
		Actor:            actor.UserID,
		Reason:           reason,
		RequiresApproval: rule.RequiresApproval,
	}

	e.logger.Debug("status transition accepted",
		"entity_type", entityType,
		"entity_id", entityID,
		"from", fromStatus,
		"to", toStatus,
		"actor", actor.UserID,
		"role", actor.UserRole,
		"requires_approval", rule.RequiresApproval)

	return record, nil
}

// AllowedTransitions returns the target statuses reachable from a status for
// a given role.
func (e *Engine) AllowedTransitions(entityType, fromStatus string, role domain.Role) []string {
	byTo, ok := e.edges[entityType][fromStatus]
	if !ok {
		return nil
	}
	targets := make([]string, 0, len(byTo))
	for to, rule := range byTo {
		if roleAllowed(rule.RequiredRoles, role) {
			targets = append(targets, to)
		}
	}
	return targets
}

func (e *Engine) lookup(entityType, from, to string) (domain.StatusTransitionRule, bool) {
	byFrom, ok := e.edges[entityType]
	if !ok {
		return domain.StatusTransitionRule{}, false
	}
	byTo, ok := byFrom[from]
	if !ok {
		return domain.StatusTransitionRule{}, false
	}
	rule, ok := byTo[to]
	return rule, ok
}

func roleAllowed(required []domain.Role, role domain.Role) bool {
	if role == "" {
		return false
	}
	for _, r := range required {
		if r == role {
			return true
		}
	}
	return false
}
