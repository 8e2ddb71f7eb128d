package validation

import (
	"fmt"
	"time"

	"sentinelops/internal/domain"
	"sentinelops/internal/errs"
)

// Operations with declared business rules.
const (
	OpIncidentCreate     = "incident.create"
	OpIncidentUpdate     = "incident.update"
	OpIncidentEscalate   = "incident.escalate"
	OpIncidentLink       = "incident.link"
	OpBOLCreate          = "bol.create"
	OpBOLUpdate          = "bol.update"
	OpBOLMatch           = "bol.match"
	OpActivityUpdate     = "activity.update"
)

// BusinessRuleResult is the outcome of one rule check with a human-readable
// message. Callers abort the operation when any result has Passed=false.
type BusinessRuleResult struct {
	Rule    string `json:"rule"`
	Passed  bool   `json:"passed"`
	Message string `json:"message"`
}

// RuleContext carries the ambient inputs business rules may consult.
type RuleContext struct {
	Actor domain.ActorContext
	Now   time.Time
	// ArchiveAge is how old an activity may be before it becomes read-only.
	ArchiveAge time.Duration
}

// EnforceRules runs the operation-specific rule checks for an entity and
// returns every result, pass or fail.
func (v *Validator) EnforceRules(entity any, operation string, rctx RuleContext) []BusinessRuleResult {
	var results []BusinessRuleResult
	pass := func(rule, msg string) {
		results = append(results, BusinessRuleResult{Rule: rule, Passed: true, Message: msg})
	}
	fail := func(rule, msg string) {
		results = append(results, BusinessRuleResult{Rule: rule, Passed: false, Message: msg})
	}

	switch operation {
	case OpIncidentCreate, OpIncidentUpdate:
		incident, ok := entity.(*domain.Incident)
		if !ok {
			fail("entity_type", fmt.Sprintf("%s requires an incident, got %T", operation, entity))
			return results
		}
		if incident.Priority == domain.PriorityCritical && incident.Assignee == "" && operation == OpIncidentUpdate {
			fail("critical_requires_assignee", "critical incidents must carry an assignee")
		} else {
			pass("critical_requires_assignee", "assignee requirement satisfied")
		}
		if incident.RequiresValidation && rctx.Actor.UserRole == domain.RoleOfficer && operation == OpIncidentUpdate {
			fail("validation_pending", "incident awaiting validation can only be updated by supervisor or admin")
		} else {
			pass("validation_pending", "no pending validation gate")
		}

	case OpIncidentEscalate:
		if _, ok := entity.(*domain.Incident); !ok {
			fail("entity_type", fmt.Sprintf("%s requires an incident, got %T", operation, entity))
			return results
		}
		if rctx.Actor.UserRole == "" {
			fail("actor_role_present", "escalation requires an authenticated role")
		} else {
			pass("actor_role_present", "caller role present")
		}

	case OpIncidentLink:
		activity, ok := entity.(*domain.Activity)
		if !ok {
			fail("entity_type", fmt.Sprintf("%s requires an activity, got %T", operation, entity))
			return results
		}
		if activity.Status == domain.ActivityStatusArchived {
			fail("activity_not_archived", "archived activities cannot be linked to incidents")
		} else {
			pass("activity_not_archived", "activity is linkable")
		}

	case OpBOLCreate, OpBOLUpdate:
		bol, ok := entity.(*domain.BOLAlert)
		if !ok {
			fail("entity_type", fmt.Sprintf("%s requires a BOL alert, got %T", operation, entity))
			return results
		}
		if !bol.ExpiresAt.IsZero() && !bol.ExpiresAt.After(rctx.Now) {
			fail("expiry_in_future", "a BOL alert cannot expire in the past")
		} else {
			pass("expiry_in_future", "expiry window acceptable")
		}
		if bol.Type == domain.BOLVehicle && (bol.Vehicle == nil || (bol.Vehicle.LicensePlate == "" && bol.Vehicle.Color == "" && bol.Vehicle.Make == "")) {
			fail("vehicle_details_present", "vehicle lookouts must describe the vehicle")
		} else {
			pass("vehicle_details_present", "vehicle details requirement satisfied")
		}

	case OpBOLMatch:
		bol, ok := entity.(*domain.BOLAlert)
		if !ok {
			fail("entity_type", fmt.Sprintf("%s requires a BOL alert, got %T", operation, entity))
			return results
		}
		if bol.Terminal() {
			fail("bol_open", fmt.Sprintf("cannot match against a %s alert", bol.Status))
		} else {
			pass("bol_open", "alert is open for matching")
		}
		if !bol.ExpiresAt.IsZero() && bol.ExpiresAt.Before(rctx.Now) {
			fail("bol_not_expired", "alert is past its expiry and awaiting the expiry sweep")
		} else {
			pass("bol_not_expired", "alert is inside its lookout window")
		}

	case OpActivityUpdate:
		activity, ok := entity.(*domain.Activity)
		if !ok {
			fail("entity_type", fmt.Sprintf("%s requires an activity, got %T", operation, entity))
			return results
		}
		age := rctx.ArchiveAge
		if age <= 0 {
			age = 30 * 24 * time.Hour
		}
		if activity.Status == domain.ActivityStatusArchived || rctx.Now.Sub(activity.CreatedAt) > age {
			fail("activity_mutable", "activities are read-only 30 days after creation")
		} else {
			pass("activity_mutable", "activity is still mutable")
		}
	}

	return results
}

// RuleFailures filters results down to the failed ones.
func RuleFailures(results []BusinessRuleResult) []string {
	var failures []string
	for _, r := range results {
		if !r.Passed {
			failures = append(failures, fmt.Sprintf("%s: %s", r.Rule, r.Message))
		}
	}
	return failures
}

// RuleErr converts failed results into the caller-facing error, or nil when
// every rule passed.
func RuleErr(operation string, results []BusinessRuleResult) error {
	failures := RuleFailures(results)
	if len(failures) == 0 {
		return nil
	}
	return &errs.BusinessRuleViolation{Operation: operation, Failures: failures}
}
