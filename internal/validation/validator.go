// Package validation holds the shared entity validator and the declarative
// business-rule evaluator. Both are pure functions over the candidate entity
// and ambient configuration; neither mutates its input.
package validation

import (
	"fmt"

	"github.com/go-playground/validator/v10"

	"sentinelops/internal/domain"
	"sentinelops/internal/errs"
)

// Result is the outcome of validating one entity. Every violation is
// reported, not just the first.
type Result struct {
	IsValid bool
	Errors  []string
}

// Validator checks required fields, enum membership and string-length bounds
// per entity type.
type Validator struct {
	validate *validator.Validate
}

// New creates a validator.
func New() *Validator {
	return &Validator{validate: validator.New()}
}

// Validate dispatches on entity type. Unknown types fail closed.
func (v *Validator) Validate(entity any) Result {
	switch e := entity.(type) {
	case *domain.Activity:
		return v.ValidateActivity(e)
	case *domain.Incident:
		return v.ValidateIncident(e)
	case *domain.BOLAlert:
		return v.ValidateBOL(e)
	default:
		return Result{Errors: []string{fmt.Sprintf("no validator registered for %T", entity)}}
	}
}

// ValidateActivity checks an activity's required fields and enums.
func (v *Validator) ValidateActivity(a *domain.Activity) Result {
	var errors []string
	// Activity IDs come from upstream reporters and are opaque here.
	v.check(&errors, "id", a.ID, "required")
	v.check(&errors, "type", string(a.Type), "required")
	v.check(&errors, "description", a.Description, "required,max=4000")
	v.check(&errors, "location.site", a.Location.Site, "required,max=200")
	if !enumMember(a.Type, domain.ActivityTypes) {
		errors = append(errors, fmt.Sprintf("type: %q is not a known activity type", a.Type))
	}
	if a.Priority != "" && !enumMember(a.Priority, domain.Priorities) {
		errors = append(errors, fmt.Sprintf("priority: %q is not a known priority", a.Priority))
	}
	if a.Confidence != nil && (*a.Confidence < 0 || *a.Confidence > 100) {
		errors = append(errors, fmt.Sprintf("confidence: %v is outside [0, 100]", *a.Confidence))
	}
	if a.OccurredAt.IsZero() {
		errors = append(errors, "occurred_at: timestamp is required")
	}
	return result(errors)
}

// ValidateIncident checks an incident's required fields and enums.
func (v *Validator) ValidateIncident(i *domain.Incident) Result {
	var errors []string
	v.check(&errors, "title", i.Title, "required,min=3,max=200")
	v.check(&errors, "type", string(i.Type), "required,max=100")
	if !enumMember(i.Priority, domain.Priorities) {
		errors = append(errors, fmt.Sprintf("priority: %q is not a known priority", i.Priority))
	}
	if i.Status != "" && !enumMember(i.Status, domain.IncidentStatuses) {
		errors = append(errors, fmt.Sprintf("status: %q is not a known incident status", i.Status))
	}
	return result(errors)
}

// ValidateBOL checks a BOL alert's required fields, enums, threshold bounds
// and geographic scope.
func (v *Validator) ValidateBOL(b *domain.BOLAlert) Result {
	var errors []string
	v.check(&errors, "title", b.Title, "required,min=3,max=200")
	if !enumMember(b.Type, domain.BOLTypes) {
		errors = append(errors, fmt.Sprintf("type: %q is not a known BOL type", b.Type))
	}
	if !enumMember(b.Priority, domain.Priorities) {
		errors = append(errors, fmt.Sprintf("priority: %q is not a known priority", b.Priority))
	}
	if b.Status != "" && !enumMember(b.Status, domain.BOLStatuses) {
		errors = append(errors, fmt.Sprintf("status: %q is not a known BOL status", b.Status))
	}
	if b.ConfidenceThreshold != 0 && (b.ConfidenceThreshold < 0.1 || b.ConfidenceThreshold > 1.0) {
		errors = append(errors, fmt.Sprintf("confidence_threshold: %v is outside [0.1, 1.0]", b.ConfidenceThreshold))
	}
	if b.GeographicScope.Empty() {
		errors = append(errors, "geographic_scope: at least one site, building, zone or radius is required")
	}
	return result(errors)
}

// Err converts a failed result into the caller-facing validation error.
func (r Result) Err(entityType string) error {
	if r.IsValid {
		return nil
	}
	return &errs.ValidationError{EntityType: entityType, Violations: r.Errors}
}

func (v *Validator) check(errors *[]string, field string, value any, tag string) {
	if err := v.validate.Var(value, tag); err != nil {
		for _, fe := range err.(validator.ValidationErrors) {
			*errors = append(*errors, fmt.Sprintf("%s: failed %q constraint", field, fe.Tag()))
		}
	}
}

func enumMember[T comparable](value T, members []T) bool {
	for _, m := range members {
		if m == value {
			return true
		}
	}
	return false
}

func result(errors []string) Result {
	return Result{IsValid: len(errors) == 0, Errors: errors}
}
