// Package errs defines the error taxonomy shared by the correlation core.
// Callers branch on error kind with errors.As and the Is* helpers; every
// error carries enough context for an API layer to report all problems in a
// single response.
package errs

import (
	"errors"
	"fmt"
	"strings"

	"sentinelops/internal/domain"
)

// ValidationError reports one or more malformed or missing fields. It is
// recoverable: the caller fixes the input and retries.
type ValidationError struct {
	EntityType string
	Violations []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for %s: %s", e.EntityType, strings.Join(e.Violations, "; "))
}

// BusinessRuleViolation reports failed business rules. All failed rules are
// carried so the caller can surface them at once.
type BusinessRuleViolation struct {
	Operation string
	Failures  []string
}

func (e *BusinessRuleViolation) Error() string {
	return fmt.Sprintf("business rules failed for %s: %s", e.Operation, strings.Join(e.Failures, "; "))
}

// UnauthorizedTransition reports a status change the caller's role does not
// permit. It names the required roles but never which rule would have
// allowed the change.
type UnauthorizedTransition struct {
	EntityType    string
	FromStatus    string
	ToStatus      string
	RequiredRoles []domain.Role
}

func (e *UnauthorizedTransition) Error() string {
	roles := make([]string, len(e.RequiredRoles))
	for i, r := range e.RequiredRoles {
		roles[i] = string(r)
	}
	if len(roles) == 0 {
		return fmt.Sprintf("status transition %s: %s -> %s is not permitted", e.EntityType, e.FromStatus, e.ToStatus)
	}
	return fmt.Sprintf("status transition %s: %s -> %s requires role %s", e.EntityType, e.FromStatus, e.ToStatus, strings.Join(roles, " or "))
}

// NotFoundError reports an unknown entity id.
type NotFoundError struct {
	EntityType string
	EntityID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.EntityType, e.EntityID)
}

// ConflictError reports an optimistic-concurrency mismatch from the store.
// The caller should reload, re-evaluate preconditions and retry once.
type ConflictError struct {
	EntityType string
	EntityID   string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s %s was modified concurrently", e.EntityType, e.EntityID)
}

// AuditWriteFailure reports a failed audit write. It is degraded but
// non-fatal: the triggering business mutation still succeeds and the failure
// is only observable through the recorder's health counters.
type AuditWriteFailure struct {
	EntityType string
	EntityID   string
	Err        error
}

func (e *AuditWriteFailure) Error() string {
	return fmt.Sprintf("audit write failed for %s %s: %v", e.EntityType, e.EntityID, e.Err)
}

func (e *AuditWriteFailure) Unwrap() error { return e.Err }

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsConflict reports whether err is a ConflictError.
func IsConflict(err error) bool {
	var c *ConflictError
	return errors.As(err, &c)
}

// IsUnauthorizedTransition reports whether err is an UnauthorizedTransition.
func IsUnauthorizedTransition(err error) bool {
	var u *UnauthorizedTransition
	return errors.As(err, &u)
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// IsBusinessRule reports whether err is a BusinessRuleViolation.
func IsBusinessRule(err error) bool {
	var b *BusinessRuleViolation
	return errors.As(err, &b)
}
