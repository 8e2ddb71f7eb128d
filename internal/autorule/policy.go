package autorule

import "sentinelops/internal/domain"

// PolicyThresholds carries the tunable confidence floors of the built-in
// policy table.
type PolicyThresholds struct {
	AlertConfidenceMin  float64
	DamageConfidenceMin float64
}

// DefaultPolicyThresholds matches the standing business policy.
func DefaultPolicyThresholds() PolicyThresholds {
	return PolicyThresholds{AlertConfidenceMin: 80, DamageConfidenceMin: 75}
}

// DefaultRules is the built-in auto-creation policy, expressed as rule data
// so it is independently testable and overridable from the store:
//
//   - medical            → always, skip validation, critical
//   - security-breach    → always, high
//   - bol-event          → always, high
//   - alert              → confidence above floor OR after hours, medium
//   - property-damage    → confidence above floor, medium
//   - patrol, evidence   → never (no rule)
//
// OR-conditions are expressed as two rules for the same source type; the
// engine fires on the first match.
func DefaultRules(t PolicyThresholds) []domain.AutoCreationRule {
	return []domain.AutoCreationRule{
		{
			ID:         "auto-medical",
			SourceType: domain.ActivityMedical,
			TargetType: domain.IncidentMedicalEmergency,
			Configuration: domain.AutoCreationConfig{
				Priority:       domain.PriorityCritical,
				SkipValidation: true,
			},
			Enabled: true,
		},
		{
			ID:         "auto-security-breach",
			SourceType: domain.ActivitySecurityBreach,
			TargetType: domain.IncidentSecurityBreach,
			Configuration: domain.AutoCreationConfig{
				Priority: domain.PriorityHigh,
			},
			Enabled: true,
		},
		{
			ID:         "auto-bol-event",
			SourceType: domain.ActivityBOLEvent,
			TargetType: domain.IncidentBOLMatch,
			Configuration: domain.AutoCreationConfig{
				Priority: domain.PriorityHigh,
			},
			Enabled: true,
		},
		{
			ID:         "auto-alert-confidence",
			SourceType: domain.ActivityAlert,
			Condition: []domain.ConditionClause{
				{Field: "confidence", Operator: domain.OpGt, Value: t.AlertConfidenceMin},
			},
			TargetType: domain.IncidentAlarmResponse,
			Configuration: domain.AutoCreationConfig{
				Priority:    domain.PriorityMedium,
				Dismissible: true,
			},
			Enabled: true,
		},
		{
			ID:         "auto-alert-after-hours",
			SourceType: domain.ActivityAlert,
			Condition: []domain.ConditionClause{
				{Field: "after_hours", Operator: domain.OpEq, Value: true},
			},
			TargetType: domain.IncidentAlarmResponse,
			Configuration: domain.AutoCreationConfig{
				Priority:    domain.PriorityMedium,
				Dismissible: true,
			},
			Enabled: true,
		},
		{
			ID:         "auto-property-damage",
			SourceType: domain.ActivityPropertyDamage,
			Condition: []domain.ConditionClause{
				{Field: "confidence", Operator: domain.OpGt, Value: t.DamageConfidenceMin},
			},
			TargetType: domain.IncidentPropertyDamage,
			Configuration: domain.AutoCreationConfig{
				Priority:    domain.PriorityMedium,
				Dismissible: true,
			},
			Enabled: true,
		},
	}
}
