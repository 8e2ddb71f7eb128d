package autorule

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sentinelops/internal/domain"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	return New(slog.Default(), DefaultRules(DefaultPolicyThresholds()), Options{
		BusinessHoursStart: 8,
		BusinessHoursEnd:   18,
	})
}

func activityOf(typ domain.ActivityType, occurredAt time.Time) *domain.Activity {
	return &domain.Activity{
		ID:          "act-1",
		Type:        typ,
		Priority:    domain.PriorityMedium,
		Description: "observed event",
		Location:    domain.Location{Site: "North Campus"},
		OccurredAt:  occurredAt,
		Version:     1,
	}
}

func businessHours() time.Time {
	return time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)
}

func afterHours() time.Time {
	return time.Date(2025, 6, 2, 22, 30, 0, 0, time.UTC)
}

func TestMedicalAlwaysFiresCriticalWithoutValidation(t *testing.T) {
	engine := newTestEngine(t)

	seed, err := engine.Evaluate(activityOf(domain.ActivityMedical, businessHours()))
	require.NoError(t, err)
	require.NotNil(t, seed)

	assert.Equal(t, domain.IncidentMedicalEmergency, seed.Type)
	assert.Equal(t, domain.PriorityCritical, seed.Priority)
	assert.False(t, seed.RequiresValidation)
	assert.True(t, seed.AutoCreated)
	assert.Equal(t, "act-1", seed.TriggerActivityID)
	assert.Equal(t, "medical at North Campus", seed.Title)
}

func TestSecurityBreachFiresHighWithValidation(t *testing.T) {
	engine := newTestEngine(t)

	seed, err := engine.Evaluate(activityOf(domain.ActivitySecurityBreach, businessHours()))
	require.NoError(t, err)
	require.NotNil(t, seed)

	assert.Equal(t, domain.IncidentSecurityBreach, seed.Type)
	assert.Equal(t, domain.PriorityHigh, seed.Priority)
	assert.True(t, seed.RequiresValidation)
}

func TestPatrolAndEvidenceNeverFire(t *testing.T) {
	engine := newTestEngine(t)

	for _, typ := range []domain.ActivityType{domain.ActivityPatrol, domain.ActivityEvidence} {
		seed, err := engine.Evaluate(activityOf(typ, afterHours()))
		require.NoError(t, err)
		assert.Nil(t, seed, "type %s must not spawn incidents", typ)
	}
}

func TestAlertFiresOnConfidenceOrAfterHours(t *testing.T) {
	engine := newTestEngine(t)

	tests := []struct {
		name       string
		confidence *float64
		occurredAt time.Time
		fires      bool
	}{
		{name: "high confidence in business hours", confidence: ptr(92.0), occurredAt: businessHours(), fires: true},
		{name: "low confidence in business hours", confidence: ptr(40.0), occurredAt: businessHours(), fires: false},
		{name: "low confidence after hours", confidence: ptr(40.0), occurredAt: afterHours(), fires: true},
		{name: "no confidence after hours", occurredAt: afterHours(), fires: true},
		{name: "no confidence in business hours", occurredAt: businessHours(), fires: false},
		{name: "confidence exactly at floor", confidence: ptr(80.0), occurredAt: businessHours(), fires: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			activity := activityOf(domain.ActivityAlert, tt.occurredAt)
			activity.Confidence = tt.confidence

			seed, err := engine.Evaluate(activity)
			require.NoError(t, err)
			if !tt.fires {
				assert.Nil(t, seed)
				return
			}
			require.NotNil(t, seed)
			assert.Equal(t, domain.IncidentAlarmResponse, seed.Type)
			assert.Equal(t, domain.PriorityMedium, seed.Priority)
			assert.True(t, seed.Dismissible)
		})
	}
}

func TestPropertyDamageNeedsConfidenceFloor(t *testing.T) {
	engine := newTestEngine(t)

	activity := activityOf(domain.ActivityPropertyDamage, businessHours())
	activity.Confidence = ptr(90.0)
	seed, err := engine.Evaluate(activity)
	require.NoError(t, err)
	require.NotNil(t, seed)
	assert.Equal(t, domain.IncidentPropertyDamage, seed.Type)

	activity.Confidence = ptr(50.0)
	seed, err = engine.Evaluate(activity)
	require.NoError(t, err)
	assert.Nil(t, seed)
}

func TestDisabledRuleDoesNotFire(t *testing.T) {
	rules := DefaultRules(DefaultPolicyThresholds())
	for i := range rules {
		if rules[i].ID == "auto-medical" {
			rules[i].Enabled = false
		}
	}
	engine := New(slog.Default(), rules, Options{BusinessHoursStart: 8, BusinessHoursEnd: 18})

	seed, err := engine.Evaluate(activityOf(domain.ActivityMedical, businessHours()))
	require.NoError(t, err)
	assert.Nil(t, seed)
}

func TestEarlierRuleForSameSourceTypeWins(t *testing.T) {
	// Store-loaded rules are placed ahead of the built-in table at startup;
	// the engine fires the first match, so the earlier rule overrides.
	override := domain.AutoCreationRule{
		ID:         "custom-medical",
		SourceType: domain.ActivityMedical,
		TargetType: domain.IncidentMedicalEmergency,
		Configuration: domain.AutoCreationConfig{
			Priority: domain.PriorityHigh,
		},
		Enabled: true,
	}
	rules := append([]domain.AutoCreationRule{override}, DefaultRules(DefaultPolicyThresholds())...)
	engine := New(slog.Default(), rules, Options{BusinessHoursStart: 8, BusinessHoursEnd: 18})

	seed, err := engine.Evaluate(activityOf(domain.ActivityMedical, businessHours()))
	require.NoError(t, err)
	require.NotNil(t, seed)
	assert.Equal(t, "custom-medical", seed.RuleID)
	assert.Equal(t, domain.PriorityHigh, seed.Priority)
	assert.True(t, seed.RequiresValidation)
}

func TestSeedCarriesFiringRuleID(t *testing.T) {
	engine := newTestEngine(t)

	seed, err := engine.Evaluate(activityOf(domain.ActivityMedical, businessHours()))
	require.NoError(t, err)
	require.NotNil(t, seed)
	assert.Equal(t, "auto-medical", seed.RuleID)
}

func TestAfterHoursBoundaries(t *testing.T) {
	engine := newTestEngine(t)

	day := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)
	assert.True(t, engine.AfterHours(day.Add(7*time.Hour+59*time.Minute)))
	assert.False(t, engine.AfterHours(day.Add(8*time.Hour)))
	assert.False(t, engine.AfterHours(day.Add(17*time.Hour+59*time.Minute)))
	assert.True(t, engine.AfterHours(day.Add(18*time.Hour)))
}

func TestConditionOperators(t *testing.T) {
	engine := newTestEngine(t)
	doc := `{"type":"alert","confidence":85,"tags":["urgent","北"],"location":{"site":"North Campus"},"after_hours":false}`

	tests := []struct {
		name   string
		clause domain.ConditionClause
		want   bool
	}{
		{"eq string fold", domain.ConditionClause{Field: "type", Operator: domain.OpEq, Value: "Alert"}, true},
		{"ne", domain.ConditionClause{Field: "type", Operator: domain.OpNe, Value: "patrol"}, true},
		{"gt", domain.ConditionClause{Field: "confidence", Operator: domain.OpGt, Value: 80}, true},
		{"gt missing field", domain.ConditionClause{Field: "missing", Operator: domain.OpGt, Value: 1}, false},
		{"lte", domain.ConditionClause{Field: "confidence", Operator: domain.OpLte, Value: 85}, true},
		{"in", domain.ConditionClause{Field: "type", Operator: domain.OpIn, Value: []any{"patrol", "alert"}}, true},
		{"not_in", domain.ConditionClause{Field: "type", Operator: domain.OpNotIn, Value: []string{"patrol"}}, true},
		{"contains array", domain.ConditionClause{Field: "tags", Operator: domain.OpContains, Value: "urgent"}, true},
		{"contains nested string", domain.ConditionClause{Field: "location.site", Operator: domain.OpContains, Value: "north"}, true},
		{"regex", domain.ConditionClause{Field: "location.site", Operator: domain.OpRegex, Value: "^North"}, true},
		{"eq bool", domain.ConditionClause{Field: "after_hours", Operator: domain.OpEq, Value: false}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := engine.evaluateClause(tt.clause, doc)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestClausesAreANDCombined(t *testing.T) {
	engine := newTestEngine(t)
	doc := `{"confidence":85,"after_hours":false}`

	clauses := []domain.ConditionClause{
		{Field: "confidence", Operator: domain.OpGt, Value: 80},
		{Field: "after_hours", Operator: domain.OpEq, Value: true},
	}
	matched, err := engine.evaluateClauses(clauses, doc)
	require.NoError(t, err)
	assert.False(t, matched)

	clauses[1].Value = false
	matched, err = engine.evaluateClauses(clauses, doc)
	require.NoError(t, err)
	assert.True(t, matched)
}

func TestInvalidRegexIsAnError(t *testing.T) {
	engine := newTestEngine(t)

	_, err := engine.evaluateClause(domain.ConditionClause{
		Field: "type", Operator: domain.OpRegex, Value: "([",
	}, `{"type":"alert"}`)
	assert.Error(t, err)
}

func ptr(f float64) *float64 { return &f }
