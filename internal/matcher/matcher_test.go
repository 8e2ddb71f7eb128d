package matcher

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"sentinelops/internal/domain"
)

var evalTime = time.Date(2025, 6, 1, 14, 0, 0, 0, time.UTC)

func lookoutAlert() *domain.BOLAlert {
	return &domain.BOLAlert{
		ID:       "bol-1",
		Title:    "Suspect on north campus",
		Type:     domain.BOLPerson,
		Priority: domain.PriorityHigh,
		Status:   domain.BOLActive,
		GeographicScope: domain.GeographicScope{
			Sites:     []string{"North Campus"},
			Buildings: []string{"Building A"},
		},
		PhysicalDescriptors:  []string{"red jacket", "tall"},
		BehavioralIndicators: []string{"security-breach"},
		Vehicle: &domain.VehicleDetails{
			LicensePlate: "ABC 123",
			Color:        "blue",
		},
		ConfidenceThreshold: 0.6,
		ExpiresAt:           evalTime.Add(48 * time.Hour),
	}
}

func observation(desc string, loc domain.Location, age time.Duration) *domain.Activity {
	return &domain.Activity{
		ID:          "act-1",
		Type:        domain.ActivityAlert,
		Priority:    domain.PriorityMedium,
		Description: desc,
		Location:    loc,
		OccurredAt:  evalTime.Add(-age),
		Version:     1,
	}
}

func TestEvaluateAccumulatesFactors(t *testing.T) {
	m := New(0.6, time.Minute)
	bol := lookoutAlert()

	activity := observation(
		"individual in a red jacket seen near entrance",
		domain.Location{Site: "North Campus", Building: "Building A"},
		30*time.Minute,
	)
	score := m.Evaluate(bol, activity, evalTime)

	assert.InDelta(t, 0.30, score.Factors["location_exact"], 1e-9)
	assert.InDelta(t, 0.15, score.Factors["time_within_hour"], 1e-9)
	assert.InDelta(t, 0.25, score.Factors["descriptor_exact"], 1e-9)
	assert.InDelta(t, 0.70, score.Confidence, 1e-9)

	_, matched := m.IsMatch(bol, activity, evalTime)
	assert.True(t, matched)
}

func TestEvaluateBelowThresholdIsNoMatch(t *testing.T) {
	m := New(0.6, time.Minute)
	bol := lookoutAlert()

	// Nearby but not exact location, stale sighting, partial descriptor only.
	activity := observation(
		"someone wearing a jacket walking away",
		domain.Location{Site: "North Campus", Building: "Building C"},
		5*time.Hour,
	)
	score, matched := m.IsMatch(bol, activity, evalTime)

	assert.False(t, matched)
	assert.Less(t, score.Confidence, 0.6)
	assert.InDelta(t, 0.15, score.Factors["descriptor_partial"], 1e-9)
	assert.InDelta(t, 0.10, score.Factors["time_within_day"], 1e-9)
}

func TestEvaluateIsDeterministic(t *testing.T) {
	m := New(0.6, time.Minute)
	bol := lookoutAlert()
	activity := observation(
		"red jacket spotted by a blue car, plate ABC123",
		domain.Location{Site: "North Campus", Building: "Building A"},
		10*time.Minute,
	)

	first := m.Evaluate(bol, activity, evalTime)
	for i := 0; i < 5; i++ {
		again := m.Evaluate(bol, activity, evalTime)
		assert.Equal(t, first, again)
	}
}

func TestEvaluateConfidenceCappedAtOne(t *testing.T) {
	m := New(0.6, time.Minute)
	bol := lookoutAlert()

	// Every factor at once: exact location, fresh, exact descriptor, matching
	// behavior type, plate and color.
	activity := observation(
		"red jacket suspect fleeing in blue car plate ABC123",
		domain.Location{Site: "North Campus", Building: "Building A"},
		5*time.Minute,
	)
	activity.Type = domain.ActivitySecurityBreach

	score := m.Evaluate(bol, activity, evalTime)
	assert.Equal(t, 1.0, score.Confidence)
}

func TestVehicleFactorsRequireVehicleContext(t *testing.T) {
	m := New(0.6, time.Minute)
	bol := lookoutAlert()

	// Color word present but nothing vehicle-related in the description.
	activity := observation(
		"person in blue seen loitering",
		domain.Location{Site: "South Campus"},
		10*time.Minute,
	)
	score := m.Evaluate(bol, activity, evalTime)
	assert.NotContains(t, score.Factors, "vehicle_color")
	assert.NotContains(t, score.Factors, "vehicle_plate")

	// Same sighting with a vehicle mention scores the plate despite spacing.
	activity = observation(
		"blue car parked, license abc-123 visible",
		domain.Location{Site: "South Campus"},
		10*time.Minute,
	)
	activity.ID = "act-2"
	score = m.Evaluate(bol, activity, evalTime)
	assert.InDelta(t, 0.30, score.Factors["vehicle_plate"], 1e-9)
	assert.InDelta(t, 0.05, score.Factors["vehicle_color"], 1e-9)
}

func TestFutureActivityEarnsNoTimeFactor(t *testing.T) {
	m := New(0.6, time.Minute)
	bol := lookoutAlert()

	activity := observation("red jacket", domain.Location{Site: "North Campus"}, 0)
	activity.OccurredAt = evalTime.Add(time.Hour)

	score := m.Evaluate(bol, activity, evalTime)
	assert.NotContains(t, score.Factors, "time_within_hour")
	assert.NotContains(t, score.Factors, "time_within_day")
}

func TestThresholdFallsBackToDefault(t *testing.T) {
	m := New(0.5, time.Minute)

	bol := lookoutAlert()
	assert.Equal(t, 0.6, m.Threshold(bol))

	bol.ConfidenceThreshold = 0
	assert.Equal(t, 0.5, m.Threshold(bol))

	fallback := New(0, time.Minute)
	assert.Equal(t, DefaultThreshold, fallback.Threshold(bol))
}

func TestScopeNearbyTokenOverlap(t *testing.T) {
	scope := domain.GeographicScope{Sites: []string{"North Campus"}, Zones: []string{"Loading Dock"}}

	assert.True(t, scopeNearby(scope, domain.Location{Site: "North", Building: "Campus"}))
	assert.False(t, scopeNearby(scope, domain.Location{Site: "East Wing", Building: "Annex"}))
	assert.False(t, scopeNearby(domain.GeographicScope{}, domain.Location{Site: "North"}))
}
