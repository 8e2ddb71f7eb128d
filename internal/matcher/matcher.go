// Package matcher scores activities against open be-on-lookout alerts using
// a weighted-factor confidence model.
package matcher

import (
	"fmt"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"sentinelops/internal/domain"
)

// Factor weights. Each factor is evaluated once and the sum is capped at 1.0.
const (
	weightLocationExact  = 0.30
	weightLocationNearby = 0.15
	weightTimeWithinHour = 0.15
	weightTimeWithinDay  = 0.10
	weightDescriptorFull = 0.25
	weightDescriptorPart = 0.15
	weightBehavior       = 0.20
	weightVehiclePlate   = 0.30
	weightVehicleColor   = 0.05
)

// DefaultThreshold applies when a BOL alert does not set its own.
const DefaultThreshold = 0.6

// nearbyOverlap is the minimum token-overlap ratio for the "nearby" location
// factor once the exact match fails.
const nearbyOverlap = 0.5

var vehicleKeywords = []string{
	"vehicle", "car", "truck", "van", "suv", "sedan", "motorcycle", "bike", "plate", "license",
}

// Score is the confidence breakdown of one evaluation.
type Score struct {
	Confidence float64            `json:"confidence"`
	Factors    map[string]float64 `json:"factors"`
}

// Matcher evaluates activities against BOL alerts. It is a pure function of
// the entities' persisted fields and the supplied evaluation time; the token
// cache only memoizes tokenization of immutable descriptions.
type Matcher struct {
	defaultThreshold float64
	tokens           *gocache.Cache
}

// New creates a matcher. A non-positive defaultThreshold falls back to
// DefaultThreshold.
func New(defaultThreshold float64, tokenTTL time.Duration) *Matcher {
	if defaultThreshold <= 0 {
		defaultThreshold = DefaultThreshold
	}
	if tokenTTL <= 0 {
		tokenTTL = 5 * time.Minute
	}
	return &Matcher{
		defaultThreshold: defaultThreshold,
		tokens:           gocache.New(tokenTTL, 2*tokenTTL),
	}
}

// Evaluate scores an activity against a BOL alert at the given evaluation
// time. The cumulative confidence is capped at 1.0.
func (m *Matcher) Evaluate(bol *domain.BOLAlert, activity *domain.Activity, now time.Time) Score {
	score := Score{Factors: make(map[string]float64)}
	add := func(name string, w float64) {
		score.Factors[name] = w
		score.Confidence += w
	}

	desc := strings.ToLower(activity.Description)
	descTokens := m.tokenize(fmt.Sprintf("activity:%s:%d", activity.ID, activity.Version), desc)

	// Location
	if scopeContains(bol.GeographicScope, activity.Location) {
		add("location_exact", weightLocationExact)
	} else if scopeNearby(bol.GeographicScope, activity.Location) {
		add("location_nearby", weightLocationNearby)
	}

	// Time, relative to evaluation time rather than BOL creation time.
	age := now.Sub(activity.OccurredAt)
	if age >= 0 {
		if age <= time.Hour {
			add("time_within_hour", weightTimeWithinHour)
		} else if age <= 24*time.Hour {
			add("time_within_day", weightTimeWithinDay)
		}
	}

	// Physical descriptors
	if w, name := descriptorFactor(bol.PhysicalDescriptors, desc, descTokens); w > 0 {
		add(name, w)
	}

	// Behavioral indicators
	for _, indicator := range bol.BehavioralIndicators {
		if strings.EqualFold(indicator, string(activity.Type)) {
			add("behavior", weightBehavior)
			break
		}
	}

	// Vehicle factors only apply when the description talks about a vehicle.
	if bol.Vehicle != nil && containsAny(desc, vehicleKeywords) {
		if plate := strings.ToLower(bol.Vehicle.LicensePlate); plate != "" && strings.Contains(stripSpaces(desc), stripSpaces(plate)) {
			add("vehicle_plate", weightVehiclePlate)
		}
		if color := strings.ToLower(bol.Vehicle.Color); color != "" && containsToken(descTokens, color) {
			add("vehicle_color", weightVehicleColor)
		}
	}

	if score.Confidence > 1.0 {
		score.Confidence = 1.0
	}
	return score
}

// IsMatch reports whether the scored confidence clears the alert's
// threshold. Manual matches bypass scoring entirely and are handled by the
// lifecycle service.
func (m *Matcher) IsMatch(bol *domain.BOLAlert, activity *domain.Activity, now time.Time) (Score, bool) {
	score := m.Evaluate(bol, activity, now)
	return score, score.Confidence >= m.Threshold(bol)
}

// Threshold returns the effective confidence threshold for an alert.
func (m *Matcher) Threshold(bol *domain.BOLAlert) float64 {
	if bol.ConfidenceThreshold > 0 {
		return bol.ConfidenceThreshold
	}
	return m.defaultThreshold
}

func descriptorFactor(descriptors []string, desc string, descTokens []string) (float64, string) {
	partial := false
	for _, d := range descriptors {
		d = strings.ToLower(strings.TrimSpace(d))
		if d == "" {
			continue
		}
		if strings.Contains(desc, d) {
			return weightDescriptorFull, "descriptor_exact"
		}
		for _, token := range strings.Fields(d) {
			if containsToken(descTokens, token) {
				partial = true
			}
		}
	}
	if partial {
		return weightDescriptorPart, "descriptor_partial"
	}
	return 0, ""
}

func scopeContains(scope domain.GeographicScope, loc domain.Location) bool {
	if scope.Empty() {
		return false
	}
	if len(scope.Sites) > 0 && !containsFold(scope.Sites, loc.Site) {
		return false
	}
	if len(scope.Buildings) > 0 && !containsFold(scope.Buildings, loc.Building) {
		return false
	}
	if len(scope.Zones) > 0 && !containsFold(scope.Zones, loc.Zone) {
		return false
	}
	return true
}

// scopeNearby applies a token-overlap heuristic between the scope's location
// strings and the activity location.
func scopeNearby(scope domain.GeographicScope, loc domain.Location) bool {
	locTokens := strings.Fields(loc.String())
	if len(locTokens) == 0 {
		return false
	}
	scopeTokens := make(map[string]struct{})
	for _, group := range [][]string{scope.Sites, scope.Buildings, scope.Zones} {
		for _, s := range group {
			for _, t := range strings.Fields(strings.ToLower(s)) {
				scopeTokens[t] = struct{}{}
			}
		}
	}
	if len(scopeTokens) == 0 {
		return false
	}
	overlap := 0
	for _, t := range locTokens {
		if _, ok := scopeTokens[t]; ok {
			overlap++
		}
	}
	return float64(overlap)/float64(len(locTokens)) >= nearbyOverlap
}

func (m *Matcher) tokenize(key, text string) []string {
	if cached, ok := m.tokens.Get(key); ok {
		return cached.([]string)
	}
	tokens := strings.Fields(text)
	m.tokens.Set(key, tokens, gocache.DefaultExpiration)
	return tokens
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func containsToken(tokens []string, want string) bool {
	for _, t := range tokens {
		if strings.Trim(t, ".,;:!?") == want {
			return true
		}
	}
	return false
}

func containsFold(list []string, want string) bool {
	for _, s := range list {
		if strings.EqualFold(s, want) {
			return true
		}
	}
	return false
}

func stripSpaces(s string) string {
	return strings.NewReplacer(" ", "", "-", "").Replace(s)
}
