// Package autorule decides, from declarative rules, whether an incoming
// activity must spawn an incident. Rule conditions are field/operator/value
// clauses resolved against a JSON view of the activity.
package autorule

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"sentinelops/internal/domain"
)

// Options tunes the engine.
type Options struct {
	BusinessHoursStart int
	BusinessHoursEnd   int
	RegexCacheTTL      time.Duration
	RegexCacheCleanup  time.Duration
}

// Seed is the incident seed data produced when a rule fires. It links the
// triggering activity; the lifecycle service turns it into an incident.
type Seed struct {
	RuleID             string
	Title              string
	Type               domain.IncidentType
	Priority           domain.Priority
	Description        string
	Location           domain.Location
	TriggerActivityID  string
	AutoCreated        bool
	RequiresValidation bool
	Dismissible        bool
}

// Engine evaluates activities against auto-creation rules. Rules are loaded
// at construction and read-only afterwards, so evaluation is safe for
// concurrent callers.
type Engine struct {
	logger     *slog.Logger
	rules      []domain.AutoCreationRule
	opts       Options
	regexCache *gocache.Cache
}

// New creates an engine over a rule set. Pass DefaultRules for the built-in
// policy table.
func New(logger *slog.Logger, rules []domain.AutoCreationRule, opts Options) *Engine {
	if opts.BusinessHoursEnd <= opts.BusinessHoursStart {
		opts.BusinessHoursStart = 8
		opts.BusinessHoursEnd = 18
	}
	if opts.RegexCacheTTL <= 0 {
		opts.RegexCacheTTL = 10 * time.Minute
	}
	if opts.RegexCacheCleanup <= 0 {
		opts.RegexCacheCleanup = 30 * time.Minute
	}
	return &Engine{
		logger:     logger,
		rules:      rules,
		opts:       opts,
		regexCache: gocache.New(opts.RegexCacheTTL, opts.RegexCacheCleanup),
	}
}

// Evaluate runs the activity through the rule table and returns the incident
// seed of the first firing rule, or nil when no rule fires. Non-firing
// activities have no side effect beyond a log line.
func (e *Engine) Evaluate(activity *domain.Activity) (*Seed, error) {
	doc, err := e.activityDocument(activity)
	if err != nil {
		return nil, fmt.Errorf("failed to build activity document: %w", err)
	}

	for _, rule := range e.rules {
		if !rule.Enabled || rule.SourceType != activity.Type {
			continue
		}
		matched, err := e.evaluateClauses(rule.Condition, doc)
		if err != nil {
			e.logger.Error("auto-creation rule evaluation failed",
				"rule_id", rule.ID,
				"activity_id", activity.ID,
				"error", err)
			continue
		}
		if !matched {
			continue
		}

		e.logger.Info("auto-creation rule fired",
			"rule_id", rule.ID,
			"activity_id", activity.ID,
			"activity_type", activity.Type,
			"incident_type", rule.TargetType,
			"priority", rule.Configuration.Priority)

		return &Seed{
			RuleID:             rule.ID,
			Title:              seedTitle(activity),
			Type:               rule.TargetType,
			Priority:           rule.Configuration.Priority,
			Description:        activity.Description,
			Location:           activity.Location,
			TriggerActivityID:  activity.ID,
			AutoCreated:        true,
			RequiresValidation: !rule.Configuration.SkipValidation,
			Dismissible:        rule.Configuration.Dismissible,
		}, nil
	}

	e.logger.Debug("no auto-creation rule fired",
		"activity_id", activity.ID,
		"activity_type", activity.Type)
	return nil, nil
}

// AfterHours reports whether a timestamp falls outside the configured
// business-hours window.
func (e *Engine) AfterHours(t time.Time) bool {
	hour := t.Hour()
	return hour < e.opts.BusinessHoursStart || hour >= e.opts.BusinessHoursEnd
}

// activityDocument renders the activity as JSON for condition resolution,
// with derived fields (after_hours) rules can reference directly.
func (e *Engine) activityDocument(activity *domain.Activity) (string, error) {
	raw, err := json.Marshal(activity)
	if err != nil {
		return "", err
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return "", err
	}
	doc["after_hours"] = e.AfterHours(activity.OccurredAt)
	enriched, err := json.Marshal(doc)
	if err != nil {
		return "", err
	}
	return string(enriched), nil
}

func seedTitle(activity *domain.Activity) string {
	site := activity.Location.Site
	if site == "" {
		site = "unknown site"
	}
	return fmt.Sprintf("%s at %s", activity.Type, site)
}
