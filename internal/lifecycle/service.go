// Package lifecycle orchestrates the incident and BOL alert entities around
// the validation, transition, matching, auto-creation, escalation and audit
// components. It owns no transport or storage: stores, the event publisher
// and the clock are injected behind narrow interfaces.
package lifecycle

import (
	"context"
	"time"

	"log/slog"

	"sentinelops/internal/audit"
	"sentinelops/internal/autorule"
	"sentinelops/internal/domain"
	"sentinelops/internal/errs"
	"sentinelops/internal/escalation"
	"sentinelops/internal/matcher"
	"sentinelops/internal/metrics"
	"sentinelops/internal/statemachine"
	"sentinelops/internal/validation"
)

// Clock supplies the service's notion of now; injected so scoring and
// escalation are deterministic under test.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

// Now returns the current wall-clock time.
func (SystemClock) Now() time.Time { return time.Now() }

// IncidentStore is the persistence slice the service needs for incidents.
// Save must reject stale versions with an errs.ConflictError; the service
// treats a conflict as a signal to reload and re-evaluate preconditions,
// never to overwrite.
type IncidentStore interface {
	Get(ctx context.Context, id string) (*domain.Incident, error)
	Insert(ctx context.Context, incident *domain.Incident) error
	Save(ctx context.Context, incident *domain.Incident) error
	DueForEscalation(ctx context.Context, now time.Time) ([]*domain.Incident, error)
}

// ActivityStore is the persistence slice the service needs for activities.
type ActivityStore interface {
	Get(ctx context.Context, id string) (*domain.Activity, error)
	Insert(ctx context.Context, activity *domain.Activity) error
	Save(ctx context.Context, activity *domain.Activity) error
	// RecentSince returns activities that occurred at or after the cutoff.
	RecentSince(ctx context.Context, cutoff time.Time) ([]*domain.Activity, error)
}

// BOLStore is the persistence slice the service needs for BOL alerts.
type BOLStore interface {
	Get(ctx context.Context, id string) (*domain.BOLAlert, error)
	Insert(ctx context.Context, bol *domain.BOLAlert) error
	Save(ctx context.Context, bol *domain.BOLAlert) error
	// ActiveAutoMatch returns active, unexpired, auto-match-enabled alerts.
	ActiveAutoMatch(ctx context.Context, now time.Time) ([]*domain.BOLAlert, error)
	// ExpiredActive returns active alerts whose expiry has passed.
	ExpiredActive(ctx context.Context, now time.Time) ([]*domain.BOLAlert, error)
}

// Publisher delivers fire-and-forget events to the notification
// collaborator. Implementations must not let a delivery failure surface
// here: a failed publish never rolls back the underlying mutation.
type Publisher interface {
	Publish(ctx context.Context, eventType, entityType, entityID string, payload any)
}

// Fanout publishes every event to each underlying publisher in order.
type Fanout []Publisher

// Publish delivers the event to every member.
func (f Fanout) Publish(ctx context.Context, eventType, entityType, entityID string, payload any) {
	for _, p := range f {
		p.Publish(ctx, eventType, entityType, entityID, payload)
	}
}

// Event types published by the service.
const (
	EventIncidentCreated   = "incident.created"
	EventIncidentUpdated   = "incident.updated"
	EventIncidentEscalated = "incident.escalated"
	EventBOLCreated        = "bol.created"
	EventBOLUpdated        = "bol.updated"
	EventBOLMatched        = "bol.matched"
	EventBOLExpired        = "bol.expired"
	EventActivityEvaluated = "activity.evaluated"
)

// SystemActor is the actor recorded for sweep-driven mutations.
var SystemActor = domain.ActorContext{
	UserID:   "system",
	UserName: "correlation-engine",
	UserRole: domain.RoleAdmin,
}

// Config tunes the service.
type Config struct {
	// ScanWindow is how far back CreateBOL scans recent activities.
	ScanWindow time.Duration
	// ActivityArchiveAge is how old an activity may be before it is
	// read-only.
	ActivityArchiveAge time.Duration
}

// Service orchestrates the correlation core.
type Service struct {
	logger      *slog.Logger
	clock       Clock
	cfg         Config
	validator   *validation.Validator
	transitions *statemachine.Engine
	rules       *autorule.Engine
	matcher     *matcher.Matcher
	escalator   *escalation.Scheduler
	recorder    *audit.Recorder
	collector   *metrics.Collector
	incidents   IncidentStore
	activities  ActivityStore
	bols        BOLStore
	publisher   Publisher
}

// New wires the service. All collaborators are required.
func New(
	logger *slog.Logger,
	clock Clock,
	cfg Config,
	validator *validation.Validator,
	transitions *statemachine.Engine,
	rules *autorule.Engine,
	m *matcher.Matcher,
	escalator *escalation.Scheduler,
	recorder *audit.Recorder,
	collector *metrics.Collector,
	incidents IncidentStore,
	activities ActivityStore,
	bols BOLStore,
	publisher Publisher,
) *Service {
	if cfg.ScanWindow <= 0 {
		cfg.ScanWindow = 24 * time.Hour
	}
	if cfg.ActivityArchiveAge <= 0 {
		cfg.ActivityArchiveAge = 30 * 24 * time.Hour
	}
	return &Service{
		logger:      logger,
		clock:       clock,
		cfg:         cfg,
		validator:   validator,
		transitions: transitions,
		rules:       rules,
		matcher:     m,
		escalator:   escalator,
		recorder:    recorder,
		collector:   collector,
		incidents:   incidents,
		activities:  activities,
		bols:        bols,
		publisher:   publisher,
	}
}

// ruleContext builds the ambient input for business-rule checks.
func (s *Service) ruleContext(actor domain.ActorContext) validation.RuleContext {
	return validation.RuleContext{
		Actor:      actor,
		Now:        s.clock.Now(),
		ArchiveAge: s.cfg.ActivityArchiveAge,
	}
}

// record wraps the audit recorder with the swallow-at-the-boundary policy:
// a failed audit write is logged and counted but the mutation's outcome is
// unaffected.
func (s *Service) record(
	ctx context.Context,
	actor domain.ActorContext,
	action domain.AuditAction,
	entityType, entityID string,
	opts audit.Options,
) {
	if _, err := s.recorder.Record(ctx, actor, action, entityType, entityID, opts); err != nil {
		s.logger.Warn("audit write degraded",
			"action", action,
			"entity_type", entityType,
			"entity_id", entityID,
			"error", err)
	}
}

// transitionRejectCause labels a transition failure for the rejection
// counter. The transition engine only rejects on a stale status snapshot or
// on role/rule grounds.
func transitionRejectCause(err error) string {
	if errs.IsConflict(err) {
		return "conflict"
	}
	return "unauthorized"
}

// SweepDueEscalations surfaces incidents past their escalation due-time.
// Read-only; the cron sweeper acts on the result with a fencing token.
func (s *Service) SweepDueEscalations(ctx context.Context, now time.Time) ([]*domain.Incident, error) {
	return s.escalator.SweepDue(ctx, s.incidents, now)
}
