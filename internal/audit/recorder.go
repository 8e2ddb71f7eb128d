// Package audit records every mutation as an immutable audit entry with
// WHO/WHAT/WHEN/WHERE/WHY fields. The recorder is a best-effort secondary
// concern: its failures are counted and logged to a fallback channel but
// never abort the triggering business operation, and the recorder itself is
// never audited.
package audit

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"sentinelops/internal/domain"
	"sentinelops/internal/errs"
)

// DefaultRetention applies when no retention period is configured.
const DefaultRetention = 365 * 24 * time.Hour

// Store is the persistence slice the recorder needs.
type Store interface {
	Insert(ctx context.Context, entry *domain.AuditEntry) error
	List(ctx context.Context, filter Filter) ([]*domain.AuditEntry, error)
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

// Clock supplies the recorder's notion of now; injected so entries are
// deterministic under test.
type Clock interface {
	Now() time.Time
}

// Options carries the optional WHY/WHERE fields of one entry.
type Options struct {
	Reason        string
	Before        any
	After         any
	Changes       []domain.FieldChange
	Location      *domain.Location
	Source        string
	CorrelationID string
	Sensitive     bool
}

// Filter selects audit entries for trail queries.
type Filter struct {
	EntityType string
	EntityID   string
	Actions    []domain.AuditAction
	ActorID    string
	Since      time.Time
	Until      time.Time
	Limit      int
	Offset     int
}

// Recorder appends immutable audit entries.
type Recorder struct {
	logger    *slog.Logger
	fallback  *slog.Logger
	store     Store
	clock     Clock
	retention time.Duration

	entriesTotal  *prometheus.CounterVec
	writeFailures prometheus.Counter
	rejects       prometheus.Counter
}

// New creates a recorder. The fallback logger receives entries that could
// not be persisted, for operational alerting.
func New(logger *slog.Logger, store Store, clock Clock, retention time.Duration, reg prometheus.Registerer) *Recorder {
	if retention <= 0 {
		retention = DefaultRetention
	}
	factory := promauto.With(reg)
	return &Recorder{
		logger:    logger,
		fallback:  logger.With("channel", "audit_fallback"),
		store:     store,
		clock:     clock,
		retention: retention,
		entriesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "audit_entries_total",
			Help: "Audit entries recorded, by action.",
		}, []string{"action", "entity_type"}),
		writeFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "audit_write_failures_total",
			Help: "Audit entries that failed to persist.",
		}),
		rejects: factory.NewCounter(prometheus.CounterOpts{
			Name: "audit_rejects_total",
			Help: "Audit requests rejected for missing WHO/WHAT fields.",
		}),
	}
}

// Record validates, builds and persists one audit entry. The returned error
// is always an *errs.AuditWriteFailure; callers log it and carry on — a
// failed audit write must not change the outcome of the mutation that
// triggered it.
func (r *Recorder) Record(
	ctx context.Context,
	actor domain.ActorContext,
	action domain.AuditAction,
	entityType, entityID string,
	opts Options,
) (*domain.AuditEntry, error) {
	if actor.UserID == "" || entityType == "" || entityID == "" {
		r.rejects.Inc()
		r.fallback.Error("audit entry rejected: missing actor or entity identity",
			"action", action,
			"entity_type", entityType,
			"entity_id", entityID)
		return nil, &errs.AuditWriteFailure{
			EntityType: entityType,
			EntityID:   entityID,
			Err:        &errs.ValidationError{EntityType: "audit_entry", Violations: []string{"actor id and entity identity are required"}},
		}
	}

	now := r.clock.Now()
	entry := &domain.AuditEntry{
		ID: uuid.New().String(),
		Actor: domain.AuditActor{
			ID:        actor.UserID,
			Name:      actor.UserName,
			Role:      actor.UserRole,
			SessionID: actor.SessionID,
			IPAddress: actor.IPAddress,
			UserAgent: actor.UserAgent,
		},
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Timestamp:     now,
		Location:      opts.Location,
		Reason:        opts.Reason,
		Changes:       opts.Changes,
		Source:        opts.Source,
		CorrelationID: opts.CorrelationID,
		RetentionDate: now.Add(r.retention),
		Sensitive:     opts.Sensitive,
	}
	if entry.Source == "" {
		entry.Source = "api"
	}
	if entry.CorrelationID == "" {
		entry.CorrelationID = uuid.New().String()
	}
	if opts.Before != nil {
		entry.BeforeState = marshalState(opts.Before)
	}
	if opts.After != nil {
		entry.AfterState = marshalState(opts.After)
	}

	if err := r.store.Insert(ctx, entry); err != nil {
		r.writeFailures.Inc()
		r.fallback.Error("audit write failed",
			"entry_id", entry.ID,
			"action", action,
			"entity_type", entityType,
			"entity_id", entityID,
			"error", err)
		return nil, &errs.AuditWriteFailure{EntityType: entityType, EntityID: entityID, Err: err}
	}

	r.entriesTotal.WithLabelValues(string(action), entityType).Inc()
	return entry, nil
}

// Trail returns the audit entries for an entity, newest first.
func (r *Recorder) Trail(ctx context.Context, entityType, entityID string, filter Filter) ([]*domain.AuditEntry, error) {
	filter.EntityType = entityType
	filter.EntityID = entityID
	if filter.Limit <= 0 {
		filter.Limit = 100
	}
	return r.store.List(ctx, filter)
}

// PurgeExpired deletes entries past their retention date. Entries are never
// removed earlier.
func (r *Recorder) PurgeExpired(ctx context.Context) (int64, error) {
	return r.store.PurgeExpired(ctx, r.clock.Now())
}

func marshalState(v any) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		// State snapshots are advisory; a marshal failure degrades the
		// entry, not the mutation.
		return json.RawMessage(`{"marshal_error":true}`)
	}
	return raw
}
