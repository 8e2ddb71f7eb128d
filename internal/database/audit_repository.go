package database

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"sentinelops/internal/audit"
	"sentinelops/internal/domain"
)

// AuditRepository persists audit entries. Entries are append-only: there is
// no update path, and deletion only happens past the retention date.
type AuditRepository struct {
	BaseRepository
	logger *slog.Logger
}

// NewAuditRepository creates an audit repository.
func NewAuditRepository(db *sqlx.DB, logger *slog.Logger) *AuditRepository {
	return &AuditRepository{BaseRepository: BaseRepository{db: db}, logger: logger}
}

type auditRow struct {
	ID            string    `db:"id"`
	Actor         []byte    `db:"actor"`
	Action        string    `db:"action"`
	EntityType    string    `db:"entity_type"`
	EntityID      string    `db:"entity_id"`
	Timestamp     time.Time `db:"timestamp"`
	Location      []byte    `db:"location"`
	Reason        string    `db:"reason"`
	BeforeState   []byte    `db:"before_state"`
	AfterState    []byte    `db:"after_state"`
	Changes       []byte    `db:"changes"`
	Source        string    `db:"source"`
	CorrelationID string    `db:"correlation_id"`
	RetentionDate time.Time `db:"retention_date"`
	Sensitive     bool      `db:"sensitive"`
}

func toAuditRow(e *domain.AuditEntry) auditRow {
	row := auditRow{
		ID:            e.ID,
		Actor:         mustJSON(e.Actor),
		Action:        string(e.Action),
		EntityType:    e.EntityType,
		EntityID:      e.EntityID,
		Timestamp:     e.Timestamp,
		Reason:        e.Reason,
		BeforeState:   e.BeforeState,
		AfterState:    e.AfterState,
		Changes:       mustJSON(e.Changes),
		Source:        e.Source,
		CorrelationID: e.CorrelationID,
		RetentionDate: e.RetentionDate,
		Sensitive:     e.Sensitive,
	}
	if e.Location != nil {
		row.Location = mustJSON(e.Location)
	}
	return row
}

func (row auditRow) toDomain() *domain.AuditEntry {
	entry := &domain.AuditEntry{
		ID:            row.ID,
		Action:        domain.AuditAction(row.Action),
		EntityType:    row.EntityType,
		EntityID:      row.EntityID,
		Timestamp:     row.Timestamp,
		Reason:        row.Reason,
		BeforeState:   row.BeforeState,
		AfterState:    row.AfterState,
		Source:        row.Source,
		CorrelationID: row.CorrelationID,
		RetentionDate: row.RetentionDate,
		Sensitive:     row.Sensitive,
	}
	fromJSON(row.Actor, &entry.Actor)
	fromJSON(row.Changes, &entry.Changes)
	if len(row.Location) > 0 && string(row.Location) != "null" {
		var loc domain.Location
		fromJSON(row.Location, &loc)
		entry.Location = &loc
	}
	return entry
}

// Insert appends one audit entry.
func (r *AuditRepository) Insert(ctx context.Context, entry *domain.AuditEntry) error {
	row := toAuditRow(entry)
	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO audit_entries (
			id, actor, action, entity_type, entity_id, timestamp, location,
			reason, before_state, after_state, changes, source,
			correlation_id, retention_date, sensitive
		) VALUES (
			:id, :actor, :action, :entity_type, :entity_id, :timestamp, :location,
			:reason, :before_state, :after_state, :changes, :source,
			:correlation_id, :retention_date, :sensitive
		)`, row)
	if err != nil {
		return fmt.Errorf("failed to insert audit entry %s: %w", entry.ID, err)
	}
	return nil
}

// List returns entries matching the filter, newest first.
func (r *AuditRepository) List(ctx context.Context, filter audit.Filter) ([]*domain.AuditEntry, error) {
	var conditions []string
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.EntityType != "" {
		conditions = append(conditions, "entity_type = "+arg(filter.EntityType))
	}
	if filter.EntityID != "" {
		conditions = append(conditions, "entity_id = "+arg(filter.EntityID))
	}
	if filter.ActorID != "" {
		conditions = append(conditions, "actor->>'id' = "+arg(filter.ActorID))
	}
	if !filter.Since.IsZero() {
		conditions = append(conditions, "timestamp >= "+arg(filter.Since))
	}
	if !filter.Until.IsZero() {
		conditions = append(conditions, "timestamp <= "+arg(filter.Until))
	}
	if len(filter.Actions) > 0 {
		placeholders := make([]string, len(filter.Actions))
		for i, action := range filter.Actions {
			placeholders[i] = arg(string(action))
		}
		conditions = append(conditions, "action IN ("+strings.Join(placeholders, ", ")+")")
	}

	query := "SELECT * FROM audit_entries"
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY timestamp DESC"
	if filter.Limit > 0 {
		query += " LIMIT " + arg(filter.Limit)
	}
	if filter.Offset > 0 {
		query += " OFFSET " + arg(filter.Offset)
	}

	var rows []auditRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	entries := make([]*domain.AuditEntry, len(rows))
	for i, row := range rows {
		entries[i] = row.toDomain()
	}
	return entries, nil
}

// PurgeExpired removes entries past their retention date and returns how
// many were removed.
func (r *AuditRepository) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM audit_entries WHERE retention_date < $1`, now)
	if err != nil {
		return 0, fmt.Errorf("failed to purge expired audit entries: %w", err)
	}
	return result.RowsAffected()
}
