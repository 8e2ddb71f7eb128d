package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"sentinelops/internal/domain"
	"sentinelops/internal/errs"
	"sentinelops/internal/statemachine"
)

// IncidentRepository persists incidents.
type IncidentRepository struct {
	BaseRepository
	logger *slog.Logger
}

// NewIncidentRepository creates an incident repository.
func NewIncidentRepository(db *sqlx.DB, logger *slog.Logger) *IncidentRepository {
	return &IncidentRepository{BaseRepository: BaseRepository{db: db}, logger: logger}
}

type incidentRow struct {
	ID                 string         `db:"id"`
	Title              string         `db:"title"`
	Type               string         `db:"type"`
	Priority           string         `db:"priority"`
	Status             string         `db:"status"`
	Description        string         `db:"description"`
	Assignee           string         `db:"assignee"`
	Location           []byte         `db:"location"`
	ActivityIDs        pq.StringArray `db:"activity_ids"`
	EscalationTime     sql.NullTime   `db:"escalation_time"`
	EscalationTarget   string         `db:"escalation_target"`
	EscalationHistory  []byte         `db:"escalation_history"`
	AutoCreated        bool           `db:"auto_created"`
	RequiresValidation bool           `db:"requires_validation"`
	Dismissible        bool           `db:"dismissible"`
	CreatedBy          string         `db:"created_by"`
	UpdatedBy          string         `db:"updated_by"`
	CreatedAt          time.Time      `db:"created_at"`
	UpdatedAt          time.Time      `db:"updated_at"`
	Version            int            `db:"version"`
}

func toIncidentRow(i *domain.Incident) incidentRow {
	row := incidentRow{
		ID:                 i.ID,
		Title:              i.Title,
		Type:               string(i.Type),
		Priority:           string(i.Priority),
		Status:             string(i.Status),
		Description:        i.Description,
		Assignee:           i.Assignee,
		Location:           mustJSON(i.Location),
		ActivityIDs:        pq.StringArray(i.ActivityIDs),
		EscalationTarget:   string(i.EscalationTarget),
		EscalationHistory:  mustJSON(i.EscalationHistory),
		AutoCreated:        i.AutoCreated,
		RequiresValidation: i.RequiresValidation,
		Dismissible:        i.Dismissible,
		CreatedBy:          i.CreatedBy,
		UpdatedBy:          i.UpdatedBy,
		CreatedAt:          i.CreatedAt,
		UpdatedAt:          i.UpdatedAt,
		Version:            i.Version,
	}
	if i.EscalationTime != nil {
		row.EscalationTime = sql.NullTime{Time: *i.EscalationTime, Valid: true}
	}
	return row
}

func (row incidentRow) toDomain() *domain.Incident {
	incident := &domain.Incident{
		ID:                 row.ID,
		Title:              row.Title,
		Type:               domain.IncidentType(row.Type),
		Priority:           domain.Priority(row.Priority),
		Status:             domain.IncidentStatus(row.Status),
		Description:        row.Description,
		Assignee:           row.Assignee,
		ActivityIDs:        []string(row.ActivityIDs),
		EscalationTarget:   domain.Role(row.EscalationTarget),
		AutoCreated:        row.AutoCreated,
		RequiresValidation: row.RequiresValidation,
		Dismissible:        row.Dismissible,
		CreatedBy:          row.CreatedBy,
		UpdatedBy:          row.UpdatedBy,
		CreatedAt:          row.CreatedAt,
		UpdatedAt:          row.UpdatedAt,
		Version:            row.Version,
	}
	fromJSON(row.Location, &incident.Location)
	fromJSON(row.EscalationHistory, &incident.EscalationHistory)
	if row.EscalationTime.Valid {
		t := row.EscalationTime.Time
		incident.EscalationTime = &t
	}
	return incident
}

// Get loads an incident by id.
func (r *IncidentRepository) Get(ctx context.Context, id string) (*domain.Incident, error) {
	var row incidentRow
	err := r.db.GetContext(ctx, &row, `SELECT * FROM incidents WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &errs.NotFoundError{EntityType: statemachine.EntityIncident, EntityID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load incident %s: %w", id, err)
	}
	return row.toDomain(), nil
}

// Insert persists a new incident.
func (r *IncidentRepository) Insert(ctx context.Context, incident *domain.Incident) error {
	row := toIncidentRow(incident)
	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO incidents (
			id, title, type, priority, status, description, assignee, location,
			activity_ids, escalation_time, escalation_target, escalation_history,
			auto_created, requires_validation, dismissible,
			created_by, updated_by, created_at, updated_at, version
		) VALUES (
			:id, :title, :type, :priority, :status, :description, :assignee, :location,
			:activity_ids, :escalation_time, :escalation_target, :escalation_history,
			:auto_created, :requires_validation, :dismissible,
			:created_by, :updated_by, :created_at, :updated_at, :version
		)`, row)
	if err != nil {
		return fmt.Errorf("failed to insert incident %s: %w", incident.ID, err)
	}
	return nil
}

// Save updates an incident guarded by its version. A stale version returns a
// conflict so the caller reloads and re-evaluates preconditions.
func (r *IncidentRepository) Save(ctx context.Context, incident *domain.Incident) error {
	row := toIncidentRow(incident)
	result, err := r.db.NamedExecContext(ctx, `
		UPDATE incidents SET
			title = :title, type = :type, priority = :priority, status = :status,
			description = :description, assignee = :assignee, location = :location,
			activity_ids = :activity_ids, escalation_time = :escalation_time,
			escalation_target = :escalation_target, escalation_history = :escalation_history,
			auto_created = :auto_created, requires_validation = :requires_validation,
			dismissible = :dismissible, updated_by = :updated_by, updated_at = :updated_at,
			version = version + 1
		WHERE id = :id AND version = :version`, row)
	if err != nil {
		return fmt.Errorf("failed to save incident %s: %w", incident.ID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read save result for incident %s: %w", incident.ID, err)
	}
	if affected == 0 {
		return &errs.ConflictError{EntityType: statemachine.EntityIncident, EntityID: incident.ID}
	}
	incident.Version++
	return nil
}

// DueForEscalation returns open incidents past their escalation due-time.
func (r *IncidentRepository) DueForEscalation(ctx context.Context, now time.Time) ([]*domain.Incident, error) {
	var rows []incidentRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT * FROM incidents
		WHERE escalation_time IS NOT NULL
		  AND escalation_time <= $1
		  AND status NOT IN ('resolved', 'closed')
		ORDER BY escalation_time ASC`, now)
	if err != nil {
		return nil, fmt.Errorf("failed to query due incidents: %w", err)
	}
	incidents := make([]*domain.Incident, len(rows))
	for i, row := range rows {
		incidents[i] = row.toDomain()
	}
	return incidents, nil
}

// List returns incidents filtered by status, newest first.
func (r *IncidentRepository) List(ctx context.Context, status string, limit, offset int) ([]*domain.Incident, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []incidentRow
	var err error
	if status != "" {
		err = r.db.SelectContext(ctx, &rows, `
			SELECT * FROM incidents WHERE status = $1
			ORDER BY created_at DESC LIMIT $2 OFFSET $3`, status, limit, offset)
	} else {
		err = r.db.SelectContext(ctx, &rows, `
			SELECT * FROM incidents
			ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list incidents: %w", err)
	}
	incidents := make([]*domain.Incident, len(rows))
	for i, row := range rows {
		incidents[i] = row.toDomain()
	}
	return incidents, nil
}
