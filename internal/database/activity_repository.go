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

// ActivityRepository persists activities.
type ActivityRepository struct {
	BaseRepository
	logger *slog.Logger
}

// NewActivityRepository creates an activity repository.
func NewActivityRepository(db *sqlx.DB, logger *slog.Logger) *ActivityRepository {
	return &ActivityRepository{BaseRepository: BaseRepository{db: db}, logger: logger}
}

type activityRow struct {
	ID               string          `db:"id"`
	Type             string          `db:"type"`
	Priority         string          `db:"priority"`
	Status           string          `db:"status"`
	Description      string          `db:"description"`
	Location         []byte          `db:"location"`
	OccurredAt       time.Time       `db:"occurred_at"`
	Confidence       sql.NullFloat64 `db:"confidence"`
	CreatedBy        string          `db:"created_by"`
	Tags             pq.StringArray  `db:"tags"`
	IncidentContexts []byte          `db:"incident_contexts"`
	Attributes       []byte          `db:"attributes"`
	CreatedAt        time.Time       `db:"created_at"`
	UpdatedAt        time.Time       `db:"updated_at"`
	Version          int             `db:"version"`
}

func toActivityRow(a *domain.Activity) activityRow {
	row := activityRow{
		ID:               a.ID,
		Type:             string(a.Type),
		Priority:         string(a.Priority),
		Status:           string(a.Status),
		Description:      a.Description,
		Location:         mustJSON(a.Location),
		OccurredAt:       a.OccurredAt,
		CreatedBy:        a.CreatedBy,
		Tags:             pq.StringArray(a.Tags),
		IncidentContexts: mustJSON(a.IncidentContexts),
		Attributes:       mustJSON(a.Attributes),
		CreatedAt:        a.CreatedAt,
		UpdatedAt:        a.UpdatedAt,
		Version:          a.Version,
	}
	if a.Confidence != nil {
		row.Confidence = sql.NullFloat64{Float64: *a.Confidence, Valid: true}
	}
	return row
}

func (row activityRow) toDomain() *domain.Activity {
	activity := &domain.Activity{
		ID:          row.ID,
		Type:        domain.ActivityType(row.Type),
		Priority:    domain.Priority(row.Priority),
		Status:      domain.ActivityStatus(row.Status),
		Description: row.Description,
		OccurredAt:  row.OccurredAt,
		CreatedBy:   row.CreatedBy,
		Tags:        []string(row.Tags),
		CreatedAt:   row.CreatedAt,
		UpdatedAt:   row.UpdatedAt,
		Version:     row.Version,
	}
	fromJSON(row.Location, &activity.Location)
	fromJSON(row.IncidentContexts, &activity.IncidentContexts)
	fromJSON(row.Attributes, &activity.Attributes)
	if row.Confidence.Valid {
		c := row.Confidence.Float64
		activity.Confidence = &c
	}
	return activity
}

// Get loads an activity by id.
func (r *ActivityRepository) Get(ctx context.Context, id string) (*domain.Activity, error) {
	var row activityRow
	err := r.db.GetContext(ctx, &row, `SELECT * FROM activities WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &errs.NotFoundError{EntityType: statemachine.EntityActivity, EntityID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load activity %s: %w", id, err)
	}
	return row.toDomain(), nil
}

// Insert persists a new activity.
func (r *ActivityRepository) Insert(ctx context.Context, activity *domain.Activity) error {
	row := toActivityRow(activity)
	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO activities (
			id, type, priority, status, description, location, occurred_at,
			confidence, created_by, tags, incident_contexts, attributes,
			created_at, updated_at, version
		) VALUES (
			:id, :type, :priority, :status, :description, :location, :occurred_at,
			:confidence, :created_by, :tags, :incident_contexts, :attributes,
			:created_at, :updated_at, :version
		)`, row)
	if err != nil {
		return fmt.Errorf("failed to insert activity %s: %w", activity.ID, err)
	}
	return nil
}

// Save updates an activity. Archived activities are read-only; the guard
// lives in the WHERE clause so it holds against every writer.
func (r *ActivityRepository) Save(ctx context.Context, activity *domain.Activity) error {
	row := toActivityRow(activity)
	result, err := r.db.NamedExecContext(ctx, `
		UPDATE activities SET
			status = :status, incident_contexts = :incident_contexts,
			tags = :tags, updated_at = :updated_at, version = version + 1
		WHERE id = :id AND version = :version AND status != 'archived'`, row)
	if err != nil {
		return fmt.Errorf("failed to save activity %s: %w", activity.ID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read save result for activity %s: %w", activity.ID, err)
	}
	if affected == 0 {
		return &errs.ConflictError{EntityType: statemachine.EntityActivity, EntityID: activity.ID}
	}
	activity.Version++
	return nil
}

// RecentSince returns non-archived activities that occurred at or after the
// cutoff, used by the BOL retro-scan.
func (r *ActivityRepository) RecentSince(ctx context.Context, cutoff time.Time) ([]*domain.Activity, error) {
	var rows []activityRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT * FROM activities
		WHERE occurred_at >= $1 AND status != 'archived'
		ORDER BY occurred_at DESC`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent activities: %w", err)
	}
	activities := make([]*domain.Activity, len(rows))
	for i, row := range rows {
		activities[i] = row.toDomain()
	}
	return activities, nil
}

// ArchiveOlderThan marks activities created before the cutoff as archived
// and returns how many were archived.
func (r *ActivityRepository) ArchiveOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE activities SET status = 'archived', updated_at = NOW()
		WHERE created_at < $1 AND status != 'archived'`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to archive activities: %w", err)
	}
	return result.RowsAffected()
}
