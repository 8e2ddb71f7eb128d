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

// BOLRepository persists be-on-lookout alerts.
type BOLRepository struct {
	BaseRepository
	logger *slog.Logger
}

// NewBOLRepository creates a BOL repository.
func NewBOLRepository(db *sqlx.DB, logger *slog.Logger) *BOLRepository {
	return &BOLRepository{BaseRepository: BaseRepository{db: db}, logger: logger}
}

type bolRow struct {
	ID                   string         `db:"id"`
	Title                string         `db:"title"`
	Type                 string         `db:"type"`
	Priority             string         `db:"priority"`
	Status               string         `db:"status"`
	Description          string         `db:"description"`
	ConfidenceThreshold  float64        `db:"confidence_threshold"`
	AutoMatchEnabled     bool           `db:"auto_match_enabled"`
	GeographicScope      []byte         `db:"geographic_scope"`
	PhysicalDescriptors  pq.StringArray `db:"physical_descriptors"`
	BehavioralIndicators pq.StringArray `db:"behavioral_indicators"`
	Vehicle              []byte         `db:"vehicle"`
	ExpiresAt            time.Time      `db:"expires_at"`
	MatchHistory         []byte         `db:"match_history"`
	CreatedBy            string         `db:"created_by"`
	UpdatedBy            string         `db:"updated_by"`
	CreatedAt            time.Time      `db:"created_at"`
	UpdatedAt            time.Time      `db:"updated_at"`
	Version              int            `db:"version"`
}

func toBOLRow(b *domain.BOLAlert) bolRow {
	row := bolRow{
		ID:                   b.ID,
		Title:                b.Title,
		Type:                 string(b.Type),
		Priority:             string(b.Priority),
		Status:               string(b.Status),
		Description:          b.Description,
		ConfidenceThreshold:  b.ConfidenceThreshold,
		AutoMatchEnabled:     b.AutoMatchEnabled,
		GeographicScope:      mustJSON(b.GeographicScope),
		PhysicalDescriptors:  pq.StringArray(b.PhysicalDescriptors),
		BehavioralIndicators: pq.StringArray(b.BehavioralIndicators),
		ExpiresAt:            b.ExpiresAt,
		MatchHistory:         mustJSON(b.MatchHistory),
		CreatedBy:            b.CreatedBy,
		UpdatedBy:            b.UpdatedBy,
		CreatedAt:            b.CreatedAt,
		UpdatedAt:            b.UpdatedAt,
		Version:              b.Version,
	}
	if b.Vehicle != nil {
		row.Vehicle = mustJSON(b.Vehicle)
	}
	return row
}

func (row bolRow) toDomain() *domain.BOLAlert {
	bol := &domain.BOLAlert{
		ID:                   row.ID,
		Title:                row.Title,
		Type:                 domain.BOLType(row.Type),
		Priority:             domain.Priority(row.Priority),
		Status:               domain.BOLStatus(row.Status),
		Description:          row.Description,
		ConfidenceThreshold:  row.ConfidenceThreshold,
		AutoMatchEnabled:     row.AutoMatchEnabled,
		PhysicalDescriptors:  []string(row.PhysicalDescriptors),
		BehavioralIndicators: []string(row.BehavioralIndicators),
		ExpiresAt:            row.ExpiresAt,
		CreatedBy:            row.CreatedBy,
		UpdatedBy:            row.UpdatedBy,
		CreatedAt:            row.CreatedAt,
		UpdatedAt:            row.UpdatedAt,
		Version:              row.Version,
	}
	fromJSON(row.GeographicScope, &bol.GeographicScope)
	fromJSON(row.MatchHistory, &bol.MatchHistory)
	if len(row.Vehicle) > 0 && string(row.Vehicle) != "null" {
		var vehicle domain.VehicleDetails
		fromJSON(row.Vehicle, &vehicle)
		bol.Vehicle = &vehicle
	}
	return bol
}

// Get loads a BOL alert by id.
func (r *BOLRepository) Get(ctx context.Context, id string) (*domain.BOLAlert, error) {
	var row bolRow
	err := r.db.GetContext(ctx, &row, `SELECT * FROM bol_alerts WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &errs.NotFoundError{EntityType: statemachine.EntityBOLAlert, EntityID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load BOL alert %s: %w", id, err)
	}
	return row.toDomain(), nil
}

// Insert persists a new BOL alert.
func (r *BOLRepository) Insert(ctx context.Context, bol *domain.BOLAlert) error {
	row := toBOLRow(bol)
	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO bol_alerts (
			id, title, type, priority, status, description, confidence_threshold,
			auto_match_enabled, geographic_scope, physical_descriptors,
			behavioral_indicators, vehicle, expires_at, match_history,
			created_by, updated_by, created_at, updated_at, version
		) VALUES (
			:id, :title, :type, :priority, :status, :description, :confidence_threshold,
			:auto_match_enabled, :geographic_scope, :physical_descriptors,
			:behavioral_indicators, :vehicle, :expires_at, :match_history,
			:created_by, :updated_by, :created_at, :updated_at, :version
		)`, row)
	if err != nil {
		return fmt.Errorf("failed to insert BOL alert %s: %w", bol.ID, err)
	}
	return nil
}

// Save updates a BOL alert guarded by its version.
func (r *BOLRepository) Save(ctx context.Context, bol *domain.BOLAlert) error {
	row := toBOLRow(bol)
	result, err := r.db.NamedExecContext(ctx, `
		UPDATE bol_alerts SET
			title = :title, priority = :priority, status = :status,
			description = :description, confidence_threshold = :confidence_threshold,
			auto_match_enabled = :auto_match_enabled, geographic_scope = :geographic_scope,
			physical_descriptors = :physical_descriptors,
			behavioral_indicators = :behavioral_indicators, vehicle = :vehicle,
			expires_at = :expires_at, match_history = :match_history,
			updated_by = :updated_by, updated_at = :updated_at,
			version = version + 1
		WHERE id = :id AND version = :version`, row)
	if err != nil {
		return fmt.Errorf("failed to save BOL alert %s: %w", bol.ID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read save result for BOL alert %s: %w", bol.ID, err)
	}
	if affected == 0 {
		return &errs.ConflictError{EntityType: statemachine.EntityBOLAlert, EntityID: bol.ID}
	}
	bol.Version++
	return nil
}

// ActiveAutoMatch returns active, unexpired, auto-match-enabled alerts.
func (r *BOLRepository) ActiveAutoMatch(ctx context.Context, now time.Time) ([]*domain.BOLAlert, error) {
	var rows []bolRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT * FROM bol_alerts
		WHERE status = 'active' AND auto_match_enabled = true AND expires_at > $1
		ORDER BY created_at DESC`, now)
	if err != nil {
		return nil, fmt.Errorf("failed to query active BOL alerts: %w", err)
	}
	return rowsToBOLs(rows), nil
}

// ExpiredActive returns active alerts whose lookout window has elapsed.
func (r *BOLRepository) ExpiredActive(ctx context.Context, now time.Time) ([]*domain.BOLAlert, error) {
	var rows []bolRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT * FROM bol_alerts
		WHERE status = 'active' AND expires_at <= $1
		ORDER BY expires_at ASC`, now)
	if err != nil {
		return nil, fmt.Errorf("failed to query expired BOL alerts: %w", err)
	}
	return rowsToBOLs(rows), nil
}

func rowsToBOLs(rows []bolRow) []*domain.BOLAlert {
	bols := make([]*domain.BOLAlert, len(rows))
	for i, row := range rows {
		bols[i] = row.toDomain()
	}
	return bols
}
