package database

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"sentinelops/internal/domain"
)

// RuleRepository loads the configuration entities: status transition rules
// and auto-creation rules. Both are read at startup and treated as read-only
// afterwards.
type RuleRepository struct {
	BaseRepository
	logger *slog.Logger
}

// NewRuleRepository creates a rule repository.
func NewRuleRepository(db *sqlx.DB, logger *slog.Logger) *RuleRepository {
	return &RuleRepository{BaseRepository: BaseRepository{db: db}, logger: logger}
}

type transitionRuleRow struct {
	EntityType       string         `db:"entity_type"`
	FromStatus       string         `db:"from_status"`
	ToStatus         string         `db:"to_status"`
	RequiredRoles    pq.StringArray `db:"required_roles"`
	RequiresApproval bool           `db:"requires_approval"`
}

// TransitionRules loads the configured transition rule table. An empty table
// is not an error: callers fall back to the compiled-in defaults.
func (r *RuleRepository) TransitionRules(ctx context.Context) ([]domain.StatusTransitionRule, error) {
	var rows []transitionRuleRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT entity_type, from_status, to_status, required_roles, requires_approval
		FROM transition_rules
		ORDER BY entity_type, from_status, to_status`)
	if err != nil {
		return nil, fmt.Errorf("failed to load transition rules: %w", err)
	}

	rules := make([]domain.StatusTransitionRule, len(rows))
	for i, row := range rows {
		roles := make([]domain.Role, len(row.RequiredRoles))
		for j, role := range row.RequiredRoles {
			roles[j] = domain.Role(role)
		}
		rules[i] = domain.StatusTransitionRule{
			EntityType:       row.EntityType,
			FromStatus:       row.FromStatus,
			ToStatus:         row.ToStatus,
			RequiredRoles:    roles,
			RequiresApproval: row.RequiresApproval,
		}
	}
	r.logger.Info("transition rules loaded", "count", len(rules))
	return rules, nil
}

type autoRuleRow struct {
	ID            string `db:"id"`
	SourceType    string `db:"source_type"`
	Condition     []byte `db:"condition"`
	TargetType    string `db:"target_type"`
	Configuration []byte `db:"configuration"`
	Enabled       bool   `db:"enabled"`
}

// AutoCreationRules loads the configured auto-creation rule table.
func (r *RuleRepository) AutoCreationRules(ctx context.Context) ([]domain.AutoCreationRule, error) {
	var rows []autoRuleRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT id, source_type, condition, target_type, configuration, enabled
		FROM auto_creation_rules
		ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to load auto-creation rules: %w", err)
	}

	rules := make([]domain.AutoCreationRule, len(rows))
	for i, row := range rows {
		rule := domain.AutoCreationRule{
			ID:         row.ID,
			SourceType: domain.ActivityType(row.SourceType),
			TargetType: domain.IncidentType(row.TargetType),
			Enabled:    row.Enabled,
		}
		fromJSON(row.Condition, &rule.Condition)
		fromJSON(row.Configuration, &rule.Configuration)
		rules[i] = rule
	}
	r.logger.Info("auto-creation rules loaded", "count", len(rules))
	return rules, nil
}
