package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-redis/redis/v8"

	"sentinelops/internal/domain"
	"sentinelops/internal/errs"
	"sentinelops/internal/lifecycle"
)

// escalationFenceTTL bounds how long a sweep's claim on one due incident
// lives. Long enough to cover a slow escalation, short enough that a crashed
// claimant does not block the incident forever.
const escalationFenceTTL = 30 * time.Minute

// EscalationService is the slice of the lifecycle service the escalation
// sweep needs.
type EscalationService interface {
	SweepDueEscalations(ctx context.Context, now time.Time) ([]*domain.Incident, error)
	Escalate(ctx context.Context, id string, targetRole domain.Role, reason string, actor domain.ActorContext) (*domain.Incident, error)
}

// EscalationSweep escalates incidents whose escalation window has elapsed.
// A Redis fence keyed by incident and due-time keeps concurrent engine
// replicas from double-escalating the same incident.
type EscalationSweep struct {
	logger  *slog.Logger
	service EscalationService
	redis   *redis.Client
}

// NewEscalationSweep creates the escalation sweep handler.
func NewEscalationSweep(logger *slog.Logger, service EscalationService, redisClient *redis.Client) *EscalationSweep {
	return &EscalationSweep{logger: logger, service: service, redis: redisClient}
}

// Name implements TaskHandler.
func (h *EscalationSweep) Name() string { return "escalation-sweep" }

// Execute implements TaskHandler.
func (h *EscalationSweep) Execute(ctx context.Context) error {
	now := time.Now().UTC()
	due, err := h.service.SweepDueEscalations(ctx, now)
	if err != nil {
		return fmt.Errorf("failed to sweep due escalations: %w", err)
	}
	if len(due) == 0 {
		return nil
	}

	escalated := 0
	for _, incident := range due {
		if incident.EscalationTime == nil {
			continue
		}
		if !h.claim(ctx, incident) {
			continue
		}

		reason := fmt.Sprintf("escalation window elapsed at %s", incident.EscalationTime.Format(time.RFC3339))
		if _, err := h.service.Escalate(ctx, incident.ID, incident.EscalationTarget, reason, lifecycle.SystemActor); err != nil {
			// A conflict or business-rule rejection means another writer got
			// there first or the incident left the escalatable states; both
			// are resolved, not errors.
			if errs.IsConflict(err) || errs.IsBusinessRule(err) {
				continue
			}
			h.logger.Error("failed to escalate due incident",
				"incident_id", incident.ID,
				"error", err)
			continue
		}
		escalated++
	}

	h.logger.Info("escalation sweep completed",
		"due", len(due),
		"escalated", escalated)
	return nil
}

// claim takes the fence for one due incident. When Redis is unreachable the
// sweep proceeds unfenced: the version guard on the incident row still
// prevents double-escalation, the fence only avoids wasted work.
func (h *EscalationSweep) claim(ctx context.Context, incident *domain.Incident) bool {
	key := fmt.Sprintf("escalation:fence:%s:%d", incident.ID, incident.EscalationTime.Unix())
	acquired, err := h.redis.SetNX(ctx, key, "1", escalationFenceTTL).Result()
	if err != nil {
		h.logger.Warn("escalation fence unavailable, proceeding unfenced",
			"incident_id", incident.ID,
			"error", err)
		return true
	}
	return acquired
}

// BOLSweeper is the slice of the lifecycle service the expiry sweep needs.
type BOLSweeper interface {
	SweepExpiredBOLs(ctx context.Context, now time.Time) ([]*domain.BOLAlert, error)
}

// BOLExpirySweep transitions active BOL alerts past their expiry to expired.
type BOLExpirySweep struct {
	logger  *slog.Logger
	service BOLSweeper
}

// NewBOLExpirySweep creates the BOL expiry sweep handler.
func NewBOLExpirySweep(logger *slog.Logger, service BOLSweeper) *BOLExpirySweep {
	return &BOLExpirySweep{logger: logger, service: service}
}

// Name implements TaskHandler.
func (h *BOLExpirySweep) Name() string { return "bol-expiry-sweep" }

// Execute implements TaskHandler.
func (h *BOLExpirySweep) Execute(ctx context.Context) error {
	expired, err := h.service.SweepExpiredBOLs(ctx, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to sweep expired BOL alerts: %w", err)
	}
	if len(expired) > 0 {
		h.logger.Info("BOL expiry sweep completed", "expired", len(expired))
	}
	return nil
}

// Archiver marks old activities read-only.
type Archiver interface {
	ArchiveOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// ArchiveSweep archives activities older than the configured age.
type ArchiveSweep struct {
	logger     *slog.Logger
	activities Archiver
	maxAge     time.Duration
}

// NewArchiveSweep creates the activity archive sweep handler.
func NewArchiveSweep(logger *slog.Logger, activities Archiver, maxAge time.Duration) *ArchiveSweep {
	return &ArchiveSweep{logger: logger, activities: activities, maxAge: maxAge}
}

// Name implements TaskHandler.
func (h *ArchiveSweep) Name() string { return "activity-archive-sweep" }

// Execute implements TaskHandler.
func (h *ArchiveSweep) Execute(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-h.maxAge)
	archived, err := h.activities.ArchiveOlderThan(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("failed to archive activities: %w", err)
	}
	if archived > 0 {
		h.logger.Info("activity archive sweep completed",
			"archived", archived,
			"cutoff", cutoff)
	}
	return nil
}

// Purger removes audit entries past retention.
type Purger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// RetentionSweep purges audit entries whose retention date has passed.
type RetentionSweep struct {
	logger *slog.Logger
	audit  Purger
}

// NewRetentionSweep creates the audit retention sweep handler.
func NewRetentionSweep(logger *slog.Logger, audit Purger) *RetentionSweep {
	return &RetentionSweep{logger: logger, audit: audit}
}

// Name implements TaskHandler.
func (h *RetentionSweep) Name() string { return "audit-retention-sweep" }

// Execute implements TaskHandler.
func (h *RetentionSweep) Execute(ctx context.Context) error {
	purged, err := h.audit.PurgeExpired(ctx)
	if err != nil {
		return fmt.Errorf("failed to purge expired audit entries: %w", err)
	}
	if purged > 0 {
		h.logger.Info("audit retention sweep completed", "purged", purged)
	}
	return nil
}
