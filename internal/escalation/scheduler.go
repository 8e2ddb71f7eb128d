// Package escalation computes escalation due-times for unresolved incidents
// and surfaces the set past due. The scheduler never mutates state itself:
// acting on sweep results, and de-duplicating that action across concurrent
// sweepers, is the caller's job.
package escalation

import (
	"context"
	"time"

	"sentinelops/internal/domain"
)

// Windows sets how long an incident may sit unresolved per priority before
// escalation is due.
type Windows struct {
	CriticalAfter time.Duration
	HighAfter     time.Duration
	DefaultAfter  time.Duration
}

// DefaultWindows is the standing policy: critical 15m, high 30m, anything
// else active 60m.
func DefaultWindows() Windows {
	return Windows{
		CriticalAfter: 15 * time.Minute,
		HighAfter:     30 * time.Minute,
		DefaultAfter:  60 * time.Minute,
	}
}

// DueSource is the slice of the incident store the sweep reads.
type DueSource interface {
	// DueForEscalation returns incidents with escalation_time <= now whose
	// status is neither resolved nor closed.
	DueForEscalation(ctx context.Context, now time.Time) ([]*domain.Incident, error)
}

// Scheduler is a pure function over incidents, configuration and the
// caller-supplied notion of now.
type Scheduler struct {
	windows Windows
}

// New creates a scheduler. Zero windows fall back to the defaults.
func New(windows Windows) *Scheduler {
	def := DefaultWindows()
	if windows.CriticalAfter <= 0 {
		windows.CriticalAfter = def.CriticalAfter
	}
	if windows.HighAfter <= 0 {
		windows.HighAfter = def.HighAfter
	}
	if windows.DefaultAfter <= 0 {
		windows.DefaultAfter = def.DefaultAfter
	}
	return &Scheduler{windows: windows}
}

// Plan computes the escalation due-time and target role for an incident.
// Resolved and closed incidents, and non-active incidents below high
// priority, carry no escalation.
func (s *Scheduler) Plan(incident *domain.Incident, now time.Time) (time.Time, domain.Role, bool) {
	if incident.Status == domain.IncidentResolved || incident.Status == domain.IncidentClosed {
		return time.Time{}, "", false
	}
	switch incident.Priority {
	case domain.PriorityCritical:
		return now.Add(s.windows.CriticalAfter), domain.RoleSupervisor, true
	case domain.PriorityHigh:
		return now.Add(s.windows.HighAfter), domain.RoleSupervisor, true
	default:
		if incident.Status == domain.IncidentActive {
			return now.Add(s.windows.DefaultAfter), domain.RoleAdmin, true
		}
		return time.Time{}, "", false
	}
}

// Apply stamps the planned escalation onto the incident, clearing it when no
// escalation applies.
func (s *Scheduler) Apply(incident *domain.Incident, now time.Time) {
	due, target, ok := s.Plan(incident, now)
	if !ok {
		incident.EscalationTime = nil
		incident.EscalationTarget = ""
		return
	}
	incident.EscalationTime = &due
	incident.EscalationTarget = target
}

// SweepDue returns every incident past its escalation due-time that is still
// open. The sweep is read-only and safe to run from concurrent schedulers;
// callers must fence the action they take using the incident's current
// escalation_time.
func (s *Scheduler) SweepDue(ctx context.Context, source DueSource, now time.Time) ([]*domain.Incident, error) {
	candidates, err := source.DueForEscalation(ctx, now)
	if err != nil {
		return nil, err
	}
	due := make([]*domain.Incident, 0, len(candidates))
	for _, incident := range candidates {
		if incident.EscalationTime == nil || incident.EscalationTime.After(now) {
			continue
		}
		if incident.Status == domain.IncidentResolved || incident.Status == domain.IncidentClosed {
			continue
		}
		due = append(due, incident)
	}
	return due, nil
}
