package statemachine

import "sentinelops/internal/domain"

var (
	allRoles = []domain.Role{
		domain.RoleOfficer, domain.RoleDispatcher, domain.RoleSupervisor, domain.RoleAdmin,
	}
	responderRoles = []domain.Role{
		domain.RoleOfficer, domain.RoleSupervisor, domain.RoleAdmin,
	}
	elevatedRoles = []domain.Role{
		domain.RoleSupervisor, domain.RoleAdmin,
	}
)

// DefaultRules is the built-in transition table for incidents and BOL
// alerts. Terminal states (incident closed, BOL expired/cancelled) are
// reachable by elevated roles only, and every edge leaving a terminal state
// requires supervisor approval.
func DefaultRules() []domain.StatusTransitionRule {
	return []domain.StatusTransitionRule{
		// Incident lifecycle
		rule(EntityIncident, domain.IncidentPending, domain.IncidentActive, allRoles, false),
		rule(EntityIncident, domain.IncidentPending, domain.IncidentInvestigating, responderRoles, false),
		rule(EntityIncident, domain.IncidentPending, domain.IncidentClosed, elevatedRoles, false),
		rule(EntityIncident, domain.IncidentActive, domain.IncidentInvestigating, responderRoles, false),
		rule(EntityIncident, domain.IncidentActive, domain.IncidentResolved, responderRoles, false),
		rule(EntityIncident, domain.IncidentActive, domain.IncidentClosed, elevatedRoles, false),
		rule(EntityIncident, domain.IncidentInvestigating, domain.IncidentActive, responderRoles, false),
		rule(EntityIncident, domain.IncidentInvestigating, domain.IncidentResolved, responderRoles, false),
		rule(EntityIncident, domain.IncidentInvestigating, domain.IncidentClosed, elevatedRoles, false),
		rule(EntityIncident, domain.IncidentResolved, domain.IncidentClosed, elevatedRoles, false),
		rule(EntityIncident, domain.IncidentResolved, domain.IncidentInvestigating, elevatedRoles, true),
		rule(EntityIncident, domain.IncidentClosed, domain.IncidentInvestigating, elevatedRoles, true),

		// BOL alert lifecycle
		rule(EntityBOLAlert, domain.BOLActive, domain.BOLMatched, allRoles, false),
		rule(EntityBOLAlert, domain.BOLActive, domain.BOLExpired, elevatedRoles, false),
		rule(EntityBOLAlert, domain.BOLActive, domain.BOLCancelled, elevatedRoles, false),
		rule(EntityBOLAlert, domain.BOLMatched, domain.BOLActive, responderRoles, false),
		rule(EntityBOLAlert, domain.BOLMatched, domain.BOLExpired, elevatedRoles, false),
		rule(EntityBOLAlert, domain.BOLMatched, domain.BOLCancelled, elevatedRoles, false),
		rule(EntityBOLAlert, domain.BOLExpired, domain.BOLActive, elevatedRoles, true),
		rule(EntityBOLAlert, domain.BOLCancelled, domain.BOLActive, elevatedRoles, true),
	}
}

func rule[F ~string, T ~string](entityType string, from F, to T, roles []domain.Role, approval bool) domain.StatusTransitionRule {
	return domain.StatusTransitionRule{
		EntityType:       entityType,
		FromStatus:       string(from),
		ToStatus:         string(to),
		RequiredRoles:    roles,
		RequiresApproval: approval,
	}
}
