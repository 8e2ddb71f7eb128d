package domain

import (
	"strings"
	"time"
)

// ActivityType classifies a reported or detected security event.
type ActivityType string

const (
	ActivityMedical        ActivityType = "medical"
	ActivitySecurityBreach ActivityType = "security-breach"
	ActivityAlert          ActivityType = "alert"
	ActivityPatrol         ActivityType = "patrol"
	ActivityEvidence       ActivityType = "evidence"
	ActivityPropertyDamage ActivityType = "property-damage"
	ActivityBOLEvent       ActivityType = "bol-event"
)

// ActivityTypes lists every known activity type, used for enum validation.
var ActivityTypes = []ActivityType{
	ActivityMedical,
	ActivitySecurityBreach,
	ActivityAlert,
	ActivityPatrol,
	ActivityEvidence,
	ActivityPropertyDamage,
	ActivityBOLEvent,
}

// Priority is the urgency level shared by activities, incidents and BOL alerts.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Priorities lists every known priority, used for enum validation.
var Priorities = []Priority{PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical}

// Role identifies the authorization level of a caller.
type Role string

const (
	RoleOfficer    Role = "officer"
	RoleDispatcher Role = "dispatcher"
	RoleSupervisor Role = "supervisor"
	RoleAdmin      Role = "admin"
)

// Valid reports whether the role is one of the known authorization levels.
func (r Role) Valid() bool {
	switch r {
	case RoleOfficer, RoleDispatcher, RoleSupervisor, RoleAdmin:
		return true
	}
	return false
}

// ActivityStatus tracks the archival state of an activity. Activities are
// immutable once classified except for status and incident-context links.
type ActivityStatus string

const (
	ActivityStatusReported ActivityStatus = "reported"
	ActivityStatusArchived ActivityStatus = "archived"
)

// IncidentStatus is the lifecycle state of an incident.
type IncidentStatus string

const (
	IncidentPending       IncidentStatus = "pending"
	IncidentActive        IncidentStatus = "active"
	IncidentInvestigating IncidentStatus = "investigating"
	IncidentResolved      IncidentStatus = "resolved"
	IncidentClosed        IncidentStatus = "closed"
)

// IncidentStatuses lists every known incident status.
var IncidentStatuses = []IncidentStatus{
	IncidentPending, IncidentActive, IncidentInvestigating, IncidentResolved, IncidentClosed,
}

// BOLStatus is the lifecycle state of a be-on-lookout alert.
type BOLStatus string

const (
	BOLActive    BOLStatus = "active"
	BOLMatched   BOLStatus = "matched"
	BOLExpired   BOLStatus = "expired"
	BOLCancelled BOLStatus = "cancelled"
)

// BOLStatuses lists every known BOL status.
var BOLStatuses = []BOLStatus{BOLActive, BOLMatched, BOLExpired, BOLCancelled}

// BOLType classifies what a lookout alert is watching for.
type BOLType string

const (
	BOLPerson   BOLType = "person"
	BOLVehicle  BOLType = "vehicle"
	BOLObject   BOLType = "object"
	BOLBehavior BOLType = "behavior"
	BOLActivity BOLType = "activity"
	BOLThreat   BOLType = "threat"
)

// BOLTypes lists every known BOL type.
var BOLTypes = []BOLType{BOLPerson, BOLVehicle, BOLObject, BOLBehavior, BOLActivity, BOLThreat}

// IncidentType classifies a tracked response unit.
type IncidentType string

const (
	IncidentMedicalEmergency IncidentType = "medical-emergency"
	IncidentSecurityBreach   IncidentType = "security-breach"
	IncidentBOLMatch         IncidentType = "bol-match"
	IncidentAlarmResponse    IncidentType = "alarm-response"
	IncidentPropertyDamage   IncidentType = "property-damage"
	IncidentGeneral          IncidentType = "general"
)

// ContextRole describes how an activity relates to an incident.
type ContextRole string

const (
	ContextTrigger  ContextRole = "trigger"
	ContextRelated  ContextRole = "related"
	ContextEvidence ContextRole = "evidence"
)

// Location pins an observation to a site/building/zone.
type Location struct {
	Site     string `json:"site" db:"site"`
	Building string `json:"building,omitempty" db:"building"`
	Zone     string `json:"zone,omitempty" db:"zone"`
}

// String renders the location as a single lower-cased descriptor string used
// by the confidence matcher's token heuristics.
func (l Location) String() string {
	parts := make([]string, 0, 3)
	for _, p := range []string{l.Site, l.Building, l.Zone} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.ToLower(strings.Join(parts, " "))
}

// Equal reports whether two locations name the same place. Empty building or
// zone on either side is treated as a wildcard for that level.
func (l Location) Equal(other Location) bool {
	if !strings.EqualFold(l.Site, other.Site) {
		return false
	}
	if l.Building != "" && other.Building != "" && !strings.EqualFold(l.Building, other.Building) {
		return false
	}
	if l.Zone != "" && other.Zone != "" && !strings.EqualFold(l.Zone, other.Zone) {
		return false
	}
	return true
}

// IncidentContext back-references an incident from an activity.
type IncidentContext struct {
	IncidentID string      `json:"incident_id" db:"incident_id"`
	Role       ContextRole `json:"role" db:"role"`
}

// Activity is a single observed security event. Once classified it is
// immutable except for its status and incident-context list.
type Activity struct {
	ID               string            `json:"id" db:"id"`
	Type             ActivityType      `json:"type" db:"type"`
	Priority         Priority          `json:"priority" db:"priority"`
	Status           ActivityStatus    `json:"status" db:"status"`
	Description      string            `json:"description" db:"description"`
	Location         Location          `json:"location"`
	OccurredAt       time.Time         `json:"occurred_at" db:"occurred_at"`
	Confidence       *float64          `json:"confidence,omitempty" db:"confidence"`
	CreatedBy        string            `json:"created_by" db:"created_by"`
	Tags             []string          `json:"tags" db:"tags"`
	IncidentContexts []IncidentContext `json:"incident_contexts"`
	Attributes       map[string]any    `json:"attributes,omitempty"`
	CreatedAt        time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at" db:"updated_at"`
	Version          int               `json:"version" db:"version"`
}

// TransitionRecord is one entry in an entity's status history.
type TransitionRecord struct {
	Timestamp        time.Time `json:"timestamp"`
	FromStatus       string    `json:"from_status"`
	ToStatus         string    `json:"to_status"`
	Actor            string    `json:"actor"`
	Reason           string    `json:"reason,omitempty"`
	RequiresApproval bool      `json:"requires_approval"`
}

// Incident is a trackable unit of response. Incidents are never hard
// deleted: closing is a terminal status, not a removal.
type Incident struct {
	ID                 string             `json:"id" db:"id"`
	Title              string             `json:"title" db:"title"`
	Type               IncidentType       `json:"type" db:"type"`
	Priority           Priority           `json:"priority" db:"priority"`
	Status             IncidentStatus     `json:"status" db:"status"`
	Description        string             `json:"description" db:"description"`
	Assignee           string             `json:"assignee,omitempty" db:"assignee"`
	Location           Location           `json:"location"`
	ActivityIDs        []string           `json:"activity_ids"`
	EscalationTime     *time.Time         `json:"escalation_time,omitempty" db:"escalation_time"`
	EscalationTarget   Role               `json:"escalation_target,omitempty" db:"escalation_target"`
	EscalationHistory  []TransitionRecord `json:"escalation_history"`
	AutoCreated        bool               `json:"auto_created" db:"auto_created"`
	RequiresValidation bool               `json:"requires_validation" db:"requires_validation"`
	Dismissible        bool               `json:"dismissible" db:"dismissible"`
	CreatedBy          string             `json:"created_by" db:"created_by"`
	UpdatedBy          string             `json:"updated_by" db:"updated_by"`
	CreatedAt          time.Time          `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time          `json:"updated_at" db:"updated_at"`
	Version            int                `json:"version" db:"version"`
}

// Terminal reports whether the incident is in a terminal state.
func (i *Incident) Terminal() bool {
	return i.Status == IncidentClosed
}

// GeographicScope bounds where a BOL alert applies. At least one of the
// fields must be populated.
type GeographicScope struct {
	Sites        []string `json:"sites,omitempty"`
	Buildings    []string `json:"buildings,omitempty"`
	Zones        []string `json:"zones,omitempty"`
	RadiusMeters float64  `json:"radius_meters,omitempty"`
}

// Empty reports whether the scope constrains nothing.
func (g GeographicScope) Empty() bool {
	return len(g.Sites) == 0 && len(g.Buildings) == 0 && len(g.Zones) == 0 && g.RadiusMeters <= 0
}

// VehicleDetails describe a vehicle a BOL alert is watching for.
type VehicleDetails struct {
	LicensePlate string `json:"license_plate,omitempty"`
	Color        string `json:"color,omitempty"`
	Make         string `json:"make,omitempty"`
	Model        string `json:"model,omitempty"`
}

// MatchRecord is the immutable result of one confidence evaluation between a
// BOL alert and an activity. Records are appended, never mutated: the match
// history is a log, not a set.
type MatchRecord struct {
	ActivityID string    `json:"activity_id"`
	Confidence float64   `json:"confidence"`
	Manual     bool      `json:"manual"`
	MatchedBy  string    `json:"matched_by"`
	Timestamp  time.Time `json:"timestamp"`
}

// BOLAlert is a standing be-on-lookout alert.
type BOLAlert struct {
	ID                   string          `json:"id" db:"id"`
	Title                string          `json:"title" db:"title"`
	Type                 BOLType         `json:"type" db:"type"`
	Priority             Priority        `json:"priority" db:"priority"`
	Status               BOLStatus       `json:"status" db:"status"`
	Description          string          `json:"description" db:"description"`
	ConfidenceThreshold  float64         `json:"confidence_threshold" db:"confidence_threshold"`
	AutoMatchEnabled     bool            `json:"auto_match_enabled" db:"auto_match_enabled"`
	GeographicScope      GeographicScope `json:"geographic_scope"`
	PhysicalDescriptors  []string        `json:"physical_descriptors,omitempty"`
	BehavioralIndicators []string        `json:"behavioral_indicators,omitempty"`
	Vehicle              *VehicleDetails `json:"vehicle,omitempty"`
	ExpiresAt            time.Time       `json:"expires_at" db:"expires_at"`
	MatchHistory         []MatchRecord   `json:"match_history"`
	CreatedBy            string          `json:"created_by" db:"created_by"`
	UpdatedBy            string          `json:"updated_by" db:"updated_by"`
	CreatedAt            time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt            time.Time       `json:"updated_at" db:"updated_at"`
	Version              int             `json:"version" db:"version"`
}

// Terminal reports whether the BOL alert is in a terminal state.
func (b *BOLAlert) Terminal() bool {
	return b.Status == BOLExpired || b.Status == BOLCancelled
}

// ExpiryByPriority returns the default lookout window for a priority, applied
// at creation when no explicit expiry is set.
func ExpiryByPriority(p Priority) time.Duration {
	switch p {
	case PriorityCritical:
		return 72 * time.Hour
	case PriorityHigh:
		return 48 * time.Hour
	case PriorityMedium:
		return 24 * time.Hour
	default:
		return 12 * time.Hour
	}
}

// ActorContext identifies the authenticated caller of an operation. It is
// supplied by the identity collaborator and treated as pre-validated input.
type ActorContext struct {
	UserID    string `json:"user_id"`
	UserName  string `json:"user_name"`
	UserRole  Role   `json:"user_role"`
	SessionID string `json:"session_id,omitempty"`
	IPAddress string `json:"ip_address,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
}

// StatusTransitionRule declares one legal status edge for an entity type.
// Rules are configuration, loaded at startup and read-only at runtime.
type StatusTransitionRule struct {
	EntityType       string `json:"entity_type" db:"entity_type"`
	FromStatus       string `json:"from_status" db:"from_status"`
	ToStatus         string `json:"to_status" db:"to_status"`
	RequiredRoles    []Role `json:"required_roles"`
	RequiresApproval bool   `json:"requires_approval" db:"requires_approval"`
}

// ConditionOperator is one comparison in a declarative rule condition.
type ConditionOperator string

const (
	OpEq       ConditionOperator = "eq"
	OpNe       ConditionOperator = "ne"
	OpGt       ConditionOperator = "gt"
	OpLt       ConditionOperator = "lt"
	OpGte      ConditionOperator = "gte"
	OpLte      ConditionOperator = "lte"
	OpIn       ConditionOperator = "in"
	OpNotIn    ConditionOperator = "not_in"
	OpContains ConditionOperator = "contains"
	OpRegex    ConditionOperator = "regex"
)

// ConditionClause is one field/operator/value leaf of a rule condition.
// Clauses on a rule are combined with AND.
type ConditionClause struct {
	Field    string            `json:"field"`
	Operator ConditionOperator `json:"operator"`
	Value    any               `json:"value"`
}

// AutoCreationConfig carries the incident seed parameters of a rule.
type AutoCreationConfig struct {
	Priority       Priority `json:"priority"`
	SkipValidation bool     `json:"skip_validation"`
	Dismissible    bool     `json:"dismissible"`
}

// AutoCreationRule declares when an activity type must spawn an incident.
type AutoCreationRule struct {
	ID            string             `json:"id" db:"id"`
	SourceType    ActivityType       `json:"source_type" db:"source_type"`
	Condition     []ConditionClause  `json:"condition"`
	TargetType    IncidentType       `json:"target_type" db:"target_type"`
	Configuration AutoCreationConfig `json:"configuration"`
	Enabled       bool               `json:"enabled" db:"enabled"`
}
