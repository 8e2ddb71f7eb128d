package domain

import (
	"encoding/json"
	"time"
)

// AuditAction enumerates the mutation kinds an audit entry can record.
type AuditAction string

const (
	AuditCreate           AuditAction = "create"
	AuditUpdate           AuditAction = "update"
	AuditStatusChange     AuditAction = "status_change"
	AuditLink             AuditAction = "link"
	AuditEscalate         AuditAction = "escalate"
	AuditMatch            AuditAction = "match"
	AuditExpire           AuditAction = "expire"
	AuditPermissionChange AuditAction = "permission_change"
	AuditLogin            AuditAction = "login"
	AuditLogout           AuditAction = "logout"
	AuditSystem           AuditAction = "system"
)

// AuditActions lists every known audit action.
var AuditActions = []AuditAction{
	AuditCreate, AuditUpdate, AuditStatusChange, AuditLink, AuditEscalate,
	AuditMatch, AuditExpire, AuditPermissionChange, AuditLogin, AuditLogout,
	AuditSystem,
}

// FieldChange records a single field-level difference in a mutation.
type FieldChange struct {
	Field string `json:"field"`
	From  any    `json:"from,omitempty"`
	To    any    `json:"to,omitempty"`
}

// AuditActor captures WHO performed a mutation.
type AuditActor struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Role      Role   `json:"role"`
	SessionID string `json:"session_id,omitempty"`
	IPAddress string `json:"ip_address,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
}

// AuditEntry is an immutable WHO/WHAT/WHEN/WHERE/WHY record of one mutation.
// Entries are never updated, and never deleted before RetentionDate.
type AuditEntry struct {
	ID            string          `json:"id" db:"id"`
	Actor         AuditActor      `json:"actor"`
	Action        AuditAction     `json:"action" db:"action"`
	EntityType    string          `json:"entity_type" db:"entity_type"`
	EntityID      string          `json:"entity_id" db:"entity_id"`
	Timestamp     time.Time       `json:"timestamp" db:"timestamp"`
	Location      *Location       `json:"location,omitempty"`
	Reason        string          `json:"reason,omitempty" db:"reason"`
	BeforeState   json.RawMessage `json:"before_state,omitempty" db:"before_state"`
	AfterState    json.RawMessage `json:"after_state,omitempty" db:"after_state"`
	Changes       []FieldChange   `json:"changes,omitempty"`
	Source        string          `json:"source" db:"source"`
	CorrelationID string          `json:"correlation_id" db:"correlation_id"`
	RetentionDate time.Time       `json:"retention_date" db:"retention_date"`
	Sensitive     bool            `json:"sensitive" db:"sensitive"`
}
