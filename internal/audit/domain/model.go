package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type ActorType string

const (
	ActorTypeUser   ActorType = "user"
	ActorTypeAPIKey ActorType = "api_key"
	ActorTypeSystem ActorType = "system"
)

const (
	EventEntitlementDiffApplied = "entitlement.diff_applied"
	EventEntitlementReset       = "entitlement.reset"
	EventEntitlementBypass      = "entitlement.bypass"
)

// AuditEvent is the append-only record of an update engine invocation. It is
// the sole source of historical truth for entitlement changes; rows are
// immutable once written.
type AuditEvent struct {
	ID    snowflake.ID  `gorm:"primaryKey"`
	OrgID *snowflake.ID `gorm:"column:org_id;index"`

	EventType string  `gorm:"column:event_type;type:text;not null"`
	ActorType string  `gorm:"column:actor_type;type:text;not null"`
	ActorID   *string `gorm:"column:actor_id;type:text"`
	Reason    string  `gorm:"type:text;not null"`

	// Diff records (previous state or "absent") -> new state for every
	// changed module and submodule.
	Diff datatypes.JSONMap `gorm:"type:jsonb"`

	IdempotencyKey *string `gorm:"column:idempotency_key;type:text;uniqueIndex:ux_audit_events_idempotency"`

	IPAddress *string `gorm:"column:ip_address;type:text"`
	UserAgent *string `gorm:"column:user_agent;type:text"`

	CreatedAt time.Time `gorm:"not null;index"`
}

func (AuditEvent) TableName() string { return "audit_events" }

// AuditCursor is the keyset position for paginated listing.
type AuditCursor struct {
	ID        snowflake.ID
	CreatedAt time.Time
}

type ListFilter struct {
	OrgID     snowflake.ID
	EventType string
	ActorType string
	StartAt   *time.Time
	EndAt     *time.Time
	Cursor    *AuditCursor
	Limit     int
}
