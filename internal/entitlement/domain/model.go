package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type ModuleStatus string

const (
	StatusEnabled  ModuleStatus = "enabled"
	StatusDisabled ModuleStatus = "disabled"
	StatusTrial    ModuleStatus = "trial"
)

// ValidStatus reports whether the value is a known module status.
func ValidStatus(value ModuleStatus) bool {
	switch value {
	case StatusEnabled, StatusDisabled, StatusTrial:
		return true
	default:
		return false
	}
}

// OrgModuleEntitlement is the stored per-organization module grant. Exactly
// one row exists per (org, module); absence resolves to disabled. Rows are
// never hard-deleted — history lives in audit events.
type OrgModuleEntitlement struct {
	ID        snowflake.ID `gorm:"primaryKey"`
	OrgID     snowflake.ID `gorm:"column:org_id;not null;uniqueIndex:ux_org_module_entitlements,priority:1"`
	ModuleKey string       `gorm:"column:module_key;type:text;not null;uniqueIndex:ux_org_module_entitlements,priority:2"`

	Status ModuleStatus `gorm:"type:text;not null"`
	// TrialExpiresAt is present iff Status is trial. Expiry is evaluated at
	// read time by the resolver; the stored status is never rewritten eagerly.
	TrialExpiresAt *time.Time `gorm:"column:trial_expires_at"`
	Source         string     `gorm:"type:text"`

	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (OrgModuleEntitlement) TableName() string { return "org_module_entitlements" }

// OrgSubmoduleEntitlement overrides a single submodule underneath a module
// grant. Absence means inherit (enabled, subject to the module AND-gate).
type OrgSubmoduleEntitlement struct {
	ID           snowflake.ID `gorm:"primaryKey"`
	OrgID        snowflake.ID `gorm:"column:org_id;not null;uniqueIndex:ux_org_submodule_entitlements,priority:1"`
	ModuleKey    string       `gorm:"column:module_key;type:text;not null;uniqueIndex:ux_org_submodule_entitlements,priority:2"`
	SubmoduleKey string       `gorm:"column:submodule_key;type:text;not null;uniqueIndex:ux_org_submodule_entitlements,priority:3"`

	Enabled bool   `gorm:"not null;default:true"`
	Source  string `gorm:"type:text"`

	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (OrgSubmoduleEntitlement) TableName() string { return "org_submodule_entitlements" }
