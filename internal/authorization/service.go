package authorization

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

type Service interface {
	// Authorize checks whether the actor may perform action on object within
	// the organization. Actor is a subject string: "user:<id>",
	// "api_key:<id>" or "system".
	Authorize(ctx context.Context, actor string, orgID string, object string, action string) error

	// RoleForUser returns the user's role inside the organization, or
	// ErrForbidden when they are not a member.
	RoleForUser(ctx context.Context, orgID snowflake.ID, userID snowflake.ID) (string, error)
}

var (
	ErrForbidden           = errors.New("forbidden")
	ErrInvalidActor        = errors.New("invalid_actor")
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidObject       = errors.New("invalid_object")
	ErrInvalidAction       = errors.New("invalid_action")
)

// OrganizationMember maps a user to their role within one organization.
type OrganizationMember struct {
	ID     snowflake.ID `gorm:"primaryKey"`
	OrgID  snowflake.ID `gorm:"column:org_id;not null;uniqueIndex:ux_organization_members,priority:1"`
	UserID snowflake.ID `gorm:"column:user_id;not null;uniqueIndex:ux_organization_members,priority:2"`
	Role   string       `gorm:"type:text;not null"`

	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (OrganizationMember) TableName() string { return "organization_members" }

// AdminLike reports whether the role may see locked features in the UI.
func AdminLike(role string) bool {
	switch role {
	case "owner", "admin":
		return true
	default:
		return false
	}
}
