package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	ListModuleEntitlements(ctx context.Context, db *gorm.DB, orgID snowflake.ID) ([]OrgModuleEntitlement, error)
	ListSubmoduleEntitlements(ctx context.Context, db *gorm.DB, orgID snowflake.ID) ([]OrgSubmoduleEntitlement, error)
	InsertModuleEntitlement(ctx context.Context, db *gorm.DB, row *OrgModuleEntitlement) error
	UpdateModuleEntitlement(ctx context.Context, db *gorm.DB, row *OrgModuleEntitlement) error
	InsertSubmoduleEntitlement(ctx context.Context, db *gorm.DB, row *OrgSubmoduleEntitlement) error
	UpdateSubmoduleEntitlement(ctx context.Context, db *gorm.DB, row *OrgSubmoduleEntitlement) error
}
