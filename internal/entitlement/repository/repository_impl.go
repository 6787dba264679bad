package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	entitlementdomain "github.com/smallbiznis/featuregate/internal/entitlement/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() entitlementdomain.Repository {
	return &repo{}
}

func (r *repo) ListModuleEntitlements(ctx context.Context, db *gorm.DB, orgID snowflake.ID) ([]entitlementdomain.OrgModuleEntitlement, error) {
	var rows []entitlementdomain.OrgModuleEntitlement
	if err := db.WithContext(ctx).
		Where("org_id = ?", orgID).
		Order("module_key ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repo) ListSubmoduleEntitlements(ctx context.Context, db *gorm.DB, orgID snowflake.ID) ([]entitlementdomain.OrgSubmoduleEntitlement, error) {
	var rows []entitlementdomain.OrgSubmoduleEntitlement
	if err := db.WithContext(ctx).
		Where("org_id = ?", orgID).
		Order("module_key ASC, submodule_key ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repo) InsertModuleEntitlement(ctx context.Context, db *gorm.DB, row *entitlementdomain.OrgModuleEntitlement) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO org_module_entitlements (
			id, org_id, module_key, status, trial_expires_at, source, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		row.ID,
		row.OrgID,
		row.ModuleKey,
		row.Status,
		row.TrialExpiresAt,
		row.Source,
		row.CreatedAt,
		row.UpdatedAt,
	).Error
}

func (r *repo) UpdateModuleEntitlement(ctx context.Context, db *gorm.DB, row *entitlementdomain.OrgModuleEntitlement) error {
	return db.WithContext(ctx).Exec(
		`UPDATE org_module_entitlements
		SET status = ?, trial_expires_at = ?, source = ?, updated_at = ?
		WHERE org_id = ? AND module_key = ?`,
		row.Status,
		row.TrialExpiresAt,
		row.Source,
		row.UpdatedAt,
		row.OrgID,
		row.ModuleKey,
	).Error
}

func (r *repo) InsertSubmoduleEntitlement(ctx context.Context, db *gorm.DB, row *entitlementdomain.OrgSubmoduleEntitlement) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO org_submodule_entitlements (
			id, org_id, module_key, submodule_key, enabled, source, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		row.ID,
		row.OrgID,
		row.ModuleKey,
		row.SubmoduleKey,
		row.Enabled,
		row.Source,
		row.CreatedAt,
		row.UpdatedAt,
	).Error
}

func (r *repo) UpdateSubmoduleEntitlement(ctx context.Context, db *gorm.DB, row *entitlementdomain.OrgSubmoduleEntitlement) error {
	return db.WithContext(ctx).Exec(
		`UPDATE org_submodule_entitlements
		SET enabled = ?, source = ?, updated_at = ?
		WHERE org_id = ? AND module_key = ? AND submodule_key = ?`,
		row.Enabled,
		row.Source,
		row.UpdatedAt,
		row.OrgID,
		row.ModuleKey,
		row.SubmoduleKey,
	).Error
}
