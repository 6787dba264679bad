package repository

import (
	"context"

	"github.com/smallbiznis/featuregate/internal/taxonomy/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) ListModules(ctx context.Context, db *gorm.DB, activeOnly bool) ([]domain.Module, error) {
	var items []domain.Module
	stmt := db.WithContext(ctx).Model(&domain.Module{})
	if activeOnly {
		stmt = stmt.Where("active = ?", true)
	}
	if err := stmt.Order("sort_order asc, key asc").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) ListSubmodules(ctx context.Context, db *gorm.DB, activeOnly bool) ([]domain.Submodule, error) {
	var items []domain.Submodule
	stmt := db.WithContext(ctx).Model(&domain.Submodule{})
	if activeOnly {
		stmt = stmt.Where("active = ?", true)
	}
	if err := stmt.Order("module_key asc, sort_order asc, key asc").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) FindModule(ctx context.Context, db *gorm.DB, key string) (*domain.Module, error) {
	var m domain.Module
	err := db.WithContext(ctx).Raw(
		`SELECT key, name, description, sort_order, always_on, active, created_at, updated_at
		 FROM modules WHERE key = ?`,
		key,
	).Scan(&m).Error
	if err != nil {
		return nil, err
	}
	if m.Key == "" {
		return nil, nil
	}
	return &m, nil
}

func (r *repo) FindSubmodule(ctx context.Context, db *gorm.DB, moduleKey, key string) (*domain.Submodule, error) {
	var s domain.Submodule
	err := db.WithContext(ctx).Raw(
		`SELECT module_key, key, name, menu_path, sort_order, active, created_at, updated_at
		 FROM submodules WHERE module_key = ? AND key = ?`,
		moduleKey,
		key,
	).Scan(&s).Error
	if err != nil {
		return nil, err
	}
	if s.Key == "" {
		return nil, nil
	}
	return &s, nil
}

func (r *repo) CreateModule(ctx context.Context, db *gorm.DB, module *domain.Module) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO modules (key, name, description, sort_order, always_on, active, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		module.Key,
		module.Name,
		module.Description,
		module.SortOrder,
		module.AlwaysOn,
		module.Active,
		module.CreatedAt,
		module.UpdatedAt,
	).Error
}

func (r *repo) CreateSubmodule(ctx context.Context, db *gorm.DB, submodule *domain.Submodule) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO submodules (module_key, key, name, menu_path, sort_order, active, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		submodule.ModuleKey,
		submodule.Key,
		submodule.Name,
		submodule.MenuPath,
		submodule.SortOrder,
		submodule.Active,
		submodule.CreatedAt,
		submodule.UpdatedAt,
	).Error
}

func (r *repo) UpdateModule(ctx context.Context, db *gorm.DB, module *domain.Module) error {
	if module == nil {
		return gorm.ErrInvalidData
	}
	return db.WithContext(ctx).Exec(
		`UPDATE modules
		 SET name = ?, description = ?, sort_order = ?, always_on = ?, active = ?, updated_at = ?
		 WHERE key = ?`,
		module.Name,
		module.Description,
		module.SortOrder,
		module.AlwaysOn,
		module.Active,
		module.UpdatedAt,
		module.Key,
	).Error
}

func (r *repo) UpdateSubmodule(ctx context.Context, db *gorm.DB, submodule *domain.Submodule) error {
	if submodule == nil {
		return gorm.ErrInvalidData
	}
	return db.WithContext(ctx).Exec(
		`UPDATE submodules
		 SET name = ?, menu_path = ?, sort_order = ?, active = ?, updated_at = ?
		 WHERE module_key = ? AND key = ?`,
		submodule.Name,
		submodule.MenuPath,
		submodule.SortOrder,
		submodule.Active,
		submodule.UpdatedAt,
		submodule.ModuleKey,
		submodule.Key,
	).Error
}
