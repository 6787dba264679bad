package domain

import (
	"context"

	"gorm.io/gorm"
)

type Repository interface {
	ListModules(ctx context.Context, db *gorm.DB, activeOnly bool) ([]Module, error)
	ListSubmodules(ctx context.Context, db *gorm.DB, activeOnly bool) ([]Submodule, error)
	FindModule(ctx context.Context, db *gorm.DB, key string) (*Module, error)
	FindSubmodule(ctx context.Context, db *gorm.DB, moduleKey, key string) (*Submodule, error)
	CreateModule(ctx context.Context, db *gorm.DB, module *Module) error
	CreateSubmodule(ctx context.Context, db *gorm.DB, submodule *Submodule) error
	UpdateModule(ctx context.Context, db *gorm.DB, module *Module) error
	UpdateSubmodule(ctx context.Context, db *gorm.DB, submodule *Submodule) error
}
