package domain

import (
	"context"
	"errors"
	"time"
)

type Service interface {
	// ActiveCatalog returns the active modules with their active submodules.
	// Inactive rows are excluded entirely, not reported as disabled.
	ActiveCatalog(ctx context.Context) (Catalog, error)

	CreateModule(ctx context.Context, req CreateModuleRequest) (*ModuleResponse, error)
	CreateSubmodule(ctx context.Context, req CreateSubmoduleRequest) (*SubmoduleResponse, error)
	ArchiveModule(ctx context.Context, key string) (*ModuleResponse, error)
	ArchiveSubmodule(ctx context.Context, moduleKey, key string) (*SubmoduleResponse, error)
}

type CreateModuleRequest struct {
	// Key is optional; when empty it is derived from Name.
	Key         string  `json:"key"`
	Name        string  `json:"name"`
	Description *string `json:"description"`
	SortOrder   int     `json:"sort_order"`
	AlwaysOn    bool    `json:"always_on"`
}

type CreateSubmoduleRequest struct {
	ModuleKey string `json:"module_key"`
	Key       string `json:"key"`
	Name      string `json:"name"`
	MenuPath  string `json:"menu_path"`
	SortOrder int    `json:"sort_order"`
}

type ModuleResponse struct {
	Key         string    `json:"key"`
	Name        string    `json:"name"`
	Description *string   `json:"description,omitempty"`
	SortOrder   int       `json:"sort_order"`
	AlwaysOn    bool      `json:"always_on"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type SubmoduleResponse struct {
	ModuleKey string    `json:"module_key"`
	Key       string    `json:"key"`
	Name      string    `json:"name"`
	MenuPath  string    `json:"menu_path,omitempty"`
	SortOrder int       `json:"sort_order"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

var (
	ErrInvalidKey    = errors.New("invalid_key")
	ErrInvalidName   = errors.New("invalid_name")
	ErrUnknownModule = errors.New("unknown_module")
	ErrDuplicateKey  = errors.New("duplicate_key")
	ErrNotFound      = errors.New("not_found")
)
