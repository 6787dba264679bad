package domain

import "time"

// Module is a top-level licensable feature area. Rows are seeded at install
// time, rarely mutated, and never deleted while referenced; Active=false
// soft-deletes a module out of every resolved state.
type Module struct {
	Key         string  `gorm:"primaryKey;type:text"`
	Name        string  `gorm:"type:text;not null"`
	Description *string `gorm:"type:text"`
	SortOrder   int     `gorm:"not null;default:0"`

	// AlwaysOn exempts the module from entitlement gating entirely.
	AlwaysOn bool `gorm:"column:always_on;not null;default:false"`
	Active   bool `gorm:"not null;default:true"`

	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (Module) TableName() string { return "modules" }

// Submodule is a fine-grained feature within a module, independently
// toggleable per organization.
type Submodule struct {
	ModuleKey string `gorm:"primaryKey;type:text"`
	Key       string `gorm:"primaryKey;type:text"`
	Name      string `gorm:"type:text;not null"`
	MenuPath  string `gorm:"column:menu_path;type:text"`
	SortOrder int    `gorm:"not null;default:0"`
	Active    bool   `gorm:"not null;default:true"`

	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (Submodule) TableName() string { return "submodules" }

// CatalogModule is an active module with its active submodules, the unit the
// resolver consumes.
type CatalogModule struct {
	Module     Module
	Submodules []Submodule
}

// Catalog indexes the active taxonomy for key validation.
type Catalog struct {
	Modules []CatalogModule

	byModule    map[string]*CatalogModule
	bySubmodule map[string]map[string]bool
}

// NewCatalog builds the lookup indexes over the given modules.
func NewCatalog(modules []CatalogModule) Catalog {
	c := Catalog{
		Modules:     modules,
		byModule:    make(map[string]*CatalogModule, len(modules)),
		bySubmodule: make(map[string]map[string]bool, len(modules)),
	}
	for i := range modules {
		m := &modules[i]
		c.byModule[m.Module.Key] = m
		subs := make(map[string]bool, len(m.Submodules))
		for _, s := range m.Submodules {
			subs[s.Key] = true
		}
		c.bySubmodule[m.Module.Key] = subs
	}
	return c
}

// HasModule reports whether the key names an active module.
func (c Catalog) HasModule(key string) bool {
	_, ok := c.byModule[key]
	return ok
}

// HasSubmodule reports whether the pair names an active submodule.
func (c Catalog) HasSubmodule(moduleKey, submoduleKey string) bool {
	subs, ok := c.bySubmodule[moduleKey]
	if !ok {
		return false
	}
	return subs[submoduleKey]
}

// ModuleByKey returns the catalog entry for an active module.
func (c Catalog) ModuleByKey(key string) (*CatalogModule, bool) {
	m, ok := c.byModule[key]
	return m, ok
}
