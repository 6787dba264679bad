// Package resolver computes an organization's effective entitlement state
// from the active taxonomy and the stored per-org rows. It is a pure
// function over its inputs so the inheritance and trial-expiry rules stay
// unit-testable without a database.
package resolver

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/featuregate/internal/entitlement/domain"
	taxonomydomain "github.com/smallbiznis/featuregate/internal/taxonomy/domain"
)

// Resolve combines the active catalog with the organization's stored rows.
//
// Per module: a missing row means disabled; a trial whose expiry is at or
// before now resolves to disabled without touching the stored row. Per
// submodule: an absent override defaults to enabled, then gets AND-gated by
// the module's effective status, so an enabled submodule can never surface
// under a disabled module. Inactive taxonomy rows are excluded entirely.
func Resolve(
	orgID snowflake.ID,
	catalog taxonomydomain.Catalog,
	modules []domain.OrgModuleEntitlement,
	submodules []domain.OrgSubmoduleEntitlement,
	now time.Time,
) domain.State {
	moduleRows := make(map[string]domain.OrgModuleEntitlement, len(modules))
	for _, row := range modules {
		moduleRows[row.ModuleKey] = row
	}

	submoduleRows := make(map[string]map[string]bool, len(submodules))
	for _, row := range submodules {
		overrides, ok := submoduleRows[row.ModuleKey]
		if !ok {
			overrides = make(map[string]bool)
			submoduleRows[row.ModuleKey] = overrides
		}
		overrides[row.SubmoduleKey] = row.Enabled
	}

	state := domain.State{
		OrgID:      orgID.String(),
		Modules:    make(map[string]domain.ModuleState, len(catalog.Modules)),
		ResolvedAt: now,
	}

	for _, entry := range catalog.Modules {
		moduleState := domain.ModuleState{
			Status:     domain.StatusDisabled,
			AlwaysOn:   entry.Module.AlwaysOn,
			Submodules: make(map[string]bool, len(entry.Submodules)),
		}

		if row, ok := moduleRows[entry.Module.Key]; ok {
			moduleState.Status = effectiveStatus(row, now)
			if moduleState.Status == domain.StatusTrial {
				moduleState.TrialExpiresAt = row.TrialExpiresAt
			}
		}

		overrides := submoduleRows[entry.Module.Key]
		moduleEnabled := moduleState.Status != domain.StatusDisabled
		for _, sub := range entry.Submodules {
			enabled := true
			if value, ok := overrides[sub.Key]; ok {
				enabled = value
			}
			moduleState.Submodules[sub.Key] = enabled && moduleEnabled
		}

		state.Modules[entry.Module.Key] = moduleState
	}

	return state
}

func effectiveStatus(row domain.OrgModuleEntitlement, now time.Time) domain.ModuleStatus {
	switch row.Status {
	case domain.StatusEnabled:
		return domain.StatusEnabled
	case domain.StatusTrial:
		if row.TrialExpiresAt == nil || !row.TrialExpiresAt.After(now) {
			return domain.StatusDisabled
		}
		return domain.StatusTrial
	default:
		return domain.StatusDisabled
	}
}
