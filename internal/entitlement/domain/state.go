package domain

import "time"

// ModuleState is the resolved read-time access level of one module.
type ModuleState struct {
	Status         ModuleStatus    `json:"status"`
	TrialExpiresAt *time.Time      `json:"trial_expires_at,omitempty"`
	AlwaysOn       bool            `json:"always_on,omitempty"`
	Submodules     map[string]bool `json:"submodules"`
}

// Enabled reports whether the module grants access (enabled or un-expired
// trial; expiry is already folded in by the resolver).
func (m ModuleState) Enabled() bool {
	return m.Status != StatusDisabled
}

// State is the full effective entitlement state of one organization. It is
// derived, never persisted except transiently in the snapshot cache.
type State struct {
	OrgID      string                 `json:"org_id"`
	Modules    map[string]ModuleState `json:"modules"`
	ResolvedAt time.Time              `json:"resolved_at"`
}

// Module returns the resolved state for a module key; a module absent from
// the active taxonomy reports disabled.
func (s State) Module(key string) (ModuleState, bool) {
	m, ok := s.Modules[key]
	return m, ok
}

// SubmoduleEnabled resolves a submodule under the inheritance AND-gate. A
// submodule can never be enabled under a disabled module.
func (s State) SubmoduleEnabled(moduleKey, submoduleKey string) bool {
	m, ok := s.Modules[moduleKey]
	if !ok || !m.Enabled() {
		return false
	}
	return m.Submodules[submoduleKey]
}
