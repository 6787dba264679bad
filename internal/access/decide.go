package access

import (
	entitlementdomain "github.com/smallbiznis/featuregate/internal/entitlement/domain"
)

// Surface distinguishes machine callers from the UI, which renders a
// visible-but-locked affordance instead of a hard failure.
type Surface string

const (
	SurfaceAPI Surface = "api"
	SurfaceUI  Surface = "ui"
)

// Caller is the already-authenticated principal asking for access. Platform
// capability flags are resolved once at the request boundary from static
// configuration, never re-derived here.
type Caller struct {
	Subject string
	Role    string
	// AdminLike marks org roles that may see locked features (for upgrade
	// prompts) instead of having them hidden.
	AdminLike         bool
	PlatformSuperuser bool
	PlatformRoot      bool
	Surface           Surface
}

type Effect string

const (
	EffectAllow Effect = "allow"
	EffectDeny  Effect = "deny"
	// EffectLocked is UI-only: the feature is visible but inert.
	EffectLocked Effect = "locked"
)

// Source names the rule that produced the decision, for logging and for the
// bypass audit trail.
type Source string

const (
	SourceAlwaysOn    Source = "always_on"
	SourceSuperuser   Source = "superuser"
	SourceRBAC        Source = "rbac"
	SourceEntitlement Source = "entitlement"
	SourceFailClosed  Source = "fail_closed"
)

type Decision struct {
	Effect Effect `json:"effect"`
	Source Source `json:"source"`

	// Status is the module's effective status when the decision consulted
	// entitlement state.
	Status entitlementdomain.ModuleStatus `json:"status,omitempty"`
	// Trial marks an allow that rides on an unexpired trial, so surfaces can
	// badge it.
	Trial bool `json:"trial,omitempty"`
	// AdminVisible tells the UI to render the locked affordance.
	AdminVisible bool `json:"admin_visible,omitempty"`
}

func (d Decision) Allowed() bool { return d.Effect == EffectAllow }

// Decide evaluates one gate for one caller against resolved entitlement
// state. Pure function: precedence is always-on, then platform bypass, then
// rbac delegation, then entitlement state, and anything unresolvable fails
// closed.
//
// A SourceRBAC allow is provisional: it asserts no entitlement requirement
// and the caller's role check still runs in the authorization layer.
func Decide(state *entitlementdomain.State, gate Gate, caller Caller) Decision {
	if gate.Kind == GateAlwaysOn {
		return Decision{Effect: EffectAllow, Source: SourceAlwaysOn}
	}

	if caller.PlatformSuperuser || caller.PlatformRoot {
		return Decision{Effect: EffectAllow, Source: SourceSuperuser}
	}

	if gate.Kind == GateRBAC {
		return Decision{Effect: EffectAllow, Source: SourceRBAC}
	}

	if state == nil || gate.ModuleKey == "" {
		return Decision{Effect: EffectDeny, Source: SourceFailClosed}
	}

	module, ok := state.Module(gate.ModuleKey)
	if !ok {
		return Decision{Effect: EffectDeny, Source: SourceFailClosed}
	}

	if module.AlwaysOn {
		return Decision{Effect: EffectAllow, Source: SourceAlwaysOn, Status: module.Status}
	}

	entitled := module.Enabled()
	if entitled && gate.SubmoduleKey != "" {
		entitled = state.SubmoduleEnabled(gate.ModuleKey, gate.SubmoduleKey)
	}

	if entitled {
		return Decision{
			Effect: EffectAllow,
			Source: SourceEntitlement,
			Status: module.Status,
			Trial:  module.Status == entitlementdomain.StatusTrial,
		}
	}

	decision := Decision{
		Effect: EffectDeny,
		Source: SourceEntitlement,
		Status: module.Status,
	}
	if caller.Surface == SurfaceUI && caller.AdminLike {
		decision.Effect = EffectLocked
		decision.AdminVisible = true
	}
	return decision
}
