package access

// GateKind classifies how a gate key is enforced.
type GateKind string

const (
	// GateEntitlement checks the organization's resolved entitlement state.
	GateEntitlement GateKind = "entitlement"
	// GateRBAC keys carry no entitlement of their own; access is decided
	// purely by the caller's role.
	GateRBAC GateKind = "rbac"
	// GateAlwaysOn keys are never gated regardless of stored state.
	GateAlwaysOn GateKind = "always_on"
)

// Gate binds a stable enforcement key to the taxonomy node it protects.
// Handlers reference gates by key so the taxonomy can evolve without
// touching call sites.
type Gate struct {
	Key          string   `mapstructure:"key" json:"key"`
	ModuleKey    string   `mapstructure:"module_key" json:"module_key"`
	SubmoduleKey string   `mapstructure:"submodule_key" json:"submodule_key,omitempty"`
	Kind         GateKind `mapstructure:"kind" json:"kind"`
}

// Table is an immutable gate lookup. Replaced wholesale on config reload,
// never mutated in place.
type Table struct {
	gates map[string]Gate
}

func NewTable(gates []Gate) Table {
	t := Table{gates: make(map[string]Gate, len(gates))}
	for _, g := range gates {
		if g.Key == "" {
			continue
		}
		t.gates[g.Key] = g
	}
	return t
}

// Lookup returns the gate for a key. An unknown key means the caller is
// referencing a gate that was never registered; enforcement fails closed.
func (t Table) Lookup(key string) (Gate, bool) {
	g, ok := t.gates[key]
	return g, ok
}

func (t Table) Len() int { return len(t.gates) }

// Gates returns every registered gate in unspecified order.
func (t Table) Gates() []Gate {
	out := make([]Gate, 0, len(t.gates))
	for _, g := range t.gates {
		out = append(out, g)
	}
	return out
}

// DefaultGates is the built-in gate table, overridable via a gates.yml.
func DefaultGates() []Gate {
	return []Gate{
		{Key: "sales", ModuleKey: "sales", Kind: GateEntitlement},
		{Key: "sales.lead_mgmt", ModuleKey: "sales", SubmoduleKey: "lead_mgmt", Kind: GateEntitlement},
		{Key: "sales.quotations", ModuleKey: "sales", SubmoduleKey: "quotations", Kind: GateEntitlement},
		{Key: "inventory", ModuleKey: "inventory", Kind: GateEntitlement},
		{Key: "inventory.stock", ModuleKey: "inventory", SubmoduleKey: "stock", Kind: GateEntitlement},
		{Key: "purchasing", ModuleKey: "purchasing", Kind: GateEntitlement},
		{Key: "reports", ModuleKey: "reports", Kind: GateEntitlement},
		{Key: "email", ModuleKey: "email", Kind: GateAlwaysOn},
		{Key: "settings.members", Kind: GateRBAC},
		{Key: "settings.billing", Kind: GateRBAC},
	}
}
