package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/smallbiznis/featuregate/internal/access"
)

func writeGatesFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gates.yml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write gates file: %v", err)
	}
	return path
}

func TestGatesHolderLoadsFile(t *testing.T) {
	path := writeGatesFile(t, `
gates:
  - key: crm
    module_key: crm
    kind: entitlement
  - key: crm.pipeline
    module_key: crm
    submodule_key: pipeline
    kind: entitlement
  - key: settings
    kind: rbac
`)

	holder, err := NewGatesHolder(Config{GatesPath: path})
	if err != nil {
		t.Fatalf("new holder: %v", err)
	}

	table := holder.Get()
	if table.Len() != 3 {
		t.Fatalf("expected 3 gates, got %d", table.Len())
	}
	gate, ok := table.Lookup("crm.pipeline")
	if !ok {
		t.Fatal("expected crm.pipeline gate")
	}
	if gate.Kind != access.GateEntitlement || gate.SubmoduleKey != "pipeline" {
		t.Fatalf("unexpected gate %+v", gate)
	}
}

func TestGatesHolderRejectsInvalidFile(t *testing.T) {
	cases := []struct {
		name    string
		content string
	}{
		{"unknown kind", "gates:\n  - key: crm\n    module_key: crm\n    kind: mystery\n"},
		{"entitlement without module", "gates:\n  - key: crm\n    kind: entitlement\n"},
		{"empty key", "gates:\n  - key: \"\"\n    kind: rbac\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeGatesFile(t, tc.content)
			if _, err := NewGatesHolder(Config{GatesPath: path}); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestGatesHolderMissingExplicitPath(t *testing.T) {
	if _, err := NewGatesHolder(Config{GatesPath: filepath.Join(t.TempDir(), "absent.yml")}); err == nil {
		t.Fatal("expected error for missing explicit path")
	}
}
