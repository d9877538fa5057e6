package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	for _, role := range []string{"owner", "manager", "agent", "viewer"} {
		if len(cfg.RolePermissions(role)) == 0 {
			t.Fatalf("role %s has no permissions", role)
		}
	}
	if cfg.RolePermissions("ghost") != nil {
		t.Fatal("unknown role should have nil permissions")
	}
}

func TestAgentNeverReviews(t *testing.T) {
	cfg := Default()
	for _, perm := range cfg.RolePermissions("agent") {
		if perm == "review:proposal:org" {
			t.Fatal("agent role must not carry review permission")
		}
	}
	for _, perm := range cfg.RolePermissions("viewer") {
		if strings.HasPrefix(perm, "create:") || strings.HasPrefix(perm, "update:") {
			t.Fatalf("viewer carries write permission %s", perm)
		}
	}
}

func TestValidateCatchesBadCatalogs(t *testing.T) {
	cases := []struct {
		name string
		yaml string
		want string
	}{
		{"no roles", "server:\n  addr: \":8080\"\n", "roles is required"},
		{"missing owner", "roles:\n  viewer:\n    permissions:\n      - read:property:org\n", "must include owner"},
		{"malformed permission", "roles:\n  owner:\n    permissions:\n      - read-property\n", "not action:entity:scope"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := FromYAML([]byte(tc.yaml))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("err = %v, want substring %q", err, tc.want)
			}
		})
	}
}

func TestLoadOptionalFallsBack(t *testing.T) {
	cfg, err := LoadOptional(t.TempDir())
	if err != nil {
		t.Fatalf("load optional: %v", err)
	}
	if _, ok := cfg.Roles["owner"]; !ok {
		t.Fatal("fallback config missing owner role")
	}
}

func TestLoadReadsWorkspaceFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "steward.yml"), []byte(GenerateDefault()), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr != ":8080" {
		t.Fatalf("addr = %q", cfg.Server.Addr)
	}

	if _, err := Load(t.TempDir()); err == nil || !strings.Contains(err.Error(), "stw config init") {
		t.Fatalf("missing file error = %v", err)
	}
}
