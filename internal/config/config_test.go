package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("Default().Validate() = %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"min entries zero", func(c *Config) { c.VTable.MinEntries = 0 }, "minEntries"},
		{"max below min", func(c *Config) { c.VTable.MaxEntries = 1; c.VTable.MinEntries = 3 }, "maxEntries"},
		{"tiny window", func(c *Config) { c.Scan.Window = 8 }, "scan.window"},
		{"negative workers", func(c *Config) { c.Scan.Workers = -1 }, "workers"},
		{"bad level", func(c *Config) { c.Log.Level = "trace" }, "log.level"},
		{"bad signature", func(c *Config) {
			c.Signatures = []SignatureConfig{{Name: "x", Pattern: "FD GG"}}
		}, "signatures[0]"},
		{"unnamed signature", func(c *Config) {
			c.Signatures = []SignatureConfig{{Pattern: "FD 7B"}}
		}, "missing name"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.json")
	body := `{"vtable": {"minEntries": 3, "maxEntries": 64},
	          "signatures": [{"name": "pac", "pattern": "3F 23 03 D5"}]}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.VTable.MinEntries != 3 || cfg.VTable.MaxEntries != 64 {
		t.Errorf("vtable = %+v", cfg.VTable)
	}
	if cfg.Scan.Window != Default().Scan.Window {
		t.Errorf("scan.window lost its default: %d", cfg.Scan.Window)
	}
	set, err := cfg.Patterns()
	if err != nil {
		t.Fatal(err)
	}
	if p, ok := set.Lookup("pac"); !ok || p.String() != "3F 23 03 D5" {
		t.Errorf("pattern pac = %v, %v", p, ok)
	}
}

func TestLoadErrors(t *testing.T) {
	dir := t.TempDir()
	if _, err := Load(filepath.Join(dir, "missing.json")); err == nil {
		t.Error("missing file accepted")
	}
	bad := filepath.Join(dir, "bad.json")
	if err := os.WriteFile(bad, []byte(`{"vtable": {"minEntries": 0}}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(bad); err == nil {
		t.Error("invalid config accepted")
	}
}

func TestSchema(t *testing.T) {
	b, err := Schema()
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"minEntries", "maxCandidates", "signatures"} {
		if !strings.Contains(string(b), want) {
			t.Errorf("schema missing %q", want)
		}
	}
}
