package refpool

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "engine.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	return path
}

func TestLoadConfigJWCC(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	path := writeConfig(t, `{
		// engine budgets
		"mem_limit": 1048576,
		"device_limit": 10485760,
		"policy": "mru",
		"retain": true,
		"dir": `+jsonString(dir)+`,
		"gzip": true, // trailing comma is fine
	}`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.MemLimit != 1048576 || cfg.DeviceLimit != 10485760 {
		t.Fatalf("unexpected limits: %+v", cfg)
	}

	if cfg.Policy != "mru" || !cfg.Retain || !cfg.Gzip {
		t.Fatalf("unexpected options: %+v", cfg)
	}

	alloc, err := cfg.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	if alloc.policy != MRU || !alloc.retain {
		t.Fatal("allocator should carry the configured policy and retain")
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	if cfg.Policy != "LRU" {
		t.Fatalf("expected default policy LRU, got %q", cfg.Policy)
	}
}

func TestLoadConfigInvalid(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	cases := []struct {
		name    string
		content string
	}{
		{"zero mem limit", `{"mem_limit": 0, "device_limit": 1, "dir": ` + jsonString(dir) + `}`},
		{"zero device limit", `{"mem_limit": 1, "device_limit": 0, "dir": ` + jsonString(dir) + `}`},
		{"empty dir", `{"mem_limit": 1, "device_limit": 1, "dir": ""}`},
		{"unknown policy", `{"mem_limit": 1, "device_limit": 1, "policy": "FOO", "dir": ` + jsonString(dir) + `}`},
		{"malformed", `{"mem_limit": `},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			path := writeConfig(t, tc.content)

			_, err := LoadConfig(path)
			if !errors.Is(err, ErrInvalidConfig) {
				t.Fatalf("expected ErrInvalidConfig, got %v", err)
			}
		})
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	t.Parallel()

	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.json"))
	if err == nil {
		t.Fatal("expected an error for a missing file")
	}
}

// jsonString quotes a path for embedding in config literals.
func jsonString(s string) string {
	out := `"`

	for _, r := range s {
		switch r {
		case '"', '\\':
			out += `\` + string(r)
		default:
			out += string(r)
		}
	}

	return out + `"`
}
