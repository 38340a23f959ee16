package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestNewManagerCreatesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	m, err := NewManager(path)
	if err != nil {
		t.Fatalf("NewManager() error: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("config file not created: %v", err)
	}

	cfg := m.Get()
	if cfg.AutoCommitDelay != 500*time.Millisecond {
		t.Errorf("AutoCommitDelay = %s", cfg.AutoCommitDelay)
	}
	if cfg.MRULimit != 256 || !cfg.Input.Enabled || cfg.Input.BareAltPolicy != "ignore" {
		t.Errorf("unexpected defaults: %+v", cfg)
	}

	// Reloading the written file yields the same values.
	again, err := NewManager(path)
	if err != nil {
		t.Fatalf("reload error: %v", err)
	}
	if *again.Get() != *cfg {
		t.Errorf("reloaded config = %+v, want %+v", again.Get(), cfg)
	}
}

func TestPartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := "backend: hyprland\nauto_commit_delay: 300ms\ninput:\n  bare_alt_policy: show\n"
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	m, err := NewManager(path)
	if err != nil {
		t.Fatalf("NewManager() error: %v", err)
	}
	cfg := m.Get()
	if cfg.Backend != "hyprland" || cfg.AutoCommitDelay != 300*time.Millisecond {
		t.Errorf("file values not applied: %+v", cfg)
	}
	if cfg.Input.BareAltPolicy != "show" || cfg.Input.DeviceDir != "/dev/input" {
		t.Errorf("input = %+v", cfg.Input)
	}
	if cfg.BackendTimeout != time.Second {
		t.Errorf("BackendTimeout = %s, want default", cfg.BackendTimeout)
	}
}

func TestInvalidFileRejected(t *testing.T) {
	tests := map[string]string{
		"backend":  "backend: sway\n",
		"policy":   "input:\n  bare_alt_policy: toggle\n",
		"duration": "backend_timeout: 0s\n",
		"backoff":  "reconnect_min_delay: 5s\nreconnect_max_delay: 1s\n",
		"mru":      "mru_limit: 0\n",
		"yaml":     "backend: [\n",
	}
	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
				t.Fatal(err)
			}
			if _, err := NewManager(path); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestSetAndGetValue(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	m, err := NewManager(path)
	if err != nil {
		t.Fatal(err)
	}

	if err := m.Set("auto_commit_delay", "750ms"); err != nil {
		t.Fatalf("Set() error: %v", err)
	}
	if err := m.Set("input.enabled", "false"); err != nil {
		t.Fatalf("Set() error: %v", err)
	}
	if err := m.Set("mru_limit", "32"); err != nil {
		t.Fatalf("Set() error: %v", err)
	}

	if v, _ := m.GetValue("auto_commit_delay"); v != "750ms" {
		t.Errorf("auto_commit_delay = %q", v)
	}

	reloaded, err := NewManager(path)
	if err != nil {
		t.Fatal(err)
	}
	cfg := reloaded.Get()
	if cfg.AutoCommitDelay != 750*time.Millisecond || cfg.Input.Enabled || cfg.MRULimit != 32 {
		t.Errorf("saved config = %+v", cfg)
	}
}

func TestSetRejectsBadValues(t *testing.T) {
	m, err := NewManager(filepath.Join(t.TempDir(), "config.yaml"))
	if err != nil {
		t.Fatal(err)
	}

	cases := [][2]string{
		{"no_such_key", "x"},
		{"backend", "sway"},
		{"auto_commit_delay", "soon"},
		{"auto_commit_delay", "-1s"},
		{"notifications", "maybe"},
		{"mru_limit", "many"},
	}
	for _, c := range cases {
		if err := m.Set(c[0], c[1]); err == nil {
			t.Errorf("Set(%s, %s) succeeded, want error", c[0], c[1])
		}
	}
	if m.Get().Backend != "" {
		t.Error("rejected value was stored")
	}
}

func TestKeysSorted(t *testing.T) {
	keys := Keys()
	if len(keys) == 0 {
		t.Fatal("no keys")
	}
	for i := 1; i < len(keys); i++ {
		if strings.Compare(keys[i-1], keys[i]) >= 0 {
			t.Fatalf("keys not sorted: %v", keys)
		}
	}
}
