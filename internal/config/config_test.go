package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DataDir == "" {
		t.Error("data dir should default to a real path")
	}
	if cfg.ServePort != 8484 {
		t.Errorf("serve port: got %d, want 8484", cfg.ServePort)
	}
	if !cfg.SoundEnabled {
		t.Error("sound should default on")
	}
	if cfg.RemoteEndpoint != "" || cfg.RemoteKey != "" {
		t.Error("remote should default unconfigured")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("STEPLINE_DATA_DIR", "/tmp/stepline-test")
	t.Setenv("STEPLINE_REMOTE_ENDPOINT", "http://sync.local:8484")
	t.Setenv("STEPLINE_REMOTE_PROJECT", "family")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DataDir != "/tmp/stepline-test" {
		t.Errorf("data dir override: got %q", cfg.DataDir)
	}
	if cfg.RemoteEndpoint != "http://sync.local:8484" || cfg.RemoteProject != "family" {
		t.Errorf("remote overrides not applied: %+v", cfg)
	}
}

func TestConfigFileInWorkingDirectory(t *testing.T) {
	dir := t.TempDir()
	content := "serve_port: 9999\nsound_enabled: false\n"
	if err := os.WriteFile(filepath.Join(dir, "stepline.yaml"), []byte(content), 0600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	t.Chdir(dir)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ServePort != 9999 {
		t.Errorf("serve port from file: got %d", cfg.ServePort)
	}
	if cfg.SoundEnabled {
		t.Error("sound flag from file not applied")
	}
}

func TestPaths(t *testing.T) {
	cfg := Config{DataDir: "/data/stepline"}
	if got := cfg.DBPath(); got != filepath.Join("/data/stepline", "stepline.db") {
		t.Errorf("DBPath: got %q", got)
	}
	if got := cfg.ServerDataDir(); got != filepath.Join("/data/stepline", "server") {
		t.Errorf("ServerDataDir: got %q", got)
	}
}
