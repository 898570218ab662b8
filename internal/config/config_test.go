package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Addr != DefaultAddr {
		t.Errorf("Addr = %q, want %q", cfg.Addr, DefaultAddr)
	}
	if cfg.Engine != "kvs" {
		t.Errorf("Engine = %q, want kvs", cfg.Engine)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	contents := `
addr: "127.0.0.1:5000"
engine: bolt
data_dir: /tmp/krill
compact_threshold: 4096
quiet: true
`
	if err := os.WriteFile(path, []byte(contents), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Addr != "127.0.0.1:5000" {
		t.Errorf("Addr = %q", cfg.Addr)
	}
	if cfg.Engine != "bolt" {
		t.Errorf("Engine = %q", cfg.Engine)
	}
	if cfg.DataDir != "/tmp/krill" {
		t.Errorf("DataDir = %q", cfg.DataDir)
	}
	if cfg.CompactThreshold != 4096 {
		t.Errorf("CompactThreshold = %d", cfg.CompactThreshold)
	}
	if !cfg.Quiet {
		t.Error("Quiet = false, want true")
	}
}

func TestLoadExpandsEnvironment(t *testing.T) {
	t.Setenv("KRILL_TEST_DATA_DIR", "/data/from-env")

	path := filepath.Join(t.TempDir(), "config.yml")
	if err := os.WriteFile(path, []byte("data_dir: ${KRILL_TEST_DATA_DIR}\n"), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.DataDir != "/data/from-env" {
		t.Errorf("DataDir = %q, want /data/from-env", cfg.DataDir)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yml")); err == nil {
		t.Error("Load() on a missing file succeeded")
	}
}
