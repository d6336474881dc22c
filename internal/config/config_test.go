package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Branch != "base" {
		t.Errorf("expected Branch=base, got %s", cfg.Branch)
	}
	if len(cfg.Extraction.IncludeGlobs) == 0 {
		t.Error("expected default include globs")
	}
	if cfg.Store.Root != ".devac/partitions" {
		t.Errorf("expected default store root, got %s", cfg.Store.Root)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config must validate: %v", err)
	}
}

func TestConfig_SaveLoad(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.yaml")

	cfg := DefaultConfig()
	cfg.Repo = "myrepo"
	cfg.Branch = "feature-x"
	cfg.Store.LockTimeout = "30s"

	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Repo != "myrepo" {
		t.Errorf("expected Repo=myrepo, got %s", loaded.Repo)
	}
	if loaded.Branch != "feature-x" {
		t.Errorf("expected Branch=feature-x, got %s", loaded.Branch)
	}
	if loaded.GetLockTimeout() != 30*time.Second {
		t.Errorf("expected 30s lock timeout, got %v", loaded.GetLockTimeout())
	}
}

func TestConfig_LoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Branch != "base" {
		t.Errorf("expected defaults, got Branch=%s", cfg.Branch)
	}
}

func TestConfig_LoadMalformedFileErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("branch: [not: valid"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected parse error for malformed config")
	}
}

func TestConfig_Validate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Branch = ""
	if cfg.Validate() == nil {
		t.Error("empty branch accepted")
	}

	cfg = DefaultConfig()
	cfg.Extraction.Parallelism = -1
	if cfg.Validate() == nil {
		t.Error("negative parallelism accepted")
	}

	cfg = DefaultConfig()
	cfg.Store.LockTimeout = "soon"
	if cfg.Validate() == nil {
		t.Error("unparseable lock timeout accepted")
	}
}

func TestConfig_DurationFallbacks(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Store.LockTimeout = ""
	cfg.Store.LockRetryInterval = "garbage"

	if got := cfg.GetLockTimeout(); got != 10*time.Second {
		t.Errorf("expected 10s fallback, got %v", got)
	}
	if got := cfg.GetLockRetryInterval(); got != 50*time.Millisecond {
		t.Errorf("expected 50ms fallback, got %v", got)
	}
	if cfg.GetParallelism() < 1 {
		t.Error("parallelism must be at least 1")
	}
}
