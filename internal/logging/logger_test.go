package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// resetLogging clears package state so each test initializes from scratch.
func resetLogging() {
	CloseAll()
	loggers = make(map[Category]*Logger)
	logsDir = ""
	workspace = ""
	config = loggingConfig{}
	logLevel = LevelInfo
}

func writeLoggingConfig(t *testing.T, dir, content string) {
	t.Helper()
	configDir := filepath.Join(dir, ".devac")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		t.Fatalf("Failed to create config dir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(configDir, "config.yaml"), []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
}

func TestAllCategoriesLog(t *testing.T) {
	tempDir := t.TempDir()
	writeLoggingConfig(t, tempDir, `logging:
  debug_mode: true
  level: debug
  categories:
    boot: true
    extract: true
    store: true
    classify: true
    enrich: true
    pipeline: true
    watch: true
`)

	resetLogging()
	defer resetLogging()
	if err := Initialize(tempDir); err != nil {
		t.Fatalf("Failed to initialize logging: %v", err)
	}
	if !IsDebugMode() {
		t.Fatal("Expected debug mode to be enabled")
	}

	categories := []Category{
		CategoryBoot, CategoryExtract, CategoryStore, CategoryClassify,
		CategoryEnrich, CategoryPipeline, CategoryWatch,
	}
	for _, cat := range categories {
		Get(cat).Info("test message for %s", cat)
	}
	CloseAll()

	entries, err := os.ReadDir(filepath.Join(tempDir, ".devac", "logs"))
	if err != nil {
		t.Fatalf("Failed to read logs dir: %v", err)
	}
	for _, cat := range categories {
		found := false
		for _, e := range entries {
			if strings.Contains(e.Name(), string(cat)) {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("No log file created for category %s", cat)
		}
	}
}

func TestDebugModeDisabled(t *testing.T) {
	tempDir := t.TempDir()
	writeLoggingConfig(t, tempDir, `logging:
  debug_mode: false
  level: debug
`)

	resetLogging()
	defer resetLogging()
	if err := Initialize(tempDir); err != nil {
		t.Fatalf("Failed to initialize logging: %v", err)
	}
	if IsDebugMode() {
		t.Fatal("Expected debug mode to be disabled")
	}

	Get(CategoryExtract).Info("should go nowhere")
	Extract("convenience should also go nowhere")

	if _, err := os.Stat(filepath.Join(tempDir, ".devac", "logs")); !os.IsNotExist(err) {
		t.Error("Expected no logs directory in production mode")
	}
}

func TestMissingConfigMeansProductionMode(t *testing.T) {
	resetLogging()
	defer resetLogging()
	if err := Initialize(t.TempDir()); err != nil {
		t.Fatalf("Failed to initialize logging: %v", err)
	}
	if IsDebugMode() {
		t.Error("Expected production mode with no config file")
	}
}

func TestCategoryToggle(t *testing.T) {
	tempDir := t.TempDir()
	writeLoggingConfig(t, tempDir, `logging:
  debug_mode: true
  level: debug
  categories:
    extract: true
    store: false
`)

	resetLogging()
	defer resetLogging()
	if err := Initialize(tempDir); err != nil {
		t.Fatalf("Failed to initialize logging: %v", err)
	}

	if !IsCategoryEnabled(CategoryExtract) {
		t.Error("extract should be enabled")
	}
	if IsCategoryEnabled(CategoryStore) {
		t.Error("store should be disabled")
	}
	// Categories absent from the map default to enabled.
	if !IsCategoryEnabled(CategoryPipeline) {
		t.Error("unlisted category should default to enabled")
	}
}

func TestTimerLogging(t *testing.T) {
	tempDir := t.TempDir()
	writeLoggingConfig(t, tempDir, `logging:
  debug_mode: true
  level: debug
`)

	resetLogging()
	defer resetLogging()
	if err := Initialize(tempDir); err != nil {
		t.Fatalf("Failed to initialize logging: %v", err)
	}

	timer := StartTimer(CategoryStore, "write partition")
	timer.Stop()

	timer = StartTimer(CategoryStore, "fast op")
	timer.StopWithThreshold(0)
	CloseAll()

	entries, err := os.ReadDir(filepath.Join(tempDir, ".devac", "logs"))
	if err != nil {
		t.Fatalf("Failed to read logs dir: %v", err)
	}
	if len(entries) == 0 {
		t.Error("Expected timer output in store log")
	}
}
