package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"corral/internal/config"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := config.Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config failed validation: %v", err)
	}

	if cfg.Resolver.Mode != "auto" {
		t.Errorf("expected auto resolver mode, got %q", cfg.Resolver.Mode)
	}
	if cfg.Resolver.SimilarityThreshold != 0.68 {
		t.Errorf("expected similarity threshold 0.68, got %f", cfg.Resolver.SimilarityThreshold)
	}
	if cfg.Resolver.GallerySize != 8 {
		t.Errorf("expected gallery size 8, got %d", cfg.Resolver.GallerySize)
	}
	if cfg.Export.PaddingSeconds != 3.0 || cfg.Export.MergeGapSeconds != 0.2 || cfg.Export.MinDurationSeconds != 0.3 {
		t.Errorf("unexpected export defaults: %+v", cfg.Export)
	}
	if cfg.Jobs.Workers != 2 || cfg.Jobs.MaxRetries != 2 || cfg.Jobs.TimeoutSeconds != 900 {
		t.Errorf("unexpected job defaults: %+v", cfg.Jobs)
	}
	if cfg.Logging.Format != "console" || cfg.Logging.Level != "info" {
		t.Errorf("unexpected logging defaults: %+v", cfg.Logging)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*config.Config)
		message string
	}{
		{
			name:    "unknown resolver mode",
			mutate:  func(c *config.Config) { c.Resolver.Mode = "psychic" },
			message: "resolver.mode",
		},
		{
			name:    "similarity threshold above one",
			mutate:  func(c *config.Config) { c.Resolver.SimilarityThreshold = 1.2 },
			message: "similarity_threshold",
		},
		{
			name:    "zero gallery",
			mutate:  func(c *config.Config) { c.Resolver.GallerySize = 0 },
			message: "gallery_size",
		},
		{
			name:    "negative padding",
			mutate:  func(c *config.Config) { c.Export.PaddingSeconds = -1 },
			message: "padding_seconds",
		},
		{
			name:    "zero target",
			mutate:  func(c *config.Config) { c.Export.TargetSeconds = 0 },
			message: "target_seconds",
		},
		{
			name:    "zero workers",
			mutate:  func(c *config.Config) { c.Jobs.Workers = 0 },
			message: "jobs.workers",
		},
		{
			name:    "negative retries",
			mutate:  func(c *config.Config) { c.Jobs.MaxRetries = -1 },
			message: "max_retries",
		},
		{
			name:    "unknown log format",
			mutate:  func(c *config.Config) { c.Logging.Format = "xml" },
			message: "logging.format",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.message) {
				t.Fatalf("expected error mentioning %q, got %v", tc.message, err)
			}
		})
	}
}

func TestLoadAppliesFileOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "corral.toml")
	content := `
[resolver]
mode = "isolated"
similarity_threshold = 0.75

[jobs]
workers = 4
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if !exists {
		t.Fatal("expected config file to be reported as found")
	}
	if resolved != path {
		t.Errorf("expected resolved path %s, got %s", path, resolved)
	}
	if cfg.Resolver.Mode != "isolated" {
		t.Errorf("override lost: mode %q", cfg.Resolver.Mode)
	}
	if cfg.Resolver.SimilarityThreshold != 0.75 {
		t.Errorf("override lost: threshold %f", cfg.Resolver.SimilarityThreshold)
	}
	if cfg.Jobs.Workers != 4 {
		t.Errorf("override lost: workers %d", cfg.Jobs.Workers)
	}
	// Untouched sections keep their defaults.
	if cfg.Export.TargetSeconds != 30.0 {
		t.Errorf("default lost: target %f", cfg.Export.TargetSeconds)
	}
}

func TestLoadRejectsInvalidFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "corral.toml")
	if err := os.WriteFile(path, []byte("[resolver]\nmode = \"psychic\"\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	if _, _, _, err := config.Load(path); err == nil {
		t.Fatal("expected validation failure for unknown resolver mode")
	}
}

func TestLoadMissingExplicitPathUsesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absent.toml")

	cfg, _, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("load with missing file: %v", err)
	}
	if exists {
		t.Fatal("expected missing file to be reported as absent")
	}
	if cfg.Resolver.Mode != "auto" {
		t.Errorf("expected defaults, got mode %q", cfg.Resolver.Mode)
	}
}

func TestSampleConfigParses(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sample.toml")
	if err := os.WriteFile(path, []byte(config.SampleConfig()), 0o644); err != nil {
		t.Fatalf("write sample: %v", err)
	}

	cfg, _, _, err := config.Load(path)
	if err != nil {
		t.Fatalf("sample config does not load: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("sample config invalid: %v", err)
	}
}
