package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	DataDir    string `toml:"data_dir"`
	MediaDir   string `toml:"media_dir"`
	ExportDir  string `toml:"export_dir"`
	StagingDir string `toml:"staging_dir"`
	LogDir     string `toml:"log_dir"`
	APIBind    string `toml:"api_bind"`
	APIToken   string `toml:"api_token"`
}

// Resolver contains configuration for the global identity resolver.
type Resolver struct {
	// Mode selects the merge strategy: "forced", "isolated", or "auto".
	Mode string `toml:"mode"`
	// SimilarityThreshold is the cosine similarity required for an auto merge.
	SimilarityThreshold float64 `toml:"similarity_threshold"`
	// GallerySize bounds the per-identity embedding gallery.
	GallerySize int `toml:"gallery_size"`
	// TieEpsilon is the score band within which candidates count as tied.
	TieEpsilon float64 `toml:"tie_epsilon"`
	// FallbackSubjectID is bound to new tentative identities when set.
	FallbackSubjectID string `toml:"fallback_subject_id"`
	// IdentityIdleSeconds marks identities inactive after this much silence.
	IdentityIdleSeconds int `toml:"identity_idle_seconds"`
}

// Ingest contains configuration for per-camera tracklet ingestion.
type Ingest struct {
	// LostAfterSeconds closes a tracklet when its local track goes unseen this long.
	LostAfterSeconds float64 `toml:"lost_after_seconds"`
	// FrameIntervalSeconds is the default camera frame interval when a camera
	// does not declare its own.
	FrameIntervalSeconds float64 `toml:"frame_interval_seconds"`
}

// Export contains default export planning parameters.
type Export struct {
	PaddingSeconds     float64 `toml:"padding_seconds"`
	MergeGapSeconds    float64 `toml:"merge_gap_seconds"`
	MinDurationSeconds float64 `toml:"min_duration_seconds"`
	TargetSeconds      float64 `toml:"target_seconds"`
	PerClipSeconds     float64 `toml:"per_clip_seconds"`
}

// Jobs contains configuration for the export job coordinator.
type Jobs struct {
	Workers             int `toml:"workers"`
	PollIntervalSeconds int `toml:"poll_interval_seconds"`
	TimeoutSeconds      int `toml:"timeout_seconds"`
	MaxRetries          int `toml:"max_retries"`
	LeaseSeconds        int `toml:"lease_seconds"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for corral.
//
// Sections by subsystem:
//   - Paths: directories, API bind address, and bearer token
//   - Resolver: cross-camera identity merge strategy and thresholds
//   - Ingest: tracklet lifecycle timing
//   - Export: planner parameter defaults
//   - Jobs: worker count, lease and retry policy
//   - Logging: log format and level
type Config struct {
	Paths    Paths    `toml:"paths"`
	Resolver Resolver `toml:"resolver"`
	Ingest   Ingest   `toml:"ingest"`
	Export   Export   `toml:"export"`
	Jobs     Jobs     `toml:"jobs"`
	Logging  Logging  `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/corral/config.toml")
}

// SampleConfig returns the embedded annotated sample configuration.
func SampleConfig() string {
	return sampleConfig
}

// Load locates, parses, and validates a configuration file. The returned
// config has all path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("corral.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.ExportDir, c.Paths.StagingDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// FFmpegBinary returns the ffmpeg executable name used by the export renderer.
func (c *Config) FFmpegBinary() string {
	return "ffmpeg"
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}
