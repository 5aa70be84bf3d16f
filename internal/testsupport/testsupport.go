package testsupport

import (
	"path/filepath"
	"testing"

	"corral/internal/config"
	"corral/internal/store"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*config.Config)

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.DataDir = filepath.Join(base, "data")
	cfg.Paths.MediaDir = filepath.Join(base, "media")
	cfg.Paths.ExportDir = filepath.Join(base, "exports")
	cfg.Paths.StagingDir = filepath.Join(base, "staging")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Paths.APIBind = "127.0.0.1:0"

	for _, opt := range opts {
		opt(&cfg)
	}
	return &cfg
}

// WithResolverMode overrides the identity resolver strategy.
func WithResolverMode(mode string) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Resolver.Mode = mode
	}
}

// WithWorkers overrides the job worker count.
func WithWorkers(n int) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Jobs.Workers = n
	}
}

// MustOpenStore opens the corral database for a test config and closes it on
// cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *store.Store {
	t.Helper()

	st, err := store.Open(cfg)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		if err := st.Close(); err != nil {
			t.Fatalf("close store: %v", err)
		}
	})
	return st
}
