package config

import (
	"errors"
	"fmt"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateResolver(); err != nil {
		return err
	}
	if err := c.validateIngest(); err != nil {
		return err
	}
	if err := c.validateExport(); err != nil {
		return err
	}
	if err := c.validateJobs(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateResolver() error {
	switch c.Resolver.Mode {
	case "forced", "isolated", "auto":
	default:
		return fmt.Errorf("resolver.mode must be one of forced, isolated, auto (got %q)", c.Resolver.Mode)
	}
	if c.Resolver.SimilarityThreshold <= 0 || c.Resolver.SimilarityThreshold > 1 {
		return errors.New("resolver.similarity_threshold must be in (0, 1]")
	}
	if c.Resolver.GallerySize <= 0 {
		return errors.New("resolver.gallery_size must be positive")
	}
	if c.Resolver.TieEpsilon < 0 {
		return errors.New("resolver.tie_epsilon must not be negative")
	}
	if c.Resolver.IdentityIdleSeconds <= 0 {
		return errors.New("resolver.identity_idle_seconds must be positive")
	}
	return nil
}

func (c *Config) validateIngest() error {
	if c.Ingest.LostAfterSeconds <= 0 {
		return errors.New("ingest.lost_after_seconds must be positive")
	}
	if c.Ingest.FrameIntervalSeconds <= 0 {
		return errors.New("ingest.frame_interval_seconds must be positive")
	}
	return nil
}

func (c *Config) validateExport() error {
	if c.Export.PaddingSeconds < 0 {
		return errors.New("export.padding_seconds must not be negative")
	}
	if c.Export.MergeGapSeconds < 0 {
		return errors.New("export.merge_gap_seconds must not be negative")
	}
	if c.Export.MinDurationSeconds < 0 {
		return errors.New("export.min_duration_seconds must not be negative")
	}
	if c.Export.TargetSeconds <= 0 {
		return errors.New("export.target_seconds must be positive")
	}
	if c.Export.PerClipSeconds <= 0 {
		return errors.New("export.per_clip_seconds must be positive")
	}
	return nil
}

func (c *Config) validateJobs() error {
	if err := ensurePositiveMap(map[string]int{
		"jobs.workers":               c.Jobs.Workers,
		"jobs.poll_interval_seconds": c.Jobs.PollIntervalSeconds,
		"jobs.timeout_seconds":       c.Jobs.TimeoutSeconds,
		"jobs.lease_seconds":         c.Jobs.LeaseSeconds,
	}); err != nil {
		return err
	}
	if c.Jobs.MaxRetries < 0 {
		return errors.New("jobs.max_retries must not be negative")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json (got %q)", c.Logging.Format)
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for name, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	return nil
}
