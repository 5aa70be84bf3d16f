package config

import "strings"

func (c *Config) normalize() error {
	var err error
	for _, field := range []*string{
		&c.Paths.DataDir,
		&c.Paths.MediaDir,
		&c.Paths.ExportDir,
		&c.Paths.StagingDir,
		&c.Paths.LogDir,
	} {
		if *field, err = expandPath(*field); err != nil {
			return err
		}
	}

	c.Resolver.Mode = strings.ToLower(strings.TrimSpace(c.Resolver.Mode))
	if c.Resolver.Mode == "" {
		c.Resolver.Mode = defaultResolverMode
	}
	c.Resolver.FallbackSubjectID = strings.TrimSpace(c.Resolver.FallbackSubjectID)

	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}

	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	c.Paths.APIToken = strings.TrimSpace(c.Paths.APIToken)
	return nil
}
