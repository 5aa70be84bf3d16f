package config

const (
	defaultDataDir    = "~/.local/share/corral/data"
	defaultMediaDir   = "~/.local/share/corral/media"
	defaultExportDir  = "~/.local/share/corral/exports"
	defaultStagingDir = "~/.local/share/corral/staging"
	defaultLogDir     = "~/.local/share/corral/logs"
	defaultAPIBind    = "127.0.0.1:7319"

	defaultResolverMode        = "auto"
	defaultSimilarityThreshold = 0.68
	defaultGallerySize         = 8
	defaultTieEpsilon          = 1e-6
	defaultIdentityIdleSeconds = 900

	defaultLostAfterSeconds     = 2.0
	defaultFrameIntervalSeconds = 0.2

	defaultPaddingSeconds     = 3.0
	defaultMergeGapSeconds    = 0.2
	defaultMinDurationSeconds = 0.3
	defaultTargetSeconds      = 30.0
	defaultPerClipSeconds     = 4.0

	defaultJobWorkers          = 2
	defaultJobPollInterval     = 2
	defaultJobTimeoutSeconds   = 900
	defaultJobMaxRetries       = 2
	defaultJobLeaseSeconds     = 60
	defaultLogFormat           = "console"
	defaultLogLevel            = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir:    defaultDataDir,
			MediaDir:   defaultMediaDir,
			ExportDir:  defaultExportDir,
			StagingDir: defaultStagingDir,
			LogDir:     defaultLogDir,
			APIBind:    defaultAPIBind,
		},
		Resolver: Resolver{
			Mode:                defaultResolverMode,
			SimilarityThreshold: defaultSimilarityThreshold,
			GallerySize:         defaultGallerySize,
			TieEpsilon:          defaultTieEpsilon,
			IdentityIdleSeconds: defaultIdentityIdleSeconds,
		},
		Ingest: Ingest{
			LostAfterSeconds:     defaultLostAfterSeconds,
			FrameIntervalSeconds: defaultFrameIntervalSeconds,
		},
		Export: Export{
			PaddingSeconds:     defaultPaddingSeconds,
			MergeGapSeconds:    defaultMergeGapSeconds,
			MinDurationSeconds: defaultMinDurationSeconds,
			TargetSeconds:      defaultTargetSeconds,
			PerClipSeconds:     defaultPerClipSeconds,
		},
		Jobs: Jobs{
			Workers:             defaultJobWorkers,
			PollIntervalSeconds: defaultJobPollInterval,
			TimeoutSeconds:      defaultJobTimeoutSeconds,
			MaxRetries:          defaultJobMaxRetries,
			LeaseSeconds:        defaultJobLeaseSeconds,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
