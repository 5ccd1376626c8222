package config

// Default tuning values, applied by Default() and by LoadOrDefault() when
// a config file is absent. Chunk size and parallelism defaults mirror the
// Large-File Processor's own constants (internal/largefile); keeping them
// here too lets operators override without touching code.
const (
	DefaultSyncIntervalSeconds = 300
	DefaultMaxConcurrent       = 4
	DefaultBigDeleteThreshold  = 50
	DefaultBigDeletePercentage = 25
	DefaultChunkSize           = "4MiB"
	DefaultConnectTimeout      = "30s"
	DefaultUserAgent           = "syncclient/dev"
	DefaultLogLevel            = "warn"
	DefaultAlgorithm           = "aes256gcm"
)

// Default returns a Config populated with sensible defaults. A config
// file, environment variables, and CLI flags all layer on top of this in
// ascending precedence (see Resolve).
func Default() *Config {
	return &Config{
		Transfers: TransfersConfig{
			MaxConcurrentTransfers: DefaultMaxConcurrent,
			ChunkSize:              DefaultChunkSize,
		},
		Safety: SafetyConfig{
			BigDeleteThreshold:  DefaultBigDeleteThreshold,
			BigDeletePercentage: DefaultBigDeletePercentage,
			SyncDirPermissions:  "0755",
			SyncFilePermissions: "0644",
		},
		Sync: SyncConfig{
			Enabled:             true,
			SyncIntervalSeconds: DefaultSyncIntervalSeconds,
			SyncOnStartup:       true,
			SyncOnFileChange:    true,
			Direction:           "bidirectional",
		},
		Encryption: EncryptionConfig{
			Algorithm: DefaultAlgorithm,
		},
		Logging: LoggingConfig{
			LogLevel: DefaultLogLevel,
		},
		Network: NetworkConfig{
			ConnectTimeout: DefaultConnectTimeout,
			UserAgent:      DefaultUserAgent,
		},
	}
}
