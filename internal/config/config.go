// Package config implements TOML configuration loading, validation, and
// platform-specific path resolution for the sync client.
package config

// Config is the top-level configuration structure. A single profile
// describes one remote, one local sync root, and the policies that govern
// how the two are reconciled.
type Config struct {
	Remote     RemoteConfig     `toml:"remote"`
	Filter     FilterConfig     `toml:"filter"`
	Transfers  TransfersConfig  `toml:"transfers"`
	Safety     SafetyConfig     `toml:"safety"`
	Sync       SyncConfig       `toml:"sync"`
	Encryption EncryptionConfig `toml:"encryption"`
	Logging    LoggingConfig    `toml:"logging"`
	Network    NetworkConfig    `toml:"network"`
}

// RemoteConfig identifies the WebDAV server and credentials used to reach
// it. The access token is supplied by the caller (CLI flag, environment
// variable, or config file); acquiring it in the first place is out of
// scope here.
type RemoteConfig struct {
	ServerURL   string `toml:"server_url"`
	Username    string `toml:"username"`
	AccessToken string `toml:"access_token"`
	SyncFolder  string `toml:"sync_folder"`
}

// FilterConfig controls which files and directories are included in sync.
type FilterConfig struct {
	SkipFiles    []string `toml:"skip_files"`
	SkipDirs     []string `toml:"skip_dirs"`
	SkipDotfiles bool     `toml:"skip_dotfiles"`
	SkipSymlinks bool     `toml:"skip_symlinks"`
	MaxFileSize  string   `toml:"max_file_size"`
	IgnoreMarker string   `toml:"ignore_marker"`
}

// TransfersConfig controls parallel workers and bandwidth.
type TransfersConfig struct {
	MaxConcurrentTransfers int    `toml:"max_concurrent_transfers"`
	BandwidthLimitKbps     int    `toml:"bandwidth_limit_kbps"`
	ChunkSize              string `toml:"chunk_size"`
}

// SafetyConfig controls protective defaults and thresholds.
type SafetyConfig struct {
	BigDeleteThreshold  int    `toml:"big_delete_threshold"`
	BigDeletePercentage int    `toml:"big_delete_percentage"`
	SyncDirPermissions  string `toml:"sync_dir_permissions"`
	SyncFilePermissions string `toml:"sync_file_permissions"`
}

// SyncConfig controls sync engine behavior. It is read from the config
// file only; the state store keeps no copy of it.
type SyncConfig struct {
	Enabled               bool     `toml:"enabled"`
	SyncIntervalSeconds    int      `toml:"sync_interval_seconds"`
	SyncOnStartup          bool     `toml:"sync_on_startup"`
	SyncOnFileChange       bool     `toml:"sync_on_file_change"`
	Direction              string   `toml:"direction"`
	ExcludedPaths          []string `toml:"excluded_paths"`
	SyncHiddenFiles        bool     `toml:"sync_hidden_files"`
	AutoResolveConflicts   bool     `toml:"auto_resolve_conflicts"`
	Paused                 bool     `toml:"paused"`
	PausedUntil            string   `toml:"paused_until"` // RFC3339; empty means paused indefinitely
}

// EncryptionConfig mirrors EncryptionSettings. The password itself is
// never stored in this struct; it is supplied interactively or via a key
// file at runtime.
type EncryptionConfig struct {
	Enabled          bool   `toml:"enabled"`
	Algorithm        string `toml:"algorithm"`
	KeyStorage       string `toml:"key_storage"`
	KeyFilePath      string `toml:"key_file_path"`
	EncryptFilenames bool   `toml:"encrypt_filenames"`
	EncryptMetadata  bool   `toml:"encrypt_metadata"`
}

// LoggingConfig controls log output behavior.
type LoggingConfig struct {
	LogLevel  string `toml:"log_level"`
	LogFile   string `toml:"log_file"`
	LogFormat string `toml:"log_format"`
}

// NetworkConfig controls HTTP client behavior.
type NetworkConfig struct {
	ConnectTimeout string `toml:"connect_timeout"`
	UserAgent      string `toml:"user_agent"`
}
