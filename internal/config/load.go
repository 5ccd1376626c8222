package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/BurntSushi/toml"
)

// Load reads and parses a TOML config file, validates it, and returns the
// resulting Config.
func Load(path string, logger *slog.Logger) (*Config, error) {
	logger.Debug("loading config file", "path", path)

	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}

	md, err := toml.Decode(string(data), cfg)
	if err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config file %s: unknown key %q", path, undecoded[0].String())
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	logger.Debug("config file parsed successfully", "path", path)

	return cfg, nil
}

// LoadOrDefault reads a TOML config file if it exists, otherwise returns a
// Config populated with all default values.
func LoadOrDefault(path string, logger *slog.Logger) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		logger.Debug("config file not found, using defaults", "path", path)

		return Default(), nil
	}

	return Load(path, logger)
}

// ResolveConfigPath determines the config file path using the three-layer
// priority: CLI flag > environment variable > platform default.
func ResolveConfigPath(env EnvOverrides, cli CLIOverrides, logger *slog.Logger) string {
	cfgPath := DefaultConfigPath()
	source := "default"

	if env.ConfigPath != "" {
		cfgPath = env.ConfigPath
		source = "env"
	}

	if cli.ConfigPath != "" {
		cfgPath = cli.ConfigPath
		source = "cli"
	}

	logger.Debug("config path resolved", "path", cfgPath, "source", source)

	return cfgPath
}

// Resolve loads configuration and applies the override chain: defaults ->
// config file -> environment variables -> CLI flags. The result is a
// single fully-resolved Config — this client manages exactly one remote
// and one sync folder per profile.
func Resolve(env EnvOverrides, cli CLIOverrides, logger *slog.Logger) (*Config, error) {
	cfgPath := ResolveConfigPath(env, cli, logger)

	cfg, err := LoadOrDefault(cfgPath, logger)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	if env.ServerURL != "" {
		cfg.Remote.ServerURL = env.ServerURL
	}

	if env.AccessToken != "" {
		cfg.Remote.AccessToken = env.AccessToken
	}

	if env.SyncFolder != "" {
		cfg.Remote.SyncFolder = env.SyncFolder
	}

	if cli.SyncFolder != "" {
		cfg.Remote.SyncFolder = cli.SyncFolder
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// Write serializes cfg as TOML to path, creating parent directories as
// needed.
func Write(path string, cfg *Config) error {
	if err := os.MkdirAll(pathDir(path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("opening config file: %w", err)
	}
	defer f.Close()

	enc := toml.NewEncoder(f)

	return enc.Encode(cfg)
}

func pathDir(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[:i]
		}
	}

	return "."
}
