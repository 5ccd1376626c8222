package config

import (
	"os"
	"path/filepath"
)

const appDirName = "syncclient"

// DefaultConfigPath returns the platform-appropriate config file path,
// honoring XDG_CONFIG_HOME when set.
func DefaultConfigPath() string {
	return filepath.Join(configHome(), appDirName, "config.toml")
}

// DefaultDataDir returns the directory where the state database and PID
// file live, honoring XDG_DATA_HOME when set.
func DefaultDataDir() string {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return filepath.Join(dir, appDirName)
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "."+appDirName)
	}

	return filepath.Join(home, ".local", "share", appDirName)
}

// DefaultStatePath returns the path to the sync state database.
func DefaultStatePath() string {
	return filepath.Join(DefaultDataDir(), "state.db")
}

// PIDFilePath returns the path to the daemon PID file.
func PIDFilePath() string {
	return filepath.Join(DefaultDataDir(), "sync.pid")
}

func configHome() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return dir
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config")
}
