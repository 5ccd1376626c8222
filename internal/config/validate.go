package config

import (
	"fmt"
	"strings"
)

var validDirections = map[string]bool{
	"upload": true, "download": true, "bidirectional": true,
}

var validAlgorithms = map[string]bool{
	"aes256gcm": true, "chacha20poly1305": true,
	"kyber768": true, "dilithium5": true, "hybridaeskyber": true,
}

var validKeyStorage = map[string]bool{
	"password": true, "systemkeychain": true, "keyfile": true,
}

// Validate checks structural invariants of a Config that TOML decoding
// alone cannot enforce. It does not require network access or touch the
// filesystem.
func Validate(cfg *Config) error {
	if cfg.Sync.Direction == "" {
		cfg.Sync.Direction = "bidirectional"
	}

	if !validDirections[strings.ToLower(cfg.Sync.Direction)] {
		return fmt.Errorf("sync.direction %q is invalid (want upload, download, or bidirectional)", cfg.Sync.Direction)
	}

	if cfg.Transfers.MaxConcurrentTransfers < 0 {
		return fmt.Errorf("transfers.max_concurrent_transfers must be non-negative")
	}

	if cfg.Transfers.ChunkSize != "" {
		if _, err := ParseSize(cfg.Transfers.ChunkSize); err != nil {
			return fmt.Errorf("transfers.chunk_size: %w", err)
		}
	}

	if cfg.Filter.MaxFileSize != "" {
		if _, err := ParseSize(cfg.Filter.MaxFileSize); err != nil {
			return fmt.Errorf("filter.max_file_size: %w", err)
		}
	}

	if cfg.Encryption.Enabled {
		algo := strings.ToLower(cfg.Encryption.Algorithm)
		if !validAlgorithms[algo] {
			return fmt.Errorf("encryption.algorithm %q is not a recognized algorithm", cfg.Encryption.Algorithm)
		}

		if cfg.Encryption.KeyStorage != "" && !validKeyStorage[strings.ToLower(cfg.Encryption.KeyStorage)] {
			return fmt.Errorf("encryption.key_storage %q is invalid", cfg.Encryption.KeyStorage)
		}
	}

	return nil
}
