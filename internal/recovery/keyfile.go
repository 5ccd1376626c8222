package recovery

import (
	"encoding/json"
	"fmt"
	"os"
)

// backupKeyFileFields is the minimal shape Verify checks against,
// independent of internal/encryption's own keyFile type so this package
// has no compile-time dependency on the encryption package's exact
// struct, only on the wire contract (parses JSON, checks required
// fields).
type backupKeyFileFields struct {
	KeyID      string `json:"key_id"`
	Algorithm  string `json:"algorithm"`
	MasterKey  string `json:"master_key"`
	Version    int    `json:"version"`
	ExportedAt string `json:"exported_at"`
}

// VerifyBackupKeyFile reads path and confirms it looks like a key file
// produced by export_key: required fields present, version == 1.
func VerifyBackupKeyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("recovery: read key file: %w", err)
	}

	var f backupKeyFileFields

	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidKeyFile, err)
	}

	if f.KeyID == "" || f.Algorithm == "" || f.MasterKey == "" || f.ExportedAt == "" {
		return fmt.Errorf("%w: missing required field", ErrInvalidKeyFile)
	}

	if f.Version != 1 {
		return fmt.Errorf("%w: unsupported version %d", ErrInvalidKeyFile, f.Version)
	}

	return nil
}
