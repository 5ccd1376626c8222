package encryption

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/tonimelisma/syncclient/internal/crypto"
)

// keyFileVersion identifies the exported backup-key file's wire format.
const keyFileVersion = 1

var ErrUnsupportedKeyFileVersion = errors.New("encryption: unsupported key file version")

// keyFile is the backup-key export/import wire format.
type keyFile struct {
	Version      int       `json:"version"`
	KeyID        string    `json:"key_id"`
	Algorithm    string    `json:"algorithm"`
	MasterKeyB64 string    `json:"master_key"`
	ExportedAt   time.Time `json:"exported_at"`
}

// ExportKey writes the raw (unwrapped) master key to path, protected only
// by filesystem permissions. Callers are responsible for storing it
// somewhere safe; this is the backup-key recovery mechanism.
func (s *Service) ExportKey(ctx context.Context, password, path string) error {
	masterKey, keyID, algorithm, err := s.getMasterKey(ctx, password)
	if err != nil {
		return err
	}

	kf := keyFile{
		Version:      keyFileVersion,
		KeyID:        keyID,
		Algorithm:    string(algorithm),
		MasterKeyB64: base64.StdEncoding.EncodeToString(masterKey),
		ExportedAt:   time.Now().UTC(),
	}

	data, err := json.MarshalIndent(kf, "", "  ")
	if err != nil {
		return fmt.Errorf("encryption: encode key file: %w", err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("encryption: write key file: %w", err)
	}

	s.logger.Info("encryption: exported backup key", "key_id", keyID)

	return nil
}

// ImportKey reads a backup key file and rewraps its master key under
// newPassword, replacing whatever key is currently active.
func (s *Service) ImportKey(ctx context.Context, path, newPassword string) (keyID string, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("encryption: read key file: %w", err)
	}

	var kf keyFile

	if err := json.Unmarshal(data, &kf); err != nil {
		return "", fmt.Errorf("encryption: decode key file: %w", err)
	}

	if kf.Version != keyFileVersion {
		return "", fmt.Errorf("%w: %d", ErrUnsupportedKeyFileVersion, kf.Version)
	}

	masterKey, err := base64.StdEncoding.DecodeString(kf.MasterKeyB64)
	if err != nil {
		return "", fmt.Errorf("encryption: decode master key: %w", err)
	}
	defer crypto.Wipe(masterKey)

	algorithm := crypto.Algorithm(kf.Algorithm)

	if err := s.AdoptMasterKey(ctx, kf.KeyID, masterKey, algorithm, newPassword); err != nil {
		return "", err
	}

	s.logger.Info("encryption: imported backup key", "key_id", kf.KeyID)

	return kf.KeyID, nil
}
