// Package recovery implements the Recovery Subsystem: backup-key
// file verification and restoration, the recovery-code and
// security-question flows, and corruption detection/repair for files
// believed to be encrypted.
package recovery

import (
	"context"
	"errors"
	"log/slog"

	"github.com/tonimelisma/syncclient/internal/crypto"
)

var (
	ErrNotFound        = errors.New("recovery: not found")
	ErrExpired         = errors.New("recovery: code expired")
	ErrAlreadyUsed     = errors.New("recovery: code already used")
	ErrInvalidCode     = errors.New("recovery: invalid verification code")
	ErrTooFewQuestions = errors.New("recovery: at least three security questions required")
	ErrThresholdNotMet = errors.New("recovery: too few matching security-question answers")
	ErrInvalidKeyFile  = errors.New("recovery: invalid backup key file")
)

// ConfigStore is the subset of the State Store the Recovery Subsystem
// persists its artifacts through: recovery-code records and the
// security-question set are stored as typed blobs under the config
// relation rather than a dedicated table.
type ConfigStore interface {
	GetConfigBlob(ctx context.Context, key string) (string, error)
	PutConfigBlob(ctx context.Context, key, value string) error
}

// KeyAdopter is the subset of the Encryption Service the Recovery
// Subsystem depends on: escrowing the active master key at opt-in time,
// installing a recovered key under a new password at restore time, and
// importing a backup key file directly.
type KeyAdopter interface {
	UnlockMasterKey(ctx context.Context, password string) (masterKey []byte, keyID string, algorithm crypto.Algorithm, err error)
	AdoptMasterKey(ctx context.Context, keyID string, masterKey []byte, algorithm crypto.Algorithm, newPassword string) error
	ImportKey(ctx context.Context, path, newPassword string) (keyID string, err error)
}

// Service implements the Recovery Subsystem's two modalities (backup key
// file, recovery code / security questions) plus corruption detection.
type Service struct {
	config ConfigStore
	keys   KeyAdopter
	logger *slog.Logger
}

// New constructs a Service over config and keys.
func New(config ConfigStore, keys KeyAdopter, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}

	return &Service{config: config, keys: keys, logger: logger}
}

// RestoreFromBackupKeyFile verifies path looks like a valid backup key
// file, then imports it under newPassword.
func (s *Service) RestoreFromBackupKeyFile(ctx context.Context, path, newPassword string) (keyID string, err error) {
	if err := VerifyBackupKeyFile(path); err != nil {
		return "", err
	}

	keyID, err = s.keys.ImportKey(ctx, path, newPassword)
	if err != nil {
		return "", err
	}

	s.logger.Info("recovery: restored from backup key file")

	return keyID, nil
}
