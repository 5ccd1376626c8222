// Package encryption implements the Encryption Service: the
// master-key lifecycle state machine, file-level encrypt/decrypt routing
// between the single-shot envelope and the Large-File Processor, and the
// master-key cache.
package encryption

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tonimelisma/syncclient/internal/crypto"
	"github.com/tonimelisma/syncclient/internal/store"
)

// State is the master-key lifecycle state.
type State string

const (
	StateUninitialized State = "uninitialized"
	StateActive        State = "active"
)

var (
	ErrAlreadyInitialized = errors.New("encryption: already initialized")
	ErrNotInitialized     = errors.New("encryption: not initialized")
	ErrInvalidKey         = errors.New("encryption: key_id mismatch")
	ErrUnsupportedAlgorithm = crypto.ErrUnsupportedAlgorithm
	ErrDecryption           = crypto.ErrAuthenticationFailed
)

// cacheTTL is the master-key cache lifetime.
const cacheTTL = 600 * time.Second

// KeyStore is the subset of the State Store the Encryption Service
// depends on; the composition root passes the concrete store, tests
// pass an in-memory double.
type KeyStore interface {
	GetWrappedKey(ctx context.Context) (*store.WrappedMasterKey, error)
	PutWrappedKey(ctx context.Context, k *store.WrappedMasterKey) error
	GetEncryptionSettings(ctx context.Context) (*store.EncryptionSettings, error)
	PutEncryptionSettings(ctx context.Context, es *store.EncryptionSettings) error
}

// Settings mirrors store.EncryptionSettings for callers outside the
// store package (keeps internal/encryption's public surface
// store-agnostic).
type Settings struct {
	Enabled          bool
	Algorithm        crypto.Algorithm
	KeyStorage       string
	KeyFilePath      string
	EncryptFilenames bool
	EncryptMetadata  bool
}

// keyCache is the explicit, owned master-key cache subsystem (Design
// Notes: "model it as an explicit subsystem owned by the encryption
// service, not as a module-level singleton").
type keyCache struct {
	mu        sync.Mutex
	keyID     string
	masterKey []byte
	algorithm crypto.Algorithm
	expiry    time.Time
}

func (c *keyCache) get(keyID string) ([]byte, crypto.Algorithm, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.keyID != keyID || c.masterKey == nil {
		return nil, "", false
	}

	if time.Now().After(c.expiry) {
		return nil, "", false
	}

	return c.masterKey, c.algorithm, true
}

func (c *keyCache) put(keyID string, masterKey []byte, algorithm crypto.Algorithm) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.keyID = keyID
	c.masterKey = masterKey
	c.algorithm = algorithm
	c.expiry = time.Now().Add(cacheTTL)
}

func (c *keyCache) invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.masterKey != nil {
		crypto.Wipe(c.masterKey)
	}

	c.keyID = ""
	c.masterKey = nil
	c.expiry = time.Time{}
}

// Service owns the master-key lifecycle and routes file-level
// encrypt/decrypt between the single-shot envelope and the chunked
// processor.
type Service struct {
	store  KeyStore
	logger *slog.Logger
	cache  *keyCache
}

// New constructs a Service over store. All master-key material lives only
// in process memory (the cache) and on disk only in wrapped form.
func New(store KeyStore, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}

	return &Service{store: store, logger: logger, cache: &keyCache{}}
}

// State reports whether the service has an active master key.
func (s *Service) State(ctx context.Context) (State, error) {
	_, err := s.store.GetWrappedKey(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return StateUninitialized, nil
	}

	if err != nil {
		return "", fmt.Errorf("encryption: read wrapped key: %w", err)
	}

	return StateActive, nil
}

// Initialize moves Uninitialized -> Active: generates a master key, wraps
// it under password, and persists the wrapped key and settings.
func (s *Service) Initialize(ctx context.Context, password string, settings Settings) (keyID string, err error) {
	state, err := s.State(ctx)
	if err != nil {
		return "", err
	}

	if state == StateActive {
		return "", ErrAlreadyInitialized
	}

	if !crypto.Supported(settings.Algorithm) {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedAlgorithm, settings.Algorithm)
	}

	masterKey, err := crypto.GenerateMasterKey()
	if err != nil {
		return "", err
	}
	defer crypto.Wipe(masterKey)

	salt, err := crypto.NewSalt()
	if err != nil {
		return "", err
	}

	wrapped, err := crypto.WrapMasterKey(settings.Algorithm, masterKey, []byte(password), salt)
	if err != nil {
		return "", fmt.Errorf("encryption: wrap master key: %w", err)
	}

	keyID = uuid.New().String()

	if err := s.store.PutWrappedKey(ctx, &store.WrappedMasterKey{
		KeyID:        keyID,
		WrappedBytes: base64.StdEncoding.EncodeToString(wrapped),
		KDFSalt:      base64.StdEncoding.EncodeToString(salt),
	}); err != nil {
		return "", fmt.Errorf("encryption: persist wrapped key: %w", err)
	}

	if err := s.store.PutEncryptionSettings(ctx, &store.EncryptionSettings{
		Enabled:          true,
		Algorithm:        string(settings.Algorithm),
		KeyStorage:       storageOrDefault(settings.KeyStorage),
		KeyStorageDetail: settings.KeyFilePath,
		EncryptFilenames: settings.EncryptFilenames,
		EncryptMetadata:  settings.EncryptMetadata,
		KDFSalt:          base64.StdEncoding.EncodeToString(salt),
		KeyID:            keyID,
	}); err != nil {
		return "", fmt.Errorf("encryption: persist settings: %w", err)
	}

	keyCopy := make([]byte, len(masterKey))
	copy(keyCopy, masterKey)
	s.cache.put(keyID, keyCopy, settings.Algorithm)

	s.logger.Info("encryption: initialized", slog.String("key_id", keyID), slog.String("algorithm", string(settings.Algorithm)))

	return keyID, nil
}

func storageOrDefault(v string) string {
	if v == "" {
		return "password"
	}

	return v
}

// ChangePassword unwraps with old, rewraps with new under a fresh salt,
// and keeps the same key_id.
func (s *Service) ChangePassword(ctx context.Context, oldPassword, newPassword string) error {
	masterKey, keyID, algorithm, err := s.unwrapFromStore(ctx, oldPassword)
	if err != nil {
		return err
	}
	defer crypto.Wipe(masterKey)

	salt, err := crypto.NewSalt()
	if err != nil {
		return err
	}

	wrapped, err := crypto.WrapMasterKey(algorithm, masterKey, []byte(newPassword), salt)
	if err != nil {
		return fmt.Errorf("encryption: rewrap master key: %w", err)
	}

	if err := s.store.PutWrappedKey(ctx, &store.WrappedMasterKey{
		KeyID:        keyID,
		WrappedBytes: base64.StdEncoding.EncodeToString(wrapped),
		KDFSalt:      base64.StdEncoding.EncodeToString(salt),
	}); err != nil {
		return fmt.Errorf("encryption: persist rewrapped key: %w", err)
	}

	es, err := s.store.GetEncryptionSettings(ctx)
	if err != nil {
		return fmt.Errorf("encryption: read settings: %w", err)
	}

	es.KDFSalt = base64.StdEncoding.EncodeToString(salt)
	if err := s.store.PutEncryptionSettings(ctx, es); err != nil {
		return fmt.Errorf("encryption: persist settings: %w", err)
	}

	s.cache.invalidate()

	keyCopy := make([]byte, len(masterKey))
	copy(keyCopy, masterKey)
	s.cache.put(keyID, keyCopy, algorithm)

	s.logger.Info("encryption: password changed", slog.String("key_id", keyID))

	return nil
}

// VerifyPassword attempts an unwrap and reports success.
func (s *Service) VerifyPassword(ctx context.Context, password string) (bool, error) {
	_, _, _, err := s.unwrapFromStore(ctx, password)
	if err == nil {
		return true, nil
	}

	if errors.Is(err, crypto.ErrAuthenticationFailed) {
		return false, nil
	}

	return false, err
}

// SignOut invalidates the master-key cache, e.g. on explicit sign-out
// (Cache invalidated on password change and on explicit sign-out).
func (s *Service) SignOut() {
	s.cache.invalidate()
}

// unwrapFromStore loads the wrapped key and settings, unwraps with
// password, and populates the cache on success.
func (s *Service) unwrapFromStore(ctx context.Context, password string) (masterKey []byte, keyID string, algorithm crypto.Algorithm, err error) {
	wrapped, err := s.store.GetWrappedKey(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return nil, "", "", ErrNotInitialized
	}

	if err != nil {
		return nil, "", "", fmt.Errorf("encryption: read wrapped key: %w", err)
	}

	es, err := s.store.GetEncryptionSettings(ctx)
	if err != nil {
		return nil, "", "", fmt.Errorf("encryption: read settings: %w", err)
	}

	saltBytes, err := base64.StdEncoding.DecodeString(wrapped.KDFSalt)
	if err != nil {
		return nil, "", "", fmt.Errorf("encryption: decode salt: %w", err)
	}

	wrappedBytes, err := base64.StdEncoding.DecodeString(wrapped.WrappedBytes)
	if err != nil {
		return nil, "", "", fmt.Errorf("encryption: decode wrapped key: %w", err)
	}

	algo := crypto.Algorithm(es.Algorithm)

	key, err := crypto.UnwrapMasterKey(algo, wrappedBytes, []byte(password), saltBytes)
	if err != nil {
		return nil, "", "", err
	}

	keyCopy := make([]byte, len(key))
	copy(keyCopy, key)
	s.cache.put(wrapped.KeyID, keyCopy, algo)

	return key, wrapped.KeyID, algo, nil
}

// getMasterKey resolves the active master key, reading through the cache
// first (All reads through the cache first).
func (s *Service) getMasterKey(ctx context.Context, password string) (masterKey []byte, keyID string, algorithm crypto.Algorithm, err error) {
	wrapped, err := s.store.GetWrappedKey(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return nil, "", "", ErrNotInitialized
	}

	if err != nil {
		return nil, "", "", fmt.Errorf("encryption: read wrapped key: %w", err)
	}

	if key, algo, ok := s.cache.get(wrapped.KeyID); ok {
		return key, wrapped.KeyID, algo, nil
	}

	return s.unwrapFromStore(ctx, password)
}

// ActiveSettings returns the currently persisted EncryptionSettings.
func (s *Service) ActiveSettings(ctx context.Context) (*store.EncryptionSettings, error) {
	return s.store.GetEncryptionSettings(ctx)
}

// UnlockMasterKey exposes the active master key to trusted callers that
// must escrow a wrapped copy outside the normal password path, namely the
// Recovery Subsystem's recovery-code and security-question flows.
func (s *Service) UnlockMasterKey(ctx context.Context, password string) (masterKey []byte, keyID string, algorithm crypto.Algorithm, err error) {
	return s.getMasterKey(ctx, password)
}

// AdoptMasterKey installs masterKey as the active key, wrapped under
// newPassword, replacing whatever key was previously active. Used by
// ImportKey and by the Recovery Subsystem once a recovery code or
// security-question set has been verified.
func (s *Service) AdoptMasterKey(ctx context.Context, keyID string, masterKey []byte, algorithm crypto.Algorithm, newPassword string) error {
	if !crypto.Supported(algorithm) {
		return fmt.Errorf("%w: %s", ErrUnsupportedAlgorithm, algorithm)
	}

	salt, err := crypto.NewSalt()
	if err != nil {
		return err
	}

	wrapped, err := crypto.WrapMasterKey(algorithm, masterKey, []byte(newPassword), salt)
	if err != nil {
		return fmt.Errorf("encryption: wrap adopted key: %w", err)
	}

	if err := s.store.PutWrappedKey(ctx, &store.WrappedMasterKey{
		KeyID:        keyID,
		WrappedBytes: base64.StdEncoding.EncodeToString(wrapped),
		KDFSalt:      base64.StdEncoding.EncodeToString(salt),
	}); err != nil {
		return fmt.Errorf("encryption: persist adopted key: %w", err)
	}

	es, err := s.store.GetEncryptionSettings(ctx)
	if err != nil {
		return fmt.Errorf("encryption: read settings: %w", err)
	}

	es.Algorithm = string(algorithm)
	es.KDFSalt = base64.StdEncoding.EncodeToString(salt)
	es.KeyID = keyID
	es.Enabled = true

	if err := s.store.PutEncryptionSettings(ctx, es); err != nil {
		return fmt.Errorf("encryption: persist settings: %w", err)
	}

	s.cache.invalidate()

	keyCopy := make([]byte, len(masterKey))
	copy(keyCopy, masterKey)
	s.cache.put(keyID, keyCopy, algorithm)

	s.logger.Info("encryption: adopted master key", slog.String("key_id", keyID))

	return nil
}
