package encryption

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/tonimelisma/syncclient/internal/crypto"
)

// envelopeVersion identifies the small-file envelope's wire format.
const envelopeVersion = 1

// Metadata describes one ciphertext blob: the
// algorithm and key_id it was sealed under, whether its filename is
// separately encrypted, and enough of the original file's shape to
// restore it without guessing.
type Metadata struct {
	Algorithm         string `json:"algorithm"`
	KeyID             string `json:"key_id"`
	FilenameEncrypted bool   `json:"filename_encrypted"`
	OriginalSize      int64  `json:"original_size"`
	OriginalMimeType  string `json:"original_mime_type,omitempty"`
	Extension         string `json:"extension,omitempty"`
}

// envelope is the single-shot JSON wire format for data below the
// chunking threshold. metadata is carried as a JSON string rather than
// a nested object.
type envelope struct {
	Version             int    `json:"version"`
	IV                  string `json:"iv"`
	Metadata            string `json:"metadata"`
	EncryptedDataBase64 string `json:"encrypted_data_base64"`
}

// EncryptData seals data under the active master key, returning the
// self-describing envelope bytes.
func (s *Service) EncryptData(ctx context.Context, password string, data []byte) ([]byte, error) {
	return s.encryptDataWithMetadata(ctx, password, data, Metadata{})
}

func (s *Service) encryptDataWithMetadata(ctx context.Context, password string, data []byte, meta Metadata) ([]byte, error) {
	masterKey, keyID, algorithm, err := s.getMasterKey(ctx, password)
	if err != nil {
		return nil, err
	}

	ciphertext, nonce, err := crypto.SealDetached(algorithm, masterKey, data, nil)
	if err != nil {
		return nil, err
	}

	meta.Algorithm = string(algorithm)
	meta.KeyID = keyID
	if meta.OriginalSize == 0 {
		meta.OriginalSize = int64(len(data))
	}

	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("encryption: marshal metadata: %w", err)
	}

	env := envelope{
		Version:             envelopeVersion,
		IV:                  base64.StdEncoding.EncodeToString(nonce),
		Metadata:            string(metaJSON),
		EncryptedDataBase64: base64.StdEncoding.EncodeToString(ciphertext),
	}

	return json.Marshal(env)
}

// DecryptData reverses EncryptData. The envelope's key_id must match
// the currently active key; data encrypted under a rotated-out key is
// rejected.
func (s *Service) DecryptData(ctx context.Context, password string, envelopeBytes []byte) ([]byte, error) {
	plaintext, _, err := s.decryptEnvelope(ctx, password, envelopeBytes)
	return plaintext, err
}

func (s *Service) decryptEnvelope(ctx context.Context, password string, envelopeBytes []byte) ([]byte, Metadata, error) {
	var env envelope

	if err := json.Unmarshal(envelopeBytes, &env); err != nil {
		return nil, Metadata{}, fmt.Errorf("encryption: decode envelope: %w", err)
	}

	if env.Version != envelopeVersion {
		return nil, Metadata{}, fmt.Errorf("encryption: unsupported envelope version %d", env.Version)
	}

	var meta Metadata
	if err := json.Unmarshal([]byte(env.Metadata), &meta); err != nil {
		return nil, Metadata{}, fmt.Errorf("encryption: decode metadata: %w", err)
	}

	masterKey, keyID, _, err := s.getMasterKey(ctx, password)
	if err != nil {
		return nil, Metadata{}, err
	}

	if meta.KeyID != keyID {
		return nil, Metadata{}, ErrInvalidKey
	}

	nonce, err := base64.StdEncoding.DecodeString(env.IV)
	if err != nil {
		return nil, Metadata{}, fmt.Errorf("encryption: decode iv: %w", err)
	}

	ciphertext, err := base64.StdEncoding.DecodeString(env.EncryptedDataBase64)
	if err != nil {
		return nil, Metadata{}, fmt.Errorf("encryption: decode ciphertext: %w", err)
	}

	plaintext, err := crypto.OpenDetached(crypto.Algorithm(meta.Algorithm), masterKey, nonce, ciphertext, nil)
	if err != nil {
		return nil, Metadata{}, err
	}

	return plaintext, meta, nil
}
