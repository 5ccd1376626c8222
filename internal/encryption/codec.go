package encryption

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/tonimelisma/syncclient/internal/crypto"
	"github.com/tonimelisma/syncclient/internal/largefile"
)

func decodeIV(ivB64 string) ([]byte, error) {
	nonce, err := base64.StdEncoding.DecodeString(ivB64)
	if err != nil {
		return nil, fmt.Errorf("encryption: decode iv: %w", err)
	}

	return nonce, nil
}

// Service implements largefile.Codec, binding the Large-File Processor to
// this service's master key instead of the closure callbacks the original
// implementation captured.
var _ largefile.Codec = (*Service)(nil)

// EncryptChunk implements largefile.Codec.
func (s *Service) EncryptChunk(ctx context.Context, password string, plaintext []byte) (ciphertext []byte, iv string, algorithm string, err error) {
	masterKey, _, algo, err := s.getMasterKey(ctx, password)
	if err != nil {
		return nil, "", "", err
	}

	ciphertext, nonce, err := crypto.SealDetached(algo, masterKey, plaintext, nil)
	if err != nil {
		return nil, "", "", err
	}

	return ciphertext, largefile.EncodeIV(nonce), string(algo), nil
}

// DecryptChunk implements largefile.Codec.
func (s *Service) DecryptChunk(ctx context.Context, password string, ciphertext []byte, ivB64, algorithm string) (plaintext []byte, err error) {
	masterKey, _, _, err := s.getMasterKey(ctx, password)
	if err != nil {
		return nil, err
	}

	nonce, err := decodeIV(ivB64)
	if err != nil {
		return nil, err
	}

	return crypto.OpenDetached(crypto.Algorithm(algorithm), masterKey, nonce, ciphertext, nil)
}

// Settings implements largefile.Codec.
func (s *Service) Settings(ctx context.Context) (algorithm, keyID string, encryptFilenames bool, err error) {
	es, err := s.store.GetEncryptionSettings(ctx)
	if err != nil {
		return "", "", false, err
	}

	return es.Algorithm, es.KeyID, es.EncryptFilenames, nil
}
