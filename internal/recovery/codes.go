package recovery

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base32"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tonimelisma/syncclient/internal/crypto"
	"github.com/tonimelisma/syncclient/internal/store"
)

const recoveryCodeConfigKey = "recovery_code"

// codesMu guards the check-and-mark-used sequence against concurrent
// restore attempts with the same code (Supplemented Feature 5:
// single-use enforcement via one logical transaction). The store's
// config blob API exposes get/put but no compare-and-swap, so a
// process-local mutex stands in for the transaction a single desktop
// client process would otherwise need: two goroutines racing to redeem
// the same code cannot both observe it unused.
var codesMu sync.Mutex

// MethodPrintedRecoveryCode identifies the recovery-code modality.
const MethodPrintedRecoveryCode = "printed_recovery_code"

// recoveryCodeRecord is the persisted recovery key record
// {id, verification_code, method, expires_at, used}, extended
// with the escrowed master key needed to actually restore it: the code
// itself is never stored in the clear, only a salted hash, following the
// same side-channel-discipline rule as password verification.
type recoveryCodeRecord struct {
	ID                string    `json:"id"`
	Method            string    `json:"method"`
	CodeSalt          string    `json:"code_salt"`
	CodeHash          string    `json:"code_hash"`
	ExpiresAt         time.Time `json:"expires_at"`
	Used              bool      `json:"used"`
	Algorithm         string    `json:"algorithm"`
	KeyID             string    `json:"key_id"`
	EscrowSalt        string    `json:"escrow_salt"`
	EscrowedMasterKey string    `json:"escrowed_master_key"`
}

// GenerateRecoveryCode escrows a wrapped copy of the currently active
// master key under a freshly generated code, valid until ttl elapses.
// The returned code is shown to the user exactly once.
func (s *Service) GenerateRecoveryCode(ctx context.Context, password string, ttl time.Duration) (id, code string, err error) {
	masterKey, keyID, algorithm, err := s.keys.UnlockMasterKey(ctx, password)
	if err != nil {
		return "", "", err
	}
	defer crypto.Wipe(masterKey)

	code, err = generateCode()
	if err != nil {
		return "", "", err
	}

	codeSalt, err := crypto.NewSalt()
	if err != nil {
		return "", "", err
	}

	codeHash := crypto.DeriveKey([]byte(code), codeSalt)

	escrowSalt, err := crypto.NewSalt()
	if err != nil {
		return "", "", err
	}

	escrowKey := crypto.DeriveKey([]byte(code), escrowSalt)
	defer crypto.Wipe(escrowKey)

	escrowed, err := crypto.Seal(algorithm, escrowKey, masterKey, nil)
	if err != nil {
		return "", "", fmt.Errorf("recovery: escrow master key: %w", err)
	}

	rec := recoveryCodeRecord{
		ID:                uuid.New().String(),
		Method:            MethodPrintedRecoveryCode,
		CodeSalt:          base64.StdEncoding.EncodeToString(codeSalt),
		CodeHash:          base64.StdEncoding.EncodeToString(codeHash),
		ExpiresAt:         time.Now().UTC().Add(ttl),
		Used:              false,
		Algorithm:         string(algorithm),
		KeyID:             keyID,
		EscrowSalt:        base64.StdEncoding.EncodeToString(escrowSalt),
		EscrowedMasterKey: base64.StdEncoding.EncodeToString(escrowed),
	}

	if err := s.putRecord(ctx, rec); err != nil {
		return "", "", err
	}

	s.logger.Info("recovery: generated recovery code", slog.String("id", rec.ID))

	return rec.ID, code, nil
}

// RestoreByCode verifies code against the record identified by id and, on
// success, unwraps the escrowed master key and adopts it under
// newPassword. The code is single-use: a second call with the same id
// fails with ErrAlreadyUsed even if the code was correct.
func (s *Service) RestoreByCode(ctx context.Context, id, code, newPassword string) error {
	codesMu.Lock()
	defer codesMu.Unlock()

	rec, err := s.getRecord(ctx, id)
	if err != nil {
		return err
	}

	if rec.Used {
		return ErrAlreadyUsed
	}

	if time.Now().UTC().After(rec.ExpiresAt) {
		return ErrExpired
	}

	codeSalt, err := base64.StdEncoding.DecodeString(rec.CodeSalt)
	if err != nil {
		return fmt.Errorf("recovery: decode code salt: %w", err)
	}

	wantHash, err := base64.StdEncoding.DecodeString(rec.CodeHash)
	if err != nil {
		return fmt.Errorf("recovery: decode code hash: %w", err)
	}

	gotHash := crypto.DeriveKey([]byte(code), codeSalt)
	if subtle.ConstantTimeCompare(gotHash, wantHash) != 1 {
		return ErrInvalidCode
	}

	escrowSalt, err := base64.StdEncoding.DecodeString(rec.EscrowSalt)
	if err != nil {
		return fmt.Errorf("recovery: decode escrow salt: %w", err)
	}

	escrowed, err := base64.StdEncoding.DecodeString(rec.EscrowedMasterKey)
	if err != nil {
		return fmt.Errorf("recovery: decode escrowed key: %w", err)
	}

	escrowKey := crypto.DeriveKey([]byte(code), escrowSalt)
	defer crypto.Wipe(escrowKey)

	algorithm := crypto.Algorithm(rec.Algorithm)

	masterKey, err := crypto.Open(algorithm, escrowKey, escrowed, nil)
	if err != nil {
		return fmt.Errorf("recovery: unwrap escrowed key: %w", err)
	}
	defer crypto.Wipe(masterKey)

	if err := s.keys.AdoptMasterKey(ctx, rec.KeyID, masterKey, algorithm, newPassword); err != nil {
		return err
	}

	rec.Used = true
	if err := s.putRecord(ctx, rec); err != nil {
		return err
	}

	s.logger.Info("recovery: restored via recovery code", slog.String("id", id))

	return nil
}

func (s *Service) putRecord(ctx context.Context, rec recoveryCodeRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("recovery: encode record: %w", err)
	}

	if err := s.config.PutConfigBlob(ctx, recoveryCodeConfigKey+":"+rec.ID, string(data)); err != nil {
		return fmt.Errorf("recovery: persist record: %w", err)
	}

	return nil
}

func (s *Service) getRecord(ctx context.Context, id string) (recoveryCodeRecord, error) {
	raw, err := s.config.GetConfigBlob(ctx, recoveryCodeConfigKey+":"+id)
	if errors.Is(err, store.ErrNotFound) {
		return recoveryCodeRecord{}, ErrNotFound
	}

	if err != nil {
		return recoveryCodeRecord{}, fmt.Errorf("recovery: read record: %w", err)
	}

	var rec recoveryCodeRecord

	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return recoveryCodeRecord{}, fmt.Errorf("recovery: decode record: %w", err)
	}

	return rec, nil
}

// generateCode returns a user-typeable, high-entropy recovery code:
// 20 random bytes (160 bits) encoded as unpadded base32 for unambiguous
// manual transcription.
func generateCode() (string, error) {
	buf := make([]byte, 20)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("recovery: generate code: %w", err)
	}

	return base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(buf), nil
}
