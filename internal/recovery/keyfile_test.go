package recovery

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestVerifyBackupKeyFileValid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "backup.key")

	body := `{"version":1,"key_id":"k1","algorithm":"aes256gcm","master_key":"base64stuff","exported_at":"2026-01-01T00:00:00Z"}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	require.NoError(t, VerifyBackupKeyFile(path))
}

func TestVerifyBackupKeyFileMissingField(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "backup.key")

	body := `{"version":1,"algorithm":"aes256gcm","master_key":"base64stuff","exported_at":"2026-01-01T00:00:00Z"}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	err := VerifyBackupKeyFile(path)
	require.ErrorIs(t, err, ErrInvalidKeyFile)
}

func TestVerifyBackupKeyFileWrongVersion(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "backup.key")

	body := `{"version":2,"key_id":"k1","algorithm":"aes256gcm","master_key":"x","exported_at":"2026-01-01T00:00:00Z"}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	err := VerifyBackupKeyFile(path)
	require.ErrorIs(t, err, ErrInvalidKeyFile)
}

func TestRestoreFromBackupKeyFileDelegatesToImportKey(t *testing.T) {
	cfg := newMemConfigStore()
	keys := newFakeKeyAdopter()
	s := New(cfg, keys, testLogger())

	dir := t.TempDir()
	path := filepath.Join(dir, "backup.key")
	body := `{"version":1,"key_id":"k1","algorithm":"aes256gcm","master_key":"x","exported_at":"2026-01-01T00:00:00Z"}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	keyID, err := s.RestoreFromBackupKeyFile(context.Background(), path, "new-pw")
	require.NoError(t, err)
	require.Equal(t, "imported-key", keyID)
	require.Equal(t, 1, keys.importCalls)
}
