package encryption

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/tonimelisma/syncclient/internal/largefile"
)

// processor lazily builds a largefile.Processor bound to this service,
// so file-level operations route large files through the chunked path
// without the caller having to wire that dependency itself.
func (s *Service) processor() *largefile.Processor {
	return largefile.New(s, 0, 0, s.logger)
}

// EncryptFile encrypts srcPath to dstPath, routing through the chunked
// Large-File Processor when srcPath exceeds the chunking threshold and
// through the single-shot envelope otherwise.
func (s *Service) EncryptFile(ctx context.Context, password, srcPath, dstPath string) error {
	info, err := os.Stat(srcPath)
	if err != nil {
		return fmt.Errorf("encryption: stat source: %w", err)
	}

	if largefile.ShouldChunk(info.Size()) {
		_, err := s.processor().EncryptFile(ctx, password, srcPath, dstPath, filenameOf(srcPath), "")
		return err
	}

	data, err := os.ReadFile(srcPath)
	if err != nil {
		return fmt.Errorf("encryption: read source: %w", err)
	}

	envelopeBytes, err := s.EncryptData(ctx, password, data)
	if err != nil {
		return err
	}

	return os.WriteFile(dstPath, envelopeBytes, 0o600)
}

// DecryptFile reverses EncryptFile, detecting which wire format srcPath
// uses before dispatching.
func (s *Service) DecryptFile(ctx context.Context, password, srcPath, dstPath string) error {
	isChunked, err := isManifestFile(srcPath)
	if err != nil {
		return err
	}

	if isChunked {
		_, err := s.processor().DecryptFile(ctx, password, srcPath, dstPath)
		return err
	}

	envelopeBytes, err := os.ReadFile(srcPath)
	if err != nil {
		return fmt.Errorf("encryption: read source: %w", err)
	}

	plaintext, err := s.DecryptData(ctx, password, envelopeBytes)
	if err != nil {
		return err
	}

	return os.WriteFile(dstPath, plaintext, 0o600)
}

// isManifestFile distinguishes the chunked wire format (an 8-byte length
// prefix followed by manifest JSON, then binary ciphertext) from the
// single-shot envelope (one whole-file JSON document starting with '{')
// by probing for the manifest's file_id field, which the envelope never
// contains.
func isManifestFile(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, fmt.Errorf("encryption: open source: %w", err)
	}
	defer f.Close()

	buf := make([]byte, 64)

	n, err := f.Read(buf)
	if err != nil && err != io.EOF {
		return false, fmt.Errorf("encryption: probe source: %w", err)
	}

	return probeIsManifest(buf[:n]), nil
}

func probeIsManifest(head []byte) bool {
	const marker = `"file_id"`

	for i := 0; i+len(marker) <= len(head); i++ {
		if string(head[i:i+len(marker)]) == marker {
			return true
		}
	}

	return false
}

func filenameOf(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[i+1:]
		}
	}

	return path
}
