package largefile

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
)

// ChunkMetadata describes one chunk of an encrypted large file.
type ChunkMetadata struct {
	ChunkIndex    int    `json:"chunk_index"`
	OriginalSize  int    `json:"original_size"`
	EncryptedSize int    `json:"encrypted_size"`
	IV            string `json:"iv"`
	Algorithm     string `json:"algorithm"`
	Offset        int64  `json:"offset"`
}

// Manifest is the header written at the start of an encrypted large file.
type Manifest struct {
	Version           int             `json:"version"`
	FileID            string          `json:"file_id"`
	TotalChunks       int             `json:"total_chunks"`
	OriginalSize      int64           `json:"original_size"`
	Chunks            []ChunkMetadata `json:"chunks"`
	Algorithm         string          `json:"algorithm"`
	KeyID             string          `json:"key_id"`
	FilenameEncrypted bool            `json:"filename_encrypted"`
	OriginalFilename  string          `json:"original_filename,omitempty"`
	MimeType          string          `json:"mime_type,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
}

func newManifest(originalSize int64, chunks []ChunkMetadata, algorithm, keyID string, encryptFilenames bool, originalFilename, mimeType string) (*Manifest, error) {
	if len(chunks) == 0 {
		return nil, fmt.Errorf("largefile: no chunks to build manifest from")
	}

	seen := make(map[int]bool, len(chunks))
	for _, c := range chunks {
		if seen[c.ChunkIndex] {
			return nil, fmt.Errorf("largefile: duplicate chunk index %d", c.ChunkIndex)
		}

		seen[c.ChunkIndex] = true
	}

	return &Manifest{
		Version:           1,
		FileID:            uuid.New().String(),
		TotalChunks:       len(chunks),
		OriginalSize:      originalSize,
		Chunks:            chunks,
		Algorithm:         algorithm,
		KeyID:             keyID,
		FilenameEncrypted: encryptFilenames,
		OriginalFilename:  originalFilename,
		MimeType:          mimeType,
		CreatedAt:         time.Now().UTC(),
	}, nil
}

// maxManifestReserve returns a generous fixed upper bound, in bytes, for the
// serialized manifest given a chunk count: enough headroom that the real
// manifest (written after all chunks are known) always fits the placeholder
// region reserved before any chunk is written, so chunk offsets recorded in
// it never need to shift (DESIGN.md Open Question 1).
func maxManifestReserve(totalChunks int) int64 {
	const (
		baseOverhead     = 512 // file_id, timestamps, algorithm/key_id strings, JSON punctuation
		perChunkOverhead = 256 // generous upper bound on one chunk's serialized JSON entry
	)

	return int64(baseOverhead + perChunkOverhead*totalChunks)
}

// writeManifestPlaceholder reserves the manifest region: an 8-byte
// little-endian length prefix (always referring to the reserve size, not
// the eventual real manifest size) followed by reserve zero bytes. Returns
// the absolute offset immediately after the reserved region, where chunk
// data begins.
func writeManifestPlaceholder(w io.WriteSeeker, totalChunks int) (int64, error) {
	reserve := maxManifestReserve(totalChunks)

	header := make([]byte, 8)
	binary.LittleEndian.PutUint64(header, uint64(reserve))

	if _, err := w.Write(header); err != nil {
		return 0, fmt.Errorf("largefile: write manifest length prefix: %w", err)
	}

	if _, err := w.Seek(reserve, io.SeekCurrent); err != nil {
		return 0, fmt.Errorf("largefile: reserve manifest region: %w", err)
	}

	return 8 + reserve, nil
}

// finalizeManifest serializes m and overwrites the reserved placeholder
// region in place. The length prefix always records reserve (the full
// reserved region size); the JSON is padded with trailing whitespace to
// fill it exactly, so a reader always knows precisely how many bytes to
// skip to reach chunk data, independent of the real manifest's JSON length.
func finalizeManifest(w io.WriteSeeker, m *Manifest, reserve int64) error {
	body, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("largefile: marshal manifest: %w", err)
	}

	if int64(len(body)) > reserve {
		return fmt.Errorf("largefile: manifest of %d bytes exceeds reserved region of %d bytes", len(body), reserve)
	}

	padded := make([]byte, reserve)
	copy(padded, body)

	for i := len(body); i < len(padded); i++ {
		padded[i] = ' '
	}

	if _, err := w.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("largefile: seek to manifest head: %w", err)
	}

	header := make([]byte, 8)
	binary.LittleEndian.PutUint64(header, uint64(reserve))

	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("largefile: rewrite manifest length prefix: %w", err)
	}

	if _, err := w.Write(padded); err != nil {
		return fmt.Errorf("largefile: rewrite manifest body: %w", err)
	}

	return nil
}

// readManifest reads the 8-byte length prefix and manifest JSON (trailing
// whitespace padding is tolerated by json.Unmarshal) from the head of r,
// returning the manifest and the absolute offset where chunk data begins.
func readManifest(r io.Reader) (*Manifest, int64, error) {
	header := make([]byte, 8)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, 0, fmt.Errorf("largefile: read manifest length prefix: %w", err)
	}

	size := binary.LittleEndian.Uint64(header)

	body := make([]byte, size)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, 0, fmt.Errorf("largefile: read manifest body: %w", err)
	}

	var m Manifest
	if err := json.Unmarshal(body, &m); err != nil {
		return nil, 0, fmt.Errorf("largefile: unmarshal manifest: %w", err)
	}

	return &m, 8 + int64(size), nil
}
