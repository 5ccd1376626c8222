// Package largefile implements the Large-File Processor: chunked,
// parallel encrypt/decrypt of files too large for the single-shot
// envelope, with an in-file manifest recording absolute chunk offsets so
// decrypt can seek directly to each chunk regardless of the order in
// which encrypt workers finished.
package largefile

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Tuning constants: files larger than 2x the chunk size are
// processed chunked; everything else goes through the encryption
// service's single-shot envelope path instead.
const (
	DefaultChunkSize        int64 = 4 * 1024 * 1024
	DefaultMaxParallelChunks       = 8
)

// Threshold returns the byte size above which a file of chunkSize should be
// processed through this package rather than single-shot.
func Threshold(chunkSize int64) int64 {
	return 2 * chunkSize
}

// ShouldChunk reports whether a file of the given size should go through
// the chunked path at the default chunk size.
func ShouldChunk(size int64) bool {
	return size > Threshold(DefaultChunkSize)
}

// ChunkFailure records one failed chunk's index and reason.
type ChunkFailure struct {
	ChunkIndex int
	Err        error
}

func (f ChunkFailure) Error() string {
	return fmt.Sprintf("chunk %d: %v", f.ChunkIndex, f.Err)
}

// AggregateError collects every chunk failure from one operation, so
// the caller sees all per-chunk failures at once.
type AggregateError struct {
	Failures []ChunkFailure
}

func (e *AggregateError) Error() string {
	parts := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		parts[i] = f.Error()
	}

	return fmt.Sprintf("largefile: %d chunk(s) failed: %s", len(e.Failures), strings.Join(parts, "; "))
}

// Processor drives chunked parallel encrypt/decrypt over a Codec.
type Processor struct {
	codec       Codec
	chunkSize   int64
	maxParallel int64
	logger      *slog.Logger
}

// New returns a Processor with the given chunk size and worker count. Zero
// values fall back to the package defaults.
func New(codec Codec, chunkSize int64, maxParallel int, logger *slog.Logger) *Processor {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	if maxParallel <= 0 {
		maxParallel = DefaultMaxParallelChunks
	}

	return &Processor{codec: codec, chunkSize: chunkSize, maxParallel: int64(maxParallel), logger: logger}
}

type encryptResult struct {
	index      int
	ciphertext []byte
	iv         string
	algorithm  string
	plainSize  int
	err        error
}

// EncryptFile reads srcPath, encrypts it chunk by chunk, and writes the
// manifest-prefixed ciphertext to dstPath.
func (p *Processor) EncryptFile(ctx context.Context, password, srcPath, dstPath, originalFilename, mimeType string) (*Manifest, error) {
	info, err := os.Stat(srcPath)
	if err != nil {
		return nil, fmt.Errorf("largefile: stat source: %w", err)
	}

	size := info.Size()
	numChunks := int((size + p.chunkSize - 1) / p.chunkSize)

	if numChunks == 0 {
		numChunks = 1 // empty file still gets one (empty) chunk
	}

	algorithm, keyID, encryptFilenames, err := p.codec.Settings(ctx)
	if err != nil {
		return nil, fmt.Errorf("largefile: read encryption settings: %w", err)
	}

	dst, err := os.OpenFile(dstPath, os.O_CREATE|os.O_TRUNC|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("largefile: create destination: %w", err)
	}
	defer dst.Close()

	dataStart, err := writeManifestPlaceholder(dst, numChunks)
	if err != nil {
		return nil, err
	}

	resultsCh := make(chan encryptResult, numChunks)
	sem := semaphore.NewWeighted(p.maxParallel)

	var wg sync.WaitGroup

	for idx := 0; idx < numChunks; idx++ {
		if err := sem.Acquire(ctx, 1); err != nil {
			return nil, fmt.Errorf("largefile: acquire worker slot: %w", err)
		}

		wg.Add(1)

		go func(index int) {
			defer wg.Done()
			defer sem.Release(1)

			resultsCh <- p.encryptChunk(ctx, password, srcPath, index, size)
		}(idx)
	}

	go func() {
		wg.Wait()
		close(resultsCh)
	}()

	chunks, writtenSize, failures, err := p.writeEncryptedChunks(dst, dataStart, numChunks, resultsCh)
	if err != nil {
		return nil, err
	}

	if len(failures) > 0 {
		return nil, &AggregateError{Failures: failures}
	}

	manifest, err := newManifest(writtenSize, chunks, algorithm, keyID, encryptFilenames, originalFilename, mimeType)
	if err != nil {
		return nil, err
	}

	manifest.OriginalSize = size

	reserve := maxManifestReserve(numChunks)
	if err := finalizeManifest(dst, manifest, reserve); err != nil {
		return nil, err
	}

	p.logger.Info("largefile: encrypted",
		slog.String("path", dstPath), slog.Int("chunks", numChunks), slog.Int64("size", size))

	return manifest, nil
}

func (p *Processor) encryptChunk(ctx context.Context, password, srcPath string, index int, totalSize int64) encryptResult {
	f, err := os.Open(srcPath)
	if err != nil {
		return encryptResult{index: index, err: fmt.Errorf("open source: %w", err)}
	}
	defer f.Close()

	offset := int64(index) * p.chunkSize

	remaining := totalSize - offset
	if remaining < 0 {
		remaining = 0
	}

	readSize := p.chunkSize
	if remaining < readSize {
		readSize = remaining
	}

	plaintext := make([]byte, readSize)
	if readSize > 0 {
		if _, err := f.ReadAt(plaintext, offset); err != nil && err != io.EOF {
			return encryptResult{index: index, err: fmt.Errorf("read chunk: %w", err)}
		}
	}

	ciphertext, iv, algorithm, err := p.codec.EncryptChunk(ctx, password, plaintext)
	if err != nil {
		return encryptResult{index: index, err: fmt.Errorf("encrypt chunk: %w", err)}
	}

	return encryptResult{
		index: index, ciphertext: ciphertext, iv: iv, algorithm: algorithm, plainSize: len(plaintext),
	}
}

// writeEncryptedChunks implements the reorder-buffer writer: it receives
// chunk results possibly out of order and writes only when the
// next-expected index has arrived, draining contiguous pending chunks
// before waiting for more.
func (p *Processor) writeEncryptedChunks(dst io.WriteSeeker, dataStart int64, numChunks int, resultsCh <-chan encryptResult) ([]ChunkMetadata, int64, []ChunkFailure, error) {
	pending := make(map[int]encryptResult, numChunks)
	chunks := make([]ChunkMetadata, numChunks)

	var failures []ChunkFailure

	nextIndex := 0
	writeOffset := dataStart
	received := 0

	if _, err := dst.Seek(dataStart, io.SeekStart); err != nil {
		return nil, 0, nil, fmt.Errorf("largefile: seek to chunk data start: %w", err)
	}

	for res := range resultsCh {
		received++

		if res.err != nil {
			failures = append(failures, ChunkFailure{ChunkIndex: res.index, Err: res.err})
			continue
		}

		pending[res.index] = res

		for {
			next, ok := pending[nextIndex]
			if !ok {
				break
			}

			if len(next.ciphertext) > 0 {
				if _, err := dst.(io.Writer).Write(next.ciphertext); err != nil {
					return nil, 0, nil, fmt.Errorf("largefile: write chunk %d: %w", nextIndex, err)
				}
			}

			chunks[nextIndex] = ChunkMetadata{
				ChunkIndex:    nextIndex,
				OriginalSize:  next.plainSize,
				EncryptedSize: len(next.ciphertext),
				IV:            next.iv,
				Algorithm:     next.algorithm,
				Offset:        writeOffset,
			}

			writeOffset += int64(len(next.ciphertext))
			delete(pending, nextIndex)
			nextIndex++
		}
	}

	sort.Slice(failures, func(i, j int) bool { return failures[i].ChunkIndex < failures[j].ChunkIndex })

	return chunks, writeOffset - dataStart, failures, nil
}

type decryptResult struct {
	index     int
	plaintext []byte
	err       error
}

// DecryptFile reverses EncryptFile: reads the manifest, decrypts each
// chunk in parallel, and reassembles plaintext in strict chunk-index
// order regardless of worker completion order.
func (p *Processor) DecryptFile(ctx context.Context, password, srcPath, dstPath string) (*Manifest, error) {
	src, err := os.Open(srcPath)
	if err != nil {
		return nil, fmt.Errorf("largefile: open source: %w", err)
	}
	defer src.Close()

	manifest, _, err := readManifest(src)
	if err != nil {
		return nil, err
	}

	dst, err := os.OpenFile(dstPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("largefile: create destination: %w", err)
	}
	defer dst.Close()

	numChunks := len(manifest.Chunks)
	resultsCh := make(chan decryptResult, numChunks)
	sem := semaphore.NewWeighted(p.maxParallel)

	var wg sync.WaitGroup

	for _, cm := range manifest.Chunks {
		if err := sem.Acquire(ctx, 1); err != nil {
			return nil, fmt.Errorf("largefile: acquire worker slot: %w", err)
		}

		wg.Add(1)

		go func(chunk ChunkMetadata) {
			defer wg.Done()
			defer sem.Release(1)

			resultsCh <- p.decryptChunk(ctx, password, srcPath, chunk)
		}(cm)
	}

	go func() {
		wg.Wait()
		close(resultsCh)
	}()

	failures, err := p.writeDecryptedChunks(dst, numChunks, resultsCh)
	if err != nil {
		return nil, err
	}

	if len(failures) > 0 {
		return nil, &AggregateError{Failures: failures}
	}

	p.logger.Info("largefile: decrypted",
		slog.String("path", dstPath), slog.Int("chunks", numChunks), slog.Int64("size", manifest.OriginalSize))

	return manifest, nil
}

func (p *Processor) decryptChunk(ctx context.Context, password, srcPath string, chunk ChunkMetadata) decryptResult {
	f, err := os.Open(srcPath)
	if err != nil {
		return decryptResult{index: chunk.ChunkIndex, err: fmt.Errorf("open source: %w", err)}
	}
	defer f.Close()

	ciphertext := make([]byte, chunk.EncryptedSize)
	if chunk.EncryptedSize > 0 {
		if _, err := f.ReadAt(ciphertext, chunk.Offset); err != nil && err != io.EOF {
			return decryptResult{index: chunk.ChunkIndex, err: fmt.Errorf("read chunk: %w", err)}
		}
	}

	plaintext, err := p.codec.DecryptChunk(ctx, password, ciphertext, chunk.IV, chunk.Algorithm)
	if err != nil {
		return decryptResult{index: chunk.ChunkIndex, err: fmt.Errorf("decrypt chunk: %w", err)}
	}

	return decryptResult{index: chunk.ChunkIndex, plaintext: plaintext}
}

func (p *Processor) writeDecryptedChunks(dst io.Writer, numChunks int, resultsCh <-chan decryptResult) ([]ChunkFailure, error) {
	pending := make(map[int]decryptResult, numChunks)

	var failures []ChunkFailure

	nextIndex := 0

	for res := range resultsCh {
		if res.err != nil {
			failures = append(failures, ChunkFailure{ChunkIndex: res.index, Err: res.err})
			continue
		}

		pending[res.index] = res

		for {
			next, ok := pending[nextIndex]
			if !ok {
				break
			}

			if len(next.plaintext) > 0 {
				if _, err := dst.Write(next.plaintext); err != nil {
					return nil, fmt.Errorf("largefile: write plaintext chunk %d: %w", nextIndex, err)
				}
			}

			delete(pending, nextIndex)
			nextIndex++
		}
	}

	sort.Slice(failures, func(i, j int) bool { return failures[i].ChunkIndex < failures[j].ChunkIndex })

	return failures, nil
}

// EncodeIV is a small helper for callers implementing Codec, so producers
// of chunk metadata in other packages don't need to hand-roll base64
// encoding of the IV solely for this.
func EncodeIV(iv []byte) string {
	return base64.StdEncoding.EncodeToString(iv)
}
