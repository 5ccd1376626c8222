package largefile

import "context"

// Codec is the small interface the Large-File Processor depends on to
// encrypt and decrypt individual chunks. It replaces the closure-based
// EncryptDataFn/DecryptDataFn/GetSettingsFn callbacks from the original
// implementation with an explicit dependency bound to the encryption
// service, so the processor has no self-referential closures to manage.
type Codec interface {
	// EncryptChunk encrypts plaintext under password, returning the
	// ciphertext blob, a base64 IV, and the algorithm used.
	EncryptChunk(ctx context.Context, password string, plaintext []byte) (ciphertext []byte, iv string, algorithm string, err error)

	// DecryptChunk reverses EncryptChunk given the algorithm and IV
	// recorded in the chunk's manifest entry.
	DecryptChunk(ctx context.Context, password string, ciphertext []byte, iv, algorithm string) (plaintext []byte, err error)

	// Settings returns the active algorithm, key id, and whether
	// filenames are encrypted, used to populate the file manifest.
	Settings(ctx context.Context) (algorithm, keyID string, encryptFilenames bool, err error)
}
