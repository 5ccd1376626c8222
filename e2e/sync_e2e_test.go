//go:build e2e

package e2e

import (
	"context"
	"crypto/rand"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/syncclient/internal/encryption"
	"github.com/tonimelisma/syncclient/internal/store"
	"github.com/tonimelisma/syncclient/internal/sync"
)

// TestNewLocalFileUploads: a file that exists only locally is uploaded
// and its record ends up Synced with the server-assigned etag.
func TestNewLocalFileUploads(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.writeLocal(t, "notes.txt", []byte("hello\n"))

	eng := env.engine(sync.EngineConfig{})

	report, err := eng.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Uploaded)

	remote, ok := env.dav.get("/notes.txt")
	require.True(t, ok)
	assert.Equal(t, []byte("hello\n"), remote)

	rec, err := env.st.GetItemByPath(ctx, "notes.txt")
	require.NoError(t, err)
	assert.Equal(t, store.StatusSynced, rec.SyncStatus)
	assert.NotEmpty(t, rec.ETag)
	assert.Equal(t, int64(6), rec.Size)
}

// TestNestedLocalTreeUploads: a multi-level local tree against an empty
// remote converges in one pass, with every collection created
// parent-before-child (the fake server 409s a MKCOL or PUT whose parent
// is missing).
func TestNestedLocalTreeUploads(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.writeLocal(t, "a/b/c/deep.txt", []byte("deep"))
	env.writeLocal(t, "a/x.txt", []byte("x"))
	env.writeLocal(t, "top.txt", []byte("t"))

	eng := env.engine(sync.EngineConfig{})

	report, err := eng.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Uploaded)
	assert.Equal(t, 3, report.CreatedRemoteDirs)
	assert.Equal(t, 0, report.Errors)

	for path, want := range map[string]string{
		"/a/b/c/deep.txt": "deep",
		"/a/x.txt":        "x",
		"/top.txt":        "t",
	} {
		data, ok := env.dav.get(path)
		require.True(t, ok, "remote missing %s", path)
		assert.Equal(t, []byte(want), data)
	}

	rec, err := env.st.GetItemByPath(ctx, "a/b/c/deep.txt")
	require.NoError(t, err)
	assert.Equal(t, store.StatusSynced, rec.SyncStatus)
}

// TestRemoteOnlyFileDownloads: a nested remote-only file materializes
// locally, parent directory included.
func TestRemoteOnlyFileDownloads(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	payload := make([]byte, 1024)
	_, err := rand.Read(payload)
	require.NoError(t, err)

	env.dav.mkdir("/a")
	env.dav.putFileAt("/a/b.bin", payload, time.Now().Add(-time.Hour))

	eng := env.engine(sync.EngineConfig{})

	report, err := eng.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Downloaded)
	assert.Equal(t, 1, report.CreatedLocalDirs)

	assert.Equal(t, payload, env.readLocal(t, "a/b.bin"))

	rec, err := env.st.GetItemByPath(ctx, "a/b.bin")
	require.NoError(t, err)
	assert.Equal(t, store.StatusSynced, rec.SyncStatus)
	assert.Equal(t, int64(1024), rec.Size)
}

// TestBothModifiedConflict: when both sides changed since the last sync,
// nothing transfers until the user resolves; KeepRemote then pulls the
// remote body down.
func TestBothModifiedConflict(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// Establish the synced baseline: the record's UpdatedAt is the
	// engine's last_sync_time for this path.
	require.NoError(t, env.st.UpsertItem(ctx, &store.FileRecord{
		Path: "doc.md", Name: "doc.md", SyncStatus: store.StatusSynced,
	}))

	// Both sides modified after the baseline.
	env.writeLocal(t, "doc.md", []byte("L"))
	future := time.Now().Add(10 * time.Minute)
	require.NoError(t, os.Chtimes(env.localPath("doc.md"), future, future))

	env.dav.putFileAt("/doc.md", []byte("R"), time.Now().Add(20*time.Minute))

	eng := env.engine(sync.EngineConfig{})

	report, err := eng.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Conflicts)

	// Neither side moved.
	assert.Equal(t, []byte("L"), env.readLocal(t, "doc.md"))
	remote, ok := env.dav.get("/doc.md")
	require.True(t, ok)
	assert.Equal(t, []byte("R"), remote)

	rec, err := env.st.GetItemByPath(ctx, "doc.md")
	require.NoError(t, err)
	assert.Equal(t, store.StatusConflict, rec.SyncStatus)
	assert.Equal(t, string(store.ConflictBothModified), rec.SyncStatusDetail)

	conflicts, err := eng.ListConflicts(ctx)
	require.NoError(t, err)
	require.Len(t, conflicts, 1)

	// A second pass still refuses to transfer and does not duplicate
	// the conflict record.
	report, err = eng.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Uploaded)
	assert.Equal(t, 0, report.Downloaded)
	assert.Equal(t, []byte("L"), env.readLocal(t, "doc.md"))

	conflicts, err = eng.ListConflicts(ctx)
	require.NoError(t, err)
	require.Len(t, conflicts, 1)

	// KeepRemote pulls the remote body and clears the conflict.
	require.NoError(t, eng.ResolveConflict(ctx, conflicts[0].ID, sync.ResolveKeepRemote, "user"))

	assert.Equal(t, []byte("R"), env.readLocal(t, "doc.md"))

	rec, err = env.st.GetItemByPath(ctx, "doc.md")
	require.NoError(t, err)
	assert.Equal(t, store.StatusSynced, rec.SyncStatus)

	conflicts, err = eng.ListConflicts(ctx)
	require.NoError(t, err)
	assert.Empty(t, conflicts)
}

// TestSkippedConflictIsIgnored: Skip marks the path Ignored and later
// passes leave it alone in both directions.
func TestSkippedConflictIsIgnored(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	require.NoError(t, env.st.UpsertItem(ctx, &store.FileRecord{
		Path: "skip.txt", Name: "skip.txt", SyncStatus: store.StatusSynced,
	}))

	env.writeLocal(t, "skip.txt", []byte("local"))
	future := time.Now().Add(10 * time.Minute)
	require.NoError(t, os.Chtimes(env.localPath("skip.txt"), future, future))
	env.dav.putFileAt("/skip.txt", []byte("remote"), time.Now().Add(20*time.Minute))

	eng := env.engine(sync.EngineConfig{})

	_, err := eng.RunOnce(ctx)
	require.NoError(t, err)

	conflicts, err := eng.ListConflicts(ctx)
	require.NoError(t, err)
	require.Len(t, conflicts, 1)

	require.NoError(t, eng.ResolveConflict(ctx, conflicts[0].ID, sync.ResolveSkip, "user"))

	report, err := eng.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Uploaded)
	assert.Equal(t, 0, report.Downloaded)
	assert.Equal(t, 0, report.Conflicts)

	assert.Equal(t, []byte("local"), env.readLocal(t, "skip.txt"))
	remote, ok := env.dav.get("/skip.txt")
	require.True(t, ok)
	assert.Equal(t, []byte("remote"), remote)
}

// TestSingleFlight: a second RunOnce while a pass holds the lock returns
// ErrAlreadySyncing rather than running a concurrent pass.
func TestSingleFlight(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.dav.putStarted = make(chan struct{})
	env.dav.putRelease = make(chan struct{})

	env.writeLocal(t, "slow.txt", []byte("body"))

	eng := env.engine(sync.EngineConfig{})

	done := make(chan error, 1)
	go func() {
		_, err := eng.RunOnce(ctx)
		done <- err
	}()

	// Wait until the first pass is mid-upload, provably inside the lock.
	select {
	case <-env.dav.putStarted:
	case <-time.After(10 * time.Second):
		t.Fatal("first pass never reached PUT")
	}

	_, err := eng.RunOnce(ctx)
	assert.ErrorIs(t, err, sync.ErrAlreadySyncing)

	close(env.dav.putRelease)
	require.NoError(t, <-done)

	state, _ := eng.State()
	assert.Equal(t, sync.StateIdle, state)
}

// TestEncryptionPasswordMissing: with encryption wired but no password,
// the pass is refused up front and the engine stays Idle.
func TestEncryptionPasswordMissing(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	enc := encryption.New(env.st, env.logger)

	eng := env.engine(sync.EngineConfig{Encryption: enc})

	_, err := eng.RunOnce(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "password")

	state, _ := eng.State()
	assert.Equal(t, sync.StateIdle, state)
}

// TestLocalRemovalRestoredFromRemote: the two-way model treats a
// remote-only path as a download, so a locally removed file reappears
// from the remote copy on the next pass.
func TestLocalRemovalRestoredFromRemote(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.writeLocal(t, "keep.txt", []byte("k"))

	eng := env.engine(sync.EngineConfig{})

	_, err := eng.RunOnce(ctx)
	require.NoError(t, err)

	_, ok := env.dav.get("/keep.txt")
	require.True(t, ok)

	// Remove locally; the remote copy comes back on the next pass.
	require.NoError(t, os.Remove(env.localPath("keep.txt")))

	report, err := eng.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Downloaded)
	assert.Equal(t, []byte("k"), env.readLocal(t, "keep.txt"))
}
