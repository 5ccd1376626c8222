package store

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func openTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := Open(filepath.Join(t.TempDir(), "state.db"), testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	return s
}

func TestOpenIsIdempotent(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "state.db")

	s, err := Open(dbPath, testLogger())
	require.NoError(t, err)
	require.NoError(t, s.Close())

	// Reopening the same file must not re-run migrations destructively.
	s, err = Open(dbPath, testLogger())
	require.NoError(t, err)
	require.NoError(t, s.Close())
}

func TestItemCRUD(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	mod := time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)

	rec := &FileRecord{
		ID:            "id-1",
		Path:          "docs/notes.txt",
		Name:          "notes.txt",
		Size:          6,
		MimeType:      "text/plain",
		ContentHash:   "abc123",
		LocalModified: &mod,
		ETag:          `"v1"`,
		Direction:     DirectionUpload,
		SyncStatus:    StatusPending,
	}
	require.NoError(t, s.UpsertItem(ctx, rec))

	got, err := s.GetItem(ctx, "id-1")
	require.NoError(t, err)
	assert.Equal(t, "docs/notes.txt", got.Path)
	assert.Equal(t, int64(6), got.Size)
	assert.Equal(t, `"v1"`, got.ETag)
	assert.Equal(t, StatusPending, got.SyncStatus)
	require.NotNil(t, got.LocalModified)
	assert.Equal(t, mod.Unix(), got.LocalModified.Unix())
	assert.Nil(t, got.RemoteModified)
	assert.False(t, got.CreatedAt.IsZero())

	byPath, err := s.GetItemByPath(ctx, "docs/notes.txt")
	require.NoError(t, err)
	assert.Equal(t, "id-1", byPath.ID)

	// Update through the same id.
	rec.SyncStatus = StatusSynced
	rec.ETag = `"v2"`
	require.NoError(t, s.UpsertItem(ctx, rec))

	got, err = s.GetItem(ctx, "id-1")
	require.NoError(t, err)
	assert.Equal(t, `"v2"`, got.ETag)
	assert.Equal(t, StatusSynced, got.SyncStatus)

	_, err = s.GetItem(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.GetItemByPath(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpsertAssignsIDOnFirstObservation(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	rec := &FileRecord{Path: "a.txt", Name: "a.txt", SyncStatus: StatusSynced}
	require.NoError(t, s.UpsertItem(ctx, rec))
	require.NotEmpty(t, rec.ID)

	// A second write to the same path with no id adopts the existing id
	// rather than creating a second record.
	again := &FileRecord{Path: "a.txt", Name: "a.txt", Size: 9, SyncStatus: StatusSynced}
	require.NoError(t, s.UpsertItem(ctx, again))
	assert.Equal(t, rec.ID, again.ID)

	all, err := s.ListAllActive(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, int64(9), all[0].Size)
}

func TestPathUniqueness(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	// Any sequence of upserts leaves at most one active record per path.
	paths := []string{"x.txt", "dir/y.txt", "x.txt", "dir/y.txt", "x.txt"}
	for i, p := range paths {
		require.NoError(t, s.UpsertItem(ctx, &FileRecord{
			Path: p, Name: filepath.Base(p), Size: int64(i), SyncStatus: StatusSynced,
		}))
	}

	all, err := s.ListAllActive(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)

	seen := map[string]bool{}
	for _, r := range all {
		assert.False(t, seen[r.Path], "duplicate active path %q", r.Path)
		seen[r.Path] = true
	}
}

func TestMarkDeletedFreesPathForReuse(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	first := &FileRecord{ID: "gen-1", Path: "f.txt", Name: "f.txt", SyncStatus: StatusSynced}
	require.NoError(t, s.UpsertItem(ctx, first))
	require.NoError(t, s.MarkDeleted(ctx, "gen-1"))

	_, err := s.GetItemByPath(ctx, "f.txt")
	assert.ErrorIs(t, err, ErrNotFound)

	// The tombstone no longer owns the path.
	second := &FileRecord{ID: "gen-2", Path: "f.txt", Name: "f.txt", SyncStatus: StatusPending}
	require.NoError(t, s.UpsertItem(ctx, second))

	got, err := s.GetItemByPath(ctx, "f.txt")
	require.NoError(t, err)
	assert.Equal(t, "gen-2", got.ID)
}

func TestDeleteIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertItem(ctx, &FileRecord{ID: "d-1", Path: "gone.txt", Name: "gone.txt", SyncStatus: StatusSynced}))

	require.NoError(t, s.DeleteItemByKey(ctx, "d-1"))
	require.NoError(t, s.DeleteItemByKey(ctx, "d-1"))

	_, err := s.GetItem(ctx, "d-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteByPathPrefixCascades(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for _, p := range []string{"photos", "photos/2025/a.jpg", "photos/2025/b.jpg", "photosbackup/c.jpg"} {
		require.NoError(t, s.UpsertItem(ctx, &FileRecord{Path: p, Name: filepath.Base(p), SyncStatus: StatusSynced}))
	}

	require.NoError(t, s.DeleteByPathPrefix(ctx, "photos"))

	all, err := s.ListAllActive(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	// A sibling that merely shares the string prefix survives.
	assert.Equal(t, "photosbackup/c.jpg", all[0].Path)
}

func TestListChildrenAndStatusUpdate(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for _, p := range []string{"docs", "docs/a.md", "docs/sub/b.md", "other.txt"} {
		require.NoError(t, s.UpsertItem(ctx, &FileRecord{Path: p, Name: filepath.Base(p), SyncStatus: StatusPending}))
	}

	children, err := s.ListChildren(ctx, "docs")
	require.NoError(t, err)
	assert.Len(t, children, 3)

	require.NoError(t, s.UpdateStatusByPath(ctx, "docs/a.md", StatusConflict, string(ConflictBothModified)))

	got, err := s.GetItemByPath(ctx, "docs/a.md")
	require.NoError(t, err)
	assert.Equal(t, StatusConflict, got.SyncStatus)
	assert.Equal(t, string(ConflictBothModified), got.SyncStatusDetail)
}

func TestAggregates(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	sizes := []int64{10, 20, 30}
	statuses := []SyncStatus{StatusSynced, StatusPending, StatusPending}

	for i := range sizes {
		require.NoError(t, s.UpsertItem(ctx, &FileRecord{
			Path: filepath.Join("agg", string(rune('a'+i))), Name: "f", Size: sizes[i], SyncStatus: statuses[i],
		}))
	}

	count, total, err := s.CountAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
	assert.Equal(t, int64(60), total)

	pending, err := s.CountByStatus(ctx, StatusPending)
	require.NoError(t, err)
	assert.Equal(t, 2, pending)
}

func TestEventLog(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)

	for i := 0; i < 5; i++ {
		_, err := s.AppendEvent(ctx, &SyncEvent{
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			EventType: EventFileChanged,
			FileID:    "f-1",
			Message:   "changed",
		})
		require.NoError(t, err)
	}

	events, err := s.EventsRange(ctx, 3)
	require.NoError(t, err)
	require.Len(t, events, 3)

	// Most recent first.
	for i := 1; i < len(events); i++ {
		assert.False(t, events[i].Timestamp.After(events[i-1].Timestamp))
	}

	assert.Equal(t, EventFileChanged, events[0].EventType)
	assert.Equal(t, "f-1", events[0].FileID)
}

func TestEventPurgeOlderThan(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.AppendEvent(ctx, &SyncEvent{
		Timestamp: time.Now().UTC().AddDate(0, 0, -40),
		EventType: EventStateChanged,
	})
	require.NoError(t, err)

	_, err = s.AppendEvent(ctx, &SyncEvent{EventType: EventSyncRequested})
	require.NoError(t, err)

	require.NoError(t, s.PurgeOlderThan(ctx, 30))

	events, err := s.EventsRange(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, EventSyncRequested, events[0].EventType)
}

func TestConfigBlob(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.GetConfigBlob(ctx, "sync_config")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.PutConfigBlob(ctx, "sync_config", `{"enabled":true}`))
	require.NoError(t, s.PutConfigBlob(ctx, "sync_config", `{"enabled":false}`))

	v, err := s.GetConfigBlob(ctx, "sync_config")
	require.NoError(t, err)
	assert.Equal(t, `{"enabled":false}`, v)
}

func TestAuthSessionSingleton(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.GetSession(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	expires := time.Now().Add(time.Hour).UTC()

	require.NoError(t, s.PutSession(ctx, &AuthSession{
		UserID:      "u-1",
		Username:    "alice",
		AccessToken: "tok-1",
		ExpiresAt:   &expires,
		ServerInfo:  `{"name":"dav"}`,
	}))

	// A second put replaces, never duplicates.
	require.NoError(t, s.PutSession(ctx, &AuthSession{
		UserID:      "u-1",
		Username:    "alice",
		AccessToken: "tok-2",
	}))

	got, err := s.GetSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, "tok-2", got.AccessToken)
	assert.Equal(t, "alice", got.Username)

	require.NoError(t, s.ClearSession(ctx))

	_, err = s.GetSession(ctx)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestWrappedKeySingleActive(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.GetWrappedKey(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.PutWrappedKey(ctx, &WrappedMasterKey{
		KeyID: "k-1", WrappedBytes: "d3JhcHBlZDE=", KDFSalt: "c2FsdDE=",
	}))

	// Adopting a new key deactivates the old one.
	require.NoError(t, s.PutWrappedKey(ctx, &WrappedMasterKey{
		KeyID: "k-2", WrappedBytes: "d3JhcHBlZDI=", KDFSalt: "c2FsdDI=",
	}))

	got, err := s.GetWrappedKey(ctx)
	require.NoError(t, err)
	assert.Equal(t, "k-2", got.KeyID)
	assert.Equal(t, "d3JhcHBlZDI=", got.WrappedBytes)
}

func TestEncryptionSettingsDefaultAndRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	// Fresh profile: disabled defaults, not an error.
	es, err := s.GetEncryptionSettings(ctx)
	require.NoError(t, err)
	assert.False(t, es.Enabled)
	assert.Equal(t, "aes256gcm", es.Algorithm)

	require.NoError(t, s.PutEncryptionSettings(ctx, &EncryptionSettings{
		Enabled:          true,
		Algorithm:        "chacha20poly1305",
		KeyStorage:       "password",
		EncryptFilenames: true,
		KDFSalt:          "c2FsdA==",
		KeyID:            "k-1",
	}))

	es, err = s.GetEncryptionSettings(ctx)
	require.NoError(t, err)
	assert.True(t, es.Enabled)
	assert.Equal(t, "chacha20poly1305", es.Algorithm)
	assert.True(t, es.EncryptFilenames)
	assert.Equal(t, "k-1", es.KeyID)
}

func TestSelectiveFoldersReplace(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.ReplaceSelectiveFolders(ctx, []string{"f1", "f2", "f3"}))

	folders, err := s.SelectiveFolders(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"f1", "f2", "f3"}, folders)

	// Replace is total, not additive.
	require.NoError(t, s.ReplaceSelectiveFolders(ctx, []string{"f9"}))

	folders, err = s.SelectiveFolders(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"f9"}, folders)
}

func TestConflictLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id, err := s.RecordConflict(ctx, &ConflictRecord{
		FileID:       "f-1",
		Path:         "doc.md",
		ConflictType: ConflictBothModified,
		LocalHash:    "lh",
		RemoteHash:   "rh",
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	unresolved, err := s.ListConflicts(ctx)
	require.NoError(t, err)
	require.Len(t, unresolved, 1)
	assert.Equal(t, ConflictBothModified, unresolved[0].ConflictType)
	assert.Equal(t, "unresolved", unresolved[0].Resolution)

	require.NoError(t, s.ResolveConflict(ctx, id, "keep_remote", "user"))

	unresolved, err = s.ListConflicts(ctx)
	require.NoError(t, err)
	assert.Empty(t, unresolved)

	all, err := s.ListAllConflicts(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "keep_remote", all[0].Resolution)
	assert.Equal(t, "user", all[0].ResolvedBy)
	require.NotNil(t, all[0].ResolvedAt)

	got, err := s.GetConflict(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "doc.md", got.Path)

	_, err = s.GetConflict(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}
