package sync

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger(t *testing.T) *slog.Logger {
	t.Helper()
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestIndexLocalFindsFilesAndDirs(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "sub", "a.txt"), []byte("hello"), 0o644))

	result, err := indexLocal(context.Background(), root, excludeFilter{}, testLogger(t))
	require.NoError(t, err)

	assert.Contains(t, result, "sub")
	assert.True(t, result["sub"].IsDirectory)

	assert.Contains(t, result, "sub/a.txt")
	assert.False(t, result["sub/a.txt"].IsDirectory)
	assert.Equal(t, int64(5), result["sub/a.txt"].Size)
	assert.NotEmpty(t, result["sub/a.txt"].Hash)
}

func TestIndexLocalExcludesHiddenByDefault(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, ".hidden"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "visible.txt"), []byte("x"), 0o644))

	result, err := indexLocal(context.Background(), root, excludeFilter{}, testLogger(t))
	require.NoError(t, err)

	assert.NotContains(t, result, ".hidden")
	assert.Contains(t, result, "visible.txt")
}

func TestIndexLocalRespectsSyncHiddenFiles(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, ".hidden"), []byte("x"), 0o644))

	result, err := indexLocal(context.Background(), root, excludeFilter{syncHiddenFiles: true}, testLogger(t))
	require.NoError(t, err)

	assert.Contains(t, result, ".hidden")
}

func TestIndexLocalExcludesConfiguredPathAndDescendants(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "node_modules", "pkg"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "node_modules", "pkg", "x.js"), []byte("x"), 0o644))

	filter := excludeFilter{excludedPaths: []string{"node_modules"}}

	result, err := indexLocal(context.Background(), root, filter, testLogger(t))
	require.NoError(t, err)

	assert.NotContains(t, result, "node_modules")
	assert.NotContains(t, result, "node_modules/pkg")
	assert.NotContains(t, result, "node_modules/pkg/x.js")
}

func TestHashFileIsStableAndContentAddressed(t *testing.T) {
	root := t.TempDir()
	p := filepath.Join(root, "f.bin")
	require.NoError(t, os.WriteFile(p, []byte("same content"), 0o644))

	h1, err := hashFile(p)
	require.NoError(t, err)
	h2, err := hashFile(p)
	require.NoError(t, err)

	assert.Equal(t, h1, h2)
	assert.NotEmpty(t, h1)
}
