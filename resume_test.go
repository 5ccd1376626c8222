package main

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/syncclient/internal/config"
)

func TestNewResumeCmd_Structure(t *testing.T) {
	t.Parallel()

	cmd := newResumeCmd()
	assert.Equal(t, "resume", cmd.Use)
}

func newTestCLIContext(t *testing.T) (*CLIContext, string) {
	t.Helper()

	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.toml")

	cc := &CLIContext{
		Cfg:        config.Default(),
		ConfigPath: cfgPath,
		Logger:     slog.New(slog.NewTextHandler(os.Stderr, nil)),
	}

	return cc, cfgPath
}

func TestRunResume_NotPaused_NoOp(t *testing.T) {
	cc, cfgPath := newTestCLIContext(t)
	cc.Cfg.Sync.Paused = false

	ctx := context.WithValue(context.Background(), cliContextKey{}, cc)

	cmd := newResumeCmd()
	cmd.SetContext(ctx)

	err := runResume(cmd, nil)
	require.NoError(t, err)

	// No config file should have been written since nothing changed.
	_, statErr := os.Stat(cfgPath)
	assert.True(t, os.IsNotExist(statErr))
}

func TestRunResume_Paused_ClearsState(t *testing.T) {
	cc, cfgPath := newTestCLIContext(t)
	cc.Cfg.Sync.Paused = true
	cc.Cfg.Sync.PausedUntil = "2099-01-01T00:00:00Z"

	ctx := context.WithValue(context.Background(), cliContextKey{}, cc)

	cmd := newResumeCmd()
	cmd.SetContext(ctx)

	err := runResume(cmd, nil)
	require.NoError(t, err)

	assert.False(t, cc.Cfg.Sync.Paused)
	assert.Empty(t, cc.Cfg.Sync.PausedUntil)

	written, err := config.Load(cfgPath, cc.Logger)
	require.NoError(t, err)
	assert.False(t, written.Sync.Paused)
	assert.Empty(t, written.Sync.PausedUntil)
}
