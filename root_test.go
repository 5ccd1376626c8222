package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/syncclient/internal/config"
)

// --- buildLogger tests ---

func resetLogFlags(t *testing.T) {
	t.Helper()

	oldVerbose, oldDebug, oldQuiet := flagVerbose, flagDebug, flagQuiet
	flagVerbose, flagDebug, flagQuiet = false, false, false

	t.Cleanup(func() {
		flagVerbose, flagDebug, flagQuiet = oldVerbose, oldDebug, oldQuiet
	})
}

func TestBuildLogger_Default(t *testing.T) {
	resetLogFlags(t)

	logger := buildLogger(nil)

	assert.True(t, logger.Handler().Enabled(context.Background(), slog.LevelWarn))
	assert.False(t, logger.Handler().Enabled(context.Background(), slog.LevelInfo))
}

func TestBuildLogger_Verbose(t *testing.T) {
	resetLogFlags(t)

	flagVerbose = true

	logger := buildLogger(nil)

	assert.True(t, logger.Handler().Enabled(context.Background(), slog.LevelInfo))
	assert.False(t, logger.Handler().Enabled(context.Background(), slog.LevelDebug))
}

func TestBuildLogger_Debug(t *testing.T) {
	resetLogFlags(t)

	flagDebug = true

	logger := buildLogger(nil)

	assert.True(t, logger.Handler().Enabled(context.Background(), slog.LevelDebug))
}

func TestBuildLogger_ConfigDebug(t *testing.T) {
	resetLogFlags(t)

	cfg := &config.Config{}
	cfg.Logging.LogLevel = "debug"

	logger := buildLogger(cfg)

	assert.True(t, logger.Handler().Enabled(context.Background(), slog.LevelDebug))
}

func TestBuildLogger_VerboseOverrides(t *testing.T) {
	resetLogFlags(t)

	flagVerbose = true

	cfg := &config.Config{}
	cfg.Logging.LogLevel = "error"

	logger := buildLogger(cfg)

	assert.True(t, logger.Handler().Enabled(context.Background(), slog.LevelInfo))
	assert.False(t, logger.Handler().Enabled(context.Background(), slog.LevelDebug))
}

func TestBuildLogger_QuietOverrides(t *testing.T) {
	resetLogFlags(t)

	flagQuiet = true

	logger := buildLogger(nil)

	assert.True(t, logger.Handler().Enabled(context.Background(), slog.LevelError))
	assert.False(t, logger.Handler().Enabled(context.Background(), slog.LevelWarn))
}

func TestBuildLogger_DebugOverrides(t *testing.T) {
	resetLogFlags(t)

	flagDebug = true

	cfg := &config.Config{}
	cfg.Logging.LogLevel = "error"

	logger := buildLogger(cfg)

	assert.True(t, logger.Handler().Enabled(context.Background(), slog.LevelDebug))
}

func TestBuildLogger_ConfigInfo(t *testing.T) {
	resetLogFlags(t)

	cfg := &config.Config{}
	cfg.Logging.LogLevel = "info"

	logger := buildLogger(cfg)

	assert.True(t, logger.Handler().Enabled(context.Background(), slog.LevelInfo))
	assert.False(t, logger.Handler().Enabled(context.Background(), slog.LevelDebug))
}

func TestBuildLogger_UnknownLogLevel(t *testing.T) {
	resetLogFlags(t)

	cfg := &config.Config{}
	cfg.Logging.LogLevel = "bogus"

	logger := buildLogger(cfg)

	assert.True(t, logger.Handler().Enabled(context.Background(), slog.LevelWarn))
	assert.False(t, logger.Handler().Enabled(context.Background(), slog.LevelInfo))
}

// --- cliContextFrom / mustCLIContext tests ---

func TestCliContextFrom_NilContext(t *testing.T) {
	ctx := context.Background()
	cc := cliContextFrom(ctx)
	assert.Nil(t, cc)
}

func TestCliContextFrom_WithCLIContext(t *testing.T) {
	expected := &CLIContext{
		Cfg:    &config.Config{},
		Logger: slog.New(slog.NewTextHandler(os.Stderr, nil)),
	}
	expected.Cfg.Remote.SyncFolder = "/test"

	ctx := context.WithValue(context.Background(), cliContextKey{}, expected)
	cc := cliContextFrom(ctx)
	assert.Equal(t, expected, cc)
	assert.Equal(t, "/test", cc.Cfg.Remote.SyncFolder)
	assert.NotNil(t, cc.Logger)
}

func TestMustCLIContext_Panics(t *testing.T) {
	assert.PanicsWithValue(t,
		"BUG: CLIContext not found in context — ensure the command "+
			"does not skip config loading (no skipConfigAnnotation) or "+
			"explicitly loads config in its RunE",
		func() { mustCLIContext(context.Background()) },
	)
}

func TestMustCLIContext_Returns(t *testing.T) {
	expected := &CLIContext{
		Cfg:    &config.Config{},
		Logger: slog.New(slog.NewTextHandler(os.Stderr, nil)),
	}
	expected.Cfg.Remote.SyncFolder = "/must-test"

	ctx := context.WithValue(context.Background(), cliContextKey{}, expected)
	cc := mustCLIContext(ctx)
	assert.Equal(t, expected, cc)
	assert.Equal(t, "/must-test", cc.Cfg.Remote.SyncFolder)
}

// --- Cobra structure tests ---

func TestNewRootCmd_Subcommands(t *testing.T) {
	cmd := newRootCmd()

	expected := []string{"configure", "sync", "status", "pause", "resume", "conflicts", "resolve", "recover", "verify"}
	for _, name := range expected {
		found := false

		for _, sub := range cmd.Commands() {
			if sub.Name() == name {
				found = true

				break
			}
		}

		assert.True(t, found, "expected subcommand %q not found", name)
	}
}

func TestNewRootCmd_PersistentFlags(t *testing.T) {
	cmd := newRootCmd()

	expectedFlags := []string{"config", "sync-folder", "json", "verbose", "debug", "quiet"}
	for _, name := range expectedFlags {
		flag := cmd.PersistentFlags().Lookup(name)
		assert.NotNil(t, flag, "expected persistent flag %q not found", name)
	}
}

func TestNewRootCmd_MutualExclusivity(t *testing.T) {
	// Uses "configure --non-interactive" because configure carries the
	// skipConfigAnnotation, so loadConfig never runs and can't fail first
	// on a missing config file, masking the mutual exclusivity error.
	pairs := [][]string{
		{"--verbose", "--debug"},
		{"--verbose", "--quiet"},
		{"--debug", "--quiet"},
	}

	for _, flags := range pairs {
		t.Run(flags[0]+"_"+flags[1], func(t *testing.T) {
			cmd := newRootCmd()
			cmd.SetArgs(append(flags, "configure", "--non-interactive"))

			err := cmd.Execute()
			require.Error(t, err)
			assert.Contains(t, err.Error(), "none of the others can be")
		})
	}
}

func TestAnnotationBasedSkipConfig(t *testing.T) {
	cmd := newRootCmd()

	sub, _, err := cmd.Find([]string{"configure"})
	require.NoError(t, err)
	assert.Equal(t, "true", sub.Annotations[skipConfigAnnotation],
		"configure should have skipConfig annotation")

	configPaths := [][]string{
		{"sync"},
		{"status"},
		{"pause"},
		{"resume"},
		{"conflicts"},
		{"resolve"},
		{"recover"},
		{"verify"},
	}

	for _, args := range configPaths {
		s, _, err := cmd.Find(args)
		require.NoError(t, err)

		assert.Empty(t, s.Annotations[skipConfigAnnotation],
			"command %q should NOT have skipConfig annotation", s.CommandPath())
	}
}

// --- defaultHTTPClient / transferHTTPClient tests ---

func TestDefaultHTTPClient_HasTimeout(t *testing.T) {
	client := defaultHTTPClient()
	assert.Equal(t, httpClientTimeout, client.Timeout)
}

func TestTransferHTTPClient_NoTimeout(t *testing.T) {
	client := transferHTTPClient()
	assert.Zero(t, client.Timeout)
}

// --- errVerifyMismatch tests ---

func TestErrVerifyMismatch_IsSentinel(t *testing.T) {
	wrapped := fmt.Errorf("wrapped: %w", errVerifyMismatch)
	assert.ErrorIs(t, wrapped, errVerifyMismatch)
}
