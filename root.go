package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/syncclient/internal/config"
)

// version is set at build time via ldflags.
var version = "dev"

// Global persistent flags, bound in setupRootCmd().
var (
	flagConfigPath string
	flagSyncFolder string
	flagJSON       bool
	flagVerbose    bool
	flagDebug      bool
	flagQuiet      bool
)

// skipConfigAnnotation marks commands that handle config loading themselves.
const skipConfigAnnotation = "skipConfig"

// CLIContext bundles resolved config, its on-disk path, and a logger.
// Created once in PersistentPreRunE so RunE handlers don't repeat config
// resolution and logger construction.
type CLIContext struct {
	Cfg        *config.Config
	Holder     *config.Holder
	ConfigPath string
	Logger     *slog.Logger
}

type cliContextKey struct{}

func cliContextFrom(ctx context.Context) *CLIContext {
	cc, ok := ctx.Value(cliContextKey{}).(*CLIContext)
	if !ok {
		return nil
	}

	return cc
}

// mustCLIContext extracts the CLIContext or panics with an actionable
// message. Use in RunE handlers for commands that require config (no
// skipConfigAnnotation). A panic here is always a programmer error — the
// command tree should guarantee the context is populated by
// PersistentPreRunE before RunE executes.
func mustCLIContext(ctx context.Context) *CLIContext {
	cc := cliContextFrom(ctx)
	if cc == nil {
		panic("BUG: CLIContext not found in context — ensure the command " +
			"does not skip config loading (no skipConfigAnnotation) or " +
			"explicitly loads config in its RunE")
	}

	return cc
}

// httpClientTimeout is the timeout of defaultHTTPClient. newWebDAVClient
// does not use that client: every WebDAV request, metadata included, goes
// through transferHTTPClient and has no client-side timeout.
const httpClientTimeout = 30 * time.Second

// defaultHTTPClient returns an HTTP client with a sensible timeout.
func defaultHTTPClient() *http.Client {
	return &http.Client{Timeout: httpClientTimeout}
}

// transferHTTPClient returns an HTTP client with no timeout for
// upload/download operations. Large transfers on slow connections can
// exceed the 30-second default; transfers are bounded by context
// cancellation instead.
func transferHTTPClient() *http.Client {
	return &http.Client{Timeout: 0}
}

// newRootCmd builds and returns the fully-assembled root command with all
// subcommands registered. Called once from main().
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "syncclient",
		Short:   "WebDAV file-sync client",
		Long:    "A file-synchronization client that keeps a local directory tree in sync with a WebDAV remote, with optional end-to-end encryption.",
		Version: version,
		// Silence Cobra's default error/usage printing — we handle it ourselves.
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Annotations[skipConfigAnnotation] == "true" {
				return nil
			}

			return loadConfig(cmd)
		},
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file path")
	cmd.PersistentFlags().StringVar(&flagSyncFolder, "sync-folder", "", "local directory to sync")
	cmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "output in JSON format")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "show detailed output")
	cmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "enable debug logging (HTTP requests, config resolution)")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress informational output")

	cmd.MarkFlagsMutuallyExclusive("verbose", "debug", "quiet")

	cmd.AddCommand(newConfigureCmd())
	cmd.AddCommand(newSyncCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newPauseCmd())
	cmd.AddCommand(newResumeCmd())
	cmd.AddCommand(newConflictsCmd())
	cmd.AddCommand(newResolveCmd())
	cmd.AddCommand(newRecoverCmd())
	cmd.AddCommand(newVerifyCmd())

	return cmd
}

// loadConfig resolves the effective configuration from the override chain
// and stores the result, a shared Holder, and a logger in the command's
// context for use by subcommands.
func loadConfig(cmd *cobra.Command) error {
	logger := buildLogger(nil)

	cli := config.CLIOverrides{ConfigPath: flagConfigPath}
	if cmd.Flags().Changed("sync-folder") {
		cli.SyncFolder = flagSyncFolder
	}

	env := config.ReadEnvOverrides()

	logger.Debug("resolving config",
		slog.String("cli_config_path", cli.ConfigPath),
		slog.String("env_config_path", env.ConfigPath),
	)

	cfgPath := config.ResolveConfigPath(env, cli, logger)

	resolved, err := config.Resolve(env, cli, logger)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger.Debug("config resolved",
		slog.String("server_url", resolved.Remote.ServerURL),
		slog.String("sync_folder", resolved.Remote.SyncFolder),
	)

	finalLogger := buildLogger(resolved)

	cc := &CLIContext{
		Cfg:        resolved,
		Holder:     config.NewHolder(resolved, cfgPath),
		ConfigPath: cfgPath,
		Logger:     finalLogger,
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cmd.SetContext(context.WithValue(ctx, cliContextKey{}, cc))

	return nil
}

// buildLogger creates an slog.Logger configured by the resolved config and
// CLI flags. Pass nil for pre-config bootstrap (no config-file log level).
// Config-file log level provides the baseline; --verbose, --debug, and
// --quiet override it because CLI flags always win (enforced mutually
// exclusive by Cobra).
func buildLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelWarn

	if cfg != nil {
		switch cfg.Logging.LogLevel {
		case "debug":
			level = slog.LevelDebug
		case "info":
			level = slog.LevelInfo
		case "error":
			level = slog.LevelError
		}
	}

	if flagVerbose {
		level = slog.LevelInfo
	}

	if flagDebug {
		level = slog.LevelDebug
	}

	if flagQuiet {
		level = slog.LevelError
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// exitOnError prints a user-friendly error message to stderr and exits.
func exitOnError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
