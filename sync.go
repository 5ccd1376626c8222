package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/syncclient/internal/config"
	"github.com/tonimelisma/syncclient/internal/sync"
	"github.com/tonimelisma/syncclient/internal/watcher"
)

func newSyncCmd() *cobra.Command {
	var flagWatch bool

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Synchronize files with the WebDAV remote",
		Long: `Run a one-shot sync pass between the local sync folder and the WebDAV
remote: local and remote trees are indexed, diffed against the last-known
state, and the resulting creates/updates/conflicts are executed.

Use --watch to keep running: a background filesystem watcher triggers
debounced sync passes on local changes, and a periodic timer (per
sync.sync_interval_seconds) covers anything the watcher misses.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSync(cmd, flagWatch)
		},
	}

	cmd.Flags().BoolVar(&flagWatch, "watch", false, "run continuously, syncing on a timer and on file changes")

	return cmd
}

func runSync(cmd *cobra.Command, watch bool) error {
	cc := mustCLIContext(cmd.Context())

	engine, closeFn, err := buildEngine(cc)
	if err != nil {
		return err
	}
	defer closeFn()

	if watch {
		return runSyncWatch(cmd.Context(), cc, engine)
	}

	report, err := engine.RunOnce(cmd.Context())
	if err != nil {
		return fmt.Errorf("sync failed: %w", err)
	}

	return printReport(report)
}

// runSyncWatch starts the engine's scheduler and blocks until the process
// receives a shutdown signal. A PID file lets 'syncclient pause'/'resume'
// notify this process via SIGHUP to reload config.
func runSyncWatch(parent context.Context, cc *CLIContext, engine *sync.Engine) error {
	pidPath := config.PIDFilePath()

	cleanup, err := writePIDFile(pidPath)
	if err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer cleanup()

	ctx := shutdownContext(parent, cc.Logger)

	interval := time.Duration(cc.Cfg.Sync.SyncIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = time.Minute
	}

	var events <-chan watcher.Event

	if cc.Cfg.Sync.SyncOnFileChange {
		ch, stop, err := startWatcher(ctx, cc)
		if err != nil {
			return fmt.Errorf("starting filesystem watcher: %w", err)
		}

		defer stop()

		events = ch
	}

	engine.Start(ctx, interval, cc.Cfg.Sync.SyncOnFileChange, events)

	cc.Statusf("Watching %s (interval %s)\n", cc.Cfg.Remote.SyncFolder, interval)

	<-ctx.Done()
	engine.Stop()

	return nil
}

// startWatcher wires the fsnotify-backed Source into the watcher's
// debounce/coalesce/exclude layer and returns the resulting event channel.
func startWatcher(ctx context.Context, cc *CLIContext) (<-chan watcher.Event, func(), error) {
	source, err := watcher.NewFsnotifySource(cc.Cfg.Remote.SyncFolder)
	if err != nil {
		return nil, nil, err
	}

	if err := source.Add(cc.Cfg.Remote.SyncFolder); err != nil {
		source.Close()
		return nil, nil, err
	}

	w := watcher.New(source, watcher.Options{
		SyncRoot:        cc.Cfg.Remote.SyncFolder,
		ExcludedPaths:   cc.Cfg.Sync.ExcludedPaths,
		SyncHiddenFiles: cc.Cfg.Sync.SyncHiddenFiles,
	}, cc.Logger)

	out := make(chan watcher.Event)

	go func() {
		if err := w.Run(ctx, out); err != nil {
			cc.Logger.Warn("filesystem watcher stopped", "error", err)
		}
	}()

	return out, func() {}, nil
}

func printReport(report *sync.Report) error {
	if flagJSON {
		return printReportJSON(report)
	}

	printReportText(report)

	return nil
}

func printReportText(report *sync.Report) {
	if report.Canceled {
		statusf(flagQuiet, "Sync canceled (%s)\n", report.Duration.Round(time.Millisecond))
		return
	}

	total := report.Uploaded + report.Downloaded + report.CreatedRemoteDirs +
		report.CreatedLocalDirs + report.DeletedLocal + report.DeletedRemote

	if total == 0 && report.Conflicts == 0 && report.Errors == 0 {
		statusf(flagQuiet, "Already in sync (%s)\n", report.Duration.Round(time.Millisecond))
		return
	}

	statusf(flagQuiet, "Sync complete (%s)\n", report.Duration.Round(time.Millisecond))

	if report.Uploaded > 0 {
		statusf(flagQuiet, "  Uploaded:           %d\n", report.Uploaded)
	}

	if report.Downloaded > 0 {
		statusf(flagQuiet, "  Downloaded:         %d\n", report.Downloaded)
	}

	if report.CreatedRemoteDirs > 0 {
		statusf(flagQuiet, "  Remote dirs created: %d\n", report.CreatedRemoteDirs)
	}

	if report.CreatedLocalDirs > 0 {
		statusf(flagQuiet, "  Local dirs created:  %d\n", report.CreatedLocalDirs)
	}

	if report.DeletedLocal > 0 || report.DeletedRemote > 0 {
		statusf(flagQuiet, "  Deleted:            %d local, %d remote\n", report.DeletedLocal, report.DeletedRemote)
	}

	if report.Conflicts > 0 {
		statusf(flagQuiet, "  Conflicts:          %d (see 'syncclient conflicts')\n", report.Conflicts)
	}

	if report.Errors > 0 {
		statusf(flagQuiet, "  Failed:             %d (see 'syncclient status')\n", report.Errors)
	}
}

func printReportJSON(report *sync.Report) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	return enc.Encode(report)
}
