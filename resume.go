package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/syncclient/internal/config"
)

func newResumeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resume",
		Short: "Resume syncing",
		Long: `Resume syncing after a pause.

If a sync --watch daemon is running, it receives a SIGHUP to pick up the change.`,
		RunE: runResume,
	}
}

func runResume(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	cfg := cc.Cfg

	if !cfg.Sync.Paused {
		statusf(flagQuiet, "Sync is not paused\n")

		return nil
	}

	cfg.Sync.Paused = false
	cfg.Sync.PausedUntil = ""

	if err := config.Write(cc.ConfigPath, cfg); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	statusf(flagQuiet, "Sync resumed\n")
	notifyDaemon(flagQuiet)

	return nil
}
