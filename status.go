package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/syncclient/internal/config"
	"github.com/tonimelisma/syncclient/internal/store"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show sync folder, encryption, and pause status",
		Long: `Display the current configuration and state: remote server, local sync
folder, encryption status, pause state, and a summary of items tracked in
the state database.`,
		RunE: runStatus,
	}
}

// statusOutput is the JSON and table representation of 'status'.
type statusOutput struct {
	ServerURL        string `json:"server_url"`
	SyncFolder       string `json:"sync_folder"`
	EncryptionState  string `json:"encryption_state"`
	Paused           bool   `json:"paused"`
	PausedUntil      string `json:"paused_until,omitempty"`
	TrackedItems     int    `json:"tracked_items"`
	TrackedBytes     int64  `json:"tracked_bytes"`
	PendingConflicts int    `json:"pending_conflicts"`
	LastSyncEvent    string `json:"last_sync_event,omitempty"`
}

func runStatus(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	cfg := cc.Cfg

	out := statusOutput{
		ServerURL:   cfg.Remote.ServerURL,
		SyncFolder:  cfg.Remote.SyncFolder,
		Paused:      cfg.Sync.Paused,
		PausedUntil: cfg.Sync.PausedUntil,
	}

	if cfg.Encryption.Enabled {
		out.EncryptionState = "enabled"
	} else {
		out.EncryptionState = "disabled"
	}

	if cfg.Remote.SyncFolder != "" {
		if err := fillStoreStatus(cmd.Context(), cc, &out); err != nil {
			return err
		}
	}

	if flagJSON {
		return printStatusJSON(&out)
	}

	printStatusText(&out)

	return nil
}

func fillStoreStatus(ctx context.Context, cc *CLIContext, out *statusOutput) error {
	if _, err := os.Stat(config.DefaultStatePath()); err != nil {
		return nil
	}

	st, err := store.Open(config.DefaultStatePath(), cc.Logger)
	if err != nil {
		return fmt.Errorf("opening state database: %w", err)
	}
	defer st.Close()

	count, size, err := st.CountAll(ctx)
	if err != nil {
		return fmt.Errorf("counting tracked items: %w", err)
	}

	out.TrackedItems = count
	out.TrackedBytes = size

	conflicts, err := st.ListConflicts(ctx)
	if err != nil {
		return fmt.Errorf("listing conflicts: %w", err)
	}

	out.PendingConflicts = len(conflicts)

	events, err := st.EventsRange(ctx, 1)
	if err != nil {
		return fmt.Errorf("reading sync events: %w", err)
	}

	if len(events) > 0 {
		out.LastSyncEvent = fmt.Sprintf("%s at %s", events[0].EventType, events[0].Timestamp.Format(time.RFC3339))
	}

	return nil
}

func printStatusJSON(out *statusOutput) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	if err := enc.Encode(out); err != nil {
		return fmt.Errorf("encoding JSON output: %w", err)
	}

	return nil
}

func printStatusText(out *statusOutput) {
	fmt.Printf("Server:      %s\n", out.ServerURL)
	fmt.Printf("Sync folder: %s\n", out.SyncFolder)
	fmt.Printf("Encryption:  %s\n", out.EncryptionState)

	switch {
	case out.Paused && out.PausedUntil != "":
		fmt.Printf("Status:      paused until %s\n", out.PausedUntil)
	case out.Paused:
		fmt.Println("Status:      paused")
	default:
		fmt.Println("Status:      active")
	}

	if out.SyncFolder == "" {
		return
	}

	fmt.Printf("Tracked:     %d items (%s)\n", out.TrackedItems, formatSize(out.TrackedBytes))

	if out.PendingConflicts > 0 {
		fmt.Printf("Conflicts:   %d (see 'syncclient conflicts')\n", out.PendingConflicts)
	}

	if out.LastSyncEvent != "" {
		fmt.Printf("Last event:  %s\n", out.LastSyncEvent)
	}
}
