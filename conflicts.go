package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/syncclient/internal/store"
)

// conflictIDPrefixLen is the number of characters to show for the
// conflict ID in table output.
const conflictIDPrefixLen = 8

func newConflictsCmd() *cobra.Command {
	var flagAll bool

	cmd := &cobra.Command{
		Use:   "conflicts",
		Short: "List sync conflicts",
		Long: `Display conflicts recorded during sync.

By default, only unresolved conflicts are shown. Use --all to include
already-resolved conflicts.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runConflicts(cmd, flagAll)
		},
	}

	cmd.Flags().BoolVar(&flagAll, "all", false, "include already-resolved conflicts")

	return cmd
}

// conflictJSON is the JSON-serializable representation of a conflict.
type conflictJSON struct {
	ID           string `json:"id"`
	Path         string `json:"path"`
	ConflictType string `json:"conflict_type"`
	DetectedAt   string `json:"detected_at"`
	Resolution   string `json:"resolution,omitempty"`
	ResolvedBy   string `json:"resolved_by,omitempty"`
}

func runConflicts(cmd *cobra.Command, all bool) error {
	cc := mustCLIContext(cmd.Context())

	st, err := openStore(cc.Logger)
	if err != nil {
		return err
	}
	defer st.Close()

	var conflicts []*store.ConflictRecord

	if all {
		conflicts, err = st.ListAllConflicts(cmd.Context())
	} else {
		conflicts, err = st.ListConflicts(cmd.Context())
	}

	if err != nil {
		return fmt.Errorf("listing conflicts: %w", err)
	}

	if len(conflicts) == 0 {
		statusf(flagQuiet, "No conflicts.\n")
		return nil
	}

	if flagJSON {
		return printConflictsJSON(conflicts)
	}

	printConflictsTable(conflicts)

	return nil
}

func printConflictsJSON(conflicts []*store.ConflictRecord) error {
	items := make([]conflictJSON, len(conflicts))
	for i, c := range conflicts {
		items[i] = conflictJSON{
			ID:           c.ID,
			Path:         c.Path,
			ConflictType: string(c.ConflictType),
			DetectedAt:   c.DetectedAt.Format(time.RFC3339),
			Resolution:   c.Resolution,
			ResolvedBy:   c.ResolvedBy,
		}
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	if err := enc.Encode(items); err != nil {
		return fmt.Errorf("encoding JSON output: %w", err)
	}

	return nil
}

func printConflictsTable(conflicts []*store.ConflictRecord) {
	headers := []string{"ID", "PATH", "TYPE", "DETECTED", "RESOLUTION"}
	rows := make([][]string, len(conflicts))

	for i, c := range conflicts {
		idPrefix := truncateID(c.ID)

		resolution := c.Resolution
		if resolution == "" {
			resolution = "-"
		}

		rows[i] = []string{idPrefix, c.Path, string(c.ConflictType), c.DetectedAt.Format(time.RFC3339), resolution}
	}

	printTable(os.Stdout, headers, rows)
}

// truncateID shortens an ID to conflictIDPrefixLen characters for
// display, leaving shorter IDs unchanged.
func truncateID(id string) string {
	if len(id) > conflictIDPrefixLen {
		return id[:conflictIDPrefixLen]
	}

	return id
}
