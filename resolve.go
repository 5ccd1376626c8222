package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/syncclient/internal/store"
	"github.com/tonimelisma/syncclient/internal/sync"
)

func newResolveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resolve [path-or-id]",
		Short: "Resolve sync conflicts",
		Long: `Resolve sync conflicts with a chosen disposition.

Dispositions:
  --keep-local   upload the local file, overwriting the remote
  --keep-remote  download the remote file, overwriting the local
  --keep-both    rename the local file with a conflict suffix, then
                 download the remote side into the original path
  --skip         leave both sides untouched and mark the conflict resolved

Use --all to resolve every unresolved conflict with the chosen
disposition. Without --all, a path or conflict ID argument is required.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runResolve,
	}

	cmd.Flags().Bool("keep-local", false, "upload the local file, overwriting the remote")
	cmd.Flags().Bool("keep-remote", false, "download the remote file, overwriting the local")
	cmd.Flags().Bool("keep-both", false, "keep both versions under distinct names")
	cmd.Flags().Bool("skip", false, "leave both sides untouched")
	cmd.Flags().Bool("all", false, "resolve every unresolved conflict")

	cmd.MarkFlagsMutuallyExclusive("keep-local", "keep-remote", "keep-both", "skip")

	return cmd
}

func runResolve(cmd *cobra.Command, args []string) error {
	resolution, err := resolveDisposition(cmd)
	if err != nil {
		return err
	}

	all := cmd.Flags().Changed("all")

	if !all && len(args) == 0 {
		return fmt.Errorf("specify a conflict path or ID, or use --all to resolve every conflict")
	}

	if all && len(args) > 0 {
		return fmt.Errorf("--all and a specific conflict argument are mutually exclusive")
	}

	cc := mustCLIContext(cmd.Context())

	engine, closeFn, err := buildEngine(cc)
	if err != nil {
		return err
	}
	defer closeFn()

	ctx := cmd.Context()

	conflicts, err := engine.ListConflicts(ctx)
	if err != nil {
		return fmt.Errorf("listing conflicts: %w", err)
	}

	if all {
		return resolveAll(ctx, engine, conflicts, resolution)
	}

	target, err := findConflict(conflicts, args[0])
	if err != nil {
		return err
	}

	if target == nil {
		return fmt.Errorf("conflict not found: %s", args[0])
	}

	if err := engine.ResolveConflict(ctx, target.ID, resolution, "cli"); err != nil {
		return fmt.Errorf("resolving %s: %w", target.Path, err)
	}

	statusf(flagQuiet, "Resolved %s as %s\n", target.Path, resolution)

	return nil
}

func resolveDisposition(cmd *cobra.Command) (sync.Resolution, error) {
	switch {
	case cmd.Flags().Changed("keep-local"):
		return sync.ResolveKeepLocal, nil
	case cmd.Flags().Changed("keep-remote"):
		return sync.ResolveKeepRemote, nil
	case cmd.Flags().Changed("keep-both"):
		return sync.ResolveKeepBoth, nil
	case cmd.Flags().Changed("skip"):
		return sync.ResolveSkip, nil
	default:
		return "", fmt.Errorf("specify a disposition: --keep-local, --keep-remote, --keep-both, or --skip")
	}
}

func resolveAll(ctx context.Context, engine *sync.Engine, conflicts []*store.ConflictRecord, resolution sync.Resolution) error {
	if len(conflicts) == 0 {
		statusf(flagQuiet, "No unresolved conflicts.\n")
		return nil
	}

	for _, c := range conflicts {
		if err := engine.ResolveConflict(ctx, c.ID, resolution, "cli"); err != nil {
			return fmt.Errorf("resolving %s: %w", c.Path, err)
		}

		statusf(flagQuiet, "Resolved %s as %s\n", c.Path, resolution)
	}

	return nil
}

// findConflict searches a conflict list by exact ID, exact path, or ID
// prefix. Returns an error if an ID prefix matches multiple conflicts.
func findConflict(conflicts []*store.ConflictRecord, idOrPath string) (*store.ConflictRecord, error) {
	if idOrPath == "" {
		return nil, nil
	}

	for _, c := range conflicts {
		if c.ID == idOrPath || c.Path == idOrPath {
			return c, nil
		}
	}

	var match *store.ConflictRecord

	for _, c := range conflicts {
		if len(c.ID) >= len(idOrPath) && c.ID[:len(idOrPath)] == idOrPath {
			if match != nil {
				return nil, fmt.Errorf("ambiguous conflict ID prefix %q — provide more characters", idOrPath)
			}

			match = c
		}
	}

	return match, nil
}
