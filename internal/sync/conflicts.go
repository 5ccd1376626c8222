package sync

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tonimelisma/syncclient/internal/store"
)

// Resolution is one of the four conflict dispositions a caller can
// apply.
type Resolution string

const (
	ResolveKeepLocal  Resolution = "keep_local"
	ResolveKeepRemote Resolution = "keep_remote"
	ResolveKeepBoth   Resolution = "keep_both"
	ResolveSkip       Resolution = "skip"
)

// ListConflicts returns unresolved conflicts.
func (e *Engine) ListConflicts(ctx context.Context) ([]*store.ConflictRecord, error) {
	return e.cfg.Store.ListConflicts(ctx)
}

// ListAllConflicts returns every conflict, resolved or not.
func (e *Engine) ListAllConflicts(ctx context.Context) ([]*store.ConflictRecord, error) {
	return e.cfg.Store.ListAllConflicts(ctx)
}

// ResolveConflict applies one of the four dispositions to a conflict.
// It transfers bytes directly rather than waiting for the next pass, so
// the caller sees the effect immediately.
func (e *Engine) ResolveConflict(ctx context.Context, conflictID string, resolution Resolution, resolvedBy string) error {
	conflict, err := e.cfg.Store.GetConflict(ctx, conflictID)
	if err != nil {
		return fmt.Errorf("sync: loading conflict: %w", err)
	}

	deps := transferDeps{
		syncRoot:       e.cfg.SyncRoot,
		client:         e.cfg.Client,
		enc:            e.cfg.Encryption,
		encPassword:    e.cfg.EncryptionPassword,
		maxConcurrency: 1,
		logger:         e.cfg.Logger,
	}

	switch resolution {
	case ResolveKeepLocal:
		if _, err := transferUpload(ctx, conflict.Path, deps); err != nil {
			return fmt.Errorf("sync: resolving %s as keep-local: %w", conflict.Path, err)
		}

	case ResolveKeepRemote:
		if err := transferDownload(ctx, conflict.Path, deps); err != nil {
			return fmt.Errorf("sync: resolving %s as keep-remote: %w", conflict.Path, err)
		}

	case ResolveKeepBoth:
		if err := e.keepBoth(ctx, conflict, deps); err != nil {
			return fmt.Errorf("sync: resolving %s as keep-both: %w", conflict.Path, err)
		}

	case ResolveSkip:
		if err := e.cfg.Store.UpdateStatusByPath(ctx, conflict.Path, store.StatusIgnored, ""); err != nil {
			return fmt.Errorf("sync: marking %s ignored: %w", conflict.Path, err)
		}

	default:
		return fmt.Errorf("sync: unknown resolution %q", resolution)
	}

	// Clear the conflict on the FileRecord so the next pass treats the
	// path as freshly synced instead of re-detecting it (Conflict
	// records are cleared only by explicit resolution). Skip keeps its
	// Ignored status set above.
	if resolution != ResolveSkip {
		if err := e.cfg.Store.UpdateStatusByPath(ctx, conflict.Path, store.StatusSynced, ""); err != nil {
			return fmt.Errorf("sync: clearing conflict status on %s: %w", conflict.Path, err)
		}
	}

	return e.cfg.Store.ResolveConflict(ctx, conflictID, string(resolution), resolvedBy)
}

// keepBoth renames the local side with a disambiguating suffix before the
// extension, then downloads the remote side into the original path.
func (e *Engine) keepBoth(ctx context.Context, conflict *store.ConflictRecord, deps transferDeps) error {
	src := localPath(deps.syncRoot, conflict.Path)
	renamed := disambiguatedPath(src, time.Now())

	if err := os.Rename(src, renamed); err != nil && !os.IsNotExist(err) {
		return err
	}

	return transferDownload(ctx, conflict.Path, deps)
}

// disambiguatedPath inserts " (conflict <unix-timestamp>)" before the
// extension of path.
func disambiguatedPath(path string, at time.Time) string {
	dir := filepath.Dir(path)
	base := filepath.Base(path)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)

	return filepath.Join(dir, fmt.Sprintf("%s (conflict %d)%s", stem, at.Unix(), ext))
}
