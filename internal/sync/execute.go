package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"golang.org/x/sync/errgroup"

	"github.com/tonimelisma/syncclient/internal/encryption"
	"github.com/tonimelisma/syncclient/internal/store"
	"github.com/tonimelisma/syncclient/internal/webdav"
)

// transferDeps are the collaborators execute needs to carry out a
// Plan.
type transferDeps struct {
	syncRoot       string
	client         *webdav.Client
	enc            *encryption.Service // nil when encryption is disabled
	encPassword    string
	maxConcurrency int
	logger         *slog.Logger
}

// execute runs a Plan's actions against the filesystem and the remote,
// respecting dependency order (creates sorted dirs-shallowest-first,
// deletes files-then-deepest-first by order()) and a bounded worker pool
// sized by max_concurrent_transfers. The creates wave may still
// interleave a child ahead of its parent within the pool; that is safe
// because CreateDirectory and ensureLocalDir both create missing
// ancestors and tolerate already-existing ones. It stops launching new
// work once cancelCh closes, but lets in-flight units finish rather
// than aborting them (cooperative, level-triggered cancellation).
func execute(ctx context.Context, plan *Plan, deps transferDeps, cancelCh <-chan struct{}, pausable *lifecycle) ([]Action, error) {
	creates, others, deletes := splitByStage(plan.Actions)

	executed := make([]Action, 0, len(plan.Actions))

	for _, stage := range [][]Action{creates, others, deletes} {
		done, err := executeStage(ctx, stage, deps, cancelCh, pausable)
		executed = append(executed, done...)

		if err != nil {
			return executed, err
		}
	}

	return executed, nil
}

// splitByStage separates a plan back into its three dependency-ordered
// groups so creates and deletes can each run as their own bounded-
// concurrency wave, with "others" (uploads, downloads, conflicts,
// no-ops) run concurrently in between.
func splitByStage(actions []Action) (creates, others, deletes []Action) {
	for _, a := range actions {
		switch a.Kind {
		case ActionCreateRemote, ActionCreateLocal:
			creates = append(creates, a)
		case ActionDeleteLocal, ActionDeleteRemote:
			deletes = append(deletes, a)
		default:
			others = append(others, a)
		}
	}

	return creates, others, deletes
}

func executeStage(ctx context.Context, actions []Action, deps transferDeps, cancelCh <-chan struct{}, pausable *lifecycle) ([]Action, error) {
	if len(actions) == 0 {
		return nil, nil
	}

	limit := deps.maxConcurrency
	if limit <= 0 {
		limit = 4
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	results := make([]Action, len(actions))

	for i, action := range actions {
		i, action := i, action

		if err := checkCanceled(cancelCh); err != nil {
			_ = g.Wait()
			return trimNil(results[:i]), err
		}

		g.Go(func() error {
			pausable.waitIfPaused(gctx)

			if err := checkCanceled(cancelCh); err != nil {
				return err
			}

			if err := executeOne(gctx, &action, deps); err != nil {
				deps.logger.Warn("sync: action failed",
					slog.String("path", action.Path), slog.String("kind", string(action.Kind)),
					slog.String("error", err.Error()))
				action.Err = err.Error()
			}

			results[i] = action

			return nil
		})
	}

	err := g.Wait()

	return trimNil(results), err
}

func trimNil(actions []Action) []Action {
	out := make([]Action, 0, len(actions))

	for _, a := range actions {
		if a.Path != "" {
			out = append(out, a)
		}
	}

	return out
}

func executeOne(ctx context.Context, action *Action, deps transferDeps) error {
	switch action.Kind {
	case ActionNone, ActionConflict:
		return nil
	case ActionCreateLocal:
		return ensureLocalDir(localPath(deps.syncRoot, action.Path))
	case ActionCreateRemote:
		return deps.client.CreateDirectory(ctx, remotePath(action.Path))
	case ActionUpload:
		etag, err := transferUpload(ctx, action.Path, deps)
		if err != nil {
			return err
		}

		if action.Local != nil {
			action.Local.ETag = etag
		}

		return nil
	case ActionDownload:
		return transferDownload(ctx, action.Path, deps)
	case ActionDeleteLocal:
		return os.RemoveAll(localPath(deps.syncRoot, action.Path))
	case ActionDeleteRemote:
		err := deps.client.Delete(ctx, remotePath(action.Path))
		if errors.Is(err, webdav.ErrNotFound) {
			return nil
		}

		return err
	}

	return fmt.Errorf("sync: unknown action kind %q", action.Kind)
}

// transferUpload uploads a local file to the remote, routing through the
// Encryption Service first when encryption is active so the bytes that
// leave this machine are always the encrypted form. Returns the
// ETag the server assigned to the new revision.
func transferUpload(ctx context.Context, relPath string, deps transferDeps) (string, error) {
	src := localPath(deps.syncRoot, relPath)
	dst := remotePath(relPath)

	if deps.enc == nil {
		return deps.client.Upload(ctx, src, dst, nil)
	}

	tmp, err := os.CreateTemp("", "sync-upload-*")
	if err != nil {
		return "", fmt.Errorf("sync: staging encrypted upload: %w", err)
	}
	tmpPath := tmp.Name()
	tmp.Close()
	defer os.Remove(tmpPath)

	if err := deps.enc.EncryptFile(ctx, deps.encPassword, src, tmpPath); err != nil {
		return "", fmt.Errorf("sync: encrypting %s: %w", relPath, err)
	}

	return deps.client.Upload(ctx, tmpPath, dst, nil)
}

// transferDownload downloads a remote file and, when encryption is
// active, decrypts it in place into the sync root.
func transferDownload(ctx context.Context, relPath string, deps transferDeps) error {
	dst := localPath(deps.syncRoot, relPath)
	src := remotePath(relPath)

	if deps.enc == nil {
		return deps.client.Download(ctx, src, dst, nil)
	}

	tmp, err := os.CreateTemp("", "sync-download-*")
	if err != nil {
		return fmt.Errorf("sync: staging encrypted download: %w", err)
	}
	tmpPath := tmp.Name()
	tmp.Close()
	defer os.Remove(tmpPath)

	if err := deps.client.Download(ctx, src, tmpPath, nil); err != nil {
		return err
	}

	if err := deps.enc.DecryptFile(ctx, deps.encPassword, tmpPath, dst); err != nil {
		return fmt.Errorf("sync: decrypting %s: %w", relPath, err)
	}

	return nil
}

// recordFailure lands a per-file failure on the FileRecord as an error
// status with the offending reason, leaving the rest of the pass to
// continue; the failure is caught and recorded on the FileRecord
// rather than aborting the pass.
func recordFailure(ctx context.Context, st *store.Store, action Action) error {
	rec, err := st.GetItemByPath(ctx, action.Path)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}

	if rec == nil {
		rec = &store.FileRecord{
			Path:        action.Path,
			Name:        baseName(action.Path),
			IsDirectory: action.IsDirectory,
		}
	}

	rec.SyncStatus = store.StatusError
	rec.SyncStatusDetail = action.Err

	return st.UpsertItem(ctx, rec)
}

// recordConflict persists a detected conflict and its FileRecord
// status, so ListConflicts/ResolveConflict have something to act on.
func recordConflict(ctx context.Context, st *store.Store, action Action) error {
	rec, err := st.GetItemByPath(ctx, action.Path)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}

	if rec == nil {
		rec = &store.FileRecord{
			Path:        action.Path,
			Name:        baseName(action.Path),
			IsDirectory: action.IsDirectory,
		}
	}

	rec.SyncStatus = store.StatusConflict
	rec.SyncStatusDetail = string(action.ConflictType)

	if err := st.UpsertItem(ctx, rec); err != nil {
		return err
	}

	var localHash, remoteHash string
	if action.Local != nil {
		localHash = action.Local.Hash
	}
	if action.Remote != nil {
		remoteHash = action.Remote.ETag
	}

	_, err = st.RecordConflict(ctx, &store.ConflictRecord{
		FileID:       rec.ID,
		Path:         action.Path,
		ConflictType: action.ConflictType,
		LocalHash:    localHash,
		RemoteHash:   remoteHash,
	})

	return err
}
