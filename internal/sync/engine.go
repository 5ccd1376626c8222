package sync

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tonimelisma/syncclient/internal/config"
	"github.com/tonimelisma/syncclient/internal/encryption"
	"github.com/tonimelisma/syncclient/internal/store"
	"github.com/tonimelisma/syncclient/internal/watcher"
	"github.com/tonimelisma/syncclient/internal/webdav"
)

// EngineConfig holds the options for NewEngine.
type EngineConfig struct {
	SyncRoot               string // absolute path to the local sync directory
	Client                 *webdav.Client
	Store                  *store.Store
	Encryption             *encryption.Service // nil disables encryption entirely
	EncryptionPassword     string
	ExcludedPaths          []string
	SyncHiddenFiles        bool
	MaxConcurrentTransfers int
	Logger                 *slog.Logger
}

// Report summarizes the result of one sync pass.
type Report struct {
	Duration  time.Duration
	Uploaded  int
	Downloaded int
	CreatedRemoteDirs int
	CreatedLocalDirs  int
	DeletedLocal      int
	DeletedRemote     int
	Conflicts         int
	Errors            int
	Unchanged         int
	Canceled          bool
}

// Engine orchestrates one Index -> Diff -> Execute -> Finalize sync
// pass under the Idle/Syncing/Paused/Stopped/Error state machine.
type Engine struct {
	cfg       EngineConfig
	lifecycle *lifecycle
	filter    excludeFilter
	scheduler *scheduler
}

// NewEngine wires an Engine from cfg. It does not start the scheduler;
// call Start for that, or RunOnce to drive a single pass directly.
func NewEngine(cfg EngineConfig) *Engine {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	e := &Engine{
		cfg:       cfg,
		lifecycle: newLifecycle(),
		filter: excludeFilter{
			excludedPaths:   cfg.ExcludedPaths,
			syncHiddenFiles: cfg.SyncHiddenFiles,
		},
	}

	return e
}

// NewEngineFromConfig applies the relevant sections of a loaded Config.
func NewEngineFromConfig(cfg *config.Config, client *webdav.Client, st *store.Store, enc *encryption.Service, encPassword string, logger *slog.Logger) *Engine {
	return NewEngine(EngineConfig{
		SyncRoot:               cfg.Remote.SyncFolder,
		Client:                 client,
		Store:                  st,
		Encryption:             enc,
		EncryptionPassword:     encPassword,
		ExcludedPaths:          cfg.Sync.ExcludedPaths,
		SyncHiddenFiles:        cfg.Sync.SyncHiddenFiles,
		MaxConcurrentTransfers: cfg.Transfers.MaxConcurrentTransfers,
		Logger:                 logger,
	})
}

// State reports the engine's current lifecycle state.
func (e *Engine) State() (State, string) {
	return e.lifecycle.State()
}

// Pause requests the running pass suspend at its next safe point.
func (e *Engine) Pause() error { return e.lifecycle.pause() }

// Resume wakes a paused pass back up.
func (e *Engine) Resume() error { return e.lifecycle.resume() }

// Cancel requests the running pass abort; in-flight transfers are
// awaited, not interrupted.
func (e *Engine) Cancel() error { return e.lifecycle.cancel() }

// Stop halts the engine permanently; no further RunOnce/Start succeeds.
func (e *Engine) Stop() {
	if e.scheduler != nil {
		e.scheduler.stop()
	}

	e.lifecycle.stop()
}

// Start begins the periodic scheduler: a tick every interval,
// dropped whenever a pass is already running, plus an early debounced
// pass on watcher activity when onFileChange is set. events may be nil
// to disable the watcher-driven path entirely.
func (e *Engine) Start(ctx context.Context, interval time.Duration, onFileChange bool, events <-chan watcher.Event) {
	e.scheduler = newScheduler(e, interval, onFileChange, e.cfg.Logger)
	e.scheduler.Start(ctx, events)
}

// RunOnce performs exactly one sync pass: Index, Diff, Execute,
// Finalize. It returns ErrAlreadySyncing if a pass is already running
// and ErrStopped once Stop has been called.
func (e *Engine) RunOnce(ctx context.Context) (*Report, error) {
	if e.cfg.Encryption != nil && e.cfg.EncryptionPassword == "" {
		return nil, ErrEncryptionPassword
	}

	start := time.Now()

	cancelCh, err := e.lifecycle.begin()
	if err != nil {
		return nil, err
	}

	report, runErr := e.runPass(ctx, cancelCh)
	report.Duration = time.Since(start)

	switch {
	case runErr == nil:
		e.lifecycle.finishOK()
	case runErr == ErrCanceled:
		report.Canceled = true
		e.lifecycle.finishCanceled()

		runErr = nil
	default:
		e.lifecycle.finishErr(runErr)
	}

	return report, runErr
}

func (e *Engine) runPass(ctx context.Context, cancelCh <-chan struct{}) (*Report, error) {
	report := &Report{}

	if err := checkCanceled(cancelCh); err != nil {
		return report, err
	}

	localByPath, err := indexLocal(ctx, e.cfg.SyncRoot, e.filter, e.cfg.Logger)
	if err != nil {
		return report, fmt.Errorf("sync: indexing local: %w", err)
	}

	remoteByPath, err := indexRemote(ctx, e.cfg.Client, e.filter)
	if err != nil {
		return report, fmt.Errorf("sync: indexing remote: %w", err)
	}

	if err := checkCanceled(cancelCh); err != nil {
		return report, err
	}

	lastSync, err := e.lastSyncTimes(ctx)
	if err != nil {
		return report, fmt.Errorf("sync: loading last sync state: %w", err)
	}

	plan := &Plan{Actions: order(diff(localByPath, remoteByPath, lastSync))}

	if err := e.dropIgnored(ctx, plan); err != nil {
		return report, fmt.Errorf("sync: loading ignored paths: %w", err)
	}

	deps := transferDeps{
		syncRoot:       e.cfg.SyncRoot,
		client:         e.cfg.Client,
		enc:            e.cfg.Encryption,
		encPassword:    e.cfg.EncryptionPassword,
		maxConcurrency: e.cfg.MaxConcurrentTransfers,
		logger:         e.cfg.Logger,
	}

	executed, execErr := execute(ctx, plan, deps, cancelCh, e.lifecycle)

	tallyReport(report, executed)

	openConflicts, err := e.openConflictPaths(ctx)
	if err != nil {
		e.cfg.Logger.Warn("sync: listing open conflicts failed", slog.String("error", err.Error()))
	}

	for _, a := range executed {
		switch {
		case a.Err != "":
			if err := recordFailure(ctx, e.cfg.Store, a); err != nil {
				e.cfg.Logger.Warn("sync: recording failure failed", slog.String("path", a.Path), slog.String("error", err.Error()))
			}
		case a.Kind == ActionConflict && !openConflicts[a.Path]:
			if err := recordConflict(ctx, e.cfg.Store, a); err != nil {
				e.cfg.Logger.Warn("sync: recording conflict failed", slog.String("path", a.Path), slog.String("error", err.Error()))
			}
		}
	}

	if execErr != nil {
		return report, execErr
	}

	if err := e.finalize(ctx, executed); err != nil {
		return report, fmt.Errorf("sync: finalizing pass: %w", err)
	}

	return report, nil
}

func tallyReport(report *Report, actions []Action) {
	for _, a := range actions {
		if a.Err != "" {
			report.Errors++
			continue
		}

		switch a.Kind {
		case ActionUpload:
			report.Uploaded++
		case ActionDownload:
			report.Downloaded++
		case ActionCreateRemote:
			report.CreatedRemoteDirs++
		case ActionCreateLocal:
			report.CreatedLocalDirs++
		case ActionDeleteLocal:
			report.DeletedLocal++
		case ActionDeleteRemote:
			report.DeletedRemote++
		case ActionConflict:
			report.Conflicts++
		case ActionNone:
			report.Unchanged++
		}
	}
}

// dropIgnored turns planned actions for Ignored paths into no-ops: a
// skipped conflict is never retried in either direction.
func (e *Engine) dropIgnored(ctx context.Context, plan *Plan) error {
	ignored, err := e.cfg.Store.ListByStatus(ctx, store.StatusIgnored)
	if err != nil {
		return err
	}

	if len(ignored) == 0 {
		return nil
	}

	ignoredPaths := make(map[string]bool, len(ignored))
	for _, r := range ignored {
		ignoredPaths[r.Path] = true
	}

	for i := range plan.Actions {
		if ignoredPaths[plan.Actions[i].Path] {
			plan.Actions[i].Kind = ActionNone
			plan.Actions[i].ConflictType = ""
		}
	}

	return nil
}

// openConflictPaths returns the set of paths with an unresolved conflict
// row, so a still-conflicted path is not re-recorded every pass.
func (e *Engine) openConflictPaths(ctx context.Context) (map[string]bool, error) {
	conflicts, err := e.cfg.Store.ListConflicts(ctx)
	if err != nil {
		return nil, err
	}

	out := make(map[string]bool, len(conflicts))
	for _, c := range conflicts {
		out[c.Path] = true
	}

	return out, nil
}

// lastSyncTimes builds the path -> last_sync_time map Diff needs from the
// State Store's FileRecord.UpdatedAt, which this engine treats as the
// timestamp of the path's last successful sync.
func (e *Engine) lastSyncTimes(ctx context.Context) (map[string]int64, error) {
	records, err := e.cfg.Store.ListSynced(ctx)
	if err != nil {
		return nil, err
	}

	out := make(map[string]int64, len(records))
	for _, r := range records {
		out[r.Path] = r.UpdatedAt.UnixNano()
	}

	return out, nil
}

// finalize records the new state of every successfully executed path and
// appends a StateChanged event marking the pass complete.
func (e *Engine) finalize(ctx context.Context, executed []Action) error {
	for _, a := range executed {
		if err := finalizeAction(ctx, e.cfg.Store, a); err != nil {
			return err
		}
	}

	_, err := e.cfg.Store.AppendEvent(ctx, &store.SyncEvent{
		EventType: store.EventStateChanged,
		Message:   "sync pass completed",
	})

	return err
}

func finalizeAction(ctx context.Context, st *store.Store, a Action) error {
	if a.Err != "" {
		return nil
	}

	switch a.Kind {
	case ActionConflict, ActionNone:
		return nil
	}

	// Downloads take their authoritative size/etag from the remote side;
	// everything else from the local side.
	var state *PathState

	switch a.Kind {
	case ActionDownload, ActionCreateLocal:
		state = a.Remote
		if state == nil {
			state = a.Local
		}
	default:
		state = a.Local
		if state == nil {
			state = a.Remote
		}
	}

	if state == nil {
		return nil
	}

	rec := &store.FileRecord{
		Path:        a.Path,
		Name:        baseName(a.Path),
		IsDirectory: state.IsDirectory,
		Size:        state.Size,
		ContentHash: state.Hash,
		ETag:        state.ETag,
		SyncStatus:  store.StatusSynced,
	}

	if a.Local != nil && a.Local.ModTime != 0 {
		t := time.Unix(0, a.Local.ModTime).UTC()
		rec.LocalModified = &t
	}

	if a.Remote != nil && a.Remote.ModTime != 0 {
		t := time.Unix(0, a.Remote.ModTime).UTC()
		rec.RemoteModified = &t
	}

	if a.Kind == ActionDeleteLocal || a.Kind == ActionDeleteRemote {
		existing, err := st.GetItemByPath(ctx, a.Path)
		if err == nil {
			return st.MarkDeleted(ctx, existing.ID)
		}

		return nil
	}

	return st.UpsertItem(ctx, rec)
}

func baseName(relPath string) string {
	for i := len(relPath) - 1; i >= 0; i-- {
		if relPath[i] == '/' {
			return relPath[i+1:]
		}
	}

	return relPath
}
