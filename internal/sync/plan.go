package sync

import (
	"strings"

	"github.com/tonimelisma/syncclient/internal/store"
)

// ActionKind is what Execute does for one planned path.
type ActionKind string

const (
	ActionUpload       ActionKind = "upload"
	ActionDownload     ActionKind = "download"
	ActionCreateRemote ActionKind = "create_remote_dir"
	ActionCreateLocal  ActionKind = "create_local_dir"
	ActionDeleteLocal  ActionKind = "delete_local"
	ActionDeleteRemote ActionKind = "delete_remote"
	ActionConflict     ActionKind = "conflict"
	ActionNone         ActionKind = "none"
)

// PathState is one side's view of a path during Diff, built from the
// Index step.
type PathState struct {
	Path        string
	IsDirectory bool
	Size        int64
	ModTime     int64 // unix nanos; local mtime or remote last-modified
	Hash        string
	ETag        string
}

// Action is one planned operation for one path. Err is
// set by Execute when the action was attempted and failed; the pass
// continues and the failure lands on the FileRecord.
type Action struct {
	Path         string
	Kind         ActionKind
	IsDirectory  bool
	Local        *PathState
	Remote       *PathState
	ConflictType store.ConflictType
	Err          string
}

// Plan is the ordered output of Diff: directories before files for
// creates, files before directories for deletes.
type Plan struct {
	Actions []Action
}

// diff classifies each path present in either map into an Action.
// lastSync is the engine's
// last_sync_time for this path's FileRecord, or the zero value if this
// is the path's first ever pass.
func diff(localByPath, remoteByPath map[string]PathState, lastSync map[string]int64) []Action {
	paths := make(map[string]bool, len(localByPath)+len(remoteByPath))
	for p := range localByPath {
		paths[p] = true
	}
	for p := range remoteByPath {
		paths[p] = true
	}

	actions := make([]Action, 0, len(paths))

	for path := range paths {
		local, hasLocal := localByPath[path]
		remote, hasRemote := remoteByPath[path]
		actions = append(actions, classify(path, hasLocal, local, hasRemote, remote, lastSync[path]))
	}

	return actions
}

func classify(path string, hasLocal bool, local PathState, hasRemote bool, remote PathState, lastSync int64) Action {
	switch {
	case hasLocal && !hasRemote:
		return Action{Path: path, Kind: uploadOrCreateRemote(local), IsDirectory: local.IsDirectory, Local: &local}

	case !hasLocal && hasRemote:
		return Action{Path: path, Kind: downloadOrCreateLocal(remote), IsDirectory: remote.IsDirectory, Remote: &remote}

	case hasLocal && hasRemote:
		return classifyBothPresent(path, local, remote, lastSync)
	}

	return Action{Path: path, Kind: ActionNone}
}

func uploadOrCreateRemote(local PathState) ActionKind {
	if local.IsDirectory {
		return ActionCreateRemote
	}

	return ActionUpload
}

func downloadOrCreateLocal(remote PathState) ActionKind {
	if remote.IsDirectory {
		return ActionCreateLocal
	}

	return ActionDownload
}

// classifyBothPresent classifies a path present on both sides.
// Directories present on both sides never transfer; only a type mismatch
// (one side a file, the other a directory) is notable, and that is a
// conflict regardless of timestamps.
func classifyBothPresent(path string, local, remote PathState, lastSync int64) Action {
	if local.IsDirectory != remote.IsDirectory {
		return Action{
			Path: path, Kind: ActionConflict, Local: &local, Remote: &remote,
			ConflictType: store.ConflictTypeMismatch,
		}
	}

	if local.IsDirectory {
		return Action{Path: path, Kind: ActionNone, IsDirectory: true, Local: &local, Remote: &remote}
	}

	if identical(local, remote) {
		return Action{Path: path, Kind: ActionNone, Local: &local, Remote: &remote}
	}

	if lastSync == 0 {
		// First ever pass for this path: compare modification times
		// directly rather than against a last_sync baseline that
		// doesn't exist yet.
		if local.ModTime == remote.ModTime {
			return Action{Path: path, Kind: ActionNone, Local: &local, Remote: &remote}
		}

		return Action{
			Path: path, Kind: ActionConflict, Local: &local, Remote: &remote,
			ConflictType: store.ConflictBothModified,
		}
	}

	localModified := local.ModTime > lastSync
	remoteModified := remote.ModTime > lastSync

	switch {
	case !localModified && !remoteModified:
		// Steady state: nothing changed on either side since last_sync,
		// and identical() above didn't confirm a matching etag/hash (it
		// may simply be unavailable). Nothing to transfer.
		return Action{Path: path, Kind: ActionNone, Local: &local, Remote: &remote}
	case localModified && !remoteModified:
		return Action{Path: path, Kind: ActionUpload, Local: &local, Remote: &remote}
	case remoteModified && !localModified:
		return Action{Path: path, Kind: ActionDownload, Local: &local, Remote: &remote}
	default:
		// Both modified since last_sync.
		return Action{
			Path: path, Kind: ActionConflict, Local: &local, Remote: &remote,
			ConflictType: store.ConflictBothModified,
		}
	}
}

// identical reports whether the two sides need no transfer: matching
// ETag when known, otherwise matching content hash.
func identical(local, remote PathState) bool {
	if remote.ETag != "" && local.ETag != "" {
		return local.ETag == remote.ETag
	}

	if local.Hash != "" && remote.Hash != "" {
		return local.Hash == remote.Hash
	}

	return false
}

// order sorts a Plan's actions for execution: directories (shallowest
// first) before files for creates, files before directories (deepest
// first) for deletes. Actions that
// are neither a create nor a delete keep their relative position among
// themselves, after creates and before deletes.
func order(actions []Action) []Action {
	var creates, others, deletes []Action

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

	sortDirsFirst(creates)
	sortFilesFirst(deletes)

	out := make([]Action, 0, len(actions))
	out = append(out, creates...)
	out = append(out, others...)
	out = append(out, deletes...)

	return out
}

// sortDirsFirst orders a creates wave so directories precede files and
// shallower directories precede deeper ones: a parent collection exists
// before anything beneath it is attempted.
func sortDirsFirst(actions []Action) {
	insertionSortBy(actions, func(a Action) int {
		if !a.IsDirectory {
			return maxDepthRank
		}

		return pathDepth(a.Path)
	})
}

// sortFilesFirst orders a deletes wave so files go before directories
// and deeper directories before their parents.
func sortFilesFirst(actions []Action) {
	insertionSortBy(actions, func(a Action) int {
		if !a.IsDirectory {
			return 0
		}

		return maxDepthRank - pathDepth(a.Path)
	})
}

// maxDepthRank is deeper than any real tree nests.
const maxDepthRank = 1 << 20

func pathDepth(path string) int {
	return strings.Count(path, "/")
}

// insertionSortBy stably sorts actions by the given rank function. Plans
// are small enough (one path set per sync pass) that O(n^2) is fine and
// keeps this dependency-free.
func insertionSortBy(actions []Action, rank func(Action) int) {
	for i := 1; i < len(actions); i++ {
		j := i
		for j > 0 && rank(actions[j-1]) > rank(actions[j]) {
			actions[j-1], actions[j] = actions[j], actions[j-1]
			j--
		}
	}
}
