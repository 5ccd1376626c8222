// Package sync implements the Sync Engine: the index/diff/execute
// pipeline that reconciles a local directory tree with a WebDAV remote,
// the Idle/Syncing/Paused/Stopped/Error state machine guarding it, and
// conflict surfacing/resolution.
package sync

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// State is one of the engine's lifecycle states.
type State string

const (
	StateIdle    State = "idle"
	StateSyncing State = "syncing"
	StatePaused  State = "paused"
	StateStopped State = "stopped"
	StateError   State = "error"
)

// ErrAlreadySyncing is returned by RunOnce when a pass is already running —
// the single-flight lock rejects concurrent passes rather than
// queuing them.
var ErrAlreadySyncing = errors.New("sync: a pass is already running")

// ErrNotSyncing is returned by Pause/Cancel when the engine is not
// currently in a state the transition applies to.
var ErrNotSyncing = errors.New("sync: engine is not syncing")

// ErrNotPaused is returned by Resume when the engine is not paused.
var ErrNotPaused = errors.New("sync: engine is not paused")

// ErrStopped is returned by RunOnce once the engine has been stopped; a
// stopped engine never resumes.
var ErrStopped = errors.New("sync: engine is stopped")

// ErrEncryptionPassword is returned by RunOnce when encryption is wired
// in but no password was supplied; the engine stays Idle rather than
// failing mid-pass on the first transfer.
var ErrEncryptionPassword = errors.New("sync: encryption is enabled but no password is set")

// lifecycle is the single-flight state machine embedded in Engine. All
// transitions hold mu; pause/cancel are observed by workers calling
// waitIfPaused/checkCanceled between files, not by interrupting them;
// cancellation is cooperative and level-triggered.
type lifecycle struct {
	mu       sync.Mutex
	state    State
	errMsg   string
	pauseCh  chan struct{} // closed while paused; workers block reading it
	cancelCh chan struct{} // closed when a cancel is requested for the running pass
}

func newLifecycle() *lifecycle {
	return &lifecycle{state: StateIdle}
}

func (l *lifecycle) State() (State, string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.state, l.errMsg
}

// begin transitions Idle or Error into Syncing; a start after an
// internal error resets the error state. Returns a cancel channel the
// caller closes via finish/cancel's bookkeeping.
func (l *lifecycle) begin() (<-chan struct{}, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch l.state {
	case StateStopped:
		return nil, ErrStopped
	case StateSyncing, StatePaused:
		return nil, ErrAlreadySyncing
	}

	l.state = StateSyncing
	l.errMsg = ""
	l.cancelCh = make(chan struct{})
	l.pauseCh = nil

	return l.cancelCh, nil
}

func (l *lifecycle) pause() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state != StateSyncing {
		return ErrNotSyncing
	}

	l.state = StatePaused
	l.pauseCh = make(chan struct{})

	return nil
}

func (l *lifecycle) resume() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state != StatePaused {
		return ErrNotPaused
	}

	l.state = StateSyncing
	if l.pauseCh != nil {
		close(l.pauseCh)
		l.pauseCh = nil
	}

	return nil
}

// cancel requests cancellation of the running pass. Cancel is valid
// from Syncing or Paused and always lands back in Idle once the pass
// observes it; partial progress already committed is preserved.
func (l *lifecycle) cancel() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state != StateSyncing && l.state != StatePaused {
		return ErrNotSyncing
	}

	if l.cancelCh != nil {
		select {
		case <-l.cancelCh:
		default:
			close(l.cancelCh)
		}
	}

	if l.pauseCh != nil {
		close(l.pauseCh)
		l.pauseCh = nil
	}

	return nil
}

// finishOK transitions a completed pass back to Idle.
func (l *lifecycle) finishOK() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state == StateSyncing || l.state == StatePaused {
		l.state = StateIdle
	}
}

// finishErr records a failed pass as Error(msg); the next begin() resets
// to Syncing.
func (l *lifecycle) finishErr(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.state = StateError
	l.errMsg = err.Error()
}

// finishCanceled transitions a canceled pass back to Idle.
func (l *lifecycle) finishCanceled() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.state = StateIdle
}

func (l *lifecycle) stop() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.state = StateStopped

	if l.cancelCh != nil {
		select {
		case <-l.cancelCh:
		default:
			close(l.cancelCh)
		}
	}
}

// waitIfPaused blocks the caller while the engine is paused, waking up on
// either resume or cancel. Callers check canceled themselves afterward.
func (l *lifecycle) waitIfPaused(ctx context.Context) {
	l.mu.Lock()
	pauseCh := l.pauseCh
	l.mu.Unlock()

	if pauseCh == nil {
		return
	}

	select {
	case <-pauseCh:
	case <-ctx.Done():
	}
}

// ErrCanceled is returned internally by pipeline stages once they observe
// the pass's cancel signal; RunOnce translates it into a clean Idle
// transition rather than Error.
var ErrCanceled = errors.New("sync: pass canceled")

func checkCanceled(cancelCh <-chan struct{}) error {
	select {
	case <-cancelCh:
		return ErrCanceled
	default:
		return nil
	}
}

func (l *lifecycle) describe() string {
	state, msg := l.State()
	if state == StateError && msg != "" {
		return fmt.Sprintf("%s: %s", state, msg)
	}

	return string(state)
}
