package sync

import (
	"context"
	"log/slog"
	"time"

	"github.com/tonimelisma/syncclient/internal/watcher"
)

// scheduler drives RunOnce periodically and, when configured, in response
// to watcher events. Backpressure rule: a tick that lands while a pass
// is already running is dropped, not queued.
type scheduler struct {
	engine           *Engine
	interval         time.Duration
	onFileChange     bool
	debounce         time.Duration
	logger           *slog.Logger
	stopCh           chan struct{}
	stoppedCh        chan struct{}
}

// newScheduler builds a scheduler. interval <= 0 disables periodic ticks
// entirely (manual RunOnce only).
func newScheduler(e *Engine, interval time.Duration, onFileChange bool, logger *slog.Logger) *scheduler {
	return &scheduler{
		engine:       e,
		interval:     interval,
		onFileChange: onFileChange,
		debounce:     500 * time.Millisecond,
		logger:       logger,
		stopCh:       make(chan struct{}),
		stoppedCh:    make(chan struct{}),
	}
}

// Start begins the scheduler's loop, driving RunOnce on the configured
// cadence and, if events is non-nil, on a debounced early pass triggered
// by watcher activity. Start returns immediately; the loop runs until ctx
// is canceled or stop() is called.
func (s *scheduler) Start(ctx context.Context, events <-chan watcher.Event) {
	go s.run(ctx, events)
}

func (s *scheduler) run(ctx context.Context, events <-chan watcher.Event) {
	defer close(s.stoppedCh)

	var ticker *time.Ticker
	var tickCh <-chan time.Time

	if s.interval > 0 {
		ticker = time.NewTicker(s.interval)
		defer ticker.Stop()
		tickCh = ticker.C
	}

	var pending *time.Timer
	var pendingCh <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return

		case <-s.stopCh:
			return

		case <-tickCh:
			s.runIfIdle(ctx, "scheduled tick")

		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}

			if !s.onFileChange {
				continue
			}

			_ = ev

			if pending == nil {
				pending = time.NewTimer(s.debounce)
				pendingCh = pending.C
			} else {
				if !pending.Stop() {
					select {
					case <-pending.C:
					default:
					}
				}
				pending.Reset(s.debounce)
			}

		case <-pendingCh:
			pending = nil
			pendingCh = nil
			s.runIfIdle(ctx, "file change")
		}
	}
}

// runIfIdle attempts RunOnce, logging and swallowing ErrAlreadySyncing
// since a dropped tick is expected behavior, not a failure.
func (s *scheduler) runIfIdle(ctx context.Context, reason string) {
	report, err := s.engine.RunOnce(ctx)

	switch {
	case err == nil:
		s.logger.Debug("sync: pass completed", slog.String("reason", reason),
			slog.Int("uploaded", report.Uploaded), slog.Int("downloaded", report.Downloaded),
			slog.Int("conflicts", report.Conflicts))
	case err == ErrAlreadySyncing:
		s.logger.Debug("sync: tick dropped, pass already running", slog.String("reason", reason))
	case err == ErrStopped:
	default:
		s.logger.Warn("sync: pass failed", slog.String("reason", reason), slog.String("error", err.Error()))
	}
}

func (s *scheduler) stop() {
	select {
	case <-s.stopCh:
	default:
		close(s.stopCh)
	}
}
