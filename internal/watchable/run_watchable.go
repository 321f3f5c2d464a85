package watchable

import (
	"context"
	"log/slog"
	"sync"

	"github.com/xbase-dev/xbased/internal/fsevent"
	"github.com/xbase-dev/xbased/internal/project"
	"github.com/xbase-dev/xbased/internal/xbproto"
)

// RunWatchable re-triggers a build-then-run cycle whenever a relevant
// filesystem event fires, tearing down the previous run before starting
// the next one.
type RunWatchable struct {
	target  xbproto.BuildSettings
	device  *xbproto.DeviceRef
	watch   bool

	mu      sync.Mutex
	current runnerProcess
	cancel  context.CancelFunc
}

// NewRunWatchable wraps settings/device as a RunWatchable. watch marks
// whether this subscription runs under a standing watch (vs. a one-shot
// run), which decides whether Trigger emits SetWatching on success.
func NewRunWatchable(settings xbproto.BuildSettings, device *xbproto.DeviceRef, watch bool) *RunWatchable {
	return &RunWatchable{target: settings, device: device, watch: watch}
}

func (w *RunWatchable) Settings() xbproto.BuildSettings { return w.target }

func (w *RunWatchable) ShouldTrigger(ev fsevent.Event) bool { return defaultShouldTrigger(ev) }
func (w *RunWatchable) ShouldDiscard(ev fsevent.Event) bool { return false }

// Discard signals the running child subprocess to exit and awaits it.
func (w *RunWatchable) Discard() {
	w.mu.Lock()
	proc := w.current
	cancel := w.cancel
	w.current = nil
	w.cancel = nil
	w.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if proc != nil {
		_ = proc.Stop()
		_ = proc.Wait()
	}
}

// Trigger aborts the current run and its supervising task, rebuilds, and on
// success launches the replacement runner; on failure it logs and stops
// without touching the previous process further.
func (w *RunWatchable) Trigger(ctx context.Context, p project.Flavor, ev fsevent.Event, b Broadcaster) error {
	w.Discard()

	b.SetCurrentTask(xbproto.TaskRun, w.target.Target, xbproto.TaskProcessing)

	r, _, done, err := p.GetRunner(ctx, w.target, w.device, b)
	if err != nil {
		b.SetCurrentTask(xbproto.TaskRun, w.target.Target, xbproto.TaskFailed)
		return err
	}
	if !<-done {
		b.SetCurrentTask(xbproto.TaskRun, w.target.Target, xbproto.TaskFailed)
		slog.Warn("run watchable build failed, not launching", "target", w.target.Target)
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	proc, err := r.Run(runCtx, b)
	if err != nil {
		cancel()
		b.SetCurrentTask(xbproto.TaskRun, w.target.Target, xbproto.TaskFailed)
		return err
	}

	w.mu.Lock()
	w.current = proc
	w.cancel = cancel
	w.mu.Unlock()

	b.SetCurrentTask(xbproto.TaskRun, w.target.Target, xbproto.TaskSucceeded)
	if w.watch {
		b.SetWatching(true, w.target)
	}
	return nil
}
