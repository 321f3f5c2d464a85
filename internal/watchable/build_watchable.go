package watchable

import (
	"context"

	"github.com/xbase-dev/xbased/internal/fsevent"
	"github.com/xbase-dev/xbased/internal/project"
	"github.com/xbase-dev/xbased/internal/xbproto"
)

// BuildWatchable re-triggers a build whenever a relevant filesystem event
// fires. It never auto-discards; a build subscription only goes away via
// an explicit Registry.Remove.
type BuildWatchable struct {
	Target   xbproto.BuildSettings
	Watching bool
}

// NewBuildWatchable wraps settings as a BuildWatchable. watch marks whether
// this subscription runs under a standing watch (vs. a one-shot build),
// which decides whether Trigger emits SetWatching on success.
func NewBuildWatchable(settings xbproto.BuildSettings, watch bool) *BuildWatchable {
	return &BuildWatchable{Target: settings, Watching: watch}
}

func (w *BuildWatchable) Settings() xbproto.BuildSettings { return w.Target }

func (w *BuildWatchable) ShouldTrigger(ev fsevent.Event) bool { return defaultShouldTrigger(ev) }
func (w *BuildWatchable) ShouldDiscard(ev fsevent.Event) bool { return false }
func (w *BuildWatchable) Discard()                            {}

// Trigger runs project.Build, flipping the statusline Processing ->
// Success/Watching or Failure.
func (w *BuildWatchable) Trigger(ctx context.Context, p project.Flavor, ev fsevent.Event, b Broadcaster) error {
	b.SetCurrentTask(xbproto.TaskBuild, w.Target.Target, xbproto.TaskProcessing)

	_, done := p.Build(ctx, w.Target, nil, b)
	success := <-done

	status := xbproto.TaskSucceeded
	if !success {
		status = xbproto.TaskFailed
	}
	b.SetCurrentTask(xbproto.TaskBuild, w.Target.Target, status)
	if success && w.Watching {
		b.SetWatching(true, w.Target)
	}
	return nil
}
