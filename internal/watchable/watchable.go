// Package watchable implements the per-project registry of active
// build/run subscriptions that re-trigger on filesystem events.
package watchable

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"

	"github.com/xbase-dev/xbased/internal/fsevent"
	"github.com/xbase-dev/xbased/internal/project"
	"github.com/xbase-dev/xbased/internal/runner"
	"github.com/xbase-dev/xbased/internal/xbproto"
)

// Broadcaster is the reporting surface a Watchable needs to drive statusline
// transitions and builds.
type Broadcaster interface {
	project.Broadcaster
	SetWatching(watching bool, settings xbproto.BuildSettings)
	SetCurrentTask(kind xbproto.TaskKind, target string, status xbproto.TaskStatus)
}

// Watchable is one active build or run subscription.
type Watchable interface {
	ShouldTrigger(ev fsevent.Event) bool
	ShouldDiscard(ev fsevent.Event) bool
	Trigger(ctx context.Context, p project.Flavor, ev fsevent.Event, b Broadcaster) error
	Discard()
	Settings() xbproto.BuildSettings
}

// Key builds the stable string key a subscription is stored and re-issued
// under: {root}:{kind}:{device?}:{settings}. Building the same key twice
// for equivalent arguments is what makes re-subscription idempotent.
func Key(root xbproto.ProjectRoot, kind xbproto.TaskKind, device *xbproto.DeviceRef, settings xbproto.BuildSettings) string {
	deviceKey := ""
	if device != nil {
		deviceKey = device.UDID + "|" + device.Name
	}
	return fmt.Sprintf("%s:%s:%s:%s|%s|%s", root, kind, deviceKey, settings.Target, settings.Configuration.String(), settings.Scheme)
}

// Registry is the mapping from stable key to Watchable for one project.
type Registry struct {
	mu      sync.Mutex
	entries map[string]Watchable
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]Watchable)}
}

// Add inserts w under key, replacing (and logging about) any prior entry.
func (r *Registry) Add(key string, w Watchable) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[key]; exists {
		slog.Info("watchable replaced", "key", key)
	}
	r.entries[key] = w
}

// Remove discards and deletes the entry for key, emitting SetWatching{false}.
func (r *Registry) Remove(key string, b Broadcaster) {
	r.mu.Lock()
	w, ok := r.entries[key]
	if ok {
		delete(r.entries, key)
	}
	r.mu.Unlock()
	if !ok {
		return
	}
	w.Discard()
	b.SetWatching(false, w.Settings())
}

// Watchlist returns the target name of every active subscription, sorted,
// for display in a ProjectInfo snapshot.
func (r *Registry) Watchlist() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.entries))
	for _, w := range r.entries {
		names = append(names, w.Settings().Target)
	}
	sort.Strings(names)
	return names
}

// Trigger iterates every entry, discarding ones whose ShouldDiscard fires
// and triggering ones whose ShouldTrigger fires; removals happen after the
// full iteration so a discard mid-pass can't shrink the map Trigger is
// still ranging over.
func (r *Registry) Trigger(ctx context.Context, p project.Flavor, ev fsevent.Event, b Broadcaster) {
	r.mu.Lock()
	snapshot := make(map[string]Watchable, len(r.entries))
	for k, v := range r.entries {
		snapshot[k] = v
	}
	r.mu.Unlock()

	var toRemove []string
	for key, w := range snapshot {
		if w.ShouldDiscard(ev) {
			w.Discard()
			toRemove = append(toRemove, key)
			continue
		}
		if w.ShouldTrigger(ev) {
			if err := w.Trigger(ctx, p, ev, b); err != nil {
				slog.Warn("watchable trigger failed", "key", key, "err", err)
			}
		}
	}

	if len(toRemove) == 0 {
		return
	}
	r.mu.Lock()
	for _, key := range toRemove {
		delete(r.entries, key)
	}
	r.mu.Unlock()
}

// defaultShouldTrigger is the policy shared by Build and Run Watchables:
// content update, a rename not just seen, a create, a remove, or the
// path no longer existing.
func defaultShouldTrigger(ev fsevent.Event) bool {
	switch ev.Kind {
	case fsevent.KindFileUpdated, fsevent.KindFileCreated, fsevent.KindFileRemoved,
		fsevent.KindFolderCreated, fsevent.KindFolderRemoved:
		return true
	case fsevent.KindFileRenamed:
		if ev.IsSeen {
			return false
		}
		return true
	}
	if ev.Path != "" {
		if _, err := os.Stat(ev.Path); os.IsNotExist(err) {
			return true
		}
	}
	return false
}

// runnerProcess is the handle a RunWatchable holds for the process it
// started most recently.
type runnerProcess = runner.Process
