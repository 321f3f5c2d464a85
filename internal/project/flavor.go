// Package project implements the per-flavor build systems xbased drives:
// XcodeGen, Tuist, SwiftPM, and Barebone. Each Flavor exposes the same
// operation set; the Runtime actor (internal/runtime) never knows which
// one it is talking to.
package project

import (
	"context"

	"github.com/xbase-dev/xbased/internal/fsevent"
	"github.com/xbase-dev/xbased/internal/runner"
	"github.com/xbase-dev/xbased/internal/task"
	"github.com/xbase-dev/xbased/internal/xbproto"
)

// Broadcaster is the reporting surface a Flavor needs: progress messages,
// state snapshots, and the lsp-reload cue. Identical in shape to
// task.Broadcaster plus the extra project-level notifications, so the same
// *broadcast.Broadcaster satisfies it without any adapter.
type Broadcaster interface {
	task.Broadcaster
	Info(msg string)
	Warn(msg string)
	ErrorMsg(msg string)
	ReloadLspServer()
	SetState(msg xbproto.Message)
}

// Flavor is the common interface every project build-system variant
// implements.
type Flavor interface {
	Root() xbproto.ProjectRoot
	Name() string
	Targets() map[string]xbproto.Target
	Watchignore() []string

	// EnsureSetup guarantees the flavor's setup invariants (build server
	// config, compile database) and reports whether it did any work.
	EnsureSetup(ctx context.Context, ev *fsevent.Event, b Broadcaster) (bool, error)

	ShouldGenerate(ev fsevent.Event) bool
	Generate(ctx context.Context, b Broadcaster) error
	UpdateCompileDatabase(ctx context.Context, b Broadcaster) error

	Build(ctx context.Context, settings xbproto.BuildSettings, device *xbproto.DeviceRef, b Broadcaster) ([]string, <-chan bool)
	GetRunner(ctx context.Context, settings xbproto.BuildSettings, device *xbproto.DeviceRef, b Broadcaster) (runner.Runner, []string, <-chan bool, error)
}
