// Package runner executes the final "install and launch" step of a build:
// either spawning a plain binary or driving an iOS Simulator through
// xcrun simctl.
package runner

import (
	"context"

	"github.com/xbase-dev/xbased/internal/task"
)

// Broadcaster is the reporting surface a Runner needs; identical in shape
// to task.Broadcaster so the same *broadcast.Broadcaster satisfies both.
type Broadcaster = task.Broadcaster

// Runner is the common surface both variants expose to the Watchables
// registry: start the target and hand back the running process so a later
// Run can stop it.
type Runner interface {
	Run(ctx context.Context, b Broadcaster) (Process, error)
}

// Process is a handle to whatever Run started; Stop is used by
// RunWatchable.Discard to tear down the previous run before starting a
// new one.
type Process interface {
	Stop() error
	Wait() error
}
