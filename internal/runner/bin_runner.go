package runner

import (
	"context"
	"fmt"
	"os"
	"os/exec"

	"github.com/xbase-dev/xbased/internal/task"
)

// BinRunner wraps a path to a plain executable, run with no arguments and
// streamed through a Task Reporter. Used by the SwiftPM flavor, which builds
// a single binary rather than an installable .app, and by the other flavors
// for macOS targets.
type BinRunner struct {
	Path string
}

type binProcess struct {
	cmd  *exec.Cmd
	done <-chan bool
}

func (p *binProcess) Stop() error {
	if p.cmd.Process == nil {
		return nil
	}
	return p.cmd.Process.Kill()
}

func (p *binProcess) Wait() error {
	<-p.done
	return nil
}

// Run spawns Path, reporting through a Task Reporter. It fails immediately
// if the path does not exist.
func (r BinRunner) Run(ctx context.Context, b Broadcaster) (Process, error) {
	if _, err := os.Stat(r.Path); err != nil {
		return nil, fmt.Errorf("bin runner target does not exist: %w", err)
	}

	reporter := task.New(b)
	cmd := exec.CommandContext(ctx, r.Path)
	done := reporter.Consume(ctx, cmd)

	return &binProcess{cmd: cmd, done: done}, nil
}
