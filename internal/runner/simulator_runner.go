package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"howett.net/plist"

	"github.com/xbase-dev/xbased/internal/task"
	"github.com/xbase-dev/xbased/internal/xbproto"
)

// SimulatorRunner drives one simulator device through xcrun simctl.
// OutputDir is the built .app bundle's directory; AppID is its bundle
// identifier, which callers read from its Info.plist with ResolveAppID.
type SimulatorRunner struct {
	Device    xbproto.DeviceRef
	AppID     string
	OutputDir string
}

// ResolveAppID reads CFBundleIdentifier out of OutputDir/Info.plist using
// howett.net/plist.
func ResolveAppID(outputDir string) (string, error) {
	path := filepath.Join(outputDir, "Info.plist")
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", path, err)
	}

	var parsed struct {
		CFBundleIdentifier string `plist:"CFBundleIdentifier"`
	}
	if _, err := plist.Unmarshal(data, &parsed); err != nil {
		return "", fmt.Errorf("parsing %s: %w", path, err)
	}
	if parsed.CFBundleIdentifier == "" {
		return "", fmt.Errorf("%s has no CFBundleIdentifier", path)
	}
	return parsed.CFBundleIdentifier, nil
}

type simProcess struct {
	cmd  *exec.Cmd
	done <-chan bool
}

func (p *simProcess) Stop() error {
	if p.cmd == nil || p.cmd.Process == nil {
		return nil
	}
	return p.cmd.Process.Kill()
}

func (p *simProcess) Wait() error {
	if p.done == nil {
		return nil
	}
	<-p.done
	return nil
}

// Run performs boot, install, launch in sequence.
func (r SimulatorRunner) Run(ctx context.Context, b Broadcaster) (Process, error) {
	if err := r.boot(ctx, b); err != nil {
		return nil, fmt.Errorf("booting simulator: %w", err)
	}
	if err := r.install(ctx, b); err != nil {
		return nil, fmt.Errorf("installing app: %w", err)
	}
	return r.launch(ctx, b)
}

func (r SimulatorRunner) boot(ctx context.Context, b Broadcaster) error {
	running, err := simulatorAppRunning(ctx)
	if err != nil {
		b.UpdateCurrentTask(err.Error(), xbproto.LevelWarn)
	}
	if !running {
		if err := exec.CommandContext(ctx, "open", "-a", "Simulator").Run(); err != nil {
			return fmt.Errorf("opening Simulator.app: %w", err)
		}
		// Give Simulator.app time to come up before requesting a device boot.
		time.Sleep(2 * time.Second)
	}

	udid := r.Device.UDID
	if udid == "" {
		udid = "booted"
	}
	out, err := exec.CommandContext(ctx, "xcrun", "simctl", "boot", udid).CombinedOutput()
	if err != nil && !strings.Contains(strings.ToLower(string(out)), "current state: booted") {
		return fmt.Errorf("simctl boot: %w\n%s", err, out)
	}
	return nil
}

func simulatorAppRunning(ctx context.Context) (bool, error) {
	out, err := exec.CommandContext(ctx, "pgrep", "-x", "Simulator").Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			// pgrep exits 1 when no process matches; that's not running, not an error.
			return false, nil
		}
		return false, err
	}
	return len(bytes.TrimSpace(out)) > 0, nil
}

func (r SimulatorRunner) install(ctx context.Context, b Broadcaster) error {
	udid := r.Device.UDID
	if udid == "" {
		udid = "booted"
	}
	out, err := exec.CommandContext(ctx, "xcrun", "simctl", "install", udid, r.OutputDir).CombinedOutput()
	if err != nil {
		b.UpdateCurrentTask(string(out), xbproto.LevelError)
		return fmt.Errorf("simctl install: %w", err)
	}
	return nil
}

func (r SimulatorRunner) launch(ctx context.Context, b Broadcaster) (Process, error) {
	udid := r.Device.UDID
	if udid == "" {
		udid = "booted"
	}
	reporter := task.New(b)
	cmd := exec.CommandContext(ctx, "xcrun", "simctl", "launch",
		"--terminate-running-process", "--console-pty", udid, r.AppID)
	done := reporter.Consume(ctx, cmd)

	return &simProcess{cmd: cmd, done: done}, nil
}
