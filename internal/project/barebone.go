package project

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/xbase-dev/xbased/internal/fsevent"
	"github.com/xbase-dev/xbased/internal/runner"
	"github.com/xbase-dev/xbased/internal/xbproto"
)

// Barebone is the flavor for a plain .xcodeproj with no generator in front
// of it: nothing to regenerate, ever. Generate logs and returns an error.
type Barebone struct {
	root        xbproto.ProjectRoot
	projectFile string

	mu      sync.Mutex
	targets map[string]xbproto.Target
}

// NewBarebone builds a Barebone flavor for the .xcodeproj at projectFile.
func NewBarebone(root xbproto.ProjectRoot, projectFile string) *Barebone {
	return &Barebone{root: root, projectFile: projectFile, targets: map[string]xbproto.Target{}}
}

func (x *Barebone) Root() xbproto.ProjectRoot { return x.root }
func (x *Barebone) Name() string              { return filepath.Base(string(x.root)) }

func (x *Barebone) Targets() map[string]xbproto.Target {
	x.mu.Lock()
	defer x.mu.Unlock()
	out := make(map[string]xbproto.Target, len(x.targets))
	for k, v := range x.targets {
		out[k] = v
	}
	return out
}

func (x *Barebone) Watchignore() []string {
	return append([]string{}, fsevent.DefaultIgnores...)
}

func (x *Barebone) ShouldGenerate(ev fsevent.Event) bool { return false }

func (x *Barebone) EnsureSetup(ctx context.Context, ev *fsevent.Event, b Broadcaster) (bool, error) {
	did, err := ensureBuildServerConfig(string(x.root), HelperPath)
	if err != nil {
		b.ErrorMsg(err.Error())
		return did, err
	}

	if x.hasCompileDB() {
		if len(x.Targets()) == 0 {
			targets, tErr := readTargets(ctx, "", x.projectFile)
			if tErr == nil {
				x.mu.Lock()
				x.targets = targets
				x.mu.Unlock()
			}
		}
		return did, nil
	}

	if err := x.UpdateCompileDatabase(ctx, b); err != nil {
		b.ErrorMsg(err.Error())
		return did, err
	}
	return true, nil
}

func (x *Barebone) hasCompileDB() bool {
	_, err := statPath(filepath.Join(string(x.root), ".compile"))
	return err == nil
}

func (x *Barebone) Generate(ctx context.Context, b Broadcaster) error {
	b.ErrorMsg("barebone projects have no generator; edit the .xcodeproj directly")
	return fmt.Errorf("barebone flavor cannot generate")
}

func (x *Barebone) UpdateCompileDatabase(ctx context.Context, b Broadcaster) error {
	symroot := cacheSymroot(x.Name())
	args := append([]string{"clean", "build"}, updateCompileDatabaseBaseArgs(symroot)...)
	args = append(args, "-project", x.projectFile)

	records, success := scanCompileRecords(ctx, args, b)
	if !success {
		b.ErrorMsg("update_compile_database failed, .compile left untouched")
		return fmt.Errorf("xcodebuild clean build failed while updating compile database")
	}
	if err := writeCompileDB(string(x.root), records); err != nil {
		return err
	}
	b.ReloadLspServer()
	return nil
}

func (x *Barebone) Build(ctx context.Context, settings xbproto.BuildSettings, device *xbproto.DeviceRef, b Broadcaster) ([]string, <-chan bool) {
	symroot := cacheSymroot(x.Name())
	args := renderXcodebuildArgs("", x.projectFile, settings.Scheme, settings, symroot)
	args = append(args, deviceSDKArgs(device, x.platformFor(settings))...)
	args = append(args, "build")

	done := runXcodebuild(ctx, args, b)
	return append([]string{"xcodebuild"}, args...), done
}

func (x *Barebone) GetRunner(ctx context.Context, settings xbproto.BuildSettings, device *xbproto.DeviceRef, b Broadcaster) (runner.Runner, []string, <-chan bool, error) {
	symroot := cacheSymroot(x.Name())
	args := renderXcodebuildArgs("", x.projectFile, settings.Scheme, settings, symroot)
	args = append(args, deviceSDKArgs(device, x.platformFor(settings))...)

	out, err := runShowBuildSettings(ctx, args)
	if err != nil {
		return nil, nil, nil, err
	}
	outputDir, err := parseBuiltProductsPath(out)
	if err != nil {
		return nil, nil, nil, err
	}

	buildArgs := append(append([]string{}, args...), "build")
	done := runXcodebuild(ctx, buildArgs, b)

	var r runner.Runner
	if x.platformFor(settings) == xbproto.PlatformMacOS {
		r = runner.BinRunner{Path: outputDir}
	} else {
		appID, err := runner.ResolveAppID(outputDir)
		if err != nil {
			return nil, nil, nil, err
		}
		dev := xbproto.DeviceRef{}
		if device != nil {
			dev = *device
		}
		r = runner.SimulatorRunner{Device: dev, AppID: appID, OutputDir: outputDir}
	}
	return r, append([]string{"xcodebuild"}, buildArgs...), done, nil
}

func (x *Barebone) platformFor(settings xbproto.BuildSettings) xbproto.Platform {
	x.mu.Lock()
	defer x.mu.Unlock()
	if t, ok := x.targets[settings.Target]; ok {
		return t.Platform
	}
	return xbproto.PlatformIOS
}
