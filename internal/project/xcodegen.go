package project

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"

	"github.com/xbase-dev/xbased/internal/fsevent"
	"github.com/xbase-dev/xbased/internal/runner"
	"github.com/xbase-dev/xbased/internal/xbproto"
)

// HelperPath is the path to the sourcekit-helper companion binary written
// into every generated buildServer.json. It is a package variable rather
// than a constant so cmd/xbased can set it once from an install-relative
// path at startup.
var HelperPath = "/usr/local/bin/xbase-sourcekit-helper"

// XcodeGen is the Flavor wrapping a project.yml + xcodegen workflow.
type XcodeGen struct {
	root        xbproto.ProjectRoot
	projectFile string // <root>/<Name>.xcodeproj

	mu      sync.Mutex
	targets map[string]xbproto.Target
}

// NewXcodeGen builds an XcodeGen flavor for root, where projectFile is the
// .xcodeproj generated from project.yml (detect.go picks an existing
// *.xcodeproj in root, or else guesses <root base name>.xcodeproj).
func NewXcodeGen(root xbproto.ProjectRoot, projectFile string) *XcodeGen {
	return &XcodeGen{root: root, projectFile: projectFile, targets: map[string]xbproto.Target{}}
}

func (x *XcodeGen) Root() xbproto.ProjectRoot { return x.root }
func (x *XcodeGen) Name() string              { return filepath.Base(string(x.root)) }

func (x *XcodeGen) Targets() map[string]xbproto.Target {
	x.mu.Lock()
	defer x.mu.Unlock()
	out := make(map[string]xbproto.Target, len(x.targets))
	for k, v := range x.targets {
		out[k] = v
	}
	return out
}

func (x *XcodeGen) Watchignore() []string {
	return append([]string{}, fsevent.DefaultIgnores...)
}

func (x *XcodeGen) ShouldGenerate(ev fsevent.Event) bool {
	switch ev.Kind {
	case fsevent.KindFileCreated, fsevent.KindFileRemoved, fsevent.KindFileRenamed,
		fsevent.KindFolderCreated, fsevent.KindFolderRemoved:
		return true
	case fsevent.KindFileUpdated:
		return ev.FileName == "project.yml"
	default:
		return false
	}
}

func (x *XcodeGen) EnsureSetup(ctx context.Context, ev *fsevent.Event, b Broadcaster) (bool, error) {
	did := false

	wrote, err := ensureBuildServerConfig(string(x.root), HelperPath)
	if err != nil {
		b.ErrorMsg(err.Error())
		return did, err
	}
	did = did || wrote

	_, projectMissing := statPath(x.projectFile)
	needsGenerate := (ev != nil && x.ShouldGenerate(*ev)) || (ev == nil && os.IsNotExist(projectMissing))
	if needsGenerate {
		if err := x.Generate(ctx, b); err != nil {
			b.ErrorMsg(err.Error())
			return did, err
		}
		if err := x.UpdateCompileDatabase(ctx, b); err != nil {
			b.ErrorMsg(err.Error())
			return did, err
		}
		did = true
	}

	if _, err := statPath(filepath.Join(string(x.root), ".compile")); os.IsNotExist(err) {
		if err := x.UpdateCompileDatabase(ctx, b); err != nil {
			b.ErrorMsg(err.Error())
			return did, err
		}
		did = true
	}

	return did, nil
}

func (x *XcodeGen) Generate(ctx context.Context, b Broadcaster) error {
	out, err := exec.CommandContext(ctx, "xcodegen", "generate", "-c").CombinedOutput()
	if err != nil {
		return fmt.Errorf("xcodegen generate: %w\n%s", err, out)
	}

	targets, err := readTargets(ctx, "", x.projectFile)
	if err != nil {
		return fmt.Errorf("reading targets after generate: %w", err)
	}
	x.mu.Lock()
	x.targets = targets
	x.mu.Unlock()
	return nil
}

func (x *XcodeGen) UpdateCompileDatabase(ctx context.Context, b Broadcaster) error {
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

// updateCompileDatabaseBaseArgs renders the fixed argument set every
// flavor uses to scan a compile database regardless of flavor-specific
// workspace/project selection.
func updateCompileDatabaseBaseArgs(symroot string) []string {
	return []string{
		"-configuration", "Debug",
		"CODE_SIGN_IDENTITY=",
		"CODE_SIGNING_REQUIRED=NO",
		"CODE_SIGN_ENTITLEMENTS=",
		"CODE_SIGNING_ALLOWED=NO",
		"SYMROOT=" + symroot,
	}
}

func (x *XcodeGen) Build(ctx context.Context, settings xbproto.BuildSettings, device *xbproto.DeviceRef, b Broadcaster) ([]string, <-chan bool) {
	symroot := cacheSymroot(x.Name())
	args := renderXcodebuildArgs("", x.projectFile, settings.Scheme, settings, symroot)
	args = append(args, deviceSDKArgs(device, x.platformFor(settings))...)
	args = append(args, "build")

	done := runXcodebuild(ctx, args, b)
	return append([]string{"xcodebuild"}, args...), done
}

func (x *XcodeGen) GetRunner(ctx context.Context, settings xbproto.BuildSettings, device *xbproto.DeviceRef, b Broadcaster) (runner.Runner, []string, <-chan bool, error) {
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

func (x *XcodeGen) platformFor(settings xbproto.BuildSettings) xbproto.Platform {
	x.mu.Lock()
	defer x.mu.Unlock()
	if t, ok := x.targets[settings.Target]; ok {
		return t.Platform
	}
	return xbproto.PlatformIOS
}
