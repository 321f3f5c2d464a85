package project

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"

	"github.com/xbase-dev/xbased/internal/compiledb"
	"github.com/xbase-dev/xbased/internal/fsevent"
	"github.com/xbase-dev/xbased/internal/runner"
	"github.com/xbase-dev/xbased/internal/xbproto"
)

// Tuist is the flavor wrapping a Tuist manifest-driven workspace. Its
// compile database holds the generated workspace's schemes in declaration
// order, deduplicated by full argv; the manifest workspace is not scanned
// (see UpdateCompileDatabase).
type Tuist struct {
	root         string
	workspace    string // generated .xcworkspace path
	manifestWork string // manifest editor workspace; nothing in this package sets it

	mu      sync.Mutex
	targets map[string]xbproto.Target
	schemes []string
}

// NewTuist builds a Tuist flavor for root; workspace is the path
// `tuist generate` is expected to produce.
func NewTuist(root xbproto.ProjectRoot, workspace string) *Tuist {
	return &Tuist{root: string(root), workspace: workspace, targets: map[string]xbproto.Target{}}
}

func (t *Tuist) Root() xbproto.ProjectRoot { return xbproto.ProjectRoot(t.root) }
func (t *Tuist) Name() string              { return filepath.Base(t.root) }

func (t *Tuist) Targets() map[string]xbproto.Target {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]xbproto.Target, len(t.targets))
	for k, v := range t.targets {
		out[k] = v
	}
	return out
}

func (t *Tuist) Watchignore() []string {
	return append([]string{}, fsevent.DefaultIgnores...)
}

// ShouldGenerate reacts to any change to a well-known Tuist manifest file.
func (t *Tuist) ShouldGenerate(ev fsevent.Event) bool {
	switch ev.Kind {
	case fsevent.KindFileCreated, fsevent.KindFileRemoved, fsevent.KindFileRenamed,
		fsevent.KindFolderCreated, fsevent.KindFolderRemoved:
		return true
	case fsevent.KindFileUpdated:
		return isTuistManifest(ev.FileName)
	default:
		return false
	}
}

func isTuistManifest(fileName string) bool {
	switch fileName {
	case "Project.swift", "Workspace.swift", "Config.swift", "Package.swift":
		return true
	default:
		return false
	}
}

func (t *Tuist) EnsureSetup(ctx context.Context, ev *fsevent.Event, b Broadcaster) (bool, error) {
	did := false

	wrote, err := ensureBuildServerConfig(t.root, HelperPath)
	if err != nil {
		b.ErrorMsg(err.Error())
		return did, err
	}
	did = did || wrote

	_, workspaceMissing := statPath(t.workspace)
	needsGenerate := (ev != nil && t.ShouldGenerate(*ev)) || (ev == nil && os.IsNotExist(workspaceMissing))
	if needsGenerate {
		if err := t.Generate(ctx, b); err != nil {
			b.ErrorMsg(err.Error())
			return did, err
		}
		if err := t.UpdateCompileDatabase(ctx, b); err != nil {
			b.ErrorMsg(err.Error())
			return did, err
		}
		did = true
	}

	if _, err := statPath(filepath.Join(t.root, ".compile")); err != nil {
		if err := t.UpdateCompileDatabase(ctx, b); err != nil {
			b.ErrorMsg(err.Error())
			return did, err
		}
		did = true
	}

	return did, nil
}

func (t *Tuist) Generate(ctx context.Context, b Broadcaster) error {
	if out, err := exec.CommandContext(ctx, "tuist", "edit", "--permanent").CombinedOutput(); err != nil {
		return fmt.Errorf("tuist edit --permanent: %w\n%s", err, out)
	}
	out, err := exec.CommandContext(ctx, "tuist", "generate", "--no-open").CombinedOutput()
	if err != nil {
		return fmt.Errorf("tuist generate: %w\n%s", err, out)
	}

	targets, err := readTargets(ctx, t.workspace, "")
	if err != nil {
		return fmt.Errorf("reading targets after generate: %w", err)
	}
	schemes, err := readSchemes(ctx, t.workspace)
	if err != nil {
		return fmt.Errorf("reading schemes after generate: %w", err)
	}
	t.mu.Lock()
	t.targets = targets
	t.schemes = schemes
	t.mu.Unlock()
	return nil
}

// UpdateCompileDatabase runs one xcodebuild invocation per scheme of the
// generated workspace, in declaration order, and merges the results. A
// manifest-workspace pass would run first only when manifestWork is set;
// NewTuist and Generate leave it empty, so manifest sources are not in the
// database.
func (t *Tuist) UpdateCompileDatabase(ctx context.Context, b Broadcaster) error {
	var manifestRecords []compiledb.Record
	if t.manifestWork != "" {
		symroot := cacheSymroot(t.Name() + "-manifest")
		args := append([]string{"clean", "build"}, updateCompileDatabaseBaseArgs(symroot)...)
		args = append(args, "-workspace", t.manifestWork)
		recs, success := scanCompileRecords(ctx, args, b)
		if !success {
			b.ErrorMsg("update_compile_database failed on manifest workspace, .compile left untouched")
			return fmt.Errorf("xcodebuild clean build failed for tuist manifest workspace")
		}
		manifestRecords = recs
	}

	t.mu.Lock()
	schemes := append([]string{}, t.schemes...)
	t.mu.Unlock()

	var generatedRecords []compiledb.Record
	for _, scheme := range schemes {
		symroot := cacheSymroot(t.Name() + "-" + scheme)
		args := append([]string{"clean", "build"}, updateCompileDatabaseBaseArgs(symroot)...)
		args = append(args, "-workspace", t.workspace, "-scheme", scheme)
		recs, success := scanCompileRecords(ctx, args, b)
		if !success {
			b.ErrorMsg(fmt.Sprintf("update_compile_database failed on scheme %s, .compile left untouched", scheme))
			return fmt.Errorf("xcodebuild clean build failed for tuist scheme %s", scheme)
		}
		generatedRecords = append(generatedRecords, recs...)
	}

	if err := writeCompileDB(t.root, compiledb.Merge(manifestRecords, generatedRecords)); err != nil {
		return err
	}
	b.ReloadLspServer()
	return nil
}

func (t *Tuist) Build(ctx context.Context, settings xbproto.BuildSettings, device *xbproto.DeviceRef, b Broadcaster) ([]string, <-chan bool) {
	symroot := cacheSymroot(t.Name())
	args := renderXcodebuildArgs(t.workspace, "", settings.Scheme, settings, symroot)
	args = append(args, deviceSDKArgs(device, t.platformFor(settings))...)
	args = append(args, "build")

	done := runXcodebuild(ctx, args, b)
	return append([]string{"xcodebuild"}, args...), done
}

func (t *Tuist) GetRunner(ctx context.Context, settings xbproto.BuildSettings, device *xbproto.DeviceRef, b Broadcaster) (runner.Runner, []string, <-chan bool, error) {
	symroot := cacheSymroot(t.Name())
	args := renderXcodebuildArgs(t.workspace, "", settings.Scheme, settings, symroot)
	args = append(args, deviceSDKArgs(device, t.platformFor(settings))...)

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
	if t.platformFor(settings) == xbproto.PlatformMacOS {
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

func (t *Tuist) platformFor(settings xbproto.BuildSettings) xbproto.Platform {
	t.mu.Lock()
	defer t.mu.Unlock()
	if tg, ok := t.targets[settings.Target]; ok {
		return tg.Platform
	}
	return xbproto.PlatformIOS
}

func readSchemes(ctx context.Context, workspace string) ([]string, error) {
	var parsed xcodebuildListProject
	out, err := exec.CommandContext(ctx, "xcodebuild", "-list", "-json", "-workspace", workspace).Output()
	if err != nil {
		return nil, fmt.Errorf("xcodebuild -list: %w", err)
	}
	if err := json.Unmarshal(out, &parsed); err != nil {
		return nil, fmt.Errorf("parsing xcodebuild -list output: %w", err)
	}
	return parsed.Workspace.Schemes, nil
}
