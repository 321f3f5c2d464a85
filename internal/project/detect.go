package project

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/xbase-dev/xbased/internal/config"
	"github.com/xbase-dev/xbased/internal/xbaseerr"
	"github.com/xbase-dev/xbased/internal/xbproto"
)

// Detect inspects root and picks the Flavor that owns it, then runs its
// first EnsureSetup, which may generate and populate the compile database
// for a pristine tree.
func Detect(ctx context.Context, root xbproto.ProjectRoot, b Broadcaster) (Flavor, error) {
	clean := root.Clean()
	dir := string(clean)

	var flavor Flavor
	switch {
	case exists(filepath.Join(dir, "project.yml")):
		projectFile, err := findXcodeproj(dir)
		if err != nil {
			// A pristine XcodeGen tree has no .xcodeproj yet; Generate
			// will produce it from project.yml's own name.
			projectFile = filepath.Join(dir, filepath.Base(dir)+".xcodeproj")
		}
		flavor = NewXcodeGen(clean, projectFile)

	case exists(filepath.Join(dir, "Project.swift")) || exists(filepath.Join(dir, "Workspace.swift")):
		workspace, err := findWorkspace(dir)
		if err != nil {
			workspace = filepath.Join(dir, filepath.Base(dir)+".xcworkspace")
		}
		flavor = NewTuist(clean, workspace)

	case exists(filepath.Join(dir, "Package.swift")):
		flavor = NewSwiftPM(clean)

	default:
		projectFile, err := findXcodeproj(dir)
		if err != nil {
			return nil, xbaseerr.New(xbaseerr.DefinitionLocating,
				fmt.Sprintf("no recognizable project at %s (expected project.yml, Project.swift/Workspace.swift, Package.swift, or a .xcodeproj)", dir), err)
		}
		flavor = NewBarebone(clean, projectFile)
	}

	if _, err := flavor.EnsureSetup(ctx, nil, b); err != nil {
		return nil, fmt.Errorf("initial ensure_setup for %s: %w", dir, err)
	}

	cfg, err := config.Load(clean)
	if err != nil {
		return nil, fmt.Errorf("loading .xbaserc for %s: %w", dir, err)
	}
	if len(cfg.ExtraIgnore) > 0 {
		flavor = withConfig(flavor, cfg)
	}
	return flavor, nil
}

// configuredFlavor overlays a .xbaserc's extra ignore globs onto a Flavor's
// fixed Watchignore list; every other operation passes straight through.
type configuredFlavor struct {
	Flavor
	cfg config.Config
}

func withConfig(f Flavor, cfg config.Config) Flavor {
	return configuredFlavor{Flavor: f, cfg: cfg}
}

func (f configuredFlavor) Watchignore() []string {
	return f.cfg.Watchignore(f.Flavor.Watchignore())
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func findXcodeproj(dir string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.xcodeproj"))
	if err != nil || len(matches) == 0 {
		return "", fmt.Errorf("no .xcodeproj found in %s", dir)
	}
	return matches[0], nil
}

func findWorkspace(dir string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.xcworkspace"))
	if err != nil || len(matches) == 0 {
		return "", fmt.Errorf("no .xcworkspace found in %s", dir)
	}
	return matches[0], nil
}
