package project

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/xbase-dev/xbased/internal/fsevent"
	"github.com/xbase-dev/xbased/internal/runner"
	"github.com/xbase-dev/xbased/internal/task"
	"github.com/xbase-dev/xbased/internal/xbproto"
)

// SwiftPM is the flavor for a bare Package.swift tree with no Xcode
// project at all; sourcekit-lsp drives SwiftPM natively so this flavor
// never touches .compile.
type SwiftPM struct {
	root string

	mu       sync.Mutex
	products map[string]xbproto.Target // executable product name -> Target
}

// NewSwiftPM builds a SwiftPM flavor for the package rooted at root.
func NewSwiftPM(root xbproto.ProjectRoot) *SwiftPM {
	return &SwiftPM{root: string(root), products: map[string]xbproto.Target{}}
}

func (s *SwiftPM) Root() xbproto.ProjectRoot { return xbproto.ProjectRoot(s.root) }
func (s *SwiftPM) Name() string              { return filepath.Base(s.root) }

func (s *SwiftPM) Targets() map[string]xbproto.Target {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]xbproto.Target, len(s.products))
	for k, v := range s.products {
		out[k] = v
	}
	return out
}

func (s *SwiftPM) Watchignore() []string {
	return append([]string{}, fsevent.DefaultIgnores...)
}

func (s *SwiftPM) ShouldGenerate(ev fsevent.Event) bool {
	switch ev.Kind {
	case fsevent.KindFileCreated, fsevent.KindFileRemoved, fsevent.KindFileRenamed:
		return true
	case fsevent.KindFileUpdated:
		return ev.FileName == "Package.swift"
	default:
		return false
	}
}

// EnsureSetup skips buildServer.json entirely: sourcekit-lsp drives SwiftPM
// packages through `swift build` directly, no BSP proxy is needed.
func (s *SwiftPM) EnsureSetup(ctx context.Context, ev *fsevent.Event, b Broadcaster) (bool, error) {
	if ev != nil && s.ShouldGenerate(*ev) {
		if err := s.Generate(ctx, b); err != nil {
			b.ErrorMsg(err.Error())
			return false, err
		}
		return true, nil
	}
	return false, nil
}

// Generate materializes .build/ by running `swift build`, then re-reads the
// product list.
func (s *SwiftPM) Generate(ctx context.Context, b Broadcaster) error {
	out, err := exec.CommandContext(ctx, "swift", "build", "--package-path", s.root).CombinedOutput()
	if err != nil {
		return fmt.Errorf("swift build: %w\n%s", err, out)
	}

	products, err := describeProducts(ctx, s.root)
	if err != nil {
		return fmt.Errorf("describing package products: %w", err)
	}
	s.mu.Lock()
	s.products = products
	s.mu.Unlock()
	return nil
}

// UpdateCompileDatabase is a no-op for SwiftPM.
func (s *SwiftPM) UpdateCompileDatabase(ctx context.Context, b Broadcaster) error { return nil }

func (s *SwiftPM) Build(ctx context.Context, settings xbproto.BuildSettings, device *xbproto.DeviceRef, b Broadcaster) ([]string, <-chan bool) {
	args := []string{"build", "--package-path", s.root, "-c", swiftBuildConfig(settings)}
	if settings.Target != "" {
		args = append(args, "--product", settings.Target)
	}

	reporter := task.New(b)
	cmd := exec.CommandContext(ctx, "swift", args...)
	done := reporter.Consume(ctx, cmd)
	return append([]string{"swift"}, args...), done
}

func (s *SwiftPM) GetRunner(ctx context.Context, settings xbproto.BuildSettings, device *xbproto.DeviceRef, b Broadcaster) (runner.Runner, []string, <-chan bool, error) {
	args, done := s.Build(ctx, settings, device, b)

	binPathArgs := []string{"build", "--package-path", s.root, "-c", swiftBuildConfig(settings), "--show-bin-path"}
	binPath, err := exec.CommandContext(ctx, "swift", binPathArgs...).Output()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("swift build --show-bin-path: %w", err)
	}

	productName := settings.Target
	if productName == "" {
		productName = filepath.Base(s.root)
	}
	r := runner.BinRunner{Path: filepath.Join(trimTrailingNewline(binPath), productName)}
	return r, args, done, nil
}

func swiftBuildConfig(settings xbproto.BuildSettings) string {
	if settings.Configuration.String() == xbproto.ConfigRelease {
		return "release"
	}
	return "debug"
}

func trimTrailingNewline(b []byte) string {
	s := string(b)
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}

// describeProducts runs `swift package describe --type json` and extracts
// executable product names, defaulting their platform to the host's own
// (SwiftPM command-line products only run on macOS).
func describeProducts(ctx context.Context, root string) (map[string]xbproto.Target, error) {
	out, err := exec.CommandContext(ctx, "swift", "package", "--package-path", root, "describe", "--type", "json").Output()
	if err != nil {
		return nil, fmt.Errorf("swift package describe: %w", err)
	}

	names, err := parseExecutableProductNames(out)
	if err != nil {
		return nil, err
	}
	products := make(map[string]xbproto.Target, len(names))
	for _, n := range names {
		products[n] = xbproto.Target{Name: n, Platform: hostPlatform()}
	}
	return products, nil
}

// packageDescription is the subset of `swift package describe --type json`
// this daemon needs. Product "type" is `{"executable": null}` for
// executables and `{"library": [...]}` for libraries, so the type is
// distinguished by which key is present, not by its (often null) value.
type packageDescription struct {
	Products []struct {
		Name string                     `json:"name"`
		Type map[string]json.RawMessage `json:"type"`
	} `json:"products"`
}

func parseExecutableProductNames(out []byte) ([]string, error) {
	var desc packageDescription
	if err := json.Unmarshal(out, &desc); err != nil {
		return nil, fmt.Errorf("parsing swift package describe output: %w", err)
	}
	var names []string
	for _, p := range desc.Products {
		if _, ok := p.Type["executable"]; ok && p.Name != "" {
			names = append(names, p.Name)
		}
	}
	return names, nil
}

func hostPlatform() xbproto.Platform {
	if runtime.GOOS == "darwin" {
		return xbproto.PlatformMacOS
	}
	return xbproto.PlatformUnknown
}
