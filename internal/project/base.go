package project

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/xbase-dev/xbased/internal/compiledb"
	"github.com/xbase-dev/xbased/internal/task"
	"github.com/xbase-dev/xbased/internal/xbproto"
)

// buildServerVersion is the only version EnsureSetup writes; an existing
// buildServer.json with any other version is rewritten.
const buildServerVersion = "0.3"

type buildServerConfig struct {
	Name        string   `json:"name"`
	Argv        []string `json:"argv"`
	Version     string   `json:"version"`
	BSPVersion  string   `json:"bspVersion"`
	Languages   []string `json:"languages"`
}

func defaultBuildServerConfig(helperPath string) buildServerConfig {
	return buildServerConfig{
		Name:       "XBase",
		Argv:       []string{helperPath},
		Version:    buildServerVersion,
		BSPVersion: "0.2",
		Languages:  []string{"swift", "objective-c", "objective-cpp", "c", "cpp"},
	}
}

// ensureBuildServerConfig writes buildServer.json if absent, or rewrites it
// if the version field doesn't match. Returns true if it wrote anything.
func ensureBuildServerConfig(root, helperPath string) (bool, error) {
	path := filepath.Join(root, "buildServer.json")
	data, err := os.ReadFile(path)
	if err == nil {
		var existing buildServerConfig
		if jsonErr := json.Unmarshal(data, &existing); jsonErr == nil && existing.Version == buildServerVersion {
			return false, nil
		}
	} else if !os.IsNotExist(err) {
		return false, fmt.Errorf("reading buildServer.json: %w", err)
	}

	cfg := defaultBuildServerConfig(helperPath)
	out, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return false, fmt.Errorf("marshalling buildServer.json: %w", err)
	}
	out = append(out, '\n')
	if err := os.WriteFile(path, out, 0o644); err != nil {
		return false, fmt.Errorf("writing buildServer.json: %w", err)
	}
	return true, nil
}

// cacheSymroot returns a fresh per-invocation SYMROOT under the system
// temp directory, keeping scratch build products out of the project tree.
func cacheSymroot(name string) string {
	return filepath.Join(os.TempDir(), "xbase", name, fmt.Sprintf("symroot-%d", time.Now().UnixNano()))
}

// renderXcodebuildArgs builds the common xcodebuild argument tail shared by
// the Build and GetRunner (-showBuildSettings, then build) invocations;
// UpdateCompileDatabase uses updateCompileDatabaseBaseArgs instead:
// -workspace/-scheme or -project/-target, plus SYMROOT and
// -allowProvisioningUpdates.
func renderXcodebuildArgs(workspace, project, scheme string, settings xbproto.BuildSettings, symroot string) []string {
	var args []string
	if workspace != "" {
		args = append(args, "-workspace", workspace)
		if scheme != "" {
			args = append(args, "-scheme", scheme)
		}
	} else {
		args = append(args, "-project", project)
		if scheme != "" {
			args = append(args, "-scheme", scheme)
		} else if settings.Target != "" {
			args = append(args, "-target", settings.Target)
		}
	}
	args = append(args,
		"-configuration", settings.Configuration.String(),
		"SYMROOT="+symroot,
		"-allowProvisioningUpdates",
	)
	return args
}

// deviceSDKArgs appends the destination arguments xcodebuild needs to pick
// the right SDK for a device.
func deviceSDKArgs(device *xbproto.DeviceRef, platform xbproto.Platform) []string {
	if device == nil {
		switch platform {
		case xbproto.PlatformMacOS:
			return []string{"-destination", "platform=macOS"}
		default:
			return []string{"-sdk", "iphonesimulator", "-destination", "generic/platform=iOS Simulator"}
		}
	}
	dest := "platform=iOS Simulator"
	if device.UDID != "" {
		dest = fmt.Sprintf("id=%s", device.UDID)
	} else if device.Name != "" {
		dest = fmt.Sprintf("platform=iOS Simulator,name=%s", device.Name)
	}
	return []string{"-sdk", "iphonesimulator", "-destination", dest}
}

// runXcodebuild spawns xcodebuild with the given argv under a Task
// Reporter, returning the result channel.
func runXcodebuild(ctx context.Context, args []string, b Broadcaster) <-chan bool {
	reporter := task.New(b)
	cmd := exec.CommandContext(ctx, "xcodebuild", args...)
	return reporter.Consume(ctx, cmd)
}

// scanCompileRecords runs argv under xcodebuild, accumulating its combined
// output into a compiledb.Scanner, and separately reports success/failure
// to the broadcaster as a Task. Output capture and Task reporting are kept
// as two independent passes over the same CombinedOutput buffer rather than
// a live tee: simpler to reason about than interleaving a compiledb feed
// with line classification on a single stream.
func scanCompileRecords(ctx context.Context, args []string, b Broadcaster) ([]compiledb.Record, bool) {
	cmd := exec.CommandContext(ctx, "xcodebuild", args...)
	out, err := cmd.CombinedOutput()

	scanner := compiledb.NewScanner()
	scanner.Feed(bufio.NewScanner(bytes.NewReader(out)))

	for _, line := range bytes.Split(bytes.TrimRight(out, "\n"), []byte("\n")) {
		if len(line) == 0 {
			continue
		}
		b.UpdateCurrentTask(string(line), classifyBuildLine(line))
	}

	success := err == nil
	status := xbproto.TaskSucceeded
	if !success {
		status = xbproto.TaskFailed
	}
	b.FinishCurrentTask(status)
	return scanner.Records(), success
}

// statPath is os.Stat under a name that reads naturally at call sites
// checking for .compile's presence across flavors.
func statPath(path string) (os.FileInfo, error) { return os.Stat(path) }

// writeCompileDB merges and atomically writes records, shared by every
// flavor's UpdateCompileDatabase.
func writeCompileDB(root string, records []compiledb.Record) error {
	if err := compiledb.Write(root, compiledb.Merge(records)); err != nil {
		return fmt.Errorf("writing compile database: %w", err)
	}
	return nil
}

// runShowBuildSettings appends -showBuildSettings to args and returns
// xcodebuild's stdout.
func runShowBuildSettings(ctx context.Context, args []string) ([]byte, error) {
	full := append(append([]string{}, args...), "-showBuildSettings")
	out, err := exec.CommandContext(ctx, "xcodebuild", full...).Output()
	if err != nil {
		return nil, fmt.Errorf("xcodebuild -showBuildSettings: %w", err)
	}
	return out, nil
}

// parseBuiltProductsPath extracts TARGET_BUILD_DIR and WRAPPER_NAME (or
// EXECUTABLE_PATH for command-line tools) out of xcodebuild
// -showBuildSettings output and joins them into the built product's path.
func parseBuiltProductsPath(out []byte) (string, error) {
	keys := map[string]string{
		"TARGET_BUILD_DIR": "",
		"WRAPPER_NAME":     "",
		"EXECUTABLE_PATH":  "",
	}
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		for k := range keys {
			prefix := k + " = "
			if len(line) > len(prefix) && string(line[:len(prefix)]) == prefix {
				keys[k] = string(bytes.TrimSpace(line[len(prefix):]))
			}
		}
	}
	if keys["TARGET_BUILD_DIR"] == "" {
		return "", fmt.Errorf("TARGET_BUILD_DIR not found in build settings")
	}
	if keys["WRAPPER_NAME"] != "" {
		return filepath.Join(keys["TARGET_BUILD_DIR"], keys["WRAPPER_NAME"]), nil
	}
	if keys["EXECUTABLE_PATH"] != "" {
		return filepath.Join(keys["TARGET_BUILD_DIR"], keys["EXECUTABLE_PATH"]), nil
	}
	return "", fmt.Errorf("neither WRAPPER_NAME nor EXECUTABLE_PATH found in build settings")
}

func classifyBuildLine(line []byte) xbproto.Level {
	lower := bytes.ToLower(line)
	switch {
	case bytes.Contains(lower, []byte("error")):
		return xbproto.LevelError
	case bytes.Contains(lower, []byte("warn")):
		return xbproto.LevelWarn
	default:
		return xbproto.LevelInfo
	}
}
