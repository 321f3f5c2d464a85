package project

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"

	"github.com/xbase-dev/xbased/internal/xbproto"
)

// xcodebuildListProject is the subset of `xcodebuild -list -json` this
// daemon cares about: target names plus which SDK platform each belongs to
// is not reported by -list, so platform is inferred from target name
// suffixes the same way Xcode's own scheme templates name them (no
// .pbxproj parser appears anywhere in the retrieval pack, so -list -json
// plus stdlib encoding/json stands in for it).
type xcodebuildListProject struct {
	Project struct {
		Targets []string `json:"targets"`
		Schemes []string `json:"schemes"`
	} `json:"project"`
	Workspace struct {
		Schemes []string `json:"schemes"`
	} `json:"workspace"`
}

// readTargets runs xcodebuild -list -json against either a workspace or a
// project file and returns a name->Target map. Platform is best-effort,
// inferred from common suffix conventions (Watch/WatchApp/WatchKit
// Extension, TV/TVApp, macOS/Mac); an
// unrecognized target defaults to iOS, the common case among
// iOS/macOS/watchOS/tvOS Xcode projects.
func readTargets(ctx context.Context, workspace, projectFile string) (map[string]xbproto.Target, error) {
	var args []string
	if workspace != "" {
		args = []string{"-list", "-json", "-workspace", workspace}
	} else {
		args = []string{"-list", "-json", "-project", projectFile}
	}

	out, err := exec.CommandContext(ctx, "xcodebuild", args...).Output()
	if err != nil {
		return nil, fmt.Errorf("xcodebuild -list: %w", err)
	}

	var parsed xcodebuildListProject
	if err := json.Unmarshal(out, &parsed); err != nil {
		return nil, fmt.Errorf("parsing xcodebuild -list output: %w", err)
	}

	targets := make(map[string]xbproto.Target, len(parsed.Project.Targets))
	for _, name := range parsed.Project.Targets {
		targets[name] = xbproto.Target{Name: name, Platform: inferPlatform(name)}
	}
	return targets, nil
}

func inferPlatform(name string) xbproto.Platform {
	switch {
	case hasAnySuffix(name, "WatchApp", "WatchKit Extension", "Watch"):
		return xbproto.PlatformWatchOS
	case hasAnySuffix(name, "TV", "TVApp"):
		return xbproto.PlatformTVOS
	case hasAnySuffix(name, "macOS", "Mac"):
		return xbproto.PlatformMacOS
	default:
		return xbproto.PlatformIOS
	}
}

func hasAnySuffix(name string, suffixes ...string) bool {
	for _, s := range suffixes {
		if len(name) >= len(s) && name[len(name)-len(s):] == s {
			return true
		}
	}
	return false
}
