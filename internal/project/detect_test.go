package project

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/xbase-dev/xbased/internal/xbaseerr"
	"github.com/xbase-dev/xbased/internal/xbproto"
)

// recordingBroadcaster is a no-op Broadcaster sufficient for Detect, which
// only needs EnsureSetup's initial nil-event pass to have somewhere to
// report into.
type recordingBroadcaster struct{}

func (recordingBroadcaster) UpdateCurrentTask(content string, level xbproto.Level) {}
func (recordingBroadcaster) FinishCurrentTask(status xbproto.TaskStatus)           {}
func (recordingBroadcaster) Info(msg string)                                       {}
func (recordingBroadcaster) Warn(msg string)                                       {}
func (recordingBroadcaster) ErrorMsg(msg string)                                   {}
func (recordingBroadcaster) ReloadLspServer()                                      {}
func (recordingBroadcaster) SetState(msg xbproto.Message)                          {}

func TestDetect_SwiftPM(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "Package.swift"), []byte("// swift-tools-version:5.9\n"), 0o644); err != nil {
		t.Fatalf("seed Package.swift: %v", err)
	}

	flavor, err := Detect(context.Background(), xbproto.ProjectRoot(dir), recordingBroadcaster{})
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if _, ok := flavor.(*SwiftPM); !ok {
		t.Fatalf("expected *SwiftPM, got %T", flavor)
	}
}

func TestDetect_ExtraIgnoreFromXbaserc(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "Package.swift"), []byte("// swift-tools-version:5.9\n"), 0o644); err != nil {
		t.Fatalf("seed Package.swift: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, ".xbaserc"), []byte("ignore:\n  - \"**/Generated/**\"\n"), 0o644); err != nil {
		t.Fatalf("seed .xbaserc: %v", err)
	}

	flavor, err := Detect(context.Background(), xbproto.ProjectRoot(dir), recordingBroadcaster{})
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	found := false
	for _, g := range flavor.Watchignore() {
		if g == "**/Generated/**" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected .xbaserc's extra ignore glob in Watchignore(), got %v", flavor.Watchignore())
	}
}

func TestDetect_NoRecognizableProjectErrors(t *testing.T) {
	dir := t.TempDir()
	_, err := Detect(context.Background(), xbproto.ProjectRoot(dir), recordingBroadcaster{})
	if err == nil {
		t.Fatalf("expected an error for a directory with no recognizable project")
	}
	if xbaseerr.KindOf(err) != xbaseerr.DefinitionLocating {
		t.Fatalf("expected DefinitionLocating, got %s", xbaseerr.KindOf(err))
	}
}
