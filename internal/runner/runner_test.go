package runner

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"howett.net/plist"

	"github.com/xbase-dev/xbased/internal/xbproto"
)

type fakeBroadcaster struct {
	mu       sync.Mutex
	updates  []string
	finished []xbproto.TaskStatus
}

func (f *fakeBroadcaster) UpdateCurrentTask(content string, level xbproto.Level) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, content)
}

func (f *fakeBroadcaster) FinishCurrentTask(status xbproto.TaskStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finished = append(f.finished, status)
}

func TestBinRunner_MissingPathFails(t *testing.T) {
	r := BinRunner{Path: "/nonexistent/path/to/bin"}
	_, err := r.Run(context.Background(), &fakeBroadcaster{})
	if err == nil {
		t.Fatalf("expected an error for a missing binary path")
	}
}

func TestBinRunner_RunsAndReportsSuccess(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "app")
	if err := os.WriteFile(script, []byte("#!/bin/sh\necho started\n"), 0o755); err != nil {
		t.Fatalf("writing script: %v", err)
	}

	r := BinRunner{Path: script}
	b := &fakeBroadcaster{}
	proc, err := r.Run(context.Background(), b)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	done := make(chan struct{})
	go func() {
		_ = proc.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for process")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.finished) != 1 || b.finished[0] != xbproto.TaskSucceeded {
		t.Fatalf("expected a single Succeeded finish, got %+v", b.finished)
	}
}

func TestResolveAppID_ReadsBundleIdentifier(t *testing.T) {
	dir := t.TempDir()
	plistData, err := plist.Marshal(map[string]any{
		"CFBundleIdentifier": "dev.xbase.ExampleApp",
	}, plist.XMLFormat)
	if err != nil {
		t.Fatalf("marshalling plist: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "Info.plist"), plistData, 0o644); err != nil {
		t.Fatalf("writing Info.plist: %v", err)
	}

	id, err := ResolveAppID(dir)
	if err != nil {
		t.Fatalf("ResolveAppID: %v", err)
	}
	if id != "dev.xbase.ExampleApp" {
		t.Fatalf("expected dev.xbase.ExampleApp, got %q", id)
	}
}

func TestResolveAppID_MissingIdentifierFails(t *testing.T) {
	dir := t.TempDir()
	plistData, _ := plist.Marshal(map[string]any{"CFBundleName": "Example"}, plist.XMLFormat)
	if err := os.WriteFile(filepath.Join(dir, "Info.plist"), plistData, 0o644); err != nil {
		t.Fatalf("writing Info.plist: %v", err)
	}

	if _, err := ResolveAppID(dir); err == nil {
		t.Fatalf("expected an error when CFBundleIdentifier is absent")
	}
}

