package fsevent

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWatcher_EmitsEventOnFileWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "Main.swift")
	if err := os.WriteFile(path, []byte("// v1\n"), 0o644); err != nil {
		t.Fatalf("seed file: %v", err)
	}

	w, err := NewWatcher(dir, nil)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	time.Sleep(50 * time.Millisecond)
	if err := os.WriteFile(path, []byte("// v2\n"), 0o644); err != nil {
		t.Fatalf("rewrite file: %v", err)
	}

	select {
	case ev, ok := <-w.Events():
		if !ok {
			t.Fatalf("events channel closed before an event arrived")
		}
		if ev.FileName != "Main.swift" {
			t.Fatalf("expected event for Main.swift, got %+v", ev)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for a write event")
	}
}

func TestWatcher_IgnoresMatchedPaths(t *testing.T) {
	dir := t.TempDir()
	if err := os.Mkdir(filepath.Join(dir, ".git"), 0o755); err != nil {
		t.Fatalf("mkdir .git: %v", err)
	}

	w, err := NewWatcher(dir, DefaultIgnores)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	time.Sleep(50 * time.Millisecond)
	if err := os.WriteFile(filepath.Join(dir, ".git", "HEAD"), []byte("ref: refs/heads/main\n"), 0o644); err != nil {
		t.Fatalf("write under .git: %v", err)
	}

	select {
	case ev, ok := <-w.Events():
		if ok {
			t.Fatalf("expected no event for an ignored path, got %+v", ev)
		}
	case <-time.After(300 * time.Millisecond):
		// no event arrived, as expected
	}
}
