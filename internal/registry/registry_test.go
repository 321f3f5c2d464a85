package registry

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/xbase-dev/xbased/internal/broadcast"
	"github.com/xbase-dev/xbased/internal/xbproto"
)

func withTempBroadcastRoot(t *testing.T) {
	t.Helper()
	old := broadcast.Root
	broadcast.Root = t.TempDir()
	t.Cleanup(func() { broadcast.Root = old })
}

// swiftPMProject creates a bare Package.swift tree; SwiftPM's EnsureSetup is
// a no-op on the initial nil-event detect pass, so Register never shells out.
func swiftPMProject(t *testing.T) xbproto.ProjectRoot {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "Package.swift"), []byte("// swift-tools-version:5.9\n"), 0o644); err != nil {
		t.Fatalf("seed Package.swift: %v", err)
	}
	return xbproto.ProjectRoot(dir)
}

func TestRegistry_RegisterReturnsBroadcastAddress(t *testing.T) {
	withTempBroadcastRoot(t)
	reg := New(nil)
	root := swiftPMProject(t)

	address, err := reg.Register(context.Background(), 1, root)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if address == "" {
		t.Fatalf("expected a non-empty broadcast address")
	}
	t.Cleanup(func() { reg.Drop(1, []xbproto.ProjectRoot{root}) })
}

func TestRegistry_DoubleRegisterSameClientErrors(t *testing.T) {
	withTempBroadcastRoot(t)
	reg := New(nil)
	root := swiftPMProject(t)

	if _, err := reg.Register(context.Background(), 1, root); err != nil {
		t.Fatalf("first Register: %v", err)
	}
	if _, err := reg.Register(context.Background(), 1, root); err == nil {
		t.Fatalf("expected double-register to fail")
	}
	t.Cleanup(func() { reg.Drop(1, []xbproto.ProjectRoot{root}) })
}

func TestRegistry_SecondClientReusesSameRuntime(t *testing.T) {
	withTempBroadcastRoot(t)
	reg := New(nil)
	root := swiftPMProject(t)

	addr1, err := reg.Register(context.Background(), 1, root)
	if err != nil {
		t.Fatalf("Register client 1: %v", err)
	}
	addr2, err := reg.Register(context.Background(), 2, root)
	if err != nil {
		t.Fatalf("Register client 2: %v", err)
	}
	if addr1 != addr2 {
		t.Fatalf("expected both clients to share one broadcast address, got %q and %q", addr1, addr2)
	}
	t.Cleanup(func() { reg.Drop(1, []xbproto.ProjectRoot{root}); reg.Drop(2, []xbproto.ProjectRoot{root}) })
}

func TestRegistry_BuildOnUnregisteredRootErrors(t *testing.T) {
	reg := New(nil)
	err := reg.Build("/no/such/project", xbproto.BuildRequest{})
	if err == nil {
		t.Fatalf("expected a Lookup error for an unregistered root")
	}
}

func TestRegistry_DropLastClientReapsEntry(t *testing.T) {
	withTempBroadcastRoot(t)
	reg := New(nil)
	root := swiftPMProject(t)

	if _, err := reg.Register(context.Background(), 1, root); err != nil {
		t.Fatalf("Register: %v", err)
	}
	reg.Drop(1, []xbproto.ProjectRoot{root})

	deadline := time.After(2 * time.Second)
	for {
		if err := reg.Build(root, xbproto.BuildRequest{}); err != nil {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("registry entry was not reaped after its last client dropped")
		case <-time.After(20 * time.Millisecond):
		}
	}
}
