package daemonsocket

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/xbase-dev/xbased/internal/broadcast"
	"github.com/xbase-dev/xbased/internal/registry"
	"github.com/xbase-dev/xbased/internal/xbproto"
)

func withTempBroadcastRoot(t *testing.T) {
	t.Helper()
	old := broadcast.Root
	broadcast.Root = t.TempDir()
	t.Cleanup(func() { broadcast.Root = old })
}

func swiftPMProject(t *testing.T) xbproto.ProjectRoot {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "Package.swift"), []byte("// swift-tools-version:5.9\n"), 0o644); err != nil {
		t.Fatalf("seed Package.swift: %v", err)
	}
	return xbproto.ProjectRoot(dir)
}

func startServer(t *testing.T) (*Server, net.Conn) {
	t.Helper()
	withTempBroadcastRoot(t)

	address := filepath.Join(t.TempDir(), "xbase.socket")
	reg := registry.New(nil)
	srv, err := NewServer(address, reg, nil)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go srv.Serve(ctx)
	t.Cleanup(cancel)

	var conn net.Conn
	for i := 0; i < 50; i++ {
		conn, err = net.Dial("unix", address)
		if err == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if conn == nil {
		t.Fatalf("dial daemon socket: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return srv, conn
}

func roundTrip(t *testing.T, conn net.Conn, req xbproto.Request) xbproto.Response {
	t.Helper()
	data, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	if _, err := conn.Write(append(data, '\n')); err != nil {
		t.Fatalf("write request: %v", err)
	}
	reader := bufio.NewReader(conn)
	line, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	var resp xbproto.Response
	if err := json.Unmarshal([]byte(line), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	return resp
}

func TestServer_RegisterReturnsBroadcastAddress(t *testing.T) {
	_, conn := startServer(t)
	root := swiftPMProject(t)

	resp := roundTrip(t, conn, xbproto.Request{
		Kind:     xbproto.RequestRegister,
		Register: &xbproto.RegisterRequest{ID: 1, Root: root},
	})
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}
	data, err := json.Marshal(resp.Data)
	if err != nil {
		t.Fatalf("marshal data: %v", err)
	}
	var reg xbproto.RegisterResponse
	if err := json.Unmarshal(data, &reg); err != nil {
		t.Fatalf("unmarshal RegisterResponse: %v", err)
	}
	if reg.BroadcastAddress == "" {
		t.Fatalf("expected a non-empty broadcast address")
	}
}

func TestServer_UnknownRequestKindErrors(t *testing.T) {
	_, conn := startServer(t)
	resp := roundTrip(t, conn, xbproto.Request{Kind: "Bogus"})
	if resp.Error == nil {
		t.Fatalf("expected an error for an unknown request kind")
	}
}

func TestServer_BuildOnUnregisteredRootErrors(t *testing.T) {
	_, conn := startServer(t)
	resp := roundTrip(t, conn, xbproto.Request{
		Kind:  xbproto.RequestBuild,
		Build: &xbproto.BuildRequest{Root: "/no/such/project"},
	})
	if resp.Error == nil {
		t.Fatalf("expected a Lookup error")
	}
	if resp.Error.Kind != "Lookup" {
		t.Fatalf("expected Lookup kind, got %s", resp.Error.Kind)
	}
}

func TestAddress_DefaultsWhenEnvUnset(t *testing.T) {
	t.Setenv("XBASE_SOCKET", "")
	if got := Address(); got != DefaultAddress {
		t.Fatalf("expected default address %s, got %s", DefaultAddress, got)
	}
}

func TestAddress_HonorsEnvOverride(t *testing.T) {
	t.Setenv("XBASE_SOCKET", "/tmp/custom.socket")
	if got := Address(); got != "/tmp/custom.socket" {
		t.Fatalf("expected override address, got %s", got)
	}
}
