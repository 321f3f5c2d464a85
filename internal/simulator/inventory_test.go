package simulator

import (
	"testing"

	"github.com/xbase-dev/xbased/internal/xbproto"
)

func seeded() *Inventory {
	inv := NewInventory("")
	inv.devices = []simDevice{
		{Name: "iPhone 15", UDID: "AAA", State: "Booted", DeviceTypeIdentifier: "com.apple.CoreSimulator.SimDeviceType.iPhone-15"},
		{Name: "iPhone 15 Pro", UDID: "BBB", State: "Shutdown", DeviceTypeIdentifier: "com.apple.CoreSimulator.SimDeviceType.iPhone-15-Pro"},
	}
	inv.runtime = map[string]string{
		"AAA": "com.apple.CoreSimulator.SimRuntime.iOS-18-2",
		"BBB": "com.apple.CoreSimulator.SimRuntime.iOS-18-2",
	}
	return inv
}

func TestInventory_RunnersRendersSnapshot(t *testing.T) {
	inv := seeded()
	runners := inv.Runners()
	if len(runners) != 2 {
		t.Fatalf("expected 2 runners, got %d", len(runners))
	}
}

func TestInventory_ResolveByUDID(t *testing.T) {
	inv := seeded()
	d, err := inv.Resolve(&xbproto.DeviceRef{UDID: "BBB"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if d.Name != "iPhone 15 Pro" {
		t.Fatalf("expected iPhone 15 Pro, got %s", d.Name)
	}
}

func TestInventory_ResolveByUDIDMiss(t *testing.T) {
	inv := seeded()
	if _, err := inv.Resolve(&xbproto.DeviceRef{UDID: "ZZZ"}); err == nil {
		t.Fatalf("expected an error for an unknown udid")
	}
}

func TestInventory_ResolveByNamePrefersBooted(t *testing.T) {
	inv := seeded()
	d, err := inv.Resolve(&xbproto.DeviceRef{Name: "iPhone"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if d.UDID != "AAA" {
		t.Fatalf("expected the booted device AAA, got %s", d.UDID)
	}
}

func TestInventory_ResolveNilRefPicksAnyBooted(t *testing.T) {
	inv := seeded()
	d, err := inv.Resolve(nil)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if d.UDID != "AAA" {
		t.Fatalf("expected booted device AAA, got %s", d.UDID)
	}
}

func TestInventory_ResolveNoBootedMatch(t *testing.T) {
	inv := seeded()
	if _, err := inv.Resolve(&xbproto.DeviceRef{Name: "iPad"}); err == nil {
		t.Fatalf("expected an error when no booted device matches")
	}
}
