// Package simulator maintains the process-wide snapshot of available
// simulator devices, refreshed from `xcrun simctl` and resolved against the
// DeviceRef a Run request carries.
package simulator

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"sort"
	"strings"
	"sync"

	"github.com/xbase-dev/xbased/internal/xbaseerr"
	"github.com/xbase-dev/xbased/internal/xbproto"
)

type simDevice struct {
	Name                 string `json:"name"`
	UDID                 string `json:"udid"`
	State                string `json:"state"`
	DeviceTypeIdentifier string `json:"deviceTypeIdentifier"`
}

// Inventory is a thread-safe, refreshable snapshot of simctl's device list.
type Inventory struct {
	deviceSet string // empty means simctl's default device set

	mu      sync.RWMutex
	devices []simDevice
	runtime map[string]string // udid -> runtime key, kept alongside devices
}

// NewInventory returns an empty Inventory scoped to deviceSet ("" for
// simctl's default set); call Refresh to populate it.
func NewInventory(deviceSet string) *Inventory {
	return &Inventory{deviceSet: deviceSet, runtime: make(map[string]string)}
}

// Refresh re-runs `xcrun simctl list devices --json` and replaces the
// snapshot. Safe to call concurrently with Runners/Resolve.
func (inv *Inventory) Refresh(ctx context.Context) error {
	args := []string{"simctl"}
	if inv.deviceSet != "" {
		args = append(args, "--set", inv.deviceSet)
	}
	args = append(args, "list", "devices", "--json")

	out, err := exec.CommandContext(ctx, "xcrun", args...).Output()
	if err != nil {
		return xbaseerr.Wrap(xbaseerr.Unexpected, err, "listing simulators")
	}

	var result struct {
		Devices map[string][]simDevice `json:"devices"`
	}
	if err := json.Unmarshal(out, &result); err != nil {
		return xbaseerr.Wrap(xbaseerr.Unexpected, err, "parsing simctl output")
	}

	devices := make([]simDevice, 0)
	runtimes := make(map[string]string)
	for rt, ds := range result.Devices {
		for _, d := range ds {
			devices = append(devices, d)
			runtimes[d.UDID] = rt
		}
	}
	sort.Slice(devices, func(i, j int) bool { return devices[i].Name < devices[j].Name })

	inv.mu.Lock()
	inv.devices = devices
	inv.runtime = runtimes
	inv.mu.Unlock()
	return nil
}

// Runners renders the snapshot as the wire-level inventory a SetState
// message carries.
func (inv *Inventory) Runners() []xbproto.Runner {
	inv.mu.RLock()
	defer inv.mu.RUnlock()
	out := make([]xbproto.Runner, 0, len(inv.devices))
	for _, d := range inv.devices {
		out = append(out, xbproto.Runner{
			Name:    d.Name,
			UDID:    d.UDID,
			State:   d.State,
			Runtime: inv.runtime[d.UDID],
		})
	}
	return out
}

// Resolve picks the device a Run request should target. An exact UDID match
// wins; otherwise the first booted device whose name contains ref.Name; a
// nil or empty ref resolves to the first booted device of any kind.
func (inv *Inventory) Resolve(ref *xbproto.DeviceRef) (xbproto.DeviceRef, error) {
	inv.mu.RLock()
	defer inv.mu.RUnlock()

	if ref != nil && ref.UDID != "" {
		for _, d := range inv.devices {
			if d.UDID == ref.UDID {
				return xbproto.DeviceRef{Name: d.Name, UDID: d.UDID}, nil
			}
		}
		return xbproto.DeviceRef{}, xbaseerr.New(xbaseerr.Lookup, fmt.Sprintf("no simulator with udid %s", ref.UDID), nil)
	}

	wantName := ""
	if ref != nil {
		wantName = ref.Name
	}
	for _, d := range inv.devices {
		if d.State != "Booted" {
			continue
		}
		if wantName == "" || strings.Contains(d.Name, wantName) {
			return xbproto.DeviceRef{Name: d.Name, UDID: d.UDID}, nil
		}
	}
	if wantName != "" {
		return xbproto.DeviceRef{}, xbaseerr.New(xbaseerr.Lookup, fmt.Sprintf("no booted simulator matching %q", wantName), nil)
	}
	return xbproto.DeviceRef{}, xbaseerr.New(xbaseerr.Lookup, "no booted simulator available", nil)
}
