// Package config reads the optional per-project .xbaserc override file,
// a small YAML options bag for build/device/ignore overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/xbase-dev/xbased/internal/xbproto"
)

// Config is the set of overrides a project may declare in .xbaserc. The
// daemon applies only ExtraIgnore (through Watchignore); Configuration and
// Device are not called outside tests, so the two defaults do not reach
// build or run requests.
type Config struct {
	// DefaultConfiguration is what Configuration returns for a request
	// left at the Debug default.
	DefaultConfiguration string `yaml:"configuration,omitempty"`
	// ExtraIgnore appends additional glob patterns to the fixed watch-ignore
	// list every Flavor already carries.
	ExtraIgnore []string `yaml:"ignore,omitempty"`
	// DefaultDevice is what Device returns when no device is requested.
	DefaultDevice string `yaml:"device,omitempty"`
}

// Load reads root/.xbaserc, returning a zero-value Config (not an error) if
// the file doesn't exist. Any other read or parse failure is reported.
func Load(root xbproto.ProjectRoot) (Config, error) {
	data, err := os.ReadFile(filepath.Join(string(root), ".xbaserc"))
	if err != nil {
		if os.IsNotExist(err) {
			return Config{}, nil
		}
		return Config{}, fmt.Errorf("reading .xbaserc: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing .xbaserc: %w", err)
	}
	return cfg, nil
}

// Configuration resolves a requested configuration against the override,
// falling back to xcodebuild's own Debug default when neither is set.
func (c Config) Configuration(requested xbproto.Configuration) xbproto.Configuration {
	if requested.String() != xbproto.ConfigDebug || requested.Custom != "" {
		return requested
	}
	if c.DefaultConfiguration != "" {
		return xbproto.NewConfiguration(c.DefaultConfiguration)
	}
	return requested
}

// Device resolves a requested device reference against the override.
func (c Config) Device(requested *xbproto.DeviceRef) *xbproto.DeviceRef {
	if requested != nil {
		return requested
	}
	if c.DefaultDevice == "" {
		return nil
	}
	return &xbproto.DeviceRef{Name: c.DefaultDevice}
}

// Watchignore appends the config's extra globs to base.
func (c Config) Watchignore(base []string) []string {
	if len(c.ExtraIgnore) == 0 {
		return base
	}
	out := make([]string, 0, len(base)+len(c.ExtraIgnore))
	out = append(out, base...)
	out = append(out, c.ExtraIgnore...)
	return out
}
