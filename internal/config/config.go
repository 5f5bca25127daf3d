package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/1broseidon/clusterhome/internal/logging"
	"github.com/1broseidon/clusterhome/internal/platform"
)

// Supported backends.
const (
	BackendX11 = "x11"
	BackendSim = "sim"
)

const (
	DefaultPackage              = "clusterhome"
	DefaultCycleKey             = "menu"
	DefaultVirtualDisplayName   = "ClusterDisplay"
	DefaultVirtualDisplayWidth  = 1280
	DefaultVirtualDisplayHeight = 720
	DefaultVirtualDisplayDPI    = 320
)

// ErrInvalid is matched by every validation failure.
var ErrInvalid = errors.New("invalid config")

// Config is the effective daemon configuration.
type Config struct {
	Backend         string         `yaml:"backend"`
	Display         string         `yaml:"display,omitempty"`
	XAuthority      string         `yaml:"xauthority,omitempty"`
	Package         string         `yaml:"package"`
	Activities      []Activity     `yaml:"activities"`
	CycleKey        string         `yaml:"cycle_key"`
	PassthroughKeys []string       `yaml:"passthrough_keys"`
	OccupantZones   []OccupantZone `yaml:"occupant_zones"`
	VirtualDisplay  VirtualDisplay `yaml:"virtual_display"`
	AssumeUnlocked  bool           `yaml:"assume_unlocked"`
	InitialUIType   int            `yaml:"initial_ui_type"`
	Logging         LoggingConfig  `yaml:"logging"`
	MetricsAddr     string         `yaml:"metrics_addr,omitempty"`
}

// Activity is one cluster UI. The first activity is the home UI.
type Activity struct {
	Name      string `yaml:"name"`
	Component string `yaml:"component"`
	// Command launches the activity on the x11 backend. The window is
	// matched by its WM_CLASS against Component.
	Command string `yaml:"command,omitempty"`
}

// OccupantZone maps a seat to its cluster output.
type OccupantZone struct {
	ID            int    `yaml:"id"`
	Occupant      string `yaml:"occupant"`
	ClusterOutput string `yaml:"cluster_output,omitempty"`
}

// VirtualDisplay is the fallback display profile.
type VirtualDisplay struct {
	Name   string `yaml:"name"`
	Width  int    `yaml:"width"`
	Height int    `yaml:"height"`
	DPI    int    `yaml:"dpi"`
	// Command starts the display server. {name}, {width}, {height} and
	// {dpi} are substituted.
	Command string `yaml:"command,omitempty"`
}

type LoggingConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// DefaultConfig returns the built-in configuration: the home UI plus maps,
// music and phone.
func DefaultConfig() *Config {
	return &Config{
		Backend: BackendX11,
		Package: DefaultPackage,
		Activities: []Activity{
			{Name: "home", Component: DefaultPackage + "/.ClusterHome", Command: "clusterhome-home"},
			{Name: "maps", Component: "org.gnome.Maps/.Maps", Command: "gnome-maps"},
			{Name: "music", Component: "rhythmbox/.Rhythmbox", Command: "rhythmbox"},
			{Name: "phone", Component: "org.gnome.Calls/.Calls", Command: "gnome-calls"},
		},
		CycleKey:        DefaultCycleKey,
		PassthroughKeys: []string{"up", "down", "left", "right", "enter", "back"},
		OccupantZones: []OccupantZone{
			{ID: 0, Occupant: platform.OccupantDriver.String()},
		},
		VirtualDisplay: VirtualDisplay{
			Name:   DefaultVirtualDisplayName,
			Width:  DefaultVirtualDisplayWidth,
			Height: DefaultVirtualDisplayHeight,
			DPI:    DefaultVirtualDisplayDPI,
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Validate checks the effective configuration.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendX11, BackendSim:
	default:
		return invalid("backend", fmt.Errorf("unknown backend %q (want %s or %s)", c.Backend, BackendX11, BackendSim))
	}
	if strings.TrimSpace(c.Package) == "" {
		return invalid("package", errors.New("must not be empty"))
	}

	if len(c.Activities) == 0 {
		return invalid("activities", errors.New("at least one activity is required"))
	}
	names := make(map[string]struct{}, len(c.Activities))
	for i, a := range c.Activities {
		path := fmt.Sprintf("activities.%d", i)
		if strings.TrimSpace(a.Name) == "" {
			return invalid(path+".name", errors.New("must not be empty"))
		}
		if _, dup := names[a.Name]; dup {
			return invalid(path+".name", fmt.Errorf("duplicate activity %q", a.Name))
		}
		names[a.Name] = struct{}{}
		if _, err := platform.ParseComponentName(a.Component); err != nil {
			return invalid(path+".component", err)
		}
	}

	if _, err := platform.ParseKeyCode(c.CycleKey); err != nil {
		return invalid("cycle_key", err)
	}
	for i, k := range c.PassthroughKeys {
		code, err := platform.ParseKeyCode(k)
		if err != nil {
			return invalid(fmt.Sprintf("passthrough_keys.%d", i), err)
		}
		if k == c.CycleKey || code.String() == c.CycleKey {
			return invalid(fmt.Sprintf("passthrough_keys.%d", i), fmt.Errorf("%q is the cycle key", k))
		}
	}

	if len(c.OccupantZones) > 0 {
		drivers := 0
		ids := make(map[int]struct{}, len(c.OccupantZones))
		for i, z := range c.OccupantZones {
			path := fmt.Sprintf("occupant_zones.%d", i)
			t, err := platform.ParseOccupantType(z.Occupant)
			if err != nil {
				return invalid(path+".occupant", err)
			}
			if t == platform.OccupantDriver {
				drivers++
			}
			if _, dup := ids[z.ID]; dup {
				return invalid(path+".id", fmt.Errorf("duplicate zone id %d", z.ID))
			}
			ids[z.ID] = struct{}{}
		}
		if drivers != 1 {
			return invalid("occupant_zones", fmt.Errorf("want exactly one driver zone, got %d", drivers))
		}
	}

	vd := c.VirtualDisplay
	if strings.TrimSpace(vd.Name) == "" {
		return invalid("virtual_display.name", errors.New("must not be empty"))
	}
	if vd.Width <= 0 || vd.Height <= 0 || vd.DPI <= 0 {
		return invalid("virtual_display", fmt.Errorf("width, height and dpi must be positive, got %dx%d@%d", vd.Width, vd.Height, vd.DPI))
	}

	if c.InitialUIType < 0 || c.InitialUIType >= len(c.Activities) {
		return invalid("initial_ui_type", fmt.Errorf("%d is outside [0, %d)", c.InitialUIType, len(c.Activities)))
	}

	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return invalid("logging.level", err)
	}
	return nil
}

func invalid(path string, err error) error {
	return &ValidationError{Path: path, Err: err}
}

// ComponentNames returns the activity components in UI type order.
func (c *Config) ComponentNames() ([]platform.ComponentName, error) {
	out := make([]platform.ComponentName, len(c.Activities))
	for i, a := range c.Activities {
		name, err := platform.ParseComponentName(a.Component)
		if err != nil {
			return nil, invalid(fmt.Sprintf("activities.%d.component", i), err)
		}
		out[i] = name
	}
	return out, nil
}

// ActivityCommands maps each component to its launch command.
func (c *Config) ActivityCommands() map[platform.ComponentName]string {
	out := make(map[platform.ComponentName]string, len(c.Activities))
	for _, a := range c.Activities {
		if name, err := platform.ParseComponentName(a.Component); err == nil && a.Command != "" {
			out[name] = a.Command
		}
	}
	return out
}

// CycleKeyCode returns the parsed cycle key.
func (c *Config) CycleKeyCode() platform.KeyCode {
	code, err := platform.ParseKeyCode(c.CycleKey)
	if err != nil {
		return platform.KeyCodeMenu
	}
	return code
}

// PassthroughKeyCodes returns the parsed passthrough keys, skipping invalid ones.
func (c *Config) PassthroughKeyCodes() []platform.KeyCode {
	out := make([]platform.KeyCode, 0, len(c.PassthroughKeys))
	for _, k := range c.PassthroughKeys {
		if code, err := platform.ParseKeyCode(k); err == nil {
			out = append(out, code)
		}
	}
	return out
}

// Zones returns the configured occupant zones.
func (c *Config) Zones() []platform.OccupantZone {
	out := make([]platform.OccupantZone, 0, len(c.OccupantZones))
	for _, z := range c.OccupantZones {
		t, err := platform.ParseOccupantType(z.Occupant)
		if err != nil {
			continue
		}
		out = append(out, platform.OccupantZone{ID: z.ID, Type: t})
	}
	return out
}

// ClusterOutputs maps zone id to the configured cluster output name.
func (c *Config) ClusterOutputs() map[int]string {
	out := make(map[int]string)
	for _, z := range c.OccupantZones {
		if z.ClusterOutput != "" {
			out[z.ID] = z.ClusterOutput
		}
	}
	return out
}

// GetLoggingConfig returns the logger configuration.
func (c *Config) GetLoggingConfig() logging.Config {
	cfg := logging.DefaultConfig()
	if c == nil {
		return cfg
	}
	if c.Logging.Level != "" {
		cfg.Level = c.Logging.Level
	}
	cfg.Development = c.Logging.Development
	return cfg
}
