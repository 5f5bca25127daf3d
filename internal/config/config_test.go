package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/1broseidon/clusterhome/internal/platform"
)

func writeConfig(t *testing.T, dir, name, data string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func TestDefaultConfig_Valid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected defaults to validate, got %v", err)
	}
	names, err := cfg.ComponentNames()
	if err != nil {
		t.Fatalf("component names: %v", err)
	}
	if len(names) != 4 {
		t.Fatalf("expected 4 default activities, got %d", len(names))
	}
	if names[0].Package != cfg.Package {
		t.Fatalf("expected home activity in own package %q, got %q", cfg.Package, names[0].Package)
	}
	if cfg.CycleKeyCode() != platform.KeyCodeMenu {
		t.Fatalf("expected menu cycle key, got %v", cfg.CycleKeyCode())
	}
}

func TestLoadFromPath_MissingFileUsesDefaults(t *testing.T) {
	res, err := LoadFromPath(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if res.Config.Backend != BackendX11 {
		t.Fatalf("expected backend %q, got %q", BackendX11, res.Config.Backend)
	}
	if res.File != "" {
		t.Fatalf("expected no file, got %q", res.File)
	}
}

func TestLoadFromPath_EmptyFileUsesDefaults(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "config.yaml", "# empty\n")

	res, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if res.Config.VirtualDisplay.Name != DefaultVirtualDisplayName {
		t.Fatalf("expected virtual display %q, got %q", DefaultVirtualDisplayName, res.Config.VirtualDisplay.Name)
	}
}

func TestLoadFromPath_FullConfig(t *testing.T) {
	data := strings.Join([]string{
		"backend: sim",
		"package: com.example.clusterhome",
		"activities:",
		"  - name: home",
		"    component: com.example.clusterhome/.ClusterHomeActivity",
		"  - name: maps",
		"    component: com.example.maps/com.example.maps.ClusterMapActivity",
		"cycle_key: menu",
		"passthrough_keys: [up, down, enter]",
		"occupant_zones:",
		"  - id: 0",
		"    occupant: driver",
		"    cluster_output: HDMI-2",
		"  - id: 1",
		"    occupant: front_passenger",
		"virtual_display:",
		"  width: 800",
		"assume_unlocked: true",
		"initial_ui_type: 1",
		"logging:",
		"  level: debug",
		"",
	}, "\n")
	path := writeConfig(t, t.TempDir(), "config.yaml", data)

	res, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	cfg := res.Config
	if cfg.Backend != BackendSim || !cfg.AssumeUnlocked || cfg.InitialUIType != 1 {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.VirtualDisplay.Width != 800 || cfg.VirtualDisplay.Height != DefaultVirtualDisplayHeight {
		t.Fatalf("expected virtual display 800x%d, got %dx%d", DefaultVirtualDisplayHeight, cfg.VirtualDisplay.Width, cfg.VirtualDisplay.Height)
	}

	names, err := cfg.ComponentNames()
	if err != nil {
		t.Fatalf("component names: %v", err)
	}
	want := platform.ComponentName{Package: "com.example.clusterhome", Class: "com.example.clusterhome.ClusterHomeActivity"}
	if names[0] != want {
		t.Fatalf("expected %v, got %v", want, names[0])
	}

	zones := cfg.Zones()
	if len(zones) != 2 || zones[1].Type != platform.OccupantFrontPassenger {
		t.Fatalf("unexpected zones: %+v", zones)
	}
	if got := cfg.ClusterOutputs()[0]; got != "HDMI-2" {
		t.Fatalf("expected cluster output HDMI-2, got %q", got)
	}
	if got := cfg.PassthroughKeyCodes(); len(got) != 3 || got[2] != platform.KeyCodeEnter {
		t.Fatalf("unexpected passthrough keys: %v", got)
	}
	if got := cfg.GetLoggingConfig().Level; got != "debug" {
		t.Fatalf("expected debug level, got %q", got)
	}
}

func TestLoadFromPath_StrictUnknownKeyErrors(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "config.yaml", "unknown_key: 1\n")

	_, err := LoadFromPath(path)
	if err == nil {
		t.Fatalf("expected error for unknown key")
	}
	if !strings.Contains(err.Error(), "unknown_key") && !strings.Contains(err.Error(), "field") {
		t.Fatalf("expected unknown field error, got %v", err)
	}
	if !strings.Contains(err.Error(), path) {
		t.Fatalf("expected error to include file path, got %v", err)
	}
}

func TestLoadFromPath_ValidationErrorHasSource(t *testing.T) {
	data := strings.Join([]string{
		"activities:",
		"  - name: home",
		"    component: not-a-component",
		"",
	}, "\n")
	path := writeConfig(t, t.TempDir(), "config.yaml", data)

	_, err := LoadFromPath(path)
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected *ValidationError, got %T", err)
	}
	if verr.Path != "activities.0.component" {
		t.Fatalf("expected path activities.0.component, got %q", verr.Path)
	}
	if verr.Source.Line != 3 {
		t.Fatalf("expected source line 3, got %+v", verr.Source)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		path   string
	}{
		{"unknown backend", func(c *Config) { c.Backend = "wayland" }, "backend"},
		{"no activities", func(c *Config) { c.Activities = nil }, "activities"},
		{"duplicate activity", func(c *Config) { c.Activities[1].Name = "home" }, "activities.1.name"},
		{"bad cycle key", func(c *Config) { c.CycleKey = "f13" }, "cycle_key"},
		{"cycle key passthrough", func(c *Config) { c.PassthroughKeys = []string{"menu"} }, "passthrough_keys.0"},
		{"two drivers", func(c *Config) {
			c.OccupantZones = []OccupantZone{{ID: 0, Occupant: "driver"}, {ID: 1, Occupant: "driver"}}
		}, "occupant_zones"},
		{"no driver", func(c *Config) {
			c.OccupantZones = []OccupantZone{{ID: 1, Occupant: "rear_passenger"}}
		}, "occupant_zones"},
		{"duplicate zone", func(c *Config) {
			c.OccupantZones = []OccupantZone{{ID: 0, Occupant: "driver"}, {ID: 0, Occupant: "rear_passenger"}}
		}, "occupant_zones.1.id"},
		{"zero dpi", func(c *Config) { c.VirtualDisplay.DPI = 0 }, "virtual_display"},
		{"initial out of range", func(c *Config) { c.InitialUIType = 4 }, "initial_ui_type"},
		{"bad log level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected *ValidationError, got %v", err)
			}
			if verr.Path != tt.path {
				t.Fatalf("expected path %q, got %q (%v)", tt.path, verr.Path, err)
			}
		})
	}
}

func TestValidate_NoZonesIsAllowed(t *testing.T) {
	cfg := DefaultConfig()
	cfg.OccupantZones = nil
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected config without zones to validate, got %v", err)
	}
}

func TestLoadFromPath_RecordsFileAndPositions(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "config.yaml", "backend: sim\nvirtual_display:\n  width: 640\n")

	res, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if res.File != path {
		t.Fatalf("expected file %q, got %q", path, res.File)
	}
	src, ok := res.Sources["virtual_display.width"]
	if !ok || src.Kind != SourceFile || src.Line != 3 || src.Column != 10 {
		t.Fatalf("unexpected source for virtual_display.width: %+v", src)
	}
	if res.Config.VirtualDisplay.Width != 640 || res.Config.VirtualDisplay.Height != DefaultVirtualDisplayHeight {
		t.Fatalf("expected 640x%d, got %dx%d", DefaultVirtualDisplayHeight, res.Config.VirtualDisplay.Width, res.Config.VirtualDisplay.Height)
	}
}

func TestLoadFromPath_IncludeKeyRejected(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "config.yaml", "include: conf.d\n")

	if _, err := LoadFromPath(path); err == nil || !strings.Contains(err.Error(), "include") {
		t.Fatalf("expected unknown include key error, got %v", err)
	}
}

func TestLoadFromPath_EnvOverrides(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "config.yaml", "backend: x11\n")
	t.Setenv("CLUSTERHOME_BACKEND", "sim")
	t.Setenv("CLUSTERHOME_LOG_LEVEL", "warn")
	t.Setenv("CLUSTERHOME_ASSUME_UNLOCKED", "true")
	t.Setenv("CLUSTERHOME_METRICS_ADDR", "127.0.0.1:9200")

	res, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	cfg := res.Config
	if cfg.Backend != BackendSim || cfg.Logging.Level != "warn" || !cfg.AssumeUnlocked || cfg.MetricsAddr != "127.0.0.1:9200" {
		t.Fatalf("env overrides not applied: %+v", cfg)
	}

	_, src, err := Explain(res, "backend")
	if err != nil {
		t.Fatalf("explain: %v", err)
	}
	if src.Kind != SourceEnv || src.Name != "CLUSTERHOME_BACKEND" {
		t.Fatalf("expected env source, got %+v", src)
	}
}

func TestLoadFromPath_InvalidEnvBackend(t *testing.T) {
	t.Setenv("CLUSTERHOME_BACKEND", "wayland")
	_, err := LoadFromPath(filepath.Join(t.TempDir(), "config.yaml"))
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
}

func TestExplain(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "config.yaml", "virtual_display:\n  dpi: 160\n")
	res, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	val, src, err := Explain(res, "virtual_display.dpi")
	if err != nil {
		t.Fatalf("explain: %v", err)
	}
	if val != 160 || src.Kind != SourceFile || src.Line != 2 {
		t.Fatalf("unexpected explain result %v %+v", val, src)
	}

	val, src, err = Explain(res, "activities.1.component")
	if err != nil {
		t.Fatalf("explain: %v", err)
	}
	if val != "org.gnome.Maps/.Maps" || src.Kind != SourceDefault {
		t.Fatalf("unexpected explain result %v %+v", val, src)
	}

	if _, _, err := Explain(res, "activities.9"); err == nil {
		t.Fatalf("expected out of range error")
	}
	if _, _, err := Explain(res, "bogus"); err == nil {
		t.Fatalf("expected unknown path error")
	}
}
