package config

import (
	"fmt"
	"strconv"
	"strings"
)

// Explain returns the effective value at the given YAML-like path and its source.
//
// Supported paths include:
//
//	backend
//	package
//	cycle_key
//	passthrough_keys
//	assume_unlocked
//	initial_ui_type
//	metrics_addr
//	activities
//	activities.<index>.component
//	occupant_zones.<index>.cluster_output
//	virtual_display.width
//	logging.level
func Explain(res *LoadResult, path string) (any, Source, error) {
	if res == nil || res.Config == nil {
		return nil, Source{}, fmt.Errorf("no config loaded")
	}
	if path == "" {
		return nil, Source{}, fmt.Errorf("path is empty")
	}

	value, err := lookupValue(res.Config, path)
	if err != nil {
		return nil, Source{}, err
	}

	// Exact-path source wins, then the closest recorded parent.
	for p := path; p != ""; p = parentPath(p) {
		if src, ok := res.Sources[p]; ok {
			return value, src, nil
		}
	}
	return value, Source{Kind: SourceDefault, Name: "defaults"}, nil
}

func parentPath(path string) string {
	i := strings.LastIndex(path, ".")
	if i < 0 {
		return ""
	}
	return path[:i]
}

func lookupValue(cfg *Config, path string) (any, error) {
	parts := strings.Split(path, ".")
	leaf := func(v any) (any, error) {
		if len(parts) != 1 {
			return nil, fmt.Errorf("%s has no fields", parts[0])
		}
		return v, nil
	}

	switch parts[0] {
	case "backend":
		return leaf(cfg.Backend)
	case "display":
		return leaf(cfg.Display)
	case "xauthority":
		return leaf(cfg.XAuthority)
	case "package":
		return leaf(cfg.Package)
	case "cycle_key":
		return leaf(cfg.CycleKey)
	case "passthrough_keys":
		return leaf(cfg.PassthroughKeys)
	case "assume_unlocked":
		return leaf(cfg.AssumeUnlocked)
	case "initial_ui_type":
		return leaf(cfg.InitialUIType)
	case "metrics_addr":
		return leaf(cfg.MetricsAddr)
	case "activities":
		if len(parts) == 1 {
			return cfg.Activities, nil
		}
		i, err := index(parts[1], len(cfg.Activities))
		if err != nil {
			return nil, err
		}
		a := cfg.Activities[i]
		if len(parts) == 2 {
			return a, nil
		}
		switch parts[2] {
		case "name":
			return a.Name, nil
		case "component":
			return a.Component, nil
		case "command":
			return a.Command, nil
		}
	case "occupant_zones":
		if len(parts) == 1 {
			return cfg.OccupantZones, nil
		}
		i, err := index(parts[1], len(cfg.OccupantZones))
		if err != nil {
			return nil, err
		}
		z := cfg.OccupantZones[i]
		if len(parts) == 2 {
			return z, nil
		}
		switch parts[2] {
		case "id":
			return z.ID, nil
		case "occupant":
			return z.Occupant, nil
		case "cluster_output":
			return z.ClusterOutput, nil
		}
	case "virtual_display":
		vd := cfg.VirtualDisplay
		if len(parts) == 1 {
			return vd, nil
		}
		switch parts[1] {
		case "name":
			return vd.Name, nil
		case "width":
			return vd.Width, nil
		case "height":
			return vd.Height, nil
		case "dpi":
			return vd.DPI, nil
		case "command":
			return vd.Command, nil
		}
	case "logging":
		if len(parts) == 1 {
			return cfg.Logging, nil
		}
		switch parts[1] {
		case "level":
			return cfg.Logging.Level, nil
		case "development":
			return cfg.Logging.Development, nil
		}
	}
	return nil, fmt.Errorf("unknown config path %q", path)
}

func index(s string, n int) (int, error) {
	i, err := strconv.Atoi(s)
	if err != nil || i < 0 || i >= n {
		return 0, fmt.Errorf("index %q out of range [0, %d)", s, n)
	}
	return i, nil
}
