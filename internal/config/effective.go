package config

import (
	"errors"
	"fmt"
)

type ValidationError struct {
	Path   string
	Source Source
	Err    error
}

func (e *ValidationError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Source.Kind == SourceFile && e.Source.File != "" && e.Source.Line > 0 {
		return fmt.Sprintf("%s:%d:%d: %s: %v", e.Source.File, e.Source.Line, e.Source.Column, e.Path, e.Err)
	}
	if e.Path != "" {
		return fmt.Sprintf("%s: %v", e.Path, e.Err)
	}
	return e.Err.Error()
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// Is makes every validation error match ErrInvalid.
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalid
}

// BuildEffectiveConfig layers raw over the defaults.
func BuildEffectiveConfig(raw RawConfig) (*Config, error) {
	cfg := DefaultConfig()

	if raw.Backend != nil {
		cfg.Backend = *raw.Backend
	}
	if raw.Display != nil {
		cfg.Display = *raw.Display
	}
	if raw.XAuthority != nil {
		cfg.XAuthority = *raw.XAuthority
	}
	if raw.Package != nil {
		cfg.Package = *raw.Package
	}
	if raw.Activities != nil {
		cfg.Activities = append([]Activity(nil), raw.Activities...)
	}
	if raw.CycleKey != nil {
		cfg.CycleKey = *raw.CycleKey
	}
	if raw.PassthroughKeys != nil {
		cfg.PassthroughKeys = append([]string(nil), raw.PassthroughKeys...)
	}
	if raw.OccupantZones != nil {
		cfg.OccupantZones = append([]OccupantZone(nil), raw.OccupantZones...)
	}
	if vd := raw.VirtualDisplay; vd != nil {
		cfg.VirtualDisplay.Name = derefString(vd.Name, cfg.VirtualDisplay.Name)
		cfg.VirtualDisplay.Width = derefInt(vd.Width, cfg.VirtualDisplay.Width)
		cfg.VirtualDisplay.Height = derefInt(vd.Height, cfg.VirtualDisplay.Height)
		cfg.VirtualDisplay.DPI = derefInt(vd.DPI, cfg.VirtualDisplay.DPI)
		cfg.VirtualDisplay.Command = derefString(vd.Command, cfg.VirtualDisplay.Command)
	}
	if raw.AssumeUnlocked != nil {
		cfg.AssumeUnlocked = *raw.AssumeUnlocked
	}
	if raw.InitialUIType != nil {
		cfg.InitialUIType = *raw.InitialUIType
	}
	if l := raw.Logging; l != nil {
		cfg.Logging.Level = derefString(l.Level, cfg.Logging.Level)
		if l.Development != nil {
			cfg.Logging.Development = *l.Development
		}
	}
	if raw.MetricsAddr != nil {
		cfg.MetricsAddr = *raw.MetricsAddr
	}

	if len(cfg.Activities) == 0 {
		return nil, &ValidationError{Path: "activities", Err: errors.New("at least one activity is required")}
	}
	return cfg, nil
}

func derefInt(p *int, def int) int {
	if p == nil {
		return def
	}
	return *p
}

func derefString(p *string, def string) string {
	if p == nil {
		return def
	}
	return *p
}
