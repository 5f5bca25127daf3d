package main

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/1broseidon/clusterhome/internal/config"
)

func TestFormatSource(t *testing.T) {
	tests := []struct {
		src  config.Source
		want string
	}{
		{config.Source{Kind: config.SourceFile, File: "/etc/ch.yaml", Line: 3, Column: 5}, "file:/etc/ch.yaml:3:5"},
		{config.Source{Kind: config.SourceFile, File: "/etc/ch.yaml"}, "file:/etc/ch.yaml"},
		{config.Source{Kind: config.SourceFile}, "file"},
		{config.Source{Kind: config.SourceEnv, Name: "CLUSTERHOME_BACKEND"}, "env:CLUSTERHOME_BACKEND"},
		{config.Source{Kind: config.SourceDefault, Name: "activities"}, "default:activities"},
		{config.Source{Kind: config.SourceDefault}, "default"},
	}
	for _, tt := range tests {
		if got := formatSource(tt.src); got != tt.want {
			t.Errorf("formatSource(%+v) = %q, want %q", tt.src, got, tt.want)
		}
	}
}

func TestExitCode(t *testing.T) {
	if got := exitCode(nil); got != 0 {
		t.Errorf("exitCode(nil) = %d", got)
	}
	if got := exitCode(fmt.Errorf("observe: %w", context.Canceled)); got != 0 {
		t.Errorf("exitCode(canceled) = %d", got)
	}
	if got := exitCode(errors.New("boom")); got != 1 {
		t.Errorf("exitCode(boom) = %d", got)
	}
}

func TestNewSimPlatform_UsesConfiguredZones(t *testing.T) {
	cfg := config.DefaultConfig()
	p := newSimPlatform(cfg)
	zones, err := p.OccupantZones()
	if err != nil {
		t.Fatalf("OccupantZones: %v", err)
	}
	if len(zones) != 1 || zones[0].ID != 0 {
		t.Errorf("zones = %+v, want the driver zone", zones)
	}
	name, err := p.StartVirtualDisplay(cfg.VirtualDisplay.Width, cfg.VirtualDisplay.Height, cfg.VirtualDisplay.DPI)
	if err != nil {
		t.Fatalf("StartVirtualDisplay: %v", err)
	}
	if name != cfg.VirtualDisplay.Name {
		t.Errorf("virtual display name = %q, want %q", name, cfg.VirtualDisplay.Name)
	}
}
