//go:build linux

package main

import (
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/1broseidon/clusterhome/internal/config"
	"github.com/1broseidon/clusterhome/internal/hotkeys"
	"github.com/1broseidon/clusterhome/internal/platform"
)

// x11Platform is the X11 backend with the key grabs for the cluster keys.
type x11Platform struct {
	*platform.LinuxBackend
	*hotkeys.Handler
}

func (p *x11Platform) Close() {
	p.Disconnect()
}

func newX11Platform(cfg *config.Config, logger *zap.Logger) (*x11Platform, error) {
	if cfg.XAuthority != "" {
		if err := os.Setenv("XAUTHORITY", cfg.XAuthority); err != nil {
			return nil, err
		}
	}

	backend, err := platform.NewLinuxBackend(platform.LinuxOptions{
		Display:        cfg.Display,
		Zones:          cfg.Zones(),
		ClusterOutputs: cfg.ClusterOutputs(),
		VirtualName:    cfg.VirtualDisplay.Name,
		VirtualCommand: cfg.VirtualDisplay.Command,
		Commands:       cfg.ActivityCommands(),
		User:           os.Getuid(),
		Logger:         logger,
	})
	if err != nil {
		return nil, err
	}

	keys := append([]platform.KeyCode{cfg.CycleKeyCode()}, cfg.PassthroughKeyCodes()...)
	handler, err := hotkeys.NewHandler(backend, keys, logger)
	if err != nil {
		backend.Disconnect()
		return nil, fmt.Errorf("register cluster keys: %w", err)
	}
	return &x11Platform{LinuxBackend: backend, Handler: handler}, nil
}
