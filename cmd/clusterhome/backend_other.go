//go:build !linux

package main

import (
	"errors"

	"go.uber.org/zap"

	"github.com/1broseidon/clusterhome/internal/config"
	"github.com/1broseidon/clusterhome/internal/daemon"
)

type x11Platform struct {
	daemon.Platform
}

func (p *x11Platform) Close()     {}
func (p *x11Platform) EventLoop() {}

func newX11Platform(_ *config.Config, _ *zap.Logger) (*x11Platform, error) {
	return nil, errors.New("the x11 backend is only available on linux; use --backend sim")
}
