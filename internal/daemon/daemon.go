// Package daemon runs the cluster home. It provisions the cluster display,
// starts the UI orchestrator once the display is ready and serves the control
// surface used by the CLI, the MCP server and the cluster OS double.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/1broseidon/clusterhome/internal/clusterstate"
	"github.com/1broseidon/clusterhome/internal/config"
	"github.com/1broseidon/clusterhome/internal/display"
	"github.com/1broseidon/clusterhome/internal/home"
	"github.com/1broseidon/clusterhome/internal/ipc"
	"github.com/1broseidon/clusterhome/internal/metrics"
	"github.com/1broseidon/clusterhome/internal/platform"
)

// Platform is every platform service the daemon needs.
type Platform interface {
	platform.OccupantService
	platform.DisplayService
	platform.VirtualDisplayFactory
	platform.TaskMonitor
	platform.UserSessions
	platform.LifecyclePublisher
	platform.InputCapture
	platform.InputInjector
	platform.ActivityLauncher
	platform.ActivityResolver
}

// Options configures a Daemon.
type Options struct {
	Config   *config.Config
	Platform Platform
	Logger   *zap.Logger
	// Registry receives the daemon's collectors; a fresh registry is used
	// when nil.
	Registry *prometheus.Registry
}

// Daemon owns the display provider, the cluster state channel and, once the
// display is ready, the orchestrator.
type Daemon struct {
	cfg        *config.Config
	platform   Platform
	logger     *zap.Logger
	registry   *prometheus.Registry
	metrics    *metrics.Metrics
	cluster    *clusterstate.Service
	provider   *display.Provider
	activities []platform.ComponentName
	ready      chan struct{}

	mu   sync.Mutex
	home *home.Orchestrator
}

var _ ipc.Controller = (*Daemon)(nil)

// New validates the configuration and assembles the daemon. Nothing touches
// the platform until Run.
func New(opts Options) (*Daemon, error) {
	if opts.Config == nil {
		return nil, errors.New("daemon: config is required")
	}
	if opts.Platform == nil {
		return nil, errors.New("daemon: platform is required")
	}
	activities, err := opts.Config.ComponentNames()
	if err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	registry := opts.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	m := metrics.New(registry)

	vd := opts.Config.VirtualDisplay
	provider := display.NewProvider(display.Config{
		VirtualWidth:  vd.Width,
		VirtualHeight: vd.Height,
		VirtualDPI:    vd.DPI,
	}, opts.Platform, opts.Platform, opts.Platform, logger, m)

	return &Daemon{
		cfg:        opts.Config,
		platform:   opts.Platform,
		logger:     logger.Named("daemon"),
		registry:   registry,
		metrics:    m,
		cluster:    clusterstate.New(platform.ClusterState{UIType: opts.Config.InitialUIType}, logger, m),
		provider:   provider,
		activities: activities,
		ready:      make(chan struct{}),
	}, nil
}

// Cluster returns the cluster state channel.
func (d *Daemon) Cluster() *clusterstate.Service {
	return d.cluster
}

// Ready is closed once the orchestrator runs on the cluster display.
func (d *Daemon) Ready() <-chan struct{} {
	return d.ready
}

// Run acquires the cluster display and drives the bootstrap sequence until
// ctx is done or the orchestrator fails.
func (d *Daemon) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if addr := d.cfg.MetricsAddr; addr != "" {
		go func() {
			if err := metrics.Serve(ctx, addr, d.registry, d.logger); err != nil {
				d.logger.Warn("metrics listener stopped", zap.Error(err))
			}
		}()
	}

	events, err := d.provider.Acquire(ctx)
	if err != nil {
		d.logger.Error("cannot provision cluster display", zap.Error(err))
		return fmt.Errorf("acquire cluster display: %w", err)
	}
	d.logger.Info("cluster display provisioning", zap.Stringer("state", d.provider))

	var homeDone <-chan struct{}
	defer func() {
		cancel()
		if homeDone != nil {
			<-homeDone
		}
		for range events {
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-homeDone:
			if err := d.orchestrator().Err(); err != nil {
				return fmt.Errorf("orchestrator stopped: %w", err)
			}
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			done, err := d.onDisplayEvent(ctx, ev)
			if err != nil {
				return err
			}
			if done != nil {
				homeDone = done
			}
		}
	}
}

func (d *Daemon) onDisplayEvent(ctx context.Context, ev platform.DisplayEvent) (<-chan struct{}, error) {
	switch ev.Kind {
	case platform.DisplayAdded:
		if info, ok := d.platform.Display(ev.DisplayID); ok {
			d.cluster.SetDisplay(true, info.Bounds)
		}
		if o := d.orchestrator(); o != nil {
			d.logger.Warn("cluster display re-added; orchestrator keeps its display",
				zap.Int("display_id", ev.DisplayID))
			return nil, nil
		}
		return d.startHome(ctx, ev.DisplayID)

	case platform.DisplayChanged:
		if info, ok := d.platform.Display(ev.DisplayID); ok {
			d.cluster.SetDisplay(true, info.Bounds)
		}
		d.logger.Debug("cluster display changed", zap.Int("display_id", ev.DisplayID))

	case platform.DisplayRemoved:
		d.cluster.SetDisplay(false, platform.Rect{})
		d.logger.Warn("cluster display removed", zap.Int("display_id", ev.DisplayID),
			zap.Stringer("state", d.provider))
	}
	return nil, nil
}

func (d *Daemon) startHome(ctx context.Context, displayID int) (<-chan struct{}, error) {
	o, err := home.New(home.Config{
		Activities: d.activities,
		Package:    d.cfg.Package,
		CycleKey:   d.cfg.CycleKeyCode(),
	}, home.Deps{
		Tasks:    d.platform,
		Cluster:  d.cluster,
		Sessions: d.platform,
		Input:    d.platform,
		Injector: d.platform,
		Launcher: d.platform,
		Resolver: d.platform,
		Logger:   d.logger,
		Metrics:  d.metrics,
	})
	if err != nil {
		return nil, err
	}
	if err := o.Start(ctx, displayID); err != nil {
		d.logger.Error("orchestrator failed to start", zap.Error(err))
		return nil, fmt.Errorf("start orchestrator: %w", err)
	}

	d.mu.Lock()
	d.home = o
	d.mu.Unlock()
	close(d.ready)
	d.logger.Info("cluster home ready", zap.Int("display_id", displayID))

	if d.cfg.AssumeUnlocked {
		d.platform.PublishLifecycle(platform.PhaseUnlocked)
	}
	return o.Done(), nil
}

func (d *Daemon) orchestrator() *home.Orchestrator {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.home
}

// Status reports the display tracking state and, once running, the UI state.
func (d *Daemon) Status(ctx context.Context) (ipc.StatusData, error) {
	state := d.provider.State()
	status := ipc.StatusData{
		Backend:       d.cfg.Backend,
		DaemonRunning: true,
		Activities:    make([]string, len(d.activities)),
		Display: ipc.DisplayState{
			ID:          state.DisplayID,
			Mode:        state.Mode.String(),
			PendingName: state.PendingName,
		},
	}
	for i, a := range d.activities {
		status.Activities[i] = a.String()
	}

	o := d.orchestrator()
	if o == nil {
		return status, nil
	}
	ui, err := o.State(ctx)
	if err != nil {
		if errors.Is(err, home.ErrNotRunning) {
			return status, nil
		}
		return ipc.StatusData{}, err
	}
	status.UI = &ui
	return status, nil
}

// Displays lists the platform displays and marks the cluster display.
func (d *Daemon) Displays() (ipc.DisplaysData, error) {
	displays, err := d.platform.Displays()
	if err != nil {
		return ipc.DisplaysData{}, err
	}
	cluster := d.provider.State().DisplayID
	out := ipc.DisplaysData{Displays: make([]ipc.DisplayInfo, 0, len(displays))}
	for _, disp := range displays {
		out.Displays = append(out.Displays, ipc.DisplayInfo{
			ID:      disp.ID,
			Name:    disp.Name,
			Owner:   disp.Owner,
			X:       disp.Bounds.X,
			Y:       disp.Bounds.Y,
			Width:   disp.Bounds.Width,
			Height:  disp.Bounds.Height,
			Cluster: disp.ID == cluster,
		})
	}
	return out, nil
}

// SwitchUI enters a switch request through the cluster state channel, the
// way the cluster OS asks for a UI.
func (d *Daemon) SwitchUI(ctx context.Context, uiType int) (string, error) {
	if d.orchestrator() == nil {
		return "", home.ErrNotRunning
	}
	return d.cluster.RequestSwitch(ctx, uiType)
}

// Cycle advances the UI as the cycle key does.
func (d *Daemon) Cycle(ctx context.Context) error {
	o := d.orchestrator()
	if o == nil {
		return home.ErrNotRunning
	}
	return o.Cycle(ctx)
}

// SetSession publishes a user lifecycle phase.
func (d *Daemon) SetSession(phase platform.LifecyclePhase) error {
	d.platform.PublishLifecycle(phase)
	return nil
}

// SetProperty applies a vehicle property write from the cluster OS.
func (d *Daemon) SetProperty(ctx context.Context, propID uint32, values []int32) (string, error) {
	return d.cluster.SetProperty(ctx, propID, values)
}

// WatchReports streams reported cluster states.
func (d *Daemon) WatchReports(ctx context.Context) <-chan clusterstate.Report {
	return d.cluster.WatchReports(ctx)
}

