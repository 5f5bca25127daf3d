// Package home decides which UI occupies the instrument cluster display.
//
// The Orchestrator owns the UI state and reconciles it against four event
// streams: user lifecycle, cluster state changes, top task changes on the
// cluster display, and captured key input. All of them are consumed by one
// goroutine, so state is never touched concurrently.
package home

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/1broseidon/clusterhome/internal/metrics"
	"github.com/1broseidon/clusterhome/internal/platform"
)

var (
	// ErrConfiguration marks orchestrator configuration errors.
	ErrConfiguration = errors.New("home: configuration error")
	// ErrNoActivities is returned when no cluster activity is configured.
	ErrNoActivities = fmt.Errorf("%w: no cluster activities configured", ErrConfiguration)
	// ErrUIOutOfRange is returned for UI types outside the activity list.
	ErrUIOutOfRange = errors.New("home: ui type out of range")
	// ErrRegistration wraps a failure to subscribe to one of the event streams.
	ErrRegistration = errors.New("home: listener registration failed")
	// ErrNotRunning is returned by queries made before Start or after the
	// orchestrator stopped.
	ErrNotRunning = errors.New("home: orchestrator is not running")
)

// Request sources used for logs and metrics.
const (
	sourceInitial = "initial"
	sourceRemote  = "remote"
	sourceKey     = "key"
	sourceControl = "control"
)

// Config describes the cluster UIs. Activities[0] is the home UI.
type Config struct {
	Activities []platform.ComponentName
	// Package is this daemon's own package; its activities run as the
	// system user.
	Package  string
	CycleKey platform.KeyCode
}

// Deps are the platform services the orchestrator listens to and drives.
type Deps struct {
	Tasks    platform.TaskMonitor
	Cluster  platform.ClusterStateChannel
	Sessions platform.UserSessions
	Input    platform.InputCapture
	Injector platform.InputInjector
	Launcher platform.ActivityLauncher
	Resolver platform.ActivityResolver
	Logger   *zap.Logger
	Metrics  *metrics.Metrics
}

// UIState is a snapshot of the orchestrator state.
type UIState struct {
	CurrentUIType  int                     `json:"current_ui_type"`
	ReportedUIType int                     `json:"reported_ui_type"`
	Availability   []byte                  `json:"availability"`
	Phase          platform.LifecyclePhase `json:"-"`
	PhaseName      string                  `json:"session_phase"`
	DisplayID      int                     `json:"display_id"`
}

// Orchestrator is the single owner of UIState.
type Orchestrator struct {
	cfg     Config
	deps    Deps
	logger  *zap.Logger
	metrics *metrics.Metrics
	lookup  map[platform.ComponentName]int

	commands chan func()
	done     chan struct{}

	mu      sync.Mutex
	started bool
	err     error

	// Owned by the run loop.
	displayID    int
	current      int
	reported     int
	availability []byte
	phase        platform.LifecyclePhase
}

// New validates cfg and creates an orchestrator.
func New(cfg Config, deps Deps) (*Orchestrator, error) {
	if len(cfg.Activities) == 0 {
		return nil, ErrNoActivities
	}
	for i, a := range cfg.Activities {
		if a.IsZero() {
			return nil, fmt.Errorf("%w: activity %d has no component name", ErrConfiguration, i)
		}
	}
	if deps.Tasks == nil || deps.Cluster == nil || deps.Sessions == nil || deps.Input == nil ||
		deps.Injector == nil || deps.Launcher == nil {
		return nil, fmt.Errorf("%w: missing platform service", ErrConfiguration)
	}
	if cfg.CycleKey == platform.KeyCodeUnknown {
		cfg.CycleKey = platform.KeyCodeMenu
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	// Built forward so that a duplicated activity resolves to its highest
	// index.
	lookup := make(map[platform.ComponentName]int, len(cfg.Activities))
	for i, a := range cfg.Activities {
		lookup[a] = i
	}

	return &Orchestrator{
		cfg:      cfg,
		deps:     deps,
		logger:   logger.Named("home"),
		metrics:  deps.Metrics,
		lookup:   lookup,
		commands: make(chan func()),
		done:     make(chan struct{}),
		reported: platform.UITypeNone,
		phase:    platform.PhaseStarting,
	}, nil
}

// Start reads the initial cluster state, reports it, subscribes to the four
// event streams and runs the event loop until ctx is done. Failing to
// subscribe to any stream is fatal and releases the ones already taken.
func (o *Orchestrator) Start(ctx context.Context, displayID int) error {
	o.mu.Lock()
	if o.started {
		o.mu.Unlock()
		return errors.New("home: orchestrator already started")
	}
	o.started = true
	o.mu.Unlock()

	o.displayID = displayID
	o.availability = o.buildAvailability()

	initial := o.deps.Cluster.ClusterState().UIType
	if !o.inRange(initial) {
		o.logger.Warn("initial ui type out of range, using home", zap.Int("ui_type", initial))
		initial = platform.UITypeHome
	}
	o.current = initial
	o.deps.Cluster.ReportState(initial, platform.UITypeNone, o.availability)

	runCtx, cancel := context.WithCancel(ctx)
	streams, err := o.register(runCtx, displayID)
	if err != nil {
		cancel()
		o.stop(err)
		return err
	}

	o.logger.Info("orchestrator started",
		zap.Int("display_id", displayID),
		zap.Int("ui_type", initial),
		zap.Int("ui_count", len(o.cfg.Activities)),
		zap.Binary("availability", o.availability))

	if initial != platform.UITypeHome {
		o.requestSwitch(initial, sourceInitial)
	}

	go func() {
		err := o.run(runCtx, streams)
		cancel()
		o.stop(err)
	}()
	return nil
}

type streams struct {
	lifecycle <-chan platform.LifecyclePhase
	cluster   <-chan platform.ClusterStateChange
	tasks     <-chan platform.TopTask
	keys      <-chan []platform.KeyEvent
}

func (o *Orchestrator) register(ctx context.Context, displayID int) (streams, error) {
	var s streams
	var err error
	if s.lifecycle, err = o.deps.Sessions.WatchLifecycle(ctx); err != nil {
		return s, fmt.Errorf("%w: user lifecycle: %v", ErrRegistration, err)
	}
	if s.cluster, err = o.deps.Cluster.WatchClusterState(ctx); err != nil {
		return s, fmt.Errorf("%w: cluster state: %v", ErrRegistration, err)
	}
	if s.tasks, err = o.deps.Tasks.WatchTopTask(ctx, displayID); err != nil {
		return s, fmt.Errorf("%w: task stack: %v", ErrRegistration, err)
	}
	if s.keys, err = o.deps.Input.CaptureKeys(ctx, platform.DisplayTypeInstrumentCluster); err != nil {
		return s, fmt.Errorf("%w: key capture: %v", ErrRegistration, err)
	}
	return s, nil
}

func (o *Orchestrator) run(ctx context.Context, s streams) error {
	for {
		select {
		case <-ctx.Done():
			o.logger.Info("orchestrator stopped")
			return nil
		case fn := <-o.commands:
			fn()
		case phase, ok := <-s.lifecycle:
			if !ok {
				return o.streamClosed(ctx, "user lifecycle")
			}
			o.onLifecycle(phase)
		case change, ok := <-s.cluster:
			if !ok {
				return o.streamClosed(ctx, "cluster state")
			}
			o.onClusterStateChanged(change)
		case task, ok := <-s.tasks:
			if !ok {
				return o.streamClosed(ctx, "task stack")
			}
			o.onTopTaskChanged(task)
		case batch, ok := <-s.keys:
			if !ok {
				return o.streamClosed(ctx, "key capture")
			}
			for _, ev := range batch {
				o.onKeyEvent(ev)
			}
		}
	}
}

func (o *Orchestrator) streamClosed(ctx context.Context, name string) error {
	if ctx.Err() != nil {
		return nil
	}
	o.logger.Error("event stream closed", zap.String("stream", name))
	return fmt.Errorf("home: %s stream closed", name)
}

func (o *Orchestrator) stop(err error) {
	o.mu.Lock()
	o.err = err
	o.mu.Unlock()
	close(o.done)
}

// Done is closed when the orchestrator stops.
func (o *Orchestrator) Done() <-chan struct{} {
	return o.done
}

// Err returns the reason the orchestrator stopped, nil for a clean stop.
func (o *Orchestrator) Err() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.err
}

func (o *Orchestrator) onLifecycle(phase platform.LifecyclePhase) {
	o.logger.Info("user lifecycle", zap.Stringer("phase", phase))
	o.metrics.Lifecycle(phase.String())
	o.phase = phase
	if phase == platform.PhaseStarting {
		// Home is always allowed, even while the user is still starting.
		o.launch(platform.UITypeHome)
	}
}

func (o *Orchestrator) onClusterStateChanged(change platform.ClusterStateChange) {
	if change.Changes&platform.ConfigUIType == 0 {
		o.logger.Debug("ignoring cluster config change",
			zap.Uint32("changes", uint32(change.Changes)),
			zap.String("request_id", change.RequestID))
		return
	}
	o.logger.Debug("remote switch request",
		zap.Int("ui_type", change.UIType),
		zap.String("request_id", change.RequestID))
	o.requestSwitch(change.UIType, sourceRemote)
}

func (o *Orchestrator) onTopTaskChanged(task platform.TopTask) {
	if task.DisplayID != o.displayID {
		return
	}
	uiType, ok := o.lookup[task.TopActivity]
	if !ok {
		o.metrics.UnknownTopTask()
		o.logger.Warn("unexpected top activity on cluster",
			zap.String("activity", task.TopActivity.String()),
			zap.Int("display_id", task.DisplayID))
		return
	}
	if uiType == o.reported {
		return
	}
	o.reported = uiType
	o.deps.Cluster.ReportState(uiType, platform.UITypeNone, o.availability)
}

func (o *Orchestrator) onKeyEvent(ev platform.KeyEvent) {
	if ev.Code == o.cfg.CycleKey {
		if ev.Action != platform.KeyDown {
			return
		}
		o.cycle(sourceKey)
		return
	}
	o.metrics.InjectedKey()
	if err := o.deps.Injector.InjectKeyEvent(ev, platform.InjectAsync); err != nil {
		o.logger.Warn("key injection failed", zap.Stringer("key", ev.Code), zap.Error(err))
	}
}

func (o *Orchestrator) cycle(source string) {
	o.requestSwitch((o.current+1)%len(o.cfg.Activities), source)
}

// requestSwitch is the gated switch path shared by remote requests and the
// cycle key.
func (o *Orchestrator) requestSwitch(uiType int, source string) error {
	if !o.inRange(uiType) {
		o.metrics.Rejected()
		o.logger.Warn("rejecting switch to unknown ui type",
			zap.Int("ui_type", uiType),
			zap.String("source", source))
		return fmt.Errorf("%w: %d not in [0, %d)", ErrUIOutOfRange, uiType, len(o.cfg.Activities))
	}
	if o.phase != platform.PhaseUnlocked {
		o.metrics.Gated(source)
		o.logger.Info("ignoring switch during user switching",
			zap.Int("ui_type", uiType),
			zap.String("source", source),
			zap.Stringer("phase", o.phase))
		return nil
	}
	o.launch(uiType)
	return nil
}

func (o *Orchestrator) launch(uiType int) {
	o.current = uiType
	activity := o.cfg.Activities[uiType]
	userID := o.deps.Sessions.CurrentUser()
	if activity.Package == o.cfg.Package {
		userID = platform.UserSystem
	}

	req := platform.LaunchRequest{Activity: activity, DisplayID: o.displayID, UserID: userID}
	o.metrics.Launched(userID)
	if err := o.deps.Launcher.StartFixedActivity(req); err != nil {
		o.logger.Error("launch failed",
			zap.String("activity", activity.String()),
			zap.Int("user_id", userID),
			zap.Error(err))
		return
	}
	o.logger.Info("launched cluster activity",
		zap.Int("ui_type", uiType),
		zap.String("activity", activity.String()),
		zap.Int("user_id", userID))
}

func (o *Orchestrator) inRange(uiType int) bool {
	return uiType >= 0 && uiType < len(o.cfg.Activities)
}

func (o *Orchestrator) buildAvailability() []byte {
	out := make([]byte, len(o.cfg.Activities))
	for i, a := range o.cfg.Activities {
		if o.deps.Resolver == nil || o.deps.Resolver.IsAvailable(a) {
			out[i] = 1
		}
	}
	return out
}

// do runs fn on the event loop and waits for it.
func (o *Orchestrator) do(ctx context.Context, fn func()) error {
	o.mu.Lock()
	started := o.started
	o.mu.Unlock()
	if !started {
		return ErrNotRunning
	}

	finished := make(chan struct{})
	select {
	case o.commands <- func() { fn(); close(finished) }:
	case <-o.done:
		return ErrNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}
	// The loop owns fn now; wait for it even if ctx ends.
	select {
	case <-finished:
		return nil
	case <-o.done:
		return ErrNotRunning
	}
}

// State returns a snapshot of the UI state.
func (o *Orchestrator) State(ctx context.Context) (UIState, error) {
	var s UIState
	err := o.do(ctx, func() {
		s = UIState{
			CurrentUIType:  o.current,
			ReportedUIType: o.reported,
			Availability:   append([]byte(nil), o.availability...),
			Phase:          o.phase,
			PhaseName:      o.phase.String(),
			DisplayID:      o.displayID,
		}
	})
	return s, err
}

// Cycle advances to the next UI as the cycle key does.
func (o *Orchestrator) Cycle(ctx context.Context) error {
	return o.do(ctx, func() { o.cycle(sourceControl) })
}

// SwitchTo requests uiType directly, subject to the same gating as remote
// requests.
func (o *Orchestrator) SwitchTo(ctx context.Context, uiType int) error {
	var switchErr error
	if err := o.do(ctx, func() { switchErr = o.requestSwitch(uiType, sourceControl) }); err != nil {
		return err
	}
	return switchErr
}
