package home

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/1broseidon/clusterhome/internal/clusterstate"
	"github.com/1broseidon/clusterhome/internal/metrics"
	"github.com/1broseidon/clusterhome/internal/platform"
	"github.com/1broseidon/clusterhome/internal/platform/sim"
)

const (
	ownPackage     = "com.example.clusterhome"
	clusterDisplay = 7
	foregroundUser = 10
)

var (
	homeActivity  = platform.ComponentName{Package: ownPackage, Class: ownPackage + ".ClusterHomeActivity"}
	mapsActivity  = platform.ComponentName{Package: "com.example.maps", Class: "com.example.maps.ClusterMapActivity"}
	musicActivity = platform.ComponentName{Package: "com.example.music", Class: "com.example.music.ClusterMusicActivity"}
	phoneActivity = platform.ComponentName{Package: "com.example.dialer", Class: "com.example.dialer.ClusterPhoneActivity"}
)

type harness struct {
	t       *testing.T
	ctx     context.Context
	sim     *sim.Platform
	cluster *clusterstate.Service
	metrics *metrics.Metrics
	orch    *Orchestrator
}

func newHarness(t *testing.T, initialUI int, opts ...sim.Option) *harness {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())

	logger := zaptest.NewLogger(t)
	p := sim.New(append([]sim.Option{sim.WithUser(foregroundUser)}, opts...)...)
	m := metrics.New(prometheus.NewRegistry())
	cluster := clusterstate.New(platform.ClusterState{On: true, UIType: initialUI}, logger, m)

	orch, err := New(Config{
		Activities: []platform.ComponentName{homeActivity, mapsActivity, musicActivity, phoneActivity},
		Package:    ownPackage,
		CycleKey:   platform.KeyCodeMenu,
	}, Deps{
		Tasks:    p,
		Cluster:  cluster,
		Sessions: p,
		Input:    p,
		Injector: p,
		Launcher: p,
		Resolver: p,
		Logger:   logger,
		Metrics:  m,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		cancel()
		waitStopped(t, orch)
	})

	return &harness{t: t, ctx: ctx, sim: p, cluster: cluster, metrics: m, orch: orch}
}

// waitStopped blocks until a started orchestrator has left its loop, so
// nothing logs after the test returns.
func waitStopped(t *testing.T, o *Orchestrator) {
	t.Helper()
	o.mu.Lock()
	started := o.started
	o.mu.Unlock()
	if !started {
		return
	}
	select {
	case <-o.Done():
	case <-time.After(2 * time.Second):
		t.Error("orchestrator did not stop")
	}
}

func (h *harness) start() {
	h.t.Helper()
	require.NoError(h.t, h.orch.Start(h.ctx, clusterDisplay))
}

func (h *harness) requestSwitch(uiType int) {
	h.t.Helper()
	_, err := h.cluster.RequestSwitch(h.ctx, uiType)
	require.NoError(h.t, err)
}

func (h *harness) state() UIState {
	h.t.Helper()
	s, err := h.orch.State(h.ctx)
	require.NoError(h.t, err)
	return s
}

func (h *harness) setPhase(phase platform.LifecyclePhase) {
	h.t.Helper()
	h.sim.PublishLifecycle(phase)
	require.Eventually(h.t, func() bool {
		return h.state().Phase == phase
	}, time.Second, 5*time.Millisecond)
}

func (h *harness) waitLaunches(n int) []platform.LaunchRequest {
	h.t.Helper()
	require.Eventually(h.t, func() bool {
		return len(h.sim.Launches()) >= n
	}, time.Second, 5*time.Millisecond)
	return h.sim.Launches()
}

func (h *harness) waitReports(n int) []clusterstate.Report {
	h.t.Helper()
	require.Eventually(h.t, func() bool {
		return len(h.cluster.Reports()) >= n
	}, time.Second, 5*time.Millisecond)
	return h.cluster.Reports()
}

// settle waits until every event published so far has gone through the loop.
func (h *harness) settle() {
	h.t.Helper()
	time.Sleep(20 * time.Millisecond)
	h.state()
}

func mainUIs(reports []clusterstate.Report) []int {
	out := make([]int, len(reports))
	for i, r := range reports {
		out[i] = r.MainUI
	}
	return out
}

func activities(launches []platform.LaunchRequest) []platform.ComponentName {
	out := make([]platform.ComponentName, len(launches))
	for i, l := range launches {
		out[i] = l.Activity
	}
	return out
}

func key(code platform.KeyCode, action platform.KeyAction) platform.KeyEvent {
	return platform.KeyEvent{Code: code, Action: action}
}

func TestNew_Validation(t *testing.T) {
	p := sim.New()
	deps := Deps{Tasks: p, Cluster: clusterstate.New(platform.ClusterState{}, nil, nil), Sessions: p,
		Input: p, Injector: p, Launcher: p}

	_, err := New(Config{}, deps)
	require.ErrorIs(t, err, ErrNoActivities)
	assert.ErrorIs(t, err, ErrConfiguration)

	_, err = New(Config{Activities: []platform.ComponentName{{}}}, deps)
	assert.ErrorIs(t, err, ErrConfiguration)

	_, err = New(Config{Activities: []platform.ComponentName{homeActivity}}, Deps{})
	assert.ErrorIs(t, err, ErrConfiguration)

	o, err := New(Config{Activities: []platform.ComponentName{homeActivity}}, deps)
	require.NoError(t, err)
	assert.Equal(t, platform.KeyCodeMenu, o.cfg.CycleKey)
}

func TestStart_ReportsInitialState(t *testing.T) {
	h := newHarness(t, platform.UITypeHome)
	h.start()

	reports := h.waitReports(1)
	assert.Equal(t, []int{0}, mainUIs(reports))
	assert.Equal(t, platform.UITypeNone, reports[0].SubUI)
	assert.Equal(t, []byte{1, 1, 1, 1}, reports[0].Availability)

	s := h.state()
	assert.Equal(t, 0, s.CurrentUIType)
	assert.Equal(t, platform.UITypeNone, s.ReportedUIType)
	assert.Equal(t, platform.PhaseStarting, s.Phase)
	assert.Equal(t, clusterDisplay, s.DisplayID)
	assert.Empty(t, h.sim.Launches())
}

func TestStart_InitialNonHomeIsGated(t *testing.T) {
	h := newHarness(t, 2)
	h.start()

	h.settle()
	assert.Empty(t, h.sim.Launches())
	assert.Equal(t, 2, h.state().CurrentUIType)
	assert.Equal(t, []int{2}, mainUIs(h.cluster.Reports()))
	assert.Equal(t, float64(1), testutil.ToFloat64(h.metrics.GatedRequests.WithLabelValues(sourceInitial)))
}

func TestStart_InitialOutOfRangeFallsBackToHome(t *testing.T) {
	h := newHarness(t, 9)
	h.start()

	assert.Equal(t, []int{0}, mainUIs(h.waitReports(1)))
	assert.Equal(t, 0, h.state().CurrentUIType)
}

func TestStart_Availability(t *testing.T) {
	h := newHarness(t, platform.UITypeHome)
	h.sim.SetUnavailable(musicActivity)
	h.start()

	assert.Equal(t, []byte{1, 1, 0, 1}, h.waitReports(1)[0].Availability)
	assert.Equal(t, []byte{1, 1, 0, 1}, h.state().Availability)
}

func TestStart_RegistrationFailureIsFatal(t *testing.T) {
	for _, stream := range []string{sim.StreamLifecycle, sim.StreamTasks, sim.StreamKeys} {
		t.Run(stream, func(t *testing.T) {
			h := newHarness(t, platform.UITypeHome)
			h.sim.FailWatch(stream, errors.New("service unavailable"))

			err := h.orch.Start(h.ctx, clusterDisplay)
			require.ErrorIs(t, err, ErrRegistration)

			select {
			case <-h.orch.Done():
			default:
				t.Fatal("orchestrator should be stopped")
			}
			assert.ErrorIs(t, h.orch.Err(), ErrRegistration)

			_, err = h.orch.State(h.ctx)
			assert.ErrorIs(t, err, ErrNotRunning)
		})
	}
}

func TestStart_Twice(t *testing.T) {
	h := newHarness(t, platform.UITypeHome)
	h.start()
	assert.Error(t, h.orch.Start(h.ctx, clusterDisplay))
}

func TestState_BeforeStart(t *testing.T) {
	h := newHarness(t, platform.UITypeHome)
	_, err := h.orch.State(h.ctx)
	assert.ErrorIs(t, err, ErrNotRunning)
}

func TestLifecycle_StartingForcesHome(t *testing.T) {
	h := newHarness(t, 1)
	h.start()

	h.setPhase(platform.PhaseUnlocked)
	h.requestSwitch(1)
	h.waitLaunches(1)

	h.setPhase(platform.PhaseStarting)
	launches := h.waitLaunches(2)
	assert.Equal(t, homeActivity, launches[1].Activity)
	assert.Equal(t, platform.UserSystem, launches[1].UserID)
	assert.Equal(t, clusterDisplay, launches[1].DisplayID)
	assert.Equal(t, 0, h.state().CurrentUIType)
}

func TestLifecycle_SwitchingDoesNotLaunch(t *testing.T) {
	h := newHarness(t, platform.UITypeHome)
	h.start()

	h.setPhase(platform.PhaseSwitching)
	h.settle()
	assert.Empty(t, h.sim.Launches())
}

func TestRemoteSwitch_Unlocked(t *testing.T) {
	h := newHarness(t, platform.UITypeHome)
	h.start()
	h.setPhase(platform.PhaseUnlocked)

	h.requestSwitch(2)
	launches := h.waitLaunches(1)
	assert.Equal(t, platform.LaunchRequest{Activity: musicActivity, DisplayID: clusterDisplay, UserID: foregroundUser}, launches[0])

	s := h.state()
	assert.Equal(t, 2, s.CurrentUIType)
	// Reporting waits for the task change.
	assert.Equal(t, platform.UITypeNone, s.ReportedUIType)
	assert.Len(t, h.cluster.Reports(), 1)
}

func TestRemoteSwitch_RelaunchesCurrentUI(t *testing.T) {
	h := newHarness(t, platform.UITypeHome)
	h.start()
	h.setPhase(platform.PhaseUnlocked)

	h.requestSwitch(1)
	h.requestSwitch(1)
	assert.Equal(t, []platform.ComponentName{mapsActivity, mapsActivity}, activities(h.waitLaunches(2)))
}

func TestRemoteSwitch_GatedUntilUnlocked(t *testing.T) {
	for _, phase := range []platform.LifecyclePhase{platform.PhaseStarting, platform.PhaseSwitching} {
		t.Run(phase.String(), func(t *testing.T) {
			h := newHarness(t, platform.UITypeHome)
			h.start()
			if phase != platform.PhaseStarting {
				h.setPhase(phase)
			}

			h.requestSwitch(3)
			h.settle()
			assert.Empty(t, h.sim.Launches())
			assert.Equal(t, 0, h.state().CurrentUIType)
			assert.Equal(t, float64(1), testutil.ToFloat64(h.metrics.GatedRequests.WithLabelValues(sourceRemote)))
		})
	}
}

func TestRemoteSwitch_OutOfRangeRejected(t *testing.T) {
	h := newHarness(t, platform.UITypeHome)
	h.start()
	h.setPhase(platform.PhaseUnlocked)

	h.requestSwitch(4)
	h.requestSwitch(-3)
	h.settle()
	assert.Empty(t, h.sim.Launches())
	assert.Equal(t, 0, h.state().CurrentUIType)
	assert.Equal(t, float64(2), testutil.ToFloat64(h.metrics.RejectedRequests))

	err := h.orch.SwitchTo(h.ctx, 4)
	assert.ErrorIs(t, err, ErrUIOutOfRange)
}

func TestClusterStateChange_IgnoresDisplayOnlyChanges(t *testing.T) {
	h := newHarness(t, platform.UITypeHome)
	h.start()
	h.setPhase(platform.PhaseUnlocked)

	h.cluster.SetDisplay(false, platform.Rect{Width: 640, Height: 480})
	h.settle()
	assert.Empty(t, h.sim.Launches())
}

func TestTopTask_ReportsEachDistinctChangeOnce(t *testing.T) {
	h := newHarness(t, platform.UITypeHome)
	h.start()

	h.sim.SetTopActivity(clusterDisplay, homeActivity)
	h.sim.SetTopActivity(clusterDisplay, homeActivity)
	h.sim.SetTopActivity(clusterDisplay, mapsActivity)
	h.sim.SetTopActivity(clusterDisplay, mapsActivity)
	h.sim.SetTopActivity(clusterDisplay, mapsActivity)
	h.sim.SetTopActivity(clusterDisplay, homeActivity)
	h.settle()

	assert.Equal(t, []int{0, 0, 1, 0}, mainUIs(h.waitReports(4)))
	assert.Equal(t, 0, h.state().ReportedUIType)
}

func TestTopTask_UnknownActivityIsNotReported(t *testing.T) {
	h := newHarness(t, platform.UITypeHome)
	h.start()

	h.sim.SetTopActivity(clusterDisplay, mapsActivity)
	h.sim.SetTopActivity(clusterDisplay, platform.ComponentName{Package: "com.example.ads", Class: "com.example.ads.Banner"})
	h.sim.SetTopActivity(clusterDisplay, platform.ComponentName{})
	h.sim.SetTopActivity(clusterDisplay, mapsActivity)
	h.settle()

	assert.Equal(t, []int{0, 1}, mainUIs(h.cluster.Reports()))
	assert.Equal(t, 1, h.state().ReportedUIType)
	assert.Equal(t, float64(2), testutil.ToFloat64(h.metrics.UnknownTopTasks))
}

func TestTopTask_OtherDisplayIgnored(t *testing.T) {
	h := newHarness(t, platform.UITypeHome)
	h.start()

	h.sim.SetTopActivity(clusterDisplay+1, mapsActivity)
	h.settle()

	assert.Len(t, h.cluster.Reports(), 1)
	assert.Equal(t, platform.UITypeNone, h.state().ReportedUIType)
}

func TestTopTask_DoesNotMoveCurrentUI(t *testing.T) {
	h := newHarness(t, platform.UITypeHome)
	h.start()

	h.sim.SetTopActivity(clusterDisplay, phoneActivity)
	h.settle()

	s := h.state()
	assert.Equal(t, 3, s.ReportedUIType)
	assert.Equal(t, 0, s.CurrentUIType)
}

func TestTopTask_StaleConfirmationWins(t *testing.T) {
	h := newHarness(t, platform.UITypeHome)
	h.start()
	h.setPhase(platform.PhaseUnlocked)

	h.requestSwitch(1)
	h.requestSwitch(2)
	h.waitLaunches(2)

	// The confirmation for the first request arrives last.
	h.sim.SetTopActivity(clusterDisplay, mapsActivity)
	h.settle()

	s := h.state()
	assert.Equal(t, 2, s.CurrentUIType)
	assert.Equal(t, 1, s.ReportedUIType)
	assert.Equal(t, []int{0, 1}, mainUIs(h.cluster.Reports()))
}

func TestTopTask_ConfirmsLaunches(t *testing.T) {
	h := newHarness(t, platform.UITypeHome, sim.WithAutoConfirmLaunch())
	h.start()
	h.setPhase(platform.PhaseUnlocked)

	h.requestSwitch(3)
	assert.Equal(t, []int{0, 3}, mainUIs(h.waitReports(2)))
	assert.Equal(t, 3, h.state().ReportedUIType)
}

func TestCycleKey_WrapsAround(t *testing.T) {
	h := newHarness(t, platform.UITypeHome)
	h.start()
	h.setPhase(platform.PhaseUnlocked)

	for i := 0; i < 4; i++ {
		h.sim.SendKeys(key(platform.KeyCodeMenu, platform.KeyDown), key(platform.KeyCodeMenu, platform.KeyUp))
	}

	launches := h.waitLaunches(4)
	assert.Equal(t, []platform.ComponentName{mapsActivity, musicActivity, phoneActivity, homeActivity}, activities(launches))
	assert.Equal(t, platform.UserSystem, launches[3].UserID)
	assert.Equal(t, foregroundUser, launches[0].UserID)
	assert.Equal(t, 0, h.state().CurrentUIType)
	assert.Empty(t, h.sim.Injected())
}

func TestCycleKey_GatedWhileLocked(t *testing.T) {
	h := newHarness(t, platform.UITypeHome)
	h.start()

	h.sim.SendKeys(key(platform.KeyCodeMenu, platform.KeyDown))
	h.settle()

	assert.Empty(t, h.sim.Launches())
	assert.Equal(t, 0, h.state().CurrentUIType)
	assert.Equal(t, float64(1), testutil.ToFloat64(h.metrics.GatedRequests.WithLabelValues(sourceKey)))
}

func TestKeys_OthersAreForwarded(t *testing.T) {
	h := newHarness(t, platform.UITypeHome)
	h.start()

	events := []platform.KeyEvent{
		key(platform.KeyCodeDpadUp, platform.KeyDown),
		key(platform.KeyCodeDpadUp, platform.KeyUp),
		key(platform.KeyCodeEnter, platform.KeyDown),
	}
	h.sim.SendKeys(events...)

	require.Eventually(t, func() bool {
		return len(h.sim.Injected()) == len(events)
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, events, h.sim.Injected())
	assert.Equal(t, float64(3), testutil.ToFloat64(h.metrics.InjectedKeys))
}

func TestCycle_Control(t *testing.T) {
	h := newHarness(t, 3)
	h.start()
	h.setPhase(platform.PhaseUnlocked)

	require.NoError(t, h.orch.Cycle(h.ctx))
	launches := h.waitLaunches(1)
	assert.Equal(t, homeActivity, launches[0].Activity)

	require.NoError(t, h.orch.SwitchTo(h.ctx, 2))
	assert.Equal(t, 2, h.state().CurrentUIType)
}

func TestStop_OnCancel(t *testing.T) {
	h := newHarness(t, platform.UITypeHome)
	ctx, cancel := context.WithCancel(h.ctx)
	require.NoError(t, h.orch.Start(ctx, clusterDisplay))

	cancel()
	select {
	case <-h.orch.Done():
	case <-time.After(time.Second):
		t.Fatal("orchestrator did not stop")
	}
	assert.NoError(t, h.orch.Err())
}

func TestDo_WaitsForAcceptedCommandAfterCancel(t *testing.T) {
	h := newHarness(t, platform.UITypeHome)
	h.start()

	ctx, cancel := context.WithCancel(h.ctx)
	running := make(chan struct{})
	release := make(chan struct{})
	ran := false
	errc := make(chan error, 1)
	go func() {
		errc <- h.orch.do(ctx, func() {
			close(running)
			<-release
			ran = true
		})
	}()

	<-running
	cancel()
	select {
	case err := <-errc:
		t.Fatalf("do returned %v while its command was still running", err)
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	require.NoError(t, <-errc)
	assert.True(t, ran)
}

func TestLookup_DuplicateActivityUsesLastIndex(t *testing.T) {
	p := sim.New()
	o, err := New(Config{Activities: []platform.ComponentName{homeActivity, mapsActivity, mapsActivity}}, Deps{
		Tasks: p, Cluster: clusterstate.New(platform.ClusterState{}, nil, nil), Sessions: p,
		Input: p, Injector: p, Launcher: p,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, o.lookup[mapsActivity])
}
