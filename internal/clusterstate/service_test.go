package clusterstate

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/1broseidon/clusterhome/internal/metrics"
	"github.com/1broseidon/clusterhome/internal/platform"
	"github.com/1broseidon/clusterhome/internal/vhal"
)

func TestReportState(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	s := New(platform.ClusterState{On: true, Bounds: platform.Rect{Width: 1280, Height: 720}}, zaptest.NewLogger(t), m)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	reports := s.WatchReports(ctx)

	s.ReportState(2, platform.UITypeNone, []byte{1, 1, 1})

	select {
	case r := <-reports:
		assert.Equal(t, uint64(1), r.Seq)
		assert.Equal(t, vhal.VendorClusterReportState, r.PropID)
		assert.Equal(t, 2, r.MainUI)
		decoded, err := vhal.DecodeReportState(r.Values, r.Availability)
		require.NoError(t, err)
		assert.Equal(t, 2, decoded.MainUI)
		assert.True(t, decoded.On)
		assert.Equal(t, 1280, decoded.Bounds.Width)
	case <-time.After(time.Second):
		t.Fatal("no report")
	}

	assert.Equal(t, 2, s.ClusterState().UIType)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.StateReports))

	last, ok := s.LastReport()
	require.True(t, ok)
	assert.Equal(t, 2, last.MainUI)
}

func TestReportHistoryIsBounded(t *testing.T) {
	s := New(platform.ClusterState{}, nil, nil)
	for i := 0; i < historySize+10; i++ {
		s.ReportState(i%4, platform.UITypeNone, nil)
	}
	history := s.Reports()
	require.Len(t, history, historySize)
	assert.Equal(t, uint64(11), history[0].Seq)
}

func TestRequestSwitch(t *testing.T) {
	s := New(platform.ClusterState{}, zaptest.NewLogger(t), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	changes, err := s.WatchClusterState(ctx)
	require.NoError(t, err)

	id, err := s.RequestSwitch(ctx, 3)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	change := <-changes
	assert.Equal(t, 3, change.UIType)
	assert.Equal(t, platform.ConfigUIType, change.Changes)
	assert.Equal(t, id, change.RequestID)
}

func TestSetProperty(t *testing.T) {
	s := New(platform.ClusterState{}, zaptest.NewLogger(t), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	changes, err := s.WatchClusterState(ctx)
	require.NoError(t, err)

	_, err = s.SetProperty(ctx, vhal.VendorClusterSwitchUI, vhal.EncodeSwitchUI(1))
	require.NoError(t, err)
	assert.Equal(t, 1, (<-changes).UIType)

	_, err = s.SetProperty(ctx, vhal.ClusterReportState, []int32{1})
	assert.Error(t, err)
	_, err = s.SetProperty(ctx, vhal.ClusterSwitchUI, nil)
	assert.Error(t, err)
}

func TestRequestSwitch_NoListener(t *testing.T) {
	s := New(platform.ClusterState{}, zaptest.NewLogger(t), nil)

	id, err := s.RequestSwitch(context.Background(), 2)
	assert.ErrorIs(t, err, ErrNoListener)
	assert.Empty(t, id)
}

func TestRequestSwitch_StalledListenerTimesOut(t *testing.T) {
	s := New(platform.ClusterState{}, zaptest.NewLogger(t), nil)

	watchCtx, stopWatching := context.WithCancel(context.Background())
	defer stopWatching()
	_, err := s.WatchClusterState(watchCtx)
	require.NoError(t, err)

	// Fill the listener's buffer without reading it.
	for i := 0; i < 16; i++ {
		_, err := s.RequestSwitch(context.Background(), 1)
		require.NoError(t, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err = s.RequestSwitch(ctx, 2)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestSetDisplay(t *testing.T) {
	s := New(platform.ClusterState{UIType: 1}, zaptest.NewLogger(t), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	changes, err := s.WatchClusterState(ctx)
	require.NoError(t, err)

	s.SetDisplay(true, platform.Rect{Width: 800, Height: 480})
	change := <-changes
	assert.Equal(t, platform.ConfigDisplayOnOff|platform.ConfigDisplayBounds, change.Changes)
	assert.Equal(t, 1, change.UIType)
	assert.Zero(t, change.Changes&platform.ConfigUIType)

	// No change, no event.
	s.SetDisplay(true, platform.Rect{Width: 800, Height: 480})
	select {
	case c := <-changes:
		t.Fatalf("unexpected change %+v", c)
	case <-time.After(50 * time.Millisecond):
	}
}
