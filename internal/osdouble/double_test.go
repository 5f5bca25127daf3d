package osdouble

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/1broseidon/clusterhome/internal/clusterstate"
	"github.com/1broseidon/clusterhome/internal/platform"
	"github.com/1broseidon/clusterhome/internal/vhal"
)

// localClient talks to an in-process state channel.
type localClient struct {
	svc *clusterstate.Service
}

func (c localClient) SetProperty(ctx context.Context, propID uint32, values []int32) error {
	_, err := c.svc.SetProperty(ctx, propID, values)
	return err
}

func (c localClient) WatchReports(ctx context.Context) (<-chan clusterstate.Report, error) {
	return c.svc.WatchReports(ctx), nil
}

func TestNew_RequiresUIs(t *testing.T) {
	_, err := New(localClient{}, 0, nil)
	assert.Error(t, err)
}

func TestApply(t *testing.T) {
	d, err := New(localClient{}, 4, zaptest.NewLogger(t))
	require.NoError(t, err)

	values, avail := vhal.EncodeReportState(vhal.ReportState{MainUI: 2, SubUI: platform.UITypeNone})
	_, ok := d.Apply(clusterstate.Report{Values: values, Availability: avail})
	require.True(t, ok)
	assert.Equal(t, 2, d.Current())

	// Too short.
	_, ok = d.Apply(clusterstate.Report{Values: values[:10]})
	assert.False(t, ok)

	// Unknown UI.
	values, _ = vhal.EncodeReportState(vhal.ReportState{MainUI: 4})
	_, ok = d.Apply(clusterstate.Report{Values: values})
	assert.False(t, ok)
	assert.Equal(t, 2, d.Current())
}

func TestSwitchAndCycle(t *testing.T) {
	svc := clusterstate.New(platform.ClusterState{}, zaptest.NewLogger(t), nil)
	d, err := New(localClient{svc: svc}, 4, zaptest.NewLogger(t))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	changes, err := svc.WatchClusterState(ctx)
	require.NoError(t, err)

	require.NoError(t, d.SwitchUI(ctx, 3))
	assert.Equal(t, 3, (<-changes).UIType)

	// Current is only moved by reports.
	require.NoError(t, d.Cycle(ctx))
	assert.Equal(t, 1, (<-changes).UIType)
}

func TestObserve(t *testing.T) {
	svc := clusterstate.New(platform.ClusterState{}, zaptest.NewLogger(t), nil)
	d, err := New(localClient{svc: svc}, 4, zaptest.NewLogger(t))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	selected := make(chan int, 4)
	done := make(chan error, 1)
	go func() {
		done <- d.Observe(ctx, func(s vhal.ReportState) { selected <- s.MainUI })
	}()

	require.Eventually(t, func() bool {
		svc.ReportState(3, platform.UITypeNone, []byte{1, 1, 1, 1})
		select {
		case ui := <-selected:
			return ui == 3
		case <-time.After(10 * time.Millisecond):
			return false
		}
	}, time.Second, 20*time.Millisecond)
	assert.Equal(t, 3, d.Current())

	changes, err := svc.WatchClusterState(ctx)
	require.NoError(t, err)
	require.NoError(t, d.Cycle(ctx))
	assert.Equal(t, 0, (<-changes).UIType)

	cancel()
	assert.NoError(t, <-done)
}
