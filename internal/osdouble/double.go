// Package osdouble is a stand-in for the cluster OS. It follows the UI
// reported by the cluster home daemon and asks for UI switches the way the
// real cluster OS does, through the vendor CLUSTER_SWITCH_UI property.
package osdouble

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/1broseidon/clusterhome/internal/clusterstate"
	"github.com/1broseidon/clusterhome/internal/platform"
	"github.com/1broseidon/clusterhome/internal/vhal"
)

// Client is the property transport to the daemon.
type Client interface {
	SetProperty(ctx context.Context, propID uint32, values []int32) error
	WatchReports(ctx context.Context) (<-chan clusterstate.Report, error)
}

// Double tracks the selected main UI.
type Double struct {
	client Client
	total  int
	logger *zap.Logger

	mu      sync.Mutex
	current int
}

// New creates a double that knows about total UIs.
func New(client Client, total int, logger *zap.Logger) (*Double, error) {
	if total <= 0 {
		return nil, fmt.Errorf("osdouble: need at least one ui, got %d", total)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Double{
		client:  client,
		total:   total,
		logger:  logger.Named("osdouble"),
		current: platform.UITypeHome,
	}, nil
}

// Current returns the last selected main UI.
func (d *Double) Current() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.current
}

// Observe applies reported states until ctx is done or the report stream
// ends. onSelect, if set, is called for every accepted report.
func (d *Double) Observe(ctx context.Context, onSelect func(vhal.ReportState)) error {
	reports, err := d.client.WatchReports(ctx)
	if err != nil {
		return fmt.Errorf("osdouble: watch reports: %w", err)
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case r, ok := <-reports:
			if !ok {
				return nil
			}
			state, ok := d.Apply(r)
			if ok && onSelect != nil {
				onSelect(state)
			}
		}
	}
}

// Apply handles one CLUSTER_REPORT_STATE value. Short vectors and main UIs
// outside the known range are ignored.
func (d *Double) Apply(r clusterstate.Report) (vhal.ReportState, bool) {
	state, err := vhal.DecodeReportState(r.Values, r.Availability)
	if err != nil {
		d.logger.Debug("ignoring report", zap.Uint64("seq", r.Seq), zap.Error(err))
		return vhal.ReportState{}, false
	}
	if state.MainUI < 0 || state.MainUI >= d.total {
		d.logger.Debug("ignoring report for unknown ui", zap.Int("main_ui", state.MainUI))
		return vhal.ReportState{}, false
	}
	d.mu.Lock()
	d.current = state.MainUI
	d.mu.Unlock()
	d.logger.Info("selected ui", zap.Int("main_ui", state.MainUI))
	return state, true
}

// SwitchUI asks the daemon to show mainUI.
func (d *Double) SwitchUI(ctx context.Context, mainUI int) error {
	d.logger.Info("switching ui", zap.Int("main_ui", mainUI))
	return d.client.SetProperty(ctx, vhal.VendorClusterSwitchUI, vhal.EncodeSwitchUI(mainUI))
}

// Cycle asks for the UI after the current one.
func (d *Double) Cycle(ctx context.Context) error {
	return d.SwitchUI(ctx, (d.Current()+1)%d.total)
}
