// Package clusterstate implements the state channel shared between the
// cluster home daemon and the cluster OS. The daemon reports the UI it is
// showing; the cluster OS asks for a different UI by setting the
// CLUSTER_SWITCH_UI property.
package clusterstate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/1broseidon/clusterhome/internal/metrics"
	"github.com/1broseidon/clusterhome/internal/platform"
	"github.com/1broseidon/clusterhome/internal/vhal"
)

const historySize = 64

// ErrNoListener is returned for switch requests while nothing watches the
// cluster state.
var ErrNoListener = errors.New("clusterstate: no cluster state listener")

// Report is one CLUSTER_REPORT_STATE publication.
type Report struct {
	Seq          uint64    `json:"seq"`
	Time         time.Time `json:"time"`
	PropID       uint32    `json:"prop_id"`
	Values       []int32   `json:"values"`
	Availability []byte    `json:"availability"`
	MainUI       int       `json:"main_ui"`
	SubUI        int       `json:"sub_ui"`
}

// Service is an in-process cluster state channel.
type Service struct {
	logger  *zap.Logger
	metrics *metrics.Metrics

	mu      sync.Mutex
	state   platform.ClusterState
	history []Report
	seq     uint64

	changes *platform.Feed[platform.ClusterStateChange]
	reports *platform.Feed[Report]
}

var _ platform.ClusterStateChannel = (*Service)(nil)

// New creates a channel whose last-known configuration is initial.
func New(initial platform.ClusterState, logger *zap.Logger, m *metrics.Metrics) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		logger:  logger.Named("clusterstate"),
		metrics: m,
		state:   initial,
		changes: platform.NewFeed[platform.ClusterStateChange](16),
		reports: platform.NewLossyFeed[Report](64),
	}
}

// ReportState publishes the UI currently shown on the cluster display.
func (s *Service) ReportState(uiType, subUIType int, availability []byte) {
	s.mu.Lock()
	s.state.UIType = uiType
	values, avail := vhal.EncodeReportState(vhal.ReportState{
		On:           s.state.On,
		Bounds:       s.state.Bounds,
		MainUI:       uiType,
		SubUI:        subUIType,
		Availability: availability,
	})
	s.seq++
	r := Report{
		Seq:          s.seq,
		Time:         time.Now(),
		PropID:       vhal.VendorClusterReportState,
		Values:       values,
		Availability: avail,
		MainUI:       uiType,
		SubUI:        subUIType,
	}
	s.history = append(s.history, r)
	if len(s.history) > historySize {
		s.history = s.history[len(s.history)-historySize:]
	}
	s.mu.Unlock()

	s.metrics.ReportedState()
	s.logger.Info("reported cluster state",
		zap.Uint64("seq", r.Seq),
		zap.Int("main_ui", uiType),
		zap.Int("sub_ui", subUIType),
		zap.Binary("availability", avail))
	s.reports.Publish(r)
}

// ClusterState returns the last-known cluster configuration.
func (s *Service) ClusterState() platform.ClusterState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// WatchClusterState subscribes to configuration changes.
func (s *Service) WatchClusterState(ctx context.Context) (<-chan platform.ClusterStateChange, error) {
	return s.changes.Subscribe(ctx), nil
}

// RequestSwitch asks the cluster home to show uiType, as the cluster OS does
// through CLUSTER_SWITCH_UI. It returns the request id used in logs. The
// request fails when no listener is subscribed or when ctx ends before the
// listener accepts it.
func (s *Service) RequestSwitch(ctx context.Context, uiType int) (string, error) {
	if s.changes.Subscribers() == 0 {
		return "", ErrNoListener
	}
	id := uuid.NewString()
	s.logger.Info("switch ui requested", zap.Int("ui_type", uiType), zap.String("request_id", id))
	n, err := s.changes.PublishContext(ctx, platform.ClusterStateChange{
		UIType:    uiType,
		Changes:   platform.ConfigUIType,
		RequestID: id,
	})
	if err != nil {
		s.logger.Warn("switch ui request not delivered", zap.String("request_id", id), zap.Error(err))
		return "", fmt.Errorf("clusterstate: deliver switch request %s: %w", id, err)
	}
	if n == 0 {
		return "", ErrNoListener
	}
	return id, nil
}

// SetDisplay updates the display power and bounds. Subscribers see a change
// with the display bits set and the UI type untouched.
func (s *Service) SetDisplay(on bool, bounds platform.Rect) {
	s.mu.Lock()
	var changes platform.ClusterConfig
	if s.state.On != on {
		changes |= platform.ConfigDisplayOnOff
	}
	if s.state.Bounds != bounds {
		changes |= platform.ConfigDisplayBounds
	}
	s.state.On = on
	s.state.Bounds = bounds
	uiType := s.state.UIType
	s.mu.Unlock()

	if changes == 0 {
		return
	}
	s.changes.Publish(platform.ClusterStateChange{
		UIType:    uiType,
		Changes:   changes,
		RequestID: uuid.NewString(),
	})
}

// SetProperty handles a property write from the cluster OS. Only
// CLUSTER_SWITCH_UI, in its system or vendor form, is writable.
func (s *Service) SetProperty(ctx context.Context, propID uint32, values []int32) (string, error) {
	if propID != vhal.ClusterSwitchUI && propID != vhal.VendorClusterSwitchUI {
		return "", fmt.Errorf("clusterstate: property %s is not writable", vhal.PropertyName(propID))
	}
	uiType, err := vhal.DecodeSwitchUI(values)
	if err != nil {
		return "", err
	}
	return s.RequestSwitch(ctx, uiType)
}

// Reports returns the most recent reports, oldest first.
func (s *Service) Reports() []Report {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Report(nil), s.history...)
}

// LastReport returns the most recent report.
func (s *Service) LastReport() (Report, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.history) == 0 {
		return Report{}, false
	}
	return s.history[len(s.history)-1], true
}

// WatchReports streams reports published after the call. Slow readers miss
// reports rather than stalling the daemon.
func (s *Service) WatchReports(ctx context.Context) <-chan Report {
	return s.reports.Subscribe(ctx)
}
