package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Metrics holds the Prometheus collectors for the cluster daemon. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	StateReports     prometheus.Counter
	ActivityLaunches *prometheus.CounterVec
	GatedRequests    *prometheus.CounterVec
	RejectedRequests prometheus.Counter
	UnknownTopTasks  prometheus.Counter
	InjectedKeys     prometheus.Counter
	DisplayBound     prometheus.Gauge
	DisplayEvents    *prometheus.CounterVec
	VirtualDisplays  prometheus.Counter
	LifecycleChanges *prometheus.CounterVec
}

// New registers the collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	m := &Metrics{
		StateReports: f.NewCounter(prometheus.CounterOpts{
			Name: "clusterhome_state_reports_total",
			Help: "Cluster UI states reported to the state channel",
		}),
		ActivityLaunches: f.NewCounterVec(prometheus.CounterOpts{
			Name: "clusterhome_activity_launches_total",
			Help: "Fixed-mode activity launches issued, by user identity",
		}, []string{"user"}),
		GatedRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "clusterhome_gated_requests_total",
			Help: "UI switch requests dropped while the user session was not unlocked",
		}, []string{"source"}),
		RejectedRequests: f.NewCounter(prometheus.CounterOpts{
			Name: "clusterhome_rejected_requests_total",
			Help: "UI switch requests rejected for an out-of-range UI type",
		}),
		UnknownTopTasks: f.NewCounter(prometheus.CounterOpts{
			Name: "clusterhome_unknown_top_activity_total",
			Help: "Task stack changes whose top activity is not a configured cluster UI",
		}),
		InjectedKeys: f.NewCounter(prometheus.CounterOpts{
			Name: "clusterhome_injected_keys_total",
			Help: "Captured key events forwarded to the input pipeline",
		}),
		DisplayBound: f.NewGauge(prometheus.GaugeOpts{
			Name: "clusterhome_display_bound",
			Help: "Currently bound cluster display id, -1 when unbound",
		}),
		DisplayEvents: f.NewCounterVec(prometheus.CounterOpts{
			Name: "clusterhome_display_events_total",
			Help: "Display hotplug events seen by the provider",
		}, []string{"kind", "forwarded"}),
		VirtualDisplays: f.NewCounter(prometheus.CounterOpts{
			Name: "clusterhome_virtual_display_starts_total",
			Help: "Virtual display start requests",
		}),
		LifecycleChanges: f.NewCounterVec(prometheus.CounterOpts{
			Name: "clusterhome_lifecycle_events_total",
			Help: "User lifecycle events observed",
		}, []string{"phase"}),
	}
	m.DisplayBound.Set(-1)
	return m
}

func (m *Metrics) ReportedState() {
	if m != nil {
		m.StateReports.Inc()
	}
}

func (m *Metrics) Launched(userID int) {
	if m != nil {
		m.ActivityLaunches.WithLabelValues(strconv.Itoa(userID)).Inc()
	}
}

func (m *Metrics) Gated(source string) {
	if m != nil {
		m.GatedRequests.WithLabelValues(source).Inc()
	}
}

func (m *Metrics) Rejected() {
	if m != nil {
		m.RejectedRequests.Inc()
	}
}

func (m *Metrics) UnknownTopTask() {
	if m != nil {
		m.UnknownTopTasks.Inc()
	}
}

func (m *Metrics) InjectedKey() {
	if m != nil {
		m.InjectedKeys.Inc()
	}
}

func (m *Metrics) Bound(displayID int) {
	if m != nil {
		m.DisplayBound.Set(float64(displayID))
	}
}

func (m *Metrics) DisplayEvent(kind string, forwarded bool) {
	if m != nil {
		m.DisplayEvents.WithLabelValues(kind, strconv.FormatBool(forwarded)).Inc()
	}
}

func (m *Metrics) VirtualDisplayStarted() {
	if m != nil {
		m.VirtualDisplays.Inc()
	}
}

func (m *Metrics) Lifecycle(phase string) {
	if m != nil {
		m.LifecycleChanges.WithLabelValues(phase).Inc()
	}
}

// Serve exposes gatherer on addr under /metrics until ctx is done.
func Serve(ctx context.Context, addr string, gatherer prometheus.Gatherer, logger *zap.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("metrics listener started", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
