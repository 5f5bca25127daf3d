// Package display provides the instrument cluster display.
//
// By default the provider adopts the physical display reserved for the
// driver's instrument cluster. When no such display is attached it starts a
// networked virtual display and waits for it to appear by name. After that
// it keeps tracking the chosen display and re-emits hotplug events filtered
// to the bound display id.
package display

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/1broseidon/clusterhome/internal/metrics"
	"github.com/1broseidon/clusterhome/internal/platform"
)

// Virtual display profile used when no physical cluster display exists.
const (
	DefaultVirtualWidth  = 1280
	DefaultVirtualHeight = 720
	DefaultVirtualDPI    = 320
)

// ErrConfiguration marks fatal configuration errors: the provider cannot
// work without a driver occupant definition.
var ErrConfiguration = errors.New("display: configuration error")

// ErrNoDriverZone is returned when no occupant zone belongs to the driver.
var ErrNoDriverZone = fmt.Errorf("%w: no occupant zone for the driver", ErrConfiguration)

// TrackingMode describes how the bound display was identified.
type TrackingMode int

const (
	Unbound TrackingMode = iota
	BoundByID
	BoundByName
)

// String returns the mode name.
func (m TrackingMode) String() string {
	switch m {
	case Unbound:
		return "unbound"
	case BoundByID:
		return "bound_by_id"
	case BoundByName:
		return "bound_by_name"
	default:
		return "unknown"
	}
}

// State is the ClusterDisplayState. DisplayID is platform.InvalidDisplay
// exactly when Mode is Unbound. PendingName is set only when the virtual
// fallback was started.
type State struct {
	DisplayID   int
	Mode        TrackingMode
	PendingName string
}

// String formats the state for logs.
func (s State) String() string {
	return fmt.Sprintf("ClusterDisplayState{ clusterDisplayId = %d, mode = %s, pendingName = %q }",
		s.DisplayID, s.Mode, s.PendingName)
}

// Config holds the virtual display profile.
type Config struct {
	VirtualWidth  int
	VirtualHeight int
	VirtualDPI    int
}

// DefaultConfig returns the standard 1280x720@320 virtual display profile.
func DefaultConfig() Config {
	return Config{
		VirtualWidth:  DefaultVirtualWidth,
		VirtualHeight: DefaultVirtualHeight,
		VirtualDPI:    DefaultVirtualDPI,
	}
}

// Provider discovers and tracks the cluster display.
type Provider struct {
	cfg       Config
	occupants platform.OccupantService
	displays  platform.DisplayService
	virtual   platform.VirtualDisplayFactory
	logger    *zap.Logger
	metrics   *metrics.Metrics

	mu       sync.RWMutex
	state    State
	acquired bool
}

// NewProvider creates a provider. It does not touch the platform until
// Acquire is called.
func NewProvider(cfg Config, occupants platform.OccupantService, displays platform.DisplayService,
	virtual platform.VirtualDisplayFactory, logger *zap.Logger, m *metrics.Metrics) *Provider {
	if cfg.VirtualWidth <= 0 || cfg.VirtualHeight <= 0 || cfg.VirtualDPI <= 0 {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{
		cfg:       cfg,
		occupants: occupants,
		displays:  displays,
		virtual:   virtual,
		logger:    logger.Named("display"),
		metrics:   m,
		state:     State{DisplayID: platform.InvalidDisplay, Mode: Unbound},
	}
}

// Acquire finds the cluster display and starts tracking it for the lifetime
// of ctx. The returned channel carries DisplayAdded/Removed/Changed events
// for the bound display only. When a physical display is adopted its
// DisplayAdded event is the first value on the channel. The channel is
// closed when ctx is done.
func (p *Provider) Acquire(ctx context.Context) (<-chan platform.DisplayEvent, error) {
	p.mu.Lock()
	if p.acquired {
		p.mu.Unlock()
		return nil, errors.New("display: provider already acquired")
	}
	p.acquired = true
	p.mu.Unlock()

	driver, err := p.driverZone()
	if err != nil {
		return nil, err
	}

	// Subscribe before probing so a display that shows up in between, such
	// as the virtual display started below, is not missed.
	trackCtx, cancel := context.WithCancel(ctx)
	in, err := p.displays.WatchDisplays(trackCtx)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("display: watch displays: %w", err)
	}

	clusterDisplay, err := p.occupants.DisplayForOccupant(driver.ID, platform.DisplayTypeInstrumentCluster)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("display: query cluster display for zone %d: %w", driver.ID, err)
	}

	out := make(chan platform.DisplayEvent, 16)
	if clusterDisplay != nil {
		p.logger.Info("found physical cluster display",
			zap.String("name", clusterDisplay.Name),
			zap.Int("id", clusterDisplay.ID),
			zap.String("owner", clusterDisplay.Owner))
		p.bind(clusterDisplay.ID, BoundByID)
		out <- platform.DisplayEvent{Kind: platform.DisplayAdded, DisplayID: clusterDisplay.ID}
	} else {
		p.logger.Info("no physical cluster display found, starting virtual display",
			zap.Int("width", p.cfg.VirtualWidth),
			zap.Int("height", p.cfg.VirtualHeight),
			zap.Int("dpi", p.cfg.VirtualDPI))
		name, err := p.virtual.StartVirtualDisplay(p.cfg.VirtualWidth, p.cfg.VirtualHeight, p.cfg.VirtualDPI)
		p.metrics.VirtualDisplayStarted()
		if err != nil {
			cancel()
			return nil, fmt.Errorf("display: start virtual display: %w", err)
		}
		p.mu.Lock()
		p.state.PendingName = name
		p.mu.Unlock()
		p.logger.Info("tracking virtual display by name", zap.String("name", name))
	}

	go func() {
		defer cancel()
		p.track(trackCtx, in, out)
	}()
	return out, nil
}

// State returns a snapshot of the tracking state.
func (p *Provider) State() State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// String formats the provider for logs.
func (p *Provider) String() string {
	return "Provider{ " + p.State().String() + " }"
}

func (p *Provider) driverZone() (platform.OccupantZone, error) {
	zones, err := p.occupants.OccupantZones()
	if err != nil {
		return platform.OccupantZone{}, fmt.Errorf("%w: list occupant zones: %v", ErrConfiguration, err)
	}
	// Assumes a car has exactly one driver.
	for _, zone := range zones {
		if zone.Type == platform.OccupantDriver {
			return zone, nil
		}
	}
	return platform.OccupantZone{}, ErrNoDriverZone
}

func (p *Provider) track(ctx context.Context, in <-chan platform.DisplayEvent, out chan<- platform.DisplayEvent) {
	defer close(out)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-in:
			if !ok {
				p.logger.Warn("display event stream closed")
				return
			}
			forward, ok := p.apply(ev)
			p.metrics.DisplayEvent(ev.Kind.String(), ok)
			if !ok {
				continue
			}
			select {
			case out <- forward:
			case <-ctx.Done():
				return
			}
		}
	}
}

// apply updates the state for one platform event and reports whether the
// event concerns the cluster display.
func (p *Provider) apply(ev platform.DisplayEvent) (platform.DisplayEvent, bool) {
	state := p.State()

	switch ev.Kind {
	case platform.DisplayAdded:
		if state.DisplayID != platform.InvalidDisplay {
			return ev, false
		}
		if state.PendingName == "" {
			p.bind(ev.DisplayID, BoundByID)
			return ev, true
		}
		d, ok := p.displays.Display(ev.DisplayID)
		if !ok || d.Name != state.PendingName {
			p.logger.Debug("ignoring display",
				zap.Int("id", ev.DisplayID),
				zap.String("want_name", state.PendingName))
			return ev, false
		}
		p.bind(ev.DisplayID, BoundByName)
		return ev, true

	case platform.DisplayRemoved:
		if state.DisplayID == platform.InvalidDisplay || ev.DisplayID != state.DisplayID {
			return ev, false
		}
		p.mu.Lock()
		p.state.DisplayID = platform.InvalidDisplay
		p.state.Mode = Unbound
		p.mu.Unlock()
		p.metrics.Bound(platform.InvalidDisplay)
		p.logger.Info("cluster display removed", zap.Int("id", ev.DisplayID))
		return ev, true

	case platform.DisplayChanged:
		return ev, state.DisplayID != platform.InvalidDisplay && ev.DisplayID == state.DisplayID
	}
	return ev, false
}

func (p *Provider) bind(id int, mode TrackingMode) {
	p.mu.Lock()
	p.state.DisplayID = id
	p.state.Mode = mode
	p.mu.Unlock()
	p.metrics.Bound(id)
	p.logger.Info("cluster display bound", zap.Int("id", id), zap.Stringer("mode", mode))
}
