// Package sim is an in-memory platform. It backs the daemon's "sim" backend
// and serves as the collaborator for component tests: every platform call is
// recorded and every event stream can be driven directly.
package sim

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/1broseidon/clusterhome/internal/platform"
)

// Stream names accepted by FailWatch.
const (
	StreamDisplays  = "displays"
	StreamTasks     = "tasks"
	StreamLifecycle = "lifecycle"
	StreamKeys      = "keys"
)

// DefaultVirtualDisplayName is the name given to virtual displays unless
// overridden with WithVirtualDisplayName.
const DefaultVirtualDisplayName = "ClusterDisplay"

// VirtualDisplayRequest records one StartVirtualDisplay call.
type VirtualDisplayRequest struct {
	Width  int
	Height int
	DPI    int
	Name   string
}

// Platform implements every platform service in memory.
type Platform struct {
	mu sync.Mutex

	zones          []platform.OccupantZone
	zonesErr       error
	displays       map[int]platform.Display
	clusterForZone map[int]int
	nextDisplayID  int
	virtualName    string
	autoAttach     bool
	autoConfirm    bool
	watchErrs      map[string]error
	unavailable    map[platform.ComponentName]bool

	launches      []platform.LaunchRequest
	injected      []platform.KeyEvent
	virtualStarts []VirtualDisplayRequest

	displayFeed *platform.Feed[platform.DisplayEvent]
	taskFeed    *platform.Feed[platform.TopTask]
	keyFeed     *platform.Feed[[]platform.KeyEvent]
	sessions    *platform.SessionBroker
}

var (
	_ platform.OccupantService       = (*Platform)(nil)
	_ platform.DisplayService        = (*Platform)(nil)
	_ platform.VirtualDisplayFactory = (*Platform)(nil)
	_ platform.TaskMonitor           = (*Platform)(nil)
	_ platform.UserSessions          = (*Platform)(nil)
	_ platform.LifecyclePublisher    = (*Platform)(nil)
	_ platform.InputCapture          = (*Platform)(nil)
	_ platform.InputInjector         = (*Platform)(nil)
	_ platform.ActivityLauncher      = (*Platform)(nil)
	_ platform.ActivityResolver      = (*Platform)(nil)
)

// Option configures a Platform.
type Option func(*Platform)

// WithZones replaces the default single driver zone.
func WithZones(zones ...platform.OccupantZone) Option {
	return func(p *Platform) {
		p.zones = append([]platform.OccupantZone(nil), zones...)
	}
}

// WithPhysicalCluster attaches a physical cluster display to zoneID.
func WithPhysicalCluster(zoneID int, d platform.Display) Option {
	return func(p *Platform) {
		p.displays[d.ID] = d
		p.clusterForZone[zoneID] = d.ID
		if d.ID >= p.nextDisplayID {
			p.nextDisplayID = d.ID + 1
		}
	}
}

// WithVirtualDisplayName sets the name returned by StartVirtualDisplay.
func WithVirtualDisplayName(name string) Option {
	return func(p *Platform) {
		p.virtualName = name
	}
}

// WithAutoAttachVirtual makes StartVirtualDisplay add the display
// asynchronously, as a real networked display would once a client connects.
func WithAutoAttachVirtual() Option {
	return func(p *Platform) {
		p.autoAttach = true
	}
}

// WithAutoConfirmLaunch makes every launch move the activity to the top of
// its display, producing a task stack change.
func WithAutoConfirmLaunch() Option {
	return func(p *Platform) {
		p.autoConfirm = true
	}
}

// WithUser sets the foreground user identity.
func WithUser(user int) Option {
	return func(p *Platform) {
		p.sessions = platform.NewSessionBroker(user)
	}
}

// New creates a platform with one driver zone (id 0) and no displays.
func New(opts ...Option) *Platform {
	p := &Platform{
		zones:          []platform.OccupantZone{{ID: 0, Type: platform.OccupantDriver}},
		displays:       make(map[int]platform.Display),
		clusterForZone: make(map[int]int),
		nextDisplayID:  1,
		virtualName:    DefaultVirtualDisplayName,
		watchErrs:      make(map[string]error),
		unavailable:    make(map[platform.ComponentName]bool),
		displayFeed:    platform.NewFeed[platform.DisplayEvent](32),
		taskFeed:       platform.NewFeed[platform.TopTask](32),
		keyFeed:        platform.NewFeed[[]platform.KeyEvent](32),
		sessions:       platform.NewSessionBroker(10),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// SetZonesError makes OccupantZones fail with err.
func (p *Platform) SetZonesError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.zonesErr = err
}

// FailWatch makes the named stream's registration fail with err.
func (p *Platform) FailWatch(stream string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.watchErrs[stream] = err
}

// SetUnavailable marks an activity's backing package as not installed.
func (p *Platform) SetUnavailable(activity platform.ComponentName) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.unavailable[activity] = true
}

func (p *Platform) watchErr(stream string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.watchErrs[stream]
}

// OccupantZones returns the configured zones.
func (p *Platform) OccupantZones() ([]platform.OccupantZone, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.zonesErr != nil {
		return nil, p.zonesErr
	}
	return append([]platform.OccupantZone(nil), p.zones...), nil
}

// DisplayForOccupant returns the physical cluster display of zoneID, if any.
func (p *Platform) DisplayForOccupant(zoneID int, displayType platform.DisplayType) (*platform.Display, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if displayType != platform.DisplayTypeInstrumentCluster {
		return nil, nil
	}
	id, ok := p.clusterForZone[zoneID]
	if !ok {
		return nil, nil
	}
	d, ok := p.displays[id]
	if !ok {
		return nil, nil
	}
	return &d, nil
}

// Display looks up a display by id.
func (p *Platform) Display(id int) (platform.Display, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	d, ok := p.displays[id]
	return d, ok
}

// Displays lists the attached displays.
func (p *Platform) Displays() ([]platform.Display, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]platform.Display, 0, len(p.displays))
	for _, d := range p.displays {
		out = append(out, d)
	}
	return out, nil
}

// WatchDisplays subscribes to display hotplug events.
func (p *Platform) WatchDisplays(ctx context.Context) (<-chan platform.DisplayEvent, error) {
	if err := p.watchErr(StreamDisplays); err != nil {
		return nil, err
	}
	return p.displayFeed.Subscribe(ctx), nil
}

// AttachDisplay adds d and publishes a DisplayAdded event. A zero id is
// replaced with the next free id, which is returned.
func (p *Platform) AttachDisplay(d platform.Display) int {
	p.mu.Lock()
	if d.ID == 0 {
		d.ID = p.nextDisplayID
	}
	if d.ID >= p.nextDisplayID {
		p.nextDisplayID = d.ID + 1
	}
	p.displays[d.ID] = d
	p.mu.Unlock()

	p.displayFeed.Publish(platform.DisplayEvent{Kind: platform.DisplayAdded, DisplayID: d.ID})
	return d.ID
}

// DetachDisplay removes a display and publishes DisplayRemoved.
func (p *Platform) DetachDisplay(id int) {
	p.mu.Lock()
	delete(p.displays, id)
	p.mu.Unlock()

	p.displayFeed.Publish(platform.DisplayEvent{Kind: platform.DisplayRemoved, DisplayID: id})
}

// ChangeDisplay publishes DisplayChanged for id.
func (p *Platform) ChangeDisplay(id int) {
	p.displayFeed.Publish(platform.DisplayEvent{Kind: platform.DisplayChanged, DisplayID: id})
}

// StartVirtualDisplay records the request and returns the virtual display name.
func (p *Platform) StartVirtualDisplay(width, height, dpi int) (string, error) {
	if width <= 0 || height <= 0 || dpi <= 0 {
		return "", fmt.Errorf("invalid virtual display profile %dx%d@%d", width, height, dpi)
	}

	p.mu.Lock()
	name := p.virtualName
	p.virtualStarts = append(p.virtualStarts, VirtualDisplayRequest{Width: width, Height: height, DPI: dpi, Name: name})
	attach := p.autoAttach
	p.mu.Unlock()

	if attach {
		go p.AttachDisplay(platform.Display{
			Name:   name,
			Owner:  "virtual",
			Bounds: platform.Rect{Width: width, Height: height},
		})
	}
	return name, nil
}

// VirtualStarts returns the recorded virtual display requests.
func (p *Platform) VirtualStarts() []VirtualDisplayRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]VirtualDisplayRequest(nil), p.virtualStarts...)
}

// WatchTopTask subscribes to task stack changes. Events for every display
// are delivered; consumers filter on TopTask.DisplayID.
func (p *Platform) WatchTopTask(ctx context.Context, displayID int) (<-chan platform.TopTask, error) {
	if err := p.watchErr(StreamTasks); err != nil {
		return nil, err
	}
	return p.taskFeed.Subscribe(ctx), nil
}

// SetTopActivity publishes a task stack change for displayID.
func (p *Platform) SetTopActivity(displayID int, activity platform.ComponentName) {
	p.taskFeed.Publish(platform.TopTask{DisplayID: displayID, TopActivity: activity})
}

// WatchLifecycle subscribes to user lifecycle phases.
func (p *Platform) WatchLifecycle(ctx context.Context) (<-chan platform.LifecyclePhase, error) {
	if err := p.watchErr(StreamLifecycle); err != nil {
		return nil, err
	}
	return p.sessions.WatchLifecycle(ctx)
}

// CurrentUser returns the foreground user identity.
func (p *Platform) CurrentUser() int {
	return p.sessions.CurrentUser()
}

// PublishLifecycle delivers a lifecycle phase.
func (p *Platform) PublishLifecycle(phase platform.LifecyclePhase) {
	p.sessions.PublishLifecycle(phase)
}

// CaptureKeys subscribes to captured key batches.
func (p *Platform) CaptureKeys(ctx context.Context, displayType platform.DisplayType) (<-chan []platform.KeyEvent, error) {
	if err := p.watchErr(StreamKeys); err != nil {
		return nil, err
	}
	if displayType != platform.DisplayTypeInstrumentCluster {
		return nil, errors.New("sim: key capture is only supported for the instrument cluster")
	}
	return p.keyFeed.Subscribe(ctx), nil
}

// SendKeys delivers one captured key batch.
func (p *Platform) SendKeys(events ...platform.KeyEvent) {
	p.keyFeed.Publish(append([]platform.KeyEvent(nil), events...))
}

// InjectKeyEvent records a forwarded key event.
func (p *Platform) InjectKeyEvent(ev platform.KeyEvent, mode platform.InjectMode) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.injected = append(p.injected, ev)
	return nil
}

// Injected returns the forwarded key events.
func (p *Platform) Injected() []platform.KeyEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]platform.KeyEvent(nil), p.injected...)
}

// StartFixedActivity records the launch and, with auto-confirm, raises the
// activity to the top of its display.
func (p *Platform) StartFixedActivity(req platform.LaunchRequest) error {
	p.mu.Lock()
	p.launches = append(p.launches, req)
	confirm := p.autoConfirm
	p.mu.Unlock()

	if confirm {
		go p.SetTopActivity(req.DisplayID, req.Activity)
	}
	return nil
}

// Launches returns the recorded launches.
func (p *Platform) Launches() []platform.LaunchRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]platform.LaunchRequest(nil), p.launches...)
}

// IsAvailable reports whether activity was not marked unavailable.
func (p *Platform) IsAvailable(activity platform.ComponentName) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.unavailable[activity]
}
