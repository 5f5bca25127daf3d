package platform

import (
	"context"
	"fmt"
	"strings"
)

// InvalidDisplay is the display id used when no display is bound.
const InvalidDisplay = -1

// UserSystem is the user identity that owns system-level activities.
const UserSystem = 0

// Cluster UI type sentinels. Index 0 of the configured activity list is always home.
const (
	UITypeNone = -1
	UITypeHome = 0
)

// Rect describes a rectangular region in screen coordinates.
type Rect struct {
	X      int
	Y      int
	Width  int
	Height int
}

// OccupantType identifies the seat an occupant zone belongs to.
type OccupantType int

const (
	OccupantDriver OccupantType = iota
	OccupantFrontPassenger
	OccupantRearPassenger
)

// String returns the config name of the occupant type.
func (t OccupantType) String() string {
	switch t {
	case OccupantDriver:
		return "driver"
	case OccupantFrontPassenger:
		return "front_passenger"
	case OccupantRearPassenger:
		return "rear_passenger"
	default:
		return "unknown"
	}
}

// ParseOccupantType parses the config name of an occupant type.
func ParseOccupantType(s string) (OccupantType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "driver":
		return OccupantDriver, nil
	case "front_passenger", "front-passenger":
		return OccupantFrontPassenger, nil
	case "rear_passenger", "rear-passenger":
		return OccupantRearPassenger, nil
	default:
		return 0, fmt.Errorf("unknown occupant type %q", s)
	}
}

// DisplayType classifies the role of a display inside an occupant zone.
type DisplayType int

const (
	DisplayTypeUnknown DisplayType = iota
	DisplayTypeMain
	DisplayTypeInstrumentCluster
)

// OccupantZone groups a seating position with its assigned displays.
type OccupantZone struct {
	ID   int
	Type OccupantType
}

// Display describes a display known to the platform.
type Display struct {
	ID     int
	Name   string
	Owner  string
	Bounds Rect
}

// DisplayEventKind is the kind of a display hotplug notification.
type DisplayEventKind int

const (
	DisplayAdded DisplayEventKind = iota
	DisplayRemoved
	DisplayChanged
)

// String returns a short name for the event kind.
func (k DisplayEventKind) String() string {
	switch k {
	case DisplayAdded:
		return "added"
	case DisplayRemoved:
		return "removed"
	case DisplayChanged:
		return "changed"
	default:
		return "unknown"
	}
}

// DisplayEvent is one entry of the display added/removed/changed stream.
type DisplayEvent struct {
	Kind      DisplayEventKind
	DisplayID int
}

// ComponentName identifies an activity by package and class.
type ComponentName struct {
	Package string
	Class   string
}

// ParseComponentName parses the flattened "package/class" form. A class
// starting with "." is relative to the package.
func ParseComponentName(s string) (ComponentName, error) {
	s = strings.TrimSpace(s)
	pkg, cls, ok := strings.Cut(s, "/")
	if !ok || pkg == "" || cls == "" {
		return ComponentName{}, fmt.Errorf("invalid component name %q: want package/class", s)
	}
	if strings.HasPrefix(cls, ".") {
		cls = pkg + cls
	}
	return ComponentName{Package: pkg, Class: cls}, nil
}

// String returns the flattened "package/class" form.
func (c ComponentName) String() string {
	if c.IsZero() {
		return ""
	}
	return c.Package + "/" + c.Class
}

// IsZero reports whether c names no activity.
func (c ComponentName) IsZero() bool {
	return c.Package == "" && c.Class == ""
}

// TopTask reports the activity on top of a display after a task stack change.
// TopActivity is zero when the display has no task.
type TopTask struct {
	DisplayID   int
	TopActivity ComponentName
}

// LifecyclePhase mirrors the user-account lifecycle.
type LifecyclePhase int

const (
	PhaseStarting LifecyclePhase = iota
	PhaseSwitching
	PhaseUnlocked
)

// String returns the lowercase phase name.
func (p LifecyclePhase) String() string {
	switch p {
	case PhaseStarting:
		return "starting"
	case PhaseSwitching:
		return "switching"
	case PhaseUnlocked:
		return "unlocked"
	default:
		return "unknown"
	}
}

// ParseLifecyclePhase parses a phase name as printed by String.
func ParseLifecyclePhase(s string) (LifecyclePhase, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "starting":
		return PhaseStarting, nil
	case "switching":
		return PhaseSwitching, nil
	case "unlocked":
		return PhaseUnlocked, nil
	default:
		return 0, fmt.Errorf("unknown lifecycle phase %q", s)
	}
}

// ClusterConfig is the change mask delivered with cluster state changes.
type ClusterConfig uint32

const (
	ConfigDisplayOnOff  ClusterConfig = 0x01
	ConfigDisplayBounds ClusterConfig = 0x02
	ConfigDisplayInsets ClusterConfig = 0x04
	ConfigUIType        ClusterConfig = 0x08
)

// ClusterState is the platform's last-known cluster configuration.
type ClusterState struct {
	On     bool
	Bounds Rect
	UIType int
}

// ClusterStateChange is delivered when the cluster configuration changes,
// e.g. when a remote peer asks for a different UI.
type ClusterStateChange struct {
	UIType    int
	Changes   ClusterConfig
	RequestID string
}

// InjectMode selects synchronous or asynchronous input injection.
type InjectMode int

const (
	InjectAsync InjectMode = iota
	InjectWaitForResult
)

// LaunchRequest asks the platform to start an activity pinned to a display.
type LaunchRequest struct {
	Activity  ComponentName
	DisplayID int
	UserID    int
}

// OccupantService answers occupant zone and display assignment queries.
type OccupantService interface {
	OccupantZones() ([]OccupantZone, error)
	// DisplayForOccupant returns nil without error when the zone has no
	// display of the requested type.
	DisplayForOccupant(zoneID int, displayType DisplayType) (*Display, error)
}

// DisplayService looks up displays and streams hotplug notifications.
type DisplayService interface {
	Display(id int) (Display, bool)
	Displays() ([]Display, error)
	WatchDisplays(ctx context.Context) (<-chan DisplayEvent, error)
}

// VirtualDisplayFactory starts a network-backed virtual display. The display
// appears later on the display event stream under the returned name.
type VirtualDisplayFactory interface {
	StartVirtualDisplay(width, height, dpi int) (string, error)
}

// TaskMonitor streams the top activity of a display on every task stack change.
type TaskMonitor interface {
	WatchTopTask(ctx context.Context, displayID int) (<-chan TopTask, error)
}

// ClusterStateChannel is the state channel shared with the cluster OS.
type ClusterStateChannel interface {
	ReportState(uiType, subUIType int, availability []byte)
	ClusterState() ClusterState
	WatchClusterState(ctx context.Context) (<-chan ClusterStateChange, error)
}

// UserSessions streams user lifecycle phases.
type UserSessions interface {
	WatchLifecycle(ctx context.Context) (<-chan LifecyclePhase, error)
	CurrentUser() int
}

// LifecyclePublisher is implemented by session sources that accept phases
// from outside the platform, e.g. a login manager hook.
type LifecyclePublisher interface {
	PublishLifecycle(phase LifecyclePhase)
}

// InputCapture captures key input targeted at a display type.
type InputCapture interface {
	CaptureKeys(ctx context.Context, displayType DisplayType) (<-chan []KeyEvent, error)
}

// InputInjector forwards key events to the platform's normal input pipeline.
type InputInjector interface {
	InjectKeyEvent(ev KeyEvent, mode InjectMode) error
}

// ActivityLauncher starts fixed-mode activities.
type ActivityLauncher interface {
	StartFixedActivity(req LaunchRequest) error
}

// ActivityResolver reports whether an activity's backing package is usable.
type ActivityResolver interface {
	IsAvailable(activity ComponentName) bool
}
