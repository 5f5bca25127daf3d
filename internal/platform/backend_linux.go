//go:build linux

package platform

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"github.com/BurntSushi/xgb/xproto"
	"github.com/BurntSushi/xgbutil"
	"go.uber.org/zap"

	"github.com/1broseidon/clusterhome/internal/x11"
)

// LinuxOptions configures the X11 backend.
type LinuxOptions struct {
	// Display is the X display to connect to; empty means $DISPLAY.
	Display string
	Zones   []OccupantZone
	// ClusterOutputs maps an occupant zone id to the RandR output that
	// drives its instrument cluster.
	ClusterOutputs map[int]string
	VirtualName    string
	// VirtualCommand starts the virtual display server. {name}, {width},
	// {height} and {dpi} are substituted per argument.
	VirtualCommand string
	// Commands maps each activity to the command line that launches it.
	Commands map[ComponentName]string
	User     int
	Logger   *zap.Logger
}

// LinuxBackend implements the platform services on an X11 session. Displays
// are RandR outputs, activities are client windows identified by launch pid
// or WM_CLASS, and the top task of a display is the topmost client window
// centered on it.
type LinuxBackend struct {
	*SessionBroker

	conn   *x11.Connection
	opts   LinuxOptions
	logger *zap.Logger

	displayFeed *Feed[DisplayEvent]
	taskFeed    *Feed[TopTask]

	mu       sync.Mutex
	monitors []x11.Monitor
	launched map[int]ComponentName
	pending  map[int]int
	tops     map[int]ComponentName
	servers  []*exec.Cmd
}

var (
	_ OccupantService       = (*LinuxBackend)(nil)
	_ DisplayService        = (*LinuxBackend)(nil)
	_ VirtualDisplayFactory = (*LinuxBackend)(nil)
	_ TaskMonitor           = (*LinuxBackend)(nil)
	_ UserSessions          = (*LinuxBackend)(nil)
	_ InputInjector         = (*LinuxBackend)(nil)
	_ ActivityLauncher      = (*LinuxBackend)(nil)
	_ ActivityResolver      = (*LinuxBackend)(nil)
)

// NewLinuxBackend opens an X11 connection and starts watching outputs and
// the window stack. Events are delivered once EventLoop runs.
func NewLinuxBackend(opts LinuxOptions) (*LinuxBackend, error) {
	conn, err := x11.NewConnection(opts.Display)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to X11: %w", err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	b := &LinuxBackend{
		SessionBroker: NewSessionBroker(opts.User),
		conn:          conn,
		opts:          opts,
		logger:        logger.Named("x11"),
		displayFeed:   NewFeed[DisplayEvent](16),
		taskFeed:      NewFeed[TopTask](16),
		launched:      make(map[int]ComponentName),
		pending:       make(map[int]int),
		tops:          make(map[int]ComponentName),
	}

	monitors, err := conn.GetMonitors()
	if err != nil {
		conn.Close()
		return nil, err
	}
	b.monitors = monitors

	if err := conn.WatchMonitors(b.onMonitorsChanged); err != nil {
		conn.Close()
		return nil, err
	}
	if err := conn.WatchStacking(b.onStackingChanged); err != nil {
		conn.Close()
		return nil, err
	}
	return b, nil
}

// Disconnect stops virtual display servers and closes the X11 connection.
func (b *LinuxBackend) Disconnect() {
	if b == nil || b.conn == nil {
		return
	}
	b.mu.Lock()
	servers := b.servers
	b.servers = nil
	b.mu.Unlock()
	for _, cmd := range servers {
		if cmd.Process != nil {
			_ = cmd.Process.Signal(os.Interrupt)
		}
	}
	b.conn.Quit()
	b.conn.Close()
}

// EventLoop starts the X11 event loop (blocking).
func (b *LinuxBackend) EventLoop() {
	if b != nil && b.conn != nil {
		b.conn.EventLoop()
	}
}

// XUtil returns the underlying xgbutil connection for X11-specific operations.
func (b *LinuxBackend) XUtil() *xgbutil.XUtil {
	if b == nil || b.conn == nil {
		return nil
	}
	return b.conn.XUtil
}

// RootWindow returns the X11 root window ID.
func (b *LinuxBackend) RootWindow() xproto.Window {
	if b == nil || b.conn == nil {
		return 0
	}
	return b.conn.Root
}

// OccupantZones returns the configured zones.
func (b *LinuxBackend) OccupantZones() ([]OccupantZone, error) {
	return append([]OccupantZone(nil), b.opts.Zones...), nil
}

// DisplayForOccupant returns the connected output configured as the zone's
// instrument cluster, or nil.
func (b *LinuxBackend) DisplayForOccupant(zoneID int, displayType DisplayType) (*Display, error) {
	if displayType != DisplayTypeInstrumentCluster {
		return nil, nil
	}
	output := b.opts.ClusterOutputs[zoneID]
	if output == "" {
		return nil, nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, m := range b.monitors {
		if m.Name == output {
			d := displayFromMonitor(m)
			return &d, nil
		}
	}
	return nil, nil
}

// Display returns the display with id.
func (b *LinuxBackend) Display(id int) (Display, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, m := range b.monitors {
		if m.ID == id {
			return displayFromMonitor(m), true
		}
	}
	return Display{}, false
}

// Displays returns all active displays.
func (b *LinuxBackend) Displays() ([]Display, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	displays := make([]Display, 0, len(b.monitors))
	for _, m := range b.monitors {
		displays = append(displays, displayFromMonitor(m))
	}
	return displays, nil
}

// WatchDisplays streams output hotplug events.
func (b *LinuxBackend) WatchDisplays(ctx context.Context) (<-chan DisplayEvent, error) {
	return b.displayFeed.Subscribe(ctx), nil
}

func (b *LinuxBackend) onMonitorsChanged() {
	monitors, err := b.conn.GetMonitors()
	if err != nil {
		b.logger.Warn("failed to read monitors", zap.Error(err))
		return
	}
	b.mu.Lock()
	changes := x11.DiffMonitors(b.monitors, monitors)
	b.monitors = monitors
	b.mu.Unlock()

	for _, c := range changes {
		ev := DisplayEvent{DisplayID: c.Monitor.ID}
		switch c.Kind {
		case x11.MonitorAdded:
			ev.Kind = DisplayAdded
		case x11.MonitorRemoved:
			ev.Kind = DisplayRemoved
		default:
			ev.Kind = DisplayChanged
		}
		b.logger.Debug("output event", zap.Stringer("kind", ev.Kind), zap.Int("display_id", ev.DisplayID),
			zap.String("name", c.Monitor.Name))
		b.displayFeed.Publish(ev)
	}
}

// StartVirtualDisplay runs the configured display server command. The
// output it creates is expected to appear under the configured name.
func (b *LinuxBackend) StartVirtualDisplay(width, height, dpi int) (string, error) {
	name := b.opts.VirtualName
	args, err := ExpandVirtualCommand(b.opts.VirtualCommand, name, width, height, dpi)
	if err != nil {
		return "", err
	}
	cmd := exec.Command(args[0], args[1:]...)
	cmd.Stdout = os.Stderr
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("start virtual display %q: %w", name, err)
	}
	b.mu.Lock()
	b.servers = append(b.servers, cmd)
	b.mu.Unlock()
	b.logger.Info("started virtual display server", zap.String("name", name), zap.Int("pid", cmd.Process.Pid),
		zap.Strings("args", args))

	go func() {
		err := cmd.Wait()
		b.logger.Warn("virtual display server exited", zap.String("name", name), zap.Error(err))
	}()
	return name, nil
}

// ExpandVirtualCommand splits template into arguments and substitutes the
// display profile placeholders.
func ExpandVirtualCommand(template, name string, width, height, dpi int) ([]string, error) {
	fields := strings.Fields(template)
	if len(fields) == 0 {
		return nil, errors.New("no virtual display command configured")
	}
	r := strings.NewReplacer(
		"{name}", name,
		"{width}", strconv.Itoa(width),
		"{height}", strconv.Itoa(height),
		"{dpi}", strconv.Itoa(dpi),
	)
	for i, f := range fields {
		fields[i] = r.Replace(f)
	}
	return fields, nil
}

// WatchTopTask streams the top activity of displayID whenever it changes.
func (b *LinuxBackend) WatchTopTask(ctx context.Context, displayID int) (<-chan TopTask, error) {
	in := b.taskFeed.Subscribe(ctx)
	out := make(chan TopTask, 16)
	go func() {
		defer close(out)
		for task := range in {
			if task.DisplayID != displayID {
				continue
			}
			select {
			case out <- task:
			case <-ctx.Done():
			}
		}
	}()
	return out, nil
}

func (b *LinuxBackend) onStackingChanged() {
	windows, err := b.conn.StackedWindows()
	if err != nil {
		b.logger.Debug("failed to read window stack", zap.Error(err))
		return
	}

	b.placePending(windows)

	b.mu.Lock()
	var tasks []TopTask
	for _, m := range b.monitors {
		var top ComponentName
		for _, w := range windows {
			if w.Contains(m) {
				top = b.componentLocked(w)
				break
			}
		}
		if prev, ok := b.tops[m.ID]; ok && prev == top {
			continue
		}
		b.tops[m.ID] = top
		tasks = append(tasks, TopTask{DisplayID: m.ID, TopActivity: top})
	}
	b.mu.Unlock()

	for _, t := range tasks {
		b.taskFeed.Publish(t)
	}
}

// placePending moves windows of freshly launched activities onto their
// target display.
func (b *LinuxBackend) placePending(windows []x11.WindowInfo) {
	type move struct {
		win    x11.WindowInfo
		bounds Rect
	}
	var moves []move

	b.mu.Lock()
	for _, w := range windows {
		displayID, ok := b.pending[w.PID]
		if !ok {
			continue
		}
		for _, m := range b.monitors {
			if m.ID == displayID {
				moves = append(moves, move{win: w, bounds: displayFromMonitor(m).Bounds})
			}
		}
		delete(b.pending, w.PID)
	}
	b.mu.Unlock()

	for _, mv := range moves {
		b.show(mv.win.ID, mv.bounds)
	}
}

func (b *LinuxBackend) show(win xproto.Window, bounds Rect) {
	if err := b.conn.MoveResizeWindow(win, bounds.X, bounds.Y, bounds.Width, bounds.Height); err != nil {
		b.logger.Warn("failed to place window", zap.Uint32("window", uint32(win)), zap.Error(err))
	}
	if err := b.conn.ActivateWindow(win); err != nil {
		b.logger.Warn("failed to activate window", zap.Uint32("window", uint32(win)), zap.Error(err))
	}
}

func (b *LinuxBackend) componentLocked(w x11.WindowInfo) ComponentName {
	if c, ok := b.launched[w.PID]; ok {
		return c
	}
	known := make([]ComponentName, 0, len(b.opts.Commands))
	for c := range b.opts.Commands {
		known = append(known, c)
	}
	return MatchComponent(w.Instance, w.Class, known)
}

// MatchComponent maps a WM_CLASS to an activity: the activity whose package
// equals the class or instance (case-insensitively) wins. Unmatched windows
// get a component built from the WM_CLASS so they are reported as unknown
// rather than as an empty display.
func MatchComponent(instance, class string, known []ComponentName) ComponentName {
	var match ComponentName
	for _, c := range known {
		if strings.EqualFold(c.Package, class) || strings.EqualFold(c.Package, instance) {
			// Deterministic across map iteration order.
			if match.IsZero() || c.String() < match.String() {
				match = c
			}
		}
	}
	if !match.IsZero() {
		return match
	}
	if instance == "" && class == "" {
		return ComponentName{}
	}
	pkg := instance
	if pkg == "" {
		pkg = class
	}
	return ComponentName{Package: pkg, Class: class}
}

// InjectKeyEvent forwards ev to the focused window.
func (b *LinuxBackend) InjectKeyEvent(ev KeyEvent, mode InjectMode) error {
	send := func() error {
		focus, err := b.conn.InputFocus()
		if err != nil {
			return err
		}
		// 0 is None and 1 is PointerRoot.
		if focus <= 1 {
			return errors.New("no focused window to receive key")
		}
		return b.conn.SendKey(focus, xproto.Keycode(ev.ScanCode), ev.State, ev.Action == KeyDown)
	}
	if mode == InjectWaitForResult {
		return send()
	}
	go func() {
		if err := send(); err != nil {
			b.logger.Warn("key injection failed", zap.Stringer("key", ev.Code), zap.Error(err))
		}
	}()
	return nil
}

// StartFixedActivity raises the activity's window on the display, starting
// its command first when no window of it exists. Only an unknown display is
// reported; the launch itself runs in the background and failures are logged.
func (b *LinuxBackend) StartFixedActivity(req LaunchRequest) error {
	display, ok := b.Display(req.DisplayID)
	if !ok {
		return fmt.Errorf("display %d not found", req.DisplayID)
	}
	go func() {
		if err := b.launch(req, display); err != nil {
			b.logger.Warn("activity launch failed", zap.Stringer("activity", req.Activity), zap.Error(err))
		}
	}()
	return nil
}

func (b *LinuxBackend) launch(req LaunchRequest, display Display) error {
	if windows, err := b.conn.StackedWindows(); err == nil {
		b.mu.Lock()
		var existing *x11.WindowInfo
		for i := range windows {
			if b.componentLocked(windows[i]) == req.Activity {
				existing = &windows[i]
				break
			}
		}
		b.mu.Unlock()
		if existing != nil {
			b.show(existing.ID, display.Bounds)
			return nil
		}
	}

	args := strings.Fields(b.opts.Commands[req.Activity])
	if len(args) == 0 {
		return fmt.Errorf("no command configured for %s", req.Activity)
	}
	cmd := exec.Command(args[0], args[1:]...)
	cmd.Env = append(os.Environ(),
		"CLUSTER_DISPLAY_ID="+strconv.Itoa(req.DisplayID),
		"CLUSTER_USER_ID="+strconv.Itoa(req.UserID),
		"CLUSTER_ACTIVITY="+req.Activity.String(),
	)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", req.Activity, err)
	}

	pid := cmd.Process.Pid
	b.mu.Lock()
	b.launched[pid] = req.Activity
	b.pending[pid] = req.DisplayID
	b.mu.Unlock()

	go func() {
		err := cmd.Wait()
		b.mu.Lock()
		delete(b.launched, pid)
		delete(b.pending, pid)
		b.mu.Unlock()
		b.logger.Info("activity exited", zap.Stringer("activity", req.Activity), zap.Int("pid", pid), zap.Error(err))
	}()
	return nil
}

// IsAvailable reports whether the activity's command is on PATH.
func (b *LinuxBackend) IsAvailable(activity ComponentName) bool {
	args := strings.Fields(b.opts.Commands[activity])
	if len(args) == 0 {
		return false
	}
	_, err := exec.LookPath(args[0])
	return err == nil
}

func displayFromMonitor(m x11.Monitor) Display {
	bounds := Rect{
		X:      m.X,
		Y:      m.Y,
		Width:  m.Width,
		Height: m.Height,
	}
	return Display{
		ID:     m.ID,
		Name:   m.Name,
		Owner:  "x11",
		Bounds: bounds,
	}
}
