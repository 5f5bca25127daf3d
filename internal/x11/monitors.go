package x11

import (
	"fmt"
	"sort"

	"github.com/BurntSushi/xgb/randr"
	"github.com/BurntSushi/xgbutil"
	"github.com/BurntSushi/xgbutil/xevent"
)

// Monitor represents a connected RandR output with an active CRTC. ID is the
// RandR output id, which stays stable across mode changes.
type Monitor struct {
	ID     int
	Name   string
	X      int
	Y      int
	Width  int
	Height int
}

// GetMonitors retrieves all active outputs using XRandR, ordered by id.
func (c *Connection) GetMonitors() ([]Monitor, error) {
	if err := randr.Init(c.XUtil.Conn()); err != nil {
		return nil, fmt.Errorf("randr init failed: %w", err)
	}

	resources, err := randr.GetScreenResources(c.XUtil.Conn(), c.Root).Reply()
	if err != nil {
		return nil, fmt.Errorf("failed to get screen resources: %w", err)
	}

	var monitors []Monitor
	for _, output := range resources.Outputs {
		info, err := randr.GetOutputInfo(c.XUtil.Conn(), output, resources.ConfigTimestamp).Reply()
		if err != nil {
			continue
		}
		// Disconnected or disabled outputs are not displays.
		if info.Connection != randr.ConnectionConnected || info.Crtc == 0 {
			continue
		}
		crtc, err := randr.GetCrtcInfo(c.XUtil.Conn(), info.Crtc, resources.ConfigTimestamp).Reply()
		if err != nil || crtc.Width == 0 || crtc.Height == 0 {
			continue
		}

		monitors = append(monitors, Monitor{
			ID:     int(output),
			Name:   string(info.Name),
			X:      int(crtc.X),
			Y:      int(crtc.Y),
			Width:  int(crtc.Width),
			Height: int(crtc.Height),
		})
	}

	sort.Slice(monitors, func(i, j int) bool { return monitors[i].ID < monitors[j].ID })
	return monitors, nil
}

// WatchMonitors calls onChange on the event loop whenever RandR reports a
// screen, CRTC or output change. Callers re-read GetMonitors to see what
// changed.
func (c *Connection) WatchMonitors(onChange func()) error {
	if err := randr.Init(c.XUtil.Conn()); err != nil {
		return fmt.Errorf("randr init failed: %w", err)
	}
	mask := uint16(randr.NotifyMaskScreenChange | randr.NotifyMaskCrtcChange | randr.NotifyMaskOutputChange)
	if err := randr.SelectInputChecked(c.XUtil.Conn(), c.Root, mask).Check(); err != nil {
		return fmt.Errorf("randr select input failed: %w", err)
	}

	// xevent has no RandR callbacks, so RandR events are taken from the
	// raw event hook before dispatch.
	xevent.HookFun(func(_ *xgbutil.XUtil, ev interface{}) bool {
		switch ev.(type) {
		case randr.ScreenChangeNotifyEvent, randr.NotifyEvent:
			onChange()
			return false
		}
		return true
	}).Connect(c.XUtil)
	return nil
}

// MonitorChange is one difference between two monitor snapshots.
type MonitorChange struct {
	Kind    MonitorChangeKind
	Monitor Monitor
}

// MonitorChangeKind classifies a MonitorChange.
type MonitorChangeKind int

const (
	MonitorAdded MonitorChangeKind = iota
	MonitorRemoved
	MonitorChanged
)

// DiffMonitors compares two snapshots by id. Removals come first, then
// additions and geometry changes in id order.
func DiffMonitors(before, after []Monitor) []MonitorChange {
	old := make(map[int]Monitor, len(before))
	for _, m := range before {
		old[m.ID] = m
	}
	current := make(map[int]struct{}, len(after))
	for _, m := range after {
		current[m.ID] = struct{}{}
	}

	var changes []MonitorChange
	for _, m := range before {
		if _, ok := current[m.ID]; !ok {
			changes = append(changes, MonitorChange{Kind: MonitorRemoved, Monitor: m})
		}
	}
	for _, m := range after {
		prev, ok := old[m.ID]
		switch {
		case !ok:
			changes = append(changes, MonitorChange{Kind: MonitorAdded, Monitor: m})
		case prev != m:
			changes = append(changes, MonitorChange{Kind: MonitorChanged, Monitor: m})
		}
	}
	return changes
}
