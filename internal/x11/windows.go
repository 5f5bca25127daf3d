package x11

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/xgb/xproto"
	"github.com/BurntSushi/xgbutil"
	"github.com/BurntSushi/xgbutil/ewmh"
	"github.com/BurntSushi/xgbutil/icccm"
	"github.com/BurntSushi/xgbutil/xevent"
	"github.com/BurntSushi/xgbutil/xprop"
	"github.com/BurntSushi/xgbutil/xwindow"
)

// WindowInfo describes a managed client window.
type WindowInfo struct {
	ID       xproto.Window
	PID      int
	Instance string
	Class    string
	X        int
	Y        int
	Width    int
	Height   int
}

// Contains reports whether the window's center lies inside m.
func (w WindowInfo) Contains(m Monitor) bool {
	cx := w.X + w.Width/2
	cy := w.Y + w.Height/2
	return cx >= m.X && cx < m.X+m.Width && cy >= m.Y && cy < m.Y+m.Height
}

// StackedWindows returns the visible normal client windows, topmost first.
func (c *Connection) StackedWindows() ([]WindowInfo, error) {
	clients, err := ewmh.ClientListStackingGet(c.XUtil)
	if err != nil {
		return nil, fmt.Errorf("failed to get client stacking list: %w", err)
	}

	windows := make([]WindowInfo, 0, len(clients))
	for i := len(clients) - 1; i >= 0; i-- {
		win := clients[i]
		if !c.IsNormalWindow(win) || c.isHidden(win) {
			continue
		}
		info, ok := c.windowInfo(win)
		if !ok {
			continue
		}
		windows = append(windows, info)
	}
	return windows, nil
}

func (c *Connection) windowInfo(win xproto.Window) (WindowInfo, bool) {
	geom, err := xproto.GetGeometry(c.XUtil.Conn(), xproto.Drawable(win)).Reply()
	if err != nil {
		return WindowInfo{}, false
	}
	translate, err := xproto.TranslateCoordinates(c.XUtil.Conn(), win, c.Root, 0, 0).Reply()
	if err != nil {
		return WindowInfo{}, false
	}

	info := WindowInfo{
		ID:     win,
		X:      int(translate.DstX),
		Y:      int(translate.DstY),
		Width:  int(geom.Width),
		Height: int(geom.Height),
	}
	if pid, err := ewmh.WmPidGet(c.XUtil, win); err == nil {
		info.PID = int(pid)
	}
	if class, err := icccm.WmClassGet(c.XUtil, win); err == nil {
		info.Instance = strings.TrimSpace(class.Instance)
		info.Class = strings.TrimSpace(class.Class)
	}
	return info, true
}

// WatchStacking calls onChange on the event loop whenever the active window
// or the client stacking order changes.
func (c *Connection) WatchStacking(onChange func()) error {
	root := xwindow.New(c.XUtil, c.Root)
	if err := root.Listen(xproto.EventMaskPropertyChange); err != nil {
		return fmt.Errorf("failed to listen on root window: %w", err)
	}

	xevent.PropertyNotifyFun(func(xu *xgbutil.XUtil, ev xevent.PropertyNotifyEvent) {
		name, err := xprop.AtomName(xu, ev.Atom)
		if err != nil {
			return
		}
		switch name {
		case "_NET_ACTIVE_WINDOW", "_NET_CLIENT_LIST_STACKING":
			onChange()
		}
	}).Connect(c.XUtil, c.Root)
	return nil
}

// MoveResizeWindow moves and resizes a window to the specified geometry
func (c *Connection) MoveResizeWindow(windowID xproto.Window, x, y, width, height int) error {
	// Maximized windows ignore geometry requests.
	_ = c.unmaximizeWindow(windowID)

	// Use EWMH MoveResize for better WM compatibility
	if err := ewmh.MoveresizeWindow(c.XUtil, windowID, x, y, width, height); err != nil {
		// Fallback to direct window manipulation
		xwindow.New(c.XUtil, windowID).MoveResize(x, y, width, height)
	}
	return nil
}

// unmaximizeWindow removes maximized state from a window
func (c *Connection) unmaximizeWindow(windowID xproto.Window) error {
	states, err := ewmh.WmStateGet(c.XUtil, windowID)
	if err != nil {
		return err
	}
	for _, state := range states {
		switch state {
		case "_NET_WM_STATE_MAXIMIZED_HORZ", "_NET_WM_STATE_MAXIMIZED_VERT":
			ewmh.WmStateReq(c.XUtil, windowID, 0, state)
		}
	}
	return nil
}

// IsNormalWindow checks if a window is a normal application window
func (c *Connection) IsNormalWindow(windowID xproto.Window) bool {
	types, err := ewmh.WmWindowTypeGet(c.XUtil, windowID)
	if err != nil {
		// If we can't determine type, assume it's normal
		return true
	}

	for _, t := range types {
		if t == "_NET_WM_WINDOW_TYPE_NORMAL" {
			return true
		}
		// Reject desktop, dock, splash, etc.
		if t == "_NET_WM_WINDOW_TYPE_DESKTOP" ||
			t == "_NET_WM_WINDOW_TYPE_DOCK" ||
			t == "_NET_WM_WINDOW_TYPE_SPLASH" ||
			t == "_NET_WM_WINDOW_TYPE_NOTIFICATION" {
			return false
		}
	}

	// If no specific type is set, assume it's normal
	return len(types) == 0
}

func (c *Connection) isHidden(windowID xproto.Window) bool {
	states, err := ewmh.WmStateGet(c.XUtil, windowID)
	if err != nil {
		return false
	}
	for _, state := range states {
		if state == "_NET_WM_STATE_HIDDEN" {
			return true
		}
	}
	return false
}
