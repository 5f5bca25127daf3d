package x11

import (
	"fmt"

	"github.com/BurntSushi/xgb/xproto"
)

// ActivateWindow activates and raises a window using _NET_ACTIVE_WINDOW.
// The client message is built by hand because the xgbutil ewmh request
// helpers panic on this library version (uint vs int type assertion).
func (c *Connection) ActivateWindow(windowID xproto.Window) error {
	atomReply, err := xproto.InternAtom(c.XUtil.Conn(), false,
		uint16(len("_NET_ACTIVE_WINDOW")), "_NET_ACTIVE_WINDOW").Reply()
	if err != nil {
		return fmt.Errorf("failed to intern _NET_ACTIVE_WINDOW: %w", err)
	}

	const sourceIndication = 2 // pager/direct action
	ev := xproto.ClientMessageEvent{
		Format: 32,
		Window: windowID,
		Type:   atomReply.Atom,
		Data:   xproto.ClientMessageDataUnionData32New([]uint32{sourceIndication, 0, 0, 0, 0}),
	}

	return xproto.SendEventChecked(
		c.XUtil.Conn(),
		false,
		c.Root,
		xproto.EventMaskSubstructureRedirect|xproto.EventMaskSubstructureNotify,
		string(ev.Bytes()),
	).Check()
}

// InputFocus returns the window holding the keyboard focus.
func (c *Connection) InputFocus() (xproto.Window, error) {
	reply, err := xproto.GetInputFocus(c.XUtil.Conn()).Reply()
	if err != nil {
		return 0, fmt.Errorf("failed to get input focus: %w", err)
	}
	return reply.Focus, nil
}

// SendKey delivers a synthetic key press or release to window. Synthetic
// events bypass passive grabs, so keys grabbed on the root window can be
// forwarded without being captured again.
func (c *Connection) SendKey(window xproto.Window, keycode xproto.Keycode, state uint16, press bool) error {
	ev := xproto.KeyPressEvent{
		Detail:     keycode,
		Time:       xproto.TimeCurrentTime,
		Root:       c.Root,
		Event:      window,
		Child:      0,
		RootX:      1,
		RootY:      1,
		EventX:     1,
		EventY:     1,
		State:      state,
		SameScreen: true,
	}
	data := ev.Bytes()
	mask := uint32(xproto.EventMaskKeyPress)
	if !press {
		// KeyReleaseEvent.Bytes encodes the KeyPress event code.
		data[0] = xproto.KeyRelease
		mask = xproto.EventMaskKeyRelease
	}
	return xproto.SendEventChecked(c.XUtil.Conn(), true, window, mask, string(data)).Check()
}
