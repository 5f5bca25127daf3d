// Package hotkeys captures the cluster keys on X11. The cycle key and the
// passthrough keys are grabbed on the root window and delivered as key event
// batches, the way the platform delivers input aimed at the cluster display.
package hotkeys

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/BurntSushi/xgb/xproto"
	"github.com/BurntSushi/xgbutil"
	"github.com/BurntSushi/xgbutil/keybind"
	"github.com/BurntSushi/xgbutil/xevent"
	"go.uber.org/zap"

	"github.com/1broseidon/clusterhome/internal/platform"
)

// keysyms maps key codes to the X keysym grabbed for them.
var keysyms = map[platform.KeyCode]string{
	platform.KeyCodeHome:       "Home",
	platform.KeyCodeBack:       "Escape",
	platform.KeyCodeDpadUp:     "Up",
	platform.KeyCodeDpadDown:   "Down",
	platform.KeyCodeDpadLeft:   "Left",
	platform.KeyCodeDpadRight:  "Right",
	platform.KeyCodeDpadCenter: "KP_Begin",
	platform.KeyCodeEnter:      "Return",
	platform.KeyCodeMenu:       "Menu",
}

// Keysym returns the X keysym name bound to code.
func Keysym(code platform.KeyCode) (string, bool) {
	s, ok := keysyms[code]
	return s, ok
}

// x11Accessor is an optional interface for backends that expose X11 internals.
type x11Accessor interface {
	XUtil() *xgbutil.XUtil
	RootWindow() xproto.Window
}

// Handler grabs the cluster keys and fans captured events out to
// subscribers. It implements platform.InputCapture.
type Handler struct {
	xu     *xgbutil.XUtil
	root   xproto.Window
	keys   []platform.KeyCode
	logger *zap.Logger
	feed   *platform.Feed[[]platform.KeyEvent]

	mu      sync.Mutex
	subs    int
	grabbed bool
}

var _ platform.InputCapture = (*Handler)(nil)

var ignoreModsOnce sync.Once

// NewHandler creates a handler for keys on the backend's X11 connection.
func NewHandler(backend any, keys []platform.KeyCode, logger *zap.Logger) (*Handler, error) {
	accessor, ok := backend.(x11Accessor)
	if !ok || accessor.XUtil() == nil {
		return nil, errors.New("hotkeys: backend has no X11 connection")
	}
	for _, k := range keys {
		if _, ok := keysyms[k]; !ok {
			return nil, fmt.Errorf("hotkeys: no keysym for %s", k)
		}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	xu := accessor.XUtil()
	ignoreModsOnce.Do(func() {
		configureIgnoreMods(xu)
	})

	return &Handler{
		xu:     xu,
		root:   accessor.RootWindow(),
		keys:   append([]platform.KeyCode(nil), keys...),
		logger: logger.Named("hotkeys"),
		feed:   platform.NewFeed[[]platform.KeyEvent](32),
	}, nil
}

// CaptureKeys grabs the keys on first use and subscribes to captured events
// for the lifetime of ctx. The grabs are released when the last subscriber
// goes away.
func (h *Handler) CaptureKeys(ctx context.Context, displayType platform.DisplayType) (<-chan []platform.KeyEvent, error) {
	if displayType != platform.DisplayTypeInstrumentCluster {
		return nil, fmt.Errorf("hotkeys: only instrument cluster input can be captured")
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.grabbed {
		if err := h.grab(); err != nil {
			keybind.Detach(h.xu, h.root)
			return nil, err
		}
		h.grabbed = true
	}
	h.subs++
	ch := h.feed.Subscribe(ctx)

	go func() {
		<-ctx.Done()
		h.mu.Lock()
		defer h.mu.Unlock()
		h.subs--
		if h.subs == 0 && h.grabbed {
			keybind.Detach(h.xu, h.root)
			h.grabbed = false
			h.logger.Debug("released key grabs")
		}
	}()
	return ch, nil
}

func (h *Handler) grab() error {
	for _, code := range h.keys {
		code := code
		sym := keysyms[code]

		err := keybind.KeyPressFun(func(_ *xgbutil.XUtil, ev xevent.KeyPressEvent) {
			h.deliver(code, platform.KeyDown, ev.Detail, ev.State)
		}).Connect(h.xu, h.root, sym, true)
		if err != nil {
			return fmt.Errorf("hotkeys: grab %s (%s): %w", code, sym, err)
		}

		// The release follows the active grab started by the press.
		err = keybind.KeyReleaseFun(func(_ *xgbutil.XUtil, ev xevent.KeyReleaseEvent) {
			h.deliver(code, platform.KeyUp, ev.Detail, ev.State)
		}).Connect(h.xu, h.root, sym, false)
		if err != nil {
			return fmt.Errorf("hotkeys: bind release %s (%s): %w", code, sym, err)
		}
		h.logger.Debug("grabbed key", zap.Stringer("key", code), zap.String("keysym", sym))
	}
	return nil
}

func (h *Handler) deliver(code platform.KeyCode, action platform.KeyAction, keycode xproto.Keycode, state uint16) {
	ev := platform.KeyEvent{
		Code:     code,
		Action:   action,
		ScanCode: uint32(keycode),
		State:    state,
		Time:     time.Now(),
	}
	h.logger.Debug("captured key", zap.Stringer("key", code), zap.Stringer("action", action))
	h.feed.Publish([]platform.KeyEvent{ev})
}

func configureIgnoreMods(xu *xgbutil.XUtil) {
	// Always ignore CapsLock.
	caps := uint16(xproto.ModMaskLock)

	numLock := modMaskForKeysym(xu, "Num_Lock")
	scrollLock := modMaskForKeysym(xu, "Scroll_Lock")

	unique := make(map[uint16]struct{})
	add := func(mask uint16) {
		unique[mask] = struct{}{}
	}

	add(0)
	base := []uint16{caps}
	if numLock != 0 && numLock != caps {
		base = append(base, numLock)
	}
	if scrollLock != 0 && scrollLock != caps && scrollLock != numLock {
		base = append(base, scrollLock)
	}

	for subset := 1; subset < (1 << len(base)); subset++ {
		var mask uint16
		for bit := range base {
			if subset&(1<<bit) != 0 {
				mask |= base[bit]
			}
		}
		add(mask)
	}

	ignore := make([]uint16, 0, len(unique))
	for mask := range unique {
		ignore = append(ignore, mask)
	}

	xevent.IgnoreMods = ignore
}

func modMaskForKeysym(xu *xgbutil.XUtil, keysym string) uint16 {
	for _, keycode := range keybind.StrToKeycodes(xu, keysym) {
		if mask := keybind.ModGet(xu, keycode); mask != 0 {
			return mask
		}
	}
	return 0
}
