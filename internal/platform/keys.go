package platform

import (
	"fmt"
	"strings"
	"time"
)

// KeyCode is a platform-neutral key code. Values follow the automotive
// input stack so captured events can be forwarded unchanged.
type KeyCode int

const (
	KeyCodeUnknown    KeyCode = 0
	KeyCodeHome       KeyCode = 3
	KeyCodeBack       KeyCode = 4
	KeyCodeDpadUp     KeyCode = 19
	KeyCodeDpadDown   KeyCode = 20
	KeyCodeDpadLeft   KeyCode = 21
	KeyCodeDpadRight  KeyCode = 22
	KeyCodeDpadCenter KeyCode = 23
	KeyCodeEnter      KeyCode = 66
	KeyCodeMenu       KeyCode = 82
)

var keyNames = map[KeyCode]string{
	KeyCodeHome:       "home",
	KeyCodeBack:       "back",
	KeyCodeDpadUp:     "up",
	KeyCodeDpadDown:   "down",
	KeyCodeDpadLeft:   "left",
	KeyCodeDpadRight:  "right",
	KeyCodeDpadCenter: "center",
	KeyCodeEnter:      "enter",
	KeyCodeMenu:       "menu",
}

// String returns the config name of the key code.
func (k KeyCode) String() string {
	if name, ok := keyNames[k]; ok {
		return name
	}
	return fmt.Sprintf("key(%d)", int(k))
}

// ParseKeyCode parses a key name as printed by String.
func ParseKeyCode(s string) (KeyCode, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for code, n := range keyNames {
		if n == name {
			return code, nil
		}
	}
	return KeyCodeUnknown, fmt.Errorf("unknown key %q", s)
}

// KeyAction is the press state carried by a key event.
type KeyAction int

const (
	KeyDown KeyAction = iota
	KeyUp
)

// String returns "down" or "up".
func (a KeyAction) String() string {
	if a == KeyUp {
		return "up"
	}
	return "down"
}

// KeyEvent is a captured key event. ScanCode carries the backend-native key
// code so the event can be re-injected verbatim.
type KeyEvent struct {
	Code     KeyCode
	Action   KeyAction
	ScanCode uint32
	State    uint16
	Time     time.Time
}
