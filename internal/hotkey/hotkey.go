// Package hotkey owns the process-scoped global hotkey registration. The
// host wires the press/release pair to the orchestrator; the orchestrator
// itself has no knowledge of hotkeys.
package hotkey

import (
	"fmt"
	"strings"
	"sync"

	"golang.design/x/hotkey"
)

// Listener registers one global hotkey and reports its press/release pair.
type Listener struct {
	combo string

	mu      sync.Mutex
	hk      *hotkey.Hotkey
	stop    chan struct{}
	pressed bool
}

// NewListener accepts a combo such as "ctrl+alt+space". The last token is
// the key; everything before it is a modifier.
func NewListener(combo string) *Listener {
	return &Listener{combo: combo}
}

// Start registers the hotkey and invokes onPress/onRelease from the
// listener's own goroutine. Repeat keydown events while held are
// debounced into a single press.
func (l *Listener) Start(onPress, onRelease func()) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.hk != nil {
		return nil
	}

	mods, key, err := parseCombo(l.combo)
	if err != nil {
		return err
	}

	hk := hotkey.New(mods, key)
	if err := hk.Register(); err != nil {
		return fmt.Errorf("failed to register hotkey %q: %w", l.combo, err)
	}

	l.hk = hk
	l.stop = make(chan struct{})
	go l.loop(hk, l.stop, onPress, onRelease)
	return nil
}

// Stop unregisters the hotkey. Idempotent.
func (l *Listener) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.hk == nil {
		return
	}
	close(l.stop)
	_ = l.hk.Unregister()
	l.hk = nil
}

func (l *Listener) loop(hk *hotkey.Hotkey, stop chan struct{}, onPress, onRelease func()) {
	for {
		select {
		case <-hk.Keydown():
			if l.latch(true) {
				onPress()
			}
		case <-hk.Keyup():
			if l.latch(false) {
				onRelease()
			}
		case <-stop:
			return
		}
	}
}

// latch flips the pressed state, reporting whether the edge is new.
func (l *Listener) latch(down bool) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.pressed == down {
		return false
	}
	l.pressed = down
	return true
}

func parseCombo(combo string) ([]hotkey.Modifier, hotkey.Key, error) {
	parts := strings.Split(strings.ToLower(strings.TrimSpace(combo)), "+")
	if len(parts) < 2 {
		return nil, 0, fmt.Errorf("hotkey %q needs at least one modifier and a key", combo)
	}

	var mods []hotkey.Modifier
	for _, name := range parts[:len(parts)-1] {
		mod, ok := modifiers[strings.TrimSpace(name)]
		if !ok {
			return nil, 0, fmt.Errorf("unknown hotkey modifier %q", name)
		}
		mods = append(mods, mod)
	}

	keyName := strings.TrimSpace(parts[len(parts)-1])
	key, ok := keys[keyName]
	if !ok {
		return nil, 0, fmt.Errorf("unknown hotkey key %q", keyName)
	}
	return mods, key, nil
}

var keys = map[string]hotkey.Key{
	"space":  hotkey.KeySpace,
	"enter":  hotkey.KeyReturn,
	"return": hotkey.KeyReturn,
	"tab":    hotkey.KeyTab,
	"a":      hotkey.KeyA, "b": hotkey.KeyB, "c": hotkey.KeyC, "d": hotkey.KeyD,
	"e": hotkey.KeyE, "f": hotkey.KeyF, "g": hotkey.KeyG, "h": hotkey.KeyH,
	"i": hotkey.KeyI, "j": hotkey.KeyJ, "k": hotkey.KeyK, "l": hotkey.KeyL,
	"m": hotkey.KeyM, "n": hotkey.KeyN, "o": hotkey.KeyO, "p": hotkey.KeyP,
	"q": hotkey.KeyQ, "r": hotkey.KeyR, "s": hotkey.KeyS, "t": hotkey.KeyT,
	"u": hotkey.KeyU, "v": hotkey.KeyV, "w": hotkey.KeyW, "x": hotkey.KeyX,
	"y": hotkey.KeyY, "z": hotkey.KeyZ,
	"0": hotkey.Key0, "1": hotkey.Key1, "2": hotkey.Key2, "3": hotkey.Key3,
	"4": hotkey.Key4, "5": hotkey.Key5, "6": hotkey.Key6, "7": hotkey.Key7,
	"8": hotkey.Key8, "9": hotkey.Key9,
}
