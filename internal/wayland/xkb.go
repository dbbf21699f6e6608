package wayland

import (
	"fmt"
	"sync"

	"github.com/ebitengine/purego"
)

// XKB constants
const (
	KeymapFormatTextV1 = 1
	ContextNoFlags     = 0
	KeymapCompileNone  = 0
)

var (
	xkbOnce sync.Once
	xkbErr  error

	xkbContextNew          func(uint32) uintptr
	xkbKeymapNewFromString func(uintptr, []byte, uint32, uint32) uintptr
	xkbStateNew            func(uintptr) uintptr
	xkbStateUpdateMask     func(uintptr, uint32, uint32, uint32, uint32, uint32, uint32) uint32
	xkbStateKeyGetOneSym   func(uintptr, uint32) uint32
	xkbKeysymToUtf32       func(uint32) uint32
	xkbKeymapUnref         func(uintptr)
	xkbStateUnref          func(uintptr)
	xkbContextUnref        func(uintptr)
)

// loadXKB opens libxkbcommon once. Without it keys fall back to a US layout
// keycode table.
func loadXKB() error {
	xkbOnce.Do(func() {
		lib, err := purego.Dlopen("libxkbcommon.so.0", purego.RTLD_NOW|purego.RTLD_GLOBAL)
		if err != nil {
			lib, err = purego.Dlopen("libxkbcommon.so", purego.RTLD_NOW|purego.RTLD_GLOBAL)
			if err != nil {
				xkbErr = fmt.Errorf("failed to load libxkbcommon: %w", err)
				return
			}
		}

		purego.RegisterLibFunc(&xkbContextNew, lib, "xkb_context_new")
		purego.RegisterLibFunc(&xkbKeymapNewFromString, lib, "xkb_keymap_new_from_string")
		purego.RegisterLibFunc(&xkbStateNew, lib, "xkb_state_new")
		purego.RegisterLibFunc(&xkbStateUpdateMask, lib, "xkb_state_update_mask")
		purego.RegisterLibFunc(&xkbStateKeyGetOneSym, lib, "xkb_state_key_get_one_sym")
		purego.RegisterLibFunc(&xkbKeysymToUtf32, lib, "xkb_keysym_to_utf32")
		purego.RegisterLibFunc(&xkbKeymapUnref, lib, "xkb_keymap_unref")
		purego.RegisterLibFunc(&xkbStateUnref, lib, "xkb_state_unref")
		purego.RegisterLibFunc(&xkbContextUnref, lib, "xkb_context_unref")
	})
	return xkbErr
}

// xkbKeymap holds the compiled keymap and key state for one keyboard.
type xkbKeymap struct {
	context uintptr
	keymap  uintptr
	state   uintptr
}

func newXKBKeymap(text []byte) (*xkbKeymap, error) {
	if err := loadXKB(); err != nil {
		return nil, err
	}

	ctx := xkbContextNew(ContextNoFlags)
	if ctx == 0 {
		return nil, fmt.Errorf("xkb_context_new failed")
	}

	// the keymap string must be NUL terminated
	buf := make([]byte, len(text)+1)
	copy(buf, text)
	keymap := xkbKeymapNewFromString(ctx, buf, KeymapFormatTextV1, KeymapCompileNone)
	if keymap == 0 {
		xkbContextUnref(ctx)
		return nil, fmt.Errorf("xkb_keymap_new_from_string failed")
	}

	state := xkbStateNew(keymap)
	if state == 0 {
		xkbKeymapUnref(keymap)
		xkbContextUnref(ctx)
		return nil, fmt.Errorf("xkb_state_new failed")
	}

	return &xkbKeymap{context: ctx, keymap: keymap, state: state}, nil
}

func (k *xkbKeymap) updateMods(depressed, latched, locked, group uint32) {
	xkbStateUpdateMask(k.state, depressed, latched, locked, 0, 0, group)
}

// keysym translates an evdev keycode.
func (k *xkbKeymap) keysym(key uint32) uint32 {
	return xkbStateKeyGetOneSym(k.state, key+8)
}

func keysymToRune(sym uint32) rune {
	if xkbKeysymToUtf32 == nil {
		return 0
	}
	return rune(xkbKeysymToUtf32(sym))
}

func (k *xkbKeymap) close() {
	xkbStateUnref(k.state)
	xkbKeymapUnref(k.keymap)
	xkbContextUnref(k.context)
}
