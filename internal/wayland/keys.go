package wayland

import "unicode"

// keysyms we act on
const (
	keysymBackSpace = 0xff08
	keysymReturn    = 0xff0d
	keysymEscape    = 0xff1b
	keysymKPEnter   = 0xff8d
)

// evdev keycodes for the fallback table
const (
	keyEsc       = 1
	keyBackspace = 14
	keyEnter     = 28
	keySpace     = 57
	keyKPEnter   = 96
)

type keyAction int

const (
	keyNone keyAction = iota
	keyChar
	keySubmit
	keyErase
	keyClear
)

type keyPress struct {
	action keyAction
	char   rune
}

// keyDecoder turns key events into editing actions, through xkb when a
// keymap was received and through a US keycode table otherwise.
type keyDecoder struct {
	xkb   *xkbKeymap
	shift bool
}

func (d *keyDecoder) setKeymap(k *xkbKeymap) {
	if d.xkb != nil {
		d.xkb.close()
	}
	d.xkb = k
}

func (d *keyDecoder) modifiers(depressed, latched, locked, group uint32) {
	d.shift = depressed&1 != 0
	if d.xkb != nil {
		d.xkb.updateMods(depressed, latched, locked, group)
	}
}

func (d *keyDecoder) decode(key uint32) keyPress {
	if d.xkb != nil {
		return decodeKeysym(d.xkb.keysym(key))
	}
	return decodeKeycode(key, d.shift)
}

func (d *keyDecoder) close() {
	d.setKeymap(nil)
}

func decodeKeysym(sym uint32) keyPress {
	switch sym {
	case keysymReturn, keysymKPEnter:
		return keyPress{action: keySubmit}
	case keysymBackSpace:
		return keyPress{action: keyErase}
	case keysymEscape:
		return keyPress{action: keyClear}
	}
	if r := keysymToRune(sym); r != 0 && unicode.IsPrint(r) {
		return keyPress{action: keyChar, char: r}
	}
	return keyPress{}
}

var (
	digitRow  = []rune("1234567890")
	topRow    = []rune("qwertyuiop")
	homeRow   = []rune("asdfghjkl")
	bottomRow = []rune("zxcvbnm")
)

func decodeKeycode(key uint32, shift bool) keyPress {
	var r rune
	switch {
	case key == keyEsc:
		return keyPress{action: keyClear}
	case key == keyEnter || key == keyKPEnter:
		return keyPress{action: keySubmit}
	case key == keyBackspace:
		return keyPress{action: keyErase}
	case key == keySpace:
		r = ' '
	case key >= 2 && key <= 11:
		r = digitRow[key-2]
	case key >= 16 && key <= 25:
		r = topRow[key-16]
	case key >= 30 && key <= 38:
		r = homeRow[key-30]
	case key >= 44 && key <= 50:
		r = bottomRow[key-44]
	default:
		return keyPress{}
	}
	if shift {
		r = unicode.ToUpper(r)
	}
	return keyPress{action: keyChar, char: r}
}
