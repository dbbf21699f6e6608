package wayland

import (
	"bytes"

	"github.com/neurlang/wayland/wl"
	"golang.org/x/sys/unix"

	"github.com/tuxx/lockgate/internal/log"
)

const (
	keymapFormatXkbV1 = 1
	keyStatePressed   = 1
)

var _ wl.KeyboardKeyHandler = (*Client)(nil)
var _ wl.KeyboardKeymapHandler = (*Client)(nil)
var _ wl.KeyboardModifiersHandler = (*Client)(nil)

func (c *Client) HandleSeatCapabilities(ev wl.SeatCapabilitiesEvent) {
	log.Debug("Seat capabilities: %d", ev.Capabilities)

	if ev.Capabilities&wl.SeatCapabilityKeyboard == 0 {
		if c.keyboard != nil {
			log.Debug("Keyboard capability removed")
			c.keyboard = nil
		}
		return
	}
	if c.keyboard != nil {
		return
	}

	keyboard, err := c.seat.GetKeyboard()
	if err != nil {
		log.Error("Failed to get keyboard: %v", err)
		return
	}
	c.keyboard = keyboard
	keyboard.AddKeyHandler(c)
	keyboard.AddKeymapHandler(c)
	keyboard.AddModifiersHandler(c)
	log.Debug("Keyboard handlers added")
}

// SetInput routes keyboard input to u.
func (c *Client) SetInput(u *UI) {
	c.mu.Lock()
	c.input = u
	c.mu.Unlock()
}

func (c *Client) inputUI() *UI {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.input
}

func (c *Client) HandleKeyboardKeymap(ev wl.KeyboardKeymapEvent) {
	fd := int(ev.Fd)
	defer unix.Close(fd)

	if ev.Format != keymapFormatXkbV1 {
		log.Warn("Ignoring keymap in format %d", ev.Format)
		return
	}

	data, err := unix.Mmap(fd, 0, int(ev.Size), unix.PROT_READ, unix.MAP_PRIVATE)
	if err != nil {
		log.Error("Failed to map keymap: %v", err)
		return
	}
	text := bytes.TrimRight(bytes.Clone(data), "\x00")
	_ = unix.Munmap(data)

	u := c.inputUI()
	if u == nil {
		return
	}
	u.RunOnUI(func() {
		k, err := newXKBKeymap(text)
		if err != nil {
			log.Warn("Using built-in key table: %v", err)
			return
		}
		u.keys.setKeymap(k)
		log.Debug("Loaded %d byte keymap", len(text))
	})
}

func (c *Client) HandleKeyboardModifiers(ev wl.KeyboardModifiersEvent) {
	if u := c.inputUI(); u != nil {
		u.RunOnUI(func() {
			u.keys.modifiers(ev.ModsDepressed, ev.ModsLatched, ev.ModsLocked, ev.Group)
		})
	}
}

func (c *Client) HandleKeyboardKey(ev wl.KeyboardKeyEvent) {
	if ev.State != keyStatePressed {
		return
	}
	if u := c.inputUI(); u != nil {
		key := ev.Key
		u.RunOnUI(func() { u.handleKey(key) })
	}
}
