// Package wayland connects the locker to a Wayland compositor: the
// ext-session-lock-v1 objects, per-output shm surfaces and keyboard input.
package wayland

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/neurlang/wayland/wl"
	"github.com/neurlang/wayland/wlclient"
	ext "github.com/tuxx/wayland-ext-session-lock-go"

	"github.com/tuxx/lockgate/internal/log"
	"github.com/tuxx/lockgate/internal/output"
	"github.com/tuxx/lockgate/internal/session"
)

var _ session.Compositor = (*Client)(nil)

// Client is one compositor connection. After Lock a single goroutine reads
// the socket and turns protocol events into session events.
type Client struct {
	display     *wl.Display
	registry    *wl.Registry
	compositor  *wl.Compositor
	shm         *wl.Shm
	seat        *wl.Seat
	lockManager *ext.SessionLockManager
	lock        *ext.SessionLock
	keyboard    *wl.Keyboard

	// wire serializes requests on the connection.
	wire sync.Mutex

	mu       sync.Mutex
	outputs  map[uint32]*wl.Output
	surfaces map[session.SurfaceID]*ext.SessionLockSurface
	nextID   session.SurfaceID
	live     bool // initial globals were collected
	queue    []session.Event
	errs     []error
	input    *UI

	notify    chan struct{}
	closed    chan struct{}
	closeOnce sync.Once
	pumpOnce  sync.Once
}

// Connect opens the display named by $WAYLAND_DISPLAY and binds the globals
// the locker needs. It fails with session.ErrLockUnsupported when the
// compositor has no session lock manager.
func Connect() (*Client, error) {
	display, err := wlclient.DisplayConnect(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Wayland display: %w", err)
	}

	c := &Client{
		display:  display,
		outputs:  make(map[uint32]*wl.Output),
		surfaces: make(map[session.SurfaceID]*ext.SessionLockSurface),
		notify:   make(chan struct{}, 1),
		closed:   make(chan struct{}),
	}

	c.registry, err = display.GetRegistry()
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to get registry: %w", err)
	}
	c.registry.AddGlobalHandler(c)
	c.registry.AddGlobalRemoveHandler(c)

	if err := wlclient.DisplayRoundtrip(display); err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to process registry events: %w", err)
	}
	// second roundtrip collects seat capabilities
	if err := wlclient.DisplayRoundtrip(display); err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to process seat events: %w", err)
	}

	if c.lockManager == nil {
		c.Close()
		return nil, session.ErrLockUnsupported
	}
	if c.compositor == nil || c.shm == nil {
		c.Close()
		return nil, errors.New("missing required Wayland interfaces")
	}

	c.mu.Lock()
	c.live = true
	c.mu.Unlock()

	return c, nil
}

// Outputs returns the outputs known when Connect returned. Later changes
// arrive as events.
func (c *Client) Outputs() []output.Output {
	c.mu.Lock()
	defer c.mu.Unlock()

	outs := make([]output.Output, 0, len(c.outputs))
	for name, o := range c.outputs {
		outs = append(outs, output.Output{ID: output.ID(name), Handle: o})
	}
	return outs
}

func (c *Client) HandleRegistryGlobal(ev wl.RegistryGlobalEvent) {
	log.Debug("Registry global event: name=%d interface=%s version=%d", ev.Name, ev.Interface, ev.Version)

	switch ev.Interface {
	case "wl_compositor":
		c.compositor = wlclient.RegistryBindCompositorInterface(c.registry, ev.Name, 4)
		log.Debug("Bound wl_compositor")
	case "wl_shm":
		c.shm = wlclient.RegistryBindShmInterface(c.registry, ev.Name, 1)
		log.Debug("Bound wl_shm")
	case "wl_seat":
		if c.seat != nil {
			return
		}
		c.seat = wlclient.RegistryBindSeatInterface(c.registry, ev.Name, min(ev.Version, 7))
		c.seat.AddCapabilitiesHandler(c)
		log.Debug("Bound wl_seat")
	case "ext_session_lock_manager_v1":
		c.lockManager = ext.BindSessionLockManager(c.registry, ev.Name, 1)
		log.Debug("Bound ext_session_lock_manager_v1")
	case "wl_output":
		o := wlclient.RegistryBindOutputInterface(c.registry, ev.Name, min(ev.Version, 3))

		c.mu.Lock()
		c.outputs[ev.Name] = o
		live := c.live
		c.mu.Unlock()

		log.Debug("Bound wl_output %d", ev.Name)
		if live {
			c.push(session.Event{Kind: session.EventOutputAdded, Output: output.Output{ID: output.ID(ev.Name), Handle: o}})
		}
	}
}

func (c *Client) HandleRegistryGlobalRemove(ev wl.RegistryGlobalRemoveEvent) {
	c.mu.Lock()
	o, ok := c.outputs[ev.Name]
	delete(c.outputs, ev.Name)
	live := c.live
	c.mu.Unlock()

	if !ok {
		return
	}
	log.Debug("Output %d removed", ev.Name)
	if live {
		c.push(session.Event{Kind: session.EventOutputRemoved, Output: output.Output{ID: output.ID(ev.Name), Handle: o}})
	}
}

func (c *Client) HandleSessionLockLocked(ext.SessionLockLockedEvent) {
	log.Info("Session is now locked")
	c.push(session.Event{Kind: session.EventLocked})
}

func (c *Client) HandleSessionLockFinished(ext.SessionLockFinishedEvent) {
	log.Info("Compositor finished the session lock")
	c.push(session.Event{Kind: session.EventFinished})
}

// surfaceHandler tags configure events with the surface they belong to.
type surfaceHandler struct {
	c  *Client
	id session.SurfaceID
}

func (h *surfaceHandler) HandleSessionLockSurfaceConfigure(ev ext.SessionLockSurfaceConfigureEvent) {
	log.Debug("Surface %d configure: serial=%d, width=%d, height=%d", h.id, ev.Serial, ev.Width, ev.Height)
	h.c.push(session.Event{
		Kind:    session.EventConfigure,
		Surface: h.id,
		Serial:  ev.Serial,
		Width:   ev.Width,
		Height:  ev.Height,
	})
}

func (c *Client) push(e session.Event) {
	c.mu.Lock()
	c.queue = append(c.queue, e)
	c.mu.Unlock()
	c.wake()
}

func (c *Client) fail(err error) {
	c.mu.Lock()
	c.errs = append(c.errs, err)
	c.mu.Unlock()
	c.wake()
}

func (c *Client) wake() {
	select {
	case c.notify <- struct{}{}:
	default:
	}
}

func (c *Client) Lock() error {
	c.wire.Lock()
	lock, err := c.lockManager.Lock()
	c.wire.Unlock()
	if err != nil {
		return fmt.Errorf("failed to create session lock: %w", err)
	}
	c.lock = lock
	ext.SessionLockAddListener(lock, c)

	c.pumpOnce.Do(func() { go c.pump() })
	return nil
}

// pump owns all reads from the socket.
func (c *Client) pump() {
	for {
		select {
		case <-c.closed:
			return
		default:
		}
		if err := wlclient.DisplayDispatch(c.display); err != nil {
			select {
			case <-c.closed:
			default:
				log.Error("Failed to dispatch Wayland events: %v", err)
				c.fail(fmt.Errorf("%w: %w", session.ErrDisconnected, err))
			}
			return
		}
	}
}

func (c *Client) Dispatch(timeout time.Duration) ([]session.Event, error) {
	if events, err := c.drain(); len(events) > 0 || err != nil {
		return events, err
	}

	t := time.NewTimer(timeout)
	defer t.Stop()

	select {
	case <-c.notify:
	case <-t.C:
	case <-c.closed:
		return nil, session.ErrDisconnected
	}
	return c.drain()
}

func (c *Client) drain() ([]session.Event, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	events := c.queue
	c.queue = nil
	errs := c.errs
	c.errs = nil
	return events, errors.Join(errs...)
}

func (c *Client) CreateLockSurface(o output.Output, d session.Drawable) (session.SurfaceID, error) {
	s, ok := d.(*Surface)
	if !ok {
		return 0, fmt.Errorf("drawable %T is not a wayland surface", d)
	}
	wo, ok := o.Handle.(*wl.Output)
	if !ok {
		return 0, fmt.Errorf("%s has no wl_output", o.ID)
	}

	c.mu.Lock()
	c.nextID++
	id := c.nextID
	c.mu.Unlock()

	c.wire.Lock()
	defer c.wire.Unlock()
	ls, err := c.lock.GetLockSurface(s.surface, wo)
	if err != nil {
		return 0, fmt.Errorf("failed to get lock surface: %w", err)
	}
	// known before its first configure can be acked
	c.mu.Lock()
	c.surfaces[id] = ls
	c.mu.Unlock()
	ext.SessionLockSurfaceAddListener(ls, &surfaceHandler{c: c, id: id})

	log.Debug("Created lock surface %d on %s", id, o.ID)
	return id, nil
}

func (c *Client) lockSurface(id session.SurfaceID) (*ext.SessionLockSurface, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ls, ok := c.surfaces[id]
	if !ok {
		return nil, fmt.Errorf("unknown lock surface %d", id)
	}
	return ls, nil
}

func (c *Client) AckConfigure(id session.SurfaceID, serial uint32) error {
	ls, err := c.lockSurface(id)
	if err != nil {
		return err
	}
	c.wire.Lock()
	defer c.wire.Unlock()
	return ls.AckConfigure(serial)
}

func (c *Client) DestroyLockSurface(id session.SurfaceID) error {
	ls, err := c.lockSurface(id)
	if err != nil {
		return err
	}
	c.mu.Lock()
	delete(c.surfaces, id)
	c.mu.Unlock()

	c.wire.Lock()
	defer c.wire.Unlock()
	return ls.Destroy()
}

func (c *Client) UnlockAndDestroy() error {
	c.wire.Lock()
	defer c.wire.Unlock()
	return c.lock.UnlockAndDestroy()
}

func (c *Client) DestroyLock() error {
	c.wire.Lock()
	defer c.wire.Unlock()
	return c.lock.Destroy()
}

type doneFunc func()

func (f doneFunc) HandleCallbackDone(wl.CallbackDoneEvent) { f() }

// Roundtrip waits for a wl_display.sync callback. The pump goroutine
// delivers it, so this never reads the socket itself.
func (c *Client) Roundtrip(ctx context.Context) error {
	done := make(chan struct{})
	var once sync.Once

	c.wire.Lock()
	cb, err := c.display.Sync()
	if err == nil {
		cb.AddDoneHandler(doneFunc(func() { once.Do(func() { close(done) }) }))
	}
	c.wire.Unlock()
	if err != nil {
		return fmt.Errorf("failed to request sync: %w", err)
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.closed:
		return session.ErrDisconnected
	}
}

func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		wlclient.DisplayDisconnect(c.display)
	})
	return nil
}
