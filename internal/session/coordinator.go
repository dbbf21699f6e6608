package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tuxx/lockgate/internal/log"
	"github.com/tuxx/lockgate/internal/output"
)

const (
	defaultDispatchTimeout  = 16 * time.Millisecond
	defaultRoundtripTimeout = 2 * time.Second
)

// Options tunes the coordinator.
type Options struct {
	// DispatchTimeout bounds a single wait for compositor events, so control
	// requests queued from other goroutines are seen even when idle.
	DispatchTimeout time.Duration
	// RoundtripTimeout bounds the sync after unlocking.
	RoundtripTimeout time.Duration
}

// Coordinator owns the compositor connection's event loop and the session
// lock state. Everything but the surface set is confined to the loop goroutine.
type Coordinator struct {
	compositor Compositor
	ui         UI
	registry   *output.Registry
	surfaces   *SurfaceSet
	factory    *SurfaceFactory
	protocol   *Protocol
	opts       Options

	handle        *Handle
	running       bool
	unlockPending bool
}

// Handle controls a running coordinator from any goroutine.
type Handle struct {
	control    chan func()
	unlockOnce sync.Once
	state      atomic.Int32
	locked     chan struct{}
	lockedOnce sync.Once
	done       chan struct{}
	err        error

	co       *Coordinator
	surfaces *SurfaceSet
	registry *output.Registry
}

// Start moves the session lock to AwaitingLock, requests the lock and spawns
// the event loop. Errors sending the lock request are fatal and returned
// before any surface exists.
func Start(ctx context.Context, c Compositor, ui UI, seed []output.Output, opts Options) (*Handle, error) {
	if opts.DispatchTimeout <= 0 {
		opts.DispatchTimeout = defaultDispatchTimeout
	}
	if opts.RoundtripTimeout <= 0 {
		opts.RoundtripTimeout = defaultRoundtripTimeout
	}

	surfaces := NewSurfaceSet()
	co := &Coordinator{
		compositor: c,
		ui:         ui,
		registry:   output.NewRegistry(seed...),
		surfaces:   surfaces,
		factory:    NewSurfaceFactory(c, ui, surfaces),
		protocol:   NewProtocol(),
		opts:       opts,
		running:    true,
	}
	co.handle = &Handle{
		control:  make(chan func(), 16),
		locked:   make(chan struct{}),
		done:     make(chan struct{}),
		co:       co,
		surfaces: surfaces,
		registry: co.registry,
	}

	if err := co.protocol.RequestLock(); err != nil {
		return nil, err
	}
	co.publish()

	if err := c.Lock(); err != nil {
		co.protocol.ForceFinish()
		co.publish()
		return nil, fmt.Errorf("failed to request session lock: %w", err)
	}
	log.Info("Session lock requested, waiting for compositor (%d outputs)", co.registry.Len())

	go co.run(ctx)
	return co.handle, nil
}

func (co *Coordinator) publish() {
	co.handle.state.Store(int32(co.protocol.State()))
}

func (co *Coordinator) run(ctx context.Context) {
	defer func() {
		log.Debug("Event loop stopped while %s (%s)", co.protocol.State(), co.protocol.Reason())
		close(co.handle.done)
	}()

	for co.running {
		if err := ctx.Err(); err != nil {
			// The lock is deliberately left in place; only Unlock releases it.
			log.Warn("Event loop cancelled while %s: %v", co.protocol.State(), err)
			co.handle.err = err
			return
		}

		events, err := co.compositor.Dispatch(co.opts.DispatchTimeout)
		for _, ev := range events {
			co.handleEvent(ev)
		}
		if err != nil {
			if errors.Is(err, ErrDisconnected) {
				log.Error("Lost compositor connection while %s", co.protocol.State())
				co.handle.err = err
				return
			}
			log.Error("Failed to dispatch compositor events: %v", err)
		}

		co.drainControl()
	}
}

func (co *Coordinator) drainControl() {
	for co.running {
		select {
		case fn := <-co.handle.control:
			fn()
		default:
			return
		}
	}
}

func (co *Coordinator) handleEvent(ev Event) {
	switch ev.Kind {
	case EventOutputAdded:
		co.onOutputAdded(ev.Output)
	case EventOutputRemoved:
		co.onOutputRemoved(ev.Output.ID)
	case EventLocked:
		co.onLocked()
	case EventFinished:
		co.onFinished()
	case EventConfigure:
		co.onConfigure(ev)
	default:
		log.Warn("Ignoring unknown compositor event %s", ev.Kind)
	}
}

func (co *Coordinator) onLocked() {
	if err := co.protocol.Confirm(); err != nil {
		log.Warn("Unexpected locked event: %v", err)
		return
	}
	co.publish()
	co.handle.lockedOnce.Do(func() { close(co.handle.locked) })
	log.Info("Session is now locked, provisioning %d lock surfaces", co.registry.Len())

	for _, o := range co.registry.List() {
		co.factory.Schedule(o)
	}

	if co.unlockPending {
		co.unlockPending = false
		co.unlock()
	}
}

func (co *Coordinator) onFinished() {
	reason, changed := co.protocol.ForceFinish()
	if !changed {
		return
	}
	co.publish()

	switch reason {
	case FinishRejected:
		log.Error("Compositor finished the session lock before granting it")
		co.handle.err = ErrLockRejected
	case FinishRevoked:
		log.Warn("Compositor revoked the session lock")
		co.handle.err = ErrLockRevoked
	}

	co.teardownAll()
	if err := co.compositor.DestroyLock(); err != nil {
		log.Error("Failed to destroy finished session lock: %v", err)
	}
	co.running = false
}

func (co *Coordinator) onOutputAdded(o output.Output) {
	if !co.registry.Add(o) {
		log.Debug("Output %s already known", o.ID)
		return
	}
	log.Info("Output %s added", o.ID)

	if co.protocol.CanProvision() {
		co.factory.Schedule(o)
	}
}

func (co *Coordinator) onOutputRemoved(id output.ID) {
	if _, ok := co.registry.Remove(id); ok {
		log.Info("Output %s removed", id)
	}

	ls, ok := co.surfaces.release(id)
	if !ok {
		return
	}
	co.destroySurface(ls)
}

func (co *Coordinator) onConfigure(ev Event) {
	if co.surfaces.isDead(ev.Surface) {
		log.Debug("Dropping configure for destroyed surface %d", ev.Surface)
		return
	}

	if err := co.protocol.CanAcknowledge(ev.Surface, ev.Serial); err != nil {
		log.Warn("Not acknowledging configure: %v", err)
		return
	}
	if err := co.compositor.AckConfigure(ev.Surface, ev.Serial); err != nil {
		log.Error("Failed to ack configure %d for surface %d: %v", ev.Serial, ev.Surface, err)
		return
	}
	if err := co.protocol.Acknowledge(ev.Surface, ev.Serial); err != nil {
		log.Warn("Acked configure not recorded: %v", err)
		return
	}
	log.Debug("Acked configure serial=%d surface=%d size=%dx%d", ev.Serial, ev.Surface, ev.Width, ev.Height)

	// Only acked configures reach the drawable, directly or through the
	// committing goroutine.
	ls, found := co.surfaces.lookup(ev.Surface, configure{width: ev.Width, height: ev.Height})
	if found != surfaceLive || !co.protocol.Displayable(ev.Surface) {
		return
	}
	d, w, h := ls.Drawable, ev.Width, ev.Height
	co.ui.RunOnUI(func() { d.Configure(w, h) })
}

// destroySurface drops the protocol surface now and the drawable on the UI goroutine.
func (co *Coordinator) destroySurface(ls *LockSurface) {
	co.protocol.Forget(ls.ID)
	if err := co.compositor.DestroyLockSurface(ls.ID); err != nil {
		log.Error("Failed to destroy lock surface %d: %v", ls.ID, err)
	}
	d := ls.Drawable
	co.ui.RunOnUI(d.Destroy)
}

func (co *Coordinator) teardownAll() {
	for _, ls := range co.surfaces.drain() {
		co.destroySurface(ls)
	}
}

func (co *Coordinator) unlock() {
	switch co.protocol.State() {
	case AwaitingLock:
		// unlock_and_destroy before locked is a protocol error
		log.Warn("Unlock requested before the lock was granted, deferring")
		co.unlockPending = true
		return
	case Finished:
		return
	}

	if err := co.protocol.Unlock(); err != nil {
		log.Error("Cannot unlock: %v", err)
		return
	}
	co.publish()

	if err := co.compositor.UnlockAndDestroy(); err != nil {
		log.Error("Failed to unlock session: %v", err)
	}
	co.teardownAll()

	// Make sure the compositor has processed the destruction before we exit.
	ctx, cancel := context.WithTimeout(context.Background(), co.opts.RoundtripTimeout)
	defer cancel()
	if err := co.compositor.Roundtrip(ctx); err != nil {
		log.Error("Failed to roundtrip after unlocking session: %v", err)
	}

	log.Info("Session unlocked")
	co.running = false
}

// post queues fn for the event loop. It reports false once the loop exited.
func (h *Handle) post(fn func()) bool {
	select {
	case h.control <- fn:
		return true
	case <-h.done:
		return false
	}
}

// Do runs fn on the event loop goroutine and waits for it.
func (h *Handle) Do(fn func()) bool {
	ran := make(chan struct{})
	if !h.post(func() { fn(); close(ran) }) {
		return false
	}
	select {
	case <-ran:
		return true
	case <-h.done:
		return false
	}
}

// Unlock requests Locked -> Finished. Only the first call has an effect.
func (h *Handle) Unlock() {
	h.unlockOnce.Do(func() {
		h.post(h.co.unlock)
	})
}

// State returns the last published lock state.
func (h *Handle) State() State {
	return State(h.state.Load())
}

// Locked is closed once the compositor granted the lock.
func (h *Handle) Locked() <-chan struct{} {
	return h.locked
}

// Done is closed when the event loop exits.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the event loop exits. It returns nil after a regular
// unlock and ErrLockRejected, ErrLockRevoked, ErrDisconnected or the
// context error otherwise.
func (h *Handle) Wait() error {
	<-h.done
	return h.err
}

// Surfaces returns the number of live lock surfaces.
func (h *Handle) Surfaces() int {
	return h.surfaces.Len()
}

// SurfaceOutputs returns the outputs that have a live lock surface.
func (h *Handle) SurfaceOutputs() []output.ID {
	return h.surfaces.Outputs()
}

// Outputs returns the connected outputs.
func (h *Handle) Outputs() []output.Output {
	return h.registry.List()
}
