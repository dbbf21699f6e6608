package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tuxx/lockgate/internal/output"
)

type fakeCompositor struct {
	mu         sync.Mutex
	events     chan Event
	errs       chan error
	lockErr    error
	failAcks   int // number of AckConfigure calls to fail
	nextID     SurfaceID
	serial     uint32
	live       map[SurfaceID]output.ID
	created    map[output.ID]int
	acks       map[SurfaceID][]uint32
	duplicates int
	unlocks    int
	lockFrees  int
	roundtrips int
	locks      int
}

func newFakeCompositor() *fakeCompositor {
	return &fakeCompositor{
		events:  make(chan Event, 1024),
		errs:    make(chan error, 16),
		live:    make(map[SurfaceID]output.ID),
		created: make(map[output.ID]int),
		acks:    make(map[SurfaceID][]uint32),
	}
}

func (f *fakeCompositor) emit(evs ...Event) {
	for _, ev := range evs {
		f.events <- ev
	}
}

// settle returns once the event loop handled everything emitted so far.
// Dispatch hands every received event to the loop before it runs control
// requests, so an empty queue followed by a Do is a barrier.
func (f *fakeCompositor) settle(t *testing.T, h *Handle) {
	t.Helper()
	require.Eventually(t, func() bool { return len(f.events) == 0 }, 2*time.Second, time.Millisecond)
	require.True(t, h.Do(func() {}))
}

func (f *fakeCompositor) Dispatch(timeout time.Duration) ([]Event, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-f.errs:
		return nil, err
	case ev := <-f.events:
		batch := []Event{ev}
		for {
			select {
			case ev := <-f.events:
				batch = append(batch, ev)
			default:
				return batch, nil
			}
		}
	case <-timer.C:
		return nil, nil
	}
}

func (f *fakeCompositor) Lock() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.locks++
	return f.lockErr
}

func (f *fakeCompositor) CreateLockSurface(o output.Output, d Drawable) (SurfaceID, error) {
	f.mu.Lock()
	for _, out := range f.live {
		if out == o.ID {
			f.duplicates++
		}
	}
	f.nextID++
	id := f.nextID
	f.live[id] = o.ID
	f.created[o.ID]++
	f.serial++
	serial := f.serial
	f.mu.Unlock()

	// a real compositor answers get_lock_surface with a configure
	f.emit(Event{Kind: EventConfigure, Surface: id, Serial: serial, Width: 1920, Height: 1080})
	return id, nil
}

func (f *fakeCompositor) AckConfigure(id SurfaceID, serial uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAcks > 0 {
		f.failAcks--
		return errors.New("broken pipe")
	}
	f.acks[id] = append(f.acks[id], serial)
	return nil
}

func (f *fakeCompositor) DestroyLockSurface(id SurfaceID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.live[id]; !ok {
		return errors.New("unknown lock surface")
	}
	delete(f.live, id)
	return nil
}

func (f *fakeCompositor) UnlockAndDestroy() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unlocks++
	return nil
}

func (f *fakeCompositor) DestroyLock() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lockFrees++
	return nil
}

func (f *fakeCompositor) Roundtrip(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.roundtrips++
	return ctx.Err()
}

func (f *fakeCompositor) Close() error { return nil }

func (f *fakeCompositor) liveOutputs() map[output.ID]int {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[output.ID]int)
	for _, id := range f.live {
		out[id]++
	}
	return out
}

func (f *fakeCompositor) snapshot() (unlocks, lockFrees, roundtrips, duplicates int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.unlocks, f.lockFrees, f.roundtrips, f.duplicates
}

func (f *fakeCompositor) acked(id SurfaceID) []uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]uint32(nil), f.acks[id]...)
}

type fakeDrawable struct {
	output     output.ID
	configured atomic.Int32
	destroyed  atomic.Int32
	width      atomic.Uint32
}

func (d *fakeDrawable) Configure(width, height uint32) {
	d.width.Store(width)
	d.configured.Add(1)
}

func (d *fakeDrawable) Destroy() {
	d.destroyed.Add(1)
}

// fakeUI runs closures on one goroutine, in order. While held, closures queue up.
type fakeUI struct {
	queue     chan func()
	hold      chan struct{}
	mu        sync.Mutex
	drawables []*fakeDrawable
	onUI      atomic.Bool
	// number of NewDrawable calls to fail
	failDrawables atomic.Int32
}

func newFakeUI() *fakeUI {
	ui := &fakeUI{queue: make(chan func(), 1024)}
	go func() {
		for fn := range ui.queue {
			ui.mu.Lock()
			hold := ui.hold
			ui.mu.Unlock()
			if hold != nil {
				<-hold
			}
			ui.onUI.Store(true)
			fn()
			ui.onUI.Store(false)
		}
	}()
	return ui
}

func (u *fakeUI) RunOnUI(fn func()) {
	u.queue <- fn
}

func (u *fakeUI) NewDrawable(o output.Output) (Drawable, error) {
	if !u.onUI.Load() {
		panic("drawable created off the UI goroutine")
	}
	if u.failDrawables.Add(-1) >= 0 {
		return nil, errors.New("out of buffers")
	}
	d := &fakeDrawable{output: o.ID}
	u.mu.Lock()
	u.drawables = append(u.drawables, d)
	u.mu.Unlock()
	return d, nil
}

func (u *fakeUI) pause() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.hold = make(chan struct{})
}

func (u *fakeUI) resume() {
	u.mu.Lock()
	defer u.mu.Unlock()
	close(u.hold)
	u.hold = nil
}

// flush waits until every closure queued so far has run.
func (u *fakeUI) flush() {
	done := make(chan struct{})
	u.RunOnUI(func() { close(done) })
	<-done
}

func (u *fakeUI) all() []*fakeDrawable {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]*fakeDrawable(nil), u.drawables...)
}

func outputs(ids ...output.ID) []output.Output {
	list := make([]output.Output, 0, len(ids))
	for _, id := range ids {
		list = append(list, output.Output{ID: id})
	}
	return list
}
