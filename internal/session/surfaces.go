package session

import (
	"fmt"
	"sync"

	"github.com/tuxx/lockgate/internal/log"
	"github.com/tuxx/lockgate/internal/output"
)

// LockSurface binds one output to one protocol surface and one drawable.
type LockSurface struct {
	Output   output.ID
	ID       SurfaceID
	Drawable Drawable
}

type slotState int

const (
	slotReserved slotState = iota
	slotProvisioning
	slotLive
)

type slot struct {
	state   slotState
	gen     uint64
	surface *LockSurface
}

type configure struct {
	width, height uint32
}

// SurfaceSet is the live-surface set shared by the event loop and the UI
// goroutine. Each output has at most one slot; a slot carries a generation so
// that work scheduled for a removed output can never revive it.
type SurfaceSet struct {
	mu    sync.Mutex
	gen   uint64
	slots map[output.ID]*slot
	byID  map[SurfaceID]output.ID
	// configures that arrived before the creating goroutine committed the surface
	early map[SurfaceID]configure
	// surfaces already destroyed; late configures for them are dropped
	dead map[SurfaceID]struct{}
}

func NewSurfaceSet() *SurfaceSet {
	return &SurfaceSet{
		slots: make(map[output.ID]*slot),
		byID:  make(map[SurfaceID]output.ID),
		early: make(map[SurfaceID]configure),
		dead:  make(map[SurfaceID]struct{}),
	}
}

// reserve opens a slot for id. It reports false if one already exists.
func (s *SurfaceSet) reserve(id output.ID) (uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.slots[id]; ok {
		return 0, false
	}
	s.gen++
	s.slots[id] = &slot{state: slotReserved, gen: s.gen}
	return s.gen, true
}

// claim moves a reserved slot to provisioning.
func (s *SurfaceSet) claim(id output.ID, gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	sl, ok := s.slots[id]
	if !ok || sl.gen != gen || sl.state != slotReserved {
		return false
	}
	sl.state = slotProvisioning
	return true
}

// commit publishes a provisioned surface. It reports false if the slot was
// released meanwhile; the caller then owns ls and must destroy it. A configure
// that raced ahead of the commit is returned with ok set.
func (s *SurfaceSet) commit(id output.ID, gen uint64, ls *LockSurface) (committed bool, early configure, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	early, ok = s.early[ls.ID]
	delete(s.early, ls.ID)

	sl, found := s.slots[id]
	if !found || sl.gen != gen || sl.state != slotProvisioning {
		return false, early, ok
	}
	sl.state = slotLive
	sl.surface = ls
	s.byID[ls.ID] = id
	return true, early, ok
}

// retry moves a provisioning slot back to reserved so it can be claimed
// again. It reports false if the slot was released meanwhile.
func (s *SurfaceSet) retry(id output.ID, gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	sl, ok := s.slots[id]
	if !ok || sl.gen != gen || sl.state != slotProvisioning {
		return false
	}
	sl.state = slotReserved
	return true
}

// abandon drops a slot whose provisioning failed.
func (s *SurfaceSet) abandon(id output.ID, gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sl, ok := s.slots[id]; ok && sl.gen == gen {
		delete(s.slots, id)
	}
}

// release removes the slot for id and returns its surface if it was live.
func (s *SurfaceSet) release(id output.ID) (*LockSurface, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sl, ok := s.slots[id]
	if !ok {
		return nil, false
	}
	delete(s.slots, id)
	if sl.surface == nil {
		return nil, false
	}
	delete(s.byID, sl.surface.ID)
	s.dead[sl.surface.ID] = struct{}{}
	return sl.surface, true
}

// bury marks a surface that never became live as destroyed.
func (s *SurfaceSet) bury(id SurfaceID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.early, id)
	s.dead[id] = struct{}{}
}

// drain empties the set and returns every live surface.
func (s *SurfaceSet) drain() []*LockSurface {
	s.mu.Lock()
	defer s.mu.Unlock()

	var live []*LockSurface
	for _, sl := range s.slots {
		if sl.surface != nil {
			live = append(live, sl.surface)
			s.dead[sl.surface.ID] = struct{}{}
		}
	}
	s.slots = make(map[output.ID]*slot)
	s.byID = make(map[SurfaceID]output.ID)
	s.early = make(map[SurfaceID]configure)
	return live
}

type lookupResult int

const (
	surfaceLive lookupResult = iota
	surfacePending
	surfaceDead
)

// isDead reports whether the surface was already destroyed.
func (s *SurfaceSet) isDead(id SurfaceID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.dead[id]
	return ok
}

// lookup finds a live surface. An acked configure for a surface that is not
// committed yet is stashed for the committing goroutine.
func (s *SurfaceSet) lookup(id SurfaceID, c configure) (*LockSurface, lookupResult) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.dead[id]; ok {
		return nil, surfaceDead
	}
	if out, ok := s.byID[id]; ok {
		return s.slots[out].surface, surfaceLive
	}
	s.early[id] = c
	return nil, surfacePending
}

// Len returns the number of live surfaces.
func (s *SurfaceSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byID)
}

// Outputs returns the outputs that currently have a live surface.
func (s *SurfaceSet) Outputs() []output.ID {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]output.ID, 0, len(s.byID))
	for _, out := range s.byID {
		ids = append(ids, out)
	}
	return ids
}

// maxProvisionAttempts bounds how often one output's lock surface is tried.
const maxProvisionAttempts = 2

// SurfaceFactory provisions lock surfaces on the UI goroutine.
type SurfaceFactory struct {
	compositor Compositor
	ui         UI
	set        *SurfaceSet
}

func NewSurfaceFactory(c Compositor, ui UI, set *SurfaceSet) *SurfaceFactory {
	return &SurfaceFactory{compositor: c, ui: ui, set: set}
}

// Schedule reserves o and queues its provisioning on the UI goroutine. It
// reports false if o already has a surface or one is on its way.
func (f *SurfaceFactory) Schedule(o output.Output) bool {
	gen, ok := f.set.reserve(o.ID)
	if !ok {
		return false
	}
	f.ui.RunOnUI(func() { f.provision(o, gen, 1) })
	return true
}

// provision runs on the UI goroutine.
func (f *SurfaceFactory) provision(o output.Output, gen uint64, attempt int) {
	if !f.set.claim(o.ID, gen) {
		log.Debug("Skipping lock surface for %s: output went away", o.ID)
		return
	}

	d, err := f.ui.NewDrawable(o)
	if err != nil {
		f.failed(o, gen, attempt, fmt.Errorf("failed to create drawable: %w", err))
		return
	}

	sid, err := f.compositor.CreateLockSurface(o, d)
	if err != nil {
		d.Destroy()
		f.failed(o, gen, attempt, fmt.Errorf("failed to create lock surface: %w", err))
		return
	}

	ls := &LockSurface{Output: o.ID, ID: sid, Drawable: d}
	committed, early, hasEarly := f.set.commit(o.ID, gen, ls)
	if !committed {
		log.Debug("Output %s removed while its lock surface was built, destroying it", o.ID)
		f.set.bury(sid)
		if err := f.compositor.DestroyLockSurface(sid); err != nil {
			log.Warn("Failed to destroy orphaned lock surface %d: %v", sid, err)
		}
		d.Destroy()
		return
	}

	log.Debug("Lock surface %d ready for %s", sid, o.ID)
	if hasEarly {
		d.Configure(early.width, early.height)
	}
}

// failed requeues the provisioning of o, or gives the output up once
// maxProvisionAttempts is reached.
func (f *SurfaceFactory) failed(o output.Output, gen uint64, attempt int, err error) {
	if attempt < maxProvisionAttempts && f.set.retry(o.ID, gen) {
		log.Warn("Lock surface for %s (attempt %d): %v, retrying", o.ID, attempt, err)
		f.ui.RunOnUI(func() { f.provision(o, gen, attempt+1) })
		return
	}
	f.set.abandon(o.ID, gen)
	log.Error("Output %s has no lock surface, session is degraded: %v", o.ID, err)
}
