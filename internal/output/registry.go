// Package output tracks the display outputs advertised by the compositor.
package output

import (
	"fmt"
	"sync"
)

// ID is the compositor-assigned global name of an output.
type ID uint32

func (id ID) String() string {
	return fmt.Sprintf("output-%d", uint32(id))
}

// Output is a connected display. Handle is the backend object bound for it
// (a *wl.Output for Wayland) and is opaque to everything but the backend.
type Output struct {
	ID     ID
	Handle any
}

// Registry is the set of connected outputs in advertisement order.
// It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	outputs map[ID]Output
	order   []ID
}

// NewRegistry creates a registry holding the given outputs.
func NewRegistry(seed ...Output) *Registry {
	r := &Registry{outputs: make(map[ID]Output)}
	for _, o := range seed {
		r.Add(o)
	}
	return r
}

// Add records o. It reports false if an output with the same ID is present.
func (r *Registry) Add(o Output) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.outputs[o.ID]; ok {
		return false
	}
	r.outputs[o.ID] = o
	r.order = append(r.order, o.ID)
	return true
}

// Remove forgets the output and returns it if it was present.
func (r *Registry) Remove(id ID) (Output, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	o, ok := r.outputs[id]
	if !ok {
		return Output{}, false
	}
	delete(r.outputs, id)
	for i, v := range r.order {
		if v == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return o, true
}

func (r *Registry) Get(id ID) (Output, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.outputs[id]
	return o, ok
}

func (r *Registry) Contains(id ID) bool {
	_, ok := r.Get(id)
	return ok
}

// List returns a snapshot in advertisement order.
func (r *Registry) List() []Output {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list := make([]Output, 0, len(r.order))
	for _, id := range r.order {
		list = append(list, r.outputs[id])
	}
	return list
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.outputs)
}
