// Package session drives the compositor session lock: the lock state
// machine, one lock surface per output, and the event loop that ties them to
// the UI goroutine.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tuxx/lockgate/internal/output"
)

// SurfaceID identifies a protocol lock surface.
type SurfaceID uint32

var (
	// ErrLockUnsupported is returned when the compositor lacks ext_session_lock_manager_v1.
	ErrLockUnsupported = errors.New("compositor does not support ext_session_lock_v1")
	// ErrLockRejected is returned when the compositor finished the lock before granting it.
	ErrLockRejected = errors.New("compositor rejected the session lock")
	// ErrLockRevoked is returned when the compositor finished a granted lock.
	ErrLockRevoked = errors.New("compositor revoked the session lock")
	// ErrDisconnected is returned by Dispatch once the connection is gone.
	ErrDisconnected = errors.New("compositor connection closed")
)

type EventKind int

const (
	EventOutputAdded EventKind = iota
	EventOutputRemoved
	EventLocked
	EventFinished
	EventConfigure
)

func (k EventKind) String() string {
	switch k {
	case EventOutputAdded:
		return "output-added"
	case EventOutputRemoved:
		return "output-removed"
	case EventLocked:
		return "locked"
	case EventFinished:
		return "finished"
	case EventConfigure:
		return "configure"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

// Event is a compositor event translated for the event loop.
type Event struct {
	Kind EventKind

	// EventOutputAdded, EventOutputRemoved
	Output output.Output

	// EventConfigure
	Surface SurfaceID
	Serial  uint32
	Width   uint32
	Height  uint32
}

// Compositor is the session-lock side of a compositor connection.
// Requests may be issued from any goroutine; Dispatch is only called from
// the coordinator's event loop.
type Compositor interface {
	// Dispatch waits at most timeout for events and returns those received
	// in order. Transport errors are returned alongside any events.
	Dispatch(timeout time.Duration) ([]Event, error)

	// Lock requests the session lock.
	Lock() error

	// CreateLockSurface assigns the lock surface role to the drawable on o.
	CreateLockSurface(o output.Output, d Drawable) (SurfaceID, error)
	AckConfigure(id SurfaceID, serial uint32) error
	DestroyLockSurface(id SurfaceID) error

	// UnlockAndDestroy releases a granted lock.
	UnlockAndDestroy() error
	// DestroyLock releases a lock the compositor finished on its own.
	DestroyLock() error

	// Roundtrip returns once the compositor processed every prior request.
	Roundtrip(ctx context.Context) error
	Close() error
}
