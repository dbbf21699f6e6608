package session

import (
	"errors"
	"fmt"
)

// State is the lifecycle of the session lock.
type State int32

const (
	Unlocked State = iota
	AwaitingLock
	Locked
	Finished
)

func (s State) String() string {
	switch s {
	case Unlocked:
		return "unlocked"
	case AwaitingLock:
		return "awaiting-lock"
	case Locked:
		return "locked"
	case Finished:
		return "finished"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// FinishReason says which path led to Finished.
type FinishReason int

const (
	NotFinished FinishReason = iota
	// FinishUnlocked follows a successful authentication.
	FinishUnlocked
	// FinishRejected means the compositor refused the lock.
	FinishRejected
	// FinishRevoked means the compositor ended a lock it had granted.
	FinishRevoked
)

func (r FinishReason) String() string {
	switch r {
	case NotFinished:
		return "not-finished"
	case FinishUnlocked:
		return "unlocked"
	case FinishRejected:
		return "rejected"
	case FinishRevoked:
		return "revoked"
	default:
		return fmt.Sprintf("reason(%d)", int(r))
	}
}

var ErrInvalidTransition = errors.New("invalid session lock transition")

// Protocol is the ext-session-lock state machine. It is not safe for
// concurrent use; the coordinator's event loop is its only writer.
type Protocol struct {
	state  State
	reason FinishReason

	// last acknowledged configure serial per surface
	acked map[SurfaceID]uint32
}

func NewProtocol() *Protocol {
	return &Protocol{acked: make(map[SurfaceID]uint32)}
}

func (p *Protocol) State() State {
	return p.state
}

func (p *Protocol) Reason() FinishReason {
	return p.reason
}

func (p *Protocol) transition(from, to State) error {
	if p.state != from {
		return fmt.Errorf("%w: %s -> %s from %s", ErrInvalidTransition, from, to, p.state)
	}
	p.state = to
	return nil
}

// RequestLock moves Unlocked to AwaitingLock.
func (p *Protocol) RequestLock() error {
	return p.transition(Unlocked, AwaitingLock)
}

// Confirm records the compositor's locked event.
func (p *Protocol) Confirm() error {
	return p.transition(AwaitingLock, Locked)
}

// Unlock ends a granted lock after successful authentication.
func (p *Protocol) Unlock() error {
	if err := p.transition(Locked, Finished); err != nil {
		return err
	}
	p.reason = FinishUnlocked
	p.acked = map[SurfaceID]uint32{}
	return nil
}

// ForceFinish handles the compositor's finished event. Before the lock was
// granted this is a rejection, afterwards a revocation. It reports false if
// the lock had already finished.
func (p *Protocol) ForceFinish() (FinishReason, bool) {
	switch p.state {
	case AwaitingLock, Unlocked:
		p.reason = FinishRejected
	case Locked:
		p.reason = FinishRevoked
	case Finished:
		return p.reason, false
	}
	p.state = Finished
	p.acked = map[SurfaceID]uint32{}
	return p.reason, true
}

// CanProvision reports whether lock surfaces may be created.
func (p *Protocol) CanProvision() bool {
	return p.state == Locked
}

// CanAcknowledge reports whether serial may be acked for the surface.
// Serials from a surface must increase; configure events outside Locked
// are refused.
func (p *Protocol) CanAcknowledge(id SurfaceID, serial uint32) error {
	if p.state != Locked {
		return fmt.Errorf("%w: configure for surface %d while %s", ErrInvalidTransition, id, p.state)
	}
	if last, ok := p.acked[id]; ok && serial <= last {
		return fmt.Errorf("stale configure serial %d for surface %d (last %d)", serial, id, last)
	}
	return nil
}

// Acknowledge records a serial the compositor has been sent an ack for.
func (p *Protocol) Acknowledge(id SurfaceID, serial uint32) error {
	if err := p.CanAcknowledge(id, serial); err != nil {
		return err
	}
	p.acked[id] = serial
	return nil
}

// Displayable reports whether the surface has acknowledged a configure and
// may therefore attach a buffer.
func (p *Protocol) Displayable(id SurfaceID) bool {
	_, ok := p.acked[id]
	return ok
}

// Forget drops ack tracking for a destroyed surface.
func (p *Protocol) Forget(id SurfaceID) {
	delete(p.acked, id)
}
