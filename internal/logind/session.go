// Package logind talks to systemd-logind about the session being locked:
// the LockedHint property, Lock and Unlock requests and sleep inhibition.
package logind

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/godbus/dbus/v5"

	"github.com/tuxx/lockgate/internal/log"
)

const (
	dbusDest             = "org.freedesktop.login1"
	dbusPath             = dbus.ObjectPath("/org/freedesktop/login1")
	dbusManagerInterface = "org.freedesktop.login1.Manager"
	dbusSessionInterface = "org.freedesktop.login1.Session"
)

// Signal is something logind asked of the locker.
type Signal int

const (
	// SignalLock asks to lock the session (loginctl lock-session).
	SignalLock Signal = iota
	// SignalUnlock asks to unlock the session.
	SignalUnlock
	// SignalSleep announces an imminent suspend.
	SignalSleep
	// SignalResume announces the system woke up.
	SignalResume
)

func (s Signal) String() string {
	switch s {
	case SignalLock:
		return "lock"
	case SignalUnlock:
		return "unlock"
	case SignalSleep:
		return "sleep"
	case SignalResume:
		return "resume"
	default:
		return fmt.Sprintf("signal(%d)", int(s))
	}
}

// Session is the caller's logind session on the system bus.
type Session struct {
	conn    *dbus.Conn
	manager dbus.BusObject
	session dbus.BusObject

	mu      sync.Mutex
	matched bool
	subs    map[chan<- Signal]struct{}
	raw     chan *dbus.Signal
	closed  chan struct{}
	closeMu sync.Once
}

// Open finds the session with id, or the session of this process when id is
// empty.
func Open(id string) (*Session, error) {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to system bus: %w", err)
	}

	s := &Session{
		conn:    conn,
		manager: conn.Object(dbusDest, dbusPath),
		subs:    make(map[chan<- Signal]struct{}),
		raw:     make(chan *dbus.Signal, 16),
		closed:  make(chan struct{}),
	}

	var path dbus.ObjectPath
	if id != "" {
		err = s.manager.Call(dbusManagerInterface+".GetSession", 0, id).Store(&path)
	} else {
		err = s.manager.Call(dbusManagerInterface+".GetSessionByPID", 0, uint32(os.Getpid())).Store(&path)
	}
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to find logind session: %w", err)
	}
	s.session = conn.Object(dbusDest, path)
	log.Debug("Using logind session %s", path)

	conn.Signal(s.raw)
	go s.listen()

	return s, nil
}

func (s *Session) SetLockedHint(locked bool) error {
	if err := s.session.Call(dbusSessionInterface+".SetLockedHint", 0, locked).Err; err != nil {
		return fmt.Errorf("could not set locked hint: %w", err)
	}
	return nil
}

func (s *Session) LockedHint() (bool, error) {
	v, err := s.session.GetProperty(dbusSessionInterface + ".LockedHint")
	if err != nil {
		return false, fmt.Errorf("could not get locked hint: %w", err)
	}
	locked, ok := v.Value().(bool)
	if !ok {
		return false, errors.New("LockedHint property result is not a boolean")
	}
	return locked, nil
}

// Inhibit takes a logind inhibitor lock. Closing the result releases it.
func (s *Session) Inhibit(who, why, mode string, what ...string) (io.Closer, error) {
	var fd dbus.UnixFD
	err := s.manager.Call(dbusManagerInterface+".Inhibit", 0, strings.Join(what, ":"), who, why, mode).Store(&fd)
	if err != nil {
		return nil, fmt.Errorf("failed to create inhibit lock: %w", err)
	}
	return os.NewFile(uintptr(fd), "inhibit"), nil
}

// Subscribe delivers lock, unlock and sleep signals on c. Sends never block;
// use a buffered channel.
func (s *Session) Subscribe(c chan<- Signal) error {
	if c == nil {
		return errors.New("Subscribe: channel cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.matched {
		if err := s.addMatches(); err != nil {
			return err
		}
	}
	s.subs[c] = struct{}{}
	return nil
}

func (s *Session) Unsubscribe(c chan<- Signal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subs, c)
}

func (s *Session) matchSets() [][]dbus.MatchOption {
	return [][]dbus.MatchOption{
		{
			dbus.WithMatchObjectPath(s.session.Path()),
			dbus.WithMatchInterface(dbusSessionInterface),
			dbus.WithMatchSender(dbusDest),
			dbus.WithMatchMember("Lock"),
		},
		{
			dbus.WithMatchObjectPath(s.session.Path()),
			dbus.WithMatchInterface(dbusSessionInterface),
			dbus.WithMatchSender(dbusDest),
			dbus.WithMatchMember("Unlock"),
		},
		{
			dbus.WithMatchObjectPath(dbusPath),
			dbus.WithMatchInterface(dbusManagerInterface),
			dbus.WithMatchSender(dbusDest),
			dbus.WithMatchMember("PrepareForSleep"),
		},
	}
}

// addMatches requires s.mu.
func (s *Session) addMatches() error {
	for _, m := range s.matchSets() {
		if err := s.conn.AddMatchSignal(m...); err != nil {
			return fmt.Errorf("failed to register D-Bus signal: %w", err)
		}
	}
	s.matched = true
	return nil
}

func (s *Session) listen() {
	for {
		select {
		case <-s.closed:
			s.conn.RemoveSignal(s.raw)
			return
		case v := <-s.raw:
			sig, ok := translate(v, s.session.Path())
			if !ok {
				continue
			}
			log.Debug("logind signal: %s", sig)
			s.broadcast(sig)
		}
	}
}

func (s *Session) broadcast(sig Signal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.subs {
		select {
		case c <- sig:
		default:
		}
	}
}

// translate maps a raw D-Bus signal to a Signal for the session at path.
func translate(v *dbus.Signal, path dbus.ObjectPath) (Signal, bool) {
	if v == nil {
		return 0, false
	}
	switch v.Name {
	case dbusSessionInterface + ".Lock":
		return SignalLock, v.Path == path
	case dbusSessionInterface + ".Unlock":
		return SignalUnlock, v.Path == path
	case dbusManagerInterface + ".PrepareForSleep":
		if v.Path != dbusPath || len(v.Body) == 0 {
			return 0, false
		}
		sleeping, ok := v.Body[0].(bool)
		if !ok {
			return 0, false
		}
		if sleeping {
			return SignalSleep, true
		}
		return SignalResume, true
	}
	return 0, false
}

func (s *Session) Close() error {
	var err error
	s.closeMu.Do(func() {
		s.mu.Lock()
		clear(s.subs)
		if s.matched {
			for _, m := range s.matchSets() {
				err = errors.Join(err, s.conn.RemoveMatchSignal(m...))
			}
			s.matched = false
		}
		s.mu.Unlock()

		close(s.closed)
		err = errors.Join(err, s.conn.Close())
	})
	return err
}
