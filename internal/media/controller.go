// Package media pauses MPRIS media players while the session is locked.
package media

import (
	"fmt"
	"strings"

	"github.com/godbus/dbus/v5"

	"github.com/tuxx/lockgate/internal/log"
)

const (
	mprisPrefix = "org.mpris.MediaPlayer2."
	mprisPath   = dbus.ObjectPath("/org/mpris/MediaPlayer2")
	playerIface = "org.mpris.MediaPlayer2.Player"
)

// bus is the part of the session bus the controller uses.
type bus interface {
	ListNames() ([]string, error)
	PlaybackStatus(name string) (string, error)
	Call(name, method string) error
	Close() error
}

// Controller pauses playing players and later resumes exactly those.
type Controller struct {
	bus    bus
	paused []string
}

// NewController connects to the session bus.
func NewController() (*Controller, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to session bus: %w", err)
	}
	return &Controller{bus: &sessionBus{conn: conn}}, nil
}

func (mc *Controller) Close() error {
	return mc.bus.Close()
}

func (mc *Controller) players() ([]string, error) {
	names, err := mc.bus.ListNames()
	if err != nil {
		return nil, fmt.Errorf("failed to list D-Bus names: %w", err)
	}

	var players []string
	for _, name := range names {
		if strings.HasPrefix(name, mprisPrefix) {
			players = append(players, name)
		}
	}
	log.Debug("Found %d MPRIS players among %d D-Bus names", len(players), len(names))
	return players, nil
}

// PauseAll pauses every player that is currently playing.
func (mc *Controller) PauseAll() error {
	players, err := mc.players()
	if err != nil {
		return err
	}

	for _, name := range players {
		status, err := mc.bus.PlaybackStatus(name)
		if err != nil {
			log.Debug("Failed to get playback status for %s: %v", name, err)
			continue
		}
		if status != "Playing" {
			log.Debug("Player %s is not playing (status: %s), skipping pause", name, status)
			continue
		}
		if err := mc.bus.Call(name, "Pause"); err != nil {
			log.Error("Failed to pause %s: %v", name, err)
			continue
		}
		mc.paused = append(mc.paused, name)
		log.Debug("Paused %s", name)
	}
	return nil
}

// ResumeAll resumes the players PauseAll paused if they are still paused.
func (mc *Controller) ResumeAll() error {
	paused := mc.paused
	mc.paused = nil

	for _, name := range paused {
		status, err := mc.bus.PlaybackStatus(name)
		if err != nil {
			log.Debug("Player %s went away: %v", name, err)
			continue
		}
		if status != "Paused" {
			continue
		}
		if err := mc.bus.Call(name, "Play"); err != nil {
			log.Error("Failed to resume %s: %v", name, err)
			continue
		}
		log.Debug("Resumed %s", name)
	}
	return nil
}

type sessionBus struct {
	conn *dbus.Conn
}

func (b *sessionBus) ListNames() ([]string, error) {
	var names []string
	err := b.conn.BusObject().Call("org.freedesktop.DBus.ListNames", 0).Store(&names)
	return names, err
}

func (b *sessionBus) PlaybackStatus(name string) (string, error) {
	v, err := b.conn.Object(name, mprisPath).GetProperty(playerIface + ".PlaybackStatus")
	if err != nil {
		return "", err
	}
	status, ok := v.Value().(string)
	if !ok {
		return "", fmt.Errorf("PlaybackStatus of %s is not a string", name)
	}
	return status, nil
}

func (b *sessionBus) Call(name, method string) error {
	return b.conn.Object(name, mprisPath).Call(playerIface+"."+method, 0).Err
}

func (b *sessionBus) Close() error {
	return b.conn.Close()
}
