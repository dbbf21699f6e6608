package media

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeBus struct {
	status map[string]string
	calls  []string
	broken map[string]bool
}

func (b *fakeBus) ListNames() ([]string, error) {
	names := []string{"org.freedesktop.DBus", ":1.42", "org.freedesktop.Notifications"}
	for name := range b.status {
		names = append(names, name)
	}
	return names, nil
}

func (b *fakeBus) PlaybackStatus(name string) (string, error) {
	s, ok := b.status[name]
	if !ok {
		return "", errors.New("no such name")
	}
	return s, nil
}

func (b *fakeBus) Call(name, method string) error {
	if b.broken[name] {
		return errors.New("call failed")
	}
	b.calls = append(b.calls, name+"."+method)
	switch method {
	case "Pause":
		b.status[name] = "Paused"
	case "Play":
		b.status[name] = "Playing"
	}
	return nil
}

func (b *fakeBus) Close() error { return nil }

func TestPauseAndResumeOnlyTouchesPlayingPlayers(t *testing.T) {
	t.Parallel()

	bus := &fakeBus{status: map[string]string{
		"org.mpris.MediaPlayer2.spotify": "Playing",
		"org.mpris.MediaPlayer2.mpv":     "Paused",
		"org.mpris.MediaPlayer2.vlc":     "Stopped",
	}}
	mc := &Controller{bus: bus}

	require.NoError(t, mc.PauseAll())
	require.Equal(t, []string{"org.mpris.MediaPlayer2.spotify.Pause"}, bus.calls)

	require.NoError(t, mc.ResumeAll())
	require.Equal(t, []string{
		"org.mpris.MediaPlayer2.spotify.Pause",
		"org.mpris.MediaPlayer2.spotify.Play",
	}, bus.calls)
	require.Equal(t, "Paused", bus.status["org.mpris.MediaPlayer2.mpv"])

	require.NoError(t, mc.ResumeAll())
	require.Len(t, bus.calls, 2, "resume happens once per pause")
}

func TestResumeSkipsPlayersThatChanged(t *testing.T) {
	t.Parallel()

	bus := &fakeBus{
		status: map[string]string{
			"org.mpris.MediaPlayer2.a": "Playing",
			"org.mpris.MediaPlayer2.b": "Playing",
			"org.mpris.MediaPlayer2.c": "Playing",
		},
		broken: map[string]bool{"org.mpris.MediaPlayer2.c": true},
	}
	mc := &Controller{bus: bus}
	require.NoError(t, mc.PauseAll())
	require.Len(t, bus.calls, 2)

	// a was restarted by hand, b quit
	bus.status["org.mpris.MediaPlayer2.a"] = "Playing"
	delete(bus.status, "org.mpris.MediaPlayer2.b")
	bus.calls = nil

	require.NoError(t, mc.ResumeAll())
	require.Empty(t, bus.calls)
}
