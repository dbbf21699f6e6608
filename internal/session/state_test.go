package session

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestProtocolHappyPath(t *testing.T) {
	t.Parallel()

	p := NewProtocol()
	require.Equal(t, Unlocked, p.State())
	require.False(t, p.CanProvision())

	require.NoError(t, p.RequestLock())
	require.Equal(t, AwaitingLock, p.State())
	require.False(t, p.CanProvision())

	require.NoError(t, p.Confirm())
	require.True(t, p.CanProvision())

	require.NoError(t, p.Unlock())
	require.Equal(t, Finished, p.State())
	require.Equal(t, FinishUnlocked, p.Reason())
}

func TestProtocolInvalidTransitions(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		setup func(p *Protocol)
		step  func(p *Protocol) error
	}{
		{"confirm before request", func(p *Protocol) {}, (*Protocol).Confirm},
		{"unlock before request", func(p *Protocol) {}, (*Protocol).Unlock},
		{"unlock while awaiting", func(p *Protocol) { _ = p.RequestLock() }, (*Protocol).Unlock},
		{"request twice", func(p *Protocol) { _ = p.RequestLock() }, (*Protocol).RequestLock},
		{"unlock twice", func(p *Protocol) {
			_ = p.RequestLock()
			_ = p.Confirm()
			_ = p.Unlock()
		}, (*Protocol).Unlock},
		{"confirm after finish", func(p *Protocol) {
			_ = p.RequestLock()
			p.ForceFinish()
		}, (*Protocol).Confirm},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			p := NewProtocol()
			tc.setup(p)
			require.ErrorIs(t, tc.step(p), ErrInvalidTransition)
		})
	}
}

func TestProtocolForceFinish(t *testing.T) {
	t.Parallel()

	rejected := NewProtocol()
	require.NoError(t, rejected.RequestLock())
	reason, changed := rejected.ForceFinish()
	require.True(t, changed)
	require.Equal(t, FinishRejected, reason)

	revoked := NewProtocol()
	require.NoError(t, revoked.RequestLock())
	require.NoError(t, revoked.Confirm())
	reason, changed = revoked.ForceFinish()
	require.True(t, changed)
	require.Equal(t, FinishRevoked, reason)

	_, changed = revoked.ForceFinish()
	require.False(t, changed)
	require.Equal(t, Finished, revoked.State())
}

func TestProtocolAcknowledge(t *testing.T) {
	t.Parallel()

	p := NewProtocol()
	require.NoError(t, p.RequestLock())
	require.ErrorIs(t, p.Acknowledge(1, 1), ErrInvalidTransition)

	require.NoError(t, p.Confirm())
	require.False(t, p.Displayable(1))
	require.NoError(t, p.CanAcknowledge(1, 5))
	require.False(t, p.Displayable(1), "checking does not record")
	require.NoError(t, p.Acknowledge(1, 5))
	require.True(t, p.Displayable(1))
	require.Error(t, p.CanAcknowledge(1, 5))
	require.Error(t, p.Acknowledge(1, 5))
	require.NoError(t, p.Acknowledge(1, 6))

	p.Forget(1)
	require.False(t, p.Displayable(1))
}

func TestStateString(t *testing.T) {
	t.Parallel()
	require.Equal(t, "awaiting-lock", AwaitingLock.String())
	require.Equal(t, "state(9)", State(9).String())
}
