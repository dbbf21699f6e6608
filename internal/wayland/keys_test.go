package wayland

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecodeKeycodeFallback(t *testing.T) {
	t.Parallel()

	cases := []struct {
		key   uint32
		shift bool
		want  keyPress
	}{
		{keyEsc, false, keyPress{action: keyClear}},
		{keyEnter, false, keyPress{action: keySubmit}},
		{keyKPEnter, false, keyPress{action: keySubmit}},
		{keyBackspace, false, keyPress{action: keyErase}},
		{2, false, keyPress{action: keyChar, char: '1'}},
		{11, false, keyPress{action: keyChar, char: '0'}},
		{16, false, keyPress{action: keyChar, char: 'q'}},
		{30, true, keyPress{action: keyChar, char: 'A'}},
		{50, false, keyPress{action: keyChar, char: 'm'}},
		{keySpace, false, keyPress{action: keyChar, char: ' '}},
		{200, false, keyPress{}},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, decodeKeycode(tc.key, tc.shift), "key %d", tc.key)
	}
}

func TestDecodeKeysymActions(t *testing.T) {
	t.Parallel()

	require.Equal(t, keySubmit, decodeKeysym(keysymReturn).action)
	require.Equal(t, keySubmit, decodeKeysym(keysymKPEnter).action)
	require.Equal(t, keyErase, decodeKeysym(keysymBackSpace).action)
	require.Equal(t, keyClear, decodeKeysym(keysymEscape).action)
}

func TestDecoderTracksShift(t *testing.T) {
	t.Parallel()

	var d keyDecoder
	d.modifiers(1, 0, 0, 0)
	require.Equal(t, 'Q', d.decode(16).char)
	d.modifiers(0, 0, 0, 0)
	require.Equal(t, 'q', d.decode(16).char)
}
