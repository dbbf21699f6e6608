package auth

import (
	"bytes"
	"fmt"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCredentialNeverPrints(t *testing.T) {
	t.Parallel()

	src := []byte("correct horse")
	c := NewCredential(src)
	defer c.Destroy()

	require.Equal(t, make([]byte, len(src)), src, "source is wiped")
	require.Equal(t, "correct horse", c.reveal())

	for _, verb := range []string{"%v", "%+v", "%#v", "%s", "%q", "%x", "%X", "%d"} {
		require.Equal(t, "[REDACTED]", fmt.Sprintf(verb, c), verb)
	}
	require.Equal(t, "[REDACTED]", c.String())

	var buf bytes.Buffer
	slog.New(slog.NewTextHandler(&buf, nil)).Info("submit", "cred", c)
	require.NotContains(t, buf.String(), "horse")
	require.Contains(t, buf.String(), "[REDACTED]")
}

func TestCredentialDestroyTwice(t *testing.T) {
	t.Parallel()

	c := NewCredential([]byte("x"))
	c.Destroy()
	c.Destroy()
	require.Equal(t, "", c.reveal())

	var nilCred *Credential
	nilCred.Destroy()
	require.Equal(t, "", nilCred.reveal())
}
