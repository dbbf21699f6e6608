package auth

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/awnumar/memguard"
)

const redacted = "[REDACTED]"

// Credential is a secret typed by the user. It lives in locked memory, is
// consumed by exactly one verification attempt and never prints.
type Credential struct {
	buf *memguard.LockedBuffer
}

// NewCredential moves secret into locked memory and wipes the source slice.
func NewCredential(secret []byte) *Credential {
	return &Credential{buf: memguard.NewBufferFromBytes(secret)}
}

// reveal copies the secret out for the backend. The copy is a Go string and
// cannot be wiped; keep its lifetime to the backend call.
func (c *Credential) reveal() string {
	if c == nil || c.buf == nil || !c.buf.IsAlive() {
		return ""
	}
	return string(c.buf.Bytes())
}

// Destroy wipes the secret. It is safe to call more than once.
func (c *Credential) Destroy() {
	if c == nil || c.buf == nil {
		return
	}
	c.buf.Destroy()
}

func (c *Credential) String() string {
	return redacted
}

// Format prints the redaction marker for every verb, %x and %q included.
func (c *Credential) Format(f fmt.State, _ rune) {
	_, _ = io.WriteString(f, redacted)
}

func (c *Credential) LogValue() slog.Value {
	return slog.StringValue(redacted)
}
