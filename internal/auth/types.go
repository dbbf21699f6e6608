// Package auth turns a blocking prompt/response authentication backend into
// a cancellable conversation the UI drives through channels.
package auth

import (
	"fmt"
	"time"
)

type PromptKind int

const (
	// PromptEcho asks for visible input, usually a user name.
	PromptEcho PromptKind = iota
	// PromptBlind asks for hidden input, usually a password.
	PromptBlind
	// PromptInfo is an informational message.
	PromptInfo
	// PromptError is an error message from the backend.
	PromptError
)

func (k PromptKind) String() string {
	switch k {
	case PromptEcho:
		return "echo"
	case PromptBlind:
		return "blind"
	case PromptInfo:
		return "info"
	case PromptError:
		return "error"
	default:
		return fmt.Sprintf("prompt(%d)", int(k))
	}
}

// Prompt is one conversation message from the backend.
type Prompt struct {
	Kind PromptKind
	Text string
}

// NeedsResponse reports whether the backend waits for a credential.
func (p Prompt) NeedsResponse() bool {
	return p.Kind == PromptEcho || p.Kind == PromptBlind
}

type OutcomeKind int

const (
	OutcomeSuccess OutcomeKind = iota
	OutcomeFailed
	OutcomeCancelled
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeFailed:
		return "failed"
	case OutcomeCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("outcome(%d)", int(k))
	}
}

// Outcome ends one attempt.
type Outcome struct {
	Kind OutcomeKind

	// Failed only
	Reason    string
	Retry     time.Duration // until the next attempt starts
	LockedOut bool
}

type MessageKind int

const (
	MessagePrompt MessageKind = iota
	MessageOutcome
	MessageLoading
)

// Message is what the UI receives from the bridge, in emission order.
type Message struct {
	Kind    MessageKind
	Prompt  Prompt
	Outcome Outcome
	Loading bool
}

func (m Message) String() string {
	switch m.Kind {
	case MessagePrompt:
		return fmt.Sprintf("prompt(%s %q)", m.Prompt.Kind, m.Prompt.Text)
	case MessageOutcome:
		if m.Outcome.Kind == OutcomeFailed {
			return fmt.Sprintf("outcome(failed %q)", m.Outcome.Reason)
		}
		return fmt.Sprintf("outcome(%s)", m.Outcome.Kind)
	case MessageLoading:
		return fmt.Sprintf("loading(%t)", m.Loading)
	default:
		return fmt.Sprintf("message(%d)", int(m.Kind))
	}
}
