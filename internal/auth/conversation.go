package auth

import (
	"github.com/tuxx/lockgate/internal/log"
)

// conversation forwards backend prompts to a Bridge. One conversation serves
// one backend session.
type conversation struct {
	bridge *Bridge
}

func (b *Bridge) Conversation() Conversation {
	return &conversation{bridge: b}
}

func (c *conversation) PromptEcho(msg string) (string, error) {
	return c.prompt(Prompt{Kind: PromptEcho, Text: msg})
}

func (c *conversation) PromptBlind(msg string) (string, error) {
	return c.prompt(Prompt{Kind: PromptBlind, Text: msg})
}

func (c *conversation) Info(msg string) error {
	return c.notice(Prompt{Kind: PromptInfo, Text: msg})
}

func (c *conversation) Error(msg string) error {
	return c.notice(Prompt{Kind: PromptError, Text: msg})
}

func (c *conversation) notice(p Prompt) error {
	if !c.bridge.emit(Message{Kind: MessagePrompt, Prompt: p}) {
		return ErrAborted
	}
	return nil
}

func (c *conversation) prompt(p Prompt) (string, error) {
	b := c.bridge
	if !b.ask(p) {
		return "", ErrAborted
	}
	defer b.settle()

	select {
	case cred := <-b.credentials:
		defer cred.Destroy()
		b.emit(Message{Kind: MessageLoading, Loading: true})
		log.Debug("Received response for %s prompt", p.Kind)
		return cred.reveal(), nil
	case <-b.token.Done():
		return "", ErrAborted
	}
}
