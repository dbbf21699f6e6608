package auth

import (
	"sync"

	"github.com/tuxx/lockgate/internal/log"
)

// Bridge is the UI's view of authentication. The UI reads Messages and
// answers prompts with Submit; the worker drives the other side through the
// conversation returned by Conversation.
type Bridge struct {
	token *CancellationToken

	// credentials holds at most one answer for the prompt being awaited.
	credentials chan *Credential

	mu       sync.Mutex
	awaiting bool
	terminal bool // Success or Cancelled was emitted
	closed   bool
	queue    []Message
	notify   chan struct{}

	out  chan Message
	stop chan struct{}
}

func NewBridge() *Bridge {
	b := &Bridge{
		token:       NewCancellationToken(),
		credentials: make(chan *Credential, 1),
		notify:      make(chan struct{}, 1),
		out:         make(chan Message),
		stop:        make(chan struct{}),
	}
	go b.forward()
	return b
}

// Messages delivers prompts, loading changes and outcomes in emission order.
// It is closed by Close.
func (b *Bridge) Messages() <-chan Message {
	return b.out
}

// Token is the cancellation token shared with the worker.
func (b *Bridge) Token() *CancellationToken {
	return b.token
}

// Submit hands c to the attempt waiting for input. Without a waiting attempt
// the credential is destroyed and Submit reports false; callers should only
// submit after receiving a prompt that needs a response.
func (b *Bridge) Submit(c *Credential) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.awaiting || b.terminal || b.closed {
		log.Debug("Dropping credential: no attempt is waiting for input")
		c.Destroy()
		return false
	}
	b.awaiting = false
	// capacity 1 and awaiting gates the send, so this never blocks
	b.credentials <- c
	return true
}

// Cancel stops authentication. A waiting attempt is unblocked without
// counting as a failed credential, one Cancelled outcome is emitted and no
// further prompts follow. Cancel after Success does nothing.
func (b *Bridge) Cancel() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.terminal || b.closed {
		return
	}
	b.terminal = true
	b.awaiting = false
	b.token.Cancel()
	b.enqueue(Message{Kind: MessageOutcome, Outcome: Outcome{Kind: OutcomeCancelled}})
	log.Info("Authentication cancelled")
}

// Close tears the bridge down. Pending messages are discarded and the
// Messages channel is closed.
func (b *Bridge) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.queue = nil
	b.token.Cancel()
	b.mu.Unlock()

	close(b.stop)
}

// Done is closed once authentication can no longer produce anything new.
func (b *Bridge) Done() <-chan struct{} {
	return b.token.Done()
}

func (b *Bridge) enqueue(m Message) {
	b.queue = append(b.queue, m)
	select {
	case b.notify <- struct{}{}:
	default:
	}
}

// emit queues m unless a terminal outcome was already emitted. Prompts are
// also refused once the token is cancelled.
func (b *Bridge) emit(m Message) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.terminal || b.closed {
		return false
	}
	if m.Kind == MessagePrompt && b.token.Cancelled() {
		return false
	}
	if m.Kind == MessageOutcome && m.Outcome.Kind != OutcomeFailed {
		b.terminal = true
	}
	b.enqueue(m)
	return true
}

// ask emits a prompt that needs an answer and opens the input gate in the
// same step, so an answer can never race ahead of the gate.
func (b *Bridge) ask(p Prompt) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.terminal || b.closed || b.token.Cancelled() {
		return false
	}
	b.awaiting = true
	b.enqueue(Message{Kind: MessagePrompt, Prompt: p})
	return true
}

// settle closes the input gate after an answer or a cancellation and wipes a
// credential that arrived too late.
func (b *Bridge) settle() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.awaiting = false
	select {
	case c := <-b.credentials:
		c.Destroy()
	default:
	}
}

func (b *Bridge) forward() {
	defer close(b.out)

	for {
		b.mu.Lock()
		var next Message
		pending := len(b.queue) > 0
		if pending {
			next = b.queue[0]
		}
		b.mu.Unlock()

		if !pending {
			select {
			case <-b.notify:
				continue
			case <-b.stop:
				return
			}
		}

		select {
		case b.out <- next:
			b.mu.Lock()
			if len(b.queue) > 0 {
				b.queue = b.queue[1:]
			}
			b.mu.Unlock()
		case <-b.stop:
			return
		}
	}
}
