package auth

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const (
	waitFor = 2 * time.Second
	quiet   = 100 * time.Millisecond
)

// fakeBackend asks for one blind response per session and accepts password.
type fakeBackend struct {
	password string
	openErr  error
	info     string
	// fails holds errors returned, one per session, before prompting
	fails []error

	opened atomic.Int32
	closed atomic.Int32

	mu      sync.Mutex
	answers []string
}

func (b *fakeBackend) Open(service, user string, conv Conversation) (Session, error) {
	if b.openErr != nil {
		return nil, b.openErr
	}
	b.opened.Add(1)
	return &fakeSession{backend: b, conv: conv}, nil
}

func (b *fakeBackend) nextFailure() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.fails) == 0 {
		return nil
	}
	err := b.fails[0]
	b.fails = b.fails[1:]
	return err
}

func (b *fakeBackend) seen() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.answers...)
}

type fakeSession struct {
	backend *fakeBackend
	conv    Conversation
}

func (s *fakeSession) Authenticate() error {
	if err := s.backend.nextFailure(); err != nil {
		return err
	}
	if s.backend.info != "" {
		if err := s.conv.Info(s.backend.info); err != nil {
			return &Failure{Kind: FailureAbort, Reason: "conversation failed", Err: err}
		}
	}
	answer, err := s.conv.PromptBlind("Password: ")
	if err != nil {
		return &Failure{Kind: FailureAbort, Reason: "conversation failed", Err: err}
	}

	s.backend.mu.Lock()
	s.backend.answers = append(s.backend.answers, answer)
	s.backend.mu.Unlock()

	if answer != s.backend.password {
		return &Failure{Kind: FailureAuth, Reason: "auth_err"}
	}
	return nil
}

func (s *fakeSession) Close() error {
	s.backend.closed.Add(1)
	return errors.New("close is best effort")
}

func next(t *testing.T, msgs <-chan Message) Message {
	t.Helper()

	select {
	case m, ok := <-msgs:
		require.True(t, ok, "message channel closed")
		return m
	case <-time.After(waitFor):
		t.Fatal("no message from bridge")
		return Message{}
	}
}

func expectNothing(t *testing.T, msgs <-chan Message) {
	t.Helper()

	select {
	case m, ok := <-msgs:
		if ok {
			t.Fatalf("unexpected message %s", m)
		}
	case <-time.After(quiet):
	}
}

func expectPrompt(t *testing.T, msgs <-chan Message) Prompt {
	t.Helper()

	m := next(t, msgs)
	require.Equal(t, MessagePrompt, m.Kind, "got %s", m)
	return m.Prompt
}

func expectLoading(t *testing.T, msgs <-chan Message, loading bool) {
	t.Helper()

	m := next(t, msgs)
	require.Equal(t, MessageLoading, m.Kind, "got %s", m)
	require.Equal(t, loading, m.Loading)
}

func expectOutcome(t *testing.T, msgs <-chan Message) Outcome {
	t.Helper()

	m := next(t, msgs)
	require.Equal(t, MessageOutcome, m.Kind, "got %s", m)
	return m.Outcome
}

func secret(s string) *Credential {
	return NewCredential([]byte(s))
}

func startWorker(t *testing.T, backend Backend, opts WorkerOptions) (*Bridge, *Worker) {
	t.Helper()

	b := NewBridge()
	w := NewWorker(b, backend, opts)
	w.Start()
	t.Cleanup(func() {
		b.Cancel()
		<-w.Done()
		b.Close()
	})
	return b, w
}
