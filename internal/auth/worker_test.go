package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFailedAttemptIsFollowedByOneFreshPrompt(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{password: "hunter2"}
	cooldown := 50 * time.Millisecond
	b, w := startWorker(t, backend, WorkerOptions{Service: "lockgate", User: "alice", Cooldown: cooldown})
	msgs := b.Messages()

	p := expectPrompt(t, msgs)
	require.Equal(t, PromptBlind, p.Kind)
	require.True(t, p.NeedsResponse())

	require.True(t, b.Submit(secret("wrong")))
	expectLoading(t, msgs, true)
	expectLoading(t, msgs, false)

	failedAt := time.Now()
	out := expectOutcome(t, msgs)
	require.Equal(t, OutcomeFailed, out.Kind)
	require.Equal(t, "auth_err", out.Reason)
	require.Equal(t, cooldown, out.Retry)
	require.False(t, out.LockedOut)

	p = expectPrompt(t, msgs)
	require.Equal(t, PromptBlind, p.Kind)
	require.Less(t, time.Since(failedAt), cooldown+time.Second)
	require.EqualValues(t, 2, backend.opened.Load())

	require.True(t, b.Submit(secret("hunter2")))
	expectLoading(t, msgs, true)
	expectLoading(t, msgs, false)
	require.Equal(t, OutcomeSuccess, expectOutcome(t, msgs).Kind)

	require.NoError(t, w.Wait())
	expectNothing(t, msgs)
	require.Equal(t, []string{"wrong", "hunter2"}, backend.seen())
	require.EqualValues(t, 2, backend.closed.Load())
}

func TestCancelMidPromptReportsCancelledOnce(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{password: "hunter2"}
	b, w := startWorker(t, backend, WorkerOptions{Cooldown: time.Millisecond})
	msgs := b.Messages()

	expectPrompt(t, msgs)
	b.Cancel()
	b.Cancel()

	require.Equal(t, OutcomeCancelled, expectOutcome(t, msgs).Kind)
	require.ErrorIs(t, w.Wait(), ErrCancelled)
	expectNothing(t, msgs)

	require.Empty(t, backend.seen(), "a cancel is not a submitted credential")
	require.EqualValues(t, 1, backend.opened.Load())
	require.False(t, b.Submit(secret("hunter2")))
}

func TestCancelDuringCooldownStopsRetrying(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{password: "hunter2"}
	b, w := startWorker(t, backend, WorkerOptions{Cooldown: time.Hour})
	msgs := b.Messages()

	expectPrompt(t, msgs)
	require.True(t, b.Submit(secret("nope")))
	expectLoading(t, msgs, true)
	expectLoading(t, msgs, false)
	require.Equal(t, OutcomeFailed, expectOutcome(t, msgs).Kind)

	b.Cancel()
	require.Equal(t, OutcomeCancelled, expectOutcome(t, msgs).Kind)
	require.ErrorIs(t, w.Wait(), ErrCancelled)
	expectNothing(t, msgs)
	require.EqualValues(t, 1, backend.opened.Load())
}

func TestCancelAfterSuccessDoesNothing(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{password: "hunter2"}
	b, w := startWorker(t, backend, WorkerOptions{})
	msgs := b.Messages()

	expectPrompt(t, msgs)
	require.True(t, b.Submit(secret("hunter2")))
	expectLoading(t, msgs, true)
	expectLoading(t, msgs, false)
	require.Equal(t, OutcomeSuccess, expectOutcome(t, msgs).Kind)
	require.NoError(t, w.Wait())

	b.Cancel()
	expectNothing(t, msgs)
	require.False(t, b.Token().Cancelled())
}

func TestSubmitWithoutPromptIsDropped(t *testing.T) {
	t.Parallel()

	b := NewBridge()
	defer b.Close()

	c := secret("early")
	require.False(t, b.Submit(c))
	require.Equal(t, "", c.reveal(), "dropped credential is wiped")
}

func TestInfoMessagesAreForwarded(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{password: "hunter2", info: "Your password expires soon"}
	b, w := startWorker(t, backend, WorkerOptions{})
	msgs := b.Messages()

	p := expectPrompt(t, msgs)
	require.Equal(t, PromptInfo, p.Kind)
	require.False(t, p.NeedsResponse())
	require.Equal(t, "Your password expires soon", p.Text)

	require.Equal(t, PromptBlind, expectPrompt(t, msgs).Kind)
	require.True(t, b.Submit(secret("hunter2")))
	expectLoading(t, msgs, true)
	expectLoading(t, msgs, false)
	require.Equal(t, OutcomeSuccess, expectOutcome(t, msgs).Kind)
	require.NoError(t, w.Wait())
}

func TestOpenFailureIsFatal(t *testing.T) {
	t.Parallel()

	cause := errors.New("pam_start: no such service")
	backend := &fakeBackend{openErr: cause}
	b, w := startWorker(t, backend, WorkerOptions{})

	err := w.Wait()
	require.ErrorIs(t, err, ErrSessionStart)
	require.ErrorIs(t, err, cause)
	expectNothing(t, b.Messages())
}

func TestRepeatedFailuresLockOut(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{password: "hunter2"}
	lockout := NewLockoutManager(LockoutPolicy{MaxAttempts: 2, Duration: 80 * time.Millisecond, MaxDuration: time.Second})
	b, w := startWorker(t, backend, WorkerOptions{Cooldown: time.Millisecond, Lockout: lockout})
	msgs := b.Messages()

	fail := func() Outcome {
		expectPrompt(t, msgs)
		require.True(t, b.Submit(secret("wrong")))
		expectLoading(t, msgs, true)
		expectLoading(t, msgs, false)
		out := expectOutcome(t, msgs)
		require.Equal(t, OutcomeFailed, out.Kind)
		return out
	}

	out := fail()
	require.False(t, out.LockedOut)
	require.Equal(t, time.Millisecond, out.Retry)

	out = fail()
	require.True(t, out.LockedOut)
	require.Equal(t, 80*time.Millisecond, out.Retry)

	lockedAt := time.Now()
	expectPrompt(t, msgs)
	require.GreaterOrEqual(t, time.Since(lockedAt), 50*time.Millisecond)

	require.True(t, b.Submit(secret("hunter2")))
	expectLoading(t, msgs, true)
	expectLoading(t, msgs, false)
	require.Equal(t, OutcomeSuccess, expectOutcome(t, msgs).Kind)
	require.NoError(t, w.Wait())
	require.False(t, lockout.IsLockedOut())
}

func TestFailureKinds(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
	}{
		{"abort", &Failure{Kind: FailureAbort, Reason: "Authentication failed: Conversation aborted"}},
		{"bare abort", ErrAborted},
		{"single backend error", &Failure{Kind: FailureOther, Reason: "Authentication failed: System error"}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			backend := &fakeBackend{password: "hunter2", fails: []error{tc.err}}
			lockout := NewLockoutManager(LockoutPolicy{MaxAttempts: 1, Duration: time.Minute})
			b, w := startWorker(t, backend, WorkerOptions{Cooldown: time.Millisecond, Lockout: lockout})
			msgs := b.Messages()

			expectLoading(t, msgs, false)
			out := expectOutcome(t, msgs)
			require.Equal(t, OutcomeFailed, out.Kind)
			require.False(t, out.LockedOut)
			require.Equal(t, time.Millisecond, out.Retry)
			require.False(t, lockout.IsLockedOut())

			expectPrompt(t, msgs)
			require.True(t, b.Submit(secret("hunter2")))
			expectLoading(t, msgs, true)
			expectLoading(t, msgs, false)
			require.Equal(t, OutcomeSuccess, expectOutcome(t, msgs).Kind)
			require.NoError(t, w.Wait())
			require.EqualValues(t, 2, backend.opened.Load())
		})
	}
}

func TestWrongCredentialCountsTowardLockout(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{fails: []error{&Failure{Kind: FailureAuth, Reason: "auth_err"}}}
	lockout := NewLockoutManager(LockoutPolicy{MaxAttempts: 1, Duration: time.Minute})
	b, _ := startWorker(t, backend, WorkerOptions{Cooldown: time.Millisecond, Lockout: lockout})
	msgs := b.Messages()

	expectLoading(t, msgs, false)
	out := expectOutcome(t, msgs)
	require.Equal(t, OutcomeFailed, out.Kind)
	require.True(t, out.LockedOut)
	require.Equal(t, time.Minute, out.Retry)
	require.True(t, lockout.IsLockedOut())
	expectNothing(t, msgs)
}

func TestRepeatedBackendErrorsEndTheWorker(t *testing.T) {
	t.Parallel()

	cause := &Failure{Kind: FailureOther, Reason: "Authentication failed: System error"}
	backend := &fakeBackend{fails: []error{cause, cause, cause, cause}}
	lockout := NewLockoutManager(LockoutPolicy{MaxAttempts: 1, Duration: time.Minute})
	b, w := startWorker(t, backend, WorkerOptions{Cooldown: time.Millisecond, Lockout: lockout, MaxBackendErrors: 3})
	msgs := b.Messages()

	for i := 0; i < 3; i++ {
		expectLoading(t, msgs, false)
		out := expectOutcome(t, msgs)
		require.Equal(t, OutcomeFailed, out.Kind)
		require.False(t, out.LockedOut)
	}

	err := w.Wait()
	require.ErrorIs(t, err, ErrBackend)
	require.ErrorIs(t, err, cause)
	require.EqualValues(t, 3, backend.opened.Load())
	require.False(t, lockout.IsLockedOut())
	expectNothing(t, msgs)
}

func TestBackendErrorStreakResetsOnWrongCredential(t *testing.T) {
	t.Parallel()

	other := &Failure{Kind: FailureOther, Reason: "System error"}
	backend := &fakeBackend{
		password: "hunter2",
		fails:    []error{other, &Failure{Kind: FailureAuth, Reason: "auth_err"}, other},
	}
	b, w := startWorker(t, backend, WorkerOptions{Cooldown: time.Millisecond, MaxBackendErrors: 2})
	msgs := b.Messages()

	for i := 0; i < 3; i++ {
		expectLoading(t, msgs, false)
		require.Equal(t, OutcomeFailed, expectOutcome(t, msgs).Kind)
	}

	expectPrompt(t, msgs)
	require.True(t, b.Submit(secret("hunter2")))
	expectLoading(t, msgs, true)
	expectLoading(t, msgs, false)
	require.Equal(t, OutcomeSuccess, expectOutcome(t, msgs).Kind)
	require.NoError(t, w.Wait())
}
