package auth

import (
	"fmt"
	"time"

	"github.com/tuxx/lockgate/internal/log"
)

const defaultMaxBackendErrors = 3

type WorkerOptions struct {
	Service  string
	User     string
	Cooldown time.Duration   // wait after a failed attempt
	Lockout  *LockoutManager // optional
	// MaxBackendErrors is how many backend errors in a row end the worker
	// with ErrBackend. Zero means 3.
	MaxBackendErrors int
}

// Worker runs authentication attempts one after another until one succeeds
// or the bridge is cancelled. Each attempt gets a fresh backend session.
type Worker struct {
	bridge  *Bridge
	backend Backend
	opts    WorkerOptions

	// consecutive FailureOther results
	backendErrors int

	done chan struct{}
	err  error
}

func NewWorker(bridge *Bridge, backend Backend, opts WorkerOptions) *Worker {
	if opts.MaxBackendErrors <= 0 {
		opts.MaxBackendErrors = defaultMaxBackendErrors
	}
	return &Worker{
		bridge:  bridge,
		backend: backend,
		opts:    opts,
		done:    make(chan struct{}),
	}
}

// Start runs the worker on its own goroutine.
func (w *Worker) Start() {
	go func() {
		defer close(w.done)
		w.err = w.Run()
	}()
}

// Done is closed when a started worker has exited.
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

// Wait blocks until a started worker exits and returns its result.
func (w *Worker) Wait() error {
	<-w.done
	return w.err
}

// Run executes the attempt loop on the calling goroutine. It returns nil
// after a success, ErrCancelled after cancellation, an error wrapping
// ErrSessionStart when the backend cannot open a session and one wrapping
// ErrBackend after MaxBackendErrors backend errors in a row.
func (w *Worker) Run() error {
	token := w.bridge.Token()

	for attempt := 1; ; attempt++ {
		if token.Cancelled() {
			return ErrCancelled
		}

		ok, err := w.attempt(attempt)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		if token.Cancelled() {
			log.Debug("Attempt %d ended by cancellation", attempt)
			return ErrCancelled
		}

		if !w.cooldown() {
			return ErrCancelled
		}
	}
}

// attempt runs one session. It reports whether authentication succeeded.
func (w *Worker) attempt(n int) (bool, error) {
	log.Debug("Starting authentication attempt %d for %s", n, w.opts.User)

	s, err := w.backend.Open(w.opts.Service, w.opts.User, w.bridge.Conversation())
	if err != nil {
		log.Error("Failed to open authentication session: %v", err)
		return false, fmt.Errorf("%w: %w", ErrSessionStart, err)
	}

	authErr := s.Authenticate()
	w.bridge.emit(Message{Kind: MessageLoading, Loading: false})

	if err := s.Close(); err != nil {
		log.Warn("Failed to close authentication session: %v", err)
	}

	if w.bridge.Token().Cancelled() {
		return false, nil
	}

	if authErr == nil {
		if w.opts.Lockout != nil {
			w.opts.Lockout.ResetLockout()
		}
		if w.bridge.emit(Message{Kind: MessageOutcome, Outcome: Outcome{Kind: OutcomeSuccess}}) {
			log.Info("Authentication succeeded")
		}
		return true, nil
	}

	kind := kindOf(authErr)
	switch kind {
	case FailureAuth:
		w.backendErrors = 0
	case FailureAbort:
		w.backendErrors = 0
		log.Warn("Backend aborted the conversation without a cancellation")
	default:
		w.backendErrors++
		log.Error("Authentication backend error (%d/%d): %v", w.backendErrors, w.opts.MaxBackendErrors, authErr)
	}
	w.fail(kind, authErr)

	if kind == FailureOther && w.backendErrors >= w.opts.MaxBackendErrors {
		return false, fmt.Errorf("%w: %w", ErrBackend, authErr)
	}
	return false, nil
}

// fail reports a failed attempt. Only wrong credentials count toward a
// lockout; aborts and backend errors retry after the plain cooldown.
func (w *Worker) fail(kind FailureKind, authErr error) {
	out := Outcome{
		Kind:   OutcomeFailed,
		Reason: reasonOf(authErr),
		Retry:  w.opts.Cooldown,
	}
	if kind == FailureAuth && w.opts.Lockout != nil {
		if locked, d, _ := w.opts.Lockout.HandleFailedAttempt(); locked {
			out.LockedOut = true
			out.Retry = d
		}
	}
	log.Info("Authentication attempt failed: %s", out.Reason)
	w.bridge.emit(Message{Kind: MessageOutcome, Outcome: out})
}

// cooldown waits before the next attempt. It returns false when cancelled.
func (w *Worker) cooldown() bool {
	wait := w.opts.Cooldown
	if lm := w.opts.Lockout; lm != nil && lm.IsLockedOut() {
		log.Info("Locked out, next attempt in %s", lm.FormatRemainingTime())
		if remaining := lm.GetRemainingTime(); remaining > wait {
			wait = remaining
		}
	}
	if wait <= 0 {
		return !w.bridge.Token().Cancelled()
	}

	t := time.NewTimer(wait)
	defer t.Stop()

	select {
	case <-t.C:
		return true
	case <-w.bridge.Token().Done():
		return false
	}
}
