package auth

import "sync"

// CancellationToken is a one-way flag: once cancelled it stays cancelled.
type CancellationToken struct {
	once sync.Once
	done chan struct{}
}

func NewCancellationToken() *CancellationToken {
	return &CancellationToken{done: make(chan struct{})}
}

func (t *CancellationToken) Cancel() {
	t.once.Do(func() { close(t.done) })
}

// Done is closed once the token is cancelled.
func (t *CancellationToken) Done() <-chan struct{} {
	return t.done
}

func (t *CancellationToken) Cancelled() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}
