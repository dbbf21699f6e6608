package auth

import (
	"fmt"
	"sync"
	"time"

	"github.com/tuxx/lockgate/internal/log"
)

// LockoutPolicy configures how repeated failures slow the user down.
type LockoutPolicy struct {
	MaxAttempts int           // failures before a lockout, 0 disables lockouts
	Duration    time.Duration // first lockout
	MaxDuration time.Duration // cap for escalated lockouts
}

// LockoutManager counts failed attempts and decides when input is locked out.
// Every lockout after the first lasts one Duration longer, up to MaxDuration.
type LockoutManager struct {
	mu       sync.Mutex
	policy   LockoutPolicy
	failures int
	lockouts int
	until    time.Time
	now      func() time.Time
}

func NewLockoutManager(policy LockoutPolicy) *LockoutManager {
	if policy.MaxDuration < policy.Duration {
		policy.MaxDuration = policy.Duration
	}
	return &LockoutManager{policy: policy, now: time.Now}
}

// HandleFailedAttempt records a failure. It reports whether a lockout
// started, how long it lasts and how many attempts remain before the next.
func (lm *LockoutManager) HandleFailedAttempt() (bool, time.Duration, int) {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	lm.failures++
	if lm.policy.MaxAttempts <= 0 {
		log.Info("Authentication failed (%d attempts)", lm.failures)
		return false, 0, 0
	}
	log.Info("Authentication failed (%d/%d attempts)", lm.failures, lm.policy.MaxAttempts)

	if lm.failures < lm.policy.MaxAttempts {
		return false, 0, lm.policy.MaxAttempts - lm.failures
	}

	lm.lockouts++
	d := lm.policy.Duration * time.Duration(lm.lockouts)
	if d > lm.policy.MaxDuration {
		d = lm.policy.MaxDuration
	}
	lm.until = lm.now().Add(d)
	lm.failures = 0

	log.Info("Failed %d attempts, locking out for %v", lm.policy.MaxAttempts, d)
	return true, d, 0
}

func (lm *LockoutManager) IsLockedOut() bool {
	return lm.GetRemainingTime() > 0
}

// GetRemainingTime returns how much of the current lockout is left.
func (lm *LockoutManager) GetRemainingTime() time.Duration {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	remaining := lm.until.Sub(lm.now())
	if remaining < 0 {
		return 0
	}
	return remaining
}

// FormatRemainingTime renders the remaining lockout as mm:ss.
func (lm *LockoutManager) FormatRemainingTime() string {
	return FormatDuration(lm.GetRemainingTime())
}

// ResetLockout clears all state, e.g. after a successful authentication.
func (lm *LockoutManager) ResetLockout() {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	lm.failures = 0
	lm.lockouts = 0
	lm.until = time.Time{}
}

// FormatDuration renders d as mm:ss, rounding up to whole seconds.
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	secs := int((d + time.Second - 1) / time.Second)
	return fmt.Sprintf("%02d:%02d", secs/60, secs%60)
}
