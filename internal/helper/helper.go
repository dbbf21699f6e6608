// Package helper holds the chores around a lock: hook commands, the single
// instance guard and the privilege check.
package helper

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"github.com/tuxx/lockgate/internal/log"
)

// ErrAlreadyRunning is returned by AcquireInstance when another locker holds
// the instance lock.
var ErrAlreadyRunning = errors.New("another instance of lockgate is already running")

const hookTimeout = 30 * time.Second

type Hooks struct {
	PreLock  string
	PostLock string
}

// RunPreLock runs the configured pre-lock command, if any.
func (h Hooks) RunPreLock(ctx context.Context) error {
	if h.PreLock == "" {
		return nil
	}
	log.Debug("Running pre-lock command: %s", h.PreLock)
	return runShellCommand(ctx, h.PreLock)
}

// RunPostLock runs the configured post-lock command, if any.
func (h Hooks) RunPostLock(ctx context.Context) error {
	if h.PostLock == "" {
		return nil
	}
	log.Debug("Running post-lock command: %s", h.PostLock)
	return runShellCommand(ctx, h.PostLock)
}

func runShellCommand(ctx context.Context, cmd string) error {
	ctx, cancel := context.WithTimeout(ctx, hookTimeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, "sh", "-c", strings.TrimSpace(cmd)).CombinedOutput()
	if err != nil {
		return fmt.Errorf("command %q failed: %w: %s", cmd, err, strings.TrimSpace(string(out)))
	}
	return nil
}

// CheckUserPermissions refuses to run as root.
func CheckUserPermissions() error {
	if os.Geteuid() == 0 {
		return errors.New("lockgate should not be run as root for security reasons")
	}
	return nil
}

// Instance is a held single-instance lock.
type Instance struct {
	file *os.File
}

// DefaultInstancePath is the lock file under $XDG_RUNTIME_DIR, falling back
// to the temp dir.
func DefaultInstancePath() string {
	dir := os.Getenv("XDG_RUNTIME_DIR")
	if dir == "" {
		dir = os.TempDir()
	}
	return filepath.Join(dir, fmt.Sprintf("lockgate-%d.lock", os.Getuid()))
}

// AcquireInstance takes an exclusive flock on path. The lock lives until
// Release or process exit.
func AcquireInstance(path string) (*Instance, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file: %w", err)
	}

	if err := unix.Flock(int(file.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		file.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, ErrAlreadyRunning
		}
		return nil, fmt.Errorf("failed to lock %s: %w", path, err)
	}

	if err := file.Truncate(0); err == nil {
		fmt.Fprintf(file, "%d\n", os.Getpid())
	}
	return &Instance{file: file}, nil
}

func (i *Instance) Release() error {
	if i == nil || i.file == nil {
		return nil
	}
	err := unix.Flock(int(i.file.Fd()), unix.LOCK_UN)
	err = errors.Join(err, i.file.Close())
	i.file = nil
	return err
}
