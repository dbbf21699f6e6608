package main

import (
	"context"
	"errors"
	"io"

	"github.com/spf13/cobra"

	"github.com/tuxx/lockgate/internal/config"
	"github.com/tuxx/lockgate/internal/helper"
	"github.com/tuxx/lockgate/internal/log"
	"github.com/tuxx/lockgate/internal/logind"
	"github.com/tuxx/lockgate/internal/session"
)

func newWatchCommand(opts *options) *cobra.Command {
	var sessionID string

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Lock whenever logind asks to, including before suspend",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, closeLog := setup(opts)
			defer closeLog()

			ld, err := logind.Open(sessionID)
			if err != nil {
				return err
			}
			defer ld.Close()

			return watch(cmd.Context(), cfg, ld)
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "logind session id (default: the caller's session)")
	return cmd
}

// watch locks on every logind Lock signal and before every suspend. A delay
// inhibitor holds off suspend until the lock is in place.
func watch(ctx context.Context, cfg config.Configuration, ld *logind.Session) error {
	signals := make(chan logind.Signal, 8)
	if err := ld.Subscribe(signals); err != nil {
		return err
	}
	defer ld.Unsubscribe(signals)

	var inhibitor io.Closer
	inhibit := func() {
		if inhibitor != nil {
			return
		}
		var err error
		inhibitor, err = ld.Inhibit("lockgate", "Lock the screen before suspend", "delay", "sleep")
		if err != nil {
			log.Warn("%v", err)
		}
	}
	release := func() {
		if inhibitor != nil {
			_ = inhibitor.Close()
			inhibitor = nil
		}
	}
	defer release()

	inhibit()
	log.Info("Waiting for logind lock requests")

	for {
		select {
		case <-ctx.Done():
			return nil
		case sig := <-signals:
			switch sig {
			case logind.SignalLock, logind.SignalSleep:
				log.Info("Locking on logind %s signal", sig)
				err := lockOnce(ctx, cfg, ld, release)
				release()
				switch {
				case errors.Is(err, helper.ErrAlreadyRunning):
					log.Info("Session is already locked")
				case errors.Is(err, session.ErrLockRejected):
					log.Warn("%v", err)
				case err != nil:
					return err
				}
				drain(signals)
				inhibit()
			case logind.SignalResume:
				inhibit()
			}
		}
	}
}

// drain drops requests that arrived while the session was locked.
func drain(signals <-chan logind.Signal) {
	for {
		select {
		case <-signals:
		default:
			return
		}
	}
}
