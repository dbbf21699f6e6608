package main

import (
	"context"
	"errors"
	"fmt"
	"image/color"

	"github.com/tuxx/lockgate/internal/auth"
	"github.com/tuxx/lockgate/internal/config"
	"github.com/tuxx/lockgate/internal/helper"
	"github.com/tuxx/lockgate/internal/log"
	"github.com/tuxx/lockgate/internal/logind"
	"github.com/tuxx/lockgate/internal/media"
	"github.com/tuxx/lockgate/internal/pamauth"
	"github.com/tuxx/lockgate/internal/session"
	"github.com/tuxx/lockgate/internal/wayland"
)

// lockOnce locks the session and returns after it was unlocked. onLocked, if
// set, runs once the compositor confirmed the lock. Without ld a logind
// session is opened when the LockedHint is enabled.
func lockOnce(ctx context.Context, cfg config.Configuration, ld *logind.Session, onLocked func()) error {
	if err := helper.CheckUserPermissions(); err != nil {
		return err
	}
	instance, err := helper.AcquireInstance(helper.DefaultInstancePath())
	if err != nil {
		return err
	}
	defer instance.Release()

	hooks := helper.Hooks{PreLock: cfg.PreLockCommand, PostLock: cfg.PostLockCommand}
	if err := hooks.RunPreLock(ctx); err != nil {
		log.Error("Failed to run pre-lock command: %v", err)
	}

	var players *media.Controller
	if cfg.LockPauseMedia || cfg.UnlockUnpauseMedia {
		players, err = media.NewController()
		if err != nil {
			log.Error("Failed to initialize media controller: %v", err)
		} else {
			defer players.Close()
		}
	}
	if players != nil && cfg.LockPauseMedia {
		if err := players.PauseAll(); err != nil {
			log.Error("Failed to pause media: %v", err)
		}
	}

	if ld == nil && cfg.SetLockedHint {
		if ld, err = logind.Open(""); err != nil {
			log.Warn("logind unavailable, not publishing LockedHint: %v", err)
		} else {
			defer ld.Close()
		}
	}

	if err := runSession(ctx, cfg, ld, onLocked); err != nil {
		return err
	}

	if players != nil && cfg.UnlockUnpauseMedia {
		if err := players.ResumeAll(); err != nil {
			log.Warn("Failed to unpause media: %v", err)
		}
	}
	if err := hooks.RunPostLock(context.WithoutCancel(ctx)); err != nil {
		log.Warn("Post-lock command error: %v", err)
	}
	return nil
}

// runSession holds the compositor lock and runs authentication until the
// user is verified.
func runSession(ctx context.Context, cfg config.Configuration, ld *logind.Session, onLocked func()) error {
	client, err := wayland.Connect()
	if err != nil {
		return fmt.Errorf("failed to initialize Wayland: %w", err)
	}
	defer client.Close()

	ui := wayland.NewUI(client, wayland.Style{Background: background(cfg), DebugExit: cfg.DebugExit})
	client.SetInput(ui)
	go ui.Run()
	defer func() {
		ui.Stop()
		<-ui.Done()
	}()

	handle, err := session.Start(ctx, client, ui, client.Outputs(), session.Options{DispatchTimeout: cfg.DispatchTimeout()})
	if err != nil {
		return err
	}

	select {
	case <-handle.Locked():
	case <-handle.Done():
		return handle.Wait()
	}
	log.Info("Screen locked on %d outputs", len(handle.Outputs()))
	if onLocked != nil {
		onLocked()
	}

	if ld != nil && cfg.SetLockedHint {
		if err := ld.SetLockedHint(true); err != nil {
			log.Warn("%v", err)
		}
		defer func() {
			if err := ld.SetLockedHint(false); err != nil {
				log.Warn("%v", err)
			}
		}()
	}

	bridge := auth.NewBridge()
	defer bridge.Close()

	worker := auth.NewWorker(bridge, pamauth.New(), auth.WorkerOptions{
		Service:  cfg.PamService,
		User:     cfg.ResolveUsername(),
		Cooldown: cfg.RetryCooldown(),
		Lockout: auth.NewLockoutManager(auth.LockoutPolicy{
			MaxAttempts: cfg.MaxFailedAttempts,
			Duration:    cfg.Lockout(),
			MaxDuration: cfg.MaxLockout(),
		}),
	})
	ui.Follow(bridge, handle.Unlock)
	ui.OnDebugExit(handle.Unlock)
	worker.Start()

	select {
	case <-handle.Done():
		bridge.Cancel()
		<-worker.Done()
	case <-worker.Done():
		if err := worker.Wait(); err != nil && !errors.Is(err, auth.ErrCancelled) {
			// the compositor keeps the session locked after we exit
			return fmt.Errorf("authentication unavailable: %w", err)
		}
		<-handle.Done()
	}

	return handle.Wait()
}

// background premultiplies the configured color for the ARGB8888 buffers.
func background(cfg config.Configuration) color.RGBA {
	r, g, b, a := cfg.Color()
	premul := func(c uint8) uint8 { return uint8(uint16(c) * uint16(a) / 0xff) }
	return color.RGBA{R: premul(r), G: premul(g), B: premul(b), A: a}
}
