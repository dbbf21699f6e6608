package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tuxx/lockgate/internal/config"
	"github.com/tuxx/lockgate/internal/log"
)

type options struct {
	configPath string
	debugLog   bool
	debugExit  bool
	initConfig bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand(os.Stdout).ExecuteContext(ctx); err != nil {
		log.Fatal("%v", err)
	}
}

func newRootCommand(out io.Writer) *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:           "lockgate",
		Short:         "Lock the Wayland session until the user authenticates",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.initConfig {
				path, err := config.GenerateDefaultConfigFile()
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(out, "Config file: %s\n", path)
				return err
			}

			cfg, closeLog := setup(opts)
			defer closeLog()

			return lockOnce(cmd.Context(), cfg, nil, nil)
		},
	}
	cmd.SetOut(out)
	cmd.SetErr(out)

	flags := cmd.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "Path to configuration file")
	flags.BoolVar(&opts.debugLog, "log", false, "Enable debug logging")
	flags.BoolVar(&opts.debugExit, "debug-exit", false, "Enable exit with ESC (for debugging)")
	cmd.Flags().BoolVar(&opts.initConfig, "init-config", false, "Write a default config file and exit")

	cmd.AddCommand(newWatchCommand(opts))
	return cmd
}

// setup initializes logging and loads the configuration.
func setup(opts *options) (config.Configuration, func()) {
	if opts.debugLog {
		log.InitLogger(log.LevelDebug, true)
		log.Debug("Debug logging enabled")
	} else {
		log.InitLogger(log.LevelError, false)
	}

	cfg := loadConfig(opts.configPath)
	if opts.debugExit {
		cfg.DebugExit = true
	}

	closeLog := func() {}
	if cfg.LogFile != "" {
		c, err := log.AddFile(log.RotationConfig{File: cfg.LogFile, MaxSizeMB: cfg.LogMaxSizeMB, MaxFiles: cfg.LogMaxFiles})
		if err != nil {
			log.Error("Failed to open log file: %v", err)
		} else {
			closeLog = func() { _ = c.Close() }
		}
	}
	return cfg, closeLog
}

// loadConfig reads path, or the default config file when path is empty and
// that file exists. A broken file falls back to the defaults.
func loadConfig(path string) config.Configuration {
	cfg := config.DefaultConfig()

	if path == "" {
		def, err := config.DefaultPath()
		if err != nil {
			return cfg
		}
		if _, err := os.Stat(def); errors.Is(err, os.ErrNotExist) {
			return cfg
		}
		log.Info("Using default config file: %s", def)
		path = def
	}

	if err := config.LoadConfig(path, &cfg); err != nil {
		log.Error("loading config: %v", err)
		return config.DefaultConfig()
	}
	return cfg
}
