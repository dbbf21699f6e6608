package config

import (
	"encoding/json"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"regexp"
	"time"
)

// Configuration holds the application settings
type Configuration struct {
	// PAM service name to use for authentication
	PamService string `json:"pam_service"`

	// User to authenticate; empty means the user running the locker
	Username string `json:"username"`

	// Delay between a failed attempt and the next PAM conversation, in milliseconds
	RetryCooldownMs int `json:"retry_cooldown_ms"`

	// Upper bound on a single wait for compositor events, in milliseconds
	DispatchTimeoutMs int `json:"dispatch_timeout_ms"`

	// Consecutive failures before the cooldown becomes a lockout
	MaxFailedAttempts int `json:"max_failed_attempts"`

	// First lockout duration in seconds; each further lockout adds the same amount
	LockoutSeconds int `json:"lockout_seconds"`

	// Cap for escalating lockouts in seconds
	MaxLockoutSeconds int `json:"max_lockout_seconds"`

	// Background color (in hex format) for the lock surfaces
	BackgroundColor string `json:"background_color"`

	// Command to run before locking the screen
	PreLockCommand string `json:"pre_lock_command"`

	// Command to run after unlocking the screen
	PostLockCommand string `json:"post_lock_command"`

	// Pause MPRIS players when locking
	LockPauseMedia bool `json:"lock_pause_media"`

	// Resume the players paused on lock after unlocking
	UnlockUnpauseMedia bool `json:"unlock_unpause_media"`

	// Publish the lock state as the logind LockedHint
	SetLockedHint bool `json:"set_locked_hint"`

	// Enable debug exit with the ESC key
	DebugExit bool `json:"debug_exit"`

	// Optional log file, rotated by size
	LogFile      string `json:"log_file"`
	LogMaxSizeMB int    `json:"log_max_size_mb"`
	LogMaxFiles  int    `json:"log_max_files"`
}

var hexColor = regexp.MustCompile(`^#[0-9a-fA-F]{6}([0-9a-fA-F]{2})?$`)

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() Configuration {
	pamService := "system-auth"
	if _, err := os.Stat("/etc/pam.d/lockgate"); err == nil {
		pamService = "lockgate"
	}

	return Configuration{
		PamService:        pamService,
		RetryCooldownMs:   1000,
		DispatchTimeoutMs: 16,
		MaxFailedAttempts: 3,
		LockoutSeconds:    30,
		MaxLockoutSeconds: 600,
		BackgroundColor:   "#1e1e2e",
		SetLockedHint:     true,
		DebugExit:         false, // Disabled by default for security
		LogMaxSizeMB:      5,
		LogMaxFiles:       3,
	}
}

// DefaultPath returns ~/.config/lockgate/config.json
func DefaultPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "lockgate", "config.json"), nil
}

// LoadConfig loads configuration from the specified file path
func LoadConfig(path string, config *Configuration) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := json.Unmarshal(data, config); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := validateConfig(config); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	return nil
}

// SaveConfig saves the current configuration to the specified file path
func SaveConfig(path string, config Configuration) error {
	if err := validateConfig(&config); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config to JSON: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// validateConfig checks if the configuration is valid
func validateConfig(config *Configuration) error {
	if config.PamService == "" {
		return fmt.Errorf("pam_service must not be empty")
	}
	if config.RetryCooldownMs < 0 {
		return fmt.Errorf("retry_cooldown_ms must not be negative")
	}
	// Anything slower starves the control queue of the event loop.
	if config.DispatchTimeoutMs <= 0 || config.DispatchTimeoutMs > 1000 {
		return fmt.Errorf("dispatch_timeout_ms must be between 1 and 1000")
	}
	if config.MaxFailedAttempts < 0 {
		return fmt.Errorf("max_failed_attempts must not be negative")
	}
	if config.LockoutSeconds < 0 || config.MaxLockoutSeconds < config.LockoutSeconds {
		return fmt.Errorf("lockout_seconds must be within [0, max_lockout_seconds]")
	}
	if config.BackgroundColor != "" && !hexColor.MatchString(config.BackgroundColor) {
		return fmt.Errorf("background_color %q is not #rrggbb or #rrggbbaa", config.BackgroundColor)
	}
	return nil
}

// GenerateDefaultConfigFile creates a default configuration file if it doesn't exist
func GenerateDefaultConfigFile() (string, error) {
	configPath, err := DefaultPath()
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}

	if _, err := os.Stat(configPath); err == nil {
		return configPath, nil
	}

	if err := SaveConfig(configPath, DefaultConfig()); err != nil {
		return "", fmt.Errorf("failed to save default config: %w", err)
	}

	return configPath, nil
}

// ResolveUsername returns the configured user or the current one.
func (c Configuration) ResolveUsername() string {
	if c.Username != "" {
		return c.Username
	}
	if u, err := user.Current(); err == nil {
		return u.Username
	}
	if name := os.Getenv("USER"); name != "" {
		return name
	}
	return "nobody"
}

func (c Configuration) RetryCooldown() time.Duration {
	return time.Duration(c.RetryCooldownMs) * time.Millisecond
}

func (c Configuration) DispatchTimeout() time.Duration {
	return time.Duration(c.DispatchTimeoutMs) * time.Millisecond
}

func (c Configuration) Lockout() time.Duration {
	return time.Duration(c.LockoutSeconds) * time.Second
}

func (c Configuration) MaxLockout() time.Duration {
	return time.Duration(c.MaxLockoutSeconds) * time.Second
}

// Color parses BackgroundColor into ARGB components.
func (c Configuration) Color() (r, g, b, a uint8) {
	r, g, b, a = 0x1e, 0x1e, 0x2e, 0xff
	if !hexColor.MatchString(c.BackgroundColor) {
		return
	}
	var v uint32
	if _, err := fmt.Sscanf(c.BackgroundColor[1:], "%x", &v); err != nil {
		return
	}
	if len(c.BackgroundColor) == 9 {
		return uint8(v >> 24), uint8(v >> 16), uint8(v >> 8), uint8(v)
	}
	return uint8(v >> 16), uint8(v >> 8), uint8(v), 0xff
}
