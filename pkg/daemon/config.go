/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: config.go
Description: Daemon settings: listening address, GUI stabilization tuning and
window hierarchy capture retry policy.
*/

package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const (
	// DefaultPort is the daemon's well-known TCP port.
	DefaultPort = 59800
	// DumpFileName is the file the window hierarchy is captured into.
	DumpFileName = "window_hierarchy_dump.xml"
	// Tag marks every daemon diagnostic.
	Tag = "akaylee/daemon"
)

// Config tunes the daemon.
type Config struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`

	DumpDir string `mapstructure:"dump_dir"`

	WaitForGuiToStabilize      bool          `mapstructure:"wait_for_gui_to_stabilize"`
	WaitForWindowUpdateTimeout time.Duration `mapstructure:"wait_for_window_update_timeout"`
	IdleThreshold              time.Duration `mapstructure:"idle_threshold"`
	MaxStabilizeIterations     int           `mapstructure:"max_stabilize_iterations"`

	DumpAttempts   int           `mapstructure:"dump_attempts"`
	DumpRetryDelay time.Duration `mapstructure:"dump_retry_delay"`

	MaxFrameSize uint32 `mapstructure:"max_frame_size"`
}

// DefaultConfig returns the stock daemon settings.
func DefaultConfig() Config {
	return Config{
		Host:                       "127.0.0.1",
		Port:                       DefaultPort,
		DumpDir:                    filepath.Join(os.TempDir(), "akaylee-daemon"),
		WaitForGuiToStabilize:      true,
		WaitForWindowUpdateTimeout: 1200 * time.Millisecond,
		IdleThreshold:              2 * time.Millisecond,
		MaxStabilizeIterations:     5,
		DumpAttempts:               5,
		DumpRetryDelay:             2 * time.Second,
	}
}

// Validate rejects settings the driver cannot work with.
func (c Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	if c.DumpDir == "" {
		return fmt.Errorf("dump_dir must not be empty")
	}
	if c.MaxStabilizeIterations <= 0 {
		return fmt.Errorf("max_stabilize_iterations must be positive")
	}
	if c.DumpAttempts <= 0 {
		return fmt.Errorf("dump_attempts must be positive")
	}
	if c.WaitForWindowUpdateTimeout <= 0 {
		return fmt.Errorf("wait_for_window_update_timeout must be positive")
	}
	return nil
}

// DumpPath returns the capture target file.
func (c Config) DumpPath() string {
	return filepath.Join(c.DumpDir, DumpFileName)
}
