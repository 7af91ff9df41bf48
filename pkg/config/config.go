/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: config.go
Description: Configuration for the Akaylee probe tools. One viper instance merges
defaults, an optional config file, AKAYLEE_* environment variables and bound
command-line flags into a Config with one section per component.
*/

package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kleascm/akaylee-probe/pkg/client"
	"github.com/kleascm/akaylee-probe/pkg/daemon"
	"github.com/kleascm/akaylee-probe/pkg/logging"
	"github.com/kleascm/akaylee-probe/pkg/mobile"
	"github.com/kleascm/akaylee-probe/pkg/monitor"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. AKAYLEE_DAEMON_PORT.
const EnvPrefix = "AKAYLEE"

// ClientConfig locates the agents from the host.
type ClientConfig struct {
	Host         string        `mapstructure:"host"`
	DaemonPort   int           `mapstructure:"daemon_port"`
	MonitorPorts []int         `mapstructure:"monitor_ports"`
	Timeout      time.Duration `mapstructure:"timeout"`
	Retries      int           `mapstructure:"retries"`
	RetryDelay   time.Duration `mapstructure:"retry_delay"`
}

// SessionConfig tunes the host drive loop.
type SessionConfig struct {
	Script      string `mapstructure:"script"`
	MaxSteps    int    `mapstructure:"max_steps"`
	StopOnError bool   `mapstructure:"stop_on_error"`
	Package     string `mapstructure:"package"`
	CrashDir    string `mapstructure:"crash_dir"`
	OutputFile  string `mapstructure:"output_file"`
	StopDaemon  bool   `mapstructure:"stop_daemon"`
	Forward     bool   `mapstructure:"forward"`
}

// Config is the complete configuration.
type Config struct {
	Daemon  daemon.Config        `mapstructure:"daemon"`
	Monitor monitor.Config       `mapstructure:"monitor"`
	Device  mobile.ADBConfig     `mapstructure:"device"`
	Client  ClientConfig         `mapstructure:"client"`
	Session SessionConfig        `mapstructure:"session"`
	Logging logging.LoggerConfig `mapstructure:"logging"`
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	d := daemon.DefaultConfig()
	v.SetDefault("daemon.host", d.Host)
	v.SetDefault("daemon.port", d.Port)
	v.SetDefault("daemon.dump_dir", d.DumpDir)
	v.SetDefault("daemon.wait_for_gui_to_stabilize", d.WaitForGuiToStabilize)
	v.SetDefault("daemon.wait_for_window_update_timeout", d.WaitForWindowUpdateTimeout)
	v.SetDefault("daemon.idle_threshold", d.IdleThreshold)
	v.SetDefault("daemon.max_stabilize_iterations", d.MaxStabilizeIterations)
	v.SetDefault("daemon.dump_attempts", d.DumpAttempts)
	v.SetDefault("daemon.dump_retry_delay", d.DumpRetryDelay)
	v.SetDefault("daemon.max_frame_size", d.MaxFrameSize)

	m := monitor.DefaultConfig()
	v.SetDefault("monitor.host", m.Host)
	v.SetDefault("monitor.port_file", m.PortFile)
	v.SetDefault("monitor.policy_file", m.PolicyFile)
	v.SetDefault("monitor.process_name", m.ProcessName)
	v.SetDefault("monitor.max_frame_size", m.MaxFrameSize)

	a := mobile.DefaultADBConfig()
	v.SetDefault("device.adb_path", a.ADBPath)
	v.SetDefault("device.serial", a.Serial)
	v.SetDefault("device.local", a.Local)
	v.SetDefault("device.remote_dump", a.RemoteDump)
	v.SetDefault("device.poll_interval", a.PollInterval)
	v.SetDefault("device.idle_samples", a.IdleSamples)

	v.SetDefault("client.host", "127.0.0.1")
	v.SetDefault("client.daemon_port", daemon.DefaultPort)
	v.SetDefault("client.monitor_ports", []int{})
	v.SetDefault("client.timeout", client.DefaultTimeout)
	v.SetDefault("client.retries", 3)
	v.SetDefault("client.retry_delay", time.Second)

	v.SetDefault("session.script", "")
	v.SetDefault("session.max_steps", 0)
	v.SetDefault("session.package", "")
	v.SetDefault("session.crash_dir", "")
	v.SetDefault("session.output_file", "")
	v.SetDefault("session.stop_on_error", false)
	v.SetDefault("session.stop_daemon", false)
	v.SetDefault("session.forward", false)

	l := logging.DefaultLoggerConfig()
	v.SetDefault("logging.level", string(l.Level))
	v.SetDefault("logging.format", string(l.Format))
	v.SetDefault("logging.output_dir", l.OutputDir)
	v.SetDefault("logging.max_files", l.MaxFiles)
	v.SetDefault("logging.max_size", l.MaxSize)
	v.SetDefault("logging.timestamp", l.Timestamp)
	v.SetDefault("logging.caller", l.Caller)
	v.SetDefault("logging.colors", l.Colors)
	v.SetDefault("logging.compress", l.Compress)
	v.SetDefault("logging.console", l.Console)
	v.SetDefault("logging.syslog_enabled", l.SyslogEnabled)
	v.SetDefault("logging.syslog_network", l.SyslogNetwork)
	v.SetDefault("logging.syslog_address", l.SyslogAddress)
	v.SetDefault("logging.journald_enabled", l.JournaldEnabled)
	v.SetDefault("logging.identifier", l.Identifier)
}

// New returns a fresh viper instance prepared by Configure.
func New() *viper.Viper {
	return Configure(viper.New())
}

// Configure registers defaults and environment binding on v.
func Configure(v *viper.Viper) *viper.Viper {
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads path (when non-empty) into v and decodes the result.
func Load(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if errors.As(err, &notFound) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks every section.
func (c *Config) Validate() error {
	var errs []error
	if err := c.Daemon.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("daemon: %w", err))
	}
	if err := c.Logging.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("logging: %w", err))
	}
	if c.Client.DaemonPort <= 0 || c.Client.DaemonPort > 65535 {
		errs = append(errs, fmt.Errorf("client: daemon_port %d out of range", c.Client.DaemonPort))
	}
	for _, p := range c.Client.MonitorPorts {
		if p <= 0 || p > 65535 {
			errs = append(errs, fmt.Errorf("client: monitor port %d out of range", p))
		}
	}
	if c.Session.MaxSteps < 0 {
		errs = append(errs, fmt.Errorf("session: max_steps must not be negative"))
	}
	return errors.Join(errs...)
}

// DaemonAddr returns host:port of the daemon as seen from the host.
func (c *Config) DaemonAddr() string {
	return fmt.Sprintf("%s:%d", c.Client.Host, c.Client.DaemonPort)
}
