/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: main.go
Description: Command-line interface for the Akaylee probe. Runs the
device-control daemon, drives scripted sessions against it and talks to the
log servers of monitored processes.
*/

package main

import (
	"fmt"
	"os"
	"time"

	"github.com/kleascm/akaylee-probe/cmd/probe/commands"
	"github.com/kleascm/akaylee-probe/pkg/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func main() {
	config.Configure(viper.GetViper())

	// Create root command
	rootCmd := &cobra.Command{
		Use:   "akaylee-probe",
		Short: "Akaylee Probe - dynamic analysis agents for mobile apps",
		Long: `Akaylee Probe drives an app under analysis through its GUI and records ground
truth while doing so: a device-control daemon executes one GUI command per
round trip, and monitored processes log and police every intercepted API call.`,
		Version:       "1.0.0",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Add persistent flags
	rootCmd.PersistentFlags().String("config", "", "Configuration file path")
	rootCmd.PersistentFlags().String("log-level", "info", "Logging level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "custom", "Log format (text, json, custom)")
	rootCmd.PersistentFlags().String("log-dir", "", "Log output directory (empty for console only)")
	rootCmd.PersistentFlags().Bool("journald", false, "Also log to the systemd journal")
	rootCmd.PersistentFlags().String("host", "127.0.0.1", "Host the daemon and monitors are reached on")
	rootCmd.PersistentFlags().Int("daemon-port", 59800, "Daemon port")
	rootCmd.PersistentFlags().IntSlice("monitor-ports", []int{}, "Log server ports of monitored processes")
	rootCmd.PersistentFlags().Duration("timeout", time.Minute, "Timeout per round trip")
	rootCmd.PersistentFlags().String("serial", "", "ADB device serial (default: only device)")

	// Bind flags to viper
	viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	viper.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("logging.format", rootCmd.PersistentFlags().Lookup("log-format"))
	viper.BindPFlag("logging.output_dir", rootCmd.PersistentFlags().Lookup("log-dir"))
	viper.BindPFlag("logging.journald_enabled", rootCmd.PersistentFlags().Lookup("journald"))
	viper.BindPFlag("client.host", rootCmd.PersistentFlags().Lookup("host"))
	viper.BindPFlag("client.daemon_port", rootCmd.PersistentFlags().Lookup("daemon-port"))
	viper.BindPFlag("client.monitor_ports", rootCmd.PersistentFlags().Lookup("monitor-ports"))
	viper.BindPFlag("client.timeout", rootCmd.PersistentFlags().Lookup("timeout"))
	viper.BindPFlag("device.serial", rootCmd.PersistentFlags().Lookup("serial"))

	// Add daemon command
	daemonCmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run the device-control daemon",
		Long: `Run the device-control daemon over adb. The daemon executes one device command
per connection, stabilizing the GUI before every window hierarchy capture, and
exits when it receives stop-daemon.`,
		RunE: commands.RunDaemon,
	}
	daemonCmd.Flags().String("listen", "127.0.0.1", "Address to listen on")
	daemonCmd.Flags().Int("port", 59800, "Port to listen on")
	daemonCmd.Flags().String("dump-dir", "", "Directory for window hierarchy captures")
	daemonCmd.Flags().Bool("stabilize", true, "Wait for the GUI to settle before capturing")
	daemonCmd.Flags().Int("dump-attempts", 5, "Capture attempts before giving up")
	daemonCmd.Flags().Duration("dump-retry-delay", 2*time.Second, "Delay between capture attempts")
	daemonCmd.Flags().Bool("local", false, "Run device tools directly instead of through adb")

	viper.BindPFlag("daemon.host", daemonCmd.Flags().Lookup("listen"))
	viper.BindPFlag("daemon.port", daemonCmd.Flags().Lookup("port"))
	viper.BindPFlag("daemon.wait_for_gui_to_stabilize", daemonCmd.Flags().Lookup("stabilize"))
	viper.BindPFlag("daemon.dump_attempts", daemonCmd.Flags().Lookup("dump-attempts"))
	viper.BindPFlag("daemon.dump_retry_delay", daemonCmd.Flags().Lookup("dump-retry-delay"))
	viper.BindPFlag("daemon.dump_dir", daemonCmd.Flags().Lookup("dump-dir"))
	viper.BindPFlag("device.local", daemonCmd.Flags().Lookup("local"))
	rootCmd.AddCommand(daemonCmd)

	// Add stop command
	rootCmd.AddCommand(&cobra.Command{
		Use:   "stop",
		Short: "Stop a running daemon",
		RunE:  commands.RunStop,
	})

	// Add dump command
	dumpCmd := &cobra.Command{
		Use:   "dump",
		Short: "Capture the current window hierarchy through the daemon",
		RunE:  commands.RunDump,
	}
	dumpCmd.Flags().String("output", "", "Write the hierarchy to this file instead of stdout")
	viper.BindPFlag("dump.output", dumpCmd.Flags().Lookup("output"))
	rootCmd.AddCommand(dumpCmd)

	// Add orientation command
	rootCmd.AddCommand(&cobra.Command{
		Use:   "orientation",
		Short: "Report whether the device is in its natural orientation",
		RunE:  commands.RunOrientation,
	})

	// Add drive command
	driveCmd := &cobra.Command{
		Use:   "drive",
		Short: "Replay a command script against the daemon",
		Long: `Replay a YAML command script against the device-control daemon. After every
command the call logs of all monitored processes are drained, and with
--package new crashes of that app are collected from logcat.`,
		RunE: commands.RunDrive,
	}
	driveCmd.Flags().String("script", "", "YAML command script (required)")
	driveCmd.Flags().Int("max-steps", 0, "Stop after this many commands (0 = whole script)")
	driveCmd.Flags().Bool("stop-on-error", false, "Stop at the first command the daemon rejects")
	driveCmd.Flags().String("package", "", "Package whose crashes are collected")
	driveCmd.Flags().String("crash-dir", "./crashes", "Directory for crash reports")
	driveCmd.Flags().String("output", "", "JSON lines file receiving every step")
	driveCmd.Flags().Bool("stop-daemon", false, "Stop the daemon when the session ends")
	driveCmd.Flags().Bool("forward", false, "adb forward every monitor port before starting")

	viper.BindPFlag("session.script", driveCmd.Flags().Lookup("script"))
	viper.BindPFlag("session.max_steps", driveCmd.Flags().Lookup("max-steps"))
	viper.BindPFlag("session.stop_on_error", driveCmd.Flags().Lookup("stop-on-error"))
	viper.BindPFlag("session.package", driveCmd.Flags().Lookup("package"))
	viper.BindPFlag("session.crash_dir", driveCmd.Flags().Lookup("crash-dir"))
	viper.BindPFlag("session.output_file", driveCmd.Flags().Lookup("output"))
	viper.BindPFlag("session.stop_daemon", driveCmd.Flags().Lookup("stop-daemon"))
	viper.BindPFlag("session.forward", driveCmd.Flags().Lookup("forward"))
	rootCmd.AddCommand(driveCmd)

	// Add monitor commands
	rootCmd.AddCommand(&cobra.Command{
		Use:   "monitors",
		Short: "List reachable monitored processes",
		RunE:  commands.RunMonitors,
	})

	logsCmd := &cobra.Command{
		Use:   "logs",
		Short: "Drain the call logs of every monitored process",
		RunE:  commands.RunLogs,
	}
	logsCmd.Flags().Duration("watch", 0, "Keep draining at this interval")
	viper.BindPFlag("logs.watch", logsCmd.Flags().Lookup("watch"))
	rootCmd.AddCommand(logsCmd)

	rootCmd.AddCommand(&cobra.Command{
		Use:   "time",
		Short: "Print the device time as seen by a monitored process",
		RunE:  commands.RunTime,
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "close",
		Short: "Shut down the log servers of every monitored process",
		RunE:  commands.RunClose,
	})

	// Add check command for built-in self-checks
	checkCmd := &cobra.Command{
		Use:   "check",
		Short: "Perform built-in self-checks",
		Long: `Validate the configuration, the policy file syntax, the port file and an
optional API table. With --device the adb device is queried, with --online the
daemon and the monitors are probed.`,
		RunE: commands.PerformSelfCheck,
	}
	checkCmd.Flags().String("policy-file", "", "Policy file to validate (default: monitor.policy_file)")
	checkCmd.Flags().String("port-file", "", "Port file to validate (default: monitor.port_file)")
	checkCmd.Flags().String("api-table", "", "YAML API table to validate")
	checkCmd.Flags().Bool("device", false, "Query the adb device")
	checkCmd.Flags().Bool("online", false, "Probe the daemon and the monitors")

	viper.BindPFlag("monitor.policy_file", checkCmd.Flags().Lookup("policy-file"))
	viper.BindPFlag("monitor.port_file", checkCmd.Flags().Lookup("port-file"))
	viper.BindPFlag("check.api_table", checkCmd.Flags().Lookup("api-table"))
	viper.BindPFlag("check.device", checkCmd.Flags().Lookup("device"))
	viper.BindPFlag("check.online", checkCmd.Flags().Lookup("online"))
	rootCmd.AddCommand(checkCmd)

	// Add log summary command
	rootCmd.AddCommand(&cobra.Command{
		Use:   "log-summary",
		Short: "Summarize the probe's log files",
		RunE:  commands.RunLogSummary,
	})

	// Execute root command
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

