/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: monitor.go
Description: Commands talking to the log servers of monitored processes: list
reachable monitors, drain their call logs, read the device time and shut them
down.
*/

package commands

import (
	"fmt"
	"time"

	"github.com/kleascm/akaylee-probe/pkg/monitor"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// RunMonitors lists every monitor answering a connectivity check.
func RunMonitors(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer logger.Close()

	ctx, cancel := signalContext()
	defer cancel()

	infos, err := newMonitorClient(cfg, logger).Reachable(ctx)
	if err != nil {
		return err
	}
	if len(infos) == 0 {
		fmt.Printf("⚠️  No monitor reachable on ports %v\n", cfg.Client.MonitorPorts)
		return nil
	}
	for _, info := range infos {
		fmt.Printf("🔌 port %d: pid %s (%s)\n", info.Port, info.PID, info.ProcessName)
	}
	return nil
}

// RunLogs drains the call logs once, or repeatedly with --watch.
func RunLogs(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer logger.Close()

	ctx, cancel := signalContext()
	defer cancel()

	mc := newMonitorClient(cfg, logger)
	interval := viper.GetDuration("logs.watch")
	for {
		entries, err := mc.Logs(ctx)
		if err != nil {
			return err
		}
		printEntries(entries)

		if interval <= 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(interval):
		}
	}
}

func printEntries(entries []monitor.LogEntry) {
	for _, e := range entries {
		fmt.Printf("%s [%s] %s\n", e.Timestamp, e.ProcessID, e.Payload)
	}
}

// RunTime prints the device time as seen by a monitor.
func RunTime(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer logger.Close()

	ctx, cancel := signalContext()
	defer cancel()

	now, err := newMonitorClient(cfg, logger).Time(ctx)
	if err != nil {
		return err
	}
	fmt.Println(now)
	return nil
}

// RunClose shuts down every reachable monitor's log server.
func RunClose(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer logger.Close()

	ctx, cancel := signalContext()
	defer cancel()

	if err := newMonitorClient(cfg, logger).Close(ctx); err != nil {
		return err
	}
	fmt.Println("🛑 Close sent to reachable monitors")
	return nil
}
