/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: drive.go
Description: The drive command. Replays a YAML command script against the
device-control daemon, draining the call logs of every monitored process after
each step and collecting crashes of the app under analysis.
*/

package commands

import (
	"fmt"
	"os"

	"github.com/kleascm/akaylee-probe/pkg/mobile"
	"github.com/kleascm/akaylee-probe/pkg/script"
	"github.com/kleascm/akaylee-probe/pkg/session"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// RunDrive runs one scripted session.
func RunDrive(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer logger.Close()

	if cfg.Session.Script == "" {
		return fmt.Errorf("no script given, use --script or session.script")
	}
	sc, err := script.Load(cfg.Session.Script)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	lg := logger.GetLogger()
	var dev *mobile.ADBDevice
	if cfg.Session.Forward || cfg.Session.Package != "" {
		dev = mobile.NewADBDevice(cfg.Device, mobile.WithLogger(lg))
	}
	if cfg.Session.Forward {
		for _, port := range cfg.Client.MonitorPorts {
			if err := dev.Forward(ctx, port, port); err != nil {
				return err
			}
		}
	}

	monitors := newMonitorClient(cfg, logger)
	if !monitors.AnyReachable(ctx) {
		logger.Warning("No monitor reachable, calls will not be recorded", logrus.Fields{
			"ports": cfg.Client.MonitorPorts,
		})
	}

	opts := session.Options{
		MaxSteps:    cfg.Session.MaxSteps,
		StopOnError: cfg.Session.StopOnError,
		Logger:      lg,
	}
	if cfg.Session.Package != "" {
		if err := dev.ClearLogcat(ctx); err != nil {
			return fmt.Errorf("failed to clear logcat: %w", err)
		}
		opts.Crashes = mobile.NewCrashWatcher(dev, cfg.Session.Package, cfg.Session.CrashDir)
	}

	sink := session.LoggingSink(logger)
	if cfg.Session.OutputFile != "" {
		f, err := os.Create(cfg.Session.OutputFile)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer f.Close()
		sink = session.Tee(sink, session.JSONSink(f))
	}

	daemonClient := newDaemonClient(cfg, logger)
	s := session.New(daemonClient, monitors, opts)
	fmt.Printf("🚀 Session %s: script %q against %s\n", s.ID(), sc.Name, cfg.DaemonAddr())

	summary, runErr := s.Run(ctx, sc.Supplier(), sink)
	logger.LogSession(summary.ID, summary.Steps, summary.Calls, summary.Fields())

	if cfg.Session.StopDaemon && ctx.Err() == nil {
		if err := daemonClient.Stop(ctx); err != nil {
			logger.Warning("Failed to stop daemon", logrus.Fields{"error": err.Error()})
		}
	}

	fmt.Printf("📊 %d steps, %d failed, %d calls, %d crashes in %v\n",
		summary.Steps, summary.Failures, summary.Calls, summary.Crashes, summary.Duration)
	if runErr != nil && ctx.Err() == nil {
		return runErr
	}
	return nil
}
