/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: daemon.go
Description: The daemon command. Runs the device-control daemon over an
adb-backed device until a stop-daemon command arrives or the process is
interrupted.
*/

package commands

import (
	"errors"
	"fmt"

	"github.com/kleascm/akaylee-probe/pkg/daemon"
	"github.com/kleascm/akaylee-probe/pkg/mobile"
	"github.com/kleascm/akaylee-probe/pkg/server"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// RunDaemon serves device commands until stopped.
func RunDaemon(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer logger.Close()

	ctx, cancel := signalContext()
	defer cancel()

	lg := logger.GetLogger()
	dev := mobile.NewADBDevice(cfg.Device, mobile.WithLogger(lg))
	logger.Info("Waiting for device", logrus.Fields{"serial": cfg.Device.Serial, "local": cfg.Device.Local})
	if err := dev.WaitForDevice(ctx); err != nil {
		return fmt.Errorf("device not available: %w", err)
	}
	if model, err := dev.Model(ctx); err == nil {
		logger.Info("Device connected", logrus.Fields{"model": model})
	}

	driver := daemon.NewDriver(cfg.Daemon, dev, daemon.WithLogger(lg))
	d, err := daemon.Start(cfg.Daemon, driver, lg)
	if errors.Is(err, server.ErrAddressInUse) {
		return fmt.Errorf("another daemon already listens on %s:%d: %w", cfg.Daemon.Host, cfg.Daemon.Port, err)
	}
	if err != nil {
		return err
	}

	fmt.Printf("📱 Device-control daemon listening on %s:%d\n", cfg.Daemon.Host, d.Port())
	if err := d.Wait(ctx); err != nil {
		return fmt.Errorf("daemon stopped: %w", err)
	}
	fmt.Println("✨ Daemon stopped")
	return nil
}

// RunStop asks a running daemon to shut down.
func RunStop(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer logger.Close()

	ctx, cancel := signalContext()
	defer cancel()

	if err := newDaemonClient(cfg, logger).Stop(ctx); err != nil {
		return err
	}
	fmt.Printf("🛑 Stop sent to daemon at %s\n", cfg.DaemonAddr())
	return nil
}
