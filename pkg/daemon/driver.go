/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: driver.go
Description: Command execution of the device-control daemon. Dispatches each
DeviceCommand to the UI device, waits for the GUI to settle around actions and
captures the window hierarchy with bounded retries. Every failure is folded
into the returned DeviceResponse.
*/

package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/kleascm/akaylee-probe/pkg/clock"
	"github.com/sirupsen/logrus"
)

// Driver executes commands against a UIDevice.
type Driver struct {
	cfg    Config
	device UIDevice
	clock  clock.Clock
	log    *logrus.Entry
}

// DriverOption customises a Driver.
type DriverOption func(*Driver)

// WithClock replaces the time source used for waits and retries.
func WithClock(c clock.Clock) DriverOption {
	return func(d *Driver) { d.clock = c }
}

// WithLogger sets the driver's logger.
func WithLogger(l *logrus.Logger) DriverOption {
	return func(d *Driver) { d.log = l.WithField("component", Tag) }
}

// NewDriver creates a driver for device.
func NewDriver(cfg Config, device UIDevice, opts ...DriverOption) *Driver {
	d := &Driver{
		cfg:    cfg,
		device: device,
		clock:  clock.Real(),
		log:    logrus.WithField("component", Tag),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Execute runs one command. It never returns a transport error: failures are
// reported inside the response.
func (d *Driver) Execute(ctx context.Context, cmd DeviceCommand) DeviceResponse {
	log := d.log.WithField("command", cmd.Command)
	log.Debug("Executing command")

	resp, err := d.execute(ctx, cmd)
	if err != nil {
		log.WithError(err).Warn("Command failed")
		return Failure(err)
	}
	return resp
}

func (d *Driver) execute(ctx context.Context, cmd DeviceCommand) (DeviceResponse, error) {
	switch cmd.Command {
	case CommandStop:
		return DeviceResponse{}, nil

	case CommandDumpUIHierarchy:
		status, err := d.GuiStatus(ctx)
		if err != nil {
			return DeviceResponse{}, err
		}
		return DeviceResponse{GuiStatus: status}, nil

	case CommandPerformAction:
		if cmd.Action == nil {
			return DeviceResponse{}, daemonErrorf("command %s carries no action", cmd.Command)
		}
		if err := d.Perform(ctx, *cmd.Action); err != nil {
			return DeviceResponse{}, err
		}
		return DeviceResponse{}, nil

	case CommandIsOrientationNatural:
		natural, err := d.IsNaturalOrientation(ctx)
		if err != nil {
			return DeviceResponse{}, err
		}
		return DeviceResponse{NaturalOrientation: &natural}, nil

	default:
		return DeviceResponse{}, daemonErrorf("unhandled command %q", cmd.Command)
	}
}

// Perform executes action and, when configured, waits for the GUI to settle.
func (d *Driver) Perform(ctx context.Context, action GuiAction) error {
	if err := action.Validate(); err != nil {
		return &DaemonError{Msg: "invalid action", Cause: err}
	}

	d.log.WithField("action", action.String()).Debug("Performing action")
	if err := d.device.Perform(ctx, action); err != nil {
		return fmt.Errorf("failed to perform %s: %w", action, err)
	}

	if d.cfg.WaitForGuiToStabilize {
		if _, err := d.Stabilize(ctx); err != nil {
			return err
		}
	}
	return nil
}

// IsNaturalOrientation waits for idle and reports the display orientation.
func (d *Driver) IsNaturalOrientation(ctx context.Context) (bool, error) {
	if err := d.device.WaitForIdle(ctx); err != nil {
		return false, fmt.Errorf("failed to wait for idle: %w", err)
	}
	natural, err := d.device.IsNaturalOrientation(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to read orientation: %w", err)
	}
	return natural, nil
}

// GuiStatus captures the window hierarchy together with device model and
// display size.
func (d *Driver) GuiStatus(ctx context.Context) (*GuiStatus, error) {
	if d.cfg.WaitForGuiToStabilize {
		if _, err := d.Stabilize(ctx); err != nil {
			return nil, err
		}
	}

	dump, err := d.CaptureWindowHierarchy(ctx)
	if err != nil {
		return nil, err
	}

	model, err := d.device.Model(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read device model: %w", err)
	}
	width, height, err := d.device.DisplaySize(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read display size: %w", err)
	}

	return &GuiStatus{
		WindowHierarchyDump: dump,
		DeviceModel:         model,
		DisplayWidth:        width,
		DisplayHeight:       height,
	}, nil
}

// StabilizeResult reports how a stabilization wait ended.
type StabilizeResult struct {
	Iterations int
	Stable     bool
}

// Stabilize waits until the GUI stops changing. The GUI counts as stable once a
// window update wait runs into its timeout and the UI is idle right after it.
// Running out of iterations is logged, not failed.
func (d *Driver) Stabilize(ctx context.Context) (StabilizeResult, error) {
	if err := d.device.WaitForIdle(ctx); err != nil {
		return StabilizeResult{}, fmt.Errorf("failed to wait for idle: %w", err)
	}

	timeout := d.cfg.WaitForWindowUpdateTimeout
	for i := 1; i <= d.cfg.MaxStabilizeIterations; i++ {
		start := d.clock.Now()
		if err := d.device.WaitForWindowUpdate(ctx, timeout); err != nil {
			return StabilizeResult{Iterations: i}, fmt.Errorf("failed to wait for window update: %w", err)
		}
		updateWait := d.clock.Since(start)

		idle, err := d.idleAtOnce(ctx)
		if err != nil {
			return StabilizeResult{Iterations: i}, fmt.Errorf("failed to wait for idle: %w", err)
		}

		if updateWait >= timeout && idle {
			d.log.WithField("iterations", i).Debug("GUI stabilized")
			return StabilizeResult{Iterations: i, Stable: true}, nil
		}
	}

	d.log.WithField("iterations", d.cfg.MaxStabilizeIterations).Warn("GUI did not stabilize, continuing")
	return StabilizeResult{Iterations: d.cfg.MaxStabilizeIterations}, nil
}

// idleAtOnce waits for idle and reports whether the UI was already idle, either
// as told by the device or by the wait ending within the idle threshold.
func (d *Driver) idleAtOnce(ctx context.Context) (bool, error) {
	if r, ok := d.device.(IdleReporter); ok {
		return r.WaitForIdleReport(ctx)
	}
	start := d.clock.Now()
	if err := d.device.WaitForIdle(ctx); err != nil {
		return false, err
	}
	return d.clock.Since(start) <= d.cfg.IdleThreshold, nil
}

// CaptureWindowHierarchy dumps the UI tree into the configured file and returns
// its contents. Failed attempts are retried after a delay; home is pressed
// before the final attempt.
func (d *Driver) CaptureWindowHierarchy(ctx context.Context) (string, error) {
	path := d.cfg.DumpPath()
	attempts := d.cfg.DumpAttempts

	for attemptsLeft := attempts; attemptsLeft > 0; {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if err := prepareDumpFile(path); err != nil {
			return "", err
		}

		dump, err := d.dumpOnce(ctx, path)
		if err == nil {
			return dump, nil
		}

		attemptsLeft--
		d.log.WithError(err).WithFields(logrus.Fields{
			"file":          path,
			"attempts_left": attemptsLeft,
		}).Warn("Window hierarchy dump failed")

		if attemptsLeft == 1 {
			if err := d.device.PressHome(ctx); err != nil {
				d.log.WithError(err).Warn("Failed to press home before final dump attempt")
			}
		}
		if attemptsLeft > 0 {
			d.clock.Sleep(d.cfg.DumpRetryDelay)
		}
	}

	return "", daemonErrorf("All %d attempts to dump the window hierarchy into %s exhausted", attempts, path)
}

func (d *Driver) dumpOnce(ctx context.Context, path string) (string, error) {
	if err := d.device.DumpWindowHierarchy(ctx, path); err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read dump: %w", err)
	}
	return string(data), nil
}

// prepareDumpFile makes sure the parent directory exists and no stale file is
// left at path.
func prepareDumpFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return &DaemonError{Msg: "failed to create dump directory", Cause: err}
	}

	info, err := os.Stat(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return nil
	case err != nil:
		return &DaemonError{Msg: "failed to inspect dump file", Cause: err}
	case info.IsDir():
		return daemonErrorf("dump path %s is a directory", path)
	}

	if err := os.Remove(path); err != nil {
		return &DaemonError{Msg: "failed to delete stale dump file", Cause: err}
	}
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		return daemonErrorf("dump file %s still present after delete", path)
	}
	return nil
}
