/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: daemon.go
Description: Client for the device-control daemon. Retries connecting while the
daemon is still coming up and turns failures carried in a DeviceResponse into
Go errors. A command that reached the daemon is never sent twice.
*/

package client

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kleascm/akaylee-probe/pkg/clock"
	"github.com/kleascm/akaylee-probe/pkg/daemon"
	"github.com/sirupsen/logrus"
)

// DaemonClient sends DeviceCommands to one daemon.
type DaemonClient struct {
	addr       string
	timeout    time.Duration
	retries    int
	retryDelay time.Duration
	clock      clock.Clock
	log        *logrus.Entry
}

// DaemonOptions tunes a DaemonClient.
type DaemonOptions struct {
	Timeout    time.Duration
	Retries    int
	RetryDelay time.Duration
	Clock      clock.Clock
	Logger     *logrus.Logger
}

// NewDaemonClient creates a client for the daemon at addr.
func NewDaemonClient(addr string, opts DaemonOptions) *DaemonClient {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = time.Second
	}
	return &DaemonClient{
		addr:       addr,
		timeout:    opts.Timeout,
		retries:    opts.Retries,
		retryDelay: opts.RetryDelay,
		clock:      opts.Clock,
		log:        opts.Logger.WithFields(logrus.Fields{"component": "daemon-client", "addr": addr}),
	}
}

// Execute sends cmd and returns the daemon's response. A failure reported by
// the daemon is returned both in the response and as the error. Only dial
// failures are retried; once the command is written it may already be running.
func (c *DaemonClient) Execute(ctx context.Context, cmd daemon.DeviceCommand) (daemon.DeviceResponse, error) {
	var (
		resp daemon.DeviceResponse
		err  error
	)
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			c.log.WithError(err).WithField("attempt", attempt).Debug("Daemon unreachable, retrying")
			c.clock.Sleep(c.retryDelay)
		}
		resp, err = Query[daemon.DeviceCommand, daemon.DeviceResponse](ctx, c.addr, cmd, c.timeout)
		if err == nil || !errors.Is(err, ErrUnreachable) || ctx.Err() != nil {
			break
		}
	}
	if err != nil {
		return resp, fmt.Errorf("failed to send %s: %w", cmd.Command, err)
	}
	if err := resp.Validate(); err != nil {
		return resp, fmt.Errorf("malformed response to %s: %w", cmd.Command, err)
	}
	if resp.Err != nil {
		return resp, resp.Err
	}
	return resp, nil
}

// DumpUI returns the current GUI status.
func (c *DaemonClient) DumpUI(ctx context.Context) (*daemon.GuiStatus, error) {
	resp, err := c.Execute(ctx, daemon.DumpCommand())
	if err != nil {
		return nil, err
	}
	if resp.GuiStatus == nil {
		return nil, errors.New("daemon returned no gui status")
	}
	return resp.GuiStatus, nil
}

// Perform executes action on the device.
func (c *DaemonClient) Perform(ctx context.Context, action daemon.GuiAction) error {
	_, err := c.Execute(ctx, daemon.PerformCommand(action))
	return err
}

// IsNaturalOrientation reports the device orientation.
func (c *DaemonClient) IsNaturalOrientation(ctx context.Context) (bool, error) {
	resp, err := c.Execute(ctx, daemon.OrientationCommand())
	if err != nil {
		return false, err
	}
	if resp.NaturalOrientation == nil {
		return false, errors.New("daemon returned no orientation")
	}
	return *resp.NaturalOrientation, nil
}

// Stop shuts the daemon down.
func (c *DaemonClient) Stop(ctx context.Context) error {
	_, err := c.Execute(ctx, daemon.StopCommand())
	return err
}
