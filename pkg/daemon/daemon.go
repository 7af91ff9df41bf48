/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: daemon.go
Description: The device-control daemon server. Serves one DeviceCommand per
connection through the driver until a stop command arrives.
*/

package daemon

import (
	"context"
	"fmt"

	"github.com/kleascm/akaylee-probe/pkg/server"
	"github.com/sirupsen/logrus"
)

// Daemon is a running device-control server.
type Daemon struct {
	driver *Driver
	srv    *server.Server[DeviceCommand, DeviceResponse]
}

type commandHandler struct {
	driver *Driver
}

func (h *commandHandler) OnRequest(ctx context.Context, cmd DeviceCommand) (DeviceResponse, error) {
	return h.driver.Execute(ctx, cmd), nil
}

func (h *commandHandler) ShouldClose(cmd DeviceCommand) bool {
	return cmd.Command == CommandStop
}

// Start binds the daemon on cfg.Host:cfg.Port. A busy port yields
// server.ErrAddressInUse.
func Start(cfg Config, driver *Driver, logger *logrus.Logger) (*Daemon, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid daemon config: %w", err)
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	srv, err := server.TryStart[DeviceCommand, DeviceResponse](addr, &commandHandler{driver: driver}, server.Options{
		Logger:       logger.WithField("component", Tag),
		MaxFrameSize: cfg.MaxFrameSize,
	})
	if err != nil {
		return nil, err
	}
	return &Daemon{driver: driver, srv: srv}, nil
}

// Port returns the bound port.
func (d *Daemon) Port() int { return d.srv.Port() }

// Done is closed once the daemon stops serving.
func (d *Daemon) Done() <-chan struct{} { return d.srv.Done() }

// Err returns the fault that stopped the daemon, if any.
func (d *Daemon) Err() error { return d.srv.Err() }

// Close stops the daemon.
func (d *Daemon) Close() error {
	if d.srv.IsClosed() {
		return nil
	}
	return d.srv.Close()
}

// Wait blocks until the daemon stops or ctx is cancelled, closing it in the
// latter case.
func (d *Daemon) Wait(ctx context.Context) error {
	select {
	case <-d.srv.Done():
		return d.srv.Err()
	case <-ctx.Done():
		_ = d.Close()
		<-d.srv.Done()
		return nil
	}
}
