/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: monitor.go
Description: Client for the call monitors of every monitored process on the
device. Each monitor listens on its own port; logs are drained from all of
them and merged in arrival order.
*/

package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/kleascm/akaylee-probe/pkg/monitor"
	"github.com/sirupsen/logrus"
)

// MonitorClient talks to one or more monitor log servers.
type MonitorClient struct {
	host    string
	ports   []int
	timeout time.Duration
	log     *logrus.Entry
}

// NewMonitorClient creates a client for the monitors on host:ports.
func NewMonitorClient(host string, ports []int, timeout time.Duration, logger *logrus.Logger) *MonitorClient {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &MonitorClient{
		host:    host,
		ports:   append([]int(nil), ports...),
		timeout: timeout,
		log:     logger.WithField("component", "monitor-client"),
	}
}

func (c *MonitorClient) addr(port int) string {
	return net.JoinHostPort(c.host, strconv.Itoa(port))
}

func (c *MonitorClient) query(ctx context.Context, port int, verb string) (monitor.Reply, error) {
	return Query[monitor.Request, monitor.Reply](ctx, c.addr(port), monitor.Request{Verb: verb}, c.timeout)
}

// MonitorInfo identifies a reachable monitor.
type MonitorInfo struct {
	Port        int
	PID         string
	ProcessName string
}

// Reachable returns every monitor answering a connectivity check.
func (c *MonitorClient) Reachable(ctx context.Context) ([]MonitorInfo, error) {
	var out []MonitorInfo
	for _, port := range c.ports {
		reply, err := c.query(ctx, port, monitor.VerbConnectivityCheck)
		if Gone(err) {
			c.log.WithField("port", port).Debug("Monitor not reachable")
			continue
		}
		if err != nil {
			return out, err
		}
		out = append(out, MonitorInfo{Port: port, PID: reply.PID, ProcessName: reply.ProcessName})
	}
	return out, nil
}

// AnyReachable reports whether at least one monitor answers.
func (c *MonitorClient) AnyReachable(ctx context.Context) bool {
	infos, _ := c.Reachable(ctx)
	return len(infos) > 0
}

// Logs drains every reachable monitor. Unreachable monitors are skipped.
func (c *MonitorClient) Logs(ctx context.Context) ([]monitor.LogEntry, error) {
	var out []monitor.LogEntry
	for _, port := range c.ports {
		reply, err := c.query(ctx, port, monitor.VerbGetLogs)
		if Gone(err) {
			continue
		}
		if err != nil {
			return out, fmt.Errorf("failed to drain monitor on port %d: %w", port, err)
		}
		out = append(out, reply.Logs...)
	}
	c.log.WithField("entries", len(out)).Debug("Drained monitor logs")
	return out, nil
}

// Time returns the device time as seen by the first reachable monitor.
func (c *MonitorClient) Time(ctx context.Context) (string, error) {
	for _, port := range c.ports {
		reply, err := c.query(ctx, port, monitor.VerbGetTime)
		if Gone(err) {
			continue
		}
		if err != nil {
			return "", err
		}
		return reply.Time, nil
	}
	return "", fmt.Errorf("%w: no monitor on ports %v", ErrUnreachable, c.ports)
}

// Close asks every reachable monitor to shut down.
func (c *MonitorClient) Close(ctx context.Context) error {
	var errs []error
	for _, port := range c.ports {
		_, err := c.query(ctx, port, monitor.VerbClose)
		if err != nil && !Gone(err) {
			errs = append(errs, fmt.Errorf("port %d: %w", port, err))
		}
	}
	return errors.Join(errs...)
}
