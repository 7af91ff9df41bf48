/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: logserver.go
Description: Request handling of the monitor's log retrieval server. The host
checks connectivity, drains buffered call logs, reads the device clock and asks
the monitor to shut down. Every request first verifies that the buffer holds no
monitor diagnostics.
*/

package monitor

import (
	"context"

	"github.com/sirupsen/logrus"
)

// Verbs understood by the log retrieval server.
const (
	VerbConnectivityCheck = "connectivity-check"
	VerbGetLogs           = "get-logs"
	VerbGetTime           = "get-time"
	VerbClose             = "close"
)

// Request is a host request to the monitor.
type Request struct {
	Verb string `cbor:"verb"`
}

// Reply is the monitor's answer. The zero Reply is the empty result.
type Reply struct {
	Logs        []LogEntry `cbor:"logs,omitempty"`
	PID         string     `cbor:"pid,omitempty"`
	ProcessName string     `cbor:"process_name,omitempty"`
	Time        string     `cbor:"time,omitempty"`
}

// IsEmpty reports whether r carries no result.
func (r Reply) IsEmpty() bool {
	return len(r.Logs) == 0 && r.PID == "" && r.ProcessName == "" && r.Time == ""
}

type logHandler struct {
	engine *Engine
}

func (h *logHandler) OnRequest(_ context.Context, req Request) (Reply, error) {
	e := h.engine
	if err := e.checkNotSelfLogged(); err != nil {
		return Reply{}, err
	}

	log := e.logger.WithFields(logrus.Fields{
		"component": TagServer,
		"verb":      req.Verb,
	})

	switch req.Verb {
	case VerbConnectivityCheck:
		log.Debug("Connectivity check")
		return Reply{PID: e.pid, ProcessName: e.processName}, nil

	case VerbGetLogs:
		logs := e.Drain()
		log.WithField("entries", len(logs)).Debug("Drained call logs")
		return Reply{Logs: logs}, nil

	case VerbGetTime:
		return Reply{Time: e.Now()}, nil

	case VerbClose:
		log.Info("Close requested, finalizing hook")
		e.hook.Finalize()
		return Reply{}, nil

	default:
		log.Warn("Unknown verb")
		return Reply{}, nil
	}
}

func (h *logHandler) ShouldClose(req Request) bool {
	return req.Verb == VerbClose
}
