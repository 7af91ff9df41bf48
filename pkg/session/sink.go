/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: sink.go
Description: Ready-made sinks for the drive loop: structured logging through the
probe logger and JSON lines for offline inspection.
*/

package session

import (
	"encoding/json"
	"errors"
	"io"
	"sort"

	"github.com/kleascm/akaylee-probe/pkg/logging"
	"github.com/kleascm/akaylee-probe/pkg/monitor"
	"github.com/sirupsen/logrus"
)

// LoggingSink logs every command, each process's drained calls and every
// crash.
func LoggingSink(l *logging.Logger) Sink {
	return func(step Step) error {
		l.LogCommand(step.Command.String(), step.Duration, step.Err)

		counts := make(map[string]int)
		for _, entry := range step.Logs {
			counts[entry.ProcessID]++
		}
		pids := make([]string, 0, len(counts))
		for pid := range counts {
			pids = append(pids, pid)
		}
		sort.Strings(pids)
		for _, pid := range pids {
			l.LogCalls(pid, counts[pid])
		}

		for _, crash := range step.Crashes {
			l.Warning("Crash detected", logrus.Fields{
				"session_id": step.SessionID,
				"step":       step.Index,
				"crash":      crash,
			})
		}
		return nil
	}
}

type record struct {
	SessionID  string             `json:"session_id"`
	Index      int                `json:"index"`
	Command    string             `json:"command"`
	Error      string             `json:"error,omitempty"`
	DumpChars  int                `json:"dump_chars,omitempty"`
	Natural    *bool              `json:"natural_orientation,omitempty"`
	Logs       []monitor.LogEntry `json:"logs,omitempty"`
	Crashes    []string           `json:"crashes,omitempty"`
	DurationMS int64              `json:"duration_ms"`
}

// JSONSink writes one JSON object per step to w.
func JSONSink(w io.Writer) Sink {
	enc := json.NewEncoder(w)
	return func(step Step) error {
		rec := record{
			SessionID:  step.SessionID,
			Index:      step.Index,
			Command:    step.Command.String(),
			Natural:    step.Response.NaturalOrientation,
			Logs:       step.Logs,
			Crashes:    step.Crashes,
			DurationMS: step.Duration.Milliseconds(),
		}
		if step.Err != nil {
			rec.Error = step.Err.Error()
		}
		if step.Response.GuiStatus != nil {
			rec.DumpChars = len(step.Response.GuiStatus.WindowHierarchyDump)
		}
		return enc.Encode(rec)
	}
}

// Tee fans a step out to every sink and joins their errors.
func Tee(sinks ...Sink) Sink {
	return func(step Step) error {
		var errs []error
		for _, sink := range sinks {
			if err := sink(step); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}
}
