/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: session.go
Description: Host-side drive loop. Each step takes the next DeviceCommand from a
supplier, sends it to the device-control daemon, drains the call logs of every
monitored process, optionally collects new crashes and hands the outcome to a
sink. The loop ends when the supplier is exhausted, a stop-daemon command has
been sent, the step limit is reached or the context is cancelled.
*/

package session

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/kleascm/akaylee-probe/pkg/clock"
	"github.com/kleascm/akaylee-probe/pkg/daemon"
	"github.com/kleascm/akaylee-probe/pkg/monitor"
	"github.com/sirupsen/logrus"
)

// Supplier yields the next command, or false when there is none.
type Supplier func() (daemon.DeviceCommand, bool)

// Sink receives the outcome of every step.
type Sink func(Step) error

// Executor sends one command to the daemon.
type Executor interface {
	Execute(ctx context.Context, cmd daemon.DeviceCommand) (daemon.DeviceResponse, error)
}

// LogSource drains the call logs of the monitored processes.
type LogSource interface {
	Logs(ctx context.Context) ([]monitor.LogEntry, error)
}

// CrashSource reports crashes observed since its previous call.
type CrashSource interface {
	Crashes(ctx context.Context) ([]string, error)
}

// Step is the outcome of one command.
type Step struct {
	SessionID string
	Index     int
	Command   daemon.DeviceCommand
	Response  daemon.DeviceResponse
	Err       error
	Logs      []monitor.LogEntry
	Crashes   []string
	Duration  time.Duration
}

// Options tunes a Session.
type Options struct {
	MaxSteps    int
	StopOnError bool
	Crashes     CrashSource
	Clock       clock.Clock
	Logger      *logrus.Logger
}

// Summary totals a finished run.
type Summary struct {
	ID       string
	Steps    int
	Failures int
	Calls    int
	Crashes  int
	Duration time.Duration
}

// Fields renders the summary for structured logging.
func (s Summary) Fields() logrus.Fields {
	return logrus.Fields{
		"failures": s.Failures,
		"crashes":  s.Crashes,
		"duration": s.Duration,
	}
}

// Session drives one daemon and its monitors.
type Session struct {
	id      string
	exec    Executor
	logs    LogSource
	opts    Options
	log     *logrus.Entry
	running int32
}

// New creates a session with a fresh id.
func New(exec Executor, logs LogSource, opts Options) *Session {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	id := uuid.NewString()
	return &Session{
		id:   id,
		exec: exec,
		logs: logs,
		opts: opts,
		log:  opts.Logger.WithFields(logrus.Fields{"component": "session", "session_id": id}),
	}
}

// ID returns the session id.
func (s *Session) ID() string {
	return s.id
}

// Run drives the loop until it ends. A failure reported by the daemon is
// handed to the sink and only stops the run with StopOnError. Transport
// faults always stop it.
func (s *Session) Run(ctx context.Context, next Supplier, sink Sink) (Summary, error) {
	if !atomic.CompareAndSwapInt32(&s.running, 0, 1) {
		return Summary{}, fmt.Errorf("session %s already running", s.id)
	}
	defer atomic.StoreInt32(&s.running, 0)

	summary := Summary{ID: s.id}
	started := s.opts.Clock.Now()

	s.log.Info("Session started")
	for {
		if err := ctx.Err(); err != nil {
			summary.Duration = s.opts.Clock.Since(started)
			return summary, err
		}
		if s.opts.MaxSteps > 0 && summary.Steps >= s.opts.MaxSteps {
			s.log.WithField("max_steps", s.opts.MaxSteps).Info("Step limit reached")
			break
		}
		cmd, ok := next()
		if !ok {
			break
		}

		step, err := s.step(ctx, summary.Steps, cmd)
		summary.Steps++
		summary.Calls += len(step.Logs)
		summary.Crashes += len(step.Crashes)
		if step.Err != nil {
			summary.Failures++
		}
		if err == nil && sink != nil {
			if serr := sink(step); serr != nil {
				err = fmt.Errorf("sink failed at step %d: %w", step.Index, serr)
			}
		}
		if err != nil {
			summary.Duration = s.opts.Clock.Since(started)
			return summary, err
		}
		if step.Err != nil && s.opts.StopOnError {
			summary.Duration = s.opts.Clock.Since(started)
			return summary, fmt.Errorf("step %d %s: %w", step.Index, cmd, step.Err)
		}
		if cmd.Command == daemon.CommandStop {
			s.log.Info("Daemon stopped, ending session")
			break
		}
	}
	summary.Duration = s.opts.Clock.Since(started)
	return summary, nil
}

func (s *Session) step(ctx context.Context, index int, cmd daemon.DeviceCommand) (Step, error) {
	step := Step{SessionID: s.id, Index: index, Command: cmd}

	start := s.opts.Clock.Now()
	step.Response, step.Err = s.exec.Execute(ctx, cmd)
	step.Duration = s.opts.Clock.Since(start)
	if step.Err != nil {
		var remote *daemon.RemoteError
		if !errors.As(step.Err, &remote) {
			return step, fmt.Errorf("step %d %s: %w", index, cmd, step.Err)
		}
		s.log.WithError(step.Err).WithField("command", cmd.String()).Debug("Command failed")
	}

	logs, err := s.logs.Logs(ctx)
	if err != nil {
		return step, fmt.Errorf("step %d: %w", index, err)
	}
	step.Logs = logs

	if s.opts.Crashes != nil {
		crashes, err := s.opts.Crashes.Crashes(ctx)
		if err != nil {
			return step, fmt.Errorf("step %d: crash collection failed: %w", index, err)
		}
		step.Crashes = crashes
	}
	return step, nil
}
