/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: engine.go
Description: Engine context of the call monitor. Owns the call log buffer, the
timestamp source, process identity, the policy file location and the log
retrieval server. One Engine is created per monitored process and shared by
every intercepted call.
*/

package monitor

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/kleascm/akaylee-probe/pkg/clock"
	"github.com/kleascm/akaylee-probe/pkg/server"
	"github.com/shirou/gopsutil/v3/process"
	"github.com/sirupsen/logrus"
)

const (
	// TagServer marks diagnostics emitted by the log retrieval server.
	TagServer = "AkayleeMonitorServer"
	// TagEngine marks diagnostics emitted by the interception engine.
	TagEngine = "AkayleeMonitorEngine"

	// TimeFormat is the layout of every log entry timestamp.
	TimeFormat = "2006-01-02 15:04:05.000"

	// DefaultPortFile is where the host places the port the server must use.
	DefaultPortFile = "/data/local/tmp/port.tmp"
	// DefaultPolicyFile is the policy file read on every intercepted call.
	DefaultPolicyFile = "/data/local/tmp/api_policies.txt"
)

// ErrSelfLogged is returned when the buffer holds the engine's own diagnostics.
var ErrSelfLogged = errors.New("call log contains monitor diagnostics")

// LogEntry is one intercepted call as delivered to the host.
type LogEntry struct {
	ProcessID string `cbor:"pid" json:"pid"`
	Timestamp string `cbor:"time" json:"time"`
	Payload   string `cbor:"payload" json:"payload"`
}

// Config locates the engine's collaborators on the device.
type Config struct {
	Host         string `mapstructure:"host"`
	PortFile     string `mapstructure:"port_file"`
	PolicyFile   string `mapstructure:"policy_file"`
	ProcessName  string `mapstructure:"process_name"`
	MaxFrameSize uint32 `mapstructure:"max_frame_size"`
}

// DefaultConfig returns the on-device defaults.
func DefaultConfig() Config {
	return Config{
		Host:       "127.0.0.1",
		PortFile:   DefaultPortFile,
		PolicyFile: DefaultPolicyFile,
	}
}

// Option customises an Engine.
type Option func(*Engine)

// WithHook installs a call hook.
func WithHook(h Hook) Option {
	return func(e *Engine) { e.hook = h }
}

// WithClock replaces the time source.
func WithClock(c clock.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithLogger sets the logger used for engine diagnostics.
func WithLogger(l *logrus.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// Engine is the process-wide interception context.
type Engine struct {
	cfg    Config
	hook   Hook
	clock  clock.Clock
	logger *logrus.Logger
	log    *logrus.Entry

	anchor      time.Time
	pid         string
	processName string

	mu     sync.Mutex
	buffer []LogEntry

	srvMu sync.Mutex
	srv   *server.Server[Request, Reply]
}

// New creates an engine. The wall clock is sampled once here; every later
// timestamp is this anchor plus elapsed monotonic time.
func New(cfg Config, opts ...Option) *Engine {
	e := &Engine{
		cfg:   cfg,
		hook:  NopHook{},
		clock: clock.Real(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = logrus.StandardLogger()
	}
	e.log = e.logger.WithField("component", TagEngine)

	e.anchor = e.clock.Now()
	pid := os.Getpid()
	e.pid = strconv.Itoa(pid)
	e.processName = cfg.ProcessName
	if e.processName == "" {
		e.processName = resolveProcessName(pid)
	}

	e.log.WithFields(logrus.Fields{
		"pid":     e.pid,
		"process": e.processName,
	}).Debug("Monitor engine created")
	return e
}

func resolveProcessName(pid int) string {
	proc, err := process.NewProcess(int32(pid))
	if err != nil {
		return "unknown"
	}
	name, err := proc.Name()
	if err != nil || name == "" {
		return "unknown"
	}
	return name
}

// PID returns the monitored process id as text.
func (e *Engine) PID() string {
	return e.pid
}

// ProcessName returns the monitored process name.
func (e *Engine) ProcessName() string {
	return e.processName
}

// now returns the current timestamp text. Callers hold e.mu.
func (e *Engine) now() string {
	return e.anchor.Add(e.clock.Since(e.anchor)).Format(TimeFormat)
}

// Now returns the current timestamp text.
func (e *Engine) Now() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.now()
}

// record appends one call log line.
func (e *Engine) record(payload string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.buffer = append(e.buffer, LogEntry{
		ProcessID: e.pid,
		Timestamp: e.now(),
		Payload:   payload,
	})
}

// Drain returns every buffered entry and empties the buffer.
func (e *Engine) Drain() []LogEntry {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := e.buffer
	e.buffer = nil
	return out
}

// Pending returns the number of buffered entries.
func (e *Engine) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.buffer)
}

// checkNotSelfLogged fails if any buffered payload carries a reserved tag.
func (e *Engine) checkNotSelfLogged() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, entry := range e.buffer {
		for _, tag := range []string{TagServer, TagEngine} {
			if strings.Contains(entry.Payload, tag) {
				return fmt.Errorf("%w: payload contains %q", ErrSelfLogged, tag)
			}
		}
	}
	return nil
}

// PolicyFor resolves the policy of a call. Any failure to read the policy
// file, and a call no rule covers, resolve to Allow.
func (e *Engine) PolicyFor(signature string, uris []string) Policy {
	if e.cfg.PolicyFile == "" {
		return Allow
	}
	set, err := LoadPolicies(e.cfg.PolicyFile)
	if err != nil {
		e.log.WithError(err).Debug("Policy file unavailable, allowing call")
		return Allow
	}
	policy, _ := set.Lookup(signature, uris)
	return policy
}

// Attach reads the port file and starts the log retrieval server on it.
func (e *Engine) Attach() error {
	port, err := ReadPortFile(e.cfg.PortFile)
	if err != nil {
		return err
	}
	return e.Listen(port)
}

// Listen starts the log retrieval server on port. Port 0 picks a free port.
func (e *Engine) Listen(port int) error {
	e.srvMu.Lock()
	defer e.srvMu.Unlock()

	if e.srv != nil && !e.srv.IsClosed() {
		return fmt.Errorf("monitor server already running on port %d", e.srv.Port())
	}

	addr := fmt.Sprintf("%s:%d", e.cfg.Host, port)
	srv, err := server.TryStart[Request, Reply](addr, &logHandler{engine: e}, server.Options{
		Logger:       e.logger.WithField("component", TagServer),
		MaxFrameSize: e.cfg.MaxFrameSize,
	})
	if err != nil {
		return fmt.Errorf("failed to start monitor server: %w", err)
	}
	e.srv = srv
	e.log.WithField("port", srv.Port()).Info("Monitor server started")
	return nil
}

// Port returns the port of the running server, or 0.
func (e *Engine) Port() int {
	e.srvMu.Lock()
	defer e.srvMu.Unlock()
	if e.srv == nil {
		return 0
	}
	return e.srv.Port()
}

// Done is closed when the log server stops. Nil before Listen.
func (e *Engine) Done() <-chan struct{} {
	e.srvMu.Lock()
	defer e.srvMu.Unlock()
	if e.srv == nil {
		return nil
	}
	return e.srv.Done()
}

// Err returns the fault that stopped the log server, if any.
func (e *Engine) Err() error {
	e.srvMu.Lock()
	defer e.srvMu.Unlock()
	if e.srv == nil {
		return nil
	}
	return e.srv.Err()
}

// Close stops the log server if it is running.
func (e *Engine) Close() error {
	e.srvMu.Lock()
	defer e.srvMu.Unlock()
	if e.srv == nil || e.srv.IsClosed() {
		return nil
	}
	return e.srv.Close()
}

// ReadPortFile reads a TCP port number from path.
func ReadPortFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read port file: %w", err)
	}
	port, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid port file %s: %w", path, err)
	}
	if port <= 0 || port > 65535 {
		return 0, fmt.Errorf("invalid port file %s: port %d out of range", path, port)
	}
	return port, nil
}

// WritePortFile stores port at path.
func WritePortFile(path string, port int) error {
	if err := os.WriteFile(path, []byte(strconv.Itoa(port)+"\n"), 0644); err != nil {
		return fmt.Errorf("failed to write port file: %w", err)
	}
	return nil
}
