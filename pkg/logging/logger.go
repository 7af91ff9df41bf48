/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: logger.go
Description: Logging system for the Akaylee probe agents and host tools. Builds a
logrus logger with timestamped, size-rotated files, text/JSON/custom formats and
optional syslog and journald sinks. Components log through entries carrying a
component field.
*/

package logging

import (
	"fmt"
	"io"
	"log/syslog"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// FilePrefix names every log file written by the probe.
const FilePrefix = "akaylee-probe_"

// LogLevel represents the logging level
type LogLevel string

const (
	LogLevelDebug   LogLevel = "debug"
	LogLevelInfo    LogLevel = "info"
	LogLevelWarning LogLevel = "warn"
	LogLevelError   LogLevel = "error"
	LogLevelFatal   LogLevel = "fatal"
)

// LogFormat represents the logging format
type LogFormat string

const (
	LogFormatJSON   LogFormat = "json"
	LogFormatText   LogFormat = "text"
	LogFormatCustom LogFormat = "custom"
)

// LoggerConfig holds the configuration for the logger
type LoggerConfig struct {
	Level     LogLevel  `mapstructure:"level" json:"level"`
	Format    LogFormat `mapstructure:"format" json:"format"`
	OutputDir string    `mapstructure:"output_dir" json:"output_dir"`
	MaxFiles  int       `mapstructure:"max_files" json:"max_files"`
	MaxSize   int64     `mapstructure:"max_size" json:"max_size"` // in bytes
	Timestamp bool      `mapstructure:"timestamp" json:"timestamp"`
	Caller    bool      `mapstructure:"caller" json:"caller"`
	Colors    bool      `mapstructure:"colors" json:"colors"`
	Compress  bool      `mapstructure:"compress" json:"compress"`
	Console   bool      `mapstructure:"console" json:"console"`

	SyslogEnabled   bool   `mapstructure:"syslog_enabled" json:"syslog_enabled"`
	SyslogNetwork   string `mapstructure:"syslog_network" json:"syslog_network"`
	SyslogAddress   string `mapstructure:"syslog_address" json:"syslog_address"`
	JournaldEnabled bool   `mapstructure:"journald_enabled" json:"journald_enabled"`
	Identifier      string `mapstructure:"identifier" json:"identifier"`
}

// DefaultLoggerConfig returns console-only custom formatting at info level.
func DefaultLoggerConfig() LoggerConfig {
	return LoggerConfig{
		Level:      LogLevelInfo,
		Format:     LogFormatCustom,
		MaxFiles:   10,
		MaxSize:    100 * 1024 * 1024, // 100MB
		Timestamp:  true,
		Colors:     true,
		Compress:   true,
		Console:    true,
		Identifier: "akaylee-probe",
	}
}

// Validate checks the LoggerConfig for invalid or missing values.
// An empty OutputDir disables file output.
func (c *LoggerConfig) Validate() error {
	if c.OutputDir != "" {
		if c.MaxFiles <= 0 {
			return fmt.Errorf("max_files must be positive")
		}
		if c.MaxSize <= 0 {
			return fmt.Errorf("max_size must be positive")
		}
	}
	switch c.Format {
	case LogFormatJSON, LogFormatText, LogFormatCustom:
		// ok
	default:
		return fmt.Errorf("unsupported log format: %s", c.Format)
	}
	switch c.Level {
	case LogLevelDebug, LogLevelInfo, LogLevelWarning, LogLevelError, LogLevelFatal:
		// ok
	default:
		return fmt.Errorf("unsupported log level: %s", c.Level)
	}
	if c.SyslogEnabled && c.SyslogNetwork != "" && c.SyslogAddress == "" {
		return fmt.Errorf("syslog_address is required with syslog_network %q", c.SyslogNetwork)
	}
	return nil
}

type logEntry struct {
	level  logrus.Level
	msg    string
	fields logrus.Fields
}

// Logger wraps a logrus logger with file rotation and an async queue for
// hot paths.
type Logger struct {
	config    LoggerConfig
	logger    *logrus.Logger
	file      *rotatingFile
	manager   *LogManager
	startTime time.Time

	logQueue chan logEntry
	quit     chan struct{}
	done     chan struct{}
	once     sync.Once
}

// NewLogger creates a new logger instance
func NewLogger(config LoggerConfig) (*Logger, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid logging config: %w", err)
	}
	if config.Identifier == "" {
		config.Identifier = "akaylee-probe"
	}

	l := &Logger{
		config:    config,
		logger:    logrus.New(),
		startTime: time.Now(),
		logQueue:  make(chan logEntry, 1024),
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
	}

	if err := l.setup(); err != nil {
		return nil, fmt.Errorf("failed to setup logger: %w", err)
	}

	go l.runLogQueue()

	return l, nil
}

// setup configures the logger with the given configuration
func (l *Logger) setup() error {
	level, err := logrus.ParseLevel(string(l.config.Level))
	if err != nil {
		level = logrus.InfoLevel
	}
	l.logger.SetLevel(level)
	l.logger.SetReportCaller(l.config.Caller)

	if err := l.setFormatter(); err != nil {
		return err
	}

	var outputs []io.Writer
	if l.config.Console {
		outputs = append(outputs, os.Stderr)
	}

	if l.config.OutputDir != "" {
		if err := l.setupFileOutput(); err != nil {
			return err
		}
		outputs = append(outputs, l.file)
	}

	if l.config.SyslogEnabled {
		writer, err := syslog.Dial(l.config.SyslogNetwork, l.config.SyslogAddress, syslog.LOG_INFO|syslog.LOG_USER, l.config.Identifier)
		if err != nil {
			return fmt.Errorf("failed to connect to syslog: %w", err)
		}
		outputs = append(outputs, writer)
	}

	switch len(outputs) {
	case 0:
		l.logger.SetOutput(io.Discard)
	case 1:
		l.logger.SetOutput(outputs[0])
	default:
		l.logger.SetOutput(io.MultiWriter(outputs...))
	}

	if l.config.JournaldEnabled {
		hook, err := NewJournalHook(l.config.Identifier)
		if err != nil {
			l.logger.WithError(err).Warn("Journald sink unavailable, continuing without it")
		} else {
			l.logger.AddHook(hook)
		}
	}

	l.logger.WithFields(logrus.Fields{
		"start_time": l.startTime.Format(time.RFC3339),
		"level":      l.config.Level,
		"format":     l.config.Format,
		"log_file":   l.LogFile(),
	}).Debug("Akaylee probe logging initialized")

	return nil
}

// setFormatter configures the log formatter
func (l *Logger) setFormatter() error {
	switch l.config.Format {
	case LogFormatJSON:
		l.logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339,
			CallerPrettyfier: func(f *runtime.Frame) (string, string) {
				filename := filepath.Base(f.File)
				return "", fmt.Sprintf("%s:%d", filename, f.Line)
			},
		})

	case LogFormatText:
		l.logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   l.config.Timestamp,
			TimestampFormat: time.RFC3339,
			ForceColors:     l.config.Colors,
			DisableColors:   !l.config.Colors,
			CallerPrettyfier: func(f *runtime.Frame) (string, string) {
				filename := filepath.Base(f.File)
				return "", fmt.Sprintf("%s:%d", filename, f.Line)
			},
		})

	case LogFormatCustom:
		l.logger.SetFormatter(&ProbeFormatter{
			CustomFormatter: CustomFormatter{
				Timestamp: l.config.Timestamp,
				Caller:    l.config.Caller,
				Colors:    l.config.Colors,
			},
		})

	default:
		return fmt.Errorf("unsupported log format: %s", l.config.Format)
	}

	return nil
}

// setupFileOutput opens the timestamped log file for this run
func (l *Logger) setupFileOutput() error {
	if err := os.MkdirAll(l.config.OutputDir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	l.manager = NewLogManager(l.config.OutputDir, l.config.MaxFiles, l.config.MaxSize, l.config.Compress)

	timestamp := l.startTime.Format("2006-01-02_15-04-05")
	path := filepath.Join(l.config.OutputDir, fmt.Sprintf("%s%s.log", FilePrefix, timestamp))

	file, err := openRotatingFile(path, l.config.MaxSize, l.manager)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	l.file = file
	return nil
}

// runLogQueue flushes log entries from the queue in a background goroutine
func (l *Logger) runLogQueue() {
	defer close(l.done)
	for {
		select {
		case entry := <-l.logQueue:
			l.logger.WithFields(entry.fields).Log(entry.level, entry.msg)
		case <-l.quit:
			for {
				select {
				case entry := <-l.logQueue:
					l.logger.WithFields(entry.fields).Log(entry.level, entry.msg)
				default:
					return
				}
			}
		}
	}
}

func (l *Logger) enqueue(level logrus.Level, msg string, fields logrus.Fields) {
	select {
	case <-l.quit:
		l.logger.WithFields(fields).Log(level, msg)
	case l.logQueue <- logEntry{level: level, msg: msg, fields: fields}:
	}
}

// Probe-specific logging methods

// LogCommand logs one daemon round trip
func (l *Logger) LogCommand(command string, duration time.Duration, err error) {
	entry := l.logger.WithFields(logrus.Fields{
		"command":  command,
		"duration": duration,
	})
	if err != nil {
		entry.WithError(err).Warn("Command failed")
		return
	}
	entry.Info("Command executed")
}

// LogCalls logs a batch of drained call records
func (l *Logger) LogCalls(processID string, count int) {
	l.logger.WithFields(logrus.Fields{
		"pid":   processID,
		"calls": count,
	}).Info("Calls drained")
}

// LogDenial logs a call blocked by policy
func (l *Logger) LogDenial(api string, processID string) {
	l.logger.WithFields(logrus.Fields{
		"api": api,
		"pid": processID,
	}).Warn("API blocked by policy")
}

// LogSession logs the end of a drive session
func (l *Logger) LogSession(sessionID string, steps int, calls int, fields logrus.Fields) {
	if fields == nil {
		fields = logrus.Fields{}
	}
	fields["session_id"] = sessionID
	fields["steps"] = steps
	fields["calls"] = calls
	fields["uptime"] = time.Since(l.startTime)

	l.logger.WithFields(fields).Info("Session finished")
}

// Component returns an entry tagged with the component name.
func (l *Logger) Component(name string) *logrus.Entry {
	return l.logger.WithField("component", name)
}

// LogFile returns the active log file path, or "" without file output.
func (l *Logger) LogFile() string {
	if l.file == nil {
		return ""
	}
	return l.file.path
}

// Manager returns the log file manager, or nil without file output.
func (l *Logger) Manager() *LogManager {
	return l.manager
}

// Close flushes the queue, closes the file and prunes old log files
func (l *Logger) Close() error {
	var err error
	l.once.Do(func() {
		close(l.quit)
		<-l.done
		if l.file != nil {
			if cerr := l.file.Close(); cerr != nil {
				err = fmt.Errorf("failed to close log file: %w", cerr)
				return
			}
		}
		if l.manager != nil {
			if cerr := l.manager.CleanupOldLogs(); cerr != nil {
				err = fmt.Errorf("failed to cleanup log files: %w", cerr)
			}
		}
	})
	return err
}

// GetLogger returns the underlying logrus logger
func (l *Logger) GetLogger() *logrus.Logger {
	return l.logger
}

// Debug logs a debug message (async)
func (l *Logger) Debug(msg string, fields logrus.Fields) {
	l.enqueue(logrus.DebugLevel, msg, fields)
}

// Info logs an info message (async)
func (l *Logger) Info(msg string, fields logrus.Fields) {
	l.enqueue(logrus.InfoLevel, msg, fields)
}

// Warning logs a warning message (async)
func (l *Logger) Warning(msg string, fields logrus.Fields) {
	l.enqueue(logrus.WarnLevel, msg, fields)
}

// Error logs an error message (async)
func (l *Logger) Error(msg string, fields logrus.Fields) {
	l.enqueue(logrus.ErrorLevel, msg, fields)
}

// rotatingFile is the file sink. It archives itself through the LogManager
// once a write would push it past maxSize.
type rotatingFile struct {
	mu      sync.Mutex
	path    string
	file    *os.File
	size    int64
	maxSize int64
	manager *LogManager
}

func openRotatingFile(path string, maxSize int64, manager *LogManager) (*rotatingFile, error) {
	r := &rotatingFile{path: path, maxSize: maxSize, manager: manager}
	if err := r.open(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *rotatingFile) open() error {
	file, err := os.OpenFile(r.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return err
	}
	r.file = file
	r.size = stat.Size()
	return nil
}

func (r *rotatingFile) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file == nil {
		return 0, os.ErrClosed
	}
	if r.size > 0 && r.size+int64(len(p)) > r.maxSize {
		if err := r.rotate(); err != nil {
			return 0, err
		}
	}
	n, err := r.file.Write(p)
	r.size += int64(n)
	return n, err
}

func (r *rotatingFile) rotate() error {
	if err := r.file.Close(); err != nil {
		return err
	}
	r.file = nil
	if _, err := r.manager.Archive(r.path); err != nil {
		return fmt.Errorf("failed to archive %s: %w", r.path, err)
	}
	if err := r.manager.CleanupOldLogs(); err != nil {
		return err
	}
	return r.open()
}

func (r *rotatingFile) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	return err
}
