/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: adb_controller.go
Description: ADBDevice drives an Android device or emulator through adb and
implements the daemon's UI device. Window dumps come from uiautomator, input is
injected with the input tool, and idleness is approximated by polling the window
manager's focus state. In local mode the same tools run directly, for a daemon
running on the device itself.
*/

package mobile

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/kleascm/akaylee-probe/pkg/clock"
	"github.com/kleascm/akaylee-probe/pkg/daemon"
	"github.com/sirupsen/logrus"
)

const (
	keycodeHome = "3"
	keycodeBack = "4"

	longPressMillis    = 1000
	defaultSwipeMillis = 300
	defaultWaitTimeout = 10 * time.Second
)

// Runner executes an external command and returns its combined output.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

// Run implements Runner.
func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	output, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	if err != nil {
		return output, fmt.Errorf("%s %s: %w: %s", name, strings.Join(args, " "), err, bytes.TrimSpace(output))
	}
	return output, nil
}

// ADBConfig selects the device and tunes polling.
type ADBConfig struct {
	ADBPath      string        `mapstructure:"adb_path"`
	Serial       string        `mapstructure:"serial"`
	Local        bool          `mapstructure:"local"`
	RemoteDump   string        `mapstructure:"remote_dump"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	IdleSamples  int           `mapstructure:"idle_samples"`
}

// DefaultADBConfig returns settings for the only attached device.
func DefaultADBConfig() ADBConfig {
	return ADBConfig{
		ADBPath:      "adb",
		RemoteDump:   "/sdcard/window_dump.xml",
		PollInterval: 100 * time.Millisecond,
		IdleSamples:  10,
	}
}

// ADBDevice implements daemon.UIDevice over adb.
type ADBDevice struct {
	cfg    ADBConfig
	runner Runner
	clock  clock.Clock
	log    *logrus.Entry

	mu        sync.Mutex
	lastFocus string
	sampled   bool
}

// ADBOption customises an ADBDevice.
type ADBOption func(*ADBDevice)

// WithRunner replaces the command runner.
func WithRunner(r Runner) ADBOption {
	return func(d *ADBDevice) { d.runner = r }
}

// WithClock replaces the time source used for polling.
func WithClock(c clock.Clock) ADBOption {
	return func(d *ADBDevice) { d.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *logrus.Logger) ADBOption {
	return func(d *ADBDevice) { d.log = l.WithField("component", "adb") }
}

// NewADBDevice creates a device controller.
func NewADBDevice(cfg ADBConfig, opts ...ADBOption) *ADBDevice {
	defaults := DefaultADBConfig()
	if cfg.ADBPath == "" {
		cfg.ADBPath = defaults.ADBPath
	}
	if cfg.RemoteDump == "" {
		cfg.RemoteDump = defaults.RemoteDump
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaults.PollInterval
	}
	if cfg.IdleSamples <= 0 {
		cfg.IdleSamples = defaults.IdleSamples
	}

	d := &ADBDevice{
		cfg:    cfg,
		runner: ExecRunner{},
		clock:  clock.Real(),
		log:    logrus.StandardLogger().WithField("component", "adb"),
	}
	for _, opt := range opts {
		opt(d)
	}
	if cfg.Serial != "" {
		d.log = d.log.WithField("serial", cfg.Serial)
	}
	return d
}

var (
	_ daemon.UIDevice     = (*ADBDevice)(nil)
	_ daemon.IdleReporter = (*ADBDevice)(nil)
)

func (d *ADBDevice) adb(ctx context.Context, args ...string) ([]byte, error) {
	if d.cfg.Serial != "" {
		args = append([]string{"-s", d.cfg.Serial}, args...)
	}
	return d.runner.Run(ctx, d.cfg.ADBPath, args...)
}

func (d *ADBDevice) shell(ctx context.Context, args ...string) ([]byte, error) {
	if d.cfg.Local {
		return d.runner.Run(ctx, args[0], args[1:]...)
	}
	return d.adb(ctx, append([]string{"shell"}, args...)...)
}

// WaitForDevice blocks until adb sees the device.
func (d *ADBDevice) WaitForDevice(ctx context.Context) error {
	if d.cfg.Local {
		return nil
	}
	_, err := d.adb(ctx, "wait-for-device")
	return err
}

// focusState is the window manager's view of which window has focus.
func (d *ADBDevice) focusState(ctx context.Context) (string, error) {
	output, err := d.shell(ctx, "dumpsys", "window", "windows")
	if err != nil {
		return "", err
	}
	var lines []string
	scanner := bufio.NewScanner(bytes.NewReader(output))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if strings.HasPrefix(line, "mCurrentFocus") || strings.HasPrefix(line, "mFocusedApp") {
			lines = append(lines, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}
	state := strings.Join(lines, "\n")
	d.mu.Lock()
	d.lastFocus, d.sampled = state, true
	d.mu.Unlock()
	return state, nil
}

// previousFocus returns the most recent focus sample, if any.
func (d *ADBDevice) previousFocus() (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastFocus, d.sampled
}

// WaitForIdle waits until two consecutive focus samples agree.
func (d *ADBDevice) WaitForIdle(ctx context.Context) error {
	_, err := d.WaitForIdleReport(ctx)
	return err
}

// WaitForIdleReport waits like WaitForIdle and reports whether the first
// sample already matched the previous one, taken by any earlier wait.
func (d *ADBDevice) WaitForIdleReport(ctx context.Context) (bool, error) {
	last, sampled := d.previousFocus()
	previous, err := d.focusState(ctx)
	if err != nil {
		return false, err
	}
	if sampled && previous == last {
		return true, nil
	}
	for i := 1; i < d.cfg.IdleSamples; i++ {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		d.clock.Sleep(d.cfg.PollInterval)
		current, err := d.focusState(ctx)
		if err != nil {
			return false, err
		}
		if current == previous {
			return false, nil
		}
		previous = current
	}
	d.log.Debug("Focus still changing after idle sampling")
	return false, nil
}

// WaitForWindowUpdate returns early when the focus state changes.
func (d *ADBDevice) WaitForWindowUpdate(ctx context.Context, timeout time.Duration) error {
	start := d.clock.Now()
	baseline, err := d.focusState(ctx)
	if err != nil {
		return err
	}
	for d.clock.Since(start) < timeout {
		if err := ctx.Err(); err != nil {
			return err
		}
		d.clock.Sleep(d.cfg.PollInterval)
		current, err := d.focusState(ctx)
		if err != nil {
			return err
		}
		if current != baseline {
			return nil
		}
	}
	return nil
}

// DumpWindowHierarchy captures the UI tree into the local file path.
func (d *ADBDevice) DumpWindowHierarchy(ctx context.Context, path string) error {
	target := d.cfg.RemoteDump
	if d.cfg.Local {
		target = path
	}

	output, err := d.shell(ctx, "uiautomator", "dump", target)
	if err != nil {
		return err
	}
	if !bytes.Contains(output, []byte("dumped to")) {
		return fmt.Errorf("uiautomator dump failed: %s", bytes.TrimSpace(output))
	}
	if d.cfg.Local {
		return nil
	}

	if _, err := d.adb(ctx, "pull", target, path); err != nil {
		return err
	}
	if _, err := d.shell(ctx, "rm", "-f", target); err != nil {
		d.log.WithError(err).Debug("Failed to remove remote dump")
	}
	return nil
}

// hierarchy captures and parses the current UI tree.
func (d *ADBDevice) hierarchy(ctx context.Context) (*Hierarchy, error) {
	dir, err := os.MkdirTemp("", "akaylee-adb-")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, daemon.DumpFileName)
	if err := d.DumpWindowHierarchy(ctx, path); err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ParseHierarchy(f)
}

func (d *ADBDevice) locate(ctx context.Context, loc daemon.Locator) (int, int, error) {
	h, err := d.hierarchy(ctx)
	if err != nil {
		return 0, 0, err
	}
	rect, err := h.Locate(loc)
	if err != nil {
		return 0, 0, err
	}
	x, y := rect.Center()
	return x, y, nil
}

func (d *ADBDevice) input(ctx context.Context, args ...string) error {
	_, err := d.shell(ctx, append([]string{"input"}, args...)...)
	return err
}

func (d *ADBDevice) tap(ctx context.Context, x, y int) error {
	return d.input(ctx, "tap", strconv.Itoa(x), strconv.Itoa(y))
}

func (d *ADBDevice) swipe(ctx context.Context, x1, y1, x2, y2, millis int) error {
	return d.input(ctx, "swipe",
		strconv.Itoa(x1), strconv.Itoa(y1), strconv.Itoa(x2), strconv.Itoa(y2), strconv.Itoa(millis))
}

// PressHome presses the home button.
func (d *ADBDevice) PressHome(ctx context.Context) error {
	return d.input(ctx, "keyevent", keycodeHome)
}

// Perform executes a GUI action.
func (d *ADBDevice) Perform(ctx context.Context, action daemon.GuiAction) error {
	switch action.Kind {
	case daemon.ActionClick, daemon.ActionLongClick:
		x, y, err := d.locate(ctx, action.Target)
		if err != nil {
			return err
		}
		if action.Kind == daemon.ActionLongClick {
			return d.swipe(ctx, x, y, x, y, longPressMillis)
		}
		return d.tap(ctx, x, y)

	case daemon.ActionCoordinateClick:
		return d.tap(ctx, action.X, action.Y)

	case daemon.ActionCoordinateLongClick:
		return d.swipe(ctx, action.X, action.Y, action.X, action.Y, longPressMillis)

	case daemon.ActionText:
		x, y, err := d.locate(ctx, action.Target)
		if err != nil {
			return err
		}
		if err := d.tap(ctx, x, y); err != nil {
			return err
		}
		if action.Text == "" {
			return nil
		}
		return d.input(ctx, "text", escapeInputText(action.Text))

	case daemon.ActionSwipe:
		millis := defaultSwipeMillis
		if action.Timeout > 0 {
			millis = int(action.Timeout / time.Millisecond)
		}
		return d.swipe(ctx, action.X, action.Y, action.EndX, action.EndY, millis)

	case daemon.ActionWait:
		return d.waitFor(ctx, action.Target, action.Timeout)

	case daemon.ActionPressBack:
		return d.input(ctx, "keyevent", keycodeBack)

	case daemon.ActionPressHome:
		return d.PressHome(ctx)

	case daemon.ActionEnableWifi:
		_, err := d.shell(ctx, "svc", "wifi", "enable")
		return err

	case daemon.ActionLaunchApp:
		output, err := d.shell(ctx, "monkey", "-p", action.AppName, "-c", "android.intent.category.LAUNCHER", "1")
		if err != nil {
			return err
		}
		if bytes.Contains(output, []byte("No activities found")) {
			return fmt.Errorf("launch failed: no launcher activity for %s", action.AppName)
		}
		return nil

	default:
		return fmt.Errorf("unsupported action kind %q", action.Kind)
	}
}

// waitFor polls the UI tree until loc resolves or timeout elapses.
func (d *ADBDevice) waitFor(ctx context.Context, loc daemon.Locator, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = defaultWaitTimeout
	}
	start := d.clock.Now()
	for {
		h, err := d.hierarchy(ctx)
		if err == nil {
			if _, ferr := h.Find(loc); ferr == nil {
				return nil
			}
		}
		if d.clock.Since(start) >= timeout {
			return fmt.Errorf("widget %s did not appear within %s", loc, timeout)
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		d.clock.Sleep(d.cfg.PollInterval)
	}
}

// escapeInputText encodes text for the input tool: spaces become %s and
// shell metacharacters are backslash escaped.
func escapeInputText(text string) string {
	var b strings.Builder
	for _, r := range text {
		switch {
		case r == ' ':
			b.WriteString("%s")
		case strings.ContainsRune(`\'"()<>|;&*~$`+"`", r):
			b.WriteByte('\\')
			b.WriteRune(r)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// IsNaturalOrientation reports rotation 0 or 180 degrees.
func (d *ADBDevice) IsNaturalOrientation(ctx context.Context) (bool, error) {
	output, err := d.shell(ctx, "dumpsys", "input")
	if err != nil {
		return false, err
	}
	scanner := bufio.NewScanner(bytes.NewReader(output))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		value, ok := strings.CutPrefix(line, "SurfaceOrientation:")
		if !ok {
			continue
		}
		rotation, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return false, fmt.Errorf("malformed orientation line %q", line)
		}
		return rotation%2 == 0, nil
	}
	return false, fmt.Errorf("orientation not reported by dumpsys input")
}

// DisplaySize returns the effective display size, preferring an override.
func (d *ADBDevice) DisplaySize(ctx context.Context) (int, int, error) {
	output, err := d.shell(ctx, "wm", "size")
	if err != nil {
		return 0, 0, err
	}
	var size string
	scanner := bufio.NewScanner(bytes.NewReader(output))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if v, ok := strings.CutPrefix(line, "Override size:"); ok {
			size = strings.TrimSpace(v)
		} else if v, ok := strings.CutPrefix(line, "Physical size:"); ok && size == "" {
			size = strings.TrimSpace(v)
		}
	}
	w, h, ok := strings.Cut(size, "x")
	if !ok {
		return 0, 0, fmt.Errorf("display size not reported by wm size: %s", bytes.TrimSpace(output))
	}
	width, err := strconv.Atoi(w)
	if err != nil {
		return 0, 0, fmt.Errorf("malformed display width %q", w)
	}
	height, err := strconv.Atoi(h)
	if err != nil {
		return 0, 0, fmt.Errorf("malformed display height %q", h)
	}
	return width, height, nil
}

// Model returns the device name as manufacturer-model.
func (d *ADBDevice) Model(ctx context.Context) (string, error) {
	manufacturer, err := d.shell(ctx, "getprop", "ro.product.manufacturer")
	if err != nil {
		return "", err
	}
	model, err := d.shell(ctx, "getprop", "ro.product.model")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(manufacturer)) + "-" + strings.TrimSpace(string(model)), nil
}

// GetDeviceInfo returns every system property.
func (d *ADBDevice) GetDeviceInfo(ctx context.Context) (map[string]string, error) {
	output, err := d.shell(ctx, "getprop")
	if err != nil {
		return nil, err
	}
	info := make(map[string]string)
	scanner := bufio.NewScanner(bytes.NewReader(output))
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "[") {
			parts := strings.SplitN(line, ": ", 2)
			if len(parts) == 2 {
				key := strings.Trim(parts[0], "[]")
				val := strings.Trim(parts[1], "[]")
				info[key] = val
			}
		}
	}
	return info, nil
}

// Forward maps a host TCP port onto a device port so host clients can reach
// the agents.
func (d *ADBDevice) Forward(ctx context.Context, hostPort, devicePort int) error {
	if d.cfg.Local {
		return nil
	}
	_, err := d.adb(ctx, "forward", fmt.Sprintf("tcp:%d", hostPort), fmt.Sprintf("tcp:%d", devicePort))
	return err
}
