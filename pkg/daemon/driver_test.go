/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: driver_test.go
Description: Tests for daemon command execution: GUI stabilization, window
hierarchy capture retries, dump file preparation and command dispatch.
*/

package daemon_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/kleascm/akaylee-probe/pkg/clock"
	"github.com/kleascm/akaylee-probe/pkg/daemon"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleDump = `<?xml version="1.0" encoding="UTF-8"?><hierarchy rotation="0"><node class="android.widget.FrameLayout" bounds="[0,0][1080,1920]"/></hierarchy>`

// fakeDevice advances a fake clock to simulate how long each wait takes.
type fakeDevice struct {
	mu    sync.Mutex
	clock *clock.FakeClock

	earlyUpdates int
	slowIdles    int

	dumpFailures int
	dumpCalls    int
	dumpContent  string

	homePresses int
	performed   []daemon.GuiAction
	performErr  error
	idleCalls   int
	natural     bool
}

func newFakeDevice(c *clock.FakeClock) *fakeDevice {
	return &fakeDevice{clock: c, dumpContent: sampleDump, natural: true}
}

func (f *fakeDevice) WaitForIdle(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.idleCalls++
	if f.slowIdles > 0 {
		f.slowIdles--
		f.clock.Advance(50 * time.Millisecond)
		return nil
	}
	f.clock.Advance(time.Millisecond)
	return nil
}

func (f *fakeDevice) WaitForWindowUpdate(_ context.Context, timeout time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.earlyUpdates > 0 {
		f.earlyUpdates--
		f.clock.Advance(timeout / 4)
		return nil
	}
	f.clock.Advance(timeout)
	return nil
}

func (f *fakeDevice) DumpWindowHierarchy(_ context.Context, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dumpCalls++
	if f.dumpCalls <= f.dumpFailures {
		return errors.New("uiautomator dump failed")
	}
	return os.WriteFile(path, []byte(f.dumpContent), 0644)
}

func (f *fakeDevice) PressHome(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.homePresses++
	return nil
}

func (f *fakeDevice) Perform(_ context.Context, action daemon.GuiAction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.performErr != nil {
		return f.performErr
	}
	f.performed = append(f.performed, action)
	return nil
}

func (f *fakeDevice) actions() []daemon.GuiAction {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]daemon.GuiAction(nil), f.performed...)
}

func (f *fakeDevice) IsNaturalOrientation(context.Context) (bool, error) {
	return f.natural, nil
}

func (f *fakeDevice) DisplaySize(context.Context) (int, int, error) {
	return 1080, 1920, nil
}

func (f *fakeDevice) Model(context.Context) (string, error) {
	return "Pixel 7", nil
}

func testConfig(t *testing.T) daemon.Config {
	t.Helper()
	cfg := daemon.DefaultConfig()
	cfg.Port = 0
	cfg.DumpDir = filepath.Join(t.TempDir(), "dumps")
	return cfg
}

func newDriver(t *testing.T, cfg daemon.Config) (*daemon.Driver, *fakeDevice, *clock.FakeClock) {
	t.Helper()
	fake := clock.Fake(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	dev := newFakeDevice(fake)
	return daemon.NewDriver(cfg, dev, daemon.WithClock(fake)), dev, fake
}

func TestStabilizeStopsAfterFirstQuietIteration(t *testing.T) {
	d, dev, _ := newDriver(t, testConfig(t))

	res, err := d.Stabilize(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Stable)
	assert.Equal(t, 1, res.Iterations)
	assert.Equal(t, 2, dev.idleCalls, "one initial idle wait plus one per iteration")
}

func TestStabilizeWaitsOutWindowUpdates(t *testing.T) {
	d, dev, _ := newDriver(t, testConfig(t))
	dev.earlyUpdates = 2

	res, err := d.Stabilize(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Stable)
	assert.Equal(t, 3, res.Iterations)
}

func TestStabilizeRequiresQuickIdle(t *testing.T) {
	d, dev, _ := newDriver(t, testConfig(t))
	dev.slowIdles = 2 // the initial wait and the first iteration

	res, err := d.Stabilize(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Stable)
	assert.Equal(t, 2, res.Iterations)
}

// reportingDevice answers idle waits from a queue, each taking as long as an
// adb round trip.
type reportingDevice struct {
	*fakeDevice
	idle []bool
}

func (r *reportingDevice) WaitForIdleReport(context.Context) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clock.Advance(100 * time.Millisecond)
	if len(r.idle) == 0 {
		return true, nil
	}
	idle := r.idle[0]
	r.idle = r.idle[1:]
	return idle, nil
}

func TestStabilizeTrustsIdleReport(t *testing.T) {
	fake := clock.Fake(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	dev := &reportingDevice{fakeDevice: newFakeDevice(fake), idle: []bool{false}}
	d := daemon.NewDriver(testConfig(t), dev, daemon.WithClock(fake))

	res, err := d.Stabilize(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Stable, "a slow idle wait still counts when the device reports idle")
	assert.Equal(t, 2, res.Iterations)
}

func TestStabilizeGivesUpWithoutFailing(t *testing.T) {
	cfg := testConfig(t)
	d, dev, _ := newDriver(t, cfg)
	dev.earlyUpdates = 100

	res, err := d.Stabilize(context.Background())
	require.NoError(t, err)
	assert.False(t, res.Stable)
	assert.Equal(t, cfg.MaxStabilizeIterations, res.Iterations)
}

func TestCaptureSucceedsOnFinalAttempt(t *testing.T) {
	d, dev, fake := newDriver(t, testConfig(t))
	dev.dumpFailures = 4

	dump, err := d.CaptureWindowHierarchy(context.Background())
	require.NoError(t, err)
	assert.Equal(t, sampleDump, dump)
	assert.Equal(t, 5, dev.dumpCalls)
	assert.Equal(t, 1, dev.homePresses)
	assert.Len(t, fake.Sleeps(), 4)
	assert.GreaterOrEqual(t, fake.TotalSlept(), 8*time.Second)
}

func TestCaptureExhaustsAttempts(t *testing.T) {
	cfg := testConfig(t)
	d, dev, fake := newDriver(t, cfg)
	dev.dumpFailures = 10

	_, err := d.CaptureWindowHierarchy(context.Background())
	require.Error(t, err)

	var daemonErr *daemon.DaemonError
	require.True(t, errors.As(err, &daemonErr))
	assert.Contains(t, err.Error(), "All 5 attempts")
	assert.Contains(t, err.Error(), daemon.DumpFileName)
	assert.Equal(t, 5, dev.dumpCalls)
	assert.Equal(t, 1, dev.homePresses)
	assert.Len(t, fake.Sleeps(), 4)
}

func TestCaptureFirstAttemptNoWaiting(t *testing.T) {
	d, dev, fake := newDriver(t, testConfig(t))

	_, err := d.CaptureWindowHierarchy(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, dev.dumpCalls)
	assert.Zero(t, dev.homePresses)
	assert.Empty(t, fake.Sleeps())
}

func TestCaptureRemovesStaleDump(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, os.MkdirAll(cfg.DumpDir, 0755))
	require.NoError(t, os.WriteFile(cfg.DumpPath(), []byte("stale"), 0644))

	d, dev, _ := newDriver(t, cfg)
	dev.dumpFailures = 1
	dev.dumpContent = "<hierarchy/>"

	dump, err := d.CaptureWindowHierarchy(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "<hierarchy/>", dump)
}

func TestCaptureRefusesDirectoryAtDumpPath(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, os.MkdirAll(cfg.DumpPath(), 0755))

	d, dev, _ := newDriver(t, cfg)
	_, err := d.CaptureWindowHierarchy(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "is a directory")
	assert.Zero(t, dev.dumpCalls, "preparation failures are not retried")
}

func TestExecuteDumpUIHierarchy(t *testing.T) {
	d, _, _ := newDriver(t, testConfig(t))

	resp := d.Execute(context.Background(), daemon.DumpCommand())
	require.Nil(t, resp.Err)
	require.NotNil(t, resp.GuiStatus)
	assert.Equal(t, sampleDump, resp.GuiStatus.WindowHierarchyDump)
	assert.Equal(t, "Pixel 7", resp.GuiStatus.DeviceModel)
	assert.Equal(t, 1080, resp.GuiStatus.DisplayWidth)
	assert.Equal(t, 1920, resp.GuiStatus.DisplayHeight)
	assert.NoError(t, resp.Validate())
}

func TestExecuteDumpFailureIsReportedInResponse(t *testing.T) {
	d, dev, _ := newDriver(t, testConfig(t))
	dev.dumpFailures = 10

	resp := d.Execute(context.Background(), daemon.DumpCommand())
	require.NotNil(t, resp.Err)
	assert.Equal(t, daemon.ErrorKindDaemon, resp.Err.Kind)
	assert.Nil(t, resp.GuiStatus)
	assert.NoError(t, resp.Validate())
}

func TestExecutePerformAction(t *testing.T) {
	d, dev, _ := newDriver(t, testConfig(t))
	action := daemon.GuiAction{Kind: daemon.ActionCoordinateClick, X: 10, Y: 20}

	resp := d.Execute(context.Background(), daemon.PerformCommand(action))
	assert.Nil(t, resp.Err)
	assert.Nil(t, resp.GuiStatus)
	require.Len(t, dev.performed, 1)
	assert.Equal(t, action, dev.performed[0])
	assert.Greater(t, dev.idleCalls, 0, "the GUI is stabilized after the action")
}

func TestExecutePerformActionFailures(t *testing.T) {
	d, dev, _ := newDriver(t, testConfig(t))

	resp := d.Execute(context.Background(), daemon.DeviceCommand{Command: daemon.CommandPerformAction})
	require.NotNil(t, resp.Err)
	assert.Equal(t, daemon.ErrorKindDaemon, resp.Err.Kind)

	resp = d.Execute(context.Background(), daemon.PerformCommand(daemon.GuiAction{Kind: daemon.ActionClick}))
	require.NotNil(t, resp.Err)
	assert.Contains(t, resp.Err.Message, "needs a target")

	dev.performErr = errors.New("input injection denied")
	resp = d.Execute(context.Background(), daemon.PerformCommand(daemon.GuiAction{Kind: daemon.ActionPressBack}))
	require.NotNil(t, resp.Err)
	assert.Equal(t, daemon.ErrorKindDevice, resp.Err.Kind)
	assert.Contains(t, resp.Err.Message, "input injection denied")
}

func TestExecuteOrientation(t *testing.T) {
	d, dev, _ := newDriver(t, testConfig(t))
	dev.natural = false

	resp := d.Execute(context.Background(), daemon.OrientationCommand())
	require.Nil(t, resp.Err)
	require.NotNil(t, resp.NaturalOrientation)
	assert.False(t, *resp.NaturalOrientation)
	assert.Equal(t, 1, dev.idleCalls)
}

func TestExecuteUnknownCommand(t *testing.T) {
	d, _, _ := newDriver(t, testConfig(t))

	resp := d.Execute(context.Background(), daemon.DeviceCommand{Command: "self-destruct"})
	require.NotNil(t, resp.Err)
	assert.Equal(t, daemon.ErrorKindDaemon, resp.Err.Kind)
	assert.Contains(t, resp.Err.Message, "self-destruct")
}

func TestExecuteStopIsEmpty(t *testing.T) {
	d, _, _ := newDriver(t, testConfig(t))

	resp := d.Execute(context.Background(), daemon.StopCommand())
	assert.Equal(t, daemon.DeviceResponse{}, resp)
}
