/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: client_test.go
Description: Tests for the host-side clients against real monitor and daemon
servers on loopback.
*/

package client_test

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/kleascm/akaylee-probe/pkg/client"
	"github.com/kleascm/akaylee-probe/pkg/clock"
	"github.com/kleascm/akaylee-probe/pkg/daemon"
	"github.com/kleascm/akaylee-probe/pkg/monitor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var ping = &monitor.API{
	DeclaringType: "com.example.Net",
	Method:        "ping",
	ReturnType:    "boolean",
	ParamTypes:    []string{"java.lang.String"},
}

func startMonitor(t *testing.T, name string) *monitor.Engine {
	t.Helper()
	cfg := monitor.DefaultConfig()
	cfg.PolicyFile = filepath.Join(t.TempDir(), "missing.txt")
	cfg.ProcessName = name
	e := monitor.New(cfg)
	require.NoError(t, e.Listen(0))
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())
	return port
}

func TestQueryUnreachable(t *testing.T) {
	port := freePort(t)
	_, err := client.Query[monitor.Request, monitor.Reply](context.Background(),
		net.JoinHostPort("127.0.0.1", itoa(port)), monitor.Request{Verb: monitor.VerbGetTime}, time.Second)
	assert.ErrorIs(t, err, client.ErrUnreachable)
}

func TestQueryServerHangsUp(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	go func() {
		conn, err := l.Accept()
		if err == nil {
			_ = conn.Close()
		}
	}()

	_, err = client.Query[monitor.Request, monitor.Reply](context.Background(),
		l.Addr().String(), monitor.Request{Verb: monitor.VerbGetTime}, time.Second)
	assert.ErrorIs(t, err, client.ErrNoReply)
	assert.NotErrorIs(t, err, client.ErrUnreachable)
	assert.True(t, client.Gone(err))
}

func TestMonitorClientDrainsAllPorts(t *testing.T) {
	a := startMonitor(t, "com.example.a")
	b := startMonitor(t, "com.example.b")
	dead := freePort(t)

	for _, e := range []*monitor.Engine{a, b} {
		_, err := monitor.Intercept(e, ping, []monitor.Value{monitor.ScalarOf("host")}, func() (bool, error) { return true, nil })
		require.NoError(t, err)
	}

	c := client.NewMonitorClient("127.0.0.1", []int{a.Port(), dead, b.Port()}, time.Second, nil)

	infos, err := c.Reachable(context.Background())
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.Equal(t, "com.example.a", infos[0].ProcessName)
	assert.Equal(t, "com.example.b", infos[1].ProcessName)
	assert.True(t, c.AnyReachable(context.Background()))

	logs, err := c.Logs(context.Background())
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Contains(t, logs[0].Payload, "mthd: 'ping'")

	logs, err = c.Logs(context.Background())
	require.NoError(t, err)
	assert.Empty(t, logs, "a drain empties the device-side buffers")
}

func TestMonitorClientTimeAndClose(t *testing.T) {
	e := startMonitor(t, "com.example.a")
	c := client.NewMonitorClient("127.0.0.1", []int{freePort(t), e.Port()}, time.Second, nil)

	ts, err := c.Time(context.Background())
	require.NoError(t, err)
	_, err = time.Parse(monitor.TimeFormat, ts)
	assert.NoError(t, err)

	require.NoError(t, c.Close(context.Background()))
	select {
	case <-e.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("monitor did not stop")
	}
	assert.False(t, c.AnyReachable(context.Background()))
}

func TestMonitorClientTimeWithoutMonitors(t *testing.T) {
	c := client.NewMonitorClient("127.0.0.1", []int{freePort(t)}, time.Second, nil)
	_, err := c.Time(context.Background())
	assert.ErrorIs(t, err, client.ErrUnreachable)
}

// stubDevice is an idle device that reports every window update timing out.
type stubDevice struct {
	mu     sync.Mutex
	clock  *clock.FakeClock
	fail   error
	delay  time.Duration
	calls  int
	action []daemon.GuiAction
}

func (s *stubDevice) WaitForIdle(context.Context) error { return nil }

func (s *stubDevice) WaitForWindowUpdate(_ context.Context, timeout time.Duration) error {
	s.clock.Advance(timeout)
	return nil
}

func (s *stubDevice) DumpWindowHierarchy(_ context.Context, path string) error {
	return os.WriteFile(path, []byte("<hierarchy/>"), 0644)
}

func (s *stubDevice) PressHome(context.Context) error { return nil }

func (s *stubDevice) Perform(_ context.Context, a daemon.GuiAction) error {
	s.mu.Lock()
	s.calls++
	delay := s.delay
	s.mu.Unlock()
	time.Sleep(delay)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	s.action = append(s.action, a)
	return nil
}

func (s *stubDevice) performCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *stubDevice) IsNaturalOrientation(context.Context) (bool, error) { return true, nil }
func (s *stubDevice) DisplaySize(context.Context) (int, int, error)      { return 720, 1280, nil }
func (s *stubDevice) Model(context.Context) (string, error)              { return "emulator", nil }

func startDaemon(t *testing.T) (*daemon.Daemon, *stubDevice) {
	t.Helper()
	fake := clock.Fake(time.Unix(0, 0))
	dev := &stubDevice{clock: fake}
	cfg := daemon.DefaultConfig()
	cfg.Port = 0
	cfg.DumpDir = t.TempDir()
	d, err := daemon.Start(cfg, daemon.NewDriver(cfg, dev, daemon.WithClock(fake)), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	return d, dev
}

func TestDaemonClientCommands(t *testing.T) {
	d, dev := startDaemon(t)
	c := client.NewDaemonClient(net.JoinHostPort("127.0.0.1", itoa(d.Port())), client.DaemonOptions{Timeout: 2 * time.Second})
	ctx := context.Background()

	status, err := c.DumpUI(ctx)
	require.NoError(t, err)
	assert.Equal(t, "<hierarchy/>", status.WindowHierarchyDump)
	assert.Equal(t, "emulator", status.DeviceModel)

	natural, err := c.IsNaturalOrientation(ctx)
	require.NoError(t, err)
	assert.True(t, natural)

	require.NoError(t, c.Perform(ctx, daemon.GuiAction{Kind: daemon.ActionPressBack}))
	dev.mu.Lock()
	assert.Len(t, dev.action, 1)
	dev.fail = errors.New("screen locked")
	dev.mu.Unlock()

	err = c.Perform(ctx, daemon.GuiAction{Kind: daemon.ActionPressBack})
	var remote *daemon.RemoteError
	require.True(t, errors.As(err, &remote))
	assert.Equal(t, daemon.ErrorKindDevice, remote.Kind)
	assert.Contains(t, remote.Message, "screen locked")

	require.NoError(t, c.Stop(ctx))
	select {
	case <-d.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("daemon did not stop")
	}
}

func TestDaemonClientRetriesUnreachable(t *testing.T) {
	fake := clock.Fake(time.Unix(0, 0))
	c := client.NewDaemonClient(net.JoinHostPort("127.0.0.1", itoa(freePort(t))), client.DaemonOptions{
		Timeout:    time.Second,
		Retries:    3,
		RetryDelay: 500 * time.Millisecond,
		Clock:      fake,
	})

	_, err := c.Execute(context.Background(), daemon.DumpCommand())
	assert.ErrorIs(t, err, client.ErrUnreachable)
	assert.Len(t, fake.Sleeps(), 3)
	assert.Equal(t, 1500*time.Millisecond, fake.TotalSlept())
}

func TestDaemonClientDoesNotResendDeliveredCommand(t *testing.T) {
	d, dev := startDaemon(t)
	dev.mu.Lock()
	dev.delay = 300 * time.Millisecond
	dev.mu.Unlock()

	fake := clock.Fake(time.Unix(0, 0))
	c := client.NewDaemonClient(net.JoinHostPort("127.0.0.1", itoa(d.Port())), client.DaemonOptions{
		Timeout:    100 * time.Millisecond,
		Retries:    2,
		RetryDelay: 50 * time.Millisecond,
		Clock:      fake,
	})

	err := c.Perform(context.Background(), daemon.GuiAction{Kind: daemon.ActionPressBack})
	assert.ErrorIs(t, err, client.ErrNoReply)
	assert.NotErrorIs(t, err, client.ErrUnreachable)
	assert.Empty(t, fake.Sleeps(), "a delivered command is not retried")

	require.Eventually(t, func() bool {
		dev.mu.Lock()
		defer dev.mu.Unlock()
		return len(dev.action) == 1
	}, 2*time.Second, 10*time.Millisecond)
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, 1, dev.performCalls())
}
