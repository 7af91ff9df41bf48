/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: hierarchy_test.go
Description: Tests for window hierarchy parsing, widget lookup and crash
extraction from logcat.
*/

package mobile_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kleascm/akaylee-probe/pkg/daemon"
	"github.com/kleascm/akaylee-probe/pkg/mobile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseHierarchy(t *testing.T) {
	h, err := mobile.ParseHierarchy(strings.NewReader(loginDump))
	require.NoError(t, err)
	assert.Equal(t, 0, h.Rotation)
	require.Len(t, h.Nodes, 1)
	root := h.Nodes[0]
	assert.Equal(t, "android.widget.FrameLayout", root.Class)
	require.Len(t, root.Children, 2)
	assert.Equal(t, "Login", root.Children[1].Text)
	assert.True(t, root.Children[1].Clickable)
}

func TestParseHierarchyRejectsGarbage(t *testing.T) {
	_, err := mobile.ParseHierarchy(strings.NewReader("not xml"))
	assert.Error(t, err)
}

func TestFindWidget(t *testing.T) {
	h, err := mobile.ParseHierarchy(strings.NewReader(loginDump))
	require.NoError(t, err)

	found := []struct {
		loc  daemon.Locator
		text string
	}{
		{daemon.Locator{ResourceID: "com.example:id/user"}, "User"},
		{daemon.Locator{XPath: "/hierarchy/node[1]/node[2]"}, "Login"},
		{daemon.Locator{XPath: "//node/node[2]"}, "Login"},
		{daemon.Locator{XPath: "/*/*"}, "User"},
		{daemon.Locator{ResourceID: "com.example:id/user", XPath: "/node/node[2]"}, "User"},
	}
	for _, tt := range found {
		n, err := h.Find(tt.loc)
		require.NoError(t, err, tt.loc.String())
		assert.Equal(t, tt.text, n.Text, tt.loc.String())
	}

	missing := []daemon.Locator{
		{},
		{ResourceID: "com.example:id/none"},
		{XPath: "/hierarchy/node[2]"},
		{XPath: "/hierarchy/node[0]"},
		{XPath: "/hierarchy/node[x"},
		{XPath: "/hierarchy"},
	}
	for _, loc := range missing {
		_, err := h.Find(loc)
		assert.Error(t, err, loc.String())
	}
}

func TestParseBounds(t *testing.T) {
	r, err := mobile.ParseBounds("[400,500][680,600]")
	require.NoError(t, err)
	assert.Equal(t, mobile.Rect{Left: 400, Top: 500, Right: 680, Bottom: 600}, r)
	x, y := r.Center()
	assert.Equal(t, 540, x)
	assert.Equal(t, 550, y)

	_, err = mobile.ParseBounds("[10,10][5,5]")
	assert.Error(t, err)
	_, err = mobile.ParseBounds("")
	assert.Error(t, err)
}

const logcat = `06-01 12:00:00.000  1234  1234 I ActivityManager: Start proc com.example
06-01 12:00:01.123  1234  1234 E AndroidRuntime: FATAL EXCEPTION: main
06-01 12:00:01.123  1234  1234 E AndroidRuntime: Process: com.example, PID: 1234
06-01 12:00:01.124  1234  1234 E AndroidRuntime: java.lang.NullPointerException: Attempt to invoke virtual method on a null object reference
06-01 12:00:01.125  1234  1234 E AndroidRuntime: 	at com.example.LoginActivity.onClick(LoginActivity.java:42)
06-01 12:00:05.000   500   520 E ActivityManager: ANR in com.example (com.example/.LoginActivity)
06-01 12:00:05.001   500   520 E ActivityManager: Reason: Input dispatching timed out
06-01 12:00:06.000   777   777 E AndroidRuntime: FATAL EXCEPTION: main
06-01 12:00:06.000   777   777 E AndroidRuntime: Process: com.other, PID: 777
06-01 12:00:06.001   777   777 E AndroidRuntime: java.lang.IllegalStateException: com.example was here
06-01 12:00:06.002   777   777 E AndroidRuntime: 	at com.other.Main.run(Main.java:7)
`

func TestParseCrashes(t *testing.T) {
	reports := mobile.ParseCrashes([]byte(logcat), "com.example")
	require.Len(t, reports, 2)

	assert.Equal(t, "crash", reports[0].Type)
	assert.Contains(t, reports[0].Message, "FATAL EXCEPTION: main")
	assert.Contains(t, reports[0].StackTrace, "LoginActivity.java:42")
	assert.Equal(t, 1, reports[0].Timestamp.Second())
	assert.Len(t, reports[0].Logs, 4)

	assert.Equal(t, "anr", reports[1].Type)
	assert.Contains(t, reports[1].Message, "ANR in com.example")
	assert.Len(t, reports[1].Logs, 2)

	var buf bytes.Buffer
	_, err := reports[0].WriteTo(&buf)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "Crash Report for com.example")
	assert.Contains(t, buf.String(), "Type: crash")
}

func TestParseCrashesMatchesProcessLine(t *testing.T) {
	tests := map[string]struct {
		logcat string
		want   int
	}{
		"own process":    {"E AndroidRuntime: FATAL EXCEPTION: main\nE AndroidRuntime: Process: com.example, PID: 1\n", 1},
		"sub-process":    {"E AndroidRuntime: FATAL EXCEPTION: sync\nE AndroidRuntime: Process: com.example:remote, PID: 2\n", 1},
		"prefix package": {"E AndroidRuntime: FATAL EXCEPTION: main\nE AndroidRuntime: Process: com.example2, PID: 3\n", 0},
		"no process":     {"E AndroidRuntime: FATAL EXCEPTION: main\nE AndroidRuntime: java.lang.Error\n", 0},
		"single line":    {"E AndroidRuntime: FATAL EXCEPTION: main Process: com.example, PID: 4\n", 1},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Len(t, mobile.ParseCrashes([]byte(tt.logcat), "com.example"), tt.want)
		})
	}
}

func TestCrashWatcherClearsAndReports(t *testing.T) {
	dev, runner, _ := newDevice(t, mobile.ADBConfig{})
	runner.on("adb -s emulator-5554 shell logcat -d", logcat, "")
	dir := filepath.Join(t.TempDir(), "crashes")
	w := mobile.NewCrashWatcher(dev, "com.example", dir)

	messages, err := w.Crashes(context.Background())
	require.NoError(t, err)
	assert.Len(t, messages, 2)
	assert.Contains(t, runner.commands(), "adb -s emulator-5554 shell logcat -c")

	files, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, files, 2)

	messages, err = w.Crashes(context.Background())
	require.NoError(t, err)
	assert.Empty(t, messages)
}
