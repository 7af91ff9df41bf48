/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: intercept_test.go
Description: Tests for call interception: log line rendering, Allow/Mock/Deny
outcomes, hooks, timestamps and the destructive drain.
*/

package monitor_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kleascm/akaylee-probe/pkg/clock"
	"github.com/kleascm/akaylee-probe/pkg/monitor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fooBar = &monitor.API{
	DeclaringType: "com.example.Foo",
	Method:        "bar",
	ReturnType:    "int",
	ParamTypes:    []string{"int"},
}

var openURI = &monitor.API{
	DeclaringType: "com.example.Resolver",
	Method:        "open",
	ReturnType:    "java.lang.String",
	ParamTypes:    []string{"android.net.Uri", "java.lang.String[]"},
}

type recordingHook struct {
	mu        sync.Mutex
	before    []string
	after     []string
	finalized int
	replace   any
}

func (h *recordingHook) BeforeCall(line string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.before = append(h.before, line)
}

func (h *recordingHook) AfterCall(line string, result any) any {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.after = append(h.after, line)
	if h.replace != nil {
		return h.replace
	}
	return result
}

func (h *recordingHook) Finalize() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.finalized++
}

func engineWithPolicies(t *testing.T, policies string, opts ...monitor.Option) *monitor.Engine {
	t.Helper()
	path := filepath.Join(t.TempDir(), "policies.txt")
	require.NoError(t, os.WriteFile(path, []byte(policies), 0644))
	cfg := monitor.DefaultConfig()
	cfg.PolicyFile = path
	cfg.ProcessName = "com.example.app"
	return monitor.New(cfg, opts...)
}

func TestInterceptAllowInvokesReal(t *testing.T) {
	e := engineWithPolicies(t, "")
	calls := 0

	got, err := monitor.Intercept(e, fooBar, []monitor.Value{monitor.ScalarOf(3)}, func() (int, error) {
		calls++
		return 7, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 7, got)
	assert.Equal(t, 1, calls)

	logs := e.Drain()
	require.Len(t, logs, 1)
	assert.Equal(t, e.PID(), logs[0].ProcessID)
	assert.Contains(t, logs[0].Payload, "objCls: 'com.example.Foo';mthd: 'bar';retCls: 'int';params: 'int' '3';stacktrace: '")
	assert.True(t, strings.HasPrefix(logs[0].Payload, "TId: "))
}

func TestInterceptDenyDoesNotInvoke(t *testing.T) {
	e := engineWithPolicies(t, "com.example.Foo.bar(int)\tDeny\n")
	calls := 0

	_, err := monitor.Intercept(e, fooBar, []monitor.Value{monitor.ScalarOf(1)}, func() (int, error) {
		calls++
		return 1, nil
	})
	require.Error(t, err)

	var secErr *monitor.SecurityError
	require.True(t, errors.As(err, &secErr))
	assert.Contains(t, err.Error(), "com.example.Foo->bar")
	assert.Zero(t, calls)
	assert.Equal(t, 1, e.Pending(), "a denied call is still logged")
}

func TestInterceptMockReturnsZeroValue(t *testing.T) {
	e := engineWithPolicies(t, "com.example.Foo.bar(int)\tMock\n")
	calls := 0

	got, err := monitor.Intercept(e, fooBar, []monitor.Value{monitor.ScalarOf(1)}, func() (int, error) {
		calls++
		return 99, nil
	})
	require.NoError(t, err)
	assert.Zero(t, got)
	assert.Zero(t, calls)

	s, err := monitor.Intercept(e, &monitor.API{DeclaringType: "com.example.Foo", Method: "bar", ParamTypes: []string{"int"}}, nil, func() (*string, error) {
		v := "real"
		return &v, nil
	})
	require.NoError(t, err)
	assert.Nil(t, s)
}

func TestInterceptURIPolicy(t *testing.T) {
	e := engineWithPolicies(t, "com.example.Resolver.open(android.net.Uri,java.lang.String[])\tcontent://sms\tDeny\n")
	open := func() (string, error) { return "row", nil }

	_, err := monitor.Intercept(e, openURI, []monitor.Value{monitor.URI("content://sms/inbox"), monitor.Strings("a")}, open)
	assert.Error(t, err)

	got, err := monitor.Intercept(e, openURI, []monitor.Value{monitor.URI("content://contacts"), monitor.Strings("a")}, open)
	require.NoError(t, err)
	assert.Equal(t, "row", got)
}

func TestInterceptVoid(t *testing.T) {
	e := engineWithPolicies(t, "com.example.Foo.reset()\tDeny\n")
	reset := &monitor.API{DeclaringType: "com.example.Foo", Method: "reset"}
	called := false

	err := monitor.InterceptVoid(e, reset, nil, func() error {
		called = true
		return nil
	})
	assert.Error(t, err)
	assert.False(t, called)

	logs := e.Drain()
	require.Len(t, logs, 1)
	assert.Contains(t, logs[0].Payload, "retCls: 'void';params: ;")
}

func TestInterceptRealErrorPassesThrough(t *testing.T) {
	e := engineWithPolicies(t, "")
	boom := errors.New("boom")

	_, err := monitor.Intercept(e, fooBar, nil, func() (int, error) { return 0, boom })
	assert.ErrorIs(t, err, boom)
}

func TestInterceptHooks(t *testing.T) {
	hook := &recordingHook{replace: 42}
	e := engineWithPolicies(t, "", monitor.WithHook(hook))

	got, err := monitor.Intercept(e, fooBar, []monitor.Value{monitor.ScalarOf(1)}, func() (int, error) { return 1, nil })
	require.NoError(t, err)
	assert.Equal(t, 42, got)
	require.Len(t, hook.before, 1)
	require.Len(t, hook.after, 1)
	assert.Equal(t, hook.before[0], hook.after[0])
}

func TestInterceptHookWrongType(t *testing.T) {
	hook := &recordingHook{replace: "not an int"}
	e := engineWithPolicies(t, "", monitor.WithHook(hook))

	_, err := monitor.Intercept(e, fooBar, nil, func() (int, error) { return 1, nil })
	assert.ErrorIs(t, err, monitor.ErrHookResultType)
}

func TestHookNotCalledAfterDeny(t *testing.T) {
	hook := &recordingHook{}
	e := engineWithPolicies(t, "com.example.Foo.bar(int)\tDeny\n", monitor.WithHook(hook))

	_, _ = monitor.Intercept(e, fooBar, nil, func() (int, error) { return 1, nil })
	assert.Len(t, hook.before, 1)
	assert.Empty(t, hook.after)
}

func TestDrainIsDestructive(t *testing.T) {
	e := engineWithPolicies(t, "")
	for i := 0; i < 3; i++ {
		_, err := monitor.Intercept(e, fooBar, []monitor.Value{monitor.ScalarOf(i)}, func() (int, error) { return i, nil })
		require.NoError(t, err)
	}

	first := e.Drain()
	require.Len(t, first, 3)
	assert.Contains(t, first[0].Payload, "'int' '0'")
	assert.Contains(t, first[2].Payload, "'int' '2'")
	assert.Empty(t, e.Drain())
}

func TestTimestampsFollowMonotonicClock(t *testing.T) {
	start := time.Date(2024, 5, 6, 7, 8, 9, 0, time.Local)
	fake := clock.Fake(start)
	e := engineWithPolicies(t, "", monitor.WithClock(fake))

	fake.Advance(1500 * time.Millisecond)
	_, err := monitor.Intercept(e, fooBar, nil, func() (int, error) { return 0, nil })
	require.NoError(t, err)

	logs := e.Drain()
	require.Len(t, logs, 1)
	assert.Equal(t, "2024-05-06 07:08:10.500", logs[0].Timestamp)
	assert.Equal(t, "2024-05-06 07:08:10.500", e.Now())
}

func TestConcurrentInterceptionKeepsEveryEntry(t *testing.T) {
	e := engineWithPolicies(t, "")
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				_, _ = monitor.Intercept(e, fooBar, nil, func() (int, error) { return j, nil })
			}
		}()
	}
	wg.Wait()
	assert.Len(t, e.Drain(), 16*25)
}

func TestRenderValues(t *testing.T) {
	assert.Equal(t, "null", monitor.Render(nil))
	assert.Equal(t, "null", monitor.Render(monitor.ScalarOf(nil)))
	assert.Equal(t, "it\\'s", monitor.Render(monitor.Scalar("it's")))
	assert.Equal(t, "[a, null, [1, 2]]", monitor.Render(monitor.Sequence{
		monitor.Scalar("a"),
		monitor.Null,
		monitor.Sequence{monitor.ScalarOf(1), monitor.ScalarOf(2)},
	}))
	assert.Equal(t, "intent:#Intent;action=VIEW;end", monitor.Render(monitor.Structured{Canonical: "intent:#Intent;action=VIEW;end"}))
	assert.Equal(t, "[]", monitor.Render(monitor.Sequence{}))
}
