/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: script_test.go
Description: Tests for YAML script parsing, validation and command supply.
*/

package script_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kleascm/akaylee-probe/pkg/daemon"
	"github.com/kleascm/akaylee-probe/pkg/script"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const loginScript = `
name: login
steps:
  - name: launch
    action:
      kind: launch-app
      app: com.example
  - command: dump-ui-hierarchy
  - action:
      kind: text
      target:
        resource_id: com.example:id/user
      text: alice
  - action:
      kind: wait
      target:
        xpath: /hierarchy/node[1]/node[2]
      timeout: 5s
  - command: perform-action
    action:
      kind: press-back
    repeat: 2
  - command: is-orientation-natural
`

func TestParseScript(t *testing.T) {
	s, err := script.Parse(strings.NewReader(loginScript))
	require.NoError(t, err)
	assert.Equal(t, "login", s.Name)
	require.Len(t, s.Steps, 6)
	assert.Equal(t, 5*time.Second, s.Steps[3].Action.Timeout)

	cmds := s.Commands()
	require.Len(t, cmds, 7)
	assert.True(t, cmds[0].Equal(daemon.PerformCommand(daemon.GuiAction{Kind: daemon.ActionLaunchApp, AppName: "com.example"})))
	assert.True(t, cmds[1].Equal(daemon.DumpCommand()))
	assert.Equal(t, "alice", cmds[2].Action.Text)
	assert.Equal(t, daemon.ActionPressBack, cmds[4].Action.Kind)
	assert.Equal(t, daemon.ActionPressBack, cmds[5].Action.Kind)
	assert.True(t, cmds[6].Equal(daemon.OrientationCommand()))
}

func TestCommandsDoNotShareActions(t *testing.T) {
	s, err := script.Parse(strings.NewReader(loginScript))
	require.NoError(t, err)
	cmds := s.Commands()
	cmds[4].Action.Kind = daemon.ActionPressHome
	assert.Equal(t, daemon.ActionPressBack, cmds[5].Action.Kind)
	assert.Equal(t, daemon.ActionPressBack, s.Steps[4].Action.Kind)
}

func TestSupplierExhausts(t *testing.T) {
	s, err := script.Parse(strings.NewReader(`
name: twice
loops: 2
steps:
  - command: dump-ui-hierarchy
`))
	require.NoError(t, err)

	next := s.Supplier()
	for i := 0; i < 2; i++ {
		cmd, ok := next()
		require.True(t, ok)
		assert.True(t, cmd.Equal(daemon.DumpCommand()))
	}
	_, ok := next()
	assert.False(t, ok)
	_, ok = next()
	assert.False(t, ok)
}

func TestParseRejectsInvalidScripts(t *testing.T) {
	cases := map[string]string{
		"empty":           ``,
		"no steps":        "name: x\nsteps: []\n",
		"unknown field":   "name: x\nsteps:\n  - command: dump-ui-hierarchy\n    colour: red\n",
		"unknown cmd":     "name: x\nsteps:\n  - command: reboot\n",
		"missing cmd":     "name: x\nsteps:\n  - name: nothing\n",
		"bad action":      "name: x\nsteps:\n  - action:\n      kind: click\n",
		"action on dump":  "name: x\nsteps:\n  - command: dump-ui-hierarchy\n    action:\n      kind: press-home\n",
		"perform bare":    "name: x\nsteps:\n  - command: perform-action\n",
		"negative repeat": "name: x\nsteps:\n  - command: dump-ui-hierarchy\n    repeat: -1\n",
	}
	for name, src := range cases {
		_, err := script.Parse(strings.NewReader(src))
		assert.Error(t, err, name)
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "login.yaml")
	require.NoError(t, os.WriteFile(path, []byte(loginScript), 0644))
	s, err := script.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "login", s.Name)

	_, err = script.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
