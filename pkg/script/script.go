/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: script.go
Description: YAML command scripts. A script is an ordered list of daemon
commands, optionally repeated, that the drive loop replays against a device.
A step that only carries an action is a perform-action command.
*/

package script

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/kleascm/akaylee-probe/pkg/daemon"
	"gopkg.in/yaml.v3"
)

// Step is one scripted command.
type Step struct {
	Name    string            `yaml:"name,omitempty"`
	Command string            `yaml:"command,omitempty"`
	Action  *daemon.GuiAction `yaml:"action,omitempty"`
	Repeat  int               `yaml:"repeat,omitempty"`
}

// DeviceCommand returns the command the step sends.
func (s Step) DeviceCommand() daemon.DeviceCommand {
	if s.Command == "" && s.Action != nil {
		return daemon.PerformCommand(*s.Action)
	}
	cmd := daemon.DeviceCommand{Command: s.Command}
	if s.Action != nil {
		action := *s.Action
		cmd.Action = &action
	}
	return cmd
}

func (s Step) times() int {
	if s.Repeat <= 0 {
		return 1
	}
	return s.Repeat
}

// Script is a named sequence of steps.
type Script struct {
	Name  string `yaml:"name"`
	Loops int    `yaml:"loops,omitempty"`
	Steps []Step `yaml:"steps"`
}

// Parse decodes and validates a script.
func Parse(r io.Reader) (*Script, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var s Script
	if err := dec.Decode(&s); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("empty script")
		}
		return nil, fmt.Errorf("failed to decode script: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Load reads a script file.
func Load(path string) (*Script, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open script: %w", err)
	}
	defer f.Close()

	s, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

// Validate rejects steps the daemon would refuse.
func (s *Script) Validate() error {
	if len(s.Steps) == 0 {
		return fmt.Errorf("script %q has no steps", s.Name)
	}
	if s.Loops < 0 {
		return fmt.Errorf("script %q: loops must not be negative", s.Name)
	}

	var errs []error
	for i, step := range s.Steps {
		cmd := step.DeviceCommand()
		switch cmd.Command {
		case daemon.CommandPerformAction:
			if cmd.Action == nil {
				errs = append(errs, fmt.Errorf("step %d: perform-action needs an action", i+1))
			} else if err := cmd.Action.Validate(); err != nil {
				errs = append(errs, fmt.Errorf("step %d: %w", i+1, err))
			}
		case daemon.CommandDumpUIHierarchy, daemon.CommandIsOrientationNatural, daemon.CommandStop:
			if cmd.Action != nil {
				errs = append(errs, fmt.Errorf("step %d: %s takes no action", i+1, cmd.Command))
			}
		case "":
			errs = append(errs, fmt.Errorf("step %d: missing command", i+1))
		default:
			errs = append(errs, fmt.Errorf("step %d: unknown command %q", i+1, cmd.Command))
		}
		if step.Repeat < 0 {
			errs = append(errs, fmt.Errorf("step %d: repeat must not be negative", i+1))
		}
	}
	return errors.Join(errs...)
}

// Commands expands repeats and loops into the full command sequence.
func (s *Script) Commands() []daemon.DeviceCommand {
	loops := s.Loops
	if loops <= 0 {
		loops = 1
	}
	var cmds []daemon.DeviceCommand
	for l := 0; l < loops; l++ {
		for _, step := range s.Steps {
			for n := 0; n < step.times(); n++ {
				cmds = append(cmds, step.DeviceCommand())
			}
		}
	}
	return cmds
}

// Supplier returns a function yielding the script's commands in order and
// then reporting exhaustion.
func (s *Script) Supplier() func() (daemon.DeviceCommand, bool) {
	cmds := s.Commands()
	next := 0
	return func() (daemon.DeviceCommand, bool) {
		if next >= len(cmds) {
			return daemon.DeviceCommand{}, false
		}
		cmd := cmds[next]
		next++
		return cmd, true
	}
}
