/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: command.go
Description: Messages exchanged with the device-control daemon. A DeviceCommand
names one of the daemon's commands and optionally carries a GUI action; a
DeviceResponse carries either a failure or at most one result.
*/

package daemon

import (
	"errors"
	"fmt"
	"time"
)

// Commands understood by the daemon.
const (
	CommandStop                 = "stop-daemon"
	CommandDumpUIHierarchy      = "dump-ui-hierarchy"
	CommandPerformAction        = "perform-action"
	CommandIsOrientationNatural = "is-orientation-natural"
)

// ActionKind names a GUI action.
type ActionKind string

const (
	ActionClick               ActionKind = "click"
	ActionLongClick           ActionKind = "long-click"
	ActionCoordinateClick     ActionKind = "coordinate-click"
	ActionCoordinateLongClick ActionKind = "coordinate-long-click"
	ActionText                ActionKind = "text"
	ActionSwipe               ActionKind = "swipe"
	ActionWait                ActionKind = "wait"
	ActionPressBack           ActionKind = "press-back"
	ActionPressHome           ActionKind = "press-home"
	ActionEnableWifi          ActionKind = "enable-wifi"
	ActionLaunchApp           ActionKind = "launch-app"
)

// Locator finds a widget by XPath or resource id. XPath wins when both are set.
type Locator struct {
	XPath      string `cbor:"xpath,omitempty" yaml:"xpath,omitempty"`
	ResourceID string `cbor:"resource_id,omitempty" yaml:"resource_id,omitempty"`
}

// IsZero reports whether the locator names no widget.
func (l Locator) IsZero() bool {
	return l.XPath == "" && l.ResourceID == ""
}

func (l Locator) String() string {
	if l.XPath != "" {
		return "xpath=" + l.XPath
	}
	return "resource-id=" + l.ResourceID
}

// GuiAction is one structured GUI operation.
type GuiAction struct {
	Kind    ActionKind    `cbor:"kind" yaml:"kind"`
	Target  Locator       `cbor:"target" yaml:"target"`
	Text    string        `cbor:"text,omitempty" yaml:"text,omitempty"`
	X       int           `cbor:"x,omitempty" yaml:"x,omitempty"`
	Y       int           `cbor:"y,omitempty" yaml:"y,omitempty"`
	EndX    int           `cbor:"end_x,omitempty" yaml:"end_x,omitempty"`
	EndY    int           `cbor:"end_y,omitempty" yaml:"end_y,omitempty"`
	AppName string        `cbor:"app,omitempty" yaml:"app,omitempty"`
	Timeout time.Duration `cbor:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// Validate checks that the fields the action kind needs are present.
func (a GuiAction) Validate() error {
	switch a.Kind {
	case ActionClick, ActionLongClick, ActionWait, ActionText:
		if a.Target.IsZero() {
			return fmt.Errorf("%s action needs a target", a.Kind)
		}
	case ActionCoordinateClick, ActionCoordinateLongClick:
		if a.X < 0 || a.Y < 0 {
			return fmt.Errorf("%s action needs non-negative coordinates", a.Kind)
		}
	case ActionSwipe:
		if a.X < 0 || a.Y < 0 || a.EndX < 0 || a.EndY < 0 {
			return fmt.Errorf("%s action needs non-negative coordinates", a.Kind)
		}
	case ActionLaunchApp:
		if a.AppName == "" {
			return fmt.Errorf("%s action needs an app", a.Kind)
		}
	case ActionPressBack, ActionPressHome, ActionEnableWifi:
	default:
		return fmt.Errorf("unknown action kind %q", a.Kind)
	}
	return nil
}

func (a GuiAction) String() string {
	switch a.Kind {
	case ActionClick, ActionLongClick, ActionWait:
		return fmt.Sprintf("%s(%s)", a.Kind, a.Target)
	case ActionText:
		return fmt.Sprintf("%s(%s, %q)", a.Kind, a.Target, a.Text)
	case ActionCoordinateClick, ActionCoordinateLongClick:
		return fmt.Sprintf("%s(%d,%d)", a.Kind, a.X, a.Y)
	case ActionSwipe:
		return fmt.Sprintf("%s(%d,%d -> %d,%d)", a.Kind, a.X, a.Y, a.EndX, a.EndY)
	case ActionLaunchApp:
		return fmt.Sprintf("%s(%s)", a.Kind, a.AppName)
	default:
		return string(a.Kind)
	}
}

// DeviceCommand is one request to the daemon.
type DeviceCommand struct {
	Command string     `cbor:"command" yaml:"command"`
	Action  *GuiAction `cbor:"action,omitempty" yaml:"action,omitempty"`
}

// Equal compares commands by value, including the embedded action.
func (c DeviceCommand) Equal(other DeviceCommand) bool {
	if c.Command != other.Command {
		return false
	}
	if c.Action == nil || other.Action == nil {
		return c.Action == nil && other.Action == nil
	}
	return *c.Action == *other.Action
}

func (c DeviceCommand) String() string {
	if c.Action == nil {
		return c.Command
	}
	return c.Command + " " + c.Action.String()
}

// StopCommand asks the daemon to shut down.
func StopCommand() DeviceCommand {
	return DeviceCommand{Command: CommandStop}
}

// DumpCommand asks for the current GUI status.
func DumpCommand() DeviceCommand {
	return DeviceCommand{Command: CommandDumpUIHierarchy}
}

// OrientationCommand asks whether the device is in its natural orientation.
func OrientationCommand() DeviceCommand {
	return DeviceCommand{Command: CommandIsOrientationNatural}
}

// PerformCommand asks the daemon to execute action.
func PerformCommand(action GuiAction) DeviceCommand {
	return DeviceCommand{Command: CommandPerformAction, Action: &action}
}

// GuiStatus is a snapshot of the device GUI.
type GuiStatus struct {
	WindowHierarchyDump string `cbor:"window_hierarchy_dump"`
	DeviceModel         string `cbor:"device_model"`
	DisplayWidth        int    `cbor:"display_width"`
	DisplayHeight       int    `cbor:"display_height"`
}

// Error kinds carried in a DeviceResponse.
const (
	ErrorKindDaemon = "daemon"
	ErrorKindDevice = "device"
)

// RemoteError is a daemon failure as delivered to the host.
type RemoteError struct {
	Kind    string `cbor:"kind"`
	Message string `cbor:"message"`
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s error: %s", e.Kind, e.Message)
}

// DeviceResponse is the daemon's answer to one command.
type DeviceResponse struct {
	Err                *RemoteError `cbor:"error,omitempty"`
	GuiStatus          *GuiStatus   `cbor:"gui_status,omitempty"`
	NaturalOrientation *bool        `cbor:"natural_orientation,omitempty"`
}

// Validate enforces that a response carries an error or at most one result.
func (r DeviceResponse) Validate() error {
	results := 0
	if r.GuiStatus != nil {
		results++
	}
	if r.NaturalOrientation != nil {
		results++
	}
	if results > 1 {
		return errors.New("response carries more than one result")
	}
	if r.Err != nil && results > 0 {
		return errors.New("response carries both an error and a result")
	}
	return nil
}

// Failure builds the response for err.
func Failure(err error) DeviceResponse {
	kind := ErrorKindDevice
	var daemonErr *DaemonError
	if errors.As(err, &daemonErr) {
		kind = ErrorKindDaemon
	}
	return DeviceResponse{Err: &RemoteError{Kind: kind, Message: err.Error()}}
}

// DaemonError is a failure of the daemon itself rather than of the device.
type DaemonError struct {
	Msg   string
	Cause error
}

func (e *DaemonError) Error() string {
	if e.Cause != nil {
		return e.Msg + ": " + e.Cause.Error()
	}
	return e.Msg
}

func (e *DaemonError) Unwrap() error {
	return e.Cause
}

func daemonErrorf(format string, args ...any) *DaemonError {
	return &DaemonError{Msg: fmt.Sprintf(format, args...)}
}
