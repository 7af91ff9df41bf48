/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: device.go
Description: The platform UI primitive the daemon drives. Implementations wrap a
UI automation backend: an on-device automation service or adb from a host.
*/

package daemon

import (
	"context"
	"time"
)

// UIDevice is the live GUI of the target device.
type UIDevice interface {
	// WaitForIdle blocks until the UI reports no pending events.
	WaitForIdle(ctx context.Context) error
	// WaitForWindowUpdate blocks until the window content changes or
	// timeout elapses. Reaching the timeout is not an error.
	WaitForWindowUpdate(ctx context.Context, timeout time.Duration) error
	// DumpWindowHierarchy writes the UI tree as XML to path.
	DumpWindowHierarchy(ctx context.Context, path string) error
	// PressHome presses the home button.
	PressHome(ctx context.Context) error
	// Perform executes a GUI action.
	Perform(ctx context.Context, action GuiAction) error
	// IsNaturalOrientation reports whether the display is in its natural rotation.
	IsNaturalOrientation(ctx context.Context) (bool, error)
	// DisplaySize returns the display width and height in pixels.
	DisplaySize(ctx context.Context) (width, height int, err error)
	// Model returns the device model name.
	Model(ctx context.Context) (string, error)
}

// IdleReporter is implemented by devices whose idle wait costs time even when
// the UI is already quiet, such as a host polling over adb. The driver asks it
// whether the UI was idle at the first look instead of timing the wait against
// the idle threshold.
type IdleReporter interface {
	WaitForIdleReport(ctx context.Context) (alreadyIdle bool, err error)
}
