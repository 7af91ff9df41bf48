/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: clock.go
Description: Time source abstraction for the timing-sensitive parts of Akaylee Probe
(GUI stabilization, capture retry, log timestamps). Production code uses Real();
tests use Fake() so waits and sleeps complete instantly and deterministically.
*/

package clock

import "time"

// Clock abstracts time operations for testability.
type Clock interface {
	// Now returns the current time.
	Now() time.Time
	// Since returns the time elapsed since t.
	Since(t time.Time) time.Duration
	// Sleep pauses the current goroutine for at least d.
	Sleep(d time.Duration)
	// After returns a channel that receives the current time after d.
	After(d time.Duration) <-chan time.Time
}

// Real returns a Clock backed by the time package.
func Real() Clock {
	return realClock{}
}

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) Since(t time.Time) time.Duration        { return time.Since(t) }
func (realClock) Sleep(d time.Duration)                  { time.Sleep(d) }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }
