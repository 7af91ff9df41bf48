/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: fake.go
Description: Deterministic Clock for tests. Sleep and After advance the fake time
immediately instead of blocking, and every sleep is recorded so tests can assert
on the waiting a component performed.
*/

package clock

import (
	"sync"
	"time"
)

// FakeClock is a manually controlled Clock.
type FakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

// Fake returns a FakeClock starting at initial.
func Fake(initial time.Time) *FakeClock {
	return &FakeClock{now: initial}
}

// Now returns the fake current time.
func (f *FakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Since returns the fake time elapsed since t.
func (f *FakeClock) Since(t time.Time) time.Duration {
	return f.Now().Sub(t)
}

// Sleep advances the fake time by d and records the sleep.
func (f *FakeClock) Sleep(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sleeps = append(f.sleeps, d)
	if d > 0 {
		f.now = f.now.Add(d)
	}
}

// After advances the fake time by d and returns an already fired channel.
func (f *FakeClock) After(d time.Duration) <-chan time.Time {
	f.Advance(d)
	ch := make(chan time.Time, 1)
	ch <- f.Now()
	return ch
}

// Advance moves the fake time forward by d.
func (f *FakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if d > 0 {
		f.now = f.now.Add(d)
	}
}

// Sleeps returns a copy of every duration passed to Sleep.
func (f *FakeClock) Sleeps() []time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]time.Duration, len(f.sleeps))
	copy(out, f.sleeps)
	return out
}

// TotalSlept returns the sum of every duration passed to Sleep.
func (f *FakeClock) TotalSlept() time.Duration {
	var total time.Duration
	for _, d := range f.Sleeps() {
		total += d
	}
	return total
}
