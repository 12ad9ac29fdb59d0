// Package clock abstracts wall-clock time so polling loops can be tested
// without real delays.
package clock

import "time"

// Clock provides the current time and the ability to sleep. Production code
// uses System; tests substitute a fake that advances instantly.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

// System is the real clock backed by the time package.
type System struct{}

// Now returns the current local time.
func (System) Now() time.Time { return time.Now() }

// Sleep pauses the calling goroutine for the given duration.
func (System) Sleep(d time.Duration) { time.Sleep(d) }
