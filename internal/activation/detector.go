// Package activation detects the hands-free session toggle: a double tap of
// the configured modifier key within a short window, observed globally
// regardless of which application has focus.
package activation

import "time"

// DoubleTapDetector is the pure gesture recognizer. It performs no I/O, so
// it is safe to call from the hook delivery goroutine. Not safe for
// concurrent use.
type DoubleTapDetector struct {
	window  time.Duration
	primed  bool
	lastTap time.Time
}

func NewDoubleTapDetector(window time.Duration) *DoubleTapDetector {
	return &DoubleTapDetector{window: window}
}

// Observe feeds one key press. target reports whether the press is the
// activation key; at is the press timestamp. It returns true when the press
// completes a double tap. A completed tap is consumed, so a third rapid
// press starts a new candidate instead of toggling again. Any other key
// between two taps resets the candidate.
func (d *DoubleTapDetector) Observe(target bool, at time.Time) bool {
	if !target {
		d.primed = false
		return false
	}
	if d.primed {
		gap := at.Sub(d.lastTap)
		if gap >= 0 && gap <= d.window {
			d.primed = false
			return true
		}
	}
	d.primed = true
	d.lastTap = at
	return false
}

// Reset clears any pending tap candidate.
func (d *DoubleTapDetector) Reset() {
	d.primed = false
}
