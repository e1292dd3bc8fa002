// Package timer provides the periodic-task primitive shared by the engine,
// the appliances and the weather/occupancy collaborators.
//
// A Timer is a decision helper, not a scheduler: callers check IsDue, perform
// their action, then call MarkTriggered. Time is always passed in.
package timer

import "time"

// Timer tracks when its owner last completed a timed action.
type Timer struct {
	interval      time.Duration
	defaultIvl    time.Duration
	lastTriggered time.Time
	triggered     bool
}

// New creates a Timer that is due immediately. The interval given here is the
// default restored by ResetToDefault.
func New(interval time.Duration) *Timer {
	return &Timer{interval: interval, defaultIvl: interval}
}

// IsDue reports whether the owner may act. An unset Timer is always due.
func (t *Timer) IsDue(now time.Time) bool {
	if !t.triggered {
		return true
	}
	return !now.Before(t.lastTriggered.Add(t.interval))
}

// MarkTriggered records that the timed action completed at now.
func (t *Timer) MarkTriggered(now time.Time) {
	t.lastTriggered = now
	t.triggered = true
}

// Clear forgets the last trigger so the Timer is due immediately.
func (t *Timer) Clear() {
	t.lastTriggered = time.Time{}
	t.triggered = false
}

// SetInterval overrides the interval until ResetToDefault is called.
func (t *Timer) SetInterval(d time.Duration) {
	t.interval = d
}

// ResetToDefault restores the interval configured at construction.
func (t *Timer) ResetToDefault() {
	t.interval = t.defaultIvl
}

// Interval returns the active interval.
func (t *Timer) Interval() time.Duration {
	return t.interval
}

// Default returns the construction-time interval.
func (t *Timer) Default() time.Duration {
	return t.defaultIvl
}

// LastTriggered returns the last trigger time and whether one was recorded.
func (t *Timer) LastTriggered() (time.Time, bool) {
	return t.lastTriggered, t.triggered
}

// Overridden reports whether the active interval differs from the default.
func (t *Timer) Overridden() bool {
	return t.interval != t.defaultIvl
}

// NextDue returns when the Timer becomes due. The zero time means now.
func (t *Timer) NextDue() time.Time {
	if !t.triggered {
		return time.Time{}
	}
	return t.lastTriggered.Add(t.interval)
}
