package schedule

import (
	"errors"
	"fmt"
	"time"
)

var ErrUnknownInterval = errors.New("unknown schedule interval")

// Interval is a job's recurrence granularity. A periodic tick is a no-op
// unless the interval has elapsed since the job's last run.
type Interval string

const (
	None         Interval = ""
	EveryQuarter Interval = "every_15_minutes"
	Hourly       Interval = "hourly"
	SixHours     Interval = "six_hours"
	Daily        Interval = "daily"
	Weekly       Interval = "weekly"
	Monthly      Interval = "monthly"
)

// Parse validates a schedule descriptor. A malformed descriptor is a
// configuration error for the call that carries it.
func Parse(s string) (Interval, error) {
	switch Interval(s) {
	case None, EveryQuarter, Hourly, SixHours, Daily, Weekly, Monthly:
		return Interval(s), nil
	default:
		return None, fmt.Errorf("%w: %q", ErrUnknownInterval, s)
	}
}

// Duration returns the recurrence period. Monthly is approximated as 30
// days; None returns zero.
func (i Interval) Duration() time.Duration {
	switch i {
	case EveryQuarter:
		return 15 * time.Minute
	case Hourly:
		return time.Hour
	case SixHours:
		return 6 * time.Hour
	case Daily:
		return 24 * time.Hour
	case Weekly:
		return 7 * 24 * time.Hour
	case Monthly:
		return 30 * 24 * time.Hour
	default:
		return 0
	}
}

// Due reports whether a run is due at now given the last run time. An
// unscheduled job is never due; a job that has never run is due
// immediately.
func (i Interval) Due(lastRun time.Time, now time.Time) bool {
	if i == None {
		return false
	}
	if lastRun.IsZero() {
		return true
	}
	return now.Sub(lastRun) >= i.Duration()
}
