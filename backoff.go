package dispatch

import "time"

// RetrySchedule maps the number of failed attempts so far to the delay
// before the next attempt becomes eligible. Attempt 1 uses the first entry,
// attempt 2 the second and so on; attempts beyond the schedule reuse the
// last entry
type RetrySchedule []time.Duration

// DefaultRetrySchedule spaces retries out at 15 minutes, 1 hour and 6 hours
func DefaultRetrySchedule() RetrySchedule {
	return RetrySchedule{
		15 * time.Minute,
		time.Hour,
		6 * time.Hour,
	}
}

// Delay returns the delay to apply after the given failed attempt (1-based)
func (s RetrySchedule) Delay(attempt int) time.Duration {
	if len(s) == 0 {
		return 0
	}

	if attempt < 1 {
		attempt = 1
	}

	if attempt > len(s) {
		attempt = len(s)
	}

	return s[attempt-1]
}

// NextAttemptAt returns the point in time at which the event becomes
// eligible for dispatch again
func (s RetrySchedule) NextAttemptAt(now time.Time, attempt int) time.Time {
	return now.Add(s.Delay(attempt)).UTC()
}
