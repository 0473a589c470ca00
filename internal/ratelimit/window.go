package ratelimit

import "time"

// WindowStart returns the fixed window boundary at or before now, aligned to
// a multiple of window since the Unix epoch.
func WindowStart(window time.Duration, now time.Time) time.Time {
	windowMs := window.Milliseconds()
	if windowMs <= 0 {
		return now
	}

	nowMs := now.UnixMilli()
	startMs := nowMs - nowMs%windowMs

	// Pre-epoch instants round toward zero with %, floor them instead.
	if nowMs < 0 && nowMs%windowMs != 0 {
		startMs -= windowMs
	}

	return time.UnixMilli(startMs).UTC()
}

// NextReset returns the instant the window starting at start ends.
func NextReset(start time.Time, window time.Duration) time.Time {
	return start.Add(window)
}

// SecondsUntil returns the whole seconds from now until reset, rounded up.
// A clock that has drifted past reset yields zero or a negative value.
func SecondsUntil(reset, now time.Time) int64 {
	ms := reset.Sub(now).Milliseconds()
	if ms <= 0 {
		return ms / 1000
	}

	return (ms + 999) / 1000
}
