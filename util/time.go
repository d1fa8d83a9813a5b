package util

import "time"

// MsToDuration converts milliseconds to a time.Duration. Negative values are clamped to zero.
func MsToDuration(ms int64) time.Duration {
	if ms <= 0 {
		return 0
	}
	return time.Duration(ms) * time.Millisecond
}

// DurationToMs converts d to whole milliseconds, rounding up so that a
// non-zero duration never becomes a zero timeout.
func DurationToMs(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	return int64((d + time.Millisecond - 1) / time.Millisecond)
}

// NowMs returns the current unix time in milliseconds.
func NowMs() int64 {
	return time.Now().UnixMilli()
}
