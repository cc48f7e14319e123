// Package format renders engine readings for display and parses duration
// fields entered by users.
package format

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrInvalidField is returned by ParseHMS when a field is out of range.
var ErrInvalidField = errors.New("invalid time field")

// Field limits for ParseHMS.
const (
	MaxHours   = 99
	MaxMinutes = 59
	MaxSeconds = 59
)

// Stopwatch renders d as HH:MM:SS.t with tenths truncated. Hours are not
// capped. Negative durations render as zero.
func Stopwatch(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	tenths := int64(d / (100 * time.Millisecond))
	total := tenths / 10
	return fmt.Sprintf("%02d:%02d:%02d.%d", total/3600, (total/60)%60, total%60, tenths%10)
}

// Countdown renders d as HH:MM:SS rounded to the nearest second, halves to
// even. 1.5s shows as 00:00:02 and 2.5s as 00:00:02.
func Countdown(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int64(math.RoundToEven(d.Seconds()))
	return fmt.Sprintf("%02d:%02d:%02d", total/3600, (total/60)%60, total%60)
}

// ParseHMS builds a duration from hour, minute and second fields.
func ParseHMS(h, m, s int) (time.Duration, error) {
	switch {
	case h < 0 || h > MaxHours:
		return 0, fmt.Errorf("%w: hours must be between 0 and %d, got %d", ErrInvalidField, MaxHours, h)
	case m < 0 || m > MaxMinutes:
		return 0, fmt.Errorf("%w: minutes must be between 0 and %d, got %d", ErrInvalidField, MaxMinutes, m)
	case s < 0 || s > MaxSeconds:
		return 0, fmt.Errorf("%w: seconds must be between 0 and %d, got %d", ErrInvalidField, MaxSeconds, s)
	}
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute + time.Duration(s)*time.Second, nil
}
