package types

import (
	"fmt"
	"time"
)

// Resolution is a named bucket width for bucketed statistics.
type Resolution int

const (
	// ResolutionMinute buckets by 1 minute.
	ResolutionMinute Resolution = iota

	// Resolution5Min buckets by 5 minutes.
	Resolution5Min

	// ResolutionHourly buckets by 1 hour.
	ResolutionHourly

	// ResolutionDaily buckets by 1 UTC day.
	ResolutionDaily
)

// String returns the string representation of the resolution.
func (r Resolution) String() string {
	switch r {
	case ResolutionMinute:
		return "1min"
	case Resolution5Min:
		return "5min"
	case ResolutionHourly:
		return "hourly"
	case ResolutionDaily:
		return "daily"
	default:
		return fmt.Sprintf("unknown(%d)", r)
	}
}

// Duration returns the bucket duration for this resolution.
func (r Resolution) Duration() time.Duration {
	switch r {
	case ResolutionMinute:
		return time.Minute
	case Resolution5Min:
		return 5 * time.Minute
	case ResolutionHourly:
		return time.Hour
	case ResolutionDaily:
		return 24 * time.Hour
	default:
		return 0
	}
}

// TruncateToBucket truncates a timestamp to the start of its bucket.
func (r Resolution) TruncateToBucket(ts time.Time) time.Time {
	return TruncateToWidth(ts, r.Duration())
}

// TruncateToWidth truncates ts to a multiple of width since the Unix epoch, in UTC.
// A non-positive width returns ts unchanged.
func TruncateToWidth(ts time.Time, width time.Duration) time.Time {
	if width <= 0 {
		return ts
	}
	ns, w := ts.UnixNano(), int64(width)
	r := ns % w
	if r < 0 {
		r += w
	}
	return time.Unix(0, ns-r).UTC()
}

// ParseResolution parses a string into a Resolution.
func ParseResolution(s string) (Resolution, error) {
	switch s {
	case "1min", "minute":
		return ResolutionMinute, nil
	case "5min":
		return Resolution5Min, nil
	case "hourly":
		return ResolutionHourly, nil
	case "daily":
		return ResolutionDaily, nil
	default:
		return ResolutionMinute, fmt.Errorf("unknown resolution: %s", s)
	}
}

// SelectResolutionForRange picks a resolution that keeps the bucket count
// for the given time span reasonable (a few dozen to a few hundred).
func SelectResolutionForRange(start, end time.Time) Resolution {
	span := end.Sub(start)
	switch {
	case span <= 2*time.Hour:
		return ResolutionMinute
	case span <= 24*time.Hour:
		return Resolution5Min
	case span <= 14*24*time.Hour:
		return ResolutionHourly
	default:
		return ResolutionDaily
	}
}
