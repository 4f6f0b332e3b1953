// Package interval holds the half-open time range used for bookings and events.
package interval

import "time"

// Interval is a time range [Start, End).
type Interval struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// New builds an Interval.
func New(start, end time.Time) Interval {
	return Interval{Start: start, End: end}
}

// Valid reports whether Start is strictly before End.
func (i Interval) Valid() bool {
	return i.Start.Before(i.End)
}

// Duration returns End - Start.
func (i Interval) Duration() time.Duration {
	return i.End.Sub(i.Start)
}

// Overlaps reports whether a and b share any instant.
// Intervals that merely touch (a.End == b.Start) do not overlap.
func Overlaps(a, b Interval) bool {
	return a.Start.Before(b.End) && a.End.After(b.Start)
}

// FirstOverlap returns the index of the first interval in others that overlaps
// candidate, or -1.
func FirstOverlap(candidate Interval, others []Interval) int {
	for i, o := range others {
		if Overlaps(candidate, o) {
			return i
		}
	}
	return -1
}
