// Package window decides which hours of a calendar day are open for booking.
package window

import (
	"fmt"
	"time"

	"studiobook/internal/timeparse"
)

// DayType distinguishes weekday and weekend rules.
type DayType string

const (
	Weekday DayType = "weekday"
	Weekend DayType = "weekend"
)

// Hours is a half-open booking window [StartHour:00, EndHour:00).
type Hours struct {
	StartHour int `yaml:"start_hour" json:"start_hour"`
	EndHour   int `yaml:"end_hour" json:"end_hour"`
}

// Validate checks 0 <= start < end <= 24.
func (h Hours) Validate() error {
	if h.StartHour < 0 || h.StartHour > 23 {
		return fmt.Errorf("start_hour %d out of range 0-23", h.StartHour)
	}
	if h.EndHour < 1 || h.EndHour > 24 {
		return fmt.Errorf("end_hour %d out of range 1-24", h.EndHour)
	}
	if h.StartHour >= h.EndHour {
		return fmt.Errorf("start_hour %d must be before end_hour %d", h.StartHour, h.EndHour)
	}
	return nil
}

// String renders the window as "16:00–22:00".
func (h Hours) String() string {
	return fmt.Sprintf("%02d:00–%02d:00", h.StartHour, h.EndHour)
}

// Policy holds independent weekday and weekend windows.
type Policy struct {
	Weekday Hours `yaml:"weekday" json:"weekday"`
	Weekend Hours `yaml:"weekend" json:"weekend"`
}

// DefaultPolicy returns the studio's standard windows: weekdays 16–22, weekends 8–22.
func DefaultPolicy() Policy {
	return Policy{
		Weekday: Hours{StartHour: 16, EndHour: 22},
		Weekend: Hours{StartHour: 8, EndHour: 22},
	}
}

// Validate checks both windows.
func (p Policy) Validate() error {
	if err := p.Weekday.Validate(); err != nil {
		return fmt.Errorf("weekday window: %w", err)
	}
	if err := p.Weekend.Validate(); err != nil {
		return fmt.Errorf("weekend window: %w", err)
	}
	return nil
}

// Classify reports whether date falls on a weekend.
func Classify(date time.Time) DayType {
	switch date.Weekday() {
	case time.Saturday, time.Sunday:
		return Weekend
	default:
		return Weekday
	}
}

// Resolve returns the window for the calendar day of date.
// Only the day of week matters; holidays are not consulted.
func (p Policy) Resolve(date time.Time) (Hours, DayType) {
	dt := Classify(date)
	if dt == Weekend {
		return p.Weekend, dt
	}
	return p.Weekday, dt
}

// Allows reports whether [start, end) fits the window of date.
// The start hour must lie within [StartHour, EndHour) and the end may reach
// EndHour:00 but not go past it.
func (p Policy) Allows(date time.Time, start, end timeparse.TimeOfDay) bool {
	h, _ := p.Resolve(date)
	return h.Allows(start, end)
}

// Allows applies the window check to a pair of times.
func (h Hours) Allows(start, end timeparse.TimeOfDay) bool {
	if start.Hour < h.StartHour || start.Hour >= h.EndHour {
		return false
	}
	return end.Hour < h.EndHour || (end.Hour == h.EndHour && end.Minute == 0)
}
