// Package timeparse normalizes free-form time input ("5pm", "17:00", "17,00")
// into canonical 24-hour times.
package timeparse

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// TimeOfDay is a validated hour/minute pair. Values are only produced by Parse.
type TimeOfDay struct {
	Hour   int
	Minute int
}

var (
	meridiemRe = regexp.MustCompile(`^(\d{1,2})(?:[:.,;](\d{2}))?\s*(am|pm)$`)
	clockRe    = regexp.MustCompile(`^(\d{1,2})[:.,;](\d{2})$`)
	bareHourRe = regexp.MustCompile(`^(\d{1,2})$`)
)

// Parse converts raw user input into a TimeOfDay.
// Grammars are tried in order (12-hour with am/pm, 24-hour with separator, bare hour)
// and the first matching grammar decides the outcome. ok is false for anything
// unparseable or out of range.
func Parse(raw string) (TimeOfDay, bool) {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return TimeOfDay{}, false
	}

	if m := meridiemRe.FindStringSubmatch(s); m != nil {
		return parseMeridiem(m[1], m[2], m[3])
	}
	if m := clockRe.FindStringSubmatch(s); m != nil {
		return build(m[1], m[2])
	}
	if m := bareHourRe.FindStringSubmatch(s); m != nil {
		return build(m[1], "")
	}
	return TimeOfDay{}, false
}

// Normalize parses raw and renders it back as HH:MM.
func Normalize(raw string) (string, bool) {
	t, ok := Parse(raw)
	if !ok {
		return "", false
	}
	return t.String(), true
}

func parseMeridiem(hourStr, minuteStr, meridiem string) (TimeOfDay, bool) {
	hour, err := strconv.Atoi(hourStr)
	if err != nil || hour < 1 || hour > 12 {
		return TimeOfDay{}, false
	}
	minute := 0
	if minuteStr != "" {
		minute, err = strconv.Atoi(minuteStr)
		if err != nil || minute > 59 {
			return TimeOfDay{}, false
		}
	}

	switch {
	case meridiem == "pm" && hour != 12:
		hour += 12
	case meridiem == "am" && hour == 12:
		hour = 0
	}
	return TimeOfDay{Hour: hour, Minute: minute}, true
}

func build(hourStr, minuteStr string) (TimeOfDay, bool) {
	hour, err := strconv.Atoi(hourStr)
	if err != nil || hour > 23 {
		return TimeOfDay{}, false
	}
	minute := 0
	if minuteStr != "" {
		minute, err = strconv.Atoi(minuteStr)
		if err != nil || minute > 59 {
			return TimeOfDay{}, false
		}
	}
	return TimeOfDay{Hour: hour, Minute: minute}, true
}

// String renders the time as zero-padded HH:MM.
func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// Minutes returns minutes since midnight.
func (t TimeOfDay) Minutes() int {
	return t.Hour*60 + t.Minute
}

// On places the time on the calendar day of date, in date's location.
func (t TimeOfDay) On(date time.Time) time.Time {
	return time.Date(date.Year(), date.Month(), date.Day(), t.Hour, t.Minute, 0, 0, date.Location())
}
