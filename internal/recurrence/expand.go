// Package recurrence expands a repeating booking into concrete calendar dates.
package recurrence

import (
	"errors"
	"fmt"
	"time"

	"github.com/teambition/rrule-go"
)

// MaxOccurrences caps a single expansion.
const MaxOccurrences = 365

var (
	ErrInvalidFrequency = errors.New("recurrence: unknown frequency")
	ErrInvalidInterval  = errors.New("recurrence: interval must be at least 1")
)

// Frequency is the base repetition unit.
type Frequency string

const (
	Daily    Frequency = "daily"
	Weekly   Frequency = "weekly"
	Biweekly Frequency = "biweekly"
	Monthly  Frequency = "monthly"
)

// ParseFrequency accepts the lower-case names used by the API.
func ParseFrequency(s string) (Frequency, error) {
	switch f := Frequency(s); f {
	case Daily, Weekly, Biweekly, Monthly:
		return f, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidFrequency, s)
	}
}

// Pattern describes how often a booking repeats.
type Pattern struct {
	Frequency Frequency `json:"frequency"`
	Interval  int       `json:"interval"`
}

// Validate checks the frequency and interval.
func (p Pattern) Validate() error {
	if _, err := ParseFrequency(string(p.Frequency)); err != nil {
		return err
	}
	if p.Interval < 1 {
		return ErrInvalidInterval
	}
	return nil
}

func (p Pattern) ruleFrequency() (rrule.Frequency, int) {
	switch p.Frequency {
	case Daily:
		return rrule.DAILY, p.Interval
	case Biweekly:
		return rrule.WEEKLY, p.Interval * 2
	case Monthly:
		return rrule.MONTHLY, p.Interval
	default:
		return rrule.WEEKLY, p.Interval
	}
}

// Expansion is the result of Expand.
type Expansion struct {
	Dates     []time.Time `json:"dates"`
	Truncated bool        `json:"truncated"`
}

// Expand lists the dates of the series starting at anchor and ending on or
// before end. The anchor is always the first date, even when end precedes it.
// Monthly series step one calendar month at a time and keep the anchor's day
// of month, falling back to the last day of shorter months.
// At most MaxOccurrences dates are returned; Truncated reports a cut series.
func Expand(anchor time.Time, p Pattern, end time.Time) (Expansion, error) {
	if err := p.Validate(); err != nil {
		return Expansion{}, err
	}

	start := dateOnly(anchor)
	// end is a calendar date; read it in its own zone, not as an instant.
	y, m, d := end.Date()
	until := time.Date(y, m, d, 0, 0, 0, 0, start.Location())
	if until.Before(start) {
		return Expansion{Dates: []time.Time{start}}, nil
	}

	freq, interval := p.ruleFrequency()
	opt := rrule.ROption{
		Freq:     freq,
		Interval: interval,
		Dtstart:  start,
		Until:    until,
		Count:    MaxOccurrences + 1,
	}
	if freq == rrule.MONTHLY && start.Day() > 28 {
		// Last existing day among 28..anchor day: Jan 31 -> Feb 28 -> Mar 31.
		for day := 28; day <= start.Day(); day++ {
			opt.Bymonthday = append(opt.Bymonthday, day)
		}
		opt.Bysetpos = []int{-1}
	}
	r, err := rrule.NewRRule(opt)
	if err != nil {
		return Expansion{}, fmt.Errorf("recurrence: build rule: %w", err)
	}

	dates := r.All()
	if len(dates) > MaxOccurrences {
		return Expansion{Dates: dates[:MaxOccurrences], Truncated: true}, nil
	}
	return Expansion{Dates: dates}, nil
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
