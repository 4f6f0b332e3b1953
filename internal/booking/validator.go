// Package booking validates and records studio bookings.
package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"studiobook/internal/conflicts"
	"studiobook/internal/interval"
	"studiobook/internal/recurrence"
	"studiobook/internal/timeparse"
	"studiobook/internal/window"
)

// ErrConflictCheckUnavailable means existing reservations could not be read,
// so the candidate was neither accepted nor rejected.
var ErrConflictCheckUnavailable = errors.New("booking: conflict check unavailable")

const dateLayout = "2006-01-02"

// Field names reported in FieldError.
const (
	FieldStartTime         = "startTime"
	FieldEndTime           = "endTime"
	FieldPurpose           = "purpose"
	FieldRecurrenceEndDate = "recurrenceEndDate"
	FieldRecurrence        = "recurrence"
)

// Reason codes reported in FieldError.
const (
	ReasonBadFormat             = "bad_format"
	ReasonEndBeforeStart        = "end_before_start"
	ReasonDurationTooShort      = "duration_too_short"
	ReasonDurationTooLong       = "duration_too_long"
	ReasonOutsideWindow         = "outside_window"
	ReasonDoubleBooking         = "double_booking"
	ReasonRequired              = "required"
	ReasonRecurrenceEndMissing  = "recurrence_end_missing"
	ReasonRecurrenceEndInvalid  = "recurrence_end_invalid"
	ReasonRecurrenceEndNotAfter = "recurrence_end_not_after"
	ReasonRecurrenceEndTooFar   = "recurrence_end_too_far"
	ReasonRecurrenceInvalid     = "recurrence_invalid"
)

// RecurrenceRequest is the optional repeat section of a candidate.
type RecurrenceRequest struct {
	Frequency string `json:"frequency"`
	Interval  int    `json:"interval"`
	EndDate   string `json:"end_date"`
}

// Candidate is a booking request as typed by the user.
// Date is a calendar day in the studio's location; times are raw input.
type Candidate struct {
	StudioID   int64              `json:"studio_id"`
	Date       time.Time          `json:"date"`
	StartTime  string             `json:"start_time"`
	EndTime    string             `json:"end_time"`
	Purpose    string             `json:"purpose"`
	Recurrence *RecurrenceRequest `json:"recurrence,omitempty"`
}

// Interval combines Date with the parsed start and end times.
// ok is false when either time does not parse or end is not after start.
func (c Candidate) Interval() (span interval.Interval, ok bool) {
	start, okStart := timeparse.Parse(c.StartTime)
	end, okEnd := timeparse.Parse(c.EndTime)
	if !okStart || !okEnd {
		return interval.Interval{}, false
	}
	day := dayOf(c.Date)
	span = interval.New(start.On(day), end.On(day))
	return span, span.Valid()
}

// FieldError is one inline validation message.
type FieldError struct {
	Field   string `json:"field"`
	Reason  string `json:"reason"`
	Message string `json:"message"`
}

// Result holds at most one error per field.
type Result struct {
	Errors []FieldError `json:"errors,omitempty"`
}

// Valid reports whether no field failed.
func (r Result) Valid() bool {
	return len(r.Errors) == 0
}

// Field returns the error recorded for name, if any.
func (r Result) Field(name string) (FieldError, bool) {
	for _, e := range r.Errors {
		if e.Field == name {
			return e, true
		}
	}
	return FieldError{}, false
}

func (r *Result) add(field, reason, message string) {
	if _, ok := r.Field(field); ok {
		return
	}
	r.Errors = append(r.Errors, FieldError{Field: field, Reason: reason, Message: message})
}

// Rules are the duration and recurrence limits.
type Rules struct {
	MinDuration time.Duration
	MaxDuration time.Duration
	// MaxSeriesMonths bounds how far a series end date may lie after its first date.
	MaxSeriesMonths int
}

// DefaultRules returns 30 minutes to 4 hours, series up to one year.
func DefaultRules() Rules {
	return Rules{
		MinDuration:     30 * time.Minute,
		MaxDuration:     240 * time.Minute,
		MaxSeriesMonths: 12,
	}
}

// Validator applies the window policy, duration rules and conflict checks.
type Validator struct {
	policy window.Policy
	rules  Rules
	source conflicts.Source
	logger *zerolog.Logger
}

// NewValidator builds a Validator. source may be nil when only Check is used.
func NewValidator(policy window.Policy, rules Rules, source conflicts.Source, logger *zerolog.Logger) *Validator {
	def := DefaultRules()
	if rules.MinDuration <= 0 {
		rules.MinDuration = def.MinDuration
	}
	if rules.MaxDuration <= 0 {
		rules.MaxDuration = def.MaxDuration
	}
	if rules.MaxSeriesMonths <= 0 {
		rules.MaxSeriesMonths = def.MaxSeriesMonths
	}
	return &Validator{policy: policy, rules: rules, source: source, logger: logger}
}

// Policy returns the window policy in use.
func (v *Validator) Policy() window.Policy {
	return v.policy
}

// parsed is the intermediate state shared by Check and Validate.
type parsed struct {
	span     interval.Interval
	timesOK  bool
	windowOK bool
}

// Check validates c against existing reservations of the same studio and day.
// It performs no I/O.
func (v *Validator) Check(c Candidate, existing []conflicts.Reservation) Result {
	res, p := v.checkLocal(c)
	if p.timesOK && p.windowOK {
		v.checkConflicts(&res, p.span, existing)
	}
	return res
}

// Validate reads the studio's reservations for the candidate's day and runs Check.
// Failure to read them returns ErrConflictCheckUnavailable.
func (v *Validator) Validate(ctx context.Context, c Candidate) (Result, error) {
	return v.validate(ctx, c, nil)
}

// ValidateExcluding is Validate that ignores the booking with the given id,
// used when moving an existing booking.
func (v *Validator) ValidateExcluding(ctx context.Context, c Candidate, bookingID int64) (Result, error) {
	return v.validate(ctx, c, func(r conflicts.Reservation) bool {
		return r.Kind == conflicts.KindBooking && r.ID == bookingID
	})
}

func (v *Validator) validate(ctx context.Context, c Candidate, skip func(conflicts.Reservation) bool) (Result, error) {
	res, p := v.checkLocal(c)
	if !p.timesOK || !p.windowOK {
		return res, nil
	}
	if v.source == nil {
		return Result{}, fmt.Errorf("%w: no conflict source configured", ErrConflictCheckUnavailable)
	}

	dayStart := dayOf(c.Date)
	dayEnd := dayStart.AddDate(0, 0, 1)
	existing, err := v.source.FindOverlappingReservations(ctx, c.StudioID, dayStart, dayEnd)
	if err != nil {
		v.logger.Warn().Err(err).Int64("studio_id", c.StudioID).Str("date", dayStart.Format(dateLayout)).Msg("conflict lookup failed")
		return Result{}, fmt.Errorf("%w: %w", ErrConflictCheckUnavailable, err)
	}

	if skip != nil {
		kept := existing[:0:0]
		for _, r := range existing {
			if !skip(r) {
				kept = append(kept, r)
			}
		}
		existing = kept
	}

	v.checkConflicts(&res, p.span, existing)
	return res, nil
}

// checkLocal runs every rule that needs no stored data.
func (v *Validator) checkLocal(c Candidate) (Result, parsed) {
	var res Result
	var p parsed

	start, startOK := parseField(&res, FieldStartTime, c.StartTime)
	end, endOK := parseField(&res, FieldEndTime, c.EndTime)

	if startOK && endOK {
		day := dayOf(c.Date)
		p.span = interval.New(start.On(day), end.On(day))
		p.timesOK = p.span.Valid()

		d := p.span.Duration()
		switch {
		case !p.span.Valid():
			res.add(FieldEndTime, ReasonEndBeforeStart, "End time must be after start time")
		case d < v.rules.MinDuration:
			res.add(FieldEndTime, ReasonDurationTooShort,
				fmt.Sprintf("Bookings must last at least %d minutes", int(v.rules.MinDuration.Minutes())))
		case d > v.rules.MaxDuration:
			res.add(FieldEndTime, ReasonDurationTooLong,
				fmt.Sprintf("Bookings may last at most %d minutes", int(v.rules.MaxDuration.Minutes())))
		}

		hours, dayType := v.policy.Resolve(day)
		p.windowOK = hours.Allows(start, end)
		if !p.windowOK {
			res.add(FieldStartTime, ReasonOutsideWindow, windowMessage(hours, dayType))
		}
	}

	if strings.TrimSpace(c.Purpose) == "" {
		res.add(FieldPurpose, ReasonRequired, "Please describe the purpose of the booking")
	}

	if c.Recurrence != nil {
		v.checkRecurrence(&res, c)
	}

	return res, p
}

func (v *Validator) checkRecurrence(res *Result, c Candidate) {
	rr := c.Recurrence
	freq, err := recurrence.ParseFrequency(rr.Frequency)
	if err == nil {
		err = recurrence.Pattern{Frequency: freq, Interval: rr.Interval}.Validate()
	}
	if err != nil {
		res.add(FieldRecurrence, ReasonRecurrenceInvalid, "Choose daily, weekly, biweekly or monthly with an interval of at least 1")
	}

	raw := strings.TrimSpace(rr.EndDate)
	if raw == "" {
		res.add(FieldRecurrenceEndDate, ReasonRecurrenceEndMissing, "Please choose when the series ends")
		return
	}
	day := dayOf(c.Date)
	endDate, err := time.ParseInLocation(dateLayout, raw, day.Location())
	if err != nil {
		res.add(FieldRecurrenceEndDate, ReasonRecurrenceEndInvalid, "End date must be a date in YYYY-MM-DD format")
		return
	}
	if !endDate.After(day) {
		res.add(FieldRecurrenceEndDate, ReasonRecurrenceEndNotAfter, "The series must end after the first booking")
		return
	}
	if endDate.After(day.AddDate(0, v.rules.MaxSeriesMonths, 0)) {
		res.add(FieldRecurrenceEndDate, ReasonRecurrenceEndTooFar,
			fmt.Sprintf("A series can run for at most %d months", v.rules.MaxSeriesMonths))
	}
}

func (v *Validator) checkConflicts(res *Result, span interval.Interval, existing []conflicts.Reservation) {
	for _, r := range existing {
		if !interval.Overlaps(span, r.Interval) {
			continue
		}
		msg := fmt.Sprintf("The studio is already booked from %s to %s",
			r.Interval.Start.Format("15:04"), r.Interval.End.Format("15:04"))
		if r.Kind == conflicts.KindEvent && r.Title != "" {
			msg = fmt.Sprintf("The studio is reserved for %q from %s to %s",
				r.Title, r.Interval.Start.Format("15:04"), r.Interval.End.Format("15:04"))
		}
		res.add(FieldStartTime, ReasonDoubleBooking, msg)
		return
	}
}

func parseField(res *Result, field, raw string) (timeparse.TimeOfDay, bool) {
	if strings.TrimSpace(raw) == "" {
		res.add(field, ReasonRequired, "Please enter a time")
		return timeparse.TimeOfDay{}, false
	}
	t, ok := timeparse.Parse(raw)
	if !ok {
		res.add(field, ReasonBadFormat, "Use a time like 17:00 or 5pm")
		return timeparse.TimeOfDay{}, false
	}
	return t, true
}

func windowMessage(h window.Hours, dt window.DayType) string {
	if dt == window.Weekend {
		return fmt.Sprintf("On weekends the studio can be booked between %02d:00 and %02d:00", h.StartHour, h.EndHour)
	}
	return fmt.Sprintf("On weekdays the studio can be booked between %02d:00 and %02d:00", h.StartHour, h.EndHour)
}

func dayOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
