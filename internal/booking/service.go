package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"studiobook/internal/interval"
	"studiobook/internal/metrics"
	"studiobook/internal/recurrence"
	"studiobook/internal/timeparse"
)

var (
	ErrNotFound          = errors.New("booking: not found")
	ErrUnknownStudio     = errors.New("booking: unknown studio")
	ErrSlotTaken         = errors.New("booking: slot already taken")
	ErrInvalidTransition = errors.New("booking: status transition not allowed")
)

// Event types published on the bus.
const (
	EventBookingCreated  = "booking.created"
	EventSeriesCreated   = "series.created"
	EventBookingMoved    = "booking.rescheduled"
	EventStatusChanged   = "booking.status_changed"
	EventStudioEventMade = "studio_event.created"
)

// SeriesMode decides what happens when some occurrences of a series fail.
type SeriesMode string

const (
	// SeriesPartial books every free occurrence and reports the rest.
	SeriesPartial SeriesMode = "partial"
	// SeriesAllOrNothing books nothing unless every occurrence is free.
	SeriesAllOrNothing SeriesMode = "all_or_nothing"
)

// Repository persists bookings. CreateBookingIfFree and CreateSeriesIfFree
// re-check overlaps inside their write transaction and return ErrSlotTaken.
type Repository interface {
	GetStudio(ctx context.Context, id int64) (*Studio, error)
	ListStudios(ctx context.Context) ([]Studio, error)
	GetBooking(ctx context.Context, id int64) (*Booking, error)
	ListBookings(ctx context.Context, filter Filter) ([]Booking, error)
	CreateBookingIfFree(ctx context.Context, b *Booking) error
	CreateSeriesIfFree(ctx context.Context, bs []*Booking) error
	RescheduleBookingIfFree(ctx context.Context, id int64, start, end time.Time) error
	UpdateBookingStatus(ctx context.Context, id int64, status Status, comment string) error
	CreateStudioEvent(ctx context.Context, ev *StudioEvent) error
}

// EventPublisher emits domain events.
type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}

// Notifier tells studio admins about new and changed bookings.
type Notifier interface {
	NotifyAdmins(ctx context.Context, text string) error
}

// CacheInvalidator drops cached conflict lookups of a studio.
type CacheInvalidator interface {
	Invalidate(ctx context.Context, studioID int64)
}

// ServiceConfig holds service tunables.
type ServiceConfig struct {
	ConflictTimeout time.Duration
	SeriesMode      SeriesMode
	NotifyTimeout   time.Duration
}

// RejectedOccurrence is a series date that could not be booked.
type RejectedOccurrence struct {
	Date   string       `json:"date"`
	Errors []FieldError `json:"errors"`
}

// SubmitResult reports what a submission created.
type SubmitResult struct {
	Result           Result               `json:"result"`
	Created          []Booking            `json:"created"`
	Rejected         []RejectedOccurrence `json:"rejected,omitempty"`
	Truncated        bool                 `json:"truncated"`
	RecurringGroupID string               `json:"recurring_group_id,omitempty"`
}

// Service ties validation, recurrence and storage together.
type Service struct {
	repo      Repository
	validator *Validator
	bus       EventPublisher
	notifier  Notifier
	cache     CacheInvalidator
	cfg       ServiceConfig
	logger    *zerolog.Logger
	now       func() time.Time

	notifying sync.WaitGroup
}

// NewService constructs a booking service.
func NewService(repo Repository, validator *Validator, bus EventPublisher, notifier Notifier, cfg ServiceConfig, logger *zerolog.Logger) *Service {
	if cfg.ConflictTimeout <= 0 {
		cfg.ConflictTimeout = 20 * time.Second
	}
	if cfg.SeriesMode == "" {
		cfg.SeriesMode = SeriesPartial
	}
	if cfg.NotifyTimeout <= 0 {
		cfg.NotifyTimeout = 30 * time.Second
	}
	return &Service{
		repo:      repo,
		validator: validator,
		bus:       bus,
		notifier:  notifier,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}
}

// UseCacheInvalidator registers the cache to clear after writes.
func (s *Service) UseCacheInvalidator(c CacheInvalidator) {
	s.cache = c
}

// ParseTime parses a user-typed time of day.
func (s *Service) ParseTime(raw string) (timeparse.TimeOfDay, bool) {
	return timeparse.Parse(raw)
}

// ExpandRecurrence lists the dates of a series.
func (s *Service) ExpandRecurrence(anchor time.Time, p recurrence.Pattern, end time.Time) (recurrence.Expansion, error) {
	return recurrence.Expand(anchor, p, end)
}

// ValidateBooking validates a single candidate against stored reservations.
func (s *Service) ValidateBooking(ctx context.Context, c Candidate) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ConflictTimeout)
	defer cancel()

	res, err := s.validator.Validate(ctx, c)
	s.record(res, err)
	return res, err
}

// Submit validates and stores a booking or a series of bookings.
// A returned error means nothing could be decided; validation failures are
// reported in the result.
func (s *Service) Submit(ctx context.Context, userID int64, c Candidate) (*SubmitResult, error) {
	if _, err := s.repo.GetStudio(ctx, c.StudioID); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.ConflictTimeout)
	defer cancel()

	out := &SubmitResult{}
	local := s.validator.Check(c, nil)
	if !local.Valid() {
		s.record(local, nil)
		out.Result = local
		return out, nil
	}

	dates := []time.Time{dayOf(c.Date)}
	if c.Recurrence != nil {
		exp, err := s.expandCandidate(c)
		if err != nil {
			return nil, err
		}
		dates = exp.Dates
		out.Truncated = exp.Truncated
		out.RecurringGroupID = uuid.NewString()
		if exp.Truncated {
			metrics.IncSeriesTruncated()
		}
	}

	span, _ := c.Interval()
	var free []*Booking
	for _, d := range dates {
		occ := c
		occ.Date = d
		occ.Recurrence = nil

		res, err := s.validator.Validate(ctx, occ)
		s.record(res, err)
		if err != nil {
			return nil, err
		}
		if !res.Valid() {
			if c.Recurrence == nil {
				out.Result = res
				return out, nil
			}
			out.Rejected = append(out.Rejected, RejectedOccurrence{Date: d.Format(dateLayout), Errors: res.Errors})
			continue
		}
		free = append(free, s.newBooking(userID, c, d, span, out.RecurringGroupID))
	}

	if c.Recurrence != nil && s.cfg.SeriesMode == SeriesAllOrNothing {
		if len(out.Rejected) > 0 {
			metrics.AddOccurrencesRejected(len(out.Rejected))
			return out, nil
		}
		if err := s.repo.CreateSeriesIfFree(ctx, free); err != nil {
			if errors.Is(err, ErrSlotTaken) {
				out.Rejected = append(out.Rejected, RejectedOccurrence{
					Errors: []FieldError{{Field: FieldStartTime, Reason: ReasonDoubleBooking, Message: "Another booking took one of these slots"}},
				})
				return out, nil
			}
			return nil, fmt.Errorf("create series: %w", err)
		}
		for _, b := range free {
			out.Created = append(out.Created, *b)
		}
	} else {
		for _, b := range free {
			if err := s.repo.CreateBookingIfFree(ctx, b); err != nil {
				if errors.Is(err, ErrSlotTaken) {
					out.Rejected = append(out.Rejected, RejectedOccurrence{
						Date:   b.StartTime.Format(dateLayout),
						Errors: []FieldError{{Field: FieldStartTime, Reason: ReasonDoubleBooking, Message: "Another booking took this slot"}},
					})
					continue
				}
				s.afterCreate(ctx, c, out)
				return out, fmt.Errorf("create booking: %w", err)
			}
			out.Created = append(out.Created, *b)
		}
	}

	if c.Recurrence == nil && len(out.Created) == 0 && len(out.Rejected) > 0 {
		out.Result = Result{Errors: out.Rejected[0].Errors}
		out.Rejected = nil
	}

	s.afterCreate(ctx, c, out)
	return out, nil
}

func (s *Service) expandCandidate(c Candidate) (recurrence.Expansion, error) {
	day := dayOf(c.Date)
	end, err := time.ParseInLocation(dateLayout, strings.TrimSpace(c.Recurrence.EndDate), day.Location())
	if err != nil {
		return recurrence.Expansion{}, fmt.Errorf("parse recurrence end: %w", err)
	}
	p := recurrence.Pattern{Frequency: recurrence.Frequency(c.Recurrence.Frequency), Interval: c.Recurrence.Interval}
	return recurrence.Expand(day, p, end)
}

func (s *Service) newBooking(userID int64, c Candidate, day time.Time, span interval.Interval, group string) *Booking {
	start := time.Date(day.Year(), day.Month(), day.Day(), span.Start.Hour(), span.Start.Minute(), 0, 0, day.Location())
	end := start.Add(span.Duration())
	now := s.now()
	return &Booking{
		StudioID:         c.StudioID,
		UserID:           userID,
		Purpose:          strings.TrimSpace(c.Purpose),
		StartTime:        start,
		EndTime:          end,
		Status:           StatusPending,
		RecurringGroupID: group,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

func (s *Service) afterCreate(ctx context.Context, c Candidate, out *SubmitResult) {
	if len(out.Rejected) > 0 {
		metrics.AddOccurrencesRejected(len(out.Rejected))
	}
	if len(out.Created) == 0 {
		return
	}
	s.invalidate(ctx, c.StudioID)

	kind := "single"
	eventType := EventBookingCreated
	if out.RecurringGroupID != "" {
		kind = "series"
		eventType = EventSeriesCreated
	}
	metrics.AddBookingsCreated(kind, len(out.Created))
	s.publish(eventType, out)

	first := out.Created[0]
	msg := fmt.Sprintf("New booking request #%d\nStudio %d, %s %s–%s\nPurpose: %s",
		first.ID, first.StudioID,
		first.StartTime.Format("02.01.2006"), first.StartTime.Format("15:04"), first.EndTime.Format("15:04"),
		first.Purpose)
	if len(out.Created) > 1 {
		msg += fmt.Sprintf("\nSeries: %d occurrences booked, %d rejected", len(out.Created), len(out.Rejected))
	}
	if out.Truncated {
		msg += "\nSeries was cut at the occurrence limit"
	}
	s.notify(msg)

	s.logger.Info().
		Int64("studio_id", c.StudioID).
		Int("created", len(out.Created)).
		Int("rejected", len(out.Rejected)).
		Bool("truncated", out.Truncated).
		Msg("booking submitted")
}

// Reschedule moves an existing booking to the times in c. The booking itself
// is not counted as a conflict.
func (s *Service) Reschedule(ctx context.Context, bookingID int64, c Candidate) (*Booking, Result, error) {
	b, err := s.repo.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, Result{}, err
	}
	if !b.Status.Blocking() {
		return nil, Result{}, fmt.Errorf("%w: cannot move a %s booking", ErrInvalidTransition, b.Status)
	}

	c.StudioID = b.StudioID
	c.Recurrence = nil
	if strings.TrimSpace(c.Purpose) == "" {
		c.Purpose = b.Purpose
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.ConflictTimeout)
	defer cancel()

	res, err := s.validator.ValidateExcluding(ctx, c, bookingID)
	s.record(res, err)
	if err != nil {
		return nil, Result{}, err
	}
	if !res.Valid() {
		return nil, res, nil
	}

	span, _ := c.Interval()
	if err := s.repo.RescheduleBookingIfFree(ctx, bookingID, span.Start, span.End); err != nil {
		if errors.Is(err, ErrSlotTaken) {
			res.add(FieldStartTime, ReasonDoubleBooking, "Another booking took this slot")
			return nil, res, nil
		}
		return nil, Result{}, fmt.Errorf("reschedule booking: %w", err)
	}

	b.StartTime, b.EndTime = span.Start, span.End
	b.UpdatedAt = s.now()
	s.invalidate(ctx, b.StudioID)
	s.publish(EventBookingMoved, b)
	s.notify(fmt.Sprintf("Booking #%d moved to %s %s–%s",
		b.ID, b.StartTime.Format("02.01.2006"), b.StartTime.Format("15:04"), b.EndTime.Format("15:04")))
	return b, res, nil
}

// UpdateStatus approves, rejects or cancels a booking.
func (s *Service) UpdateStatus(ctx context.Context, bookingID int64, status Status, comment string) (*Booking, error) {
	b, err := s.repo.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if !CanTransition(b.Status, status) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, b.Status, status)
	}
	if err := s.repo.UpdateBookingStatus(ctx, bookingID, status, comment); err != nil {
		return nil, fmt.Errorf("update status: %w", err)
	}

	b.Status = status
	b.Comment = comment
	b.UpdatedAt = s.now()

	metrics.IncStatusChange(string(status))
	s.invalidate(ctx, b.StudioID)
	s.publish(EventStatusChanged, b)
	s.notify(fmt.Sprintf("Booking #%d is now %s", b.ID, status))
	return b, nil
}

// GetBooking returns a booking by id.
func (s *Service) GetBooking(ctx context.Context, id int64) (*Booking, error) {
	return s.repo.GetBooking(ctx, id)
}

// ListBookings returns bookings matching filter.
func (s *Service) ListBookings(ctx context.Context, filter Filter) ([]Booking, error) {
	if filter.Limit <= 0 {
		filter.Limit = 100
	}
	return s.repo.ListBookings(ctx, filter)
}

// ListStudios returns the bookable studios.
func (s *Service) ListStudios(ctx context.Context) ([]Studio, error) {
	return s.repo.ListStudios(ctx)
}

// AddStudioEvent records an admin event in a studio. Blocking events make the
// studio unavailable for their duration.
func (s *Service) AddStudioEvent(ctx context.Context, ev *StudioEvent) error {
	if ev.Title = strings.TrimSpace(ev.Title); ev.Title == "" {
		return fmt.Errorf("%w: title is required", ErrInvalidEvent)
	}
	if !interval.New(ev.StartTime, ev.EndTime).Valid() {
		return fmt.Errorf("%w: end must be after start", ErrInvalidEvent)
	}
	if _, err := s.repo.GetStudio(ctx, ev.StudioID); err != nil {
		return err
	}
	if err := s.repo.CreateStudioEvent(ctx, ev); err != nil {
		return fmt.Errorf("create studio event: %w", err)
	}
	s.invalidate(ctx, ev.StudioID)
	s.publish(EventStudioEventMade, ev)
	return nil
}

func (s *Service) record(res Result, err error) {
	switch {
	case err != nil:
		metrics.IncValidation("unavailable")
		metrics.IncConflictCheckFailure()
	case res.Valid():
		metrics.IncValidation("valid")
	default:
		metrics.IncValidation("invalid")
		for _, e := range res.Errors {
			metrics.IncValidationError(e.Field, e.Reason)
		}
	}
}

func (s *Service) invalidate(ctx context.Context, studioID int64) {
	if s.cache != nil {
		s.cache.Invalidate(ctx, studioID)
	}
}

func (s *Service) publish(eventType string, payload interface{}) {
	if s.bus == nil {
		return
	}
	if err := s.bus.PublishJSON(eventType, payload); err != nil {
		s.logger.Warn().Err(err).Str("event", eventType).Msg("publish event failed")
	}
}

// notify sends in the background; the booking is already stored and a slow
// messenger must not hold up the caller.
func (s *Service) notify(text string) {
	if s.notifier == nil {
		return
	}
	s.notifying.Add(1)
	go func() {
		defer s.notifying.Done()
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.NotifyTimeout)
		defer cancel()
		if err := s.notifier.NotifyAdmins(ctx, text); err != nil {
			s.logger.Warn().Err(err).Msg("admin notification failed")
		}
	}()
}

// Wait blocks until background admin notifications have finished.
func (s *Service) Wait() {
	s.notifying.Wait()
}
