package booking

import (
	"errors"
	"time"

	"studiobook/internal/interval"
)

// Status is the lifecycle state of a booking.
type Status string

const (
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
	StatusCancelled Status = "cancelled"
)

// Blocking reports whether a booking in this status occupies its studio.
func (s Status) Blocking() bool {
	return s == StatusPending || s == StatusApproved
}

var transitions = map[Status][]Status{
	StatusPending:  {StatusApproved, StatusRejected, StatusCancelled},
	StatusApproved: {StatusCancelled},
}

// CanTransition reports whether from -> to is allowed.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Booking is a persisted reservation of a studio.
type Booking struct {
	ID               int64     `json:"id"`
	StudioID         int64     `json:"studio_id"`
	StudioName       string    `json:"studio_name,omitempty"`
	UserID           int64     `json:"user_id"`
	Purpose          string    `json:"purpose"`
	StartTime        time.Time `json:"start_time"`
	EndTime          time.Time `json:"end_time"`
	Status           Status    `json:"status"`
	RecurringGroupID string    `json:"recurring_group_id,omitempty"`
	Comment          string    `json:"comment,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Interval returns the booked time range.
func (b *Booking) Interval() interval.Interval {
	return interval.New(b.StartTime, b.EndTime)
}

// Filter narrows ListBookings.
type Filter struct {
	StudioID int64
	UserID   int64
	Status   Status
	From     time.Time
	To       time.Time
	Limit    int
	Offset   int
}

// ErrInvalidEvent is returned for malformed studio events.
var ErrInvalidEvent = errors.New("booking: invalid studio event")

// Studio is a bookable rehearsal room.
type Studio struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Capacity    int    `json:"capacity,omitempty"`
	IsActive    bool   `json:"is_active"`
}

// StudioEvent is an admin-published occupation of a studio, such as a
// workshop or a show. Only blocking events take part in conflict checks.
type StudioEvent struct {
	ID        int64     `json:"id"`
	StudioID  int64     `json:"studio_id"`
	Title     string    `json:"title"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	Blocking  bool      `json:"blocking"`
	CreatedAt time.Time `json:"created_at"`
}
