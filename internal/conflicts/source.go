// Package conflicts looks up reservations that may clash with a new booking.
package conflicts

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"studiobook/internal/interval"
)

// ErrUnavailable is returned by adapters that cannot answer right now.
var ErrUnavailable = errors.New("conflicts: source unavailable")

// Kind tells bookings and studio events apart.
type Kind string

const (
	KindBooking Kind = "booking"
	KindEvent   Kind = "event"
)

// Reservation is anything occupying a studio for an interval.
type Reservation struct {
	ID       int64             `json:"id"`
	Kind     Kind              `json:"kind"`
	Title    string            `json:"title"`
	Interval interval.Interval `json:"interval"`
}

// Source returns the blocking reservations of a studio that overlap [dayStart, dayEnd).
// Only bookings in a blocking status and blocking events are returned.
type Source interface {
	FindOverlappingReservations(ctx context.Context, studioID int64, dayStart, dayEnd time.Time) ([]Reservation, error)
}

// Memory is an in-process Source.
type Memory struct {
	mu    sync.RWMutex
	items map[int64][]Reservation
}

// NewMemory returns an empty Memory source.
func NewMemory() *Memory {
	return &Memory{items: make(map[int64][]Reservation)}
}

// Add records a reservation for a studio.
func (m *Memory) Add(studioID int64, r Reservation) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[studioID] = append(m.items[studioID], r)
}

// Remove drops a reservation by kind and id.
func (m *Memory) Remove(studioID int64, kind Kind, id int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.items[studioID]
	for i, r := range list {
		if r.Kind == kind && r.ID == id {
			m.items[studioID] = append(list[:i], list[i+1:]...)
			return
		}
	}
}

func (m *Memory) FindOverlappingReservations(ctx context.Context, studioID int64, dayStart, dayEnd time.Time) ([]Reservation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	day := interval.New(dayStart, dayEnd)
	var out []Reservation
	for _, r := range m.items[studioID] {
		if interval.Overlaps(day, r.Interval) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Interval.Start.Before(out[j].Interval.Start)
	})
	return out, nil
}

// Func adapts a function to Source.
type Func func(ctx context.Context, studioID int64, dayStart, dayEnd time.Time) ([]Reservation, error)

func (f Func) FindOverlappingReservations(ctx context.Context, studioID int64, dayStart, dayEnd time.Time) ([]Reservation, error) {
	return f(ctx, studioID, dayStart, dayEnd)
}
