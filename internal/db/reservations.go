package db

import (
	"context"
	"fmt"
	"time"

	"studiobook/internal/booking"
	"studiobook/internal/conflicts"
	"studiobook/internal/interval"
)

// FindOverlappingReservations returns pending or approved bookings and
// blocking events of a studio that overlap [dayStart, dayEnd).
func (db *DB) FindOverlappingReservations(ctx context.Context, studioID int64, dayStart, dayEnd time.Time) ([]conflicts.Reservation, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, ?, purpose, start_at, end_at FROM bookings
			WHERE studio_id = ? AND status IN (?, ?) AND start_at < ? AND end_at > ?
		UNION ALL
		SELECT id, ?, title, start_at, end_at FROM studio_events
			WHERE studio_id = ? AND blocking = 1 AND start_at < ? AND end_at > ?
		ORDER BY 4`,
		string(conflicts.KindBooking), studioID, string(booking.StatusPending), string(booking.StatusApproved), dayEnd.Unix(), dayStart.Unix(),
		string(conflicts.KindEvent), studioID, dayEnd.Unix(), dayStart.Unix(),
	)
	if err != nil {
		return nil, fmt.Errorf("find reservations: %w", err)
	}
	defer rows.Close()

	var out []conflicts.Reservation
	for rows.Next() {
		var (
			r          conflicts.Reservation
			kind       string
			start, end int64
		)
		if err := rows.Scan(&r.ID, &kind, &r.Title, &start, &end); err != nil {
			return nil, err
		}
		r.Kind = conflicts.Kind(kind)
		r.Interval = interval.New(db.fromUnix(start), db.fromUnix(end))
		out = append(out, r)
	}
	return out, rows.Err()
}
