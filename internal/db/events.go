package db

import (
	"context"
	"fmt"
	"time"

	"studiobook/internal/booking"
)

// CreateStudioEvent stores an admin event.
func (db *DB) CreateStudioEvent(ctx context.Context, ev *booking.StudioEvent) error {
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}
	res, err := db.ExecContext(ctx, `
		INSERT INTO studio_events (studio_id, title, start_at, end_at, blocking, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		ev.StudioID, ev.Title, ev.StartTime.Unix(), ev.EndTime.Unix(), ev.Blocking, ev.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert studio event: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	ev.ID = id
	return nil
}

// ListStudioEvents returns events of a studio overlapping [from, to).
func (db *DB) ListStudioEvents(ctx context.Context, studioID int64, from, to time.Time) ([]booking.StudioEvent, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, studio_id, title, start_at, end_at, blocking, created_at
		FROM studio_events
		WHERE studio_id = ? AND start_at < ? AND end_at > ?
		ORDER BY start_at`,
		studioID, to.Unix(), from.Unix(),
	)
	if err != nil {
		return nil, fmt.Errorf("list studio events: %w", err)
	}
	defer rows.Close()

	var out []booking.StudioEvent
	for rows.Next() {
		var (
			ev                  booking.StudioEvent
			start, end, created int64
		)
		if err := rows.Scan(&ev.ID, &ev.StudioID, &ev.Title, &start, &end, &ev.Blocking, &created); err != nil {
			return nil, err
		}
		ev.StartTime = db.fromUnix(start)
		ev.EndTime = db.fromUnix(end)
		ev.CreatedAt = db.fromUnix(created)
		out = append(out, ev)
	}
	return out, rows.Err()
}
