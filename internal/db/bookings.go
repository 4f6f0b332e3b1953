package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"studiobook/internal/booking"
)

const bookingColumns = `b.id, b.studio_id, COALESCE(s.name, ''), b.user_id, b.purpose, b.start_at, b.end_at,
	b.status, COALESCE(b.recurring_group_id, ''), COALESCE(b.comment, ''), b.created_at, b.updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func (db *DB) scanBooking(row scanner) (*booking.Booking, error) {
	var (
		b                            booking.Booking
		status                       string
		start, end, created, updated int64
	)
	if err := row.Scan(&b.ID, &b.StudioID, &b.StudioName, &b.UserID, &b.Purpose, &start, &end,
		&status, &b.RecurringGroupID, &b.Comment, &created, &updated); err != nil {
		return nil, err
	}
	b.Status = booking.Status(status)
	b.StartTime = db.fromUnix(start)
	b.EndTime = db.fromUnix(end)
	b.CreatedAt = db.fromUnix(created)
	b.UpdatedAt = db.fromUnix(updated)
	return &b, nil
}

// GetBooking returns a booking by id or booking.ErrNotFound.
func (db *DB) GetBooking(ctx context.Context, id int64) (*booking.Booking, error) {
	row := db.QueryRowContext(ctx, `SELECT `+bookingColumns+`
		FROM bookings b LEFT JOIN studios s ON s.id = b.studio_id
		WHERE b.id = ?`, id)
	b, err := db.scanBooking(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, booking.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get booking %d: %w", id, err)
	}
	return b, nil
}

// ListBookings returns bookings matching filter ordered by start time.
func (db *DB) ListBookings(ctx context.Context, f booking.Filter) ([]booking.Booking, error) {
	var (
		where []string
		args  []any
	)
	if f.StudioID > 0 {
		where = append(where, "b.studio_id = ?")
		args = append(args, f.StudioID)
	}
	if f.UserID > 0 {
		where = append(where, "b.user_id = ?")
		args = append(args, f.UserID)
	}
	if f.Status != "" {
		where = append(where, "b.status = ?")
		args = append(args, string(f.Status))
	}
	if !f.From.IsZero() {
		where = append(where, "b.end_at > ?")
		args = append(args, f.From.Unix())
	}
	if !f.To.IsZero() {
		where = append(where, "b.start_at < ?")
		args = append(args, f.To.Unix())
	}

	q := `SELECT ` + bookingColumns + ` FROM bookings b LEFT JOIN studios s ON s.id = b.studio_id`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY b.start_at, b.id"
	if f.Limit > 0 {
		q += " LIMIT ? OFFSET ?"
		args = append(args, f.Limit, f.Offset)
	}

	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list bookings: %w", err)
	}
	defer rows.Close()

	var out []booking.Booking
	for rows.Next() {
		b, err := db.scanBooking(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

// CreateBookingIfFree inserts b unless a blocking booking or event overlaps it.
func (db *DB) CreateBookingIfFree(ctx context.Context, b *booking.Booking) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := db.insertIfFree(ctx, tx, b); err != nil {
		return err
	}
	return tx.Commit()
}

// CreateSeriesIfFree inserts all bookings or none.
func (db *DB) CreateSeriesIfFree(ctx context.Context, bs []*booking.Booking) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, b := range bs {
		if err := db.insertIfFree(ctx, tx, b); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (db *DB) insertIfFree(ctx context.Context, tx *sql.Tx, b *booking.Booking) error {
	taken, err := overlapExists(ctx, tx, b.StudioID, b.StartTime, b.EndTime, 0)
	if err != nil {
		return err
	}
	if taken {
		return booking.ErrSlotTaken
	}

	now := time.Now()
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}
	if b.UpdatedAt.IsZero() {
		b.UpdatedAt = now
	}
	if b.Status == "" {
		b.Status = booking.StatusPending
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO bookings (studio_id, user_id, purpose, start_at, end_at, status, recurring_group_id, comment, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, NULLIF(?, ''), ?, ?, ?)`,
		b.StudioID, b.UserID, b.Purpose, b.StartTime.Unix(), b.EndTime.Unix(), string(b.Status),
		b.RecurringGroupID, b.Comment, b.CreatedAt.Unix(), b.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert booking: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	b.ID = id
	return nil
}

// RescheduleBookingIfFree moves a booking unless the new slot is taken by
// anything other than the booking itself.
func (db *DB) RescheduleBookingIfFree(ctx context.Context, id int64, start, end time.Time) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var studioID int64
	err = tx.QueryRowContext(ctx, `SELECT studio_id FROM bookings WHERE id = ?`, id).Scan(&studioID)
	if errors.Is(err, sql.ErrNoRows) {
		return booking.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get booking %d: %w", id, err)
	}

	taken, err := overlapExists(ctx, tx, studioID, start, end, id)
	if err != nil {
		return err
	}
	if taken {
		return booking.ErrSlotTaken
	}

	if _, err := tx.ExecContext(ctx, `UPDATE bookings SET start_at = ?, end_at = ?, updated_at = ? WHERE id = ?`,
		start.Unix(), end.Unix(), time.Now().Unix(), id); err != nil {
		return fmt.Errorf("update booking times: %w", err)
	}
	return tx.Commit()
}

// UpdateBookingStatus sets status and comment.
func (db *DB) UpdateBookingStatus(ctx context.Context, id int64, status booking.Status, comment string) error {
	res, err := db.ExecContext(ctx, `UPDATE bookings SET status = ?, comment = ?, updated_at = ? WHERE id = ?`,
		string(status), comment, time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("update booking status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return booking.ErrNotFound
	}
	return nil
}

// CountBookings returns the number of bookings per status.
func (db *DB) CountBookings(ctx context.Context) (map[booking.Status]int, error) {
	rows, err := db.QueryContext(ctx, `SELECT status, COUNT(*) FROM bookings GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count bookings: %w", err)
	}
	defer rows.Close()

	out := make(map[booking.Status]int)
	for rows.Next() {
		var s string
		var n int
		if err := rows.Scan(&s, &n); err != nil {
			return nil, err
		}
		out[booking.Status(s)] = n
	}
	return out, rows.Err()
}

func overlapExists(ctx context.Context, tx *sql.Tx, studioID int64, start, end time.Time, excludeBookingID int64) (bool, error) {
	var n int
	err := tx.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM bookings
				WHERE studio_id = ? AND status IN (?, ?) AND id != ? AND start_at < ? AND end_at > ?)
			+
			(SELECT COUNT(*) FROM studio_events
				WHERE studio_id = ? AND blocking = 1 AND start_at < ? AND end_at > ?)`,
		studioID, string(booking.StatusPending), string(booking.StatusApproved), excludeBookingID, end.Unix(), start.Unix(),
		studioID, end.Unix(), start.Unix(),
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check overlap: %w", err)
	}
	return n > 0, nil
}
