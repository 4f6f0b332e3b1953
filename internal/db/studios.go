package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"studiobook/internal/booking"
	"studiobook/internal/config"
)

// Holiday is a school holiday period shown next to the calendar.
type Holiday struct {
	Name  string `json:"name"`
	Start string `json:"start"`
	End   string `json:"end"`
}

// GetStudio returns an active studio or booking.ErrUnknownStudio.
func (db *DB) GetStudio(ctx context.Context, id int64) (*booking.Studio, error) {
	var s booking.Studio
	err := db.QueryRowContext(ctx, `
		SELECT id, name, COALESCE(description, ''), capacity, is_active
		FROM studios WHERE id = ? AND is_active = 1`, id,
	).Scan(&s.ID, &s.Name, &s.Description, &s.Capacity, &s.IsActive)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, booking.ErrUnknownStudio
	}
	if err != nil {
		return nil, fmt.Errorf("get studio %d: %w", id, err)
	}
	return &s, nil
}

// ListStudios returns active studios ordered by id.
func (db *DB) ListStudios(ctx context.Context) ([]booking.Studio, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, name, COALESCE(description, ''), capacity, is_active
		FROM studios WHERE is_active = 1 ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list studios: %w", err)
	}
	defer rows.Close()

	var out []booking.Studio
	for rows.Next() {
		var s booking.Studio
		if err := rows.Scan(&s.ID, &s.Name, &s.Description, &s.Capacity, &s.IsActive); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// SyncStudiosFromConfig applies studios.yaml to the database.
// It upserts studios, marks missing studios inactive and replaces holidays.
func (db *DB) SyncStudiosFromConfig(ctx context.Context, cfg *config.StudiosConfig) error {
	if cfg == nil {
		return fmt.Errorf("studios config is nil")
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now()
	if _, err := tx.ExecContext(ctx, `UPDATE studios SET is_active = 0, updated_at = ?`, now); err != nil {
		return fmt.Errorf("reset studios: %w", err)
	}

	for _, s := range cfg.Studios {
		// Preserve created_at if the studio already exists.
		_, err := tx.ExecContext(ctx, `
			INSERT INTO studios (id, name, description, capacity, is_active, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, COALESCE((SELECT created_at FROM studios WHERE id = ?), ?), ?)
			ON CONFLICT(id) DO UPDATE SET
				name = excluded.name,
				description = excluded.description,
				capacity = excluded.capacity,
				is_active = excluded.is_active,
				updated_at = excluded.updated_at`,
			s.ID, s.Name, s.Description, s.Capacity, s.IsActive, s.ID, now, now,
		)
		if err != nil {
			return fmt.Errorf("sync studio %d: %w", s.ID, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM holidays`); err != nil {
		return fmt.Errorf("reset holidays: %w", err)
	}
	for _, h := range cfg.Holidays {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO holidays (name, start_date, end_date) VALUES (?, ?, ?)`,
			h.Name, h.Start, h.End); err != nil {
			return fmt.Errorf("sync holiday %s: %w", h.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	db.logger.Info().Int("studios", len(cfg.Studios)).Int("holidays", len(cfg.Holidays)).Msg("studios synced from config")
	return nil
}

// ListHolidays returns holiday periods that touch [from, to].
// Dates are compared as YYYY-MM-DD strings.
func (db *DB) ListHolidays(ctx context.Context, from, to time.Time) ([]Holiday, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT name, start_date, end_date FROM holidays
		WHERE end_date >= ? AND start_date <= ?
		ORDER BY start_date`,
		from.Format("2006-01-02"), to.Format("2006-01-02"),
	)
	if err != nil {
		return nil, fmt.Errorf("list holidays: %w", err)
	}
	defer rows.Close()

	var out []Holiday
	for rows.Next() {
		var h Holiday
		if err := rows.Scan(&h.Name, &h.Start, &h.End); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}
