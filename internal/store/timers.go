package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"tally/internal/interval"
	"tally/internal/model"
)

// StartTimer opens a new timer segment on an item. Resuming is the same
// operation: a fresh row is inserted and the old segment stays closed,
// so elapsed history remains auditable.
//
// Only one open segment per item is expected, but two concurrent starts
// are not serialized here — both may land, and callers treat the result
// as a data-quality issue rather than an error.
func (s *Store) StartTimer(ctx context.Context, itemID int64, start time.Time) (model.Timer, error) {
	ok, err := s.exists(ctx, "items", itemID)
	if err != nil {
		return model.Timer{}, fmt.Errorf("failed to check item: %w", err)
	}
	if !ok {
		return model.Timer{}, NotFoundError{Kind: "item", ID: itemID}
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO timers (item_id, start_unixms) VALUES (?, ?)`,
		itemID, timeToMs(start))
	if err != nil {
		return model.Timer{}, fmt.Errorf("failed to start timer: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return model.Timer{}, err
	}
	return model.Timer{ID: id, ItemID: itemID, Start: msToTime(timeToMs(start))}, nil
}

// StopTimer closes a timer segment. The stop instant is validated
// against the stored start before anything is written.
func (s *Store) StopTimer(ctx context.Context, timerID int64, stop time.Time) (model.Timer, error) {
	t, err := s.GetTimer(ctx, timerID)
	if err != nil {
		return model.Timer{}, err
	}
	if err := interval.Check(t.Start, &stop); err != nil {
		return model.Timer{}, err
	}

	if _, err := s.db.ExecContext(ctx, `
		UPDATE timers SET stop_unixms = ? WHERE id = ?`,
		timeToMs(stop), timerID); err != nil {
		return model.Timer{}, fmt.Errorf("failed to stop timer: %w", err)
	}
	stopped := msToTime(timeToMs(stop))
	t.Stop = &stopped
	return t, nil
}

// UpdateTimer revises a timer's bounds (manual correction). The new
// pair is validated as a whole; on failure nothing is applied.
func (s *Store) UpdateTimer(ctx context.Context, timerID int64, start time.Time, stop *time.Time) (model.Timer, error) {
	t, err := s.GetTimer(ctx, timerID)
	if err != nil {
		return model.Timer{}, err
	}
	if err := interval.Check(start, stop); err != nil {
		return model.Timer{}, err
	}

	var stopMs *int64
	if stop != nil {
		v := timeToMs(*stop)
		stopMs = &v
	}
	if _, err := s.db.ExecContext(ctx, `
		UPDATE timers SET start_unixms = ?, stop_unixms = ? WHERE id = ?`,
		timeToMs(start), stopMs, timerID); err != nil {
		return model.Timer{}, fmt.Errorf("failed to update timer: %w", err)
	}

	t.Start = msToTime(timeToMs(start))
	t.Stop = nil
	if stopMs != nil {
		v := msToTime(*stopMs)
		t.Stop = &v
	}
	return t, nil
}

// GetTimer retrieves one timer by id.
func (s *Store) GetTimer(ctx context.Context, id int64) (model.Timer, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, item_id, start_unixms, stop_unixms FROM timers WHERE id = ?`, id)
	t, err := scanTimer(row)
	if err == sql.ErrNoRows {
		return model.Timer{}, NotFoundError{Kind: "timer", ID: id}
	}
	if err != nil {
		return model.Timer{}, fmt.Errorf("failed to get timer: %w", err)
	}
	return t, nil
}

// ListTimers returns all segments for an item in insertion order,
// including a running one if present.
func (s *Store) ListTimers(ctx context.Context, itemID int64) ([]model.Timer, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, item_id, start_unixms, stop_unixms
		FROM timers WHERE item_id = ? ORDER BY id ASC`, itemID)
	if err != nil {
		return nil, fmt.Errorf("failed to list timers: %w", err)
	}
	defer func() { _ = rows.Close() }()

	timers := []model.Timer{}
	for rows.Next() {
		t, err := scanTimer(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan timer: %w", err)
		}
		timers = append(timers, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return timers, nil
}

// TotalElapsed sums segment lengths for an item, evaluating any running
// segment at now.
func (s *Store) TotalElapsed(ctx context.Context, itemID int64, now time.Time) (time.Duration, error) {
	timers, err := s.ListTimers(ctx, itemID)
	if err != nil {
		return 0, err
	}
	return model.TotalElapsed(timers, now), nil
}

func scanTimer(row rowScanner) (model.Timer, error) {
	var t model.Timer
	var startMs int64
	var stopMs sql.NullInt64
	if err := row.Scan(&t.ID, &t.ItemID, &startMs, &stopMs); err != nil {
		return model.Timer{}, err
	}
	t.Start = msToTime(startMs)
	if stopMs.Valid {
		v := msToTime(stopMs.Int64)
		t.Stop = &v
	}
	return t, nil
}
