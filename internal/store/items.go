package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"tally/internal/model"
)

// CreateItem persists a new item. Empty (or all-whitespace) text is a
// ValidationError. An empty status defaults to active.
func (s *Store) CreateItem(ctx context.Context, text string, owner *int64, status model.Status) (model.Item, error) {
	if strings.TrimSpace(text) == "" {
		return model.Item{}, ValidationError{Field: "text", Msg: "can't be blank"}
	}
	if status == "" {
		status = model.StatusActive
	}
	if !status.Valid() {
		return model.Item{}, ValidationError{Field: "status", Msg: "is invalid"}
	}

	sealed, err := s.box.Seal(text)
	if err != nil {
		return model.Item{}, err
	}

	now := s.now()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO items (owner_id, text, status, created_at_unixms, updated_at_unixms)
		VALUES (?, ?, ?, ?, ?)`,
		owner, sealed, string(status), timeToMs(now), timeToMs(now),
	)
	if err != nil {
		return model.Item{}, fmt.Errorf("failed to create item: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return model.Item{}, err
	}
	return model.Item{
		ID:        id,
		OwnerID:   owner,
		Text:      text,
		Status:    status,
		CreatedAt: msToTime(timeToMs(now)),
		UpdatedAt: msToTime(timeToMs(now)),
	}, nil
}

// GetItem retrieves one item by id, with text unsealed.
func (s *Store) GetItem(ctx context.Context, id int64) (model.Item, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, owner_id, text, status, created_at_unixms, updated_at_unixms
		FROM items WHERE id = ?`, id)
	it, err := s.scanItem(row)
	if err == sql.ErrNoRows {
		return model.Item{}, NotFoundError{Kind: "item", ID: id}
	}
	if err != nil {
		return model.Item{}, fmt.Errorf("failed to get item: %w", err)
	}
	return it, nil
}

// EditItem replaces the item text and touches the modification
// timestamp. Status is untouched.
func (s *Store) EditItem(ctx context.Context, id int64, text string) (model.Item, error) {
	if strings.TrimSpace(text) == "" {
		return model.Item{}, ValidationError{Field: "text", Msg: "can't be blank"}
	}
	sealed, err := s.box.Seal(text)
	if err != nil {
		return model.Item{}, err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE items SET text = ?, updated_at_unixms = ? WHERE id = ?`,
		sealed, timeToMs(s.now()), id)
	if err != nil {
		return model.Item{}, fmt.Errorf("failed to edit item: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.Item{}, NotFoundError{Kind: "item", ID: id}
	}
	return s.GetItem(ctx, id)
}

// SetStatus transitions the item status, enforcing the state machine:
// active and done toggle, either may be archived, archived is terminal.
// Re-archiving an archived item is a clean no-op.
func (s *Store) SetStatus(ctx context.Context, id int64, next model.Status) (model.Item, error) {
	if !next.Valid() {
		return model.Item{}, ValidationError{Field: "status", Msg: "is invalid"}
	}

	it, err := s.GetItem(ctx, id)
	if err != nil {
		return model.Item{}, err
	}
	if it.Status == next {
		return it, nil
	}
	if !it.Status.CanTransition(next) {
		return model.Item{}, ValidationError{
			Field: "status",
			Msg:   fmt.Sprintf("cannot transition from %s to %s", it.Status, next),
		}
	}

	if _, err := s.db.ExecContext(ctx, `
		UPDATE items SET status = ?, updated_at_unixms = ? WHERE id = ?`,
		string(next), timeToMs(s.now()), id); err != nil {
		return model.Item{}, fmt.Errorf("failed to set status: %w", err)
	}
	return s.GetItem(ctx, id)
}

// Archive soft-deletes an item. The row is retained; only the status
// changes. Idempotent.
func (s *Store) Archive(ctx context.Context, id int64) (model.Item, error) {
	return s.SetStatus(ctx, id, model.StatusArchived)
}

// ListItems returns items visible to viewer: every public item plus,
// when viewer is non-nil, that person's own items. Archived items are
// excluded unless includeArchived. Newest first.
func (s *Store) ListItems(ctx context.Context, viewer *int64, includeArchived bool) ([]model.Item, error) {
	q := `
		SELECT id, owner_id, text, status, created_at_unixms, updated_at_unixms
		FROM items WHERE (owner_id IS NULL`
	args := []any{}
	if viewer != nil {
		q += ` OR owner_id = ?`
		args = append(args, *viewer)
	}
	q += `)`
	if !includeArchived {
		q += ` AND status != ?`
		args = append(args, string(model.StatusArchived))
	}
	q += ` ORDER BY created_at_unixms DESC, id DESC`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list items: %w", err)
	}
	defer func() { _ = rows.Close() }()

	items := []model.Item{}
	for rows.Next() {
		it, err := s.scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan item: %w", err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *Store) scanItem(row rowScanner) (model.Item, error) {
	var it model.Item
	var owner sql.NullInt64
	var sealed, status string
	var createdMs, updatedMs int64
	if err := row.Scan(&it.ID, &owner, &sealed, &status, &createdMs, &updatedMs); err != nil {
		return model.Item{}, err
	}
	if owner.Valid {
		v := owner.Int64
		it.OwnerID = &v
	}
	text, err := s.box.Open(sealed)
	if err != nil {
		return model.Item{}, err
	}
	it.Text = text
	it.Status = model.Status(status)
	it.CreatedAt = msToTime(createdMs)
	it.UpdatedAt = msToTime(updatedMs)
	return it, nil
}
