package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"tally/internal/model"
)

// EnsurePerson records a login tuple from the identity boundary. The
// tuple is trusted as-is: a known id updates name/provider, an unknown
// or zero id inserts a new person. Names are sealed at rest.
func (s *Store) EnsurePerson(ctx context.Context, id int64, name, provider string) (model.Person, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return model.Person{}, ValidationError{Field: "name", Msg: "can't be blank"}
	}
	sealed, err := s.box.Seal(name)
	if err != nil {
		return model.Person{}, err
	}

	if id > 0 {
		res, err := s.db.ExecContext(ctx, `
			UPDATE persons SET name = ?, provider = ?, verified = 1 WHERE id = ?`,
			sealed, provider, id)
		if err != nil {
			return model.Person{}, fmt.Errorf("failed to update person: %w", err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			return s.GetPerson(ctx, id)
		}
	}

	now := s.now()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO persons (name, provider, verified, created_at_unixms)
		VALUES (?, ?, 1, ?)`,
		sealed, provider, timeToMs(now))
	if err != nil {
		return model.Person{}, fmt.Errorf("failed to create person: %w", err)
	}
	newID, err := res.LastInsertId()
	if err != nil {
		return model.Person{}, err
	}
	return model.Person{
		ID:        newID,
		Name:      name,
		Provider:  provider,
		Verified:  true,
		CreatedAt: msToTime(timeToMs(now)),
	}, nil
}

// GetPerson retrieves one person by id, with the name unsealed.
func (s *Store) GetPerson(ctx context.Context, id int64) (model.Person, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, provider, verified, created_at_unixms
		FROM persons WHERE id = ?`, id)

	var p model.Person
	var sealed string
	var verified int
	var createdMs int64
	err := row.Scan(&p.ID, &sealed, &p.Provider, &verified, &createdMs)
	if err == sql.ErrNoRows {
		return model.Person{}, NotFoundError{Kind: "person", ID: id}
	}
	if err != nil {
		return model.Person{}, fmt.Errorf("failed to get person: %w", err)
	}
	name, err := s.box.Open(sealed)
	if err != nil {
		return model.Person{}, err
	}
	p.Name = name
	p.Verified = verified != 0
	p.CreatedAt = msToTime(createdMs)
	return p, nil
}
