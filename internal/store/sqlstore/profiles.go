package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/Makepad-fr/tada/internal/errs"
	"github.com/Makepad-fr/tada/internal/gateway"
	"github.com/Makepad-fr/tada/internal/model"
)

const profileColumns = `id, email, username, created_at, updated_at`

var profileOrderColumns = map[string]bool{
	"created_at": true,
	"updated_at": true,
}

// Profiles implements gateway.ProfileTable. A profile's id is its owner.
type Profiles struct {
	d *DB
}

var _ gateway.ProfileTable = (*Profiles)(nil)

func scanProfile(r rowScanner) (model.Profile, error) {
	var (
		p                model.Profile
		username         sql.NullString
		created, updated string
	)
	if err := r.Scan(&p.ID, &p.Email, &username, &created, &updated); err != nil {
		return model.Profile{}, err
	}
	if username.Valid {
		p.Username = &username.String
	}
	var err error
	if p.CreatedAt, err = parseTime(created); err != nil {
		return model.Profile{}, err
	}
	if p.UpdatedAt, err = parseTime(updated); err != nil {
		return model.Profile{}, err
	}
	return p, nil
}

func (s *Profiles) ReadAll(ctx context.Context, owner string, order gateway.Order) ([]model.Profile, error) {
	if owner == "" {
		return nil, errs.E(errs.Authentication, "read profile", "no owner")
	}
	orderBy, err := orderClause(profileOrderColumns, order.Column, order.Descending)
	if err != nil {
		return nil, err
	}
	rows, err := s.d.db.QueryContext(ctx,
		`SELECT `+profileColumns+` FROM profiles WHERE id = ?`+orderBy, owner)
	if err != nil {
		return nil, storeErr("read profile", err)
	}
	defer rows.Close()

	profiles := []model.Profile{}
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, storeErr("read profile", err)
		}
		profiles = append(profiles, p)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("read profile", err)
	}
	return profiles, nil
}

func nullableUsername(op string, u *string) (any, error) {
	if u == nil {
		return nil, nil
	}
	v := strings.TrimSpace(*u)
	if v == "" {
		return nil, errs.E(errs.Validation, op, "username is empty")
	}
	return v, nil
}

// Upsert creates the profile, or when one already exists for row.ID,
// refreshes its email from row and returns the stored row. The stored
// username always wins over row's.
func (s *Profiles) Upsert(ctx context.Context, row model.Profile, conflictKey string) (model.Profile, error) {
	if conflictKey != "id" {
		return model.Profile{}, errs.Errorf(errs.Validation, "upsert profile", "unsupported conflict key %q", conflictKey)
	}
	if row.ID == "" {
		return model.Profile{}, errs.E(errs.Authentication, "upsert profile", "no owner")
	}
	username, err := nullableUsername("upsert profile", row.Username)
	if err != nil {
		return model.Profile{}, err
	}
	now := s.d.stamp()
	p, err := scanProfile(s.d.db.QueryRowContext(ctx,
		`INSERT INTO profiles (id, email, username, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			email = excluded.email,
			updated_at = CASE WHEN profiles.email = excluded.email
				THEN profiles.updated_at ELSE excluded.updated_at END
		 RETURNING `+profileColumns,
		row.ID, row.Email, username, now, now))
	if err != nil {
		return model.Profile{}, storeErr("upsert profile", err)
	}
	// only real changes are announced, or a reload on notification
	// would keep notifying itself
	switch {
	case p.CreatedAt.Format(tsLayout) == now:
		s.d.hub.publish(gateway.Change{Kind: gateway.KindProfiles, Op: gateway.OpInsert, ID: p.ID, Owner: p.ID})
	case p.UpdatedAt.Format(tsLayout) == now:
		s.d.hub.publish(gateway.Change{Kind: gateway.KindProfiles, Op: gateway.OpUpdate, ID: p.ID, Owner: p.ID})
	}
	return p, nil
}

func (s *Profiles) Insert(ctx context.Context, row model.Profile) (model.Profile, error) {
	if row.ID == "" {
		return model.Profile{}, errs.E(errs.Authentication, "insert profile", "no owner")
	}
	username, err := nullableUsername("insert profile", row.Username)
	if err != nil {
		return model.Profile{}, err
	}
	now := s.d.stamp()
	p, err := scanProfile(s.d.db.QueryRowContext(ctx,
		`INSERT INTO profiles (id, email, username, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 RETURNING `+profileColumns,
		row.ID, row.Email, username, now, now))
	if err != nil {
		return model.Profile{}, storeErr("insert profile", err)
	}
	s.d.hub.publish(gateway.Change{Kind: gateway.KindProfiles, Op: gateway.OpInsert, ID: p.ID, Owner: p.ID})
	return p, nil
}

func (s *Profiles) Update(ctx context.Context, id, owner string, patch model.ProfilePatch) (model.Profile, error) {
	if owner == "" {
		return model.Profile{}, errs.E(errs.Authentication, "update profile", "no owner")
	}
	if id != owner {
		return model.Profile{}, errs.Errorf(errs.Authorization, "update profile", "profile %s belongs to another user", id)
	}
	if patch.Username == nil {
		return model.Profile{}, errs.E(errs.Validation, "update profile", "nothing to update")
	}
	username, err := nullableUsername("update profile", patch.Username)
	if err != nil {
		return model.Profile{}, err
	}
	p, err := scanProfile(s.d.db.QueryRowContext(ctx,
		`UPDATE profiles SET username = ?, updated_at = ?
		 WHERE id = ?
		 RETURNING `+profileColumns,
		username, s.d.stamp(), id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Profile{}, errs.Errorf(errs.NotFound, "update profile", "no profile for %s", id)
	}
	if err != nil {
		return model.Profile{}, storeErr("update profile", err)
	}
	s.d.hub.publish(gateway.Change{Kind: gateway.KindProfiles, Op: gateway.OpUpdate, ID: p.ID, Owner: p.ID})
	return p, nil
}

// Delete is administrative; the sync layer never calls it.
func (s *Profiles) Delete(ctx context.Context, id, owner string) error {
	if owner == "" {
		return errs.E(errs.Authentication, "delete profile", "no owner")
	}
	if id != owner {
		return errs.Errorf(errs.Authorization, "delete profile", "profile %s belongs to another user", id)
	}
	res, err := s.d.db.ExecContext(ctx, `DELETE FROM profiles WHERE id = ?`, id)
	if err != nil {
		return storeErr("delete profile", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		s.d.hub.publish(gateway.Change{Kind: gateway.KindProfiles, Op: gateway.OpDelete, ID: id, Owner: id})
	}
	return nil
}

func (s *Profiles) Subscribe(ctx context.Context, owner string, onChange func(gateway.Change)) (gateway.Subscription, error) {
	if owner == "" {
		return nil, errs.E(errs.Authentication, "subscribe profile", "no owner")
	}
	return s.d.hub.subscribe(gateway.KindProfiles, owner, onChange), nil
}
