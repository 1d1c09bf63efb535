package syncstore

import (
	"context"
	"strings"

	"github.com/Makepad-fr/tada/internal/errs"
	"github.com/Makepad-fr/tada/internal/gateway"
	"github.com/Makepad-fr/tada/internal/model"
)

// ProfileStore is the signed-in user's profile: nil when anonymous, at most
// one otherwise.
type ProfileStore struct {
	*replica[*model.Profile]
	table gateway.ProfileTable
}

func NewProfileStore(gw gateway.Gateway, tracker *SessionTracker, opts ...Option) *ProfileStore {
	s := &ProfileStore{table: gw.Profiles()}
	s.replica = newReplica("profile", tracker,
		func() *model.Profile { return nil },
		s.fetch,
		s.table.Subscribe,
		opts)
	s.attach()
	return s
}

// fetch reads the profile and creates the default one when missing. The
// create is an upsert keyed on id, so concurrent first reads all end up
// with the same single row.
func (s *ProfileStore) fetch(ctx context.Context, id model.Identity) (*model.Profile, error) {
	rows, err := s.table.ReadAll(ctx, id.ID, gateway.Order{})
	if err != nil {
		return nil, err
	}
	for _, p := range rows {
		if p.ID != id.ID {
			continue
		}
		if id.Email == "" || p.Email == id.Email {
			return &p, nil
		}
		// email is authoritative from the session
		break
	}
	p, err := s.table.Upsert(ctx, model.DefaultProfile(id), "id")
	if err != nil {
		return nil, err
	}
	if p.ID != id.ID {
		return nil, errs.Errorf(errs.Authorization, "fetch profile", "store returned profile %s", p.ID)
	}
	return &p, nil
}

// Profile returns a copy of the current profile, or nil.
func (s *ProfileStore) Profile() *model.Profile {
	p, _ := s.snapshot()
	if p == nil {
		return nil
	}
	c := *p
	if p.Username != nil {
		u := *p.Username
		c.Username = &u
	}
	return &c
}

// UpdateUsername renames the signed-in user and adopts the stored row.
func (s *ProfileStore) UpdateUsername(ctx context.Context, username string) (model.Profile, error) {
	const op = "update username"
	sc, err := s.begin(op, errs.Authentication)
	if err != nil {
		return model.Profile{}, err
	}
	username = strings.TrimSpace(username)
	if username == "" {
		return model.Profile{}, s.fail(op, errs.E(errs.Validation, "", "username is empty"))
	}
	owner := sc.identity.ID

	updated, err := s.table.Update(ctx, owner, owner, model.ProfilePatch{Username: &username})
	err = s.commit(op, sc, err, func(*model.Profile) *model.Profile {
		return &updated
	})
	if err != nil {
		return model.Profile{}, err
	}
	return updated, nil
}
