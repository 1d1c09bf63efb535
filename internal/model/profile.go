package model

import (
	"strings"
	"time"
)

// Profile is the per-identity singleton. ID always equals the session
// identity; Email comes from the session and is not user-editable.
type Profile struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Username  *string   `json:"username"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DisplayName returns the username or "" when unset.
func (p *Profile) DisplayName() string {
	if p == nil || p.Username == nil {
		return ""
	}
	return *p.Username
}

// ProfilePatch is a partial profile update.
type ProfilePatch struct {
	Username *string `json:"username,omitempty"`
}

// DefaultUsername derives a username from the local-part of an email
// address, or "user" when there is none.
func DefaultUsername(email string) string {
	local, _, _ := strings.Cut(email, "@")
	if local == "" {
		return "user"
	}
	return local
}

// DefaultProfile is the row created on the first read for an identity.
func DefaultProfile(id Identity) Profile {
	name := DefaultUsername(id.Email)
	return Profile{
		ID:       id.ID,
		Email:    id.Email,
		Username: &name,
	}
}
