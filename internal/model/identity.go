package model

// Identity is an authenticated end-user. A nil *Identity means anonymous.
type Identity struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// SameIdentity reports whether a and b name the same user (both nil counts).
func SameIdentity(a, b *Identity) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.ID == b.ID
}
