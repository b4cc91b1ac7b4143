// Package identity manages the user store.
//
// Each identity holds a single refresh token slot. Issuing a new refresh
// token overwrites the slot, and rotation uses a conditional update so
// that when two refreshes race, exactly one wins and the loser's token
// is dead.
package identity

import (
	"errors"
	"time"
)

// Repository errors.
var (
	// ErrNotFound means no identity matches the lookup.
	ErrNotFound = errors.New("identity: not found")

	// ErrDuplicateEmail means an identity already exists for the email.
	ErrDuplicateEmail = errors.New("identity: email already registered")

	// ErrStaleRefreshToken means a conditional rotation found a different
	// token in the slot than the one presented. The presented token was
	// rotated away or cleared by a concurrent operation.
	ErrStaleRefreshToken = errors.New("identity: presented refresh token is stale")
)

// User is a verified identity.
//
// RefreshToken is the single-slot session token; empty means no active
// session. It is never serialised outward: API responses use the
// reduced Public view.
type User struct {
	ID           string
	Email        string
	Handler      string
	RefreshToken string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Public is the reduced identity exposed to clients. The stored refresh
// token never leaves the repository layer through this view.
type Public struct {
	ID      string `json:"id"`
	Email   string `json:"email"`
	Handler string `json:"handler"`
}

// Public returns the client-safe view of the user.
func (u *User) Public() Public {
	return Public{
		ID:      u.ID,
		Email:   u.Email,
		Handler: u.Handler,
	}
}
