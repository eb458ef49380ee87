package models

import (
	"regexp"
	"time"
)

var userNameRegex = regexp.MustCompile(`^[A-Za-z0-9_]{3,15}$`)

// UserProfile is the identity and funds holder for one user. Exactly one
// profile is current per device; the roster store may hold additional
// locally-known profiles keyed by username.
type UserProfile struct {
	UserID    string `json:"userId" db:"user_id"`
	UserName  string `json:"username" db:"username"`
	FirstName string `json:"firstName" db:"first_name"`
	LastName  string `json:"lastName" db:"last_name"`
	Balance   Amount `json:"balance" db:"balance"`
	// AccountID links the profile to its banking sandbox account when the
	// remote ledger is enabled.
	AccountID string    `json:"accountId,omitempty" db:"account_id"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}

// FullName returns the display name assembled from the name components.
func (p *UserProfile) FullName() string {
	switch {
	case p.FirstName == "":
		return p.LastName
	case p.LastName == "":
		return p.FirstName
	}
	return p.FirstName + " " + p.LastName
}

// ValidUserName reports whether a username is acceptable: 3-15 characters
// of letters, digits and underscores.
func ValidUserName(name string) bool {
	return userNameRegex.MatchString(name)
}
