// Package session issues, verifies, refreshes and invalidates bearer-token
// sessions, keeping recently verified sessions in a bounded cache so most
// requests skip signature verification.
package session

import (
	"errors"
	"time"
)

const (
	// SessionTimeout is the lifetime granted by RefreshSession regardless of
	// the original token's TTL.
	SessionTimeout = 24 * time.Hour
	// InactivityTimeout invalidates sessions that were not verified recently.
	InactivityTimeout = 2 * time.Hour
	MaxCacheSize      = 1000
	CleanupInterval   = time.Hour
	DefaultExpiresIn  = "24h"
)

var (
	ErrMissingIdentity = errors.New("session user has no id")
	ErrMissingSigner   = errors.New("session signer is required")
)

type Role string

const (
	RoleAdmin     Role = "ADMIN"
	RoleCandidate Role = "CANDIDATE"
	RoleVoter     Role = "VOTER"
	RoleGuest     Role = "guest"
)

func (r Role) orGuest() Role {
	if r == "" {
		return RoleGuest
	}
	return r
}

// User is the identity a session is issued for. ID and UserID are
// interchangeable; ID wins when both are set.
type User struct {
	ID      string `json:"id"`
	UserID  string `json:"userId"`
	Role    Role   `json:"role"`
	Email   string `json:"email,omitempty"`
	Phone   string `json:"phone,omitempty"`
	VoterID string `json:"voterId,omitempty"`
}

func (u User) identity() string {
	if u.ID != "" {
		return u.ID
	}
	return u.UserID
}

// Data is a decoded session.
type Data struct {
	UserID       string
	Role         Role
	Email        string
	Phone        string
	VoterID      string
	ExpiresAt    time.Time
	LastActivity time.Time
}

// ValidAt reports whether the session is unexpired and was active within
// inactivity of now.
func (d Data) ValidAt(now time.Time, inactivity time.Duration) bool {
	if now.After(d.ExpiresAt) {
		return false
	}
	return now.Sub(d.LastActivity) <= inactivity
}
