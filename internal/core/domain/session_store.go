package domain

import (
	"context"
	"time"
)

// Credential is the time-bounded token proving a session is still usable.
// ExpiresAt is zero when the server did not send an explicit expiration.
type Credential struct {
	Value     string    `json:"value"`
	ExpiresAt time.Time `json:"expiration"`
}

// Session is the authenticated context (username + credential) under which
// feed operations execute. It is created at login, outside this module.
type Session struct {
	Username   string     `json:"username"`
	Credential Credential `json:"token"`
}

// SessionStore defines the data-access contract for the locally held session.
// Implementations live in internal/core/repository (Core layer).
type SessionStore interface {
	// Get returns the session stored for username.
	// Returns (nil, nil) when no session is stored.
	Get(ctx context.Context, username string) (*Session, error)

	// Save stores the session, replacing any previous one for the same username.
	Save(ctx context.Context, s *Session) error

	// Delete removes the stored session. Deleting a missing session is not an error.
	Delete(ctx context.Context, username string) error

	// Revoke removes the stored session only while it still holds the credential
	// value token. A session replaced in the meantime is kept.
	Revoke(ctx context.Context, username, token string) error
}
