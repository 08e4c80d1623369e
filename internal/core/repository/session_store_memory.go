package repository

import (
	"context"
	"sync"

	"github.com/duynhne/feed-sync/internal/core/domain"
)

// MemorySessionStore implements domain.SessionStore in process memory.
type MemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string]domain.Session
}

// NewMemorySessionStore creates an empty MemorySessionStore.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{sessions: make(map[string]domain.Session)}
}

// Get returns a copy of the stored session, or (nil, nil) when absent.
func (r *MemorySessionStore) Get(_ context.Context, username string) (*domain.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[username]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

// Save stores a copy of s.
func (r *MemorySessionStore) Save(_ context.Context, s *domain.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sessions[s.Username] = *s
	return nil
}

// Delete removes the session for username.
func (r *MemorySessionStore) Delete(_ context.Context, username string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.sessions, username)
	return nil
}

// Revoke removes the session for username if its credential value is token.
func (r *MemorySessionStore) Revoke(_ context.Context, username, token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[username]; ok && s.Credential.Value == token {
		delete(r.sessions, username)
	}
	return nil
}
