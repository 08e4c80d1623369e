package repository

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/nacl/secretbox"

	"github.com/duynhne/feed-sync/internal/core/domain"
)

const nonceSize = 24

// ErrTokenSealBroken is returned when a stored token can't be opened with the configured key.
var ErrTokenSealBroken = errors.New("stored token cannot be decrypted")

// PgxSessionStore implements domain.SessionStore using pgxpool.
// Credential values are sealed with NaCl secretbox before they reach the database.
type PgxSessionStore struct {
	pool *pgxpool.Pool
	key  [32]byte
}

// NewSessionStore creates a new PgxSessionStore.
func NewSessionStore(pool *pgxpool.Pool, key [32]byte) *PgxSessionStore {
	return &PgxSessionStore{pool: pool, key: key}
}

// EnsureSchema creates the feed_sessions table when it does not exist.
func (r *PgxSessionStore) EnsureSchema(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS feed_sessions (
			username     TEXT PRIMARY KEY,
			token_sealed BYTEA NOT NULL,
			expires_at   TIMESTAMPTZ,
			updated_at   TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`
	_, err := r.pool.Exec(ctx, query)
	return err
}

// Get returns the session stored for username.
// Returns (nil, nil) when no session is stored.
func (r *PgxSessionStore) Get(ctx context.Context, username string) (*domain.Session, error) {
	query := `SELECT token_sealed, expires_at FROM feed_sessions WHERE username = $1`

	var (
		sealed    []byte
		expiresAt *time.Time
	)
	err := r.pool.QueryRow(ctx, query, username).Scan(&sealed, &expiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	token, err := openToken(sealed, &r.key)
	if err != nil {
		return nil, fmt.Errorf("session %q: %w", username, err)
	}

	s := &domain.Session{
		Username:   username,
		Credential: domain.Credential{Value: token},
	}
	if expiresAt != nil {
		s.Credential.ExpiresAt = *expiresAt
	}
	return s, nil
}

// Save upserts the session for s.Username.
func (r *PgxSessionStore) Save(ctx context.Context, s *domain.Session) error {
	sealed, err := sealToken(s.Credential.Value, &r.key)
	if err != nil {
		return err
	}

	var expiresAt *time.Time
	if !s.Credential.ExpiresAt.IsZero() {
		expiresAt = &s.Credential.ExpiresAt
	}

	query := `
		INSERT INTO feed_sessions (username, token_sealed, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (username) DO UPDATE
		SET token_sealed = EXCLUDED.token_sealed,
		    expires_at = EXCLUDED.expires_at,
		    updated_at = CURRENT_TIMESTAMP
	`
	_, err = r.pool.Exec(ctx, query, s.Username, sealed, expiresAt)
	return err
}

// Delete removes the session for username.
func (r *PgxSessionStore) Delete(ctx context.Context, username string) error {
	query := `DELETE FROM feed_sessions WHERE username = $1`
	_, err := r.pool.Exec(ctx, query, username)
	return err
}

// Revoke removes the session for username if it still holds token.
// Sealed values use a random nonce, so the row is locked, opened and compared
// inside a transaction.
func (r *PgxSessionStore) Revoke(ctx context.Context, username, token string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	var sealed []byte
	err = tx.QueryRow(ctx, `SELECT token_sealed FROM feed_sessions WHERE username = $1 FOR UPDATE`, username).Scan(&sealed)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		return err
	}

	// A row the key can't open is unusable and is dropped as well.
	if stored, err := openToken(sealed, &r.key); err == nil && stored != token {
		return nil
	}

	if _, err := tx.Exec(ctx, `DELETE FROM feed_sessions WHERE username = $1`, username); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// sealToken returns nonce || secretbox(token).
func sealToken(token string, key *[32]byte) ([]byte, error) {
	var nonce [nonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return secretbox.Seal(nonce[:], []byte(token), &nonce, key), nil
}

func openToken(sealed []byte, key *[32]byte) (string, error) {
	if len(sealed) < nonceSize+secretbox.Overhead {
		return "", ErrTokenSealBroken
	}
	var nonce [nonceSize]byte
	copy(nonce[:], sealed[:nonceSize])

	plain, ok := secretbox.Open(nil, sealed[nonceSize:], &nonce, key)
	if !ok {
		return "", ErrTokenSealBroken
	}
	return string(plain), nil
}
