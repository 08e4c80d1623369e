package v1

import (
	"context"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/duynhne/feed-sync/internal/core/domain"
	"github.com/duynhne/feed-sync/middleware"
	pkgzerolog "github.com/duynhne/pkg/logger/zerolog"
)

// SessionGuard decides whether a session may still be used for network actions.
// It MUST NOT mutate feed state; its only side effect is removing a rejected
// session from the store.
type SessionGuard struct {
	sessions domain.SessionStore
	skew     time.Duration
	now      func() time.Time
}

// NewSessionGuard creates a SessionGuard. Credentials are treated as expired
// skew before their actual expiry.
func NewSessionGuard(sessions domain.SessionStore, skew time.Duration) *SessionGuard {
	return &SessionGuard{
		sessions: sessions,
		skew:     skew,
		now:      time.Now,
	}
}

// Valid reports whether s holds a usable credential. A rejected session is
// removed from the store unless the store already holds a different credential
// for the user. The caller must abort its action without surfacing an error.
func (g *SessionGuard) Valid(ctx context.Context, s *domain.Session) bool {
	ctx, span := middleware.StartSpan(ctx, "session.guard", trace.WithAttributes(
		attribute.String("layer", "logic"),
	))
	defer span.End()

	if s == nil {
		span.SetAttributes(attribute.Bool("session.valid", false))
		middleware.RecordSessionRejection()
		return false
	}

	reason := ""
	expiresAt := CredentialExpiry(s.Credential)
	switch {
	case s.Credential.Value == "":
		reason = "missing credential"
	case expiresAt.IsZero():
		reason = "unknown expiry"
	case !g.now().Add(g.skew).Before(expiresAt):
		reason = "expired"
	}

	if reason == "" {
		span.SetAttributes(attribute.Bool("session.valid", true))
		return true
	}

	span.SetAttributes(
		attribute.Bool("session.valid", false),
		attribute.String("session.reject_reason", reason),
	)
	middleware.RecordSessionRejection()

	logger := pkgzerolog.FromContext(ctx)
	logger.Info().
		Str("username", s.Username).
		Str("reason", reason).
		Time("expires_at", expiresAt).
		Msg("Session rejected, clearing local session")

	if err := g.sessions.Revoke(ctx, s.Username, s.Credential.Value); err != nil {
		span.RecordError(err)
		logger.Error().Err(err).Str("username", s.Username).Msg("Failed to clear session")
	}
	return false
}

// CredentialExpiry returns the credential's expiry. When the server sent no
// explicit expiration, the exp claim of a JWT value is used. The signature is
// not verified.
func CredentialExpiry(c domain.Credential) time.Time {
	if !c.ExpiresAt.IsZero() {
		return c.ExpiresAt
	}
	if c.Value == "" {
		return time.Time{}
	}

	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(c.Value, &claims); err != nil {
		return time.Time{}
	}
	if claims.ExpiresAt == nil {
		return time.Time{}
	}
	return claims.ExpiresAt.Time
}
