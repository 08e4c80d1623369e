package v1

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/duynhne/feed-sync/internal/core/domain"
	"github.com/duynhne/feed-sync/middleware"
	pkgzerolog "github.com/duynhne/pkg/logger/zerolog"
)

// Tab selects one of the two feeds.
type Tab string

const (
	TabEverything Tab = "everything"
	TabFollowing  Tab = "following"
)

// ParseTab maps a tab name to a Tab. An empty name selects Everything.
func ParseTab(name string) (Tab, error) {
	switch Tab(name) {
	case "", TabEverything:
		return TabEverything, nil
	case TabFollowing:
		return TabFollowing, nil
	default:
		return "", fmt.Errorf("tab %q: %w", name, ErrUnknownTab)
	}
}

// HomeService ties the session, the feeds and the live connection of one user
// together. It is what the presentational layer mounts, drives and tears down.
type HomeService struct {
	username string
	sessions domain.SessionStore
	guard    *SessionGuard
	feed     *FeedService
	sync     *Synchronizer

	mu   sync.RWMutex
	sess *domain.Session
}

// NewHomeService creates a HomeService for username.
func NewHomeService(username string, sessions domain.SessionStore, guard *SessionGuard, feed *FeedService, synchronizer *Synchronizer) *HomeService {
	return &HomeService{
		username: username,
		sessions: sessions,
		guard:    guard,
		feed:     feed,
		sync:     synchronizer,
	}
}

// Open mounts the home view: it loads the stored session, fetches both feeds
// and connects the live channel. Fetch errors are returned after the connect
// attempt. A connection failure is logged and leaves the feeds usable without
// push updates.
func (h *HomeService) Open(ctx context.Context) error {
	ctx, span := middleware.StartSpan(ctx, "home.open", trace.WithAttributes(
		attribute.String("layer", "logic"),
		attribute.String("username", h.username),
	))
	defer span.End()

	sess, err := h.sessions.Get(ctx, h.username)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("load session %q: %w", h.username, err)
	}
	if sess == nil {
		return fmt.Errorf("load session %q: %w", h.username, ErrSessionNotFound)
	}

	h.mu.Lock()
	h.sess = sess
	h.mu.Unlock()

	// The live channel does not depend on the initial fetches: a failed fetch
	// is returned, but push updates still start.
	fetchErr := errors.Join(
		h.feed.FetchFollowing(ctx, sess),
		h.feed.FetchAll(ctx, sess),
	)
	if fetchErr != nil {
		span.RecordError(fetchErr)
	}

	if err := h.sync.Start(ctx, sess); err != nil {
		span.RecordError(err)
		pkgzerolog.FromContext(ctx).Warn().Err(err).
			Str("username", h.username).
			Msg("Live updates unavailable")
	}
	return fetchErr
}

// Refresh re-fetches one feed.
func (h *HomeService) Refresh(ctx context.Context, tab Tab) error {
	sess := h.session()
	switch tab {
	case TabEverything:
		return h.feed.FetchAll(ctx, sess)
	case TabFollowing:
		return h.feed.FetchFollowing(ctx, sess)
	default:
		return fmt.Errorf("refresh %q: %w", tab, ErrUnknownTab)
	}
}

// Feed returns a copy of the selected feed.
func (h *HomeService) Feed(tab Tab) []domain.Post {
	if tab == TabFollowing {
		return h.feed.Following()
	}
	return h.feed.All()
}

// SubmitPost publishes a post as the current user.
func (h *HomeService) SubmitPost(ctx context.Context, title, description string) error {
	return h.feed.SubmitPost(ctx, h.session(), title, description)
}

// Authenticated reports whether a usable session is still held locally.
func (h *HomeService) Authenticated(ctx context.Context) bool {
	sess, err := h.sessions.Get(ctx, h.username)
	if err != nil {
		pkgzerolog.FromContext(ctx).Error().Err(err).Str("username", h.username).Msg("Session lookup failed")
		return false
	}
	if sess == nil {
		return false
	}
	return h.guard.Valid(ctx, sess)
}

// SyncState returns the live connection state and the number of open handles.
func (h *HomeService) SyncState() (SyncState, int) {
	return h.sync.State(), h.sync.OpenHandles()
}

// Logout releases the live connection and destroys the local session.
func (h *HomeService) Logout(ctx context.Context) error {
	ctx, span := middleware.StartSpan(ctx, "home.logout", trace.WithAttributes(
		attribute.String("layer", "logic"),
		attribute.String("username", h.username),
	))
	defer span.End()

	closeErr := h.sync.Close()

	h.mu.Lock()
	h.sess = nil
	h.mu.Unlock()

	deleteErr := h.sessions.Delete(ctx, h.username)
	if deleteErr != nil {
		deleteErr = fmt.Errorf("delete session %q: %w", h.username, deleteErr)
		span.RecordError(deleteErr)
	}

	pkgzerolog.FromContext(ctx).Info().Str("username", h.username).Msg("Logged out")
	return errors.Join(closeErr, deleteErr)
}

// Close unmounts the home view: the live connection is released, the session is kept.
func (h *HomeService) Close() error {
	return h.sync.Close()
}

func (h *HomeService) session() *domain.Session {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.sess
}
