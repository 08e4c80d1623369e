package v1

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/duynhne/feed-sync/internal/core/domain"
	"github.com/duynhne/feed-sync/middleware"
	pkgzerolog "github.com/duynhne/pkg/logger/zerolog"
)

// FeedService runs the guarded feed operations and owns the in-memory feed lists.
// It depends on the FeedAPI interface and MUST NOT issue HTTP directly.
type FeedService struct {
	api   domain.FeedAPI
	guard *SessionGuard

	mu        sync.RWMutex
	all       []domain.Post
	following []domain.Post
}

// NewFeedService creates a FeedService with empty feeds.
func NewFeedService(api domain.FeedAPI, guard *SessionGuard) *FeedService {
	return &FeedService{
		api:   api,
		guard: guard,
	}
}

// All returns a copy of the "Everything" feed.
func (s *FeedService) All() []domain.Post {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.all)
}

// Following returns a copy of the "Following" feed.
func (s *FeedService) Following() []domain.Post {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.following)
}

// FetchAll replaces the "Everything" feed with the server's current list.
// Returns nil without a request when the session is rejected.
func (s *FeedService) FetchAll(ctx context.Context, sess *domain.Session) error {
	ctx, span := middleware.StartSpan(ctx, "feed.fetch_all", trace.WithAttributes(
		attribute.String("layer", "logic"),
	))
	defer span.End()

	if !s.guard.Valid(ctx, sess) {
		span.AddEvent("session.rejected")
		middleware.RecordFeedOperation("fetch_all", middleware.ResultAborted)
		return nil
	}

	posts, err := s.api.GetPosts(ctx, sess.Credential.Value)
	if err != nil {
		span.RecordError(err)
		middleware.RecordFeedOperation("fetch_all", resultOf(err))
		return fmt.Errorf("fetch all posts: %w", err)
	}

	s.mu.Lock()
	s.all = posts
	s.mu.Unlock()

	span.SetAttributes(attribute.Int("posts.count", len(posts)))
	middleware.RecordFeedOperation("fetch_all", middleware.ResultOK)
	return nil
}

// FetchFollowing replaces the "Following" feed with the server's current list.
// Returns nil without a request when the session is rejected.
func (s *FeedService) FetchFollowing(ctx context.Context, sess *domain.Session) error {
	ctx, span := middleware.StartSpan(ctx, "feed.fetch_following", trace.WithAttributes(
		attribute.String("layer", "logic"),
	))
	defer span.End()

	if !s.guard.Valid(ctx, sess) {
		span.AddEvent("session.rejected")
		middleware.RecordFeedOperation("fetch_following", middleware.ResultAborted)
		return nil
	}

	posts, err := s.api.GetFollowingPosts(ctx, sess.Credential.Value, sess.Username)
	if err != nil {
		span.RecordError(err)
		middleware.RecordFeedOperation("fetch_following", resultOf(err))
		return fmt.Errorf("fetch following posts for %q: %w", sess.Username, err)
	}

	s.mu.Lock()
	s.following = posts
	s.mu.Unlock()

	span.SetAttributes(attribute.Int("posts.count", len(posts)))
	middleware.RecordFeedOperation("fetch_following", middleware.ResultOK)
	return nil
}

// SubmitPost publishes a post as the session's user. Local feeds are left
// alone; the server's "new post" push triggers the re-fetch.
// Returns nil without a request when the session is rejected.
func (s *FeedService) SubmitPost(ctx context.Context, sess *domain.Session, title, description string) error {
	ctx, span := middleware.StartSpan(ctx, "feed.submit_post", trace.WithAttributes(
		attribute.String("layer", "logic"),
	))
	defer span.End()

	if !s.guard.Valid(ctx, sess) {
		span.AddEvent("session.rejected")
		middleware.RecordFeedOperation("submit_post", middleware.ResultAborted)
		return nil
	}

	resp, err := s.api.CreatePost(ctx, sess.Credential.Value, domain.NewPost{
		Title:       title,
		Description: description,
		Username:    sess.Username,
	})
	if err != nil {
		span.RecordError(err)
		middleware.RecordFeedOperation("submit_post", resultOf(err))
		return fmt.Errorf("submit post for %q: %w", sess.Username, err)
	}

	pkgzerolog.FromContext(ctx).Debug().
		Str("username", sess.Username).
		RawJSON("response", nonEmptyJSON(resp)).
		Msg("Post submitted")

	middleware.RecordFeedOperation("submit_post", middleware.ResultOK)
	return nil
}

func resultOf(err error) string {
	var reqErr *domain.RequestError
	if errors.As(err, &reqErr) {
		return middleware.ResultRequestError
	}
	return middleware.ResultError
}

func nonEmptyJSON(raw []byte) []byte {
	if len(raw) == 0 {
		return []byte("null")
	}
	return raw
}
