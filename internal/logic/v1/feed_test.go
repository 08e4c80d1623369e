package v1

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duynhne/feed-sync/internal/core/domain"
)

func TestFeedService_FetchAllReplacesList(t *testing.T) {
	ctx := context.Background()
	api := &fakeAPI{posts: posts("c", "a", "b")}
	guard, _ := newTestGuard(storeWith(validSession()))
	feed := NewFeedService(api, guard)

	require.NoError(t, feed.FetchAll(ctx, validSession()))
	assert.Equal(t, posts("c", "a", "b"), feed.All())

	api.mu.Lock()
	api.posts = posts("d")
	api.mu.Unlock()

	require.NoError(t, feed.FetchAll(ctx, validSession()))
	assert.Equal(t, posts("d"), feed.All(), "fetch must replace, not merge")
	assert.Equal(t, []string{"tok-alice", "tok-alice"}, api.tokens)
}

func TestFeedService_FetchFollowing(t *testing.T) {
	api := &fakeAPI{following: posts("f1", "f2")}
	guard, _ := newTestGuard(storeWith(validSession()))
	feed := NewFeedService(api, guard)

	require.NoError(t, feed.FetchFollowing(context.Background(), validSession()))
	assert.Equal(t, posts("f1", "f2"), feed.Following())
	assert.Empty(t, feed.All())
	assert.Equal(t, []string{"getFollowingPosts/alice"}, api.Calls())
}

func TestFeedService_ExpiredSessionMakesNoRequests(t *testing.T) {
	ctx := context.Background()
	api := &fakeAPI{posts: posts("a")}
	store := storeWith(expiredSession())
	guard, _ := newTestGuard(store)
	feed := NewFeedService(api, guard)

	assert.NoError(t, feed.FetchAll(ctx, expiredSession()))
	assert.NoError(t, feed.FetchFollowing(ctx, expiredSession()))
	assert.NoError(t, feed.SubmitPost(ctx, expiredSession(), "t", "d"))
	assert.NoError(t, feed.FetchAll(ctx, nil))

	assert.Empty(t, api.Calls())
	assert.Empty(t, feed.All())

	got, err := store.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestFeedService_RequestErrorLeavesFeedUnchanged(t *testing.T) {
	ctx := context.Background()
	api := &fakeAPI{posts: posts("a", "b"), following: posts("f")}
	guard, _ := newTestGuard(storeWith(validSession()))
	feed := NewFeedService(api, guard)

	require.NoError(t, feed.FetchAll(ctx, validSession()))
	require.NoError(t, feed.FetchFollowing(ctx, validSession()))

	api.mu.Lock()
	api.err = &domain.RequestError{StatusCode: http.StatusUnauthorized}
	api.mu.Unlock()

	err := feed.FetchAll(ctx, validSession())
	var reqErr *domain.RequestError
	require.True(t, errors.As(err, &reqErr))
	assert.Equal(t, http.StatusUnauthorized, reqErr.StatusCode)
	assert.Equal(t, posts("a", "b"), feed.All())

	err = feed.FetchFollowing(ctx, validSession())
	require.True(t, errors.As(err, &reqErr))
	assert.Equal(t, posts("f"), feed.Following())
}

func TestFeedService_SubmitPost(t *testing.T) {
	ctx := context.Background()
	api := &fakeAPI{}
	guard, _ := newTestGuard(storeWith(validSession()))
	feed := NewFeedService(api, guard)

	require.NoError(t, feed.SubmitPost(ctx, validSession(), "t", "d"))
	assert.Equal(t, []domain.NewPost{{Title: "t", Description: "d", Username: "alice"}}, api.created)
	assert.Empty(t, feed.All(), "submit must not touch local feeds")

	api.err = &domain.RequestError{StatusCode: http.StatusBadRequest}
	err := feed.SubmitPost(ctx, validSession(), "t", "d")
	var reqErr *domain.RequestError
	require.True(t, errors.As(err, &reqErr))
	assert.Equal(t, http.StatusBadRequest, reqErr.StatusCode)
}

func TestFeedService_ReturnsCopies(t *testing.T) {
	api := &fakeAPI{posts: posts("a")}
	guard, _ := newTestGuard(storeWith(validSession()))
	feed := NewFeedService(api, guard)
	require.NoError(t, feed.FetchAll(context.Background(), validSession()))

	got := feed.All()
	got[0].Title = "mutated"
	assert.Equal(t, "a", feed.All()[0].Title)
}
