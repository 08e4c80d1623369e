package domain

import (
	"context"
	"encoding/json"
)

// Post is a feed entry. Posts have no client-side identity beyond structural equality.
type Post struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Username    string `json:"username"`
}

// NewPost is the body of a post creation request.
type NewPost struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Username    string `json:"username"`
}

// PostsResponse is the envelope returned by the feed read endpoints.
type PostsResponse struct {
	Posts []Post `json:"posts"`
}

// FeedAPI defines the request/response boundary with the feed backend.
// Every call carries the session credential as a bearer token.
// Non-2xx responses fail with *RequestError.
type FeedAPI interface {
	// GetPosts returns the "Everything" feed, in server order.
	GetPosts(ctx context.Context, token string) ([]Post, error)

	// GetFollowingPosts returns posts by users that username follows, in server order.
	GetFollowingPosts(ctx context.Context, token, username string) ([]Post, error)

	// CreatePost publishes a post and returns the raw server response.
	CreatePost(ctx context.Context, token string, post NewPost) (json.RawMessage, error)
}
