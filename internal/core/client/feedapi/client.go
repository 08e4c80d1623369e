// Package feedapi is the HTTP client for the feed backend's /posts endpoints.
package feedapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/duynhne/feed-sync/internal/core/domain"
)

// maxBodySize bounds how much of a response body is read.
const maxBodySize = 4 << 20

type httpClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client implements domain.FeedAPI.
type Client struct {
	client    httpClient
	serverURL url.URL
	timeout   time.Duration
}

var _ domain.FeedAPI = (*Client)(nil)

// NewClient creates a Client. A nil client gets an otelhttp-instrumented default.
// A zero timeout leaves request deadlines to the caller's context.
func NewClient(client httpClient, serverURL url.URL, timeout time.Duration) *Client {
	if client == nil {
		client = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}
	return &Client{
		client:    client,
		serverURL: serverURL,
		timeout:   timeout,
	}
}

// GetPosts calls GET /posts/getPosts.
func (c *Client) GetPosts(ctx context.Context, token string) ([]domain.Post, error) {
	return c.getPosts(ctx, token, c.serverURL.JoinPath("posts", "getPosts"))
}

// GetFollowingPosts calls GET /posts/getFollowingPosts/{username}.
func (c *Client) GetFollowingPosts(ctx context.Context, token, username string) ([]domain.Post, error) {
	return c.getPosts(ctx, token, c.serverURL.JoinPath("posts", "getFollowingPosts", pathSegment(username)))
}

// pathSegment escapes s as a single path segment. JoinPath treats its
// arguments as escaped paths and cleans dot segments, so "/" and a bare
// "." or ".." are percent-encoded.
func pathSegment(s string) string {
	switch s {
	case ".":
		return "%2E"
	case "..":
		return "%2E%2E"
	}
	return url.PathEscape(s)
}

// CreatePost calls POST /posts/create.
func (c *Client) CreatePost(ctx context.Context, token string, post domain.NewPost) (json.RawMessage, error) {
	body, err := json.Marshal(post)
	if err != nil {
		return nil, fmt.Errorf("encode post: %w", err)
	}

	data, err := c.do(ctx, http.MethodPost, c.serverURL.JoinPath("posts", "create"), token, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("create post: response is not JSON")
	}
	return json.RawMessage(data), nil
}

func (c *Client) getPosts(ctx context.Context, token string, u *url.URL) ([]domain.Post, error) {
	data, err := c.do(ctx, http.MethodGet, u, token, nil)
	if err != nil {
		return nil, err
	}

	var resp domain.PostsResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("decode %s: %w", u.Path, err)
	}
	if resp.Posts == nil {
		return []domain.Post{}, nil
	}
	return resp.Posts, nil
}

func (c *Client) do(ctx context.Context, method string, u *url.URL, token string, body io.Reader) ([]byte, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, u.Path, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodySize))
		return nil, &domain.RequestError{StatusCode: resp.StatusCode}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", u.Path, err)
	}
	return data, nil
}
