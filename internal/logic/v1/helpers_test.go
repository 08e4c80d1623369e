package v1

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/duynhne/feed-sync/internal/core/domain"
	"github.com/duynhne/feed-sync/internal/core/repository"
)

var baseTime = time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestGuard(store domain.SessionStore) (*SessionGuard, *testClock) {
	clock := &testClock{t: baseTime}
	g := NewSessionGuard(store, 0)
	g.now = clock.Now
	return g, clock
}

func validSession() *domain.Session {
	return &domain.Session{
		Username: "alice",
		Credential: domain.Credential{
			Value:     "tok-alice",
			ExpiresAt: baseTime.Add(time.Hour),
		},
	}
}

func expiredSession() *domain.Session {
	s := validSession()
	s.Credential.ExpiresAt = baseTime.Add(-time.Minute)
	return s
}

func storeWith(sessions ...*domain.Session) *repository.MemorySessionStore {
	store := repository.NewMemorySessionStore()
	for _, s := range sessions {
		_ = store.Save(context.Background(), s)
	}
	return store
}

// fakeAPI records calls. getPosts, when set, overrides the GetPosts response per call (1-based).
type fakeAPI struct {
	mu        sync.Mutex
	calls     []string
	tokens    []string
	posts     []domain.Post
	following []domain.Post
	err       error
	created   []domain.NewPost
	getPosts  func(call int) ([]domain.Post, error)
	fetchAlls int
}

func (a *fakeAPI) GetPosts(_ context.Context, token string) ([]domain.Post, error) {
	a.mu.Lock()
	a.calls = append(a.calls, "getPosts")
	a.tokens = append(a.tokens, token)
	a.fetchAlls++
	call := a.fetchAlls
	override := a.getPosts
	posts, err := a.posts, a.err
	a.mu.Unlock()

	if override != nil {
		return override(call)
	}
	return posts, err
}

func (a *fakeAPI) GetFollowingPosts(_ context.Context, token, username string) ([]domain.Post, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, "getFollowingPosts/"+username)
	a.tokens = append(a.tokens, token)
	return a.following, a.err
}

func (a *fakeAPI) CreatePost(_ context.Context, token string, post domain.NewPost) (json.RawMessage, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, "create")
	a.tokens = append(a.tokens, token)
	if a.err != nil {
		return nil, a.err
	}
	a.created = append(a.created, post)
	return json.RawMessage(`{"ok":true}`), nil
}

func (a *fakeAPI) Calls() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.calls...)
}

func (a *fakeAPI) CallCount(name string) int {
	n := 0
	for _, c := range a.Calls() {
		if c == name {
			n++
		}
	}
	return n
}

type fakeConn struct {
	events    chan domain.Event
	errs      chan error
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		events: make(chan domain.Event),
		errs:   make(chan error, 1),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) ReadEvent() (domain.Event, error) {
	select {
	case ev := <-c.events:
		return ev, nil
	case err := <-c.errs:
		return domain.Event{}, err
	case <-c.closed:
		return domain.Event{}, errors.New("use of closed connection")
	}
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) IsClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

type fakeDialer struct {
	mu     sync.Mutex
	conns  []*fakeConn
	tokens []string
	err    error
}

func (d *fakeDialer) Dial(_ context.Context, token string) (domain.EventConn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tokens = append(d.tokens, token)
	if d.err != nil {
		return nil, d.err
	}
	c := newFakeConn()
	d.conns = append(d.conns, c)
	return c, nil
}

func (d *fakeDialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.tokens)
}

func (d *fakeDialer) Last() *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

// OpenConns counts dialed connections that were never closed.
func (d *fakeDialer) OpenConns() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, c := range d.conns {
		if !c.IsClosed() {
			n++
		}
	}
	return n
}

func posts(titles ...string) []domain.Post {
	out := make([]domain.Post, 0, len(titles))
	for _, t := range titles {
		out = append(out, domain.Post{Title: t, Description: t + "-desc", Username: "bob"})
	}
	return out
}

// gatedDialer blocks in Dial until release is closed. With honorCtx it also
// gives up when the dial context ends.
type gatedDialer struct {
	started  chan struct{}
	release  chan struct{}
	honorCtx bool
	conn     *fakeConn
}

func newGatedDialer(honorCtx bool) *gatedDialer {
	return &gatedDialer{
		started:  make(chan struct{}),
		release:  make(chan struct{}),
		honorCtx: honorCtx,
		conn:     newFakeConn(),
	}
}

func (d *gatedDialer) Dial(ctx context.Context, _ string) (domain.EventConn, error) {
	close(d.started)
	done := ctx.Done()
	if !d.honorCtx {
		done = nil
	}
	select {
	case <-d.release:
		return d.conn, nil
	case <-done:
		return nil, ctx.Err()
	}
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
