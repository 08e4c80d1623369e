package v1

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/duynhne/feed-sync/internal/core/domain"
	"github.com/duynhne/feed-sync/middleware"
	pkgzerolog "github.com/duynhne/pkg/logger/zerolog"
)

// SyncState is the lifecycle state of the live feed connection.
type SyncState int

const (
	StateDisconnected SyncState = iota
	StateConnecting
	StateConnected
	StateClosed
)

func (s SyncState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

type feedRefresher interface {
	FetchAll(ctx context.Context, sess *domain.Session) error
}

// liveConn is one connection handle plus the work spawned from it.
type liveConn struct {
	conn      domain.EventConn
	cancel    context.CancelFunc
	done      chan struct{}
	refetches sync.WaitGroup
}

// release cancels in-flight re-fetches and closes the connection.
// cancel runs first so the listener can tell a requested close from a failure.
func (l *liveConn) release() {
	l.cancel()
	_ = l.conn.Close()
}

func (l *liveConn) wait() {
	<-l.done
	l.refetches.Wait()
}

// Synchronizer owns the live event connection of one session and turns
// "new post" pushes into full re-fetches of the Everything feed.
type Synchronizer struct {
	dialer           domain.EventDialer
	guard            *SessionGuard
	feed             feedRefresher
	handshakeTimeout time.Duration

	mu         sync.Mutex
	state      SyncState
	live       *liveConn
	gen        uint64
	cancelDial context.CancelFunc
}

// NewSynchronizer creates a Synchronizer in the Disconnected state.
func NewSynchronizer(dialer domain.EventDialer, guard *SessionGuard, feed feedRefresher, handshakeTimeout time.Duration) *Synchronizer {
	s := &Synchronizer{
		dialer:           dialer,
		guard:            guard,
		feed:             feed,
		handshakeTimeout: handshakeTimeout,
	}
	middleware.SetSyncState(int(StateDisconnected))
	return s
}

// State returns the current state.
func (s *Synchronizer) State() SyncState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// OpenHandles returns the number of live connection handles (0 or 1).
func (s *Synchronizer) OpenHandles() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.live == nil {
		return 0
	}
	return 1
}

// Start connects the event channel for sess. A previously open handle and any
// dial still in progress are released first. A rejected session leaves the
// Synchronizer Disconnected and returns nil. A failed handshake returns
// *domain.ConnectionError and is not retried. A dial superseded by Close or a
// later Start is discarded and Start returns nil.
func (s *Synchronizer) Start(ctx context.Context, sess *domain.Session) error {
	ctx, span := middleware.StartSpan(ctx, "sync.start", trace.WithAttributes(
		attribute.String("layer", "logic"),
	))
	defer span.End()

	valid := s.guard.Valid(ctx, sess)

	s.mu.Lock()
	s.gen++
	gen := s.gen
	s.abortLocked()

	if !valid {
		span.AddEvent("session.rejected")
		s.setStateLocked(StateDisconnected)
		s.mu.Unlock()
		return nil
	}

	var (
		dialCtx context.Context
		cancel  context.CancelFunc
	)
	if s.handshakeTimeout > 0 {
		dialCtx, cancel = context.WithTimeout(ctx, s.handshakeTimeout)
	} else {
		dialCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()
	s.cancelDial = cancel
	s.setStateLocked(StateConnecting)
	s.mu.Unlock()

	logger := pkgzerolog.FromContext(ctx).With().
		Str("component", "sync").
		Str("username", sess.Username).
		Logger()

	conn, err := s.dialer.Dial(dialCtx, sess.Credential.Value)

	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.gen {
		if conn != nil {
			_ = conn.Close()
		}
		span.AddEvent("dial.superseded")
		logger.Debug().Msg("Dial superseded, connection discarded")
		return nil
	}
	s.cancelDial = nil

	if err != nil {
		connErr := &domain.ConnectionError{Message: err.Error()}
		span.RecordError(connErr)
		s.setStateLocked(StateDisconnected)
		middleware.RecordPushEvent(domain.EventConnectError)
		logger.Warn().Err(connErr).Msg("Failed to connect to the event channel")
		return connErr
	}

	runCtx, runCancel := context.WithCancel(context.WithoutCancel(ctx))
	live := &liveConn{
		conn:   conn,
		cancel: runCancel,
		done:   make(chan struct{}),
	}
	s.live = live
	s.setStateLocked(StateConnected)
	middleware.RecordPushEvent(domain.EventConnect)
	logger.Info().Msg("Connected to the event channel")

	go s.listen(runCtx, live, sess, logger)
	return nil
}

// Close aborts a dial in progress, releases the connection handle, cancels
// in-flight re-fetches and waits for them. The Synchronizer ends Closed;
// Start may be called again.
func (s *Synchronizer) Close() error {
	s.mu.Lock()
	s.gen++
	live := s.live
	s.abortLocked()
	s.setStateLocked(StateClosed)
	s.mu.Unlock()

	if live != nil {
		live.wait()
	}
	return nil
}

// abortLocked cancels a pending dial and releases the open handle.
func (s *Synchronizer) abortLocked() {
	if s.cancelDial != nil {
		s.cancelDial()
		s.cancelDial = nil
	}
	if s.live != nil {
		s.live.release()
		s.live = nil
	}
}

func (s *Synchronizer) listen(ctx context.Context, live *liveConn, sess *domain.Session, logger zerolog.Logger) {
	defer close(live.done)

	for {
		ev, err := live.conn.ReadEvent()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			connErr := &domain.ConnectionError{Message: err.Error()}
			logger.Warn().Err(connErr).Msg("Event channel lost")

			s.mu.Lock()
			if s.live == live {
				s.live = nil
				live.release()
				s.setStateLocked(StateDisconnected)
			}
			s.mu.Unlock()
			return
		}

		middleware.RecordPushEvent(ev.Name)

		if ev.Name != domain.EventNewPost {
			logger.Debug().Str("event", ev.Name).Msg("Ignoring event")
			continue
		}

		logger.Debug().RawJSON("payload", nonEmptyJSON(ev.Payload)).Msg("New post received, re-fetching feed")
		live.refetches.Add(1)
		go func() {
			defer live.refetches.Done()
			if err := s.feed.FetchAll(ctx, sess); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error().Err(err).Msg("Re-fetch after new post failed")
			}
		}()
	}
}

func (s *Synchronizer) setStateLocked(state SyncState) {
	s.state = state
	middleware.SetSyncState(int(state))
}
