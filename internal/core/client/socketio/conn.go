// Package socketio is a minimal Socket.IO v5 client (Engine.IO v4, websocket
// transport only) for the feed backend's push channel.
//
// Only what a listener needs is supported: namespace connect, server-pushed
// events and the ping/pong heartbeat. Acks and binary events are ignored.
package socketio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/duynhne/feed-sync/internal/core/domain"
)

// Engine.IO packet types.
const (
	eioOpen    = '0'
	eioClose   = '1'
	eioPing    = '2'
	eioPong    = '3'
	eioMessage = '4'
)

// Socket.IO packet types.
const (
	sioConnect      = '0'
	sioDisconnect   = '1'
	sioEvent        = '2'
	sioConnectError = '4'
)

const writeTimeout = 5 * time.Second

var (
	// ErrClosed is returned by ReadEvent after Close.
	ErrClosed = errors.New("socketio: connection closed")
	// ErrServerDisconnect is returned when the server ends the session.
	ErrServerDisconnect = errors.New("socketio: server disconnected")
)

// ConnectError carries the message of a connect_error packet.
type ConnectError struct {
	Message string
}

func (e *ConnectError) Error() string {
	return "socketio: connect_error: " + e.Message
}

type openPacket struct {
	SID          string `json:"sid"`
	PingInterval int    `json:"pingInterval"`
	PingTimeout  int    `json:"pingTimeout"`
}

// Dialer implements domain.EventDialer.
type Dialer struct {
	baseURL          url.URL
	path             string
	namespace        string
	handshakeTimeout time.Duration
	ws               *websocket.Dialer
}

var _ domain.EventDialer = (*Dialer)(nil)

// Option configures a Dialer.
type Option func(*Dialer)

// WithNamespace connects to a namespace other than "/".
func WithNamespace(ns string) Option {
	return func(d *Dialer) {
		if !strings.HasPrefix(ns, "/") {
			ns = "/" + ns
		}
		d.namespace = ns
	}
}

// WithWebsocketDialer replaces the underlying websocket dialer.
func WithWebsocketDialer(ws *websocket.Dialer) Option {
	return func(d *Dialer) {
		d.ws = ws
	}
}

// NewDialer creates a Dialer for the server at baseURL. path is the Socket.IO
// endpoint, usually "/socket.io/".
func NewDialer(baseURL url.URL, path string, handshakeTimeout time.Duration, opts ...Option) *Dialer {
	d := &Dialer{
		baseURL:          baseURL,
		path:             path,
		namespace:        "/",
		handshakeTimeout: handshakeTimeout,
		ws: &websocket.Dialer{
			HandshakeTimeout: handshakeTimeout,
		},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Endpoint returns the websocket URL dialed for token.
func (d *Dialer) Endpoint(token string) string {
	u := d.baseURL
	switch u.Scheme {
	case "https", "wss":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/" + strings.Trim(d.path, "/") + "/"
	u.RawPath = ""

	q := u.Query()
	q.Set("EIO", "4")
	q.Set("transport", "websocket")
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String()
}

// Dial opens the websocket, completes the Engine.IO open and the Socket.IO
// namespace connect, and returns a connected Conn.
func (d *Dialer) Dial(ctx context.Context, token string) (domain.EventConn, error) {
	ws, resp, err := d.ws.DialContext(ctx, d.Endpoint(token), nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("socketio: dial: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("socketio: dial: %w", err)
	}

	c := &Conn{ws: ws, namespace: d.namespace}
	if err := c.handshake(ctx, d.handshakeTimeout); err != nil {
		_ = ws.Close()
		return nil, err
	}
	return c, nil
}

// Conn is a connected Socket.IO session. ReadEvent must be called from a single
// goroutine; Close may be called from any goroutine.
type Conn struct {
	ws         *websocket.Conn
	namespace  string
	sid        string
	pingWindow time.Duration

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    atomic.Bool
}

var _ domain.EventConn = (*Conn)(nil)

// SID returns the Engine.IO session id assigned by the server.
func (c *Conn) SID() string {
	return c.sid
}

func (c *Conn) handshake(ctx context.Context, timeout time.Duration) error {
	if timeout > 0 {
		_ = c.ws.SetReadDeadline(time.Now().Add(timeout))
	}
	stop := context.AfterFunc(ctx, func() {
		_ = c.ws.SetReadDeadline(time.Now())
	})
	defer stop()

	_, data, err := c.ws.ReadMessage()
	if err != nil {
		return fmt.Errorf("socketio: read open packet: %w", err)
	}
	if len(data) == 0 || data[0] != eioOpen {
		return fmt.Errorf("socketio: unexpected first packet %q", truncate(data))
	}
	var open openPacket
	if err := json.Unmarshal(data[1:], &open); err != nil {
		return fmt.Errorf("socketio: decode open packet: %w", err)
	}
	c.sid = open.SID
	if open.PingInterval > 0 {
		c.pingWindow = time.Duration(open.PingInterval+open.PingTimeout) * time.Millisecond
	}

	if err := c.write(string([]byte{eioMessage, sioConnect}) + c.nsPrefix()); err != nil {
		return fmt.Errorf("socketio: send connect: %w", err)
	}

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return fmt.Errorf("socketio: await connect: %w", err)
		}
		pkt := string(data)
		switch {
		case pkt == "":
			continue
		case pkt[0] == eioPing:
			if err := c.write(string(eioPong) + pkt[1:]); err != nil {
				return fmt.Errorf("socketio: send pong: %w", err)
			}
			continue
		case pkt[0] == eioClose:
			return ErrServerDisconnect
		case pkt[0] != eioMessage:
			continue
		}

		typ, ns, body, ok := splitMessage(pkt[1:])
		if !ok || ns != c.namespace {
			continue
		}
		switch typ {
		case sioConnect:
			_ = c.ws.SetReadDeadline(time.Time{})
			return nil
		case sioConnectError:
			return parseConnectError(body)
		}
	}
}

// ReadEvent returns the next event for the connected namespace, answering
// heartbeats along the way.
func (c *Conn) ReadEvent() (domain.Event, error) {
	for {
		if c.pingWindow > 0 {
			_ = c.ws.SetReadDeadline(time.Now().Add(c.pingWindow))
		}
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if c.closed.Load() {
				return domain.Event{}, ErrClosed
			}
			return domain.Event{}, fmt.Errorf("socketio: read: %w", err)
		}

		pkt := string(data)
		if pkt == "" {
			continue
		}
		switch pkt[0] {
		case eioPing:
			if err := c.write(string(eioPong) + pkt[1:]); err != nil {
				return domain.Event{}, fmt.Errorf("socketio: send pong: %w", err)
			}
			continue
		case eioClose:
			return domain.Event{}, ErrServerDisconnect
		case eioMessage:
		default:
			continue
		}

		typ, ns, body, ok := splitMessage(pkt[1:])
		if !ok || ns != c.namespace {
			continue
		}
		switch typ {
		case sioEvent:
			ev, err := parseEvent(body)
			if err != nil {
				return domain.Event{}, err
			}
			return ev, nil
		case sioDisconnect:
			return domain.Event{}, ErrServerDisconnect
		case sioConnectError:
			return domain.Event{}, parseConnectError(body)
		}
	}
}

// Close leaves the namespace and closes the websocket.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		_ = c.write(string([]byte{eioMessage, sioDisconnect}) + c.nsPrefix())
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeTimeout))
		err = c.ws.Close()
	})
	return err
}

func (c *Conn) write(msg string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.ws.WriteMessage(websocket.TextMessage, []byte(msg))
}

// nsPrefix is the namespace segment of an outgoing packet; empty for "/".
func (c *Conn) nsPrefix() string {
	if c.namespace == "/" {
		return ""
	}
	return c.namespace + ","
}

// splitMessage splits a Socket.IO packet (without the Engine.IO type) into
// its type, namespace and payload. The ack id, if any, is dropped.
func splitMessage(msg string) (typ byte, ns, body string, ok bool) {
	if msg == "" {
		return 0, "", "", false
	}
	typ, rest := msg[0], msg[1:]

	ns = "/"
	if strings.HasPrefix(rest, "/") {
		if i := strings.IndexByte(rest, ','); i >= 0 {
			ns, rest = rest[:i], rest[i+1:]
		} else {
			ns, rest = rest, ""
		}
	}

	i := 0
	for i < len(rest) && rest[i] >= '0' && rest[i] <= '9' {
		i++
	}
	return typ, ns, rest[i:], true
}

func parseEvent(body string) (domain.Event, error) {
	var args []json.RawMessage
	if err := json.Unmarshal([]byte(body), &args); err != nil {
		return domain.Event{}, fmt.Errorf("socketio: decode event: %w", err)
	}
	if len(args) == 0 {
		return domain.Event{}, errors.New("socketio: event without name")
	}

	var ev domain.Event
	if err := json.Unmarshal(args[0], &ev.Name); err != nil {
		return domain.Event{}, fmt.Errorf("socketio: decode event name: %w", err)
	}
	if len(args) > 1 {
		ev.Payload = args[1]
	}
	return ev, nil
}

func parseConnectError(body string) error {
	var payload struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal([]byte(body), &payload); err != nil || payload.Message == "" {
		return &ConnectError{Message: strings.TrimSpace(body)}
	}
	return &ConnectError{Message: payload.Message}
}

func truncate(b []byte) string {
	const limit = 64
	if len(b) > limit {
		return string(b[:limit]) + "..."
	}
	return string(b)
}
