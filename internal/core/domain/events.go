package domain

import (
	"context"
	"encoding/json"
)

// Event names pushed by the backend's event channel.
const (
	EventConnect      = "connect"
	EventConnectError = "connect_error"
	EventNewPost      = "new post"
)

// Event is a server-pushed notification.
type Event struct {
	Name    string
	Payload json.RawMessage
}

// EventConn is one live connection to the backend's event channel.
type EventConn interface {
	// ReadEvent blocks until the next event arrives or the connection fails.
	// After Close it returns an error.
	ReadEvent() (Event, error)

	// Close releases the connection. It is safe to call more than once.
	Close() error
}

// EventDialer opens event connections scoped to a session credential.
type EventDialer interface {
	// Dial performs the handshake and returns once the channel is connected.
	Dial(ctx context.Context, token string) (EventConn, error)
}
