package domain

import (
	"fmt"
	"net/http"
)

// RequestError reports a non-success response from the feed backend.
type RequestError struct {
	StatusCode int
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("request failed: %d %s", e.StatusCode, http.StatusText(e.StatusCode))
}

// ConnectionError reports a handshake or runtime failure of the event channel.
type ConnectionError struct {
	Message string
}

func (e *ConnectionError) Error() string {
	return "event channel: " + e.Message
}
