// Package v1 provides the session-bound feed logic for API version 1.
//
// Error Handling:
// An expired or absent credential is not an error: guarded operations return
// nil without touching the network, and callers observe the unauthenticated
// state through HomeService.Authenticated.
//
// Failures that are surfaced use the domain error types or the sentinels
// below, wrapped with context via fmt.Errorf("%w"):
//
//	var reqErr *domain.RequestError
//	switch {
//	case errors.As(err, &reqErr):
//	    c.JSON(http.StatusBadGateway, gin.H{"error": "Feed backend error", "upstream_status": reqErr.StatusCode})
//	case errors.Is(err, logicv1.ErrUnknownTab):
//	    c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
//	default:
//	    c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
//	}
package v1

import "errors"

var (
	// ErrSessionNotFound indicates no session is stored for the configured user.
	ErrSessionNotFound = errors.New("session not found")

	// ErrUnknownTab indicates a feed tab other than everything or following.
	ErrUnknownTab = errors.New("unknown feed tab")
)
