package robloxapi

import (
	"fmt"

	"golang.org/x/xerrors"
)

// ErrThrottled is returned when the remote API answers with HTTP 429.
var ErrThrottled = xerrors.New("throttled by remote API")

// StatusError is returned for non-success responses other than throttling.
type StatusError struct {
	StatusCode int
	URL        string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected HTTP status %d from %s", e.StatusCode, e.URL)
}

// ServerSide reports whether the status denotes a remote-side failure.
func (e *StatusError) ServerSide() bool {
	return e.StatusCode >= 500
}
