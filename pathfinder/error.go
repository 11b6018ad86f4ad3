package pathfinder

import (
	"strconv"
	"strings"

	"Friend_Path/socialgraph/graph"
	"golang.org/x/xerrors"
)

// ErrInvalidHandle is matched by errors returned when one or both endpoints
// of a search cannot be resolved.
var ErrInvalidHandle = xerrors.New("invalid username(s)")

// InvalidHandleError lists the handles that failed to resolve. It matches
// both ErrInvalidHandle and graph.ErrNotFound.
type InvalidHandleError struct {
	Handles []string

	// The resolution failures, one per handle.
	Err error
}

func (e *InvalidHandleError) Error() string {
	quoted := make([]string, len(e.Handles))
	for i, h := range e.Handles {
		quoted[i] = strconv.Quote(h)
	}
	return ErrInvalidHandle.Error() + ": " + strings.Join(quoted, ", ")
}

// Unwrap returns the underlying resolution failures.
func (e *InvalidHandleError) Unwrap() error { return e.Err }

// Is allows the error to be matched with xerrors.Is.
func (e *InvalidHandleError) Is(target error) bool {
	return target == ErrInvalidHandle || target == graph.ErrNotFound
}
