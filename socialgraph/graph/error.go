package graph

import "golang.org/x/xerrors"

var (
	// ErrNotFound is returned when a handle does not resolve to a member.
	ErrNotFound = xerrors.New("not found")

	// ErrNoPath is returned when a search terminates without the two sides
	// meeting, either because a frontier ran dry or a budget was exhausted.
	ErrNoPath = xerrors.New("no path found")
)
