package session

import "errors"

var (
	// ErrNotFound is returned by Store lookups for unknown or already
	// closed session ids.
	ErrNotFound = errors.New("session not found")

	// ErrGenerationUnavailable wraps a generation failure that survived
	// the bounded retry. The engine degrades the turn instead of
	// propagating it, so callers normally only see it in logs.
	ErrGenerationUnavailable = errors.New("generation unavailable")
)
