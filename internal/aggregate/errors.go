package aggregate

import "errors"

var (
	// ErrReferenceNotFound is returned when an event names a billboard
	// that does not exist.
	ErrReferenceNotFound = errors.New("referenced billboard not found")

	// ErrMalformedEvent is returned when an event cannot be normalized.
	ErrMalformedEvent = errors.New("malformed detection event")
)
