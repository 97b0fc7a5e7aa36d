package domain

import "errors"

var (
	// ErrNotFound is returned by repositories when a record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrNotAuthorized means the requester could not be identified or has no
	// profile on this feed.
	ErrNotAuthorized = errors.New("not authorized")

	// ErrMalformedCursor means a pagination cursor could not be parsed.
	ErrMalformedCursor = errors.New("malformed cursor")

	// ErrUnknownFeed means the requested feed URI is not served here.
	ErrUnknownFeed = errors.New("unknown feed")

	// ErrDimensionMismatch means vectors being compared have unequal, zero or
	// missing dimensionality.
	ErrDimensionMismatch = errors.New("dimension mismatch")
)
