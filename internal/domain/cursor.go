package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// CursorEOF is the sentinel cursor returned once the feed is exhausted.
const CursorEOF = "eof"

const cursorSeparator = "::"

// Cursor is the position of the last post a client has seen.
type Cursor struct {
	IndexedAt time.Time
	CID       string
}

// String encodes the cursor as "indexedAtMillis::cid".
func (c Cursor) String() string {
	return fmt.Sprintf("%d%s%s", c.IndexedAt.UnixMilli(), cursorSeparator, c.CID)
}

// CursorAfter returns the cursor pointing at post.
func CursorAfter(post Post) Cursor {
	return Cursor{IndexedAt: post.IndexedAt, CID: post.CID}
}

// ParseCursor decodes a cursor produced by Cursor.String. The sentinel
// CursorEOF is not a valid position and must be handled by the caller.
func ParseCursor(raw string) (Cursor, error) {
	parts := strings.Split(raw, cursorSeparator)
	if len(parts) != 2 {
		return Cursor{}, fmt.Errorf("%w: %q must be in format 'timestamp::cid'", ErrMalformedCursor, raw)
	}
	millis, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return Cursor{}, fmt.Errorf("%w: invalid timestamp in %q: %w", ErrMalformedCursor, raw, err)
	}
	return Cursor{IndexedAt: time.UnixMilli(millis).UTC(), CID: parts[1]}, nil
}
