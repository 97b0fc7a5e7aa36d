package domain

import (
	"context"
	"time"
)

// PostRepository defines persistence operations for indexed posts.
type PostRepository interface {
	// AcceptPost stores a post and its vector atomically. Storing the same
	// URI twice is a no-op.
	AcceptPost(ctx context.Context, post *Post, vector *PostVector) error

	// DeleteExpiredPosts removes posts indexed before cutoff together with
	// their vectors. Returns the number of posts deleted.
	DeleteExpiredPosts(ctx context.Context, cutoff time.Time) (int64, error)

	// GetFeedPosts retrieves up to limit posts ordered by indexedAt
	// descending, then CID descending, strictly after cursor when it is
	// non-nil.
	GetFeedPosts(ctx context.Context, limit int, cursor *Cursor) ([]Post, error)
}

// ProfileRepository defines persistence operations for viewer profiles.
type ProfileRepository interface {
	// GetProfile returns the profile of did, or ErrNotFound.
	GetProfile(ctx context.Context, did string) (*Profile, error)

	// ListProfiles returns every stored profile.
	ListProfiles(ctx context.Context) ([]Profile, error)

	// UpsertProfileList replaces one list of a profile, creating the profile
	// if needed. The other list is left untouched; modifiedAt is always
	// written.
	UpsertProfileList(ctx context.Context, did string, kind ListKind, list ProfileList, modifiedAt time.Time) error
}

// CursorRepository defines persistence operations for firehose cursors.
type CursorRepository interface {
	// GetCursor retrieves the last-processed firehose cursor for the given
	// service name. Returns 0 if no cursor has been saved.
	GetCursor(ctx context.Context, service string) (int64, error)

	// UpdateCursor persists the firehose cursor so we can resume on restart.
	UpdateCursor(ctx context.Context, service string, cursor int64) error
}

// Encoder turns text into an embedding vector.
type Encoder interface {
	Encode(ctx context.Context, text string) (Vector, error)
}

// TextProcessor canonicalizes post content for scoring.
type TextProcessor interface {
	// ExtractExtras collects link targets, alt-text and link card text from
	// a record. It never fails; unreachable content is skipped.
	ExtractExtras(ctx context.Context, record *PostRecord) string

	// Normalize returns the cleaned primary text followed by the cleaned
	// extras.
	Normalize(rawText, extras string) string

	// PageText returns the cleaned visible text of a web page, or "".
	PageText(ctx context.Context, url string) string
}
