package domain

import "time"

// Post represents an indexed BlueSky post stored in our database.
type Post struct {
	// URI is the AT-URI of the post (e.g. at://did:plc:abc/app.bsky.feed.post/3l3qo2vuowo2b).
	URI string

	// CID is the content identifier of the record.
	CID string

	// ReplyParent and ReplyRoot are the AT-URIs of the reply chain, empty for
	// top-level posts.
	ReplyParent string
	ReplyRoot   string

	// IndexedAt is when we indexed this post, truncated to milliseconds.
	IndexedAt time.Time
}

// PostVector holds the normalized text of a post and its embedding.
type PostVector struct {
	Text   string
	Vector Vector
}

// IncomingPost represents a new post from the firehose that hasn't been
// persisted yet. It carries the text and metadata needed for classification.
type IncomingPost struct {
	// URI is the AT-URI of the post.
	URI string

	// CID is the content identifier of the record.
	CID string

	// AuthorDID is the DID of the post's author.
	AuthorDID string

	// Record is the decoded app.bsky.feed.post record.
	Record PostRecord
}

// PostRecord is the subset of an app.bsky.feed.post record used for
// classification.
type PostRecord struct {
	Text      string
	CreatedAt time.Time
	Langs     []string
	Reply     *ReplyRef
	Facets    []Facet
	Embed     Embed
}

// ReplyRef points at the parent and root of a reply chain.
type ReplyRef struct {
	ParentURI string
	RootURI   string
}

// IsReply reports whether the record is a reply to another post.
func (r PostRecord) IsReply() bool {
	return r.Reply != nil && r.Reply.ParentURI != ""
}
