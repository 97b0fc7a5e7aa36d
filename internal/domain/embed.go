package domain

// Lexicon type identifiers for the record shapes we understand.
const (
	FacetLinkType            = "app.bsky.richtext.facet#link"
	EmbedImagesType          = "app.bsky.embed.images"
	EmbedExternalType        = "app.bsky.embed.external"
	EmbedRecordType          = "app.bsky.embed.record"
	EmbedRecordWithMediaType = "app.bsky.embed.recordWithMedia"
)

// Facet is a rich-text annotation on a post.
type Facet struct {
	Features []FacetFeature
}

// FacetFeature is a single facet feature. Only link features carry a URI.
type FacetFeature struct {
	Type string
	URI  string
}

// Embed is one of the embed kinds a post can carry.
type Embed interface {
	EmbedType() string
}

// EmbedImages is an app.bsky.embed.images embed.
type EmbedImages struct {
	Images []EmbedImage
}

// EmbedImage is a single image with its alt-text.
type EmbedImage struct {
	Alt string
}

func (EmbedImages) EmbedType() string { return EmbedImagesType }

// EmbedExternal is a link card.
type EmbedExternal struct {
	URI         string
	Title       string
	Description string
}

func (EmbedExternal) EmbedType() string { return EmbedExternalType }

// EmbedRecord is a quote of another record. It carries no text of its own.
type EmbedRecord struct {
	URI string
	CID string
}

func (EmbedRecord) EmbedType() string { return EmbedRecordType }

// EmbedRecordWithMedia wraps a quoted record together with a media embed.
type EmbedRecordWithMedia struct {
	Record EmbedRecord
	Media  Embed
}

func (EmbedRecordWithMedia) EmbedType() string { return EmbedRecordWithMediaType }
