package textnorm

import (
	"context"
	"strings"

	"github.com/blackmichael/bluesky-listfeed/internal/domain"
)

// ExtractExtras collects link facet targets, image alt-text and link card
// text from record. Link card pages are fetched when a PageFetcher is set.
func (n *Normalizer) ExtractExtras(ctx context.Context, record *domain.PostRecord) string {
	var extras []string

	for _, facet := range record.Facets {
		for _, feature := range facet.Features {
			if feature.Type == domain.FacetLinkType && feature.URI != "" {
				extras = append(extras, feature.URI)
			}
		}
	}

	extras = n.embedExtras(ctx, record.Embed, extras)

	if len(extras) > 0 {
		n.logger.Debug("extracted extra text", "parts", len(extras))
	}
	return strings.Join(extras, " ")
}

func (n *Normalizer) embedExtras(ctx context.Context, embed domain.Embed, extras []string) []string {
	switch e := embed.(type) {
	case domain.EmbedImages:
		for _, img := range e.Images {
			if img.Alt != "" {
				extras = append(extras, img.Alt)
			}
		}
	case domain.EmbedExternal:
		for _, s := range []string{e.Title, e.Description} {
			if s != "" {
				extras = append(extras, s)
			}
		}
		if e.URI != "" {
			if page := n.PageText(ctx, e.URI); page != "" {
				extras = append(extras, page)
			}
		}
	case domain.EmbedRecordWithMedia:
		extras = n.embedExtras(ctx, e.Media, extras)
	}
	return extras
}

// PageText returns the cleaned visible text of the page at url, or "".
func (n *Normalizer) PageText(ctx context.Context, url string) string {
	if n.fetcher == nil {
		return ""
	}
	return n.Clean(n.fetcher.VisibleText(ctx, url))
}
