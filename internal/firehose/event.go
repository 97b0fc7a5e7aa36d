package firehose

import (
	"encoding/json"
	"fmt"

	"github.com/blackmichael/bluesky-listfeed/internal/domain"
	"github.com/bluesky-social/indigo/atproto/syntax"
)

const postCollection = "app.bsky.feed.post"

// jetstreamEvent is the raw JSON structure from Jetstream.
type jetstreamEvent struct {
	DID    string           `json:"did"`
	TimeUS int64            `json:"time_us"`
	Kind   string           `json:"kind"`
	Commit *jetstreamCommit `json:"commit,omitempty"`
}

// jetstreamCommit is the raw commit data from Jetstream.
type jetstreamCommit struct {
	Rev        string          `json:"rev"`
	Operation  string          `json:"operation"`
	Collection string          `json:"collection"`
	RKey       string          `json:"rkey"`
	Record     json.RawMessage `json:"record,omitempty"`
	CID        string          `json:"cid"`
}

// postRecord is the parsed content of an app.bsky.feed.post record.
type postRecord struct {
	Text      string          `json:"text"`
	CreatedAt string          `json:"createdAt"`
	Langs     []string        `json:"langs"`
	Reply     *replyRef       `json:"reply,omitempty"`
	Facets    []facet         `json:"facets,omitempty"`
	Embed     json.RawMessage `json:"embed,omitempty"`
}

type replyRef struct {
	Root   strongRef `json:"root"`
	Parent strongRef `json:"parent"`
}

type strongRef struct {
	URI string `json:"uri"`
	CID string `json:"cid"`
}

type facet struct {
	Features []struct {
		Type string `json:"$type"`
		URI  string `json:"uri"`
	} `json:"features"`
}

// rawEmbed holds the union of fields used by the embed kinds we read.
type rawEmbed struct {
	Type   string `json:"$type"`
	Images []struct {
		Alt string `json:"alt"`
	} `json:"images"`
	External *struct {
		URI         string `json:"uri"`
		Title       string `json:"title"`
		Description string `json:"description"`
	} `json:"external"`
	Record json.RawMessage `json:"record"`
	Media  json.RawMessage `json:"media"`
}

func parseEvent(data []byte) (*jetstreamEvent, error) {
	var event jetstreamEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, fmt.Errorf("unmarshal event: %w", err)
	}
	return &event, nil
}

// postURI builds the AT-URI of the record a commit touches.
func postURI(event *jetstreamEvent) (string, error) {
	did, err := syntax.ParseDID(event.DID)
	if err != nil {
		return "", fmt.Errorf("invalid did: %w", err)
	}
	rkey, err := syntax.ParseRecordKey(event.Commit.RKey)
	if err != nil {
		return "", fmt.Errorf("invalid rkey: %w", err)
	}
	return fmt.Sprintf("at://%s/%s/%s", did, event.Commit.Collection, rkey), nil
}

// decodePost converts a raw post record into its domain form. An unparseable
// createdAt is left zero; unknown embed kinds are dropped.
func decodePost(raw json.RawMessage) (domain.PostRecord, error) {
	var rec postRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return domain.PostRecord{}, fmt.Errorf("unmarshal post record: %w", err)
	}

	out := domain.PostRecord{
		Text:  rec.Text,
		Langs: rec.Langs,
	}
	if t, err := syntax.ParseDatetimeTime(rec.CreatedAt); err == nil {
		out.CreatedAt = t
	}
	if rec.Reply != nil {
		out.Reply = &domain.ReplyRef{ParentURI: rec.Reply.Parent.URI, RootURI: rec.Reply.Root.URI}
	}
	for _, f := range rec.Facets {
		var df domain.Facet
		for _, feat := range f.Features {
			df.Features = append(df.Features, domain.FacetFeature{Type: feat.Type, URI: feat.URI})
		}
		out.Facets = append(out.Facets, df)
	}

	embed, err := decodeEmbed(rec.Embed)
	if err != nil {
		return out, err
	}
	out.Embed = embed
	return out, nil
}

func decodeEmbed(raw json.RawMessage) (domain.Embed, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var e rawEmbed
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, fmt.Errorf("unmarshal embed: %w", err)
	}

	switch e.Type {
	case domain.EmbedImagesType:
		images := domain.EmbedImages{}
		for _, img := range e.Images {
			images.Images = append(images.Images, domain.EmbedImage{Alt: img.Alt})
		}
		return images, nil

	case domain.EmbedExternalType:
		if e.External == nil {
			return nil, nil
		}
		return domain.EmbedExternal{
			URI:         e.External.URI,
			Title:       e.External.Title,
			Description: e.External.Description,
		}, nil

	case domain.EmbedRecordType:
		var ref strongRef
		if len(e.Record) > 0 {
			if err := json.Unmarshal(e.Record, &ref); err != nil {
				return nil, fmt.Errorf("unmarshal embedded record: %w", err)
			}
		}
		return domain.EmbedRecord{URI: ref.URI, CID: ref.CID}, nil

	case domain.EmbedRecordWithMediaType:
		// The quoted record is wrapped once more: {"record": {"record": ref}}.
		var wrapper struct {
			Record strongRef `json:"record"`
		}
		if len(e.Record) > 0 {
			if err := json.Unmarshal(e.Record, &wrapper); err != nil {
				return nil, fmt.Errorf("unmarshal embedded record: %w", err)
			}
		}
		media, err := decodeEmbed(e.Media)
		if err != nil {
			return nil, err
		}
		return domain.EmbedRecordWithMedia{
			Record: domain.EmbedRecord{URI: wrapper.Record.URI, CID: wrapper.Record.CID},
			Media:  media,
		}, nil

	default:
		return nil, nil
	}
}
