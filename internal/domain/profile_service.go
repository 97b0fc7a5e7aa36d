package domain

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// minPageTextLen is the shortest cleaned page text worth embedding.
const minPageTextLen = 100

// ProfileService maintains viewer profiles for profile-editing tooling.
type ProfileService struct {
	profiles ProfileRepository
	text     TextProcessor
	encoder  Encoder
	logger   *slog.Logger
	now      func() time.Time
}

// NewProfileService creates a ProfileService.
func NewProfileService(profiles ProfileRepository, text TextProcessor, encoder Encoder, logger *slog.Logger) *ProfileService {
	return &ProfileService{
		profiles: profiles,
		text:     text,
		encoder:  encoder,
		logger:   logger,
		now:      time.Now,
	}
}

// GetProfile returns the profile of did.
func (s *ProfileService) GetProfile(ctx context.Context, did string) (*Profile, error) {
	return s.profiles.GetProfile(ctx, did)
}

// UpdateList rebuilds one list of a profile from keywords and source URLs.
// The list vector is the mean of the keyword embedding and the embeddings of
// every URL whose page text is long enough. A list that yields no vector is
// left unchanged and UpdateList returns false.
func (s *ProfileService) UpdateList(ctx context.Context, did string, kind ListKind, words, urls []string) (bool, error) {
	keywordText := strings.Join(words, " ")

	var vectors []Vector
	if keywordText != "" {
		v, err := s.encoder.Encode(ctx, keywordText)
		if err != nil {
			return false, fmt.Errorf("encode %s keywords: %w", kind, err)
		}
		vectors = append(vectors, v)
	}

	for _, u := range urls {
		page := s.text.PageText(ctx, u)
		if len(strings.TrimSpace(page)) <= minPageTextLen {
			s.logger.Warn("skipping url with too little text", "url", u, "length", len(page))
			continue
		}
		v, err := s.encoder.Encode(ctx, page)
		if err != nil {
			s.logger.Warn("failed to encode url text, skipping", "url", u, "error", err)
			continue
		}
		vectors = append(vectors, v)
	}

	if len(vectors) == 0 {
		s.logger.Info("no keywords or usable urls, list left unchanged", "did", did, "kind", kind)
		return false, nil
	}

	combined, err := MeanVector(vectors)
	if err != nil {
		return false, fmt.Errorf("combine %s vectors: %w", kind, err)
	}

	list := ProfileList{Text: keywordText, URLs: urls, Vector: combined}
	if err := s.profiles.UpsertProfileList(ctx, did, kind, list, s.now().UTC()); err != nil {
		return false, fmt.Errorf("save %s: %w", kind, err)
	}
	return true, nil
}
