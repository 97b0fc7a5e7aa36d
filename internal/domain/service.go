package domain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"
)

// IngestOptions controls which incoming posts are considered and which
// classification outcomes are stored.
type IngestOptions struct {
	// IgnoreReplyPosts skips posts that reply to another post.
	IgnoreReplyPosts bool

	// IgnoreArchivedPosts skips posts whose createdAt is older than
	// ArchivedAfter, e.g. imported archives.
	IgnoreArchivedPosts bool
	ArchivedAfter       time.Duration

	// AcceptAmbiguous stores posts that no profile shows but at least one
	// profile finds ambiguous.
	AcceptAmbiguous bool
}

// Dependencies are the ports a FeedService is wired to.
type Dependencies struct {
	Posts      PostRepository
	Profiles   ProfileRepository
	Cursors    CursorRepository
	Text       TextProcessor
	Encoder    Encoder
	Classifier *Classifier
}

// FeedService is the core domain service. It owns the business logic for
// classifying incoming posts against viewer profiles, persisting accepted
// posts, evicting old ones, and serving feed skeletons.
type FeedService struct {
	feeds      map[string]struct{}
	posts      PostRepository
	profiles   ProfileRepository
	cursors    CursorRepository
	text       TextProcessor
	encoder    Encoder
	classifier *Classifier
	opts       IngestOptions
	logger     *slog.Logger
	now        func() time.Time
}

// NewFeedService creates a FeedService serving the given feed URIs.
func NewFeedService(feedURIs []string, deps Dependencies, opts IngestOptions, logger *slog.Logger) (*FeedService, error) {
	if len(feedURIs) == 0 {
		return nil, fmt.Errorf("at least one feed URI is required")
	}
	if deps.Posts == nil || deps.Profiles == nil || deps.Cursors == nil {
		return nil, fmt.Errorf("post, profile and cursor repositories are required")
	}
	if deps.Text == nil || deps.Encoder == nil || deps.Classifier == nil {
		return nil, fmt.Errorf("text processor, encoder and classifier are required")
	}

	feeds := make(map[string]struct{}, len(feedURIs))
	for _, uri := range feedURIs {
		feeds[uri] = struct{}{}
	}

	return &FeedService{
		feeds:      feeds,
		posts:      deps.Posts,
		profiles:   deps.Profiles,
		cursors:    deps.Cursors,
		text:       deps.Text,
		encoder:    deps.Encoder,
		classifier: deps.Classifier,
		opts:       opts,
		logger:     logger,
		now:        time.Now,
	}, nil
}

// FeedURIs returns the AT-URIs of all registered feeds, sorted.
func (s *FeedService) FeedURIs() []string {
	uris := make([]string, 0, len(s.feeds))
	for uri := range s.feeds {
		uris = append(uris, uri)
	}
	sort.Strings(uris)
	return uris
}

// ProcessNewPost normalizes, embeds and classifies an incoming post against
// every viewer profile. The post is persisted if any profile accepts it.
// Returns true if the post was saved.
func (s *FeedService) ProcessNewPost(ctx context.Context, incoming *IncomingPost) (bool, error) {
	record := &incoming.Record

	if s.opts.IgnoreReplyPosts && record.IsReply() {
		postsSkipped.WithLabelValues("reply").Inc()
		return false, nil
	}
	if s.opts.IgnoreArchivedPosts && s.isArchived(record) {
		postsSkipped.WithLabelValues("archived").Inc()
		return false, nil
	}

	profiles, err := s.profiles.ListProfiles(ctx)
	if err != nil {
		return false, fmt.Errorf("list profiles: %w", err)
	}
	if len(profiles) == 0 {
		postsSkipped.WithLabelValues("no_profiles").Inc()
		return false, nil
	}

	extras := s.text.ExtractExtras(ctx, record)
	text := s.text.Normalize(record.Text, extras)
	if text == "" {
		postsSkipped.WithLabelValues("empty_text").Inc()
		return false, nil
	}

	vector, err := s.encoder.Encode(ctx, text)
	if err != nil {
		postsSkipped.WithLabelValues("encoder_error").Inc()
		s.logger.Warn("failed to encode post, skipping", "uri", incoming.URI, "error", err)
		return false, nil
	}

	if !s.accepts(incoming.URI, vector, text, profiles) {
		return false, nil
	}

	post := &Post{
		URI:       incoming.URI,
		CID:       incoming.CID,
		IndexedAt: s.now().UTC().Truncate(time.Millisecond),
	}
	if record.Reply != nil {
		post.ReplyParent = record.Reply.ParentURI
		post.ReplyRoot = record.Reply.RootURI
	}

	if err := s.posts.AcceptPost(ctx, post, &PostVector{Text: text, Vector: vector}); err != nil {
		return false, fmt.Errorf("accept post: %w", err)
	}
	postsAccepted.Inc()
	return true, nil
}

// accepts scores the post for every profile and reports whether any of them
// wants it in the feed.
func (s *FeedService) accepts(uri string, vector Vector, text string, profiles []Profile) bool {
	accepted := false
	for i := range profiles {
		profile := &profiles[i]
		score, err := s.classifier.Score(vector, profile, text)
		if err != nil {
			s.logger.Error("failed to score post, treating as ambiguous", "uri", uri, "profile", profile.DID, "error", err)
		}
		postsClassified.WithLabelValues(string(score.Decision)).Inc()

		s.logger.Debug("post classified",
			"uri", uri,
			"profile", profile.DID,
			"raw_white", score.RawWhite,
			"raw_black", score.RawBlack,
			"prob_white", score.ProbWhite,
			"prob_black", score.ProbBlack,
			"decision", score.Decision,
		)

		switch score.Decision {
		case DecisionShow:
			accepted = true
		case DecisionAmbiguous:
			if s.opts.AcceptAmbiguous {
				accepted = true
			}
		}
	}
	return accepted
}

func (s *FeedService) isArchived(record *PostRecord) bool {
	if record.CreatedAt.IsZero() || s.opts.ArchivedAfter <= 0 {
		return false
	}
	return s.now().Sub(record.CreatedAt) > s.opts.ArchivedAfter
}

// ProcessDeletePost records a firehose delete. Posts only leave the store
// through the reaper, so nothing is removed here.
func (s *FeedService) ProcessDeletePost(_ context.Context, uri string) error {
	postsSkipped.WithLabelValues("deleted").Inc()
	s.logger.Debug("ignoring post delete, reaper owns eviction", "uri", uri)
	return nil
}

// ScorePost normalizes text, embeds it and classifies it against the profile
// of did. It is used by tooling to inspect classifier behaviour.
func (s *FeedService) ScorePost(ctx context.Context, did string, record *PostRecord) (string, Score, error) {
	profile, err := s.profiles.GetProfile(ctx, did)
	if err != nil {
		return "", Score{}, fmt.Errorf("get profile %s: %w", did, err)
	}

	text := s.text.Normalize(record.Text, s.text.ExtractExtras(ctx, record))
	vector, err := s.encoder.Encode(ctx, text)
	if err != nil {
		return text, Score{}, fmt.Errorf("encode post: %w", err)
	}

	score, err := s.classifier.Score(vector, profile, text)
	return text, score, err
}

// GetCursor retrieves the last-processed firehose cursor for the given service.
func (s *FeedService) GetCursor(ctx context.Context, service string) (int64, error) {
	return s.cursors.GetCursor(ctx, service)
}

// UpdateCursor persists the firehose cursor for the given service.
func (s *FeedService) UpdateCursor(ctx context.Context, service string, cursor int64) error {
	return s.cursors.UpdateCursor(ctx, service, cursor)
}

// GetFeedSkeleton returns a page of the feed skeleton for the given feed URI
// as seen by viewerDID.
func (s *FeedService) GetFeedSkeleton(ctx context.Context, viewerDID, feedURI string, limit int, cursor string) (*FeedSkeleton, error) {
	s.logger.Debug("GetFeedSkeleton called", "feedURI", feedURI, "viewer", viewerDID, "limit", limit, "cursor", cursor)

	skeleton, err := s.getFeedSkeleton(ctx, viewerDID, feedURI, limit, cursor)
	switch {
	case err == nil:
		feedRequests.WithLabelValues("ok").Inc()
	case errors.Is(err, ErrNotAuthorized):
		feedRequests.WithLabelValues("unauthorized").Inc()
	case errors.Is(err, ErrMalformedCursor), errors.Is(err, ErrUnknownFeed):
		feedRequests.WithLabelValues("bad_request").Inc()
	default:
		feedRequests.WithLabelValues("error").Inc()
	}
	return skeleton, err
}

func (s *FeedService) getFeedSkeleton(ctx context.Context, viewerDID, feedURI string, limit int, cursor string) (*FeedSkeleton, error) {
	if _, ok := s.feeds[feedURI]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFeed, feedURI)
	}

	if viewerDID == "" {
		return nil, fmt.Errorf("%w: missing viewer", ErrNotAuthorized)
	}
	if _, err := s.profiles.GetProfile(ctx, viewerDID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("%w: %s has no profile", ErrNotAuthorized, viewerDID)
		}
		return nil, fmt.Errorf("get profile %s: %w", viewerDID, err)
	}

	if cursor == CursorEOF {
		return &FeedSkeleton{Cursor: CursorEOF, Posts: []SkeletonPost{}}, nil
	}

	var after *Cursor
	if cursor != "" {
		c, err := ParseCursor(cursor)
		if err != nil {
			return nil, err
		}
		after = &c
	}

	posts, err := s.posts.GetFeedPosts(ctx, limit, after)
	if err != nil {
		s.logger.Error("repository query failed", "feedURI", feedURI, "limit", limit, "cursor", cursor, "error", err)
		return nil, fmt.Errorf("get feed posts: %w", err)
	}

	skeleton := &FeedSkeleton{
		Cursor: CursorEOF,
		Posts:  make([]SkeletonPost, len(posts)),
	}
	for i, p := range posts {
		skeleton.Posts[i] = SkeletonPost{Post: p.URI}
	}
	if len(posts) > 0 {
		skeleton.Cursor = CursorAfter(posts[len(posts)-1]).String()
	}
	return skeleton, nil
}

// StartReaper runs a background loop that removes posts older than ttl. Each
// cycle deletes expired posts and then waits ttl+hysteresis. It runs
// immediately on start and blocks until ctx is cancelled.
func (s *FeedService) StartReaper(ctx context.Context, ttl, hysteresis time.Duration) {
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			s.reap(ctx, ttl)
			timer.Reset(ttl + hysteresis)
		}
	}
}

func (s *FeedService) reap(ctx context.Context, ttl time.Duration) {
	cutoff := s.now().UTC().Add(-ttl)
	deleted, err := s.posts.DeleteExpiredPosts(ctx, cutoff)
	if err != nil {
		s.logger.Error("post cleanup failed", "cutoff", cutoff, "error", err)
		return
	}
	postsReaped.Add(float64(deleted))
	s.logger.Info("post cleanup complete", "deleted", deleted, "cutoff", cutoff)
}
