package domain

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testFeedURI = "at://did:plc:publisher/app.bsky.feed.generator/listfeed"

type memPosts struct {
	mu      sync.Mutex
	posts   map[string]Post
	vectors map[string]PostVector
	cutoffs chan time.Time
	err     error
}

func newMemPosts() *memPosts {
	return &memPosts{posts: map[string]Post{}, vectors: map[string]PostVector{}}
}

func (m *memPosts) AcceptPost(_ context.Context, post *Post, vector *PostVector) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	if _, ok := m.posts[post.URI]; ok {
		return nil
	}
	m.posts[post.URI] = *post
	m.vectors[post.URI] = *vector
	return nil
}

func (m *memPosts) DeleteExpiredPosts(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	var n int64
	for uri, p := range m.posts {
		if p.IndexedAt.Before(cutoff) {
			delete(m.posts, uri)
			delete(m.vectors, uri)
			n++
		}
	}
	m.mu.Unlock()
	if m.cutoffs != nil {
		m.cutoffs <- cutoff
	}
	return n, nil
}

func (m *memPosts) GetFeedPosts(_ context.Context, limit int, cursor *Cursor) ([]Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	all := make([]Post, 0, len(m.posts))
	for _, p := range m.posts {
		if cursor != nil {
			after := p.IndexedAt.Before(cursor.IndexedAt) ||
				(p.IndexedAt.Equal(cursor.IndexedAt) && p.CID < cursor.CID)
			if !after {
				continue
			}
		}
		all = append(all, p)
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].IndexedAt.Equal(all[j].IndexedAt) {
			return all[i].IndexedAt.After(all[j].IndexedAt)
		}
		return all[i].CID > all[j].CID
	})
	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (m *memPosts) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.posts)
}

type memProfiles struct {
	profiles map[string]*Profile
	err      error
}

func newMemProfiles(profiles ...*Profile) *memProfiles {
	m := &memProfiles{profiles: map[string]*Profile{}}
	for _, p := range profiles {
		m.profiles[p.DID] = p
	}
	return m
}

func (m *memProfiles) GetProfile(_ context.Context, did string) (*Profile, error) {
	if m.err != nil {
		return nil, m.err
	}
	p, ok := m.profiles[did]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *memProfiles) ListProfiles(_ context.Context) ([]Profile, error) {
	if m.err != nil {
		return nil, m.err
	}
	out := make([]Profile, 0, len(m.profiles))
	for _, p := range m.profiles {
		out = append(out, *p)
	}
	return out, nil
}

func (m *memProfiles) UpsertProfileList(_ context.Context, did string, kind ListKind, list ProfileList, modifiedAt time.Time) error {
	p, ok := m.profiles[did]
	if !ok {
		p = &Profile{DID: did}
		m.profiles[did] = p
	}
	if kind == Blacklist {
		p.Blacklist = list
	} else {
		p.Whitelist = list
	}
	p.ModifiedAt = modifiedAt
	return nil
}

type memCursors struct {
	cursors map[string]int64
}

func (m *memCursors) GetCursor(_ context.Context, service string) (int64, error) {
	return m.cursors[service], nil
}

func (m *memCursors) UpdateCursor(_ context.Context, service string, cursor int64) error {
	if m.cursors == nil {
		m.cursors = map[string]int64{}
	}
	m.cursors[service] = cursor
	return nil
}

// stubText lowercases text and serves canned page text.
type stubText struct {
	pages map[string]string
}

func (s stubText) ExtractExtras(_ context.Context, record *PostRecord) string {
	if ext, ok := record.Embed.(EmbedExternal); ok {
		return ext.Title
	}
	return ""
}

func (s stubText) Normalize(rawText, extras string) string {
	return strings.TrimSpace(strings.ToLower(rawText + " " + extras))
}

func (s stubText) PageText(_ context.Context, url string) string {
	return s.pages[url]
}

// stubEncoder maps known texts to fixed vectors and everything else to
// fallback.
type stubEncoder struct {
	vectors  map[string]Vector
	fallback Vector
	err      error
	calls    []string
}

func (s *stubEncoder) Encode(_ context.Context, text string) (Vector, error) {
	s.calls = append(s.calls, text)
	if s.err != nil {
		return nil, s.err
	}
	if v, ok := s.vectors[text]; ok {
		return v, nil
	}
	return s.fallback, nil
}

type serviceFixture struct {
	svc      *FeedService
	posts    *memPosts
	profiles *memProfiles
	encoder  *stubEncoder
	now      time.Time
}

// golangFan wants posts close to [1, 0] and hides posts close to [0, 1].
func golangFan() *Profile {
	return &Profile{
		DID:       "did:plc:viewer",
		Whitelist: ProfileList{Text: "golang", Vector: Vector{1, 0}},
		Blacklist: ProfileList{Text: "crypto", Vector: Vector{0, 1}},
	}
}

func newServiceFixture(t *testing.T, opts IngestOptions, profiles ...*Profile) *serviceFixture {
	t.Helper()
	f := &serviceFixture{
		posts:    newMemPosts(),
		profiles: newMemProfiles(profiles...),
		encoder: &stubEncoder{
			vectors: map[string]Vector{
				"golang generics": {1, 0},
				"crypto pump":     {0, 1},
				"meh":             {1, 1},
			},
			fallback: Vector{1, 0},
		},
		now: time.Date(2025, 3, 1, 12, 0, 0, 123456789, time.UTC),
	}
	cfg := NewClassifierConfig(0.6, 0.6, 0.5, 0, discardLogger())
	svc, err := NewFeedService([]string{testFeedURI}, Dependencies{
		Posts:      f.posts,
		Profiles:   f.profiles,
		Cursors:    &memCursors{},
		Text:       stubText{},
		Encoder:    f.encoder,
		Classifier: NewClassifier(cfg, discardLogger()),
	}, opts, discardLogger())
	require.NoError(t, err)
	svc.now = func() time.Time { return f.now }
	f.svc = svc
	return f
}

func incoming(n int, text string) *IncomingPost {
	return &IncomingPost{
		URI:       fmt.Sprintf("at://did:plc:author/app.bsky.feed.post/%d", n),
		CID:       fmt.Sprintf("bafy%03d", n),
		AuthorDID: "did:plc:author",
		Record:    PostRecord{Text: text},
	}
}

func TestNewFeedServiceValidation(t *testing.T) {
	_, err := NewFeedService(nil, Dependencies{}, IngestOptions{}, discardLogger())
	assert.Error(t, err)

	_, err = NewFeedService([]string{testFeedURI}, Dependencies{}, IngestOptions{}, discardLogger())
	assert.Error(t, err)
}

func TestProcessNewPost(t *testing.T) {
	ctx := context.Background()

	t.Run("accepts shown post", func(t *testing.T) {
		f := newServiceFixture(t, IngestOptions{}, golangFan())
		in := incoming(1, "Golang generics")
		in.Record.Reply = &ReplyRef{ParentURI: "at://p", RootURI: "at://r"}

		saved, err := f.svc.ProcessNewPost(ctx, in)
		require.NoError(t, err)
		assert.True(t, saved)

		stored := f.posts.posts[in.URI]
		assert.Equal(t, in.CID, stored.CID)
		assert.Equal(t, "at://p", stored.ReplyParent)
		assert.Equal(t, "at://r", stored.ReplyRoot)
		assert.Equal(t, f.now.Truncate(time.Millisecond), stored.IndexedAt)
		assert.Equal(t, "golang generics", f.posts.vectors[in.URI].Text)
		assert.Equal(t, Vector{1, 0}, f.posts.vectors[in.URI].Vector)
	})

	t.Run("skips hidden post", func(t *testing.T) {
		f := newServiceFixture(t, IngestOptions{}, golangFan())
		saved, err := f.svc.ProcessNewPost(ctx, incoming(1, "crypto pump"))
		require.NoError(t, err)
		assert.False(t, saved)
		assert.Zero(t, f.posts.count())
	})

	t.Run("ambiguous only with option", func(t *testing.T) {
		f := newServiceFixture(t, IngestOptions{}, golangFan())
		saved, err := f.svc.ProcessNewPost(ctx, incoming(1, "meh"))
		require.NoError(t, err)
		assert.False(t, saved)

		f = newServiceFixture(t, IngestOptions{AcceptAmbiguous: true}, golangFan())
		saved, err = f.svc.ProcessNewPost(ctx, incoming(1, "meh"))
		require.NoError(t, err)
		assert.True(t, saved)
	})

	t.Run("any profile accepting is enough", func(t *testing.T) {
		cryptoFan := &Profile{
			DID:       "did:plc:other",
			Whitelist: ProfileList{Vector: Vector{0, 1}},
			Blacklist: ProfileList{Vector: Vector{1, 0}},
		}
		f := newServiceFixture(t, IngestOptions{}, golangFan(), cryptoFan)
		saved, err := f.svc.ProcessNewPost(ctx, incoming(1, "crypto pump"))
		require.NoError(t, err)
		assert.True(t, saved)
	})

	t.Run("no profiles", func(t *testing.T) {
		f := newServiceFixture(t, IngestOptions{})
		saved, err := f.svc.ProcessNewPost(ctx, incoming(1, "golang generics"))
		require.NoError(t, err)
		assert.False(t, saved)
		assert.Empty(t, f.encoder.calls)
	})

	t.Run("empty text", func(t *testing.T) {
		f := newServiceFixture(t, IngestOptions{}, golangFan())
		saved, err := f.svc.ProcessNewPost(ctx, incoming(1, "   "))
		require.NoError(t, err)
		assert.False(t, saved)
		assert.Empty(t, f.encoder.calls)
	})

	t.Run("extras are part of the scored text", func(t *testing.T) {
		f := newServiceFixture(t, IngestOptions{}, golangFan())
		in := incoming(1, "golang")
		in.Record.Embed = EmbedExternal{URI: "https://go.dev", Title: "generics"}
		_, err := f.svc.ProcessNewPost(ctx, in)
		require.NoError(t, err)
		assert.Equal(t, []string{"golang generics"}, f.encoder.calls)
	})

	t.Run("encoder failure skips post", func(t *testing.T) {
		f := newServiceFixture(t, IngestOptions{}, golangFan())
		f.encoder.err = errors.New("model offline")
		saved, err := f.svc.ProcessNewPost(ctx, incoming(1, "golang generics"))
		require.NoError(t, err)
		assert.False(t, saved)
		assert.Zero(t, f.posts.count())
	})

	t.Run("dimension mismatch counts as ambiguous", func(t *testing.T) {
		wrongDim := &Profile{DID: "did:plc:viewer", Whitelist: ProfileList{Vector: Vector{1, 0, 0}}}
		f := newServiceFixture(t, IngestOptions{}, wrongDim)
		saved, err := f.svc.ProcessNewPost(ctx, incoming(1, "golang generics"))
		require.NoError(t, err)
		assert.False(t, saved)

		f = newServiceFixture(t, IngestOptions{AcceptAmbiguous: true}, wrongDim)
		saved, err = f.svc.ProcessNewPost(ctx, incoming(1, "golang generics"))
		require.NoError(t, err)
		assert.True(t, saved)
	})

	t.Run("reply filter", func(t *testing.T) {
		f := newServiceFixture(t, IngestOptions{IgnoreReplyPosts: true}, golangFan())
		in := incoming(1, "golang generics")
		in.Record.Reply = &ReplyRef{ParentURI: "at://p", RootURI: "at://r"}
		saved, err := f.svc.ProcessNewPost(ctx, in)
		require.NoError(t, err)
		assert.False(t, saved)
	})

	t.Run("archived filter", func(t *testing.T) {
		f := newServiceFixture(t, IngestOptions{IgnoreArchivedPosts: true, ArchivedAfter: 24 * time.Hour}, golangFan())

		old := incoming(1, "golang generics")
		old.Record.CreatedAt = f.now.Add(-48 * time.Hour)
		saved, err := f.svc.ProcessNewPost(ctx, old)
		require.NoError(t, err)
		assert.False(t, saved)

		fresh := incoming(2, "golang generics")
		fresh.Record.CreatedAt = f.now.Add(-time.Minute)
		saved, err = f.svc.ProcessNewPost(ctx, fresh)
		require.NoError(t, err)
		assert.True(t, saved)
	})

	t.Run("duplicate delivery is idempotent", func(t *testing.T) {
		f := newServiceFixture(t, IngestOptions{}, golangFan())
		for i := 0; i < 2; i++ {
			_, err := f.svc.ProcessNewPost(ctx, incoming(1, "golang generics"))
			require.NoError(t, err)
		}
		assert.Equal(t, 1, f.posts.count())
	})

	t.Run("store failure is returned", func(t *testing.T) {
		f := newServiceFixture(t, IngestOptions{}, golangFan())
		f.posts.err = errors.New("disk full")
		_, err := f.svc.ProcessNewPost(ctx, incoming(1, "golang generics"))
		assert.Error(t, err)
	})
}

func TestProcessDeletePostKeepsPost(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t, IngestOptions{}, golangFan())
	in := incoming(1, "golang generics")
	_, err := f.svc.ProcessNewPost(ctx, in)
	require.NoError(t, err)

	require.NoError(t, f.svc.ProcessDeletePost(ctx, in.URI))
	assert.Equal(t, 1, f.posts.count())
}

func seedPosts(f *serviceFixture) {
	base := time.UnixMilli(1700000000000).UTC()
	add := func(n int, cid string, at time.Time) {
		uri := fmt.Sprintf("at://did:plc:author/app.bsky.feed.post/%d", n)
		f.posts.posts[uri] = Post{URI: uri, CID: cid, IndexedAt: at}
	}
	add(1, "bafyA", base)
	add(2, "bafyB", base)
	add(3, "bafyC", base.Add(-time.Second))
}

func TestGetFeedSkeleton(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown feed", func(t *testing.T) {
		f := newServiceFixture(t, IngestOptions{}, golangFan())
		_, err := f.svc.GetFeedSkeleton(ctx, "did:plc:viewer", "at://did:plc:x/app.bsky.feed.generator/nope", 10, "")
		assert.ErrorIs(t, err, ErrUnknownFeed)
	})

	t.Run("viewer without profile", func(t *testing.T) {
		f := newServiceFixture(t, IngestOptions{}, golangFan())
		_, err := f.svc.GetFeedSkeleton(ctx, "did:plc:stranger", testFeedURI, 10, "")
		assert.ErrorIs(t, err, ErrNotAuthorized)

		_, err = f.svc.GetFeedSkeleton(ctx, "", testFeedURI, 10, "")
		assert.ErrorIs(t, err, ErrNotAuthorized)
	})

	t.Run("profile lookup failure is not an auth error", func(t *testing.T) {
		f := newServiceFixture(t, IngestOptions{}, golangFan())
		f.profiles.err = errors.New("db gone")
		_, err := f.svc.GetFeedSkeleton(ctx, "did:plc:viewer", testFeedURI, 10, "")
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrNotAuthorized)
	})

	t.Run("pages through the feed", func(t *testing.T) {
		f := newServiceFixture(t, IngestOptions{}, golangFan())
		seedPosts(f)

		page, err := f.svc.GetFeedSkeleton(ctx, "did:plc:viewer", testFeedURI, 2, "")
		require.NoError(t, err)
		require.Len(t, page.Posts, 2)
		assert.Equal(t, "at://did:plc:author/app.bsky.feed.post/2", page.Posts[0].Post)
		assert.Equal(t, "at://did:plc:author/app.bsky.feed.post/1", page.Posts[1].Post)
		assert.Equal(t, "1700000000000::bafyA", page.Cursor)

		page, err = f.svc.GetFeedSkeleton(ctx, "did:plc:viewer", testFeedURI, 2, page.Cursor)
		require.NoError(t, err)
		require.Len(t, page.Posts, 1)
		assert.Equal(t, "at://did:plc:author/app.bsky.feed.post/3", page.Posts[0].Post)
		assert.Equal(t, "1699999999000::bafyC", page.Cursor)

		page, err = f.svc.GetFeedSkeleton(ctx, "did:plc:viewer", testFeedURI, 2, page.Cursor)
		require.NoError(t, err)
		assert.Empty(t, page.Posts)
		assert.Equal(t, CursorEOF, page.Cursor)
	})

	t.Run("eof is idempotent", func(t *testing.T) {
		f := newServiceFixture(t, IngestOptions{}, golangFan())
		seedPosts(f)
		for i := 0; i < 3; i++ {
			page, err := f.svc.GetFeedSkeleton(ctx, "did:plc:viewer", testFeedURI, 10, CursorEOF)
			require.NoError(t, err)
			assert.Empty(t, page.Posts)
			assert.NotNil(t, page.Posts)
			assert.Equal(t, CursorEOF, page.Cursor)
		}
	})

	t.Run("malformed cursor", func(t *testing.T) {
		f := newServiceFixture(t, IngestOptions{}, golangFan())
		_, err := f.svc.GetFeedSkeleton(ctx, "did:plc:viewer", testFeedURI, 10, "not-a-cursor")
		assert.ErrorIs(t, err, ErrMalformedCursor)
	})

	t.Run("repository failure", func(t *testing.T) {
		f := newServiceFixture(t, IngestOptions{}, golangFan())
		f.posts.err = errors.New("locked")
		_, err := f.svc.GetFeedSkeleton(ctx, "did:plc:viewer", testFeedURI, 10, "")
		assert.Error(t, err)
	})
}

func TestScorePost(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t, IngestOptions{}, golangFan())

	text, score, err := f.svc.ScorePost(ctx, "did:plc:viewer", &PostRecord{Text: "Golang generics"})
	require.NoError(t, err)
	assert.Equal(t, "golang generics", text)
	assert.Equal(t, DecisionShow, score.Decision)

	_, _, err = f.svc.ScorePost(ctx, "did:plc:nobody", &PostRecord{Text: "x"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReaper(t *testing.T) {
	f := newServiceFixture(t, IngestOptions{}, golangFan())
	f.posts.cutoffs = make(chan time.Time, 1)
	ttl := 24 * time.Hour

	expired := Post{URI: "at://old", CID: "bafyOld", IndexedAt: f.now.Add(-ttl - time.Minute)}
	fresh := Post{URI: "at://new", CID: "bafyNew", IndexedAt: f.now.Add(-time.Minute)}
	f.posts.posts[expired.URI] = expired
	f.posts.posts[fresh.URI] = fresh

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.svc.StartReaper(ctx, ttl, time.Minute)
		close(done)
	}()

	select {
	case cutoff := <-f.posts.cutoffs:
		assert.Equal(t, f.now.Add(-ttl), cutoff)
	case <-time.After(5 * time.Second):
		t.Fatal("reaper did not run on start")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("reaper did not stop after cancel")
	}

	assert.Equal(t, 1, f.posts.count())
	_, ok := f.posts.posts[fresh.URI]
	assert.True(t, ok)
}

func TestFeedURIsSorted(t *testing.T) {
	svc, err := NewFeedService([]string{"at://b", "at://a"}, Dependencies{
		Posts:      newMemPosts(),
		Profiles:   newMemProfiles(),
		Cursors:    &memCursors{},
		Text:       stubText{},
		Encoder:    &stubEncoder{},
		Classifier: NewClassifier(NewClassifierConfig(0.75, 0.75, 1, 0.05, discardLogger()), discardLogger()),
	}, IngestOptions{}, discardLogger())
	require.NoError(t, err)
	assert.Equal(t, []string{"at://a", "at://b"}, svc.FeedURIs())
}
