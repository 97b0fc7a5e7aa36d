package app

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/blackmichael/bluesky-listfeed/internal/config"
	"github.com/blackmichael/bluesky-listfeed/internal/domain"
	"github.com/blackmichael/bluesky-listfeed/internal/embedding"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *config.Config {
	return &config.Config{
		PublisherDID:        "did:plc:publisher",
		FeedName:            "listfeed",
		DatabasePath:        filepath.Join(t.TempDir(), "feed.db"),
		ShowThreshold:       0.6,
		HideThreshold:       0.6,
		SoftmaxTemperature:  1,
		BiasWeight:          0,
		RecordTTL:           time.Hour,
		EmbeddingProvider:   config.ProviderHash,
		EmbeddingDimensions: 256,
		EmbeddingCacheSize:  16,
		ProfileCacheTTL:     time.Second,
	}
}

func TestNewEncoder(t *testing.T) {
	cfg := testConfig(t)

	enc, err := NewEncoder(cfg)
	require.NoError(t, err)
	assert.IsType(t, &embedding.CachedEncoder{}, enc)

	cfg.EmbeddingCacheSize = 0
	enc, err = NewEncoder(cfg)
	require.NoError(t, err)
	assert.IsType(t, &embedding.HashEncoder{}, enc)

	cfg.EmbeddingProvider = config.ProviderOpenAI
	_, err = NewEncoder(cfg)
	assert.Error(t, err)

	cfg.EmbeddingAPIKey = "sk-test"
	enc, err = NewEncoder(cfg)
	require.NoError(t, err)
	assert.IsType(t, &embedding.OpenAIEncoder{}, enc)
}

func TestFetcherConfig(t *testing.T) {
	cfg := testConfig(t)
	fc := FetcherConfig(cfg)
	assert.Equal(t, 3*time.Second, fc.Timeout)

	cfg.FetchTimeout = time.Second
	cfg.FetchRate = 1
	fc = FetcherConfig(cfg)
	assert.Equal(t, time.Second, fc.Timeout)
	assert.Equal(t, 1.0, fc.RateLimit)
}

func TestAppEndToEnd(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	a, err := New(cfg, logger)
	require.NoError(t, err)
	defer a.Close()

	ok, err := a.ProfileEditor.UpdateList(ctx, "did:plc:viewer", domain.Whitelist, []string{"golang", "gopher", "compiler"}, nil)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = a.ProfileEditor.UpdateList(ctx, "did:plc:viewer", domain.Blacklist, []string{"football", "soccer", "goal"}, nil)
	require.NoError(t, err)
	require.True(t, ok)

	saved, err := a.Feed.ProcessNewPost(ctx, &domain.IncomingPost{
		URI:    "at://did:plc:author/app.bsky.feed.post/1",
		CID:    "bafyA",
		Record: domain.PostRecord{Text: "golang gopher compiler"},
	})
	require.NoError(t, err)
	assert.True(t, saved)

	saved, err = a.Feed.ProcessNewPost(ctx, &domain.IncomingPost{
		URI:    "at://did:plc:author/app.bsky.feed.post/2",
		CID:    "bafyB",
		Record: domain.PostRecord{Text: "football soccer goal"},
	})
	require.NoError(t, err)
	assert.False(t, saved)

	skeleton, err := a.Feed.GetFeedSkeleton(ctx, "did:plc:viewer", cfg.FeedURI(), 10, "")
	require.NoError(t, err)
	require.Len(t, skeleton.Posts, 1)
	assert.Equal(t, "at://did:plc:author/app.bsky.feed.post/1", skeleton.Posts[0].Post)

	vec, err := a.Repo.GetPostVector(ctx, "at://did:plc:author/app.bsky.feed.post/1")
	require.NoError(t, err)
	assert.Equal(t, 256, vec.Vector.Dim())
}
