// Package app builds the service graph shared by the server and feedctl.
package app

import (
	"fmt"
	"log/slog"

	"github.com/blackmichael/bluesky-listfeed/internal/config"
	"github.com/blackmichael/bluesky-listfeed/internal/domain"
	"github.com/blackmichael/bluesky-listfeed/internal/embedding"
	"github.com/blackmichael/bluesky-listfeed/internal/profilecache"
	"github.com/blackmichael/bluesky-listfeed/internal/sqlite"
	"github.com/blackmichael/bluesky-listfeed/internal/textnorm"
)

const profileCacheSize = 1024

// App holds the wired services. Close releases the database.
type App struct {
	Repo     *sqlite.Repository
	Profiles domain.ProfileRepository
	Text     *textnorm.Normalizer
	Encoder  domain.Encoder

	Feed          *domain.FeedService
	ProfileEditor *domain.ProfileService
}

// New opens the store and builds every service from cfg.
func New(cfg *config.Config, logger *slog.Logger) (*App, error) {
	repo, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	a, err := build(cfg, repo, logger)
	if err != nil {
		repo.Close()
		return nil, err
	}
	return a, nil
}

func build(cfg *config.Config, repo *sqlite.Repository, logger *slog.Logger) (*App, error) {
	fetcher := textnorm.NewPageFetcher(FetcherConfig(cfg), logger)
	text, err := textnorm.New(fetcher, logger)
	if err != nil {
		return nil, fmt.Errorf("create text normalizer: %w", err)
	}

	encoder, err := NewEncoder(cfg)
	if err != nil {
		return nil, err
	}

	profiles := profilecache.New(repo, profileCacheSize, cfg.ProfileCacheTTL)
	classifier := domain.NewClassifier(ClassifierConfig(cfg, logger), logger)

	feed, err := domain.NewFeedService([]string{cfg.FeedURI()}, domain.Dependencies{
		Posts:      repo,
		Profiles:   profiles,
		Cursors:    repo,
		Text:       text,
		Encoder:    encoder,
		Classifier: classifier,
	}, IngestOptions(cfg), logger)
	if err != nil {
		return nil, fmt.Errorf("create feed service: %w", err)
	}

	return &App{
		Repo:          repo,
		Profiles:      profiles,
		Text:          text,
		Encoder:       encoder,
		Feed:          feed,
		ProfileEditor: domain.NewProfileService(profiles, text, encoder, logger),
	}, nil
}

// Close closes the database.
func (a *App) Close() error {
	return a.Repo.Close()
}

// NewEncoder builds the configured embedding backend behind the vector cache.
func NewEncoder(cfg *config.Config) (domain.Encoder, error) {
	var inner domain.Encoder
	switch cfg.EmbeddingProvider {
	case config.ProviderOpenAI:
		if cfg.EmbeddingAPIKey == "" && cfg.EmbeddingBaseURL == "" {
			return nil, fmt.Errorf("%s_EMBEDDING_API_KEY or %s_EMBEDDING_BASE_URL is required for the openai provider", config.Prefix, config.Prefix)
		}
		inner = embedding.NewOpenAIEncoder(embedding.OpenAIConfig{
			APIKey:     cfg.EmbeddingAPIKey,
			BaseURL:    cfg.EmbeddingBaseURL,
			Model:      cfg.EmbeddingModel,
			Dimensions: cfg.EmbeddingDimensions,
			Timeout:    cfg.EmbeddingTimeout,
		})
	case config.ProviderHash:
		inner = embedding.NewHashEncoder(cfg.EmbeddingDimensions)
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.EmbeddingProvider)
	}

	if cfg.EmbeddingCacheSize <= 0 {
		return inner, nil
	}
	return embedding.NewCachedEncoder(inner, cfg.EmbeddingCacheSize, cfg.RecordTTL), nil
}

// ClassifierConfig returns the validated scoring parameters.
func ClassifierConfig(cfg *config.Config, logger *slog.Logger) domain.ClassifierConfig {
	return domain.NewClassifierConfig(cfg.ShowThreshold, cfg.HideThreshold, cfg.SoftmaxTemperature, cfg.BiasWeight, logger)
}

// IngestOptions returns the firehose filters.
func IngestOptions(cfg *config.Config) domain.IngestOptions {
	return domain.IngestOptions{
		IgnoreReplyPosts:    cfg.IgnoreReplyPosts,
		IgnoreArchivedPosts: cfg.IgnoreArchivedPosts,
		ArchivedAfter:       cfg.ArchivedAfter,
		AcceptAmbiguous:     cfg.AcceptAmbiguous,
	}
}

// FetcherConfig returns page fetch limits, overriding the defaults that are
// configured.
func FetcherConfig(cfg *config.Config) textnorm.FetcherConfig {
	fc := textnorm.DefaultFetcherConfig()
	if cfg.FetchTimeout > 0 {
		fc.Timeout = cfg.FetchTimeout
	}
	if cfg.FetchRate > 0 {
		fc.RateLimit = cfg.FetchRate
	}
	return fc
}
