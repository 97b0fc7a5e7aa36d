// Package config loads the feed generator's configuration from the
// environment, optionally seeded from a .env file.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/blackmichael/bluesky-listfeed/internal/domain"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Prefix is the environment variable prefix for every setting.
const Prefix = "FEEDGEN"

// Embedding providers.
const (
	ProviderOpenAI = "openai"
	ProviderHash   = "hash"
)

// Config holds all configuration for the application.
type Config struct {
	// Hostname is the public hostname where this service is reachable (used for did:web).
	Hostname string `envconfig:"HOSTNAME" default:"localhost"`
	Port     int    `envconfig:"PORT" default:"3000"`

	// ServiceDIDOverride replaces the derived did:web when set.
	ServiceDIDOverride string `envconfig:"SERVICE_DID"`

	// PublisherDID is the DID of the account that published the feed generator record.
	PublisherDID    string `envconfig:"PUBLISHER_DID"`
	FeedName        string `envconfig:"FEED_NAME" default:"listfeed"`
	FeedURIOverride string `envconfig:"FEED_URI"`

	DatabasePath string `envconfig:"DATABASE_PATH" default:"feedgen.db"`

	// FirehoseURL is the Jetstream WebSocket endpoint.
	FirehoseURL         string        `envconfig:"FIREHOSE_URL" default:"wss://jetstream2.us-east.bsky.network/subscribe"`
	CursorBatchSize     int           `envconfig:"CURSOR_BATCH_SIZE" default:"100"`
	CursorBatchInterval time.Duration `envconfig:"CURSOR_BATCH_INTERVAL" default:"5s"`
	DrainTimeout        time.Duration `envconfig:"DRAIN_TIMEOUT" default:"10s"`

	// Debug enables dev tokens and the test feed handler.
	Debug      bool   `envconfig:"DEBUG" default:"false"`
	LogLevel   string `envconfig:"LOG_LEVEL" default:"info"`
	DefaultDID string `envconfig:"DEFAULT_DID"`

	ShowThreshold      float64 `envconfig:"SHOW_THRESHOLD" default:"0.75"`
	HideThreshold      float64 `envconfig:"HIDE_THRESHOLD" default:"0.75"`
	SoftmaxTemperature float64 `envconfig:"SOFTMAX_TEMPERATURE" default:"1.0"`
	BiasWeight         float64 `envconfig:"BIAS_WEIGHT" default:"0.05"`

	RecordTTL        time.Duration `envconfig:"RECORD_TTL" default:"24h"`
	ReaperHysteresis time.Duration `envconfig:"REAPER_HYSTERESIS" default:"60s"`

	IgnoreReplyPosts    bool          `envconfig:"IGNORE_REPLY_POSTS" default:"false"`
	IgnoreArchivedPosts bool          `envconfig:"IGNORE_ARCHIVED_POSTS" default:"false"`
	ArchivedAfter       time.Duration `envconfig:"ARCHIVED_AFTER" default:"24h"`
	AcceptAmbiguous     bool          `envconfig:"ACCEPT_AMBIGUOUS" default:"false"`

	EmbeddingProvider   string        `envconfig:"EMBEDDING_PROVIDER" default:"openai"`
	EmbeddingBaseURL    string        `envconfig:"EMBEDDING_BASE_URL"`
	EmbeddingModel      string        `envconfig:"EMBEDDING_MODEL" default:"text-embedding-3-small"`
	EmbeddingAPIKey     string        `envconfig:"EMBEDDING_API_KEY"`
	EmbeddingDimensions int           `envconfig:"EMBEDDING_DIMENSIONS" default:"0"`
	EmbeddingTimeout    time.Duration `envconfig:"EMBEDDING_TIMEOUT" default:"10s"`
	EmbeddingCacheSize  int           `envconfig:"EMBEDDING_CACHE_SIZE" default:"4096"`

	FetchTimeout    time.Duration `envconfig:"FETCH_TIMEOUT" default:"3s"`
	FetchRate       float64       `envconfig:"FETCH_RATE" default:"5"`
	ProfileCacheTTL time.Duration `envconfig:"PROFILE_CACHE_TTL" default:"30s"`
}

// ServiceDID returns the DID of this feed generator service.
func (c *Config) ServiceDID() string {
	if c.ServiceDIDOverride != "" {
		return c.ServiceDIDOverride
	}
	return "did:web:" + c.Hostname
}

// FeedURI returns the AT-URI of the feed served here.
func (c *Config) FeedURI() string {
	if c.FeedURIOverride != "" {
		return c.FeedURIOverride
	}
	return domain.NewFeedURI(c.PublisherDID, c.FeedName)
}

// Level returns the slog level for LogLevel. Debug mode always logs at
// debug.
func (c *Config) Level() slog.Level {
	if c.Debug {
		return slog.LevelDebug
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return level
}

// Validate reports configuration the server cannot run with.
func (c *Config) Validate() error {
	if c.PublisherDID == "" && c.FeedURIOverride == "" {
		return fmt.Errorf("%s_PUBLISHER_DID or %s_FEED_URI is required", Prefix, Prefix)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid %s_PORT %d", Prefix, c.Port)
	}
	switch c.EmbeddingProvider {
	case ProviderOpenAI, ProviderHash:
	default:
		return fmt.Errorf("unknown %s_EMBEDDING_PROVIDER %q", Prefix, c.EmbeddingProvider)
	}
	if c.RecordTTL <= 0 {
		return fmt.Errorf("%s_RECORD_TTL must be positive", Prefix)
	}
	if c.DatabasePath == "" {
		return fmt.Errorf("%s_DATABASE_PATH is required", Prefix)
	}
	return nil
}

// LoadDotEnv loads variables from a .env file without overriding the
// environment. A missing file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	return godotenv.Load(path)
}

// Load reads configuration from .env (if present) and the environment.
// It does not validate; commands that only touch the database don't need a
// publisher DID.
func Load(envPath string) (*Config, error) {
	if err := LoadDotEnv(envPath); err != nil {
		return nil, fmt.Errorf("load %s: %w", envPath, err)
	}

	var cfg Config
	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return nil, fmt.Errorf("process env: %w", err)
	}
	cfg.EmbeddingProvider = strings.ToLower(strings.TrimSpace(cfg.EmbeddingProvider))
	return &cfg, nil
}
