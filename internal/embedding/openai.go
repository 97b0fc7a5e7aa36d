// Package embedding provides domain.Encoder implementations.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/blackmichael/bluesky-listfeed/internal/domain"
	openai "github.com/sashabaranov/go-openai"
)

var errEmptyText = errors.New("nothing to encode")

// OpenAIConfig configures an OpenAI-compatible embeddings endpoint.
type OpenAIConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	Dimensions int
	Timeout    time.Duration
}

// OpenAIEncoder embeds text through the OpenAI embeddings API or any server
// that speaks it.
type OpenAIEncoder struct {
	client     *openai.Client
	model      string
	dimensions int
}

// NewOpenAIEncoder creates an encoder from cfg.
func NewOpenAIEncoder(cfg OpenAIConfig) *OpenAIEncoder {
	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}
	if cfg.Timeout > 0 {
		config.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}

	model := cfg.Model
	if model == "" {
		model = string(openai.SmallEmbedding3)
	}

	return &OpenAIEncoder{
		client:     openai.NewClientWithConfig(config),
		model:      model,
		dimensions: cfg.Dimensions,
	}
}

// Encode returns the embedding of text.
func (e *OpenAIEncoder) Encode(ctx context.Context, text string) (domain.Vector, error) {
	if text == "" {
		return nil, errEmptyText
	}

	req := openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(e.model),
		Input: []string{text},
	}
	if e.dimensions > 0 {
		req.Dimensions = e.dimensions
	}

	resp, err := e.client.CreateEmbeddings(ctx, req)
	if err != nil {
		encodeErrors.WithLabelValues("openai").Inc()
		return nil, fmt.Errorf("create embedding: %w", err)
	}
	if len(resp.Data) != 1 || len(resp.Data[0].Embedding) == 0 {
		encodeErrors.WithLabelValues("openai").Inc()
		return nil, fmt.Errorf("create embedding: got %d vectors for 1 text", len(resp.Data))
	}
	return domain.Vector(resp.Data[0].Embedding), nil
}
