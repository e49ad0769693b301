// Package openai embeds text with the OpenAI embeddings API or any server
// speaking the same protocol.
package openai

import (
	"context"
	"log/slog"
	"sort"

	"github.com/m-mizutani/goerr/v2"
	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/deskpet/memcore/logging"
)

// ErrNoAPIKey is returned by New without an API key.
var ErrNoAPIKey = goerr.New("openai api key is required")

// Config configures the OpenAI embedder.
type Config struct {
	APIKey string

	// BaseURL overrides the API endpoint, e.g. for a local proxy.
	BaseURL string

	// Model defaults to text-embedding-3-small.
	Model string

	// Dimensions asks the model for shortened vectors. Zero keeps the
	// model's native size, learned from the first response.
	Dimensions int

	// RequestsPerSecond paces calls to the API. Zero disables pacing.
	RequestsPerSecond float64

	Logger *slog.Logger
}

// Embedder calls the OpenAI embeddings endpoint.
type Embedder struct {
	client    *openai.Client
	model     openai.EmbeddingModel
	requested int
	limiter   *rate.Limiter
	logger    *slog.Logger

	dims int
}

// New creates an OpenAI embedder. It does not contact the API.
func New(cfg Config) (*Embedder, error) {
	if cfg.APIKey == "" {
		return nil, ErrNoAPIKey
	}
	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}
	model := openai.SmallEmbedding3
	if cfg.Model != "" {
		model = openai.EmbeddingModel(cfg.Model)
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}

	return &Embedder{
		client:    openai.NewClientWithConfig(config),
		model:     model,
		requested: cfg.Dimensions,
		limiter:   limiter,
		logger:    logger.With("component", "embedder.openai"),
		dims:      cfg.Dimensions,
	}, nil
}

// Name identifies the model.
func (e *Embedder) Name() string { return "openai:" + string(e.model) }

// Dimensions returns the vector size, or 0 before the first response when
// it was not configured.
func (e *Embedder) Dimensions() int { return e.dims }

// Embed embeds one text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedMany(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedMany embeds texts in one request.
func (e *Embedder) EmbedMany(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, goerr.Wrap(err, "wait for rate limiter")
	}

	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input:      texts,
		Model:      e.model,
		Dimensions: e.requested,
	})
	if err != nil {
		return nil, goerr.Wrap(err, "openai embeddings", goerr.V("model", e.model), goerr.V("count", len(texts)))
	}
	if len(resp.Data) != len(texts) {
		return nil, goerr.New("openai returned wrong batch size",
			goerr.V("want", len(texts)), goerr.V("got", len(resp.Data)))
	}

	data := resp.Data
	sort.Slice(data, func(i, j int) bool { return data[i].Index < data[j].Index })
	out := make([][]float32, len(data))
	for i, d := range data {
		if err := e.checkDims(len(d.Embedding)); err != nil {
			return nil, err
		}
		out[i] = d.Embedding
	}
	return out, nil
}

func (e *Embedder) checkDims(n int) error {
	if n == 0 {
		return goerr.New("openai returned an empty embedding")
	}
	if e.dims == 0 {
		e.dims = n
		e.logger.Info("embedding dimension detected", "model", e.model, "dimensions", n)
		return nil
	}
	if n != e.dims {
		return goerr.New("openai embedding dimension changed", goerr.V("want", e.dims), goerr.V("got", n))
	}
	return nil
}
