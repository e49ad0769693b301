// Package ollama embeds text with a model served by Ollama.
package ollama

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"sync"

	"github.com/m-mizutani/goerr/v2"
	"github.com/ollama/ollama/api"
	"golang.org/x/time/rate"

	"github.com/deskpet/memcore/logging"
)

// DefaultBaseURL is where a local Ollama listens.
const DefaultBaseURL = "http://localhost:11434"

// Config configures the Ollama embedder.
type Config struct {
	// BaseURL of the Ollama server. Default: DefaultBaseURL.
	BaseURL string

	// Model is the embedding model. Default: nomic-embed-text.
	Model string

	// Dimensions is the expected vector size. Zero learns it from the first
	// response.
	Dimensions int

	// RequestsPerSecond paces calls to the server. Zero disables pacing.
	RequestsPerSecond float64

	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Embedder calls the Ollama embeddings API.
type Embedder struct {
	client  *api.Client
	model   string
	limiter *rate.Limiter
	logger  *slog.Logger

	mu   sync.Mutex
	dims int
}

// New creates an Ollama embedder. It does not contact the server.
func New(cfg Config) (*Embedder, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = "nomic-embed-text"
	}
	uri, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, goerr.Wrap(err, "parse ollama url", goerr.V("url", cfg.BaseURL))
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
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
		client:  api.NewClient(uri, httpClient),
		model:   cfg.Model,
		limiter: limiter,
		logger:  logger.With("component", "embedder.ollama"),
		dims:    cfg.Dimensions,
	}, nil
}

// Name identifies the model.
func (e *Embedder) Name() string { return "ollama:" + e.model }

// Dimensions returns the vector size, or 0 before the first response when
// it was not configured.
func (e *Embedder) Dimensions() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dims
}

// Embed embeds one text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, goerr.Wrap(err, "wait for rate limiter")
	}
	resp, err := e.client.Embeddings(ctx, &api.EmbeddingRequest{
		Model:  e.model,
		Prompt: text,
	})
	if err != nil {
		return nil, goerr.Wrap(err, "ollama embeddings", goerr.V("model", e.model))
	}
	vec := make([]float32, len(resp.Embedding))
	for i, v := range resp.Embedding {
		vec[i] = float32(v)
	}
	if err := e.checkDims(len(vec)); err != nil {
		return nil, err
	}
	return vec, nil
}

// EmbedMany embeds texts in one request.
func (e *Embedder) EmbedMany(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, goerr.Wrap(err, "wait for rate limiter")
	}
	resp, err := e.client.Embed(ctx, &api.EmbedRequest{
		Model: e.model,
		Input: texts,
	})
	if err != nil {
		return nil, goerr.Wrap(err, "ollama embed", goerr.V("model", e.model), goerr.V("count", len(texts)))
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, goerr.New("ollama returned wrong batch size",
			goerr.V("want", len(texts)), goerr.V("got", len(resp.Embeddings)))
	}
	for _, v := range resp.Embeddings {
		if err := e.checkDims(len(v)); err != nil {
			return nil, err
		}
	}
	return resp.Embeddings, nil
}

func (e *Embedder) checkDims(n int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if n == 0 {
		return goerr.New("ollama returned an empty embedding", goerr.V("model", e.model))
	}
	if e.dims == 0 {
		e.dims = n
		e.logger.Info("embedding dimension detected", "model", e.model, "dimensions", n)
		return nil
	}
	if n != e.dims {
		return goerr.New("ollama embedding dimension changed", goerr.V("want", e.dims), goerr.V("got", n))
	}
	return nil
}
