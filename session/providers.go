package session

import (
	"context"
	"log/slog"

	"github.com/m-mizutani/goerr/v2"

	"github.com/deskpet/memcore/config"
	"github.com/deskpet/memcore/memory"
	"github.com/deskpet/memcore/memory/embedder/cached"
	"github.com/deskpet/memcore/memory/embedder/mock"
	"github.com/deskpet/memcore/memory/embedder/ollama"
	"github.com/deskpet/memcore/memory/embedder/openai"
)

// providerFunc builds the embedder for one provider name.
type providerFunc func(ctx context.Context, cfg config.EmbedderConfig, logger *slog.Logger) (memory.Embedder, error)

// providers is filled at init; the onnx provider registers itself only in
// builds with the onnx tag.
var providers = map[string]providerFunc{
	"mock": func(_ context.Context, cfg config.EmbedderConfig, _ *slog.Logger) (memory.Embedder, error) {
		return mock.New(cfg.Dimensions), nil
	},
	"ollama": func(_ context.Context, cfg config.EmbedderConfig, logger *slog.Logger) (memory.Embedder, error) {
		return ollama.New(ollama.Config{
			BaseURL:           cfg.BaseURL,
			Model:             cfg.Model,
			Dimensions:        cfg.Dimensions,
			RequestsPerSecond: cfg.RequestsPerSecond,
			Logger:            logger,
		})
	},
	"openai": func(_ context.Context, cfg config.EmbedderConfig, logger *slog.Logger) (memory.Embedder, error) {
		return openai.New(openai.Config{
			APIKey:            cfg.APIKey,
			BaseURL:           cfg.BaseURL,
			Model:             cfg.Model,
			Dimensions:        cfg.Dimensions,
			RequestsPerSecond: cfg.RequestsPerSecond,
			Logger:            logger,
		})
	},
}

var errUnknownProvider = goerr.New("embedding provider not available in this build")

// buildEmbedder returns the configured embedder, or nil when the provider
// is "none", unknown or fails to start. A nil embedder puts the store in
// lexical mode for the rest of the process.
func buildEmbedder(ctx context.Context, cfg config.EmbedderConfig, logger *slog.Logger) (memory.Embedder, func()) {
	noop := func() {}
	if cfg.Provider == "" || cfg.Provider == "none" {
		logger.Info("no embedding provider configured")
		return nil, noop
	}

	build, ok := providers[cfg.Provider]
	if !ok {
		logger.Warn("embedding provider unavailable", "provider", cfg.Provider, "error", errUnknownProvider)
		return nil, noop
	}
	e, err := build(ctx, cfg, logger)
	if err != nil {
		logger.Warn("embedding provider failed to start", "provider", cfg.Provider, "error", err)
		return nil, noop
	}

	closeFn := noop
	if c, ok := e.(interface{ Close() error }); ok {
		closeFn = func() {
			if err := c.Close(); err != nil {
				logger.Warn("closing embedder", "error", err)
			}
		}
	}

	if cfg.CacheCost <= 0 {
		return e, closeFn
	}
	ce, err := cached.New(e, cfg.CacheCost)
	if err != nil {
		logger.Warn("embedding cache disabled", "error", err)
		return e, closeFn
	}
	return ce, func() {
		ce.Close()
		closeFn()
	}
}
