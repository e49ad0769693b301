//go:build onnx

package session

import (
	"context"
	"log/slog"

	"github.com/deskpet/memcore/config"
	"github.com/deskpet/memcore/memory"
	"github.com/deskpet/memcore/memory/embedder/onnx"
)

func init() {
	providers["onnx"] = func(_ context.Context, cfg config.EmbedderConfig, logger *slog.Logger) (memory.Embedder, error) {
		return onnx.New(onnx.Config{
			ModelPath:         cfg.ModelPath,
			TokenizerPath:     cfg.TokenizerPath,
			SharedLibraryPath: cfg.SharedLibraryPath,
			Dimensions:        cfg.Dimensions,
			Logger:            logger,
		})
	}
}
