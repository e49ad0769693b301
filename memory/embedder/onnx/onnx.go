//go:build onnx

package onnx

import (
	"context"
	"log/slog"
	"sync"

	"github.com/m-mizutani/goerr/v2"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/deskpet/memcore/logging"
)

// Config configures the ONNX embedder.
type Config struct {
	// ModelPath is the path to the ONNX model file.
	ModelPath string

	// TokenizerPath is the path to the tokenizer.json file.
	TokenizerPath string

	// SharedLibraryPath locates libonnxruntime. Empty uses the runtime's
	// default lookup.
	SharedLibraryPath string

	// Dimensions is the embedding vector size (default: 384 for all-MiniLM-L6-v2).
	Dimensions int

	// MaxLength is the token sequence length (default: 128).
	MaxLength int

	// BatchSize caps how many texts go through one inference (default: 16).
	BatchSize int

	Logger *slog.Logger
}

var envOnce sync.Once
var envErr error

func initEnvironment(libPath string) error {
	envOnce.Do(func() {
		if libPath != "" {
			ort.SetSharedLibraryPath(libPath)
		}
		envErr = ort.InitializeEnvironment()
	})
	return envErr
}

// Embedder generates embeddings using ONNX Runtime.
type Embedder struct {
	session   *ort.DynamicAdvancedSession
	tokenizer *Tokenizer
	cfg       Config
	logger    *slog.Logger
	mu        sync.Mutex
}

// New loads the model and tokenizer.
func New(cfg Config) (*Embedder, error) {
	if cfg.ModelPath == "" {
		return nil, goerr.New("onnx model path is required")
	}
	if cfg.TokenizerPath == "" {
		return nil, goerr.New("onnx tokenizer path is required")
	}
	if cfg.Dimensions == 0 {
		cfg.Dimensions = 384 // Default for all-MiniLM-L6-v2
	}
	if cfg.MaxLength == 0 {
		cfg.MaxLength = 128 // Standard sequence length for MiniLM
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 16
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	logger = logger.With("component", "embedder.onnx")

	if err := initEnvironment(cfg.SharedLibraryPath); err != nil {
		return nil, goerr.Wrap(err, "initialize onnx runtime", goerr.V("lib", cfg.SharedLibraryPath))
	}

	tokenizer, err := LoadTokenizer(cfg.TokenizerPath)
	if err != nil {
		return nil, err
	}

	session, err := ort.NewDynamicAdvancedSession(cfg.ModelPath,
		[]string{"input_ids", "attention_mask", "token_type_ids"},
		[]string{"last_hidden_state"},
		nil,
	)
	if err != nil {
		return nil, goerr.Wrap(err, "create onnx session", goerr.V("model", cfg.ModelPath))
	}

	logger.Info("onnx embedder ready", "model", cfg.ModelPath, "dimensions", cfg.Dimensions)
	return &Embedder{session: session, tokenizer: tokenizer, cfg: cfg, logger: logger}, nil
}

// Name identifies the model file.
func (e *Embedder) Name() string { return "onnx:" + e.cfg.ModelPath }

// Dimensions returns the embedding vector size.
func (e *Embedder) Dimensions() int { return e.cfg.Dimensions }

// Embed converts text to a unit embedding vector.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedMany(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedMany embeds texts in batches of Config.BatchSize.
func (e *Embedder) EmbedMany(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.cfg.BatchSize {
		if err := ctx.Err(); err != nil {
			return nil, goerr.Wrap(err, "embedding cancelled")
		}
		end := min(start+e.cfg.BatchSize, len(texts))
		vecs, err := e.infer(texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, vecs...)
	}
	return out, nil
}

func (e *Embedder) infer(texts []string) ([][]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	batch, seq := len(texts), e.cfg.MaxLength
	ids := make([]int64, 0, batch*seq)
	mask := make([]int64, 0, batch*seq)
	masks := make([][]int64, batch)
	for i, text := range texts {
		tokIDs, tokMask := e.tokenizer.Encode(text, seq)
		ids = append(ids, tokIDs...)
		mask = append(mask, tokMask...)
		masks[i] = tokMask
	}
	typeIDs := make([]int64, batch*seq)

	shape := ort.NewShape(int64(batch), int64(seq))
	var inputs []ort.Value
	defer func() {
		for _, v := range inputs {
			v.Destroy()
		}
	}()
	for _, data := range [][]int64{ids, mask, typeIDs} {
		tensor, err := ort.NewTensor(shape, data)
		if err != nil {
			return nil, goerr.Wrap(err, "create input tensor")
		}
		inputs = append(inputs, tensor)
	}

	// nil outputs are allocated by Run
	outputs := []ort.Value{nil}
	if err := e.session.Run(inputs, outputs); err != nil {
		return nil, goerr.Wrap(err, "onnx inference", goerr.V("batch", batch))
	}
	defer func() {
		for _, v := range outputs {
			if v != nil {
				v.Destroy()
			}
		}
	}()

	tensor, ok := outputs[0].(*ort.Tensor[float32])
	if !ok || tensor == nil {
		return nil, goerr.New("unexpected onnx output type")
	}
	return poolOutput(tensor.GetData(), []int64(tensor.GetShape()), masks, e.cfg.Dimensions)
}

// Close releases ONNX resources.
func (e *Embedder) Close() error {
	if e.session == nil {
		return nil
	}
	if err := e.session.Destroy(); err != nil {
		return goerr.Wrap(err, "destroy onnx session")
	}
	return nil
}
