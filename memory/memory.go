package memory

import (
	"context"

	"github.com/m-mizutani/goerr/v2"
)

// ErrNotFound is returned by an IndexFactory or BundleCodec when the file
// to load does not exist.
var ErrNotFound = goerr.New("persisted memory file not found")

// Embedder converts text to vector embeddings.
// Implementations: mock (testing), onnx (local model), ollama and openai
// (remote). Dimensions must stay fixed for the lifetime of a store.
type Embedder interface {
	// Embed converts a single text to an embedding vector.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedMany converts a batch of texts, preserving order.
	EmbedMany(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns embedding vector size.
	Dimensions() int
}

// Named is implemented by embedders that can identify their model. The name
// is persisted so a store can tell when saved vectors came from a
// different model.
type Named interface {
	Name() string
}

// Hit is one nearest-neighbor candidate returned by an Index.
type Hit struct {
	// Position is the ordinal of the vector in the index, which is also
	// the position of its record in the store.
	Position int
	Score    float64
}

// Index is an append-only vector index searched by inner product.
// Vectors are stored as unit vectors so scores are cosine similarities.
type Index interface {
	// Add appends vectors at positions Count(), Count()+1, ...
	Add(ctx context.Context, vectors [][]float32) error

	// Search returns up to k hits ordered by descending score.
	Search(ctx context.Context, query []float32, k int) ([]Hit, error)

	Count() int
	Dimensions() int

	// Save writes the index to path.
	Save(path string) error
}

// IndexFactory creates empty indexes and loads saved ones.
type IndexFactory interface {
	New(dimensions int) (Index, error)

	// Load reads an index written by Index.Save. A missing file yields an
	// error matching ErrNotFound.
	Load(ctx context.Context, path string, dimensions int) (Index, error)
}

// Bundle is everything a store persists besides its vectors.
type Bundle struct {
	Records    []Record
	NextID     int
	DeletedIDs []int
	Dimensions int

	// Signature identifies how the saved vectors were produced, e.g.
	// "embedding:nomic-embed-text:768" or "lexical:384".
	Signature string
}

// BundleCodec writes and reads bundles.
type BundleCodec interface {
	Write(path string, b *Bundle) error

	// Read returns an error matching ErrNotFound for a missing file.
	Read(path string) (*Bundle, error)
}
