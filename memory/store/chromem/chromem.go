// Package chromem implements memory.Index on top of chromem-go.
//
// Each index owns a private chromem DB with a single collection. Document
// ids are the decimal vector positions, so a query result maps straight
// back to the record at that position in the store.
package chromem

import (
	"cmp"
	"context"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strconv"

	chromem "github.com/philippgille/chromem-go"

	"github.com/m-mizutani/goerr/v2"

	"github.com/deskpet/memcore/memory"
)

const collectionName = "memories"

// Factory creates chromem-backed indexes.
type Factory struct{}

// NewFactory returns a memory.IndexFactory backed by chromem-go.
func NewFactory() *Factory { return &Factory{} }

// New creates an empty index.
func (Factory) New(dimensions int) (memory.Index, error) {
	if dimensions <= 0 {
		return nil, goerr.New("index dimension must be positive", goerr.V("dimensions", dimensions))
	}
	db := chromem.NewDB()
	col, err := db.CreateCollection(
		collectionName,
		nil, // No collection metadata
		nil, // No embedding func (we provide embeddings)
	)
	if err != nil {
		return nil, goerr.Wrap(err, "create collection")
	}
	return &Index{db: db, col: col, dims: dimensions}, nil
}

// Load imports an index exported by Index.Save.
func (Factory) Load(ctx context.Context, path string, dimensions int) (memory.Index, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, goerr.Wrap(memory.ErrNotFound, "index file missing", goerr.V("path", path))
		}
		return nil, goerr.Wrap(err, "stat index file", goerr.V("path", path))
	}

	db := chromem.NewDB()
	if err := db.ImportFromFile(path, ""); err != nil {
		return nil, goerr.Wrap(err, "import index", goerr.V("path", path))
	}
	col := db.GetCollection(collectionName, nil)
	if col == nil {
		return nil, goerr.New("index file has no memories collection", goerr.V("path", path))
	}

	idx := &Index{db: db, col: col, dims: dimensions}
	if n := col.Count(); n > 0 {
		// Every position must be present for results to map back to records.
		for _, pos := range []int{0, n - 1} {
			doc, err := col.GetByID(ctx, strconv.Itoa(pos))
			if err != nil {
				return nil, goerr.Wrap(err, "index positions not contiguous", goerr.V("position", pos))
			}
			idx.dims = len(doc.Embedding)
		}
	}
	return idx, nil
}

// Index is a position-aligned vector index.
type Index struct {
	db   *chromem.DB
	col  *chromem.Collection
	dims int
}

// Add appends vectors after the current last position.
func (i *Index) Add(ctx context.Context, vectors [][]float32) error {
	if len(vectors) == 0 {
		return nil
	}
	base := i.col.Count()
	docs := make([]chromem.Document, len(vectors))
	for n, v := range vectors {
		if len(v) != i.dims {
			return goerr.New("vector dimension mismatch",
				goerr.V("want", i.dims), goerr.V("got", len(v)), goerr.V("position", base+n))
		}
		unit, ok := normalize(v)
		if !ok {
			return goerr.New("cannot index a zero vector", goerr.V("position", base+n))
		}
		id := strconv.Itoa(base + n)
		docs[n] = chromem.Document{ID: id, Content: id, Embedding: unit}
	}
	if err := i.col.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return goerr.Wrap(err, "add documents", goerr.V("count", len(docs)))
	}
	return nil
}

// Search returns up to k hits by descending cosine similarity.
func (i *Index) Search(ctx context.Context, query []float32, k int) ([]memory.Hit, error) {
	k = min(k, i.col.Count())
	if k <= 0 {
		return nil, nil
	}
	if len(query) != i.dims {
		return nil, goerr.New("query dimension mismatch", goerr.V("want", i.dims), goerr.V("got", len(query)))
	}
	unit, ok := normalize(query)
	if !ok {
		return nil, nil
	}

	// chromem-go requires nResults <= collection size. It breaks ties in no
	// fixed order, so widen the query until everything tied with the k-th
	// score is in hand, then order ties by position.
	count := i.col.Count()
	for n := k; ; n = min(2*n, count) {
		hits, err := i.query(ctx, unit, n)
		if err != nil {
			return nil, err
		}
		sortHits(hits)
		if len(hits) < n || n >= count || hits[len(hits)-1].Score < hits[k-1].Score {
			return hits[:min(k, len(hits))], nil
		}
	}
}

func (i *Index) query(ctx context.Context, unit []float32, n int) ([]memory.Hit, error) {
	results, err := i.col.QueryEmbedding(ctx, unit, n, nil, nil)
	if err != nil {
		return nil, goerr.Wrap(err, "chromem query", goerr.V("k", n))
	}

	hits := make([]memory.Hit, 0, len(results))
	for _, r := range results {
		pos, err := strconv.Atoi(r.ID)
		if err != nil {
			return nil, goerr.Wrap(err, "bad document id", goerr.V("id", r.ID))
		}
		hits = append(hits, memory.Hit{Position: pos, Score: float64(r.Similarity)})
	}
	return hits, nil
}

// sortHits orders by score, highest first, then by position.
func sortHits(hits []memory.Hit) {
	slices.SortFunc(hits, func(a, b memory.Hit) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return cmp.Compare(a.Position, b.Position)
	})
}

func (i *Index) Count() int      { return i.col.Count() }
func (i *Index) Dimensions() int { return i.dims }

// Save exports the collection to path through a temporary file.
func (i *Index) Save(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return goerr.Wrap(err, "create index directory", goerr.V("dir", dir))
		}
	}
	tmp := path + ".tmp"
	if err := i.db.ExportToFile(tmp, false, "", collectionName); err != nil {
		_ = os.Remove(tmp)
		return goerr.Wrap(err, "export index", goerr.V("path", tmp))
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return goerr.Wrap(err, "replace index file", goerr.V("path", path))
	}
	return nil
}

// normalize converts v to a unit vector. It reports false for zero vectors.
func normalize(v []float32) ([]float32, bool) {
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	if norm == 0 {
		return nil, false
	}
	norm = math.Sqrt(norm)
	out := make([]float32, len(v))
	for n, x := range v {
		out[n] = float32(float64(x) / norm)
	}
	return out, true
}
