// Package cached wraps an embedder with an in-memory ristretto cache so
// repeated texts, such as re-embedding on cleanup, skip the model.
package cached

import (
	"context"

	"github.com/dgraph-io/ristretto"
	"github.com/m-mizutani/goerr/v2"

	"github.com/deskpet/memcore/memory"
)

// DefaultMaxCost bounds the cache at roughly 8 MiB of vectors.
const DefaultMaxCost = 8 << 20

// Embedder caches vectors of an underlying memory.Embedder by text.
type Embedder struct {
	next  memory.Embedder
	cache *ristretto.Cache
}

// New wraps next. maxCost is the cache budget in bytes of vector data.
func New(next memory.Embedder, maxCost int64) (*Embedder, error) {
	if next == nil {
		return nil, goerr.New("cached embedder needs an embedder to wrap")
	}
	if maxCost <= 0 {
		maxCost = DefaultMaxCost
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: max(maxCost/64, 1000),
		MaxCost:     maxCost,
		BufferItems: 64,
	})
	if err != nil {
		return nil, goerr.Wrap(err, "create embedding cache")
	}
	return &Embedder{next: next, cache: cache}, nil
}

// Name reports the wrapped embedder's name so persisted signatures do not
// change when caching is toggled.
func (e *Embedder) Name() string {
	if n, ok := e.next.(memory.Named); ok {
		return n.Name()
	}
	return "embedder"
}

func (e *Embedder) Dimensions() int { return e.next.Dimensions() }

// Embed returns the cached vector for text or asks the wrapped embedder.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if v, ok := e.get(text); ok {
		return v, nil
	}
	v, err := e.next.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	e.put(text, v)
	return v, nil
}

// EmbedMany only sends texts missing from the cache to the wrapped embedder.
func (e *Embedder) EmbedMany(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var missing []string
	var missingAt []int
	for i, text := range texts {
		if v, ok := e.get(text); ok {
			out[i] = v
			continue
		}
		missing = append(missing, text)
		missingAt = append(missingAt, i)
	}
	if len(missing) == 0 {
		return out, nil
	}

	vecs, err := e.next.EmbedMany(ctx, missing)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(missing) {
		return nil, goerr.New("embedder returned wrong batch size",
			goerr.V("want", len(missing)), goerr.V("got", len(vecs)))
	}
	for n, v := range vecs {
		out[missingAt[n]] = v
		e.put(missing[n], v)
	}
	return out, nil
}

func (e *Embedder) get(text string) ([]float32, bool) {
	v, ok := e.cache.Get(text)
	if !ok {
		return nil, false
	}
	vec, ok := v.([]float32)
	if !ok {
		return nil, false
	}
	// callers may modify the slice
	return append([]float32(nil), vec...), true
}

func (e *Embedder) put(text string, v []float32) {
	e.cache.Set(text, append([]float32(nil), v...), int64(4*len(v)))
}

// Wait blocks until pending cache writes are applied.
func (e *Embedder) Wait() { e.cache.Wait() }

// Close releases the cache.
func (e *Embedder) Close() { e.cache.Close() }
