package memory

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sort"
	"strings"
	"unicode"

	"github.com/m-mizutani/goerr/v2"
)

// Mode is the similarity strategy a store runs with.
type Mode string

const (
	ModeEmbedding Mode = "embedding"
	ModeLexical   Mode = "lexical"
)

// similarity produces the vectors kept in the index and ranks records for
// a query. A store picks one implementation at construction and never
// switches.
type similarity interface {
	mode() Mode
	dimensions() int
	signature() string
	vectors(ctx context.Context, texts []string) ([][]float32, error)
	candidates(ctx context.Context, s *Store, query string, n int) ([]Hit, error)
}

// embeddingSimilarity ranks by index inner product over real embeddings.
type embeddingSimilarity struct {
	embedder Embedder
	dims     int
	name     string
}

func (e *embeddingSimilarity) mode() Mode { return ModeEmbedding }
func (e *embeddingSimilarity) dimensions() int { return e.dims }
func (e *embeddingSimilarity) signature() string {
	return fmt.Sprintf("%s:%s:%d", ModeEmbedding, e.name, e.dims)
}

func (e *embeddingSimilarity) vectors(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	vecs, err := e.embedder.EmbedMany(ctx, texts)
	if err != nil {
		return nil, goerr.Wrap(err, "embed texts", goerr.V("count", len(texts)))
	}
	if len(vecs) != len(texts) {
		return nil, goerr.New("embedder returned wrong batch size",
			goerr.V("want", len(texts)), goerr.V("got", len(vecs)))
	}
	for i, v := range vecs {
		if len(v) != e.dims {
			return nil, goerr.New("embedder returned wrong dimension",
				goerr.V("position", i), goerr.V("want", e.dims), goerr.V("got", len(v)))
		}
	}
	return vecs, nil
}

func (e *embeddingSimilarity) candidates(ctx context.Context, s *Store, query string, n int) ([]Hit, error) {
	q, err := e.embedder.Embed(ctx, query)
	if err != nil {
		return nil, goerr.Wrap(err, "embed query")
	}
	if len(q) != e.dims {
		return nil, goerr.New("embedder returned wrong dimension",
			goerr.V("want", e.dims), goerr.V("got", len(q)))
	}
	return s.index.Search(ctx, q, n)
}

// lexicalSimilarity keeps the index aligned with random vectors and ranks
// records by Jaccard similarity of their token sets.
type lexicalSimilarity struct {
	dims int
	rng  *rand.Rand
}

func newLexicalSimilarity(dims int, seed uint64) *lexicalSimilarity {
	return &lexicalSimilarity{dims: dims, rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

func (l *lexicalSimilarity) mode() Mode { return ModeLexical }
func (l *lexicalSimilarity) dimensions() int { return l.dims }
func (l *lexicalSimilarity) signature() string { return fmt.Sprintf("%s:%d", ModeLexical, l.dims) }

func (l *lexicalSimilarity) vectors(_ context.Context, texts []string) ([][]float32, error) {
	vecs := make([][]float32, len(texts))
	for i := range texts {
		v := make([]float32, l.dims)
		for j := range v {
			v[j] = l.rng.Float32()*2 - 1
		}
		// a zero vector cannot be normalized by the index
		v[0] += 1e-3
		vecs[i] = v
	}
	return vecs, nil
}

func (l *lexicalSimilarity) candidates(_ context.Context, s *Store, query string, n int) ([]Hit, error) {
	q := tokenSet(query)
	hits := make([]Hit, 0, len(s.records))
	for pos, rec := range s.records {
		hits = append(hits, Hit{Position: pos, Score: jaccard(q, tokenSet(rec.Text))})
	}
	sortHits(hits)
	if len(hits) > n {
		hits = hits[:n]
	}
	return hits, nil
}

// tokenSet lowercases text and splits it on whitespace and punctuation.
// Han characters are single tokens since Chinese has no word separators.
func tokenSet(text string) map[string]struct{} {
	set := make(map[string]struct{})
	var b strings.Builder
	flush := func() {
		if b.Len() > 0 {
			set[b.String()] = struct{}{}
			b.Reset()
		}
	}
	for _, r := range strings.ToLower(text) {
		switch {
		case unicode.Is(unicode.Han, r):
			flush()
			set[string(r)] = struct{}{}
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		default:
			flush()
		}
	}
	flush()
	return set
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for t := range a {
		if _, ok := b[t]; ok {
			inter++
		}
	}
	return float64(inter) / float64(len(a)+len(b)-inter)
}

// sortHits orders by descending score, ties by ascending position.
func sortHits(hits []Hit) {
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Position < hits[j].Position
	})
}
