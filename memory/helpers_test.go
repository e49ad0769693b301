package memory_test

import (
	"context"
	"errors"
	"hash/fnv"
	"strings"
	"testing"
	"time"
	"unicode"

	"github.com/stretchr/testify/require"

	"github.com/deskpet/memcore/logging"
	"github.com/deskpet/memcore/memory"
	"github.com/deskpet/memcore/memory/store/chromem"
	"github.com/deskpet/memcore/memory/store/sqlite"
)

const topicDims = 8

// topics maps words to a shared dimension so related sentences land on the
// same axis. Texts without a topic word get a hashed axis of their own.
var topics = map[string]int{
	"live": 0, "lives": 0, "taipei": 0, "where": 0, "home": 0, "city": 0,
	"cat": 1, "cats": 1, "pet": 1, "mimi": 1,
	"eat": 2, "food": 2, "noodles": 2, "spicy": 2,
}

// TopicEmbedder is a deterministic embedder for testing without model files.
type TopicEmbedder struct {
	name  string
	calls int
	// failAfter makes every call after the first n fail. Zero never fails.
	failAfter int
}

func (e *TopicEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.calls++
	if e.failAfter > 0 && e.calls > e.failAfter {
		return nil, errors.New("embedder offline")
	}
	v := make([]float32, topicDims)
	hit := false
	for _, w := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		if d, ok := topics[w]; ok {
			v[d]++
			hit = true
		}
	}
	if !hit {
		h := fnv.New32a()
		h.Write([]byte(text))
		v[3+int(h.Sum32()%(topicDims-3))] = 1
	}
	return v, nil
}

func (e *TopicEmbedder) EmbedMany(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for _, t := range texts {
		v, err := e.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (e *TopicEmbedder) Dimensions() int { return topicDims }

func (e *TopicEmbedder) Name() string {
	if e.name == "" {
		return "topic"
	}
	return e.name
}

// BrokenEmbedder always fails.
type BrokenEmbedder struct{}

func (BrokenEmbedder) Embed(context.Context, string) ([]float32, error) {
	return nil, errors.New("model not loaded")
}

func (BrokenEmbedder) EmbedMany(context.Context, []string) ([][]float32, error) {
	return nil, errors.New("model not loaded")
}

func (BrokenEmbedder) Dimensions() int { return topicDims }

// Clock is a settable time source.
type Clock struct{ now time.Time }

func (c *Clock) Now() time.Time { return c.now }
func (c *Clock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newClock() *Clock {
	return &Clock{now: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)}
}

func storeConfig(e memory.Embedder, clock *Clock) memory.StoreConfig {
	cfg := memory.StoreConfig{
		Embedder:   e,
		Dimensions: 16,
		Indexes:    chromem.NewFactory(),
		Codec:      sqlite.New(),
		Logger:     logging.Discard(),
		Seed:       7,
	}
	if clock != nil {
		cfg.Clock = clock.Now
	}
	return cfg
}

func newStore(t *testing.T, e memory.Embedder, clock *Clock) *memory.Store {
	t.Helper()
	s, err := memory.NewStore(context.Background(), storeConfig(e, clock))
	require.NoError(t, err)
	return s
}

func requireAligned(t *testing.T, s *memory.Store) {
	t.Helper()
	require.Equal(t, s.Len(), memory.IndexCount(s), "records and index out of step")
	require.Equal(t, s.Len(), memory.PositionCount(s), "records and id map out of step")
}

func ids(results []memory.SearchResult) []int {
	out := make([]int, 0, len(results))
	for _, r := range results {
		out = append(out, r.ID)
	}
	return out
}
