package memory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deskpet/memcore/memory"
	"github.com/deskpet/memcore/memory/store/chromem"
)

func TestStore_TaipeiScenario(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, &TopicEmbedder{}, nil)
	require.Equal(t, memory.ModeEmbedding, s.Mode())

	id, err := s.Add(ctx, "I live in Taipei", nil)
	require.NoError(t, err)
	assert.Equal(t, 0, id)

	results, err := s.Search(ctx, "Where do I live?", 3, 0.5)
	require.NoError(t, err)
	require.Contains(t, ids(results), 0)
	for _, r := range results {
		assert.GreaterOrEqual(t, r.Score, 0.5)
	}

	deleted, err := s.DeleteByContent(ctx, "Taipei", 0.7)
	require.NoError(t, err)
	assert.Equal(t, []int{0}, deleted)

	results, err = s.Search(ctx, "Where do I live?", 3, 0.5)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestStore_AddStampsMetadata(t *testing.T) {
	ctx := context.Background()
	clock := newClock()
	s := newStore(t, &TopicEmbedder{}, clock)

	caller := map[string]any{"type": "explicit"}
	id, err := s.Add(ctx, "my cat is Mimi", caller)
	require.NoError(t, err)
	assert.NotContains(t, caller, memory.MetaTimestamp, "caller map must not be modified")

	recs := s.Records(0)
	require.Len(t, recs, 1)
	assert.Equal(t, id, recs[0].ID)
	assert.Equal(t, "explicit", recs[0].Metadata["type"])
	assert.Equal(t, float64(clock.now.Unix()), recs[0].Metadata[memory.MetaTimestamp])
	assert.Equal(t, "2024-05-01 09:00:00", recs[0].Metadata[memory.MetaCreatedAt])

	_, err = s.Add(ctx, "cats", map[string]any{memory.MetaTimestamp: 1.5, memory.MetaCreatedAt: "then"})
	require.NoError(t, err)
	recs = s.Records(0)
	assert.Equal(t, 1.5, recs[1].Metadata[memory.MetaTimestamp])
	assert.Equal(t, "then", recs[1].Metadata[memory.MetaCreatedAt])
}

func TestStore_AddRejectsBlank(t *testing.T) {
	s := newStore(t, &TopicEmbedder{}, nil)
	for _, text := range []string{"", "   ", "\n\t"} {
		id, err := s.Add(context.Background(), text, nil)
		require.NoError(t, err)
		assert.Equal(t, -1, id)
	}
	assert.Equal(t, 0, s.Len())
	assert.Equal(t, 0, s.NextID())
	requireAligned(t, s)
}

func TestStore_AddRejectsTombstoneText(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, &TopicEmbedder{}, nil)
	for _, text := range []string{memory.DeletedText, "  " + memory.DeletedText + "\n"} {
		id, err := s.Add(ctx, text, nil)
		require.NoError(t, err)
		assert.Equal(t, -1, id)
	}
	assert.Equal(t, 0, s.Len())
	assert.Equal(t, memory.Stats{}, s.Stats())

	// Text that merely mentions the tombstone is a normal memory.
	id, err := s.Add(ctx, "the log said "+memory.DeletedText, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, id)
	assert.Equal(t, memory.Stats{Total: 1, Active: 1}, s.Stats())
	assert.Len(t, s.Records(0), s.Stats().Active)
	requireAligned(t, s)
}

func TestStore_AddEmbedFailureInsertsNothing(t *testing.T) {
	ctx := context.Background()
	e := &TopicEmbedder{failAfter: 2} // test embedding + one add
	s := newStore(t, e, nil)
	require.Equal(t, memory.ModeEmbedding, s.Mode())

	_, err := s.Add(ctx, "I live in Taipei", nil)
	require.NoError(t, err)

	id, err := s.Add(ctx, "my cat is Mimi", nil)
	require.Error(t, err)
	assert.Equal(t, -1, id)
	assert.Equal(t, 1, s.Len())
	assert.Equal(t, 1, s.NextID())
	requireAligned(t, s)
}

func TestStore_DeleteByID(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, &TopicEmbedder{}, nil)
	id, err := s.Add(ctx, "I live in Taipei", nil)
	require.NoError(t, err)

	assert.False(t, s.DeleteByID(42))
	assert.True(t, s.DeleteByID(id))
	assert.False(t, s.DeleteByID(id), "second delete is a miss")

	st := s.Stats()
	assert.Equal(t, memory.Stats{Total: 1, Active: 0, Deleted: 1, CleanupNeeded: true}, st)
	assert.Empty(t, s.Records(0))
	requireAligned(t, s)
}

func TestStore_SoftDeleteExclusion(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, &TopicEmbedder{}, nil)
	texts := []string{"I live in Taipei", "my home city is Taipei", "my cat Mimi", "spicy noodles", "hello"}
	for _, text := range texts {
		_, err := s.Add(ctx, text, nil)
		require.NoError(t, err)
	}
	require.True(t, s.DeleteByID(1))
	require.True(t, s.DeleteByID(3))

	for _, q := range append(texts, "where", "Taipei", memory.DeletedText, "") {
		results, err := s.Search(ctx, q, 5, 0)
		require.NoError(t, err)
		assert.NotContains(t, ids(results), 1, q)
		assert.NotContains(t, ids(results), 3, q)
	}
}

func TestStore_SearchSurvivesPiledUpDeletes(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, &TopicEmbedder{}, nil)
	for i := 0; i < 6; i++ {
		id, err := s.Add(ctx, "Taipei home", nil)
		require.NoError(t, err)
		require.True(t, s.DeleteByID(id))
	}
	live, err := s.Add(ctx, "I live in Taipei city", nil)
	require.NoError(t, err)

	results, err := s.Search(ctx, "where do I live", 1, 0.5)
	require.NoError(t, err)
	assert.Equal(t, []int{live}, ids(results))
}

func TestStore_SearchOrderingAndThreshold(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, &TopicEmbedder{}, nil)
	for _, text := range []string{"I live in Taipei", "my cat lives at home", "I eat spicy noodles", "cats eat food"} {
		_, err := s.Add(ctx, text, nil)
		require.NoError(t, err)
	}

	results, err := s.Search(ctx, "where is home", 4, 0)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(results), 2)
	assert.Equal(t, 0, results[0].ID)
	assert.Equal(t, 1, results[1].ID)
	for i := 1; i < len(results); i++ {
		assert.GreaterOrEqual(t, results[i-1].Score, results[i].Score)
	}

	prev := len(results)
	for _, threshold := range []float64{0.1, 0.5, 0.9, 0.99, 1.5} {
		got, err := s.Search(ctx, "where is home", 4, threshold)
		require.NoError(t, err)
		assert.LessOrEqual(t, len(got), prev, "raising the threshold never adds results")
		for _, r := range got {
			assert.GreaterOrEqual(t, r.Score, threshold)
		}
		prev = len(got)
	}
	assert.Equal(t, 0, prev)

	top1, err := s.Search(ctx, "where is home", 1, 0)
	require.NoError(t, err)
	assert.Len(t, top1, 1)
}

func TestStore_SearchEmpty(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, &TopicEmbedder{}, nil)

	results, err := s.Search(ctx, "anything", 3, 0)
	require.NoError(t, err)
	assert.Empty(t, results)

	id, err := s.Add(ctx, "I live in Taipei", nil)
	require.NoError(t, err)
	s.DeleteByID(id)
	results, err = s.Search(ctx, "Taipei", 3, 0)
	require.NoError(t, err)
	assert.Empty(t, results)

	results, err = s.Search(ctx, "Taipei", 0, 0)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestStore_DeleteRecent(t *testing.T) {
	ctx := context.Background()
	clock := newClock()
	s := newStore(t, &TopicEmbedder{}, clock)

	old, err := s.Add(ctx, "I live in Taipei", nil)
	require.NoError(t, err)
	clock.Advance(48 * time.Hour)
	fresh, err := s.Add(ctx, "my cat is Mimi", nil)
	require.NoError(t, err)
	clock.Advance(time.Hour)

	assert.Equal(t, []int{fresh}, s.DeleteRecent(24))
	assert.Empty(t, s.DeleteRecent(24), "already deleted")
	assert.Equal(t, []int{old}, ids(mustSearch(t, s, "Taipei")))
}

func mustSearch(t *testing.T, s *memory.Store, q string) []memory.SearchResult {
	t.Helper()
	r, err := s.Search(context.Background(), q, 3, 0.5)
	require.NoError(t, err)
	return r
}

func TestStore_DeleteByCriteria(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, &TopicEmbedder{}, nil)
	a, _ := s.Add(ctx, "I live in Taipei", map[string]any{"type": "personal_identity", "confidence": 0.85})
	b, _ := s.Add(ctx, "my cat is Mimi", map[string]any{"type": "explicit", "confidence": 0.95})
	_, _ = s.Add(ctx, "I eat noodles", map[string]any{"type": "explicit", "priority": 2})

	assert.Equal(t, []int{b}, s.DeleteByCriteria(map[string]any{"type": "explicit", "confidence": 0.95}))
	assert.Equal(t, []int{2}, s.DeleteByCriteria(map[string]any{"priority": float64(2)}))
	assert.Empty(t, s.DeleteByCriteria(map[string]any{"type": "missing"}))
	assert.Empty(t, s.DeleteByCriteria(nil))
	assert.Equal(t, []int{a}, ids(mustSearch(t, s, "Taipei")))
}

func TestStore_DeleteAllAndCleanup(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, &TopicEmbedder{}, nil)
	for _, text := range []string{"I live in Taipei", "my cat is Mimi", "spicy noodles"} {
		_, err := s.Add(ctx, text, nil)
		require.NoError(t, err)
	}

	assert.Equal(t, []int{0, 1, 2}, s.DeleteAll())
	assert.Empty(t, s.DeleteAll())
	require.NoError(t, s.Cleanup(ctx))
	assert.Equal(t, memory.Stats{}, s.Stats())
	requireAligned(t, s)

	id, err := s.Add(ctx, "I live in Taipei", nil)
	require.NoError(t, err)
	assert.Equal(t, 3, id, "ids are never reused")
}

func TestStore_CleanupIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, &TopicEmbedder{}, nil)
	for _, text := range []string{"I live in Taipei", "my cat is Mimi", "spicy noodles"} {
		_, err := s.Add(ctx, text, nil)
		require.NoError(t, err)
	}
	s.DeleteByID(1)

	require.NoError(t, s.Cleanup(ctx))
	first := s.Stats()
	assert.Equal(t, memory.Stats{Total: 2, Active: 2}, first)
	requireAligned(t, s)

	require.NoError(t, s.Cleanup(ctx))
	assert.Equal(t, first, s.Stats())

	assert.Equal(t, []int{0}, ids(mustSearch(t, s, "where do I live")))
	assert.True(t, s.DeleteByID(2))
	assert.False(t, s.DeleteByID(1))
}

func TestStore_CleanupFailureKeepsState(t *testing.T) {
	ctx := context.Background()
	e := &TopicEmbedder{failAfter: 3} // test embedding + two adds
	s := newStore(t, e, nil)
	_, err := s.Add(ctx, "I live in Taipei", nil)
	require.NoError(t, err)
	_, err = s.Add(ctx, "my cat is Mimi", nil)
	require.NoError(t, err)
	s.DeleteByID(0)

	before := s.Stats()
	require.Error(t, s.Cleanup(ctx))
	assert.Equal(t, before, s.Stats())
	requireAligned(t, s)
}

func TestStore_AlignmentAndMonotonicIDs(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, &TopicEmbedder{}, nil)

	last := -1
	add := func(text string) {
		id, err := s.Add(ctx, text, nil)
		require.NoError(t, err)
		requireAligned(t, s)
		if id == -1 {
			return
		}
		assert.Greater(t, id, last)
		last = id
	}

	for round := 0; round < 3; round++ {
		add("I live in Taipei")
		add("my cat is Mimi")
		add("spicy noodles")
		add("")
		s.DeleteByID(last)
		requireAligned(t, s)
		_, err := s.DeleteByContent(ctx, "cat", 0.7)
		require.NoError(t, err)
		requireAligned(t, s)
		if round%2 == 1 {
			require.NoError(t, s.Cleanup(ctx))
			requireAligned(t, s)
		}
	}
	assert.Equal(t, last+1, s.NextID())
}

func TestStore_LexicalFallback(t *testing.T) {
	ctx := context.Background()

	for name, e := range map[string]memory.Embedder{
		"nil embedder":    nil,
		"broken embedder": BrokenEmbedder{},
	} {
		t.Run(name, func(t *testing.T) {
			s := newStore(t, e, nil)
			assert.Equal(t, memory.ModeLexical, s.Mode())
			assert.Equal(t, 16, s.Dimensions())

			_, err := s.Add(ctx, "I live in Taipei", nil)
			require.NoError(t, err)
			_, err = s.Add(ctx, "我住在台北", nil)
			require.NoError(t, err)
			_, err = s.Add(ctx, "spicy noodles", nil)
			require.NoError(t, err)
			requireAligned(t, s)

			// {where, do, i, live} vs {i, live, in, taipei}: 2/6
			results, err := s.Search(ctx, "Where do I live?", 3, 0.3)
			require.NoError(t, err)
			assert.Equal(t, []int{0}, ids(results))
			assert.InDelta(t, 2.0/6.0, results[0].Score, 1e-9)

			results, err = s.Search(ctx, "我住在哪裡", 3, 0.4)
			require.NoError(t, err)
			assert.Equal(t, []int{1}, ids(results))

			s.DeleteByID(0)
			require.NoError(t, s.Cleanup(ctx))
			requireAligned(t, s)
		})
	}
}

type wrongDims struct{ TopicEmbedder }

func (wrongDims) Dimensions() int { return 3 }

func TestStore_DimensionMismatchFallsBack(t *testing.T) {
	s := newStore(t, &wrongDims{}, nil)
	assert.Equal(t, memory.ModeLexical, s.Mode())
}

type failingFactory struct{}

func (failingFactory) New(int) (memory.Index, error) { return nil, errors.New("out of memory") }
func (failingFactory) Load(context.Context, string, int) (memory.Index, error) {
	return nil, errors.New("out of memory")
}

func TestNewStore_IndexFailureIsFatal(t *testing.T) {
	ctx := context.Background()

	_, err := memory.NewStore(ctx, memory.StoreConfig{})
	assert.ErrorIs(t, err, memory.ErrNoIndexFactory)

	cfg := storeConfig(nil, nil)
	cfg.Indexes = failingFactory{}
	_, err = memory.NewStore(ctx, cfg)
	assert.Error(t, err)

	cfg.Indexes = chromem.NewFactory()
	_, err = memory.NewStore(ctx, cfg)
	assert.NoError(t, err)
}
