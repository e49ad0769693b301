package memory_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deskpet/memcore/memory"
)

func seeded(t *testing.T, e memory.Embedder) *memory.Store {
	t.Helper()
	ctx := context.Background()
	s := newStore(t, e, nil)
	for _, text := range []string{"I live in Taipei", "my cat is Mimi", "I eat spicy noodles"} {
		_, err := s.Add(ctx, text, map[string]any{"type": "explicit"})
		require.NoError(t, err)
	}
	require.True(t, s.DeleteByID(1))
	return s
}

func TestStore_SaveLoadRoundTrip(t *testing.T) {
	for name, newEmbedder := range map[string]func() memory.Embedder{
		"embedding": func() memory.Embedder { return &TopicEmbedder{} },
		"lexical":   func() memory.Embedder { return nil },
	} {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			prefix := filepath.Join(t.TempDir(), "memory")

			orig := seeded(t, newEmbedder())
			require.NoError(t, orig.Save(prefix))
			assert.FileExists(t, prefix+memory.IndexSuffix)
			assert.FileExists(t, prefix+memory.BundleSuffix)

			loaded := newStore(t, newEmbedder(), nil)
			require.NoError(t, loaded.Load(ctx, prefix))
			requireAligned(t, loaded)

			assert.Equal(t, orig.Stats(), loaded.Stats())
			assert.Equal(t, memory.Stats{Total: 3, Active: 2, Deleted: 1, CleanupNeeded: true}, loaded.Stats())
			assert.Equal(t, orig.NextID(), loaded.NextID())

			for _, q := range []string{"Where do I live?", "my cat", "spicy noodles"} {
				want, err := orig.Search(ctx, q, 3, 0.2)
				require.NoError(t, err)
				got, err := loaded.Search(ctx, q, 3, 0.2)
				require.NoError(t, err)
				require.Equal(t, ids(want), ids(got), q)
				for i := range want {
					assert.InDelta(t, want[i].Score, got[i].Score, 1e-5)
					assert.Equal(t, want[i].Text, got[i].Text)
				}
			}

			assert.False(t, loaded.DeleteByID(1), "deleted ids survive a reload")
			id, err := loaded.Add(ctx, "new fact", nil)
			require.NoError(t, err)
			assert.Equal(t, 3, id)
		})
	}
}

func TestStore_RoundTripStatsMatchActiveRecords(t *testing.T) {
	ctx := context.Background()
	prefix := filepath.Join(t.TempDir(), "memory")

	orig := newStore(t, &TopicEmbedder{}, nil)
	for _, text := range []string{memory.DeletedText, "I live in Taipei", "my cat is Mimi"} {
		_, err := orig.Add(ctx, text, nil)
		require.NoError(t, err)
	}
	require.True(t, orig.DeleteByID(1))
	want := memory.Stats{Total: 2, Active: 1, Deleted: 1, CleanupNeeded: true}
	require.Equal(t, want, orig.Stats())
	require.Len(t, orig.Records(0), want.Active)
	require.NoError(t, orig.Save(prefix))

	loaded := newStore(t, &TopicEmbedder{}, nil)
	require.NoError(t, loaded.Load(ctx, prefix))
	assert.Equal(t, want, loaded.Stats())
	assert.Len(t, loaded.Records(0), want.Active)
	assert.Equal(t, orig.NextID(), loaded.NextID())
}

func TestStore_LoadKeepsIDsAcrossCleanup(t *testing.T) {
	ctx := context.Background()
	prefix := filepath.Join(t.TempDir(), "memory")

	s := seeded(t, &TopicEmbedder{})
	require.NoError(t, s.Cleanup(ctx))
	require.NoError(t, s.Save(prefix))

	loaded := newStore(t, &TopicEmbedder{}, nil)
	require.NoError(t, loaded.Load(ctx, prefix))
	assert.Equal(t, memory.Stats{Total: 2, Active: 2}, loaded.Stats())

	id, err := loaded.Add(ctx, "new fact", nil)
	require.NoError(t, err)
	assert.Equal(t, 3, id)
}

func TestStore_LoadMissingFiles(t *testing.T) {
	s := newStore(t, &TopicEmbedder{}, nil)
	require.NoError(t, s.Load(context.Background(), filepath.Join(t.TempDir(), "nothing")))
	assert.Equal(t, memory.Stats{}, s.Stats())
	requireAligned(t, s)
}

func TestStore_LoadCorruptBundle(t *testing.T) {
	prefix := filepath.Join(t.TempDir(), "memory")
	require.NoError(t, os.WriteFile(prefix+memory.BundleSuffix, []byte("garbage"), 0o600))

	s := newStore(t, &TopicEmbedder{}, nil)
	require.NoError(t, s.Load(context.Background(), prefix))
	assert.Equal(t, memory.Stats{}, s.Stats())
}

func TestStore_LoadRebuildsIndex(t *testing.T) {
	tests := map[string]func(t *testing.T, prefix string){
		"missing": func(t *testing.T, prefix string) {
			require.NoError(t, os.Remove(prefix+memory.IndexSuffix))
		},
		"corrupt": func(t *testing.T, prefix string) {
			require.NoError(t, os.WriteFile(prefix+memory.IndexSuffix, []byte("garbage"), 0o600))
		},
		"misaligned": func(t *testing.T, prefix string) {
			other := newStore(t, &TopicEmbedder{}, nil)
			_, err := other.Add(context.Background(), "only one", nil)
			require.NoError(t, err)
			require.NoError(t, other.Save(filepath.Join(filepath.Dir(prefix), "other")))
			require.NoError(t, os.Rename(filepath.Join(filepath.Dir(prefix), "other")+memory.IndexSuffix, prefix+memory.IndexSuffix))
		},
	}

	for name, damage := range tests {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			prefix := filepath.Join(t.TempDir(), "memory")
			require.NoError(t, seeded(t, &TopicEmbedder{}).Save(prefix))
			damage(t, prefix)

			s := newStore(t, &TopicEmbedder{}, nil)
			require.NoError(t, s.Load(ctx, prefix))
			requireAligned(t, s)
			assert.Equal(t, 3, s.Len())
			assert.Equal(t, []int{0}, ids(mustSearch(t, s, "Where do I live?")))
		})
	}
}

func TestStore_LoadRebuildsAfterModeChange(t *testing.T) {
	ctx := context.Background()
	prefix := filepath.Join(t.TempDir(), "memory")
	require.NoError(t, seeded(t, nil).Save(prefix))

	s := newStore(t, &TopicEmbedder{}, nil)
	require.Equal(t, memory.ModeEmbedding, s.Mode())
	require.NoError(t, s.Load(ctx, prefix))
	requireAligned(t, s)
	assert.Equal(t, topicDims, memory.IndexDimensions(s))
	assert.Equal(t, []int{0}, ids(mustSearch(t, s, "Where do I live?")))
}

func TestStore_LoadRebuildFailure(t *testing.T) {
	ctx := context.Background()
	prefix := filepath.Join(t.TempDir(), "memory")
	require.NoError(t, seeded(t, &TopicEmbedder{}).Save(prefix))
	require.NoError(t, os.Remove(prefix+memory.IndexSuffix))

	s := newStore(t, &TopicEmbedder{failAfter: 1}, nil)
	require.Error(t, s.Load(ctx, prefix))
	assert.Equal(t, memory.Stats{}, s.Stats())
	requireAligned(t, s)
}

func TestStore_SaveWithoutCodec(t *testing.T) {
	cfg := storeConfig(nil, nil)
	cfg.Codec = nil
	s, err := memory.NewStore(context.Background(), cfg)
	require.NoError(t, err)

	assert.ErrorIs(t, s.Save(filepath.Join(t.TempDir(), "m")), memory.ErrNoCodec)
	assert.ErrorIs(t, s.Load(context.Background(), filepath.Join(t.TempDir(), "m")), memory.ErrNoCodec)
}
