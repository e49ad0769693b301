package memory

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"

	"github.com/deskpet/memcore/logging"
)

// DefaultDimensions matches all-MiniLM-L6-v2 and is used for lexical mode
// when no dimension is configured.
const DefaultDimensions = 384

// ErrNoIndexFactory is returned by NewStore when StoreConfig.Indexes is nil.
var ErrNoIndexFactory = goerr.New("memory store needs an index factory")

// StoreConfig holds Store dependencies.
type StoreConfig struct {
	// Embedder may be nil, which selects lexical mode.
	Embedder Embedder

	// Dimensions is the vector size used in lexical mode.
	// Default: 384.
	Dimensions int

	// Indexes creates the vector index. Required.
	Indexes IndexFactory

	// Codec persists records. Required for Save and Load only.
	Codec BundleCodec

	Logger *slog.Logger

	// Seed drives the random vectors of lexical mode.
	Seed uint64

	// Clock returns the current time. Default: time.Now.
	Clock func() time.Time
}

// Store is an ordered arena of memory records with a position-aligned
// vector index.
//
// Store is not safe for concurrent use.
type Store struct {
	records   []Record
	positions map[int]int
	deleted   map[int]struct{}
	nextID    int

	index   Index
	indexes IndexFactory
	codec   BundleCodec
	sim     similarity

	logger *slog.Logger
	now    func() time.Time
}

// NewStore creates an empty store. The similarity mode is decided here: a
// usable embedder selects embedding mode, anything else falls back to
// lexical mode for the lifetime of the store.
func NewStore(ctx context.Context, cfg StoreConfig) (*Store, error) {
	if cfg.Indexes == nil {
		return nil, ErrNoIndexFactory
	}
	if cfg.Dimensions <= 0 {
		cfg.Dimensions = DefaultDimensions
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.From(ctx)
	}
	logger = logger.With("component", "memory.store")

	s := &Store{
		positions: make(map[int]int),
		deleted:   make(map[int]struct{}),
		indexes:   cfg.Indexes,
		codec:     cfg.Codec,
		logger:    logger,
		now:       cfg.Clock,
	}
	if s.now == nil {
		s.now = time.Now
	}

	s.sim = chooseSimilarity(ctx, cfg, logger)

	idx, err := cfg.Indexes.New(s.sim.dimensions())
	if err != nil {
		return nil, goerr.Wrap(err, "create vector index", goerr.V("dimensions", s.sim.dimensions()))
	}
	s.index = idx

	logger.Info("memory store ready", "mode", s.sim.mode(), "dimensions", s.sim.dimensions())
	return s, nil
}

func chooseSimilarity(ctx context.Context, cfg StoreConfig, logger *slog.Logger) similarity {
	lexical := func(reason string, attrs ...any) similarity {
		logger.Warn("embedding provider unavailable, using lexical similarity",
			append([]any{"reason", reason, "dimensions", cfg.Dimensions}, attrs...)...)
		return newLexicalSimilarity(cfg.Dimensions, cfg.Seed)
	}

	if cfg.Embedder == nil {
		return lexical("no embedder configured")
	}
	sample, err := cfg.Embedder.Embed(ctx, "memory check")
	if err != nil {
		return lexical("test embedding failed", "error", err)
	}
	dims := cfg.Embedder.Dimensions()
	if dims <= 0 || len(sample) != dims {
		return lexical("dimension mismatch", "declared", dims, "sample", len(sample))
	}

	name := "embedder"
	if n, ok := cfg.Embedder.(Named); ok {
		name = n.Name()
	}
	return &embeddingSimilarity{embedder: cfg.Embedder, dims: dims, name: name}
}

// Mode reports the similarity strategy in use.
func (s *Store) Mode() Mode { return s.sim.mode() }

// Dimensions is the vector size of the index.
func (s *Store) Dimensions() int { return s.sim.dimensions() }

// Len is the number of records including soft-deleted ones.
func (s *Store) Len() int { return len(s.records) }

// NextID is the id the next Add will assign.
func (s *Store) NextID() int { return s.nextID }

func (s *Store) isActive(pos int) bool {
	rec := s.records[pos]
	_, gone := s.deleted[rec.ID]
	return !gone && rec.Text != DeletedText
}

// Add stores text and returns its id. Blank text and the tombstone text
// DeletedText are ignored and yield -1 with a nil error. If embedding fails
// nothing is inserted.
func (s *Store) Add(ctx context.Context, text string, metadata map[string]any) (int, error) {
	if trimmed := strings.TrimSpace(text); trimmed == "" || trimmed == DeletedText {
		return -1, nil
	}

	vecs, err := s.sim.vectors(ctx, []string{text})
	if err != nil {
		return -1, err
	}
	if err := s.index.Add(ctx, vecs); err != nil {
		return -1, goerr.Wrap(err, "append to vector index")
	}

	now := s.now()
	meta := copyMetadata(metadata)
	if _, ok := meta[MetaTimestamp]; !ok {
		meta[MetaTimestamp] = unixSeconds(now)
	}
	if _, ok := meta[MetaCreatedAt]; !ok {
		meta[MetaCreatedAt] = now.Format(TimeLayout)
	}

	id := s.nextID
	s.positions[id] = len(s.records)
	s.records = append(s.records, Record{ID: id, Text: text, Metadata: meta})
	s.nextID++

	s.logger.Debug("memory added", "id", id, "text", truncate(text, 50))
	return id, nil
}

// DeleteByID soft-deletes the record with id. It reports false when the id
// is unknown or already deleted. The index keeps the stale vector until
// Cleanup.
func (s *Store) DeleteByID(id int) bool {
	pos, ok := s.positions[id]
	if !ok || !s.isActive(pos) {
		return false
	}
	s.softDelete(pos)
	return true
}

func (s *Store) softDelete(pos int) {
	rec := &s.records[pos]
	rec.Text = DeletedText
	rec.Metadata = tombstone(s.now())
	s.deleted[rec.ID] = struct{}{}
	s.logger.Debug("memory deleted", "id", rec.ID)
}

// DeleteByContent soft-deletes the top 10 records matching query at
// threshold and returns their ids.
func (s *Store) DeleteByContent(ctx context.Context, query string, threshold float64) ([]int, error) {
	results, err := s.Search(ctx, query, 10, threshold)
	if err != nil {
		return nil, err
	}
	var ids []int
	for _, r := range results {
		if s.DeleteByID(r.ID) {
			ids = append(ids, r.ID)
		}
	}
	return ids, nil
}

// DeleteRecent soft-deletes active records stamped within the last hours.
func (s *Store) DeleteRecent(hours float64) []int {
	cutoff := unixSeconds(s.now()) - hours*3600
	return s.deleteWhere(func(rec Record) bool {
		ts, ok := asFloat(rec.Metadata[MetaTimestamp])
		return ok && ts > cutoff
	})
}

// DeleteByCriteria soft-deletes active records whose metadata holds every
// key/value pair in criteria. Numbers compare by value regardless of type.
// Empty criteria match nothing.
func (s *Store) DeleteByCriteria(criteria map[string]any) []int {
	if len(criteria) == 0 {
		return nil
	}
	return s.deleteWhere(func(rec Record) bool {
		for k, want := range criteria {
			got, ok := rec.Metadata[k]
			if !ok || !metadataEqual(got, want) {
				return false
			}
		}
		return true
	})
}

// DeleteAll soft-deletes every active record.
func (s *Store) DeleteAll() []int {
	return s.deleteWhere(func(Record) bool { return true })
}

func (s *Store) deleteWhere(match func(Record) bool) []int {
	var ids []int
	for pos := range s.records {
		if !s.isActive(pos) || !match(s.records[pos]) {
			continue
		}
		ids = append(ids, s.records[pos].ID)
		s.softDelete(pos)
	}
	return ids
}

// Cleanup physically removes soft-deleted records. Survivors are
// re-embedded in one batch into a fresh index. On failure the store is left
// exactly as it was.
func (s *Store) Cleanup(ctx context.Context) error {
	if len(s.deleted) == 0 {
		return nil
	}

	var survivors []Record
	var texts []string
	for pos, rec := range s.records {
		if s.isActive(pos) {
			survivors = append(survivors, rec)
			texts = append(texts, rec.Text)
		}
	}

	idx, err := s.buildIndex(ctx, texts)
	if err != nil {
		return goerr.Wrap(err, "rebuild index for cleanup")
	}

	removed := len(s.records) - len(survivors)
	s.records = survivors
	s.positions = make(map[int]int, len(survivors))
	for pos, rec := range survivors {
		s.positions[rec.ID] = pos
	}
	s.deleted = make(map[int]struct{})
	s.index = idx

	s.logger.Info("memory cleanup done", "removed", removed, "remaining", len(survivors))
	return nil
}

func (s *Store) buildIndex(ctx context.Context, texts []string) (Index, error) {
	vecs, err := s.sim.vectors(ctx, texts)
	if err != nil {
		return nil, err
	}
	idx, err := s.indexes.New(s.sim.dimensions())
	if err != nil {
		return nil, goerr.Wrap(err, "create vector index")
	}
	if len(vecs) > 0 {
		if err := idx.Add(ctx, vecs); err != nil {
			return nil, goerr.Wrap(err, "fill vector index", goerr.V("count", len(vecs)))
		}
	}
	return idx, nil
}

// Search returns up to topK active records scoring at least threshold,
// best first. Ties keep insertion order.
//
// The index still holds vectors of soft-deleted records, so it is asked for
// 2*topK plus the number of tombstones. That way at least min(2*topK,
// active) live candidates are ranked however many deletes have piled up.
func (s *Store) Search(ctx context.Context, query string, topK int, threshold float64) ([]SearchResult, error) {
	total := len(s.records)
	if topK <= 0 || total == 0 || total == len(s.deleted) {
		return nil, nil
	}

	n := min(2*topK+len(s.deleted), total)
	hits, err := s.sim.candidates(ctx, s, query, n)
	if err != nil {
		return nil, goerr.Wrap(err, "rank candidates", goerr.V("mode", s.sim.mode()))
	}
	sortHits(hits)

	var results []SearchResult
	for _, h := range hits {
		if h.Score < threshold {
			break
		}
		if h.Position < 0 || h.Position >= total || !s.isActive(h.Position) {
			continue
		}
		rec := s.records[h.Position]
		results = append(results, SearchResult{
			ID:       rec.ID,
			Text:     rec.Text,
			Score:    h.Score,
			Metadata: rec.Metadata,
			Index:    h.Position,
		})
		if len(results) == topK {
			break
		}
	}

	s.logger.Debug("memory search", "query", truncate(query, 50), "candidates", len(hits), "results", len(results))
	return results, nil
}

// Stats summarizes the store.
// Active counts exactly the records Search and Records can return.
func (s *Store) Stats() Stats {
	active := 0
	for pos := range s.records {
		if s.isActive(pos) {
			active++
		}
	}
	deleted := len(s.records) - active
	return Stats{
		Total:         len(s.records),
		Active:        active,
		Deleted:       deleted,
		CleanupNeeded: deleted > 0,
	}
}

// Records returns up to limit active records in insertion order. A
// non-positive limit returns all of them.
func (s *Store) Records(limit int) []Record {
	var out []Record
	for pos, rec := range s.records {
		if !s.isActive(pos) {
			continue
		}
		out = append(out, Record{ID: rec.ID, Text: rec.Text, Metadata: copyMetadata(rec.Metadata)})
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}
