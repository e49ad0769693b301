package memory

import (
	"context"
	"errors"
	"sort"

	"github.com/m-mizutani/goerr/v2"
)

// File suffixes appended to the persistence prefix.
const (
	IndexSuffix  = ".index"
	BundleSuffix = ".db"
)

// ErrNoCodec is returned by Save and Load when the store has no BundleCodec.
var ErrNoCodec = goerr.New("memory store has no bundle codec")

// Save writes the index to prefix+".index" and the records to prefix+".db".
func (s *Store) Save(prefix string) error {
	if s.codec == nil {
		return ErrNoCodec
	}

	if err := s.index.Save(prefix + IndexSuffix); err != nil {
		return goerr.Wrap(err, "save vector index", goerr.V("path", prefix+IndexSuffix))
	}

	deleted := make([]int, 0, len(s.deleted))
	for id := range s.deleted {
		deleted = append(deleted, id)
	}
	sort.Ints(deleted)

	b := &Bundle{
		Records:    s.records,
		NextID:     s.nextID,
		DeletedIDs: deleted,
		Dimensions: s.sim.dimensions(),
		Signature:  s.sim.signature(),
	}
	if err := s.codec.Write(prefix+BundleSuffix, b); err != nil {
		return goerr.Wrap(err, "save memory bundle", goerr.V("path", prefix+BundleSuffix))
	}

	s.logger.Debug("memory saved", "prefix", prefix, "records", len(s.records))
	return nil
}

// Load replaces the store contents with what was saved under prefix.
//
// A missing or unreadable bundle is logged and leaves the store untouched.
// A missing, unreadable or mismatched index is rebuilt from the loaded
// texts. The only error is a failed rebuild, in which case the store is also
// left untouched.
func (s *Store) Load(ctx context.Context, prefix string) error {
	if s.codec == nil {
		return ErrNoCodec
	}

	b, err := s.codec.Read(prefix + BundleSuffix)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			s.logger.Info("no saved memories, starting fresh", "prefix", prefix)
		} else {
			s.logger.Warn("memory bundle unreadable, starting fresh", "prefix", prefix, "error", err)
		}
		return nil
	}

	records, positions, deleted, maxID := sanitizeBundle(b)
	nextID := max(b.NextID, maxID+1)

	idx, reason := s.loadIndex(ctx, prefix, b, len(records))
	if idx == nil {
		s.logger.Warn("rebuilding vector index", "prefix", prefix, "reason", reason, "records", len(records))
		texts := make([]string, len(records))
		for i, rec := range records {
			texts[i] = rec.Text
		}
		idx, err = s.buildIndex(ctx, texts)
		if err != nil {
			return goerr.Wrap(err, "rebuild vector index on load", goerr.V("prefix", prefix))
		}
	}

	s.records = records
	s.positions = positions
	s.deleted = deleted
	s.nextID = max(s.nextID, nextID)
	s.index = idx

	st := s.Stats()
	s.logger.Info("memories loaded", "prefix", prefix, "total", st.Total, "active", st.Active, "deleted", st.Deleted)
	return nil
}

// loadIndex returns the saved index if it can be trusted for records, or
// nil and the reason it cannot.
func (s *Store) loadIndex(ctx context.Context, prefix string, b *Bundle, records int) (Index, string) {
	if b.Signature != s.sim.signature() || b.Dimensions != s.sim.dimensions() {
		return nil, "vectors were produced differently"
	}

	idx, err := s.indexes.Load(ctx, prefix+IndexSuffix, s.sim.dimensions())
	switch {
	case errors.Is(err, ErrNotFound):
		return nil, "index file missing"
	case err != nil:
		s.logger.Warn("vector index unreadable", "prefix", prefix, "error", err)
		return nil, "index file unreadable"
	case idx.Dimensions() != s.sim.dimensions():
		return nil, "index dimension mismatch"
	case idx.Count() != records:
		return nil, "index not aligned with records"
	}
	return idx, ""
}

// sanitizeBundle drops duplicate ids, nil metadata and deleted ids without
// a record, and marks tombstoned texts as deleted.
func sanitizeBundle(b *Bundle) ([]Record, map[int]int, map[int]struct{}, int) {
	records := make([]Record, 0, len(b.Records))
	positions := make(map[int]int, len(b.Records))
	maxID := -1

	for _, rec := range b.Records {
		if _, dup := positions[rec.ID]; dup || rec.ID < 0 {
			continue
		}
		if rec.Metadata == nil {
			rec.Metadata = map[string]any{}
		}
		positions[rec.ID] = len(records)
		records = append(records, rec)
		maxID = max(maxID, rec.ID)
	}

	deleted := make(map[int]struct{})
	for _, id := range b.DeletedIDs {
		if _, ok := positions[id]; ok {
			deleted[id] = struct{}{}
		}
	}
	for _, rec := range records {
		if rec.Text == DeletedText {
			deleted[rec.ID] = struct{}{}
		}
	}
	return records, positions, deleted, maxID
}
