// Package session runs one conversation against a persistent memory store.
//
// A Session owns the embedder, the store and the manager built from a
// config.Config. ProcessTurn is the only entry point a chat loop needs: it
// handles deletion requests and reserved commands itself, and otherwise
// returns the generator context for the utterance while deciding whether
// to remember it.
//
// Every mutating turn is persisted immediately. Persistence failures are
// logged and counted but never undo the in-memory change.
//
// A Session is not safe for concurrent use.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/deskpet/memcore/config"
	"github.com/deskpet/memcore/core"
	"github.com/deskpet/memcore/logging"
	"github.com/deskpet/memcore/memory"
	"github.com/deskpet/memcore/memory/store/chromem"
	"github.com/deskpet/memcore/memory/store/sqlite"
	"github.com/deskpet/memcore/metrics"
)

// Option customizes a Session.
type Option func(*options)

type options struct {
	embedder    memory.Embedder
	embedderSet bool
	logger      *slog.Logger
	metrics     *metrics.Metrics
	clock       func() time.Time
}

// WithEmbedder bypasses provider selection. A nil embedder forces lexical
// mode.
func WithEmbedder(e memory.Embedder) Option {
	return func(o *options) {
		o.embedder = e
		o.embedderSet = true
	}
}

// WithLogger sets the logger. Default: logging.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics records turn metrics into m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithClock sets the time source used for memory timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.clock = now }
}

// Session is one running conversation over a persistent memory store.
type Session struct {
	id      string
	path    string
	list    int
	store   *memory.Store
	manager *memory.Manager
	metrics *metrics.Metrics
	logger  *slog.Logger
	closeFn func()
}

// New builds a session from cfg and loads any memories saved under
// cfg.Memory.Path. An unusable embedding provider is not an error: the
// session runs in lexical mode instead.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Session, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = logging.Default()
	}

	id := uuid.NewString()
	logger := o.logger.With("session_id", id)

	embedder, closeFn := o.embedder, func() {}
	if !o.embedderSet {
		embedder, closeFn = buildEmbedder(ctx, cfg.Embedder, logger)
	}

	store, err := memory.NewStore(ctx, memory.StoreConfig{
		Embedder:   embedder,
		Dimensions: cfg.Memory.Dimensions,
		Indexes:    chromem.NewFactory(),
		Codec:      sqlite.New(),
		Logger:     logger,
		Seed:       uint64(cfg.Memory.Seed),
		Clock:      o.clock,
	})
	if err != nil {
		closeFn()
		return nil, err
	}

	if err := store.Load(ctx, cfg.Memory.Path); err != nil {
		// The saved index could not be rebuilt. Start from what NewStore
		// gave us rather than refusing to run.
		logger.Error("failed to load memories", "path", cfg.Memory.Path, "error", err)
	}

	manager := memory.NewManager(store, memory.ManagerConfig{
		RetrieveTopK:      cfg.Memory.RetrieveTopK,
		RetrieveThreshold: cfg.Memory.RetrieveThreshold,
		DeleteThreshold:   cfg.Memory.DeleteThreshold,
		RecentHours:       float64(cfg.Memory.RecentHours),
		CompactAfter:      cfg.Memory.CompactAfter,
		Logger:            logger,
	})

	s := &Session{
		id:      id,
		path:    cfg.Memory.Path,
		list:    cfg.Memory.ListLimit,
		store:   store,
		manager: manager,
		metrics: o.metrics,
		logger:  logger.With("component", "session"),
		closeFn: closeFn,
	}
	s.updateGauges()

	stats := store.Stats()
	s.logger.Info("session started",
		"mode", store.Mode(),
		"dimensions", store.Dimensions(),
		"active", stats.Active,
		"deleted", stats.Deleted,
	)
	return s, nil
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Mode reports whether the store runs on embeddings or lexical overlap.
func (s *Session) Mode() memory.Mode { return s.store.Mode() }

// Manager exposes the underlying manager.
func (s *Session) Manager() *memory.Manager { return s.manager }

// ProcessTurn handles one utterance. It never returns an error: failures
// are logged and the turn degrades to a plain context with no memories.
func (s *Session) ProcessTurn(ctx context.Context, utterance string) (res *core.TurnResult) {
	start := time.Now()
	res = newResult()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("turn panicked", "panic", r)
			res = newResult()
			res.Context = memory.FormatContext(strings.TrimSpace(utterance), nil)
		}
		s.metrics.ObserveTurn(string(res.MemoryAction), time.Since(start))
	}()

	text := strings.TrimSpace(utterance)
	if text == "" {
		res.Context = memory.FormatContext(text, nil)
		return res
	}

	if s.manager.IsDeletionRequest(text) {
		s.deletionTurn(ctx, text, res)
		return res
	}

	if cmd, ok := reservedCommand(text); ok {
		res.Response = s.command(ctx, cmd)
		return res
	}

	s.conversationTurn(ctx, text, res)
	return res
}

func newResult() *core.TurnResult {
	return &core.TurnResult{
		MemoryAction:     core.ActionNone,
		RelevantMemories: []core.Memory{},
	}
}

func (s *Session) deletionTurn(ctx context.Context, text string, res *core.TurnResult) {
	d := s.manager.ProcessDeletion(ctx, text)
	res.MemoryAction = core.ActionDelete
	res.DeletedCount = d.DeletedCount
	res.Response = d.Message
	if d.DeletedCount == 0 {
		return
	}
	res.ShouldSave = true
	s.metrics.Deleted(d.DeletedCount)
	s.persist()
}

func (s *Session) conversationTurn(ctx context.Context, text string, res *core.TurnResult) {
	memories, err := s.manager.Retrieve(ctx, text)
	if err != nil {
		s.logger.Warn("memory retrieval failed", "error", err)
		memories = nil
	}
	res.Context = memory.FormatContext(text, memories)
	for _, m := range memories {
		res.RelevantMemories = append(res.RelevantMemories, core.Memory{
			ID:       m.ID,
			Text:     m.Text,
			Score:    m.Score,
			Metadata: m.Metadata,
		})
	}

	d := s.manager.ShouldRemember(text)
	if !d.ShouldStore {
		return
	}
	id, err := s.manager.Remember(ctx, text, d)
	if err != nil {
		s.logger.Warn("failed to store memory", "kind", d.Kind, "error", err)
		return
	}
	if id < 0 {
		return
	}
	res.MemoryAction = core.ActionAdd
	res.MemoryID = &id
	res.ShouldSave = true
	s.metrics.Stored(string(d.Kind))
	s.persist()
}

// Stats returns the store counters.
func (s *Session) Stats() memory.Stats { return s.store.Stats() }

// List returns up to limit active memories, oldest first. A non-positive
// limit uses the configured list limit.
func (s *Session) List(limit int) []memory.Listing {
	if limit <= 0 {
		limit = s.list
	}
	return s.manager.List(limit)
}

// Cleanup compacts the store and persists the result.
func (s *Session) Cleanup(ctx context.Context) error {
	if err := s.manager.Cleanup(ctx); err != nil {
		return err
	}
	s.persist()
	return nil
}

// AddMemory stores text directly, bypassing trigger detection. It returns
// -1 for blank text.
func (s *Session) AddMemory(ctx context.Context, text string, metadata map[string]any) (int, error) {
	id, err := s.store.Add(ctx, text, metadata)
	if err != nil || id < 0 {
		return id, err
	}
	kind, _ := metadata[memory.MetaType].(string)
	s.metrics.Stored(kind)
	s.persist()
	return id, nil
}

// DeleteByID soft-deletes one memory and persists. It reports false for
// unknown or already deleted ids.
func (s *Session) DeleteByID(ctx context.Context, id int) bool {
	if !s.manager.DeleteByID(ctx, id) {
		return false
	}
	s.metrics.Deleted(1)
	s.persist()
	return true
}

// Close saves the store and releases the embedder.
func (s *Session) Close() error {
	err := s.store.Save(s.path)
	if err != nil {
		s.metrics.PersistFailed()
	}
	s.closeFn()
	return err
}

// persist writes the store and updates the gauges. Failures are logged and
// the in-memory state is kept.
func (s *Session) persist() {
	s.updateGauges()
	if err := s.store.Save(s.path); err != nil {
		s.logger.Error("failed to persist memories", "path", s.path, "error", err)
		s.metrics.PersistFailed()
	}
}

func (s *Session) updateGauges() {
	st := s.store.Stats()
	s.metrics.SetRecords(st.Active, st.Deleted)
}

// command answers a reserved command.
func (s *Session) command(ctx context.Context, cmd command) string {
	switch cmd {
	case cmdList:
		return formatListing(s.List(0))
	case cmdStats:
		return formatStats(s.Stats())
	case cmdCleanup:
		if err := s.Cleanup(ctx); err != nil {
			s.logger.Error("cleanup failed", "error", err)
			return "Cleanup failed, memories were left as they were."
		}
		return "Memory cleanup complete."
	}
	return ""
}

func formatListing(items []memory.Listing) string {
	if len(items) == 0 {
		return "I don't have any memories yet."
	}
	var b strings.Builder
	b.WriteString("Current memories:")
	for _, it := range items {
		fmt.Fprintf(&b, "\n[ID:%d] %s - %s", it.ID, it.CreatedAt, it.Text)
	}
	return b.String()
}

func formatStats(st memory.Stats) string {
	cleanup := "no"
	if st.CleanupNeeded {
		cleanup = "yes"
	}
	return fmt.Sprintf("Memory stats:\nActive: %d\nDeleted: %d\nTotal: %d\nCleanup needed: %s",
		st.Active, st.Deleted, st.Total, cleanup)
}
