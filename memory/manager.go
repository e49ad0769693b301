package memory

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/deskpet/memcore/core"
	"github.com/deskpet/memcore/logging"
	"github.com/deskpet/memcore/memory/detect"
)

// Context template pieces handed to the downstream text generator.
const (
	ContextPreamble = "You are a friendly companion who remembers what the user has told you. " +
		"Use the remembered facts when they help, and do not invent new ones."
	MemoryHeader   = "Here is what you remember about the user:"
	NoMemoryNotice = "(No relevant memories.)"
	InputLabel     = "User input: "
)

// Reasons recorded on a Decision.
const (
	ReasonSemantic = "semantic_analysis"
	ReasonSkipped  = "query_or_no_trigger"
)

// ManagerConfig holds Manager configuration.
type ManagerConfig struct {
	// RetrieveTopK is how many memories are retrieved per turn.
	// Default: 3
	RetrieveTopK int

	// RetrieveThreshold is the minimum score for retrieval [0.0-1.0].
	// Default: 0.6
	RetrieveThreshold float64

	// DeleteThreshold is the minimum score for delete-by-content.
	// Default: 0.7
	DeleteThreshold float64

	// RecentHours is the window of a "recent" deletion.
	// Default: 24
	RecentHours float64

	// CompactAfter is how many single deletes are batched before Cleanup.
	// Default: 10
	CompactAfter int

	Logger *slog.Logger
}

// DefaultManagerConfig returns the defaults documented on ManagerConfig.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		RetrieveTopK:      3,
		RetrieveThreshold: 0.6,
		DeleteThreshold:   0.7,
		RecentHours:       24,
		CompactAfter:      10,
	}
}

// Decision is the normalized outcome of trigger detection.
type Decision struct {
	ShouldStore bool
	Kind        core.Kind
	Content     string
	Confidence  float64
	Reason      string
}

// DeletionResult reports what ProcessDeletion did.
type DeletionResult struct {
	Success      bool
	Message      string
	Scope        core.Scope
	DeletedCount int
	DeletedIDs   []int
}

// Option customizes a Manager.
type Option func(*Manager)

// WithTriggerDetector replaces the default trigger detector.
func WithTriggerDetector(d *detect.TriggerDetector) Option {
	return func(m *Manager) { m.trigger = d }
}

// WithDeletionDetector replaces the default deletion detector.
func WithDeletionDetector(d *detect.DeletionDetector) Option {
	return func(m *Manager) { m.deletion = d }
}

// Manager ties the detectors to a Store: it decides what to remember,
// carries out deletion requests and builds the generator context.
type Manager struct {
	store    *Store
	trigger  *detect.TriggerDetector
	deletion *detect.DeletionDetector
	config   ManagerConfig
	logger   *slog.Logger

	pendingDeletes int
}

// NewManager creates a Manager over store. Zero config fields take their
// defaults.
func NewManager(store *Store, config ManagerConfig, opts ...Option) *Manager {
	def := DefaultManagerConfig()
	if config.RetrieveTopK <= 0 {
		config.RetrieveTopK = def.RetrieveTopK
	}
	if config.RetrieveThreshold == 0 {
		config.RetrieveThreshold = def.RetrieveThreshold
	}
	if config.DeleteThreshold == 0 {
		config.DeleteThreshold = def.DeleteThreshold
	}
	if config.RecentHours <= 0 {
		config.RecentHours = def.RecentHours
	}
	if config.CompactAfter <= 0 {
		config.CompactAfter = def.CompactAfter
	}
	logger := config.Logger
	if logger == nil {
		logger = logging.Default()
	}

	m := &Manager{
		store:  store,
		config: config,
		logger: logger.With("component", "memory.manager"),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.trigger == nil {
		m.trigger = detect.NewDefaultTriggerDetector()
	}
	if m.deletion == nil {
		m.deletion = detect.NewDefaultDeletionDetector()
	}
	return m
}

// Store returns the underlying store.
func (m *Manager) Store() *Store { return m.store }

// Config returns the effective configuration.
func (m *Manager) Config() ManagerConfig { return m.config }

// ShouldRemember classifies utterance.
func (m *Manager) ShouldRemember(utterance string) Decision {
	t := m.trigger.Detect(utterance)
	d := Decision{
		ShouldStore: t.ShouldStore,
		Kind:        t.Kind,
		Content:     t.Content,
		Confidence:  normalizeConfidence(t),
		Reason:      ReasonSkipped,
	}
	if d.ShouldStore {
		d.Reason = ReasonSemantic
	}
	return d
}

func normalizeConfidence(t detect.Trigger) float64 {
	c := min(max(t.Confidence, 0), 1)
	if c > 0 || !t.ShouldStore {
		return c
	}
	switch {
	case t.Kind == core.KindExplicit:
		return 0.9
	case t.Kind.IsPersonal():
		return 0.7
	default:
		return 0.6
	}
}

// IsDeletionRequest reports whether utterance asks to forget something.
func (m *Manager) IsDeletionRequest(utterance string) bool {
	return m.deletion.Detect(utterance).IsRequest
}

// ProcessDeletion carries out the deletion request in utterance, if any.
// Cleanup runs only when something was deleted.
func (m *Manager) ProcessDeletion(ctx context.Context, utterance string) DeletionResult {
	req := m.deletion.Detect(utterance)
	if !req.IsRequest {
		return DeletionResult{Scope: core.ScopeNone, Message: "No deletion request recognized."}
	}

	res := DeletionResult{Scope: req.Scope}
	switch req.Scope {
	case core.ScopeAll:
		res.DeletedIDs = m.store.DeleteAll()
	case core.ScopeRecent:
		res.DeletedIDs = m.store.DeleteRecent(m.config.RecentHours)
	default:
		if req.Target == nil {
			res.Message = "Please tell me which memory to forget."
			return res
		}
		ids, err := m.store.DeleteByContent(ctx, *req.Target, m.config.DeleteThreshold)
		if err != nil {
			m.logger.Error("delete by content failed", "target", *req.Target, "error", err)
			res.Message = "Sorry, I could not search my memories right now."
			return res
		}
		res.DeletedIDs = ids
	}

	res.DeletedCount = len(res.DeletedIDs)
	if res.DeletedCount == 0 {
		res.Message = "I couldn't find any matching memories to forget."
		return res
	}

	res.Success = true
	res.Message = deletionMessage(req, res.DeletedCount, m.config.RecentHours)
	m.logger.Info("memories deleted", "scope", req.Scope, "count", res.DeletedCount)
	m.compact(ctx)
	return res
}

func deletionMessage(req detect.Deletion, n int, hours float64) string {
	switch req.Scope {
	case core.ScopeAll:
		return fmt.Sprintf("Forgot all %d memories.", n)
	case core.ScopeRecent:
		return fmt.Sprintf("Forgot %d memories from the last %g hours.", n, hours)
	default:
		return fmt.Sprintf("Forgot %d memories about %q.", n, *req.Target)
	}
}

// DeleteByID soft-deletes a single memory. Compaction is deferred until
// CompactAfter single deletes have accumulated.
func (m *Manager) DeleteByID(ctx context.Context, id int) bool {
	if !m.store.DeleteByID(id) {
		return false
	}
	m.pendingDeletes++
	if m.pendingDeletes >= m.config.CompactAfter {
		m.compact(ctx)
	}
	return true
}

// PendingDeletes is the number of single deletes since the last cleanup.
func (m *Manager) PendingDeletes() int { return m.pendingDeletes }

func (m *Manager) compact(ctx context.Context) {
	if err := m.store.Cleanup(ctx); err != nil {
		m.logger.Error("memory cleanup failed", "error", err)
		return
	}
	m.pendingDeletes = 0
}

// Cleanup compacts the store now.
func (m *Manager) Cleanup(ctx context.Context) error {
	if err := m.store.Cleanup(ctx); err != nil {
		return err
	}
	m.pendingDeletes = 0
	return nil
}

// Retrieve returns the memories relevant to utterance.
func (m *Manager) Retrieve(ctx context.Context, utterance string) ([]SearchResult, error) {
	return m.store.Search(ctx, utterance, m.config.RetrieveTopK, m.config.RetrieveThreshold)
}

// BuildContext assembles the generator context for utterance. When
// memories is nil they are retrieved first.
func (m *Manager) BuildContext(ctx context.Context, utterance string, memories []SearchResult) (string, error) {
	if memories == nil {
		var err error
		if memories, err = m.Retrieve(ctx, utterance); err != nil {
			return "", err
		}
	}
	return FormatContext(utterance, memories), nil
}

// FormatContext renders the context template.
func FormatContext(utterance string, memories []SearchResult) string {
	var b strings.Builder
	b.WriteString(ContextPreamble)
	b.WriteString("\n\n")
	b.WriteString(MemoryHeader)
	b.WriteString("\n")
	if len(memories) == 0 {
		b.WriteString(NoMemoryNotice)
		b.WriteString("\n")
	}
	for _, mem := range memories {
		b.WriteString("- ")
		b.WriteString(mem.Text)
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(InputLabel)
	b.WriteString(utterance)
	return b.String()
}

// Remember stores the content of d, falling back to the utterance.
func (m *Manager) Remember(ctx context.Context, utterance string, d Decision) (int, error) {
	content := d.Content
	if strings.TrimSpace(content) == "" {
		content = utterance
	}
	reason := d.Reason
	if reason == "" {
		reason = ReasonSemantic
	}
	id, err := m.store.Add(ctx, content, map[string]any{
		MetaType:          string(d.Kind),
		MetaConfidence:    d.Confidence,
		MetaReason:        reason,
		MetaOriginalInput: utterance,
	})
	if err != nil {
		return -1, err
	}
	if id >= 0 {
		m.logger.Info("memory stored", "id", id, "kind", d.Kind, "confidence", d.Confidence)
	}
	return id, nil
}

// List returns up to limit active memories with text cut to 100 runes.
func (m *Manager) List(limit int) []Listing {
	records := m.store.Records(limit)
	out := make([]Listing, 0, len(records))
	for _, rec := range records {
		l := Listing{ID: rec.ID, Text: truncate(rec.Text, 100)}
		l.Type, _ = rec.Metadata[MetaType].(string)
		l.CreatedAt, _ = rec.Metadata[MetaCreatedAt].(string)
		out = append(out, l)
	}
	return out
}
