// Package core holds the value types shared between the memory core and
// the front ends that consume it.
package core

import "strings"

// Kind tags why a memory was stored.
type Kind string

const (
	KindNone          Kind = "none"
	KindQuery         Kind = "query"
	KindExplicit      Kind = "explicit"
	KindDeclarative   Kind = "declarative"
	KindPlan          Kind = "plan"
	KindImportantFact Kind = "important_fact"

	// Personal disclosures are tagged with this prefix plus their category,
	// e.g. "personal_identity".
	KindPersonalPrefix = "personal_"
)

// PersonalKind returns the kind for a personal-disclosure category.
func PersonalKind(category string) Kind {
	return Kind(KindPersonalPrefix + category)
}

// IsPersonal reports whether k is one of the personal_<category> kinds.
func (k Kind) IsPersonal() bool {
	return strings.HasPrefix(string(k), KindPersonalPrefix) && len(k) > len(KindPersonalPrefix)
}

// Scope is the reach of a deletion request.
type Scope string

const (
	ScopeNone     Scope = "none"
	ScopeAll      Scope = "all"
	ScopeRecent   Scope = "recent"
	ScopeSpecific Scope = "specific"
)

// Action reports what a turn did to the memory store.
type Action string

const (
	ActionNone   Action = "none"
	ActionAdd    Action = "add"
	ActionDelete Action = "delete"
)

// Memory is a retrieved memory as exposed to front ends.
type Memory struct {
	ID       int            `json:"id"`
	Text     string         `json:"text"`
	Score    float64        `json:"score"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// TurnResult is everything a chat loop needs after one turn.
//
// Context is the only artifact meant for a downstream text generator. It is
// empty for administrative turns (deletions and reserved commands), which
// carry their reply in Response instead.
type TurnResult struct {
	RequestID        string   `json:"request_id,omitempty"`
	Context          string   `json:"context"`
	RelevantMemories []Memory `json:"relevant_memories"`
	MemoryAction     Action   `json:"memory_action"`
	MemoryID         *int     `json:"memory_id,omitempty"`
	DeletedCount     int      `json:"deleted_count"`
	ShouldSave       bool     `json:"should_save"`

	// Response is set when the turn was answered by the memory core itself.
	Response string `json:"response,omitempty"`
}

// HasResponse reports whether the turn was handled without the generator.
func (r *TurnResult) HasResponse() bool {
	return r.Response != ""
}
