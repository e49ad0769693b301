package memory

import (
	"reflect"
	"time"
	"unicode/utf8"
)

// DeletedText replaces the text of a soft-deleted record.
const DeletedText = "[DELETED]"

// TimeLayout is the layout of the human-readable timestamps in metadata.
const TimeLayout = "2006-01-02 15:04:05"

// Metadata keys written by the store and the manager.
const (
	MetaTimestamp     = "timestamp"
	MetaCreatedAt     = "created_at"
	MetaType          = "type"
	MetaConfidence    = "confidence"
	MetaReason        = "reason"
	MetaOriginalInput = "original_input"
	MetaDeleted       = "deleted"
	MetaDeletedAt     = "deleted_at"
	MetaDeletedAtStr  = "deleted_at_str"
)

// Record is one stored memory. Its embedding lives in the index at the
// same position as the record.
type Record struct {
	ID       int
	Text     string
	Metadata map[string]any
}

// SearchResult is a record accepted by Store.Search.
type SearchResult struct {
	ID       int
	Text     string
	Score    float64
	Metadata map[string]any
	// Index is the record's position at search time.
	Index int
}

// Stats summarizes a store. Total counts soft-deleted records too.
type Stats struct {
	Total         int  `json:"total"`
	Active        int  `json:"active"`
	Deleted       int  `json:"deleted"`
	CleanupNeeded bool `json:"cleanup_needed"`
}

// Listing is a short view of an active record for display.
type Listing struct {
	ID        int
	Text      string
	Type      string
	CreatedAt string
}

func unixSeconds(t time.Time) float64 {
	return float64(t.Unix()) + float64(t.Nanosecond())/float64(time.Second)
}

func tombstone(now time.Time) map[string]any {
	return map[string]any{
		MetaDeleted:      true,
		MetaDeletedAt:    unixSeconds(now),
		MetaDeletedAtStr: now.Format(TimeLayout),
	}
}

func copyMetadata(src map[string]any) map[string]any {
	dst := make(map[string]any, len(src)+2)
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

// asFloat reads a numeric metadata value. Values read back from disk are
// float64 while values set in-process may be any numeric type.
func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}

func metadataEqual(a, b any) bool {
	if fa, ok := asFloat(a); ok {
		fb, ok := asFloat(b)
		return ok && fa == fb
	}
	return reflect.DeepEqual(a, b)
}

// truncate shortens s to max runes, appending "..." when cut.
func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	r := []rune(s)
	return string(r[:max]) + "..."
}
