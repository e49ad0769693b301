// Package detect classifies raw utterances for the memory core.
//
// TriggerDetector decides whether an utterance should be remembered and
// DeletionDetector recognizes requests to forget. Both are pure functions of
// their input and of the rule tables in rules.go.
package detect

import (
	"regexp"
	"strings"

	"github.com/m-mizutani/goerr/v2"
)

// matcher is an ordered list of compiled patterns.
type matcher []*regexp.Regexp

func compile(patterns []string) (matcher, error) {
	m := make(matcher, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			return nil, goerr.Wrap(err, "invalid rule pattern", goerr.V("pattern", p))
		}
		m = append(m, re)
	}
	return m, nil
}

// find returns the location of the first pattern (in priority order) that
// matches text.
func (m matcher) find(text string) ([]int, bool) {
	for _, re := range m {
		if loc := re.FindStringIndex(text); loc != nil {
			return loc, true
		}
	}
	return nil, false
}

func (m matcher) any(text string) bool {
	_, ok := m.find(text)
	return ok
}

const edgePunct = " \t\r\n：:，,。.！!？?、；;\"'“”「」"

// trimEdges strips whitespace and punctuation from both ends.
func trimEdges(s string) string {
	return strings.Trim(s, edgePunct)
}

func hasAnySuffix(text string, suffixes []string) bool {
	for _, s := range suffixes {
		if strings.HasSuffix(text, s) {
			return true
		}
	}
	return false
}
