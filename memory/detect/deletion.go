package detect

import (
	"regexp"
	"strings"

	"github.com/deskpet/memcore/core"
)

// Deletion is the outcome of DeletionDetector.Detect.
type Deletion struct {
	IsRequest bool
	Scope     core.Scope
	// Target is what to forget, nil when the utterance names nothing.
	Target *string
}

// DeletionDetector recognizes requests to forget stored memories.
type DeletionDetector struct {
	exemptions matcher
	patterns   matcher
	all        matcher
	recent     matcher
	fillers    []*regexp.Regexp
}

// NewDeletionDetector compiles rules.
func NewDeletionDetector(rules DeletionRules) (*DeletionDetector, error) {
	d := &DeletionDetector{}
	var err error
	if d.exemptions, err = compile(rules.Exemptions); err != nil {
		return nil, err
	}
	if d.patterns, err = compile(rules.Patterns); err != nil {
		return nil, err
	}
	if d.all, err = compile(rules.AllQualifiers); err != nil {
		return nil, err
	}
	if d.recent, err = compile(rules.RecentQualifiers); err != nil {
		return nil, err
	}
	if d.fillers, err = compile(rules.TargetFillers); err != nil {
		return nil, err
	}
	return d, nil
}

// NewDefaultDeletionDetector returns a detector using DefaultDeletionRules.
func NewDefaultDeletionDetector() *DeletionDetector {
	d, err := NewDeletionDetector(DefaultDeletionRules())
	if err != nil {
		panic(err)
	}
	return d
}

// Detect classifies utterance. A miss yields IsRequest=false and ScopeNone.
func (d *DeletionDetector) Detect(utterance string) Deletion {
	text := strings.TrimSpace(utterance)
	miss := Deletion{Scope: core.ScopeNone}
	if text == "" || d.exemptions.any(text) {
		return miss
	}

	loc, ok := d.patterns.find(text)
	if !ok {
		return miss
	}

	out := Deletion{IsRequest: true, Target: d.extractTarget(text[loc[1]:])}
	switch {
	case d.all.any(text):
		out.Scope = core.ScopeAll
	case d.recent.any(text):
		out.Scope = core.ScopeRecent
	default:
		out.Scope = core.ScopeSpecific
	}
	return out
}

func (d *DeletionDetector) extractTarget(rest string) *string {
	target := trimEdges(rest)
	for _, f := range d.fillers {
		target = trimEdges(f.ReplaceAllString(target, ""))
	}
	if target == "" {
		return nil
	}
	return &target
}
