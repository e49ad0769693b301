package detect

import (
	"regexp"
	"strings"

	"github.com/deskpet/memcore/core"
)

// Trigger is the outcome of TriggerDetector.Detect.
type Trigger struct {
	ShouldStore bool
	Kind        core.Kind
	// Content is the text to store. Empty unless ShouldStore.
	Content    string
	Confidence float64
}

type personalMatcher struct {
	kind       core.Kind
	confidence float64
	patterns   matcher
}

// TriggerDetector decides whether an utterance is worth remembering.
//
// Rules are evaluated in a fixed order and the first hit wins:
// query, importance marker, explicit request, personal disclosure,
// sentence structure.
type TriggerDetector struct {
	rules TriggerRules

	queryOpeners matcher
	queryPhrases matcher
	markers      matcher
	explicit     matcher
	personal     []personalMatcher
	firstPerson  matcher
	actionVerbs  matcher
	futurePlan   matcher
	importance   matcher
}

// NewTriggerDetector compiles rules.
func NewTriggerDetector(rules TriggerRules) (*TriggerDetector, error) {
	d := &TriggerDetector{rules: rules}

	var err error
	compileInto := func(dst *matcher, patterns []string) {
		if err != nil {
			return
		}
		*dst, err = compile(patterns)
	}
	compileInto(&d.queryOpeners, rules.QueryOpeners)
	compileInto(&d.queryPhrases, rules.QueryPhrases)
	compileInto(&d.markers, rules.ImportanceMarkers)
	compileInto(&d.explicit, rules.ExplicitKeywords)
	compileInto(&d.firstPerson, rules.FirstPerson)
	compileInto(&d.actionVerbs, rules.ActionVerbs)
	compileInto(&d.futurePlan, rules.FuturePlan)
	compileInto(&d.importance, rules.Importance)
	if err != nil {
		return nil, err
	}

	for _, cat := range rules.Personal {
		m, err := compile(cat.Patterns)
		if err != nil {
			return nil, err
		}
		d.personal = append(d.personal, personalMatcher{
			kind:       core.PersonalKind(cat.Name),
			confidence: cat.Confidence,
			patterns:   m,
		})
	}
	return d, nil
}

// NewDefaultTriggerDetector returns a detector using DefaultTriggerRules.
// The built-in tables always compile.
func NewDefaultTriggerDetector() *TriggerDetector {
	d, err := NewTriggerDetector(DefaultTriggerRules())
	if err != nil {
		panic(err)
	}
	return d
}

// Detect classifies utterance.
func (d *TriggerDetector) Detect(utterance string) Trigger {
	text := strings.TrimSpace(utterance)
	if text == "" {
		return Trigger{Kind: core.KindNone}
	}

	if d.isQuery(text) {
		return Trigger{Kind: core.KindQuery, Confidence: d.rules.QueryConfidence}
	}

	if d.markers.any(text) {
		return Trigger{ShouldStore: true, Kind: core.KindImportantFact, Content: text, Confidence: d.rules.ImportantConfidence}
	}

	if loc, ok := d.explicit.find(text); ok {
		return Trigger{
			ShouldStore: true,
			Kind:        core.KindExplicit,
			Content:     extractAfter(text, loc),
			Confidence:  d.rules.ExplicitConfidence,
		}
	}

	for _, p := range d.personal {
		if p.patterns.any(text) {
			return Trigger{ShouldStore: true, Kind: p.kind, Content: text, Confidence: p.confidence}
		}
	}

	switch {
	case d.isDeclarative(text):
		return Trigger{ShouldStore: true, Kind: core.KindDeclarative, Content: text, Confidence: d.rules.DeclarativeConfidence}
	case d.futurePlan.any(text):
		return Trigger{ShouldStore: true, Kind: core.KindPlan, Content: text, Confidence: d.rules.PlanConfidence}
	case d.importance.any(text):
		return Trigger{ShouldStore: true, Kind: core.KindImportantFact, Content: text, Confidence: d.rules.ImportantConfidence}
	}

	return Trigger{Kind: core.KindNone}
}

func (d *TriggerDetector) isQuery(text string) bool {
	if d.queryOpeners.any(text) {
		return true
	}
	if hasAnySuffix(text, d.rules.QuerySuffixes) {
		return true
	}
	return d.queryPhrases.any(text)
}

func (d *TriggerDetector) isDeclarative(text string) bool {
	return d.firstPerson.any(text) &&
		!hasAnySuffix(text, d.rules.QuerySuffixes) &&
		d.actionVerbs.any(text)
}

var leadingThat = regexp.MustCompile(`(?i)^that\b`)

// extractAfter returns what follows the keyword at loc. When nothing useful
// follows, the whole utterance is kept so the memory never loses its
// subject.
func extractAfter(text string, loc []int) string {
	content := trimEdges(text[loc[1]:])
	content = trimEdges(leadingThat.ReplaceAllString(content, ""))
	if content == "" {
		return text
	}
	return content
}
