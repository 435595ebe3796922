// Package scoring maps raw signal text to a bounded, deterministic score.
package scoring

import (
	"math"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Metadata carries the non-text inputs of a score.
type Metadata struct {
	Source string
	Kind   string
}

type compiledRule struct {
	name     string
	exprs    []*regexp.Regexp
	perMatch float64
	cap      float64
}

// Scorer evaluates a validated rule table. It holds no mutable state and is
// safe for concurrent use.
type Scorer struct {
	rules         []compiledRule
	length        LengthRule
	question      QuestionRule
	sourceWeights map[string]float64
}

// New compiles a rule table.
func New(table Table) (*Scorer, error) {
	if err := table.Validate(); err != nil {
		return nil, err
	}

	s := &Scorer{
		length:        table.Length,
		question:      table.Question,
		sourceWeights: table.SourceWeights,
	}
	for _, rule := range table.Keywords {
		compiled := compiledRule{name: rule.Name, perMatch: rule.PerMatch, cap: rule.Cap}
		for _, p := range rule.Patterns {
			compiled.exprs = append(compiled.exprs, regexp.MustCompile(`(?i)`+p))
		}
		s.rules = append(s.rules, compiled)
	}
	return s, nil
}

// Default returns a scorer over DefaultTable.
func Default() *Scorer {
	s, err := New(DefaultTable())
	if err != nil {
		panic(err)
	}
	return s
}

// Score returns a value in [0, 100]. The same input always yields the same
// score.
func (s *Scorer) Score(text string, meta Metadata) float64 {
	total := 0.0
	for _, part := range s.Breakdown(text) {
		total += part
	}

	if w, ok := s.sourceWeights[meta.Source]; ok {
		total *= w
	}

	return math.Round(total*100) / 100
}

// Breakdown returns each sub-signal's capped contribution keyed by name.
func (s *Scorer) Breakdown(text string) map[string]float64 {
	parts := make(map[string]float64, len(s.rules)+2)

	for _, rule := range s.rules {
		matches := 0
		for _, expr := range rule.exprs {
			matches += len(expr.FindAllStringIndex(text, -1))
		}
		parts[rule.name] = math.Min(float64(matches)*rule.perMatch, rule.cap)
	}

	if s.length.Cap > 0 {
		words := len(strings.Fields(text))
		parts["length"] = math.Min(float64(words)/float64(s.length.FullAt), 1) * s.length.Cap
	}

	if hasDirectQuestion(text) {
		parts["question"] = s.question.Points
	} else {
		parts["question"] = 0
	}

	return parts
}

// hasDirectQuestion reports a '?' that ends a sentence: followed by
// whitespace, a closing quote or bracket, or the end of the text. Query
// strings in URLs do not count.
func hasDirectQuestion(text string) bool {
	for i := strings.IndexByte(text, '?'); i >= 0; {
		next := i + 1
		if next == len(text) {
			return true
		}
		r, _ := utf8.DecodeRuneInString(text[next:])
		if unicode.IsSpace(r) || strings.ContainsRune(`"')`, r) {
			return true
		}
		j := strings.IndexByte(text[next:], '?')
		if j < 0 {
			break
		}
		i = next + j
	}
	return false
}
