package scoring

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// MaxScore is the upper bound of every score.
const MaxScore = 100.0

// KeywordRule awards PerMatch points for every pattern occurrence, up to Cap.
// Patterns are case-insensitive regular expressions and carry their own
// word boundaries.
type KeywordRule struct {
	Name     string   `yaml:"name"`
	Patterns []string `yaml:"patterns"`
	PerMatch float64  `yaml:"perMatch"`
	Cap      float64  `yaml:"cap"`
}

// LengthRule grows linearly with the word count until FullAt words.
type LengthRule struct {
	Cap    float64 `yaml:"cap"`
	FullAt int     `yaml:"fullAt"`
}

// QuestionRule awards Points when the text asks a direct question.
type QuestionRule struct {
	Points float64 `yaml:"points"`
}

// Table is the declarative scoring definition. The caps of all sub-signals
// must sum to at most MaxScore so the total never needs clamping.
type Table struct {
	Keywords      []KeywordRule      `yaml:"keywords"`
	Length        LengthRule         `yaml:"length"`
	Question      QuestionRule       `yaml:"question"`
	SourceWeights map[string]float64 `yaml:"sourceWeights"`
}

// DefaultTable returns the built-in rule table. Caps: 30+20+25+15+10 = 100.
func DefaultTable() Table {
	return Table{
		Keywords: []KeywordRule{
			{
				Name: "budget",
				Patterns: []string{
					`\$\s?\d[\d,.]*k?`,
					`\b\d[\d,.]*\s?(usd|eur|gbp)\b`,
					words(`budget`, `paid`, `pay`, `hourly`, `per hour`, `rate`, `contract`, `compensation`, `invoice`, `retainer`),
				},
				PerMatch: 10,
				Cap:      30,
			},
			{
				Name:     "urgency",
				Patterns: []string{words(`urgent(ly)?`, `asap`, `immediately`, `today`, `this week`, `deadline`, `right away`, `as soon as possible`)},
				PerMatch: 10,
				Cap:      20,
			},
			{
				Name: "skills",
				Patterns: []string{words(
					`golang`, `go developer`, `python`, `kubernetes`, `docker`, `postgres(ql)?`, `api`,
					`backend`, `automation`, `llm`, `ai`, `machine learning`, `data pipeline`, `scraping`, `integration`,
				)},
				PerMatch: 5,
				Cap:      25,
			},
		},
		Length:   LengthRule{Cap: 15, FullAt: 120},
		Question: QuestionRule{Points: 10},
	}
}

// words builds a single alternation matched on word boundaries.
func words(alternatives ...string) string {
	return `\b(` + strings.Join(alternatives, "|") + `)\b`
}

// LoadTable reads a YAML rule table from path and validates it.
func LoadTable(path string) (Table, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Table{}, fmt.Errorf("read scoring rules: %w", err)
	}

	var table Table
	if err := yaml.Unmarshal(raw, &table); err != nil {
		return Table{}, fmt.Errorf("parse scoring rules: %w", err)
	}

	if err := table.Validate(); err != nil {
		return Table{}, err
	}
	return table, nil
}

// CapSum is the maximum total the table can produce.
func (t Table) CapSum() float64 {
	sum := t.Length.Cap + t.Question.Points
	for _, rule := range t.Keywords {
		sum += rule.Cap
	}
	return sum
}

// Validate rejects tables that could leave [0, MaxScore].
func (t Table) Validate() error {
	for _, rule := range t.Keywords {
		if rule.Name == "" {
			return fmt.Errorf("scoring rule without name")
		}
		if rule.PerMatch <= 0 || rule.Cap < 0 {
			return fmt.Errorf("scoring rule %s: perMatch must be positive and cap non-negative", rule.Name)
		}
		for _, p := range rule.Patterns {
			if _, err := regexp.Compile(p); err != nil {
				return fmt.Errorf("scoring rule %s: pattern %q: %w", rule.Name, p, err)
			}
		}
	}
	if t.Length.Cap < 0 || t.Question.Points < 0 {
		return fmt.Errorf("scoring rules: structural caps must be non-negative")
	}
	if t.Length.Cap > 0 && t.Length.FullAt <= 0 {
		return fmt.Errorf("scoring rules: length.fullAt must be positive")
	}
	if sum := t.CapSum(); sum > MaxScore {
		return fmt.Errorf("scoring rules: caps sum to %.1f, above %.0f", sum, MaxScore)
	}
	for source, w := range t.SourceWeights {
		if w < 0 || w > 1 {
			return fmt.Errorf("scoring rules: weight for %s must be within 0..1", source)
		}
	}
	return nil
}
