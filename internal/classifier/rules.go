package classifier

import (
	"fmt"
	"math"
	"os"
	"regexp"
	"sort"

	"gopkg.in/yaml.v3"

	"OpportunityPipeline/internal/domain"
)

// Indicator is one signed keyword rule. Negative weights pull toward quick,
// positive weights toward enforcer. An indicator counts at most once.
type Indicator struct {
	Name    string `yaml:"name"`
	Pattern string `yaml:"pattern"`
	Weight  int    `yaml:"weight"`
}

// Threshold maps every score up to and including Max onto Tier.
type Threshold struct {
	Tier domain.Tier `yaml:"tier"`
	Max  int         `yaml:"max"`
}

// Rules is the declarative classifier definition.
type Rules struct {
	Indicators []Indicator             `yaml:"indicators"`
	Thresholds []Threshold             `yaml:"thresholds"`
	Hours      map[domain.Tier]float64 `yaml:"hours"`
}

// Length adjustments, applied once per description.
const (
	shortWords    = 5
	longWords     = 40
	veryLongWords = 120
)

// DefaultRules returns the built-in indicator and threshold tables.
//
//	score <= 0  -> quick
//	1..4        -> deep
//	>= 5        -> enforcer
func DefaultRules() Rules {
	return Rules{
		Indicators: []Indicator{
			{Name: "typo", Pattern: `\btypos?\b`, Weight: -2},
			{Name: "fix", Pattern: `\bfix(es|ed)?\b`, Weight: -1},
			{Name: "rename", Pattern: `\brenam(e|ing)\b`, Weight: -1},
			{Name: "small", Pattern: `\b(small|minor|tiny|simple|trivial)\b`, Weight: -1},
			{Name: "docs", Pattern: `\b(readme|docs?|docstring|comment)\b`, Weight: -1},
			{Name: "build", Pattern: `\b(implement|build|create|add)\b`, Weight: 1},
			{Name: "feature", Pattern: `\bfeatures?\b`, Weight: 1},
			{Name: "billing", Pattern: `\b(billing|payments?)\b`, Weight: 1},
			{Name: "integration", Pattern: `\b(integrat(e|ion)|api)\b`, Weight: 1},
			{Name: "refactor", Pattern: `\brefactor(ing)?\b`, Weight: 2},
			{Name: "migration", Pattern: `\bmigrat(e|ion)\b`, Weight: 2},
			{Name: "security", Pattern: `\b(security|audit|compliance)\b`, Weight: 2},
			{Name: "architecture", Pattern: `\barchitecture\b`, Weight: 2},
			{Name: "scale", Pattern: `\b(distributed|concurrency|scalability)\b`, Weight: 2},
			{Name: "scope", Pattern: `\b(entire|whole)\b`, Weight: 2},
			{Name: "infrastructure", Pattern: `\binfrastructure\b`, Weight: 2},
			{Name: "cross-cutting", Pattern: `\bacross (services|teams|systems|repositories)\b`, Weight: 2},
			{Name: "rebuild", Pattern: `\b(rebuild|rewrite|redesign|overhaul)\b`, Weight: 3},
		},
		Thresholds: []Threshold{
			{Tier: domain.TierQuick, Max: 0},
			{Tier: domain.TierDeep, Max: 4},
			{Tier: domain.TierEnforcer, Max: math.MaxInt},
		},
		Hours: map[domain.Tier]float64{
			domain.TierQuick:    0.5,
			domain.TierDeep:     4,
			domain.TierEnforcer: 16,
		},
	}
}

// LoadRules reads a YAML rule file. Missing sections fall back to defaults.
func LoadRules(path string) (Rules, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Rules{}, fmt.Errorf("read classifier rules: %w", err)
	}

	var loaded Rules
	if err := yaml.Unmarshal(raw, &loaded); err != nil {
		return Rules{}, fmt.Errorf("parse classifier rules: %w", err)
	}

	rules := DefaultRules()
	if len(loaded.Indicators) > 0 {
		rules.Indicators = loaded.Indicators
	}
	if len(loaded.Thresholds) > 0 {
		rules.Thresholds = loaded.Thresholds
	}
	for tier, h := range loaded.Hours {
		rules.Hours[tier] = h
	}

	if err := rules.Validate(); err != nil {
		return Rules{}, err
	}
	return rules, nil
}

// Validate checks patterns compile and thresholds partition the integers in
// tier order.
func (r Rules) Validate() error {
	for _, ind := range r.Indicators {
		if _, err := regexp.Compile(ind.Pattern); err != nil {
			return fmt.Errorf("indicator %s: %w", ind.Name, err)
		}
	}

	if len(r.Thresholds) == 0 {
		return fmt.Errorf("classifier rules: no thresholds")
	}
	sorted := sort.SliceIsSorted(r.Thresholds, func(i, j int) bool {
		return r.Thresholds[i].Max < r.Thresholds[j].Max
	})
	if !sorted {
		return fmt.Errorf("classifier rules: thresholds must ascend")
	}
	for i := 1; i < len(r.Thresholds); i++ {
		if r.Thresholds[i].Tier.Rank() <= r.Thresholds[i-1].Tier.Rank() {
			return fmt.Errorf("classifier rules: thresholds must follow tier order")
		}
	}
	if r.Thresholds[len(r.Thresholds)-1].Max != math.MaxInt {
		return fmt.Errorf("classifier rules: last threshold must be unbounded")
	}
	return nil
}
