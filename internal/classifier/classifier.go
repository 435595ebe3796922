// Package classifier assigns tasks to cost tiers with a keyword and length
// driven score.
package classifier

import (
	"math"
	"regexp"
	"strings"

	"OpportunityPipeline/internal/domain"
)

type compiledIndicator struct {
	name   string
	expr   *regexp.Regexp
	weight int
}

// Classifier is a pure mapping from description to Classification.
type Classifier struct {
	indicators []compiledIndicator
	thresholds []Threshold
	hours      map[domain.Tier]float64
	backends   map[domain.Tier][]string
}

// New compiles rules and binds the fallback-ordered backend list of each tier.
func New(rules Rules, backends map[domain.Tier][]string) (*Classifier, error) {
	if err := rules.Validate(); err != nil {
		return nil, err
	}

	c := &Classifier{
		thresholds: rules.Thresholds,
		hours:      rules.Hours,
		backends:   map[domain.Tier][]string{},
	}
	for _, ind := range rules.Indicators {
		c.indicators = append(c.indicators, compiledIndicator{
			name:   ind.Name,
			expr:   regexp.MustCompile(`(?i)` + ind.Pattern),
			weight: ind.Weight,
		})
	}
	for tier, list := range backends {
		c.backends[tier] = append([]string(nil), list...)
	}
	return c, nil
}

// BackendsFromConfig converts the config's string keyed tier map.
func BackendsFromConfig(tiers map[string][]string) map[domain.Tier][]string {
	out := make(map[domain.Tier][]string, len(tiers))
	for name, list := range tiers {
		out[domain.Tier(strings.ToLower(name))] = list
	}
	return out
}

// Classify scores the description and maps it through the threshold table.
func (c *Classifier) Classify(description string) domain.Classification {
	score, matched := c.score(description)
	tier, lower := c.tierFor(score)

	return domain.Classification{
		Tier:              tier,
		Backends:          append([]string(nil), c.backends[tier]...),
		EstimatedHours:    c.estimateHours(tier, score, lower),
		ComplexityScore:   score,
		MatchedIndicators: matched,
	}
}

func (c *Classifier) score(description string) (int, []string) {
	score := 0
	var matched []string
	for _, ind := range c.indicators {
		if ind.expr.MatchString(description) {
			score += ind.weight
			matched = append(matched, ind.name)
		}
	}

	switch words := len(strings.Fields(description)); {
	case words <= shortWords:
		score--
	case words > veryLongWords:
		score += 2
	case words > longWords:
		score++
	}

	return score, matched
}

// tierFor returns the tier and the lowest score that maps onto it.
func (c *Classifier) tierFor(score int) (domain.Tier, int) {
	lower := math.MinInt
	for _, th := range c.thresholds {
		if score <= th.Max {
			return th.Tier, lower
		}
		lower = th.Max + 1
	}
	last := c.thresholds[len(c.thresholds)-1]
	return last.Tier, lower
}

func (c *Classifier) estimateHours(tier domain.Tier, score, lower int) float64 {
	base := c.hours[tier]
	if lower == math.MinInt || score <= lower {
		return base
	}
	return math.Min(base+0.5*float64(score-lower), 2*base)
}
