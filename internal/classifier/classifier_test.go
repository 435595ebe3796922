package classifier

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"pgregory.net/rapid"

	"OpportunityPipeline/internal/domain"
)

func newDefault(t testing.TB) *Classifier {
	t.Helper()
	c, err := New(DefaultRules(), map[domain.Tier][]string{
		domain.TierQuick:    {"local", "cloud-mini"},
		domain.TierDeep:     {"cloud-mini", "cloud"},
		domain.TierEnforcer: {"cloud"},
	})
	if err != nil {
		t.Fatalf("new classifier: %v", err)
	}
	return c
}

func TestClassifyExamples(t *testing.T) {
	t.Parallel()

	c := newDefault(t)
	cases := []struct {
		description string
		want        domain.Tier
	}{
		{"fix a typo", domain.TierQuick},
		{"rebuild the entire billing infrastructure across services", domain.TierEnforcer},
		{"implement a new reporting feature for the dashboard page", domain.TierDeep},
		{"update the readme with a small comment", domain.TierQuick},
	}

	for _, tc := range cases {
		got := c.Classify(tc.description)
		if got.Tier != tc.want {
			t.Fatalf("%q: expected %s, got %s (score %d, matched %v)",
				tc.description, tc.want, got.Tier, got.ComplexityScore, got.MatchedIndicators)
		}
	}
}

func TestClassifyReturnsTierBackendsInOrder(t *testing.T) {
	t.Parallel()

	c := newDefault(t)
	got := c.Classify("fix a typo")
	if strings.Join(got.Backends, ",") != "local,cloud-mini" {
		t.Fatalf("unexpected backends %v", got.Backends)
	}

	got.Backends[0] = "mutated"
	if again := c.Classify("fix a typo"); again.Backends[0] != "local" {
		t.Fatal("classification must not share backend slices")
	}
}

func TestThresholdBoundaries(t *testing.T) {
	t.Parallel()

	c := newDefault(t)
	cases := []struct {
		score int
		want  domain.Tier
	}{
		{-10, domain.TierQuick},
		{0, domain.TierQuick},
		{1, domain.TierDeep},
		{4, domain.TierDeep},
		{5, domain.TierEnforcer},
		{50, domain.TierEnforcer},
	}
	for _, tc := range cases {
		if got, _ := c.tierFor(tc.score); got != tc.want {
			t.Fatalf("score %d: expected %s, got %s", tc.score, tc.want, got)
		}
	}
}

func TestEstimatedHoursGrowWithinTier(t *testing.T) {
	t.Parallel()

	c := newDefault(t)
	if got := c.estimateHours(domain.TierQuick, -3, 0); got != 0.5 {
		t.Fatalf("quick hours: %v", got)
	}
	low, _ := c.tierFor(1)
	if got := c.estimateHours(low, 1, 1); got != 4 {
		t.Fatalf("deep lower bound hours: %v", got)
	}
	if got := c.estimateHours(domain.TierEnforcer, 100, 5); got != 32 {
		t.Fatalf("enforcer hours should cap at double, got %v", got)
	}
}

func TestLoadRulesOverridesIndicators(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "tiers.yaml")
	raw := `
indicators:
  - name: kubernetes
    pattern: '\bkubernetes\b'
    weight: 6
`
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatalf("write rules: %v", err)
	}

	rules, err := LoadRules(path)
	if err != nil {
		t.Fatalf("load rules: %v", err)
	}
	c, err := New(rules, nil)
	if err != nil {
		t.Fatalf("new classifier: %v", err)
	}

	got := c.Classify("move the app to kubernetes now")
	if got.Tier != domain.TierEnforcer {
		t.Fatalf("expected enforcer, got %s (%d)", got.Tier, got.ComplexityScore)
	}
}

func TestRulesValidateRejectsUnorderedThresholds(t *testing.T) {
	t.Parallel()

	rules := DefaultRules()
	rules.Thresholds[0], rules.Thresholds[1] = rules.Thresholds[1], rules.Thresholds[0]
	if err := rules.Validate(); err == nil {
		t.Fatal("expected unordered thresholds to be rejected")
	}
}

var (
	neutralWords = []string{
		"the", "service", "dashboard", "page", "report", "user", "team", "data",
		"feature", "implement", "api", "billing", "fix", "small", "docs", "for", "with",
	}
	enforcerPhrases = []string{
		"rebuild", "rewrite", "refactor", "migration", "security audit", "architecture",
		"entire", "infrastructure", "across services", "distributed",
	}
)

func TestAppendingEnforcerIndicatorNeverDemotes(t *testing.T) {
	c := newDefault(t)

	rapid.Check(t, func(t *rapid.T) {
		parts := rapid.SliceOfN(rapid.SampledFrom(neutralWords), 1, 60).Draw(t, "words")
		description := strings.Join(parts, " ")

		before := c.Classify(description)

		phrase := rapid.SampledFrom(enforcerPhrases).Draw(t, "phrase")
		after := c.Classify(description + " " + phrase)
		if before.Tier == domain.TierDeep && after.Tier == domain.TierQuick {
			t.Fatalf("%q demoted from deep to quick", description)
		}
		if after.Tier.Rank() < before.Tier.Rank() {
			t.Fatalf("%q demoted from %s to %s", description, before.Tier, after.Tier)
		}
	})
}
