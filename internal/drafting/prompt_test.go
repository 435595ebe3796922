package drafting

import (
	"strings"
	"testing"

	"OpportunityPipeline/internal/domain"
)

func TestBuildPromptDefaultsPersona(t *testing.T) {
	t.Parallel()
	opp := domain.Opportunity{Source: "social", Kind: "question", Title: "t", Context: "c"}

	prompt := BuildPrompt("", opp, nil)
	if !strings.HasPrefix(prompt, strings.TrimSpace(DefaultPersona)) {
		t.Fatalf("expected default persona, got %q", prompt)
	}
	if strings.Contains(prompt, "accepted before") {
		t.Fatalf("unexpected examples block in %q", prompt)
	}
}

func TestBuildPromptTruncatesLongContext(t *testing.T) {
	t.Parallel()
	opp := domain.Opportunity{Title: "t", Context: strings.Repeat("é", maxContextRunes+50)}

	prompt := BuildPrompt("p", opp, nil)
	if got := strings.Count(prompt, "é"); got != maxContextRunes {
		t.Fatalf("expected %d runes of context, got %d", maxContextRunes, got)
	}
}

func TestBuildPromptPutsOpportunityAfterExamples(t *testing.T) {
	t.Parallel()
	opp := domain.Opportunity{Source: "email", Kind: "lead", Title: "Port the billing API", Context: "We need it in Go."}
	examples := []domain.FeedbackRecord{{DraftText: "Happy to help with the migration."}}

	prompt := BuildPrompt("persona text", opp, examples)

	persona := strings.Index(prompt, "persona text")
	example := strings.Index(prompt, "Happy to help with the migration.")
	title := strings.Index(prompt, "Title: Port the billing API")
	if persona != 0 || example < persona || title < example {
		t.Fatalf("expected persona, examples, opportunity order; got offsets %d %d %d", persona, example, title)
	}
}
