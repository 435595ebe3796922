package drafting

import (
	"fmt"
	"strings"

	"OpportunityPipeline/internal/domain"
)

// DefaultPersona is used when the config leaves the persona empty.
const DefaultPersona = `You write short, specific replies on behalf of an independent software engineer.
Be concrete about what you can deliver and ask at most one clarifying question.
Never invent prices, dates or credentials.
Respond with ONLY the reply text, nothing else.`

const maxContextRunes = 4000

// BuildPrompt assembles the persona block, the accepted examples and then the
// opportunity, so the model reads the task last.
func BuildPrompt(persona string, opp domain.Opportunity, examples []domain.FeedbackRecord) string {
	if strings.TrimSpace(persona) == "" {
		persona = DefaultPersona
	}

	var b strings.Builder
	b.WriteString(strings.TrimSpace(persona))
	b.WriteString("\n\n")

	if len(examples) > 0 {
		b.WriteString("Replies that were accepted before:\n")
		for i, ex := range examples {
			fmt.Fprintf(&b, "--- example %d ---\n%s\n", i+1, strings.TrimSpace(ex.ExampleText()))
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "Source: %s (%s)\n", opp.Source, opp.Kind)
	fmt.Fprintf(&b, "Title: %s\n", opp.Title)
	if opp.URL != "" {
		fmt.Fprintf(&b, "Link: %s\n", opp.URL)
	}
	fmt.Fprintf(&b, "\n%s\n", truncateRunes(strings.TrimSpace(opp.Context), maxContextRunes))

	return b.String()
}

// Summary is the human notification text for a draft awaiting approval.
func Summary(opp domain.Opportunity, backend, text string) string {
	return fmt.Sprintf("Draft ready for %s [%s, score %.0f] via %s\n%s\n\n%s\n\nverdict %s approved|rejected|edited",
		opp.Title, opp.Kind, opp.Score, backend, opp.URL, truncateRunes(text, 600), opp.ID)
}

func truncateRunes(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "…"
}
