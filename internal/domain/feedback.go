package domain

import "time"

// Verdict is a human judgement on a generated draft.
type Verdict string

const (
	VerdictApproved Verdict = "approved"
	VerdictRejected Verdict = "rejected"
	VerdictEdited   Verdict = "edited"
)

// Valid reports whether v is a known verdict.
func (v Verdict) Valid() bool {
	return v == VerdictApproved || v == VerdictRejected || v == VerdictEdited
}

// Accepted reports whether the verdict keeps the draft (possibly edited).
func (v Verdict) Accepted() bool {
	return v == VerdictApproved || v == VerdictEdited
}

// TargetStatus maps a verdict to the opportunity status it produces.
func (v Verdict) TargetStatus() Status {
	if v.Accepted() {
		return StatusApproved
	}
	return StatusRejected
}

// FeedbackRecord is one append-only verdict entry.
type FeedbackRecord struct {
	ID            string    `json:"id"`
	OpportunityID string    `json:"opportunity_id"`
	Verdict       Verdict   `json:"verdict"`
	DraftText     string    `json:"draft_text"`
	FinalText     *string   `json:"final_text,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// ExampleText returns the text a human signed off on.
func (r FeedbackRecord) ExampleText() string {
	if r.FinalText != nil && *r.FinalText != "" {
		return *r.FinalText
	}
	return r.DraftText
}
