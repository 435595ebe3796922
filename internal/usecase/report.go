package usecase

import (
	"time"

	"OpportunityPipeline/internal/domain"
	"OpportunityPipeline/internal/escalation"
)

// Outcome is what happened to one pending opportunity in a batch.
type Outcome string

const (
	OutcomeDrafted    Outcome = "drafted"
	OutcomeIgnored    Outcome = "ignored"
	OutcomeFailed     Outcome = "failed"
	OutcomeCancelled  Outcome = "cancelled"
	OutcomeStoreError Outcome = "store_error"
)

// DraftSummary is the per-opportunity line of a batch report.
type DraftSummary struct {
	OpportunityID string
	Title         string
	Backend       string
	Outcome       Outcome
}

// Report summarises one batch.
type Report struct {
	RunID      string
	StartedAt  time.Time
	FinishedAt time.Time

	Pulled     int
	Rejected   int
	Inserted   int
	Duplicates int

	Drafted   int
	Escalated int
	Ignored   int
	Failed    int
	Cancelled int

	Digest escalation.NotifyOutcome
	Drafts []DraftSummary
}

// Duration is the wall time of the batch.
func (r Report) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// StatusReport is the read-only view behind the status command.
type StatusReport struct {
	Counts    domain.StatusCounts
	Decisions []domain.Decision
}
