package usecase

import (
	"context"
	"fmt"

	"OpportunityPipeline/internal/domain"
)

// ApplyVerdict moves the draft to approved or rejected and then records the
// verdict. The transition runs in the store's transaction, so of two racing
// verdicts only the one that moved the draft is recorded. An edited verdict
// replaces the stored draft with the final text.
func (p *Pipeline) ApplyVerdict(ctx context.Context, id string, verdict domain.Verdict, finalText *string) (domain.FeedbackRecord, error) {
	opp, err := p.repository.Get(ctx, id)
	if err != nil {
		return domain.FeedbackRecord{}, fmt.Errorf("load opportunity: %w", err)
	}
	if err := p.learner.Validate(opp, verdict, finalText); err != nil {
		return domain.FeedbackRecord{}, fmt.Errorf("record verdict: %w", err)
	}

	var draft *string
	if verdict == domain.VerdictEdited {
		draft = finalText
	}
	if err := p.repository.UpdateStatus(ctx, id, verdict.TargetStatus(), draft); err != nil {
		return domain.FeedbackRecord{}, fmt.Errorf("apply verdict: %w", err)
	}

	record, err := p.learner.RecordVerdict(ctx, opp, verdict, finalText)
	if err != nil {
		p.logger.Error("verdict applied but not recorded", "id", id, "verdict", verdict, "error", err)
		return domain.FeedbackRecord{}, fmt.Errorf("record verdict: %w", err)
	}

	p.logger.Info("verdict applied", "id", id, "verdict", verdict)
	return record, nil
}

// Redraft sends a drafted opportunity back to the queue.
func (p *Pipeline) Redraft(ctx context.Context, id string) error {
	if err := p.repository.UpdateStatus(ctx, id, domain.StatusPending, nil); err != nil {
		return fmt.Errorf("redraft: %w", err)
	}
	p.logger.Info("opportunity requeued", "id", id)
	return nil
}

// Status returns counts per status and the last n decisions.
func (p *Pipeline) Status(ctx context.Context, n int) (StatusReport, error) {
	counts, err := p.repository.Stats(ctx)
	if err != nil {
		return StatusReport{}, fmt.Errorf("load stats: %w", err)
	}

	report := StatusReport{Counts: counts}
	if p.decisions != nil && n > 0 {
		report.Decisions, err = p.decisions.Recent(n)
		if err != nil {
			return StatusReport{}, fmt.Errorf("load decisions: %w", err)
		}
	}
	return report, nil
}

// List returns opportunities with the given status in queue order.
func (p *Pipeline) List(ctx context.Context, status domain.Status, limit int) ([]domain.Opportunity, error) {
	if !status.Valid() {
		return nil, &domain.ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", status)}
	}
	return p.repository.ListByStatus(ctx, status, limit)
}
