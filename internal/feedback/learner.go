// Package feedback records human verdicts on drafts and curates the few-shot
// example pool used by future drafting. It never touches the scorer; scoring
// weights only change through the out-of-band export.
package feedback

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"OpportunityPipeline/internal/domain"
	"OpportunityPipeline/internal/ports"
)

// MaxExamples bounds the few-shot pool handed to the drafting worker.
const MaxExamples = 3

// Learner interprets verdicts.
type Learner struct {
	log    ports.FeedbackLog
	logger *slog.Logger
	now    func() time.Time
}

// NewLearner wires the verdict log.
func NewLearner(log ports.FeedbackLog, logger *slog.Logger) *Learner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Learner{log: log, logger: logger, now: time.Now}
}

// Validate checks that verdict may be applied to opp as it was read. Edited
// verdicts must carry the final text.
func (l *Learner) Validate(opp domain.Opportunity, verdict domain.Verdict, finalText *string) error {
	if !verdict.Valid() {
		return &domain.ValidationError{Field: "verdict", Reason: fmt.Sprintf("unknown verdict %q", verdict)}
	}
	if verdict == domain.VerdictEdited && (finalText == nil || strings.TrimSpace(*finalText) == "") {
		return &domain.ValidationError{Field: "final_text", Reason: "required for edited verdicts"}
	}
	if opp.Status != domain.StatusDrafted {
		return &domain.InvalidTransitionError{ID: opp.ID, From: opp.Status, To: verdict.TargetStatus()}
	}
	return nil
}

// RecordVerdict appends a verdict for a drafted opportunity after Validate.
// Callers that also move the opportunity should do so first, so that a lost
// race never leaves a record behind.
func (l *Learner) RecordVerdict(ctx context.Context, opp domain.Opportunity, verdict domain.Verdict, finalText *string) (domain.FeedbackRecord, error) {
	if err := l.Validate(opp, verdict, finalText); err != nil {
		return domain.FeedbackRecord{}, err
	}

	record := domain.FeedbackRecord{
		ID:            uuid.NewString(),
		OpportunityID: opp.ID,
		Verdict:       verdict,
		DraftText:     opp.Draft,
		FinalText:     finalText,
		Timestamp:     l.now().UTC(),
	}
	if err := l.log.Append(ctx, record); err != nil {
		return domain.FeedbackRecord{}, fmt.Errorf("append verdict: %w", err)
	}

	l.logger.Info("verdict recorded", "opportunity", opp.ID, "verdict", verdict)
	return record, nil
}

// Examples returns up to n (at most MaxExamples) recent accepted drafts,
// newest first.
func (l *Learner) Examples(ctx context.Context, n int) ([]domain.FeedbackRecord, error) {
	if n > MaxExamples {
		n = MaxExamples
	}
	if n <= 0 {
		return nil, nil
	}
	return l.log.Recent(ctx, []domain.Verdict{domain.VerdictApproved, domain.VerdictEdited}, n)
}

// Recent returns the last n records with the given verdict.
func (l *Learner) Recent(ctx context.Context, verdict domain.Verdict, n int) ([]domain.FeedbackRecord, error) {
	return l.log.Recent(ctx, []domain.Verdict{verdict}, n)
}

// Export writes every record since the given instant as JSON lines for the
// out-of-band retraining step. It returns the number of records written.
func (l *Learner) Export(ctx context.Context, w io.Writer, since time.Time) (int, error) {
	records, err := l.log.Since(ctx, since)
	if err != nil {
		return 0, fmt.Errorf("load feedback: %w", err)
	}

	enc := json.NewEncoder(w)
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return i, fmt.Errorf("encode feedback %s: %w", rec.ID, err)
		}
	}
	return len(records), nil
}
