package ports

import (
	"context"
	"time"

	"OpportunityPipeline/internal/domain"
)

// SignalSource pulls signals pushed by external scanners.
type SignalSource interface {
	Pull(ctx context.Context) (SignalBatch, error)
}

// SignalBatch is what one inbox pull produced. Ack finalises the pull once the
// accepted signals are safely stored.
type SignalBatch struct {
	Signals  []domain.Signal
	Rejected []Rejection
	Ack      func() error
}

// Rejection records a malformed inbox record and why it was refused.
type Rejection struct {
	Origin string
	Raw    string
	Reason string
}

// OpportunityRepository persists opportunities and owns their uniqueness.
type OpportunityRepository interface {
	Insert(ctx context.Context, opp domain.Opportunity) (bool, error)
	Get(ctx context.Context, id string) (domain.Opportunity, error)
	ListPending(ctx context.Context, limit int) ([]domain.Opportunity, error)
	ListDraftable(ctx context.Context, limit int, filter domain.PendingFilter) ([]domain.Opportunity, error)
	ListByStatus(ctx context.Context, status domain.Status, limit int) ([]domain.Opportunity, error)
	UpdateStatus(ctx context.Context, id string, status domain.Status, draft *string) error
	Stats(ctx context.Context) (domain.StatusCounts, error)
}

// CooldownStore is the persisted keyed timestamp map behind notification suppression.
type CooldownStore interface {
	Get(ctx context.Context, key string) (domain.CooldownEntry, bool, error)
	Put(ctx context.Context, entry domain.CooldownEntry) error
	Prune(ctx context.Context, before time.Time) (int, error)
}

// FeedbackLog is the append-only verdict log.
type FeedbackLog interface {
	Append(ctx context.Context, record domain.FeedbackRecord) error
	Recent(ctx context.Context, verdicts []domain.Verdict, limit int) ([]domain.FeedbackRecord, error)
	Since(ctx context.Context, since time.Time) ([]domain.FeedbackRecord, error)
}

// Generator is the black-box text generation collaborator.
type Generator interface {
	Generate(ctx context.Context, prompt string, temperature float64) (string, error)
}

// ConfidentGenerator additionally reports a self-assessed confidence in [0,1].
type ConfidentGenerator interface {
	Generator
	GenerateWithConfidence(ctx context.Context, prompt string, temperature float64) (string, float64, error)
}

// Notifier sends text to a human.
type Notifier interface {
	Notify(ctx context.Context, message string) error
}

// DecisionLog keeps an append-only trail of routing decisions.
type DecisionLog interface {
	Append(decision domain.Decision) error
	Recent(limit int) ([]domain.Decision, error)
}

// RunLock guards against overlapping batches.
type RunLock interface {
	TryLock() (unlock func() error, err error)
}

// Scheduler controls when batches execute.
type Scheduler interface {
	Start(ctx context.Context, job func(time.Time)) error
	Stop(ctx context.Context) error
}
