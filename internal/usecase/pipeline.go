package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"OpportunityPipeline/internal/domain"
	"OpportunityPipeline/internal/drafting"
	"OpportunityPipeline/internal/escalation"
	"OpportunityPipeline/internal/ports"
	"OpportunityPipeline/internal/scoring"
)

// ErrDraftFailures is returned when at least one draft exhausted its backends.
var ErrDraftFailures = errors.New("drafts failed")

// DigestSignal is the signal type of the daily summary notification.
const DigestSignal = "daily_digest"

// Scorer ranks raw signal text.
type Scorer interface {
	Score(text string, meta scoring.Metadata) float64
}

// Drafter produces and stores a draft for one opportunity.
type Drafter interface {
	Draft(ctx context.Context, opp domain.Opportunity) (drafting.Result, error)
}

// Learner validates and records human verdicts.
type Learner interface {
	Validate(opp domain.Opportunity, verdict domain.Verdict, finalText *string) error
	RecordVerdict(ctx context.Context, opp domain.Opportunity, verdict domain.Verdict, finalText *string) (domain.FeedbackRecord, error)
}

// HumanNotifier sends cooldown-gated notifications.
type HumanNotifier interface {
	NotifyHuman(ctx context.Context, signalType, stableKey, message string) (escalation.NotifyOutcome, error)
}

// PendingScreen tells which pending opportunities are worth a draft slot.
type PendingScreen interface {
	PendingFilter() domain.PendingFilter
}

// MetricsPusher exports a finished batch.
type MetricsPusher interface {
	Push(ctx context.Context, report Report) error
}

// PipelineConfig bounds one batch.
type PipelineConfig struct {
	Workers          int
	DraftConcurrency int
	PendingLimit     int
	BatchTimeout     time.Duration
	Location         *time.Location
}

// PipelineDeps wires all driven adapters into the orchestration pipeline.
type PipelineDeps struct {
	Source     ports.SignalSource
	Repository ports.OpportunityRepository
	Scorer     Scorer
	Drafter    Drafter
	Learner    Learner
	Notifier   HumanNotifier
	Screen     PendingScreen
	Decisions  ports.DecisionLog
	Lock       ports.RunLock
	Metrics    MetricsPusher
	Logger     *slog.Logger
	Now        func() time.Time
}

// Pipeline implements the ingest, score, draft and digest workflow.
type Pipeline struct {
	cfg        PipelineConfig
	source     ports.SignalSource
	repository ports.OpportunityRepository
	scorer     Scorer
	drafter    Drafter
	learner    Learner
	notifier   HumanNotifier
	screen     PendingScreen
	decisions  ports.DecisionLog
	lock       ports.RunLock
	metrics    MetricsPusher
	logger     *slog.Logger
	now        func() time.Time
}

// NewPipeline constructs the orchestration component.
func NewPipeline(cfg PipelineConfig, deps PipelineDeps) *Pipeline {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.DraftConcurrency <= 0 {
		cfg.DraftConcurrency = 1
	}
	if cfg.PendingLimit <= 0 {
		cfg.PendingLimit = 50
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}

	return &Pipeline{
		cfg:        cfg,
		source:     deps.Source,
		repository: deps.Repository,
		scorer:     deps.Scorer,
		drafter:    deps.Drafter,
		learner:    deps.Learner,
		notifier:   deps.Notifier,
		screen:     deps.Screen,
		decisions:  deps.Decisions,
		lock:       deps.Lock,
		metrics:    deps.Metrics,
		logger:     logger,
		now:        now,
	}
}

// RunBatch executes one full batch. Per-record failures are counted in the
// report; store failures abort the batch.
func (p *Pipeline) RunBatch(ctx context.Context) (Report, error) {
	if p.lock != nil {
		unlock, err := p.lock.TryLock()
		if err != nil {
			return Report{}, fmt.Errorf("acquire run lock: %w", err)
		}
		defer func() {
			if err := unlock(); err != nil {
				p.logger.Warn("release run lock", "error", err)
			}
		}()
	}

	report := Report{RunID: uuid.NewString(), StartedAt: p.now().UTC()}
	logger := p.logger.With("run", report.RunID)
	logger.Info("batch started")

	batchCtx := ctx
	if p.cfg.BatchTimeout > 0 {
		var cancel context.CancelFunc
		batchCtx, cancel = context.WithTimeout(ctx, p.cfg.BatchTimeout)
		defer cancel()
	}

	if err := p.ingest(batchCtx, &report, logger); err != nil {
		report.FinishedAt = p.now().UTC()
		return report, err
	}

	var filter domain.PendingFilter
	if p.screen != nil {
		filter = p.screen.PendingFilter()
	}
	pending, err := p.repository.ListDraftable(batchCtx, p.cfg.PendingLimit, filter)
	if err != nil {
		report.FinishedAt = p.now().UTC()
		return report, fmt.Errorf("list pending: %w", err)
	}

	storeErr := p.draftAll(batchCtx, pending, &report, logger)

	if storeErr == nil {
		p.sendDigest(ctx, &report, logger)
	}

	report.FinishedAt = p.now().UTC()
	if p.metrics != nil {
		if err := p.metrics.Push(ctx, report); err != nil {
			logger.Warn("push batch metrics", "error", err)
		}
	}

	logger.Info("batch finished",
		"pulled", report.Pulled, "rejected", report.Rejected, "inserted", report.Inserted,
		"duplicates", report.Duplicates, "drafted", report.Drafted, "ignored", report.Ignored,
		"failed", report.Failed, "cancelled", report.Cancelled, "duration", report.Duration())

	switch {
	case storeErr != nil:
		return report, storeErr
	case report.Failed > 0:
		return report, fmt.Errorf("%d of %d: %w", report.Failed, len(pending), ErrDraftFailures)
	}
	return report, nil
}

// ingest pulls, scores and inserts new signals.
func (p *Pipeline) ingest(ctx context.Context, report *Report, logger *slog.Logger) error {
	if p.source == nil {
		return nil
	}

	batch, err := p.source.Pull(ctx)
	if err != nil {
		return fmt.Errorf("pull signals: %w", err)
	}
	report.Pulled = len(batch.Signals)
	report.Rejected = len(batch.Rejected)
	for _, r := range batch.Rejected {
		logger.Warn("signal rejected", "origin", r.Origin, "reason", r.Reason)
	}

	opps := make([]domain.Opportunity, len(batch.Signals))
	valid := make([]bool, len(batch.Signals))
	now := p.now().UTC()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Workers)
	for i, sig := range batch.Signals {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			if err := sig.Validate(); err != nil {
				logger.Warn("signal invalid", "source", sig.Source, "error", err)
				return nil
			}
			score := p.scorer.Score(sig.Title+"\n"+sig.Context, scoring.Metadata{Source: sig.Source, Kind: sig.Kind})
			opps[i] = sig.ToOpportunity(score, now)
			valid[i] = true
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("score signals: %w", err)
	}

	for i, opp := range opps {
		if !valid[i] {
			report.Rejected++
			continue
		}
		inserted, err := p.repository.Insert(ctx, opp)
		if err != nil {
			return fmt.Errorf("insert %s: %w", opp.ID, err)
		}
		if inserted {
			report.Inserted++
			logger.Debug("opportunity stored", "id", opp.ID, "score", opp.Score)
		} else {
			report.Duplicates++
		}
	}

	if batch.Ack != nil {
		if err := batch.Ack(); err != nil {
			logger.Warn("acknowledge inbox", "error", err)
		}
	}
	return nil
}

type draftOutcome struct {
	opp    domain.Opportunity
	result drafting.Result
	err    error
}

// draftAll drafts pending opportunities with bounded concurrency and fans the
// results back in. It returns the first store failure, if any.
func (p *Pipeline) draftAll(ctx context.Context, pending []domain.Opportunity, report *Report, logger *slog.Logger) error {
	if p.drafter == nil || len(pending) == 0 {
		return nil
	}

	results := make(chan draftOutcome, len(pending))
	go func() {
		var g errgroup.Group
		g.SetLimit(p.cfg.DraftConcurrency)
		for _, opp := range pending {
			g.Go(func() error {
				if err := ctx.Err(); err != nil {
					results <- draftOutcome{opp: opp, err: err}
					return nil
				}
				res, err := p.drafter.Draft(ctx, opp)
				results <- draftOutcome{opp: opp, result: res, err: err}
				return nil
			})
		}
		_ = g.Wait()
		close(results)
	}()

	var storeErr error
	for out := range results {
		outcome := p.classify(out, report)
		switch outcome {
		case OutcomeFailed:
			logger.Warn("draft failed", "id", out.opp.ID, "error", out.err)
		case OutcomeStoreError:
			logger.Error("draft store failure", "id", out.opp.ID, "error", out.err)
			if storeErr == nil {
				storeErr = fmt.Errorf("draft %s: %w", out.opp.ID, out.err)
			}
		case OutcomeDrafted:
			logger.Info("draft stored", "id", out.opp.ID, "backend", out.result.Backend, "escalated", out.result.Decision.Escalated)
		}
		report.Drafts = append(report.Drafts, DraftSummary{
			OpportunityID: out.opp.ID,
			Title:         out.opp.Title,
			Backend:       out.result.Backend,
			Outcome:       outcome,
		})

		if out.result.Decision.OpportunityID == "" || p.decisions == nil {
			continue
		}
		decision := out.result.Decision
		decision.RunID = report.RunID
		decision.Outcome = string(outcome)
		if err := p.decisions.Append(decision); err != nil {
			logger.Warn("append decision", "id", out.opp.ID, "error", err)
		}
	}
	return storeErr
}

func (p *Pipeline) classify(out draftOutcome, report *Report) Outcome {
	switch {
	case out.err == nil:
		report.Drafted++
		if out.result.Decision.Escalated {
			report.Escalated++
		}
		return OutcomeDrafted
	case errors.Is(out.err, domain.ErrIgnored):
		report.Ignored++
		return OutcomeIgnored
	case errors.Is(out.err, domain.ErrStore):
		report.Failed++
		return OutcomeStoreError
	case errors.Is(out.err, context.Canceled), errors.Is(out.err, context.DeadlineExceeded):
		report.Cancelled++
		return OutcomeCancelled
	default:
		report.Failed++
		return OutcomeFailed
	}
}

// sendDigest lists drafts awaiting approval, at most once per calendar day.
func (p *Pipeline) sendDigest(ctx context.Context, report *Report, logger *slog.Logger) {
	if p.notifier == nil || report.Drafted == 0 {
		return
	}

	drafted, err := p.repository.ListByStatus(ctx, domain.StatusDrafted, p.cfg.PendingLimit)
	if err != nil {
		logger.Warn("list drafted for digest", "error", err)
		return
	}
	if len(drafted) == 0 {
		return
	}

	day := p.now().In(p.cfg.Location).Format(time.DateOnly)
	outcome, err := p.notifier.NotifyHuman(ctx, DigestSignal, day, buildDigestMessage(day, drafted))
	if err != nil {
		logger.Warn("send digest", "error", err)
	}
	report.Digest = outcome
}

func buildDigestMessage(day string, drafted []domain.Opportunity) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d drafts awaiting approval (%s)\n\n", len(drafted), day)
	for _, opp := range drafted {
		fmt.Fprintf(&b, "- %s [%s, score %.0f] %s\n", opp.Title, opp.Kind, opp.Score, opp.ID)
	}
	return b.String()
}
