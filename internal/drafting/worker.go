// Package drafting turns a pending opportunity into a reply draft using the
// backends the escalation policy picked.
package drafting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"

	"OpportunityPipeline/internal/backend"
	"OpportunityPipeline/internal/domain"
	"OpportunityPipeline/internal/escalation"
	"OpportunityPipeline/internal/ports"
)

// Policy is the part of the escalation policy the worker consults.
type Policy interface {
	Decide(signalType string, opp domain.Opportunity, state escalation.SystemState) domain.Decision
	ConfidenceThreshold() float64
	NotifyHuman(ctx context.Context, signalType, stableKey, message string) (escalation.NotifyOutcome, error)
}

// Backends resolves backend names to generators.
type Backends interface {
	Resolve(name string) (backend.Backend, error)
}

// Examples supplies accepted drafts for few-shot prompting.
type Examples interface {
	Examples(ctx context.Context, n int) ([]domain.FeedbackRecord, error)
}

// Store records the draft.
type Store interface {
	UpdateStatus(ctx context.Context, id string, status domain.Status, draft *string) error
}

// Config controls prompting and retries.
type Config struct {
	Persona     string
	Temperature float64
	FewShot     int
	// Timeout bounds a single generation attempt.
	Timeout    time.Duration
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// Deps wires the worker's collaborators.
type Deps struct {
	Policy   Policy
	Backends Backends
	Examples Examples
	Store    Store
	Logger   *slog.Logger
}

// Result is a stored draft together with the decision that produced it.
type Result struct {
	OpportunityID string
	Text          string
	Backend       string
	Confidence    *float64
	Decision      domain.Decision
	Notified      escalation.NotifyOutcome
}

// Worker drafts replies.
type Worker struct {
	cfg      Config
	policy   Policy
	backends Backends
	examples Examples
	store    Store
	logger   *slog.Logger
}

// New builds a worker.
func New(cfg Config, deps Deps) *Worker {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 90 * time.Second
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 500 * time.Millisecond
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		cfg.MaxDelay = cfg.BaseDelay * 8
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Worker{
		cfg:      cfg,
		policy:   deps.Policy,
		backends: deps.Backends,
		examples: deps.Examples,
		store:    deps.Store,
		logger:   logger,
	}
}

type generation struct {
	text       string
	backend    string
	confidence *float64
}

// Draft generates and stores a draft for opp. On any error the opportunity is
// left untouched.
func (w *Worker) Draft(ctx context.Context, opp domain.Opportunity) (Result, error) {
	signalType := opp.SignalType()
	decision := w.policy.Decide(signalType, opp, escalation.SystemState{})
	result := Result{OpportunityID: opp.ID, Decision: decision}

	if decision.Action == domain.ActionIgnore {
		return result, fmt.Errorf("draft %s: %s: %w", opp.ID, decision.Reasoning, domain.ErrIgnored)
	}

	prompt := BuildPrompt(w.cfg.Persona, opp, w.loadExamples(ctx))

	unavailable := make(map[string]bool)
	gen, err := w.generateAny(ctx, decision.Backends, prompt, unavailable)
	if err != nil {
		return result, fmt.Errorf("draft %s: %w", opp.ID, err)
	}

	if decision.Action == domain.ActionHandleLocal && gen.confidence != nil && *gen.confidence < w.policy.ConfidenceThreshold() {
		unavailable[gen.backend] = true
		redecided := w.policy.Decide(signalType, opp, escalation.SystemState{
			LocalConfidence: gen.confidence,
			Unavailable:     unavailable,
		})
		w.logger.Info("local draft below confidence threshold",
			"opportunity", opp.ID, "backend", gen.backend, "confidence", *gen.confidence, "action", redecided.Action)

		if redecided.Action == domain.ActionEscalate {
			escalated, err := w.generateAny(ctx, redecided.Backends, prompt, unavailable)
			switch {
			case err == nil:
				gen = escalated
				decision = redecided
			case ctx.Err() != nil:
				return result, fmt.Errorf("draft %s: %w", opp.ID, ctx.Err())
			default:
				w.logger.Warn("escalated draft failed, keeping local draft", "opportunity", opp.ID, "error", err)
			}
		}
	}

	decision.ChosenBackend = gen.backend
	result.Decision = decision
	result.Text = gen.text
	result.Backend = gen.backend
	result.Confidence = gen.confidence

	if err := w.store.UpdateStatus(ctx, opp.ID, domain.StatusDrafted, &gen.text); err != nil {
		return result, fmt.Errorf("store draft %s: %w", opp.ID, err)
	}

	if decision.HumanApproval {
		outcome, err := w.policy.NotifyHuman(ctx, signalType, opp.ID, Summary(opp, gen.backend, gen.text))
		if err != nil {
			w.logger.Warn("approval notification failed", "opportunity", opp.ID, "error", err)
		}
		result.Notified = outcome
	}

	return result, nil
}

func (w *Worker) loadExamples(ctx context.Context) []domain.FeedbackRecord {
	if w.examples == nil || w.cfg.FewShot <= 0 {
		return nil
	}
	examples, err := w.examples.Examples(ctx, w.cfg.FewShot)
	if err != nil {
		w.logger.Warn("failed to load few-shot examples", "error", err)
		return nil
	}
	return examples
}

// generateAny tries each backend in order and returns the first non-empty
// draft. Failed backends are added to unavailable.
func (w *Worker) generateAny(ctx context.Context, names []string, prompt string, unavailable map[string]bool) (generation, error) {
	var lastErr error
	for _, name := range names {
		if unavailable[name] {
			continue
		}
		if err := ctx.Err(); err != nil {
			return generation{}, err
		}

		b, err := w.backends.Resolve(name)
		if err != nil {
			w.logger.Warn("backend unavailable", "backend", name, "error", err)
			unavailable[name] = true
			lastErr = err
			continue
		}

		gen, err := w.generate(ctx, b, prompt)
		if err == nil {
			return gen, nil
		}
		if ctx.Err() != nil {
			return generation{}, ctx.Err()
		}

		w.logger.Warn("backend failed", "backend", name, "error", err)
		unavailable[name] = true
		lastErr = err
	}

	if lastErr == nil {
		lastErr = errors.New("no candidate backends")
	}
	return generation{}, fmt.Errorf("%w: %v", domain.ErrBackendsExhausted, lastErr)
}

// generate calls one backend with retries on timeouts and empty output.
func (w *Worker) generate(ctx context.Context, b backend.Backend, prompt string) (generation, error) {
	policy := retrypolicy.NewBuilder[generation]().
		HandleIf(func(_ generation, err error) bool {
			return domain.IsRetryableGeneration(err)
		}).
		WithBackoff(w.cfg.BaseDelay, w.cfg.MaxDelay).
		WithMaxRetries(w.cfg.MaxRetries).
		WithJitterFactor(0.1).
		ReturnLastFailure().
		OnRetry(func(e failsafe.ExecutionEvent[generation]) {
			w.logger.Debug("retrying generation", "backend", b.Name, "attempt", e.Attempts(), "error", e.LastError())
		}).
		Build()

	return failsafe.With(policy).WithContext(ctx).Get(func() (generation, error) {
		return w.attempt(ctx, b, prompt)
	})
}

func (w *Worker) attempt(ctx context.Context, b backend.Backend, prompt string) (generation, error) {
	callCtx, cancel := context.WithTimeout(ctx, w.cfg.Timeout)
	defer cancel()

	gen := generation{backend: b.Name}
	var err error
	if cg, ok := b.Generator.(ports.ConfidentGenerator); ok {
		var conf float64
		gen.text, conf, err = cg.GenerateWithConfidence(callCtx, prompt, w.cfg.Temperature)
		if err == nil {
			gen.confidence = &conf
		}
	} else {
		gen.text, err = b.Generator.Generate(callCtx, prompt, w.cfg.Temperature)
	}

	switch {
	case err != nil && ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded):
		return generation{}, fmt.Errorf("%s: %w", b.Name, domain.ErrGenerationTimeout)
	case err != nil:
		return generation{}, fmt.Errorf("%s: %w", b.Name, err)
	}

	gen.text = strings.TrimSpace(gen.text)
	if gen.text == "" {
		return generation{}, fmt.Errorf("%s: %w", b.Name, domain.ErrGenerationEmpty)
	}
	return gen, nil
}
