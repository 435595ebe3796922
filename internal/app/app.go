package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"OpportunityPipeline/internal/backend"
	"OpportunityPipeline/internal/classifier"
	"OpportunityPipeline/internal/config"
	"OpportunityPipeline/internal/drafting"
	"OpportunityPipeline/internal/escalation"
	"OpportunityPipeline/internal/feedback"
	"OpportunityPipeline/internal/infrastructure/eventlog"
	"OpportunityPipeline/internal/infrastructure/inbox"
	"OpportunityPipeline/internal/infrastructure/llm"
	"OpportunityPipeline/internal/infrastructure/lock"
	"OpportunityPipeline/internal/infrastructure/metrics"
	"OpportunityPipeline/internal/infrastructure/ml"
	"OpportunityPipeline/internal/infrastructure/scheduler"
	"OpportunityPipeline/internal/infrastructure/storage"
	"OpportunityPipeline/internal/infrastructure/telegram"
	"OpportunityPipeline/internal/logging"
	"OpportunityPipeline/internal/ports"
	"OpportunityPipeline/internal/scoring"
	"OpportunityPipeline/internal/usecase"
)

const shutdownTimeout = 30 * time.Second

// Application wires configs to use cases and lifecycle orchestration.
type Application struct {
	cfg    config.Config
	logger *slog.Logger

	Pipeline   *usecase.Pipeline
	Learner    *feedback.Learner
	Scorer     *scoring.Scorer
	Classifier *classifier.Classifier
	Inbox      *inbox.Inbox

	policy  *escalation.Policy
	closers []func() error
}

// New opens the persisted state and builds every component.
func New(ctx context.Context, cfg config.Config, baseLogger *slog.Logger) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	a := &Application{cfg: cfg, logger: baseLogger}

	scorer, err := BuildScorer(cfg.Scoring)
	if err != nil {
		return nil, err
	}
	a.Scorer = scorer

	cls, err := BuildClassifier(cfg.Classifier)
	if err != nil {
		return nil, err
	}
	a.Classifier = cls

	opportunities, cooldowns, feedbackLog, err := a.openState(ctx)
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	decisions, err := eventlog.NewDecisionLog(cfg.State.DecisionLog)
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	registry := buildRegistry(cfg.Backends, baseLogger)

	a.policy = escalation.New(escalation.Config{
		MinScore:            cfg.Escalation.MinScore,
		ConfidenceThreshold: cfg.Escalation.ConfidenceThreshold,
		RoutineCooldown:     cfg.Escalation.RoutineCooldown,
		DailyCooldown:       cfg.Escalation.DailyCooldown,
		DailySignals:        cfg.Escalation.DailySignals,
		HumanApproval:       cfg.Escalation.HumanApproval,
		Ignore:              cfg.Escalation.Ignore,
		Cooldowns:           cfg.Escalation.Cooldowns,
	}, escalation.Deps{
		Classifier: cls,
		Locality:   registry,
		Cooldowns:  cooldowns,
		Notifier:   buildNotifier(cfg.Notifications, baseLogger),
		Logger:     baseLogger.With("component", "escalation"),
	})

	a.Learner = feedback.NewLearner(feedbackLog, baseLogger.With("component", "feedback"))

	worker := drafting.New(drafting.Config{
		Persona:     cfg.Drafting.Persona,
		Temperature: cfg.Drafting.Temperature,
		FewShot:     cfg.Drafting.FewShot,
		Timeout:     cfg.Pipeline.GenerationTimeout,
		MaxRetries:  cfg.Pipeline.MaxRetries,
		BaseDelay:   cfg.Pipeline.RetryBaseDelay,
		MaxDelay:    cfg.Pipeline.RetryMaxDelay,
	}, drafting.Deps{
		Policy:   a.policy,
		Backends: registry,
		Examples: a.Learner,
		Store:    opportunities,
		Logger:   baseLogger.With("component", "drafting"),
	})

	a.Inbox = inbox.New(cfg.Inbox.Dir, baseLogger.With("component", "inbox"))

	var pusher usecase.MetricsPusher
	if cfg.Metrics.PushgatewayURL != "" {
		pusher = metrics.New(cfg.Metrics.PushgatewayURL, cfg.Metrics.Job)
	}

	a.Pipeline = usecase.NewPipeline(usecase.PipelineConfig{
		Workers:          cfg.Pipeline.Workers,
		DraftConcurrency: cfg.Pipeline.DraftConcurrency,
		PendingLimit:     cfg.Pipeline.PendingLimit,
		BatchTimeout:     cfg.Pipeline.BatchTimeout,
		Location:         cfg.Scheduler.Location(),
	}, usecase.PipelineDeps{
		Source:     a.Inbox,
		Repository: opportunities,
		Scorer:     scorer,
		Drafter:    worker,
		Learner:    a.Learner,
		Notifier:   a.policy,
		Screen:     a.policy,
		Decisions:  decisions,
		Lock:       lock.NewFileLock(cfg.State.LockFile),
		Metrics:    pusher,
		Logger:     baseLogger.With("component", "pipeline"),
	})

	return a, nil
}

// Run performs a single batch.
func (a *Application) Run(ctx context.Context) (usecase.Report, error) {
	if n, err := a.policy.PruneCooldowns(ctx); err != nil {
		a.logger.Warn("prune cooldowns", "error", err)
	} else if n > 0 {
		a.logger.Debug("pruned expired cooldowns", "count", n)
	}
	return a.Pipeline.RunBatch(ctx)
}

// Serve runs batches on the configured interval until ctx is cancelled.
func (a *Application) Serve(ctx context.Context) error {
	driver := scheduler.NewIntervalScheduler(a.cfg.Scheduler.Interval, a.cfg.Scheduler.Location())
	sched := usecase.NewScheduler(driver, a.Pipeline, a.logger.With("component", "scheduler"))

	a.logger.Info("serving", "interval", a.cfg.Scheduler.Interval, "inbox", a.Inbox.Dir())
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := sched.Stop(stopCtx); err != nil {
		return fmt.Errorf("stop scheduler: %w", err)
	}
	return nil
}

// Close releases the state stores.
func (a *Application) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *Application) openState(ctx context.Context) (*storage.OpportunityRepository, *storage.CooldownRepository, *storage.FeedbackRepository, error) {
	state := a.cfg.State

	open := func(dsn string) (*storage.DB, error) {
		db, err := storage.Open(ctx, state.Driver, dsn)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, db.Close)
		return db, nil
	}

	oppDB, err := open(state.OpportunitiesDSN)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open opportunities: %w", err)
	}
	opportunities, err := storage.NewOpportunityRepository(ctx, oppDB)
	if err != nil {
		return nil, nil, nil, err
	}

	cdDB, err := open(state.CooldownsDSN)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open cooldowns: %w", err)
	}
	cooldowns, err := storage.NewCooldownRepository(ctx, cdDB)
	if err != nil {
		return nil, nil, nil, err
	}

	fbDB, err := open(state.FeedbackDSN)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open feedback: %w", err)
	}
	feedbackLog, err := storage.NewFeedbackRepository(ctx, fbDB)
	if err != nil {
		return nil, nil, nil, err
	}

	return opportunities, cooldowns, feedbackLog, nil
}

// BuildScorer returns the configured scorer, or the built-in table.
func BuildScorer(cfg config.ScoringConfig) (*scoring.Scorer, error) {
	if cfg.RulesFile == "" {
		return scoring.Default(), nil
	}
	table, err := scoring.LoadTable(cfg.RulesFile)
	if err != nil {
		return nil, err
	}
	return scoring.New(table)
}

// BuildClassifier returns the configured tier classifier.
func BuildClassifier(cfg config.ClassifierConfig) (*classifier.Classifier, error) {
	rules := classifier.DefaultRules()
	if cfg.RulesFile != "" {
		loaded, err := classifier.LoadRules(cfg.RulesFile)
		if err != nil {
			return nil, err
		}
		rules = loaded
	}
	return classifier.New(rules, classifier.BackendsFromConfig(cfg.Tiers))
}

func buildRegistry(backends []config.BackendConfig, logger *slog.Logger) *backend.Registry {
	registry := backend.NewRegistry()
	for _, b := range backends {
		var gen ports.Generator
		switch b.Kind {
		case config.BackendKindLocal:
			gen = ml.NewClient(b)
		case config.BackendKindOpenAI:
			if b.APIKey == "" {
				logger.Warn("backend has no api key, skipping", "backend", b.Name)
				continue
			}
			gen = llm.NewChatGPTClient(b)
		}
		registry.Register(backend.Backend{Name: b.Name, Local: b.Local(), Generator: gen})
	}
	return registry
}

func buildNotifier(cfg config.NotificationConfig, logger *slog.Logger) ports.Notifier {
	tg := telegram.NewNotifier(cfg.Telegram)
	if tg.Configured() {
		return tg
	}
	logger.Info("telegram not configured, notifications go to the log")
	return logNotifier{logger: logger.With("component", "notify")}
}

// logNotifier is the fallback sink when no chat is configured.
type logNotifier struct {
	logger *slog.Logger
}

func (n logNotifier) Notify(_ context.Context, message string) error {
	n.logger.Info("notification", "message", message)
	return nil
}
