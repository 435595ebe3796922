// Package escalation decides whether an opportunity is handled by a cheap
// local backend, escalated to an expensive one or a human, or ignored. It also
// gates human notifications behind persisted cooldowns.
package escalation

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"OpportunityPipeline/internal/domain"
	"OpportunityPipeline/internal/ports"
)

// Defaults used when the config leaves a window unset.
const (
	DefaultRoutineCooldown = time.Hour
	DefaultDailyCooldown   = 24 * time.Hour
)

// Config carries the hand-tuned thresholds and windows.
type Config struct {
	MinScore            float64
	ConfidenceThreshold float64
	RoutineCooldown     time.Duration
	DailyCooldown       time.Duration
	DailySignals        []string
	HumanApproval       []string
	Ignore              []string
	Cooldowns           map[string]time.Duration
}

// Classifier is the part of the tier classifier the policy needs.
type Classifier interface {
	Classify(description string) domain.Classification
}

// Locality tells which backends run on-device.
type Locality interface {
	IsLocal(name string) bool
}

// SystemState is what the policy knows beyond the opportunity itself.
type SystemState struct {
	// LocalConfidence is set when re-deciding after a local attempt.
	LocalConfidence *float64
	// Unavailable lists backends that already failed in this run.
	Unavailable map[string]bool
}

// NotifyOutcome reports what NotifyHuman did.
type NotifyOutcome string

const (
	NotifySent       NotifyOutcome = "sent"
	NotifySuppressed NotifyOutcome = "suppressed"
	NotifyFailed     NotifyOutcome = "failed"
)

// Deps wires the policy's collaborators.
type Deps struct {
	Classifier Classifier
	Locality   Locality
	Cooldowns  ports.CooldownStore
	Notifier   ports.Notifier
	Logger     *slog.Logger
	Now        func() time.Time
}

// Policy implements the routing rules and the notification cooldown.
type Policy struct {
	cfg        Config
	classifier Classifier
	locality   Locality
	cooldowns  ports.CooldownStore
	notifier   ports.Notifier
	logger     *slog.Logger
	now        func() time.Time

	human  map[string]bool
	ignore map[string]bool
	daily  map[string]bool

	mu sync.Mutex
}

// New builds a policy.
func New(cfg Config, deps Deps) *Policy {
	if cfg.RoutineCooldown <= 0 {
		cfg.RoutineCooldown = DefaultRoutineCooldown
	}
	if cfg.DailyCooldown <= 0 {
		cfg.DailyCooldown = DefaultDailyCooldown
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Policy{
		cfg:        cfg,
		classifier: deps.Classifier,
		locality:   deps.Locality,
		cooldowns:  deps.Cooldowns,
		notifier:   deps.Notifier,
		logger:     logger,
		now:        now,
		human:      toSet(cfg.HumanApproval),
		ignore:     toSet(cfg.Ignore),
		daily:      toSet(cfg.DailySignals),
	}
}

// Decide routes one opportunity. The returned decision lists the backends to
// try in order.
func (p *Policy) Decide(signalType string, opp domain.Opportunity, state SystemState) domain.Decision {
	classification := p.classifier.Classify(opp.Title + "\n" + opp.Context)

	d := domain.Decision{
		OpportunityID: opp.ID,
		SignalType:    signalType,
		Tier:          classification.Tier,
		DecidedAt:     p.now().UTC(),
	}

	if p.ignore[signalType] {
		d.Action = domain.ActionIgnore
		d.Reasoning = fmt.Sprintf("signal type %s is ignored", signalType)
		return d
	}
	if opp.Score < p.cfg.MinScore {
		d.Action = domain.ActionIgnore
		d.Reasoning = fmt.Sprintf("score %.1f below minimum %.1f", opp.Score, p.cfg.MinScore)
		return d
	}

	var local, remote []string
	for _, name := range classification.Backends {
		if state.Unavailable[name] {
			continue
		}
		if p.locality != nil && p.locality.IsLocal(name) {
			local = append(local, name)
		} else {
			remote = append(remote, name)
		}
	}

	d.HumanApproval = p.human[signalType]
	if d.HumanApproval {
		d.CooldownKey = domain.CooldownKey(signalType, opp.ID)
	}

	switch {
	case d.HumanApproval:
		d.Reasoning = fmt.Sprintf("%s requires human approval", signalType)
	case len(local) == 0:
		d.Reasoning = fmt.Sprintf("no local backend available for %s tier", classification.Tier)
	case state.LocalConfidence != nil && *state.LocalConfidence < p.cfg.ConfidenceThreshold:
		d.Reasoning = fmt.Sprintf("local confidence %.2f below %.2f", *state.LocalConfidence, p.cfg.ConfidenceThreshold)
	default:
		d.Action = domain.ActionHandleLocal
		d.Backends = append(local, remote...)
		d.Reasoning = fmt.Sprintf("%s tier handled locally", classification.Tier)
		return d
	}

	d.Action = domain.ActionEscalate
	d.Escalated = true
	d.Backends = remote
	if len(d.Backends) == 0 {
		d.Backends = local
	}
	return d
}

// PendingFilter describes the opportunities Decide would ignore outright.
func (p *Policy) PendingFilter() domain.PendingFilter {
	kinds := make([]string, 0, len(p.ignore))
	for k := range p.ignore {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return domain.PendingFilter{ExcludeKinds: kinds, MinScore: p.cfg.MinScore}
}

// ConfidenceThreshold is the minimum acceptable local self-assessment.
func (p *Policy) ConfidenceThreshold() float64 {
	return p.cfg.ConfidenceThreshold
}

// Window returns the cooldown window for a signal type.
func (p *Policy) Window(signalType string) time.Duration {
	if w, ok := p.cfg.Cooldowns[signalType]; ok && w > 0 {
		return w
	}
	if p.daily[signalType] {
		return p.cfg.DailyCooldown
	}
	return p.cfg.RoutineCooldown
}

// NotifyHuman sends message unless the (signalType, stableKey) pair fired
// within its window. The cooldown is recorded before sending, so a failed
// send is not retried until the window passes.
func (p *Policy) NotifyHuman(ctx context.Context, signalType, stableKey, message string) (NotifyOutcome, error) {
	key := domain.CooldownKey(signalType, stableKey)

	fire, err := p.reserve(ctx, signalType, stableKey, key)
	if err != nil {
		return NotifyFailed, err
	}
	if !fire {
		p.logger.Info("notification suppressed", "key", key)
		return NotifySuppressed, nil
	}

	if p.notifier == nil {
		p.logger.Warn("notification dropped, no sink configured", "key", key)
		return NotifyFailed, fmt.Errorf("notify %s: no sink configured: %w", key, domain.ErrNotificationFailure)
	}

	if err := p.notifier.Notify(ctx, message); err != nil {
		p.logger.Warn("notification failed", "key", key, "error", err)
		return NotifyFailed, fmt.Errorf("notify %s: %w: %v", key, domain.ErrNotificationFailure, err)
	}

	p.logger.Info("notification sent", "key", key)
	return NotifySent, nil
}

// reserve checks the cooldown and records a new firing under the lock.
func (p *Policy) reserve(ctx context.Context, signalType, stableKey, key string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now().UTC()
	window := p.Window(signalType)

	entry, ok, err := p.cooldowns.Get(ctx, key)
	if err != nil {
		return false, fmt.Errorf("load cooldown %s: %w", key, err)
	}
	if ok && now.Sub(entry.FiredAt) < window {
		return false, nil
	}

	err = p.cooldowns.Put(ctx, domain.CooldownEntry{
		Key:        key,
		SignalType: signalType,
		StableKey:  stableKey,
		FiredAt:    now,
		ExpiresAt:  now.Add(window),
	})
	if err != nil {
		return false, fmt.Errorf("record cooldown %s: %w", key, err)
	}
	return true, nil
}

// PruneCooldowns drops entries whose window ended before now.
func (p *Policy) PruneCooldowns(ctx context.Context) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cooldowns.Prune(ctx, p.now().UTC())
}

func toSet(values []string) map[string]bool {
	set := make(map[string]bool, len(values))
	for _, v := range values {
		set[v] = true
	}
	return set
}
