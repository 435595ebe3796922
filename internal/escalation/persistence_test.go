package escalation

import (
	"context"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"OpportunityPipeline/internal/domain"
	"OpportunityPipeline/internal/infrastructure/storage"
	"OpportunityPipeline/internal/logging"
)

// openPersistentPolicy builds a policy over a sqlite cooldown table, as a
// fresh process would. The returned close func releases the database.
func openPersistentPolicy(t *testing.T, path string, notifier *countingNotifier, c *clock) (*Policy, func()) {
	t.Helper()
	ctx := context.Background()

	db, err := storage.Open(ctx, storage.DriverSQLite, path)
	if err != nil {
		t.Fatalf("open cooldown db: %v", err)
	}
	cooldowns, err := storage.NewCooldownRepository(ctx, db)
	if err != nil {
		_ = db.Close()
		t.Fatalf("cooldown repository: %v", err)
	}

	p := New(baseCfg, Deps{
		Classifier: fixedClassifier{classification: quickTier},
		Locality:   localSet{"local": true},
		Cooldowns:  cooldowns,
		Notifier:   notifier,
		Logger:     logging.Discard(),
		Now:        c.Now,
	})
	return p, func() {
		if err := db.Close(); err != nil {
			t.Errorf("close cooldown db: %v", err)
		}
	}
}

func TestCooldownSurvivesRestart(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "cooldowns.db")
	notifier := &countingNotifier{}
	c := &clock{now: start}

	first, closeFirst := openPersistentPolicy(t, path, notifier, c)
	outcome, err := first.NotifyHuman(ctx, "daily_digest", "2026-05-04", "digest")
	if err != nil || outcome != NotifySent {
		t.Fatalf("first notify: %s %v", outcome, err)
	}
	closeFirst()

	c.now = start.Add(3 * time.Hour)
	second, closeSecond := openPersistentPolicy(t, path, notifier, c)
	outcome, err = second.NotifyHuman(ctx, "daily_digest", "2026-05-04", "digest again")
	if err != nil || outcome != NotifySuppressed {
		t.Fatalf("notify after restart inside window: %s %v", outcome, err)
	}
	closeSecond()

	c.now = start.Add(25 * time.Hour)
	third, closeThird := openPersistentPolicy(t, path, notifier, c)
	defer closeThird()
	outcome, err = third.NotifyHuman(ctx, "daily_digest", "2026-05-04", "digest later")
	if err != nil || outcome != NotifySent {
		t.Fatalf("notify after restart past window: %s %v", outcome, err)
	}

	if notifier.count() != 2 {
		t.Fatalf("expected two notifications across restarts, got %d", notifier.count())
	}
}

func TestPendingFilterMirrorsIgnoreRules(t *testing.T) {
	t.Parallel()
	cfg := baseCfg
	cfg.Ignore = []string{"spam", "noise"}
	p := newPolicy(cfg, quickTier, &countingNotifier{}, &clock{now: start})

	f := p.PendingFilter()
	if !reflect.DeepEqual(f.ExcludeKinds, []string{"noise", "spam"}) || f.MinScore != 20 {
		t.Fatalf("unexpected filter %+v", f)
	}

	for _, opp := range []domain.Opportunity{
		{ID: "a", Kind: "spam", Score: 99},
		{ID: "b", Kind: "lead", Score: 5},
		{ID: "c", Kind: "lead", Score: 50},
	} {
		ignored := p.Decide(opp.Kind, opp, SystemState{}).Action == domain.ActionIgnore
		if f.Matches(opp) == ignored {
			t.Fatalf("filter and Decide disagree on %s", opp.ID)
		}
	}
}
