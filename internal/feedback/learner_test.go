package feedback

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"OpportunityPipeline/internal/domain"
	"OpportunityPipeline/internal/infrastructure/storage"
	"OpportunityPipeline/internal/logging"
)

func newLearner(t *testing.T) *Learner {
	t.Helper()
	ctx := context.Background()

	db, err := storage.Open(ctx, storage.DriverSQLite, filepath.Join(t.TempDir(), "feedback.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	log, err := storage.NewFeedbackRepository(ctx, db)
	require.NoError(t, err)

	return NewLearner(log, logging.Discard())
}

func drafted(id, draft string) domain.Opportunity {
	return domain.Opportunity{
		ID: id, Source: domain.SourceEmail, Kind: "lead", Title: id, Context: id,
		Score: 50, Status: domain.StatusDrafted, Draft: draft,
	}
}

func TestRecordVerdictCapturesDraft(t *testing.T) {
	t.Parallel()
	l := newLearner(t)

	rec, err := l.RecordVerdict(context.Background(), drafted("a1", "Hello there"), domain.VerdictApproved, nil)
	require.NoError(t, err)
	require.Equal(t, "Hello there", rec.DraftText)
	require.Equal(t, "a1", rec.OpportunityID)
	require.NotEmpty(t, rec.ID)
}

func TestRecordVerdictRequiresDraftedStatus(t *testing.T) {
	t.Parallel()
	l := newLearner(t)
	opp := drafted("p1", "")
	opp.Status = domain.StatusPending

	_, err := l.RecordVerdict(context.Background(), opp, domain.VerdictRejected, nil)
	require.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestRecordVerdictValidatesInput(t *testing.T) {
	t.Parallel()
	l := newLearner(t)
	opp := drafted("a1", "draft")

	_, err := l.RecordVerdict(context.Background(), opp, domain.VerdictEdited, nil)
	require.True(t, domain.IsValidation(err))

	blank := "   "
	_, err = l.RecordVerdict(context.Background(), opp, domain.VerdictEdited, &blank)
	require.True(t, domain.IsValidation(err))

	_, err = l.RecordVerdict(context.Background(), opp, domain.Verdict("maybe"), nil)
	require.True(t, domain.IsValidation(err))
}

func TestExamplesAreBoundedAndSkipRejected(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l := newLearner(t)

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	l.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Minute)
	}

	final := "final d"
	verdicts := []struct {
		id      string
		verdict domain.Verdict
		final   *string
	}{
		{"a", domain.VerdictApproved, nil},
		{"b", domain.VerdictApproved, nil},
		{"c", domain.VerdictRejected, nil},
		{"d", domain.VerdictEdited, &final},
		{"e", domain.VerdictApproved, nil},
	}
	for _, v := range verdicts {
		_, err := l.RecordVerdict(ctx, drafted(v.id, "draft "+v.id), v.verdict, v.final)
		require.NoError(t, err)
	}

	examples, err := l.Examples(ctx, 10)
	require.NoError(t, err)
	require.Len(t, examples, MaxExamples)
	require.Equal(t, []string{"e", "d", "b"}, []string{
		examples[0].OpportunityID, examples[1].OpportunityID, examples[2].OpportunityID,
	})
	require.Equal(t, "final d", examples[1].ExampleText())
	require.Equal(t, "draft e", examples[0].ExampleText())

	none, err := l.Examples(ctx, 0)
	require.NoError(t, err)
	require.Empty(t, none)

	rejected, err := l.Recent(ctx, domain.VerdictRejected, 5)
	require.NoError(t, err)
	require.Len(t, rejected, 1)
	require.Equal(t, "c", rejected[0].OpportunityID)
}

func TestExportWritesJSONLines(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l := newLearner(t)

	for _, id := range []string{"a", "b"} {
		_, err := l.RecordVerdict(ctx, drafted(id, "draft "+id), domain.VerdictApproved, nil)
		require.NoError(t, err)
	}

	var buf bytes.Buffer
	n, err := l.Export(ctx, &buf, time.Time{})
	require.NoError(t, err)
	require.Equal(t, 2, n)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	var rec domain.FeedbackRecord
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &rec))
	require.Equal(t, domain.VerdictApproved, rec.Verdict)
}
