package app

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"OpportunityPipeline/internal/config"
	"OpportunityPipeline/internal/domain"
	"OpportunityPipeline/internal/logging"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	t.Setenv("OPPORTUNITY_PIPELINE_CONFIG", "")
	t.Setenv("DATABASE_DSN", "")
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("STATE_DIR", filepath.Join(t.TempDir(), "state"))
	cfg := config.Load()
	// Point the local backend at a closed port so no model is contacted.
	cfg.Backends = []config.BackendConfig{
		{Name: "local", Kind: config.BackendKindLocal, Endpoint: "http://127.0.0.1:1", Model: "m"},
	}
	cfg.Pipeline.MaxRetries = 0
	return cfg
}

func TestNewWiresStateUnderStateDir(t *testing.T) {
	cfg := testConfig(t)

	application, err := New(context.Background(), cfg, logging.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { _ = application.Close() })

	require.FileExists(t, cfg.State.OpportunitiesDSN)
	require.FileExists(t, cfg.State.CooldownsDSN)
	require.FileExists(t, cfg.State.FeedbackDSN)
}

func TestRunIngestsInboxAndLeavesUndraftablePending(t *testing.T) {
	cfg := testConfig(t)
	ctx := context.Background()

	application, err := New(ctx, cfg, logging.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { _ = application.Close() })

	_, err = application.Inbox.Submit(domain.Signal{
		Source:  domain.SourceSocial,
		Kind:    "question",
		Title:   "Looking for a Go developer",
		Context: "Urgent: we need help with a Go API, budget $3000. Can anyone help?",
	})
	require.NoError(t, err)

	report, err := application.Run(ctx)
	require.Error(t, err, "the only backend is unreachable")
	require.Equal(t, 1, report.Inserted)
	require.Equal(t, 1, report.Failed)

	status, err := application.Pipeline.Status(ctx, 5)
	require.NoError(t, err)
	require.Equal(t, 1, status.Counts[domain.StatusPending])
	require.Len(t, status.Decisions, 1)
	require.Equal(t, "failed", status.Decisions[0].Outcome)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Pipeline.Workers = 0

	_, err := New(context.Background(), cfg, logging.Discard())
	require.Error(t, err)
}
