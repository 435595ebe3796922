package storage

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"OpportunityPipeline/internal/domain"
)

func newPostgresOpportunities(t *testing.T) (*OpportunityRepository, sqlmock.Sqlmock) {
	t.Helper()
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	return &OpportunityRepository{db: newDB(conn, DriverPostgres), now: time.Now}, mock
}

func TestPostgresInsertUsesDollarPlaceholders(t *testing.T) {
	repo, mock := newPostgresOpportunities(t)
	at := time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

	mock.ExpectExec(regexp.QuoteMeta(
		"INSERT INTO opportunities (id,source,kind,title,context,url,score,status,draft,payload,detected_at,updated_at) "+
			"VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12) ON CONFLICT (id) DO NOTHING")).
		WithArgs("opp-1", "social", "question", "Title", "ctx", "", 42.0, "pending", "", "", at.UnixNano(), at.UnixNano()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO opportunities")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	opp := domain.Opportunity{
		ID: "opp-1", Source: "social", Kind: "question", Title: "Title", Context: "ctx",
		Score: 42, DetectedAt: at, UpdatedAt: at,
	}

	inserted, err := repo.Insert(context.Background(), opp)
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = repo.Insert(context.Background(), opp)
	require.NoError(t, err)
	assert.False(t, inserted, "conflict leaves the existing row")

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresInsertFailureIsStoreError(t *testing.T) {
	repo, mock := newPostgresOpportunities(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO opportunities")).
		WillReturnError(errors.New("connection reset"))

	_, err := repo.Insert(context.Background(), domain.Opportunity{ID: "opp-1", Title: "t"})
	require.ErrorIs(t, err, domain.ErrStore)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGetMissingIsNotFound(t *testing.T) {
	repo, mock := newPostgresOpportunities(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM opportunities WHERE id = $1")).
		WithArgs("absent").
		WillReturnRows(sqlmock.NewRows(opportunityColumns))

	_, err := repo.Get(context.Background(), "absent")
	require.ErrorIs(t, err, domain.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}
