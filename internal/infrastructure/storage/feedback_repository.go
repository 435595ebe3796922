package storage

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	sq "github.com/Masterminds/squirrel"

	"OpportunityPipeline/internal/domain"
	"OpportunityPipeline/internal/ports"
)

var feedbackColumns = []string{"id", "opportunity_id", "verdict", "draft_text", "final_text", "created_at"}

// FeedbackRepository is the append-only verdict log.
type FeedbackRepository struct {
	db *DB
	mu sync.Mutex
}

var _ ports.FeedbackLog = (*FeedbackRepository)(nil)

// NewFeedbackRepository migrates the schema and returns the repository.
func NewFeedbackRepository(ctx context.Context, db *DB) (*FeedbackRepository, error) {
	err := db.migrate(ctx,
		`CREATE TABLE IF NOT EXISTS feedback (
			id             TEXT PRIMARY KEY,
			opportunity_id TEXT NOT NULL,
			verdict        TEXT NOT NULL,
			draft_text     TEXT NOT NULL,
			final_text     TEXT,
			created_at     BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS feedback_recent ON feedback (verdict, created_at DESC)`,
	)
	if err != nil {
		return nil, err
	}
	return &FeedbackRepository{db: db}, nil
}

// Append adds a record. Records are never updated or removed.
func (r *FeedbackRepository) Append(ctx context.Context, record domain.FeedbackRecord) error {
	var final sql.NullString
	if record.FinalText != nil {
		final = sql.NullString{String: *record.FinalText, Valid: true}
	}

	query, args, err := r.db.builder.
		Insert("feedback").
		Columns(feedbackColumns...).
		Values(record.ID, record.OpportunityID, string(record.Verdict), record.DraftText, final, record.Timestamp.UnixNano()).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := r.db.conn.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("%w: append feedback %s: %v", domain.ErrStore, record.ID, err)
	}
	return nil
}

// Recent returns at most limit records with one of the given verdicts, newest
// first.
func (r *FeedbackRepository) Recent(ctx context.Context, verdicts []domain.Verdict, limit int) ([]domain.FeedbackRecord, error) {
	if limit <= 0 || len(verdicts) == 0 {
		return nil, nil
	}

	names := make([]string, len(verdicts))
	for i, v := range verdicts {
		names[i] = string(v)
	}

	return r.query(ctx, r.db.builder.
		Select(feedbackColumns...).
		From("feedback").
		Where(sq.Eq{"verdict": names}).
		OrderBy("created_at DESC", "id DESC").
		Limit(uint64(limit)))
}

// Since returns every record at or after since, oldest first. A zero since
// returns the whole log.
func (r *FeedbackRepository) Since(ctx context.Context, since time.Time) ([]domain.FeedbackRecord, error) {
	builder := r.db.builder.
		Select(feedbackColumns...).
		From("feedback").
		OrderBy("created_at ASC", "id ASC")
	if !since.IsZero() {
		builder = builder.Where(sq.GtOrEq{"created_at": since.UnixNano()})
	}
	return r.query(ctx, builder)
}

func (r *FeedbackRepository) query(ctx context.Context, builder sq.SelectBuilder) ([]domain.FeedbackRecord, error) {
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}

	rows, err := r.db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: query feedback: %v", domain.ErrStore, err)
	}
	defer func() { _ = rows.Close() }()

	var records []domain.FeedbackRecord
	for rows.Next() {
		var (
			rec     domain.FeedbackRecord
			verdict string
			final   sql.NullString
			created int64
		)
		if err := rows.Scan(&rec.ID, &rec.OpportunityID, &verdict, &rec.DraftText, &final, &created); err != nil {
			return nil, fmt.Errorf("%w: scan feedback: %v", domain.ErrStore, err)
		}
		rec.Verdict = domain.Verdict(verdict)
		if final.Valid {
			text := final.String
			rec.FinalText = &text
		}
		rec.Timestamp = time.Unix(0, created).UTC()
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: rows iteration: %v", domain.ErrStore, err)
	}
	return records, nil
}
