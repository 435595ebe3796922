package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	sq "github.com/Masterminds/squirrel"

	"OpportunityPipeline/internal/domain"
	"OpportunityPipeline/internal/ports"
)

var opportunityColumns = []string{
	"id", "source", "kind", "title", "context", "url", "score",
	"status", "draft", "payload", "detected_at", "updated_at",
}

// OpportunityRepository persists opportunities and enforces the status
// state machine inside a transaction.
type OpportunityRepository struct {
	db  *DB
	mu  sync.Mutex
	now func() time.Time
}

var _ ports.OpportunityRepository = (*OpportunityRepository)(nil)

// NewOpportunityRepository migrates the schema and returns the repository.
func NewOpportunityRepository(ctx context.Context, db *DB) (*OpportunityRepository, error) {
	err := db.migrate(ctx,
		`CREATE TABLE IF NOT EXISTS opportunities (
			id          TEXT PRIMARY KEY,
			source      TEXT NOT NULL,
			kind        TEXT NOT NULL,
			title       TEXT NOT NULL,
			context     TEXT NOT NULL,
			url         TEXT NOT NULL DEFAULT '',
			score       DOUBLE PRECISION NOT NULL,
			status      TEXT NOT NULL,
			draft       TEXT NOT NULL DEFAULT '',
			payload     TEXT NOT NULL DEFAULT '',
			detected_at BIGINT NOT NULL,
			updated_at  BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS opportunities_queue
			ON opportunities (status, score DESC, detected_at ASC)`,
	)
	if err != nil {
		return nil, err
	}
	return &OpportunityRepository{db: db, now: time.Now}, nil
}

// Insert stores opp unless its id already exists, in which case the existing
// record is left untouched and inserted is false.
func (r *OpportunityRepository) Insert(ctx context.Context, opp domain.Opportunity) (bool, error) {
	if opp.ID == "" {
		return false, &domain.ValidationError{Field: "id", Reason: "must not be empty"}
	}
	if opp.Status == "" {
		opp.Status = domain.StatusPending
	}
	if opp.UpdatedAt.IsZero() {
		opp.UpdatedAt = r.now()
	}
	if opp.DetectedAt.IsZero() {
		opp.DetectedAt = opp.UpdatedAt
	}

	query, args, err := r.db.builder.
		Insert("opportunities").
		Columns(opportunityColumns...).
		Values(
			opp.ID, opp.Source, opp.Kind, opp.Title, opp.Context, opp.URL, opp.Score,
			string(opp.Status), opp.Draft, string(opp.Payload),
			opp.DetectedAt.UnixNano(), opp.UpdatedAt.UnixNano(),
		).
		Suffix("ON CONFLICT (id) DO NOTHING").
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build insert: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	res, err := r.db.conn.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("%w: insert opportunity %s: %v", domain.ErrStore, opp.ID, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%w: rows affected: %v", domain.ErrStore, err)
	}
	return affected == 1, nil
}

// Get returns a single opportunity by id.
func (r *OpportunityRepository) Get(ctx context.Context, id string) (domain.Opportunity, error) {
	query, args, err := r.db.builder.
		Select(opportunityColumns...).
		From("opportunities").
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return domain.Opportunity{}, fmt.Errorf("build select: %w", err)
	}

	opp, err := scanOpportunity(r.db.conn.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Opportunity{}, fmt.Errorf("get %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Opportunity{}, fmt.Errorf("%w: get %s: %v", domain.ErrStore, id, err)
	}
	return opp, nil
}

// ListPending returns up to limit pending opportunities, highest score first
// and earliest detection first among equal scores.
func (r *OpportunityRepository) ListPending(ctx context.Context, limit int) ([]domain.Opportunity, error) {
	return r.ListByStatus(ctx, domain.StatusPending, limit)
}

// ListDraftable is ListPending restricted by filter, so rows the policy would
// ignore never take a slot in the batch.
func (r *OpportunityRepository) ListDraftable(ctx context.Context, limit int, filter domain.PendingFilter) ([]domain.Opportunity, error) {
	where := sq.And{sq.Eq{"status": string(domain.StatusPending)}}
	if filter.MinScore > 0 {
		where = append(where, sq.GtOrEq{"score": filter.MinScore})
	}
	if len(filter.ExcludeKinds) > 0 {
		where = append(where, sq.NotEq{"kind": filter.ExcludeKinds})
	}
	return r.list(ctx, where, limit)
}

// ListByStatus lists opportunities in one status in queue order.
func (r *OpportunityRepository) ListByStatus(ctx context.Context, status domain.Status, limit int) ([]domain.Opportunity, error) {
	return r.list(ctx, sq.Eq{"status": string(status)}, limit)
}

func (r *OpportunityRepository) list(ctx context.Context, where sq.Sqlizer, limit int) ([]domain.Opportunity, error) {
	if limit <= 0 {
		return nil, nil
	}

	query, args, err := r.db.builder.
		Select(opportunityColumns...).
		From("opportunities").
		Where(where).
		OrderBy("score DESC", "detected_at ASC", "id ASC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list: %w", err)
	}

	rows, err := r.db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: list opportunities: %v", domain.ErrStore, err)
	}
	defer func() { _ = rows.Close() }()

	var result []domain.Opportunity
	for rows.Next() {
		opp, err := scanOpportunity(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scan opportunity: %v", domain.ErrStore, err)
		}
		result = append(result, opp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: rows iteration: %v", domain.ErrStore, err)
	}
	return result, nil
}

// UpdateStatus moves an opportunity along the state machine. The status and
// draft are written together in one transaction. Moving to drafted requires a
// non-empty draft; moving back to pending clears it.
func (r *OpportunityRepository) UpdateStatus(ctx context.Context, id string, status domain.Status, draft *string) error {
	if !status.Valid() {
		return &domain.ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", status)}
	}
	if status == domain.StatusDrafted && (draft == nil || *draft == "") {
		return &domain.ValidationError{Field: "draft", Reason: "must not be empty when drafting"}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var transitionErr error
	err := r.db.inTx(ctx, func(tx *sql.Tx) error {
		query, args, err := r.db.builder.
			Select("status").
			From("opportunities").
			Where(sq.Eq{"id": id}).
			ToSql()
		if err != nil {
			return fmt.Errorf("build select: %w", err)
		}

		var current string
		if err := tx.QueryRowContext(ctx, query, args...).Scan(&current); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				transitionErr = fmt.Errorf("update %s: %w", id, domain.ErrNotFound)
				return transitionErr
			}
			return fmt.Errorf("read status: %w", err)
		}

		from := domain.Status(current)
		if !domain.CanTransition(from, status) {
			transitionErr = &domain.InvalidTransitionError{ID: id, From: from, To: status}
			return transitionErr
		}

		update := r.db.builder.
			Update("opportunities").
			Set("status", string(status)).
			Set("updated_at", r.now().UnixNano()).
			Where(sq.Eq{"id": id, "status": current})
		switch {
		case status == domain.StatusPending:
			update = update.Set("draft", "")
		case draft != nil:
			update = update.Set("draft", *draft)
		}

		query, args, err = update.ToSql()
		if err != nil {
			return fmt.Errorf("build update: %w", err)
		}
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("update status: %w", err)
		}
		if n, err := res.RowsAffected(); err != nil || n != 1 {
			return fmt.Errorf("update status: expected one row, got %d (%v)", n, err)
		}
		return nil
	})

	if transitionErr != nil {
		return transitionErr
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("update %s: %w", id, ctxErr)
		}
		return fmt.Errorf("%w: %v", domain.ErrStore, err)
	}
	return nil
}

// Stats counts opportunities per status; every status is present.
func (r *OpportunityRepository) Stats(ctx context.Context) (domain.StatusCounts, error) {
	query, args, err := r.db.builder.
		Select("status", "COUNT(*)").
		From("opportunities").
		GroupBy("status").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build stats: %w", err)
	}

	rows, err := r.db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: stats: %v", domain.ErrStore, err)
	}
	defer func() { _ = rows.Close() }()

	counts := domain.StatusCounts{}
	for _, s := range domain.Statuses {
		counts[s] = 0
	}
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("%w: scan stats: %v", domain.ErrStore, err)
		}
		counts[domain.Status(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: rows iteration: %v", domain.ErrStore, err)
	}
	return counts, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOpportunity(row rowScanner) (domain.Opportunity, error) {
	var (
		opp      domain.Opportunity
		status   string
		payload  string
		detected int64
		updated  int64
	)
	err := row.Scan(
		&opp.ID, &opp.Source, &opp.Kind, &opp.Title, &opp.Context, &opp.URL, &opp.Score,
		&status, &opp.Draft, &payload, &detected, &updated,
	)
	if err != nil {
		return domain.Opportunity{}, err
	}

	opp.Status = domain.Status(status)
	if payload != "" {
		opp.Payload = []byte(payload)
	}
	opp.DetectedAt = time.Unix(0, detected).UTC()
	opp.UpdatedAt = time.Unix(0, updated).UTC()
	return opp, nil
}
