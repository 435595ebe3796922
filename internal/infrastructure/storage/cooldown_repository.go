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

// CooldownRepository is the persisted keyed timestamp map used to suppress
// repeated notifications across restarts.
type CooldownRepository struct {
	db *DB
	mu sync.Mutex
}

var _ ports.CooldownStore = (*CooldownRepository)(nil)

// NewCooldownRepository migrates the schema and returns the repository.
func NewCooldownRepository(ctx context.Context, db *DB) (*CooldownRepository, error) {
	err := db.migrate(ctx,
		`CREATE TABLE IF NOT EXISTS cooldowns (
			key         TEXT PRIMARY KEY,
			signal_type TEXT NOT NULL,
			stable_key  TEXT NOT NULL,
			fired_at    BIGINT NOT NULL,
			expires_at  BIGINT NOT NULL
		)`,
	)
	if err != nil {
		return nil, err
	}
	return &CooldownRepository{db: db}, nil
}

// Get returns the entry for key, if any.
func (r *CooldownRepository) Get(ctx context.Context, key string) (domain.CooldownEntry, bool, error) {
	query, args, err := r.db.builder.
		Select("key", "signal_type", "stable_key", "fired_at", "expires_at").
		From("cooldowns").
		Where(sq.Eq{"key": key}).
		ToSql()
	if err != nil {
		return domain.CooldownEntry{}, false, fmt.Errorf("build select: %w", err)
	}

	var (
		entry   domain.CooldownEntry
		fired   int64
		expires int64
	)
	err = r.db.conn.QueryRowContext(ctx, query, args...).
		Scan(&entry.Key, &entry.SignalType, &entry.StableKey, &fired, &expires)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.CooldownEntry{}, false, nil
	}
	if err != nil {
		return domain.CooldownEntry{}, false, fmt.Errorf("%w: get cooldown %s: %v", domain.ErrStore, key, err)
	}

	entry.FiredAt = time.Unix(0, fired).UTC()
	entry.ExpiresAt = time.Unix(0, expires).UTC()
	return entry, true, nil
}

// Put upserts an entry.
func (r *CooldownRepository) Put(ctx context.Context, entry domain.CooldownEntry) error {
	query, args, err := r.db.builder.
		Insert("cooldowns").
		Columns("key", "signal_type", "stable_key", "fired_at", "expires_at").
		Values(entry.Key, entry.SignalType, entry.StableKey, entry.FiredAt.UnixNano(), entry.ExpiresAt.UnixNano()).
		Suffix(`ON CONFLICT (key) DO UPDATE SET
			signal_type = excluded.signal_type,
			stable_key = excluded.stable_key,
			fired_at = excluded.fired_at,
			expires_at = excluded.expires_at`).
		ToSql()
	if err != nil {
		return fmt.Errorf("build upsert: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := r.db.conn.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("%w: put cooldown %s: %v", domain.ErrStore, entry.Key, err)
	}
	return nil
}

// Prune removes entries that expired before the given instant.
func (r *CooldownRepository) Prune(ctx context.Context, before time.Time) (int, error) {
	query, args, err := r.db.builder.
		Delete("cooldowns").
		Where(sq.Lt{"expires_at": before.UnixNano()}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build prune: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	res, err := r.db.conn.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("%w: prune cooldowns: %v", domain.ErrStore, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%w: rows affected: %v", domain.ErrStore, err)
	}
	return int(n), nil
}
