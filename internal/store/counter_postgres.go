package store

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/serroba/consultation-ratelimit/internal/ratelimit"
)

//go:embed migrations/*.sql
var migrations embed.FS

// PostgresCounterStore is a PostgreSQL implementation of ratelimit.Store.
// The unique constraint on (user_id, operation_type, window_start) arbitrates
// concurrent inserts of the same counter.
type PostgresCounterStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewPostgresCounterStore creates a new PostgreSQL-backed counter store.
func NewPostgresCounterStore(pool *pgxpool.Pool) *PostgresCounterStore {
	return &PostgresCounterStore{pool: pool, now: time.Now}
}

// Migrate applies the embedded schema. Every statement is idempotent.
func (p *PostgresCounterStore) Migrate(ctx context.Context) error {
	names, err := fs.Glob(migrations, "migrations/*.sql")
	if err != nil {
		return err
	}

	sort.Strings(names)

	for _, name := range names {
		script, err := migrations.ReadFile(name)
		if err != nil {
			return err
		}

		if _, err := p.pool.Exec(ctx, string(script)); err != nil {
			return fmt.Errorf("apply %s: %w", name, err)
		}
	}

	return nil
}

func (p *PostgresCounterStore) Lookup(ctx context.Context, key ratelimit.Key) (ratelimit.Record, bool, error) {
	query := `
		SELECT request_count, updated_at
		FROM rate_limits
		WHERE user_id = $1 AND operation_type = $2 AND window_start = $3
	`

	record := ratelimit.Record{Key: key}

	err := p.pool.QueryRow(ctx, query,
		key.UserID,
		string(key.Operation),
		key.WindowStart.UTC(),
	).Scan(&record.RequestCount, &record.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ratelimit.Record{}, false, nil
		}

		return ratelimit.Record{}, false, err
	}

	return record, true, nil
}

// Increment relies on ON CONFLICT to turn a losing insert into an update, and
// on the DO UPDATE ... WHERE guard to refuse increments at the limit. A refused
// update returns no row.
func (p *PostgresCounterStore) Increment(
	ctx context.Context, key ratelimit.Key, maxRequests int,
) (ratelimit.Record, bool, error) {
	query := `
		INSERT INTO rate_limits (user_id, operation_type, window_start, request_count, updated_at)
		VALUES ($1, $2, $3, 1, $4)
		ON CONFLICT (user_id, operation_type, window_start)
		DO UPDATE SET
			request_count = rate_limits.request_count + 1,
			updated_at = EXCLUDED.updated_at
		WHERE rate_limits.request_count < $5
		RETURNING request_count, updated_at
	`

	record := ratelimit.Record{Key: key}

	err := p.pool.QueryRow(ctx, query,
		key.UserID,
		string(key.Operation),
		key.WindowStart.UTC(),
		p.now().UTC(),
		maxRequests,
	).Scan(&record.RequestCount, &record.UpdatedAt)
	if err == nil {
		return record, true, nil
	}

	if !errors.Is(err, pgx.ErrNoRows) {
		return ratelimit.Record{}, false, err
	}

	current, _, err := p.Lookup(ctx, key)
	if err != nil {
		return ratelimit.Record{}, false, err
	}

	return current, false, nil
}

// Compile-time check.
var _ ratelimit.Store = (*PostgresCounterStore)(nil)
