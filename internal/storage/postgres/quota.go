package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
)

type QuotaStore struct {
	db *sqlx.DB
}

func NewQuotaStore(db *sqlx.DB) *QuotaStore {
	return &QuotaStore{db: db}
}

// Increment adds n to the period counter in one statement. The conflicting row
// is locked by the upsert, so concurrent callers are serialised and the
// ceiling check sees the committed count. No returned row means refused.
func (s *QuotaStore) Increment(ctx context.Context, periodKey string, n, ceiling int, at time.Time) (bool, error) {
	query := `
		INSERT INTO quota_usage (period_key, count, last_updated)
		SELECT $1::text, $2::integer, $4::timestamptz
		WHERE $2::integer <= $3::integer
		ON CONFLICT (period_key) DO UPDATE SET
			count = quota_usage.count + EXCLUDED.count,
			last_updated = EXCLUDED.last_updated
		WHERE quota_usage.count + EXCLUDED.count <= $3::integer
		RETURNING count`

	var count int
	err := GetExecutor(ctx, s.db).QueryRowxContext(ctx, query, periodKey, n, ceiling, at).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *QuotaStore) Get(ctx context.Context, periodKey string) (int, error) {
	var count int
	err := sqlx.GetContext(ctx, GetExecutor(ctx, s.db), &count,
		"SELECT count FROM quota_usage WHERE period_key = $1",
		periodKey,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return count, err
}

func (s *QuotaStore) DeleteBefore(ctx context.Context, periodKey string) (int64, error) {
	res, err := GetExecutor(ctx, s.db).ExecContext(ctx,
		"DELETE FROM quota_usage WHERE period_key < $1",
		periodKey,
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
