package sqlstore

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"time"

	"github.com/MrEthical07/goTenant/store"
	"github.com/oklog/ulid/v2"
)

const usageColumns = `id, account_id, period_start, period_end, quantity, reported`

// OpenUsage starts a period now unless one is already open. The partial
// unique index on open records settles races between two openers.
func (s *Store) OpenUsage(ctx context.Context, accountID string) (*store.UsageRecord, error) {
	if cur, err := s.CurrentUsage(ctx, accountID); err == nil {
		return cur, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	now := time.Now().UTC()
	rec := store.UsageRecord{
		ID:          ulid.MustNew(ulid.Timestamp(now), rand.Reader).String(),
		AccountID:   accountID,
		PeriodStart: time.UnixMilli(now.UnixMilli()).UTC(),
	}
	_, err := s.exec(ctx, s.db,
		`INSERT INTO usage_records (id, account_id, period_start, period_end, quantity, reported) VALUES (?, ?, ?, NULL, 0, ?)`,
		rec.ID, rec.AccountID, millis(rec.PeriodStart), false,
	)
	if errors.Is(err, store.ErrDuplicate) {
		return s.CurrentUsage(ctx, accountID)
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// IncrementUsage is a single conditional UPDATE, so concurrent callers never
// lose an increment and a closed record is never touched. A miss is retried
// once: on postgres an UPDATE queued behind a CloseUsage re-checks only the
// row it waited on and misses the period opened in the same transaction.
func (s *Store) IncrementUsage(ctx context.Context, accountID string, qty int64) (bool, error) {
	for attempt := 0; attempt < 2; attempt++ {
		res, err := s.exec(ctx, s.db,
			`UPDATE usage_records SET quantity = quantity + ? WHERE account_id = ? AND reported = ? AND period_end IS NULL`,
			qty, accountID, false,
		)
		if err != nil {
			return false, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return false, mapErr(err)
		}
		if n > 0 {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) CurrentUsage(ctx context.Context, accountID string) (*store.UsageRecord, error) {
	row := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT `+usageColumns+`, '', '' FROM usage_records WHERE account_id = ? AND reported = ? AND period_end IS NULL`),
		accountID, false,
	)
	r, err := scanUsage(row)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *Store) UsageTotal(ctx context.Context, accountID string, start, end time.Time) (int64, error) {
	var total int64
	err := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT COALESCE(SUM(quantity), 0) FROM usage_records
		WHERE account_id = ? AND period_start >= ? AND period_start <= ? AND (period_end IS NULL OR period_end <= ?)`),
		accountID, millis(start), millis(end), millis(end),
	).Scan(&total)
	if err != nil {
		return 0, mapErr(err)
	}
	return total, nil
}

func (s *Store) UnreportedUsage(ctx context.Context) ([]store.UsageRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		s.rebind(`SELECT u.id, u.account_id, u.period_start, u.period_end, u.quantity, u.reported,
			COALESCE(a.stripe_customer_id, ''), COALESCE(a.stripe_subscription_id, '')
		FROM usage_records u LEFT JOIN accounts a ON a.id = u.account_id
		WHERE u.reported = ? ORDER BY u.id`),
		false,
	)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	var out []store.UsageRecord
	for rows.Next() {
		r, err := scanUsage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, mapErr(rows.Err())
}

// CloseUsage sets period_end with UPDATE ... RETURNING so the quantity read
// back is the one frozen by the close, and inserts the next period in the
// same transaction.
func (s *Store) CloseUsage(ctx context.Context, accountID string, reopen bool) (*store.UsageRecord, error) {
	var closed store.UsageRecord
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		now := time.Now().UTC()
		row := tx.QueryRowContext(ctx,
			s.rebind(`UPDATE usage_records SET period_end = ? WHERE account_id = ? AND reported = ? AND period_end IS NULL
			RETURNING `+usageColumns+`, '', ''`),
			millis(now), accountID, false,
		)
		r, err := scanUsage(row)
		if err != nil {
			return err
		}
		closed = r
		if !reopen {
			return nil
		}
		_, err = s.exec(ctx, tx,
			`INSERT INTO usage_records (id, account_id, period_start, period_end, quantity, reported) VALUES (?, ?, ?, NULL, 0, ?)`,
			ulid.MustNew(ulid.Timestamp(now), rand.Reader).String(), accountID, millis(now), false,
		)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &closed, nil
}

func (s *Store) MarkUsageReported(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	args := []any{true, false}
	for _, id := range ids {
		args = append(args, id)
	}
	res, err := s.exec(ctx, s.db,
		`UPDATE usage_records SET reported = ? WHERE reported = ? AND period_end IS NOT NULL AND id IN (`+placeholders(len(ids))+`)`,
		args...,
	)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, mapErr(err)
	}
	return int(n), nil
}

func scanUsage(row rowScanner) (store.UsageRecord, error) {
	var r store.UsageRecord
	var start int64
	var end sql.NullInt64
	err := row.Scan(&r.ID, &r.AccountID, &start, &end, &r.Quantity, &r.Reported, &r.StripeCustomerID, &r.StripeSubscriptionID)
	if err != nil {
		return r, mapErr(err)
	}
	r.PeriodStart = fromMillis(start)
	if end.Valid {
		t := fromMillis(end.Int64)
		r.PeriodEnd = &t
	}
	return r, nil
}
