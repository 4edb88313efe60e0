package sqlstore

import (
	"context"
	"database/sql"
	"strings"

	"github.com/MrEthical07/goTenant/store"
)

const accountColumns = `id, name, plan, active, stripe_customer_id, stripe_subscription_id, created_at`

func (s *Store) CreateAccount(ctx context.Context, a store.Account) error {
	_, err := s.exec(ctx, s.db,
		`INSERT INTO accounts (`+accountColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Name, a.Plan, a.Active, a.StripeCustomerID, a.StripeSubscriptionID, millis(a.CreatedAt),
	)
	return err
}

func (s *Store) GetAccount(ctx context.Context, id string) (*store.Account, error) {
	return s.scanAccount(s.db.QueryRowContext(ctx, s.rebind(`SELECT `+accountColumns+` FROM accounts WHERE id = ?`), id))
}

func (s *Store) GetAccountByCustomer(ctx context.Context, customerID string) (*store.Account, error) {
	if customerID == "" {
		return nil, store.ErrNotFound
	}
	return s.scanAccount(s.db.QueryRowContext(ctx, s.rebind(`SELECT `+accountColumns+` FROM accounts WHERE stripe_customer_id = ?`), customerID))
}

func (s *Store) scanAccount(row *sql.Row) (*store.Account, error) {
	var a store.Account
	var created int64
	if err := row.Scan(&a.ID, &a.Name, &a.Plan, &a.Active, &a.StripeCustomerID, &a.StripeSubscriptionID, &created); err != nil {
		return nil, mapErr(err)
	}
	a.CreatedAt = fromMillis(created)
	return &a, nil
}

func (s *Store) UpdateAccount(ctx context.Context, id string, upd store.AccountUpdate) error {
	var sets []string
	var args []any
	add := func(col string, v any) {
		sets = append(sets, col+" = ?")
		args = append(args, v)
	}
	if upd.Name != nil {
		add("name", *upd.Name)
	}
	if upd.Plan != nil {
		add("plan", *upd.Plan)
	}
	if upd.Active != nil {
		add("active", *upd.Active)
	}
	if upd.StripeCustomerID != nil {
		add("stripe_customer_id", *upd.StripeCustomerID)
	}
	if upd.StripeSubscriptionID != nil {
		add("stripe_subscription_id", *upd.StripeSubscriptionID)
	}
	if len(sets) == 0 {
		_, err := s.GetAccount(ctx, id)
		return err
	}
	args = append(args, id)
	res, err := s.exec(ctx, s.db, `UPDATE accounts SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// DeleteAccount removes the account and every membership pointing at it.
func (s *Store) DeleteAccount(ctx context.Context, id string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := s.exec(ctx, tx, `DELETE FROM accounts WHERE id = ?`, id)
		if err != nil {
			return err
		}
		if err := requireRow(res); err != nil {
			return err
		}
		_, err = s.exec(ctx, tx, `DELETE FROM memberships WHERE account_id = ?`, id)
		return err
	})
}
