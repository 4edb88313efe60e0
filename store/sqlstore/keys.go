package sqlstore

import (
	"context"
	"strings"

	"github.com/MrEthical07/goTenant/store"
)

const keyColumns = `id, account_id, name, secret, scopes, active, created_at`

func (s *Store) CreateKey(ctx context.Context, k store.APIKey) error {
	_, err := s.exec(ctx, s.db,
		`INSERT INTO api_keys (`+keyColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		k.ID, k.AccountID, k.Name, k.Key, strings.Join(k.Scopes, ","), k.Active, millis(k.CreatedAt),
	)
	return err
}

func (s *Store) GetKeyBySecret(ctx context.Context, key string) (*store.APIKey, error) {
	k, err := scanKey(s.db.QueryRowContext(ctx, s.rebind(`SELECT `+keyColumns+` FROM api_keys WHERE secret = ?`), key))
	if err != nil {
		return nil, err
	}
	return &k, nil
}

func (s *Store) ListKeys(ctx context.Context, accountID string) ([]store.APIKey, error) {
	rows, err := s.db.QueryContext(ctx,
		s.rebind(`SELECT `+keyColumns+` FROM api_keys WHERE account_id = ? ORDER BY created_at, id`),
		accountID,
	)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	var out []store.APIKey
	for rows.Next() {
		k, err := scanKey(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, mapErr(rows.Err())
}

func (s *Store) SetKeyActive(ctx context.Context, accountID, id string, active bool) error {
	res, err := s.exec(ctx, s.db, `UPDATE api_keys SET active = ? WHERE account_id = ? AND id = ?`, active, accountID, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *Store) DeleteKeys(ctx context.Context, accountID string) error {
	_, err := s.exec(ctx, s.db, `DELETE FROM api_keys WHERE account_id = ?`, accountID)
	return err
}

func scanKey(row rowScanner) (store.APIKey, error) {
	var k store.APIKey
	var scopes string
	var created int64
	if err := row.Scan(&k.ID, &k.AccountID, &k.Name, &k.Key, &scopes, &k.Active, &created); err != nil {
		return k, mapErr(err)
	}
	if scopes != "" {
		k.Scopes = strings.Split(scopes, ",")
	}
	k.CreatedAt = fromMillis(created)
	return k, nil
}
