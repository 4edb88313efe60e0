package sqlstore

import (
	"context"
	"errors"

	"github.com/MrEthical07/goTenant/store"
)

func (s *Store) SaveToken(ctx context.Context, t store.Token) error {
	_, err := s.exec(ctx, s.db,
		`INSERT INTO tokens (id, user_id, provider, issued_at, expires_at, active) VALUES (?, ?, ?, ?, ?, ?)`,
		t.ID, t.UserID, t.Provider, millis(t.IssuedAt), millis(t.ExpiresAt), t.Active,
	)
	return err
}

func (s *Store) GetToken(ctx context.Context, userID, id string) (*store.Token, error) {
	var t store.Token
	var issued, expires int64
	err := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT id, user_id, provider, issued_at, expires_at, active FROM tokens WHERE user_id = ? AND id = ?`),
		userID, id,
	).Scan(&t.ID, &t.UserID, &t.Provider, &issued, &expires, &t.Active)
	if err != nil {
		return nil, mapErr(err)
	}
	t.IssuedAt = fromMillis(issued)
	t.ExpiresAt = fromMillis(expires)
	return &t, nil
}

// RevokeTokens is one UPDATE; only rows still active are counted.
func (s *Store) RevokeTokens(ctx context.Context, sel store.TokenSelector) (int, error) {
	if sel.UserID == "" {
		return 0, errors.New("sqlstore: token selector requires a user id")
	}
	query := `UPDATE tokens SET active = ? WHERE user_id = ? AND active = ?`
	args := []any{false, sel.UserID, true}
	if sel.ID != "" {
		query += ` AND id = ?`
		args = append(args, sel.ID)
	}
	if sel.Provider != "" {
		query += ` AND provider = ?`
		args = append(args, sel.Provider)
	}
	res, err := s.exec(ctx, s.db, query, args...)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, mapErr(err)
	}
	return int(n), nil
}

func (s *Store) DeleteTokens(ctx context.Context, userID string) error {
	_, err := s.exec(ctx, s.db, `DELETE FROM tokens WHERE user_id = ?`, userID)
	return err
}
