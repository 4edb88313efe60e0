package sqlstore

import (
	"context"

	"github.com/MrEthical07/goTenant/permission"
	"github.com/MrEthical07/goTenant/store"
)

func (s *Store) AddMember(ctx context.Context, m store.Membership) error {
	_, err := s.exec(ctx, s.db,
		`INSERT INTO memberships (account_id, user_id, permission) VALUES (?, ?, ?)
		ON CONFLICT (account_id, user_id) DO UPDATE SET permission = excluded.permission`,
		m.AccountID, m.UserID, string(m.Permission),
	)
	return err
}

func (s *Store) GetMember(ctx context.Context, accountID, userID string) (*store.Membership, error) {
	var level string
	err := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT permission FROM memberships WHERE account_id = ? AND user_id = ?`),
		accountID, userID,
	).Scan(&level)
	if err != nil {
		return nil, mapErr(err)
	}
	return &store.Membership{UserID: userID, AccountID: accountID, Permission: permission.Level(level)}, nil
}

func (s *Store) ListMembers(ctx context.Context, accountID string) ([]store.Membership, error) {
	return s.listMemberships(ctx, `SELECT account_id, user_id, permission FROM memberships WHERE account_id = ? ORDER BY user_id`, accountID)
}

func (s *Store) ListMemberships(ctx context.Context, userID string) ([]store.Membership, error) {
	return s.listMemberships(ctx, `SELECT account_id, user_id, permission FROM memberships WHERE user_id = ? ORDER BY account_id`, userID)
}

func (s *Store) listMemberships(ctx context.Context, query, arg string) ([]store.Membership, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(query), arg)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	var out []store.Membership
	for rows.Next() {
		var m store.Membership
		var level string
		if err := rows.Scan(&m.AccountID, &m.UserID, &level); err != nil {
			return nil, mapErr(err)
		}
		m.Permission = permission.Level(level)
		out = append(out, m)
	}
	return out, mapErr(rows.Err())
}

func (s *Store) UpdatePermission(ctx context.Context, accountID, userID string, level permission.Level) error {
	res, err := s.exec(ctx, s.db,
		`UPDATE memberships SET permission = ? WHERE account_id = ? AND user_id = ?`,
		string(level), accountID, userID,
	)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *Store) RemoveMember(ctx context.Context, accountID, userID string) error {
	res, err := s.exec(ctx, s.db, `DELETE FROM memberships WHERE account_id = ? AND user_id = ?`, accountID, userID)
	if err != nil {
		return err
	}
	return requireRow(res)
}
