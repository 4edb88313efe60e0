package sqlstore

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/MrEthical07/goTenant/store"
)

const userColumns = `id, email, name, password_hash, verified, disabled, two_factor_enabled,
	two_factor_secret, backup_code_hash, default_account_id, created_at, last_active`

func normalizeEmail(email string) string { return strings.ToLower(strings.TrimSpace(email)) }

func (s *Store) CreateUser(ctx context.Context, u store.User) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		_, err := s.exec(ctx, tx,
			`INSERT INTO users (`+userColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			u.ID, normalizeEmail(u.Email), u.Name, u.PasswordHash, u.Verified, u.Disabled, u.TwoFactorEnabled,
			u.TwoFactorSecret, u.BackupCodeHash, u.DefaultAccountID, millis(u.CreatedAt), millis(u.LastActive),
		)
		if err != nil {
			return err
		}
		for provider, sid := range u.SocialIDs {
			if err := s.linkSocial(ctx, tx, u.ID, provider, sid); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) linkSocial(ctx context.Context, q queryer, userID, provider, socialID string) error {
	_, err := s.exec(ctx, q,
		`INSERT INTO user_social (provider, social_id, user_id) VALUES (?, ?, ?)
		ON CONFLICT (provider, social_id) DO UPDATE SET user_id = excluded.user_id`,
		provider, socialID, userID,
	)
	return err
}

func (s *Store) GetUser(ctx context.Context, id string) (*store.User, error) {
	return s.queryUser(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*store.User, error) {
	return s.queryUser(ctx, `SELECT `+userColumns+` FROM users WHERE email = ?`, normalizeEmail(email))
}

func (s *Store) GetUserBySocial(ctx context.Context, provider, socialID string) (*store.User, error) {
	return s.queryUser(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = (SELECT user_id FROM user_social WHERE provider = ? AND social_id = ?)`,
		provider, socialID,
	)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*store.User, error) {
	var u store.User
	var created, active int64
	err := row.Scan(&u.ID, &u.Email, &u.Name, &u.PasswordHash, &u.Verified, &u.Disabled, &u.TwoFactorEnabled,
		&u.TwoFactorSecret, &u.BackupCodeHash, &u.DefaultAccountID, &created, &active)
	if err != nil {
		return nil, mapErr(err)
	}
	u.CreatedAt = fromMillis(created)
	u.LastActive = fromMillis(active)
	return &u, nil
}

func (s *Store) queryUser(ctx context.Context, query string, args ...any) (*store.User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, s.rebind(query), args...))
	if err != nil {
		return nil, err
	}
	if err := s.loadSocial(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

func (s *Store) loadSocial(ctx context.Context, u *store.User) error {
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT provider, social_id FROM user_social WHERE user_id = ?`), u.ID)
	if err != nil {
		return mapErr(err)
	}
	defer rows.Close()
	for rows.Next() {
		var provider, sid string
		if err := rows.Scan(&provider, &sid); err != nil {
			return mapErr(err)
		}
		if u.SocialIDs == nil {
			u.SocialIDs = make(map[string]string)
		}
		u.SocialIDs[provider] = sid
	}
	return mapErr(rows.Err())
}

func (s *Store) UpdateUser(ctx context.Context, id string, upd store.UserUpdate) error {
	var sets []string
	var args []any
	add := func(col string, v any) {
		sets = append(sets, col+" = ?")
		args = append(args, v)
	}
	if upd.Name != nil {
		add("name", *upd.Name)
	}
	if upd.PasswordHash != nil {
		add("password_hash", *upd.PasswordHash)
	}
	if upd.Verified != nil {
		add("verified", *upd.Verified)
	}
	if upd.Disabled != nil {
		add("disabled", *upd.Disabled)
	}
	if upd.TwoFactorEnabled != nil {
		add("two_factor_enabled", *upd.TwoFactorEnabled)
	}
	if upd.TwoFactorSecret != nil {
		add("two_factor_secret", *upd.TwoFactorSecret)
	}
	if upd.BackupCodeHash != nil {
		add("backup_code_hash", *upd.BackupCodeHash)
	}
	if upd.DefaultAccountID != nil {
		add("default_account_id", *upd.DefaultAccountID)
	}
	if upd.LastActive != nil {
		add("last_active", millis(*upd.LastActive))
	}

	return s.inTx(ctx, func(tx *sql.Tx) error {
		if len(sets) > 0 {
			res, err := s.exec(ctx, tx, `UPDATE users SET `+strings.Join(sets, ", ")+` WHERE id = ?`, append(args, id)...)
			if err != nil {
				return err
			}
			if err := requireRow(res); err != nil {
				return err
			}
		} else {
			var one int
			if err := tx.QueryRowContext(ctx, s.rebind(`SELECT 1 FROM users WHERE id = ?`), id).Scan(&one); err != nil {
				return mapErr(err)
			}
		}
		if upd.SocialProvider != "" && upd.SocialID != "" {
			return s.linkSocial(ctx, tx, id, upd.SocialProvider, upd.SocialID)
		}
		return nil
	})
}

// DeleteUser removes the user with its social links, memberships, tokens and
// login history.
func (s *Store) DeleteUser(ctx context.Context, id string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := s.exec(ctx, tx, `DELETE FROM users WHERE id = ?`, id)
		if err != nil {
			return err
		}
		if err := requireRow(res); err != nil {
			return err
		}
		for _, table := range []string{"user_social", "memberships", "tokens", "logins"} {
			if _, err := s.exec(ctx, tx, `DELETE FROM `+table+` WHERE user_id = ?`, id); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) ConsumeBackupCode(ctx context.Context, userID, hash string) (bool, error) {
	if hash == "" {
		return false, nil
	}
	res, err := s.exec(ctx, s.db,
		`UPDATE users SET backup_code_hash = '' WHERE id = ? AND backup_code_hash = ?`,
		userID, hash,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, mapErr(err)
	}
	return n == 1, nil
}

func (s *Store) UnverifiedUsers(ctx context.Context, from, to time.Time) ([]store.User, error) {
	rows, err := s.db.QueryContext(ctx,
		s.rebind(`SELECT `+userColumns+` FROM users WHERE verified = ? AND created_at >= ? AND created_at < ? ORDER BY created_at`),
		false, millis(from), millis(to),
	)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	var out []store.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *u)
	}
	return out, mapErr(rows.Err())
}
