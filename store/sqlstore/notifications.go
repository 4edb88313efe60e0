package sqlstore

import (
	"context"
	"database/sql"
	"errors"

	"github.com/MrEthical07/goTenant/store"
)

func (s *Store) SaveNotificationSettings(ctx context.Context, settings []store.NotificationSetting) error {
	if len(settings) == 0 {
		return nil
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, n := range settings {
			_, err := s.exec(ctx, tx,
				`INSERT INTO notification_settings (account_id, user_id, name, active) VALUES (?, ?, ?, ?)
				ON CONFLICT (account_id, user_id, name) DO UPDATE SET active = excluded.active`,
				n.AccountID, n.UserID, n.Name, n.Active,
			)
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) NotificationEnabled(ctx context.Context, userID, accountID, name string) (bool, error) {
	var active bool
	err := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT active FROM notification_settings WHERE account_id = ? AND user_id = ? AND name = ?`),
		accountID, userID, name,
	).Scan(&active)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, mapErr(err)
	}
	return active, nil
}

func (s *Store) DeleteNotificationSettings(ctx context.Context, accountID string) error {
	_, err := s.exec(ctx, s.db, `DELETE FROM notification_settings WHERE account_id = ?`, accountID)
	return err
}
