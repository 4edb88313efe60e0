package sqlstore

import (
	"context"

	"github.com/MrEthical07/goTenant/store"
)

func (s *Store) RecordLogin(ctx context.Context, ev store.LoginEvent) error {
	_, err := s.exec(ctx, s.db,
		`INSERT INTO logins (id, user_id, ip, device, browser, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.UserID, ev.IP, ev.Device, ev.Browser, millis(ev.CreatedAt),
	)
	return err
}

func (s *Store) RecentLogins(ctx context.Context, userID, excludeID string, limit int) ([]store.LoginEvent, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		s.rebind(`SELECT id, user_id, ip, device, browser, created_at FROM logins
		WHERE user_id = ? AND id <> ? ORDER BY created_at DESC, id DESC LIMIT ?`),
		userID, excludeID, limit,
	)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	var out []store.LoginEvent
	for rows.Next() {
		var ev store.LoginEvent
		var created int64
		if err := rows.Scan(&ev.ID, &ev.UserID, &ev.IP, &ev.Device, &ev.Browser, &created); err != nil {
			return nil, mapErr(err)
		}
		ev.CreatedAt = fromMillis(created)
		out = append(out, ev)
	}
	return out, mapErr(rows.Err())
}
