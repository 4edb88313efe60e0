package redisstore

import (
	"context"
	"encoding/json"

	"github.com/MrEthical07/goTenant/store"
	"github.com/redis/go-redis/v9"
)

func (s *Store) loginsKey(userID string) string { return s.key("logins", userID) }

func (s *Store) RecordLogin(ctx context.Context, ev store.LoginEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	key := s.loginsKey(ev.UserID)
	_, err = s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.LPush(ctx, key, data)
		p.LTrim(ctx, key, 0, loginHistoryCap-1)
		return nil
	})
	if err != nil {
		return unavailable(err)
	}
	return nil
}

func (s *Store) RecentLogins(ctx context.Context, userID, excludeID string, limit int) ([]store.LoginEvent, error) {
	if limit <= 0 {
		return nil, nil
	}
	// One extra row covers the excluded event.
	raws, err := s.rdb.LRange(ctx, s.loginsKey(userID), 0, int64(limit)).Result()
	if err != nil {
		return nil, unavailable(err)
	}
	out := make([]store.LoginEvent, 0, len(raws))
	for _, raw := range raws {
		var ev store.LoginEvent
		if err := json.Unmarshal([]byte(raw), &ev); err != nil {
			continue
		}
		if excludeID != "" && ev.ID == excludeID {
			continue
		}
		if len(out) == limit {
			break
		}
		out = append(out, ev)
	}
	return out, nil
}
