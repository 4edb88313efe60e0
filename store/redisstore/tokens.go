package redisstore

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/MrEthical07/goTenant/store"
	"github.com/redis/go-redis/v9"
)

func (s *Store) tokensKey(userID string) string { return s.key("token", userID) }

func (s *Store) SaveToken(ctx context.Context, t store.Token) error {
	data, err := json.Marshal(t)
	if err != nil {
		return err
	}
	if err := s.rdb.HSet(ctx, s.tokensKey(t.UserID), t.ID, data).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}

func (s *Store) GetToken(ctx context.Context, userID, id string) (*store.Token, error) {
	raw, err := s.rdb.HGet(ctx, s.tokensKey(userID), id).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, store.ErrNotFound
		}
		return nil, unavailable(err)
	}
	var t store.Token
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, errCorrupt
	}
	return &t, nil
}

// RevokeTokens flips matching rows to inactive inside one WATCH transaction
// over the user's token hash. Rows are kept for history.
func (s *Store) RevokeTokens(ctx context.Context, sel store.TokenSelector) (int, error) {
	if sel.UserID == "" {
		return 0, errors.New("redisstore: token selector requires a user id")
	}
	key := s.tokensKey(sel.UserID)
	var changed int
	txf := func(tx *redis.Tx) error {
		changed = 0
		all, err := tx.HGetAll(ctx, key).Result()
		if err != nil {
			return err
		}
		updates := make(map[string]any)
		for id, raw := range all {
			var t store.Token
			if err := json.Unmarshal([]byte(raw), &t); err != nil {
				continue
			}
			if !t.Active || !sel.Matches(t) {
				continue
			}
			t.Active = false
			data, err := json.Marshal(t)
			if err != nil {
				return err
			}
			updates[id] = data
		}
		if len(updates) == 0 {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.HSet(ctx, key, updates)
			return nil
		})
		if err == nil {
			changed = len(updates)
		}
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err := s.rdb.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return 0, unavailable(err)
		}
		return changed, nil
	}
	return 0, unavailable(redis.TxFailedErr)
}

func (s *Store) DeleteTokens(ctx context.Context, userID string) error {
	if err := s.rdb.Del(ctx, s.tokensKey(userID)).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}
