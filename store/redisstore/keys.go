package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"sort"

	"github.com/MrEthical07/goTenant/store"
	"github.com/redis/go-redis/v9"
)

// API keys are stored under their secret for constant-time lookup on the
// request path; keys:<acct> maps key id to secret for listing.

func (s *Store) apiKeyKey(secret string) string         { return s.key("apikey", secret) }
func (s *Store) accountKeysKey(accountID string) string { return s.key("apikeys", accountID) }

func (s *Store) CreateKey(ctx context.Context, k store.APIKey) error {
	data, err := json.Marshal(k)
	if err != nil {
		return err
	}
	ok, err := s.rdb.SetNX(ctx, s.apiKeyKey(k.Key), data, 0).Result()
	if err != nil {
		return unavailable(err)
	}
	if !ok {
		return store.ErrDuplicate
	}
	if err := s.rdb.HSet(ctx, s.accountKeysKey(k.AccountID), k.ID, k.Key).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}

func (s *Store) GetKeyBySecret(ctx context.Context, key string) (*store.APIKey, error) {
	var k store.APIKey
	if err := s.getJSON(ctx, s.apiKeyKey(key), &k); err != nil {
		return nil, err
	}
	return &k, nil
}

func (s *Store) ListKeys(ctx context.Context, accountID string) ([]store.APIKey, error) {
	secrets, err := s.rdb.HVals(ctx, s.accountKeysKey(accountID)).Result()
	if err != nil {
		return nil, unavailable(err)
	}
	if len(secrets) == 0 {
		return nil, nil
	}
	keys := make([]string, len(secrets))
	for i, sec := range secrets {
		keys[i] = s.apiKeyKey(sec)
	}
	raws, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, unavailable(err)
	}
	out := make([]store.APIKey, 0, len(raws))
	for _, raw := range raws {
		str, ok := raw.(string)
		if !ok {
			continue
		}
		var k store.APIKey
		if err := json.Unmarshal([]byte(str), &k); err != nil {
			continue
		}
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) SetKeyActive(ctx context.Context, accountID, id string, active bool) error {
	secret, err := s.rdb.HGet(ctx, s.accountKeysKey(accountID), id).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return store.ErrNotFound
		}
		return unavailable(err)
	}
	return update(ctx, s, s.apiKeyKey(secret), func(k *store.APIKey) error {
		k.Active = active
		return nil
	}, nil)
}

func (s *Store) DeleteKeys(ctx context.Context, accountID string) error {
	secrets, err := s.rdb.HVals(ctx, s.accountKeysKey(accountID)).Result()
	if err != nil {
		return unavailable(err)
	}
	keys := []string{s.accountKeysKey(accountID)}
	for _, sec := range secrets {
		keys = append(keys, s.apiKeyKey(sec))
	}
	if err := s.rdb.Del(ctx, keys...).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}
