package redisstore

import (
	"context"
	"errors"
	"strconv"

	"github.com/MrEthical07/goTenant/store"
	"github.com/redis/go-redis/v9"
)

func (s *Store) notifyKey(accountID, userID string) string {
	return s.key("notify", accountID, userID)
}

func (s *Store) notifyUsersKey(accountID string) string { return s.key("notify", "acct", accountID) }

func (s *Store) SaveNotificationSettings(ctx context.Context, settings []store.NotificationSetting) error {
	if len(settings) == 0 {
		return nil
	}
	_, err := s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		for _, n := range settings {
			p.HSet(ctx, s.notifyKey(n.AccountID, n.UserID), n.Name, strconv.FormatBool(n.Active))
			p.SAdd(ctx, s.notifyUsersKey(n.AccountID), n.UserID)
		}
		return nil
	})
	if err != nil {
		return unavailable(err)
	}
	return nil
}

func (s *Store) NotificationEnabled(ctx context.Context, userID, accountID, name string) (bool, error) {
	v, err := s.rdb.HGet(ctx, s.notifyKey(accountID, userID), name).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, unavailable(err)
	}
	on, _ := strconv.ParseBool(v)
	return on, nil
}

func (s *Store) DeleteNotificationSettings(ctx context.Context, accountID string) error {
	users, err := s.rdb.SMembers(ctx, s.notifyUsersKey(accountID)).Result()
	if err != nil {
		return unavailable(err)
	}
	keys := []string{s.notifyUsersKey(accountID)}
	for _, u := range users {
		keys = append(keys, s.notifyKey(accountID, u))
	}
	if err := s.rdb.Del(ctx, keys...).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}
