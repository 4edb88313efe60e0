package redisstore

import (
	"context"
	"errors"
	"sort"

	"github.com/MrEthical07/goTenant/permission"
	"github.com/MrEthical07/goTenant/store"
	"github.com/redis/go-redis/v9"
)

// Memberships are mirrored in two hashes so both directions are one read:
// members:<account> user->level and memberships:<user> account->level.

func (s *Store) AddMember(ctx context.Context, m store.Membership) error {
	_, err := s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, s.membersKey(m.AccountID), m.UserID, string(m.Permission))
		p.HSet(ctx, s.membershipsKey(m.UserID), m.AccountID, string(m.Permission))
		return nil
	})
	if err != nil {
		return unavailable(err)
	}
	return nil
}

func (s *Store) GetMember(ctx context.Context, accountID, userID string) (*store.Membership, error) {
	level, err := s.rdb.HGet(ctx, s.membersKey(accountID), userID).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, store.ErrNotFound
		}
		return nil, unavailable(err)
	}
	return &store.Membership{UserID: userID, AccountID: accountID, Permission: permission.Level(level)}, nil
}

func (s *Store) ListMembers(ctx context.Context, accountID string) ([]store.Membership, error) {
	all, err := s.rdb.HGetAll(ctx, s.membersKey(accountID)).Result()
	if err != nil {
		return nil, unavailable(err)
	}
	out := make([]store.Membership, 0, len(all))
	for userID, level := range all {
		out = append(out, store.Membership{UserID: userID, AccountID: accountID, Permission: permission.Level(level)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (s *Store) ListMemberships(ctx context.Context, userID string) ([]store.Membership, error) {
	all, err := s.rdb.HGetAll(ctx, s.membershipsKey(userID)).Result()
	if err != nil {
		return nil, unavailable(err)
	}
	out := make([]store.Membership, 0, len(all))
	for accountID, level := range all {
		out = append(out, store.Membership{UserID: userID, AccountID: accountID, Permission: permission.Level(level)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AccountID < out[j].AccountID })
	return out, nil
}

func (s *Store) UpdatePermission(ctx context.Context, accountID, userID string, level permission.Level) error {
	ok, err := s.rdb.HExists(ctx, s.membersKey(accountID), userID).Result()
	if err != nil {
		return unavailable(err)
	}
	if !ok {
		return store.ErrNotFound
	}
	return s.AddMember(ctx, store.Membership{UserID: userID, AccountID: accountID, Permission: level})
}

func (s *Store) RemoveMember(ctx context.Context, accountID, userID string) error {
	var removed *redis.IntCmd
	_, err := s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		removed = p.HDel(ctx, s.membersKey(accountID), userID)
		p.HDel(ctx, s.membershipsKey(userID), accountID)
		return nil
	})
	if err != nil {
		return unavailable(err)
	}
	if removed.Val() == 0 {
		return store.ErrNotFound
	}
	return nil
}
