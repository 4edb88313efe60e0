package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/MrEthical07/goTenant/store"
	"github.com/redis/go-redis/v9"
)

func (s *Store) userKey(id string) string { return s.key("user", id) }
func (s *Store) emailKey(email string) string {
	return s.key("user", "email", strings.ToLower(strings.TrimSpace(email)))
}
func (s *Store) socialKey(provider, id string) string { return s.key("user", "social", provider, id) }
func (s *Store) usersCreatedKey() string              { return s.key("users", "created") }

func (s *Store) CreateUser(ctx context.Context, u store.User) error {
	data, err := json.Marshal(u)
	if err != nil {
		return err
	}
	ok, err := s.rdb.SetNX(ctx, s.emailKey(u.Email), u.ID, 0).Result()
	if err != nil {
		return unavailable(err)
	}
	if !ok {
		return store.ErrDuplicate
	}
	_, err = s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, s.userKey(u.ID), data, 0)
		p.ZAdd(ctx, s.usersCreatedKey(), redis.Z{Score: float64(u.CreatedAt.UnixMilli()), Member: u.ID})
		for provider, sid := range u.SocialIDs {
			p.Set(ctx, s.socialKey(provider, sid), u.ID, 0)
		}
		return nil
	})
	if err != nil {
		return unavailable(err)
	}
	return nil
}

func (s *Store) GetUser(ctx context.Context, id string) (*store.User, error) {
	var u store.User
	if err := s.getJSON(ctx, s.userKey(id), &u); err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *Store) lookupUser(ctx context.Context, indexKey string) (*store.User, error) {
	id, err := s.rdb.Get(ctx, indexKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, store.ErrNotFound
		}
		return nil, unavailable(err)
	}
	return s.GetUser(ctx, id)
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*store.User, error) {
	return s.lookupUser(ctx, s.emailKey(email))
}

func (s *Store) GetUserBySocial(ctx context.Context, provider, socialID string) (*store.User, error) {
	return s.lookupUser(ctx, s.socialKey(provider, socialID))
}

func (s *Store) UpdateUser(ctx context.Context, id string, upd store.UserUpdate) error {
	return update(ctx, s, s.userKey(id), func(u *store.User) error {
		applyUserUpdate(u, upd)
		return nil
	}, func(p redis.Pipeliner, u *store.User) {
		if upd.SocialProvider != "" && upd.SocialID != "" {
			p.Set(ctx, s.socialKey(upd.SocialProvider, upd.SocialID), u.ID, 0)
		}
	})
}

func applyUserUpdate(u *store.User, upd store.UserUpdate) {
	if upd.Name != nil {
		u.Name = *upd.Name
	}
	if upd.PasswordHash != nil {
		u.PasswordHash = *upd.PasswordHash
	}
	if upd.Verified != nil {
		u.Verified = *upd.Verified
	}
	if upd.Disabled != nil {
		u.Disabled = *upd.Disabled
	}
	if upd.TwoFactorEnabled != nil {
		u.TwoFactorEnabled = *upd.TwoFactorEnabled
	}
	if upd.TwoFactorSecret != nil {
		u.TwoFactorSecret = *upd.TwoFactorSecret
	}
	if upd.BackupCodeHash != nil {
		u.BackupCodeHash = *upd.BackupCodeHash
	}
	if upd.DefaultAccountID != nil {
		u.DefaultAccountID = *upd.DefaultAccountID
	}
	if upd.LastActive != nil {
		u.LastActive = *upd.LastActive
	}
	if upd.SocialProvider != "" && upd.SocialID != "" {
		if u.SocialIDs == nil {
			u.SocialIDs = make(map[string]string)
		}
		u.SocialIDs[upd.SocialProvider] = upd.SocialID
	}
}

func (s *Store) DeleteUser(ctx context.Context, id string) error {
	u, err := s.GetUser(ctx, id)
	if err != nil {
		return err
	}
	accounts, err := s.rdb.HKeys(ctx, s.membershipsKey(id)).Result()
	if err != nil {
		return unavailable(err)
	}
	_, err = s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, s.userKey(id), s.emailKey(u.Email), s.membershipsKey(id), s.tokensKey(id), s.loginsKey(id))
		p.ZRem(ctx, s.usersCreatedKey(), id)
		for provider, sid := range u.SocialIDs {
			p.Del(ctx, s.socialKey(provider, sid))
		}
		for _, acct := range accounts {
			p.HDel(ctx, s.membersKey(acct), id)
		}
		return nil
	})
	if err != nil {
		return unavailable(err)
	}
	return nil
}

// ConsumeBackupCode clears the hash with a compare-and-set so two
// concurrent sign-ins cannot both spend one code.
func (s *Store) ConsumeBackupCode(ctx context.Context, userID, hash string) (bool, error) {
	if hash == "" {
		return false, nil
	}
	err := update(ctx, s, s.userKey(userID), func(u *store.User) error {
		if u.BackupCodeHash == "" || u.BackupCodeHash != hash {
			return errSkip
		}
		u.BackupCodeHash = ""
		return nil
	}, nil)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, errSkip), errors.Is(err, store.ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}

func (s *Store) UnverifiedUsers(ctx context.Context, from, to time.Time) ([]store.User, error) {
	ids, err := s.rdb.ZRangeByScore(ctx, s.usersCreatedKey(), &redis.ZRangeBy{
		Min: strconv.FormatInt(from.UnixMilli(), 10),
		Max: "(" + strconv.FormatInt(to.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return nil, unavailable(err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.userKey(id)
	}
	raws, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, unavailable(err)
	}
	var out []store.User
	for _, raw := range raws {
		str, ok := raw.(string)
		if !ok {
			continue
		}
		var u store.User
		if err := json.Unmarshal([]byte(str), &u); err != nil {
			continue
		}
		if !u.Verified {
			out = append(out, u)
		}
	}
	return out, nil
}
