package redisstore

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/MrEthical07/goTenant/store"
	"github.com/redis/go-redis/v9"
)

func (s *Store) accountKey(id string) string        { return s.key("acct", id) }
func (s *Store) customerKey(customer string) string { return s.key("acct", "cus", customer) }
func (s *Store) membersKey(accountID string) string { return s.key("members", accountID) }
func (s *Store) membershipsKey(userID string) string {
	return s.key("memberships", userID)
}

func (s *Store) CreateAccount(ctx context.Context, a store.Account) error {
	data, err := json.Marshal(a)
	if err != nil {
		return err
	}
	ok, err := s.rdb.SetNX(ctx, s.accountKey(a.ID), data, 0).Result()
	if err != nil {
		return unavailable(err)
	}
	if !ok {
		return store.ErrDuplicate
	}
	if a.StripeCustomerID != "" {
		if err := s.rdb.Set(ctx, s.customerKey(a.StripeCustomerID), a.ID, 0).Err(); err != nil {
			return unavailable(err)
		}
	}
	return nil
}

func (s *Store) GetAccount(ctx context.Context, id string) (*store.Account, error) {
	var a store.Account
	if err := s.getJSON(ctx, s.accountKey(id), &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *Store) GetAccountByCustomer(ctx context.Context, customerID string) (*store.Account, error) {
	id, err := s.rdb.Get(ctx, s.customerKey(customerID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, store.ErrNotFound
		}
		return nil, unavailable(err)
	}
	return s.GetAccount(ctx, id)
}

func (s *Store) UpdateAccount(ctx context.Context, id string, upd store.AccountUpdate) error {
	var oldCustomer string
	return update(ctx, s, s.accountKey(id), func(a *store.Account) error {
		oldCustomer = a.StripeCustomerID
		if upd.Name != nil {
			a.Name = *upd.Name
		}
		if upd.Plan != nil {
			a.Plan = *upd.Plan
		}
		if upd.Active != nil {
			a.Active = *upd.Active
		}
		if upd.StripeCustomerID != nil {
			a.StripeCustomerID = *upd.StripeCustomerID
		}
		if upd.StripeSubscriptionID != nil {
			a.StripeSubscriptionID = *upd.StripeSubscriptionID
		}
		return nil
	}, func(p redis.Pipeliner, a *store.Account) {
		if a.StripeCustomerID == oldCustomer {
			return
		}
		if oldCustomer != "" {
			p.Del(ctx, s.customerKey(oldCustomer))
		}
		if a.StripeCustomerID != "" {
			p.Set(ctx, s.customerKey(a.StripeCustomerID), a.ID, 0)
		}
	})
}

// DeleteAccount removes the account, its customer index and every
// membership pointing at it.
func (s *Store) DeleteAccount(ctx context.Context, id string) error {
	a, err := s.GetAccount(ctx, id)
	if err != nil {
		return err
	}
	users, err := s.rdb.HKeys(ctx, s.membersKey(id)).Result()
	if err != nil {
		return unavailable(err)
	}
	_, err = s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, s.accountKey(id), s.membersKey(id))
		if a.StripeCustomerID != "" {
			p.Del(ctx, s.customerKey(a.StripeCustomerID))
		}
		for _, u := range users {
			p.HDel(ctx, s.membershipsKey(u), id)
		}
		return nil
	})
	if err != nil {
		return unavailable(err)
	}
	return nil
}
