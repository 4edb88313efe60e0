// Package redisstore keeps the engine's model in Redis as JSON documents
// with secondary-index keys. Multi-key writes go through WATCH/MULTI or
// Lua so concurrent callers never observe half an update.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/MrEthical07/goTenant/store"
	"github.com/redis/go-redis/v9"
)

const (
	defaultPrefix = "gt"
	maxTxRetries  = 8
	// loginHistoryCap bounds the per-user login list.
	loginHistoryCap = 1000
)

// Store implements store.Backend on Redis.
type Store struct {
	rdb    redis.UniversalClient
	prefix string
}

// New returns a Store writing keys under prefix (default "gt"). Scripts
// declare every key they touch; on Redis Cluster wrap the prefix in a hash
// tag, e.g. "{gt}", so those keys share a slot.
func New(rdb redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &Store{rdb: rdb, prefix: prefix}
}

func (s *Store) key(parts ...string) string {
	k := s.prefix
	for _, p := range parts {
		k += ":" + p
	}
	return k
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
}

func (s *Store) getJSON(ctx context.Context, key string, v any) error {
	raw, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return store.ErrNotFound
		}
		return unavailable(err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %s: %v", errCorrupt, key, err)
	}
	return nil
}

// update runs a WATCH/MULTI read-modify-write of the JSON document at key,
// retrying when another writer got there first. extra may queue more
// commands in the same transaction.
func update[T any](ctx context.Context, s *Store, key string, mutate func(*T) error, extra func(redis.Pipeliner, *T)) error {
	txf := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return store.ErrNotFound
			}
			return err
		}
		var v T
		if err := json.Unmarshal(raw, &v); err != nil {
			return fmt.Errorf("%w: %s: %v", errCorrupt, key, err)
		}
		if err := mutate(&v); err != nil {
			return err
		}
		data, err := json.Marshal(&v)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, key, data, 0)
			if extra != nil {
				extra(p, &v)
			}
			return nil
		})
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err := s.rdb.Watch(ctx, txf, key)
		switch {
		case errors.Is(err, redis.TxFailedErr):
			continue
		case err == nil, isPassThrough(err):
			return err
		default:
			return unavailable(err)
		}
	}
	return unavailable(redis.TxFailedErr)
}

var (
	// errSkip aborts an update without writing.
	errSkip    = errors.New("redisstore: skip")
	errCorrupt = errors.New("redisstore: corrupt document")
)

func isPassThrough(err error) bool {
	return errors.Is(err, store.ErrNotFound) ||
		errors.Is(err, store.ErrDuplicate) ||
		errors.Is(err, errSkip) ||
		errors.Is(err, errCorrupt)
}

var _ store.Backend = (*Store)(nil)
