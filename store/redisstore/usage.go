package redisstore

import (
	"context"
	"crypto/rand"
	"errors"
	"sort"
	"strconv"
	"time"

	"github.com/MrEthical07/goTenant/store"
	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"
)

// Usage records are hashes so the increment can be a single HINCRBY inside
// a script. Layout:
//
//	usage:<id>           hash   account_id, period_start, period_end, quantity, reported
//	usage:open:<acct>    string id of the open record
//	usage:unreported     set    ids with reported=0
//	usage:acct:<acct>    zset   ids scored by period start (ms)

func (s *Store) usageKey(id string) string               { return s.key("usage", id) }
func (s *Store) usageOpenKey(accountID string) string    { return s.key("usage", "open", accountID) }
func (s *Store) usageUnreportedKey() string              { return s.key("usage", "unreported") }
func (s *Store) usageAccountKey(accountID string) string { return s.key("usage", "acct", accountID) }

var openUsageScript = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if cur then
	return cur
end
redis.call('HSET', KEYS[2], 'id', ARGV[1], 'account_id', ARGV[2], 'period_start', ARGV[3], 'period_end', '', 'quantity', '0', 'reported', '0')
redis.call('SET', KEYS[1], ARGV[1])
redis.call('SADD', KEYS[3], ARGV[1])
redis.call('ZADD', KEYS[4], ARGV[4], ARGV[1])
return ARGV[1]
`)

// KEYS: open pointer, record. ARGV: qty, record id.
// Returns 1 on success, 0 when the record is closed and -1 when the open
// pointer moved since the caller read it.
var incrementUsageScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) ~= ARGV[2] then
	return -1
end
if redis.call('HGET', KEYS[2], 'reported') ~= '0' or redis.call('HGET', KEYS[2], 'period_end') ~= '' then
	return 0
end
redis.call('HINCRBY', KEYS[2], 'quantity', ARGV[1])
return 1
`)

// KEYS: open pointer, record, next record, unreported set, account zset.
// ARGV: record id, end time, reopen flag, next id, account id, next start,
// next start ms. Returns -1 when the open pointer no longer names the record.
var closeUsageScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) ~= ARGV[1] then
	return -1
end
redis.call('HSET', KEYS[2], 'period_end', ARGV[2])
if ARGV[3] == '1' then
	redis.call('HSET', KEYS[3], 'id', ARGV[4], 'account_id', ARGV[5], 'period_start', ARGV[6], 'period_end', '', 'quantity', '0', 'reported', '0')
	redis.call('SET', KEYS[1], ARGV[4])
	redis.call('SADD', KEYS[4], ARGV[4])
	redis.call('ZADD', KEYS[5], ARGV[7], ARGV[4])
else
	redis.call('DEL', KEYS[1])
end
return 1
`)

// KEYS: unreported set, then one record key per id in ARGV.
var markReportedScript = redis.NewScript(`
local n = 0
for i = 1, #ARGV do
	local rec = KEYS[i + 1]
	if redis.call('HGET', rec, 'reported') == '0' and redis.call('HGET', rec, 'period_end') ~= '' then
		redis.call('HSET', rec, 'reported', '1')
		redis.call('SREM', KEYS[1], ARGV[i])
		n = n + 1
	end
end
return n
`)

func newUsageID(now time.Time) string {
	return ulid.MustNew(ulid.Timestamp(now), rand.Reader).String()
}

// OpenUsage starts a period at the current time, or returns the record that
// is already open.
func (s *Store) OpenUsage(ctx context.Context, accountID string) (*store.UsageRecord, error) {
	now := time.Now().UTC()
	id := newUsageID(now)
	got, err := openUsageScript.Run(ctx, s.rdb,
		[]string{s.usageOpenKey(accountID), s.usageKey(id), s.usageUnreportedKey(), s.usageAccountKey(accountID)},
		id, accountID, now.Format(time.RFC3339Nano), now.UnixMilli(),
	).Text()
	if err != nil {
		return nil, unavailable(err)
	}
	return s.usageRecord(ctx, got)
}

// IncrementUsage reads the open pointer and then increments that record
// inside a script that rechecks the pointer, retrying when a close moved it.
func (s *Store) IncrementUsage(ctx context.Context, accountID string, qty int64) (bool, error) {
	openKey := s.usageOpenKey(accountID)
	for range maxTxRetries {
		id, err := s.rdb.Get(ctx, openKey).Result()
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		if err != nil {
			return false, unavailable(err)
		}
		n, err := incrementUsageScript.Run(ctx, s.rdb, []string{openKey, s.usageKey(id)}, qty, id).Int()
		if err != nil {
			return false, unavailable(err)
		}
		if n >= 0 {
			return n == 1, nil
		}
	}
	return false, unavailable(errors.New("usage increment: open period kept moving"))
}

func (s *Store) CurrentUsage(ctx context.Context, accountID string) (*store.UsageRecord, error) {
	id, err := s.rdb.Get(ctx, s.usageOpenKey(accountID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, store.ErrNotFound
		}
		return nil, unavailable(err)
	}
	return s.usageRecord(ctx, id)
}

// UsageTotal sums records that started at or after start and are either
// still open or ended by end.
func (s *Store) UsageTotal(ctx context.Context, accountID string, start, end time.Time) (int64, error) {
	ids, err := s.rdb.ZRangeByScore(ctx, s.usageAccountKey(accountID), &redis.ZRangeBy{
		Min: strconv.FormatInt(start.UnixMilli(), 10),
		Max: strconv.FormatInt(end.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return 0, unavailable(err)
	}
	records, err := s.usageRecords(ctx, ids)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, r := range records {
		if r.PeriodEnd == nil || !r.PeriodEnd.After(end) {
			total += r.Quantity
		}
	}
	return total, nil
}

// UnreportedUsage lists every record not yet reported, open ones included,
// with the owning account's Stripe references joined in.
func (s *Store) UnreportedUsage(ctx context.Context) ([]store.UsageRecord, error) {
	ids, err := s.rdb.SMembers(ctx, s.usageUnreportedKey()).Result()
	if err != nil {
		return nil, unavailable(err)
	}
	records, err := s.usageRecords(ctx, ids)
	if err != nil {
		return nil, err
	}
	accounts := make(map[string]*store.Account)
	for i := range records {
		r := &records[i]
		a, ok := accounts[r.AccountID]
		if !ok {
			a, err = s.GetAccount(ctx, r.AccountID)
			if err != nil && !errors.Is(err, store.ErrNotFound) {
				return nil, err
			}
			accounts[r.AccountID] = a
		}
		if a != nil {
			r.StripeCustomerID = a.StripeCustomerID
			r.StripeSubscriptionID = a.StripeSubscriptionID
		}
	}
	sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })
	return records, nil
}

func (s *Store) CloseUsage(ctx context.Context, accountID string, reopen bool) (*store.UsageRecord, error) {
	openKey := s.usageOpenKey(accountID)
	for range maxTxRetries {
		id, err := s.rdb.Get(ctx, openKey).Result()
		if errors.Is(err, redis.Nil) {
			return nil, store.ErrNotFound
		}
		if err != nil {
			return nil, unavailable(err)
		}
		now := time.Now().UTC()
		nextID := newUsageID(now)
		flag := "0"
		if reopen {
			flag = "1"
		}
		n, err := closeUsageScript.Run(ctx, s.rdb,
			[]string{openKey, s.usageKey(id), s.usageKey(nextID), s.usageUnreportedKey(), s.usageAccountKey(accountID)},
			id, now.Format(time.RFC3339Nano), flag, nextID, accountID, now.Format(time.RFC3339Nano), now.UnixMilli(),
		).Int()
		if err != nil {
			return nil, unavailable(err)
		}
		if n == 1 {
			return s.usageRecord(ctx, id)
		}
	}
	return nil, unavailable(errors.New("usage close: open period kept moving"))
}

func (s *Store) MarkUsageReported(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	keys := make([]string, 0, len(ids)+1)
	keys = append(keys, s.usageUnreportedKey())
	args := make([]any, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, s.usageKey(id))
		args = append(args, id)
	}
	n, err := markReportedScript.Run(ctx, s.rdb, keys, args...).Int()
	if err != nil {
		return 0, unavailable(err)
	}
	return n, nil
}

func (s *Store) usageRecord(ctx context.Context, id string) (*store.UsageRecord, error) {
	fields, err := s.rdb.HGetAll(ctx, s.usageKey(id)).Result()
	if err != nil {
		return nil, unavailable(err)
	}
	if len(fields) == 0 {
		return nil, store.ErrNotFound
	}
	r, err := decodeUsage(fields)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *Store) usageRecords(ctx context.Context, ids []string) ([]store.UsageRecord, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err := s.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = p.HGetAll(ctx, s.usageKey(id))
		}
		return nil
	})
	if err != nil {
		return nil, unavailable(err)
	}
	out := make([]store.UsageRecord, 0, len(ids))
	for _, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue
		}
		r, err := decodeUsage(fields)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func decodeUsage(fields map[string]string) (store.UsageRecord, error) {
	r := store.UsageRecord{
		ID:        fields["id"],
		AccountID: fields["account_id"],
		Reported:  fields["reported"] == "1",
	}
	var err error
	if r.PeriodStart, err = time.Parse(time.RFC3339Nano, fields["period_start"]); err != nil {
		return r, errCorrupt
	}
	if end := fields["period_end"]; end != "" {
		t, err := time.Parse(time.RFC3339Nano, end)
		if err != nil {
			return r, errCorrupt
		}
		r.PeriodEnd = &t
	}
	if r.Quantity, err = strconv.ParseInt(fields["quantity"], 10, 64); err != nil {
		return r, errCorrupt
	}
	return r, nil
}
