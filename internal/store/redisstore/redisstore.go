// Package redisstore implements store.UsageStore on Redis. Each usage record
// is a hash; every mutation runs as a Lua script so the read-check-write
// happens inside Redis without interleaving. A sorted set indexed by reset
// time backs ListStale.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/DukeRupert/shoplocal/internal/domain"
	"github.com/DukeRupert/shoplocal/internal/store"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	statusOK       = 0
	statusMissing  = -1
	statusExceeded = -2
)

// snapshot is shared by every script. It returns
// {status, usage, limit, cadence, reset, created, updated}.
const prelude = `
local function snapshot(key, status)
  local v = redis.call('HMGET', key, 'usage', 'limit', 'cadence', 'reset', 'created', 'updated')
  return {status, tonumber(v[1]), tonumber(v[2]), v[3], tonumber(v[4]), tonumber(v[5]), tonumber(v[6])}
end
`

var getScript = redis.NewScript(prelude + `
if redis.call('EXISTS', KEYS[1]) == 0 then return {-1} end
return snapshot(KEYS[1], 0)
`)

// KEYS: hash, index. ARGV: limit, cadence, reset, now, member.
var createScript = redis.NewScript(prelude + `
if redis.call('EXISTS', KEYS[1]) == 1 then return snapshot(KEYS[1], 0) end
redis.call('HSET', KEYS[1], 'usage', 0, 'limit', ARGV[1], 'cadence', ARGV[2], 'reset', ARGV[3], 'created', ARGV[4], 'updated', ARGV[4])
redis.call('ZADD', KEYS[2], ARGV[3], ARGV[5])
return snapshot(KEYS[1], 0)
`)

// KEYS: hash. ARGV: amount, now, guarded ("1" to enforce the limit).
var incrementScript = redis.NewScript(prelude + `
if redis.call('EXISTS', KEYS[1]) == 0 then return {-1} end
local amount = tonumber(ARGV[1])
if ARGV[3] == '1' then
  local v = redis.call('HMGET', KEYS[1], 'usage', 'limit')
  if tonumber(v[1]) + amount > tonumber(v[2]) then return snapshot(KEYS[1], -2) end
end
redis.call('HINCRBY', KEYS[1], 'usage', amount)
redis.call('HSET', KEYS[1], 'updated', ARGV[2])
return snapshot(KEYS[1], 0)
`)

// KEYS: hash, index. ARGV: stale reset, next reset, now, member.
var rolloverScript = redis.NewScript(prelude + `
if redis.call('EXISTS', KEYS[1]) == 0 then return {-1} end
if redis.call('HGET', KEYS[1], 'reset') ~= ARGV[1] then return snapshot(KEYS[1], 0) end
redis.call('HSET', KEYS[1], 'usage', 0, 'reset', ARGV[2], 'updated', ARGV[3])
redis.call('ZADD', KEYS[2], ARGV[2], ARGV[4])
return snapshot(KEYS[1], 0)
`)

// KEYS: hash, index. ARGV: limit, cadence, next reset, now, member.
var updateLimitScript = redis.NewScript(prelude + `
if redis.call('EXISTS', KEYS[1]) == 0 then return {-1} end
redis.call('HSET', KEYS[1], 'limit', ARGV[1], 'cadence', ARGV[2], 'reset', ARGV[3], 'updated', ARGV[4])
redis.call('ZADD', KEYS[2], ARGV[3], ARGV[5])
return snapshot(KEYS[1], 0)
`)

// Store is a store.UsageStore backed by Redis.
type Store struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

var _ store.UsageStore = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithPrefix namespaces every key. The default is "shoplocal".
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		s.prefix = prefix
	}
}

// WithClock overrides the timestamp source for CreatedAt/UpdatedAt.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// New creates a Store over an existing client.
func New(client redis.UniversalClient, opts ...Option) *Store {
	s := &Store{
		client: client,
		prefix: "shoplocal",
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Connect parses a redis:// URL, verifies the server responds and returns
// the client.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func (s *Store) Get(ctx context.Context, key domain.UsageKey) (*domain.UsageRecord, error) {
	return s.run(ctx, getScript, key, []string{s.hashKey(key)})
}

func (s *Store) Create(ctx context.Context, rec *domain.UsageRecord) (*domain.UsageRecord, error) {
	key := rec.Key()
	return s.run(ctx, createScript, key,
		[]string{s.hashKey(key), s.indexKey()},
		rec.MaxLimit, string(rec.ResetCadence), micros(rec.NextResetAt), micros(s.now()), member(key),
	)
}

func (s *Store) Increment(ctx context.Context, key domain.UsageKey, amount int) (*domain.UsageRecord, error) {
	return s.run(ctx, incrementScript, key, []string{s.hashKey(key)}, amount, micros(s.now()), "0")
}

func (s *Store) IncrementIfAvailable(ctx context.Context, key domain.UsageKey, amount int) (*domain.UsageRecord, error) {
	return s.run(ctx, incrementScript, key, []string{s.hashKey(key)}, amount, micros(s.now()), "1")
}

func (s *Store) Rollover(ctx context.Context, key domain.UsageKey, staleResetAt, nextResetAt time.Time) (*domain.UsageRecord, error) {
	return s.run(ctx, rolloverScript, key,
		[]string{s.hashKey(key), s.indexKey()},
		micros(staleResetAt), micros(nextResetAt), micros(s.now()), member(key),
	)
}

func (s *Store) UpdateLimit(ctx context.Context, key domain.UsageKey, maxLimit int, cadence domain.ResetCadence, nextResetAt time.Time) (*domain.UsageRecord, error) {
	return s.run(ctx, updateLimitScript, key,
		[]string{s.hashKey(key), s.indexKey()},
		maxLimit, string(cadence), micros(nextResetAt), micros(s.now()), member(key),
	)
}

// ListStale reads the reset index, then loads each record. Index entries
// whose hash has since been removed are skipped.
func (s *Store) ListStale(ctx context.Context, now time.Time, limit int) ([]domain.UsageRecord, error) {
	by := &redis.ZRangeBy{
		Min: "-inf",
		Max: micros(now),
	}
	if limit > 0 {
		by.Count = int64(limit)
	}
	members, err := s.client.ZRangeByScore(ctx, s.indexKey(), by).Result()
	if err != nil {
		return nil, fmt.Errorf("list stale usage records: %w", err)
	}

	out := make([]domain.UsageRecord, 0, len(members))
	for _, m := range members {
		key, err := parseMember(m)
		if err != nil {
			return nil, err
		}
		rec, err := s.Get(ctx, key)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, nil
}

func (s *Store) run(ctx context.Context, script *redis.Script, key domain.UsageKey, keys []string, args ...any) (*domain.UsageRecord, error) {
	reply, err := script.Run(ctx, s.client, keys, args...).Slice()
	if err != nil {
		return nil, fmt.Errorf("redis usage script: %w", err)
	}
	status, rec, err := decode(key, reply)
	if err != nil {
		return nil, err
	}
	switch status {
	case statusMissing:
		return nil, store.ErrNotFound
	case statusExceeded:
		return rec, store.ErrLimitReached
	default:
		return rec, nil
	}
}

func (s *Store) hashKey(key domain.UsageKey) string {
	return s.prefix + ":usage:" + member(key)
}

func (s *Store) indexKey() string {
	return s.prefix + ":usage:resets"
}

func member(key domain.UsageKey) string {
	return key.UserID.String() + ":" + string(key.QuotaType)
}

func parseMember(m string) (domain.UsageKey, error) {
	id, qt, ok := strings.Cut(m, ":")
	if !ok {
		return domain.UsageKey{}, fmt.Errorf("malformed reset index member %q", m)
	}
	userID, err := uuid.Parse(id)
	if err != nil {
		return domain.UsageKey{}, fmt.Errorf("malformed reset index member %q: %w", m, err)
	}
	return domain.UsageKey{UserID: userID, QuotaType: domain.QuotaType(qt)}, nil
}

func micros(t time.Time) string {
	return strconv.FormatInt(t.UnixMicro(), 10)
}

// decode converts a script reply into a record. Replies other than the
// missing marker carry the full snapshot.
func decode(key domain.UsageKey, reply []any) (int64, *domain.UsageRecord, error) {
	if len(reply) == 0 {
		return 0, nil, errors.New("redis usage script: empty reply")
	}
	status, ok := reply[0].(int64)
	if !ok {
		return 0, nil, fmt.Errorf("redis usage script: unexpected status %T", reply[0])
	}
	if status == statusMissing {
		return status, nil, nil
	}
	if len(reply) != 7 {
		return 0, nil, fmt.Errorf("redis usage script: reply has %d fields", len(reply))
	}

	ints := make([]int64, 0, 5)
	for _, i := range []int{1, 2, 4, 5, 6} {
		n, ok := reply[i].(int64)
		if !ok {
			return 0, nil, fmt.Errorf("redis usage script: field %d is %T", i, reply[i])
		}
		ints = append(ints, n)
	}
	cadence, ok := reply[3].(string)
	if !ok {
		return 0, nil, fmt.Errorf("redis usage script: cadence is %T", reply[3])
	}

	return status, &domain.UsageRecord{
		UserID:       key.UserID,
		QuotaType:    key.QuotaType,
		CurrentUsage: int(ints[0]),
		MaxLimit:     int(ints[1]),
		ResetCadence: domain.ResetCadence(cadence),
		NextResetAt:  time.UnixMicro(ints[2]).UTC(),
		CreatedAt:    time.UnixMicro(ints[3]).UTC(),
		UpdatedAt:    time.UnixMicro(ints[4]).UTC(),
	}, nil
}
