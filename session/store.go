package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/MrEthical07/authgate/internal"
	"github.com/redis/go-redis/v9"
)

// FieldAccountID is the session field that binds a session to an account.
// Writes to it also maintain the per-account session index.
const FieldAccountID = "account_id"

const fieldCreatedAt = "created_at"

var (
	// ErrRedisUnavailable wraps backend failures.
	ErrRedisUnavailable = errors.New("redis unavailable")
	// ErrNotFound is returned when a session id is unknown or has expired.
	ErrNotFound = errors.New("session not found")
	// ErrDestroyed is returned by writes through a destroyed handle.
	ErrDestroyed = errors.New("session destroyed")
)

const destroyScript = `
local acct = redis.call("HGET", KEYS[1], ARGV[2])
local existed = redis.call("DEL", KEYS[1])
if acct then
  redis.call("SREM", ARGV[1] .. acct, ARGV[3])
end
return existed
`

var destroyLua = redis.NewScript(destroyScript)

// touchScript slides the session TTL and, for bound sessions, the account
// index with it. Every member's remaining TTL is at most ttl, so the index
// never expires before a live member.
const touchScript = `
if redis.call("PEXPIRE", KEYS[1], ARGV[1]) == 0 then
  return 0
end
local acct = redis.call("HGET", KEYS[1], ARGV[3])
if acct and acct ~= "" then
  redis.call("PEXPIRE", ARGV[2] .. acct, ARGV[1])
end
return 1
`

var touchLua = redis.NewScript(touchScript)

// setScript writes one field and slides both TTLs. Rebinding the account
// field moves the session between account indexes.
const setScript = `
local prev = false
if ARGV[3] == ARGV[5] then
  prev = redis.call("HGET", KEYS[1], ARGV[5])
end
redis.call("HSET", KEYS[1], ARGV[3], ARGV[4])
redis.call("PEXPIRE", KEYS[1], ARGV[1])
if prev and prev ~= "" and prev ~= ARGV[4] then
  redis.call("SREM", ARGV[2] .. prev, ARGV[6])
end
local acct = redis.call("HGET", KEYS[1], ARGV[5])
if acct and acct ~= "" then
  redis.call("SADD", ARGV[2] .. acct, ARGV[6])
  redis.call("PEXPIRE", ARGV[2] .. acct, ARGV[1])
end
return 1
`

var setLua = redis.NewScript(setScript)

// Store keeps each session as a Redis hash with a sliding idle TTL.
type Store struct {
	redis  redis.UniversalClient
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

// NewStore returns a Store. prefix namespaces all keys; ttl is the idle
// lifetime refreshed on every open and write.
func NewStore(client redis.UniversalClient, prefix string, ttl time.Duration) *Store {
	if prefix == "" {
		prefix = "ags"
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Store{
		redis:  client,
		prefix: prefix,
		ttl:    ttl,
		now:    time.Now,
	}
}

func (s *Store) key(sid string) string {
	return s.prefix + ":s:" + sid
}

func (s *Store) indexPrefix() string {
	return s.prefix + ":a:"
}

func (s *Store) indexKey(accountID string) string {
	return s.indexPrefix() + accountID
}

// New creates an empty anonymous session.
func (s *Store) New(ctx context.Context) (*Handle, error) {
	sid, err := internal.NewSessionID()
	if err != nil {
		return nil, err
	}
	id := sid.String()

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.key(id), fieldCreatedAt, strconv.FormatInt(s.now().UnixMilli(), 10))
		pipe.PExpire(ctx, s.key(id), s.ttl)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return &Handle{store: s, id: id}, nil
}

// Open resumes an existing session and refreshes its idle TTL.
func (s *Store) Open(ctx context.Context, id string) (*Handle, error) {
	if _, err := internal.ParseSessionID(id); err != nil {
		return nil, ErrNotFound
	}
	alive, err := touchLua.Run(ctx, s.redis, []string{s.key(id)},
		s.ttl.Milliseconds(), s.indexPrefix(), FieldAccountID).Int()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if alive == 0 {
		return nil, ErrNotFound
	}
	return &Handle{store: s, id: id}, nil
}

// DestroyAllForAccount deletes every session bound to accountID and returns
// how many were removed.
func (s *Store) DestroyAllForAccount(ctx context.Context, accountID string) (int, error) {
	if accountID == "" {
		return 0, nil
	}
	index := s.indexKey(accountID)
	ids, err := s.redis.SMembers(ctx, index).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	keys := make([]string, 0, len(ids)+1)
	for _, id := range ids {
		keys = append(keys, s.key(id))
	}
	keys = append(keys, index)

	removed, err := s.redis.Del(ctx, keys...).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	// the index key itself is counted by DEL when present
	if len(ids) > 0 {
		removed--
	}
	return int(removed), nil
}

// CountForAccount reports the number of indexed sessions for accountID.
func (s *Store) CountForAccount(ctx context.Context, accountID string) (int, error) {
	n, err := s.redis.SCard(ctx, s.indexKey(accountID)).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return int(n), nil
}
