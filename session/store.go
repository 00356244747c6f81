package session

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrRedisUnavailable wraps transport failures talking to Redis.
	ErrRedisUnavailable = errors.New("redis unavailable")
	// ErrSessionNotFound is returned when the session does not exist or was revoked.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionExpired is returned when the session outlived its absolute expiry.
	ErrSessionExpired = errors.New("session expired")
	// ErrRefreshHashMismatch is returned when the presented secret is not the
	// current one. The session is deleted before this is returned.
	ErrRefreshHashMismatch = errors.New("refresh hash mismatch")
	// ErrSessionCorrupt is returned when a stored session is missing fields.
	ErrSessionCorrupt = errors.New("session record corrupt")
)

const (
	fieldAccount   = "aid"
	fieldHash      = "rh"
	fieldIP        = "ip"
	fieldUserAgent = "ua"
	fieldCreated   = "ca"
	fieldExpires   = "ea"
)

const (
	rotateNotFound int64 = 0
	rotateExpired  int64 = 1
	rotateMismatch int64 = 2
	rotateOK       int64 = 3
)

// KEYS[1] session key
// ARGV[1] account index prefix, ARGV[2] presented hash, ARGV[3] next hash,
// ARGV[4] now (unix), ARGV[5] session id
const rotateRefreshScript = `
local data = redis.call("HMGET", KEYS[1], "aid", "rh", "ea")
local aid = data[1]
if not aid then
  return {0}
end
local acct_key = ARGV[1] .. aid

local expires = tonumber(data[3])
if not expires or expires <= tonumber(ARGV[4]) then
  redis.call("DEL", KEYS[1])
  redis.call("SREM", acct_key, ARGV[5])
  return {1, aid}
end

if data[2] ~= ARGV[2] then
  redis.call("DEL", KEYS[1])
  redis.call("SREM", acct_key, ARGV[5])
  return {2, aid}
end

redis.call("HSET", KEYS[1], "rh", ARGV[3])
return {3, aid}
`

var rotateRefreshLua = redis.NewScript(rotateRefreshScript)

// KEYS[1] session key
// ARGV[1] account index prefix, ARGV[2] presented hash, ARGV[3] session id
const revokeScript = `
local data = redis.call("HMGET", KEYS[1], "aid", "rh")
if not data[1] then
  return 0
end
if data[2] ~= ARGV[2] then
  return -1
end
redis.call("DEL", KEYS[1])
redis.call("SREM", ARGV[1] .. data[1], ARGV[3])
return 1
`

var revokeLua = redis.NewScript(revokeScript)

// Store is a Redis-backed refresh-session store.
type Store struct {
	redis  redis.UniversalClient
	prefix string
	now    func() time.Time
}

// NewStore creates a [Store]. prefix namespaces every key it writes.
func NewStore(client redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = "has"
	}
	return &Store{redis: client, prefix: prefix, now: time.Now}
}

func (s *Store) key(sessionID string) string {
	return s.prefix + ":s:" + sessionID
}

func (s *Store) accountPrefix() string {
	return s.prefix + ":a:"
}

func (s *Store) accountKey(accountID string) string {
	return s.accountPrefix() + accountID
}

// Save writes sess with a TTL matching its expiry and indexes it under the
// owning account.
//
//	Performance: one MULTI with HSET, EXPIREAT and SADD.
func (s *Store) Save(ctx context.Context, sess *Session) error {
	if sess == nil || sess.ID == "" || sess.AccountID == "" {
		return ErrSessionCorrupt
	}
	key := s.key(sess.ID)
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key,
			fieldAccount, sess.AccountID,
			fieldHash, hex.EncodeToString(sess.RefreshHash[:]),
			fieldIP, sess.IP,
			fieldUserAgent, sess.UserAgent,
			fieldCreated, sess.CreatedAt.Unix(),
			fieldExpires, sess.ExpiresAt.Unix(),
		)
		pipe.ExpireAt(ctx, key, sess.ExpiresAt)
		pipe.SAdd(ctx, s.accountKey(sess.AccountID), sess.ID)
		pipe.ExpireAt(ctx, s.accountKey(sess.AccountID), sess.ExpiresAt)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Get loads a session. Expired or missing sessions return ErrSessionNotFound.
func (s *Store) Get(ctx context.Context, sessionID string) (*Session, error) {
	vals, err := s.redis.HGetAll(ctx, s.key(sessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(vals) == 0 {
		return nil, ErrSessionNotFound
	}

	sess, err := decode(sessionID, vals)
	if err != nil {
		return nil, err
	}
	if !sess.ExpiresAt.After(s.now()) {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

// Rotate atomically replaces the refresh hash when presented matches the
// stored one and returns the owning account id. Passing next == presented
// verifies without rotating. On mismatch the session is deleted and
// ErrRefreshHashMismatch is returned, so a replayed secret also kills the
// legitimate holder's session.
//
//	Performance: one EVALSHA.
func (s *Store) Rotate(ctx context.Context, sessionID string, presented, next [32]byte) (string, error) {
	res, err := rotateRefreshLua.Run(ctx, s.redis,
		[]string{s.key(sessionID)},
		s.accountPrefix(),
		hex.EncodeToString(presented[:]),
		hex.EncodeToString(next[:]),
		s.now().Unix(),
		sessionID,
	).Slice()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(res) == 0 {
		return "", ErrSessionCorrupt
	}

	status, _ := res[0].(int64)
	var accountID string
	if len(res) > 1 {
		accountID, _ = res[1].(string)
	}

	switch status {
	case rotateOK:
		return accountID, nil
	case rotateNotFound:
		return "", ErrSessionNotFound
	case rotateExpired:
		return accountID, ErrSessionExpired
	case rotateMismatch:
		return accountID, ErrRefreshHashMismatch
	default:
		return "", ErrSessionCorrupt
	}
}

// Revoke deletes the session only when presented is its current refresh
// hash. Missing sessions are not an error. It reports whether a session was
// actually removed.
func (s *Store) Revoke(ctx context.Context, sessionID string, presented [32]byte) (bool, error) {
	n, err := revokeLua.Run(ctx, s.redis,
		[]string{s.key(sessionID)},
		s.accountPrefix(),
		hex.EncodeToString(presented[:]),
		sessionID,
	).Int64()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return n == 1, nil
}

// Delete removes a session unconditionally. Deleting a missing session is
// not an error.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	accountID, err := s.redis.HGet(ctx, s.key(sessionID), fieldAccount).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.key(sessionID))
		pipe.SRem(ctx, s.accountKey(accountID), sessionID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// DeleteAllForAccount removes every session indexed under accountID.
//
// A session saved between the SMEMBERS read and the DEL is not captured;
// it survives until its own expiry or the next call.
func (s *Store) DeleteAllForAccount(ctx context.Context, accountID string) (int, error) {
	acctKey := s.accountKey(accountID)
	ids, err := s.redis.SMembers(ctx, acctKey).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	keys := make([]string, 0, len(ids)+1)
	for _, id := range ids {
		keys = append(keys, s.key(id))
	}
	keys = append(keys, acctKey)

	n, err := s.redis.Del(ctx, keys...).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	// The index key itself is counted by DEL when present.
	if n > 0 && len(ids) > 0 {
		n--
	}
	return int(n), nil
}

// ActiveSessionIDs returns the session ids indexed under accountID.
func (s *Store) ActiveSessionIDs(ctx context.Context, accountID string) ([]string, error) {
	ids, err := s.redis.SMembers(ctx, s.accountKey(accountID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return ids, nil
}

func decode(sessionID string, vals map[string]string) (*Session, error) {
	accountID := vals[fieldAccount]
	hashHex := vals[fieldHash]
	if accountID == "" || len(hashHex) != 64 {
		return nil, ErrSessionCorrupt
	}

	sess := &Session{
		ID:        sessionID,
		AccountID: accountID,
		IP:        vals[fieldIP],
		UserAgent: vals[fieldUserAgent],
	}
	if _, err := hex.Decode(sess.RefreshHash[:], []byte(hashHex)); err != nil {
		return nil, ErrSessionCorrupt
	}

	created, err := strconv.ParseInt(vals[fieldCreated], 10, 64)
	if err != nil {
		return nil, ErrSessionCorrupt
	}
	expires, err := strconv.ParseInt(vals[fieldExpires], 10, 64)
	if err != nil {
		return nil, ErrSessionCorrupt
	}
	sess.CreatedAt = time.Unix(created, 0)
	sess.ExpiresAt = time.Unix(expires, 0)
	return sess, nil
}
