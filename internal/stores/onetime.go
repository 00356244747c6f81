package stores

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
)

const recordVersionV1 = 1

// Purpose separates token namespaces so a reset token can never verify an
// email and vice versa.
type Purpose byte

const (
	PurposePasswordReset     Purpose = 1
	PurposeEmailVerification Purpose = 2
)

func (p Purpose) String() string {
	switch p {
	case PurposePasswordReset:
		return "reset"
	case PurposeEmailVerification:
		return "verify"
	default:
		return "unknown"
	}
}

var (
	ErrTokenNotFound         = errors.New("one-time token not found")
	ErrTokenSecretMismatch   = errors.New("one-time token secret mismatch")
	ErrTokenAttemptsExceeded = errors.New("one-time token attempts exceeded")
	ErrTokenRedisUnavailable = errors.New("one-time token redis unavailable")
)

// Record is the server-side half of a single-use token.
type Record struct {
	AccountID  string
	SecretHash [32]byte
	ExpiresAt  int64
	Attempts   uint16
	Purpose    Purpose
}

// OneTimeStore keeps hashed single-use tokens in Redis.
type OneTimeStore struct {
	redis       redis.UniversalClient
	prefix      string
	maxAttempts int
	now         func() time.Time
}

// NewOneTimeStore creates a store. maxAttempts bounds wrong-secret guesses
// against one token id before the record is destroyed.
func NewOneTimeStore(client redis.UniversalClient, prefix string, maxAttempts int) *OneTimeStore {
	if prefix == "" {
		prefix = "hot"
	}
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	return &OneTimeStore{redis: client, prefix: prefix, maxAttempts: maxAttempts, now: time.Now}
}

func (s *OneTimeStore) key(purpose Purpose, tokenID string) string {
	return s.prefix + ":" + purpose.String() + ":" + tokenID
}

func (s *OneTimeStore) accountKey(purpose Purpose, accountID string) string {
	return s.prefix + ":" + purpose.String() + ":a:" + accountID
}

// Save stores record under tokenID. Any earlier outstanding token of the
// same purpose for the same account is invalidated.
func (s *OneTimeStore) Save(ctx context.Context, tokenID string, record *Record, ttl time.Duration) error {
	if record == nil || record.AccountID == "" || tokenID == "" || ttl <= 0 {
		return errors.New("invalid one-time token record")
	}
	if record.ExpiresAt == 0 {
		record.ExpiresAt = s.now().Add(ttl).Unix()
	}
	encoded, err := encodeRecord(record)
	if err != nil {
		return err
	}

	idxKey := s.accountKey(record.Purpose, record.AccountID)
	previous, err := s.redis.Get(ctx, idxKey).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("%w: %v", ErrTokenRedisUnavailable, err)
	}

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if previous != "" && previous != tokenID {
			pipe.Del(ctx, s.key(record.Purpose, previous))
		}
		pipe.Set(ctx, s.key(record.Purpose, tokenID), encoded, ttl)
		pipe.Set(ctx, idxKey, tokenID, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTokenRedisUnavailable, err)
	}
	return nil
}

// Consume validates provided against the stored hash and deletes the record
// on success. Wrong secrets count toward the attempt limit.
func (s *OneTimeStore) Consume(ctx context.Context, purpose Purpose, tokenID string, provided [32]byte) (*Record, error) {
	const maxRetries = 4
	key := s.key(purpose, tokenID)

	for i := 0; i < maxRetries; i++ {
		var matched *Record

		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				if errors.Is(err, redis.Nil) {
					return ErrTokenNotFound
				}
				return err
			}

			record, err := decodeRecord(data)
			if err != nil || record.Purpose != purpose {
				_, _ = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				})
				return ErrTokenNotFound
			}

			now := s.now()
			if now.Unix() > record.ExpiresAt {
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				})
				if err != nil {
					return err
				}
				return ErrTokenNotFound
			}

			if subtle.ConstantTimeCompare(record.SecretHash[:], provided[:]) != 1 {
				record.Attempts++
				if int(record.Attempts) >= s.maxAttempts {
					_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
						pipe.Del(ctx, key)
						return nil
					})
					if err != nil {
						return err
					}
					return ErrTokenAttemptsExceeded
				}

				updated, err := encodeRecord(record)
				if err != nil {
					return err
				}
				ttl := time.Unix(record.ExpiresAt, 0).Sub(now)
				if ttl < time.Second {
					ttl = time.Second
				}
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Set(ctx, key, updated, ttl)
					return nil
				})
				if err != nil {
					return err
				}
				return ErrTokenSecretMismatch
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Del(ctx, key)
				pipe.Del(ctx, s.accountKey(purpose, record.AccountID))
				return nil
			})
			if err != nil {
				return err
			}

			matched = record
			return nil
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			switch {
			case errors.Is(err, ErrTokenNotFound), errors.Is(err, ErrTokenSecretMismatch), errors.Is(err, ErrTokenAttemptsExceeded):
				return nil, err
			default:
				return nil, fmt.Errorf("%w: %v", ErrTokenRedisUnavailable, err)
			}
		}

		return matched, nil
	}

	return nil, ErrTokenNotFound
}

// DeleteForAccount drops the outstanding token of purpose for accountID, if any.
func (s *OneTimeStore) DeleteForAccount(ctx context.Context, purpose Purpose, accountID string) error {
	idxKey := s.accountKey(purpose, accountID)
	tokenID, err := s.redis.Get(ctx, idxKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrTokenRedisUnavailable, err)
	}
	if err := s.redis.Del(ctx, s.key(purpose, tokenID), idxKey).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrTokenRedisUnavailable, err)
	}
	return nil
}

func encodeRecord(record *Record) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(recordVersionV1)
	buf.WriteByte(byte(record.Purpose))

	if err := binary.Write(&buf, binary.BigEndian, record.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, record.ExpiresAt); err != nil {
		return nil, err
	}

	if len(record.AccountID) > 65535 {
		return nil, errors.New("one-time record account id too long")
	}
	if err := binary.Write(&buf, binary.BigEndian, uint16(len(record.AccountID))); err != nil {
		return nil, err
	}
	buf.WriteString(record.AccountID)
	buf.Write(record.SecretHash[:])

	return buf.Bytes(), nil
}

func decodeRecord(data []byte) (*Record, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != recordVersionV1 {
		return nil, errors.New("invalid one-time record version")
	}

	purpose, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}

	record := &Record{Purpose: Purpose(purpose)}

	if err := binary.Read(reader, binary.BigEndian, &record.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &record.ExpiresAt); err != nil {
		return nil, err
	}

	var idLen uint16
	if err := binary.Read(reader, binary.BigEndian, &idLen); err != nil {
		return nil, err
	}
	accountID := make([]byte, idLen)
	if _, err := io.ReadFull(reader, accountID); err != nil {
		return nil, err
	}
	record.AccountID = string(accountID)

	if _, err := io.ReadFull(reader, record.SecretHash[:]); err != nil {
		return nil, err
	}

	return record, nil
}
