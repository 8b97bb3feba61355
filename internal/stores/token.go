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

const (
	tokenRecordVersionV1 = 1
	tokenConsumeRetries  = 8
)

var (
	ErrTokenNotFound         = errors.New("token record not found")
	ErrTokenUsed             = errors.New("token record already used")
	ErrTokenExpired          = errors.New("token record expired")
	ErrTokenMismatch         = errors.New("token secret mismatch")
	ErrTokenAttemptsExceeded = errors.New("token attempts exceeded")
	ErrTokenRedisUnavailable = errors.New("token redis unavailable")
)

// TokenState is the lifecycle position of a stored token record.
type TokenState uint8

const (
	TokenActive TokenState = iota + 1
	TokenUsed
	TokenBurned
)

func (s TokenState) String() string {
	switch s {
	case TokenActive:
		return "active"
	case TokenUsed:
		return "used"
	case TokenBurned:
		return "burned"
	default:
		return "unknown"
	}
}

// TokenRecord is the persisted form of a pending single-use token. Times are
// unix milliseconds.
type TokenRecord struct {
	AccountID  string
	SecretHash [32]byte
	CreatedAt  int64
	ExpiresAt  int64
	Attempts   uint16
	State      TokenState
}

// TokenStore keeps at most one record per (kind, account). Records outlive
// their logical expiry by the retention window so that late submissions can
// be told apart from unknown ones.
type TokenStore struct {
	redis     redis.UniversalClient
	prefix    string
	retention time.Duration
}

func NewTokenStore(redisClient redis.UniversalClient, prefix string, retention time.Duration) *TokenStore {
	if prefix == "" {
		prefix = "agt"
	}
	if retention < 0 {
		retention = 0
	}
	return &TokenStore{
		redis:     redisClient,
		prefix:    prefix,
		retention: retention,
	}
}

func (s *TokenStore) key(kind, accountID string) string {
	return s.prefix + ":" + kind + ":" + accountID
}

// Save overwrites whatever record the account holds for kind.
func (s *TokenStore) Save(ctx context.Context, kind string, record *TokenRecord, now time.Time) error {
	if record == nil || record.AccountID == "" {
		return errors.New("token record requires account id")
	}
	encoded, err := encodeTokenRecord(record)
	if err != nil {
		return err
	}

	ttl := time.UnixMilli(record.ExpiresAt).Sub(now) + s.retention
	if ttl <= 0 {
		ttl = time.Second
	}

	if err := s.redis.Set(ctx, s.key(kind, record.AccountID), encoded, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrTokenRedisUnavailable, err)
	}
	return nil
}

// Consume checks providedHash against the stored record and, on match, marks
// it used inside the same WATCH transaction that read it. A concurrent Save
// or Consume on the key aborts the transaction and the check is retried
// against the fresh record.
func (s *TokenStore) Consume(
	ctx context.Context,
	kind, accountID string,
	providedHash [32]byte,
	now time.Time,
	maxAttempts int,
) (*TokenRecord, error) {
	key := s.key(kind, accountID)

	for i := 0; i < tokenConsumeRetries; i++ {
		var matched *TokenRecord

		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}

			record, err := decodeTokenRecord(data)
			if err != nil {
				return err
			}

			switch record.State {
			case TokenUsed:
				return ErrTokenUsed
			case TokenBurned:
				return ErrTokenAttemptsExceeded
			}

			if now.UnixMilli() > record.ExpiresAt {
				return ErrTokenExpired
			}

			if subtle.ConstantTimeCompare(record.SecretHash[:], providedHash[:]) != 1 {
				record.Attempts++
				result := ErrTokenMismatch
				if maxAttempts > 0 && int(record.Attempts) >= maxAttempts {
					record.State = TokenBurned
					result = ErrTokenAttemptsExceeded
				}
				if err := s.rewrite(ctx, tx, key, record); err != nil {
					return err
				}
				return result
			}

			record.State = TokenUsed
			if err := s.rewrite(ctx, tx, key, record); err != nil {
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
			case errors.Is(err, redis.Nil):
				return nil, ErrTokenNotFound
			case errors.Is(err, ErrTokenUsed),
				errors.Is(err, ErrTokenExpired),
				errors.Is(err, ErrTokenMismatch),
				errors.Is(err, ErrTokenAttemptsExceeded):
				return nil, err
			default:
				return nil, fmt.Errorf("%w: %v", ErrTokenRedisUnavailable, err)
			}
		}

		return matched, nil
	}

	return nil, fmt.Errorf("%w: consume contention", ErrTokenRedisUnavailable)
}

func (s *TokenStore) rewrite(ctx context.Context, tx *redis.Tx, key string, record *TokenRecord) error {
	encoded, err := encodeTokenRecord(record)
	if err != nil {
		return err
	}
	_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, key, encoded, redis.KeepTTL)
		return nil
	})
	return err
}

// Get returns the stored record without touching it.
func (s *TokenStore) Get(ctx context.Context, kind, accountID string) (*TokenRecord, error) {
	data, err := s.redis.Get(ctx, s.key(kind, accountID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrTokenNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenRedisUnavailable, err)
	}
	return decodeTokenRecord(data)
}

// Delete drops the record for kind. Missing keys are not an error.
func (s *TokenStore) Delete(ctx context.Context, kind, accountID string) error {
	if err := s.redis.Del(ctx, s.key(kind, accountID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrTokenRedisUnavailable, err)
	}
	return nil
}

func encodeTokenRecord(record *TokenRecord) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(tokenRecordVersionV1)
	buf.WriteByte(byte(record.State))

	if err := binary.Write(&buf, binary.BigEndian, record.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, record.CreatedAt); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, record.ExpiresAt); err != nil {
		return nil, err
	}

	if len(record.AccountID) > 65535 {
		return nil, errors.New("token record account id too long")
	}
	if err := binary.Write(&buf, binary.BigEndian, uint16(len(record.AccountID))); err != nil {
		return nil, err
	}
	buf.WriteString(record.AccountID)
	buf.Write(record.SecretHash[:])

	return buf.Bytes(), nil
}

func decodeTokenRecord(data []byte) (*TokenRecord, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != tokenRecordVersionV1 {
		return nil, errors.New("invalid token record version")
	}

	state, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	record := &TokenRecord{State: TokenState(state)}
	if record.State < TokenActive || record.State > TokenBurned {
		return nil, errors.New("invalid token record state")
	}

	if err := binary.Read(reader, binary.BigEndian, &record.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &record.CreatedAt); err != nil {
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
