package throttle

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisKeyPrefix = "gatekeeper:throttle:"

	fieldCount        = "failed_count"
	fieldFirstFailure = "first_failure"
	fieldBlockedUntil = "blocked_until"

	// redisMaxRetries bounds optimistic transaction retries under contention.
	redisMaxRetries = 32
)

// ErrContention is returned when a failure could not be recorded because
// the key kept changing underneath the transaction.
var ErrContention = errors.New("throttle record contended")

// RedisStore keeps one hash per key so several API processes share counters.
// Timestamps are unix milliseconds.
type RedisStore struct {
	client redis.UniversalClient
}

// NewRedisStore returns a store using client.
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

// Get returns the record for key.
func (s *RedisStore) Get(ctx context.Context, key string) (Record, bool, error) {
	data, err := s.client.HGetAll(ctx, redisKeyPrefix+key).Result()
	if err != nil {
		return Record{}, false, err
	}
	rec, ok := decodeRecord(data)
	return rec, ok, nil
}

// RegisterFailure applies one failure inside a WATCH/MULTI transaction,
// retrying when another process touched the key first.
func (s *RedisStore) RegisterFailure(ctx context.Context, key string, now time.Time, p Policy) (Record, error) {
	redisKey := redisKeyPrefix + key
	var result Record

	txf := func(tx *redis.Tx) error {
		data, err := tx.HGetAll(ctx, redisKey).Result()
		if err != nil {
			return err
		}
		rec, ok := decodeRecord(data)
		rec = next(rec, ok, now, p)

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, redisKey,
				fieldCount, rec.Count,
				fieldFirstFailure, rec.FirstFailure.UnixMilli(),
				fieldBlockedUntil, unixMilliOrZero(rec.BlockedUntil),
			)
			pipe.PExpire(ctx, redisKey, recordTTL(rec, now, p))
			return nil
		})
		if err != nil {
			return err
		}
		result = rec
		return nil
	}

	for range redisMaxRetries {
		err := s.client.Watch(ctx, txf, redisKey)
		if err == nil {
			return result, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return Record{}, err
	}
	return Record{}, ErrContention
}

// Delete removes key.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, redisKeyPrefix+key).Err()
}

// recordTTL keeps the hash alive until both its window and any block are
// over, so Redis expires stale keys on its own.
func recordTTL(rec Record, now time.Time, p Policy) time.Duration {
	ttl := rec.FirstFailure.Add(p.Window).Sub(now)
	if rec.Blocked(now) {
		if until := rec.BlockedUntil.Sub(now); until > ttl {
			ttl = until
		}
	}
	if ttl < time.Second {
		ttl = time.Second
	}
	return ttl + time.Second
}

func decodeRecord(data map[string]string) (Record, bool) {
	if len(data) == 0 {
		return Record{}, false
	}
	var rec Record
	if raw, ok := data[fieldCount]; ok {
		if n, err := strconv.Atoi(raw); err == nil {
			rec.Count = n
		}
	}
	if ms := parseMilli(data[fieldFirstFailure]); ms > 0 {
		rec.FirstFailure = time.UnixMilli(ms)
	}
	if ms := parseMilli(data[fieldBlockedUntil]); ms > 0 {
		rec.BlockedUntil = time.UnixMilli(ms)
	}
	return rec, true
}

func parseMilli(raw string) int64 {
	if raw == "" {
		return 0
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func unixMilliOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}
