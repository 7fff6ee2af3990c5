package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ashureev/capylingo/internal/domain"
)

const (
	sessionPrefix  = "capylingo:session:"
	expectedPrefix = "capylingo:expected:"
	maxTxRetries   = 5
)

// RedisStore is a Store shared by several server processes. Sessions expire
// after ttl without writes; the expected answer lives in its own key so that
// GETDEL gives consume-once semantics.
type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
	now func() time.Time
}

// NewRedisStore connects to addr and verifies the connection.
func NewRedisStore(ctx context.Context, addr string, ttl time.Duration) (*RedisStore, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisStore{rdb: rdb, ttl: ttl, now: time.Now}, nil
}

func sessionKey(key string) string  { return sessionPrefix + key }
func expectedKey(key string) string { return expectedPrefix + key }

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, key string) (domain.Session, bool, error) {
	vals, err := s.rdb.MGet(ctx, sessionKey(key), expectedKey(key)).Result()
	if err != nil {
		return domain.Session{}, false, fmt.Errorf("redis get session: %w", err)
	}
	raw, ok := vals[0].(string)
	if !ok {
		return domain.NewSession(key), false, nil
	}
	sess, err := decode(raw)
	if err != nil {
		return domain.Session{}, false, err
	}
	if expected, ok := vals[1].(string); ok {
		sess.ExpectedAnswer = expected
	}
	return sess, true, nil
}

// Update implements Store.
func (s *RedisStore) Update(ctx context.Context, key string, patch domain.SessionPatch) (domain.Session, error) {
	sess, _, err := s.mutate(ctx, key, func(cur domain.Session, _ bool) (domain.Session, bool) {
		return domain.ApplyTransition(cur, patch), true
	}, nil)
	return sess, err
}

// CompareAndSet implements Store.
func (s *RedisStore) CompareAndSet(ctx context.Context, key string, version uint64, patch domain.SessionPatch) (domain.Session, bool, error) {
	return s.mutate(ctx, key, func(cur domain.Session, _ bool) (domain.Session, bool) {
		if cur.Version != version {
			return cur, false
		}
		return domain.ApplyTransition(cur, patch), true
	}, nil)
}

// Clear implements Store.
func (s *RedisStore) Clear(ctx context.Context, key string) error {
	_, _, err := s.mutate(ctx, key, func(cur domain.Session, found bool) (domain.Session, bool) {
		if !found {
			return cur, false
		}
		fresh := domain.NewSession(key)
		fresh.Version = cur.Version
		return fresh, true
	}, func(pipe redis.Pipeliner) {
		pipe.Del(ctx, expectedKey(key))
	})
	return err
}

// ArmExpectedAnswer implements Store.
func (s *RedisStore) ArmExpectedAnswer(ctx context.Context, key, value string) error {
	_, _, err := s.mutate(ctx, key, func(cur domain.Session, _ bool) (domain.Session, bool) {
		return cur, true
	}, func(pipe redis.Pipeliner) {
		pipe.Set(ctx, expectedKey(key), value, s.ttl)
	})
	return err
}

// ConsumeExpectedAnswer implements Store.
func (s *RedisStore) ConsumeExpectedAnswer(ctx context.Context, key string) (string, bool, error) {
	v, err := s.rdb.GetDel(ctx, expectedKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis consume expected answer: %w", err)
	}
	// Bump the version so generation started before this answer cannot commit.
	if _, _, err := s.mutate(ctx, key, func(cur domain.Session, found bool) (domain.Session, bool) {
		return cur, found
	}, nil); err != nil {
		return "", false, err
	}
	return v, true, nil
}

// Sweep implements Store. Redis expires idle sessions by TTL, so there is nothing to do.
func (s *RedisStore) Sweep(context.Context, time.Duration) ([]string, error) {
	return nil, nil
}

// Ping verifies the connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// Close closes the client.
func (s *RedisStore) Close() error {
	return s.rdb.Close()
}

// mutate runs fn on the current session inside WATCH/MULTI and writes the result
// when fn asks for it. extra adds commands to the same transaction.
func (s *RedisStore) mutate(
	ctx context.Context,
	key string,
	fn func(cur domain.Session, found bool) (domain.Session, bool),
	extra func(pipe redis.Pipeliner),
) (domain.Session, bool, error) {
	sk := sessionKey(key)
	var result domain.Session
	var wrote bool

	txf := func(tx *redis.Tx) error {
		cur := domain.NewSession(key)
		found := false
		raw, err := tx.Get(ctx, sk).Result()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return err
		default:
			if cur, err = decode(raw); err != nil {
				return err
			}
			found = true
		}

		next, write := fn(cur, found)
		if !write {
			result, wrote = cur, false
			return nil
		}
		next.Version = cur.Version + 1
		next.UpdatedAt = s.now()
		next.ExpectedAnswer = ""
		payload, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("encode session: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, sk, payload, s.ttl)
			pipe.Expire(ctx, expectedKey(key), s.ttl)
			if extra != nil {
				extra(pipe)
			}
			return nil
		})
		if err != nil {
			return err
		}
		result, wrote = next, true
		return nil
	}

	for i := 0; i < maxTxRetries; i++ {
		err := s.rdb.Watch(ctx, txf, sk)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return domain.Session{}, false, fmt.Errorf("redis update session: %w", err)
		}
		return result, wrote, nil
	}
	return domain.Session{}, false, fmt.Errorf("redis update session %s: too much contention", key)
}

func decode(raw string) (domain.Session, error) {
	var sess domain.Session
	if err := json.Unmarshal([]byte(raw), &sess); err != nil {
		return domain.Session{}, fmt.Errorf("decode session: %w", err)
	}
	return sess, nil
}

var _ Store = (*RedisStore)(nil)
