package kv

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	fieldVersion = "v"
	fieldData    = "d"
	casRetries   = 3
)

// RedisStore shares state between classifier nodes. Window keys are sorted
// sets scored by microsecond timestamps, versioned values are hashes.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStore wraps client; every key is namespaced with prefix.
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

// DialRedis connects to addr and verifies the connection with a PING.
func DialRedis(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: ping %s: %v", ErrUnavailable, addr, err)
	}
	return client, nil
}

func (s *RedisStore) key(k string) string {
	return s.prefix + k
}

func (s *RedisStore) Window(ctx context.Context, key, member string, at time.Time, window time.Duration) (int, error) {
	k := s.key(key)
	cutoff := at.Add(-window).UnixMicro()

	pipe := s.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, k, "-inf", strconv.FormatInt(cutoff, 10))
	pipe.ZAdd(ctx, k, redis.Z{Score: float64(at.UnixMicro()), Member: member})
	card := pipe.ZCard(ctx, k)
	pipe.PExpire(ctx, k, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("%w: window %s: %v", ErrUnavailable, key, err)
	}
	return int(card.Val()), nil
}

func (s *RedisStore) Load(ctx context.Context, key string) (Item, error) {
	vals, err := s.client.HMGet(ctx, s.key(key), fieldVersion, fieldData).Result()
	if err != nil {
		return Item{}, fmt.Errorf("%w: load %s: %v", ErrUnavailable, key, err)
	}
	if len(vals) != 2 || vals[0] == nil {
		return Item{}, nil
	}
	version, err := strconv.ParseUint(fmt.Sprint(vals[0]), 10, 64)
	if err != nil {
		return Item{}, fmt.Errorf("load %s: bad version: %w", key, err)
	}
	var data []byte
	if vals[1] != nil {
		data = []byte(fmt.Sprint(vals[1]))
	}
	return Item{Value: data, Version: version}, nil
}

func (s *RedisStore) CompareAndSwap(ctx context.Context, key string, version uint64, value []byte) (bool, error) {
	k := s.key(key)
	swapped := false
	txf := func(tx *redis.Tx) error {
		cur, err := tx.HGet(ctx, k, fieldVersion).Uint64()
		if errors.Is(err, redis.Nil) {
			cur = 0
		} else if err != nil {
			return err
		}
		if cur != version {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.HSet(ctx, k, fieldVersion, version+1, fieldData, value)
			return nil
		})
		if err == nil {
			swapped = true
		}
		return err
	}
	for i := 0; i < casRetries; i++ {
		err := s.client.Watch(ctx, txf, k)
		if errors.Is(err, redis.TxFailedErr) {
			// another writer touched the key; report a conflict to the caller
			return false, nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return false, ctx.Err()
			}
			continue
		}
		return swapped, nil
	}
	return false, fmt.Errorf("%w: compare-and-swap %s", ErrUnavailable, key)
}

func (s *RedisStore) Increment(ctx context.Context, key string, delta int64) (int64, error) {
	n, err := s.client.IncrBy(ctx, s.key(key), delta).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: increment %s: %v", ErrUnavailable, key, err)
	}
	return n, nil
}
