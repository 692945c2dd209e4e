package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/md-rashed-zaman/clinicslots/services/scheduling-service/internal/availability"
	"github.com/redis/go-redis/v9"
)

// RedisStore shares snapshots between service instances.
type RedisStore struct {
	rdb    *redis.Client
	prefix string
}

func NewRedisStore(rdb *redis.Client, prefix string) *RedisStore {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "slots"
	}
	return &RedisStore{rdb: rdb, prefix: prefix}
}

func (s *RedisStore) key(k string) string {
	return s.prefix + ":" + k
}

func (s *RedisStore) Get(ctx context.Context, key string) (availability.DaySchedule, bool, error) {
	raw, err := s.rdb.Get(ctx, s.key(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return availability.DaySchedule{}, false, nil
		}
		return availability.DaySchedule{}, false, fmt.Errorf("redis get %s: %w", key, err)
	}
	var snap availability.DaySchedule
	if err := json.Unmarshal(raw, &snap); err != nil {
		return availability.DaySchedule{}, false, fmt.Errorf("unmarshal cache value for %s: %w", key, err)
	}
	return snap, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, snap availability.DaySchedule, ttl time.Duration) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal cache value for %s: %w", key, err)
	}
	if err := s.rdb.Set(ctx, s.key(key), payload, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.rdb.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("redis delete %s: %w", key, err)
	}
	return nil
}

// ReadyCheck pings Redis for /readyz.
func ReadyCheck(rdb *redis.Client) func(context.Context) error {
	return func(ctx context.Context) error {
		if rdb == nil {
			return errors.New("redis not configured")
		}
		return rdb.Ping(ctx).Err()
	}
}
