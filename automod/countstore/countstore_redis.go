package countstore

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	redisCountPrefix    = "count/"
	redisDistinctPrefix = "distinct/"
	redisWindowPrefix   = "window/"
)

type RedisCountStore struct {
	Client *redis.Client
}

func NewRedisCountStore(redisURL string) (*RedisCountStore, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opt)
	// check redis connection
	_, err = rdb.Ping(context.TODO()).Result()
	if err != nil {
		return nil, err
	}
	return &RedisCountStore{Client: rdb}, nil
}

var _ CountStore = (*RedisCountStore)(nil)

func (s *RedisCountStore) GetCount(ctx context.Context, name, val, period string) (int, error) {
	key := redisCountPrefix + periodBucket(name, val, period)
	c, err := s.Client.Get(ctx, key).Int()
	if err == redis.Nil {
		return 0, nil
	} else if err != nil {
		return 0, err
	}
	return c, nil
}

func (s *RedisCountStore) Increment(ctx context.Context, name, val string) error {

	var key string

	// increment multiple period buckets in a single redis round-trip
	multi := s.Client.Pipeline()

	key = redisCountPrefix + periodBucket(name, val, PeriodMinute)
	multi.Incr(ctx, key)
	multi.Expire(ctx, key, 2*time.Minute)

	key = redisCountPrefix + periodBucket(name, val, PeriodHour)
	multi.Incr(ctx, key)
	multi.Expire(ctx, key, 2*time.Hour)

	key = redisCountPrefix + periodBucket(name, val, PeriodDay)
	multi.Incr(ctx, key)
	multi.Expire(ctx, key, 48*time.Hour)

	key = redisCountPrefix + periodBucket(name, val, PeriodTotal)
	multi.Incr(ctx, key)
	// no expiration for total

	_, err := multi.Exec(ctx)
	return err
}

func (s *RedisCountStore) IncrementPeriod(ctx context.Context, name, val, period string) error {
	key := redisCountPrefix + periodBucket(name, val, period)
	multi := s.Client.Pipeline()
	multi.Incr(ctx, key)
	switch period {
	case PeriodMinute:
		multi.Expire(ctx, key, 2*time.Minute)
	case PeriodHour:
		multi.Expire(ctx, key, 2*time.Hour)
	case PeriodDay:
		multi.Expire(ctx, key, 48*time.Hour)
	}
	_, err := multi.Exec(ctx)
	return err
}

func (s *RedisCountStore) GetCountDistinct(ctx context.Context, name, val, period string) (int, error) {
	key := redisDistinctPrefix + periodBucket(name, val, period)
	c, err := s.Client.PFCount(ctx, key).Result()
	if err == redis.Nil {
		return 0, nil
	} else if err != nil {
		return 0, err
	}
	return int(c), nil
}

func (s *RedisCountStore) IncrementDistinct(ctx context.Context, name, bucket, val string) error {

	var key string

	multi := s.Client.Pipeline()

	key = redisDistinctPrefix + periodBucket(name, bucket, PeriodHour)
	multi.PFAdd(ctx, key, val)
	multi.Expire(ctx, key, 2*time.Hour)

	key = redisDistinctPrefix + periodBucket(name, bucket, PeriodDay)
	multi.PFAdd(ctx, key, val)
	multi.Expire(ctx, key, 48*time.Hour)

	key = redisDistinctPrefix + periodBucket(name, bucket, PeriodTotal)
	multi.PFAdd(ctx, key, val)
	// no expiration for total

	_, err := multi.Exec(ctx)
	return err
}

// Sliding windows are sorted sets scored by unix nanoseconds. Members
// carry the same nanosecond stamp, so two events landing in the same
// nanosecond for the same key would collapse; at chat-join rates that
// collision is not a practical concern.
func (s *RedisCountStore) AddToWindow(ctx context.Context, name, val string, window time.Duration) (int, error) {
	key := redisWindowPrefix + windowBucket(name, val)
	now := time.Now()
	cutoff := now.Add(-window).UnixNano()

	multi := s.Client.Pipeline()
	multi.ZRemRangeByScore(ctx, key, "-inf", strconv.FormatInt(cutoff, 10))
	multi.ZAdd(ctx, key, redis.Z{
		Score:  float64(now.UnixNano()),
		Member: strconv.FormatInt(now.UnixNano(), 10),
	})
	card := multi.ZCard(ctx, key)
	multi.Expire(ctx, key, 2*window)
	if _, err := multi.Exec(ctx); err != nil {
		return 0, fmt.Errorf("recording window event: %w", err)
	}
	return int(card.Val()), nil
}

func (s *RedisCountStore) GetWindowCount(ctx context.Context, name, val string, window time.Duration) (int, error) {
	key := redisWindowPrefix + windowBucket(name, val)
	cutoff := time.Now().Add(-window).UnixNano()
	c, err := s.Client.ZCount(ctx, key, strconv.FormatInt(cutoff, 10), "+inf").Result()
	if err == redis.Nil {
		return 0, nil
	} else if err != nil {
		return 0, err
	}
	return int(c), nil
}
