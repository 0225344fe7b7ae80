package lockstore

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

var redisLockPrefix = "lock/"

type RedisLockStore struct {
	Client *redis.Client
}

func NewRedisLockStore(redisURL string) (*RedisLockStore, error) {
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
	return &RedisLockStore{Client: rdb}, nil
}

var _ LockStore = (*RedisLockStore)(nil)

func (s *RedisLockStore) AcquireOnce(ctx context.Context, name, key string, ttl time.Duration) (bool, error) {
	// SET NX EX is the atomic check-and-set; redis expiry enforces the TTL
	return s.Client.SetNX(ctx, redisLockPrefix+name+"/"+key, 1, ttl).Result()
}

func (s *RedisLockStore) Release(ctx context.Context, name, key string) error {
	return s.Client.Del(ctx, redisLockPrefix+name+"/"+key).Err()
}
