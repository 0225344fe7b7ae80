// Package cachestore caches small records (as JSON strings) with a
// fixed TTL, with purging.
//
// The moderation engine uses it for group settings, chat admin lists,
// trust snapshots, and raid state, cutting latency and load on the
// persistent store and the chat API. Includes redis and in-process
// implementations.
package cachestore

import (
	"context"
	"encoding/json"
)

type CacheStore interface {
	Get(ctx context.Context, name, key string) (string, error)
	Set(ctx context.Context, name, key string, val string) error
	Purge(ctx context.Context, name, key string) error
}

// GetJSON unmarshals a cached record into out. Returns false on a
// cache miss, leaving out untouched.
func GetJSON(ctx context.Context, cs CacheStore, name, key string, out any) (bool, error) {
	raw, err := cs.Get(ctx, name, key)
	if err != nil {
		return false, err
	}
	if raw == "" {
		return false, nil
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return false, err
	}
	return true, nil
}

func SetJSON(ctx context.Context, cs CacheStore, name, key string, val any) error {
	raw, err := json.Marshal(val)
	if err != nil {
		return err
	}
	return cs.Set(ctx, name, key, string(raw))
}
