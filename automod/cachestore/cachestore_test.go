package cachestore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMemCacheStoreBasics(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	cs := NewMemCacheStore(10, time.Minute)

	v, err := cs.Get(ctx, "settings", "group1")
	assert.NoError(err)
	assert.Equal("", v)

	assert.NoError(cs.Set(ctx, "settings", "group1", `{"max_warnings":3}`))
	v, err = cs.Get(ctx, "settings", "group1")
	assert.NoError(err)
	assert.Equal(`{"max_warnings":3}`, v)

	assert.NoError(cs.Purge(ctx, "settings", "group1"))
	v, err = cs.Get(ctx, "settings", "group1")
	assert.NoError(err)
	assert.Equal("", v)
}

func TestCacheStoreJSON(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	type snapshot struct {
		Score     float64   `json:"score"`
		UpdatedAt time.Time `json:"updated_at"`
	}

	cs := NewMemCacheStore(10, time.Minute)

	var out snapshot
	hit, err := GetJSON(ctx, cs, "trust", "42", &out)
	assert.NoError(err)
	assert.False(hit)

	in := snapshot{Score: 46.6, UpdatedAt: time.Now().UTC().Truncate(time.Second)}
	assert.NoError(SetJSON(ctx, cs, "trust", "42", in))

	hit, err = GetJSON(ctx, cs, "trust", "42", &out)
	assert.NoError(err)
	assert.True(hit)
	assert.Equal(in.Score, out.Score)
	assert.True(in.UpdatedAt.Equal(out.UpdatedAt))
}
