package lockstore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMemLockStoreBasics(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	ls := NewMemLockStore()

	ok, err := ls.AcquireOnce(ctx, "nonce", "abc", time.Minute)
	assert.NoError(err)
	assert.True(ok)

	ok, err = ls.AcquireOnce(ctx, "nonce", "abc", time.Minute)
	assert.NoError(err)
	assert.False(ok)

	// unrelated key is independent
	ok, err = ls.AcquireOnce(ctx, "nonce", "def", time.Minute)
	assert.NoError(err)
	assert.True(ok)

	assert.NoError(ls.Release(ctx, "nonce", "abc"))
	ok, err = ls.AcquireOnce(ctx, "nonce", "abc", time.Minute)
	assert.NoError(err)
	assert.True(ok)
}

func TestMemLockStoreExpiry(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	ls := NewMemLockStore()

	ok, err := ls.AcquireOnce(ctx, "cb", "msg1", 10*time.Millisecond)
	assert.NoError(err)
	assert.True(ok)

	ok, err = ls.AcquireOnce(ctx, "cb", "msg1", 10*time.Millisecond)
	assert.NoError(err)
	assert.False(ok)

	time.Sleep(20 * time.Millisecond)

	ok, err = ls.AcquireOnce(ctx, "cb", "msg1", 10*time.Millisecond)
	assert.NoError(err)
	assert.True(ok)

	// releasing an already-expired claim is fine
	assert.NoError(ls.Release(ctx, "cb", "msg1"))
}

func TestMemLockStoreRace(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	ls := NewMemLockStore()

	// many goroutines race on one key; exactly one may win
	const n = 32
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			ok, err := ls.AcquireOnce(ctx, "nonce", "contested", time.Minute)
			assert.NoError(err)
			if ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(1, wins)
}
