package callback

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Oxeigns/Rak/automod/lockstore"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGuardExclusion(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	guard := NewGuard(lockstore.NewMemLockStore())
	key := GuardKey("abc123", 0, 0)

	require.NoError(t, guard.Acquire(ctx, key))
	assert.ErrorIs(guard.Acquire(ctx, key), ErrAlreadyProcessing)

	require.NoError(t, guard.Release(ctx, key))
	assert.NoError(guard.Acquire(ctx, key))
}

func TestGuardKeyFallback(t *testing.T) {
	assert := assert.New(t)

	assert.Equal("n/abc", GuardKey("abc", 100, 7))
	assert.Equal("m/100/7", GuardKey("", 100, 7))
	assert.NotEqual(GuardKey("", 100, 7), GuardKey("", 100, 8))
}

func TestGuardSafetyExpiry(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	// a crashed handler's claim lapses after the safety TTL
	guard := NewGuard(lockstore.NewMemLockStore())
	guard.SafetyTTL = 10 * time.Millisecond
	key := GuardKey("", 100, 7)

	require.NoError(t, guard.Acquire(ctx, key))
	time.Sleep(20 * time.Millisecond)
	assert.NoError(guard.Acquire(ctx, key))
}

func TestGuardConcurrentAcquire(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	guard := NewGuard(lockstore.NewMemLockStore())
	key := GuardKey("race", 0, 0)

	var wg sync.WaitGroup
	var lk sync.Mutex
	wins := 0
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := guard.Acquire(ctx, key); err == nil {
				lk.Lock()
				wins++
				lk.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(1, wins)
}
