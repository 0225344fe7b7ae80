package gate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Oxeigns/Rak/automod/chat"
	"github.com/Oxeigns/Rak/automod/countstore"
	"github.com/Oxeigns/Rak/automod/lockstore"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const requiredChannel = int64(-555)

func TestForceJoinMember(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	client := chat.NewMockClient()
	client.AddMember(requiredChannel, chat.Member{UserID: 42, Status: chat.StatusMember})
	gate := NewForceJoin(client, requiredChannel, nil)

	assert.NoError(gate.Check(ctx, 42))
}

func TestForceJoinNonMember(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	client := chat.NewMockClient()
	gate := NewForceJoin(client, requiredChannel, nil)

	assert.ErrorIs(gate.Check(ctx, 42), ErrNotMember)

	// banned and left both count as not joined
	client.AddMember(requiredChannel, chat.Member{UserID: 43, Status: chat.StatusBanned})
	assert.ErrorIs(gate.Check(ctx, 43), ErrNotMember)
}

func TestForceJoinFailsClosed(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	client := chat.NewMockClient()
	client.AddMember(requiredChannel, chat.Member{UserID: 42, Status: chat.StatusMember})
	client.Err = errors.New("transport down")
	gate := NewForceJoin(client, requiredChannel, nil)

	// even a real member is blocked when membership can't be confirmed
	assert.ErrorIs(gate.Check(ctx, 42), ErrNotMember)
}

func TestForceJoinDisabled(t *testing.T) {
	ctx := context.Background()
	gate := NewForceJoin(chat.NewMockClient(), 0, nil)
	assert.NoError(t, gate.Check(ctx, 42))
}

func TestValidateStartup(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	client := chat.NewMockClient()
	gate := NewForceJoin(client, requiredChannel, nil)
	assert.NoError(gate.ValidateStartup(ctx))

	client.Err = errors.New("chat not found")
	assert.Error(gate.ValidateStartup(ctx))

	// disabled gate needs no channel access
	off := NewForceJoin(client, 0, nil)
	assert.NoError(off.ValidateStartup(ctx))
}

func TestRateLimiter(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	limiter := NewRateLimiter(countstore.NewMemCountStore())

	for i := 0; i < 5; i++ {
		require.NoError(t, limiter.Allow(ctx, 42, "report", 5))
	}
	assert.ErrorIs(limiter.Allow(ctx, 42, "report", 5), ErrRateLimited)

	// other users and other actions have their own budgets
	assert.NoError(limiter.Allow(ctx, 43, "report", 5))
	assert.NoError(limiter.Allow(ctx, 42, "appeal", 5))
}

func TestRateLimiterDisabled(t *testing.T) {
	ctx := context.Background()
	limiter := NewRateLimiter(countstore.NewMemCountStore())
	for i := 0; i < 100; i++ {
		require.NoError(t, limiter.Allow(ctx, 42, "report", 0))
	}
}

func TestPromptCooldown(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	limiter := NewPromptLimiter(lockstore.NewMemLockStore())

	ok, err := limiter.ShouldPrompt(ctx, 42, 50*time.Millisecond)
	require.NoError(t, err)
	assert.True(ok)

	// inside the window: suppressed
	ok, err = limiter.ShouldPrompt(ctx, 42, 50*time.Millisecond)
	require.NoError(t, err)
	assert.False(ok)

	// a different user prompts independently
	ok, err = limiter.ShouldPrompt(ctx, 43, 50*time.Millisecond)
	require.NoError(t, err)
	assert.True(ok)

	// after the window lapses the prompt fires again
	time.Sleep(60 * time.Millisecond)
	ok, err = limiter.ShouldPrompt(ctx, 42, 50*time.Millisecond)
	require.NoError(t, err)
	assert.True(ok)
}
