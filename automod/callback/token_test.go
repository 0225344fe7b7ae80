package callback

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Oxeigns/Rak/automod/lockstore"
	"github.com/Oxeigns/Rak/automod/setstore"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func testService(t *testing.T) *Service {
	svc, err := NewService(testSecret, lockstore.NewMemLockStore(), nil, 5*time.Minute)
	require.NoError(t, err)
	return svc
}

func TestIssueVerifyConsume(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	svc := testService(t)

	raw, err := svc.Issue("approve", 42, 100, 7)
	require.NoError(t, err)
	assert.True(strings.HasPrefix(raw, "v1|approve|42|100|7|"))

	tok, err := svc.VerifyAndConsume(ctx, raw, 42)
	require.NoError(t, err)
	assert.Equal("approve", tok.Action)
	assert.Equal(int64(42), tok.OwnerID)
	assert.Equal(int64(100), tok.ChatID)
	assert.Equal(int64(7), tok.MessageID)

	// second presentation of the same token
	_, err = svc.VerifyAndConsume(ctx, raw, 42)
	assert.ErrorIs(err, ErrAlreadyConsumed)
}

func TestVerifyRejectsTampering(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	svc := testService(t)

	raw, err := svc.Issue("approve", 42, 100, 7)
	require.NoError(t, err)
	parts := strings.Split(raw, "|")
	require.Len(t, parts, tokenFields)

	// flipping any signed field invalidates the signature
	for i := 1; i < tokenFields-1; i++ {
		mangled := make([]string, len(parts))
		copy(mangled, parts)
		mangled[i] = mangled[i] + "0"
		if i == 1 {
			mangled[i] = "ban" // action swap, not just suffix noise
		}
		_, err := svc.VerifyAndConsume(ctx, strings.Join(mangled, "|"), 42)
		assert.ErrorIs(err, ErrTamperedSignature, "field %d", i)
	}

	// and so does touching the signature itself
	mangled := make([]string, len(parts))
	copy(mangled, parts)
	mangled[tokenFields-1] = "AAAA" + mangled[tokenFields-1][4:]
	_, err = svc.VerifyAndConsume(ctx, strings.Join(mangled, "|"), 42)
	assert.ErrorIs(err, ErrTamperedSignature)

	// an untouched token still verifies after all that
	_, err = svc.VerifyAndConsume(ctx, raw, 42)
	assert.NoError(err)
}

func TestVerifyRejectsMalformed(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	svc := testService(t)

	for _, raw := range []string{"", "v1", "v1|a|b", "v2|approve|1|2|3|4|n|sig"} {
		_, err := svc.VerifyAndConsume(ctx, raw, 42)
		assert.ErrorIs(err, ErrMalformed, "input %q", raw)
	}
}

func TestVerifyExpiry(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	svc := testService(t)

	raw, err := svc.Issue("approve", 42, 100, 7)
	require.NoError(t, err)

	svc.now = func() time.Time { return time.Now().Add(6 * time.Minute) }
	_, err = svc.VerifyAndConsume(ctx, raw, 42)
	assert.ErrorIs(err, ErrExpired)
}

func TestVerifyPerChatTTL(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	svc := testService(t)

	// chat 100 runs a 1-minute token lifetime; everyone else keeps the
	// service default
	svc.TTLForChat = func(ctx context.Context, chatID int64) time.Duration {
		if chatID == 100 {
			return time.Minute
		}
		return 0
	}

	short, err := svc.Issue("approve", 42, 100, 7)
	require.NoError(t, err)
	long, err := svc.Issue("approve", 42, 200, 7)
	require.NoError(t, err)

	svc.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	_, err = svc.VerifyAndConsume(ctx, short, 42)
	assert.ErrorIs(err, ErrExpired)
	_, err = svc.VerifyAndConsume(ctx, long, 42)
	assert.NoError(err)
}

func TestVerifyOwnerBinding(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	svc := testService(t)

	raw, err := svc.Issue("approve", 42, 100, 7)
	require.NoError(t, err)

	// someone else's press: rejected, and the token stays live
	_, err = svc.VerifyAndConsume(ctx, raw, 99)
	assert.ErrorIs(err, ErrOwnerMismatch)
	_, err = svc.VerifyAndConsume(ctx, raw, 42)
	assert.NoError(err)
}

func TestShareableActionSkipsOwnerCheck(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	sets := setstore.NewMemSetStore()
	require.NoError(t, sets.AddToSet(ctx, ShareableActionsSet, []string{"report"}))
	svc, err := NewService(testSecret, lockstore.NewMemLockStore(), sets, 5*time.Minute)
	require.NoError(t, err)

	raw, err := svc.Issue("report", 42, 100, 7)
	require.NoError(t, err)
	tok, err := svc.VerifyAndConsume(ctx, raw, 99)
	require.NoError(t, err)
	assert.Equal("report", tok.Action)

	// shareable still means single-use
	_, err = svc.VerifyAndConsume(ctx, raw, 42)
	assert.ErrorIs(err, ErrAlreadyConsumed)
}

func TestConcurrentConsumption(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	svc := testService(t)

	raw, err := svc.Issue("approve", 42, 100, 7)
	require.NoError(t, err)

	// many racing presentations: exactly one wins
	var wg sync.WaitGroup
	var lk sync.Mutex
	wins := 0
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.VerifyAndConsume(ctx, raw, 42); err == nil {
				lk.Lock()
				wins++
				lk.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(1, wins)
}

func TestSecretTooShort(t *testing.T) {
	_, err := NewService("short", lockstore.NewMemLockStore(), nil, time.Minute)
	assert.Error(t, err)
}
