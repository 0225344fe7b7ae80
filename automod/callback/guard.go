package callback

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Oxeigns/Rak/automod/lockstore"
)

var ErrAlreadyProcessing = errors.New("callback already being processed")

// Guard serializes handler execution for one interaction: while a
// handler holds the guard, duplicate deliveries of the same callback
// are rejected instead of queued. The TTL is a crash safety net, not
// part of the protocol; handlers release explicitly.
type Guard struct {
	Locks lockstore.LockStore
	// upper bound on how long a crashed handler can wedge an interaction
	SafetyTTL time.Duration
}

func NewGuard(locks lockstore.LockStore) *Guard {
	return &Guard{Locks: locks, SafetyTTL: 30 * time.Second}
}

// GuardKey identifies one interaction: the token nonce when there is
// one, otherwise the (chat, message) pair.
func GuardKey(nonce string, chatID, messageID int64) string {
	if nonce != "" {
		return "n/" + nonce
	}
	return fmt.Sprintf("m/%d/%d", chatID, messageID)
}

// Acquire claims the interaction or fails fast with
// ErrAlreadyProcessing. It never blocks waiting for the holder.
func (g *Guard) Acquire(ctx context.Context, key string) error {
	ok, err := g.Locks.AcquireOnce(ctx, "guard", key, g.SafetyTTL)
	if err != nil {
		return fmt.Errorf("acquiring callback guard: %w", err)
	}
	if !ok {
		return ErrAlreadyProcessing
	}
	return nil
}

func (g *Guard) Release(ctx context.Context, key string) error {
	return g.Locks.Release(ctx, "guard", key)
}
