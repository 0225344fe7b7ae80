// Package gate holds the pre-processing checks that run before any
// event reaches the moderation pipeline: channel-membership
// enforcement (force-join), per-user command rate limiting, and
// re-prompt suppression.
package gate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Oxeigns/Rak/automod/chat"
	"github.com/Oxeigns/Rak/automod/countstore"
	"github.com/Oxeigns/Rak/automod/lockstore"
)

var (
	ErrNotMember   = errors.New("user has not joined the required channel")
	ErrRateLimited = errors.New("rate limit exceeded")
)

// ForceJoin blocks interactions from users who have not joined the
// configured channel. Membership checks fail closed: when the
// transport cannot answer, the user is treated as not joined.
type ForceJoin struct {
	Client chat.Client
	// channel users must join; zero disables the gate
	ChannelID int64
	Logger    *slog.Logger
}

func NewForceJoin(client chat.Client, channelID int64, logger *slog.Logger) *ForceJoin {
	if logger == nil {
		logger = slog.Default()
	}
	return &ForceJoin{Client: client, ChannelID: channelID, Logger: logger}
}

// ValidateStartup confirms the configured channel is reachable and the
// bot can read its member list. A misconfigured channel would silently
// lock every user out, so this failing must abort startup.
func (g *ForceJoin) ValidateStartup(ctx context.Context) error {
	if g.ChannelID == 0 {
		return nil
	}
	if _, err := g.Client.GetChatAdmins(ctx, g.ChannelID); err != nil {
		return fmt.Errorf("required channel %d is not accessible: %w", g.ChannelID, err)
	}
	return nil
}

// Check returns nil when the user may proceed, ErrNotMember when they
// must join first, and ErrNotMember (fail closed) when membership
// cannot be determined.
func (g *ForceJoin) Check(ctx context.Context, userID int64) error {
	if g.ChannelID == 0 {
		return nil
	}
	member, err := g.Client.GetChatMember(ctx, g.ChannelID, userID)
	if err != nil {
		g.Logger.Warn("membership lookup failed, blocking", "err", err, "user_id", userID, "channel_id", g.ChannelID)
		return ErrNotMember
	}
	if member == nil || !member.Status.IsJoined() {
		return ErrNotMember
	}
	return nil
}

// RateLimiter caps how often one user may run one action, counted in
// shared per-minute buckets so all bot instances enforce one budget.
type RateLimiter struct {
	Counters countstore.CountStore
}

func NewRateLimiter(counters countstore.CountStore) *RateLimiter {
	return &RateLimiter{Counters: counters}
}

// Allow consumes one slot for (user, action) against the per-minute
// limit. Counter failures fail open: a broken counter store should
// degrade rate limiting, not take down command handling.
func (l *RateLimiter) Allow(ctx context.Context, userID int64, action string, perMinute int) error {
	if perMinute <= 0 {
		return nil
	}
	key := fmt.Sprintf("%d/%s", userID, action)
	count, err := l.Counters.GetCount(ctx, "ratelimit", key, countstore.PeriodMinute)
	if err != nil {
		slog.Warn("rate limit counter read failed", "err", err, "user_id", userID, "action", action)
		return nil
	}
	if count >= perMinute {
		return ErrRateLimited
	}
	if err := l.Counters.IncrementPeriod(ctx, "ratelimit", key, countstore.PeriodMinute); err != nil {
		slog.Warn("rate limit counter write failed", "err", err, "user_id", userID, "action", action)
	}
	return nil
}

// PromptLimiter suppresses repeated join prompts to the same user:
// only the first request inside the cooldown window gets a prompt.
type PromptLimiter struct {
	Locks lockstore.LockStore
}

func NewPromptLimiter(locks lockstore.LockStore) *PromptLimiter {
	return &PromptLimiter{Locks: locks}
}

// ShouldPrompt reports whether a join prompt should be sent now. It
// claims the cooldown slot as a side effect.
func (l *PromptLimiter) ShouldPrompt(ctx context.Context, userID int64, cooldown time.Duration) (bool, error) {
	return l.Locks.AcquireOnce(ctx, "prompt", fmt.Sprintf("%d", userID), cooldown)
}
