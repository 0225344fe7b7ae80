// Package trust maintains the per-user behavioral score feeding risk
// scoring and trust-gated enforcement.
//
// Scores live in the persistent store with a cache in front; updates
// for the same user are serialized so the decay/clamp sequence is
// applied in arrival order. Concurrent updates for different users
// proceed in parallel.
package trust

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Oxeigns/Rak/automod/cachestore"
	"github.com/Oxeigns/Rak/automod/store"

	"github.com/puzpuzpuz/xsync/v3"
)

// update rule coefficients, shared across deployments
const (
	BonusPositive    = 0.8
	PenaltyViolation = 5.0
	PenaltyMute      = 8.0
	PenaltyBan       = 15.0

	ScoreMin = 0.0
	ScoreMax = 100.0
)

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

func (s Severity) multiplier() float64 {
	switch s {
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 5
	default:
		return 1
	}
}

// ScoreStore is the slice of the persistent store the engine needs.
type ScoreStore interface {
	GetTrustScore(ctx context.Context, userID, groupID int64) (*store.TrustScore, error)
	PutTrustScore(ctx context.Context, rec *store.TrustScore) error
}

type Config struct {
	// neutral starting point and decay target
	Baseline float64
	// decay applies only after this many idle days
	DecayGraceDays int
	// points moved toward baseline per full idle week past the grace period
	DecayPerWeek float64
	// when false, scores are global and the group dimension collapses to zero
	PerGroup bool
}

func DefaultConfig() Config {
	return Config{
		Baseline:       50,
		DecayGraceDays: 7,
		DecayPerWeek:   2,
		PerGroup:       false,
	}
}

// Delta is the event summary applied to a score in one update.
type Delta struct {
	Positive   int
	Violations int
	Mutes      int
	Bans       int
	// scales the violation penalty; zero value means low
	Severity Severity
}

type Update struct {
	Old    float64
	New    float64
	Change float64
}

type Engine struct {
	Store  ScoreStore
	Cache  cachestore.CacheStore
	Logger *slog.Logger
	Config Config

	// GroupConfig resolves per-group baseline and decay overrides;
	// nil (or a false second return) keeps Config for every group
	GroupConfig func(ctx context.Context, groupID int64) (Config, bool)

	// per-(user, group) ordering domain for writes
	locks *xsync.MapOf[string, *sync.Mutex]
	// injectable clock for decay tests
	now func() time.Time
}

func NewEngine(st ScoreStore, cache cachestore.CacheStore, logger *slog.Logger, config Config) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		Store:  st,
		Cache:  cache,
		Logger: logger,
		Config: config,
		locks:  xsync.NewMapOf[string, *sync.Mutex](),
		now:    time.Now,
	}
}

func (e *Engine) scopeGroup(groupID int64) int64 {
	if !e.Config.PerGroup {
		return 0
	}
	return groupID
}

// configFor resolves the tuning for one group. Overrides apply to the
// event's group even when scores themselves are scoped globally.
func (e *Engine) configFor(ctx context.Context, groupID int64) Config {
	if e.GroupConfig != nil {
		if cfg, ok := e.GroupConfig(ctx, groupID); ok {
			cfg.PerGroup = e.Config.PerGroup
			return cfg
		}
	}
	return e.Config
}

func scoreKey(userID, groupID int64) string {
	return fmt.Sprintf("%d/%d", groupID, userID)
}

type cachedScore struct {
	Score     float64   `json:"score"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Get returns the current score with inactivity decay applied. Users
// with no history start at the baseline.
func (e *Engine) Get(ctx context.Context, userID, groupID int64) (float64, error) {
	cfg := e.configFor(ctx, groupID)
	groupID = e.scopeGroup(groupID)

	var snap cachedScore
	hit, err := cachestore.GetJSON(ctx, e.Cache, "trust", scoreKey(userID, groupID), &snap)
	if err != nil {
		e.Logger.Warn("trust cache read failed", "err", err, "user_id", userID, "group_id", groupID)
	}
	if hit {
		return e.decayed(cfg, snap.Score, snap.UpdatedAt), nil
	}

	rec, err := e.Store.GetTrustScore(ctx, userID, groupID)
	if err != nil {
		return 0, err
	}
	if rec == nil {
		return cfg.Baseline, nil
	}
	if err := cachestore.SetJSON(ctx, e.Cache, "trust", scoreKey(userID, groupID), cachedScore{
		Score:     rec.Score,
		UpdatedAt: rec.UpdatedAt,
	}); err != nil {
		e.Logger.Warn("trust cache write failed", "err", err, "user_id", userID, "group_id", groupID)
	}
	return e.decayed(cfg, rec.Score, rec.UpdatedAt), nil
}

// Update applies the delta rule under the per-user lock:
// T = clamp(T + 0.8*positive - 5*violations*sev - 8*mutes - 15*bans).
// Decay for the idle period since the last write lands first, so the
// stored score is always current as of this update.
func (e *Engine) Update(ctx context.Context, userID, groupID int64, delta Delta) (*Update, error) {
	cfg := e.configFor(ctx, groupID)
	groupID = e.scopeGroup(groupID)

	lk, _ := e.locks.LoadOrStore(scoreKey(userID, groupID), &sync.Mutex{})
	lk.Lock()
	defer lk.Unlock()

	rec, err := e.Store.GetTrustScore(ctx, userID, groupID)
	if err != nil {
		return nil, err
	}
	old := cfg.Baseline
	if rec != nil {
		old = e.decayed(cfg, rec.Score, rec.UpdatedAt)
	}

	change := BonusPositive*float64(delta.Positive) -
		PenaltyViolation*delta.Severity.multiplier()*float64(delta.Violations) -
		PenaltyMute*float64(delta.Mutes) -
		PenaltyBan*float64(delta.Bans)

	next := clamp(old+change, ScoreMin, ScoreMax)
	now := e.now()

	if err := e.Store.PutTrustScore(ctx, &store.TrustScore{
		UserID:    userID,
		GroupID:   groupID,
		Score:     next,
		UpdatedAt: now,
	}); err != nil {
		return nil, err
	}
	if err := cachestore.SetJSON(ctx, e.Cache, "trust", scoreKey(userID, groupID), cachedScore{
		Score:     next,
		UpdatedAt: now,
	}); err != nil {
		e.Logger.Warn("trust cache write failed", "err", err, "user_id", userID, "group_id", groupID)
	}

	return &Update{Old: old, New: next, Change: next - old}, nil
}

// decayed erodes a stale score toward the baseline: nothing inside the
// grace period, then DecayPerWeek points per full idle week.
func (e *Engine) decayed(cfg Config, score float64, updatedAt time.Time) float64 {
	idle := e.now().Sub(updatedAt)
	idleDays := int(idle.Hours() / 24)
	if idleDays < cfg.DecayGraceDays {
		return score
	}
	weeks := float64((idleDays - cfg.DecayGraceDays) / 7)
	shift := weeks * cfg.DecayPerWeek
	if score > cfg.Baseline {
		return maxFloat(cfg.Baseline, score-shift)
	}
	return minFloat(cfg.Baseline, score+shift)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
