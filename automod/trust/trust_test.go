package trust

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/Oxeigns/Rak/automod/cachestore"
	"github.com/Oxeigns/Rak/automod/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memScoreStore struct {
	lk   sync.Mutex
	rows map[string]store.TrustScore
}

func newMemScoreStore() *memScoreStore {
	return &memScoreStore{rows: make(map[string]store.TrustScore)}
}

func (m *memScoreStore) key(userID, groupID int64) string {
	return fmt.Sprintf("%d/%d", groupID, userID)
}

func (m *memScoreStore) GetTrustScore(ctx context.Context, userID, groupID int64) (*store.TrustScore, error) {
	m.lk.Lock()
	defer m.lk.Unlock()
	rec, ok := m.rows[m.key(userID, groupID)]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (m *memScoreStore) PutTrustScore(ctx context.Context, rec *store.TrustScore) error {
	m.lk.Lock()
	defer m.lk.Unlock()
	m.rows[m.key(rec.UserID, rec.GroupID)] = *rec
	return nil
}

func testEngine(t *testing.T) (*Engine, *memScoreStore) {
	st := newMemScoreStore()
	cache := cachestore.NewMemCacheStore(100, time.Minute)
	eng := NewEngine(st, cache, slog.Default(), DefaultConfig())
	return eng, st
}

func TestUpdateRule(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	eng, _ := testEngine(t)

	// 2 positive events and 1 low-severity violation from baseline 50
	up, err := eng.Update(ctx, 42, 0, Delta{Positive: 2, Violations: 1})
	require.NoError(t, err)
	assert.Equal(50.0, up.Old)
	assert.InDelta(46.6, up.New, 1e-9)

	score, err := eng.Get(ctx, 42, 0)
	require.NoError(t, err)
	assert.InDelta(46.6, score, 1e-9)
}

func TestUpdateClamping(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	eng, _ := testEngine(t)

	// hammer the floor
	for i := 0; i < 10; i++ {
		_, err := eng.Update(ctx, 7, 0, Delta{Bans: 1})
		require.NoError(t, err)
	}
	score, err := eng.Get(ctx, 7, 0)
	require.NoError(t, err)
	assert.Equal(0.0, score)

	// and the ceiling
	for i := 0; i < 200; i++ {
		_, err := eng.Update(ctx, 7, 0, Delta{Positive: 1})
		require.NoError(t, err)
	}
	score, err = eng.Get(ctx, 7, 0)
	require.NoError(t, err)
	assert.Equal(100.0, score)
}

func TestSeverityScaling(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	eng, _ := testEngine(t)

	up, err := eng.Update(ctx, 9, 0, Delta{Violations: 1, Severity: SeverityCritical})
	require.NoError(t, err)
	assert.InDelta(25.0, up.New, 1e-9) // 50 - 5*5
}

func TestDecay(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	eng, st := testEngine(t)

	base := time.Now()
	require.NoError(t, st.PutTrustScore(ctx, &store.TrustScore{
		UserID: 5, GroupID: 0, Score: 80, UpdatedAt: base,
	}))

	// inside the grace period: untouched
	eng.now = func() time.Time { return base.Add(6 * 24 * time.Hour) }
	score, err := eng.Get(ctx, 5, 0)
	require.NoError(t, err)
	assert.Equal(80.0, score)

	// three full weeks past grace: 3 * 2 points toward baseline
	eng.now = func() time.Time { return base.Add((7 + 21) * 24 * time.Hour) }
	score, err = eng.Get(ctx, 5, 0)
	require.NoError(t, err)
	assert.InDelta(74.0, score, 1e-9)
}

func TestDecayTowardBaselineFromBelow(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	eng, st := testEngine(t)

	base := time.Now()
	require.NoError(t, st.PutTrustScore(ctx, &store.TrustScore{
		UserID: 6, GroupID: 0, Score: 10, UpdatedAt: base,
	}))

	// long idle stretch recovers toward the baseline but never past it
	eng.now = func() time.Time { return base.Add(400 * 24 * time.Hour) }
	score, err := eng.Get(ctx, 6, 0)
	require.NoError(t, err)
	assert.Equal(50.0, score)
}

func TestGroupDecayOverride(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	eng, st := testEngine(t)

	// group 1 decays five times faster than the default
	eng.GroupConfig = func(ctx context.Context, groupID int64) (Config, bool) {
		if groupID != 1 {
			return Config{}, false
		}
		return Config{Baseline: 50, DecayGraceDays: 7, DecayPerWeek: 10}, true
	}

	base := time.Now()
	require.NoError(t, st.PutTrustScore(ctx, &store.TrustScore{
		UserID: 5, GroupID: 0, Score: 80, UpdatedAt: base,
	}))
	eng.now = func() time.Time { return base.Add((7 + 21) * 24 * time.Hour) }

	score, err := eng.Get(ctx, 5, 1)
	require.NoError(t, err)
	assert.InDelta(50.0, score, 1e-9) // 3 weeks * 10, floored at baseline

	// the same user read through another group keeps the default curve
	score, err = eng.Get(ctx, 5, 2)
	require.NoError(t, err)
	assert.InDelta(74.0, score, 1e-9)
}

func TestNewUserStartsAtBaseline(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	eng, _ := testEngine(t)

	score, err := eng.Get(ctx, 999, 0)
	require.NoError(t, err)
	assert.Equal(50.0, score)
}

func TestConcurrentUpdatesSerialized(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	eng, _ := testEngine(t)

	// 20 concurrent single-violation updates for the same user must
	// each apply exactly once: 50 - 10*5 clamps at 0, so use positives
	var wg sync.WaitGroup
	wg.Add(20)
	for i := 0; i < 20; i++ {
		go func() {
			defer wg.Done()
			_, err := eng.Update(ctx, 11, 0, Delta{Positive: 1})
			assert.NoError(err)
		}()
	}
	wg.Wait()

	score, err := eng.Get(ctx, 11, 0)
	require.NoError(t, err)
	assert.InDelta(66.0, score, 1e-9) // 50 + 20*0.8
}
