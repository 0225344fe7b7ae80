package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Oxeigns/Rak/automod/cachestore"
	"github.com/Oxeigns/Rak/automod/callback"
	"github.com/Oxeigns/Rak/automod/chat"
	"github.com/Oxeigns/Rak/automod/classifier"
	"github.com/Oxeigns/Rak/automod/countstore"
	"github.com/Oxeigns/Rak/automod/flagstore"
	"github.com/Oxeigns/Rak/automod/gate"
	"github.com/Oxeigns/Rak/automod/lockstore"
	"github.com/Oxeigns/Rak/automod/raid"
	"github.com/Oxeigns/Rak/automod/risk"
	"github.com/Oxeigns/Rak/automod/store"
	"github.com/Oxeigns/Rak/automod/trust"
)

// MemModStore is an in-memory ModStore (plus the trust and violation
// read surfaces) for tests and local runs without a database.
type MemModStore struct {
	lk         sync.Mutex
	settings   map[int64]*store.GroupSettings
	trust      map[string]store.TrustScore
	violations []store.Violation
	raids      []store.RaidEvent
	warnings   map[string]int
}

func NewMemModStore() *MemModStore {
	return &MemModStore{
		settings: make(map[int64]*store.GroupSettings),
		trust:    make(map[string]store.TrustScore),
		warnings: make(map[string]int),
	}
}

func pairKey(a, b int64) string {
	return fmt.Sprintf("%d/%d", a, b)
}

func (m *MemModStore) GetGroupSettings(ctx context.Context, groupID int64) (*store.GroupSettings, error) {
	m.lk.Lock()
	defer m.lk.Unlock()
	if s, ok := m.settings[groupID]; ok {
		cp := *s
		return &cp, nil
	}
	return store.DefaultGroupSettings(groupID), nil
}

func (m *MemModStore) PutGroupSettings(ctx context.Context, rec *store.GroupSettings) error {
	m.lk.Lock()
	defer m.lk.Unlock()
	cp := *rec
	m.settings[rec.GroupID] = &cp
	return nil
}

func (m *MemModStore) GetTrustScore(ctx context.Context, userID, groupID int64) (*store.TrustScore, error) {
	m.lk.Lock()
	defer m.lk.Unlock()
	rec, ok := m.trust[pairKey(groupID, userID)]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (m *MemModStore) PutTrustScore(ctx context.Context, rec *store.TrustScore) error {
	m.lk.Lock()
	defer m.lk.Unlock()
	m.trust[pairKey(rec.GroupID, rec.UserID)] = *rec
	return nil
}

func (m *MemModStore) RecordViolation(ctx context.Context, v *store.Violation) error {
	m.lk.Lock()
	defer m.lk.Unlock()
	m.violations = append(m.violations, *v)
	return nil
}

func (m *MemModStore) Violations() []store.Violation {
	m.lk.Lock()
	defer m.lk.Unlock()
	out := make([]store.Violation, len(m.violations))
	copy(out, m.violations)
	return out
}

func (m *MemModStore) CountViolationsSince(ctx context.Context, groupID, userID int64, since time.Time) (int, error) {
	m.lk.Lock()
	defer m.lk.Unlock()
	count := 0
	for _, v := range m.violations {
		if v.GroupID == groupID && v.UserID == userID && v.CreatedAt.After(since) {
			count++
		}
	}
	return count, nil
}

func (m *MemModStore) RecordRaidEvent(ctx context.Context, ev *store.RaidEvent) error {
	m.lk.Lock()
	defer m.lk.Unlock()
	m.raids = append(m.raids, *ev)
	return nil
}

func (m *MemModStore) RaidEvents() []store.RaidEvent {
	m.lk.Lock()
	defer m.lk.Unlock()
	out := make([]store.RaidEvent, len(m.raids))
	copy(out, m.raids)
	return out
}

func (m *MemModStore) GetWarnings(ctx context.Context, groupID, userID int64) (int, error) {
	m.lk.Lock()
	defer m.lk.Unlock()
	return m.warnings[pairKey(groupID, userID)], nil
}

func (m *MemModStore) IncrementWarning(ctx context.Context, groupID, userID int64) (int, error) {
	m.lk.Lock()
	defer m.lk.Unlock()
	m.warnings[pairKey(groupID, userID)]++
	return m.warnings[pairKey(groupID, userID)], nil
}

func (m *MemModStore) ResetWarnings(ctx context.Context, groupID, userID int64) error {
	m.lk.Lock()
	defer m.lk.Unlock()
	delete(m.warnings, pairKey(groupID, userID))
	return nil
}

// EngineTestFixture wires a full engine on in-memory stores, a mock
// transport, and a fixed classifier verdict.
func EngineTestFixture(cls classifier.Classifier) (*Engine, *MemModStore, *chat.MockClient) {
	logger := slog.Default()
	modStore := NewMemModStore()
	client := chat.NewMockClient()
	counters := countstore.NewMemCountStore()
	cache := cachestore.NewMemCacheStore(100, time.Minute)
	locks := lockstore.NewMemLockStore()

	trustEngine := trust.NewEngine(modStore, cachestore.NewMemCacheStore(100, time.Minute), logger, trust.DefaultConfig())
	riskEngine := risk.NewEngine(cls, &classifier.RuleClassifier{}, trustEngine, counters, modStore, logger)
	tokens, err := callback.NewService("0123456789abcdef0123456789abcdef", locks, nil, 5*time.Minute)
	if err != nil {
		panic(err)
	}

	eng := &Engine{
		Logger:   logger,
		Risk:     riskEngine,
		Trust:    trustEngine,
		Raid:     raid.NewDetector(counters, cache, logger),
		Tokens:   tokens,
		Guard:    callback.NewGuard(locks),
		Gate:     gate.NewForceJoin(client, 0, logger),
		Limiter:  gate.NewRateLimiter(counters),
		Prompts:  gate.NewPromptLimiter(locks),
		Client:   client,
		Store:    modStore,
		Cache:    cachestore.NewMemCacheStore(100, time.Minute),
		Flags:    flagstore.NewMemFlagStore(),
		Handlers: map[string]CallbackHandler{},
	}
	return eng, modStore, client
}
