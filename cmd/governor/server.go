package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/Oxeigns/Rak/automod/cachestore"
	"github.com/Oxeigns/Rak/automod/callback"
	"github.com/Oxeigns/Rak/automod/chat"
	"github.com/Oxeigns/Rak/automod/classifier"
	"github.com/Oxeigns/Rak/automod/countstore"
	"github.com/Oxeigns/Rak/automod/engine"
	"github.com/Oxeigns/Rak/automod/flagstore"
	"github.com/Oxeigns/Rak/automod/gate"
	"github.com/Oxeigns/Rak/automod/lockstore"
	"github.com/Oxeigns/Rak/automod/raid"
	"github.com/Oxeigns/Rak/automod/risk"
	"github.com/Oxeigns/Rak/automod/setstore"
	"github.com/Oxeigns/Rak/automod/store"
	"github.com/Oxeigns/Rak/automod/trust"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

type Server struct {
	logger  *slog.Logger
	engine  *engine.Engine
	client  chat.Client
	rdb     *redis.Client
	config  Config
	lastSeq int64
}

type Config struct {
	Logger             *slog.Logger
	TransportHost      string
	TransportToken     string
	TransportRateLimit int
	RedisURL           string
	CallbackSecret     string
	CallbackTTL        time.Duration
	ClassifierHost     string
	ClassifierAPIKey   string
	ClassifierModel    string
	RequiredChannel    int64
	SetsFileJSON       string
	WebhookURL         string
}

func NewServer(db *gorm.DB, config Config) (*Server, error) {
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))
	}

	sets := setstore.NewMemSetStore()
	if config.SetsFileJSON != "" {
		if err := sets.LoadFromFileJSON(config.SetsFileJSON); err != nil {
			return nil, fmt.Errorf("initializing in-process setstore: %v", err)
		} else {
			logger.Info("loaded set config from JSON", "path", config.SetsFileJSON)
		}
	}

	var counters countstore.CountStore
	var cache cachestore.CacheStore
	var settingsCache cachestore.CacheStore
	var trustCache cachestore.CacheStore
	var locks lockstore.LockStore
	var flags flagstore.FlagStore
	var rdb *redis.Client
	if config.RedisURL != "" {
		// generic client, for consumer cursor state
		opt, err := redis.ParseURL(config.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parsing redis URL: %v", err)
		}
		rdb = redis.NewClient(opt)
		_, err = rdb.Ping(context.TODO()).Result()
		if err != nil {
			return nil, fmt.Errorf("redis ping failed: %v", err)
		}

		cnt, err := countstore.NewRedisCountStore(config.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("initializing redis countstore: %v", err)
		}
		counters = cnt

		csh, err := cachestore.NewRedisCacheStore(config.RedisURL, 5_000, 30*time.Minute)
		if err != nil {
			return nil, fmt.Errorf("initializing redis cachestore: %v", err)
		}
		cache = csh
		scsh, err := cachestore.NewRedisCacheStore(config.RedisURL, 5_000, 5*time.Minute)
		if err != nil {
			return nil, fmt.Errorf("initializing redis settings cachestore: %v", err)
		}
		settingsCache = scsh
		tcsh, err := cachestore.NewRedisCacheStore(config.RedisURL, 20_000, 30*time.Minute)
		if err != nil {
			return nil, fmt.Errorf("initializing redis trust cachestore: %v", err)
		}
		trustCache = tcsh

		lck, err := lockstore.NewRedisLockStore(config.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("initializing redis lockstore: %v", err)
		}
		locks = lck

		flg, err := flagstore.NewRedisFlagStore(config.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("initializing redis flagstore: %v", err)
		}
		flags = flg
	} else {
		counters = countstore.NewMemCountStore()
		cache = cachestore.NewMemCacheStore(5_000, 30*time.Minute)
		settingsCache = cachestore.NewMemCacheStore(5_000, 5*time.Minute)
		trustCache = cachestore.NewMemCacheStore(20_000, 30*time.Minute)
		locks = lockstore.NewMemLockStore()
		flags = flagstore.NewMemFlagStore()
	}
	client := chat.NewThrottledClient(
		chat.NewHTTPClient(config.TransportHost, config.TransportToken, logger),
		int64(config.TransportRateLimit),
	)

	modStore := store.NewStore(db)
	trustEngine := trust.NewEngine(modStore, trustCache, logger, trust.DefaultConfig())
	trustEngine.GroupConfig = func(ctx context.Context, groupID int64) (trust.Config, bool) {
		settings, err := modStore.GetGroupSettings(ctx, groupID)
		if err != nil {
			return trust.Config{}, false
		}
		return trust.Config{
			Baseline:       settings.TrustBaseline,
			DecayGraceDays: settings.TrustDecayGraceDays,
			DecayPerWeek:   settings.TrustDecayPerWeek,
		}, true
	}

	var primary classifier.Classifier
	fallback := &classifier.RuleClassifier{Sets: sets}
	if config.ClassifierHost != "" {
		primary = classifier.NewHTTPClassifier(classifier.HTTPClassifierConfig{
			Host:   config.ClassifierHost,
			APIKey: config.ClassifierAPIKey,
			Model:  config.ClassifierModel,
			Logger: logger,
		})
	} else {
		logger.Info("no classifier endpoint configured, using rule-based estimator only")
		primary = fallback
	}
	riskEngine := risk.NewEngine(primary, fallback, trustEngine, counters, modStore, logger)

	tokens, err := callback.NewService(config.CallbackSecret, locks, sets, config.CallbackTTL)
	if err != nil {
		return nil, fmt.Errorf("initializing callback token service: %w", err)
	}
	tokens.TTLForChat = func(ctx context.Context, chatID int64) time.Duration {
		settings, err := modStore.GetGroupSettings(ctx, chatID)
		if err != nil {
			return 0
		}
		return time.Duration(settings.CallbackTTLSeconds) * time.Second
	}

	var notifier engine.Notifier
	if config.WebhookURL != "" {
		notifier = &engine.WebhookNotifier{WebhookURL: config.WebhookURL}
	}

	raidDetector := raid.NewDetector(counters, cache, logger)

	eng := &engine.Engine{
		Logger:   logger,
		Risk:     riskEngine,
		Trust:    trustEngine,
		Raid:     raidDetector,
		Tokens:   tokens,
		Guard:    callback.NewGuard(locks),
		Gate:     gate.NewForceJoin(client, config.RequiredChannel, logger),
		Limiter:  gate.NewRateLimiter(counters),
		Prompts:  gate.NewPromptLimiter(locks),
		Client:   client,
		Store:    modStore,
		Cache:    settingsCache,
		Flags:    flags,
		Notifier: notifier,
		Handlers: map[string]engine.CallbackHandler{},
	}
	registerHandlers(eng, modStore, raidDetector, client)

	s := &Server{
		logger: logger,
		engine: eng,
		client: client,
		rdb:    rdb,
		config: config,
	}
	return s, nil
}

// registerHandlers installs the built-in interactive actions offered
// on moderation prompts.
func registerHandlers(eng *engine.Engine, modStore *store.Store, raidDetector *raid.Detector, client chat.Client) {
	// admin vouches for the flagged user: clear warnings, refund trust
	eng.Handlers["approve"] = func(ctx context.Context, tok *callback.Token) error {
		if err := modStore.ResetWarnings(ctx, tok.ChatID, tok.OwnerID); err != nil {
			return err
		}
		_, err := eng.Trust.Update(ctx, tok.OwnerID, tok.ChatID, trust.Delta{Positive: 1})
		return err
	}
	// dismiss the prompt message itself
	eng.Handlers["dismiss"] = func(ctx context.Context, tok *callback.Token) error {
		return client.DeleteMessage(ctx, tok.ChatID, tok.MessageID)
	}
	// lift a mute early
	eng.Handlers["unmute"] = func(ctx context.Context, tok *callback.Token) error {
		return client.RestrictUser(ctx, tok.ChatID, tok.OwnerID, time.Now())
	}
	// admin all-clear after a raid
	eng.Handlers["raid-clear"] = func(ctx context.Context, tok *callback.Token) error {
		return raidDetector.Reset(ctx, tok.ChatID)
	}
}

func (s *Server) RunMetrics(listen string) error {
	http.Handle("/metrics", promhttp.Handler())
	return http.ListenAndServe(listen, nil)
}

var cursorKey = "governor/seq"

func (s *Server) ReadLastCursor(ctx context.Context) (int64, error) {
	// if redis isn't configured, just skip
	if s.rdb == nil {
		s.logger.Info("redis not configured, skipping cursor read")
		return 0, nil
	}

	val, err := s.rdb.Get(ctx, cursorKey).Int64()
	if err == redis.Nil {
		s.logger.Info("no pre-existing cursor in redis")
		return 0, nil
	}
	s.logger.Info("found prior consumer cursor in redis", "seq", val)
	return val, err
}

func (s *Server) PersistCursor(ctx context.Context) error {
	// if redis isn't configured, just skip
	if s.rdb == nil {
		return nil
	}
	if s.lastSeq <= 0 {
		return nil
	}
	return s.rdb.Set(ctx, cursorKey, s.lastSeq, 14*24*time.Hour).Err()
}

// this method runs in a loop, persisting the current cursor state every 5 seconds
func (s *Server) RunPersistCursor(ctx context.Context) error {
	if s.rdb == nil {
		return nil
	}
	ticker := time.NewTicker(5 * time.Second)
	for {
		select {
		case <-ctx.Done():
			if s.lastSeq >= 1 {
				s.logger.Info("persisting final cursor on shutdown", "seq", s.lastSeq)
				if err := s.PersistCursor(ctx); err != nil {
					s.logger.Error("failed to persist cursor", "err", err, "seq", s.lastSeq)
				}
			}
			return nil
		case <-ticker.C:
			if s.lastSeq >= 1 {
				if err := s.PersistCursor(ctx); err != nil {
					s.logger.Error("failed to persist cursor", "err", err, "seq", s.lastSeq)
				}
			}
		}
	}
}

// Run validates startup config, then consumes transport updates until
// the context ends.
func (s *Server) Run(ctx context.Context) error {
	// a misconfigured force-join channel would lock everyone out
	if err := s.engine.Gate.ValidateStartup(ctx); err != nil {
		return fmt.Errorf("startup validation: %w", err)
	}

	cursor, err := s.ReadLastCursor(ctx)
	if err != nil {
		return err
	}
	s.lastSeq = cursor

	go func() {
		if err := s.RunPersistCursor(ctx); err != nil {
			s.logger.Error("cursor persist loop failed", "err", err)
		}
	}()

	s.logger.Info("starting update consumer", "cursor", cursor)
	return s.RunConsumer(ctx)
}
