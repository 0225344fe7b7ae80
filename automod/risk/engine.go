package risk

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/Oxeigns/Rak/automod/classifier"
	"github.com/Oxeigns/Rak/automod/countstore"
	"github.com/Oxeigns/Rak/automod/store"

	"golang.org/x/sync/errgroup"
)

// TrustSource is the slice of the trust engine the gatherer needs.
type TrustSource interface {
	Get(ctx context.Context, userID, groupID int64) (float64, error)
}

// ViolationCounter is the slice of the persistent store the gatherer
// needs for rolling violation counts.
type ViolationCounter interface {
	CountViolationsSince(ctx context.Context, groupID, userID int64, since time.Time) (int, error)
}

type Message struct {
	GroupID   int64
	UserID    int64
	MessageID int64
	Text      string
	HasMedia  bool
}

// Assessment is the full scoring outcome for one message, carried
// through to the decision executor and the audit record.
type Assessment struct {
	Scores     map[string]float64
	Base       float64
	Calibrated float64
	Band       Band
	Confidence float64
	Trust      float64

	Violations24h int
	Violations7d  int

	// classifier explanation, or the fallback's note when the primary
	// classifier was unavailable
	Reason string

	// true when a signal source failed and the event was let through
	// at low band for later review
	FailSafe bool
}

// Engine gathers the scoring signals for a message and runs the
// formula. Signal sources are independent, so they are fetched
// concurrently under one deadline.
type Engine struct {
	Classifier classifier.Classifier
	// consulted when the primary classifier errors or times out
	Fallback   classifier.Classifier
	Trust      TrustSource
	Counters   countstore.CountStore
	Violations ViolationCounter
	Logger     *slog.Logger

	// overall budget for one assessment
	Timeout time.Duration
}

func NewEngine(cls classifier.Classifier, fallback classifier.Classifier, trust TrustSource, counters countstore.CountStore, violations ViolationCounter, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		Classifier: cls,
		Fallback:   fallback,
		Trust:      trust,
		Counters:   counters,
		Violations: violations,
		Logger:     logger,
		Timeout:    5 * time.Second,
	}
}

// counter namespaces
const (
	counterMsg = "msg"
	counterDup = "dup"
)

func userKey(groupID, userID int64) string {
	return fmt.Sprintf("%d/%d", groupID, userID)
}

// contentHash fingerprints message text for duplicate detection,
// ignoring case and whitespace runs.
func contentHash(text string) string {
	normalized := strings.Join(strings.Fields(strings.ToLower(text)), " ")
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:8])
}

// Assess scores one message. A classifier failure falls through to the
// rule-based estimator; any other signal failure degrades to a
// low-band fail-safe result flagged for review instead of blocking the
// message.
func (e *Engine) Assess(ctx context.Context, msg *Message, settings *store.GroupSettings) *Assessment {
	ctx, cancel := context.WithTimeout(ctx, e.Timeout)
	defer cancel()

	var (
		cls        *classifier.Result
		trustScore float64
		msgRate    int
		v24h, v7d  int
		dupRepeats int
		dupUsers   int
	)
	var failuresLk sync.Mutex
	failures := []string{}
	degraded := func(format string, args ...any) {
		failuresLk.Lock()
		defer failuresLk.Unlock()
		failures = append(failures, fmt.Sprintf(format, args...))
	}

	eg, gctx := errgroup.WithContext(ctx)
	// a panicking signal source counts as signal loss, same as an error
	gather := func(name string, fn func() error) {
		eg.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					degraded("%s: panic: %v", name, r)
				}
			}()
			return fn()
		})
	}
	gather("classify", func() error {
		res, err := e.Classifier.Classify(gctx, msg.Text)
		if err != nil && e.Fallback != nil {
			e.Logger.Warn("classifier unavailable, using fallback", "err", err, "group_id", msg.GroupID)
			res, err = e.Fallback.Classify(gctx, msg.Text)
		}
		if err != nil {
			degraded("classify: %v", err)
			return nil
		}
		cls = res
		return nil
	})
	gather("trust", func() error {
		score, err := e.Trust.Get(gctx, msg.UserID, msg.GroupID)
		if err != nil {
			degraded("trust: %v", err)
			trustScore = settings.TrustBaseline
			return nil
		}
		trustScore = score
		return nil
	})
	gather("flood", func() error {
		key := userKey(msg.GroupID, msg.UserID)
		if err := e.Counters.IncrementPeriod(gctx, counterMsg, key, countstore.PeriodMinute); err != nil {
			degraded("flood: %v", err)
			return nil
		}
		rate, err := e.Counters.GetCount(gctx, counterMsg, key, countstore.PeriodMinute)
		if err != nil {
			degraded("flood: %v", err)
			return nil
		}
		msgRate = rate
		return nil
	})
	gather("violations", func() error {
		now := time.Now()
		day, err := e.Violations.CountViolationsSince(gctx, msg.GroupID, msg.UserID, now.Add(-24*time.Hour))
		if err != nil {
			degraded("violations: %v", err)
			return nil
		}
		week, err := e.Violations.CountViolationsSince(gctx, msg.GroupID, msg.UserID, now.Add(-7*24*time.Hour))
		if err != nil {
			degraded("violations: %v", err)
			return nil
		}
		v24h, v7d = day, week
		return nil
	})
	gather("similarity", func() error {
		if strings.TrimSpace(msg.Text) == "" {
			return nil
		}
		hash := contentHash(msg.Text)
		bucket := fmt.Sprintf("%d/%s", msg.GroupID, hash)
		if err := e.Counters.IncrementPeriod(gctx, counterDup, bucket, countstore.PeriodHour); err != nil {
			degraded("similarity: %v", err)
			return nil
		}
		repeats, err := e.Counters.GetCount(gctx, counterDup, bucket, countstore.PeriodHour)
		if err != nil {
			degraded("similarity: %v", err)
			return nil
		}
		if err := e.Counters.IncrementDistinct(gctx, counterDup, bucket, fmt.Sprintf("%d", msg.UserID)); err != nil {
			degraded("similarity: %v", err)
			return nil
		}
		users, err := e.Counters.GetCountDistinct(gctx, counterDup, bucket, countstore.PeriodHour)
		if err != nil {
			degraded("similarity: %v", err)
			return nil
		}
		dupRepeats, dupUsers = repeats, users
		return nil
	})
	_ = eg.Wait()

	scores := map[string]float64{}
	confidence := 0.5
	reason := ""
	if cls != nil {
		for k, v := range cls.Scores {
			scores[k] = v
		}
		confidence = cls.Confidence
		reason = cls.Reason
	}
	scores[FactorFlood] = FloodFactor(msgRate)
	scores[FactorUserHistory] = HistoryFactor(v24h, v7d, trustScore)
	scores[FactorSimilarity] = similarityFactor(dupRepeats, dupUsers)

	result := Compute(Input{
		Scores:           scores,
		RecentViolations: v24h,
		Trust:            trustScore,
		Thresholds: Thresholds{
			Critical: settings.ScoreCritical,
			High:     settings.ScoreHigh,
			Medium:   settings.ScoreMedium,
		},
	})

	out := &Assessment{
		Scores:        scores,
		Base:          result.Base,
		Calibrated:    result.Calibrated,
		Band:          result.Band,
		Confidence:    Confidence(confidence, scores),
		Trust:         trustScore,
		Violations24h: v24h,
		Violations7d:  v7d,
		Reason:        reason,
	}

	if len(failures) > 0 {
		// signal loss never blocks the message; flag it for review
		e.Logger.Error("risk assessment degraded",
			"group_id", msg.GroupID,
			"user_id", msg.UserID,
			"failures", strings.Join(failures, "; "),
		)
		out.Band = BandLow
		out.FailSafe = true
		out.Reason = strings.Join(failures, "; ")
	}
	return out
}

// similarityFactor rises with repeats of the same content hash inside
// the hour, jumping when three or more distinct users post it
// (coordinated copy-paste).
func similarityFactor(repeats, users int) float64 {
	if repeats <= 1 {
		return 0
	}
	factor := clampUnit(float64(repeats-1) * 0.35)
	if users >= 3 {
		factor = clampUnit(factor + 0.3)
	}
	return factor
}
