// Package engine wires the moderation core together: it runs events
// through the gates, the risk pipeline, and the decision executor,
// then carries out the decided actions through the messaging transport
// and records the audit trail.
package engine

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Oxeigns/Rak/automod/cachestore"
	"github.com/Oxeigns/Rak/automod/callback"
	"github.com/Oxeigns/Rak/automod/chat"
	"github.com/Oxeigns/Rak/automod/flagstore"
	"github.com/Oxeigns/Rak/automod/gate"
	"github.com/Oxeigns/Rak/automod/raid"
	"github.com/Oxeigns/Rak/automod/risk"
	"github.com/Oxeigns/Rak/automod/store"
	"github.com/Oxeigns/Rak/automod/trust"
)

// ModStore is the persistence surface the engine needs. *store.Store
// is the production implementation.
type ModStore interface {
	GetGroupSettings(ctx context.Context, groupID int64) (*store.GroupSettings, error)
	RecordViolation(ctx context.Context, v *store.Violation) error
	RecordRaidEvent(ctx context.Context, ev *store.RaidEvent) error
	GetWarnings(ctx context.Context, groupID, userID int64) (int, error)
	IncrementWarning(ctx context.Context, groupID, userID int64) (int, error)
	ResetWarnings(ctx context.Context, groupID, userID int64) error
}

// CallbackHandler executes one verified interactive action.
type CallbackHandler func(ctx context.Context, tok *callback.Token) error

// Engine is the runtime for processing moderation events.
//
// All pointer fields except Notifier must be non-nil; see NewServer
// and EngineTestFixture for complete wirings.
type Engine struct {
	Logger   *slog.Logger
	Risk     *risk.Engine
	Trust    *trust.Engine
	Raid     *raid.Detector
	Tokens   *callback.Service
	Guard    *callback.Guard
	Gate     *gate.ForceJoin
	Limiter  *gate.RateLimiter
	Prompts  *gate.PromptLimiter
	Client   chat.Client
	Store    ModStore
	Cache    cachestore.CacheStore
	Flags    flagstore.FlagStore
	Notifier Notifier

	// interactive action dispatch, keyed by token action name
	Handlers map[string]CallbackHandler
}

// Outcome summarizes one processed event for callers and tests.
type Outcome struct {
	Decision   Decision
	Assessment *risk.Assessment
	// raid evaluation, join events only
	Raid *raid.Result
}

// ProcessMessage runs one group message through the full pipeline.
// The force-join gate and the rate limiter run ahead of everything
// else; past them, pipeline failures degrade rather than block, and a
// message is only held up by an affirmative decision.
func (eng *Engine) ProcessMessage(ctx context.Context, msg *risk.Message) (outcome *Outcome, err error) {
	start := time.Now()
	traceID := newTraceID()
	// recover panics from handler execution, like an HTTP server would
	defer func() {
		if r := recover(); r != nil {
			eng.Logger.Error("moderation event execution exception", "err", r, "group_id", msg.GroupID, "user_id", msg.UserID)
			err = fmt.Errorf("panic during message processing: %v", r)
		}
		eventDuration.WithLabelValues("message").Observe(time.Since(start).Seconds())
		eventsProcessed.WithLabelValues("message").Inc()
	}()

	settings, err := eng.groupSettings(ctx, msg.GroupID)
	if err != nil {
		eventErrors.WithLabelValues("message").Inc()
		return nil, err
	}

	if err := eng.Gate.Check(ctx, msg.UserID); err != nil {
		if errors.Is(err, gate.ErrNotMember) {
			if derr := eng.Client.DeleteMessage(ctx, msg.GroupID, msg.MessageID); derr != nil {
				eng.Logger.Warn("gated message removal failed", "err", derr, "group_id", msg.GroupID, "message_id", msg.MessageID)
			}
			eng.promptJoin(ctx, msg.UserID, promptCooldown(settings))
		}
		return nil, err
	}
	if err := eng.Limiter.Allow(ctx, msg.UserID, "message", settings.RateLimitPerMinute); err != nil {
		return nil, err
	}

	exempt, err := eng.isExempt(ctx, msg, settings)
	if err != nil {
		eng.Logger.Warn("exemption check failed, scoring anyway", "err", err, "group_id", msg.GroupID)
	}
	if exempt {
		return &Outcome{Decision: Decision{Action: ActionAllow, Reason: "exempt"}}, nil
	}

	assessment := eng.Risk.Assess(ctx, msg, settings)
	if assessment.FailSafe {
		failSafeEvents.Inc()
	}

	warnings, err := eng.Store.GetWarnings(ctx, msg.GroupID, msg.UserID)
	if err != nil {
		eng.Logger.Warn("warning count read failed", "err", err, "group_id", msg.GroupID)
	}

	decision := DecideMessage(MessageInput{
		Band:     assessment.Band,
		FailSafe: assessment.FailSafe,
		Trust:    assessment.Trust,
		HasMedia: msg.HasMedia,
		Warnings: warnings,
	}, settings)

	if err := eng.executeMessageDecision(ctx, msg, assessment, decision, settings); err != nil {
		eng.Logger.Error("decision execution failed", "err", err, "action", decision.Action, "group_id", msg.GroupID, "trace_id", traceID)
		eventErrors.WithLabelValues("message").Inc()
	}
	eng.audit(ctx, msg, assessment, decision, traceID)
	eng.Logger.Info("message processed",
		"group_id", msg.GroupID,
		"user_id", msg.UserID,
		"band", assessment.Band,
		"score", assessment.Calibrated,
		"action", decision.Action,
		"trace_id", traceID,
	)
	actionsTaken.WithLabelValues(string(decision.Action)).Inc()

	return &Outcome{Decision: decision, Assessment: assessment}, nil
}

// ProcessJoin runs one member join through raid detection and the join
// decision.
func (eng *Engine) ProcessJoin(ctx context.Context, groupID int64, member chat.Member) (outcome *Outcome, err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			eng.Logger.Error("moderation event execution exception", "err", r, "group_id", groupID, "user_id", member.UserID)
			err = fmt.Errorf("panic during join processing: %v", r)
		}
		eventDuration.WithLabelValues("join").Observe(time.Since(start).Seconds())
		eventsProcessed.WithLabelValues("join").Inc()
	}()

	settings, err := eng.groupSettings(ctx, groupID)
	if err != nil {
		eventErrors.WithLabelValues("join").Inc()
		return nil, err
	}
	config := raidConfig(settings)

	if err := eng.Gate.Check(ctx, member.UserID); err != nil {
		if errors.Is(err, gate.ErrNotMember) {
			eng.promptJoin(ctx, member.UserID, promptCooldown(settings))
		}
		return nil, err
	}
	if err := eng.Limiter.Allow(ctx, member.UserID, "join", settings.RateLimitPerMinute); err != nil {
		return nil, err
	}

	res, err := eng.Raid.RecordJoin(ctx, groupID, member, config)
	if err != nil {
		eventErrors.WithLabelValues("join").Inc()
		return nil, fmt.Errorf("raid evaluation: %w", err)
	}
	if res.Intent != nil {
		raidTransitions.WithLabelValues(string(res.State)).Inc()
		if err := eng.Store.RecordRaidEvent(ctx, &store.RaidEvent{
			GroupID:     groupID,
			State:       string(res.State),
			JoinCount:   res.JoinCount,
			NewAccounts: res.NewAccounts,
			Reason:      res.Intent.Reason,
			CreatedAt:   time.Now(),
		}); err != nil {
			eng.Logger.Error("raid event persist failed", "err", err, "group_id", groupID)
		}
		if res.Intent.NotifyAdmins {
			eng.notify(ctx, fmt.Sprintf("raid %s in group %d: %s", res.State, groupID, res.Intent.Reason))
		}
	}

	newAccount := member.AccountCreatedAt != nil &&
		time.Since(*member.AccountCreatedAt) < config.NewAccountMaxAge
	decision := DecideJoin(JoinInput{Raid: res.State, NewAccount: newAccount}, settings)

	switch decision.Action {
	case ActionRejectJoin:
		if err := eng.Client.BanUser(ctx, groupID, member.UserID); err != nil {
			eng.Logger.Error("join rejection failed", "err", err, "group_id", groupID, "user_id", member.UserID)
		}
	case ActionRestrictJoin:
		if err := eng.Client.RestrictUser(ctx, groupID, member.UserID, time.Now().Add(decision.Duration)); err != nil {
			eng.Logger.Error("join restriction failed", "err", err, "group_id", groupID, "user_id", member.UserID)
		}
	}
	actionsTaken.WithLabelValues(string(decision.Action)).Inc()

	return &Outcome{Decision: decision, Raid: res}, nil
}

// ProcessCallback verifies and executes one interactive button press.
// The caller's identity comes from the transport, not the token.
func (eng *Engine) ProcessCallback(ctx context.Context, rawToken string, callerID int64) (err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			eng.Logger.Error("moderation event execution exception", "err", r, "user_id", callerID)
			err = fmt.Errorf("panic during callback processing: %v", r)
		}
		eventDuration.WithLabelValues("callback").Observe(time.Since(start).Seconds())
		eventsProcessed.WithLabelValues("callback").Inc()
	}()

	if err := eng.Gate.Check(ctx, callerID); err != nil {
		if errors.Is(err, gate.ErrNotMember) {
			// the chat is not known until the token is verified, so the
			// per-group cooldown cannot apply here
			eng.promptJoin(ctx, callerID, fallbackPromptCooldown)
		}
		return err
	}

	tok, err := eng.Tokens.VerifyAndConsume(ctx, rawToken, callerID)
	if err != nil {
		callbackRejections.WithLabelValues(rejectionLabel(err)).Inc()
		return err
	}

	settings, err := eng.groupSettings(ctx, tok.ChatID)
	if err != nil {
		return err
	}
	if err := eng.Limiter.Allow(ctx, callerID, tok.Action, settings.RateLimitPerMinute); err != nil {
		callbackRejections.WithLabelValues("rate_limited").Inc()
		return err
	}

	key := callback.GuardKey(tok.Nonce, tok.ChatID, tok.MessageID)
	if err := eng.Guard.Acquire(ctx, key); err != nil {
		callbackRejections.WithLabelValues("concurrent").Inc()
		return err
	}
	defer func() {
		if rerr := eng.Guard.Release(ctx, key); rerr != nil {
			eng.Logger.Warn("guard release failed", "err", rerr, "key", key)
		}
	}()

	handler, ok := eng.Handlers[tok.Action]
	if !ok {
		return fmt.Errorf("no handler for callback action %q", tok.Action)
	}
	return handler(ctx, tok)
}

func (eng *Engine) executeMessageDecision(ctx context.Context, msg *risk.Message, assessment *risk.Assessment, decision Decision, settings *store.GroupSettings) error {
	switch decision.Action {
	case ActionAllow:
		if !assessment.FailSafe && assessment.Band == risk.BandLow {
			if _, err := eng.Trust.Update(ctx, msg.UserID, msg.GroupID, trust.Delta{Positive: 1}); err != nil {
				eng.Logger.Warn("positive trust update failed", "err", err, "user_id", msg.UserID)
			}
		}
		return nil

	case ActionSoftWarn:
		_, err := eng.Client.SendMessage(ctx, msg.GroupID, fmt.Sprintf("@%d please keep it within the group rules", msg.UserID))
		return err

	case ActionDeleteWarn:
		if err := eng.Client.DeleteMessage(ctx, msg.GroupID, msg.MessageID); err != nil {
			return err
		}
		count, err := eng.Store.IncrementWarning(ctx, msg.GroupID, msg.UserID)
		if err != nil {
			eng.Logger.Error("warning increment failed", "err", err, "user_id", msg.UserID)
		}
		if _, err := eng.Trust.Update(ctx, msg.UserID, msg.GroupID, trust.Delta{
			Violations: 1,
			Severity:   severityFor(assessment.Band),
		}); err != nil {
			eng.Logger.Warn("trust update failed", "err", err, "user_id", msg.UserID)
		}
		_, err = eng.Client.SendMessage(ctx, msg.GroupID,
			fmt.Sprintf("message removed (warning %d/%d)", count, settings.MaxWarnings))
		return err

	case ActionDeleteMuteNotify:
		if err := eng.Client.DeleteMessage(ctx, msg.GroupID, msg.MessageID); err != nil {
			return err
		}
		if err := eng.Client.MuteUser(ctx, msg.GroupID, msg.UserID, time.Now().Add(decision.Duration)); err != nil {
			return err
		}
		if decision.Escalated {
			if err := eng.Store.ResetWarnings(ctx, msg.GroupID, msg.UserID); err != nil {
				eng.Logger.Warn("warning reset failed", "err", err, "user_id", msg.UserID)
			}
		}
		if _, err := eng.Trust.Update(ctx, msg.UserID, msg.GroupID, trust.Delta{
			Violations: 1,
			Mutes:      1,
			Severity:   severityFor(assessment.Band),
		}); err != nil {
			eng.Logger.Warn("trust update failed", "err", err, "user_id", msg.UserID)
		}
		eng.notify(ctx, fmt.Sprintf("muted user %d in group %d: %s", msg.UserID, msg.GroupID, decision.Reason))
		_, err := eng.Client.SendMessage(ctx, msg.GroupID,
			fmt.Sprintf("user muted for %s: %s", decision.Duration, decision.Reason))
		return err

	case ActionBan:
		if err := eng.Client.DeleteMessage(ctx, msg.GroupID, msg.MessageID); err != nil {
			eng.Logger.Warn("delete before ban failed", "err", err, "message_id", msg.MessageID)
		}
		if err := eng.Client.BanUser(ctx, msg.GroupID, msg.UserID); err != nil {
			return err
		}
		if _, err := eng.Trust.Update(ctx, msg.UserID, msg.GroupID, trust.Delta{
			Violations: 1,
			Bans:       1,
			Severity:   trust.SeverityCritical,
		}); err != nil {
			eng.Logger.Warn("trust update failed", "err", err, "user_id", msg.UserID)
		}
		eng.notify(ctx, fmt.Sprintf("banned user %d in group %d: %s", msg.UserID, msg.GroupID, decision.Reason))
		return nil

	case ActionRestrictMedia:
		return eng.Client.RestrictUser(ctx, msg.GroupID, msg.UserID, time.Now().Add(decision.Duration))
	}
	return nil
}

// audit persists one violation row per event stricter than Allow, plus
// fail-safe passes flagged for review.
func (eng *Engine) audit(ctx context.Context, msg *risk.Message, assessment *risk.Assessment, decision Decision, traceID string) {
	if decision.Action == ActionAllow && !assessment.FailSafe {
		return
	}
	if assessment.FailSafe && eng.Flags != nil {
		subject := fmt.Sprintf("user/%d/%d", msg.GroupID, msg.UserID)
		if err := eng.Flags.Add(ctx, subject, []string{"degraded-assessment"}); err != nil {
			eng.Logger.Warn("review flag write failed", "err", err, "subject", subject)
		}
	}
	if err := eng.Store.RecordViolation(ctx, &store.Violation{
		GroupID:   msg.GroupID,
		UserID:    msg.UserID,
		Kind:      topFactor(assessment.Scores),
		Severity:  string(severityFor(assessment.Band)),
		BaseScore: assessment.Base,
		Score:     assessment.Calibrated,
		Band:      string(assessment.Band),
		Action:    string(decision.Action),
		Reason:    decision.Reason,
		TraceID:   traceID,
		CreatedAt: time.Now(),
	}); err != nil {
		eng.Logger.Error("violation persist failed", "err", err, "group_id", msg.GroupID, "user_id", msg.UserID)
	}
}

// isExempt applies the admin (and optional bot) bypass. Admin lists
// are cached; a lookup failure means no exemption.
func (eng *Engine) isExempt(ctx context.Context, msg *risk.Message, settings *store.GroupSettings) (bool, error) {
	member, err := eng.Client.GetChatMember(ctx, msg.GroupID, msg.UserID)
	if err != nil {
		return false, err
	}
	if member == nil {
		return false, nil
	}
	if member.IsBot && !settings.ModerateBots {
		return true, nil
	}
	switch member.Status {
	case chat.StatusOwner, chat.StatusAdministrator:
		return true, nil
	}
	return false, nil
}

// groupSettings loads per-group config through the cache. Settings
// writes must purge "settings"/<group> for changes to take effect.
func (eng *Engine) groupSettings(ctx context.Context, groupID int64) (*store.GroupSettings, error) {
	key := fmt.Sprintf("%d", groupID)
	var cached store.GroupSettings
	hit, err := cachestore.GetJSON(ctx, eng.Cache, "settings", key, &cached)
	if err != nil {
		eng.Logger.Warn("settings cache read failed", "err", err, "group_id", groupID)
	}
	if hit {
		return &cached, nil
	}
	settings, err := eng.Store.GetGroupSettings(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("loading group settings: %w", err)
	}
	if err := cachestore.SetJSON(ctx, eng.Cache, "settings", key, settings); err != nil {
		eng.Logger.Warn("settings cache write failed", "err", err, "group_id", groupID)
	}
	return settings, nil
}

// PurgeGroupSettings drops the cached config after a settings write.
func (eng *Engine) PurgeGroupSettings(ctx context.Context, groupID int64) error {
	return eng.Cache.Purge(ctx, "settings", fmt.Sprintf("%d", groupID))
}

// prompt suppression window used before any group context is known
const fallbackPromptCooldown = time.Minute

func promptCooldown(settings *store.GroupSettings) time.Duration {
	return time.Duration(settings.PromptCooldownSecs) * time.Second
}

func (eng *Engine) promptJoin(ctx context.Context, userID int64, cooldown time.Duration) {
	ok, err := eng.Prompts.ShouldPrompt(ctx, userID, cooldown)
	if err != nil || !ok {
		return
	}
	if _, err := eng.Client.SendMessage(ctx, userID, "join the required channel to use this bot"); err != nil {
		eng.Logger.Debug("join prompt send failed", "err", err, "user_id", userID)
	}
}

func (eng *Engine) notify(ctx context.Context, msg string) {
	if eng.Notifier == nil {
		return
	}
	if err := eng.Notifier.Send(ctx, msg); err != nil {
		eng.Logger.Warn("admin notification failed", "err", err)
	}
}

func raidConfig(settings *store.GroupSettings) raid.Config {
	return raid.Config{
		JoinThreshold:    settings.RaidJoinThreshold,
		Window:           time.Duration(settings.RaidWindowSeconds) * time.Second,
		NewAccountMaxAge: time.Duration(settings.RaidNewAccountDays) * 24 * time.Hour,
		Cooldown:         time.Duration(settings.RaidCooldownSecs) * time.Second,
	}
}

func severityFor(band risk.Band) trust.Severity {
	switch band {
	case risk.BandCritical:
		return trust.SeverityCritical
	case risk.BandHigh:
		return trust.SeverityHigh
	case risk.BandMedium:
		return trust.SeverityMedium
	default:
		return trust.SeverityLow
	}
}

func topFactor(scores map[string]float64) string {
	top, best := "none", 0.0
	for k, v := range scores {
		if v > best {
			top, best = k, v
		}
	}
	return top
}

// newTraceID returns a correlation id linking log lines to the audit
// row for one event.
func newTraceID() string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "unknown"
	}
	return hex.EncodeToString(buf)
}

func rejectionLabel(err error) string {
	switch {
	case errors.Is(err, callback.ErrTamperedSignature):
		return "tampered"
	case errors.Is(err, callback.ErrExpired):
		return "expired"
	case errors.Is(err, callback.ErrOwnerMismatch):
		return "owner_mismatch"
	case errors.Is(err, callback.ErrAlreadyConsumed):
		return "replayed"
	case errors.Is(err, callback.ErrMalformed):
		return "malformed"
	default:
		return "other"
	}
}
