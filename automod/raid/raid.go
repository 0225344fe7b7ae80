// Package raid detects coordinated join bursts per group and owns the
// per-group raid state machine (NORMAL -> ALERT -> LOCKDOWN).
//
// The detector only computes state and emits an action intent; slow
// mode, join restriction, and admin pings are executed by the caller
// through the messaging collaborator. Join timestamps live in the
// shared counter store, so all bot instances see the same window.
package raid

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Oxeigns/Rak/automod/cachestore"
	"github.com/Oxeigns/Rak/automod/chat"
	"github.com/Oxeigns/Rak/automod/countstore"
)

type State string

const (
	StateNormal   State = "normal"
	StateAlert    State = "alert"
	StateLockdown State = "lockdown"
)

func (s State) rank() int {
	switch s {
	case StateAlert:
		return 1
	case StateLockdown:
		return 2
	default:
		return 0
	}
}

// Escalated reports whether the state calls for any protective measures.
func (s State) Escalated() bool {
	return s == StateAlert || s == StateLockdown
}

type Config struct {
	JoinThreshold    int
	Window           time.Duration
	NewAccountMaxAge time.Duration
	// quiet period after the last threshold-crossing join before the
	// group drops back to NORMAL
	Cooldown time.Duration
}

// Intent describes the protective measures a transition calls for.
type Intent struct {
	EnableSlowMode bool
	RestrictJoins  bool
	NotifyAdmins   bool
	Reason         string
}

type Result struct {
	Previous    State
	State       State
	JoinCount   int
	NewAccounts int
	// non-nil only when this join elevated the state
	Intent *Intent
}

// counter namespaces
const (
	counterJoin    = "join"
	counterJoinNew = "join-new"
)

type raidStatus struct {
	State       State     `json:"state"`
	LastTrigger time.Time `json:"last_trigger"`
}

type Detector struct {
	Counters countstore.CountStore
	Cache    cachestore.CacheStore
	Logger   *slog.Logger

	now func() time.Time
}

func NewDetector(counters countstore.CountStore, cache cachestore.CacheStore, logger *slog.Logger) *Detector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{
		Counters: counters,
		Cache:    cache,
		Logger:   logger,
		now:      time.Now,
	}
}

func groupKey(groupID int64) string {
	return fmt.Sprintf("%d", groupID)
}

// RecordJoin tracks one join event and evaluates the state machine.
// Transitions are monotonic within this single evaluation: the state
// can only hold or rise, never oscillate.
func (d *Detector) RecordJoin(ctx context.Context, groupID int64, member chat.Member, config Config) (*Result, error) {
	joinCount, err := d.Counters.AddToWindow(ctx, counterJoin, groupKey(groupID), config.Window)
	if err != nil {
		return nil, fmt.Errorf("recording join: %w", err)
	}

	newCount := 0
	if member.AccountCreatedAt != nil && d.now().Sub(*member.AccountCreatedAt) < config.NewAccountMaxAge {
		newCount, err = d.Counters.AddToWindow(ctx, counterJoinNew, groupKey(groupID), config.Window)
		if err != nil {
			return nil, fmt.Errorf("recording new-account join: %w", err)
		}
	} else {
		newCount, err = d.Counters.GetWindowCount(ctx, counterJoinNew, groupKey(groupID), config.Window)
		if err != nil {
			return nil, fmt.Errorf("reading new-account window: %w", err)
		}
	}

	status, err := d.loadStatus(ctx, groupID, config)
	if err != nil {
		return nil, err
	}
	prev := status.State
	next := prev

	if joinCount >= config.JoinThreshold {
		switch {
		case prev == StateNormal && newCount*2 >= config.JoinThreshold:
			// a burst dominated by fresh accounts skips straight to lockdown
			next = StateLockdown
		case prev == StateNormal:
			next = StateAlert
		default:
			// rate kept crossing the threshold while already elevated
			next = StateLockdown
		}
		status.LastTrigger = d.now()
	}

	if next.rank() < prev.rank() {
		// monotonic within one evaluation
		next = prev
	}

	var intent *Intent
	if next != prev {
		intent = intentFor(next, joinCount, newCount)
		d.Logger.Warn("raid state elevated",
			"group_id", groupID,
			"from", prev,
			"to", next,
			"joins", joinCount,
			"new_accounts", newCount,
		)
	}

	status.State = next
	if err := d.saveStatus(ctx, groupID, status); err != nil {
		return nil, err
	}

	return &Result{
		Previous:    prev,
		State:       next,
		JoinCount:   joinCount,
		NewAccounts: newCount,
		Intent:      intent,
	}, nil
}

// State returns the current raid state, applying the cooldown lazily.
func (d *Detector) State(ctx context.Context, groupID int64, config Config) (State, error) {
	status, err := d.loadStatus(ctx, groupID, config)
	if err != nil {
		return StateNormal, err
	}
	return status.State, nil
}

// Reset drops a group back to NORMAL, for explicit admin all-clear.
func (d *Detector) Reset(ctx context.Context, groupID int64) error {
	return d.Cache.Purge(ctx, "raid", groupKey(groupID))
}

func (d *Detector) loadStatus(ctx context.Context, groupID int64, config Config) (*raidStatus, error) {
	var status raidStatus
	hit, err := cachestore.GetJSON(ctx, d.Cache, "raid", groupKey(groupID), &status)
	if err != nil {
		return nil, fmt.Errorf("reading raid state: %w", err)
	}
	if !hit {
		return &raidStatus{State: StateNormal}, nil
	}
	if status.State.Escalated() && d.now().Sub(status.LastTrigger) > config.Cooldown {
		// quiet long enough; stand down
		return &raidStatus{State: StateNormal}, nil
	}
	return &status, nil
}

func (d *Detector) saveStatus(ctx context.Context, groupID int64, status *raidStatus) error {
	if err := cachestore.SetJSON(ctx, d.Cache, "raid", groupKey(groupID), status); err != nil {
		return fmt.Errorf("writing raid state: %w", err)
	}
	return nil
}

func intentFor(state State, joins, newAccounts int) *Intent {
	switch state {
	case StateLockdown:
		return &Intent{
			EnableSlowMode: true,
			RestrictJoins:  true,
			NotifyAdmins:   true,
			Reason:         fmt.Sprintf("lockdown: %d joins in window, %d new accounts", joins, newAccounts),
		}
	case StateAlert:
		return &Intent{
			EnableSlowMode: true,
			NotifyAdmins:   true,
			Reason:         fmt.Sprintf("alert: %d joins in window", joins),
		}
	}
	return nil
}
