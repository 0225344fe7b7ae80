package engine

import (
	"fmt"
	"time"

	"github.com/Oxeigns/Rak/automod/raid"
	"github.com/Oxeigns/Rak/automod/risk"
	"github.com/Oxeigns/Rak/automod/store"
)

type Action string

const (
	ActionAllow            Action = "allow"
	ActionSoftWarn         Action = "soft-warn"
	ActionDeleteWarn       Action = "delete-warn"
	ActionDeleteMuteNotify Action = "delete-mute-notify"
	ActionBan              Action = "ban"
	ActionRestrictMedia    Action = "restrict-media"
	ActionRejectJoin       Action = "reject-join"
	ActionRestrictJoin     Action = "restrict-join"
)

// Decision is the executor's verdict for one event. Mapping inputs to
// a decision is pure; carrying it out happens in the engine.
type Decision struct {
	Action Action
	Reason string
	// for mute and restrict actions
	Duration time.Duration
	// escalated past the warning budget
	Escalated bool
}

// default enforcement durations
const (
	muteDuration     = 1 * time.Hour
	restrictDuration = 24 * time.Hour
)

// MessageInput is everything the message decision depends on.
type MessageInput struct {
	Band     risk.Band
	FailSafe bool
	Trust    float64
	HasMedia bool
	// warnings already on record before this event
	Warnings int
}

// DecideMessage maps a scored message to an enforcement action.
// Precedence: trust-gated auto-ban beats band mapping, the warning
// budget escalates a high-band delete, and low-trust media posting is
// restricted even at low band. Fail-safe assessments always allow.
func DecideMessage(in MessageInput, settings *store.GroupSettings) Decision {
	if in.FailSafe {
		return Decision{Action: ActionAllow, Reason: "assessment degraded, flagged for review"}
	}

	if in.Band != risk.BandLow && in.Trust <= settings.TrustAutoBan {
		return Decision{
			Action: ActionBan,
			Reason: fmt.Sprintf("violation at trust %.0f (auto-ban threshold %.0f)", in.Trust, settings.TrustAutoBan),
		}
	}

	switch in.Band {
	case risk.BandCritical:
		return Decision{Action: ActionDeleteMuteNotify, Reason: "critical risk", Duration: muteDuration}
	case risk.BandHigh:
		if in.Warnings+1 > settings.MaxWarnings {
			return Decision{
				Action:    ActionDeleteMuteNotify,
				Reason:    fmt.Sprintf("high risk, warning budget exhausted (%d)", settings.MaxWarnings),
				Duration:  muteDuration,
				Escalated: true,
			}
		}
		return Decision{Action: ActionDeleteWarn, Reason: "high risk"}
	case risk.BandMedium:
		return Decision{Action: ActionSoftWarn, Reason: "medium risk"}
	}

	if in.HasMedia && in.Trust <= settings.TrustRestrictMedia {
		return Decision{
			Action:   ActionRestrictMedia,
			Reason:   fmt.Sprintf("media from trust %.0f (restrict threshold %.0f)", in.Trust, settings.TrustRestrictMedia),
			Duration: restrictDuration,
		}
	}
	return Decision{Action: ActionAllow}
}

// JoinInput is everything the join decision depends on.
type JoinInput struct {
	Raid raid.State
	// account younger than the configured new-account age
	NewAccount bool
}

// DecideJoin maps a join event to an action. Raid state overrides
// everything else: LOCKDOWN rejects all joins regardless of who is
// joining.
func DecideJoin(in JoinInput, settings *store.GroupSettings) Decision {
	switch in.Raid {
	case raid.StateLockdown:
		return Decision{Action: ActionRejectJoin, Reason: "group in lockdown"}
	case raid.StateAlert:
		if in.NewAccount {
			return Decision{Action: ActionRestrictJoin, Reason: "new account during raid alert", Duration: restrictDuration}
		}
	}
	return Decision{Action: ActionAllow}
}
