package store

import (
	"time"
)

// TrustScore is the persisted behavioral score for one user. GroupID
// zero means the score is scoped globally; per-group scoping stores
// one row per (user, group).
type TrustScore struct {
	UserID    int64 `gorm:"primaryKey;autoIncrement:false"`
	GroupID   int64 `gorm:"primaryKey;autoIncrement:false"`
	Score     float64
	UpdatedAt time.Time
}

// GroupSettings is the immutable per-group moderation config. Loaded
// once per event and cached; changes require an explicit settings
// write followed by a cache purge.
type GroupSettings struct {
	GroupID int64 `gorm:"primaryKey;autoIncrement:false"`

	// risk score band thresholds (0-100 scale)
	ScoreCritical float64 `gorm:"default:85"`
	ScoreHigh     float64 `gorm:"default:70"`
	ScoreMedium   float64 `gorm:"default:50"`

	// trust-gated restrictions
	TrustRestrictMedia float64 `gorm:"default:25"`
	TrustAutoBan       float64 `gorm:"default:10"`

	// anti-raid parameters
	RaidJoinThreshold  int `gorm:"default:10"`
	RaidWindowSeconds  int `gorm:"default:30"`
	RaidNewAccountDays int `gorm:"default:7"`
	RaidCooldownSecs   int `gorm:"default:600"`

	// callback token lifetime
	CallbackTTLSeconds int `gorm:"default:300"`

	// per-(user, action) rate limiting
	RateLimitPerMinute int `gorm:"default:20"`
	// force-join re-prompt suppression
	PromptCooldownSecs int `gorm:"default:60"`

	// warning escalation
	MaxWarnings int `gorm:"default:3"`

	// trust decay tuning
	TrustBaseline       float64 `gorm:"default:50"`
	TrustDecayPerWeek   float64 `gorm:"default:2"`
	TrustDecayGraceDays int     `gorm:"default:7"`

	// when true, messages from other bots are scored too
	ModerateBots bool `gorm:"default:true"`

	UpdatedAt time.Time
}

// DefaultGroupSettings returns the config used before a group has a
// persisted row. Values mirror the gorm column defaults.
func DefaultGroupSettings(groupID int64) *GroupSettings {
	return &GroupSettings{
		GroupID:             groupID,
		ScoreCritical:       85,
		ScoreHigh:           70,
		ScoreMedium:         50,
		TrustRestrictMedia:  25,
		TrustAutoBan:        10,
		RaidJoinThreshold:   10,
		RaidWindowSeconds:   30,
		RaidNewAccountDays:  7,
		RaidCooldownSecs:    600,
		CallbackTTLSeconds:  300,
		RateLimitPerMinute:  20,
		PromptCooldownSecs:  60,
		MaxWarnings:         3,
		TrustBaseline:       50,
		TrustDecayPerWeek:   2,
		TrustDecayGraceDays: 7,
		ModerateBots:        true,
	}
}

// Violation is the audit record for one enforced decision. One row per
// event that ended in anything stricter than Allow, plus fail-safe
// events flagged for review.
type Violation struct {
	ID        uint  `gorm:"primaryKey"`
	GroupID   int64 `gorm:"index:idx_violation_subject"`
	UserID    int64 `gorm:"index:idx_violation_subject"`
	Kind      string
	Severity  string
	BaseScore float64
	Score     float64
	Band      string
	Action    string
	Reason    string
	TraceID   string
	CreatedAt time.Time `gorm:"index"`
}

// RaidEvent records one raid-state transition for a group.
type RaidEvent struct {
	ID          uint  `gorm:"primaryKey"`
	GroupID     int64 `gorm:"index"`
	State       string
	JoinCount   int
	NewAccounts int
	Reason      string
	CreatedAt   time.Time
}

// Warning tracks the per-(group, user) warning counter used for
// escalation past max_warnings.
type Warning struct {
	GroupID   int64 `gorm:"primaryKey;autoIncrement:false"`
	UserID    int64 `gorm:"primaryKey;autoIncrement:false"`
	Count     int
	UpdatedAt time.Time
}
