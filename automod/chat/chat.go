// Package chat defines the messaging-transport collaborator. The core
// only issues requests through this interface; delivery, retries at
// the protocol level, and rendering are the transport's problem.
package chat

import (
	"context"
	"time"
)

type MemberStatus string

const (
	StatusOwner         MemberStatus = "owner"
	StatusAdministrator MemberStatus = "administrator"
	StatusMember        MemberStatus = "member"
	StatusRestricted    MemberStatus = "restricted"
	StatusLeft          MemberStatus = "left"
	StatusBanned        MemberStatus = "banned"
)

// IsJoined reports whether the status counts as channel membership for
// the force-join gate.
func (s MemberStatus) IsJoined() bool {
	switch s {
	case StatusOwner, StatusAdministrator, StatusMember:
		return true
	}
	return false
}

type Member struct {
	UserID   int64
	Username string
	Status   MemberStatus
	IsBot    bool
	// account registration time, when the transport exposes it; nil otherwise
	AccountCreatedAt *time.Time
}

// Client is the narrow surface of the messaging transport the core
// uses. Every call can fail with a network or API error; callers treat
// failures as logged, non-fatal events and never assume delivery.
type Client interface {
	SendMessage(ctx context.Context, chatID int64, text string) (int64, error)
	DeleteMessage(ctx context.Context, chatID, messageID int64) error
	EditMessage(ctx context.Context, chatID, messageID int64, text string) error
	RestrictUser(ctx context.Context, chatID, userID int64, until time.Time) error
	MuteUser(ctx context.Context, chatID, userID int64, until time.Time) error
	BanUser(ctx context.Context, chatID, userID int64) error
	GetChatAdmins(ctx context.Context, chatID int64) ([]Member, error)
	GetChatMember(ctx context.Context, chatID, userID int64) (*Member, error)
}
