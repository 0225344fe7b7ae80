// Package callback implements single-use signed tokens for interactive
// moderation prompts, plus the concurrency guard serializing handlers
// for the same interaction.
//
// A token binds one action to one owner, one chat, and one message. It
// survives being embedded in button payloads and URLs, so the format
// is pipe-separated printable fields with a URL-safe base64 signature.
// Consumption happens exactly once across all bot instances: the nonce
// is claimed through the shared lock store at verification time.
package callback

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Oxeigns/Rak/automod/lockstore"
	"github.com/Oxeigns/Rak/automod/setstore"
)

var (
	ErrTamperedSignature = errors.New("callback token signature mismatch")
	ErrExpired           = errors.New("callback token expired")
	ErrOwnerMismatch     = errors.New("callback token belongs to another user")
	ErrAlreadyConsumed   = errors.New("callback token already consumed")
	ErrMalformed         = errors.New("callback token malformed")
)

const (
	tokenVersion = "v1"
	tokenFields  = 8
	nonceBytes   = 12
)

// ShareableActionsSet names the policy set of actions any group member
// may trigger, exempt from the owner check.
const ShareableActionsSet = "shareable-actions"

// Token is the decoded payload of a callback token.
type Token struct {
	Action    string
	OwnerID   int64
	ChatID    int64
	MessageID int64
	IssuedAt  time.Time
	Nonce     string
}

type Service struct {
	secret []byte
	Locks  lockstore.LockStore
	// shareable-action policy; nil means no action is shareable
	Sets setstore.SetStore
	TTL  time.Duration

	// TTLForChat resolves a per-chat token lifetime; nil or a
	// non-positive result falls back to TTL
	TTLForChat func(ctx context.Context, chatID int64) time.Duration

	now func() time.Time
}

func NewService(secret string, locks lockstore.LockStore, sets setstore.SetStore, ttl time.Duration) (*Service, error) {
	if len(secret) < 16 {
		return nil, fmt.Errorf("callback secret too short: %d bytes", len(secret))
	}
	return &Service{
		secret: []byte(secret),
		Locks:  locks,
		Sets:   sets,
		TTL:    ttl,
		now:    time.Now,
	}, nil
}

// Issue mints a signed single-use token. The encoded form is
// "v1|action|owner|chat|message|issued_at|nonce|sig".
func (s *Service) Issue(action string, ownerID, chatID, messageID int64) (string, error) {
	if strings.Contains(action, "|") {
		return "", fmt.Errorf("action %q contains the field separator", action)
	}
	buf := make([]byte, nonceBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}
	nonce := hex.EncodeToString(buf)
	payload := encodePayload(action, ownerID, chatID, messageID, s.now().Unix(), nonce)
	return payload + "|" + s.sign(payload), nil
}

// VerifyAndConsume validates every property of the token and claims
// its nonce atomically. Order matters: the signature check runs first
// so untrusted input never influences any other step, and consumption
// is last so a token failing any check stays unconsumed.
func (s *Service) VerifyAndConsume(ctx context.Context, raw string, callerID int64) (*Token, error) {
	parts := strings.Split(raw, "|")
	if len(parts) != tokenFields || parts[0] != tokenVersion {
		return nil, ErrMalformed
	}
	payload := strings.Join(parts[:tokenFields-1], "|")
	if subtle.ConstantTimeCompare([]byte(s.sign(payload)), []byte(parts[tokenFields-1])) != 1 {
		return nil, ErrTamperedSignature
	}

	tok, err := decodePayload(parts)
	if err != nil {
		return nil, err
	}

	ttl := s.TTL
	if s.TTLForChat != nil {
		if override := s.TTLForChat(ctx, tok.ChatID); override > 0 {
			ttl = override
		}
	}
	age := s.now().Sub(tok.IssuedAt)
	if age > ttl || age < -time.Minute {
		return nil, ErrExpired
	}

	if tok.OwnerID != callerID {
		shareable := false
		if s.Sets != nil {
			shareable, err = s.Sets.InSet(ctx, ShareableActionsSet, tok.Action)
			if err != nil {
				return nil, fmt.Errorf("checking shareable actions: %w", err)
			}
		}
		if !shareable {
			return nil, ErrOwnerMismatch
		}
	}

	// claim the nonce for the token's remaining lifetime; after that
	// the expiry check rejects it anyway
	ok, err := s.Locks.AcquireOnce(ctx, "nonce", tok.Nonce, ttl-age)
	if err != nil {
		return nil, fmt.Errorf("consuming nonce: %w", err)
	}
	if !ok {
		return nil, ErrAlreadyConsumed
	}
	return tok, nil
}

func (s *Service) sign(payload string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(payload))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

func encodePayload(action string, ownerID, chatID, messageID, issuedAt int64, nonce string) string {
	return strings.Join([]string{
		tokenVersion,
		action,
		strconv.FormatInt(ownerID, 10),
		strconv.FormatInt(chatID, 10),
		strconv.FormatInt(messageID, 10),
		strconv.FormatInt(issuedAt, 10),
		nonce,
	}, "|")
}

func decodePayload(parts []string) (*Token, error) {
	owner, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return nil, ErrMalformed
	}
	chat, err := strconv.ParseInt(parts[3], 10, 64)
	if err != nil {
		return nil, ErrMalformed
	}
	message, err := strconv.ParseInt(parts[4], 10, 64)
	if err != nil {
		return nil, ErrMalformed
	}
	issued, err := strconv.ParseInt(parts[5], 10, 64)
	if err != nil {
		return nil, ErrMalformed
	}
	return &Token{
		Action:    parts[1],
		OwnerID:   owner,
		ChatID:    chat,
		MessageID: message,
		IssuedAt:  time.Unix(issued, 0),
		Nonce:     parts[6],
	}, nil
}
