package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

type leveledSlog struct {
	inner *slog.Logger
}

// re-writes HTTP client ERROR to WARN level (because of retries)
func (l leveledSlog) Error(msg string, keysAndValues ...interface{}) {
	l.inner.Warn(msg, keysAndValues...)
}

func (l leveledSlog) Warn(msg string, keysAndValues ...interface{}) {
	l.inner.Warn(msg, keysAndValues...)
}

func (l leveledSlog) Info(msg string, keysAndValues ...interface{}) {
	l.inner.Info(msg, keysAndValues...)
}

func (l leveledSlog) Debug(msg string, keysAndValues ...interface{}) {
	l.inner.Debug(msg, keysAndValues...)
}

// HTTPClient talks to a bot-API style messaging backend: one POST per
// method, JSON in, {"ok": bool, "result": ...} out. Connection errors
// and 5xx are retried.
type HTTPClient struct {
	Host   string
	Token  string
	Client *http.Client
	Logger *slog.Logger
}

func NewHTTPClient(host, token string, logger *slog.Logger) *HTTPClient {
	if logger == nil {
		logger = slog.Default()
	}
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = 2
	retryClient.RetryWaitMin = 500 * time.Millisecond
	retryClient.RetryWaitMax = 5 * time.Second
	retryClient.Logger = retryablehttp.LeveledLogger(leveledSlog{logger})
	client := retryClient.StandardClient()
	client.Timeout = 15 * time.Second
	return &HTTPClient{
		Host:   host,
		Token:  token,
		Client: client,
		Logger: logger,
	}
}

var _ Client = (*HTTPClient)(nil)

type apiResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	Description string          `json:"description"`
}

func (c *HTTPClient) call(ctx context.Context, method string, params any, out any) error {
	body, err := json.Marshal(params)
	if err != nil {
		return err
	}
	url := fmt.Sprintf("%s/bot%s/%s", c.Host, c.Token, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.Client.Do(req)
	if err != nil {
		return fmt.Errorf("transport %s: %w", method, err)
	}
	defer resp.Body.Close()

	var parsed apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return fmt.Errorf("decoding %s response: %w", method, err)
	}
	if !parsed.OK {
		return fmt.Errorf("transport %s failed: %s", method, parsed.Description)
	}
	if out != nil && len(parsed.Result) > 0 {
		if err := json.Unmarshal(parsed.Result, out); err != nil {
			return fmt.Errorf("decoding %s result: %w", method, err)
		}
	}
	return nil
}

type wireMember struct {
	User struct {
		ID       int64  `json:"id"`
		Username string `json:"username"`
		IsBot    bool   `json:"is_bot"`
	} `json:"user"`
	Status string `json:"status"`
}

func (m *wireMember) toMember() Member {
	return Member{
		UserID:   m.User.ID,
		Username: m.User.Username,
		Status:   MemberStatus(m.Status),
		IsBot:    m.User.IsBot,
	}
}

func (c *HTTPClient) SendMessage(ctx context.Context, chatID int64, text string) (int64, error) {
	var result struct {
		MessageID int64 `json:"message_id"`
	}
	err := c.call(ctx, "sendMessage", map[string]any{
		"chat_id": chatID,
		"text":    text,
	}, &result)
	return result.MessageID, err
}

func (c *HTTPClient) DeleteMessage(ctx context.Context, chatID, messageID int64) error {
	return c.call(ctx, "deleteMessage", map[string]any{
		"chat_id":    chatID,
		"message_id": messageID,
	}, nil)
}

func (c *HTTPClient) EditMessage(ctx context.Context, chatID, messageID int64, text string) error {
	return c.call(ctx, "editMessageText", map[string]any{
		"chat_id":    chatID,
		"message_id": messageID,
		"text":       text,
	}, nil)
}

func (c *HTTPClient) RestrictUser(ctx context.Context, chatID, userID int64, until time.Time) error {
	return c.call(ctx, "restrictChatMember", map[string]any{
		"chat_id":    chatID,
		"user_id":    userID,
		"until_date": until.Unix(),
		"permissions": map[string]bool{
			"can_send_messages":       true,
			"can_send_other_messages": false,
			"can_send_photos":         false,
			"can_send_videos":         false,
		},
	}, nil)
}

func (c *HTTPClient) MuteUser(ctx context.Context, chatID, userID int64, until time.Time) error {
	return c.call(ctx, "restrictChatMember", map[string]any{
		"chat_id":    chatID,
		"user_id":    userID,
		"until_date": until.Unix(),
		"permissions": map[string]bool{
			"can_send_messages": false,
		},
	}, nil)
}

func (c *HTTPClient) BanUser(ctx context.Context, chatID, userID int64) error {
	return c.call(ctx, "banChatMember", map[string]any{
		"chat_id": chatID,
		"user_id": userID,
	}, nil)
}

func (c *HTTPClient) GetChatAdmins(ctx context.Context, chatID int64) ([]Member, error) {
	var raw []wireMember
	if err := c.call(ctx, "getChatAdministrators", map[string]any{
		"chat_id": chatID,
	}, &raw); err != nil {
		return nil, err
	}
	out := make([]Member, len(raw))
	for i := range raw {
		out[i] = raw[i].toMember()
	}
	return out, nil
}

func (c *HTTPClient) GetChatMember(ctx context.Context, chatID, userID int64) (*Member, error) {
	var raw wireMember
	if err := c.call(ctx, "getChatMember", map[string]any{
		"chat_id": chatID,
		"user_id": userID,
	}, &raw); err != nil {
		return nil, err
	}
	m := raw.toMember()
	// the wire format calls the owner "creator"
	if m.Status == "creator" {
		m.Status = StatusOwner
	}
	if m.Status == "kicked" {
		m.Status = StatusBanned
	}
	return &m, nil
}
