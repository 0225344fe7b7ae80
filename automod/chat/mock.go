package chat

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MockClient is an in-memory transport double for tests and local
// runs. Actions are appended to Calls in invocation order.
type MockClient struct {
	lk sync.Mutex

	// membership per (chatID, userID)
	members map[string]*Member
	admins  map[int64][]Member

	// when set, every call fails with this error
	Err error

	Calls  []string
	nextID int64
}

func NewMockClient() *MockClient {
	return &MockClient{
		members: make(map[string]*Member),
		admins:  make(map[int64][]Member),
	}
}

var _ Client = (*MockClient)(nil)

func memberKey(chatID, userID int64) string {
	return fmt.Sprintf("%d/%d", chatID, userID)
}

func (c *MockClient) AddMember(chatID int64, m Member) {
	c.lk.Lock()
	defer c.lk.Unlock()
	cp := m
	c.members[memberKey(chatID, m.UserID)] = &cp
	if m.Status == StatusAdministrator || m.Status == StatusOwner {
		c.admins[chatID] = append(c.admins[chatID], cp)
	}
}

func (c *MockClient) record(format string, args ...any) {
	c.Calls = append(c.Calls, fmt.Sprintf(format, args...))
}

func (c *MockClient) CallLog() []string {
	c.lk.Lock()
	defer c.lk.Unlock()
	out := make([]string, len(c.Calls))
	copy(out, c.Calls)
	return out
}

func (c *MockClient) SendMessage(ctx context.Context, chatID int64, text string) (int64, error) {
	c.lk.Lock()
	defer c.lk.Unlock()
	if c.Err != nil {
		return 0, c.Err
	}
	c.nextID++
	c.record("send/%d", chatID)
	return c.nextID, nil
}

func (c *MockClient) DeleteMessage(ctx context.Context, chatID, messageID int64) error {
	c.lk.Lock()
	defer c.lk.Unlock()
	if c.Err != nil {
		return c.Err
	}
	c.record("delete/%d/%d", chatID, messageID)
	return nil
}

func (c *MockClient) EditMessage(ctx context.Context, chatID, messageID int64, text string) error {
	c.lk.Lock()
	defer c.lk.Unlock()
	if c.Err != nil {
		return c.Err
	}
	c.record("edit/%d/%d", chatID, messageID)
	return nil
}

func (c *MockClient) RestrictUser(ctx context.Context, chatID, userID int64, until time.Time) error {
	c.lk.Lock()
	defer c.lk.Unlock()
	if c.Err != nil {
		return c.Err
	}
	c.record("restrict/%d/%d", chatID, userID)
	return nil
}

func (c *MockClient) MuteUser(ctx context.Context, chatID, userID int64, until time.Time) error {
	c.lk.Lock()
	defer c.lk.Unlock()
	if c.Err != nil {
		return c.Err
	}
	c.record("mute/%d/%d", chatID, userID)
	return nil
}

func (c *MockClient) BanUser(ctx context.Context, chatID, userID int64) error {
	c.lk.Lock()
	defer c.lk.Unlock()
	if c.Err != nil {
		return c.Err
	}
	c.record("ban/%d/%d", chatID, userID)
	return nil
}

func (c *MockClient) GetChatAdmins(ctx context.Context, chatID int64) ([]Member, error) {
	c.lk.Lock()
	defer c.lk.Unlock()
	if c.Err != nil {
		return nil, c.Err
	}
	return c.admins[chatID], nil
}

func (c *MockClient) GetChatMember(ctx context.Context, chatID, userID int64) (*Member, error) {
	c.lk.Lock()
	defer c.lk.Unlock()
	if c.Err != nil {
		return nil, c.Err
	}
	m, ok := c.members[memberKey(chatID, userID)]
	if !ok {
		return &Member{UserID: userID, Status: StatusLeft}, nil
	}
	cp := *m
	return &cp, nil
}
