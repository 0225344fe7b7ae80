package chat

import (
	"context"
	"time"

	"github.com/RussellLuo/slidingwindow"
)

func windowFunc() (slidingwindow.Window, slidingwindow.StopFunc) {
	return slidingwindow.NewLocalWindow()
}

// ThrottledClient caps outbound transport calls with a sliding-window
// limiter, so enforcement bursts (eg raid lockdowns) don't trip the
// transport's own flood control. Calls past the cap spin-wait in small
// increments until a slot opens or the context ends.
type ThrottledClient struct {
	inner   Client
	limiter *slidingwindow.Limiter
}

func NewThrottledClient(inner Client, perSecond int64) *ThrottledClient {
	lim, _ := slidingwindow.NewLimiter(time.Second, perSecond, windowFunc)
	return &ThrottledClient{
		inner:   inner,
		limiter: lim,
	}
}

var _ Client = (*ThrottledClient)(nil)

func (c *ThrottledClient) wait(ctx context.Context) error {
	for !c.limiter.Allow() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(25 * time.Millisecond):
		}
	}
	return nil
}

func (c *ThrottledClient) SendMessage(ctx context.Context, chatID int64, text string) (int64, error) {
	if err := c.wait(ctx); err != nil {
		return 0, err
	}
	return c.inner.SendMessage(ctx, chatID, text)
}

func (c *ThrottledClient) DeleteMessage(ctx context.Context, chatID, messageID int64) error {
	if err := c.wait(ctx); err != nil {
		return err
	}
	return c.inner.DeleteMessage(ctx, chatID, messageID)
}

func (c *ThrottledClient) EditMessage(ctx context.Context, chatID, messageID int64, text string) error {
	if err := c.wait(ctx); err != nil {
		return err
	}
	return c.inner.EditMessage(ctx, chatID, messageID, text)
}

func (c *ThrottledClient) RestrictUser(ctx context.Context, chatID, userID int64, until time.Time) error {
	if err := c.wait(ctx); err != nil {
		return err
	}
	return c.inner.RestrictUser(ctx, chatID, userID, until)
}

func (c *ThrottledClient) MuteUser(ctx context.Context, chatID, userID int64, until time.Time) error {
	if err := c.wait(ctx); err != nil {
		return err
	}
	return c.inner.MuteUser(ctx, chatID, userID, until)
}

func (c *ThrottledClient) BanUser(ctx context.Context, chatID, userID int64) error {
	if err := c.wait(ctx); err != nil {
		return err
	}
	return c.inner.BanUser(ctx, chatID, userID)
}

func (c *ThrottledClient) GetChatAdmins(ctx context.Context, chatID int64) ([]Member, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	return c.inner.GetChatAdmins(ctx, chatID)
}

func (c *ThrottledClient) GetChatMember(ctx context.Context, chatID, userID int64) (*Member, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	return c.inner.GetChatMember(ctx, chatID, userID)
}
