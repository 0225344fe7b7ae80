package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/Oxeigns/Rak/automod/chat"
	"github.com/Oxeigns/Rak/automod/risk"
)

// long-poll wait; the HTTP timeout must sit above it
const pollTimeout = 30 * time.Second

type update struct {
	UpdateID int64 `json:"update_id"`
	Message  *struct {
		MessageID int64 `json:"message_id"`
		From      *struct {
			ID    int64 `json:"id"`
			IsBot bool  `json:"is_bot"`
		} `json:"from"`
		Chat struct {
			ID int64 `json:"id"`
		} `json:"chat"`
		Text           string            `json:"text"`
		Caption        string            `json:"caption"`
		Photo          []json.RawMessage `json:"photo"`
		Video          *json.RawMessage  `json:"video"`
		Document       *json.RawMessage  `json:"document"`
		NewChatMembers []struct {
			ID       int64  `json:"id"`
			Username string `json:"username"`
			IsBot    bool   `json:"is_bot"`
		} `json:"new_chat_members"`
	} `json:"message"`
	CallbackQuery *struct {
		ID   string `json:"id"`
		From struct {
			ID int64 `json:"id"`
		} `json:"from"`
		Data string `json:"data"`
	} `json:"callback_query"`
}

type updatesResponse struct {
	OK     bool     `json:"ok"`
	Result []update `json:"result"`
}

// RunConsumer long-polls the transport for updates and feeds them to
// the engine. One failed update never stops the loop.
func (s *Server) RunConsumer(ctx context.Context) error {
	client := &http.Client{Timeout: pollTimeout + 10*time.Second}

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		updates, err := s.fetchUpdates(ctx, client)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.logger.Warn("update fetch failed, backing off", "err", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(3 * time.Second):
			}
			continue
		}

		for _, u := range updates {
			s.handleUpdate(ctx, u)
			s.lastSeq = u.UpdateID
		}
	}
}

func (s *Server) fetchUpdates(ctx context.Context, client *http.Client) ([]update, error) {
	url := fmt.Sprintf("%s/bot%s/getUpdates?offset=%d&timeout=%d",
		s.config.TransportHost, s.config.TransportToken, s.lastSeq+1, int(pollTimeout.Seconds()))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("getUpdates failed, status=%d", resp.StatusCode)
	}

	var parsed updatesResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decoding updates: %w", err)
	}
	if !parsed.OK {
		return nil, fmt.Errorf("getUpdates returned not-ok")
	}
	return parsed.Result, nil
}

func (s *Server) handleUpdate(ctx context.Context, u update) {
	switch {
	case u.CallbackQuery != nil:
		if err := s.engine.ProcessCallback(ctx, u.CallbackQuery.Data, u.CallbackQuery.From.ID); err != nil {
			s.logger.Info("callback rejected", "err", err, "user_id", u.CallbackQuery.From.ID)
		}

	case u.Message != nil && len(u.Message.NewChatMembers) > 0:
		for _, m := range u.Message.NewChatMembers {
			member := chat.Member{
				UserID:   m.ID,
				Username: m.Username,
				Status:   chat.StatusMember,
				IsBot:    m.IsBot,
			}
			if _, err := s.engine.ProcessJoin(ctx, u.Message.Chat.ID, member); err != nil {
				s.logger.Error("join processing failed", "err", err, "group_id", u.Message.Chat.ID)
			}
		}

	case u.Message != nil && u.Message.From != nil:
		text := u.Message.Text
		if text == "" {
			text = u.Message.Caption
		}
		hasMedia := len(u.Message.Photo) > 0 || u.Message.Video != nil || u.Message.Document != nil
		if text == "" && !hasMedia {
			return
		}
		msg := &risk.Message{
			GroupID:   u.Message.Chat.ID,
			UserID:    u.Message.From.ID,
			MessageID: u.Message.MessageID,
			Text:      text,
			HasMedia:  hasMedia,
		}
		if _, err := s.engine.ProcessMessage(ctx, msg); err != nil {
			s.logger.Error("message processing failed", "err", err, "group_id", u.Message.Chat.ID)
		}
	}
}
