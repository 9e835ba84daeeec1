package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// CommandHandler processes one admin command line and returns the reply text.
type CommandHandler interface {
	Handle(ctx context.Context, line string) string
}

// Bot long-polls the Telegram getUpdates API and dispatches privileged
// commands from the admin chat to the command handler.
type Bot struct {
	botToken    string
	adminChatID string
	adminUserID int64
	handler     CommandHandler
	notifier    *Notifier
	client      *http.Client
	logger      *slog.Logger

	offset int64
}

// NewBot wires the admin command transport.
func NewBot(botToken, adminChatID string, adminUserID int64, handler CommandHandler, notifier *Notifier, logger *slog.Logger) *Bot {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bot{
		botToken:    botToken,
		adminChatID: adminChatID,
		adminUserID: adminUserID,
		handler:     handler,
		notifier:    notifier,
		// Long-poll timeout is 30s; leave headroom on the client.
		client: &http.Client{Timeout: 40 * time.Second},
		logger: logger,
	}
}

type update struct {
	UpdateID int64 `json:"update_id"`
	Message  *struct {
		Text string `json:"text"`
		Chat struct {
			ID int64 `json:"id"`
		} `json:"chat"`
		From *struct {
			ID int64 `json:"id"`
		} `json:"from"`
	} `json:"message"`
}

// Run polls for updates until the context is cancelled.
func (b *Bot) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		updates, err := b.getUpdates(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			b.logger.Warn("getUpdates failed", "error", err)
			time.Sleep(5 * time.Second)
			continue
		}

		for _, u := range updates {
			b.offset = u.UpdateID + 1
			b.dispatch(ctx, u)
		}
	}
}

func (b *Bot) getUpdates(ctx context.Context) ([]update, error) {
	endpoint := fmt.Sprintf("%s/bot%s/getUpdates", apiBase, b.botToken)
	form := url.Values{}
	form.Set("timeout", "30")
	form.Set("offset", strconv.FormatInt(b.offset, 10))
	form.Set("allowed_updates", `["message"]`)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("telegram error: %s", resp.Status)
	}

	var parsed struct {
		OK     bool     `json:"ok"`
		Result []update `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode updates: %w", err)
	}
	if !parsed.OK {
		return nil, fmt.Errorf("telegram returned not ok")
	}
	return parsed.Result, nil
}

func (b *Bot) dispatch(ctx context.Context, u update) {
	if u.Message == nil || u.Message.From == nil {
		return
	}
	if strconv.FormatInt(u.Message.Chat.ID, 10) != b.adminChatID {
		return
	}
	if b.adminUserID != 0 && u.Message.From.ID != b.adminUserID {
		b.logger.Warn("ignoring command from non-admin user", "user", u.Message.From.ID)
		return
	}

	line := strings.TrimSpace(u.Message.Text)
	if !strings.HasPrefix(line, "/") {
		return
	}

	reply := b.handler.Handle(ctx, line)
	if reply == "" {
		return
	}
	if err := b.notifier.sendMessage(ctx, b.adminChatID, reply); err != nil {
		b.logger.Warn("failed to send command reply", "error", err)
	}
}
