package delivery

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	tele "gopkg.in/telebot.v4"

	"telegram-keyword-notifier/pkg/notifier"
)

// TelegramProvider forwards payloads to a chat through a bot.
type TelegramProvider struct {
	bot    *tele.Bot
	chat   *tele.Chat
	logger *slog.Logger
}

// NewTelegramProvider creates a bot-backed provider. apiURL may be empty for
// the public Bot API.
func NewTelegramProvider(token string, chatID int64, apiURL string, logger *slog.Logger) (*TelegramProvider, error) {
	if strings.TrimSpace(token) == "" {
		return nil, fmt.Errorf("telegram bot token is empty")
	}
	if chatID == 0 {
		return nil, fmt.Errorf("telegram bot chat id is required")
	}

	bot, err := tele.NewBot(tele.Settings{
		Token:   token,
		URL:     apiURL,
		Client:  &http.Client{Timeout: WebhookTimeout},
		Offline: true,
	})
	if err != nil {
		return nil, fmt.Errorf("create bot: %w", err)
	}

	return &TelegramProvider{
		bot:    bot,
		chat:   &tele.Chat{ID: chatID},
		logger: logger,
	}, nil
}

// Name implements Provider.
func (t *TelegramProvider) Name() string {
	return "telegram"
}

// Deliver sends one chat message. The bot API has no per-request context, so
// ctx is only checked before sending.
func (t *TelegramProvider) Deliver(ctx context.Context, p notifier.Payload) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := t.bot.Send(t.chat, formatChatMessage(p), &tele.SendOptions{DisableWebPagePreview: true}); err != nil {
		return fmt.Errorf("bot send: %w", err)
	}
	return nil
}

func formatChatMessage(p notifier.Payload) string {
	var b strings.Builder
	b.WriteString(p.Channel)
	b.WriteString("\n\n")
	b.WriteString(p.Text)
	if p.Link != "" {
		b.WriteString("\n\n")
		b.WriteString(p.Link)
	}
	return b.String()
}
