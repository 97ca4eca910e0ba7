package alerts

import (
	"context"
	"fmt"
	"net/http"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"github.com/ajitpratap0/titanfleet/internal/config"
)

// telegramTimeout bounds each Bot API call; the underlying client has no
// default timeout.
const telegramTimeout = 10 * time.Second

// TelegramAlerter sends alerts via a Telegram bot to a fixed set of
// chats.
type TelegramAlerter struct {
	api     *tgbotapi.BotAPI
	chatIDs []int64
	logger  zerolog.Logger
}

// NewTelegramAlerter creates a new Telegram-based alerter. The
// constructor verifies the token against the Bot API.
func NewTelegramAlerter(botToken string, chatIDs []int64) (*TelegramAlerter, error) {
	if botToken == "" {
		return nil, fmt.Errorf("bot token is required")
	}

	client := &http.Client{Timeout: telegramTimeout}
	api, err := tgbotapi.NewBotAPIWithClient(botToken, tgbotapi.APIEndpoint, client)
	if err != nil {
		return nil, fmt.Errorf("create bot API: %w", err)
	}

	logger := config.NewLogger("telegram")
	logger.Info().
		Str("bot_username", api.Self.UserName).
		Int("chat_count", len(chatIDs)).
		Msg("Telegram alerter initialized")

	return &TelegramAlerter{
		api:     api,
		chatIDs: chatIDs,
		logger:  logger,
	}, nil
}

// Send sends an alert to every configured chat. Chats fail
// independently; the error is returned only when no chat received the
// alert.
func (t *TelegramAlerter) Send(ctx context.Context, alert Alert) error {
	if len(t.chatIDs) == 0 {
		t.logger.Warn().Msg("No Telegram chat IDs configured, skipping alert")
		return nil
	}

	message := t.formatAlert(alert)

	var lastErr error
	successCount := 0

	for _, chatID := range t.chatIDs {
		msg := tgbotapi.NewMessage(chatID, message)
		msg.ParseMode = "Markdown"

		if _, err := t.api.Send(msg); err != nil {
			t.logger.Error().
				Err(err).
				Int64("chat_id", chatID).
				Str("alert_title", alert.Title).
				Msg("Failed to send Telegram alert")
			lastErr = err
			continue
		}

		successCount++
	}

	if successCount == 0 && lastErr != nil {
		return fmt.Errorf("failed to send alert to any chat: %w", lastErr)
	}

	t.logger.Debug().
		Int("success_count", successCount).
		Int("total_chats", len(t.chatIDs)).
		Str("alert_title", alert.Title).
		Msg("Telegram alert sent")

	return nil
}

// formatAlert formats an alert for Telegram
func (t *TelegramAlerter) formatAlert(alert Alert) string {
	var emoji string
	switch alert.Severity {
	case SeverityCritical:
		emoji = "🚨"
	case SeverityWarning:
		emoji = "⚠️"
	case SeverityInfo:
		emoji = "ℹ️"
	default:
		emoji = "📢"
	}

	message := fmt.Sprintf("%s *%s*\n\n%s", emoji, alert.Title, alert.Message)

	if len(alert.Metadata) > 0 {
		message += "\n\n*Details:*"
		for key, value := range alert.Metadata {
			message += fmt.Sprintf("\n• %s: `%v`", key, value)
		}
	}

	message += fmt.Sprintf("\n\n_Time: %s_", alert.Timestamp.Format("2006-01-02 15:04:05"))

	return message
}
