// Package notify reports mirror failures to an operator chat.
package notify

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"strings"

	"spotmirror/internal/mirror"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// maxListed caps how many failed followers one message names.
const maxListed = 20

// Telegram sends failure summaries to one chat.
type Telegram struct {
	bot    *tgbotapi.BotAPI
	chatID int64
	logger *slog.Logger
}

// NewTelegram authorizes the bot against the public Bot API.
func NewTelegram(token string, chatID int64, logger *slog.Logger) (*Telegram, error) {
	return NewTelegramWithEndpoint(token, tgbotapi.APIEndpoint, chatID, logger)
}

// NewTelegramWithEndpoint is NewTelegram against a custom Bot API endpoint,
// formatted like tgbotapi.APIEndpoint.
func NewTelegramWithEndpoint(token, endpoint string, chatID int64, logger *slog.Logger) (*Telegram, error) {
	bot, err := tgbotapi.NewBotAPIWithAPIEndpoint(token, endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to authorize telegram bot: %w", err)
	}

	logger.Info("✅ Bot authorized", slog.String("username", bot.Self.UserName))

	return &Telegram{
		bot:    bot,
		chatID: chatID,
		logger: logger,
	}, nil
}

// NotifyFailures sends a summary of the failed followers of result.
// Runs without failures send nothing, aborted runs always notify.
func (t *Telegram) NotifyFailures(_ context.Context, result mirror.ExecutionResult) error {
	if result.FailedCount == 0 && result.Error == "" {
		return nil
	}

	msg := tgbotapi.NewMessage(t.chatID, FormatFailures(result))
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true

	if _, err := t.bot.Send(msg); err != nil {
		return fmt.Errorf("failed to send telegram message: %w", err)
	}

	t.logger.Debug("Failure notification sent",
		slog.String("trade", result.TradeID),
		slog.Int("failed", result.FailedCount))

	return nil
}

// FormatFailures renders result as an HTML message.
func FormatFailures(result mirror.ExecutionResult) string {
	var b strings.Builder

	fmt.Fprintf(&b, "⚠️ <b>Mirror %s %s</b>\n", html.EscapeString(result.Action), html.EscapeString(result.Status()))
	fmt.Fprintf(&b, "Trade <code>%s</code> %s %s\n",
		html.EscapeString(result.TradeID),
		html.EscapeString(result.Pair),
		html.EscapeString(result.Side))
	fmt.Fprintf(&b, "✅ %d  ❌ %d  ⏭ %d\n", result.SuccessCount, result.FailedCount, result.SkippedCount)
	if result.Error != "" {
		fmt.Fprintf(&b, "Run aborted: %s\n", html.EscapeString(result.Error))
	}

	listed := 0
	for _, r := range result.Results {
		if r.Success || r.Skipped {
			continue
		}
		if listed == maxListed {
			fmt.Fprintf(&b, "\n… and %d more", result.FailedCount-listed)
			break
		}
		fmt.Fprintf(&b, "\n• <b>%s</b> (%s): %s",
			html.EscapeString(r.ProfileName),
			html.EscapeString(r.Owner),
			html.EscapeString(r.Error))
		listed++
	}

	return b.String()
}
