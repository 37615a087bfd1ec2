package services

import (
	"context"
	"fmt"
	"html"
	"strconv"
	"strings"
	"time"

	"greenhouse/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// telegramBot is the part of tgbotapi.BotAPI the channel uses.
type telegramBot interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetMe() (tgbotapi.User, error)
}

type TelegramChannel struct {
	bot    telegramBot
	chatID int64
	logger *zap.Logger
}

func NewTelegramChannel(token, chatID string, logger *zap.Logger) (*TelegramChannel, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("error creating telegram bot: %w", err)
	}

	logger.Info("Telegram bot authorized", zap.String("username", bot.Self.UserName))
	return newTelegramChannel(bot, chatID, logger)
}

func newTelegramChannel(bot telegramBot, chatID string, logger *zap.Logger) (*TelegramChannel, error) {
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("error parsing chat ID: %w", err)
	}

	tc := &TelegramChannel{
		bot:    bot,
		chatID: id,
		logger: logger,
	}

	if err := tc.testConnection(); err != nil {
		logger.Error("Telegram connection test failed", zap.Error(err))
		return nil, fmt.Errorf("telegram connection test failed: %w", err)
	}
	return tc, nil
}

// testConnection tests Telegram connection with retry logic
func (tc *TelegramChannel) testConnection() error {
	maxRetries := 3

	for attempt := 1; attempt <= maxRetries; attempt++ {
		_, err := tc.bot.GetMe()
		if err == nil {
			tc.logger.Info("Telegram connection successful")
			return nil
		}

		tc.logger.Warn("Telegram connection failed",
			zap.Int("attempt", attempt),
			zap.Int("max_retries", maxRetries),
			zap.Error(err))

		if attempt < maxRetries {
			time.Sleep(time.Duration(attempt) * time.Second)
		}
	}

	return fmt.Errorf("failed to connect to Telegram after %d attempts", maxRetries)
}

func (tc *TelegramChannel) Name() string { return "telegram" }

// Send posts an HTML message. The bot API has no context support, so the
// call is abandoned (not cancelled) when ctx ends first.
func (tc *TelegramChannel) Send(ctx context.Context, n Notification) error {
	msg := tgbotapi.NewMessage(tc.chatID, formatTelegramMessage(n))
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true

	errCh := make(chan error, 1)
	go func() {
		_, err := tc.bot.Send(msg)
		errCh <- err
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("error sending telegram message: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// formatTelegramMessage creates a mobile-friendly message
func formatTelegramMessage(n Notification) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("<b>%s</b>\n\n", html.EscapeString(n.Title)))

	if n.Event == nil {
		sb.WriteString(html.EscapeString(n.Body))
		return sb.String()
	}

	e := n.Event
	sb.WriteString(fmt.Sprintf("🕐 <b>Time:</b> %s\n", e.FiredAt.Format("2006-01-02 15:04:05")))
	sb.WriteString(fmt.Sprintf("🏷️ <b>Severity:</b> %s\n\n", e.Severity))
	sb.WriteString(html.EscapeString(e.Message))
	sb.WriteString("\n")

	if r := e.Reading; r != nil {
		sb.WriteString("\n📊 <b>Readings:</b>\n")
		sb.WriteString(fmt.Sprintf("📱 Device: %s\n", html.EscapeString(r.DeviceID)))
		sb.WriteString(fmt.Sprintf("🌡️ Temperature: %.1f°C\n", r.Temperature))
		sb.WriteString(fmt.Sprintf("💧 Humidity: %.1f%%\n", r.Humidity))
		sb.WriteString(fmt.Sprintf("🪣 Water level: %.1f%%\n", r.WaterLevel))
		sb.WriteString(fmt.Sprintf("🔋 Battery: %.2fV\n", r.Battery))
	}

	if e.Severity == models.SeverityCritical {
		sb.WriteString("\n🔴 <b>Status:</b> ATTENTION REQUIRED")
	}
	return sb.String()
}
