package services

import (
	"context"
	"errors"
	"fmt"

	"greenhouse/config"

	"go.uber.org/zap"
)

// NewChannel builds the notification channel selected by NOTIFY_CHANNEL.
// rabbit is only used by the amqp channel and may be nil otherwise.
func NewChannel(ctx context.Context, cfg *config.Config, rabbit *RabbitMQService, logger *zap.Logger) (Channel, error) {
	logger = logger.With(zap.String("channel", cfg.NotifyChannel))

	switch cfg.NotifyChannel {
	case config.ChannelNone, "":
		return NewNoopChannel(logger), nil
	case config.ChannelTelegram:
		return NewTelegramChannel(cfg.TelegramBotToken, cfg.TelegramChatID, logger)
	case config.ChannelPushbullet:
		return NewPushbulletChannel(cfg.PushbulletToken, logger), nil
	case config.ChannelWhatsApp:
		return NewWhatsAppChannel(cfg.CallMeBotPhone, cfg.CallMeBotAPIKey, logger), nil
	case config.ChannelWebhook:
		return NewWebhookChannel(cfg.WebhookURL, logger), nil
	case config.ChannelAMQP:
		if rabbit == nil {
			return nil, errors.New("amqp channel requires a RabbitMQ connection")
		}
		return NewAMQPChannel(rabbit, cfg.RabbitMQAlertRoutingKey), nil
	case config.ChannelSNS:
		return NewSNSChannel(ctx, cfg.AWSRegion, cfg.SNSTopicArn, logger)
	default:
		return nil, fmt.Errorf("unknown notification channel %q", cfg.NotifyChannel)
	}
}
