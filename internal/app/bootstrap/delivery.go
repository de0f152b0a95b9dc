package bootstrap

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	appconfig "github.com/wolfman30/booking-wizard/internal/config"
	"github.com/wolfman30/booking-wizard/internal/events"
	"github.com/wolfman30/booking-wizard/internal/notify"
	"github.com/wolfman30/booking-wizard/pkg/logging"
)

// BuildEventQueue selects the queue booking events are published to. The
// returned close function is never nil.
func BuildEventQueue(ctx context.Context, cfg *appconfig.Config, loader *AWSLoader, logger *logging.Logger) (events.Queue, func() error, error) {
	noop := func() error { return nil }
	switch cfg.EventsBackend {
	case "sqs":
		awsCfg, err := loader.Config(ctx)
		if err != nil {
			return nil, noop, fmt.Errorf("bootstrap: load aws config: %w", err)
		}
		logger.Info("booking events publish to SQS", "queue_url", cfg.BookingEventsQueueURL)
		return events.NewSQSQueue(sqs.NewFromConfig(awsCfg), cfg.BookingEventsQueueURL), noop, nil
	case "rabbitmq":
		queue, closeFn, err := events.DialRabbitQueue(cfg.RabbitMQURL, cfg.RabbitMQQueue)
		if err != nil {
			return nil, noop, err
		}
		logger.Info("booking events publish to RabbitMQ", "queue", cfg.RabbitMQQueue)
		return queue, closeFn, nil
	default:
		logger.Warn("booking events kept in memory; configure EVENTS_BACKEND for durable delivery")
		return events.NewMemoryQueue(1024), noop, nil
	}
}

// BuildEmailSender picks the confirmation mail provider. It returns nil when
// e-mail is disabled.
func BuildEmailSender(ctx context.Context, cfg *appconfig.Config, loader *AWSLoader, logger *logging.Logger) (notify.EmailSender, error) {
	provider := cfg.EmailProvider
	if provider == "auto" {
		switch {
		case cfg.SendGridAPIKey != "":
			provider = "sendgrid"
		case cfg.SESFromEmail != "":
			provider = "ses"
		default:
			provider = "stub"
		}
	}

	switch provider {
	case "none":
		return nil, nil
	case "sendgrid":
		sender := notify.NewSendGridSender(notify.SendGridConfig{
			APIKey:    cfg.SendGridAPIKey,
			FromEmail: cfg.SendGridFromEmail,
			FromName:  cfg.SendGridFromName,
		}, logger)
		if sender == nil {
			return nil, fmt.Errorf("bootstrap: EMAIL_PROVIDER=sendgrid requires SENDGRID_API_KEY")
		}
		return sender, nil
	case "ses":
		awsCfg, err := loader.Config(ctx)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: load aws config: %w", err)
		}
		return notify.NewSESSender(sesv2.NewFromConfig(awsCfg), notify.SESConfig{
			FromEmail: cfg.SESFromEmail,
			FromName:  cfg.SendGridFromName,
		}, logger), nil
	default:
		return notify.NewStubEmailSender(logger), nil
	}
}
