package notification

import (
	"context"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/redis/go-redis/v9"

	"github.com/hackgods/appointment-scheduling-core/internal/config"
	"github.com/hackgods/appointment-scheduling-core/pkg/logging"
)

// NewSenders builds the channel senders from configuration. Email falls back
// to the stub provider; SMS and voice stay disabled without Twilio credentials.
func NewSenders(ctx context.Context, cfg config.Config, rdb *redis.Client, logger *logging.Logger) (Senders, error) {
	if logger == nil {
		logger = logging.Default()
	}
	var senders Senders

	switch cfg.EmailProvider {
	case "sendgrid":
		sg := NewSendGridSender(SendGridConfig{
			APIKey:    cfg.SendGridAPIKey,
			FromEmail: cfg.EmailFromAddress,
			FromName:  cfg.EmailFromName,
		}, logger)
		if sg == nil {
			return Senders{}, fmt.Errorf("EMAIL_PROVIDER=sendgrid requires SENDGRID_API_KEY")
		}
		senders.Email = sg
	case "ses":
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
		if err != nil {
			return Senders{}, fmt.Errorf("load aws config: %w", err)
		}
		senders.Email = NewSESSender(sesv2.NewFromConfig(awsCfg), SESConfig{
			FromEmail: cfg.EmailFromAddress,
			FromName:  cfg.EmailFromName,
		}, logger)
	case "stub", "":
		senders.Email = NewStubEmailSender(logger)
	default:
		return Senders{}, fmt.Errorf("unknown EMAIL_PROVIDER %q", cfg.EmailProvider)
	}

	twilio := NewTwilioClient(TwilioConfig{
		AccountSID:       cfg.TwilioAccountSID,
		AuthToken:        cfg.TwilioAuthToken,
		FromNumber:       cfg.TwilioFromNumber,
		PublicBaseURL:    cfg.PublicBaseURL,
		RecordingBaseURL: cfg.RecordingBaseURL,
	}, logger)
	if twilio.Configured() {
		senders.SMS = twilio
		senders.Voice = twilio
	} else {
		logger.Warn("twilio not configured, sms and voice channels disabled")
	}

	if rdb != nil {
		senders.Push = NewRedisPushSender(rdb, cfg.PushChannelPrefix)
	}
	return senders, nil
}
