// Package providers implements the notification channels over SMTP,
// Twilio and Telegram.
package providers

import (
	"telemetry-service/internal/alerting"
	"telemetry-service/internal/config"
	"telemetry-service/internal/logging"
)

// Build wires a channel per configured provider and a logging no-op for
// every provider whose credentials are missing. Telegram is only enabled
// when both a token and chat ids are present.
func Build(cfg config.Config, logger *logging.Logger) (alerting.Channels, error) {
	var ch alerting.Channels

	if cfg.Email.SMTPServer != "" && cfg.Email.Username != "" && cfg.Email.Password != "" {
		ch.Email = &SMTP{
			Server:   cfg.Email.SMTPServer,
			Port:     cfg.Email.SMTPPort,
			Username: cfg.Email.Username,
			Password: cfg.Email.Password,
			FromName: cfg.Email.FromName,
		}
	} else {
		logger.Warnf("Email credentials missing, email channel disabled")
		ch.Email = NewNoop(alerting.ChannelEmail, logger)
	}

	if cfg.Twilio.AccountSID != "" && cfg.Twilio.AuthToken != "" && cfg.Twilio.FromNumber != "" {
		tw := NewTwilio(cfg.Twilio.AccountSID, cfg.Twilio.AuthToken, cfg.Twilio.FromNumber,
			cfg.RateLimit.SMSPerSecond, cfg.RateLimit.VoicePerSecond, cfg.Escalation.ChannelTimeout)
		ch.SMS, ch.Voice = tw, tw
	} else {
		logger.Warnf("Twilio credentials missing, sms and voice channels disabled")
		ch.SMS = NewNoop(alerting.ChannelSMS, logger)
		ch.Voice = NewNoop(alerting.ChannelVoice, logger)
	}

	if cfg.Telegram.BotToken != "" && len(cfg.Telegram.ChatIDs) > 0 {
		tg, err := NewTelegram(cfg.Telegram.BotToken, cfg.Telegram.ChatIDs, cfg.RateLimit.TelegramPerSecond, logger)
		if err != nil {
			return ch, err
		}
		ch.Chat = tg
	}
	return ch, nil
}
