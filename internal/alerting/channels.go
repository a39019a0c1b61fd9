package alerting

import (
	"context"

	"telemetry-service/internal/models"
)

// Channel names used in logs and metrics.
const (
	ChannelEmail    = "email"
	ChannelSMS      = "sms"
	ChannelVoice    = "voice"
	ChannelTelegram = "telegram"
)

type EmailSender interface {
	SendEmail(ctx context.Context, recipients []string, subject, htmlBody string, priority models.EmailPriority) error
}

type SMSSender interface {
	SendSMS(ctx context.Context, to, body string) (string, error)
}

// VoiceCaller places calls with a TwiML document as the script.
type VoiceCaller interface {
	PlaceVoiceCall(ctx context.Context, to, script string) (string, error)
	GetCallStatus(ctx context.Context, sid string) (models.CallStatus, error)
}

// ChatNotifier mirrors incident summaries to an operations chat.
type ChatNotifier interface {
	Notify(ctx context.Context, text string) error
}

// Channels bundles the notification collaborators. A nil Chat disables the mirror.
type Channels struct {
	Email EmailSender
	SMS   SMSSender
	Voice VoiceCaller
	Chat  ChatNotifier
}
