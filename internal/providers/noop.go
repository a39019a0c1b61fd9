package providers

import (
	"context"
	"fmt"
	"sync/atomic"

	"telemetry-service/internal/logging"
	"telemetry-service/internal/models"
)

// Noop stands in for an unconfigured channel. It logs every attempt and
// reports success so the incident is still counted as attempted.
type Noop struct {
	Channel string
	logger  *logging.Logger
	seq     atomic.Int64
}

func NewNoop(channel string, logger *logging.Logger) *Noop {
	return &Noop{Channel: channel, logger: logger}
}

func (n *Noop) id(prefix string) string {
	return fmt.Sprintf("%s-noop-%d", prefix, n.seq.Add(1))
}

func (n *Noop) SendEmail(_ context.Context, recipients []string, subject, _ string, priority models.EmailPriority) error {
	n.logger.Infof("[%s disabled] email to %v (%s): %s", n.Channel, recipients, priority, subject)
	return nil
}

func (n *Noop) SendSMS(_ context.Context, to, body string) (string, error) {
	n.logger.Infof("[%s disabled] sms to %s: %d bytes", n.Channel, to, len(body))
	return n.id("SM"), nil
}

func (n *Noop) PlaceVoiceCall(_ context.Context, to, _ string) (string, error) {
	n.logger.Infof("[%s disabled] voice call to %s", n.Channel, to)
	return n.id("CA"), nil
}

func (n *Noop) GetCallStatus(_ context.Context, sid string) (models.CallStatus, error) {
	return models.CallStatus{SID: sid, Status: "unknown"}, nil
}

func (n *Noop) Notify(_ context.Context, text string) error {
	n.logger.Infof("[%s disabled] chat: %s", n.Channel, text)
	return nil
}
