package providers

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"telemetry-service/internal/config"
	"telemetry-service/internal/logging"
	"telemetry-service/internal/models"
)

func TestBuildWithoutCredentialsUsesNoop(t *testing.T) {
	cfg, err := config.FromEnv(func(string) string { return "" })
	require.NoError(t, err)

	ch, err := Build(cfg, logging.Discard())
	require.NoError(t, err)
	assert.IsType(t, &Noop{}, ch.Email)
	assert.IsType(t, &Noop{}, ch.SMS)
	assert.IsType(t, &Noop{}, ch.Voice)
	assert.Nil(t, ch.Chat)
}

func TestBuildWithTwilio(t *testing.T) {
	env := map[string]string{
		"TWILIO_ACCOUNT_SID": "AC00000000000000000000000000000000",
		"TWILIO_AUTH_TOKEN":  "token",
		"TWILIO_FROM_NUMBER": "+15550000",
	}
	cfg, err := config.FromEnv(func(k string) string { return env[k] })
	require.NoError(t, err)

	ch, err := Build(cfg, logging.Discard())
	require.NoError(t, err)
	assert.IsType(t, &Twilio{}, ch.SMS)
	assert.Same(t, ch.SMS, ch.Voice)
}

func TestNoopSenders(t *testing.T) {
	ctx := context.Background()
	n := NewNoop("voice", logging.Discard())

	sid1, err := n.PlaceVoiceCall(ctx, "+15550001", "<Response/>")
	require.NoError(t, err)
	sid2, err := n.PlaceVoiceCall(ctx, "+15550002", "<Response/>")
	require.NoError(t, err)
	assert.NotEqual(t, sid1, sid2)

	st, err := n.GetCallStatus(ctx, sid1)
	require.NoError(t, err)
	assert.Equal(t, sid1, st.SID)

	assert.NoError(t, n.SendEmail(ctx, []string{"a@plant.test"}, "s", "b", models.PriorityCritical))
	assert.NoError(t, n.Notify(ctx, "hello"))
}

func TestTwilioRejectsInvalidNumber(t *testing.T) {
	tw := NewTwilio("AC0", "token", "+15550000", 1, 1, time.Second)
	_, err := tw.SendSMS(context.Background(), "5550001", "body")
	assert.ErrorContains(t, err, "invalid phone number")
	_, err = tw.PlaceVoiceCall(context.Background(), "5550001", "<Response/>")
	assert.ErrorContains(t, err, "invalid phone number")
}

func TestNewLimiter(t *testing.T) {
	assert.Equal(t, rate.Inf, newLimiter(0).Limit())
	l := newLimiter(0.5)
	assert.Equal(t, rate.Limit(0.5), l.Limit())
	assert.Equal(t, 1, l.Burst())
	assert.Equal(t, 5, newLimiter(5).Burst())
}
