package providers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
	"golang.org/x/time/rate"

	"telemetry-service/internal/models"
)

// callRingTimeout is how long Twilio lets an emergency call ring, in seconds.
const callRingTimeout = 30

// Twilio sends SMS and places voice calls through the Twilio REST API.
type Twilio struct {
	client       *twilio.RestClient
	from         string
	smsLimiter   *rate.Limiter
	voiceLimiter *rate.Limiter
}

// NewTwilio builds a client for accountSID. requestTimeout bounds each HTTP call.
func NewTwilio(accountSID, authToken, from string, smsPerSecond, voicePerSecond float64, requestTimeout time.Duration) *Twilio {
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountSID,
		Password: authToken,
	})
	if requestTimeout > 0 {
		client.SetTimeout(requestTimeout)
	}
	return &Twilio{
		client:       client,
		from:         from,
		smsLimiter:   newLimiter(smsPerSecond),
		voiceLimiter: newLimiter(voicePerSecond),
	}
}

func newLimiter(perSecond float64) *rate.Limiter {
	if perSecond <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	burst := int(perSecond)
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(perSecond), burst)
}

func validNumber(to string) error {
	if !strings.HasPrefix(to, "+") {
		return fmt.Errorf("invalid phone number: %s", to)
	}
	return nil
}

func (t *Twilio) SendSMS(ctx context.Context, to, body string) (string, error) {
	if err := validNumber(to); err != nil {
		return "", err
	}
	if err := t.smsLimiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("sms rate limit wait: %w", err)
	}

	params := &twilioApi.CreateMessageParams{}
	params.SetTo(to)
	params.SetFrom(t.from)
	params.SetBody(body)

	resp, err := t.client.Api.CreateMessage(params)
	if err != nil {
		return "", fmt.Errorf("failed to send SMS to %s: %w", to, err)
	}
	return deref(resp.Sid), nil
}

func (t *Twilio) PlaceVoiceCall(ctx context.Context, to, script string) (string, error) {
	if err := validNumber(to); err != nil {
		return "", err
	}
	if err := t.voiceLimiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("voice rate limit wait: %w", err)
	}

	params := &twilioApi.CreateCallParams{}
	params.SetTo(to)
	params.SetFrom(t.from)
	params.SetTwiml(script)
	params.SetTimeout(callRingTimeout)
	params.SetRecord(true)

	resp, err := t.client.Api.CreateCall(params)
	if err != nil {
		return "", fmt.Errorf("failed to call %s: %w", to, err)
	}
	return deref(resp.Sid), nil
}

func (t *Twilio) GetCallStatus(ctx context.Context, sid string) (models.CallStatus, error) {
	if err := ctx.Err(); err != nil {
		return models.CallStatus{}, err
	}
	call, err := t.client.Api.FetchCall(sid, &twilioApi.FetchCallParams{})
	if err != nil {
		return models.CallStatus{}, fmt.Errorf("failed to fetch call %s: %w", sid, err)
	}
	return models.CallStatus{
		SID:        deref(call.Sid),
		Status:     deref(call.Status),
		Duration:   deref(call.Duration),
		AnsweredBy: deref(call.AnsweredBy),
		StartTime:  deref(call.StartTime),
		EndTime:    deref(call.EndTime),
	}, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
