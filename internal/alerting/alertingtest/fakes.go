// Package alertingtest provides recording notification channels for tests.
package alertingtest

import (
	"context"
	"fmt"
	"sync"

	"telemetry-service/internal/alerting"
	"telemetry-service/internal/models"
)

type Email struct {
	Recipients []string
	Subject    string
	Body       string
	Priority   models.EmailPriority
}

type Message struct {
	To   string
	Body string
}

// Channels records every attempt. Fail* maps a contact to the error returned.
type Channels struct {
	mu     sync.Mutex
	emails []Email
	sms    []Message
	calls  []Message
	chat   []string

	FailEmail error
	FailSMS   map[string]error
	FailCall  map[string]error
}

func New() *Channels {
	return &Channels{FailSMS: map[string]error{}, FailCall: map[string]error{}}
}

// Bundle returns the alerting.Channels view of c.
func (c *Channels) Bundle() alerting.Channels {
	return alerting.Channels{Email: c, SMS: c, Voice: c, Chat: c}
}

func (c *Channels) SendEmail(_ context.Context, recipients []string, subject, body string, priority models.EmailPriority) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.emails = append(c.emails, Email{Recipients: recipients, Subject: subject, Body: body, Priority: priority})
	return c.FailEmail
}

func (c *Channels) SendSMS(_ context.Context, to, body string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sms = append(c.sms, Message{To: to, Body: body})
	if err := c.FailSMS[to]; err != nil {
		return "", err
	}
	return fmt.Sprintf("SM%03d", len(c.sms)), nil
}

func (c *Channels) PlaceVoiceCall(_ context.Context, to, script string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, Message{To: to, Body: script})
	if err := c.FailCall[to]; err != nil {
		return "", err
	}
	return fmt.Sprintf("CA%03d", len(c.calls)), nil
}

func (c *Channels) GetCallStatus(_ context.Context, sid string) (models.CallStatus, error) {
	return models.CallStatus{SID: sid, Status: "completed"}, nil
}

func (c *Channels) Notify(_ context.Context, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.chat = append(c.chat, text)
	return nil
}

func (c *Channels) Emails() []Email {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Email(nil), c.emails...)
}

func (c *Channels) SMS() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Message(nil), c.sms...)
}

func (c *Channels) Calls() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Message(nil), c.calls...)
}

func (c *Channels) Chat() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.chat...)
}

// Inline runs tasks synchronously so fake clock advances deliver at once.
type Inline = alerting.Inline
