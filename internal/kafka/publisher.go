// Package kafka publishes alert records and consumes machine mode commands.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"

	"telemetry-service/internal/models"
)

// MessageWriter is the subset of *kafka.Writer the publisher uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Publisher struct {
	writer MessageWriter
}

func NewPublisher(brokers []string, topic string) *Publisher {
	return &Publisher{writer: &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 50 * time.Millisecond,
	}}
}

func NewPublisherWithWriter(w MessageWriter) *Publisher {
	return &Publisher{writer: w}
}

// PublishAlert writes a as JSON keyed by machine id, keeping each machine's records ordered.
func (p *Publisher) PublishAlert(ctx context.Context, a models.AlertRecord) error {
	raw, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("failed to encode alert %s: %w", a.ID, err)
	}
	msg := kafka.Message{
		Key:   []byte(strconv.FormatInt(a.MachineID, 10)),
		Value: raw,
		Time:  a.CreatedAt,
		Headers: []kafka.Header{
			{Key: "class", Value: []byte(a.Class)},
			{Key: "severity", Value: []byte(a.Severity)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish alert %s: %w", a.ID, err)
	}
	return nil
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}
