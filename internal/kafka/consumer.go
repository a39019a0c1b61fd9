package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"telemetry-service/internal/logging"
	"telemetry-service/internal/models"
)

// MessageReader is the subset of *kafka.Reader the consumer uses.
type MessageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// ModeSetter applies an operator mode change.
type ModeSetter interface {
	SetMode(ctx context.Context, machineID int64, mode models.MachineMode) (models.Machine, error)
}

// Command is the wire format of a mode change request.
type Command struct {
	MachineID int64  `json:"machine_id"`
	Mode      string `json:"mode"`
}

const (
	minReadBackoff = 500 * time.Millisecond
	maxReadBackoff = 30 * time.Second
)

// CommandConsumer turns mode commands from a topic into SetMode calls.
type CommandConsumer struct {
	reader MessageReader
	setter ModeSetter
	logger *logging.Logger
	// backoff after a failed read, doubled per consecutive failure up to maxBackoff
	backoff    time.Duration
	maxBackoff time.Duration
}

func NewCommandConsumer(brokers []string, topic, groupID string, setter ModeSetter, logger *logging.Logger) *CommandConsumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     brokers,
		Topic:       topic,
		GroupID:     groupID,
		MinBytes:    1,
		MaxBytes:    1 << 20,
		StartOffset: kafka.LastOffset,
	})
	return NewCommandConsumerWithReader(r, setter, logger)
}

func NewCommandConsumerWithReader(r MessageReader, setter ModeSetter, logger *logging.Logger) *CommandConsumer {
	return &CommandConsumer{reader: r, setter: setter, logger: logger, backoff: minReadBackoff, maxBackoff: maxReadBackoff}
}

// Decode parses and validates one command message.
func Decode(value []byte) (int64, models.MachineMode, error) {
	var cmd Command
	if err := json.Unmarshal(value, &cmd); err != nil {
		return 0, "", fmt.Errorf("unmarshal command failed: %w", err)
	}
	if cmd.MachineID < 1 {
		return 0, "", fmt.Errorf("invalid command: missing machine_id")
	}
	mode, err := models.ParseMode(cmd.Mode)
	if err != nil {
		return 0, "", err
	}
	return cmd.MachineID, mode, nil
}

// Start consumes until ctx is done. Bad messages are logged and skipped.
// Read errors back off exponentially until the next successful read.
func (c *CommandConsumer) Start(ctx context.Context, wg *sync.WaitGroup) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.logger.Infof("Kafka command consumer started")
		wait := c.backoff
		for {
			msg, err := c.reader.ReadMessage(ctx)
			if err != nil {
				if errors.Is(err, context.Canceled) || ctx.Err() != nil {
					c.logger.Infof("Kafka command consumer stopped")
					return
				}
				c.logger.Errorf("Read message failed, retrying in %s: %v", wait, err)
				select {
				case <-ctx.Done():
					c.logger.Infof("Kafka command consumer stopped")
					return
				case <-time.After(wait):
				}
				wait = min(wait*2, c.maxBackoff)
				continue
			}
			wait = c.backoff
			c.handle(ctx, msg)
		}
	}()
}

func (c *CommandConsumer) handle(ctx context.Context, msg kafka.Message) {
	id, mode, err := Decode(msg.Value)
	if err != nil {
		c.logger.Errorf("Skipping command at offset %d: %v", msg.Offset, err)
		return
	}
	if _, err := c.setter.SetMode(ctx, id, mode); err != nil {
		c.logger.With("machine_id", id).Errorf("Apply mode %s failed: %v", mode, err)
		return
	}
	c.logger.With("machine_id", id).Infof("Processed mode command: %s", mode)
}

func (c *CommandConsumer) Close() error {
	return c.reader.Close()
}
