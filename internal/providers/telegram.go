package providers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-telegram/bot"
	"golang.org/x/time/rate"

	"telemetry-service/internal/logging"
	"telemetry-service/internal/utils"
)

// Telegram mirrors incident summaries to a set of chats.
type Telegram struct {
	bot     *bot.Bot
	chatIDs []int64
	limiter *rate.Limiter
	logger  *logging.Logger
}

func NewTelegram(token string, chatIDs []int64, perSecond float64, logger *logging.Logger) (*Telegram, error) {
	b, err := bot.New(token, bot.WithSkipGetMe())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Telegram bot: %w", err)
	}
	return &Telegram{bot: b, chatIDs: chatIDs, limiter: newLimiter(perSecond), logger: logger}, nil
}

// Notify sends text to every chat. Each chat is retried independently.
func (t *Telegram) Notify(ctx context.Context, text string) error {
	var errs []error
	for _, chatID := range t.chatIDs {
		if err := t.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("telegram rate limit exceeded: %w", err)
		}
		err := utils.Retry(ctx, t.logger, 3, time.Second, func() error {
			if _, err := t.bot.SendMessage(ctx, &bot.SendMessageParams{ChatID: chatID, Text: text}); err != nil {
				return fmt.Errorf("failed to send Telegram message to chat_id %d: %w", chatID, err)
			}
			return nil
		})
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
