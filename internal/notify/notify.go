// Package notify delivers short admin messages about booking activity.
package notify

import (
	"context"
	"errors"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Sender is the part of tgbotapi.BotAPI used for delivery.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramNotifier sends messages to every configured admin chat.
type TelegramNotifier struct {
	sender  Sender
	chats   []int64
	limiter *rate.Limiter
	logger  *zerolog.Logger
}

// NewTelegramNotifier creates a notifier throttled to perSecond messages.
func NewTelegramNotifier(sender Sender, chats []int64, perSecond float64, logger *zerolog.Logger) *TelegramNotifier {
	if perSecond <= 0 {
		perSecond = 1
	}
	return &TelegramNotifier{
		sender:  sender,
		chats:   chats,
		limiter: rate.NewLimiter(rate.Limit(perSecond), 1),
		logger:  logger,
	}
}

// NotifyAdmins sends text to all admin chats. Delivery is best effort: every
// chat is attempted and the joined errors are returned.
func (n *TelegramNotifier) NotifyAdmins(ctx context.Context, text string) error {
	var errs []error
	for _, chatID := range n.chats {
		if err := n.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}
		msg := tgbotapi.NewMessage(chatID, text)
		if _, err := n.sender.Send(msg); err != nil {
			n.logger.Warn().Err(err).Int64("chat_id", chatID).Msg("admin notification failed")
			errs = append(errs, fmt.Errorf("chat %d: %w", chatID, err))
		}
	}
	return errors.Join(errs...)
}

// Nop discards notifications.
type Nop struct{}

func (Nop) NotifyAdmins(context.Context, string) error { return nil }
