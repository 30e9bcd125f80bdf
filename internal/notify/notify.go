// Package notify delivers fill notices and price broadcasts to Telegram
// users.
package notify

import (
	"context"
	"log/slog"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"mailtrader/internal/domain"
)

// Notifier delivers engine events to users.
type Notifier interface {
	// NotifyFill tells the order's owner that their order filled.
	NotifyFill(ctx context.Context, fill domain.Fill) error

	// BroadcastPrices sends the current prices to every recipient. Delivery
	// failures are logged per recipient and never abort the broadcast.
	BroadcastPrices(ctx context.Context, recipients []domain.User, prices domain.Prices)
}

// Sender is the outbound half of the Telegram API. *tgbotapi.BotAPI
// satisfies it.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Compile-time interface check.
var _ Notifier = (*TelegramNotifier)(nil)

// TelegramNotifier implements Notifier over the Telegram Bot API.
type TelegramNotifier struct {
	sender Sender
	log    *slog.Logger
}

// NewTelegramNotifier creates a TelegramNotifier sending through the given
// API.
func NewTelegramNotifier(sender Sender, log *slog.Logger) *TelegramNotifier {
	return &TelegramNotifier{sender: sender, log: log}
}

// NotifyFill sends a fill notice to the order's owner.
func (n *TelegramNotifier) NotifyFill(_ context.Context, fill domain.Fill) error {
	msg := tgbotapi.NewMessage(fill.UserID, FormatFill(fill))
	if _, err := n.sender.Send(msg); err != nil {
		n.log.Error("fill notice delivery failed",
			"user_id", fill.UserID, "order_id", fill.OrderID, "error", err)
		return err
	}
	return nil
}

// BroadcastPrices sends the price summary to each recipient in turn.
func (n *TelegramNotifier) BroadcastPrices(_ context.Context, recipients []domain.User, prices domain.Prices) {
	text := FormatPrices(prices)
	for _, u := range recipients {
		msg := tgbotapi.NewMessage(u.ID, text)
		if _, err := n.sender.Send(msg); err != nil {
			// One unreachable user must not starve the rest.
			n.log.Warn("price broadcast delivery failed", "user_id", u.ID, "error", err)
		}
	}
}
