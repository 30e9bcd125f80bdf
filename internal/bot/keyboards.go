package bot

import (
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"mailtrader/internal/domain"
)

func newMessageWithKeyboard(chatID int64, text string, kb tgbotapi.InlineKeyboardMarkup) tgbotapi.MessageConfig {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyMarkup = kb
	return msg
}

func variantKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Without 2FA", "variant:"+string(domain.VariantPlain)),
			tgbotapi.NewInlineKeyboardButtonData("With 2FA", "variant:"+string(domain.VariantTwoFA)),
		),
	)
}

func confirmKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("✅ Confirm", "confirm:yes"),
			tgbotapi.NewInlineKeyboardButtonData("🚫 Discard", "confirm:no"),
		),
	)
}

// ordersKeyboard builds one action row per manageable order: cancel for
// active orders, details and export for completed ones.
func ordersKeyboard(orders []domain.Order) tgbotapi.InlineKeyboardMarkup {
	var rows [][]tgbotapi.InlineKeyboardButton
	for _, o := range orders {
		switch o.Status {
		case domain.OrderStatusActive:
			rows = append(rows, tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData(
					fmt.Sprintf("❌ Cancel #%d", o.ID),
					fmt.Sprintf("cancel:%d", o.ID)),
			))
		case domain.OrderStatusCompleted:
			rows = append(rows, tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData(
					fmt.Sprintf("📦 Details #%d", o.ID),
					fmt.Sprintf("details:%d", o.ID)),
				tgbotapi.NewInlineKeyboardButtonData(
					fmt.Sprintf("📄 Export #%d", o.ID),
					fmt.Sprintf("export:%d", o.ID)),
			))
		}
	}
	return tgbotapi.InlineKeyboardMarkup{InlineKeyboard: rows}
}
