package bot

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"mailtrader/internal/domain"
)

// BuildExport renders procured accounts as one semicolon-separated line per
// account: email;password;recoveryEmail;recoveryMessagesUrl.
func BuildExport(accounts []domain.Account) string {
	var sb strings.Builder
	for _, a := range accounts {
		sb.WriteString(a.Email)
		sb.WriteByte(';')
		sb.WriteString(a.Password)
		sb.WriteByte(';')
		sb.WriteString(a.RecoveryEmail)
		sb.WriteByte(';')
		sb.WriteString(a.RecoveryMessagesURL)
		sb.WriteByte('\n')
	}
	return sb.String()
}

// handleDetails shows the delivery receipt for a completed order: the
// recorded purchase plus the upstream pack contents.
func (b *Bot) handleDetails(ctx context.Context, user *domain.User, chatID, orderID int64) {
	order, err := b.store.GetOrder(ctx, orderID)
	if err != nil || order.UserID != user.ID {
		b.reply(chatID, fmt.Sprintf("❌ Order #%d not found.", orderID))
		return
	}
	purchases, err := b.store.ListPurchases(ctx, orderID)
	if err != nil || len(purchases) == 0 {
		b.reply(chatID, fmt.Sprintf("⚠️ Order #%d has no recorded purchase yet.", orderID))
		return
	}
	p := purchases[0]

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf(
		"📦 Order #%d — pack %s\n\n"+
			"Accounts: %d (%s)\n"+
			"Unit price: $%.2f\n"+
			"Total: $%.2f\n"+
			"Purchased: %s\n",
		orderID, p.PackID, p.AccountsCount, p.Variant.Label(),
		p.PricePaid, p.TotalPrice, p.PurchasedAt.UTC().Format("2006-01-02 15:04 UTC")))

	// The upstream pack record is the authoritative delivery receipt; the
	// local ledger still renders when the lookup fails.
	pack, err := b.gw.GetPack(ctx, p.PackID)
	if err != nil {
		b.log.Warn("pack lookup failed", "pack_id", p.PackID, "error", err)
		sb.WriteString("\nUpstream pack lookup failed; showing ledger data only.")
		b.reply(chatID, sb.String())
		return
	}
	sb.WriteString("\nDelivered emails:\n")
	const maxListed = 10
	for i, a := range pack.Accounts {
		if i == maxListed {
			sb.WriteString(fmt.Sprintf("… and %d more\n", len(pack.Accounts)-maxListed))
			break
		}
		sb.WriteString(a.Email + "\n")
	}
	b.reply(chatID, sb.String())
}

// handleExport sends the order's credentials as a text document and marks
// the accounts as handed out.
func (b *Bot) handleExport(ctx context.Context, user *domain.User, chatID, orderID int64) {
	order, err := b.store.GetOrder(ctx, orderID)
	if err != nil || order.UserID != user.ID {
		b.reply(chatID, fmt.Sprintf("❌ Order #%d not found.", orderID))
		return
	}
	if order.Status != domain.OrderStatusCompleted {
		b.reply(chatID, fmt.Sprintf("⚠️ Order #%d has no delivered accounts yet.", orderID))
		return
	}

	accounts, err := b.store.ListPurchaseAccounts(ctx, orderID)
	if err != nil {
		b.log.Error("account export failed", "order_id", orderID, "error", err)
		b.reply(chatID, "❌ Export failed, try again later.")
		return
	}
	if len(accounts) == 0 {
		b.reply(chatID, fmt.Sprintf("📭 Order #%d has no accounts recorded.", orderID))
		return
	}

	doc := tgbotapi.NewDocument(chatID, tgbotapi.FileBytes{
		Name:  fmt.Sprintf("order_%d_accounts.txt", orderID),
		Bytes: []byte(BuildExport(accounts)),
	})
	doc.Caption = fmt.Sprintf("Order #%d — %d accounts", orderID, len(accounts))
	if _, err := b.api.Send(doc); err != nil {
		b.log.Error("export delivery failed", "order_id", orderID, "error", err)
		b.reply(chatID, "❌ Could not deliver the export file.")
		return
	}

	for _, a := range accounts {
		if a.Status == domain.AccountStatusUsed {
			continue
		}
		if err := b.store.SetAccountStatus(ctx, a.ID, domain.AccountStatusUsed); err != nil {
			b.log.Warn("marking account used failed", "account_id", a.ID, "error", err)
		}
	}
}
