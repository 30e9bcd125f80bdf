package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"mailtrader/internal/domain"
	"mailtrader/internal/store"
)

// handleAdminCommand serves the owner-only user management commands. The
// caller has already verified the sender is the owner.
func (b *Bot) handleAdminCommand(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	cmd := msg.Command()

	switch cmd {
	case "users":
		b.handleListUsers(ctx, chatID)
		return
	case "packs":
		b.handleListPacks(ctx, chatID, msg.CommandArguments())
		return
	}

	targetID, err := strconv.ParseInt(strings.TrimSpace(msg.CommandArguments()), 10, 64)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Format: /%s <telegram user id>", cmd))
		return
	}
	// The owner is never blocked or deleted.
	if targetID == b.ownerID && cmd != "adduser" && cmd != "unblock" {
		b.reply(chatID, "⛔ The owner account cannot be modified.")
		return
	}

	switch cmd {
	case "adduser":
		err = b.store.EnsureUser(ctx, &domain.User{ID: targetID})
		b.replyOutcome(chatID, err, fmt.Sprintf("✅ User %d can now use the bot.", targetID))
	case "block":
		err = b.store.SetBlocked(ctx, targetID, true)
		b.replyOutcome(chatID, err, fmt.Sprintf("✅ User %d blocked.", targetID))
	case "unblock":
		err = b.store.SetBlocked(ctx, targetID, false)
		b.replyOutcome(chatID, err, fmt.Sprintf("✅ User %d unblocked.", targetID))
	case "deluser":
		err = b.store.DeleteUser(ctx, targetID)
		b.replyOutcome(chatID, err, fmt.Sprintf("✅ User %d and their orders deleted.", targetID))
	}
}

func (b *Bot) replyOutcome(chatID int64, err error, success string) {
	switch {
	case err == nil:
		b.reply(chatID, success)
	case errors.Is(err, store.ErrNotFound):
		b.reply(chatID, "❌ No such user.")
	default:
		b.log.Error("admin command failed", "error", err)
		b.reply(chatID, "❌ Operation failed: "+err.Error())
	}
}

// handleListPacks shows one page of the upstream purchase audit trail.
func (b *Bot) handleListPacks(ctx context.Context, chatID int64, args string) {
	page := 1
	if v := strings.TrimSpace(args); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			b.reply(chatID, "Format: /packs [page]")
			return
		}
		page = n
	}

	pp, err := b.gw.ListPacks(ctx, page, 10)
	if err != nil {
		b.log.Warn("pack listing failed", "error", err)
		b.reply(chatID, "❌ Could not load packs from the upstream API.")
		return
	}
	if len(pp.Packs) == 0 {
		b.reply(chatID, "📭 No packs on this page.")
		return
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("📦 Packs, page %d (%d total):\n\n", pp.Page, pp.Total))
	for _, p := range pp.Packs {
		variant := domain.VariantPlain
		if p.Is2FA {
			variant = domain.VariantTwoFA
		}
		sb.WriteString(fmt.Sprintf("%s — %d × %s, $%.2f\n",
			p.PackID, p.AccountsCount, variant.Label(), p.TotalPrice))
	}
	b.reply(chatID, sb.String())
}

func (b *Bot) handleListUsers(ctx context.Context, chatID int64) {
	users, err := b.store.ListUsers(ctx)
	if err != nil {
		b.log.Error("user listing failed", "error", err)
		b.reply(chatID, "❌ Could not load users.")
		return
	}
	if len(users) == 0 {
		b.reply(chatID, "📭 No users yet.")
		return
	}

	var sb strings.Builder
	sb.WriteString("👥 Users:\n\n")
	for _, u := range users {
		mark := "🟢"
		if u.Blocked {
			mark = "⛔"
		}
		if u.ID == b.ownerID {
			mark = "👑"
		}
		name := u.Username
		if name == "" {
			name = u.FirstName
		}
		sb.WriteString(fmt.Sprintf("%s %d %s\n", mark, u.ID, name))
	}
	b.reply(chatID, sb.String())
}
