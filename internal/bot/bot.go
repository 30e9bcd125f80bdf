// Package bot implements the Telegram front end: command routing, the order
// wizard, owner administration, and credential export.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"mailtrader/internal/domain"
	"mailtrader/internal/engine"
	"mailtrader/internal/gateway"
	"mailtrader/internal/notify"
	"mailtrader/internal/store"
)

// API is the slice of the Telegram Bot API the bot sends through.
// *tgbotapi.BotAPI satisfies it.
type API interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// Bot routes Telegram updates to command handlers. Access is allow-list
// based: only the owner and users added by the owner may interact.
type Bot struct {
	api     API
	engine  *engine.Engine
	store   store.Store
	gw      gateway.Gateway
	limits  *engine.OrderLimits
	ownerID int64
	log     *slog.Logger

	mu      sync.Mutex
	wizards map[int64]*wizard
}

// New creates a Bot wired with the given dependencies.
func New(api API, eng *engine.Engine, st store.Store, gw gateway.Gateway,
	limits *engine.OrderLimits, ownerID int64, log *slog.Logger) *Bot {
	return &Bot{
		api:     api,
		engine:  eng,
		store:   st,
		gw:      gw,
		limits:  limits,
		ownerID: ownerID,
		log:     log,
		wizards: make(map[int64]*wizard),
	}
}

// Run consumes updates until the channel closes or ctx is cancelled.
func (b *Bot) Run(ctx context.Context, updates tgbotapi.UpdatesChannel) {
	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			b.handleUpdate(ctx, update)
		}
	}
}

func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	switch {
	case update.CallbackQuery != nil:
		b.handleCallback(ctx, update.CallbackQuery)
	case update.Message != nil:
		b.handleMessage(ctx, update.Message)
	}
}

// authorize resolves the sender against the allow-list. The owner is always
// allowed and auto-registered.
func (b *Bot) authorize(ctx context.Context, from *tgbotapi.User) (*domain.User, bool) {
	if from == nil {
		return nil, false
	}
	if from.ID == b.ownerID {
		u := &domain.User{ID: from.ID, Username: from.UserName, FirstName: from.FirstName}
		if err := b.store.EnsureUser(ctx, u); err != nil {
			b.log.Error("owner registration failed", "user_id", from.ID, "error", err)
			return nil, false
		}
		return u, true
	}
	u, err := b.store.GetUser(ctx, from.ID)
	if err != nil || u.Blocked {
		return nil, false
	}
	// Keep the profile fields fresh for the owner's /users listing.
	if u.Username != from.UserName || u.FirstName != from.FirstName {
		u.Username = from.UserName
		u.FirstName = from.FirstName
		if err := b.store.EnsureUser(ctx, u); err != nil {
			b.log.Warn("profile refresh failed", "user_id", from.ID, "error", err)
		}
	}
	return u, true
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	user, ok := b.authorize(ctx, msg.From)
	if !ok {
		b.reply(msg.Chat.ID, "⛔ You are not authorized to use this bot.")
		return
	}

	if msg.IsCommand() {
		// A command always abandons an in-flight wizard.
		b.dropWizard(user.ID)
		b.handleCommand(ctx, user, msg)
		return
	}

	if w := b.getWizard(user.ID); w != nil {
		b.handleWizardInput(ctx, user, w, msg.Chat.ID, msg.Text)
		return
	}
	b.reply(msg.Chat.ID, "ℹ️ Use /help for the list of commands.")
}

func (b *Bot) handleCommand(ctx context.Context, user *domain.User, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	switch msg.Command() {
	case "start", "help":
		b.reply(chatID, helpText(user.ID == b.ownerID))
	case "price":
		b.handlePrice(ctx, chatID)
	case "balance":
		b.handleBalance(ctx, chatID)
	case "buy":
		b.startWizard(ctx, user, chatID)
	case "orders":
		b.handleOrders(ctx, user, chatID)
	case "adduser", "block", "unblock", "deluser", "users", "packs":
		if user.ID != b.ownerID {
			b.reply(chatID, "⛔ Owner only.")
			return
		}
		b.handleAdminCommand(ctx, msg)
	default:
		b.reply(chatID, "Unknown command. Use /help.")
	}
}

func (b *Bot) handlePrice(ctx context.Context, chatID int64) {
	prices, err := b.engine.CurrentPrices(ctx)
	if err != nil {
		b.log.Warn("price lookup failed", "error", err)
		b.reply(chatID, "❌ Price lookup failed, try again later.")
		return
	}
	b.reply(chatID, notify.FormatPrices(prices))
}

func (b *Bot) handleBalance(ctx context.Context, chatID int64) {
	balance, err := b.gw.GetBalance(ctx)
	if err != nil {
		b.log.Warn("balance lookup failed", "error", err)
		b.reply(chatID, "❌ Balance lookup failed, try again later.")
		return
	}
	b.reply(chatID, fmt.Sprintf("💰 Balance: $%.2f", balance))
}

func (b *Bot) handleOrders(ctx context.Context, user *domain.User, chatID int64) {
	orders, err := b.store.ListOrdersByOwner(ctx, user.ID, "")
	if err != nil {
		b.log.Error("order listing failed", "user_id", user.ID, "error", err)
		b.reply(chatID, "❌ Could not load your orders.")
		return
	}
	if len(orders) == 0 {
		b.reply(chatID, "📭 You have no orders. Use /buy to place one.")
		return
	}

	// Live prices drive the eligibility markers; the listing still renders
	// when the upstream is unreachable.
	var prices *domain.Prices
	if p, err := b.engine.CurrentPrices(ctx); err == nil {
		prices = &p
	} else {
		b.log.Warn("price lookup for order view failed", "error", err)
	}

	var sb strings.Builder
	sb.WriteString("📋 Your orders:\n\n")
	for _, o := range orders {
		sb.WriteString(formatOrderLine(o, prices))
		sb.WriteByte('\n')
	}

	out := tgbotapi.NewMessage(chatID, sb.String())
	if kb := ordersKeyboard(orders); len(kb.InlineKeyboard) > 0 {
		out.ReplyMarkup = kb
	}
	b.send(out)
}

func (b *Bot) handleCallback(ctx context.Context, cq *tgbotapi.CallbackQuery) {
	// Every callback gets acknowledged, even denied ones, so the client
	// spinner stops.
	defer func() {
		if _, err := b.api.Request(tgbotapi.NewCallback(cq.ID, "")); err != nil {
			b.log.Warn("callback ack failed", "error", err)
		}
	}()

	user, ok := b.authorize(ctx, cq.From)
	if !ok || cq.Message == nil {
		return
	}
	chatID := cq.Message.Chat.ID

	action, arg, _ := strings.Cut(cq.Data, ":")
	switch action {
	case "variant", "confirm":
		if w := b.getWizard(user.ID); w != nil {
			b.handleWizardCallback(ctx, user, w, chatID, action, arg)
		}
	case "cancel":
		orderID, err := strconv.ParseInt(arg, 10, 64)
		if err != nil {
			return
		}
		b.handleCancel(ctx, user, chatID, orderID)
	case "export":
		orderID, err := strconv.ParseInt(arg, 10, 64)
		if err != nil {
			return
		}
		b.handleExport(ctx, user, chatID, orderID)
	case "details":
		orderID, err := strconv.ParseInt(arg, 10, 64)
		if err != nil {
			return
		}
		b.handleDetails(ctx, user, chatID, orderID)
	}
}

func (b *Bot) handleCancel(ctx context.Context, user *domain.User, chatID, orderID int64) {
	err := b.engine.CancelOrder(ctx, user.ID, orderID)
	switch {
	case err == nil:
		b.reply(chatID, fmt.Sprintf("✅ Order #%d cancelled.", orderID))
	case errors.Is(err, store.ErrAlreadyTerminal):
		b.reply(chatID, fmt.Sprintf("⚠️ Order #%d is already settled.", orderID))
	case errors.Is(err, store.ErrNotFound):
		b.reply(chatID, fmt.Sprintf("❌ Order #%d not found.", orderID))
	default:
		b.log.Error("order cancel failed", "order_id", orderID, "error", err)
		b.reply(chatID, "❌ Cancel failed, try again later.")
	}
}

// formatOrderLine renders one order row. Active orders carry an eligibility
// marker: 🟢 when the live price is at or below the target, 🔴 when it is
// above, ⚪ when the price is unknown.
func formatOrderLine(o domain.Order, prices *domain.Prices) string {
	var icon string
	switch o.Status {
	case domain.OrderStatusCompleted:
		icon = "✅"
	case domain.OrderStatusCancelled:
		icon = "🚫"
	default:
		icon = "⚪"
		if prices != nil {
			if prices.For(o.Variant) <= o.TargetPrice {
				icon = "🟢"
			} else {
				icon = "🔴"
			}
		}
	}
	return fmt.Sprintf("%s #%d — %d × %s at ≤ $%.2f (%s)",
		icon, o.ID, o.Quantity, o.Variant.Label(), o.TargetPrice, o.Status)
}

func helpText(owner bool) string {
	text := `🛒 Available commands:
/buy — place a standing order
/orders — list and manage your orders
/price — current account prices
/balance — upstream funding balance
/help — this message`
	if owner {
		text += `

👑 Owner commands:
/adduser <id> — allow a user
/block <id> — block a user
/unblock <id> — unblock a user
/deluser <id> — delete a user and their orders
/users — list users
/packs [page] — list upstream purchase packs`
	}
	return text
}

// reply sends a plain text message.
func (b *Bot) reply(chatID int64, text string) {
	b.send(tgbotapi.NewMessage(chatID, text))
}

func (b *Bot) send(c tgbotapi.Chattable) {
	if _, err := b.api.Send(c); err != nil {
		b.log.Warn("send failed", "error", err)
	}
}
