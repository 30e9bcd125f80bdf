package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"mailtrader/internal/domain"
	"mailtrader/internal/engine"
)

// wizardState is the current step of the order wizard.
type wizardState int

const (
	stateVariant wizardState = iota
	statePrice
	stateQuantity
	stateConfirm
)

// wizard holds the partially assembled order while the user walks the steps:
// variant → target price → quantity → confirmation.
type wizard struct {
	State       wizardState
	Variant     domain.Variant
	TargetPrice float64
	Quantity    int
	MaxQuantity int
}

func (b *Bot) getWizard(userID int64) *wizard {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.wizards[userID]
}

func (b *Bot) dropWizard(userID int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.wizards, userID)
}

// startWizard begins a fresh order wizard for the user.
func (b *Bot) startWizard(_ context.Context, user *domain.User, chatID int64) {
	b.mu.Lock()
	b.wizards[user.ID] = &wizard{State: stateVariant}
	b.mu.Unlock()

	msg := newMessageWithKeyboard(chatID,
		"🛒 New order. Which account type?", variantKeyboard())
	b.send(msg)
}

// handleWizardCallback advances the wizard on inline button presses.
func (b *Bot) handleWizardCallback(ctx context.Context, user *domain.User, w *wizard, chatID int64, action, arg string) {
	switch {
	case action == "variant" && w.State == stateVariant:
		variant := domain.Variant(arg)
		if variant != domain.VariantPlain && variant != domain.VariantTwoFA {
			return
		}
		w.Variant = variant
		w.MaxQuantity = b.limits.MaxQuantity(ctx, b.gw, variant)
		w.State = statePrice
		b.reply(chatID, fmt.Sprintf(
			"Accounts %s. Now send the target price per account in USD, e.g. 0.35.\n"+
				"The order fills once the market price drops to your target or below.",
			variant.Label()))

	case action == "confirm" && w.State == stateConfirm:
		if arg != "yes" {
			b.dropWizard(user.ID)
			b.reply(chatID, "🚫 Order discarded.")
			return
		}
		order := &domain.Order{
			UserID:      user.ID,
			Variant:     w.Variant,
			TargetPrice: w.TargetPrice,
			Quantity:    w.Quantity,
		}
		if err := b.engine.SubmitOrder(ctx, order); err != nil {
			b.log.Error("order submit failed", "user_id", user.ID, "error", err)
			b.dropWizard(user.ID)
			reason := "try again later"
			if errors.Is(err, engine.ErrInvalidQuantity) || errors.Is(err, engine.ErrInvalidTargetPrice) {
				reason = err.Error()
			}
			b.reply(chatID, "❌ Could not place the order: "+reason)
			return
		}
		b.dropWizard(user.ID)
		b.reply(chatID, fmt.Sprintf(
			"✅ Order #%d placed: %d × %s at ≤ $%.2f.\n"+
				"You will be notified when it fills.",
			order.ID, order.Quantity, order.Variant.Label(), order.TargetPrice))
	}
}

// handleWizardInput advances the wizard on free-text answers.
func (b *Bot) handleWizardInput(_ context.Context, user *domain.User, w *wizard, chatID int64, text string) {
	text = strings.TrimSpace(strings.ReplaceAll(text, ",", "."))

	switch w.State {
	case stateVariant:
		b.reply(chatID, "Please pick the account type with the buttons above.")

	case statePrice:
		price, err := strconv.ParseFloat(text, 64)
		if err != nil || price <= 0 {
			b.reply(chatID, "⚠️ Send a positive price, e.g. 0.35.")
			return
		}
		w.TargetPrice = price
		w.State = stateQuantity
		b.reply(chatID, fmt.Sprintf("How many accounts? (1–%d)", w.MaxQuantity))

	case stateQuantity:
		qty, err := strconv.Atoi(text)
		if err != nil || qty < 1 || qty > w.MaxQuantity {
			b.reply(chatID, fmt.Sprintf("⚠️ Send a whole number between 1 and %d.", w.MaxQuantity))
			return
		}
		w.Quantity = qty
		w.State = stateConfirm
		msg := newMessageWithKeyboard(chatID, fmt.Sprintf(
			"Confirm the order:\n\n"+
				"Type: %s\n"+
				"Quantity: %d\n"+
				"Target price: $%.2f\n"+
				"Maximum spend: $%.2f",
			w.Variant.Label(), w.Quantity, w.TargetPrice,
			w.TargetPrice*float64(w.Quantity)), confirmKeyboard())
		b.send(msg)

	case stateConfirm:
		b.reply(chatID, "Please confirm or discard with the buttons above.")
	}
}
