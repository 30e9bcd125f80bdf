package notify

import (
	"fmt"

	"mailtrader/internal/domain"
)

// FormatFill renders the fill notice sent to the order's owner.
func FormatFill(fill domain.Fill) string {
	return fmt.Sprintf(
		"✅ Order #%d filled\n\n"+
			"Accounts: %d (%s)\n"+
			"Unit price: $%.2f\n"+
			"Total: $%.2f\n"+
			"Pack: %s\n\n"+
			"Use /orders to export the credentials.",
		fill.OrderID, fill.AccountsCount, fill.Variant.Label(),
		fill.PricePaid, fill.TotalPrice, fill.PackID)
}

// FormatPrices renders the periodic price broadcast.
func FormatPrices(prices domain.Prices) string {
	return fmt.Sprintf(
		"📊 Current prices\n\n"+
			"Without 2FA: $%.2f\n"+
			"With 2FA: $%.2f",
		prices.Plain, prices.TwoFA)
}
