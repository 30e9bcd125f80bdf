// Package httpapi provides a read-only HTTP API for operators: current
// prices, price history, order state, and the upstream balance.
package httpapi

import (
	"time"

	"mailtrader/internal/domain"
)

// PricesJSON is the JSON representation of the live price pair.
type PricesJSON struct {
	Plain float64 `json:"priceNo2fa"`
	TwoFA float64 `json:"price2fa"`
}

// PriceSampleJSON is one archived price observation.
type PriceSampleJSON struct {
	Timestamp time.Time `json:"timestamp"`
	Plain     float64   `json:"priceNo2fa"`
	TwoFA     float64   `json:"price2fa"`
}

// OrderJSON is the JSON representation of a standing order.
type OrderJSON struct {
	ID          int64      `json:"id"`
	UserID      int64      `json:"userId"`
	Variant     string     `json:"variant"`
	TargetPrice float64    `json:"targetPrice"`
	Quantity    int        `json:"quantity"`
	Status      string     `json:"status"`
	CreatedAt   time.Time  `json:"createdAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// PurchaseJSON is the JSON representation of one executed fill.
type PurchaseJSON struct {
	ID            int64     `json:"id"`
	OrderID       int64     `json:"orderId"`
	PackID        string    `json:"packId"`
	AccountsCount int       `json:"accountsCount"`
	PricePaid     float64   `json:"pricePaid"`
	TotalPrice    float64   `json:"totalPrice"`
	Variant       string    `json:"variant"`
	PurchasedAt   time.Time `json:"purchasedAt"`
}

// BalanceJSON is the JSON representation of the upstream balance.
type BalanceJSON struct {
	Balance float64 `json:"balance"`
}

func toOrderJSON(o domain.Order) OrderJSON {
	return OrderJSON{
		ID:          o.ID,
		UserID:      o.UserID,
		Variant:     string(o.Variant),
		TargetPrice: o.TargetPrice,
		Quantity:    o.Quantity,
		Status:      string(o.Status),
		CreatedAt:   o.CreatedAt,
		CompletedAt: o.CompletedAt,
	}
}

func toPurchaseJSON(p domain.Purchase) PurchaseJSON {
	return PurchaseJSON{
		ID:            p.ID,
		OrderID:       p.OrderID,
		PackID:        p.PackID,
		AccountsCount: p.AccountsCount,
		PricePaid:     p.PricePaid,
		TotalPrice:    p.TotalPrice,
		Variant:       string(p.Variant),
		PurchasedAt:   p.PurchasedAt,
	}
}
