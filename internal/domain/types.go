// Package domain defines the core entities of the account-trading system:
// users, standing orders, executed purchases, procured accounts, and price
// history samples.
package domain

import "time"

// Variant distinguishes the two account flavors sold upstream.
type Variant string

const (
	// VariantPlain is an account without pre-configured secondary auth.
	VariantPlain Variant = "no2fa"
	// VariantTwoFA is an account with secondary auth (2FA) pre-configured.
	VariantTwoFA Variant = "2fa"
)

// Is2FA reports whether the variant carries pre-configured 2FA.
func (v Variant) Is2FA() bool { return v == VariantTwoFA }

// Label returns a human-readable name for the variant.
func (v Variant) Label() string {
	if v == VariantTwoFA {
		return "with 2FA"
	}
	return "without 2FA"
}

// OrderStatus is the lifecycle state of a standing order.
type OrderStatus string

const (
	OrderStatusActive    OrderStatus = "active"
	OrderStatusCompleted OrderStatus = "completed"
	OrderStatusCancelled OrderStatus = "cancelled"
)

// Terminal reports whether the status admits no further transitions.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusCompleted || s == OrderStatusCancelled
}

// AccountStatus marks whether a procured account has been handed out.
type AccountStatus string

const (
	AccountStatusAvailable AccountStatus = "available"
	AccountStatusUsed      AccountStatus = "used"
)

// User is an authorized operator of the bot, keyed by Telegram ID.
type User struct {
	ID        int64
	Username  string
	FirstName string
	Blocked   bool
	CreatedAt time.Time
}

// Order is a standing instruction to buy accounts once the market price
// reaches the target. Exactly one terminal transition is allowed:
// active → completed or active → cancelled.
type Order struct {
	ID          int64
	UserID      int64
	Variant     Variant
	TargetPrice float64
	Quantity    int
	Status      OrderStatus
	CreatedAt   time.Time
	CompletedAt *time.Time
}

// MaxCost is the upper bound the order may spend (target price × quantity).
func (o *Order) MaxCost() float64 {
	return o.TargetPrice * float64(o.Quantity)
}

// Purchase is the immutable record of one executed fill. PackID is the
// upstream delivery identifier and is globally unique.
type Purchase struct {
	ID            int64
	OrderID       int64
	PackID        string
	AccountsCount int
	PricePaid     float64
	TotalPrice    float64
	Variant       Variant
	PurchasedAt   time.Time
}

// Account is one procured credential set belonging to a Purchase. Immutable
// after creation except for Status.
type Account struct {
	ID                  int64
	PurchaseID          int64
	Email               string
	Password            string
	RecoveryEmail       string
	RecoveryMessagesURL string
	AuthenticatorToken  string
	AppPassword         string
	MessagesURL         string
	Status              AccountStatus
}

// PriceSample is an append-only snapshot of both variant prices, recorded
// once per matching cycle.
type PriceSample struct {
	ID         int64
	Timestamp  time.Time
	PricePlain float64
	PriceTwoFA float64
}

// Price returns the sampled price for the given variant.
func (p PriceSample) Price(v Variant) float64 {
	if v.Is2FA() {
		return p.PriceTwoFA
	}
	return p.PricePlain
}

// Fill describes one successfully executed order, returned by the engine
// for downstream notification.
type Fill struct {
	OrderID       int64
	UserID        int64
	PackID        string
	AccountsCount int
	PricePaid     float64
	TotalPrice    float64
	Variant       Variant
}

// Prices pairs the current unit price of both variants.
type Prices struct {
	Plain float64
	TwoFA float64
}

// For returns the price for the given variant.
func (p Prices) For(v Variant) float64 {
	if v.Is2FA() {
		return p.TwoFA
	}
	return p.Plain
}
