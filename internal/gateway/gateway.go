// Package gateway defines the Gateway interface and provides implementations
// for querying prices and balance and executing purchases against the
// upstream account-trading API.
package gateway

import (
	"context"

	"mailtrader/internal/domain"
)

// PurchasedAccount is one credential set delivered inside a pack.
type PurchasedAccount struct {
	Email               string `json:"email"`
	Password            string `json:"password"`
	RecoveryEmail       string `json:"recoveryEmail"`
	RecoveryMessagesURL string `json:"recoveryEmailMessagesUrl"`
	AuthenticatorToken  string `json:"authenticatorToken2FA"`
	AppPassword         string `json:"appPassword"`
	MessagesURL         string `json:"messagesUrl"`
}

// PurchasePack is the upstream unit of delivery for one batch purchase.
type PurchasePack struct {
	PackID        string             `json:"packId"`
	AccountsCount int                `json:"accountsCount"`
	UnitPrice     float64            `json:"usdPrice"`
	TotalPrice    float64            `json:"totalUsdPrice"`
	Is2FA         bool               `json:"is2fa"`
	Accounts      []PurchasedAccount `json:"accounts"`
}

// PackPage is one page of previously purchased packs.
type PackPage struct {
	Packs []PurchasePack `json:"packs"`
	Page  int            `json:"page"`
	Total int            `json:"total"`
}

// Gateway abstracts the upstream trading API.
//
// BuyAccounts executes a real, non-idempotent financial transaction.
// Implementations surface ambiguous network failures as transient errors and
// callers must not retry a failed buy within the same cycle: a retry after a
// timeout could double-purchase.
type Gateway interface {
	// Name returns the gateway identifier (e.g. "trade-api", "simulator").
	Name() string

	// GetPrice returns the current unit price for the given account variant.
	GetPrice(ctx context.Context, variant domain.Variant) (float64, error)

	// GetBalance returns the available funding balance. May be zero.
	GetBalance(ctx context.Context) (float64, error)

	// BuyAccounts purchases count accounts of the given variant and returns
	// the delivered pack.
	BuyAccounts(ctx context.Context, count int, variant domain.Variant) (*PurchasePack, error)

	// MaxPerPurchase returns the upstream cap on accounts per single buy.
	MaxPerPurchase(ctx context.Context, variant domain.Variant) (int, error)

	// ListPacks returns one page of previously purchased packs.
	ListPacks(ctx context.Context, page, limit int) (*PackPage, error)

	// GetPack returns the details of a single pack by its ID.
	GetPack(ctx context.Context, packID string) (*PurchasePack, error)
}
