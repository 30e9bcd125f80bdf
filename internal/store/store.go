// Package store defines storage interfaces for persisting and retrieving
// users, standing orders, the purchase ledger, and price history.
package store

import (
	"context"
	"errors"
	"time"

	"mailtrader/internal/domain"
)

// Storage error values.
var (
	// ErrNotFound means the requested record does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrAlreadyTerminal means an order status transition was refused
	// because the order is no longer active.
	ErrAlreadyTerminal = errors.New("store: order already terminal")

	// ErrDuplicatePack means a purchase with the same upstream pack ID has
	// already been recorded.
	ErrDuplicatePack = errors.New("store: duplicate pack id")
)

// UserStore persists and retrieves bot users.
type UserStore interface {
	// EnsureUser inserts the user if absent, otherwise refreshes the
	// username and first name.
	EnsureUser(ctx context.Context, user *domain.User) error

	// GetUser retrieves a single user by Telegram ID.
	GetUser(ctx context.Context, id int64) (*domain.User, error)

	// ListUsers returns all users, newest first.
	ListUsers(ctx context.Context) ([]domain.User, error)

	// ListRecipients returns all non-blocked users.
	ListRecipients(ctx context.Context) ([]domain.User, error)

	// SetBlocked updates the blocked flag for a user.
	SetBlocked(ctx context.Context, id int64, blocked bool) error

	// DeleteUser removes a user and, via cascade, their orders.
	DeleteUser(ctx context.Context, id int64) error
}

// OrderStore persists and retrieves standing orders.
type OrderStore interface {
	// CreateOrder inserts a new order with status active and fills in its
	// assigned ID and creation time.
	CreateOrder(ctx context.Context, order *domain.Order) error

	// GetOrder retrieves a single order by ID.
	GetOrder(ctx context.Context, id int64) (*domain.Order, error)

	// ListOrdersByOwner returns the owner's orders matching status, newest
	// first. An empty status matches all.
	ListOrdersByOwner(ctx context.Context, ownerID int64, status domain.OrderStatus) ([]domain.Order, error)

	// CancelOrder transitions the owner's order to cancelled. It fails with
	// ErrNotFound if no such order exists for the owner, and with
	// ErrAlreadyTerminal if the order is not active at write time.
	CancelOrder(ctx context.Context, ownerID, orderID int64) error
}

// LedgerStore retrieves the immutable purchase ledger.
type LedgerStore interface {
	// ListPurchases returns all purchases recorded against an order.
	ListPurchases(ctx context.Context, orderID int64) ([]domain.Purchase, error)

	// ListPurchaseAccounts returns all accounts procured for an order.
	ListPurchaseAccounts(ctx context.Context, orderID int64) ([]domain.Account, error)

	// SetAccountStatus updates the status of a single procured account.
	SetAccountStatus(ctx context.Context, accountID int64, status domain.AccountStatus) error
}

// PriceStore retrieves the append-only price history.
type PriceStore interface {
	// ListPriceSamples returns samples taken at or after since, oldest
	// first, up to limit (0 for no limit).
	ListPriceSamples(ctx context.Context, since time.Time, limit int) ([]domain.PriceSample, error)

	// LatestPriceSample returns the most recent sample, or ErrNotFound.
	LatestPriceSample(ctx context.Context) (*domain.PriceSample, error)
}

// Cycle is the transactional scope of one matching cycle. All writes made
// through a Cycle commit or roll back together.
type Cycle interface {
	// SavePriceSample appends a price history row and fills in its ID.
	SavePriceSample(ctx context.Context, sample *domain.PriceSample) error

	// ListActiveOrders returns all active orders sorted by ascending target
	// price.
	ListActiveOrders(ctx context.Context) ([]domain.Order, error)

	// RecordFill atomically records a purchase with its accounts and
	// transitions the parent order to completed. Fails with
	// ErrDuplicatePack if the pack ID was already recorded and with
	// ErrAlreadyTerminal if the order is no longer active.
	RecordFill(ctx context.Context, purchase *domain.Purchase, accounts []domain.Account) error
}

// Store is the full persistence surface: the per-concern read/write
// interfaces plus the transactional cycle scope used by the engine.
type Store interface {
	UserStore
	OrderStore
	LedgerStore
	PriceStore

	// InCycle runs fn inside a single transaction, committing on nil and
	// rolling back on error.
	InCycle(ctx context.Context, fn func(Cycle) error) error
}
