// Package engine runs the matching cycle: it samples upstream prices,
// selects eligible standing orders, executes purchases, and records the
// results atomically.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"mailtrader/internal/domain"
	"mailtrader/internal/gateway"
	"mailtrader/internal/store"
)

// Engine coordinates one matching cycle at a time against a gateway for
// execution and a store for persistence.
type Engine struct {
	gw     gateway.Gateway
	store  store.Store
	limits *OrderLimits
	log    *slog.Logger
}

// NewEngine creates an Engine wired with the given dependencies.
func NewEngine(gw gateway.Gateway, st store.Store, limits *OrderLimits, log *slog.Logger) *Engine {
	return &Engine{
		gw:     gw,
		store:  st,
		limits: limits,
		log:    log,
	}
}

// CurrentPrices fetches the live unit price of both variants.
func (e *Engine) CurrentPrices(ctx context.Context) (domain.Prices, error) {
	plain, err := e.gw.GetPrice(ctx, domain.VariantPlain)
	if err != nil {
		return domain.Prices{}, fmt.Errorf("fetching plain price: %w", err)
	}
	twoFA, err := e.gw.GetPrice(ctx, domain.VariantTwoFA)
	if err != nil {
		return domain.Prices{}, fmt.Errorf("fetching 2fa price: %w", err)
	}
	return domain.Prices{Plain: plain, TwoFA: twoFA}, nil
}

// CurrentBalance fetches the available upstream funding balance.
func (e *Engine) CurrentBalance(ctx context.Context) (float64, error) {
	balance, err := e.gw.GetBalance(ctx)
	if err != nil {
		return 0, fmt.Errorf("fetching balance: %w", err)
	}
	return balance, nil
}

// SubmitOrder validates a new standing order against the configured limits
// and persists it.
func (e *Engine) SubmitOrder(ctx context.Context, order *domain.Order) error {
	if err := e.limits.CheckOrder(ctx, order, e.gw); err != nil {
		return err
	}
	if err := e.store.CreateOrder(ctx, order); err != nil {
		return err
	}
	e.log.Info("order created",
		"order_id", order.ID, "user_id", order.UserID,
		"variant", order.Variant, "target_price", order.TargetPrice,
		"quantity", order.Quantity)
	return nil
}

// CancelOrder cancels the owner's active order.
func (e *Engine) CancelOrder(ctx context.Context, ownerID, orderID int64) error {
	if err := e.store.CancelOrder(ctx, ownerID, orderID); err != nil {
		return err
	}
	e.log.Info("order cancelled", "order_id", orderID, "user_id", ownerID)
	return nil
}

// RunCycle executes one matching cycle:
//
//  1. Snapshot prices for both variants. A snapshot failure aborts the cycle
//     before any writes.
//  2. Inside one transaction: record the price sample, fetch the balance,
//     then walk active orders cheapest target first. Each eligible order is
//     purchased upstream and recorded with its accounts; the remaining
//     balance is decremented by the actual amount paid.
//  3. Commit. Any persistence error rolls the whole cycle back.
//
// A failed purchase never aborts the cycle: the order stays active and is
// considered again next cycle. Purchases are never retried within a cycle.
func (e *Engine) RunCycle(ctx context.Context) ([]domain.Fill, error) {
	prices, err := e.CurrentPrices(ctx)
	if err != nil {
		return nil, err
	}

	balance, err := e.CurrentBalance(ctx)
	if err != nil {
		return nil, err
	}

	var fills []domain.Fill
	err = e.store.InCycle(ctx, func(c store.Cycle) error {
		sample := &domain.PriceSample{
			PricePlain: prices.Plain,
			PriceTwoFA: prices.TwoFA,
		}
		if err := c.SavePriceSample(ctx, sample); err != nil {
			return fmt.Errorf("saving price sample: %w", err)
		}

		orders, err := c.ListActiveOrders(ctx)
		if err != nil {
			return fmt.Errorf("listing active orders: %w", err)
		}

		for i := range orders {
			order := &orders[i]
			price := prices.For(order.Variant)
			if price <= 0 || price > order.TargetPrice {
				continue
			}
			estCost := price * float64(order.Quantity)
			if estCost > balance {
				e.log.Debug("order skipped, estimated cost exceeds balance",
					"order_id", order.ID, "est_cost", estCost, "balance", balance)
				continue
			}

			pack, err := e.gw.BuyAccounts(ctx, order.Quantity, order.Variant)
			if err != nil {
				// The order stays active; next cycle will try again.
				e.log.Warn("purchase failed",
					"order_id", order.ID, "quantity", order.Quantity,
					"variant", order.Variant, "error", err)
				if errors.Is(err, gateway.ErrInsufficientFunds) {
					// Our balance view is stale; stop buying this cycle.
					balance = 0
				}
				continue
			}

			purchase := &domain.Purchase{
				OrderID:       order.ID,
				PackID:        pack.PackID,
				AccountsCount: pack.AccountsCount,
				PricePaid:     pack.UnitPrice,
				TotalPrice:    pack.TotalPrice,
				Variant:       order.Variant,
			}
			accounts := make([]domain.Account, 0, len(pack.Accounts))
			for _, a := range pack.Accounts {
				accounts = append(accounts, domain.Account{
					Email:               a.Email,
					Password:            a.Password,
					RecoveryEmail:       a.RecoveryEmail,
					RecoveryMessagesURL: a.RecoveryMessagesURL,
					AuthenticatorToken:  a.AuthenticatorToken,
					AppPassword:         a.AppPassword,
					MessagesURL:         a.MessagesURL,
					Status:              domain.AccountStatusAvailable,
				})
			}
			// A recording failure after a successful buy must surface loudly:
			// rolling back keeps the ledger consistent and the error carries
			// the pack ID for manual reconciliation.
			if err := c.RecordFill(ctx, purchase, accounts); err != nil {
				return fmt.Errorf("recording fill for order %d (pack %s): %w",
					order.ID, pack.PackID, err)
			}

			balance -= pack.TotalPrice
			fills = append(fills, domain.Fill{
				OrderID:       order.ID,
				UserID:        order.UserID,
				PackID:        pack.PackID,
				AccountsCount: pack.AccountsCount,
				PricePaid:     pack.UnitPrice,
				TotalPrice:    pack.TotalPrice,
				Variant:       order.Variant,
			})
			e.log.Info("order filled",
				"order_id", order.ID, "pack_id", pack.PackID,
				"accounts", pack.AccountsCount, "unit_price", pack.UnitPrice,
				"total", pack.TotalPrice)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return fills, nil
}
