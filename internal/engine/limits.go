package engine

import (
	"context"
	"errors"
	"fmt"

	"mailtrader/internal/domain"
	"mailtrader/internal/gateway"
)

// Order validation errors.
var (
	ErrInvalidTargetPrice = errors.New("engine: target price must be positive")
	ErrInvalidQuantity    = errors.New("engine: quantity out of range")
)

// OrderLimits enforces bounds on new standing orders before they are
// accepted.
type OrderLimits struct {
	minQuantity int
	maxQuantity int
}

// NewOrderLimits creates an OrderLimits with the configured quantity bounds.
func NewOrderLimits(minQuantity, maxQuantity int) *OrderLimits {
	return &OrderLimits{
		minQuantity: minQuantity,
		maxQuantity: maxQuantity,
	}
}

// MaxQuantity returns the effective upper bound for the variant: the
// configured maximum, further capped by the upstream per-purchase limit when
// it is available.
func (l *OrderLimits) MaxQuantity(ctx context.Context, gw gateway.Gateway, variant domain.Variant) int {
	maxQty := l.maxQuantity
	if gw == nil {
		return maxQty
	}
	upstream, err := gw.MaxPerPurchase(ctx, variant)
	if err == nil && upstream > 0 && upstream < maxQty {
		maxQty = upstream
	}
	return maxQty
}

// CheckOrder validates the proposed order against the configured limits.
func (l *OrderLimits) CheckOrder(ctx context.Context, order *domain.Order, gw gateway.Gateway) error {
	if order.TargetPrice <= 0 {
		return ErrInvalidTargetPrice
	}
	maxQty := l.MaxQuantity(ctx, gw, order.Variant)
	if order.Quantity < l.minQuantity || order.Quantity > maxQty {
		return fmt.Errorf("%w: %d not in [%d, %d]",
			ErrInvalidQuantity, order.Quantity, l.minQuantity, maxQty)
	}
	return nil
}
