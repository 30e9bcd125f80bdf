package gateway

import (
	"context"
	"fmt"
	"sync"

	"mailtrader/internal/domain"
)

// Compile-time interface check.
var _ Gateway = (*Simulator)(nil)

// Simulator implements Gateway in memory for paper mode and tests. Prices
// and balance are set by the caller; purchases deliver synthesized accounts
// and decrement the balance.
type Simulator struct {
	mu         sync.Mutex
	pricePlain float64
	priceTwoFA float64
	balance    float64
	maxPerBuy  int
	packSeq    int
	packs      []PurchasePack

	// Err, when set, is returned by every call. Lets tests exercise
	// upstream failure modes.
	Err error
}

// NewSimulator creates a Simulator with the given starting prices and
// balance.
func NewSimulator(pricePlain, priceTwoFA, balance float64) *Simulator {
	return &Simulator{
		pricePlain: pricePlain,
		priceTwoFA: priceTwoFA,
		balance:    balance,
		maxPerBuy:  3000,
	}
}

// Name returns "simulator".
func (s *Simulator) Name() string { return "simulator" }

// SetPrices updates both variant prices.
func (s *Simulator) SetPrices(plain, twoFA float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pricePlain = plain
	s.priceTwoFA = twoFA
}

// SetBalance replaces the available balance.
func (s *Simulator) SetBalance(balance float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balance = balance
}

// Balance returns the current simulated balance.
func (s *Simulator) Balance() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balance
}

// GetPrice returns the configured price for the variant.
func (s *Simulator) GetPrice(_ context.Context, variant domain.Variant) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return 0, s.Err
	}
	if variant.Is2FA() {
		return s.priceTwoFA, nil
	}
	return s.pricePlain, nil
}

// GetBalance returns the simulated balance.
func (s *Simulator) GetBalance(_ context.Context) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return 0, s.Err
	}
	return s.balance, nil
}

// BuyAccounts simulates an immediate fill at the current price, delivering
// synthesized credentials and decrementing the balance.
func (s *Simulator) BuyAccounts(_ context.Context, count int, variant domain.Variant) (*PurchasePack, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}

	price := s.pricePlain
	if variant.Is2FA() {
		price = s.priceTwoFA
	}
	total := price * float64(count)
	if total > s.balance {
		return nil, ErrInsufficientFunds
	}

	s.packSeq++
	pack := PurchasePack{
		PackID:        fmt.Sprintf("sim-pack-%06d", s.packSeq),
		AccountsCount: count,
		UnitPrice:     price,
		TotalPrice:    total,
		Is2FA:         variant.Is2FA(),
		Accounts:      make([]PurchasedAccount, 0, count),
	}
	for i := 0; i < count; i++ {
		acc := PurchasedAccount{
			Email:         fmt.Sprintf("sim%d.%d@example.com", s.packSeq, i+1),
			Password:      fmt.Sprintf("pw-%d-%d", s.packSeq, i+1),
			RecoveryEmail: fmt.Sprintf("rec%d.%d@example.net", s.packSeq, i+1),
		}
		if variant.Is2FA() {
			acc.AuthenticatorToken = fmt.Sprintf("totp-%d-%d", s.packSeq, i+1)
		}
		pack.Accounts = append(pack.Accounts, acc)
	}

	s.balance -= total
	s.packs = append(s.packs, pack)
	return &pack, nil
}

// MaxPerPurchase returns the simulated per-buy cap.
func (s *Simulator) MaxPerPurchase(_ context.Context, _ domain.Variant) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return 0, s.Err
	}
	return s.maxPerBuy, nil
}

// ListPacks returns one page of simulated purchases.
func (s *Simulator) ListPacks(_ context.Context, page, limit int) (*PackPage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	if page < 1 {
		page = 1
	}
	start := (page - 1) * limit
	end := start + limit
	if start > len(s.packs) {
		start = len(s.packs)
	}
	if end > len(s.packs) {
		end = len(s.packs)
	}
	return &PackPage{
		Packs: append([]PurchasePack(nil), s.packs[start:end]...),
		Page:  page,
		Total: len(s.packs),
	}, nil
}

// GetPack returns a simulated pack by ID.
func (s *Simulator) GetPack(_ context.Context, packID string) (*PurchasePack, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	for i := range s.packs {
		if s.packs[i].PackID == packID {
			pack := s.packs[i]
			return &pack, nil
		}
	}
	return nil, ErrNotFound
}
