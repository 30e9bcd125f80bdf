package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"mailtrader/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, "test-key", 6000, testLogger())
}

func TestClientGetPrice(t *testing.T) {
	var gotKey, gotIs2FA string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/accounts/price" {
			t.Errorf("path = %q, want /api/v1/accounts/price", r.URL.Path)
		}
		gotKey = r.Header.Get("key")
		gotIs2FA = r.URL.Query().Get("is2fa")
		w.Write([]byte(`{"usdPrice": 0.35}`))
	})

	price, err := c.GetPrice(context.Background(), domain.VariantPlain)
	if err != nil {
		t.Fatalf("GetPrice returned error: %v", err)
	}
	if price != 0.35 {
		t.Errorf("GetPrice = %v, want 0.35", price)
	}
	if gotKey != "test-key" {
		t.Errorf("key header = %q, want %q", gotKey, "test-key")
	}
	if gotIs2FA != "false" {
		t.Errorf("is2fa param = %q, want %q", gotIs2FA, "false")
	}
}

func TestClientGetBalance(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"balance": 12.5}`))
	})

	balance, err := c.GetBalance(context.Background())
	if err != nil {
		t.Fatalf("GetBalance returned error: %v", err)
	}
	if balance != 12.5 {
		t.Errorf("GetBalance = %v, want 12.5", balance)
	}
}

func TestClientStatusMapping(t *testing.T) {
	tests := []struct {
		status  int
		wantErr error
	}{
		{http.StatusPaymentRequired, ErrInsufficientFunds},
		{http.StatusForbidden, ErrUnauthorized},
		{http.StatusNotFound, ErrNotFound},
		{http.StatusTooManyRequests, ErrRateLimited},
	}

	for _, tt := range tests {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
		})
		_, err := c.GetBalance(context.Background())
		if !errors.Is(err, tt.wantErr) {
			t.Errorf("status %d: error = %v, want %v", tt.status, err, tt.wantErr)
		}
	}
}

func TestClientUpstreamErrorBodyNotSurfaced(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"message": "secret internal detail"}`))
	})

	_, err := c.GetBalance(context.Background())
	if err == nil {
		t.Fatal("expected error for status 500")
	}
	// The raw upstream body must not leak into the error value.
	if got := err.Error(); got != "gateway: upstream returned status 500" {
		t.Errorf("error = %q, want generic status message", got)
	}
}

func TestClientBuyAccounts(t *testing.T) {
	calls := 0
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		if r.URL.Path != "/api/v1/accounts/buy" {
			t.Errorf("path = %q, want /api/v1/accounts/buy", r.URL.Path)
		}
		if got := r.URL.Query().Get("count"); got != "2" {
			t.Errorf("count param = %q, want %q", got, "2")
		}
		w.Write([]byte(`{
			"packId": "pack-123",
			"accountsCount": 2,
			"usdPrice": 0.40,
			"totalUsdPrice": 0.80,
			"is2fa": true,
			"accounts": [
				{"email": "a@example.com", "password": "p1", "authenticatorToken2FA": "tok1"},
				{"email": "b@example.com", "password": "p2", "authenticatorToken2FA": "tok2"}
			]
		}`))
	})

	pack, err := c.BuyAccounts(context.Background(), 2, domain.VariantTwoFA)
	if err != nil {
		t.Fatalf("BuyAccounts returned error: %v", err)
	}
	if pack.PackID != "pack-123" {
		t.Errorf("PackID = %q, want %q", pack.PackID, "pack-123")
	}
	if pack.AccountsCount != 2 || len(pack.Accounts) != 2 {
		t.Errorf("delivered %d/%d accounts, want 2/2", pack.AccountsCount, len(pack.Accounts))
	}
	if pack.TotalPrice != 0.80 {
		t.Errorf("TotalPrice = %v, want 0.80", pack.TotalPrice)
	}
	if pack.Accounts[0].AuthenticatorToken != "tok1" {
		t.Errorf("AuthenticatorToken = %q, want %q", pack.Accounts[0].AuthenticatorToken, "tok1")
	}
	if calls != 1 {
		t.Errorf("buy endpoint called %d times, want 1", calls)
	}
}

func TestClientBuyNotRetriedOnTransientFailure(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		// Drop the connection to simulate a network failure mid-request.
		hj, ok := w.(http.Hijacker)
		if !ok {
			t.Fatal("response writer does not support hijacking")
		}
		conn, _, err := hj.Hijack()
		if err != nil {
			t.Fatalf("hijack failed: %v", err)
		}
		conn.Close()
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "test-key", 6000, testLogger())

	_, err := c.BuyAccounts(context.Background(), 1, domain.VariantPlain)
	if err == nil {
		t.Fatal("expected error from dropped connection")
	}
	if !IsTransient(err) {
		t.Errorf("error = %v, want transient", err)
	}
	if calls != 1 {
		t.Errorf("buy endpoint called %d times, want exactly 1 (no retry)", calls)
	}
}

func TestClientReadRetriedOnTransientFailure(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			hj := w.(http.Hijacker)
			conn, _, _ := hj.Hijack()
			conn.Close()
			return
		}
		w.Write([]byte(`{"balance": 3.0}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "test-key", 6000, testLogger())

	balance, err := c.GetBalance(context.Background())
	if err != nil {
		t.Fatalf("GetBalance returned error after retry: %v", err)
	}
	if balance != 3.0 {
		t.Errorf("GetBalance = %v, want 3.0", balance)
	}
	if calls != 2 {
		t.Errorf("balance endpoint called %d times, want 2", calls)
	}
}

func TestSimulatorBuyDecrementsBalance(t *testing.T) {
	sim := NewSimulator(0.35, 0.60, 10.0)

	pack, err := sim.BuyAccounts(context.Background(), 10, domain.VariantPlain)
	if err != nil {
		t.Fatalf("BuyAccounts returned error: %v", err)
	}
	if pack.TotalPrice != 3.5 {
		t.Errorf("TotalPrice = %v, want 3.5", pack.TotalPrice)
	}
	if got := sim.Balance(); got != 6.5 {
		t.Errorf("Balance after buy = %v, want 6.5", got)
	}

	// A buy exceeding the remaining balance fails upstream-side.
	if _, err := sim.BuyAccounts(context.Background(), 100, domain.VariantPlain); !errors.Is(err, ErrInsufficientFunds) {
		t.Errorf("oversized buy error = %v, want ErrInsufficientFunds", err)
	}
}

func TestSimulatorPackLookup(t *testing.T) {
	sim := NewSimulator(0.35, 0.60, 100.0)
	ctx := context.Background()

	bought, err := sim.BuyAccounts(ctx, 3, domain.VariantTwoFA)
	if err != nil {
		t.Fatalf("BuyAccounts returned error: %v", err)
	}

	pack, err := sim.GetPack(ctx, bought.PackID)
	if err != nil {
		t.Fatalf("GetPack returned error: %v", err)
	}
	if pack.AccountsCount != 3 || !pack.Is2FA {
		t.Errorf("GetPack = %+v, want 3 accounts with 2FA", pack)
	}

	if _, err := sim.GetPack(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetPack(missing) error = %v, want ErrNotFound", err)
	}

	page, err := sim.ListPacks(ctx, 1, 10)
	if err != nil {
		t.Fatalf("ListPacks returned error: %v", err)
	}
	if page.Total != 1 || len(page.Packs) != 1 {
		t.Errorf("ListPacks = %d/%d packs, want 1/1", len(page.Packs), page.Total)
	}
}
