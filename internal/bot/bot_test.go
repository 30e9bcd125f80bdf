package bot

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"mailtrader/internal/domain"
	"mailtrader/internal/engine"
	"mailtrader/internal/gateway"
	"mailtrader/internal/store"
)

const ownerID = 100

// fakeAPI records everything the bot sends.
type fakeAPI struct {
	sent []tgbotapi.Chattable
}

func (f *fakeAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.sent = append(f.sent, c)
	return tgbotapi.Message{}, nil
}

func (f *fakeAPI) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	return &tgbotapi.APIResponse{Ok: true}, nil
}

// lastText returns the text of the most recent plain message.
func (f *fakeAPI) lastText(t *testing.T) string {
	t.Helper()
	for i := len(f.sent) - 1; i >= 0; i-- {
		if msg, ok := f.sent[i].(tgbotapi.MessageConfig); ok {
			return msg.Text
		}
	}
	t.Fatal("no message sent")
	return ""
}

func newTestBot(t *testing.T) (*Bot, *fakeAPI, *store.SQLiteStore, *gateway.Simulator) {
	t.Helper()
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore returned error: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	sim := gateway.NewSimulator(0.35, 0.60, 100)
	limits := engine.NewOrderLimits(1, 3000)
	log := slog.New(slog.DiscardHandler)
	eng := engine.NewEngine(sim, st, limits, log)
	api := &fakeAPI{}
	return New(api, eng, st, sim, limits, ownerID, log), api, st, sim
}

func message(userID int64, text string) *tgbotapi.Message {
	msg := &tgbotapi.Message{
		From: &tgbotapi.User{ID: userID, UserName: "user", FirstName: "User"},
		Chat: &tgbotapi.Chat{ID: userID},
		Text: text,
	}
	if strings.HasPrefix(text, "/") {
		cmd := text
		if i := strings.IndexByte(text, ' '); i >= 0 {
			cmd = text[:i]
		}
		msg.Entities = []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(cmd)}}
	}
	return msg
}

func callback(userID int64, data string) *tgbotapi.CallbackQuery {
	return &tgbotapi.CallbackQuery{
		ID:      "cb",
		From:    &tgbotapi.User{ID: userID, UserName: "user", FirstName: "User"},
		Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: userID}},
		Data:    data,
	}
}

func TestUnknownUserDenied(t *testing.T) {
	b, api, _, _ := newTestBot(t)

	b.handleMessage(context.Background(), message(555, "/start"))

	if got := api.lastText(t); !strings.Contains(got, "not authorized") {
		t.Errorf("reply = %q, want authorization denial", got)
	}
}

func TestOwnerAutoRegistered(t *testing.T) {
	b, api, st, _ := newTestBot(t)
	ctx := context.Background()

	b.handleMessage(ctx, message(ownerID, "/start"))

	if got := api.lastText(t); !strings.Contains(got, "Available commands") {
		t.Errorf("reply = %q, want help text", got)
	}
	if _, err := st.GetUser(ctx, ownerID); err != nil {
		t.Errorf("owner not registered: %v", err)
	}
}

func TestBlockedUserDenied(t *testing.T) {
	b, api, st, _ := newTestBot(t)
	ctx := context.Background()

	if err := st.EnsureUser(ctx, &domain.User{ID: 5}); err != nil {
		t.Fatalf("EnsureUser returned error: %v", err)
	}
	if err := st.SetBlocked(ctx, 5, true); err != nil {
		t.Fatalf("SetBlocked returned error: %v", err)
	}

	b.handleMessage(ctx, message(5, "/price"))
	if got := api.lastText(t); !strings.Contains(got, "not authorized") {
		t.Errorf("reply = %q, want authorization denial", got)
	}
}

func TestWizardPlacesOrder(t *testing.T) {
	b, api, st, _ := newTestBot(t)
	ctx := context.Background()

	b.handleMessage(ctx, message(ownerID, "/buy"))
	b.handleCallback(ctx, callback(ownerID, "variant:2fa"))
	b.handleMessage(ctx, message(ownerID, "0.55"))
	b.handleMessage(ctx, message(ownerID, "3"))
	if got := api.lastText(t); !strings.Contains(got, "Confirm the order") {
		t.Fatalf("reply = %q, want confirmation prompt", got)
	}
	b.handleCallback(ctx, callback(ownerID, "confirm:yes"))

	orders, err := st.ListOrdersByOwner(ctx, ownerID, domain.OrderStatusActive)
	if err != nil {
		t.Fatalf("ListOrdersByOwner returned error: %v", err)
	}
	if len(orders) != 1 {
		t.Fatalf("placed %d orders, want 1", len(orders))
	}
	o := orders[0]
	if o.Variant != domain.VariantTwoFA || o.TargetPrice != 0.55 || o.Quantity != 3 {
		t.Errorf("order = %+v, want 3 × 2fa at 0.55", o)
	}
	if b.getWizard(ownerID) != nil {
		t.Error("wizard still active after confirmation")
	}
}

func TestWizardRejectsBadInput(t *testing.T) {
	b, api, st, _ := newTestBot(t)
	ctx := context.Background()

	b.handleMessage(ctx, message(ownerID, "/buy"))
	b.handleCallback(ctx, callback(ownerID, "variant:no2fa"))

	// Bad price keeps the wizard on the price step.
	b.handleMessage(ctx, message(ownerID, "free"))
	if got := api.lastText(t); !strings.Contains(got, "positive price") {
		t.Errorf("reply = %q, want price re-prompt", got)
	}
	b.handleMessage(ctx, message(ownerID, "0,40")) // comma decimal separator

	// Quantity above the upstream cap is rejected.
	b.handleMessage(ctx, message(ownerID, "99999"))
	if got := api.lastText(t); !strings.Contains(got, "between 1 and 3000") {
		t.Errorf("reply = %q, want quantity re-prompt", got)
	}
	b.handleMessage(ctx, message(ownerID, "10"))
	b.handleCallback(ctx, callback(ownerID, "confirm:no"))

	orders, err := st.ListOrdersByOwner(ctx, ownerID, "")
	if err != nil {
		t.Fatalf("ListOrdersByOwner returned error: %v", err)
	}
	if len(orders) != 0 {
		t.Errorf("discarded wizard placed %d orders, want 0", len(orders))
	}
}

func TestWizardAbandonedByCommand(t *testing.T) {
	b, _, _, _ := newTestBot(t)
	ctx := context.Background()

	b.handleMessage(ctx, message(ownerID, "/buy"))
	if b.getWizard(ownerID) == nil {
		t.Fatal("wizard not started")
	}
	b.handleMessage(ctx, message(ownerID, "/orders"))
	if b.getWizard(ownerID) != nil {
		t.Error("wizard survived an interrupting command")
	}
}

func TestCancelViaCallback(t *testing.T) {
	b, api, st, _ := newTestBot(t)
	ctx := context.Background()

	b.handleMessage(ctx, message(ownerID, "/start"))
	o := &domain.Order{UserID: ownerID, Variant: domain.VariantPlain, TargetPrice: 0.4, Quantity: 1}
	if err := st.CreateOrder(ctx, o); err != nil {
		t.Fatalf("CreateOrder returned error: %v", err)
	}

	b.handleCallback(ctx, callback(ownerID, "cancel:1"))
	if got := api.lastText(t); !strings.Contains(got, "cancelled") {
		t.Errorf("reply = %q, want cancellation notice", got)
	}

	got, err := st.GetOrder(ctx, o.ID)
	if err != nil {
		t.Fatalf("GetOrder returned error: %v", err)
	}
	if got.Status != domain.OrderStatusCancelled {
		t.Errorf("order status = %q, want cancelled", got.Status)
	}
}

func TestOrdersViewEligibilityMarkers(t *testing.T) {
	b, api, st, sim := newTestBot(t)
	ctx := context.Background()
	sim.SetPrices(0.35, 0.60)

	b.handleMessage(ctx, message(ownerID, "/start"))
	eligible := &domain.Order{UserID: ownerID, Variant: domain.VariantPlain, TargetPrice: 0.40, Quantity: 1}
	pricedOut := &domain.Order{UserID: ownerID, Variant: domain.VariantPlain, TargetPrice: 0.30, Quantity: 1}
	for _, o := range []*domain.Order{eligible, pricedOut} {
		if err := st.CreateOrder(ctx, o); err != nil {
			t.Fatalf("CreateOrder returned error: %v", err)
		}
	}

	b.handleMessage(ctx, message(ownerID, "/orders"))
	got := api.lastText(t)
	if !strings.Contains(got, fmt.Sprintf("🟢 #%d", eligible.ID)) {
		t.Errorf("listing = %q, want 🟢 on order with target above live price", got)
	}
	if !strings.Contains(got, fmt.Sprintf("🔴 #%d", pricedOut.ID)) {
		t.Errorf("listing = %q, want 🔴 on order with target below live price", got)
	}

	// When the price lookup fails the listing still renders, with a
	// neutral marker.
	sim.Err = gateway.ErrRateLimited
	b.handleMessage(ctx, message(ownerID, "/orders"))
	if got := api.lastText(t); !strings.Contains(got, "⚪") {
		t.Errorf("listing = %q, want ⚪ when live prices are unknown", got)
	}
}

func TestOrderDetailsCallback(t *testing.T) {
	b, api, st, sim := newTestBot(t)
	ctx := context.Background()

	b.handleMessage(ctx, message(ownerID, "/start"))
	o := &domain.Order{UserID: ownerID, Variant: domain.VariantPlain, TargetPrice: 0.4, Quantity: 2}
	if err := st.CreateOrder(ctx, o); err != nil {
		t.Fatalf("CreateOrder returned error: %v", err)
	}
	pack, err := sim.BuyAccounts(ctx, 2, domain.VariantPlain)
	if err != nil {
		t.Fatalf("BuyAccounts returned error: %v", err)
	}
	err = st.InCycle(ctx, func(c store.Cycle) error {
		return c.RecordFill(ctx,
			&domain.Purchase{
				OrderID:       o.ID,
				PackID:        pack.PackID,
				AccountsCount: pack.AccountsCount,
				PricePaid:     pack.UnitPrice,
				TotalPrice:    pack.TotalPrice,
				Variant:       domain.VariantPlain,
			},
			[]domain.Account{{Email: "a@x.com"}, {Email: "b@x.com"}})
	})
	if err != nil {
		t.Fatalf("RecordFill returned error: %v", err)
	}

	b.handleCallback(ctx, callback(ownerID, fmt.Sprintf("details:%d", o.ID)))
	got := api.lastText(t)
	if !strings.Contains(got, "pack "+pack.PackID) {
		t.Errorf("details = %q, want pack ID %q", got, pack.PackID)
	}
	if !strings.Contains(got, pack.Accounts[0].Email) {
		t.Errorf("details = %q, want delivered email %q", got, pack.Accounts[0].Email)
	}

	// The ledger view survives an upstream lookup failure.
	sim.Err = gateway.ErrRateLimited
	b.handleCallback(ctx, callback(ownerID, fmt.Sprintf("details:%d", o.ID)))
	got = api.lastText(t)
	if !strings.Contains(got, "pack "+pack.PackID) || !strings.Contains(got, "ledger data") {
		t.Errorf("details = %q, want ledger fallback", got)
	}
}

func TestOrderDetailsDeniedForForeignOrder(t *testing.T) {
	b, api, st, _ := newTestBot(t)
	ctx := context.Background()

	if err := st.EnsureUser(ctx, &domain.User{ID: 5}); err != nil {
		t.Fatalf("EnsureUser returned error: %v", err)
	}
	o := &domain.Order{UserID: 5, Variant: domain.VariantPlain, TargetPrice: 0.4, Quantity: 1}
	if err := st.CreateOrder(ctx, o); err != nil {
		t.Fatalf("CreateOrder returned error: %v", err)
	}

	b.handleMessage(ctx, message(ownerID, "/start"))
	b.handleCallback(ctx, callback(ownerID, fmt.Sprintf("details:%d", o.ID)))
	if got := api.lastText(t); !strings.Contains(got, "not found") {
		t.Errorf("reply = %q, want not found", got)
	}
}

func TestBuildExportFormat(t *testing.T) {
	got := BuildExport([]domain.Account{
		{Email: "a@x.com", Password: "p1", RecoveryEmail: "r@x.com", RecoveryMessagesURL: "https://m/1"},
		{Email: "b@x.com", Password: "p2"},
	})
	want := "a@x.com;p1;r@x.com;https://m/1\nb@x.com;p2;;\n"
	if got != want {
		t.Errorf("BuildExport mismatch:\n  got  %q\n  want %q", got, want)
	}
}

func TestExportMarksAccountsUsed(t *testing.T) {
	b, api, st, _ := newTestBot(t)
	ctx := context.Background()

	b.handleMessage(ctx, message(ownerID, "/start"))
	o := &domain.Order{UserID: ownerID, Variant: domain.VariantPlain, TargetPrice: 0.4, Quantity: 2}
	if err := st.CreateOrder(ctx, o); err != nil {
		t.Fatalf("CreateOrder returned error: %v", err)
	}
	err := st.InCycle(ctx, func(c store.Cycle) error {
		return c.RecordFill(ctx,
			&domain.Purchase{OrderID: o.ID, PackID: "pack-1", AccountsCount: 2},
			[]domain.Account{
				{Email: "a@x.com", Password: "p1"},
				{Email: "b@x.com", Password: "p2"},
			})
	})
	if err != nil {
		t.Fatalf("RecordFill returned error: %v", err)
	}

	b.handleCallback(ctx, callback(ownerID, "export:1"))

	var doc *tgbotapi.DocumentConfig
	for _, c := range api.sent {
		if d, ok := c.(tgbotapi.DocumentConfig); ok {
			doc = &d
		}
	}
	if doc == nil {
		t.Fatal("no document sent")
	}
	fb, ok := doc.File.(tgbotapi.FileBytes)
	if !ok {
		t.Fatalf("document file type = %T, want FileBytes", doc.File)
	}
	if !strings.Contains(string(fb.Bytes), "a@x.com;p1") {
		t.Errorf("export content missing account line: %q", fb.Bytes)
	}

	accounts, err := st.ListPurchaseAccounts(ctx, o.ID)
	if err != nil {
		t.Fatalf("ListPurchaseAccounts returned error: %v", err)
	}
	for _, a := range accounts {
		if a.Status != domain.AccountStatusUsed {
			t.Errorf("account %d status = %q, want used", a.ID, a.Status)
		}
	}
}

func TestExportDeniedForForeignOrder(t *testing.T) {
	b, api, st, _ := newTestBot(t)
	ctx := context.Background()

	// Another user's completed order.
	if err := st.EnsureUser(ctx, &domain.User{ID: 5}); err != nil {
		t.Fatalf("EnsureUser returned error: %v", err)
	}
	o := &domain.Order{UserID: 5, Variant: domain.VariantPlain, TargetPrice: 0.4, Quantity: 1}
	if err := st.CreateOrder(ctx, o); err != nil {
		t.Fatalf("CreateOrder returned error: %v", err)
	}

	b.handleMessage(ctx, message(ownerID, "/start"))
	b.handleCallback(ctx, callback(ownerID, "export:1"))
	if got := api.lastText(t); !strings.Contains(got, "not found") {
		t.Errorf("reply = %q, want not found", got)
	}
}

func TestAdminCommands(t *testing.T) {
	b, api, st, _ := newTestBot(t)
	ctx := context.Background()

	// Non-owner is refused.
	if err := st.EnsureUser(ctx, &domain.User{ID: 5}); err != nil {
		t.Fatalf("EnsureUser returned error: %v", err)
	}
	b.handleMessage(ctx, message(5, "/adduser 6"))
	if got := api.lastText(t); !strings.Contains(got, "Owner only") {
		t.Errorf("reply = %q, want owner-only refusal", got)
	}

	// Owner adds, blocks, unblocks, and deletes a user.
	b.handleMessage(ctx, message(ownerID, "/adduser 6"))
	if _, err := st.GetUser(ctx, 6); err != nil {
		t.Fatalf("added user missing: %v", err)
	}

	b.handleMessage(ctx, message(ownerID, "/block 6"))
	u, err := st.GetUser(ctx, 6)
	if err != nil {
		t.Fatalf("GetUser returned error: %v", err)
	}
	if !u.Blocked {
		t.Error("user not blocked")
	}

	b.handleMessage(ctx, message(ownerID, "/unblock 6"))
	u, err = st.GetUser(ctx, 6)
	if err != nil {
		t.Fatalf("GetUser returned error: %v", err)
	}
	if u.Blocked {
		t.Error("user still blocked")
	}

	b.handleMessage(ctx, message(ownerID, "/deluser 6"))
	if _, err := st.GetUser(ctx, 6); err == nil {
		t.Error("deleted user still present")
	}

	// The owner account is protected.
	b.handleMessage(ctx, message(ownerID, "/block 100"))
	if got := api.lastText(t); !strings.Contains(got, "cannot be modified") {
		t.Errorf("reply = %q, want owner protection", got)
	}
}

func TestPacksCommand(t *testing.T) {
	b, api, _, sim := newTestBot(t)
	ctx := context.Background()

	b.handleMessage(ctx, message(ownerID, "/packs"))
	if got := api.lastText(t); !strings.Contains(got, "No packs") {
		t.Errorf("reply = %q, want empty pack listing", got)
	}

	if _, err := sim.BuyAccounts(ctx, 2, domain.VariantTwoFA); err != nil {
		t.Fatalf("BuyAccounts returned error: %v", err)
	}
	b.handleMessage(ctx, message(ownerID, "/packs 1"))
	got := api.lastText(t)
	if !strings.Contains(got, "sim-pack-") || !strings.Contains(got, "with 2FA") {
		t.Errorf("reply = %q, want pack line with variant", got)
	}
}
