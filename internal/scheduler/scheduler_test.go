package scheduler

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"mailtrader/internal/domain"
	"mailtrader/internal/engine"
	"mailtrader/internal/gateway"
	"mailtrader/internal/store"
)

// recordingNotifier captures fills and broadcasts for assertions.
type recordingNotifier struct {
	mu         sync.Mutex
	fills      []domain.Fill
	broadcasts []domain.Prices
	recipients [][]domain.User
}

func (r *recordingNotifier) NotifyFill(_ context.Context, fill domain.Fill) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fills = append(r.fills, fill)
	return nil
}

func (r *recordingNotifier) BroadcastPrices(_ context.Context, recipients []domain.User, prices domain.Prices) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.broadcasts = append(r.broadcasts, prices)
	r.recipients = append(r.recipients, recipients)
}

func newTestScheduler(t *testing.T) (*Scheduler, *recordingNotifier, *store.SQLiteStore, *gateway.Simulator) {
	t.Helper()
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore returned error: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	sim := gateway.NewSimulator(0.35, 0.60, 100)
	log := slog.New(slog.DiscardHandler)
	eng := engine.NewEngine(sim, st, engine.NewOrderLimits(1, 3000), log)
	n := &recordingNotifier{}
	return New(eng, st, n, time.Minute, time.Hour, log), n, st, sim
}

func TestMatchCycleNotifiesFills(t *testing.T) {
	s, n, st, _ := newTestScheduler(t)
	ctx := context.Background()

	if err := st.EnsureUser(ctx, &domain.User{ID: 1}); err != nil {
		t.Fatalf("EnsureUser returned error: %v", err)
	}
	o := &domain.Order{UserID: 1, Variant: domain.VariantPlain, TargetPrice: 0.40, Quantity: 5}
	if err := st.CreateOrder(ctx, o); err != nil {
		t.Fatalf("CreateOrder returned error: %v", err)
	}

	s.runMatchCycle(ctx)

	if len(n.fills) != 1 || n.fills[0].OrderID != o.ID {
		t.Fatalf("fills = %+v, want one for order %d", n.fills, o.ID)
	}
}

func TestMatchCycleSurvivesGatewayFailure(t *testing.T) {
	s, n, _, sim := newTestScheduler(t)
	sim.Err = &gateway.TransientError{Op: "GET /price", Err: context.DeadlineExceeded}

	// Must not panic or notify anyone.
	s.runMatchCycle(context.Background())
	if len(n.fills) != 0 {
		t.Errorf("fills = %+v, want none", n.fills)
	}
	if s.halted.Load() {
		t.Error("transient failure must not halt the scheduler")
	}
}

func TestUnauthorizedHaltsScheduledJobs(t *testing.T) {
	s, n, st, sim := newTestScheduler(t)
	ctx := context.Background()

	if err := st.EnsureUser(ctx, &domain.User{ID: 1}); err != nil {
		t.Fatalf("EnsureUser returned error: %v", err)
	}
	o := &domain.Order{UserID: 1, Variant: domain.VariantPlain, TargetPrice: 0.40, Quantity: 1}
	if err := st.CreateOrder(ctx, o); err != nil {
		t.Fatalf("CreateOrder returned error: %v", err)
	}

	sim.Err = gateway.ErrUnauthorized
	s.runMatchCycle(ctx)
	if !s.halted.Load() {
		t.Fatal("scheduler not halted after credential rejection")
	}

	// Even with a working gateway, a halted scheduler makes no calls.
	sim.Err = nil
	s.runMatchCycle(ctx)
	s.runBroadcast(ctx)
	if len(n.fills) != 0 || len(n.broadcasts) != 0 {
		t.Errorf("halted scheduler still ran jobs: fills=%d broadcasts=%d",
			len(n.fills), len(n.broadcasts))
	}
}

func TestBroadcastReachesNonBlockedUsers(t *testing.T) {
	s, n, st, _ := newTestScheduler(t)
	ctx := context.Background()

	if err := st.EnsureUser(ctx, &domain.User{ID: 1}); err != nil {
		t.Fatalf("EnsureUser returned error: %v", err)
	}
	if err := st.EnsureUser(ctx, &domain.User{ID: 2}); err != nil {
		t.Fatalf("EnsureUser returned error: %v", err)
	}
	if err := st.SetBlocked(ctx, 2, true); err != nil {
		t.Fatalf("SetBlocked returned error: %v", err)
	}

	s.runBroadcast(ctx)

	if len(n.broadcasts) != 1 {
		t.Fatalf("broadcasts = %d, want 1", len(n.broadcasts))
	}
	if n.broadcasts[0].Plain != 0.35 || n.broadcasts[0].TwoFA != 0.60 {
		t.Errorf("broadcast prices = %+v, want 0.35/0.60", n.broadcasts[0])
	}
	if len(n.recipients[0]) != 1 || n.recipients[0][0].ID != 1 {
		t.Errorf("recipients = %+v, want only user 1", n.recipients[0])
	}
}

func TestBroadcastSkippedWithNoRecipients(t *testing.T) {
	s, n, _, _ := newTestScheduler(t)

	s.runBroadcast(context.Background())
	if len(n.broadcasts) != 0 {
		t.Errorf("broadcasts = %d, want 0 with no users", len(n.broadcasts))
	}
}

func TestBusyGuardSkipsOverlappingRun(t *testing.T) {
	s, n, st, _ := newTestScheduler(t)
	ctx := context.Background()

	if err := st.EnsureUser(ctx, &domain.User{ID: 1}); err != nil {
		t.Fatalf("EnsureUser returned error: %v", err)
	}

	// Simulate an in-flight cycle.
	s.matchBusy.Store(true)
	o := &domain.Order{UserID: 1, Variant: domain.VariantPlain, TargetPrice: 0.40, Quantity: 1}
	if err := st.CreateOrder(ctx, o); err != nil {
		t.Fatalf("CreateOrder returned error: %v", err)
	}

	s.runMatchCycle(ctx)
	if len(n.fills) != 0 {
		t.Fatalf("guarded cycle produced fills: %+v", n.fills)
	}

	// Once released, the next tick runs normally.
	s.matchBusy.Store(false)
	s.runMatchCycle(ctx)
	if len(n.fills) != 1 {
		t.Errorf("fills after release = %d, want 1", len(n.fills))
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	s, _, _, _ := newTestScheduler(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop after context cancellation")
	}
}
