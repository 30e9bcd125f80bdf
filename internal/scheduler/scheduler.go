// Package scheduler drives the periodic jobs: the matching cycle and the
// price broadcast.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"mailtrader/internal/engine"
	"mailtrader/internal/gateway"
	"mailtrader/internal/notify"
	"mailtrader/internal/store"
)

// Scheduler runs the matching cycle and the price broadcast on independent
// tickers. A job invocation that overruns its interval is skipped rather
// than stacked.
type Scheduler struct {
	engine   *engine.Engine
	store    store.Store
	notifier notify.Notifier
	log      *slog.Logger

	matchEvery     time.Duration
	broadcastEvery time.Duration

	matchBusy     atomic.Bool
	broadcastBusy atomic.Bool

	// halted latches when the upstream rejects the credential. Further
	// gateway calls are pointless until the operator fixes the key and
	// restarts.
	halted atomic.Bool
}

// New creates a Scheduler with the given job intervals.
func New(eng *engine.Engine, st store.Store, n notify.Notifier,
	matchEvery, broadcastEvery time.Duration, log *slog.Logger) *Scheduler {
	return &Scheduler{
		engine:         eng,
		store:          st,
		notifier:       n,
		log:            log,
		matchEvery:     matchEvery,
		broadcastEvery: broadcastEvery,
	}
}

// Run starts both jobs and blocks until ctx is cancelled. Each job fires
// once immediately on start.
func (s *Scheduler) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.runEvery(ctx, s.matchEvery, s.runMatchCycle)
	}()
	go func() {
		defer wg.Done()
		s.runEvery(ctx, s.broadcastEvery, s.runBroadcast)
	}()
	wg.Wait()
}

func (s *Scheduler) runEvery(ctx context.Context, every time.Duration, job func(context.Context)) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	job(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			job(ctx)
		}
	}
}

// runMatchCycle executes one matching cycle and notifies owners of fills.
func (s *Scheduler) runMatchCycle(ctx context.Context) {
	if s.halted.Load() {
		return
	}
	if !s.matchBusy.CompareAndSwap(false, true) {
		s.log.Warn("matching cycle still running, skipping tick")
		return
	}
	defer s.matchBusy.Store(false)

	fills, err := s.engine.RunCycle(ctx)
	if err != nil {
		s.checkHalt(err)
		s.log.Error("matching cycle failed", "error", err)
		return
	}
	for _, fill := range fills {
		if err := s.notifier.NotifyFill(ctx, fill); err != nil {
			// The fill is already committed; delivery is best effort.
			s.log.Warn("fill notice failed", "order_id", fill.OrderID, "error", err)
		}
	}
}

// runBroadcast sends the current prices to all non-blocked users.
func (s *Scheduler) runBroadcast(ctx context.Context) {
	if s.halted.Load() {
		return
	}
	if !s.broadcastBusy.CompareAndSwap(false, true) {
		s.log.Warn("price broadcast still running, skipping tick")
		return
	}
	defer s.broadcastBusy.Store(false)

	prices, err := s.engine.CurrentPrices(ctx)
	if err != nil {
		s.checkHalt(err)
		s.log.Error("price broadcast aborted", "error", err)
		return
	}
	recipients, err := s.store.ListRecipients(ctx)
	if err != nil {
		s.log.Error("recipient listing failed", "error", err)
		return
	}
	if len(recipients) == 0 {
		return
	}
	s.notifier.BroadcastPrices(ctx, recipients, prices)
}

// checkHalt latches the scheduler off when the upstream credential is
// rejected. A fixed key requires a restart.
func (s *Scheduler) checkHalt(err error) {
	if errors.Is(err, gateway.ErrUnauthorized) && s.halted.CompareAndSwap(false, true) {
		s.log.Error("upstream rejected the API credential, suspending scheduled jobs until restart")
	}
}

// Intervals reports the configured job intervals.
func (s *Scheduler) Intervals() (match, broadcast time.Duration) {
	return s.matchEvery, s.broadcastEvery
}
