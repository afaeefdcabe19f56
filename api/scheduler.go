/*
scheduler.go - Automated overdue sweeper

PURPOSE:
  Periodically moves PENDING unit expenses whose due date has passed to
  OVERDUE, so summaries and statements reflect late payers without anyone
  calling the admin endpoint.

DESIGN:
  - Runs once immediately, then on every tick of Interval
  - Each sweep goes through billing.Service.SweepOverdue; records changed
    concurrently are counted as conflicts and retried on the next tick
  - A failed sweep is logged and does not stop the loop

CONFIGURATION:
  - Interval: How often to sweep (config [sweeper].interval, default 1h)
  - Enabled:  Whether the sweeper runs at all

USAGE:
  sweeper := NewOverdueSweeper(svc, time.Hour, logger)
  g.Go(func() error { return sweeper.Run(ctx) })

  // or, without a context-managed lifecycle:
  sweeper.Start()
  defer sweeper.Stop()

SEE ALSO:
  - handlers.go: SweepOverdue endpoint (manual sweep)
  - billing/service.go: SweepOverdue
*/
package api

import (
	"context"
	"sync"
	"time"

	"github.com/warp/community-engine/billing"
	"github.com/warp/community-engine/logging"
)

// OverdueSweeper runs billing.Service.SweepOverdue on a timer.
type OverdueSweeper struct {
	Service  *billing.Service
	Interval time.Duration
	Enabled  bool
	Logger   *logging.Logger
	Now      func() time.Time

	// OnSweep, when set, receives every completed sweep.
	OnSweep func(billing.SweepResult)

	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewOverdueSweeper creates an enabled sweeper.
func NewOverdueSweeper(svc *billing.Service, interval time.Duration, logger *logging.Logger) *OverdueSweeper {
	if logger == nil {
		logger = logging.Discard()
	}
	return &OverdueSweeper{
		Service:  svc,
		Interval: interval,
		Enabled:  true,
		Logger:   logger.WithComponent(logging.ComponentSweeper),
		Now:      time.Now,
	}
}

// Run sweeps until ctx is cancelled. It returns nil on cancellation.
func (s *OverdueSweeper) Run(ctx context.Context) error {
	if !s.Enabled || s.Interval <= 0 {
		s.Logger.Info("sweeper disabled, not starting")
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	s.Logger.Info("sweeper started", "interval", s.Interval.String())

	// Run immediately on start
	s.SweepOnce(ctx)

	for {
		select {
		case <-ticker.C:
			s.SweepOnce(ctx)
		case <-ctx.Done():
			s.Logger.Info("sweeper stopped")
			return nil
		}
	}
}

// SweepOnce runs a single sweep as of now.
func (s *OverdueSweeper) SweepOnce(ctx context.Context) {
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}

	res, err := s.Service.SweepOverdue(ctx, now())
	if err != nil {
		if ctx.Err() == nil {
			s.Logger.ErrorContext(ctx, "overdue sweep failed", logging.FieldError, err)
		}
		return
	}

	s.Logger.InfoContext(ctx, "overdue sweep completed",
		"as_of", res.AsOf.Format(time.RFC3339),
		"checked", res.Checked,
		"marked_overdue", res.MarkedOverdue,
		"conflicts", res.Conflicts)

	if s.OnSweep != nil {
		s.OnSweep(res)
	}
}

// Start runs the sweeper in the background until Stop is called.
func (s *OverdueSweeper) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.Run(ctx)
	}()
}

// Stop stops a sweeper started with Start and waits for it to finish.
func (s *OverdueSweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel == nil {
		return
	}
	s.cancel()
	s.wg.Wait()
	s.cancel = nil
}
